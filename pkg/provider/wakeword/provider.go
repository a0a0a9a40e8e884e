// Package wakeword defines the Detector interface for wake-word engines.
//
// A Detector wraps an on-device keyword spotter (e.g., Picovoice Porcupine)
// and evaluates one fixed-size PCM frame at a time. Detection is synchronous:
// Process returns immediately with the index of the detected keyword, making
// it suitable for the per-frame routing path.
//
// A Detector owns a native engine handle that is acquired once by its
// constructor and released once by Close. It is not re-acquired mid-run.
package wakeword

import (
	"errors"
	"path/filepath"
	"slices"
	"strings"
)

// NoDetection is the keyword index returned by [Detector.Process] when no
// keyword was spotted in the frame.
const NoDetection = -1

// ErrClosed is returned by Process after the detector has been released.
var ErrClosed = errors.New("wakeword: detector closed")

// BuiltInKeywords are the keyword names bundled with the engine.
var BuiltInKeywords = []string{
	"alexa", "americano", "blueberry", "bumblebee", "computer", "grapefruit",
	"grasshopper", "hey google", "hey siri", "jarvis", "ok google",
	"picovoice", "porcupine", "terminator",
}

// KeywordFileExt is the extension of custom keyword model files.
const KeywordFileExt = ".ppn"

// IsKeywordFile reports whether k names a custom keyword model file rather
// than a built-in keyword.
func IsKeywordFile(k string) bool {
	return strings.EqualFold(filepath.Ext(k), KeywordFileExt)
}

// IsBuiltIn reports whether k is one of [BuiltInKeywords].
func IsBuiltIn(k string) bool {
	return slices.Contains(BuiltInKeywords, k)
}

// KeywordName returns the name reported for keyword k. Built-in names are
// returned as is. For a model file such as "hey-buddy_en_linux_v3_0_0.ppn"
// it is the file name up to the first underscore.
func KeywordName(k string) string {
	if !IsKeywordFile(k) {
		return k
	}
	base := strings.TrimSuffix(filepath.Base(k), filepath.Ext(k))
	if i := strings.IndexByte(base, '_'); i > 0 {
		base = base[:i]
	}
	return base
}

// Config holds the parameters for creating a detector.
type Config struct {
	// AccessKey is the engine licence credential.
	AccessKey string

	// Keywords lists the keywords to listen for: either built-in names such
	// as "computer" or paths to custom .ppn model files. The two forms cannot
	// be mixed.
	Keywords []string

	// Sensitivities holds one value in [0, 1] per keyword. Higher values
	// reduce misses at the cost of more false alarms. Typical: 0.5–0.7.
	Sensitivities []float64

	// ModelPath optionally overrides the engine's bundled acoustic model.
	ModelPath string
}

// Detector evaluates PCM frames for wake-word occurrences.
//
// Process must not be called concurrently; the caller serialises frames.
type Detector interface {
	// Process analyses one frame of little-endian PCM16 mono samples of exactly
	// FrameLength samples at SampleRate. It returns the index into the
	// configured keyword list, or [NoDetection]. An error means the frame could
	// not be evaluated; the detector remains usable.
	Process(pcm []int16) (int, error)

	// FrameLength returns the number of samples the engine expects per frame.
	FrameLength() int

	// SampleRate returns the sample rate in Hz the engine expects.
	SampleRate() int

	// Keywords returns the configured keyword names in index order.
	Keywords() []string

	// Close releases the native engine handle. Calling Close more than once is
	// safe and returns nil.
	Close() error
}
