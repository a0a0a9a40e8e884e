// Package porcupine implements the wakeword.Detector interface on top of the
// Picovoice Porcupine on-device engine.
package porcupine

import (
	"errors"
	"fmt"
	"sync"

	pv "github.com/Picovoice/porcupine/binding/go/v3"

	"github.com/MrWong99/wakelink/pkg/provider/wakeword"
)

var _ wakeword.Detector = (*Detector)(nil)

// DefaultKeyword is used when no keyword is configured.
const DefaultKeyword = "computer"

// DefaultSensitivity is used for keywords without an explicit sensitivity.
const DefaultSensitivity = 0.7

// Detector is a Porcupine-backed wake-word detector.
type Detector struct {
	keywords []string

	mu     sync.Mutex
	engine *pv.Porcupine
	closed bool
}

// New initialises the Porcupine engine with cfg. The returned Detector holds
// the native handle until Close.
func New(cfg wakeword.Config) (*Detector, error) {
	if cfg.AccessKey == "" {
		return nil, errors.New("porcupine: access key is required")
	}

	keywords := cfg.Keywords
	if len(keywords) == 0 {
		keywords = []string{DefaultKeyword}
	}
	sens, err := sensitivities(keywords, cfg.Sensitivities)
	if err != nil {
		return nil, err
	}

	builtIns, paths, err := resolveKeywords(keywords)
	if err != nil {
		return nil, err
	}

	engine := &pv.Porcupine{
		AccessKey:       cfg.AccessKey,
		ModelPath:       cfg.ModelPath,
		BuiltInKeywords: builtIns,
		KeywordPaths:    paths,
		Sensitivities:   sens,
	}
	if err := engine.Init(); err != nil {
		return nil, fmt.Errorf("porcupine: init: %w", err)
	}

	names := make([]string, len(keywords))
	for i, k := range keywords {
		names[i] = wakeword.KeywordName(k)
	}
	return &Detector{
		keywords: names,
		engine:   engine,
	}, nil
}

// resolveKeywords splits keywords into built-in names and .ppn model paths.
// Exactly one of the results is non-empty so engine indices line up with
// keywords.
func resolveKeywords(keywords []string) ([]pv.BuiltInKeyword, []string, error) {
	var (
		builtIns []pv.BuiltInKeyword
		paths    []string
	)
	for _, k := range keywords {
		if wakeword.IsKeywordFile(k) {
			paths = append(paths, k)
			continue
		}
		b := pv.BuiltInKeyword(k)
		if !b.IsValid() {
			return nil, nil, fmt.Errorf("porcupine: %q is not a built-in keyword", k)
		}
		builtIns = append(builtIns, b)
	}
	if len(builtIns) > 0 && len(paths) > 0 {
		return nil, nil, errors.New("porcupine: keywords mix built-in names and .ppn files")
	}
	return builtIns, paths, nil
}

// sensitivities expands cfg sensitivities to one float32 per keyword,
// defaulting missing entries and rejecting out-of-range values.
func sensitivities(keywords []string, in []float64) ([]float32, error) {
	if len(in) > len(keywords) {
		return nil, fmt.Errorf("porcupine: %d sensitivities for %d keywords", len(in), len(keywords))
	}
	out := make([]float32, len(keywords))
	for i := range keywords {
		v := DefaultSensitivity
		if i < len(in) {
			v = in[i]
		}
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("porcupine: sensitivity %.2f for %q out of range [0, 1]", v, keywords[i])
		}
		out[i] = float32(v)
	}
	return out, nil
}

// Process implements [wakeword.Detector].
func (d *Detector) Process(pcm []int16) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return wakeword.NoDetection, wakeword.ErrClosed
	}
	if len(pcm) != pv.FrameLength {
		return wakeword.NoDetection, fmt.Errorf("porcupine: frame has %d samples, want %d", len(pcm), pv.FrameLength)
	}
	idx, err := d.engine.Process(pcm)
	if err != nil {
		return wakeword.NoDetection, fmt.Errorf("porcupine: process: %w", err)
	}
	if idx < 0 {
		return wakeword.NoDetection, nil
	}
	return idx, nil
}

// FrameLength implements [wakeword.Detector].
func (d *Detector) FrameLength() int { return pv.FrameLength }

// SampleRate implements [wakeword.Detector].
func (d *Detector) SampleRate() int { return pv.SampleRate }

// Keywords implements [wakeword.Detector].
func (d *Detector) Keywords() []string { return append([]string(nil), d.keywords...) }

// Close releases the Porcupine engine. Idempotent.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.engine.Delete(); err != nil {
		return fmt.Errorf("porcupine: delete: %w", err)
	}
	return nil
}
