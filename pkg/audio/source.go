// Package audio defines the capture-side audio contract for wakelink.
//
// The primary abstraction is [Source]: a continuous producer of fixed-format
// PCM [Frame] values plus asynchronous error events. Implementations live in
// adapter packages (e.g., audio/portaudio); audio/mock provides a scriptable
// test double.
//
// This package lives under pkg/ because alternative capture backends are
// expected to implement [Source] outside this module.
package audio

import "context"

// Format describes the fixed PCM layout produced by a [Source].
type Format struct {
	// SampleRate in Hz (16000 for the wake-word engine).
	SampleRate int

	// FrameLength is the number of samples per frame.
	FrameLength int
}

// FrameBytes returns the byte length of one PCM16 mono frame in this format.
func (f Format) FrameBytes() int { return f.FrameLength * 2 }

// Source is a continuous producer of audio frames.
//
// Start begins capture; frames are delivered on [Source.Frames] in capture
// order and capture errors on [Source.Errors]. A Source never blocks on a slow
// consumer: when its frame buffer is full the newest frame is dropped and
// counted. Both channels are closed after Stop returns.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Start opens the capture device and begins emitting frames. The supplied
	// ctx governs the start attempt only. Returns an error if the device is
	// unavailable.
	Start(ctx context.Context) error

	// Frames returns the channel on which captured frames arrive.
	Frames() <-chan Frame

	// Errors returns the channel on which non-fatal capture errors arrive.
	Errors() <-chan error

	// Format reports the PCM layout of emitted frames.
	Format() Format

	// Dropped returns the number of frames discarded because the consumer
	// did not keep up.
	Dropped() uint64

	// Stop halts capture and releases the device. Calling Stop more than once
	// is safe and returns nil.
	Stop() error
}
