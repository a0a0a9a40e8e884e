// Package mock provides an in-memory implementation of [audio.Source] for
// unit tests.
//
// The mock is safe for concurrent use. Tests push frames with [Source.Emit]
// or [Source.EmitData] and inspect the recorded call counts afterwards.
//
// Typical usage:
//
//	src := mock.NewSource(audio.Format{SampleRate: 16000, FrameLength: 512}, 16)
//	_ = src.Start(ctx)
//	src.EmitData([]byte{0, 0})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/wakelink/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// StopErr, if non-nil, is returned by Stop.
	StopErr error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// StoppedAt records when Stop was first called.
	StoppedAt time.Time

	format  audio.Format
	frames  chan audio.Frame
	errs    chan error
	seq     uint64
	dropped uint64
	closed  bool
}

// NewSource creates a mock source with a frame buffer of size buffer.
func NewSource(format audio.Format, buffer int) *Source {
	return &Source{
		format: format,
		frames: make(chan audio.Frame, buffer),
		errs:   make(chan error, buffer),
	}
}

// Start implements [audio.Source].
func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	return s.StartErr
}

// Emit enqueues f as-is. Returns false (and counts a drop) when the buffer is
// full or the source is stopped.
func (s *Source) Emit(f audio.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.dropped++
		return false
	}
	select {
	case s.frames <- f:
		return true
	default:
		s.dropped++
		return false
	}
}

// EmitData wraps data in a frame with the next sequence number and enqueues it.
func (s *Source) EmitData(data []byte) bool {
	s.mu.Lock()
	seq := s.seq
	s.seq++
	s.mu.Unlock()
	return s.Emit(audio.Frame{Seq: seq, Data: data, Timestamp: time.Duration(seq) * audio.FrameDuration(s.format)})
}

// EmitErr enqueues a capture error.
func (s *Source) EmitErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.errs <- err:
	default:
	}
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// Errors implements [audio.Source].
func (s *Source) Errors() <-chan error { return s.errs }

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// Dropped implements [audio.Source].
func (s *Source) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Stop implements [audio.Source]. It closes both channels on the first call.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	if !s.closed {
		s.closed = true
		s.StoppedAt = time.Now()
		close(s.frames)
		close(s.errs)
	}
	return s.StopErr
}

// Stopped reports whether Stop has been called.
func (s *Source) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
