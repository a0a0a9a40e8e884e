// Package portaudio implements [audio.Source] on top of the PortAudio C
// library. It captures mono PCM16 from the default (or a named) input device
// in fixed-size frames and never blocks on a slow consumer.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/wakelink/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

const defaultBufferFrames = 64

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithDevice selects the input device whose name contains name
// (case-insensitive). The default input device is used when empty.
func WithDevice(name string) Option {
	return func(s *Source) { s.device = name }
}

// WithBufferFrames sets how many frames may queue before new frames are
// dropped. Values <= 0 keep the default of 64.
func WithBufferFrames(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.bufferFrames = n
		}
	}
}

// Source captures microphone audio through PortAudio.
type Source struct {
	format       audio.Format
	device       string
	bufferFrames int

	frames  chan audio.Frame
	errs    chan error
	dropped atomic.Uint64

	mu       sync.Mutex
	stream   *pa.Stream
	started  bool
	stopped  bool
	done     chan struct{}
	loopDone chan struct{}
}

// New creates a Source producing frames in the given format. The device is
// not touched until Start.
func New(format audio.Format, opts ...Option) *Source {
	s := &Source{
		format:       format,
		bufferFrames: defaultBufferFrames,
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.frames = make(chan audio.Frame, s.bufferFrames)
	s.errs = make(chan error, 8)
	return s
}

// Start initialises PortAudio, opens the input stream and launches the
// capture goroutine.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("portaudio: source already started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}

	buf := make([]int16, s.format.FrameLength)
	stream, err := s.openStream(buf)
	if err != nil {
		pa.Terminate()
		return err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		pa.Terminate()
		return fmt.Errorf("portaudio: start stream: %w", err)
	}

	s.stream = stream
	s.started = true
	go s.captureLoop(buf)

	slog.Info("audio capture started",
		"sample_rate", s.format.SampleRate,
		"frame_length", s.format.FrameLength,
		"device", s.device,
	)
	return nil
}

func (s *Source) openStream(buf []int16) (*pa.Stream, error) {
	if s.device == "" {
		stream, err := pa.OpenDefaultStream(1, 0, float64(s.format.SampleRate), len(buf), buf)
		if err != nil {
			return nil, fmt.Errorf("portaudio: open default stream: %w", err)
		}
		return stream, nil
	}

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	dev := matchDevice(devices, s.device)
	if dev == nil {
		return nil, fmt.Errorf("portaudio: no input device matching %q", s.device)
	}

	params := pa.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.Output.Channels = 0
	params.SampleRate = float64(s.format.SampleRate)
	params.FramesPerBuffer = len(buf)

	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open stream on %q: %w", dev.Name, err)
	}
	return stream, nil
}

// matchDevice returns the first input-capable device whose name contains
// name, ignoring case.
func matchDevice(devices []*pa.DeviceInfo, name string) *pa.DeviceInfo {
	needle := strings.ToLower(name)
	for _, d := range devices {
		if d == nil || d.MaxInputChannels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(d.Name), needle) {
			return d
		}
	}
	return nil
}

// captureLoop owns the stream for reading. It exits once done is closed; the
// in-flight Read completes within one frame period.
func (s *Source) captureLoop(buf []int16) {
	defer close(s.loopDone)

	frameDur := audio.FrameDuration(s.format)
	var seq uint64
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			if errors.Is(err, pa.InputOverflowed) {
				s.emitErr(fmt.Errorf("portaudio: input overflowed: %w", err))
				continue
			}
			s.emitErr(fmt.Errorf("portaudio: read: %w", err))
			select {
			case <-s.done:
				return
			case <-time.After(frameDur):
			}
			continue
		}

		f := audio.Frame{
			Seq:       seq,
			Data:      audio.Int16ToBytes(nil, buf),
			Timestamp: time.Duration(seq) * frameDur,
		}
		seq++

		select {
		case s.frames <- f:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *Source) emitErr(err error) {
	select {
	case s.errs <- err:
	default:
		slog.Debug("audio capture error dropped", "err", err)
	}
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// Errors implements [audio.Source].
func (s *Source) Errors() <-chan error { return s.errs }

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// Dropped implements [audio.Source].
func (s *Source) Dropped() uint64 { return s.dropped.Load() }

// Stop halts capture, closes the stream and terminates PortAudio. Idempotent.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	if !s.started {
		close(s.frames)
		close(s.errs)
		return nil
	}

	<-s.loopDone

	var errs []error
	if err := s.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: stop stream: %w", err))
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
	}
	if err := pa.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}
	close(s.frames)
	close(s.errs)

	slog.Info("audio capture stopped", "dropped_frames", s.dropped.Load())
	return errors.Join(errs...)
}
