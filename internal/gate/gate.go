// Package gate turns raw audio frames into wake-word events.
//
// A [Gate] owns the wake-word [wakeword.Detector] for the lifetime of the
// process. Evaluate never fails: malformed frames and engine errors are
// counted, logged and reported as "no detection" so that scanning simply
// continues with the next frame.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/wakelink/internal/observe"
	"github.com/MrWong99/wakelink/pkg/audio"
	"github.com/MrWong99/wakelink/pkg/provider/wakeword"
)

// ErrClosed is returned by Ready after Close.
var ErrClosed = errors.New("gate: detector released")

// Event is the outcome of evaluating one frame.
type Event struct {
	// Detected reports whether a keyword was spotted.
	Detected bool

	// KeywordIndex is the index into the detector's keyword list, or
	// [wakeword.NoDetection].
	KeywordIndex int

	// Keyword is the name of the detected keyword; empty when not Detected.
	Keyword string
}

// noDetection is returned for every frame that did not trigger.
var noDetection = Event{KeywordIndex: wakeword.NoDetection}

// Stats are cumulative counters since the gate was created.
type Stats struct {
	// Evaluated counts frames submitted to the detector.
	Evaluated uint64

	// Detections counts frames on which a keyword was spotted.
	Detections uint64

	// Malformed counts frames rejected before reaching the detector.
	Malformed uint64

	// Failures counts frames on which the detector returned an error.
	Failures uint64
}

// Option is a functional option for [New].
type Option func(*Gate)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.log = l }
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// Gate evaluates frames against a wake-word detector.
//
// Evaluate must be called from a single goroutine; Stats, Ready and Close are
// safe for concurrent use.
type Gate struct {
	det      wakeword.Detector
	keywords []string
	log      *slog.Logger
	metrics  *observe.Metrics

	// samples is reused across Evaluate calls.
	samples []int16

	evaluated  atomic.Uint64
	detections atomic.Uint64
	malformed  atomic.Uint64
	failures   atomic.Uint64

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// New wraps det. The gate takes ownership of det and releases it in Close.
func New(det wakeword.Detector, opts ...Option) *Gate {
	g := &Gate{
		det:      det,
		keywords: det.Keywords(),
		log:      slog.Default(),
		samples:  make([]int16, 0, det.FrameLength()),
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// FrameLength returns the number of samples the detector expects per frame.
func (g *Gate) FrameLength() int { return g.det.FrameLength() }

// Evaluate runs the detector on f.
func (g *Gate) Evaluate(ctx context.Context, f audio.Frame) Event {
	if g.closed.Load() {
		return noDetection
	}

	samples, err := audio.BytesToInt16(g.samples, f.Data)
	if err == nil && len(samples) != g.det.FrameLength() {
		err = errFrameLength
	}
	if err != nil {
		g.malformed.Add(1)
		g.metrics.RecordFrameDropped(ctx, observe.DropMalformed)
		g.log.Debug("gate: malformed frame", "seq", f.Seq, "bytes", len(f.Data), "want_samples", g.det.FrameLength(), "err", err)
		return noDetection
	}
	g.samples = samples

	g.evaluated.Add(1)
	g.metrics.RecordFrameRouted(ctx, observe.ConsumerGate)

	idx, err := g.det.Process(samples)
	if err != nil {
		g.failures.Add(1)
		g.metrics.DetectorErrors.Add(ctx, 1)
		g.log.Warn("gate: detector failed", "seq", f.Seq, "err", err)
		return noDetection
	}
	if idx < 0 {
		return noDetection
	}

	ev := Event{Detected: true, KeywordIndex: idx, Keyword: g.keyword(idx)}
	g.detections.Add(1)
	g.metrics.RecordWakeDetection(ctx, ev.Keyword)
	return ev
}

var errFrameLength = errors.New("gate: unexpected frame length")

// keyword maps a detector index to its name.
func (g *Gate) keyword(idx int) string {
	if idx < len(g.keywords) {
		return g.keywords[idx]
	}
	return "unknown"
}

// Stats returns a snapshot of the gate counters.
func (g *Gate) Stats() Stats {
	return Stats{
		Evaluated:  g.evaluated.Load(),
		Detections: g.detections.Load(),
		Malformed:  g.malformed.Load(),
		Failures:   g.failures.Load(),
	}
}

// Ready reports whether the detector is still loaded.
func (g *Gate) Ready(context.Context) error {
	if g.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close releases the detector exactly once. Subsequent calls return the
// result of the first.
func (g *Gate) Close() error {
	g.closeOnce.Do(func() {
		g.closed.Store(true)
		g.closeErr = g.det.Close()
	})
	return g.closeErr
}
