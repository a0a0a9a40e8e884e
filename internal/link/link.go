// Package link manages the duplex connection to the realtime inference
// endpoint for one Active session at a time.
//
// A [Link] wraps a [realtime.Provider] and exposes the connection lifecycle as
// a small state machine (Disconnected → Connecting → Open → Closing →
// Disconnected; an attempt abandoned while Connecting skips Closing). Opening
// is asynchronous: [Link.Open] returns immediately and an [Opened] event
// follows on [Link.Events] once the transport handshake and the initial
// control message succeed. Audio is best effort: [Link.Send] enqueues onto a
// bounded queue drained by a writer goroutine and drops (and counts) frames
// whenever the link is not open or the queue is full. Frames still queued
// when a connection ends are counted as dropped too.
//
// Every connection attempt gets a new generation number and every event is
// stamped with the generation that produced it, so a consumer can discard
// late events from a connection it already abandoned.
package link

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/wakelink/internal/observe"
	"github.com/MrWong99/wakelink/internal/resilience"
	"github.com/MrWong99/wakelink/pkg/audio"
	"github.com/MrWong99/wakelink/pkg/provider/realtime"
)

// Sentinel errors returned by [Link.Send]. Both mean the frame was dropped.
var (
	ErrNotOpen      = errors.New("link: not open")
	ErrBackpressure = errors.New("link: outbound queue full")
)

const (
	defaultQueueSize   = 32
	defaultDialTimeout = 10 * time.Second
	eventBuffer        = 64
)

// ── State ─────────────────────────────────────────────────────────────────────

// State is the connection state owned by a Link.
type State int

const (
	Disconnected State = iota
	Connecting
	Open

	// Closing: the previous transport is still being torn down.
	Closing
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// ── Events ────────────────────────────────────────────────────────────────────

// EventKind tags a remote [Event].
type EventKind int

const (
	// Opened: the connection is usable and the control message was sent.
	Opened EventKind = iota

	// PartialResult carries textual output from the model.
	PartialResult

	// Complete: the model finished its response.
	Complete

	// ProtocolError: the remote reported an error or the transport failed.
	ProtocolError

	// Closed: the connection ended without a local Close.
	Closed
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case Opened:
		return "opened"
	case PartialResult:
		return "partial_result"
	case Complete:
		return "complete"
	case ProtocolError:
		return "protocol_error"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is a semantic notification from the link.
type Event struct {
	// Kind tags the event.
	Kind EventKind

	// Gen is the connection generation that produced the event.
	Gen uint64

	// Text is set for PartialResult.
	Text string

	// Detail is set for ProtocolError.
	Detail string
}

// Stats are cumulative counters since the Link was created.
type Stats struct {
	// Sent counts frames written to the transport.
	Sent uint64

	// Dropped counts frames discarded for any reason.
	Dropped uint64

	// Opens counts successful connection attempts.
	Opens uint64

	// OpenFailures counts connection attempts that failed or were rejected by
	// the circuit breaker.
	OpenFailures uint64
}

// ── Options ───────────────────────────────────────────────────────────────────

// Option is a functional option for [New].
type Option func(*Link)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(k *Link) { k.log = l }
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(k *Link) { k.metrics = m }
}

// WithBreaker guards connection attempts with cb. Default: a breaker with
// default settings.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(k *Link) { k.breaker = cb }
}

// WithQueueSize sets the capacity of the outbound frame queue. Default: 32.
func WithQueueSize(n int) Option {
	return func(k *Link) {
		if n > 0 {
			k.queueSize = n
		}
	}
}

// WithDialTimeout bounds each connection attempt. Default: 10s.
func WithDialTimeout(d time.Duration) Option {
	return func(k *Link) {
		if d > 0 {
			k.dialTimeout = d
		}
	}
}

// WithSessionConfig sets the initial control message parameters.
func WithSessionConfig(cfg realtime.SessionConfig) Option {
	return func(k *Link) { k.sessionCfg = cfg }
}

// ── Link ──────────────────────────────────────────────────────────────────────

// Link owns at most one realtime connection at a time.
//
// All methods are safe for concurrent use. Events must be drained by the
// owner for as long as a connection is open.
type Link struct {
	provider    realtime.Provider
	log         *slog.Logger
	metrics     *observe.Metrics
	breaker     *resilience.CircuitBreaker
	queueSize   int
	dialTimeout time.Duration

	events chan Event

	mu         sync.Mutex
	state      State
	gen        uint64
	cur        *conn
	closing    *conn
	sessionCfg realtime.SessionConfig

	sent         atomic.Uint64
	dropped      atomic.Uint64
	opens        atomic.Uint64
	openFailures atomic.Uint64
}

// conn is one connection attempt.
type conn struct {
	gen    uint64
	cancel context.CancelFunc
	out    chan []byte

	// done is closed by a local Close; every goroutine of this attempt
	// stops emitting once it is closed.
	done     chan struct{}
	doneOnce sync.Once

	// handle is set once the dial succeeded; guarded by Link.mu.
	handle realtime.SessionHandle
}

func (c *conn) stop() {
	c.doneOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
}

// New creates a disconnected Link for p.
func New(p realtime.Provider, opts ...Option) *Link {
	l := &Link{
		provider:    p,
		log:         slog.Default(),
		queueSize:   defaultQueueSize,
		dialTimeout: defaultDialTimeout,
		events:      make(chan Event, eventBuffer),
	}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	if l.breaker == nil {
		l.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:   "realtime-dial",
			Logger: l.log,
		})
	}
	return l
}

// Events returns the channel on which link events are delivered.
func (l *Link) Events() <-chan Event { return l.events }

// State returns the current connection state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Generation returns the generation of the most recent connection attempt.
func (l *Link) Generation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen
}

// SetSessionConfig replaces the control message parameters used by the next
// connection attempt. An open connection is not affected.
func (l *Link) SetSessionConfig(cfg realtime.SessionConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessionCfg = cfg
}

// Stats returns a snapshot of the link counters.
func (l *Link) Stats() Stats {
	return Stats{
		Sent:         l.sent.Load(),
		Dropped:      l.dropped.Load(),
		Opens:        l.opens.Load(),
		OpenFailures: l.openFailures.Load(),
	}
}

// Open starts a connection attempt in the background and reports true. When
// the link is already Connecting or Open it does nothing and reports false. A
// previous connection that is still Closing does not block a new attempt. The
// attempt is bounded by the dial timeout and abandoned when ctx is cancelled.
func (l *Link) Open(ctx context.Context) bool {
	l.mu.Lock()
	if l.state == Connecting || l.state == Open {
		l.mu.Unlock()
		return false
	}
	l.gen++
	dialCtx, cancel := context.WithTimeout(ctx, l.dialTimeout)
	c := &conn{
		gen:    l.gen,
		cancel: cancel,
		out:    make(chan []byte, l.queueSize),
		done:   make(chan struct{}),
	}
	l.cur = c
	l.state = Connecting
	cfg := l.sessionCfg
	l.mu.Unlock()

	l.log.Debug("link: connecting", "gen", c.gen)
	go l.run(dialCtx, c, cfg)
	return true
}

// Send enqueues a copy of f for transmission. The frame is dropped and counted
// when the link is not Open ([ErrNotOpen]) or the outbound queue is full
// ([ErrBackpressure]). Send never blocks.
func (l *Link) Send(ctx context.Context, f audio.Frame) error {
	// The enqueue happens under mu so a concurrent Close cannot strand a
	// frame behind the writer's final drain.
	l.mu.Lock()
	state := l.state
	if state != Open {
		l.mu.Unlock()
		l.drop(ctx, observe.DropNotOpen, f, state)
		return ErrNotOpen
	}
	select {
	case l.cur.out <- bytes.Clone(f.Data):
		l.mu.Unlock()
		l.metrics.RecordFrameRouted(ctx, observe.ConsumerLink)
		return nil
	default:
		l.mu.Unlock()
		l.drop(ctx, observe.DropBackpressure, f, state)
		return ErrBackpressure
	}
}

func (l *Link) drop(ctx context.Context, reason string, f audio.Frame, state State) {
	n := l.dropped.Add(1)
	l.metrics.RecordFrameDropped(ctx, reason)
	l.log.Debug("link: frame dropped", "seq", f.Seq, "reason", reason, "state", state.String(), "total_dropped", n)
}

// Close abandons the current connection. An Open link moves to Closing and
// then Disconnected once the transport is torn down in the background, so
// Close never waits on the remote side. A link that is still Connecting has
// no transport yet and moves straight to Disconnected. No further events are
// produced for the closed generation, though events already queued on Events
// may still be read. Frames still queued for the transport are counted as
// dropped. Calling Close when there is no current connection is a no-op.
func (l *Link) Close() {
	l.mu.Lock()
	c := l.cur
	if c == nil {
		l.mu.Unlock()
		return
	}
	l.cur = nil
	c.stop()
	h := c.handle
	if h == nil {
		l.state = Disconnected
		l.mu.Unlock()
		l.log.Debug("link: connect abandoned", "gen", c.gen)
		return
	}
	l.state = Closing
	l.closing = c
	l.mu.Unlock()

	l.log.Debug("link: closing", "gen", c.gen)
	go func() {
		if err := h.Close(); err != nil {
			l.log.Debug("link: transport close", "gen", c.gen, "err", err)
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.closing == c {
			l.closing = nil
			if l.cur == nil {
				l.state = Disconnected
			}
		}
	}()
}

// run owns one connection attempt from dial to teardown.
func (l *Link) run(ctx context.Context, c *conn, cfg realtime.SessionConfig) {
	start := time.Now()
	var h realtime.SessionHandle
	err := l.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		h, err = l.provider.Connect(ctx, cfg)
		return err
	})
	c.cancel()

	if err != nil {
		select {
		case <-c.done:
			// Abandoned by Close while dialling.
			return
		default:
		}
		l.openFailures.Add(1)
		l.log.Warn("link: connect failed", "gen", c.gen, "err", err)
		l.fail(c, err.Error())
		return
	}

	l.mu.Lock()
	if l.cur != c {
		l.mu.Unlock()
		_ = h.Close()
		return
	}
	c.handle = h
	l.state = Open
	l.mu.Unlock()

	l.opens.Add(1)
	l.metrics.LinkOpenDuration.Record(ctx, time.Since(start).Seconds())
	l.log.Info("link: open", "gen", c.gen, "latency", time.Since(start))

	if !l.emit(c, Event{Kind: Opened, Gen: c.gen}) {
		l.discardQueued(c)
		return
	}
	go l.writeLoop(c, h)
	l.readLoop(c, h)
}

// writeLoop drains the outbound queue onto the transport. Once c is done,
// the chunk being written and everything still queued is counted as dropped.
func (l *Link) writeLoop(c *conn, h realtime.SessionHandle) {
	defer l.discardQueued(c)
	for {
		select {
		case <-c.done:
			return
		case chunk := <-c.out:
			err := h.SendAudio(chunk)
			if err == nil {
				l.sent.Add(1)
				continue
			}
			reason := observe.DropSendFailed
			select {
			case <-c.done:
				reason = observe.DropClosed
			default:
			}
			n := l.dropped.Add(1)
			l.metrics.RecordFrameDropped(context.Background(), reason)
			l.log.Debug("link: send failed", "gen", c.gen, "reason", reason, "err", err, "total_dropped", n)
			if reason == observe.DropClosed {
				return
			}
		}
	}
}

// discardQueued empties the outbound queue of c and counts each chunk as
// dropped. It must only run after c is done, when Send no longer enqueues.
func (l *Link) discardQueued(c *conn) {
	var n int
	for {
		select {
		case <-c.out:
			n++
			l.dropped.Add(1)
			l.metrics.RecordFrameDropped(context.Background(), observe.DropClosed)
		default:
			if n > 0 {
				l.log.Debug("link: queued frames discarded", "gen", c.gen, "count", n)
			}
			return
		}
	}
}

// readLoop translates inbound realtime events until the session ends.
func (l *Link) readLoop(c *conn, h realtime.SessionHandle) {
	for rev := range h.Events() {
		ev := Event{Gen: c.gen}
		switch rev.Type {
		case realtime.EventItemAdded:
			ev.Kind, ev.Text = PartialResult, rev.Text
		case realtime.EventResponseDone:
			ev.Kind = Complete
		case realtime.EventError:
			ev.Kind, ev.Detail = ProtocolError, rev.Detail
		default:
			continue
		}
		l.metrics.RecordRemoteEvent(context.Background(), ev.Kind.String())
		if !l.emit(c, ev) {
			return
		}
	}

	if err := h.Err(); err != nil {
		l.log.Warn("link: transport failed", "gen", c.gen, "err", err)
		l.fail(c, err.Error())
		return
	}
	l.finish(c)
}

// fail reports a ProtocolError followed by Closed for c.
func (l *Link) fail(c *conn, detail string) {
	l.metrics.RecordRemoteEvent(context.Background(), ProtocolError.String())
	if !l.emit(c, Event{Kind: ProtocolError, Gen: c.gen, Detail: detail}) {
		return
	}
	l.finish(c)
}

// finish detaches c if it is still current and reports Closed.
func (l *Link) finish(c *conn) {
	l.mu.Lock()
	if l.cur != c {
		l.mu.Unlock()
		return
	}
	l.cur = nil
	if l.closing == nil {
		l.state = Disconnected
	} else {
		l.state = Closing
	}
	h := c.handle
	l.mu.Unlock()

	if h != nil {
		_ = h.Close()
	}
	l.metrics.RecordRemoteEvent(context.Background(), Closed.String())
	l.emit(c, Event{Kind: Closed, Gen: c.gen})
	c.stop()
}

// emit delivers ev unless c was closed locally. It reports false when the
// event was discarded.
func (l *Link) emit(c *conn, ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case l.events <- ev:
		return true
	case <-c.done:
		return false
	}
}
