// Package session implements the voice session state machine.
//
// A [Controller] consumes the audio frame stream on a single goroutine and
// decides for every frame where it goes: to the wake-word gate while Idle, or
// to the realtime link while Active. A wake detection opens the link and arms
// the silence watchdog; the session returns to Idle when the remote side
// completes, reports an error, drops the connection, or when no frame arrived
// for the watchdog interval.
//
// Because frames, link events and watchdog expiries are all consumed by the
// same goroutine, switching between the two consumers is atomic with respect
// to frame delivery: no frame is handed to both, and none is lost during the
// switch.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/wakelink/internal/events"
	"github.com/MrWong99/wakelink/internal/gate"
	"github.com/MrWong99/wakelink/internal/link"
	"github.com/MrWong99/wakelink/internal/observe"
	"github.com/MrWong99/wakelink/internal/watchdog"
	"github.com/MrWong99/wakelink/pkg/audio"
)

// ErrSourceClosed is returned by Run when the audio source stopped on its own.
var ErrSourceClosed = errors.New("session: audio source closed")

// ErrShutdownTimeout is returned by Run when the shutdown sequence did not
// finish within the configured bound.
var ErrShutdownTimeout = errors.New("session: shutdown timed out")

// ErrNotRunning is returned by Ready while Run is not executing.
var ErrNotRunning = errors.New("session: controller not running")

const defaultShutdownTimeout = 5 * time.Second

// End reasons, reported in logs, metrics and lifecycle events.
const (
	ReasonComplete      = "complete"
	ReasonProtocolError = "protocol_error"
	ReasonClosed        = "closed"
	ReasonTimeout       = "timeout"
	ReasonShutdown      = "shutdown"
)

// State is the controller mode.
type State int

const (
	Idle State = iota
	Active
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// ── Collaborators ─────────────────────────────────────────────────────────────

// Gate evaluates frames for the wake word. Implemented by *gate.Gate.
type Gate interface {
	Evaluate(ctx context.Context, f audio.Frame) gate.Event
	Close() error
}

// Link carries frames to the realtime endpoint. Implemented by *link.Link.
type Link interface {
	Open(ctx context.Context) bool
	Send(ctx context.Context, f audio.Frame) error
	Close()
	Events() <-chan link.Event
	Generation() uint64
	State() link.State
}

// Watchdog is the silence deadline. Implemented by *watchdog.Watchdog.
type Watchdog interface {
	Arm()
	Reset() bool
	Disarm()
	C() <-chan watchdog.Expiry
	Expired(e watchdog.Expiry) bool
	Deadline() (time.Time, bool)
}

var (
	_ Gate     = (*gate.Gate)(nil)
	_ Link     = (*link.Link)(nil)
	_ Watchdog = (*watchdog.Watchdog)(nil)
)

// Config holds the dependencies of a [Controller].
type Config struct {
	// Source delivers frames. It must already be started; the controller
	// stops it during shutdown.
	Source audio.Source

	Gate     Gate
	Link     Link
	Watchdog Watchdog

	// Publisher receives lifecycle events. Default: events.Nop.
	Publisher events.Publisher

	// Logger. Default: slog.Default().
	Logger *slog.Logger

	// Metrics. Default: observe.DefaultMetrics().
	Metrics *observe.Metrics

	// ShutdownTimeout bounds the shutdown sequence. Default: 5s.
	ShutdownTimeout time.Duration

	// NewID generates session IDs. Default: uuid.NewString.
	NewID func() string
}

// Snapshot is a read-only view of the controller for diagnostics.
type Snapshot struct {
	State     State
	SessionID string
	Keyword   string
	StartedAt time.Time

	// LinkState is the connection state at the time of the snapshot.
	LinkState link.State

	// Deadline is the silence deadline; zero unless Active.
	Deadline time.Time

	// Sessions counts sessions started since Run began.
	Sessions uint64
}

// ── Controller ────────────────────────────────────────────────────────────────

// Controller is the single owner of session state.
type Controller struct {
	src      audio.Source
	gate     Gate
	link     Link
	wd       Watchdog
	pub      events.Publisher
	log      *slog.Logger
	metrics  *observe.Metrics
	shutdown time.Duration
	newID    func() string

	// Session state, written only by the Run goroutine.
	state     State
	sessionID string
	keyword   string
	startedAt time.Time
	linkGen   uint64
	span      trace.Span
	sessCtx   context.Context

	// snap mirrors the session state for State().
	mu       sync.RWMutex
	snap     Snapshot
	running  bool
	runOnce  sync.Once
	sessions uint64
}

// New validates cfg and returns an Idle controller.
func New(cfg Config) (*Controller, error) {
	var errs []error
	if cfg.Source == nil {
		errs = append(errs, errors.New("source is required"))
	}
	if cfg.Gate == nil {
		errs = append(errs, errors.New("gate is required"))
	}
	if cfg.Link == nil {
		errs = append(errs, errors.New("link is required"))
	}
	if cfg.Watchdog == nil {
		errs = append(errs, errors.New("watchdog is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	c := &Controller{
		src:      cfg.Source,
		gate:     cfg.Gate,
		link:     cfg.Link,
		wd:       cfg.Watchdog,
		pub:      cfg.Publisher,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		shutdown: cfg.ShutdownTimeout,
		newID:    cfg.NewID,
	}
	if c.pub == nil {
		c.pub = events.Nop{}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.shutdown <= 0 {
		c.shutdown = defaultShutdownTimeout
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c, nil
}

// State returns a snapshot of the session. Safe for concurrent use.
func (c *Controller) State() Snapshot {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()
	snap.LinkState = c.link.State()
	if d, ok := c.wd.Deadline(); ok && snap.State == Active {
		snap.Deadline = d
	}
	return snap
}

// Ready reports whether Run is processing frames.
func (c *Controller) Ready(context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.running {
		return ErrNotRunning
	}
	return nil
}

// Run consumes frames, link events and watchdog expiries until ctx is
// cancelled or the source closes, then performs the shutdown sequence. It
// returns nil after a clean shutdown triggered by ctx. Run may be called at
// most once.
func (c *Controller) Run(ctx context.Context) error {
	started := false
	c.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("session: Run called twice")
	}

	c.setRunning(true)
	defer c.setRunning(false)
	c.log.Info("session: listening for wake word")

	frames := c.src.Frames()
	srcErrs := c.src.Errors()
	linkEvents := c.link.Events()
	expiries := c.wd.C()

	for {
		select {
		case <-ctx.Done():
			return c.stop()

		case f, ok := <-frames:
			if !ok {
				c.log.Error("session: audio source closed unexpectedly")
				return errors.Join(ErrSourceClosed, c.stop())
			}
			c.handleFrame(ctx, f)

		case ev := <-linkEvents:
			c.handleLinkEvent(ctx, ev)

		case e := <-expiries:
			// A frame that is already waiting proves activity; it wins.
			select {
			case f, ok := <-frames:
				if ok {
					c.handleFrame(ctx, f)
				}
			default:
			}
			c.handleExpiry(ctx, e)

		case err, ok := <-srcErrs:
			if !ok {
				srcErrs = nil
				continue
			}
			c.log.Warn("session: audio source error", "err", err)
		}
	}
}

// handleFrame routes f by the current state.
func (c *Controller) handleFrame(ctx context.Context, f audio.Frame) {
	switch c.state {
	case Idle:
		ev := c.gate.Evaluate(ctx, f)
		if ev.Detected {
			c.startSession(ctx, ev, f.Seq)
		}
	case Active:
		c.wd.Reset()
		// Drops are counted by the link.
		_ = c.link.Send(c.sessCtx, f)
	}
}

// startSession performs the Idle → Active transition.
func (c *Controller) startSession(ctx context.Context, ev gate.Event, seq uint64) {
	if c.state == Active {
		c.log.Debug("session: wake word while active ignored", "keyword", ev.Keyword)
		return
	}

	id := c.newID()
	now := time.Now()
	c.sessCtx, c.span = observe.StartSessionSpan(ctx, id, ev.Keyword)
	log := observe.LoggerFrom(c.sessCtx, c.log)

	if !c.link.Open(ctx) {
		log.Debug("session: link already connecting or open, reusing", "link_state", c.link.State().String())
	}
	c.linkGen = c.link.Generation()
	c.wd.Arm()

	c.state = Active
	c.sessionID = id
	c.keyword = ev.Keyword
	c.startedAt = now
	c.publishSnapshot()

	c.metrics.RecordSessionStart(ctx)
	log.Info("session: wake word detected", "keyword", ev.Keyword, "session_id", id, "frame_seq", seq)
	c.publish(ctx, events.Event{Kind: events.KindWake, SessionID: id, Keyword: ev.Keyword, Timestamp: now})
	c.publish(ctx, events.Event{Kind: events.KindStarted, SessionID: id, Keyword: ev.Keyword, Timestamp: now})
}

// handleLinkEvent reacts to a realtime link notification.
func (c *Controller) handleLinkEvent(ctx context.Context, ev link.Event) {
	if c.state != Active || ev.Gen != c.linkGen {
		c.log.Debug("session: stale link event ignored", "kind", ev.Kind.String(), "gen", ev.Gen, "current_gen", c.linkGen)
		return
	}
	log := observe.LoggerFrom(c.sessCtx, c.log)

	switch ev.Kind {
	case link.Opened:
		log.Info("session: realtime connection open", "session_id", c.sessionID)
	case link.PartialResult:
		log.Info("assistant", "text", ev.Text, "session_id", c.sessionID)
		c.publish(ctx, events.Event{Kind: events.KindPartial, SessionID: c.sessionID, Text: ev.Text, Timestamp: time.Now()})
	case link.Complete:
		c.endSession(ctx, ReasonComplete, "")
	case link.ProtocolError:
		log.Warn("session: realtime error", "detail", ev.Detail, "session_id", c.sessionID)
		c.endSession(ctx, ReasonProtocolError, ev.Detail)
	case link.Closed:
		c.endSession(ctx, ReasonClosed, "")
	}
}

// handleExpiry ends the session if e is still the current silence deadline.
func (c *Controller) handleExpiry(ctx context.Context, e watchdog.Expiry) {
	if c.state != Active || !c.wd.Expired(e) {
		return
	}
	c.endSession(ctx, ReasonTimeout, "")
}

// endSession performs the Active → Idle transition.
func (c *Controller) endSession(ctx context.Context, reason, detail string) {
	if c.state != Active {
		return
	}
	c.wd.Disarm()
	c.link.Close()

	d := time.Since(c.startedAt)
	id := c.sessionID
	observe.LoggerFrom(c.sessCtx, c.log).Info("session: ended", "session_id", id, "reason", reason, "duration", d)
	if reason == ReasonProtocolError {
		c.span.SetStatus(codes.Error, detail)
	}
	c.span.End()

	c.state = Idle
	c.sessionID = ""
	c.keyword = ""
	c.startedAt = time.Time{}
	c.sessCtx = nil
	c.span = nil
	c.publishSnapshot()

	c.metrics.RecordSessionEnd(ctx, reason, d)
	c.publish(ctx, events.Event{Kind: events.KindEnded, SessionID: id, Reason: reason, Timestamp: time.Now()})
}

// stop runs the shutdown sequence: disarm the watchdog, close the link
// without waiting, release the detector and stop the source, bounded by the
// shutdown timeout.
func (c *Controller) stop() error {
	c.log.Info("session: shutting down")
	ctx := context.WithoutCancel(context.Background())

	if c.state == Active {
		// endSession disarms and closes the link first.
		c.endSession(ctx, ReasonShutdown, "")
	} else {
		c.wd.Disarm()
		c.link.Close()
	}

	done := make(chan error, 1)
	go func() {
		var errs []error
		if err := c.gate.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release detector: %w", err))
		}
		if err := c.src.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop audio source: %w", err))
		}
		done <- errors.Join(errs...)
	}()

	timer := time.NewTimer(c.shutdown)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("session: shutdown: %w", err)
		}
		c.log.Info("session: shutdown complete")
		return nil
	case <-timer.C:
		c.log.Error("session: shutdown timed out", "timeout", c.shutdown)
		return ErrShutdownTimeout
	}
}

func (c *Controller) publish(ctx context.Context, ev events.Event) {
	if err := c.pub.Publish(ctx, ev); err != nil {
		c.log.Warn("session: publish lifecycle event", "kind", string(ev.Kind), "err", err)
	}
}

func (c *Controller) publishSnapshot() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Active && c.snap.State == Idle {
		c.sessions++
	}
	c.snap = Snapshot{
		State:     c.state,
		SessionID: c.sessionID,
		Keyword:   c.keyword,
		StartedAt: c.startedAt,
		Sessions:  c.sessions,
	}
}

func (c *Controller) setRunning(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = v
}
