// Package app wires all wakelink subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the gate, link, watchdog
// and session controller from the config, Run starts audio capture, the
// controller loop and the diagnostics server, and Shutdown releases what Run
// does not own.
//
// For testing, inject mock providers through [Providers] and collaborators
// via functional options (WithPublisher, WithMetrics, etc.). When an option
// is not provided, New creates real implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/wakelink/internal/config"
	"github.com/MrWong99/wakelink/internal/events"
	"github.com/MrWong99/wakelink/internal/gate"
	"github.com/MrWong99/wakelink/internal/health"
	"github.com/MrWong99/wakelink/internal/link"
	"github.com/MrWong99/wakelink/internal/observe"
	"github.com/MrWong99/wakelink/internal/resilience"
	"github.com/MrWong99/wakelink/internal/session"
	"github.com/MrWong99/wakelink/internal/watchdog"
	"github.com/MrWong99/wakelink/pkg/audio"
	"github.com/MrWong99/wakelink/pkg/provider/realtime"
	"github.com/MrWong99/wakelink/pkg/provider/wakeword"
)

// httpShutdownTimeout bounds the graceful stop of the diagnostics server.
const httpShutdownTimeout = 5 * time.Second

// errSourceNotStarted is reported by the audio readiness check before Run.
var errSourceNotStarted = errors.New("audio source not started")

// Providers holds the external adapters. All fields are required. Populated
// by main from the environment and config.
type Providers struct {
	// Source is the capture device. Run starts it; the controller stops it.
	Source audio.Source

	// Detector evaluates frames while Idle. The gate takes ownership.
	Detector wakeword.Detector

	// Realtime opens remote inference sessions.
	Realtime realtime.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	level     *slog.LevelVar
	metrics   *observe.Metrics
	gatherer  prometheus.Gatherer
	publisher events.Publisher

	ownsPublisher bool

	// Subsystems, initialised in New.
	breaker *resilience.CircuitBreaker
	gate    *gate.Gate
	link    *link.Link
	wd      *watchdog.Watchdog
	ctrl    *session.Controller
	health  *health.Handler
	handler http.Handler

	started atomic.Bool

	mu       sync.Mutex
	listener net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets hot reloads adjust the log level of the handler built
// around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetrics injects the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer sets the registry served on /metrics. Default:
// prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithPublisher injects a lifecycle event publisher instead of connecting to
// events.nats_url.
func WithPublisher(p events.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithListener makes Run serve diagnostics on l instead of listening on
// server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It fails when a
// provider is missing or the detector cannot consume the source's frames.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.gatherer == nil {
		a.gatherer = prometheus.DefaultGatherer
	}

	// ── 1. Providers ─────────────────────────────────────────────────────
	if err := a.checkProviders(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── 2. Lifecycle events ──────────────────────────────────────────────
	if err := a.initPublisher(ctx); err != nil {
		return nil, fmt.Errorf("app: init events: %w", err)
	}

	// ── 3. Gate, link, watchdog ──────────────────────────────────────────
	a.gate = gate.New(providers.Detector,
		gate.WithLogger(a.log),
		gate.WithMetrics(a.metrics),
	)
	a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "realtime-dial",
		MaxFailures:  cfg.Breaker.MaxFailures,
		ResetTimeout: cfg.Breaker.ResetTimeout,
		Logger:       a.log,
	})
	a.link = link.New(providers.Realtime,
		link.WithLogger(a.log),
		link.WithMetrics(a.metrics),
		link.WithBreaker(a.breaker),
		link.WithQueueSize(cfg.Realtime.SendQueue),
		link.WithDialTimeout(cfg.Realtime.DialTimeout),
		link.WithSessionConfig(sessionConfig(cfg)),
	)
	a.wd = watchdog.New(cfg.Session.SilenceTimeout)

	// ── 4. Session controller ────────────────────────────────────────────
	ctrl, err := session.New(session.Config{
		Source:          providers.Source,
		Gate:            a.gate,
		Link:            a.link,
		Watchdog:        a.wd,
		Publisher:       a.publisher,
		Logger:          a.log,
		Metrics:         a.metrics,
		ShutdownTimeout: cfg.Session.ShutdownTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.ctrl = ctrl

	// Normally released by the controller's shutdown sequence; these cover a
	// Run that failed before the controller started. All are idempotent.
	a.closers = append(a.closers,
		func() error { a.link.Close(); return nil },
		a.gate.Close,
		providers.Source.Stop,
	)
	if a.ownsPublisher {
		a.closers = append(a.closers, a.publisher.Close)
	}

	// ── 5. Diagnostics ───────────────────────────────────────────────────
	a.health = health.New(
		health.FromReadier("controller", a.ctrl),
		health.FromReadier("detector", a.gate),
		health.Checker{Name: "audio", Check: a.checkAudio},
		health.Checker{Name: "realtime", Check: a.checkRealtime},
	)
	a.handler = a.buildHandler()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// checkProviders verifies that every adapter is present and that the
// detector accepts the source's frame layout.
func (a *App) checkProviders() error {
	p := a.providers
	if p == nil || p.Source == nil || p.Detector == nil || p.Realtime == nil {
		return errors.New("source, detector and realtime providers are required")
	}
	f := p.Source.Format()
	if f.FrameLength != p.Detector.FrameLength() {
		return fmt.Errorf("audio frame length %d does not match detector frame length %d", f.FrameLength, p.Detector.FrameLength())
	}
	if f.SampleRate != p.Detector.SampleRate() {
		return fmt.Errorf("audio sample rate %d does not match detector sample rate %d", f.SampleRate, p.Detector.SampleRate())
	}
	return nil
}

// initPublisher connects to NATS when configured, unless a publisher was
// injected.
func (a *App) initPublisher(_ context.Context) error {
	if a.publisher != nil {
		return nil
	}
	if a.cfg.Events.NATSURL == "" {
		a.publisher = events.Nop{}
		return nil
	}
	pub, err := events.ConnectNATS(a.cfg.Events.NATSURL, a.cfg.Events.SubjectPrefix, a.log)
	if err != nil {
		return err
	}
	a.publisher = pub
	a.ownsPublisher = true
	a.log.Info("publishing lifecycle events", "url", a.cfg.Events.NATSURL, "prefix", a.cfg.Events.SubjectPrefix)
	return nil
}

// buildHandler assembles the diagnostics routes.
func (a *App) buildHandler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /debug/session", a.serveSession)
	return observe.Middleware(a.metrics,
		observe.WithRequestLogger(a.log),
		observe.WithRoutes("/healthz", "/readyz", "/metrics", "/debug/session"),
	)(mux)
}

func (a *App) checkAudio(context.Context) error {
	if !a.started.Load() {
		return errSourceNotStarted
	}
	return nil
}

func (a *App) checkRealtime(context.Context) error {
	if s := a.breaker.State(); s == resilience.StateOpen {
		return fmt.Errorf("dial breaker %s", s)
	}
	return nil
}

// sessionView is the JSON form of a session snapshot.
type sessionView struct {
	State     string    `json:"state"`
	SessionID string    `json:"session_id,omitempty"`
	Keyword   string    `json:"keyword,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Deadline  time.Time `json:"deadline,omitzero"`
	Link      string    `json:"link"`
	Sessions  uint64    `json:"sessions"`
	Sent      uint64    `json:"frames_sent"`
	Dropped   uint64    `json:"frames_dropped"`
	Evaluated uint64    `json:"frames_evaluated"`
}

func (a *App) serveSession(w http.ResponseWriter, _ *http.Request) {
	snap := a.ctrl.State()
	ls := a.link.Stats()
	view := sessionView{
		State:     snap.State.String(),
		SessionID: snap.SessionID,
		Keyword:   snap.Keyword,
		StartedAt: snap.StartedAt,
		Deadline:  snap.Deadline,
		Link:      snap.LinkState.String(),
		Sessions:  snap.Sessions,
		Sent:      ls.Sent,
		Dropped:   ls.Dropped,
		Evaluated: a.gate.Stats().Evaluated,
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(view); err != nil {
		a.log.Warn("encode session snapshot", "err", err)
	}
}

// Handler returns the diagnostics HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Controller returns the session controller.
func (a *App) Controller() *session.Controller { return a.ctrl }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts audio capture and blocks until ctx is cancelled or a component
// fails. It returns nil after an orderly shutdown triggered by ctx.
func (a *App) Run(ctx context.Context) error {
	ln, err := a.listen()
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}

	if err := a.providers.Source.Start(ctx); err != nil {
		if ln != nil {
			_ = ln.Close()
		}
		return fmt.Errorf("app: start audio source: %w", err)
	}
	a.started.Store(true)
	defer a.started.Store(false)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.ctrl.Run(gctx)
	})

	if ln != nil {
		srv := &http.Server{
			Handler:           a.handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.log.Info("diagnostics server listening", "addr", ln.Addr().String())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: serve diagnostics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), httpShutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	a.log.Info("app running",
		"keywords", a.providers.Detector.Keywords(),
		"silence_timeout", a.cfg.Session.SilenceTimeout,
		"model", a.cfg.Realtime.Model,
	)
	return g.Wait()
}

// listen returns the injected listener or opens server.listen_addr. A nil
// listener means the diagnostics server is disabled.
func (a *App) listen() (net.Listener, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener, nil
	}
	if a.cfg.Server.ListenAddr == "" {
		return nil, nil
	}
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return nil, err
	}
	a.listener = ln
	return ln, nil
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new.
// Session instructions and modalities take effect on the next session; the
// log level changes immediately when a level var was supplied. Other changes
// are logged and ignored until restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.SessionChanged() {
		a.link.SetSessionConfig(sessionConfig(new))
		a.log.Info("session configuration updated; applies to the next session",
			"instructions_changed", d.InstructionsChanged,
			"modalities", new.Realtime.Modalities,
		)
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", string(d.NewLogLevel))
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("configuration changes require a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases resources not owned by Run, in order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// sessionConfig converts the realtime section to the announced session config.
func sessionConfig(cfg *config.Config) realtime.SessionConfig {
	return realtime.SessionConfig{
		Instructions: cfg.Realtime.Instructions,
		Modalities:   append([]string(nil), cfg.Realtime.Modalities...),
	}
}

// SlogLevel converts a config.LogLevel to slog.Level. Unknown values map to
// Info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
