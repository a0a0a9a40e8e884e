package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/synctest"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/wakelink/internal/app"
	"github.com/MrWong99/wakelink/internal/config"
	evmock "github.com/MrWong99/wakelink/internal/events/mock"
	"github.com/MrWong99/wakelink/internal/observe"
	"github.com/MrWong99/wakelink/internal/session"
	"github.com/MrWong99/wakelink/pkg/audio"
	audiomock "github.com/MrWong99/wakelink/pkg/audio/mock"
	rtmock "github.com/MrWong99/wakelink/pkg/provider/realtime/mock"
	"github.com/MrWong99/wakelink/pkg/provider/wakeword"
	wwmock "github.com/MrWong99/wakelink/pkg/provider/wakeword/mock"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	cfg       *config.Config
	providers *app.Providers
	src       *audiomock.Source
	det       *wwmock.Detector
	rt        *rtmock.Provider
	pub       *evmock.Publisher
}

func newFixture() *fixture {
	f := &fixture{
		cfg: config.Default(),
		src: audiomock.NewSource(audio.Format{SampleRate: 16000, FrameLength: 512}, 16),
		det: &wwmock.Detector{
			DetectOn: func(_ int, pcm []int16) int {
				if pcm[0] == 1 {
					return 0
				}
				return wakeword.NoDetection
			},
		},
		rt:  &rtmock.Provider{},
		pub: &evmock.Publisher{},
	}
	f.providers = &app.Providers{Source: f.src, Detector: f.det, Realtime: f.rt}
	return f
}

func (f *fixture) newApp(t *testing.T, opts ...app.Option) *app.App {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	base := []app.Option{
		app.WithLogger(discard),
		app.WithMetrics(m),
		app.WithGatherer(prometheus.NewRegistry()),
		app.WithPublisher(f.pub),
	}
	a, err := app.New(context.Background(), f.cfg, f.providers, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	return a
}

// wakeFrame returns PCM whose first sample triggers the mock detector.
func wakeFrame() []byte {
	samples := make([]int16, 512)
	samples[0] = 1
	return audio.Int16ToBytes(nil, samples)
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()
	f := newFixture()
	a := f.newApp(t)
	if a.Controller() == nil || a.Handler() == nil {
		t.Fatal("New() left subsystems unset")
	}
	if got := a.Controller().State().State; got != session.Idle {
		t.Errorf("initial state = %v, want idle", got)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*fixture)
	}{
		{name: "missing realtime", mutate: func(f *fixture) { f.providers.Realtime = nil }},
		{name: "missing detector", mutate: func(f *fixture) { f.providers.Detector = nil }},
		{name: "frame length mismatch", mutate: func(f *fixture) { f.det.Frame = 256 }},
		{name: "sample rate mismatch", mutate: func(f *fixture) { f.det.Rate = 8000 }},
		{name: "nats unreachable", mutate: func(f *fixture) { f.cfg.Events.NATSURL = "nats://127.0.0.1:1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture()
			tt.mutate(f)
			opts := []app.Option{app.WithLogger(discard), app.WithGatherer(prometheus.NewRegistry())}
			if f.cfg.Events.NATSURL == "" {
				opts = append(opts, app.WithPublisher(f.pub))
			}
			if _, err := app.New(context.Background(), f.cfg, f.providers, opts...); err == nil {
				t.Fatal("New() succeeded, want error")
			}
		})
	}
}

func TestApp_RunSessionAndShutdown(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		f := newFixture()
		a := f.newApp(t)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- a.Run(ctx) }()
		synctest.Wait()

		if f.src.CallCountStart != 1 {
			t.Fatalf("source Start calls = %d, want 1", f.src.CallCountStart)
		}
		f.src.EmitData(wakeFrame())
		synctest.Wait()

		if got := a.Controller().State().State; got != session.Active {
			t.Fatalf("state = %v, want active", got)
		}
		if n := f.rt.ConnectCallCount(); n != 1 {
			t.Errorf("Connect calls = %d, want 1", n)
		}
		cfg := f.rt.ConnectCalls[0].Cfg
		if cfg.Instructions != config.DefaultInstructions {
			t.Errorf("instructions = %q", cfg.Instructions)
		}

		// Silence ends the session after the configured timeout.
		time.Sleep(f.cfg.Session.SilenceTimeout)
		synctest.Wait()
		if got := a.Controller().State().State; got != session.Idle {
			t.Fatalf("state after silence = %v, want idle", got)
		}

		cancel()
		if err := <-errCh; err != nil {
			t.Fatalf("Run() returned error: %v", err)
		}
		if !f.src.Stopped() || !f.det.Closed() {
			t.Error("source or detector not released")
		}
		if err := a.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown() error: %v", err)
		}
		if f.pub.CloseCallCount != 0 {
			t.Error("injected publisher closed by the app")
		}
	})
}

func TestApp_RunSourceStartFails(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.src.StartErr = errors.New("no default input device")
	a := f.newApp(t)

	err := a.Run(context.Background())
	if err == nil || !errors.Is(err, f.src.StartErr) {
		t.Fatalf("Run() = %v, want start error", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if !f.det.Closed() {
		t.Error("detector not released by Shutdown")
	}
}

func TestApp_RunSourceClosed(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		f := newFixture()
		a := f.newApp(t)

		errCh := make(chan error, 1)
		go func() { errCh <- a.Run(context.Background()) }()
		synctest.Wait()

		_ = f.src.Stop()
		if err := <-errCh; !errors.Is(err, session.ErrSourceClosed) {
			t.Fatalf("Run() = %v, want ErrSourceClosed", err)
		}
	})
}

func TestHandler_Routes(t *testing.T) {
	t.Parallel()
	f := newFixture()
	a := f.newApp(t)
	h := a.Handler()

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusServiceUnavailable}, // not running yet
		{"/metrics", http.StatusOK},
		{"/debug/session", http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", tc.path, nil))
			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/debug/session", nil))
	var view map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode session view: %v", err)
	}
	if view["state"] != "idle" || view["link"] != "disconnected" {
		t.Errorf("session view = %v", view)
	}
}

func TestApp_ServesDiagnostics(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	a := f.newApp(t, app.WithListener(ln))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	url := "http://" + ln.Addr().String() + "/readyz"
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			code := resp.StatusCode
			resp.Body.Close()
			if code == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("/readyz never became ready (last err: %v)", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return within 10s after context cancellation")
	}
}

func TestApp_ApplyConfig(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		f := newFixture()
		lv := new(slog.LevelVar)
		a := f.newApp(t, app.WithLevelVar(lv))

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- a.Run(ctx) }()
		synctest.Wait()

		updated := *f.cfg
		updated.Realtime.Instructions = "Answer like a ship's computer."
		updated.Realtime.Modalities = []string{"text"}
		updated.Server.LogLevel = config.LogDebug
		a.ApplyConfig(f.cfg, &updated)

		if lv.Level() != slog.LevelDebug {
			t.Errorf("level = %v, want debug", lv.Level())
		}

		f.src.EmitData(wakeFrame())
		synctest.Wait()
		if n := f.rt.ConnectCallCount(); n != 1 {
			t.Fatalf("Connect calls = %d, want 1", n)
		}
		got := f.rt.ConnectCalls[0].Cfg
		if got.Instructions != updated.Realtime.Instructions || len(got.Modalities) != 1 || got.Modalities[0] != "text" {
			t.Errorf("session config = %+v", got)
		}

		cancel()
		if err := <-errCh; err != nil {
			t.Fatalf("Run() returned error: %v", err)
		}
	})
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	cases := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range cases {
		if got := app.SlogLevel(in); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
