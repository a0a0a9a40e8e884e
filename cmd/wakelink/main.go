// Command wakelink listens on the default microphone for a wake word and
// streams the following utterance to the OpenAI Realtime API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"

	"github.com/MrWong99/wakelink/internal/app"
	"github.com/MrWong99/wakelink/internal/config"
	"github.com/MrWong99/wakelink/internal/observe"
	"github.com/MrWong99/wakelink/pkg/audio"
	"github.com/MrWong99/wakelink/pkg/audio/portaudio"
	"github.com/MrWong99/wakelink/pkg/provider/realtime/openai"
	"github.com/MrWong99/wakelink/pkg/provider/wakeword"
	"github.com/MrWong99/wakelink/pkg/provider/wakeword/porcupine"
)

// version is set at build time via -ldflags.
var version = "dev"

const (
	envOpenAIKey    = "OPENAI_API_KEY"
	envPorcupineKey = "PORCUPINE_ACCESS_KEY"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.StringP("config", "c", "", "path to the YAML configuration file (defaults apply when empty)")
	envFile := flag.StringP("env", "e", ".env", "dotenv file with credentials")
	watch := flag.Bool("watch", true, "reload the configuration file when it changes")
	flag.Parse()

	// ── Credentials ───────────────────────────────────────────────────────────
	// A missing .env file is fine; the variables may come from the environment.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "wakelink: load %s: %v\n", *envFile, err)
		return 1
	}
	creds, err := loadCredentials(os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wakelink: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "wakelink: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "wakelink: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	logger := newLogger(os.Stderr, cfg.Server.LogFormat, level)
	slog.SetDefault(logger)

	slog.Info("wakelink starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	traceExp, err := observe.NewTraceExporter(string(cfg.Tracing.Exporter), os.Stdout)
	if err != nil {
		slog.Error("failed to create trace exporter", "err", err)
		return 1
	}
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceVersion: version,
		TraceExporter:  traceExp,
		SampleRatio:    cfg.Tracing.SampleRatio,
		Registry:       reg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Providers ─────────────────────────────────────────────────────────────
	rt := openai.New(creds.openAI,
		openai.WithBaseURL(cfg.Realtime.BaseURL),
		openai.WithModel(cfg.Realtime.Model),
	)
	if cfg.Realtime.Preflight {
		pctx, cancel := context.WithTimeout(ctx, cfg.Realtime.DialTimeout)
		err := rt.Verify(pctx, cfg.Realtime.APIBaseURL)
		cancel()
		if err != nil {
			slog.Error("realtime preflight failed", "model", cfg.Realtime.Model, "err", err)
			return 1
		}
		slog.Info("realtime preflight ok", "model", cfg.Realtime.Model)
	}

	det, err := porcupine.New(wakeword.Config{
		AccessKey:     creds.porcupine,
		Keywords:      cfg.WakeWord.Keywords,
		Sensitivities: cfg.WakeWord.Sensitivities,
		ModelPath:     cfg.WakeWord.ModelPath,
	})
	if err != nil {
		slog.Error("failed to load wake-word detector", "err", err)
		return 1
	}

	src := portaudio.New(
		audio.Format{SampleRate: cfg.Audio.SampleRate, FrameLength: cfg.Audio.FrameLength},
		portaudio.WithDevice(cfg.Audio.Device),
		portaudio.WithBufferFrames(cfg.Audio.BufferFrames),
	)

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, &app.Providers{
		Source:   src,
		Detector: det,
		Realtime: rt,
	},
		app.WithLogger(logger),
		app.WithLevelVar(level),
		app.WithGatherer(reg),
	)
	if err != nil {
		_ = det.Close()
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *watch && *configPath != "" {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig, config.WithWatcherLogger(logger))
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	printStartupSummary(os.Stdout, cfg)
	slog.Info("ready, say one of the wake words", "keywords", strings.Join(det.Keywords(), ", "))

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Session.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Credentials ───────────────────────────────────────────────────────────────

type credentials struct {
	openAI    string
	porcupine string
}

// loadCredentials reads both API keys through getenv and reports every
// missing one.
func loadCredentials(getenv func(string) string) (credentials, error) {
	c := credentials{
		openAI:    getenv(envOpenAIKey),
		porcupine: getenv(envPorcupineKey),
	}
	var missing []string
	if c.openAI == "" {
		missing = append(missing, envOpenAIKey)
	}
	if c.porcupine == "" {
		missing = append(missing, envPorcupineKey)
	}
	if len(missing) > 0 {
		return credentials{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return c, nil
}

// loadConfig loads path, or returns the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, format config.LogFormat, level slog.Leveler) *slog.Logger {
	switch format {
	case config.LogFormatJSON:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	case config.LogFormatConsole:
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	default:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        wakelink · startup summary     ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Keywords", strings.Join(cfg.WakeWord.Keywords, ","))
	printRow(w, "Audio", fmt.Sprintf("%d Hz / %d", cfg.Audio.SampleRate, cfg.Audio.FrameLength))
	device := cfg.Audio.Device
	if device == "" {
		device = "(default input)"
	}
	printRow(w, "Device", device)
	printRow(w, "Model", cfg.Realtime.Model)
	printRow(w, "Silence", cfg.Session.SilenceTimeout.String())
	if cfg.Events.NATSURL != "" {
		printRow(w, "Events", cfg.Events.NATSURL)
	} else {
		printRow(w, "Events", "(disabled)")
	}
	printRow(w, "Tracing", fmt.Sprintf("%s @ %.2f", cfg.Tracing.Exporter, cfg.Tracing.SampleRatio))
	if cfg.Server.ListenAddr != "" {
		printRow(w, "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(w io.Writer, label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", label, value)
}
