// Package config provides the configuration schema, loader and file watcher
// for wakelink.
//
// Credentials are never part of the file: the realtime API key and the
// wake-word access key are read from the environment by the caller.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	// LogFormatText uses slog.TextHandler.
	LogFormatText LogFormat = "text"

	// LogFormatJSON uses slog.JSONHandler.
	LogFormatJSON LogFormat = "json"

	// LogFormatConsole uses a colourised human-oriented handler.
	LogFormatConsole LogFormat = "console"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	switch f {
	case LogFormatText, LogFormatJSON, LogFormatConsole:
		return true
	}
	return false
}

// Defaults.
const (
	DefaultSampleRate      = 16000
	DefaultFrameLength     = 512
	DefaultBufferFrames    = 64
	DefaultKeyword         = "computer"
	DefaultSensitivity     = 0.7
	DefaultRealtimeURL     = "wss://api.openai.com/v1/realtime"
	DefaultRealtimeModel   = "gpt-4o-realtime-preview-2024-10-01"
	DefaultInstructions    = "You are a helpful voice assistant. Keep answers short."
	DefaultDialTimeout     = 10 * time.Second
	DefaultSendQueue       = 32
	DefaultSilenceTimeout  = 5 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultMaxFailures     = 5
	DefaultResetTimeout    = 30 * time.Second
	DefaultSubjectPrefix   = "wakelink"
	DefaultTraceExporter   = TraceExporterNone
	DefaultSampleRatio     = 1.0
)

// TraceExporter selects where finished spans are written.
type TraceExporter string

const (
	// TraceExporterNone records spans for log correlation only.
	TraceExporterNone TraceExporter = "none"

	// TraceExporterStdout writes one JSON document per span to stdout.
	TraceExporterStdout TraceExporter = "stdout"
)

// IsValid reports whether e is a known exporter.
func (e TraceExporter) IsValid() bool {
	return e == TraceExporterNone || e == TraceExporterStdout
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Audio    AudioConfig    `yaml:"audio"`
	WakeWord WakeWordConfig `yaml:"wakeword"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Session  SessionConfig  `yaml:"session"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Events   EventsConfig   `yaml:"events"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ServerConfig holds the diagnostics listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the diagnostics HTTP server
	// (e.g., ":9090"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects the log handler. Default: text.
	LogFormat LogFormat `yaml:"log_format"`
}

// AudioConfig describes the capture stream.
type AudioConfig struct {
	// SampleRate in Hz. Must match the wake-word engine.
	SampleRate int `yaml:"sample_rate"`

	// FrameLength is the number of samples per frame. Must match the
	// wake-word engine.
	FrameLength int `yaml:"frame_length"`

	// Device is a case-insensitive substring of the input device name.
	// Empty selects the system default input.
	Device string `yaml:"device"`

	// BufferFrames is the capacity of the frame channel between capture and
	// the session controller.
	BufferFrames int `yaml:"buffer_frames"`
}

// WakeWordConfig selects the keywords to listen for.
type WakeWordConfig struct {
	// Keywords lists built-in keyword names or paths to custom .ppn model
	// files. The two forms cannot be mixed.
	Keywords []string `yaml:"keywords"`

	// Sensitivities holds one value in [0, 1] per keyword. Empty applies
	// [DefaultSensitivity] to every keyword.
	Sensitivities []float64 `yaml:"sensitivities"`

	// ModelPath optionally overrides the bundled acoustic model.
	ModelPath string `yaml:"model_path"`
}

// RealtimeConfig configures the remote inference link.
type RealtimeConfig struct {
	// BaseURL is the WebSocket endpoint without query parameters.
	BaseURL string `yaml:"base_url"`

	// Model is appended as the model query parameter.
	Model string `yaml:"model"`

	// Instructions is announced when a session opens. Hot-reloadable.
	Instructions string `yaml:"instructions"`

	// Modalities requested from the model. Hot-reloadable.
	Modalities []string `yaml:"modalities"`

	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// SendQueue is the number of frames buffered towards the transport
	// before new frames are dropped.
	SendQueue int `yaml:"send_queue"`

	// Preflight verifies the API key and model over REST at startup.
	Preflight bool `yaml:"preflight"`

	// APIBaseURL overrides the REST endpoint used by the preflight check.
	APIBaseURL string `yaml:"api_base_url"`
}

// SessionConfig holds the session controller timings.
type SessionConfig struct {
	// SilenceTimeout ends an Active session when no frame arrived for this long.
	SilenceTimeout time.Duration `yaml:"silence_timeout"`

	// ShutdownTimeout bounds the shutdown sequence.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BreakerConfig tunes the circuit breaker protecting connection attempts.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failed dials before the
	// breaker opens.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open before a probe dial.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// EventsConfig configures lifecycle event publishing.
type EventsConfig struct {
	// NATSURL enables publishing when non-empty (e.g., "nats://localhost:4222").
	NATSURL string `yaml:"nats_url"`

	// SubjectPrefix is prepended to every subject. Default: wakelink.
	SubjectPrefix string `yaml:"subject_prefix"`
}

// TracingConfig controls export of session and HTTP spans.
type TracingConfig struct {
	// Exporter is "none" or "stdout". Default: none.
	Exporter TraceExporter `yaml:"exporter"`

	// SampleRatio is the fraction of sessions traced, in (0, 1]. Default: 1.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}

	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.FrameLength == 0 {
		cfg.Audio.FrameLength = DefaultFrameLength
	}
	if cfg.Audio.BufferFrames == 0 {
		cfg.Audio.BufferFrames = DefaultBufferFrames
	}

	if len(cfg.WakeWord.Keywords) == 0 {
		cfg.WakeWord.Keywords = []string{DefaultKeyword}
	}
	if len(cfg.WakeWord.Sensitivities) == 0 {
		cfg.WakeWord.Sensitivities = make([]float64, len(cfg.WakeWord.Keywords))
		for i := range cfg.WakeWord.Sensitivities {
			cfg.WakeWord.Sensitivities[i] = DefaultSensitivity
		}
	}

	if cfg.Realtime.BaseURL == "" {
		cfg.Realtime.BaseURL = DefaultRealtimeURL
	}
	if cfg.Realtime.Model == "" {
		cfg.Realtime.Model = DefaultRealtimeModel
	}
	if cfg.Realtime.Instructions == "" {
		cfg.Realtime.Instructions = DefaultInstructions
	}
	if len(cfg.Realtime.Modalities) == 0 {
		cfg.Realtime.Modalities = []string{"text", "audio"}
	}
	if cfg.Realtime.DialTimeout == 0 {
		cfg.Realtime.DialTimeout = DefaultDialTimeout
	}
	if cfg.Realtime.SendQueue == 0 {
		cfg.Realtime.SendQueue = DefaultSendQueue
	}

	if cfg.Session.SilenceTimeout == 0 {
		cfg.Session.SilenceTimeout = DefaultSilenceTimeout
	}
	if cfg.Session.ShutdownTimeout == 0 {
		cfg.Session.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Breaker.MaxFailures == 0 {
		cfg.Breaker.MaxFailures = DefaultMaxFailures
	}
	if cfg.Breaker.ResetTimeout == 0 {
		cfg.Breaker.ResetTimeout = DefaultResetTimeout
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = DefaultSubjectPrefix
	}

	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = DefaultTraceExporter
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultSampleRatio
	}
}
