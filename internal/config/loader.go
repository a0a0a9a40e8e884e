package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/wakelink/pkg/provider/wakeword"
)

// ValidModalities lists the response modalities the realtime endpoint accepts.
var ValidModalities = []string{"text", "audio"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields [Default].
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. Defaults are
// expected to be applied already.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json, console", cfg.Server.LogFormat))
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameLength < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_length %d must not be negative", cfg.Audio.FrameLength))
	}
	if cfg.Audio.BufferFrames < 0 {
		errs = append(errs, fmt.Errorf("audio.buffer_frames %d must not be negative", cfg.Audio.BufferFrames))
	}

	// Wake word
	kw := cfg.WakeWord
	seen := make(map[string]int, len(kw.Keywords))
	var files, builtIns int
	for i, k := range kw.Keywords {
		if k == "" {
			errs = append(errs, fmt.Errorf("wakeword.keywords[%d] is empty", i))
			continue
		}
		if prev, ok := seen[k]; ok {
			errs = append(errs, fmt.Errorf("wakeword.keywords[%d] %q is a duplicate of wakeword.keywords[%d]", i, k, prev))
		}
		seen[k] = i
		if wakeword.IsKeywordFile(k) {
			files++
		} else if wakeword.IsBuiltIn(k) {
			builtIns++
		} else {
			errs = append(errs, fmt.Errorf("wakeword.keywords[%d] %q is not a built-in keyword or a %s file", i, k, wakeword.KeywordFileExt))
		}
	}
	if files > 0 && builtIns > 0 {
		errs = append(errs, errors.New("wakeword.keywords must be all built-in names or all .ppn files"))
	}
	if len(kw.Sensitivities) != len(kw.Keywords) {
		errs = append(errs, fmt.Errorf("wakeword.sensitivities has %d entries; want one per keyword (%d)", len(kw.Sensitivities), len(kw.Keywords)))
	}
	for i, s := range kw.Sensitivities {
		if s < 0 || s > 1 {
			errs = append(errs, fmt.Errorf("wakeword.sensitivities[%d] %.2f is out of range [0, 1]", i, s))
		}
	}

	// Realtime
	rt := cfg.Realtime
	if u, err := url.Parse(rt.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("realtime.base_url: %w", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("realtime.base_url %q must use ws or wss", rt.BaseURL))
	}
	for i, m := range rt.Modalities {
		if !slices.Contains(ValidModalities, m) {
			errs = append(errs, fmt.Errorf("realtime.modalities[%d] %q is invalid; valid values: text, audio", i, m))
		}
	}
	if rt.DialTimeout < 0 {
		errs = append(errs, fmt.Errorf("realtime.dial_timeout %s must not be negative", rt.DialTimeout))
	}
	if rt.SendQueue < 0 {
		errs = append(errs, fmt.Errorf("realtime.send_queue %d must not be negative", rt.SendQueue))
	}
	if rt.APIBaseURL != "" && !rt.Preflight {
		slog.Warn("realtime.api_base_url is set but realtime.preflight is disabled; it will be ignored")
	}

	// Session
	if cfg.Session.SilenceTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.silence_timeout %s must not be negative", cfg.Session.SilenceTimeout))
	}
	if cfg.Session.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.shutdown_timeout %s must not be negative", cfg.Session.ShutdownTimeout))
	}

	// Breaker
	if cfg.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("breaker.max_failures %d must not be negative", cfg.Breaker.MaxFailures))
	}
	if cfg.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("breaker.reset_timeout %s must not be negative", cfg.Breaker.ResetTimeout))
	}

	// Events
	if cfg.Events.NATSURL != "" {
		if _, err := url.Parse(cfg.Events.NATSURL); err != nil {
			errs = append(errs, fmt.Errorf("events.nats_url: %w", err))
		}
	}

	// Tracing
	if !cfg.Tracing.Exporter.IsValid() {
		errs = append(errs, fmt.Errorf("tracing.exporter %q is invalid; valid values: none, stdout", cfg.Tracing.Exporter))
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio %.2f is out of range (0, 1]", cfg.Tracing.SampleRatio))
	}

	return errors.Join(errs...)
}
