package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/MrWong99/wakelink/internal/config"
)

func TestLoadCredentials(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name: "both set",
			env:  map[string]string{envOpenAIKey: "sk-test", envPorcupineKey: "pv-test"},
		},
		{
			name:    "openai missing",
			env:     map[string]string{envPorcupineKey: "pv-test"},
			wantErr: envOpenAIKey,
		},
		{
			name:    "both missing",
			env:     map[string]string{},
			wantErr: envOpenAIKey + ", " + envPorcupineKey,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, err := loadCredentials(func(k string) string { return tt.env[k] })
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("loadCredentials: %v", err)
				}
				if c.openAI != "sk-test" || c.porcupine != "pv-test" {
					t.Errorf("credentials = %+v", c)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Session.SilenceTimeout != config.DefaultSilenceTimeout {
		t.Errorf("silence timeout = %v", cfg.Session.SilenceTimeout)
	}
}

func TestNewLogger_Formats(t *testing.T) {
	t.Parallel()
	tests := []struct {
		format config.LogFormat
		want   string
	}{
		{config.LogFormatText, "msg=hello"},
		{config.LogFormatJSON, `"msg":"hello"`},
		{config.LogFormatConsole, "hello"},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			level := new(slog.LevelVar)
			l := newLogger(&buf, tt.format, level)

			l.Debug("hidden")
			l.Info("hello")
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output %q does not contain %q", buf.String(), tt.want)
			}
			if strings.Contains(buf.String(), "hidden") {
				t.Error("debug line written at info level")
			}

			level.Set(slog.LevelDebug)
			l.Debug("visible")
			if !strings.Contains(buf.String(), "visible") {
				t.Error("level var change not honoured")
			}
		})
	}
}

func TestPrintStartupSummary(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Server.ListenAddr = ":9090"

	var buf bytes.Buffer
	printStartupSummary(&buf, cfg)
	out := buf.String()
	for _, want := range []string{"computer", "16000 Hz / 512", "(default input)", "5s", "(disabled)", "none @ 1.00", ":9090"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
