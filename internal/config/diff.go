package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes are reported individually; every other changed
// section is listed in RestartRequired.
type ConfigDiff struct {
	InstructionsChanged bool
	ModalitiesChanged   bool
	LogLevelChanged     bool
	NewLogLevel         LogLevel

	// RestartRequired names the sections whose changes only take effect
	// after a restart (e.g., "audio", "realtime.model").
	RestartRequired []string
}

// SessionChanged reports whether the announced session configuration changed.
func (d ConfigDiff) SessionChanged() bool {
	return d.InstructionsChanged || d.ModalitiesChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Realtime.Instructions != new.Realtime.Instructions {
		d.InstructionsChanged = true
	}
	if !slices.Equal(old.Realtime.Modalities, new.Realtime.Modalities) {
		d.ModalitiesChanged = true
	}

	restart := func(section string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, section)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.log_format", old.Server.LogFormat != new.Server.LogFormat)
	restart("audio", old.Audio != new.Audio)
	restart("wakeword", !wakeWordEqual(old.WakeWord, new.WakeWord))
	restart("realtime.base_url", old.Realtime.BaseURL != new.Realtime.BaseURL)
	restart("realtime.model", old.Realtime.Model != new.Realtime.Model)
	restart("realtime.dial_timeout", old.Realtime.DialTimeout != new.Realtime.DialTimeout)
	restart("realtime.send_queue", old.Realtime.SendQueue != new.Realtime.SendQueue)
	restart("session", old.Session != new.Session)
	restart("breaker", old.Breaker != new.Breaker)
	restart("events", old.Events != new.Events)
	restart("tracing", old.Tracing != new.Tracing)

	return d
}

func wakeWordEqual(a, b WakeWordConfig) bool {
	return a.ModelPath == b.ModelPath &&
		slices.Equal(a.Keywords, b.Keywords) &&
		slices.Equal(a.Sensitivities, b.Sensitivities)
}
