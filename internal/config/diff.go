package config

// ConfigDiff describes what changed between two configs.
// Only logging settings are applied while running; every other changed
// section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LogFormatChanged bool
	NewLogFormat     LogFormat

	// RestartRequired names the top-level sections ("providers", "audio",
	// "storage", "interview", "server.listen_addr") whose changes take effect
	// only for the next run.
	RestartRequired []string
}

// Changed reports whether d contains any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.LogFormatChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.LogFormat != new.Server.LogFormat {
		d.LogFormatChanged = true
		d.NewLogFormat = new.Server.LogFormat
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Providers != new.Providers {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Interview != new.Interview {
		d.RestartRequired = append(d.RestartRequired, "interview")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	return d
}
