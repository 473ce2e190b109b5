package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider and
// storage changes require a restart and are deliberately absent.
type ConfigDiff struct {
	// LogLevelChanged is true when server.log_level differs.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EngineChanged is true when any classification threshold or clustering
	// setting differs. The detection session applies these between frames.
	EngineChanged bool
	NewEngine     EngineConfig

	// LabelingChanged is true when the fuzzy-resolver thresholds differ.
	LabelingChanged bool
	NewLabeling     LabelingConfig
}

// Empty reports whether the diff contains no hot-reloadable changes.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.EngineChanged && !d.LabelingChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Engine != new.Engine {
		d.EngineChanged = true
		d.NewEngine = new.Engine
	}

	if old.Labeling != new.Labeling {
		d.LabelingChanged = true
		d.NewLabeling = new.Labeling
	}

	return d
}
