package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EnginesChanged is true if the engine list, an engine's settings or
	// the default engine changed. The engine set is rebuilt in place.
	EnginesChanged bool
	EngineChanges  []EngineDiff

	// RestartRequired names the sections whose changes only take effect
	// after a restart.
	RestartRequired []string
}

// EngineDiff describes what changed for a single engine between two configs.
type EngineDiff struct {
	Name     string
	Added    bool
	Removed  bool
	Modified bool
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.EnginesChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldEngines := make(map[string]*EngineEntry, len(old.Summarization.Engines))
	for i := range old.Summarization.Engines {
		oldEngines[old.Summarization.Engines[i].Name] = &old.Summarization.Engines[i]
	}
	newEngines := make(map[string]*EngineEntry, len(new.Summarization.Engines))
	for i := range new.Summarization.Engines {
		newEngines[new.Summarization.Engines[i].Name] = &new.Summarization.Engines[i]
	}

	// Walk in config order so the result is deterministic.
	for _, e := range old.Summarization.Engines {
		ne, ok := newEngines[e.Name]
		switch {
		case !ok:
			d.EngineChanges = append(d.EngineChanges, EngineDiff{Name: e.Name, Removed: true})
		case !reflect.DeepEqual(e, *ne):
			d.EngineChanges = append(d.EngineChanges, EngineDiff{Name: e.Name, Modified: true})
		}
	}
	for _, e := range new.Summarization.Engines {
		if _, ok := oldEngines[e.Name]; !ok {
			d.EngineChanges = append(d.EngineChanges, EngineDiff{Name: e.Name, Added: true})
		}
	}
	orderChanged := !slices.EqualFunc(old.Summarization.Engines, new.Summarization.Engines,
		func(a, b EngineEntry) bool { return a.Name == b.Name })
	d.EnginesChanged = len(d.EngineChanges) > 0 || orderChanged ||
		old.Summarization.Default != new.Summarization.Default

	restart := []struct {
		name     string
		old, new any
	}{
		{"server", stripLogLevel(old.Server), stripLogLevel(new.Server)},
		{"chunking", old.Chunking, new.Chunking},
		{"transcription", old.Transcription, new.Transcription},
		{"store", old.Store, new.Store},
		{"events", old.Events, new.Events},
		{"watch", old.Watch, new.Watch},
		{"telemetry", old.Telemetry, new.Telemetry},
		{"summarization.limits", limits(old.Summarization), limits(new.Summarization)},
	}
	for _, s := range restart {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}

func stripLogLevel(s ServerConfig) ServerConfig {
	s.LogLevel = ""
	return s
}

// limits returns the orchestration settings of s without the engine set.
func limits(s SummarizationConfig) SummarizationConfig {
	s.Engines = nil
	s.Default = ""
	return s
}
