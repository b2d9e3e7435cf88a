package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/murmur/internal/config"
)

func baseConfig() *config.Config {
	cfg := config.Default()
	cfg.Summarization.Engines = []config.EngineEntry{
		{ProviderEntry: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"}},
		{ProviderEntry: config.ProviderEntry{Name: "ollama", Model: "llama3"}},
	}
	cfg.Summarization.Default = "openai"
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level change not detected: %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level alone must not require restart, got %v", d.RestartRequired)
	}
}

func TestDiff_Engines(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   []config.EngineDiff
	}{
		{
			name:   "model changed",
			mutate: func(c *config.Config) { c.Summarization.Engines[0].Model = "gpt-4o" },
			want:   []config.EngineDiff{{Name: "openai", Modified: true}},
		},
		{
			name: "engine added",
			mutate: func(c *config.Config) {
				c.Summarization.Engines = append(c.Summarization.Engines, config.EngineEntry{ProviderEntry: config.ProviderEntry{Name: "gemini"}})
			},
			want: []config.EngineDiff{{Name: "gemini", Added: true}},
		},
		{
			name:   "engine removed",
			mutate: func(c *config.Config) { c.Summarization.Engines = c.Summarization.Engines[:1] },
			want:   []config.EngineDiff{{Name: "ollama", Removed: true}},
		},
		{
			name:   "reordered",
			mutate: func(c *config.Config) { slices.Reverse(c.Summarization.Engines) },
			want:   nil,
		},
		{
			name:   "default switched",
			mutate: func(c *config.Config) { c.Summarization.Default = "ollama" },
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old, new := baseConfig(), baseConfig()
			tt.mutate(new)
			d := config.Diff(old, new)
			if !d.EnginesChanged {
				t.Fatal("EnginesChanged = false, want true")
			}
			if !slices.Equal(d.EngineChanges, tt.want) {
				t.Errorf("EngineChanges = %+v, want %+v", d.EngineChanges, tt.want)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	new.Chunking.MaxDuration *= 2
	new.Store.Driver = config.StoreFile
	new.Summarization.RetryDelay *= 2

	d := config.Diff(old, new)
	want := []string{"chunking", "store", "summarization.limits"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.EnginesChanged {
		t.Error("EnginesChanged = true for limits-only change")
	}
}
