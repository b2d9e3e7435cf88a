package config_test

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/murmur/internal/config"
)

func TestValidProviderNames(t *testing.T) {
	for _, kind := range []string{"llm", "stt"} {
		names, ok := config.ValidProviderNames[kind]
		if !ok || len(names) == 0 {
			t.Errorf("ValidProviderNames[%q] is empty", kind)
		}
	}
	if slices.Contains(config.ValidProviderNames["llm"], config.LocalEngine) {
		t.Error("local engine must not be listed as an llm provider")
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Chunking.Strategy != config.ChunkByDuration {
		t.Errorf("strategy = %q, want duration", cfg.Chunking.Strategy)
	}
	if cfg.Chunking.MaxDuration != config.DefaultMaxDuration {
		t.Errorf("max_duration = %s", cfg.Chunking.MaxDuration)
	}
	if cfg.Watch.MaxConcurrent != 0 {
		t.Errorf("watch defaults applied without an inbox: %+v", cfg.Watch)
	}
}

func TestValidate_SizeStrategy(t *testing.T) {
	cfg := config.Default()
	cfg.Chunking.Strategy = config.ChunkBySize
	cfg.Chunking.MaxBytes = 10 << 20
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadFromReader_ZeroValuesKept(t *testing.T) {
	tests := []struct {
		name        string
		doc         string
		wantOverlap time.Duration
		wantRatio   float64
	}{
		{"absent keys use defaults", "{}", config.DefaultOverlap, config.DefaultTraceSampleRatio},
		{"empty sections use defaults", "chunking:\ntelemetry:\n", config.DefaultOverlap, config.DefaultTraceSampleRatio},
		{"explicit zero", "chunking:\n  overlap: 0s\ntelemetry:\n  trace_sample_ratio: 0\n", 0, 0},
		{"explicit values", "chunking:\n  overlap: 4s\ntelemetry:\n  trace_sample_ratio: 0.25\n", 4 * time.Second, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.LoadFromReader(strings.NewReader(tt.doc))
			if err != nil {
				t.Fatalf("LoadFromReader: %v", err)
			}
			if cfg.Chunking.Overlap != tt.wantOverlap {
				t.Errorf("overlap = %s, want %s", cfg.Chunking.Overlap, tt.wantOverlap)
			}
			if cfg.Telemetry.TraceSampleRatio != tt.wantRatio {
				t.Errorf("trace_sample_ratio = %v, want %v", cfg.Telemetry.TraceSampleRatio, tt.wantRatio)
			}
		})
	}
}

func TestValidate_TraceSampleRatio(t *testing.T) {
	for _, r := range []float64{-0.5, 1.5} {
		cfg := config.Default()
		cfg.Telemetry.TraceSampleRatio = r
		if err := config.Validate(cfg); err == nil {
			t.Errorf("ratio %v: expected error", r)
		}
	}
}
