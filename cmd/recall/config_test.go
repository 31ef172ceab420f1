// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != 12230 {
		t.Errorf("port = %d, want 12230", cfg.Server.Port)
	}
	if len(cfg.Sources.Memory) != 3 {
		t.Errorf("memory sources = %d, want 3", len(cfg.Sources.Memory))
	}
	if cfg.Tuning.Strategy != "balanced" {
		t.Errorf("strategy = %q, want balanced", cfg.Tuning.Strategy)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
server:
  port: 9000
logging:
  level: debug
tuning:
  strategy: latency
sources:
  episodic:
    enabled: false
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Tuning.Strategy != "latency" {
		t.Errorf("strategy = %q, want latency", cfg.Tuning.Strategy)
	}
	if cfg.Sources.Episodic.Enabled {
		t.Error("episodic should be disabled")
	}
}

func TestLoadConfigTuningAndProfilerKnobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
tuning:
  strategy: cost
  min_samples: 25
  adjust_interval: 250
  significance: 0.2
profiler:
  window_hours: 48
  max_entries: 50000
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Tuning.MinSamples != 25 {
		t.Errorf("min_samples = %d, want 25", cfg.Tuning.MinSamples)
	}
	if cfg.Tuning.AdjustInterval != 250 {
		t.Errorf("adjust_interval = %d, want 250", cfg.Tuning.AdjustInterval)
	}
	if cfg.Tuning.Significance != 0.2 {
		t.Errorf("significance = %v, want 0.2", cfg.Tuning.Significance)
	}
	if cfg.Profiler.WindowHours != 48 {
		t.Errorf("window_hours = %d, want 48", cfg.Profiler.WindowHours)
	}
	if cfg.Profiler.MaxEntries != 50000 {
		t.Errorf("max_entries = %d, want 50000", cfg.Profiler.MaxEntries)
	}
}

func TestLoadConfigRejectsBadSignificance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("tuning:\n  significance: 1.5\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected validation error for significance above 1")
	}
}

func TestLoadConfigRejectsBadStrategy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("tuning:\n  strategy: fastest\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected validation error for unknown strategy")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RECALL_PORT", "7777")
	t.Setenv("WEAVIATE_SERVICE_URL", `"http://weaviate:8080"`)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("port = %d, want 7777", cfg.Server.Port)
	}
	if !cfg.Sources.Weaviate.Enabled {
		t.Error("weaviate should be enabled by env URL")
	}
	if cfg.Sources.Weaviate.Host != "weaviate:8080" {
		t.Errorf("weaviate host = %q", cfg.Sources.Weaviate.Host)
	}
	if cfg.Sources.Weaviate.Scheme != "http" {
		t.Errorf("weaviate scheme = %q", cfg.Sources.Weaviate.Scheme)
	}
}
