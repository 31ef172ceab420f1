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
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the serve command's YAML configuration. Environment
// variables override the file for the values that differ per
// deployment: RECALL_PORT, OPENAI_API_KEY, WEAVIATE_SERVICE_URL.
type Config struct {
	Server struct {
		Port int `yaml:"port" validate:"min=1,max=65535"`
	} `yaml:"server"`

	Logging struct {
		Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
		Dir   string `yaml:"dir"`
		JSON  bool   `yaml:"json"`
		Quiet bool   `yaml:"quiet"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"tracing"`

	Sources struct {
		// Memory lists the names of in-process layers to create.
		Memory []string `yaml:"memory"`

		Episodic struct {
			Enabled bool   `yaml:"enabled"`
			Path    string `yaml:"path"`
		} `yaml:"episodic"`

		Weaviate struct {
			Enabled bool   `yaml:"enabled"`
			Host    string `yaml:"host"`
			Scheme  string `yaml:"scheme" validate:"omitempty,oneof=http https"`
			Class   string `yaml:"class"`
			Name    string `yaml:"name"`
		} `yaml:"weaviate"`
	} `yaml:"sources"`

	Synthesis struct {
		Enabled bool   `yaml:"enabled"`
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"synthesis"`

	Tuning struct {
		Strategy string `yaml:"strategy" validate:"omitempty,oneof=latency throughput cost balanced"`

		// MinSamples, AdjustInterval, and Significance override the
		// tuning-loop defaults. Zero keeps the built-in value.
		MinSamples     int     `yaml:"min_samples" validate:"min=0"`
		AdjustInterval int     `yaml:"adjust_interval" validate:"min=0"`
		Significance   float64 `yaml:"significance" validate:"min=0,max=1"`
	} `yaml:"tuning"`

	Profiler struct {
		// WindowHours is the metrics retention window. Zero keeps the
		// built-in default (24h).
		WindowHours int `yaml:"window_hours" validate:"min=0"`

		// MaxEntries is the metrics retention count cap. Zero keeps the
		// built-in default (10,000).
		MaxEntries int `yaml:"max_entries" validate:"min=0"`
	} `yaml:"profiler"`

	Cache struct {
		// TTLSeconds is the recall result cache lifetime. Zero keeps
		// the built-in default.
		TTLSeconds int `yaml:"ttl_seconds" validate:"min=0"`
	} `yaml:"cache"`

	Session struct {
		DefaultTask  string `yaml:"default_task"`
		DefaultPhase string `yaml:"default_phase"`
	} `yaml:"session"`
}

// DefaultConfig is the configuration used when no file is given: an
// in-memory stack on port 12230 with tracing off.
func DefaultConfig() Config {
	var cfg Config
	cfg.Server.Port = 12230
	cfg.Logging.Level = "info"
	cfg.Sources.Memory = []string{"general", "procedural", "graph"}
	cfg.Sources.Episodic.Enabled = true
	cfg.Sources.Episodic.Path = "~/.aleutian/recall/episodic"
	cfg.Sources.Weaviate.Scheme = "http"
	cfg.Sources.Weaviate.Class = "MemoryChunk"
	cfg.Sources.Weaviate.Name = "semantic"
	cfg.Tuning.Strategy = "balanced"
	return cfg
}

// LoadConfig reads the YAML file (when path is non-empty), layers env
// overrides on top, and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if port := os.Getenv("RECALL_PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil {
			cfg.Server.Port = p
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Synthesis.APIKey = key
	}
	if raw := os.Getenv("WEAVIATE_SERVICE_URL"); raw != "" {
		// Podman sometimes passes the value quoted; strip that first.
		raw = strings.Trim(raw, "\"' ")
		if scheme, host, ok := strings.Cut(raw, "://"); ok {
			cfg.Sources.Weaviate.Scheme = scheme
			cfg.Sources.Weaviate.Host = host
			cfg.Sources.Weaviate.Enabled = true
		}
	}
}
