// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupWritesJSONFile(t *testing.T) {
	dir := t.TempDir()

	logger := Setup(Config{
		Level:   slog.LevelDebug,
		LogDir:  dir,
		Service: "recall-test",
		Quiet:   true,
	})

	logger.Slog().Info("tier settled", "tier", "tier1")
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read log dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("log files = %d, want 1", len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), "recall-test_") {
		t.Errorf("log file name = %q, want recall-test_ prefix", entries[0].Name())
	}

	raw, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	content := string(raw)
	if !strings.Contains(content, `"msg":"tier settled"`) {
		t.Errorf("log file missing record, got %q", content)
	}
	if !strings.Contains(content, `"service":"recall-test"`) {
		t.Errorf("log file missing service attribute, got %q", content)
	}
}

func TestSetupLevelFilter(t *testing.T) {
	dir := t.TempDir()

	logger := Setup(Config{
		Level:   slog.LevelWarn,
		LogDir:  dir,
		Service: "recall-test",
		Quiet:   true,
	})

	logger.Slog().Info("filtered out")
	logger.Slog().Warn("kept")
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("read log dir: %v, entries %d", err, len(entries))
	}
	raw, _ := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if strings.Contains(string(raw), "filtered out") {
		t.Error("info record survived a warn-level filter")
	}
	if !strings.Contains(string(raw), "kept") {
		t.Error("warn record missing")
	}
}

func TestSetupQuietWithoutFileDiscards(t *testing.T) {
	logger := Setup(Config{Quiet: true})
	// Must not panic and must be closeable without a file.
	logger.Slog().Info("goes nowhere")
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestSetupInstallsDefault(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	logger := Setup(Config{Quiet: true})
	defer logger.Close()

	if slog.Default() != logger.Slog() {
		t.Error("Setup did not install the slog default")
	}
}
