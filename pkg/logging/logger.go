// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging configures structured logging for the recall service.
//
// The service packages log through the standard library slog package
// directly; this package builds the handler stack (stderr, optional
// JSON file) and installs it as the process-wide slog default, so one
// Setup call at startup routes every component's logs.
//
// # Usage
//
//	logger := logging.Setup(logging.Config{
//	    Level:   slog.LevelInfo,
//	    LogDir:  "~/.aleutian/recall/logs",
//	    Service: "recall",
//	})
//	defer logger.Close()
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Config controls the handler stack. The zero value logs Info and
// above to stderr as text.
type Config struct {
	// Level is the minimum level; records below it are discarded.
	Level slog.Level

	// LogDir, when set, adds a JSON file handler writing to
	// {Service}_{YYYY-MM-DD}.log inside the directory. A leading ~ is
	// expanded to the home directory. File logs are always JSON.
	LogDir string

	// Service is attached to every record as the "service" attribute
	// and names the log file. Default: "recall".
	Service string

	// JSON switches the stderr handler from text to JSON.
	JSON bool

	// Quiet drops the stderr handler entirely; useful for daemons
	// whose stderr is not collected. With no LogDir either, records
	// are discarded.
	Quiet bool
}

// Logger owns the handler stack built by Setup, chiefly so the log
// file can be flushed and closed on shutdown.
type Logger struct {
	slog *slog.Logger
	file *os.File
}

// Setup builds the handler stack, installs it as the slog default, and
// returns the owner for cleanup.
//
// File handler setup failures degrade to stderr-only logging rather
// than failing startup; the failure itself is logged.
func Setup(cfg Config) *Logger {
	if cfg.Service == "" {
		cfg.Service = "recall"
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handlers []slog.Handler
	if !cfg.Quiet {
		if cfg.JSON {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}

	logger := &Logger{}
	var fileErr error
	if cfg.LogDir != "" {
		file, err := openLogFile(cfg.LogDir, cfg.Service)
		if err != nil {
			fileErr = err
		} else {
			logger.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = discardHandler{}
	case 1:
		handler = handlers[0]
	default:
		handler = &teeHandler{handlers: handlers}
	}
	handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})

	logger.slog = slog.New(handler)
	slog.SetDefault(logger.slog)

	if fileErr != nil {
		logger.slog.Warn("file logging disabled", "error", fileErr.Error())
	}
	return logger
}

// Slog returns the configured logger for callers that want to pass it
// explicitly instead of using the slog default.
func (l *Logger) Slog() *slog.Logger { return l.slog }

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync log file: %w", err)
	}
	return l.file.Close()
}

// openLogFile creates the log directory and opens today's file in
// append mode.
func openLogFile(dir, service string) (*os.File, error) {
	dir = expandHome(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// teeHandler fans each record out to every handler; stderr and file
// can then disagree on format.
type teeHandler struct {
	handlers []slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		out[i] = handler.WithAttrs(attrs)
	}
	return &teeHandler{handlers: out}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		out[i] = handler.WithGroup(name)
	}
	return &teeHandler{handlers: out}
}

// discardHandler drops everything; used when both stderr and file
// output are disabled.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
