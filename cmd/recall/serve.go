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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/AleutianAI/AleutianRecall/pkg/logging"
	"github.com/AleutianAI/AleutianRecall/services/recall"
	"github.com/AleutianAI/AleutianRecall/services/recall/datatypes"
	"github.com/AleutianAI/AleutianRecall/services/recall/observability"
	"github.com/AleutianAI/AleutianRecall/services/recall/profiler"
	"github.com/AleutianAI/AleutianRecall/services/recall/routes"
	"github.com/AleutianAI/AleutianRecall/services/recall/session"
	"github.com/AleutianAI/AleutianRecall/services/recall/sources"
	"github.com/AleutianAI/AleutianRecall/services/recall/synthesis"
	"github.com/AleutianAI/AleutianRecall/services/recall/tuner"
)

const shutdownGrace = 10 * time.Second

// initTracer installs a stdout span exporter. The service runs
// standalone, so spans go to the log stream rather than a collector;
// swap the exporter when a collector is deployed.
func initTracer() (func(context.Context), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceNameKey.String("recall-service")))
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Error("failed to shut down trace provider", "error", err)
		}
	}, nil
}

// buildSources assembles the recall layers from config.
func buildSources(cfg Config) ([]sources.Source, []func() error, error) {
	var (
		srcs    []sources.Source
		closers []func() error
	)

	for _, name := range cfg.Sources.Memory {
		srcs = append(srcs, sources.NewMemorySource(name))
	}

	if cfg.Sources.Episodic.Enabled {
		episodic, err := sources.NewBadgerSource("episodic", sources.BadgerConfig{
			Path: expandHome(cfg.Sources.Episodic.Path),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("episodic source: %w", err)
		}
		srcs = append(srcs, episodic)
		closers = append(closers, episodic.Close)
	}

	if cfg.Sources.Weaviate.Enabled {
		client, err := weaviate.NewClient(weaviate.Config{
			Host:   cfg.Sources.Weaviate.Host,
			Scheme: cfg.Sources.Weaviate.Scheme,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("weaviate client: %w", err)
		}
		srcs = append(srcs, sources.NewWeaviateSource(
			cfg.Sources.Weaviate.Name, client, cfg.Sources.Weaviate.Class))
	}

	return srcs, closers, nil
}

func expandHome(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// runServe wires the whole service and blocks until SIGINT/SIGTERM.
func runServe(cfg Config) error {
	logger := logging.Setup(logging.Config{
		Level:   slogLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "recall",
		JSON:    cfg.Logging.JSON,
		Quiet:   cfg.Logging.Quiet,
	})
	defer logger.Close()

	if cfg.Tracing.Enabled {
		cleanup, err := initTracer()
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer cleanup(context.Background())
	}

	srcs, closers, err := buildSources(cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				slog.Error("source close failed", "error", err)
			}
		}
	}()

	var synthesizer synthesis.Synthesizer
	if cfg.Synthesis.Enabled && cfg.Synthesis.APIKey != "" {
		synthesizer, err = synthesis.NewOpenAISynthesizer(synthesis.OpenAIConfig{
			APIKey:  cfg.Synthesis.APIKey,
			BaseURL: cfg.Synthesis.BaseURL,
			Model:   cfg.Synthesis.Model,
		})
		if err != nil {
			return fmt.Errorf("synthesizer: %w", err)
		}
	} else {
		slog.Info("synthesis disabled, tier 3 will report degraded")
	}

	provider := session.NewStaticProvider(session.Context{
		Task:  cfg.Session.DefaultTask,
		Phase: cfg.Session.DefaultPhase,
	})

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	prof := profiler.New(profiler.Config{
		Window:     time.Duration(cfg.Profiler.WindowHours) * time.Hour,
		MaxEntries: cfg.Profiler.MaxEntries,
	})
	tunerCfg := tuner.DefaultConfig()
	tunerCfg.MinSamples = cfg.Tuning.MinSamples
	tunerCfg.AdjustInterval = cfg.Tuning.AdjustInterval
	tunerCfg.Significance = cfg.Tuning.Significance
	tunerCfg.OnAdjust = func(class string, strategy datatypes.Strategy) {
		metrics.RecordTuningAdjustment(class, string(strategy))
	}

	orch, err := recall.New(recall.Options{
		Sources:     srcs,
		Profiler:    prof,
		Tuner:       tuner.New(prof, tunerCfg),
		Session:     provider,
		Synthesizer: synthesizer,
		Metrics:     metrics,
		CacheTTL:    time.Duration(cfg.Cache.TTLSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	if cfg.Tuning.Strategy != "" {
		if err := orch.SetStrategy(datatypes.Strategy(cfg.Tuning.Strategy)); err != nil {
			return fmt.Errorf("tuning strategy: %w", err)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("recall-service"))
	routes.SetupRoutes(router, orch, registry)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("recall service listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
