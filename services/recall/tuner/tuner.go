// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tuner derives per-classification TuningConfigs from the
// profiler's observed latency and success statistics.
//
// The tuner is advisory, not safety-critical: recomputation is
// last-writer-wins, configs are replaced wholesale, and between
// recomputation boundaries the previously computed config stays active.
package tuner

import (
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianRecall/services/recall/datatypes"
)

// Latency tier boundaries and the concurrency range each maps to.
// A class whose p99 is fast can afford wide fan-out; a slow class gets
// a narrow one so it does not pile up goroutines waiting on sources.
const (
	fastP99Millis   = 100
	mediumP99Millis = 500
)

var tierRanges = map[string][2]int{
	"fast":   {10, 20},
	"medium": {5, 10},
	"slow":   {2, 5},
}

// Aggregator is the slice of the profiler the tuner reads. Satisfied by
// *profiler.Profiler.
type Aggregator interface {
	ClassAggregate(class string) datatypes.ClassAggregate
}

// Config controls the tuning algorithm. Zero fields take defaults from
// DefaultConfig; the weighting knobs are configuration on purpose
// rather than derived constants.
type Config struct {
	// Default is the baseline returned until a class has enough
	// samples.
	Default datatypes.TuningConfig

	// MinSamples is the minimum recorded call count per class before
	// any tuning happens. Default: 10.
	MinSamples int

	// AdjustInterval is how many recorded calls per class pass between
	// recomputations. Default: 100.
	AdjustInterval int

	// Significance is the relative change required before a freshly
	// computed config replaces the active one. Default: 0.10.
	Significance float64

	// SpeedupThreshold is the measured parallel speedup above which
	// the concurrency choice is biased to the top of its tier range.
	// Default: 2.0.
	SpeedupThreshold float64

	// TimeoutMultipliers maps strategy to the factor applied to p99
	// latency when deriving the timeout. Defaults: latency 1.2,
	// throughput 2.0, cost 1.4, balanced 1.6.
	TimeoutMultipliers map[datatypes.Strategy]float64

	// OnAdjust, when set, is invoked each time a freshly computed
	// config replaces a class's active one. Called with the tuner's
	// lock held; keep it fast. Optional.
	OnAdjust func(class string, strategy datatypes.Strategy)
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Default:          datatypes.DefaultTuningConfig(),
		MinSamples:       10,
		AdjustInterval:   100,
		Significance:     0.10,
		SpeedupThreshold: 2.0,
		TimeoutMultipliers: map[datatypes.Strategy]float64{
			datatypes.StrategyLatency:    1.2,
			datatypes.StrategyThroughput: 2.0,
			datatypes.StrategyCost:       1.4,
			datatypes.StrategyBalanced:   1.6,
		},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Default == (datatypes.TuningConfig{}) {
		c.Default = def.Default
	}
	if c.MinSamples <= 0 {
		c.MinSamples = def.MinSamples
	}
	if c.AdjustInterval <= 0 {
		c.AdjustInterval = def.AdjustInterval
	}
	if c.Significance <= 0 {
		c.Significance = def.Significance
	}
	if c.SpeedupThreshold <= 0 {
		c.SpeedupThreshold = def.SpeedupThreshold
	}
	if c.TimeoutMultipliers == nil {
		c.TimeoutMultipliers = def.TimeoutMultipliers
	}
	return c
}

// classState tracks the active config for one classification and the
// call count at which it was last recomputed.
type classState struct {
	current        datatypes.TuningConfig
	tuned          bool
	recomputeCalls int
}

// AutoTuner is the closed-loop controller.
//
// # Thread Safety
//
// Safe for concurrent use; Recommend and SetStrategy take the tuner's
// lock, the profiler read happens outside any profiler lock held by
// writers.
type AutoTuner struct {
	mu       sync.Mutex
	cfg      Config
	profiler Aggregator
	strategy datatypes.Strategy
	classes  map[string]*classState
}

// New creates an AutoTuner reading from the given aggregator.
func New(profiler Aggregator, cfg Config) *AutoTuner {
	cfg = cfg.withDefaults()
	return &AutoTuner{
		cfg:      cfg,
		profiler: profiler,
		strategy: cfg.Default.Strategy,
		classes:  make(map[string]*classState),
	}
}

// Recommend returns the TuningConfig to apply to the next call of the
// given classification.
//
// # Description
//
// Implements the tuning loop: below MinSamples the baseline default is
// returned unchanged; otherwise the class's p99 latency picks a
// concurrency tier, measured parallel speedup biases the choice within
// the tier range, and the timeout is p99 times the strategy multiplier,
// clamped into the hard bounds. A fresh config only replaces the active
// one when it differs by more than the significance threshold, and
// recomputation happens at most once per AdjustInterval recorded calls;
// in between, the previously computed config is returned as-is.
func (t *AutoTuner) Recommend(class string) datatypes.TuningConfig {
	t.mu.Lock()
	defer t.mu.Unlock()

	agg := t.profiler.ClassAggregate(class)
	if agg.Calls < t.cfg.MinSamples {
		return t.cfg.Default
	}

	st, ok := t.classes[class]
	if !ok {
		st = &classState{}
		t.classes[class] = st
	}

	if st.tuned && agg.Calls-st.recomputeCalls < t.cfg.AdjustInterval {
		return st.current
	}

	candidate := t.compute(agg).Clamped()
	st.recomputeCalls = agg.Calls

	if st.tuned && !candidate.DiffersBy(st.current, t.cfg.Significance) {
		// Below the significance threshold: keep the active config to
		// avoid oscillation.
		return st.current
	}

	st.current = candidate
	st.tuned = true
	if t.cfg.OnAdjust != nil {
		t.cfg.OnAdjust(class, candidate.Strategy)
	}
	slog.Debug("tuning config replaced",
		slog.String("class", class),
		slog.Int("concurrency", candidate.Concurrency),
		slog.Duration("timeout", candidate.Timeout),
		slog.String("strategy", string(candidate.Strategy)),
	)
	return st.current
}

// compute derives a candidate config from a class aggregate. Caller
// holds the lock.
func (t *AutoTuner) compute(agg datatypes.ClassAggregate) datatypes.TuningConfig {
	p99ms := agg.P99Latency.Milliseconds()

	tier := "slow"
	switch {
	case p99ms < fastP99Millis:
		tier = "fast"
	case p99ms <= mediumP99Millis:
		tier = "medium"
	}
	r := tierRanges[tier]

	concurrency := r[0]
	if agg.ParallelSpeedup > t.cfg.SpeedupThreshold {
		concurrency = r[1]
	}

	multiplier, ok := t.cfg.TimeoutMultipliers[t.strategy]
	if !ok {
		multiplier = t.cfg.TimeoutMultipliers[datatypes.StrategyBalanced]
	}

	return datatypes.TuningConfig{
		Concurrency:     concurrency,
		Timeout:         time.Duration(float64(agg.P99Latency) * multiplier),
		Strategy:        t.strategy,
		SourceSelection: t.cfg.Default.SourceSelection,
	}
}

// Current returns the active config for a classification without
// triggering a recomputation. Classes never tuned return the default.
func (t *AutoTuner) Current(class string) datatypes.TuningConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.classes[class]; ok && st.tuned {
		return st.current
	}
	return t.cfg.Default
}

// SetStrategy switches the optimization objective. The change takes
// effect at each class's next recomputation boundary; in-flight calls
// and currently active configs are untouched.
func (t *AutoTuner) SetStrategy(s datatypes.Strategy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.strategy == s {
		return
	}
	t.strategy = s
	slog.Info("tuning strategy switched", slog.String("strategy", string(s)))
}

// Strategy returns the currently requested objective.
func (t *AutoTuner) Strategy() datatypes.Strategy {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.strategy
}
