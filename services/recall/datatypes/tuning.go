// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the shared value types for the recall
// scheduler: requests, cascade results, recorded metrics, and tuning
// parameters.
//
// All types in this package are plain data. They carry no goroutines,
// no locks, and no references back into the services that produce them,
// so values can be copied freely across package boundaries.
package datatypes

import "time"

// =============================================================================
// Strategy
// =============================================================================

// Strategy is the optimization objective the auto-tuner derives
// concurrency and timeout values for.
type Strategy string

const (
	// StrategyLatency favors fast responses: tight timeouts, aggressive
	// concurrency within the tier range.
	StrategyLatency Strategy = "latency"

	// StrategyThroughput favors completing as many lookups as possible:
	// loose timeouts so slow sources still land.
	StrategyThroughput Strategy = "throughput"

	// StrategyCost favors fewer concurrent source connections.
	StrategyCost Strategy = "cost"

	// StrategyBalanced is the default compromise between the three.
	StrategyBalanced Strategy = "balanced"
)

// Valid reports whether s is one of the four known strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyLatency, StrategyThroughput, StrategyCost, StrategyBalanced:
		return true
	}
	return false
}

// =============================================================================
// TuningConfig
// =============================================================================

// Hard bounds for tuned parameters. The tuner clamps every emitted config
// into these ranges regardless of what the observed history suggests.
const (
	MinConcurrency = 2
	MaxConcurrency = 20

	MinTimeout = 5 * time.Second
	MaxTimeout = 30 * time.Second
)

// TuningConfig holds the parameters the orchestrator applies to one
// tier-1 fan-out: how many source lookups may run at once and how long
// the whole fan-out may take.
//
// # Invariants
//
//   - Concurrency is always within [MinConcurrency, MaxConcurrency].
//   - Timeout is always within [MinTimeout, MaxTimeout].
//
// # Thread Safety
//
// TuningConfig is a value type and is replaced wholesale on
// recomputation, never mutated in place. Holders of a copy never
// observe a torn config.
type TuningConfig struct {
	// Concurrency is the maximum number of source lookups permitted to
	// run simultaneously within one tier.
	Concurrency int `json:"concurrency"`

	// Timeout bounds the whole tier-1 fan-out.
	Timeout time.Duration `json:"timeout"`

	// Strategy is the objective this config was derived for.
	Strategy Strategy `json:"strategy"`

	// SourceSelection enables classification-driven source selection.
	// When false the orchestrator queries every registered source.
	SourceSelection bool `json:"source_selection"`
}

// DefaultTuningConfig returns the baseline config used before any
// classification has accumulated enough samples to tune from.
func DefaultTuningConfig() TuningConfig {
	return TuningConfig{
		Concurrency:     5,
		Timeout:         10 * time.Second,
		Strategy:        StrategyBalanced,
		SourceSelection: true,
	}
}

// Clamped returns a copy of c with Concurrency and Timeout forced into
// their hard bounds.
func (c TuningConfig) Clamped() TuningConfig {
	if c.Concurrency < MinConcurrency {
		c.Concurrency = MinConcurrency
	}
	if c.Concurrency > MaxConcurrency {
		c.Concurrency = MaxConcurrency
	}
	if c.Timeout < MinTimeout {
		c.Timeout = MinTimeout
	}
	if c.Timeout > MaxTimeout {
		c.Timeout = MaxTimeout
	}
	return c
}

// DiffersBy reports whether c differs from prev by more than frac
// (relative) on either concurrency or timeout, or by strategy at all.
// The tuner uses this as its significance gate so that near-identical
// recomputations do not churn the active config.
func (c TuningConfig) DiffersBy(prev TuningConfig, frac float64) bool {
	if c.Strategy != prev.Strategy {
		return true
	}
	if relativeDelta(float64(c.Concurrency), float64(prev.Concurrency)) > frac {
		return true
	}
	if relativeDelta(float64(c.Timeout), float64(prev.Timeout)) > frac {
		return true
	}
	return false
}

func relativeDelta(a, b float64) float64 {
	if b == 0 {
		if a == 0 {
			return 0
		}
		return 1
	}
	d := a - b
	if d < 0 {
		d = -d
	}
	return d / b
}
