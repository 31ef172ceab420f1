// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// =============================================================================
// Recorded metrics (one per completed recall)
// =============================================================================

// RequestMetrics is the record the orchestrator appends to the profiler
// once a recall call has settled. It is immutable after Record; the
// profiler copies nothing back out to the caller.
//
// SourceLatency only contains sources that responded. A source that was
// selected but timed out or errored appears in SourceFailures instead;
// a source that was never selected appears in neither.
type RequestMetrics struct {
	// RequestID identifies the call (uuid assigned by the orchestrator).
	RequestID string `json:"request_id"`

	// Class is the query classification tag ("episodic", "procedural",
	// "graph", "general").
	Class string `json:"class"`

	// TotalLatency is the wall-clock duration of the whole call.
	TotalLatency time.Duration `json:"total_latency"`

	// SourceLatency maps source name to its observed lookup duration.
	SourceLatency map[string]time.Duration `json:"source_latency"`

	// SourceFailures lists sources that were queried but timed out or
	// errored.
	SourceFailures []string `json:"source_failures,omitempty"`

	// Success is true when every queried source responded.
	Success bool `json:"success"`

	// Partial is true when at least one source responded and at least
	// one failed.
	Partial bool `json:"partial"`

	// Concurrency is the cap that was actually applied to the fan-out.
	Concurrency int `json:"concurrency"`

	// ResultCount is the number of items returned to the caller.
	ResultCount int `json:"result_count"`

	// CacheHit is true when tier 1 was served from the recall cache
	// without contacting any source.
	CacheHit bool `json:"cache_hit"`

	// Confidence is an optional accuracy score in [0,1]. Negative means
	// not scored.
	Confidence float64 `json:"confidence"`

	// Timestamp is when the call completed. The profiler's retention
	// window and temporal buckets key off this.
	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// Derived aggregates (never stored, recomputed from the window)
// =============================================================================

// SourceAggregate summarizes the observed behavior of one source over
// the profiler's current window.
type SourceAggregate struct {
	Source        string        `json:"source"`
	Calls         int           `json:"calls"`
	AvgLatency    time.Duration `json:"avg_latency"`
	MedianLatency time.Duration `json:"median_latency"`
	P99Latency    time.Duration `json:"p99_latency"`
	ErrorRate     float64       `json:"error_rate"`
	CacheHitRate  float64       `json:"cache_hit_rate"`
}

// ClassAggregate summarizes one request classification over the
// profiler's current window. ParallelSpeedup is the ratio of the
// sequential estimate (sum of per-source latencies) to the observed
// parallel latency, averaged across calls; values near 1.0 mean
// parallelism is not paying off for this class.
type ClassAggregate struct {
	Class           string        `json:"class"`
	Calls           int           `json:"calls"`
	AvgLatency      time.Duration `json:"avg_latency"`
	P99Latency      time.Duration `json:"p99_latency"`
	ParallelSpeedup float64       `json:"parallel_speedup"`
	SuccessRate     float64       `json:"success_rate"`
}

// TemporalBucket is one hour-of-day latency bucket.
type TemporalBucket struct {
	Hour       int           `json:"hour"`
	Calls      int           `json:"calls"`
	AvgLatency time.Duration `json:"avg_latency"`
}

// SlowRequest identifies a request whose total latency exceeded the
// requested percentile of the window.
type SlowRequest struct {
	RequestID string        `json:"request_id"`
	Class     string        `json:"class"`
	Latency   time.Duration `json:"latency"`
	Timestamp time.Time     `json:"timestamp"`
}

// TrendingClass reports call-count growth for one classification
// between the first and second half of the lookback window.
type TrendingClass struct {
	Class  string  `json:"class"`
	Early  int     `json:"early"`
	Recent int     `json:"recent"`
	Growth float64 `json:"growth"`
}

// CacheEffectiveness breaks the cache hit rate down by source and by
// classification.
type CacheEffectiveness struct {
	Overall  float64            `json:"overall"`
	BySource map[string]float64 `json:"by_source"`
	ByClass  map[string]float64 `json:"by_class"`
}
