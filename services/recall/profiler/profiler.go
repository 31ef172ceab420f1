// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package profiler provides the windowed, append-only metrics store for
// the recall scheduler. One RequestMetrics entry is recorded per
// completed recall; aggregates are derived from the current window at
// query time and never stored.
//
// # Retention
//
// Entries are evicted when they age past the time window or when the
// count cap is reached, whichever happens first; oldest entries go
// first. The store is a fixed ring buffer so Record is O(1).
//
// # Thread Safety
//
// All methods are safe for concurrent use. Record takes a short write
// lock; queries take a read lock over a point-in-time snapshot, so a
// concurrent Record may or may not be reflected in a given query.
package profiler

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianRecall/services/recall/datatypes"
)

// Retention defaults, applied when Config leaves them zero.
const (
	DefaultWindow     = 24 * time.Hour
	DefaultMaxEntries = 10_000
)

// Config controls the profiler's retention policy.
type Config struct {
	// Window is the time-based retention bound. Default: 24h.
	Window time.Duration

	// MaxEntries is the count-based retention bound. Default: 10,000.
	MaxEntries int
}

// Profiler is the windowed metrics store.
type Profiler struct {
	mu      sync.RWMutex
	entries []datatypes.RequestMetrics // ring buffer
	head    int                        // index of oldest entry
	size    int
	window  time.Duration
	dropped atomic.Uint64

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Profiler with the given retention config.
func New(cfg Config) *Profiler {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	return &Profiler{
		entries: make([]datatypes.RequestMetrics, cfg.MaxEntries),
		window:  cfg.Window,
		now:     time.Now,
	}
}

// =============================================================================
// Recording
// =============================================================================

// Record appends one completed-request entry.
//
// # Description
//
// O(1): a ring-buffer write under a short lock. When the store is at
// capacity the oldest entry is overwritten and the dropped counter is
// incremented. Record never fails and never blocks on queries in
// progress longer than the lock handoff; it is safe on the caller's
// critical path.
func (p *Profiler) Record(m datatypes.RequestMetrics) {
	if m.Timestamp.IsZero() {
		m.Timestamp = p.now()
	}

	p.mu.Lock()
	if p.size == len(p.entries) {
		// Overwrite oldest.
		p.entries[p.head] = m
		p.head = (p.head + 1) % len(p.entries)
		p.dropped.Add(1)
	} else {
		p.entries[(p.head+p.size)%len(p.entries)] = m
		p.size++
	}
	p.mu.Unlock()
}

// Len returns the number of entries currently inside the window.
func (p *Profiler) Len() int {
	return len(p.snapshot())
}

// Dropped returns how many entries have been evicted by the count cap.
func (p *Profiler) Dropped() uint64 {
	return p.dropped.Load()
}

// Recent returns up to n of the in-window entries, newest first. The
// returned slice is a copy; callers may hold it freely.
func (p *Profiler) Recent(n int) []datatypes.RequestMetrics {
	if n <= 0 {
		return nil
	}
	snap := p.snapshot()
	if n > len(snap) {
		n = len(snap)
	}
	out := make([]datatypes.RequestMetrics, 0, n)
	for i := len(snap) - 1; i >= len(snap)-n; i-- {
		out = append(out, snap[i])
	}
	return out
}

// snapshot returns the in-window entries, oldest first.
func (p *Profiler) snapshot() []datatypes.RequestMetrics {
	cutoff := p.now().Add(-p.window)

	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]datatypes.RequestMetrics, 0, p.size)
	for i := 0; i < p.size; i++ {
		e := p.entries[(p.head+i)%len(p.entries)]
		if e.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// =============================================================================
// Aggregates
// =============================================================================

// SourceAggregate computes the per-source summary over the current
// window. A source with no observations returns a zero aggregate with
// Calls == 0.
func (p *Profiler) SourceAggregate(source string) datatypes.SourceAggregate {
	agg := datatypes.SourceAggregate{Source: source}

	var latencies []time.Duration
	var failures, cacheHits int
	for _, e := range p.snapshot() {
		if d, ok := e.SourceLatency[source]; ok {
			latencies = append(latencies, d)
			if e.CacheHit {
				cacheHits++
			}
			continue
		}
		for _, f := range e.SourceFailures {
			if f == source {
				failures++
				break
			}
		}
	}

	attempts := len(latencies) + failures
	agg.Calls = attempts
	if attempts == 0 {
		return agg
	}
	agg.ErrorRate = float64(failures) / float64(attempts)
	if len(latencies) > 0 {
		agg.AvgLatency = avgDuration(latencies)
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		agg.MedianLatency = percentileSorted(latencies, 50)
		agg.P99Latency = percentileSorted(latencies, 99)
		agg.CacheHitRate = float64(cacheHits) / float64(len(latencies))
	}
	return agg
}

// ClassAggregate computes the per-classification summary over the
// current window.
func (p *Profiler) ClassAggregate(class string) datatypes.ClassAggregate {
	agg := datatypes.ClassAggregate{Class: class}

	var latencies []time.Duration
	var successes int
	var speedupSum float64
	var speedupN int
	for _, e := range p.snapshot() {
		if e.Class != class {
			continue
		}
		latencies = append(latencies, e.TotalLatency)
		if e.Success {
			successes++
		}
		if e.TotalLatency > 0 && len(e.SourceLatency) > 0 {
			var sequential time.Duration
			for _, d := range e.SourceLatency {
				sequential += d
			}
			speedupSum += float64(sequential) / float64(e.TotalLatency)
			speedupN++
		}
	}

	agg.Calls = len(latencies)
	if agg.Calls == 0 {
		return agg
	}
	agg.AvgLatency = avgDuration(latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	agg.P99Latency = percentileSorted(latencies, 99)
	agg.SuccessRate = float64(successes) / float64(agg.Calls)
	if speedupN > 0 {
		agg.ParallelSpeedup = speedupSum / float64(speedupN)
	}
	return agg
}

// TemporalPattern buckets in-window latency by hour of day.
func (p *Profiler) TemporalPattern() []datatypes.TemporalBucket {
	var sums [24]time.Duration
	var counts [24]int
	for _, e := range p.snapshot() {
		h := e.Timestamp.Hour()
		sums[h] += e.TotalLatency
		counts[h]++
	}

	buckets := make([]datatypes.TemporalBucket, 24)
	for h := 0; h < 24; h++ {
		buckets[h] = datatypes.TemporalBucket{Hour: h, Calls: counts[h]}
		if counts[h] > 0 {
			buckets[h].AvgLatency = sums[h] / time.Duration(counts[h])
		}
	}
	return buckets
}

// SlowRequests returns up to limit requests whose total latency is at
// or above the given percentile of the window, slowest first.
func (p *Profiler) SlowRequests(percentile float64, limit int) []datatypes.SlowRequest {
	entries := p.snapshot()
	if len(entries) == 0 || limit <= 0 {
		return nil
	}

	latencies := make([]time.Duration, len(entries))
	for i, e := range entries {
		latencies[i] = e.TotalLatency
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	threshold := percentileSorted(latencies, percentile)

	var slow []datatypes.SlowRequest
	for _, e := range entries {
		if e.TotalLatency >= threshold {
			slow = append(slow, datatypes.SlowRequest{
				RequestID: e.RequestID,
				Class:     e.Class,
				Latency:   e.TotalLatency,
				Timestamp: e.Timestamp,
			})
		}
	}
	sort.Slice(slow, func(i, j int) bool { return slow[i].Latency > slow[j].Latency })
	if len(slow) > limit {
		slow = slow[:limit]
	}
	return slow
}

// TrendingRequests compares class call counts between the first and
// second half of the last `hours` hours and returns the classes with
// the largest growth, descending, up to limit.
func (p *Profiler) TrendingRequests(hours int, limit int) []datatypes.TrendingClass {
	if hours <= 0 || limit <= 0 {
		return nil
	}
	now := p.now()
	windowStart := now.Add(-time.Duration(hours) * time.Hour)
	midpoint := now.Add(-time.Duration(hours) * time.Hour / 2)

	early := make(map[string]int)
	recent := make(map[string]int)
	for _, e := range p.snapshot() {
		if e.Timestamp.Before(windowStart) {
			continue
		}
		if e.Timestamp.Before(midpoint) {
			early[e.Class]++
		} else {
			recent[e.Class]++
		}
	}

	seen := make(map[string]bool)
	var trending []datatypes.TrendingClass
	for class := range recent {
		seen[class] = true
	}
	for class := range early {
		seen[class] = true
	}
	for class := range seen {
		e, r := early[class], recent[class]
		growth := float64(r)
		if e > 0 {
			growth = float64(r-e) / float64(e)
		}
		trending = append(trending, datatypes.TrendingClass{Class: class, Early: e, Recent: r, Growth: growth})
	}
	sort.Slice(trending, func(i, j int) bool {
		if trending[i].Growth != trending[j].Growth {
			return trending[i].Growth > trending[j].Growth
		}
		return trending[i].Class < trending[j].Class
	})
	if len(trending) > limit {
		trending = trending[:limit]
	}
	return trending
}

// CacheEffectiveness returns the cache hit rate overall and broken down
// by source and classification.
func (p *Profiler) CacheEffectiveness() datatypes.CacheEffectiveness {
	eff := datatypes.CacheEffectiveness{
		BySource: make(map[string]float64),
		ByClass:  make(map[string]float64),
	}

	entries := p.snapshot()
	if len(entries) == 0 {
		return eff
	}

	var hits int
	classHits := make(map[string]int)
	classCalls := make(map[string]int)
	sourceHits := make(map[string]int)
	sourceCalls := make(map[string]int)
	for _, e := range entries {
		classCalls[e.Class]++
		if e.CacheHit {
			hits++
			classHits[e.Class]++
		}
		for source := range e.SourceLatency {
			sourceCalls[source]++
			if e.CacheHit {
				sourceHits[source]++
			}
		}
	}

	eff.Overall = float64(hits) / float64(len(entries))
	for class, calls := range classCalls {
		eff.ByClass[class] = float64(classHits[class]) / float64(calls)
	}
	for source, calls := range sourceCalls {
		eff.BySource[source] = float64(sourceHits[source]) / float64(calls)
	}
	return eff
}

// =============================================================================
// Report
// =============================================================================

// Report is the full observability snapshot: every aggregate the
// profiler can compute, taken over one consistent window snapshot.
type Report struct {
	Sources  map[string]datatypes.SourceAggregate `json:"sources"`
	Classes  map[string]datatypes.ClassAggregate  `json:"classes"`
	Temporal []datatypes.TemporalBucket           `json:"temporal"`
	Slow     []datatypes.SlowRequest              `json:"slow_requests"`
	Cache    datatypes.CacheEffectiveness         `json:"cache_effectiveness"`
	Entries  int                                  `json:"entries"`
	Dropped  uint64                               `json:"dropped"`
}

// GenerateReport assembles the full report. Calling it twice with no
// intervening Record returns identical aggregates.
func (p *Profiler) GenerateReport() *Report {
	report := &Report{
		Sources:  make(map[string]datatypes.SourceAggregate),
		Classes:  make(map[string]datatypes.ClassAggregate),
		Temporal: p.TemporalPattern(),
		Slow:     p.SlowRequests(95, 10),
		Cache:    p.CacheEffectiveness(),
		Entries:  p.Len(),
		Dropped:  p.Dropped(),
	}

	sources := make(map[string]bool)
	classes := make(map[string]bool)
	for _, e := range p.snapshot() {
		classes[e.Class] = true
		for s := range e.SourceLatency {
			sources[s] = true
		}
		for _, s := range e.SourceFailures {
			sources[s] = true
		}
	}
	for s := range sources {
		report.Sources[s] = p.SourceAggregate(s)
	}
	for c := range classes {
		report.Classes[c] = p.ClassAggregate(c)
	}
	return report
}

// =============================================================================
// Helpers
// =============================================================================

func avgDuration(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	return sum / time.Duration(len(ds))
}

// percentileSorted returns the pct-th percentile of an ascending-sorted
// slice using nearest-rank.
func percentileSorted(sorted []time.Duration, pct float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if pct <= 0 {
		return sorted[0]
	}
	if pct >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := int(pct/100*float64(len(sorted))+0.9999) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
