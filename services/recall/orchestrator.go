// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recall implements the cascading recall orchestrator: classify
// the query, apply the auto-tuned fan-out configuration, run tier 1
// across the selected sources in parallel, optionally enrich with
// session context at tier 2 and synthesize at tier 3, then record the
// call into the profiler so the next call tunes against it.
package recall

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianRecall/services/recall/datatypes"
	"github.com/AleutianAI/AleutianRecall/services/recall/executor"
	"github.com/AleutianAI/AleutianRecall/services/recall/observability"
	"github.com/AleutianAI/AleutianRecall/services/recall/profiler"
	"github.com/AleutianAI/AleutianRecall/services/recall/session"
	"github.com/AleutianAI/AleutianRecall/services/recall/sources"
	"github.com/AleutianAI/AleutianRecall/services/recall/synthesis"
	"github.com/AleutianAI/AleutianRecall/services/recall/tuner"
)

var tracer = otel.Tracer("aleutian.recall.orchestrator")

// Fan-out defaults. Tier 1 asks each source for a handful of items;
// tier 2 caps the merged cross-source list.
const (
	DefaultTier1Limit = 10
	DefaultTier2Limit = 20

	// DefaultSessionBoost is the score multiplier applied at tier 2 to
	// items overlapping the session's task or phase.
	DefaultSessionBoost = 1.25
)

// DefaultClassSources maps each query class to the sources worth
// querying for it. Classes absent from the map fan out to every
// registered source. The always-include set is unioned on top.
func DefaultClassSources() map[Class][]string {
	return map[Class][]string{
		ClassEpisodic:   {"episodic"},
		ClassProcedural: {"procedural"},
		ClassGraph:      {"graph"},
	}
}

// Options configures an Orchestrator. Sources is required; everything
// else has a usable default.
type Options struct {
	// Sources are the recall layers to fan out over. Names must be
	// unique.
	Sources []sources.Source

	// ClassSources overrides DefaultClassSources.
	ClassSources map[Class][]string

	// AlwaysInclude lists source names queried regardless of class.
	// Default: ["general"].
	AlwaysInclude []string

	// Executor defaults to executor.New().
	Executor *executor.Executor

	// Profiler defaults to profiler.New(profiler.Config{}).
	Profiler *profiler.Profiler

	// Tuner defaults to tuner.New(profiler, tuner.DefaultConfig()).
	Tuner *tuner.AutoTuner

	// Session supplies ambient context for tier 2. Defaults to a static
	// provider with an empty fallback.
	Session session.ContextProvider

	// Synthesizer powers tier 3. Nil is supported: tier 3 reports
	// degraded instead of failing.
	Synthesizer synthesis.Synthesizer

	// Metrics is optional; nil disables Prometheus instrumentation.
	Metrics *observability.RecallMetrics

	// CacheTTL for the recall result cache. Default: DefaultCacheTTL.
	CacheTTL time.Duration

	// Tier1Limit and Tier2Limit bound per-source and merged result
	// counts.
	Tier1Limit int
	Tier2Limit int

	// SessionBoost is the tier-2 score multiplier for session-relevant
	// items. Default: DefaultSessionBoost.
	SessionBoost float64
}

// Orchestrator coordinates the recall cascade.
//
// # Thread Safety
//
// Safe for concurrent use. Per-call state lives on the stack; shared
// state (profiler, tuner, cache) is internally synchronized.
type Orchestrator struct {
	sources       map[string]sources.Source
	order         []string
	classSources  map[Class][]string
	alwaysInclude []string

	executor    *executor.Executor
	profiler    *profiler.Profiler
	tuner       *tuner.AutoTuner
	session     session.ContextProvider
	synthesizer synthesis.Synthesizer
	metrics     *observability.RecallMetrics
	cache       *resultCache

	tier1Limit   int
	tier2Limit   int
	sessionBoost float64

	// droppedSeen mirrors the profiler's eviction count into the
	// Prometheus counter, which only supports increments.
	droppedSeen atomic.Uint64
}

// New creates an Orchestrator from opts.
//
// # Example
//
//	orch, err := recall.New(recall.Options{
//	    Sources: []sources.Source{general, episodic},
//	})
func New(opts Options) (*Orchestrator, error) {
	if len(opts.Sources) == 0 {
		return nil, ErrNoSources
	}

	byName := make(map[string]sources.Source, len(opts.Sources))
	order := make([]string, 0, len(opts.Sources))
	for _, s := range opts.Sources {
		byName[s.Name()] = s
		order = append(order, s.Name())
	}

	if opts.ClassSources == nil {
		opts.ClassSources = DefaultClassSources()
	}
	if opts.AlwaysInclude == nil {
		opts.AlwaysInclude = []string{"general"}
	}
	if opts.Executor == nil {
		opts.Executor = executor.New()
	}
	if opts.Profiler == nil {
		opts.Profiler = profiler.New(profiler.Config{})
	}
	if opts.Tuner == nil {
		tunerCfg := tuner.DefaultConfig()
		if opts.Metrics != nil {
			metrics := opts.Metrics
			tunerCfg.OnAdjust = func(class string, strategy datatypes.Strategy) {
				metrics.RecordTuningAdjustment(class, string(strategy))
			}
		}
		opts.Tuner = tuner.New(opts.Profiler, tunerCfg)
	}
	if opts.Session == nil {
		opts.Session = session.NewStaticProvider(session.Context{})
	}
	if opts.Tier1Limit <= 0 {
		opts.Tier1Limit = DefaultTier1Limit
	}
	if opts.Tier2Limit <= 0 {
		opts.Tier2Limit = DefaultTier2Limit
	}
	if opts.SessionBoost <= 0 {
		opts.SessionBoost = DefaultSessionBoost
	}

	return &Orchestrator{
		sources:       byName,
		order:         order,
		classSources:  opts.ClassSources,
		alwaysInclude: opts.AlwaysInclude,
		executor:      opts.Executor,
		profiler:      opts.Profiler,
		tuner:         opts.Tuner,
		session:       opts.Session,
		synthesizer:   opts.Synthesizer,
		metrics:       opts.Metrics,
		cache:         newResultCache(opts.CacheTTL),
		tier1Limit:    opts.Tier1Limit,
		tier2Limit:    opts.Tier2Limit,
		sessionBoost:  opts.SessionBoost,
	}, nil
}

// Recall runs the cascade for one request.
//
// # Description
//
// The call proceeds through classification, tuning lookup, the tier-1
// parallel fan-out, and then as many optional tiers as CascadeDepth
// allows. A partially failed tier 1 yields status "partial" with the
// surviving results; only a fully failed tier 1 is an error. Tier 3
// never fails the call: without a synthesizer, or on synthesis error,
// the result carries a degraded tier-3 marker.
//
// Every executed call (including cache hits) is recorded into the
// profiler; validation failures are not.
//
// # Inputs
//
//   - ctx: caller context; cancellation propagates into the fan-out.
//   - req: the recall request. Query must be non-empty and
//     CascadeDepth within [1,3].
//
// # Outputs
//
//   - *datatypes.CascadeResult: always non-nil except on validation
//     failure.
//   - error: ErrEmptyQuery, ErrInvalidCascadeDepth, or
//     ErrAllSourcesFailed.
func (o *Orchestrator) Recall(ctx context.Context, req datatypes.RecallRequest) (*datatypes.CascadeResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	if err := req.Validate(); err != nil {
		// Query is non-empty past the TrimSpace gate, so the only tag
		// left to fail is the cascade depth bound.
		return nil, ErrInvalidCascadeDepth
	}

	ctx, span := tracer.Start(ctx, "orchestrator.Recall")
	defer span.End()

	if o.metrics != nil {
		o.metrics.RecallStarted()
		defer o.metrics.RecallEnded()
	}

	start := time.Now()
	requestID := uuid.NewString()

	span.AddEvent("classifying")
	class := ClassifyQuery(req.Query)
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.String("class", string(class)),
		attribute.Int("cascade_depth", req.CascadeDepth),
	)

	key := cacheKey(req.Query, req.CascadeDepth, req.SessionID, req.ContextOverrides)
	if cached, ok := o.cache.get(key); ok {
		cached.RequestID = requestID

		// Scoring and explanation follow this request's flags, not the
		// flags of whichever call populated the entry.
		cached.Scores = nil
		cached.Explanation = nil
		if req.WantScores {
			cached.Scores = scoreItems(&cached)
		}
		if req.WantExplanation {
			cached.Explanation = explainItems(&cached)
		}

		cached.Elapsed = time.Since(start)
		o.record(datatypes.RequestMetrics{
			RequestID:    requestID,
			Class:        string(class),
			TotalLatency: cached.Elapsed,
			Success:      cached.Status == datatypes.StatusSuccess,
			Partial:      cached.Status == datatypes.StatusPartial,
			ResultCount:  countItems(&cached),
			CacheHit:     true,
			Confidence:   -1,
			Timestamp:    time.Now(),
		})
		if o.metrics != nil {
			o.metrics.RecordRecall(string(class), cached.Status)
		}
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return &cached, nil
	}

	tuning := o.tuner.Recommend(string(class))

	selected := o.selectSources(class, tuning)
	span.SetAttributes(attribute.StringSlice("sources", selected))

	// The tuned cap bounds the fan-out, but a fan-out never occupies
	// more slots than it has sources; record what actually ran.
	concurrency := min(tuning.Concurrency, len(selected))

	result := &datatypes.CascadeResult{
		RequestID: requestID,
		Class:     string(class),
		Tier1:     make(map[string][]datatypes.ResultItem, len(selected)),
	}

	span.AddEvent("tier1")
	tier1Start := time.Now()
	sourceLatency, sourceFailures := o.runTier1(ctx, req.Query, selected, tuning, result)
	o.observeTier(observability.TierOne, time.Since(tier1Start))

	responded := len(selected) - len(result.DroppedSources)
	switch {
	case responded == 0:
		result.Status = datatypes.StatusError
	case len(result.DroppedSources) > 0:
		result.Status = datatypes.StatusPartial
	default:
		result.Status = datatypes.StatusSuccess
	}

	if result.Status == datatypes.StatusError {
		result.Elapsed = time.Since(start)
		o.finish(result, class, concurrency, sourceLatency, sourceFailures, start)
		return result, ErrAllSourcesFailed
	}

	if req.CascadeDepth >= 2 {
		span.AddEvent("tier2")
		tier2Start := time.Now()
		o.runTier2(ctx, req, tuning, selected, result)
		o.observeTier(observability.TierTwo, time.Since(tier2Start))
	}

	if req.CascadeDepth >= 3 {
		span.AddEvent("tier3")
		tier3Start := time.Now()
		o.runTier3(ctx, req.Query, result)
		o.observeTier(observability.TierThree, time.Since(tier3Start))
	}

	span.AddEvent("scoring")
	if req.WantScores {
		result.Scores = scoreItems(result)
	}
	if req.WantExplanation {
		result.Explanation = explainItems(result)
	}

	result.Elapsed = time.Since(start)
	o.cache.put(key, *result)
	o.finish(result, class, concurrency, sourceLatency, sourceFailures, start)

	slog.Info("recall settled",
		slog.String("request_id", requestID),
		slog.String("class", string(class)),
		slog.String("status", result.Status),
		slog.Int("sources", len(selected)),
		slog.Int("dropped", len(result.DroppedSources)),
		slog.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

// selectSources resolves which sources tier 1 fans out over: the
// class's mapped sources plus the always-include set, filtered to what
// is actually registered. Classes without a mapping, or tuning with
// source selection disabled, fan out to everything.
func (o *Orchestrator) selectSources(class Class, tuning datatypes.TuningConfig) []string {
	mapped, hasMapping := o.classSources[class]
	if !tuning.SourceSelection || !hasMapping {
		out := make([]string, len(o.order))
		copy(out, o.order)
		return out
	}

	seen := make(map[string]bool, len(mapped)+len(o.alwaysInclude))
	var out []string
	for _, name := range mapped {
		if _, ok := o.sources[name]; ok && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, name := range o.alwaysInclude {
		if _, ok := o.sources[name]; ok && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// runTier1 fans the query out over the selected sources and fills in
// result.Tier1 and result.DroppedSources. Returns observed per-source
// latencies and the failed source names for the metrics record.
func (o *Orchestrator) runTier1(
	ctx context.Context,
	query string,
	selected []string,
	tuning datatypes.TuningConfig,
	result *datatypes.CascadeResult,
) (map[string]time.Duration, []string) {
	ops := make([]executor.Operation, 0, len(selected))
	for _, name := range selected {
		src := o.sources[name]
		ops = append(ops, executor.Operation{
			Name: name,
			Fn: func(ctx context.Context) (any, error) {
				return src.Query(ctx, query, o.tier1Limit)
			},
		})
	}

	outcomes := o.executor.Run(ctx, ops, tuning.Concurrency, tuning.Timeout)

	latency := make(map[string]time.Duration, len(outcomes))
	var failures []string
	for name, outcome := range outcomes {
		switch outcome.Status {
		case executor.StatusOK:
			items, _ := outcome.Value.([]datatypes.ResultItem)
			result.Tier1[name] = items
			latency[name] = outcome.Elapsed
		case executor.StatusTimeout:
			result.DroppedSources = append(result.DroppedSources, name)
			failures = append(failures, name)
			if o.metrics != nil {
				o.metrics.RecordSourceFailure(name, "timeout")
			}
		case executor.StatusError:
			result.DroppedSources = append(result.DroppedSources, name)
			failures = append(failures, name)
			if o.metrics != nil {
				o.metrics.RecordSourceFailure(name, "error")
			}
			slog.Warn("source failed",
				slog.String("source", name),
				slog.String("error", outcome.Err.Error()),
			)
		}
	}
	sort.Strings(result.DroppedSources)
	return latency, failures
}

// runTier2 broadens the search to the sources tier 1 skipped, merges
// everything, and re-ranks against the session context, boosting items
// that overlap the active task or phase. The broad query is
// best-effort: sources failing here never affect the call's status.
func (o *Orchestrator) runTier2(ctx context.Context, req datatypes.RecallRequest, tuning datatypes.TuningConfig, selected []string, result *datatypes.CascadeResult) {
	sessCtx, err := o.session.Current(ctx, req.SessionID)
	if err != nil {
		slog.Warn("session context lookup failed, ranking without it",
			slog.String("session_id", req.SessionID),
			slog.String("error", err.Error()),
		)
		sessCtx = session.Context{}
	}
	if task, ok := req.ContextOverrides["task"]; ok {
		sessCtx.Task = task
	}
	if phase, ok := req.ContextOverrides["phase"]; ok {
		sessCtx.Phase = phase
	}

	merged := make([]datatypes.ResultItem, 0, o.tier2Limit)
	for _, name := range o.order {
		merged = append(merged, result.Tier1[name]...)
	}
	merged = append(merged, o.broadQuery(ctx, req.Query, selected, tuning)...)

	sessionTerms := splitWords(sessCtx.Task + " " + sessCtx.Phase)
	for i := range merged {
		if itemMatchesSession(merged[i], sessionTerms) {
			merged[i].Score *= o.sessionBoost
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > o.tier2Limit {
		merged = merged[:o.tier2Limit]
	}

	result.Tier2 = &datatypes.Tier2Result{
		Items:        merged,
		SessionTask:  sessCtx.Task,
		SessionPhase: sessCtx.Phase,
	}
}

// broadQuery fans the query out over the sources tier 1 skipped.
// Failures are logged and dropped; enrichment never degrades the call.
func (o *Orchestrator) broadQuery(ctx context.Context, query string, selected []string, tuning datatypes.TuningConfig) []datatypes.ResultItem {
	skip := make(map[string]bool, len(selected))
	for _, name := range selected {
		skip[name] = true
	}

	var ops []executor.Operation
	for _, name := range o.order {
		if skip[name] {
			continue
		}
		src := o.sources[name]
		ops = append(ops, executor.Operation{
			Name: name,
			Fn: func(ctx context.Context) (any, error) {
				return src.Query(ctx, query, o.tier1Limit)
			},
		})
	}
	if len(ops) == 0 {
		return nil
	}

	var items []datatypes.ResultItem
	for name, outcome := range o.executor.Run(ctx, ops, tuning.Concurrency, tuning.Timeout) {
		if outcome.Status != executor.StatusOK {
			slog.Debug("broad query source skipped",
				slog.String("source", name),
				slog.String("status", string(outcome.Status)),
			)
			continue
		}
		sourceItems, _ := outcome.Value.([]datatypes.ResultItem)
		items = append(items, sourceItems...)
	}
	return items
}

// runTier3 synthesizes the recalled material. Absence or failure of the
// synthesizer degrades the tier; it never fails the call.
func (o *Orchestrator) runTier3(ctx context.Context, query string, result *datatypes.CascadeResult) {
	result.Tier3 = &datatypes.Tier3Result{Degraded: true}
	if o.synthesizer == nil {
		return
	}

	synReq := synthesis.Request{Query: query, Tier1: result.Tier1}
	if result.Tier2 != nil {
		synReq.Tier2 = result.Tier2.Items
	}

	narrative, err := o.synthesizer.Synthesize(ctx, synReq)
	if err != nil {
		slog.Warn("synthesis failed, degrading tier 3",
			slog.String("request_id", result.RequestID),
			slog.String("error", err.Error()),
		)
		return
	}
	result.Tier3 = &datatypes.Tier3Result{Narrative: narrative}
}

// finish records the settled call into the profiler and Prometheus.
func (o *Orchestrator) finish(
	result *datatypes.CascadeResult,
	class Class,
	concurrency int,
	sourceLatency map[string]time.Duration,
	sourceFailures []string,
	start time.Time,
) {
	confidence := -1.0
	if len(result.Scores) > 0 {
		var sum float64
		for _, s := range result.Scores {
			sum += s
		}
		confidence = sum / float64(len(result.Scores))
	}

	o.record(datatypes.RequestMetrics{
		RequestID:      result.RequestID,
		Class:          string(class),
		TotalLatency:   result.Elapsed,
		SourceLatency:  sourceLatency,
		SourceFailures: sourceFailures,
		Success:        result.Status == datatypes.StatusSuccess,
		Partial:        result.Status == datatypes.StatusPartial,
		Concurrency:    concurrency,
		ResultCount:    countItems(result),
		CacheHit:       false,
		Confidence:     confidence,
		Timestamp:      time.Now(),
	})

	if o.metrics != nil {
		o.metrics.RecordRecall(string(class), result.Status)
	}
	o.observeTier(observability.TierTotal, time.Since(start))
}

func (o *Orchestrator) record(m datatypes.RequestMetrics) {
	o.profiler.Record(m)
	if o.metrics != nil {
		dropped := o.profiler.Dropped()
		prev := o.droppedSeen.Swap(dropped)
		if dropped > prev {
			o.metrics.MetricsDropped.Add(float64(dropped - prev))
		}
	}
}

func (o *Orchestrator) observeTier(tier string, d time.Duration) {
	if o.metrics != nil {
		o.metrics.RecordTier(tier, d.Seconds())
	}
}

// Report exposes the profiler's full performance report.
func (o *Orchestrator) Report() *profiler.Report {
	return o.profiler.GenerateReport()
}

// CurrentTuning returns the active tuning config for a class without
// triggering a recomputation.
func (o *Orchestrator) CurrentTuning(class string) datatypes.TuningConfig {
	return o.tuner.Current(class)
}

// SetStrategy switches the tuner's optimization objective.
func (o *Orchestrator) SetStrategy(s datatypes.Strategy) error {
	if !s.Valid() {
		return ErrInvalidStrategy
	}
	o.tuner.SetStrategy(s)
	return nil
}

// Strategy returns the tuner's current objective.
func (o *Orchestrator) Strategy() datatypes.Strategy {
	return o.tuner.Strategy()
}

// Healthcheck reports per-source health.
func (o *Orchestrator) Healthcheck(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(o.order))
	for _, name := range o.order {
		out[name] = o.sources[name].Healthcheck(ctx)
	}
	return out
}

// =============================================================================
// Scoring and explanation
// =============================================================================

// scoreItems normalizes item scores into [0,1] against the best item in
// the result. Tier 2 wins over tier 1 when present since its ranking
// already folded the sources together.
func scoreItems(result *datatypes.CascadeResult) map[string]float64 {
	items := allItems(result)
	if len(items) == 0 {
		return nil
	}

	var max float64
	for _, item := range items {
		if item.Score > max {
			max = item.Score
		}
	}

	scores := make(map[string]float64, len(items))
	for _, item := range items {
		if max > 0 {
			scores[item.ID] = item.Score / max
		} else {
			scores[item.ID] = 0
		}
	}
	return scores
}

// explainItems traces each returned item to its source.
func explainItems(result *datatypes.CascadeResult) []datatypes.ExplanationEntry {
	items := allItems(result)
	entries := make([]datatypes.ExplanationEntry, 0, len(items))
	for _, item := range items {
		reason := "keyword match in source " + item.Source
		if result.Tier2 != nil {
			reason = "ranked against session context after cross-source merge"
		}
		entries = append(entries, datatypes.ExplanationEntry{
			ItemID: item.ID,
			Source: item.Source,
			Reason: reason,
		})
	}
	return entries
}

// allItems returns the caller-visible item list: tier 2 when present,
// otherwise the union of tier 1.
func allItems(result *datatypes.CascadeResult) []datatypes.ResultItem {
	if result.Tier2 != nil {
		return result.Tier2.Items
	}
	var items []datatypes.ResultItem
	for _, sourceItems := range result.Tier1 {
		items = append(items, sourceItems...)
	}
	return items
}

func countItems(result *datatypes.CascadeResult) int {
	return len(allItems(result))
}

// splitWords lowercases and splits free text into words of length > 1.
func splitWords(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,:;!?\"'()[]")
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}

// itemMatchesSession reports whether the item's content or tags overlap
// any session term.
func itemMatchesSession(item datatypes.ResultItem, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	content := strings.ToLower(item.Content)
	for _, term := range terms {
		if strings.Contains(content, term) {
			return true
		}
		for _, tag := range item.Tags {
			if strings.EqualFold(tag, term) {
				return true
			}
		}
	}
	return false
}
