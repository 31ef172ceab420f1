// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recall

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRecall/services/recall/datatypes"
	"github.com/AleutianAI/AleutianRecall/services/recall/observability"
	"github.com/AleutianAI/AleutianRecall/services/recall/profiler"
	"github.com/AleutianAI/AleutianRecall/services/recall/session"
	"github.com/AleutianAI/AleutianRecall/services/recall/sources"
	"github.com/AleutianAI/AleutianRecall/services/recall/synthesis"
)

type fakeSynthesizer struct {
	narrative string
	err       error
	lastReq   synthesis.Request
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, req synthesis.Request) (string, error) {
	f.lastReq = req
	if f.err != nil {
		return "", f.err
	}
	return f.narrative, nil
}

// fiveSources builds the standard test layout: episodic, procedural,
// graph, general, semantic.
func fiveSources() []sources.Source {
	episodic := sources.NewMemorySource("episodic")
	episodic.Add(datatypes.ResultItem{ID: "e1", Content: "deploy failed yesterday at noon"})

	procedural := sources.NewMemorySource("procedural")
	procedural.Add(datatypes.ResultItem{ID: "p1", Content: "deploy runbook for staging"})

	graph := sources.NewMemorySource("graph")
	graph.Add(datatypes.ResultItem{ID: "gr1", Content: "auth service depends on session store"})

	general := sources.NewMemorySource("general")
	general.Add(datatypes.ResultItem{ID: "g1", Content: "notes about the failed login audit"})

	semantic := sources.NewMemorySource("semantic")
	semantic.Add(datatypes.ResultItem{ID: "s1", Content: "semantic memory about deploys"})

	return []sources.Source{episodic, procedural, graph, general, semantic}
}

func TestRecallDepthOneOmitsUpperTiers(t *testing.T) {
	orch, err := New(Options{Sources: fiveSources()})
	require.NoError(t, err)

	result, err := orch.Recall(context.Background(), datatypes.RecallRequest{
		Query:        "what failed yesterday",
		CascadeDepth: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, datatypes.StatusSuccess, result.Status)
	assert.Nil(t, result.Tier2)
	assert.Nil(t, result.Tier3)
	assert.NotEmpty(t, result.RequestID)
}

func TestRecallEpisodicQueriesOnlyMappedSources(t *testing.T) {
	// Five sources registered, but an episodic query should touch only
	// the episodic layer plus the always-included general layer.
	orch, err := New(Options{Sources: fiveSources()})
	require.NoError(t, err)

	result, err := orch.Recall(context.Background(), datatypes.RecallRequest{
		Query:        "what failed yesterday",
		CascadeDepth: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, "episodic", result.Class)
	require.Len(t, result.Tier1, 2)
	assert.Contains(t, result.Tier1, "episodic")
	assert.Contains(t, result.Tier1, "general")
}

func TestRecallGeneralClassFansOutEverywhere(t *testing.T) {
	orch, err := New(Options{Sources: fiveSources()})
	require.NoError(t, err)

	result, err := orch.Recall(context.Background(), datatypes.RecallRequest{
		Query:        "notes about the quarterly roadmap",
		CascadeDepth: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, "general", result.Class)
	assert.Len(t, result.Tier1, 5)
}

func TestRecallValidation(t *testing.T) {
	prof := profiler.New(profiler.Config{})
	orch, err := New(Options{Sources: fiveSources(), Profiler: prof})
	require.NoError(t, err)

	_, err = orch.Recall(context.Background(), datatypes.RecallRequest{Query: "  ", CascadeDepth: 1})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = orch.Recall(context.Background(), datatypes.RecallRequest{Query: "q", CascadeDepth: 0})
	assert.ErrorIs(t, err, ErrInvalidCascadeDepth)

	_, err = orch.Recall(context.Background(), datatypes.RecallRequest{Query: "q", CascadeDepth: 4})
	assert.ErrorIs(t, err, ErrInvalidCascadeDepth)

	assert.Equal(t, 0, prof.Len(), "validation failures are not recorded")
}

func TestRecallPartialWhenOneSourceFails(t *testing.T) {
	episodic := sources.NewMemorySource("episodic")
	episodic.QueryErr = errors.New("store unavailable")
	general := sources.NewMemorySource("general")
	general.Add(datatypes.ResultItem{ID: "g1", Content: "failed deploy postmortem"})

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	orch, err := New(Options{
		Sources: []sources.Source{episodic, general},
		Metrics: metrics,
	})
	require.NoError(t, err)

	result, err := orch.Recall(context.Background(), datatypes.RecallRequest{
		Query:        "what failed yesterday",
		CascadeDepth: 1,
	})
	require.NoError(t, err, "partial degradation is not an error")

	assert.Equal(t, datatypes.StatusPartial, result.Status)
	assert.Equal(t, []string{"episodic"}, result.DroppedSources)
	assert.Contains(t, result.Tier1, "general")
	assert.NotContains(t, result.Tier1, "episodic")

	failures := testutil.ToFloat64(metrics.SourceFailuresTotal.WithLabelValues("episodic", "error"))
	assert.Equal(t, 1.0, failures)
}

func TestRecallAllSourcesFailed(t *testing.T) {
	failing := sources.NewMemorySource("general")
	failing.QueryErr = errors.New("store unavailable")

	prof := profiler.New(profiler.Config{})
	orch, err := New(Options{Sources: []sources.Source{failing}, Profiler: prof})
	require.NoError(t, err)

	result, err := orch.Recall(context.Background(), datatypes.RecallRequest{
		Query:        "anything at all",
		CascadeDepth: 1,
	})
	assert.ErrorIs(t, err, ErrAllSourcesFailed)
	require.NotNil(t, result)
	assert.Equal(t, datatypes.StatusError, result.Status)
	assert.Equal(t, 1, prof.Len(), "failed calls are still recorded")
}

func TestRecallTier2SessionBias(t *testing.T) {
	general := sources.NewMemorySource("general")
	general.Add(
		datatypes.ResultItem{ID: "plain", Content: "incident summary"},
		datatypes.ResultItem{ID: "session-relevant", Content: "deploy incident"},
	)

	provider := session.NewStaticProvider(session.Context{})
	provider.Set("s-1", session.Context{Task: "deploy rollout", Phase: "verification"})

	orch, err := New(Options{
		Sources: []sources.Source{general},
		Session: provider,
	})
	require.NoError(t, err)

	result, err := orch.Recall(context.Background(), datatypes.RecallRequest{
		Query:        "incident",
		CascadeDepth: 2,
		SessionID:    "s-1",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Tier2)

	assert.Equal(t, "deploy rollout", result.Tier2.SessionTask)
	require.NotEmpty(t, result.Tier2.Items)
	assert.Equal(t, "session-relevant", result.Tier2.Items[0].ID,
		"equal keyword scores break toward the session-relevant item")
}

func TestRecallTier2BroadensBeyondTier1Sources(t *testing.T) {
	// Episodic query: tier 1 touches episodic+general only, but tier 2
	// broadens to the rest, so the semantic item shows up in the merge.
	orch, err := New(Options{Sources: fiveSources()})
	require.NoError(t, err)

	result, err := orch.Recall(context.Background(), datatypes.RecallRequest{
		Query:        "deploys that failed yesterday",
		CascadeDepth: 2,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Tier2)

	assert.NotContains(t, result.Tier1, "semantic")
	var foundSemantic bool
	for _, item := range result.Tier2.Items {
		if item.Source == "semantic" {
			foundSemantic = true
		}
	}
	assert.True(t, foundSemantic, "tier 2 broad query pulls from skipped sources")
}

func TestRecallContextOverrides(t *testing.T) {
	general := sources.NewMemorySource("general")
	general.Add(
		datatypes.ResultItem{ID: "plain", Content: "incident summary"},
		datatypes.ResultItem{ID: "migration-note", Content: "migration incident"},
	)

	orch, err := New(Options{Sources: []sources.Source{general}})
	require.NoError(t, err)

	result, err := orch.Recall(context.Background(), datatypes.RecallRequest{
		Query:            "incident",
		CascadeDepth:     2,
		ContextOverrides: map[string]string{"task": "migration cleanup"},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Tier2)

	assert.Equal(t, "migration cleanup", result.Tier2.SessionTask)
	assert.Equal(t, "migration-note", result.Tier2.Items[0].ID)
}

func TestRecallTier3DegradesWithoutSynthesizer(t *testing.T) {
	orch, err := New(Options{Sources: fiveSources()})
	require.NoError(t, err)

	result, err := orch.Recall(context.Background(), datatypes.RecallRequest{
		Query:        "what failed yesterday",
		CascadeDepth: 3,
	})
	require.NoError(t, err, "missing synthesizer degrades, never errors")
	require.NotNil(t, result.Tier3)
	assert.True(t, result.Tier3.Degraded)
	assert.Empty(t, result.Tier3.Narrative)
}

func TestRecallTier3Synthesis(t *testing.T) {
	synth := &fakeSynthesizer{narrative: "the deploy failed at noon"}
	orch, err := New(Options{Sources: fiveSources(), Synthesizer: synth})
	require.NoError(t, err)

	result, err := orch.Recall(context.Background(), datatypes.RecallRequest{
		Query:        "what failed yesterday",
		CascadeDepth: 3,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Tier3)

	assert.False(t, result.Tier3.Degraded)
	assert.Equal(t, "the deploy failed at noon", result.Tier3.Narrative)
	assert.Equal(t, "what failed yesterday", synth.lastReq.Query)
	assert.NotEmpty(t, synth.lastReq.Tier2, "tier 2 merge feeds synthesis at depth 3")
}

func TestRecallTier3SynthesisFailureDegrades(t *testing.T) {
	synth := &fakeSynthesizer{err: errors.New("model unavailable")}
	orch, err := New(Options{Sources: fiveSources(), Synthesizer: synth})
	require.NoError(t, err)

	result, err := orch.Recall(context.Background(), datatypes.RecallRequest{
		Query:        "what failed yesterday",
		CascadeDepth: 3,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Tier3)
	assert.True(t, result.Tier3.Degraded)
}

func TestRecallCacheHit(t *testing.T) {
	prof := profiler.New(profiler.Config{})
	orch, err := New(Options{Sources: fiveSources(), Profiler: prof})
	require.NoError(t, err)

	req := datatypes.RecallRequest{Query: "what failed yesterday", CascadeDepth: 1}

	first, err := orch.Recall(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := orch.Recall(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.NotEqual(t, first.RequestID, second.RequestID, "cache hits still get their own request id")

	assert.Equal(t, 2, prof.Len(), "cache hits are recorded too")
}

func TestRecallCacheHitHonorsScoreFlags(t *testing.T) {
	orch, err := New(Options{Sources: fiveSources()})
	require.NoError(t, err)

	// Populate the cache without scoring.
	first, err := orch.Recall(context.Background(), datatypes.RecallRequest{
		Query:        "what failed yesterday",
		CascadeDepth: 1,
	})
	require.NoError(t, err)
	assert.Empty(t, first.Scores)
	assert.Empty(t, first.Explanation)

	// The hit must honor this call's flags, not the cached ones.
	second, err := orch.Recall(context.Background(), datatypes.RecallRequest{
		Query:           "what failed yesterday",
		CascadeDepth:    1,
		WantScores:      true,
		WantExplanation: true,
	})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	require.NotEmpty(t, second.Scores)
	require.NotEmpty(t, second.Explanation)

	var best float64
	for _, s := range second.Scores {
		if s > best {
			best = s
		}
	}
	assert.Equal(t, 1.0, best, "scores on a hit normalize like an executed call")

	// And the other way around: a caller that did not ask gets neither.
	third, err := orch.Recall(context.Background(), datatypes.RecallRequest{
		Query:        "what failed yesterday",
		CascadeDepth: 1,
	})
	require.NoError(t, err)
	assert.True(t, third.CacheHit)
	assert.Empty(t, third.Scores)
	assert.Empty(t, third.Explanation)
}

func TestRecallCacheHitResultsAreIndependent(t *testing.T) {
	orch, err := New(Options{Sources: fiveSources()})
	require.NoError(t, err)

	req := datatypes.RecallRequest{Query: "what failed yesterday", CascadeDepth: 1}

	_, err = orch.Recall(context.Background(), req)
	require.NoError(t, err)

	second, err := orch.Recall(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.CacheHit)
	require.NotEmpty(t, second.Tier1["episodic"])
	second.Tier1["episodic"][0].Content = "scribbled over by one caller"

	third, err := orch.Recall(context.Background(), req)
	require.NoError(t, err)
	require.True(t, third.CacheHit)
	assert.Equal(t, "deploy failed yesterday at noon", third.Tier1["episodic"][0].Content,
		"each hit owns its result outright")
}

func TestRecallCacheKeyedByContextOverrides(t *testing.T) {
	general := sources.NewMemorySource("general")
	general.Add(
		datatypes.ResultItem{ID: "plain", Content: "incident summary"},
		datatypes.ResultItem{ID: "migration-note", Content: "migration incident"},
	)

	orch, err := New(Options{Sources: []sources.Source{general}})
	require.NoError(t, err)

	first, err := orch.Recall(context.Background(), datatypes.RecallRequest{
		Query:        "incident",
		CascadeDepth: 2,
	})
	require.NoError(t, err)
	require.NotNil(t, first.Tier2)
	assert.Empty(t, first.Tier2.SessionTask)

	// Same query and depth, different overrides: must execute, not hit.
	second, err := orch.Recall(context.Background(), datatypes.RecallRequest{
		Query:            "incident",
		CascadeDepth:     2,
		ContextOverrides: map[string]string{"task": "migration cleanup"},
	})
	require.NoError(t, err)
	assert.False(t, second.CacheHit, "overrides scope the cache entry")
	require.NotNil(t, second.Tier2)
	assert.Equal(t, "migration cleanup", second.Tier2.SessionTask)
	assert.Equal(t, "migration-note", second.Tier2.Items[0].ID)
}

func TestRecallRecordsEffectiveConcurrency(t *testing.T) {
	prof := profiler.New(profiler.Config{})
	orch, err := New(Options{Sources: fiveSources(), Profiler: prof})
	require.NoError(t, err)

	req := datatypes.RecallRequest{Query: "what failed yesterday", CascadeDepth: 1}

	// Episodic query selects two sources; the default cap of five never
	// materializes, so two is what ran.
	_, err = orch.Recall(context.Background(), req)
	require.NoError(t, err)

	recent := prof.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, 2, recent[0].Concurrency)

	// A cache hit runs no fan-out at all.
	_, err = orch.Recall(context.Background(), req)
	require.NoError(t, err)
	recent = prof.Recent(1)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].CacheHit)
	assert.Equal(t, 0, recent[0].Concurrency)
}

func TestRecallDefaultTunerRecordsAdjustments(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	orch, err := New(Options{Sources: fiveSources(), Metrics: metrics})
	require.NoError(t, err)

	// Distinct queries of one class: by the eleventh call the class has
	// ten samples and the first tuning recomputation is accepted.
	for i := 0; i < 11; i++ {
		_, err := orch.Recall(context.Background(), datatypes.RecallRequest{
			Query:        fmt.Sprintf("deploy failed yesterday attempt %d", i),
			CascadeDepth: 1,
		})
		require.NoError(t, err)
	}

	adjusted := testutil.ToFloat64(metrics.TuningAdjustments.WithLabelValues("episodic", "balanced"))
	assert.Equal(t, 1.0, adjusted)
}

func TestRecallScoresAndExplanation(t *testing.T) {
	orch, err := New(Options{Sources: fiveSources()})
	require.NoError(t, err)

	result, err := orch.Recall(context.Background(), datatypes.RecallRequest{
		Query:           "what failed yesterday",
		CascadeDepth:    1,
		WantScores:      true,
		WantExplanation: true,
	})
	require.NoError(t, err)

	require.NotEmpty(t, result.Scores)
	var best float64
	for _, s := range result.Scores {
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
		if s > best {
			best = s
		}
	}
	assert.Equal(t, 1.0, best, "the top item normalizes to 1")

	assert.Len(t, result.Explanation, len(result.Scores))
}

func TestSetStrategy(t *testing.T) {
	orch, err := New(Options{Sources: fiveSources()})
	require.NoError(t, err)

	assert.ErrorIs(t, orch.SetStrategy(datatypes.Strategy("bogus")), ErrInvalidStrategy)

	require.NoError(t, orch.SetStrategy(datatypes.StrategyLatency))
	assert.Equal(t, datatypes.StrategyLatency, orch.Strategy())
}

func TestHealthcheck(t *testing.T) {
	episodic := sources.NewMemorySource("episodic")
	general := sources.NewMemorySource("general")
	general.SetHealthy(false)

	orch, err := New(Options{Sources: []sources.Source{episodic, general}})
	require.NoError(t, err)

	health := orch.Healthcheck(context.Background())
	assert.True(t, health["episodic"])
	assert.False(t, health["general"])
}

func TestNewRequiresSources(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNoSources)
}

func TestReportReflectsRecordedCalls(t *testing.T) {
	orch, err := New(Options{Sources: fiveSources()})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := orch.Recall(context.Background(), datatypes.RecallRequest{
			Query:        "deploy runbook steps",
			CascadeDepth: 1,
		})
		require.NoError(t, err)
	}

	report := orch.Report()
	// First call executes, the next two hit the cache; all three land
	// in the report.
	assert.Equal(t, 3, report.Entries)
	assert.Equal(t, 3, report.Classes["procedural"].Calls)
}
