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

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance for request structs.
// validator.Validate is safe for concurrent use and caches struct
// metadata, so a single package-level instance is the cheap option.
var validate = validator.New()

// =============================================================================
// Recall request
// =============================================================================

// Cascade depth bounds. Depth 1 is the parallel per-source fan-out,
// depth 2 adds cross-source enrichment, depth 3 adds synthesis.
const (
	MinCascadeDepth = 1
	MaxCascadeDepth = 3
)

// RecallRequest is the caller-facing input to Orchestrator.Recall.
//
// # Example
//
//	req := datatypes.RecallRequest{
//	    Query:        "what failed in the deploy yesterday",
//	    CascadeDepth: 2,
//	    SessionID:    "sess_123",
//	}
type RecallRequest struct {
	// Query is the free-text recall query. Must be non-empty.
	Query string `json:"query" binding:"required" validate:"required"`

	// CascadeDepth is the maximum tier to execute, in [1,3].
	CascadeDepth int `json:"cascade_depth" binding:"required,min=1,max=3" validate:"required,min=1,max=3"`

	// SessionID selects the ambient session context consumed at tier 2.
	// Optional; tier 2 falls back to the provider's default context.
	SessionID string `json:"session_id,omitempty"`

	// ContextOverrides replaces individual session context fields for
	// this call only. Recognized keys: "task", "phase".
	ContextOverrides map[string]string `json:"context_overrides,omitempty"`

	// WantScores requests a per-item confidence score pass.
	WantScores bool `json:"want_scores,omitempty"`

	// WantExplanation requests a contribution trace (which source
	// contributed which item and why).
	WantExplanation bool `json:"want_explanation,omitempty"`
}

// Validate checks the struct tags. The orchestrator additionally maps
// failures onto its sentinel errors so callers can test with errors.Is.
func (r *RecallRequest) Validate() error {
	return validate.Struct(r)
}

// =============================================================================
// Result items
// =============================================================================

// ResultItem is one unit of recalled content from a source.
type ResultItem struct {
	// ID uniquely identifies the item within its source.
	ID string `json:"id"`

	// Source is the name of the source that produced the item.
	Source string `json:"source"`

	// Content is the recalled text.
	Content string `json:"content"`

	// Tags are source-assigned labels used for session-biased ranking.
	Tags []string `json:"tags,omitempty"`

	// Score is the source-relative relevance score; higher is better.
	Score float64 `json:"score"`

	// CreatedAt is when the underlying memory was stored.
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// =============================================================================
// Cascade result
// =============================================================================

// Status values for a settled recall call.
const (
	// StatusSuccess: every selected source responded.
	StatusSuccess = "success"

	// StatusPartial: at least one source was dropped, at least one
	// responded.
	StatusPartial = "partial"

	// StatusError: every selected source failed. The call also returns
	// a non-nil error in this case.
	StatusError = "error"
)

// Tier2Result is the enriched cross-source tier: the merged, re-ranked
// item list plus the session context that biased the ranking.
type Tier2Result struct {
	Items []ResultItem `json:"items"`

	// SessionTask and SessionPhase echo the context used for ranking,
	// after overrides.
	SessionTask  string `json:"session_task,omitempty"`
	SessionPhase string `json:"session_phase,omitempty"`
}

// Tier3Result is the synthesized narrative tier.
type Tier3Result struct {
	// Narrative is the unified synthesis of tiers 1 and 2. Empty when
	// Degraded is true.
	Narrative string `json:"narrative,omitempty"`

	// Degraded is true when the synthesis collaborator was absent or
	// failed. Tier 3 degradation is never an error.
	Degraded bool `json:"degraded"`
}

// ExplanationEntry traces one item back to the source and rule that
// contributed it.
type ExplanationEntry struct {
	ItemID string `json:"item_id"`
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// CascadeResult is the output of one recall call. Constructed fresh per
// call; owned solely by the caller after return.
type CascadeResult struct {
	// RequestID is the uuid assigned to this call.
	RequestID string `json:"request_id"`

	// Class is the classification the query resolved to.
	Class string `json:"class"`

	// Status is success, partial, or error.
	Status string `json:"status"`

	// Tier1 maps source name to the items it returned. Sources that
	// timed out or errored are absent.
	Tier1 map[string][]ResultItem `json:"tier1"`

	// Tier2 is present iff cascade_depth >= 2.
	Tier2 *Tier2Result `json:"tier2,omitempty"`

	// Tier3 is present iff cascade_depth >= 3.
	Tier3 *Tier3Result `json:"tier3,omitempty"`

	// Scores maps item ID to a confidence score in [0,1]. Present only
	// when WantScores was set.
	Scores map[string]float64 `json:"scores,omitempty"`

	// Explanation is present only when WantExplanation was set.
	Explanation []ExplanationEntry `json:"explanation,omitempty"`

	// DroppedSources lists tier-1 sources that were selected but did
	// not respond.
	DroppedSources []string `json:"dropped_sources,omitempty"`

	// CacheHit is true when tier 1 was served from the recall cache.
	CacheHit bool `json:"cache_hit"`

	// Elapsed is the total wall-clock duration of the call.
	Elapsed time.Duration `json:"elapsed"`
}
