// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sources defines the capability interface every memory layer
// implements, plus the built-in adapters (in-memory, BadgerDB,
// Weaviate).
//
// The orchestrator depends only on the Source interface, never on a
// concrete adapter, so heterogeneous layers plug in uniformly.
package sources

import (
	"context"
	"errors"
	"strings"

	"github.com/AleutianAI/AleutianRecall/services/recall/datatypes"
)

// Sentinel errors shared by source adapters.
var (
	// ErrSourceClosed is returned by adapters whose backing store has
	// been closed.
	ErrSourceClosed = errors.New("source is closed")

	// ErrEmptyQuery is returned when a source is queried with an empty
	// string. The orchestrator validates before fan-out, so seeing this
	// error means a source was called directly.
	ErrEmptyQuery = errors.New("query must not be empty")
)

// Source is the capability every memory layer exposes.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the orchestrator
// queries many sources in parallel and may query the same source from
// concurrent recall calls.
type Source interface {
	// Name returns the stable identifier used for selection, metrics,
	// and result attribution.
	Name() string

	// Query returns up to limit items relevant to the query, most
	// relevant first. Implementations must honor ctx cancellation.
	Query(ctx context.Context, query string, limit int) ([]datatypes.ResultItem, error)

	// Healthcheck reports whether the source can currently serve
	// queries.
	Healthcheck(ctx context.Context) bool
}

// tokenize lowercases and splits a query into match terms, dropping
// single-character fragments.
func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()[]")
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}

// overlapScore counts query terms found in the content and tags of an
// item. Shared by the adapters that rank by keyword overlap.
func overlapScore(terms []string, item datatypes.ResultItem) float64 {
	content := strings.ToLower(item.Content)
	score := 0.0
	for _, term := range terms {
		if strings.Contains(content, term) {
			score++
			continue
		}
		for _, tag := range item.Tags {
			if strings.EqualFold(tag, term) {
				score += 0.5
				break
			}
		}
	}
	return score
}
