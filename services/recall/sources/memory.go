// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sources

import (
	"context"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianRecall/services/recall/datatypes"
)

// MemorySource is an in-process source backed by a slice. It serves as
// the always-available general-purpose layer and as the test double for
// the orchestrator's own tests.
//
// # Thread Safety
//
// Safe for concurrent use; Add takes a write lock, Query a read lock.
type MemorySource struct {
	name string

	mu    sync.RWMutex
	items []datatypes.ResultItem

	// QueryDelay and QueryErr let tests simulate slow or failing
	// sources. Zero values mean normal behavior.
	QueryDelay func(ctx context.Context) error
	QueryErr   error
	healthy    bool
}

// NewMemorySource creates an empty in-memory source with the given
// name.
func NewMemorySource(name string) *MemorySource {
	return &MemorySource{name: name, healthy: true}
}

// Add stores items for later recall. Item Source fields are stamped
// with this source's name.
func (s *MemorySource) Add(items ...datatypes.ResultItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		item.Source = s.name
		s.items = append(s.items, item)
	}
}

// SetHealthy flips the healthcheck result; used by tests and by
// operators draining a layer.
func (s *MemorySource) SetHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = healthy
}

// Name implements Source.
func (s *MemorySource) Name() string { return s.name }

// Query implements Source using keyword-overlap ranking.
func (s *MemorySource) Query(ctx context.Context, query string, limit int) ([]datatypes.ResultItem, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if s.QueryDelay != nil {
		if err := s.QueryDelay(ctx); err != nil {
			return nil, err
		}
	}
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	terms := tokenize(query)

	s.mu.RLock()
	var matched []datatypes.ResultItem
	for _, item := range s.items {
		if score := overlapScore(terms, item); score > 0 {
			item.Score = score
			matched = append(matched, item)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Score > matched[j].Score })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Healthcheck implements Source.
func (s *MemorySource) Healthcheck(ctx context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

var _ Source = (*MemorySource)(nil)
