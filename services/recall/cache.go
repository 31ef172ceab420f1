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
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianRecall/services/recall/datatypes"
)

// DefaultCacheTTL is how long a recall result stays servable from
// cache. Short on purpose: recall answers go stale as new memories
// arrive, and the cache exists to absorb repeated identical lookups
// inside one working burst, not to be a storage layer.
const DefaultCacheTTL = 30 * time.Second

type cacheEntry struct {
	result    datatypes.CascadeResult
	expiresAt time.Time
}

// resultCache is a TTL cache over completed cascade results, keyed by
// query text and cascade depth. Session-specific tiers make results
// session-scoped too, so the session ID and any per-call context
// overrides are part of the key. Entries are stored and served as deep
// copies: a cached result is never aliased by two callers.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration

	now func() time.Time
}

func newResultCache(ttl time.Duration) *resultCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &resultCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func cacheKey(query string, depth int, sessionID string, overrides map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s", depth, sessionID)

	// Overrides change the tier-2 ranking, so they key the entry too.
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, overrides[k])
	}

	b.WriteByte('|')
	b.WriteString(query)
	return b.String()
}

// get returns the cached result for the key, if fresh. The returned
// copy has CacheHit set.
func (c *resultCache) get(key string) (datatypes.CascadeResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return datatypes.CascadeResult{}, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return datatypes.CascadeResult{}, false
	}

	result := cloneResult(entry.result)
	result.CacheHit = true
	return result, true
}

// put stores a deep copy of the result and opportunistically prunes
// expired entries. The caller keeps sole ownership of its own copy.
func (c *resultCache) put(key string, result datatypes.CascadeResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{result: cloneResult(result), expiresAt: now.Add(c.ttl)}
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// cloneResult deep-copies a CascadeResult so the cache and its callers
// never share maps or slices.
func cloneResult(r datatypes.CascadeResult) datatypes.CascadeResult {
	out := r
	if r.Tier1 != nil {
		out.Tier1 = make(map[string][]datatypes.ResultItem, len(r.Tier1))
		for name, items := range r.Tier1 {
			out.Tier1[name] = cloneItems(items)
		}
	}
	if r.Tier2 != nil {
		tier2 := *r.Tier2
		tier2.Items = cloneItems(r.Tier2.Items)
		out.Tier2 = &tier2
	}
	if r.Tier3 != nil {
		tier3 := *r.Tier3
		out.Tier3 = &tier3
	}
	if r.Scores != nil {
		out.Scores = make(map[string]float64, len(r.Scores))
		for id, s := range r.Scores {
			out.Scores[id] = s
		}
	}
	out.Explanation = append([]datatypes.ExplanationEntry(nil), r.Explanation...)
	out.DroppedSources = append([]string(nil), r.DroppedSources...)
	return out
}

func cloneItems(items []datatypes.ResultItem) []datatypes.ResultItem {
	out := append([]datatypes.ResultItem(nil), items...)
	for i := range out {
		out[i].Tags = append([]string(nil), out[i].Tags...)
	}
	return out
}
