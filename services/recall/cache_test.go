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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRecall/services/recall/datatypes"
)

func TestCacheHitWithinTTL(t *testing.T) {
	c := newResultCache(30 * time.Second)
	key := cacheKey("what failed", 1, "", nil)

	c.put(key, datatypes.CascadeResult{RequestID: "r1", Status: datatypes.StatusSuccess})

	got, ok := c.get(key)
	require.True(t, ok)
	assert.True(t, got.CacheHit)
	assert.Equal(t, datatypes.StatusSuccess, got.Status)
}

func TestCacheMissAfterTTL(t *testing.T) {
	c := newResultCache(30 * time.Second)
	base := time.Now()
	c.now = func() time.Time { return base }

	key := cacheKey("what failed", 1, "", nil)
	c.put(key, datatypes.CascadeResult{RequestID: "r1"})

	c.now = func() time.Time { return base.Add(31 * time.Second) }
	_, ok := c.get(key)
	assert.False(t, ok)
}

func TestCacheKeyScoping(t *testing.T) {
	c := newResultCache(0)
	c.put(cacheKey("q", 1, "s1", nil), datatypes.CascadeResult{RequestID: "a"})

	_, ok := c.get(cacheKey("q", 2, "s1", nil))
	assert.False(t, ok, "depth is part of the key")
	_, ok = c.get(cacheKey("q", 1, "s2", nil))
	assert.False(t, ok, "session is part of the key")
	_, ok = c.get(cacheKey("q", 1, "s1", map[string]string{"task": "migration"}))
	assert.False(t, ok, "context overrides are part of the key")
	_, ok = c.get(cacheKey("q", 1, "s1", nil))
	assert.True(t, ok)
}

func TestCacheKeyOverridesOrderIndependent(t *testing.T) {
	a := cacheKey("q", 2, "s1", map[string]string{"task": "deploy", "phase": "verify"})
	b := cacheKey("q", 2, "s1", map[string]string{"phase": "verify", "task": "deploy"})
	assert.Equal(t, a, b)
}

func TestCacheCopiesOnPutAndGet(t *testing.T) {
	c := newResultCache(30 * time.Second)
	key := cacheKey("q", 1, "", nil)

	stored := datatypes.CascadeResult{
		RequestID: "r1",
		Tier1: map[string][]datatypes.ResultItem{
			"general": {{ID: "g1", Content: "original", Tags: []string{"keep"}}},
		},
		Scores: map[string]float64{"g1": 1.0},
	}
	c.put(key, stored)

	// Mutating the caller's copy after put must not leak into the cache.
	stored.Tier1["general"][0].Content = "mutated after put"

	first, ok := c.get(key)
	require.True(t, ok)
	assert.Equal(t, "original", first.Tier1["general"][0].Content)

	// Mutating one hit must not be visible to the next.
	first.Tier1["general"][0].Content = "mutated by first caller"
	first.Scores["g1"] = 0.0
	first.Tier1["general"][0].Tags[0] = "clobbered"

	second, ok := c.get(key)
	require.True(t, ok)
	assert.Equal(t, "original", second.Tier1["general"][0].Content)
	assert.Equal(t, 1.0, second.Scores["g1"])
	assert.Equal(t, "keep", second.Tier1["general"][0].Tags[0])
}

func TestCachePutPrunesExpired(t *testing.T) {
	c := newResultCache(30 * time.Second)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.put(cacheKey("old", 1, "", nil), datatypes.CascadeResult{})
	c.now = func() time.Time { return base.Add(time.Minute) }
	c.put(cacheKey("new", 1, "", nil), datatypes.CascadeResult{})

	assert.Equal(t, 1, c.len())
}
