// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session exposes the ambient session context the orchestrator
// consumes at tier 2. Session bookkeeping itself lives outside this
// core; this package only defines the capability and a static in-memory
// provider.
package session

import (
	"context"
	"sync"
)

// Context is the ambient state of one working session: what the user
// is doing, which phase the work is in, and recent activity labels.
// Tier-2 ranking biases results toward items overlapping these fields.
type Context struct {
	Task           string   `json:"task"`
	Phase          string   `json:"phase"`
	RecentActivity []string `json:"recent_activity,omitempty"`
}

// ContextProvider supplies the current context for a session.
//
// Implementations must be safe for concurrent use and must tolerate
// unknown session IDs by returning a usable default rather than an
// error where possible.
type ContextProvider interface {
	Current(ctx context.Context, sessionID string) (Context, error)
}

// StaticProvider is a ContextProvider backed by an in-memory map.
// Unknown sessions get the fallback context.
type StaticProvider struct {
	mu       sync.RWMutex
	byID     map[string]Context
	fallback Context
}

// NewStaticProvider creates a provider with the given fallback.
func NewStaticProvider(fallback Context) *StaticProvider {
	return &StaticProvider{
		byID:     make(map[string]Context),
		fallback: fallback,
	}
}

// Set registers the context for a session ID.
func (p *StaticProvider) Set(sessionID string, c Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID[sessionID] = c
}

// Current implements ContextProvider.
func (p *StaticProvider) Current(_ context.Context, sessionID string) (Context, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if c, ok := p.byID[sessionID]; ok {
		return c, nil
	}
	return p.fallback, nil
}

var _ ContextProvider = (*StaticProvider)(nil)
