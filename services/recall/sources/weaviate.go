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
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/AleutianAI/AleutianRecall/services/recall/datatypes"
)

// WeaviateSource is a vector-database-backed source, typically the
// semantic layer. Queries use BM25 ranking so no embedding round-trip
// sits on the tier-1 critical path.
//
// The Weaviate class is expected to expose `content`, `tags`, and
// `created_at` properties; BM25 score arrives via `_additional`.
//
// # Thread Safety
//
// Safe for concurrent use; the Weaviate client pools connections.
type WeaviateSource struct {
	name   string
	client *weaviate.Client
	class  string
}

// NewWeaviateSource creates a source reading from the given Weaviate
// class.
//
// # Example
//
//	client, _ := weaviate.NewClient(weaviate.Config{Host: "localhost:8080", Scheme: "http"})
//	src := sources.NewWeaviateSource("semantic", client, "MemoryChunk")
func NewWeaviateSource(name string, client *weaviate.Client, class string) *WeaviateSource {
	return &WeaviateSource{name: name, client: client, class: class}
}

// Name implements Source.
func (s *WeaviateSource) Name() string { return s.name }

// Query implements Source via a BM25 GraphQL query.
func (s *WeaviateSource) Query(ctx context.Context, query string, limit int) ([]datatypes.ResultItem, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "tags"},
		{Name: "created_at"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "score"},
		}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(fields...).
		WithBM25(s.client.GraphQL().Bm25ArgBuilder().WithQuery(query)).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate query for source %s: %w", s.name, err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate query for source %s: %s", s.name, result.Errors[0].Message)
	}

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	objects, ok := data[s.class].([]interface{})
	if !ok {
		return nil, nil
	}

	items := make([]datatypes.ResultItem, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		item := datatypes.ResultItem{
			Source:  s.name,
			Content: getString(m, "content"),
			Tags:    getStringSlice(m, "tags"),
		}
		if ts := getString(m, "created_at"); ts != "" {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				item.CreatedAt = parsed
			}
		}
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			item.ID = getString(add, "id")
			item.Score = parseScore(add["score"])
		}
		items = append(items, item)
	}

	slog.Debug("weaviate source responded",
		slog.String("source", s.name),
		slog.Int("items", len(items)),
	)
	return items, nil
}

// Healthcheck implements Source via the Weaviate readiness endpoint.
func (s *WeaviateSource) Healthcheck(ctx context.Context) bool {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		slog.Warn("weaviate readiness check failed",
			slog.String("source", s.name),
			slog.String("error", err.Error()),
		)
		return false
	}
	return ready
}

var _ Source = (*WeaviateSource)(nil)

// getString safely extracts a string property from a GraphQL object.
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// getStringSlice extracts a list-of-strings property.
func getStringSlice(m map[string]interface{}, key string) []string {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// parseScore handles Weaviate returning BM25 scores as either a string
// or a float depending on version.
func parseScore(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(t), "%f", &f); err == nil {
			return f
		}
	}
	return 0
}
