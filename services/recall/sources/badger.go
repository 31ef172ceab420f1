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
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianRecall/services/recall/datatypes"
)

// itemKeyPrefix namespaces recall items inside the Badger keyspace.
const itemKeyPrefix = "item:"

// BadgerConfig configures a Badger-backed source.
type BadgerConfig struct {
	// Path is the directory for Badger files. Ignored when InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Useful
	// for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool
}

// BadgerSource is an embedded low-latency source, typically the
// episodic layer: locally recorded events keyed by item ID, values
// stored as JSON.
//
// # Thread Safety
//
// Safe for concurrent use; Badger transactions provide isolation.
type BadgerSource struct {
	name string
	db   *badger.DB
}

// NewBadgerSource opens (or creates) the Badger store at cfg.Path.
//
// # Example
//
//	src, err := sources.NewBadgerSource("episodic", sources.BadgerConfig{
//	    Path: "~/.aleutian/recall/episodic",
//	})
//	if err != nil {
//	    return err
//	}
//	defer src.Close()
func NewBadgerSource(name string, cfg BadgerConfig) (*BadgerSource, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store for source %s: %w", name, err)
	}
	return &BadgerSource{name: name, db: db}, nil
}

// Close releases the underlying store. Queries after Close return
// ErrSourceClosed.
func (s *BadgerSource) Close() error {
	return s.db.Close()
}

// Put stores one item. The item's Source field is stamped with this
// source's name.
func (s *BadgerSource) Put(item datatypes.ResultItem) error {
	if s.db.IsClosed() {
		return ErrSourceClosed
	}
	item.Source = s.name
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item %s: %w", item.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(itemKeyPrefix+item.ID), raw)
	})
}

// Name implements Source.
func (s *BadgerSource) Name() string { return s.name }

// Query implements Source by scanning the item prefix and ranking by
// keyword overlap. Fine for the bounded stores this layer holds; the
// scan honors ctx so an abandoned lookup stops promptly.
func (s *BadgerSource) Query(ctx context.Context, query string, limit int) ([]datatypes.ResultItem, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if s.db.IsClosed() {
		return nil, ErrSourceClosed
	}

	terms := tokenize(query)
	var matched []datatypes.ResultItem

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(itemKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var item datatypes.ResultItem
				if err := json.Unmarshal(val, &item); err != nil {
					// Skip corrupt entries rather than failing the scan.
					return nil
				}
				if score := overlapScore(terms, item); score > 0 {
					item.Score = score
					matched = append(matched, item)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger scan for source %s: %w", s.name, err)
	}

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Score > matched[j].Score })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Healthcheck implements Source.
func (s *BadgerSource) Healthcheck(ctx context.Context) bool {
	return !s.db.IsClosed()
}

var _ Source = (*BadgerSource)(nil)
