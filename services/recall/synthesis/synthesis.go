// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package synthesis defines the optional tier-3 collaborator that
// condenses recalled items into a unified narrative. Absence of a
// synthesizer is a supported configuration: the orchestrator marks tier
// 3 as degraded and carries on.
package synthesis

import (
	"context"
	"strings"

	"github.com/AleutianAI/AleutianRecall/services/recall/datatypes"
)

// Request carries the tier-1 and tier-2 output to synthesize.
type Request struct {
	Query string
	Tier1 map[string][]datatypes.ResultItem
	Tier2 []datatypes.ResultItem
}

// Synthesizer condenses recalled items into a narrative answer.
//
// Implementations must honor ctx; a synthesis failure is reported as an
// error and downgraded by the orchestrator, never surfaced to the
// caller.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (string, error)
}

// buildPrompt renders the recalled material into the user prompt sent
// to the model. Shared by implementations.
func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Query: ")
	b.WriteString(req.Query)
	b.WriteString("\n\nRecalled material:\n")

	if len(req.Tier2) > 0 {
		for _, item := range req.Tier2 {
			b.WriteString("- [")
			b.WriteString(item.Source)
			b.WriteString("] ")
			b.WriteString(item.Content)
			b.WriteString("\n")
		}
	} else {
		for source, items := range req.Tier1 {
			for _, item := range items {
				b.WriteString("- [")
				b.WriteString(source)
				b.WriteString("] ")
				b.WriteString(item.Content)
				b.WriteString("\n")
			}
		}
	}

	b.WriteString("\nSynthesize the recalled material into a short, unified answer to the query. Cite sources in brackets.")
	return b.String()
}
