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

import "strings"

// Class is the category assigned to a recall query. The class drives
// both per-class tuning state and which sources are worth querying.
type Class string

const (
	// ClassEpisodic covers temporal questions about what happened:
	// events, failures, session history.
	ClassEpisodic Class = "episodic"

	// ClassProcedural covers how-to questions: runbooks, steps,
	// configuration procedures.
	ClassProcedural Class = "procedural"

	// ClassGraph covers structural questions: dependencies,
	// relationships, impact.
	ClassGraph Class = "graph"

	// ClassGeneral is the fallback for everything else.
	ClassGeneral Class = "general"
)

// Keyword tables per class. First match wins in the order episodic,
// procedural, graph; a query hitting none of them is general.
var (
	episodicKeywords = []string{
		"yesterday", "today", "last week", "failed", "happened",
		"recently", "earlier", "session", "broke", "crashed", "when did",
	}
	proceduralKeywords = []string{
		"how to", "how do", "steps", "runbook", "procedure", "configure",
		"set up", "setup", "install", "guide", "instructions",
	}
	graphKeywords = []string{
		"depends", "dependency", "relationship", "related to", "calls",
		"connected", "references", "impact of", "uses", "imports",
	}
)

// ClassifyQuery assigns a class to the query via keyword heuristics.
//
// # Description
//
// Matching is case-insensitive substring containment against fixed
// keyword tables. The heuristic is deliberately cheap: classification
// sits on the critical path of every recall and must not dominate it.
//
// # Inputs
//
//   - query: Raw query text. May be empty; empty queries classify as
//     general (validation rejects them before this point).
//
// # Outputs
//
//   - Class: One of episodic, procedural, graph, general.
func ClassifyQuery(query string) Class {
	q := strings.ToLower(query)

	for _, kw := range episodicKeywords {
		if strings.Contains(q, kw) {
			return ClassEpisodic
		}
	}
	for _, kw := range proceduralKeywords {
		if strings.Contains(q, kw) {
			return ClassProcedural
		}
	}
	for _, kw := range graphKeywords {
		if strings.Contains(q, kw) {
			return ClassGraph
		}
	}
	return ClassGeneral
}
