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

import "testing"

func TestClassifyQuery(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected Class
	}{
		{"temporal failure", "what failed yesterday in the deploy", ClassEpisodic},
		{"session history", "what happened in my last week of sessions", ClassEpisodic},
		{"howto", "how to configure the staging cluster", ClassProcedural},
		{"runbook", "find the runbook for rotating certs", ClassProcedural},
		{"dependency", "what depends on the auth package", ClassGraph},
		{"impact", "impact of removing the cache layer", ClassGraph},
		{"fallback", "notes about the quarterly roadmap", ClassGeneral},
		{"empty", "", ClassGeneral},
		{"case insensitive", "What FAILED Yesterday?", ClassEpisodic},
		{"episodic beats procedural", "how to find what failed yesterday", ClassEpisodic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyQuery(tt.query); got != tt.expected {
				t.Errorf("ClassifyQuery(%q) = %s, want %s", tt.query, got, tt.expected)
			}
		})
	}
}
