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

import "errors"

var (
	// ErrEmptyQuery is returned when a recall request carries no query
	// text.
	ErrEmptyQuery = errors.New("query must not be empty")

	// ErrInvalidCascadeDepth is returned when the requested cascade
	// depth is outside [1, 3].
	ErrInvalidCascadeDepth = errors.New("cascade depth must be between 1 and 3")

	// ErrAllSourcesFailed is returned when every tier-1 source call
	// timed out or errored.
	ErrAllSourcesFailed = errors.New("all recall sources failed")

	// ErrNoSources is returned when the orchestrator is constructed
	// without any sources.
	ErrNoSources = errors.New("at least one source is required")

	// ErrInvalidStrategy is returned when a strategy switch names an
	// unknown optimization objective.
	ErrInvalidStrategy = errors.New("unknown tuning strategy")
)
