// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor provides the bounded parallel fan-out primitive used
// by the recall orchestrator: run N named operations concurrently under
// a concurrency cap and an overall deadline, and return a tagged
// outcome plus elapsed duration for every operation.
//
// # Design
//
// Each operation runs in its own goroutine gated by a weighted
// semaphore. Operations that have not finished by the deadline are
// abandoned: their context is cancelled, their semaphore slot is
// released on the way out, and they are reported as timed out rather
// than failed. A Run call never blocks longer than the deadline plus a
// small grace period for cleanup, even if an operation ignores its
// context.
//
// # Thread Safety
//
// Executor is stateless apart from its grace setting and is safe for
// concurrent use.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
)

var tracer = otel.Tracer("aleutian.recall.executor")

// DefaultGrace is how long Run waits past the deadline for abandoned
// operations to acknowledge cancellation before it stops collecting.
const DefaultGrace = 250 * time.Millisecond

// =============================================================================
// Outcomes
// =============================================================================

// Status tags the result of one operation.
type Status string

const (
	// StatusOK: the operation returned a value before the deadline.
	StatusOK Status = "ok"

	// StatusTimeout: the operation was abandoned at the deadline (or
	// the caller's context was cancelled first).
	StatusTimeout Status = "timeout"

	// StatusError: the operation returned an error of its own.
	StatusError Status = "error"
)

// Operation is one named unit of work. Fn must honor ctx cancellation;
// if it does not, Run still returns on time and the goroutine is leaked
// until Fn eventually returns, at which point its result is discarded.
type Operation struct {
	Name string
	Fn   func(ctx context.Context) (any, error)
}

// Outcome is the per-operation result of a Run call.
type Outcome struct {
	Status  Status
	Value   any
	Err     error
	Elapsed time.Duration
}

// =============================================================================
// Executor
// =============================================================================

// Executor runs named operations in parallel under a cap and deadline.
type Executor struct {
	grace time.Duration
}

// New returns an Executor with the default cleanup grace.
func New() *Executor {
	return &Executor{grace: DefaultGrace}
}

// NewWithGrace returns an Executor with a custom cleanup grace. A
// non-positive grace falls back to DefaultGrace.
func NewWithGrace(grace time.Duration) *Executor {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Executor{grace: grace}
}

// Run executes ops with at most cap running concurrently and an overall
// deadline.
//
// # Description
//
// Every operation gets exactly one Outcome in the returned map, keyed
// by name. Operations still waiting for a semaphore slot or still
// executing when the deadline fires are recorded as StatusTimeout.
// A panic inside an operation is recovered and recorded as StatusError.
//
// # Inputs
//
//   - ctx: caller context; cancellation propagates to every operation.
//   - ops: operations with unique names. A duplicate name keeps the
//     last outcome to arrive.
//   - cap: concurrency cap; values < 1 are raised to 1.
//   - deadline: overall budget for the whole fan-out; must be > 0.
//
// # Outputs
//
//   - map[string]Outcome: one entry per distinct operation name.
//
// # Limitations
//
//   - Run blocks up to deadline + grace. It never blocks longer.
func (e *Executor) Run(ctx context.Context, ops []Operation, cap int, deadline time.Duration) map[string]Outcome {
	ctx, span := tracer.Start(ctx, "executor.Run")
	defer span.End()

	if cap < 1 {
		cap = 1
	}
	span.SetAttributes(
		attribute.Int("operations", len(ops)),
		attribute.Int("concurrency_cap", cap),
		attribute.String("deadline", deadline.String()),
	)

	outcomes := make(map[string]Outcome, len(ops))
	if len(ops) == 0 {
		return outcomes
	}

	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	sem := semaphore.NewWeighted(int64(cap))

	type named struct {
		name    string
		outcome Outcome
	}
	results := make(chan named, len(ops))

	start := time.Now()
	for _, op := range ops {
		go func(op Operation) {
			opStart := time.Now()

			if err := sem.Acquire(runCtx, 1); err != nil {
				// Never got a slot before the deadline.
				results <- named{op.Name, Outcome{
					Status:  StatusTimeout,
					Err:     err,
					Elapsed: time.Since(opStart),
				}}
				return
			}
			defer sem.Release(1)

			type reply struct {
				value any
				err   error
			}
			done := make(chan reply, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						buf := make([]byte, 4096)
						n := runtime.Stack(buf, false)
						slog.Error("panic in executor operation",
							slog.String("operation", op.Name),
							slog.Any("panic", r),
							slog.String("stack", string(buf[:n])),
						)
						done <- reply{nil, fmt.Errorf("operation %s panicked: %v", op.Name, r)}
					}
				}()
				v, err := op.Fn(runCtx)
				done <- reply{v, err}
			}()

			select {
			case r := <-done:
				elapsed := time.Since(opStart)
				switch {
				case r.err == nil:
					results <- named{op.Name, Outcome{Status: StatusOK, Value: r.value, Elapsed: elapsed}}
				case runCtx.Err() != nil || errors.Is(r.err, context.DeadlineExceeded) || errors.Is(r.err, context.Canceled):
					results <- named{op.Name, Outcome{Status: StatusTimeout, Err: r.err, Elapsed: elapsed}}
				default:
					results <- named{op.Name, Outcome{Status: StatusError, Err: r.err, Elapsed: elapsed}}
				}
			case <-runCtx.Done():
				// Abandon: the slot is released by the deferred call and
				// the inner goroutine's eventual reply is discarded.
				results <- named{op.Name, Outcome{
					Status:  StatusTimeout,
					Err:     runCtx.Err(),
					Elapsed: time.Since(opStart),
				}}
			}
		}(op)
	}

	// Collect until all outcomes arrive or deadline+grace passes.
	collect := time.NewTimer(deadline + e.grace)
	defer collect.Stop()

	pending := len(ops)
	for pending > 0 {
		select {
		case r := <-results:
			outcomes[r.name] = r.outcome
			pending--
		case <-collect.C:
			// Stragglers that ignored cancellation: mark whatever has
			// not reported as timed out.
			for _, op := range ops {
				if _, ok := outcomes[op.Name]; !ok {
					outcomes[op.Name] = Outcome{
						Status:  StatusTimeout,
						Err:     context.DeadlineExceeded,
						Elapsed: time.Since(start),
					}
				}
			}
			pending = 0
		}
	}

	ok, timedOut, failed := 0, 0, 0
	for _, o := range outcomes {
		switch o.Status {
		case StatusOK:
			ok++
		case StatusTimeout:
			timedOut++
		case StatusError:
			failed++
		}
	}
	span.SetAttributes(
		attribute.Int("ok", ok),
		attribute.Int("timeout", timedOut),
		attribute.Int("error", failed),
	)
	slog.Debug("executor fan-out settled",
		slog.Int("operations", len(ops)),
		slog.Int("ok", ok),
		slog.Int("timeout", timedOut),
		slog.Int("error", failed),
		slog.Duration("elapsed", time.Since(start)),
	)

	return outcomes
}
