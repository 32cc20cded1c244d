//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of ServiceDW.
//
// ServiceDW is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// ServiceDW is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with ServiceDW. If not, see https://www.gnu.org/licenses/.

// dag_executor.go - Sequential DAG execution with trigger rules and retries
package dag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Result contains the outcome of a DAG run. Steps are in execution order.
type Result struct {
	DAGID    string        `json:"dag_id"`
	Success  bool          `json:"success"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Steps    []StepResult  `json:"steps"`
}

// Step returns the result of the step called id.
func (r *Result) Step(id string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return StepResult{}, false
}

// Err joins the errors of the failed steps, or returns nil.
func (r *Result) Err() error {
	var errs []error
	for _, s := range r.Steps {
		if s.Status == StatusFailed {
			errs = append(errs, fmt.Errorf("step %s: %w", s.ID, s.Err))
		}
	}
	return errors.Join(errs...)
}

// Executor runs DAG steps one at a time in topological order.
type Executor struct {
	logger *zap.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{logger: zap.L().Named("dag")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs every step whose trigger rule holds and skips the others.
// A step failure does not stop the run; it is recorded in the Result. A
// canceled context skips the remaining steps and is returned.
func (e *Executor) Execute(ctx context.Context, d *DAG) (*Result, error) {
	order, err := d.ExecutionOrder()
	if err != nil {
		return nil, err
	}
	logger := e.logger.With(zap.String("dag", d.ID()))
	res := &Result{DAGID: d.ID(), Started: time.Now(), Success: true}
	status := make(map[string]Status, len(order))

	for _, id := range order {
		step := d.steps[id]
		if ctx.Err() != nil {
			sr := StepResult{ID: id, Status: StatusSkipped, Reason: "context canceled"}
			res.Steps = append(res.Steps, sr)
			status[id] = sr.Status
			res.Success = false
			continue
		}
		if ok, reason := triggered(step, status); !ok {
			logger.Warn("step skipped", zap.String("step", id), zap.String("reason", reason))
			sr := StepResult{ID: id, Status: StatusSkipped, Reason: reason}
			res.Steps = append(res.Steps, sr)
			status[id] = sr.Status
			res.Success = false
			continue
		}

		sr := e.runStep(ctx, logger, step)
		res.Steps = append(res.Steps, sr)
		status[id] = sr.Status
		if sr.Status != StatusSucceeded {
			res.Success = false
		}
	}
	res.Duration = time.Since(res.Started)
	logger.Info("dag finished", zap.Bool("success", res.Success), zap.Duration("duration", res.Duration))
	return res, ctx.Err()
}

// triggered evaluates the trigger rule against finished dependencies.
func triggered(step *Step, status map[string]Status) (bool, string) {
	for _, dep := range step.Dependencies {
		st := status[dep]
		if step.Trigger == AllSuccess && st != StatusSucceeded {
			return false, fmt.Sprintf("dependency %s %s", dep, st)
		}
	}
	return true, ""
}

func (e *Executor) runStep(ctx context.Context, logger *zap.Logger, step *Step) StepResult {
	sr := StepResult{ID: step.ID, Started: time.Now()}
	maxRetries := 0
	if step.Retry != nil {
		maxRetries = step.Retry.MaxRetries
	}

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		sr.Attempts++
		err = runAttempt(ctx, step)
		if err == nil || ctx.Err() != nil || attempt == maxRetries {
			break
		}
		var delay time.Duration
		if step.Retry.Strategy != nil {
			delay = step.Retry.Strategy.Delay(attempt)
		}
		logger.Warn("step attempt failed, retrying",
			zap.String("step", step.ID),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}

	sr.Duration = time.Since(sr.Started)
	if err != nil {
		sr.Status = StatusFailed
		sr.Err = err
		sr.Error = err.Error()
		logger.Error("step failed", zap.String("step", step.ID), zap.Int("attempts", sr.Attempts), zap.Error(err))
		return sr
	}
	sr.Status = StatusSucceeded
	logger.Info("step succeeded", zap.String("step", step.ID), zap.Duration("duration", sr.Duration))
	return sr
}

func runAttempt(ctx context.Context, step *Step) error {
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}
	return step.Run(ctx)
}
