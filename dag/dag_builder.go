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

// dag_builder.go - Fluent API for DAG construction
package dag

import (
	"errors"
	"fmt"
	"time"
)

// DAGBuilder provides a fluent API for constructing DAGs.
type DAGBuilder struct {
	dag  *DAG
	errs []error
}

// StepOption configures a step.
type StepOption func(*Step)

// DependsOn declares upstream steps.
func DependsOn(ids ...string) StepOption {
	return func(s *Step) { s.Dependencies = append(s.Dependencies, ids...) }
}

// WithTrigger sets the trigger rule. The default is AllSuccess.
func WithTrigger(rule TriggerRule) StepOption {
	return func(s *Step) { s.Trigger = rule }
}

// WithRetries retries a failing step up to maxRetries times.
func WithRetries(maxRetries int, strategy BackoffStrategy) StepOption {
	return func(s *Step) { s.Retry = &RetryConfig{MaxRetries: maxRetries, Strategy: strategy} }
}

// WithTimeout bounds each attempt.
func WithTimeout(timeout time.Duration) StepOption {
	return func(s *Step) { s.Timeout = timeout }
}

// WithDescription sets the description.
func WithDescription(description string) StepOption {
	return func(s *Step) { s.Description = description }
}

// NewDAG creates a new DAG builder.
func NewDAG(id, name string) *DAGBuilder {
	return &DAGBuilder{
		dag: &DAG{
			id:    id,
			name:  name,
			steps: make(map[string]*Step),
		},
	}
}

// AddStep adds a step running fn.
func (db *DAGBuilder) AddStep(id string, fn StepFunc, opts ...StepOption) *DAGBuilder {
	if _, exists := db.dag.steps[id]; exists {
		db.errs = append(db.errs, fmt.Errorf("duplicate step %s", id))
		return db
	}
	if fn == nil {
		db.errs = append(db.errs, fmt.Errorf("step %s has no function", id))
		return db
	}
	s := &Step{ID: id, Trigger: AllSuccess, Run: fn}
	for _, opt := range opts {
		opt(s)
	}
	db.dag.steps[id] = s
	db.dag.order = append(db.dag.order, id)
	return db
}

// validate checks trigger rules, timeouts, missing dependencies and cycles.
func (db *DAGBuilder) validate() error {
	errs := append([]error(nil), db.errs...)
	for _, id := range db.dag.order {
		s := db.dag.steps[id]
		switch s.Trigger {
		case AllSuccess, AllDone:
		default:
			errs = append(errs, fmt.Errorf("step %s has unknown trigger rule %q", id, s.Trigger))
		}
		if s.Timeout < 0 {
			errs = append(errs, fmt.Errorf("step %s has a negative timeout", id))
		}
		if s.Retry != nil && s.Retry.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("step %s has a negative retry count", id))
		}
		for _, dep := range s.Dependencies {
			if dep == id {
				errs = append(errs, fmt.Errorf("step %s depends on itself", id))
			} else if _, ok := db.dag.steps[dep]; !ok {
				errs = append(errs, fmt.Errorf("step %s depends on non-existent step %s", id, dep))
			}
		}
	}
	if len(errs) == 0 {
		if _, err := db.dag.ExecutionOrder(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build validates and returns the constructed DAG.
func (db *DAGBuilder) Build() (*DAG, error) {
	if err := db.validate(); err != nil {
		return nil, err
	}
	return db.dag, nil
}
