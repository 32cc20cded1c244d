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

package dag

import (
	"context"
	"time"
)

// TriggerRule decides whether a step runs given its dependencies' outcomes.
type TriggerRule string

const (
	// AllSuccess runs the step only when every dependency succeeded.
	AllSuccess TriggerRule = "all_success"
	// AllDone runs the step once every dependency finished, whatever the outcome.
	AllDone TriggerRule = "all_done"
)

// Status is the outcome of a step.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// StepFunc is the work of one step.
type StepFunc func(ctx context.Context) error

// BackoffStrategy gives the delay before retry attempt n (0-based).
type BackoffStrategy interface {
	Delay(attempt int) time.Duration
}

// RetryConfig defines retry behavior for a step.
type RetryConfig struct {
	MaxRetries int
	Strategy   BackoffStrategy
}

// ExponentialBackoff doubles BaseDelay per attempt up to MaxDelay.
type ExponentialBackoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (eb *ExponentialBackoff) Delay(attempt int) time.Duration {
	delay := eb.BaseDelay * time.Duration(1<<uint(attempt))
	if delay > eb.MaxDelay {
		delay = eb.MaxDelay
	}
	return delay
}

// FixedBackoff waits the same delay before every retry.
type FixedBackoff struct {
	FixedDelay time.Duration
}

func (fb *FixedBackoff) Delay(int) time.Duration {
	return fb.FixedDelay
}

// Step is a node of the DAG.
type Step struct {
	ID           string
	Description  string
	Dependencies []string
	Trigger      TriggerRule
	Retry        *RetryConfig
	Timeout      time.Duration
	Run          StepFunc
}

// StepResult records how a step ended.
type StepResult struct {
	ID       string        `json:"id"`
	Status   Status        `json:"status"`
	Attempts int           `json:"attempts"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}
