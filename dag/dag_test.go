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
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func noop(context.Context) error { return nil }

func record(trace *[]string, id string, err error) StepFunc {
	return func(context.Context) error {
		*trace = append(*trace, id)
		return err
	}
}

func TestExecutionOrder_Deterministic(t *testing.T) {
	d, err := NewDAG("etl", "ETL").
		AddStep("report", noop, DependsOn("load", "preview")).
		AddStep("clean", noop).
		AddStep("load", noop, DependsOn("clean")).
		AddStep("preview", noop, DependsOn("clean")).
		Build()
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		order, err := d.ExecutionOrder()
		require.NoError(t, err)
		assert.Equal(t, []string{"clean", "load", "preview", "report"}, order)
	}
	assert.Equal(t, []string{"load", "preview"}, d.Downstream("clean"))
	assert.Equal(t, []string{"load", "preview"}, d.Dependencies("report"))
	assert.Contains(t, d.String(), "report <- load, preview [all_success]")
}

func TestBuild_Cycle(t *testing.T) {
	_, err := NewDAG("c", "cycle").
		AddStep("a", noop, DependsOn("c")).
		AddStep("b", noop, DependsOn("a")).
		AddStep("c", noop, DependsOn("b")).
		AddStep("d", noop).
		Build()
	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"a", "b", "c"}, ce.Steps)
}

func TestBuild_Invalid(t *testing.T) {
	_, err := NewDAG("x", "invalid").
		AddStep("a", noop, DependsOn("missing")).
		AddStep("a", noop).
		AddStep("b", nil).
		AddStep("c", noop, WithTrigger("sometimes")).
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step a")
	assert.Contains(t, err.Error(), "step b has no function")
	assert.Contains(t, err.Error(), "non-existent step missing")
	assert.Contains(t, err.Error(), `unknown trigger rule "sometimes"`)
}

func TestExecute_AllSuccessSkipsAfterFailure(t *testing.T) {
	var trace []string
	boom := errors.New("connection refused")
	d, err := NewDAG("run", "run").
		AddStep("clean", record(&trace, "clean", nil)).
		AddStep("load", record(&trace, "load", boom), DependsOn("clean")).
		AddStep("kpi", record(&trace, "kpi", nil), DependsOn("load")).
		AddStep("report", record(&trace, "report", nil), DependsOn("load", "kpi"), WithTrigger(AllDone)).
		Build()
	require.NoError(t, err)

	res, err := NewExecutor(WithLogger(zap.NewNop())).Execute(context.Background(), d)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, []string{"clean", "load", "report"}, trace)

	load, _ := res.Step("load")
	assert.Equal(t, StatusFailed, load.Status)
	assert.Equal(t, "connection refused", load.Error)
	kpi, _ := res.Step("kpi")
	assert.Equal(t, StatusSkipped, kpi.Status)
	assert.Equal(t, "dependency load failed", kpi.Reason)
	report, _ := res.Step("report")
	assert.Equal(t, StatusSucceeded, report.Status)

	assert.ErrorIs(t, res.Err(), boom)
	assert.Contains(t, res.Err().Error(), "step load")
}

func TestExecute_Retries(t *testing.T) {
	var calls int32
	flaky := func(context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("not yet")
		}
		return nil
	}
	d, err := NewDAG("r", "retry").
		AddStep("connect", flaky, WithRetries(2, &FixedBackoff{FixedDelay: time.Millisecond})).
		Build()
	require.NoError(t, err)

	res, err := NewExecutor(WithLogger(zap.NewNop())).Execute(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, res.Success)
	sr, _ := res.Step("connect")
	assert.Equal(t, 3, sr.Attempts)
	assert.NoError(t, res.Err())
}

func TestExecute_Timeout(t *testing.T) {
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	d, err := NewDAG("t", "timeout").AddStep("slow", slow, WithTimeout(10*time.Millisecond)).Build()
	require.NoError(t, err)

	res, err := NewExecutor(WithLogger(zap.NewNop())).Execute(context.Background(), d)
	require.NoError(t, err)
	sr, _ := res.Step("slow")
	assert.Equal(t, StatusFailed, sr.Status)
	assert.ErrorIs(t, sr.Err, context.DeadlineExceeded)
}

func TestExecute_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d, err := NewDAG("k", "cancel").
		AddStep("first", func(context.Context) error { cancel(); return nil }).
		AddStep("second", noop, DependsOn("first")).
		Build()
	require.NoError(t, err)

	res, err := NewExecutor(WithLogger(zap.NewNop())).Execute(ctx, d)
	assert.ErrorIs(t, err, context.Canceled)
	second, _ := res.Step("second")
	assert.Equal(t, StatusSkipped, second.Status)
	assert.False(t, res.Success)
}

func TestExponentialBackoff(t *testing.T) {
	b := &ExponentialBackoff{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 4*time.Second, b.Delay(2))
	assert.Equal(t, 5*time.Second, b.Delay(3))
}
