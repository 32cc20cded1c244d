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

// evaluate.go - KPI ratios computed in memory over cleaned requests
package kpi

import (
	"context"
	"math"

	"github.com/aaronlmathis/servicedw/aggregate"
	"github.com/aaronlmathis/servicedw/cleaning"
	"github.com/aaronlmathis/servicedw/core"
)

const (
	fieldStatus = "statut_demande"
	fieldDelay  = "delai_traitement_jours"
)

var (
	isTerminal  = aggregate.FieldIn(fieldStatus, cleaning.TerminalStatuses...)
	isRejected  = aggregate.FieldIn(fieldStatus, cleaning.StatusRejected)
	isValidated = aggregate.FieldIn(fieldStatus, cleaning.StatusValidated)
)

func filtered(records []core.Record, f Filter) []core.Record {
	if f.IsZero() {
		return records
	}
	out := make([]core.Record, 0, len(records))
	for _, r := range records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// round2 rounds percentages and averages like ROUND(x, 2) in the warehouse.
func round2(rec core.Record, fields ...string) core.Record {
	for _, field := range fields {
		if v, ok := rec[field].(float64); ok {
			rec[field] = math.Round(v*100) / 100
		}
	}
	return rec
}

// EvaluateDelay averages delai_traitement_jours over requests that have one.
func EvaluateDelay(ctx context.Context, records []core.Record, f Filter) (core.Record, error) {
	var known []core.Record
	for _, r := range filtered(records, f) {
		if !r.IsMissing(fieldDelay) {
			known = append(known, r)
		}
	}
	out, err := aggregate.Aggregate(ctx, known,
		aggregate.Avg(fieldDelay, "delai_moyen_jours"),
		aggregate.Count("nombre_demandes"),
	)
	if err != nil {
		return nil, err
	}
	return round2(out, "delai_moyen_jours"), nil
}

// EvaluateAbsorption is processed over total requests, in percent.
func EvaluateAbsorption(ctx context.Context, records []core.Record, f Filter) (core.Record, error) {
	out, err := aggregate.Aggregate(ctx, filtered(records, f), absorption())
	if err != nil {
		return nil, err
	}
	return round2(out, "taux_absorption_pct"), nil
}

// EvaluateAbsorptionByRegion groups the absorption rate by region in
// first-seen order.
func EvaluateAbsorptionByRegion(ctx context.Context, records []core.Record) ([]core.Record, error) {
	out, err := aggregate.NewGroupBy("region").With(absorption()).Process(ctx, records)
	if err != nil {
		return nil, err
	}
	for _, r := range out {
		round2(r, "taux_absorption_pct")
	}
	return out, nil
}

func absorption() aggregate.Aggregator {
	return aggregate.Ratio("taux_absorption_pct", isTerminal, nil, 100).
		WithCounts("demandes_traitees", "total_demandes")
}

// EvaluateRejection is rejected over decided requests, in percent.
func EvaluateRejection(ctx context.Context, records []core.Record, f Filter) (core.Record, error) {
	out, err := aggregate.Aggregate(ctx, filtered(records, f),
		aggregate.Ratio("taux_rejet_global_pct", isRejected, isTerminal, 100).WithCounts("demandes_rejetees", ""),
		aggregate.CountIf("demandes_validees", isValidated),
	)
	if err != nil {
		return nil, err
	}
	return round2(out, "taux_rejet_global_pct"), nil
}

// Preview merges the delay, absorption and rejection evaluations.
func Preview(ctx context.Context, records []core.Record, f Filter) (core.Record, error) {
	out := make(core.Record)
	for _, eval := range []func(context.Context, []core.Record, Filter) (core.Record, error){
		EvaluateDelay, EvaluateAbsorption, EvaluateRejection,
	} {
		rec, err := eval(ctx, records, f)
		if err != nil {
			return nil, err
		}
		for k, v := range rec {
			out[k] = v
		}
	}
	return out, nil
}
