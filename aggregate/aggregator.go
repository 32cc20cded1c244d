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

package aggregate

import (
	"context"
	"sort"

	"github.com/aaronlmathis/servicedw/core"
	"github.com/aaronlmathis/servicedw/transform"
)

// Aggregator folds records into a summary record.
type Aggregator interface {
	// Add processes a record for aggregation.
	Add(ctx context.Context, record core.Record) error
	// Result returns the aggregated fields.
	Result() (core.Record, error)
	// Reset clears the aggregator state for reuse.
	Reset()
	// Clone returns an empty aggregator with the same configuration.
	Clone() Aggregator
}

// Predicate selects records for conditional counts.
type Predicate func(core.Record) bool

// FieldIn matches records whose field, read as text, is one of values.
func FieldIn(field string, values ...string) Predicate {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return func(r core.Record) bool {
		_, ok := set[r.String(field)]
		return ok
	}
}

// Any matches every record.
func Any(core.Record) bool { return true }

// CountAggregator counts records, optionally only those matching When.
type CountAggregator struct {
	Output string
	When   Predicate
	n      int64
}

// Count counts all records into output.
func Count(output string) *CountAggregator {
	return &CountAggregator{Output: output}
}

// CountIf counts records matching when into output.
func CountIf(output string, when Predicate) *CountAggregator {
	return &CountAggregator{Output: output, When: when}
}

func (c *CountAggregator) Add(ctx context.Context, record core.Record) error {
	if c.When == nil || c.When(record) {
		c.n++
	}
	return nil
}

func (c *CountAggregator) Result() (core.Record, error) {
	return core.Record{c.Output: c.n}, nil
}

func (c *CountAggregator) Reset() { c.n = 0 }

func (c *CountAggregator) Clone() Aggregator {
	return &CountAggregator{Output: c.Output, When: c.When}
}

// SumAggregator sums the numeric values of Field. Non-numeric values are skipped.
type SumAggregator struct {
	Field  string
	Output string
	sum    float64
}

// Sum sums field into output.
func Sum(field, output string) *SumAggregator {
	return &SumAggregator{Field: field, Output: output}
}

func (s *SumAggregator) Add(ctx context.Context, record core.Record) error {
	if f, ok := transform.ParseFloat(record[s.Field]); ok {
		s.sum += f
	}
	return nil
}

func (s *SumAggregator) Result() (core.Record, error) {
	return core.Record{s.Output: s.sum}, nil
}

func (s *SumAggregator) Reset() { s.sum = 0 }

func (s *SumAggregator) Clone() Aggregator {
	return &SumAggregator{Field: s.Field, Output: s.Output}
}

// AvgAggregator averages the numeric values of Field. No values yields nil.
type AvgAggregator struct {
	Field  string
	Output string
	sum    float64
	n      int64
}

// Avg averages field into output.
func Avg(field, output string) *AvgAggregator {
	return &AvgAggregator{Field: field, Output: output}
}

func (a *AvgAggregator) Add(ctx context.Context, record core.Record) error {
	if f, ok := transform.ParseFloat(record[a.Field]); ok {
		a.sum += f
		a.n++
	}
	return nil
}

func (a *AvgAggregator) Result() (core.Record, error) {
	if a.n == 0 {
		return core.Record{a.Output: nil}, nil
	}
	return core.Record{a.Output: a.sum / float64(a.n)}, nil
}

func (a *AvgAggregator) Reset() { a.sum, a.n = 0, 0 }

func (a *AvgAggregator) Clone() Aggregator {
	return &AvgAggregator{Field: a.Field, Output: a.Output}
}

// MedianAggregator computes the median of the numeric values of Field.
// Even counts average the two middle values. No values yields nil.
type MedianAggregator struct {
	Field  string
	Output string
	values []float64
}

// Median computes the median of field into output.
func Median(field, output string) *MedianAggregator {
	return &MedianAggregator{Field: field, Output: output}
}

func (m *MedianAggregator) Add(ctx context.Context, record core.Record) error {
	if record.IsMissing(m.Field) {
		return nil
	}
	if f, ok := transform.ParseFloat(record[m.Field]); ok {
		m.values = append(m.values, f)
	}
	return nil
}

func (m *MedianAggregator) Result() (core.Record, error) {
	if len(m.values) == 0 {
		return core.Record{m.Output: nil}, nil
	}
	sorted := append([]float64(nil), m.values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return core.Record{m.Output: sorted[mid]}, nil
	}
	return core.Record{m.Output: (sorted[mid-1] + sorted[mid]) / 2}, nil
}

func (m *MedianAggregator) Reset() { m.values = nil }

func (m *MedianAggregator) Clone() Aggregator {
	return &MedianAggregator{Field: m.Field, Output: m.Output}
}

// ModeAggregator finds the most frequent non-missing value of Field.
// Ties go to the smallest value in string order. No values yields nil.
type ModeAggregator struct {
	Field  string
	Output string
	counts map[string]int
	values map[string]interface{}
}

// Mode computes the mode of field into output.
func Mode(field, output string) *ModeAggregator {
	return &ModeAggregator{Field: field, Output: output}
}

func (m *ModeAggregator) Add(ctx context.Context, record core.Record) error {
	if record.IsMissing(m.Field) {
		return nil
	}
	if m.counts == nil {
		m.counts = make(map[string]int)
		m.values = make(map[string]interface{})
	}
	key := record.String(m.Field)
	if _, seen := m.counts[key]; !seen {
		m.values[key] = record[m.Field]
	}
	m.counts[key]++
	return nil
}

func (m *ModeAggregator) Result() (core.Record, error) {
	keys := make([]string, 0, len(m.counts))
	for key := range m.counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	best, bestCount := "", 0
	for _, key := range keys {
		if c := m.counts[key]; c > bestCount {
			best, bestCount = key, c
		}
	}
	if bestCount == 0 {
		return core.Record{m.Output: nil}, nil
	}
	return core.Record{m.Output: m.values[best]}, nil
}

func (m *ModeAggregator) Reset() {
	m.counts, m.values = nil, nil
}

func (m *ModeAggregator) Clone() Aggregator {
	return &ModeAggregator{Field: m.Field, Output: m.Output}
}

// RatioAggregator divides a conditional count by another and scales it.
// A zero denominator yields nil. NumeratorOutput and DenominatorOutput, when
// set, also expose the raw counts.
type RatioAggregator struct {
	Output            string
	Numerator         Predicate
	Denominator       Predicate
	Scale             float64
	NumeratorOutput   string
	DenominatorOutput string
	num, den          int64
}

// Ratio builds a RatioAggregator. A nil denominator counts every record.
func Ratio(output string, numerator, denominator Predicate, scale float64) *RatioAggregator {
	if denominator == nil {
		denominator = Any
	}
	return &RatioAggregator{Output: output, Numerator: numerator, Denominator: denominator, Scale: scale}
}

// WithCounts names the fields that carry the raw numerator and denominator.
func (r *RatioAggregator) WithCounts(numeratorOutput, denominatorOutput string) *RatioAggregator {
	r.NumeratorOutput = numeratorOutput
	r.DenominatorOutput = denominatorOutput
	return r
}

func (r *RatioAggregator) Add(ctx context.Context, record core.Record) error {
	if r.Numerator(record) {
		r.num++
	}
	if r.Denominator(record) {
		r.den++
	}
	return nil
}

func (r *RatioAggregator) Result() (core.Record, error) {
	out := core.Record{r.Output: nil}
	if r.den > 0 {
		out[r.Output] = float64(r.num) / float64(r.den) * r.Scale
	}
	if r.NumeratorOutput != "" {
		out[r.NumeratorOutput] = r.num
	}
	if r.DenominatorOutput != "" {
		out[r.DenominatorOutput] = r.den
	}
	return out, nil
}

func (r *RatioAggregator) Reset() { r.num, r.den = 0, 0 }

func (r *RatioAggregator) Clone() Aggregator {
	c := *r
	c.num, c.den = 0, 0
	return &c
}

// Aggregate runs aggregators over records and merges their results.
func Aggregate(ctx context.Context, records []core.Record, aggregators ...Aggregator) (core.Record, error) {
	for _, a := range aggregators {
		a.Reset()
	}
	for _, r := range records {
		for _, a := range aggregators {
			if err := a.Add(ctx, r); err != nil {
				return nil, err
			}
		}
	}
	out := make(core.Record)
	for _, a := range aggregators {
		res, err := a.Result()
		if err != nil {
			return nil, err
		}
		for k, v := range res {
			out[k] = v
		}
	}
	return out, nil
}
