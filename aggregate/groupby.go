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
	"fmt"
	"strings"

	"github.com/aaronlmathis/servicedw/core"
)

// GroupBy partitions records by the text values of its group fields and runs
// a fresh copy of every aggregator per group. Groups come out in first-seen order.
type GroupBy struct {
	groupFields []string
	aggregators []Aggregator
}

// NewGroupBy creates a GroupBy over groupFields.
func NewGroupBy(groupFields ...string) *GroupBy {
	return &GroupBy{groupFields: groupFields}
}

// With adds aggregators.
func (g *GroupBy) With(aggregators ...Aggregator) *GroupBy {
	g.aggregators = append(g.aggregators, aggregators...)
	return g
}

// Count adds a row count into outputField.
func (g *GroupBy) Count(outputField string) *GroupBy {
	return g.With(Count(outputField))
}

// Sum adds a sum of field into outputField.
func (g *GroupBy) Sum(field, outputField string) *GroupBy {
	return g.With(Sum(field, outputField))
}

// Avg adds an average of field into outputField.
func (g *GroupBy) Avg(field, outputField string) *GroupBy {
	return g.With(Avg(field, outputField))
}

// Median adds a median of field into outputField.
func (g *GroupBy) Median(field, outputField string) *GroupBy {
	return g.With(Median(field, outputField))
}

// Mode adds the most frequent value of field into outputField.
func (g *GroupBy) Mode(field, outputField string) *GroupBy {
	return g.With(Mode(field, outputField))
}

type group struct {
	key         core.Record
	aggregators []Aggregator
}

// Process aggregates records and returns one record per group.
func (g *GroupBy) Process(ctx context.Context, records []core.Record) ([]core.Record, error) {
	index := make(map[string]*group)
	var order []*group

	for _, record := range records {
		key := g.buildGroupKey(record)
		grp, ok := index[key]
		if !ok {
			grp = &group{key: make(core.Record, len(g.groupFields))}
			for _, f := range g.groupFields {
				grp.key[f] = record[f]
			}
			for _, a := range g.aggregators {
				grp.aggregators = append(grp.aggregators, a.Clone())
			}
			index[key] = grp
			order = append(order, grp)
		}
		for _, a := range grp.aggregators {
			if err := a.Add(ctx, record); err != nil {
				return nil, fmt.Errorf("aggregation error: %w", err)
			}
		}
	}

	results := make([]core.Record, 0, len(order))
	for _, grp := range order {
		result := grp.key.Clone()
		for _, a := range grp.aggregators {
			value, err := a.Result()
			if err != nil {
				return nil, fmt.Errorf("aggregation result: %w", err)
			}
			for k, v := range value {
				result[k] = v
			}
		}
		results = append(results, result)
	}
	return results, nil
}

func (g *GroupBy) buildGroupKey(record core.Record) string {
	parts := make([]string, len(g.groupFields))
	for i, field := range g.groupFields {
		parts[i] = record.String(field)
	}
	return strings.Join(parts, "\x1f")
}
