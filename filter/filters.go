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

package filter

import (
	"context"
	"strings"
	"sync"

	"github.com/aaronlmathis/servicedw/core"
)

// Package filter provides composable record filters.

// NotNull excludes records where field is absent, nil or blank text.
func NotNull(field string) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		return !record.IsMissing(field), nil
	})
}

// In includes records whose field, read as text, is one of values.
func In(field string, values ...string) core.Filter {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		if _, ok := record[field]; !ok {
			return false, nil
		}
		_, ok := set[record.String(field)]
		return ok, nil
	})
}

// Equals includes records whose field, read as text, equals value.
func Equals(field, value string) core.Filter {
	return In(field, value)
}

// And requires every filter to pass.
func And(filters ...core.Filter) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		for _, filter := range filters {
			include, err := filter.ShouldInclude(ctx, record)
			if err != nil {
				return false, err
			}
			if !include {
				return false, nil
			}
		}
		return true, nil
	})
}

// Or requires at least one filter to pass.
func Or(filters ...core.Filter) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		for _, filter := range filters {
			include, err := filter.ShouldInclude(ctx, record)
			if err != nil {
				return false, err
			}
			if include {
				return true, nil
			}
		}
		return false, nil
	})
}

// Not negates filter.
func Not(filter core.Filter) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		include, err := filter.ShouldInclude(ctx, record)
		if err != nil {
			return false, err
		}
		return !include, nil
	})
}

// Custom wraps a plain predicate.
func Custom(predicate func(core.Record) bool) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		return predicate(record), nil
	})
}

// Dedupe keeps the first record seen for each key and drops the rest.
// It is stateful: use one instance per dataset.
type Dedupe struct {
	mu      sync.Mutex
	fields  []string
	seen    map[string]struct{}
	dropped int
}

// FirstByKey returns a Dedupe keyed on the text values of fields.
func FirstByKey(fields ...string) *Dedupe {
	return &Dedupe{fields: fields, seen: make(map[string]struct{})}
}

// ShouldInclude implements core.Filter.
func (d *Dedupe) ShouldInclude(ctx context.Context, record core.Record) (bool, error) {
	parts := make([]string, len(d.fields))
	for i, f := range d.fields {
		parts[i] = record.String(f)
	}
	key := strings.Join(parts, "\x1f")

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		d.dropped++
		return false, nil
	}
	d.seen[key] = struct{}{}
	return true, nil
}

// Dropped returns how many records were rejected as duplicates.
func (d *Dedupe) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Apply keeps the records of a dataset that pass filter, in order.
func Apply(ctx context.Context, filter core.Filter, records []core.Record) ([]core.Record, error) {
	out := make([]core.Record, 0, len(records))
	for _, r := range records {
		ok, err := filter.ShouldInclude(ctx, r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}
