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

package transform

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aaronlmathis/servicedw/core"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Package transform provides the record-level transformations used by the
// cleaners. Every transformer returns a new record and leaves its input alone.

// DateLayouts are tried in order by ParseDate when no layout is given.
var DateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"02/01/2006",
	"2006/01/02",
	"02-01-2006",
	"02/01/2006 15:04",
}

// FrenchMonths holds month names indexed by month number minus one.
var FrenchMonths = [12]string{
	"Janvier", "Février", "Mars", "Avril", "Mai", "Juin",
	"Juillet", "Août", "Septembre", "Octobre", "Novembre", "Décembre",
}

// FrenchWeekdays is indexed by time.Weekday.
var FrenchWeekdays = [7]string{
	"Dimanche", "Lundi", "Mardi", "Mercredi", "Jeudi", "Vendredi", "Samedi",
}

// Mojibake maps UTF-8 text that was decoded as Latin-1 back to the intended characters.
var Mojibake = []struct{ Broken, Fixed string }{
	{"Ã©", "é"}, {"Ã¨", "è"}, {"Ãª", "ê"}, {"Ã«", "ë"},
	{"Ã\u00a0", "à"}, {"Ã¢", "â"}, {"Ã§", "ç"}, {"Ã´", "ô"},
	{"Ã®", "î"}, {"Ã¯", "ï"}, {"Ã»", "û"}, {"Ã¹", "ù"},
	{"Ã‰", "É"}, {"Ãˆ", "È"}, {"Ã€", "À"}, {"Ã‡", "Ç"},
	{"â€™", "’"}, {"Å“", "œ"},
}

// RepairText applies the Mojibake table to s.
func RepairText(s string) string {
	if !strings.ContainsAny(s, "Ãâ€Å") {
		return s
	}
	for _, m := range Mojibake {
		s = strings.ReplaceAll(s, m.Broken, m.Fixed)
	}
	return s
}

// Title trims, collapses inner whitespace and title-cases s.
func Title(s string) string {
	// Casers carry state; build one per call.
	return cases.Title(language.French).String(collapse(s))
}

// CapitalizeText upper-cases the first letter of s and lower-cases the rest.
func CapitalizeText(s string) string {
	s = collapse(s)
	if s == "" {
		return s
	}
	lowered := []rune(cases.Lower(language.French).String(s))
	return cases.Upper(language.French).String(string(lowered[:1])) + string(lowered[1:])
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// mapText rewrites string fields through fn. Non-string and nil values pass through.
func mapText(fields []string, fn func(string) string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := record.Clone()
		for _, field := range fields {
			if s, ok := result[field].(string); ok {
				result[field] = fn(s)
			}
		}
		return result, nil
	})
}

// mapValue rewrites each listed field present in the record.
func mapValue(fields []string, fn func(interface{}) interface{}) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := record.Clone()
		for _, field := range fields {
			if v, ok := result[field]; ok {
				result[field] = fn(v)
			}
		}
		return result, nil
	})
}

// Select keeps only the listed fields.
func Select(fields ...string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(fields))
		for _, field := range fields {
			if value, exists := record[field]; exists {
				result[field] = value
			}
		}
		return result, nil
	})
}

// Rename renames fields according to mapping (old name to new name).
func Rename(mapping map[string]string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(record))
		for key, value := range record {
			if newKey, exists := mapping[key]; exists {
				result[newKey] = value
			} else {
				result[key] = value
			}
		}
		return result, nil
	})
}

// AddField sets field to the value computed from the incoming record.
func AddField(field string, fn func(core.Record) interface{}) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := record.Clone()
		result[field] = fn(record)
		return result, nil
	})
}

// Default sets field to value when the field is absent from the record.
func Default(field string, value interface{}) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		if _, ok := record[field]; ok {
			return record.Clone(), nil
		}
		result := record.Clone()
		result[field] = value
		return result, nil
	})
}

// FillNull replaces absent, nil or blank values of field with value.
func FillNull(field string, value interface{}) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := record.Clone()
		if result.IsMissing(field) {
			result[field] = value
		}
		return result, nil
	})
}

// TrimSpace trims leading and trailing whitespace.
func TrimSpace(fields ...string) core.Transformer {
	return mapText(fields, strings.TrimSpace)
}

// CollapseSpace trims and reduces inner whitespace runs to one space.
func CollapseSpace(fields ...string) core.Transformer {
	return mapText(fields, collapse)
}

// TitleCase trims, collapses whitespace and title-cases with French rules.
func TitleCase(fields ...string) core.Transformer {
	return mapText(fields, Title)
}

// Capitalize upper-cases the first letter and lower-cases the rest.
func Capitalize(fields ...string) core.Transformer {
	return mapText(fields, CapitalizeText)
}

// RepairEncoding substitutes known mojibake sequences.
func RepairEncoding(fields ...string) core.Transformer {
	return mapText(fields, RepairText)
}

// ParseDateValue parses v with layouts, or DateLayouts when none are given.
func ParseDateValue(v interface{}, layouts ...string) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if len(layouts) == 0 {
			layouts = DateLayouts
		}
		for _, layout := range layouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// ParseDate converts field to time.Time. Unparseable values become nil.
func ParseDate(field string, layouts ...string) core.Transformer {
	return mapValue([]string{field}, func(v interface{}) interface{} {
		if t, ok := ParseDateValue(v, layouts...); ok {
			return t
		}
		return nil
	})
}

// ParseFloat reads v as a float. Text uses '.' or ',' as decimal separator.
func ParseFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(n)
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) {
			return f, true
		}
		if f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64); err == nil && !math.IsNaN(f) {
			return f, true
		}
	}
	return 0, false
}

// ToFloat converts fields to float64. Non-numeric values become nil.
func ToFloat(fields ...string) core.Transformer {
	return mapValue(fields, func(v interface{}) interface{} {
		if f, ok := ParseFloat(v); ok {
			return f
		}
		return nil
	})
}

// ToFloatOrZero converts fields to float64. Non-numeric and missing values become 0.
func ToFloatOrZero(fields ...string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := record.Clone()
		for _, field := range fields {
			f, _ := ParseFloat(result[field])
			result[field] = f
		}
		return result, nil
	})
}

// ToInt converts fields to int, rounding to nearest. Non-numeric values become nil.
func ToInt(fields ...string) core.Transformer {
	return mapValue(fields, func(v interface{}) interface{} {
		if f, ok := ParseFloat(v); ok {
			return int(math.Round(f))
		}
		return nil
	})
}

// Clip bounds numeric fields to [lo, hi] after coercing non-numeric values to 0.
func Clip(lo, hi float64, fields ...string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := record.Clone()
		for _, field := range fields {
			f, _ := ParseFloat(result[field])
			result[field] = math.Min(math.Max(f, lo), hi)
		}
		return result, nil
	})
}

// ReplaceValues swaps exact string matches of field through mapping.
func ReplaceValues(field string, mapping map[string]string) core.Transformer {
	return mapText([]string{field}, func(s string) string {
		if r, ok := mapping[s]; ok {
			return r
		}
		return s
	})
}

// MapValues rewrites field with fn. Absent fields are left absent.
func MapValues(field string, fn func(interface{}) interface{}) core.Transformer {
	return mapValue([]string{field}, fn)
}

// DateParts derives year, month and French weekday name from a date field.
// Empty output names are skipped. A nil date yields nil parts.
func DateParts(dateField, yearField, monthField, weekdayField string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := record.Clone()
		t, ok := ParseDateValue(record[dateField])
		set := func(field string, v interface{}) {
			if field == "" {
				return
			}
			if !ok {
				result[field] = nil
				return
			}
			result[field] = v
		}
		set(yearField, t.Year())
		set(monthField, int(t.Month()))
		set(weekdayField, FrenchWeekdays[t.Weekday()])
		return result, nil
	})
}

// MonthNameOf returns the French name of month n (1-12), or "" when out of range.
func MonthNameOf(n int) string {
	if n < 1 || n > 12 {
		return ""
	}
	return FrenchMonths[n-1]
}

// MonthName writes the French month name of monthField into outField.
func MonthName(monthField, outField string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := record.Clone()
		result[outField] = nil
		if f, ok := ParseFloat(record[monthField]); ok {
			if name := MonthNameOf(int(f)); name != "" {
				result[outField] = name
			}
		}
		return result, nil
	})
}

// Chain composes transformers into one.
func Chain(transformers ...core.Transformer) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		current := record
		for _, t := range transformers {
			next, err := t.Transform(ctx, current)
			if err != nil {
				return nil, err
			}
			current = next
		}
		return current, nil
	})
}

// Apply runs t over every record of a dataset.
func Apply(ctx context.Context, t core.Transformer, records []core.Record) ([]core.Record, error) {
	out := make([]core.Record, 0, len(records))
	for _, r := range records {
		next, err := t.Transform(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, next)
	}
	return out, nil
}
