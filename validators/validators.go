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

// validators.go - Data quality checks for cleaned datasets
package validators

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/aaronlmathis/servicedw/core"
	"github.com/aaronlmathis/servicedw/transform"
)

// DataQualityValidator checks a cleaned dataset against record-count, field
// presence, null-rate and per-field value rules.
type DataQualityValidator struct {
	Name            string                    // Dataset name carried into the report
	MinRecords      int                       // Minimum number of records required
	MaxRecords      int                       // Maximum number of records allowed (0 = unlimited)
	MaxNullRate     float64                   // Maximum null rate per checked field (0 disables)
	NullRateFields  []string                  // Fields the null rate applies to (empty = all fields)
	RequiredFields  []string                  // Fields that must be present in every record
	FieldValidators map[string]FieldValidator // Per-field value rules
	MaxExamples     int                       // Offending records kept per rule
}

// FieldValidator defines value rules for one field. Missing values are only
// rejected when NotNull is set.
type FieldValidator struct {
	NotNull       bool
	AllowedValues []string
	Min           *float64
	Max           *float64
	Pattern       *regexp.Regexp
}

// Violation is one failed rule.
type Violation struct {
	Rule    string `json:"rule"`
	Field   string `json:"field,omitempty"`
	Count   int    `json:"count"`
	Rows    []int  `json:"rows,omitempty"`
	Message string `json:"message"`
}

// ValidationReport is the outcome of a validation run.
type ValidationReport struct {
	Dataset    string      `json:"dataset"`
	Records    int         `json:"records"`
	Violations []Violation `json:"violations"`
}

// Valid reports whether no rule failed.
func (r ValidationReport) Valid() bool { return len(r.Violations) == 0 }

// Err summarizes the violations as an error, or nil when valid.
func (r ValidationReport) Err() error {
	if r.Valid() {
		return nil
	}
	msgs := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		msgs[i] = v.Message
	}
	return fmt.Errorf("validation of %s failed: %s", r.Dataset, strings.Join(msgs, "; "))
}

// DataQualityOption configures a DataQualityValidator.
type DataQualityOption func(*DataQualityValidator)

// WithName sets the dataset name used in reports.
func WithName(name string) DataQualityOption {
	return func(dqv *DataQualityValidator) { dqv.Name = name }
}

// WithMaxRecords sets the maximum record count.
func WithMaxRecords(max int) DataQualityOption {
	return func(dqv *DataQualityValidator) { dqv.MaxRecords = max }
}

// WithMaxNullRate limits the null rate of fields. No fields means every field seen.
func WithMaxNullRate(rate float64, fields ...string) DataQualityOption {
	return func(dqv *DataQualityValidator) {
		dqv.MaxNullRate = rate
		dqv.NullRateFields = fields
	}
}

// WithFieldValidator adds a field-specific validator.
func WithFieldValidator(field string, validator FieldValidator) DataQualityOption {
	return func(dqv *DataQualityValidator) {
		if dqv.FieldValidators == nil {
			dqv.FieldValidators = make(map[string]FieldValidator)
		}
		dqv.FieldValidators[field] = validator
	}
}

// WithAllowedValues restricts a field to a closed vocabulary.
func WithAllowedValues(field string, values ...string) DataQualityOption {
	return func(dqv *DataQualityValidator) {
		fv := dqv.FieldValidators[field]
		fv.AllowedValues = values
		WithFieldValidator(field, fv)(dqv)
	}
}

// WithRange bounds a numeric field, both ends inclusive.
func WithRange(field string, min, max float64) DataQualityOption {
	return func(dqv *DataQualityValidator) {
		fv := dqv.FieldValidators[field]
		fv.Min, fv.Max = &min, &max
		WithFieldValidator(field, fv)(dqv)
	}
}

// WithNotNull rejects missing values in the given fields.
func WithNotNull(fields ...string) DataQualityOption {
	return func(dqv *DataQualityValidator) {
		for _, f := range fields {
			fv := dqv.FieldValidators[f]
			fv.NotNull = true
			WithFieldValidator(f, fv)(dqv)
		}
	}
}

// NewDataQualityValidator creates a validator with functional options.
func NewDataQualityValidator(minRecords int, requiredFields []string, options ...DataQualityOption) *DataQualityValidator {
	dqv := &DataQualityValidator{
		MinRecords:      minRecords,
		RequiredFields:  requiredFields,
		FieldValidators: make(map[string]FieldValidator),
		MaxExamples:     5,
	}
	for _, option := range options {
		option(dqv)
	}
	return dqv
}

// Validate runs every rule over records and collects the violations.
func (dqv *DataQualityValidator) Validate(ctx context.Context, records []core.Record) (ValidationReport, error) {
	report := ValidationReport{Dataset: dqv.Name, Records: len(records)}

	if len(records) < dqv.MinRecords {
		report.add(Violation{Rule: "min_records", Count: len(records),
			Message: fmt.Sprintf("insufficient records: got %d, need at least %d", len(records), dqv.MinRecords)})
	}
	if dqv.MaxRecords > 0 && len(records) > dqv.MaxRecords {
		report.add(Violation{Rule: "max_records", Count: len(records),
			Message: fmt.Sprintf("too many records: got %d, maximum allowed %d", len(records), dqv.MaxRecords)})
	}
	if len(records) == 0 {
		return report, nil
	}

	for _, field := range dqv.RequiredFields {
		rows := dqv.collect(records, func(r core.Record) bool {
			_, ok := r[field]
			return !ok
		})
		if len(rows.all) > 0 {
			report.add(Violation{Rule: "required", Field: field, Count: len(rows.all), Rows: rows.examples,
				Message: fmt.Sprintf("field %s missing from %d records", field, len(rows.all))})
		}
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}

	if dqv.MaxNullRate > 0 {
		for _, field := range dqv.nullRateFields(records) {
			rows := dqv.collect(records, func(r core.Record) bool { return r.IsMissing(field) })
			rate := float64(len(rows.all)) / float64(len(records))
			if rate > dqv.MaxNullRate {
				report.add(Violation{Rule: "null_rate", Field: field, Count: len(rows.all), Rows: rows.examples,
					Message: fmt.Sprintf("field %s has null rate %.2f, exceeds maximum %.2f", field, rate, dqv.MaxNullRate)})
			}
		}
	}

	fields := make([]string, 0, len(dqv.FieldValidators))
	for f := range dqv.FieldValidators {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		dqv.validateField(&report, records, field, dqv.FieldValidators[field])
	}
	return report, nil
}

func (dqv *DataQualityValidator) validateField(report *ValidationReport, records []core.Record, field string, fv FieldValidator) {
	if fv.NotNull {
		rows := dqv.collect(records, func(r core.Record) bool { return r.IsMissing(field) })
		if len(rows.all) > 0 {
			report.add(Violation{Rule: "not_null", Field: field, Count: len(rows.all), Rows: rows.examples,
				Message: fmt.Sprintf("field %s is missing in %d records", field, len(rows.all))})
		}
	}

	if len(fv.AllowedValues) > 0 {
		allowed := make(map[string]struct{}, len(fv.AllowedValues))
		for _, v := range fv.AllowedValues {
			allowed[v] = struct{}{}
		}
		rows := dqv.collect(records, func(r core.Record) bool {
			if r.IsMissing(field) {
				return false
			}
			_, ok := allowed[r.String(field)]
			return !ok
		})
		if len(rows.all) > 0 {
			report.add(Violation{Rule: "allowed_values", Field: field, Count: len(rows.all), Rows: rows.examples,
				Message: fmt.Sprintf("field %s has %d values outside %v", field, len(rows.all), fv.AllowedValues)})
		}
	}

	if fv.Min != nil || fv.Max != nil {
		rows := dqv.collect(records, func(r core.Record) bool {
			if r.IsMissing(field) {
				return false
			}
			v, ok := transform.ParseFloat(r[field])
			if !ok {
				return true
			}
			return (fv.Min != nil && v < *fv.Min) || (fv.Max != nil && v > *fv.Max)
		})
		if len(rows.all) > 0 {
			report.add(Violation{Rule: "range", Field: field, Count: len(rows.all), Rows: rows.examples,
				Message: fmt.Sprintf("field %s has %d values out of range", field, len(rows.all))})
		}
	}

	if fv.Pattern != nil {
		rows := dqv.collect(records, func(r core.Record) bool {
			return !r.IsMissing(field) && !fv.Pattern.MatchString(r.String(field))
		})
		if len(rows.all) > 0 {
			report.add(Violation{Rule: "pattern", Field: field, Count: len(rows.all), Rows: rows.examples,
				Message: fmt.Sprintf("field %s has %d values not matching %s", field, len(rows.all), fv.Pattern)})
		}
	}
}

type matches struct {
	all      []int
	examples []int
}

func (dqv *DataQualityValidator) collect(records []core.Record, bad func(core.Record) bool) matches {
	var m matches
	for i, r := range records {
		if bad(r) {
			m.all = append(m.all, i)
			if len(m.examples) < dqv.MaxExamples {
				m.examples = append(m.examples, i)
			}
		}
	}
	return m
}

func (dqv *DataQualityValidator) nullRateFields(records []core.Record) []string {
	if len(dqv.NullRateFields) > 0 {
		return dqv.NullRateFields
	}
	seen := make(map[string]bool)
	var fields []string
	for _, r := range records {
		for f := range r {
			if !seen[f] {
				seen[f] = true
				fields = append(fields, f)
			}
		}
	}
	sort.Strings(fields)
	return fields
}

func (r *ValidationReport) add(v Violation) {
	r.Violations = append(r.Violations, v)
}
