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

package validators

import (
	"context"
	"regexp"
	"testing"

	"github.com/aaronlmathis/servicedw/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requests() []core.Record {
	return []core.Record{
		{"demande_id": "1", "statut_demande": "Validée", "taux_rejet": 0.1, "age_demandeur": 30},
		{"demande_id": "2", "statut_demande": "Rejetée", "taux_rejet": 1.0, "age_demandeur": 41},
		{"demande_id": "3", "statut_demande": "En Attente", "taux_rejet": 0.0, "age_demandeur": 35},
	}
}

func TestValidate_Passes(t *testing.T) {
	v := NewDataQualityValidator(1, []string{"demande_id"},
		WithName("demandes"),
		WithAllowedValues("statut_demande", "Validée", "Rejetée", "En Attente"),
		WithRange("taux_rejet", 0, 1),
		WithNotNull("age_demandeur"),
		WithMaxNullRate(0.5),
	)
	report, err := v.Validate(context.Background(), requests())
	require.NoError(t, err)
	assert.True(t, report.Valid())
	assert.NoError(t, report.Err())
	assert.Equal(t, "demandes", report.Dataset)
	assert.Equal(t, 3, report.Records)
}

func TestValidate_CollectsViolations(t *testing.T) {
	recs := requests()
	recs[0]["statut_demande"] = "Traitée"
	recs[1]["taux_rejet"] = 1.5
	recs[2]["age_demandeur"] = nil
	delete(recs[2], "demande_id")

	v := NewDataQualityValidator(1, []string{"demande_id"},
		WithAllowedValues("statut_demande", "Validée", "Rejetée", "En Attente"),
		WithRange("taux_rejet", 0, 1),
		WithNotNull("age_demandeur"),
	)
	report, err := v.Validate(context.Background(), recs)
	require.NoError(t, err)
	require.False(t, report.Valid())

	rules := map[string]Violation{}
	for _, viol := range report.Violations {
		rules[viol.Rule] = viol
	}
	assert.Equal(t, []int{2}, rules["required"].Rows)
	assert.Equal(t, []int{0}, rules["allowed_values"].Rows)
	assert.Equal(t, []int{1}, rules["range"].Rows)
	assert.Equal(t, "age_demandeur", rules["not_null"].Field)
	assert.Error(t, report.Err())
}

func TestValidate_MinRecordsAndEmpty(t *testing.T) {
	report, err := NewDataQualityValidator(1, nil).Validate(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, "min_records", report.Violations[0].Rule)
}

func TestValidate_NullRate(t *testing.T) {
	recs := []core.Record{{"a": nil, "b": 1}, {"a": "", "b": 2}, {"a": "x", "b": nil}}
	report, err := NewDataQualityValidator(0, nil, WithMaxNullRate(0.5)).Validate(context.Background(), recs)
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, "a", report.Violations[0].Field)
	assert.Equal(t, 2, report.Violations[0].Count)

	report, err = NewDataQualityValidator(0, nil, WithMaxNullRate(0.5, "b")).Validate(context.Background(), recs)
	require.NoError(t, err)
	assert.True(t, report.Valid())
}

func TestValidate_PatternAndExamplesCap(t *testing.T) {
	var recs []core.Record
	for i := 0; i < 8; i++ {
		recs = append(recs, core.Record{"code": "bad"})
	}
	v := NewDataQualityValidator(0, nil, WithFieldValidator("code", FieldValidator{Pattern: regexp.MustCompile(`^\d+$`)}))
	report, err := v.Validate(context.Background(), recs)
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, 8, report.Violations[0].Count)
	assert.Len(t, report.Violations[0].Rows, 5)
}
