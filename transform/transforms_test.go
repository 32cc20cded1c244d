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
	"testing"
	"time"

	"github.com/aaronlmathis/servicedw/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, tr core.Transformer, in core.Record) core.Record {
	t.Helper()
	out, err := tr.Transform(context.Background(), in)
	require.NoError(t, err)
	return out
}

func TestTransformsDoNotMutateInput(t *testing.T) {
	in := core.Record{"region": "  maritime ", "taux_rejet": "1.7"}
	_ = run(t, Chain(TitleCase("region"), Clip(0, 1, "taux_rejet")), in)
	assert.Equal(t, core.Record{"region": "  maritime ", "taux_rejet": "1.7"}, in)
}

func TestSelectRenameAddField(t *testing.T) {
	in := core.Record{"a": 1, "b": 2, "c": 3}
	assert.Equal(t, core.Record{"a": 1, "c": 3}, run(t, Select("a", "c", "missing"), in))
	assert.Equal(t, core.Record{"x": 1, "b": 2, "c": 3}, run(t, Rename(map[string]string{"a": "x"}), in))

	out := run(t, AddField("sum", func(r core.Record) interface{} { return r["a"].(int) + r["b"].(int) }), in)
	assert.Equal(t, 3, out["sum"])
}

func TestDefaultAndFillNull(t *testing.T) {
	assert.Equal(t, "Inconnu", run(t, Default("quartier", "Inconnu"), core.Record{})["quartier"])
	assert.Nil(t, run(t, Default("quartier", "Inconnu"), core.Record{"quartier": nil})["quartier"])

	assert.Equal(t, "Inconnu", run(t, FillNull("quartier", "Inconnu"), core.Record{"quartier": nil})["quartier"])
	assert.Equal(t, "Inconnu", run(t, FillNull("quartier", "Inconnu"), core.Record{"quartier": "  "})["quartier"])
	assert.Equal(t, "Bè", run(t, FillNull("quartier", "Inconnu"), core.Record{"quartier": "Bè"})["quartier"])
}

func TestTextNormalization(t *testing.T) {
	tests := []struct {
		name string
		tr   core.Transformer
		in   interface{}
		want interface{}
	}{
		{"trim", TrimSpace("f"), "  x  ", "x"},
		{"collapse", CollapseSpace("f"), " a   b\tc ", "a b c"},
		{"title", TitleCase("f"), "  lomé   COMMUNE ", "Lomé Commune"},
		{"title reason", TitleCase("f"), "non spécifié (rejet)", "Non Spécifié (Rejet)"},
		{"capitalize", Capitalize("f"), "CENTRE principal", "Centre principal"},
		{"capitalize accent", Capitalize("f"), "élevé", "Élevé"},
		{"repair", RepairEncoding("f"), "ValidÃ©e", "Validée"},
		{"repair a grave", RepairEncoding("f"), "voil\u00c3\u00a0 d\u00c3\u00a9j\u00c3\u00a0", "voilà déjà"},
		{"repair keeps plain space", RepairEncoding("f"), "Ã bientôt", "Ã bientôt"},
		{"non string untouched", TitleCase("f"), 12, 12},
		{"nil untouched", TitleCase("f"), nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, run(t, tt.tr, core.Record{"f": tt.in})["f"])
		})
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2023, 4, 9, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, want, run(t, ParseDate("d"), core.Record{"d": "2023-04-09"})["d"])
	assert.Equal(t, want, run(t, ParseDate("d"), core.Record{"d": "09/04/2023"})["d"])
	assert.Nil(t, run(t, ParseDate("d"), core.Record{"d": "hier"})["d"])
	assert.Nil(t, run(t, ParseDate("d"), core.Record{"d": nil})["d"])
	assert.Nil(t, run(t, ParseDate("d", "2006-01-02"), core.Record{"d": "09/04/2023"})["d"])
	_, present := run(t, ParseDate("d"), core.Record{})["d"]
	assert.False(t, present)
}

func TestNumericConversions(t *testing.T) {
	out := run(t, ToFloatOrZero("a", "b", "c", "d"), core.Record{"a": "3.5", "b": "abc", "c": nil, "d": "2,25"})
	assert.Equal(t, core.Record{"a": 3.5, "b": 0.0, "c": 0.0, "d": 2.25}, out)

	out = run(t, ToFloat("lat"), core.Record{"lat": "n/a"})
	assert.Nil(t, out["lat"])

	out = run(t, ToInt("age"), core.Record{"age": "34.6"})
	assert.Equal(t, 35, out["age"])
	out = run(t, ToInt("age"), core.Record{"age": "x"})
	assert.Nil(t, out["age"])
}

func TestClip(t *testing.T) {
	tests := []struct {
		in   interface{}
		want float64
	}{
		{-0.2, 0}, {0.4, 0.4}, {"1.8", 1}, {"bad", 0}, {nil, 0},
	}
	for _, tt := range tests {
		out := run(t, Clip(0, 1, "taux_rejet"), core.Record{"taux_rejet": tt.in})
		assert.Equal(t, tt.want, out["taux_rejet"])
	}
}

func TestReplaceAndMapValues(t *testing.T) {
	out := run(t, ReplaceValues("s", map[string]string{"Traitée": "Validée"}), core.Record{"s": "Traitée"})
	assert.Equal(t, "Validée", out["s"])
	out = run(t, ReplaceValues("s", map[string]string{"Traitée": "Validée"}), core.Record{"s": "Autre"})
	assert.Equal(t, "Autre", out["s"])

	out = run(t, MapValues("n", func(v interface{}) interface{} { return v.(int) * 2 }), core.Record{"n": 4})
	assert.Equal(t, 8, out["n"])
}

func TestDatePartsAndMonthName(t *testing.T) {
	// 2024-01-01 is a Monday
	out := run(t, DateParts("date_demande", "annee_demande", "mois_demande", "jour_semaine_demande"),
		core.Record{"date_demande": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	assert.Equal(t, 2024, out["annee_demande"])
	assert.Equal(t, 1, out["mois_demande"])
	assert.Equal(t, "Lundi", out["jour_semaine_demande"])

	out = run(t, DateParts("date_demande", "annee_demande", "", ""), core.Record{"date_demande": nil})
	assert.Nil(t, out["annee_demande"])
	_, present := out["mois_demande"]
	assert.False(t, present)

	assert.Equal(t, "Août", run(t, MonthName("mois", "mois_nom"), core.Record{"mois": "8"})["mois_nom"])
	assert.Nil(t, run(t, MonthName("mois", "mois_nom"), core.Record{"mois": 13})["mois_nom"])
	assert.Equal(t, "Décembre", MonthNameOf(12))
	assert.Equal(t, "", MonthNameOf(0))
}

func TestApply(t *testing.T) {
	out, err := Apply(context.Background(), TrimSpace("a"), []core.Record{{"a": " x "}, {"a": "y "}})
	require.NoError(t, err)
	assert.Equal(t, []core.Record{{"a": "x"}, {"a": "y"}}, out)
}
