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
	"errors"
	"testing"

	"github.com/aaronlmathis/servicedw/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func include(t *testing.T, f core.Filter, r core.Record) bool {
	t.Helper()
	ok, err := f.ShouldInclude(context.Background(), r)
	require.NoError(t, err)
	return ok
}

func TestNotNull(t *testing.T) {
	f := NotNull("region")
	assert.True(t, include(t, f, core.Record{"region": "Kara"}))
	assert.False(t, include(t, f, core.Record{"region": nil}))
	assert.False(t, include(t, f, core.Record{"region": "  "}))
	assert.False(t, include(t, f, core.Record{}))
}

func TestInAndEquals(t *testing.T) {
	f := In("statut_demande", "Validée", "Rejetée")
	assert.True(t, include(t, f, core.Record{"statut_demande": "Validée"}))
	assert.False(t, include(t, f, core.Record{"statut_demande": "En Attente"}))
	assert.False(t, include(t, f, core.Record{}))

	assert.True(t, include(t, Equals("n", "3"), core.Record{"n": 3}))
}

func TestCombinators(t *testing.T) {
	yes := Custom(func(core.Record) bool { return true })
	no := Custom(func(core.Record) bool { return false })
	boom := core.FilterFunc(func(context.Context, core.Record) (bool, error) { return false, errors.New("boom") })

	r := core.Record{}
	assert.True(t, include(t, And(yes, yes), r))
	assert.False(t, include(t, And(yes, no), r))
	assert.True(t, include(t, Or(no, yes), r))
	assert.False(t, include(t, Or(no, no), r))
	assert.True(t, include(t, Not(no), r))

	_, err := And(yes, boom).ShouldInclude(context.Background(), r)
	assert.Error(t, err)
	_, err = Or(no, boom).ShouldInclude(context.Background(), r)
	assert.Error(t, err)
	_, err = Not(boom).ShouldInclude(context.Background(), r)
	assert.Error(t, err)
}

func TestFirstByKeyKeepsFirstOccurrence(t *testing.T) {
	records := []core.Record{
		{"demande_id": 1, "statut_demande": "Traitée"},
		{"demande_id": 1, "statut_demande": "Rejetée"},
		{"demande_id": 2, "statut_demande": "Rejetée"},
		{"demande_id": "1", "statut_demande": "En cours"},
	}
	d := FirstByKey("demande_id")
	out, err := Apply(context.Background(), d, records)
	require.NoError(t, err)

	require.Len(t, out, 2)
	assert.Equal(t, "Traitée", out[0]["statut_demande"])
	assert.Equal(t, 2, out[1]["demande_id"])
	assert.Equal(t, 2, d.Dropped())
}

func TestFirstByKeyCompositeKey(t *testing.T) {
	d := FirstByKey("region", "prefecture", "commune")
	assert.True(t, include(t, d, core.Record{"region": "A", "prefecture": "B", "commune": "C"}))
	assert.True(t, include(t, d, core.Record{"region": "A", "prefecture": "BC", "commune": ""}))
	assert.False(t, include(t, d, core.Record{"region": "A", "prefecture": "B", "commune": "C"}))
}
