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

package dimension

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aaronlmathis/servicedw/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const truncateDependents = `TRUNCATE TABLE "dw"."fact_demandes", "dw"."dim_centres_service", "dw"."dim_demande", ` +
	`"dw"."dim_document", "dw"."dim_socioeconomique", "dw"."dim_communes", "dw"."dim_type_document"`

func expectInsert(mock sqlmock.Sqlmock, table string, rows int64) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "dw"."` + table + `"`)).WillReturnResult(sqlmock.NewResult(0, rows))
	mock.ExpectCommit()
}

func TestBuilder_FullRefresh(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("^" + regexp.QuoteMeta(truncateDependents+`, "dw"."dim_territoire"`) + "$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "dw"."dim_territoire" ("id_territoire", "region", "prefecture", "commune") VALUES ($1, $2, $3, $4), ($5, $6, $7, $8)`)).
		WithArgs(int64(1), "Maritime", "Golfe", "Lomé", int64(2), "X", "Y", "Z").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()
	expectInsert(mock, TableCentres, 1)
	expectInsert(mock, TableRequests, 2)
	expectInsert(mock, TableDocumentTypes, 1)
	expectInsert(mock, TableFact, 2)

	in := Inputs{
		Centres: []core.Record{{"nom_centre": "Mairie", "region": "Maritime", "prefecture": "Golfe", "commune": "Lomé"}},
		Requests: []core.Record{
			{"demande_id": "1", "type_document": "Passeport", "statut_demande": "Validée", "region": "Maritime", "prefecture": "Golfe", "commune": "Lomé"},
			{"demande_id": "2", "type_document": nil, "statut_demande": "Rejetée", "region": "X", "prefecture": "Y", "commune": "Z"},
		},
	}
	report, err := NewBuilder(db, WithLogger(zap.NewNop())).Build(context.Background(), in)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, 2, report.Territories)
	assert.Equal(t, 2, report.NewTerritories)
	assert.Equal(t, 1, report.DocumentTypes)
	assert.Equal(t, int64(2), report.Rows[TableFact])
	assert.Equal(t, int64(0), report.Rows[TableDocuments])
	require.Len(t, report.Resolve, 4)
	assert.Equal(t, ResolveReport{Table: TableCentres, Before: 1, Kept: 1}, report.Resolve[0])
}

func TestBuilder_IncrementalAppendsTerritories(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("^" + regexp.QuoteMeta(truncateDependents) + "$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "dw"."dim_territoire" ("id_territoire", "region", "prefecture", "commune") VALUES ($1, $2, $3, $4) ON CONFLICT ("id_territoire") DO NOTHING`)).
		WithArgs(int64(8), "Kara", "Kozah", "Kara").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectInsert(mock, TableRequests, 2)
	expectInsert(mock, TableDocumentTypes, 1)
	expectInsert(mock, TableFact, 2)

	in := Inputs{
		Requests: []core.Record{
			{"demande_id": "1", "type_document": "Passeport", "region": "Maritime", "prefecture": "Golfe", "commune": "Lomé"},
			{"demande_id": "2", "type_document": "Passeport", "region": "Kara", "prefecture": "Kozah", "commune": "Kara"},
		},
		Existing: []Territory{{ID: 7, TerritoryKey: TerritoryKey{"Maritime", "Golfe", "Lomé"}}},
	}
	report, err := NewBuilder(db, WithIncremental(true), WithLogger(zap.NewNop())).Build(context.Background(), in)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 2, report.Territories)
	assert.Equal(t, 1, report.NewTerritories)
}

func TestBuilder_WriteFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("TRUNCATE").WillReturnError(assert.AnError)

	_, err = NewBuilder(db, WithLogger(zap.NewNop())).Build(context.Background(), Inputs{
		Centres: []core.Record{{"region": "Kara", "prefecture": "Kozah", "commune": "Kara"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "truncate")
	assert.Contains(t, err.Error(), TableTerritory)
}

func TestTruncatedTables_ReferencingTablesBeforeTerritory(t *testing.T) {
	full := TruncatedTables(false)
	assert.Equal(t, TableTerritory, full[len(full)-1])
	assert.Contains(t, full, TableCommunes)
	assert.Contains(t, full, TableFact)

	incremental := TruncatedTables(true)
	assert.NotContains(t, incremental, TableTerritory)
	assert.Len(t, incremental, len(full)-1)
}
