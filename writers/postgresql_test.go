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

package writers

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aaronlmathis/servicedw/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresWriter_Validation(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewPostgresWriter(nil, WithTableName("communes"))
	assert.Error(t, err)

	_, err = NewPostgresWriter(db)
	var perr *PostgresWriterError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "validate", perr.Op)

	_, err = NewPostgresWriter(db, WithTableName("t"), WithConflictResolution(ConflictIgnore, nil, nil))
	assert.ErrorContains(t, err, "conflict columns")

	_, err = NewPostgresWriter(db, WithTableName("t"), WithConflictResolution(ConflictUpdate, []string{"id"}, nil))
	assert.ErrorContains(t, err, "update columns")
}

func TestPostgresWriter_InsertStatement(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w, err := NewPostgresWriter(db,
		WithSchema("dw"),
		WithTableName("dim_territoire"),
		WithColumns([]string{"id_territoire", "region"}),
	)
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "dw"."dim_territoire" ("id_territoire", "region") VALUES ($1, $2), ($3, $4)`,
		w.InsertStatement(2))

	w, err = NewPostgresWriter(db,
		WithSchema("dw"),
		WithTableName("dim_territoire"),
		WithColumns([]string{"id_territoire", "region"}),
		WithConflictResolution(ConflictUpdate, []string{"id_territoire"}, []string{"region"}),
	)
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "dw"."dim_territoire" ("id_territoire", "region") VALUES ($1, $2) ON CONFLICT ("id_territoire") DO UPDATE SET "region" = EXCLUDED."region"`,
		w.InsertStatement(1))

	w, err = NewPostgresWriter(db,
		WithTableName("t"),
		WithColumns([]string{"a"}),
		WithConflictResolution(ConflictIgnore, []string{"a"}, nil),
	)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "public"."t" ("a") VALUES ($1) ON CONFLICT ("a") DO NOTHING`, w.InsertStatement(1))
}

func TestPostgresWriter_BatchesInTransactions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w, err := NewPostgresWriter(db,
		WithSchema("raw"),
		WithTableName("communes"),
		WithColumns([]string{"region", "commune"}),
		WithPostgresBatchSize(2),
		WithTruncateTable(true),
	)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`TRUNCATE TABLE "raw"."communes"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "raw"."communes" ("region", "commune") VALUES ($1, $2), ($3, $4)`)).
		WithArgs("Maritime", "Lomé", "Plateaux", nil).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "raw"."communes" ("region", "commune") VALUES ($1, $2)`)).
		WithArgs("Kara", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	require.NoError(t, w.Write(ctx, core.Record{"region": "Maritime", "commune": "Lomé"}))
	require.NoError(t, w.Write(ctx, core.Record{"region": "Plateaux", "commune": nil}))
	require.NoError(t, w.Write(ctx, core.Record{"region": "Kara", "commune": 7}))
	require.NoError(t, w.Close())

	stats := w.Stats()
	assert.Equal(t, int64(3), stats.RecordsWritten)
	assert.Equal(t, int64(3), stats.RowsInserted)
	assert.Equal(t, int64(2), stats.BatchesWritten)
	assert.Equal(t, int64(2), stats.TransactionCount)
	assert.Equal(t, int64(1), stats.NullValueCounts["commune"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWriter_RollbackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w, err := NewPostgresWriter(db, WithTableName("t"), WithColumns([]string{"a"}))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	require.NoError(t, w.Write(context.Background(), core.Record{"a": "x"}))
	err = w.Flush()
	var perr *PostgresWriterError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "flush", perr.Op)

	err = w.Write(context.Background(), core.Record{"a": "y"})
	assert.ErrorContains(t, err, "error state")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWriter_ConflictIgnoreCountsSkippedRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w, err := NewPostgresWriter(db,
		WithSchema("dw"),
		WithTableName("dim_territoire"),
		WithColumns([]string{"id_territoire"}),
		WithConflictResolution(ConflictIgnore, []string{"id_territoire"}, nil),
		WithTransactionMode(false),
	)
	require.NoError(t, err)

	mock.ExpectExec("ON CONFLICT").WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	require.NoError(t, w.Write(ctx, core.Record{"id_territoire": 1}))
	require.NoError(t, w.Write(ctx, core.Record{"id_territoire": 2}))
	require.NoError(t, w.Close())

	assert.Equal(t, int64(1), w.Stats().ConflictCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWriter_CreateTableInfersTypes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w, err := NewPostgresWriter(db, WithSchema("raw"), WithTableName("scratch"), WithCreateTable(true), WithTransactionMode(false))
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "raw"."scratch" ("n" BIGINT, "name" TEXT, "rate" DOUBLE PRECISION)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, w.Write(context.Background(), core.Record{"n": 1, "name": "a", "rate": 0.5}))
	require.NoError(t, w.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
