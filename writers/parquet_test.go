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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aaronlmathis/servicedw/core"
	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var requestColumns = []ParquetColumn{
	{Name: "demande_id", Type: ColumnString},
	{Name: "date_demande", Type: ColumnDate},
	{Name: "age_demandeur", Type: ColumnInt64},
	{Name: "taux_rejet", Type: ColumnFloat64},
}

func TestParquetWriter_WritesDeclaredSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "demandes.parquet")

	w, err := NewParquetFileWriter(path, requestColumns, WithBatchSize(2), WithCompression(compress.Codecs.Snappy))
	require.NoError(t, err)

	assert.Equal(t, arrow.FixedWidthTypes.Date32, w.Schema().Field(1).Type)

	ctx := context.Background()
	records := []core.Record{
		{"demande_id": "D1", "date_demande": time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), "age_demandeur": 34, "taux_rejet": 0.1},
		{"demande_id": "D2", "date_demande": "2023-02-03", "age_demandeur": "41", "taux_rejet": "0.3"},
		{"demande_id": "D3", "date_demande": nil, "age_demandeur": 29.0, "taux_rejet": "n/a"},
	}
	for _, r := range records {
		require.NoError(t, w.Write(ctx, r))
	}
	require.NoError(t, w.Close())

	stats := w.Stats()
	assert.Equal(t, int64(3), stats.RecordsWritten)
	assert.Equal(t, int64(2), stats.BatchesWritten)
	assert.Equal(t, int64(1), stats.NullValueCounts["date_demande"])
	assert.Equal(t, int64(1), stats.NullValueCounts["taux_rejet"])

	rdr, err := file.OpenParquetFile(path, false)
	require.NoError(t, err)
	defer rdr.Close()
	assert.Equal(t, int64(3), rdr.NumRows())
}

func TestParquetWriter_InMemory(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewParquetWriter(&buf, []ParquetColumn{{Name: "region", Type: ColumnString}})
	require.NoError(t, err)

	require.NoError(t, w.Write(context.Background(), core.Record{"region": "Savanes"}))
	require.NoError(t, w.Close())
	assert.Greater(t, buf.Len(), 0)
	assert.Equal(t, "PAR1", string(buf.Bytes()[buf.Len()-4:]))
}

func TestParquetWriter_Errors(t *testing.T) {
	_, err := NewParquetWriter(&bytes.Buffer{}, nil)
	var perr *ParquetWriterError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "schema", perr.Op)

	path := filepath.Join(t.TempDir(), "x.parquet")
	w, err := NewParquetFileWriter(path, []ParquetColumn{{Name: "a"}})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	err = w.Write(context.Background(), core.Record{"a": "b"})
	assert.ErrorContains(t, err, "closed")

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
