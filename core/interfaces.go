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

package core

import (
	"context"
)

// Package core defines the record model and the stage interfaces shared by
// every ServiceDW package.
//
// Sources stream raw extracts, transformers and filters work record by record,
// batch transformers see a whole dataset at once (deduplication, median and
// mode imputation need that), and sinks persist the result.

// DataSource streams records from an extract (CSV file, warehouse query).
type DataSource interface {
	// Read returns the next record or io.EOF when no more records are available.
	Read(ctx context.Context) (Record, error)
	// Close releases any resources held by the data source.
	Close() error
}

// DataSink persists records (cleaned CSV, Parquet, warehouse table).
type DataSink interface {
	// Write outputs a single record to the sink.
	Write(ctx context.Context, record Record) error
	// Flush ensures all buffered data is written to the sink.
	Flush() error
	// Close releases any resources held by the data sink.
	Close() error
}

// Transformer modifies or enriches a single record.
type Transformer interface {
	Transform(ctx context.Context, record Record) (Record, error)
}

// Filter decides whether a record stays in the stream.
type Filter interface {
	ShouldInclude(ctx context.Context, record Record) (bool, error)
}

// BatchTransformer works on a complete dataset. Implementations must return
// new records and leave the input slice and its records untouched.
type BatchTransformer interface {
	TransformBatch(ctx context.Context, records []Record) ([]Record, error)
}
