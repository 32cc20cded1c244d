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
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aaronlmathis/servicedw/core"
	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"
)

// ParquetWriterError wraps Parquet-specific write errors with context about the operation.
type ParquetWriterError struct {
	Op  string
	Err error
}

func (e *ParquetWriterError) Error() string {
	return fmt.Sprintf("parquet writer %s: %v", e.Op, e.Err)
}

func (e *ParquetWriterError) Unwrap() error {
	return e.Err
}

// ColumnType is the declared storage type of a Parquet column.
type ColumnType int

const (
	ColumnString ColumnType = iota
	ColumnInt64
	ColumnFloat64
	ColumnDate
	ColumnBool
)

// ParquetColumn declares one output column.
type ParquetColumn struct {
	Name string
	Type ColumnType
}

func (t ColumnType) arrowType() arrow.DataType {
	switch t {
	case ColumnInt64:
		return arrow.PrimitiveTypes.Int64
	case ColumnFloat64:
		return arrow.PrimitiveTypes.Float64
	case ColumnDate:
		return arrow.FixedWidthTypes.Date32
	case ColumnBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

// ParquetWriterStats holds statistics about the Parquet writer's performance.
type ParquetWriterStats struct {
	RecordsWritten  int64
	BatchesWritten  int64
	FlushDuration   time.Duration
	LastFlushTime   time.Time
	NullValueCounts map[string]int64
}

// ParquetWriterOptions configures the Parquet writer.
type ParquetWriterOptions struct {
	BatchSize    int
	RowGroupSize int64
	Compression  compress.Compression
}

// WriterOption represents a configuration function for ParquetWriterOptions.
type WriterOption func(*ParquetWriterOptions)

// WithBatchSize sets the number of records buffered per Arrow record batch.
func WithBatchSize(size int) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.BatchSize = size
	}
}

// WithCompression sets the Parquet compression codec.
func WithCompression(compression compress.Compression) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.Compression = compression
	}
}

// WithRowGroupSize caps rows per row group.
func WithRowGroupSize(size int64) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.RowGroupSize = size
	}
}

func (opts *ParquetWriterOptions) withDefaults() *ParquetWriterOptions {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.RowGroupSize <= 0 {
		opts.RowGroupSize = 10000
	}
	if opts.Compression == 0 {
		opts.Compression = compress.Codecs.Snappy
	}
	return opts
}

// ParquetWriter implements core.DataSink for Parquet output with a declared schema.
type ParquetWriter struct {
	mu         sync.Mutex
	writer     *pqarrow.FileWriter
	schema     *arrow.Schema
	columns    []ParquetColumn
	builder    *array.RecordBuilder
	buffered   int
	opts       *ParquetWriterOptions
	stats      ParquetWriterStats
	closed     bool
	errorState bool
}

// NewParquetFileWriter creates path (and its directory) and writes Parquet into it.
func NewParquetFileWriter(path string, columns []ParquetColumn, options ...WriterOption) (*ParquetWriter, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &ParquetWriterError{Op: "create_directory", Err: err}
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, &ParquetWriterError{Op: "open_file", Err: err}
	}
	w, err := NewParquetWriter(f, columns, options...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// NewParquetWriter writes Parquet to w. w is closed by Close when it is an io.Closer.
func NewParquetWriter(w io.Writer, columns []ParquetColumn, options ...WriterOption) (*ParquetWriter, error) {
	if len(columns) == 0 {
		return nil, &ParquetWriterError{Op: "schema", Err: fmt.Errorf("at least one column is required")}
	}
	opts := (&ParquetWriterOptions{}).withDefaults()
	for _, option := range options {
		option(opts)
	}

	fields := make([]arrow.Field, len(columns))
	for i, c := range columns {
		fields[i] = arrow.Field{Name: c.Name, Type: c.Type.arrowType(), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	props := parquet.NewWriterProperties(
		parquet.WithCompression(opts.Compression),
		parquet.WithMaxRowGroupLength(opts.RowGroupSize),
	)
	fw, err := pqarrow.NewFileWriter(schema, w, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return nil, &ParquetWriterError{Op: "create_writer", Err: err}
	}

	return &ParquetWriter{
		writer:  fw,
		schema:  schema,
		columns: append([]ParquetColumn(nil), columns...),
		builder: array.NewRecordBuilder(memory.NewGoAllocator(), schema),
		opts:    opts,
		stats:   ParquetWriterStats{NullValueCounts: make(map[string]int64)},
	}, nil
}

// Schema returns the Arrow schema.
func (p *ParquetWriter) Schema() *arrow.Schema {
	return p.schema
}

// Stats returns a copy of the writer statistics.
func (p *ParquetWriter) Stats() ParquetWriterStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.stats
	out.NullValueCounts = make(map[string]int64, len(p.stats.NullValueCounts))
	for k, v := range p.stats.NullValueCounts {
		out.NullValueCounts[k] = v
	}
	return out
}

// Write implements the core.DataSink interface.
func (p *ParquetWriter) Write(ctx context.Context, record core.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return &ParquetWriterError{Op: "write", Err: fmt.Errorf("parquet writer is closed")}
	}
	if p.errorState {
		return &ParquetWriterError{Op: "write", Err: fmt.Errorf("writer is in error state")}
	}

	for i, col := range p.columns {
		if !p.appendValue(p.builder.Field(i), col.Type, record[col.Name]) {
			p.stats.NullValueCounts[col.Name]++
		}
	}
	p.buffered++
	p.stats.RecordsWritten++

	if p.buffered >= p.opts.BatchSize {
		if err := p.flushUnsafe(); err != nil {
			p.errorState = true
			return err
		}
	}
	return nil
}

// Flush implements the core.DataSink interface.
func (p *ParquetWriter) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	return p.flushUnsafe()
}

// Close flushes, writes the footer and closes the underlying writer.
func (p *ParquetWriter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	ferr := p.flushUnsafe()
	p.builder.Release()
	if err := p.writer.Close(); err != nil {
		return &ParquetWriterError{Op: "close_writer", Err: err}
	}
	return ferr
}

func (p *ParquetWriter) flushUnsafe() error {
	if p.buffered == 0 {
		return nil
	}
	start := time.Now()

	rec := p.builder.NewRecord()
	defer rec.Release()
	if err := p.writer.Write(rec); err != nil {
		return &ParquetWriterError{Op: "write_batch", Err: err}
	}

	p.buffered = 0
	p.stats.BatchesWritten++
	p.stats.FlushDuration += time.Since(start)
	p.stats.LastFlushTime = time.Now()
	return nil
}

// appendValue coerces v to the column type. It returns false when a null was appended.
func (p *ParquetWriter) appendValue(b array.Builder, t ColumnType, v interface{}) bool {
	if v == nil {
		b.AppendNull()
		return false
	}
	switch bb := b.(type) {
	case *array.StringBuilder:
		bb.Append(FormatValue(v, "2006-01-02"))
		return true
	case *array.Int64Builder:
		if n, ok := toFloat(v); ok && !math.IsNaN(n) {
			bb.Append(int64(n))
			return true
		}
	case *array.Float64Builder:
		if n, ok := toFloat(v); ok {
			bb.Append(n)
			return true
		}
	case *array.Date32Builder:
		if d, ok := toDate(v); ok {
			bb.Append(arrow.Date32FromTime(d))
			return true
		}
	case *array.BooleanBuilder:
		switch val := v.(type) {
		case bool:
			bb.Append(val)
			return true
		case string:
			if parsed, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
				bb.Append(parsed)
				return true
			}
		}
	}
	b.AppendNull()
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toDate(v interface{}) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d, true
	case string:
		t, err := time.Parse("2006-01-02", strings.TrimSpace(d))
		return t, err == nil
	}
	return time.Time{}, false
}
