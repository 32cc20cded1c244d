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

package types

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aaronlmathis/servicedw/core"
	"github.com/aaronlmathis/servicedw/writers"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// OutputFormat represents a supported sink format.
type OutputFormat int

const (
	FormatCSV OutputFormat = iota
	FormatJSON
	FormatParquet
	FormatPostgres
)

func (f OutputFormat) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatJSON:
		return "json"
	case FormatParquet:
		return "parquet"
	case FormatPostgres:
		return "postgres"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Extension returns the file extension for file formats.
func (f OutputFormat) Extension() string {
	switch f {
	case FormatJSON:
		return ".jsonl"
	case FormatParquet:
		return ".parquet"
	default:
		return ".csv"
	}
}

// ParseFormat maps a name such as "csv" or "jsonl" onto an OutputFormat.
func ParseFormat(name string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "csv", "":
		return FormatCSV, nil
	case "json", "jsonl":
		return FormatJSON, nil
	case "parquet":
		return FormatParquet, nil
	case "postgres", "postgresql":
		return FormatPostgres, nil
	default:
		return 0, fmt.Errorf("unknown output format %q", name)
	}
}

// SinkSpec carries what a sink needs to lay out its columns.
type SinkSpec struct {
	Format  OutputFormat
	Headers []string
	Columns []writers.ParquetColumn
}

func (s SinkSpec) parquetColumns() []writers.ParquetColumn {
	if len(s.Columns) > 0 {
		return s.Columns
	}
	cols := make([]writers.ParquetColumn, len(s.Headers))
	for i, h := range s.Headers {
		cols[i] = writers.ParquetColumn{Name: h, Type: writers.ColumnString}
	}
	return cols
}

// OutputLocation creates a DataSink for a given format.
type OutputLocation interface {
	NewSink(ctx context.Context, spec SinkSpec) (core.DataSink, error)
}

// FileLocation writes output to a local filesystem path.
type FileLocation struct {
	Path string
}

// NewSink instantiates a writer for the file location.
func (f FileLocation) NewSink(ctx context.Context, spec SinkSpec) (core.DataSink, error) {
	if dir := filepath.Dir(f.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	switch spec.Format {
	case FormatCSV:
		file, err := os.Create(f.Path)
		if err != nil {
			return nil, err
		}
		return writers.NewCSVWriter(file, writers.WithHeaders(spec.Headers))
	case FormatJSON:
		file, err := os.Create(f.Path)
		if err != nil {
			return nil, err
		}
		return writers.NewJSONWriter(file), nil
	case FormatParquet:
		return writers.NewParquetFileWriter(f.Path, spec.parquetColumns())
	default:
		return nil, fmt.Errorf("unsupported format %s for FileLocation", spec.Format)
	}
}

// S3Location writes objects to an S3 bucket. Output is buffered and uploaded on Close.
type S3Location struct {
	Bucket   string
	Key      string
	Uploader *s3manager.Uploader
}

type s3WriteCloser struct {
	ctx      context.Context
	buf      *bytes.Buffer
	uploader *s3manager.Uploader
	bucket   string
	key      string
}

func (s *s3WriteCloser) Write(p []byte) (int, error) { return s.buf.Write(p) }

func (s *s3WriteCloser) Close() error {
	_, err := s.uploader.Upload(s.ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &s.key,
		Body:   bytes.NewReader(s.buf.Bytes()),
	})
	return err
}

type parquetS3Sink struct {
	*writers.ParquetWriter
	out *s3WriteCloser
}

func (p *parquetS3Sink) Close() error {
	if err := p.ParquetWriter.Close(); err != nil {
		return err
	}
	return p.out.Close()
}

// NewSink creates a writer uploading to S3.
func (s S3Location) NewSink(ctx context.Context, spec SinkSpec) (core.DataSink, error) {
	if s.Uploader == nil {
		return nil, fmt.Errorf("s3 location %s/%s has no uploader", s.Bucket, s.Key)
	}
	out := &s3WriteCloser{ctx: ctx, buf: &bytes.Buffer{}, uploader: s.Uploader, bucket: s.Bucket, key: s.Key}

	switch spec.Format {
	case FormatCSV:
		return writers.NewCSVWriter(out, writers.WithHeaders(spec.Headers))
	case FormatJSON:
		return writers.NewJSONWriter(out), nil
	case FormatParquet:
		pw, err := writers.NewParquetWriter(out.buf, spec.parquetColumns())
		if err != nil {
			return nil, err
		}
		return &parquetS3Sink{ParquetWriter: pw, out: out}, nil
	default:
		return nil, fmt.Errorf("unsupported format %s for S3Location", spec.Format)
	}
}

// PostgresLocation directs output to a table on an open database.
type PostgresLocation struct {
	DB        *sql.DB
	Schema    string
	Table     string
	Truncate  bool
	BatchSize int
}

// NewSink instantiates a PostgreSQL writer.
func (p PostgresLocation) NewSink(ctx context.Context, spec SinkSpec) (core.DataSink, error) {
	if spec.Format != FormatPostgres {
		return nil, fmt.Errorf("unsupported format %s for PostgresLocation", spec.Format)
	}
	opts := []writers.PostgresWriterOption{
		writers.WithSchema(p.Schema),
		writers.WithTableName(p.Table),
		writers.WithColumns(spec.Headers),
		writers.WithTruncateTable(p.Truncate),
	}
	if p.BatchSize > 0 {
		opts = append(opts, writers.WithPostgresBatchSize(p.BatchSize))
	}
	return writers.NewPostgresWriter(p.DB, opts...)
}

// Tee fans every record out to several sinks. Flush and Close visit every
// sink and return the first error.
func Tee(sinks ...core.DataSink) core.DataSink {
	return teeSink(sinks)
}

type teeSink []core.DataSink

func (t teeSink) Write(ctx context.Context, record core.Record) error {
	for _, s := range t {
		if err := s.Write(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

func (t teeSink) Flush() error {
	var first error
	for _, s := range t {
		if err := s.Flush(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t teeSink) Close() error {
	var first error
	for _, s := range t {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
