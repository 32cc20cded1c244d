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

// run.go - Cleaning run over every configured source
package cleaning

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aaronlmathis/servicedw"
	"github.com/aaronlmathis/servicedw/config"
	"github.com/aaronlmathis/servicedw/core"
	"github.com/aaronlmathis/servicedw/readers"
	"github.com/aaronlmathis/servicedw/storage"
	"github.com/aaronlmathis/servicedw/types"
	"github.com/aaronlmathis/servicedw/validators"
)

// CleanError reports a failure while cleaning one entity.
type CleanError struct {
	Op     string
	Entity string
	Err    error
}

func (e *CleanError) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("cleaning %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cleaning %s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *CleanError) Unwrap() error {
	return e.Err
}

// Options drive a cleaning run.
type Options struct {
	Sources  []config.Source
	RawDir   string // Local directory or s3:// prefix
	CleanDir string
	Parquet  bool
	Store    *storage.Store
	Uploader *storage.Uploader // nil disables uploads
	RunID    string
	Logger   *zap.Logger
}

// OptionsFromConfig derives run options from the application configuration.
// An uploader is created only when an upload URI is configured.
func OptionsFromConfig(cfg *config.Config, store *storage.Store) (Options, error) {
	opts := Options{
		Sources:  cfg.Sources,
		RawDir:   cfg.RawDir,
		CleanDir: cfg.CleanDir,
		Parquet:  cfg.Parquet,
		Store:    store,
	}
	if bucket, prefix := cfg.UploadTarget(); bucket != "" {
		up, err := store.Uploader(bucket, prefix)
		if err != nil {
			return opts, &CleanError{Op: "configure", Err: err}
		}
		opts.Uploader = up
	}
	return opts, nil
}

func (o *Options) withDefaults() {
	if o.Store == nil {
		o.Store = storage.NewLocal()
	}
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
	if o.Logger == nil {
		o.Logger = zap.L().Named("cleaning")
	}
}

// SourceResult describes one cleaned entity.
type SourceResult struct {
	Entity         string
	Input          string
	Output         string
	Parquet        string
	AuditFile      string
	RecordsRead    int64
	RecordsWritten int64
	Validation     validators.ValidationReport
	Uploaded       []string
	Duration       time.Duration
}

// Summary is the outcome of Run.
type Summary struct {
	RunID   string
	Results []SourceResult
	Skipped []string // Entities whose raw extract was missing
	Audit   *AuditTrail
}

// Result returns the result for entity.
func (s Summary) Result(entity string) (SourceResult, bool) {
	for _, r := range s.Results {
		if r.Entity == entity {
			return r, true
		}
	}
	return SourceResult{}, false
}

// AuditFileName is the audit trail written next to an entity's cleaned file.
func AuditFileName(entity string) string {
	return "documentation_" + entity + "_cleaning.txt"
}

// Run cleans every source in order. A missing raw extract is logged and
// skipped; any other failure stops the run.
func Run(ctx context.Context, opts Options) (Summary, error) {
	opts.withDefaults()
	logger := opts.Logger.With(zap.String("run_id", opts.RunID))
	summary := Summary{RunID: opts.RunID, Audit: NewAuditTrail(opts.RunID)}

	for _, src := range opts.Sources {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		input := storage.Join(opts.RawDir, src.RawFile)
		ok, err := opts.Store.Exists(ctx, input)
		if err != nil {
			return summary, &CleanError{Op: "stat", Entity: src.Entity, Err: err}
		}
		if !ok {
			logger.Warn("raw extract missing, skipping", zap.String("entity", src.Entity), zap.String("input", input))
			summary.Skipped = append(summary.Skipped, src.Entity)
			continue
		}

		res, err := cleanSource(ctx, opts, src, input, summary.Audit, logger)
		if err != nil {
			return summary, err
		}
		summary.Results = append(summary.Results, res)
	}
	logger.Info("cleaning finished",
		zap.Int("cleaned", len(summary.Results)),
		zap.Strings("skipped", summary.Skipped))
	return summary, nil
}

func cleanSource(ctx context.Context, opts Options, src config.Source, input string, audit *AuditTrail, logger *zap.Logger) (SourceResult, error) {
	start := time.Now()
	res := SourceResult{Entity: src.Entity, Input: input, Output: filepath.Join(opts.CleanDir, src.CleanedFile)}

	cleaner, err := NewCleaner(src.Entity, audit)
	if err != nil {
		return res, err
	}
	schema := cleaner.Schema()

	rc, err := opts.Store.Open(ctx, input)
	if err != nil {
		return res, &CleanError{Op: "open", Entity: src.Entity, Err: err}
	}
	reader, err := readers.NewCSVReader(rc,
		readers.WithCSVComma(src.Comma()),
		readers.WithCSVEncoding(readers.ParseEncoding(src.Encoding)),
	)
	if err != nil {
		rc.Close()
		return res, &CleanError{Op: "read", Entity: src.Entity, Err: err}
	}

	sink, err := openSinks(ctx, opts, schema, &res)
	if err != nil {
		reader.Close()
		return res, &CleanError{Op: "create_output", Entity: src.Entity, Err: err}
	}

	validation := &validationStage{validator: ValidatorFor(src.Entity)}
	p, err := servicedw.NewPipeline().
		From(reader).
		Batch(cleaner).
		Batch(validation).
		To(sink).
		WithLogger(logger.Named(src.Entity)).
		Build()
	if err != nil {
		return res, &CleanError{Op: "build", Entity: src.Entity, Err: err}
	}
	stats, err := p.Execute(ctx)
	if err != nil {
		return res, &CleanError{Op: "execute", Entity: src.Entity, Err: err}
	}
	res.RecordsRead = stats.RecordsRead
	res.RecordsWritten = stats.RecordsWritten
	res.Validation = validation.report

	for _, v := range res.Validation.Violations {
		logger.Warn("data quality violation",
			zap.String("entity", src.Entity),
			zap.String("rule", v.Rule),
			zap.String("field", v.Field),
			zap.Int("count", v.Count))
	}

	res.AuditFile = filepath.Join(opts.CleanDir, AuditFileName(src.Entity))
	if err := audit.AppendFile(res.AuditFile, src.Entity); err != nil {
		return res, &CleanError{Op: "audit", Entity: src.Entity, Err: err}
	}

	if opts.Uploader != nil {
		for _, local := range []string{res.Output, res.Parquet, res.AuditFile} {
			if local == "" {
				continue
			}
			uri, err := opts.Uploader.UploadFile(ctx, local, filepath.Base(local))
			if err != nil {
				return res, &CleanError{Op: "upload", Entity: src.Entity, Err: err}
			}
			res.Uploaded = append(res.Uploaded, uri)
		}
	}

	res.Duration = time.Since(start)
	logger.Info("entity cleaned",
		zap.String("entity", src.Entity),
		zap.Int64("rows_in", res.RecordsRead),
		zap.Int64("rows_out", res.RecordsWritten),
		zap.String("output", res.Output),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// openSinks creates the cleaned CSV and, when enabled, its Parquet twin.
func openSinks(ctx context.Context, opts Options, schema Schema, res *SourceResult) (core.DataSink, error) {
	csvSink, err := types.FileLocation{Path: res.Output}.NewSink(ctx, types.SinkSpec{
		Format:  types.FormatCSV,
		Headers: schema.Names(),
	})
	if err != nil {
		return nil, err
	}
	if !opts.Parquet {
		return csvSink, nil
	}
	res.Parquet = strings.TrimSuffix(res.Output, filepath.Ext(res.Output)) + types.FormatParquet.Extension()
	pqSink, err := types.FileLocation{Path: res.Parquet}.NewSink(ctx, types.SinkSpec{
		Format:  types.FormatParquet,
		Columns: schema.ParquetColumns(),
	})
	if err != nil {
		return nil, errors.Join(err, csvSink.Close())
	}
	return types.Tee(csvSink, pqSink), nil
}

// ReadCleaned reads a cleaned CSV written by Run and restores the column
// types of entity.
func ReadCleaned(ctx context.Context, store *storage.Store, path, entity string) ([]core.Record, error) {
	cleaner, err := NewCleaner(entity, nil)
	if err != nil {
		return nil, err
	}
	rc, err := store.Open(ctx, path)
	if err != nil {
		return nil, &CleanError{Op: "open", Entity: entity, Err: err}
	}
	reader, err := readers.NewCSVReader(rc)
	if err != nil {
		rc.Close()
		return nil, &CleanError{Op: "read", Entity: entity, Err: err}
	}
	records, err := readers.ReadAll(ctx, reader)
	if err != nil {
		return nil, &CleanError{Op: "read", Entity: entity, Err: err}
	}
	return cleaner.Schema().Coerce(ctx, records)
}
