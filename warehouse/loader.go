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

// loader.go - Cleaned files to raw schema to warehouse
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aaronlmathis/servicedw/cleaning"
	"github.com/aaronlmathis/servicedw/config"
	"github.com/aaronlmathis/servicedw/core"
	"github.com/aaronlmathis/servicedw/dimension"
	"github.com/aaronlmathis/servicedw/readers"
	"github.com/aaronlmathis/servicedw/storage"
	"github.com/aaronlmathis/servicedw/types"
	"github.com/aaronlmathis/servicedw/writers"
)

// Warehouse schemas.
const (
	SchemaRaw = "raw"
	SchemaDW  = "dw"
)

// ErrSourceMissing marks a cleaned file that does not exist. It is logged
// and the source is skipped.
var ErrSourceMissing = errors.New("cleaned source missing")

// LoaderError reports a fatal loader failure.
type LoaderError struct {
	Op  string
	Err error
}

func (e *LoaderError) Error() string {
	return fmt.Sprintf("loader %s: %v", e.Op, e.Err)
}

func (e *LoaderError) Unwrap() error {
	return e.Err
}

// ReportTables are counted at the end of a load.
var ReportTables = []string{
	"dw.dim_territoire",
	"dw.dim_communes",
	"dw.dim_centres_service",
	"dw.dim_type_document",
	"dw.dim_socioeconomique",
	"dw.fact_demandes",
}

// LoadReport summarizes a load run.
type LoadReport struct {
	RunID     string                    `json:"run_id"`
	Mode      config.LoadMode           `json:"mode"`
	Started   time.Time                 `json:"started"`
	Duration  time.Duration             `json:"duration"`
	Raw       map[string]int64          `json:"raw"`
	Scripts   []ScriptReport            `json:"scripts"`
	Dimension *dimension.Report         `json:"dimension,omitempty"`
	Resolve   []dimension.ResolveReport `json:"resolve"`
	Counts    map[string]int64          `json:"counts"`
	Skipped   []string                  `json:"skipped,omitempty"`
}

// Loader runs the full load sequence against one database.
type Loader struct {
	db        *sql.DB
	cleanDir  string
	sources   []config.Source
	mode      config.LoadMode
	scripts   Scripts
	store     *storage.Store
	runID     string
	batchSize int
	logger    *zap.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithMode selects full refresh or incremental loading.
func WithMode(mode config.LoadMode) LoaderOption {
	return func(l *Loader) { l.mode = mode }
}

// WithScripts replaces the embedded scripts.
func WithScripts(s Scripts) LoaderOption {
	return func(l *Loader) { l.scripts = s }
}

// WithStore sets where cleaned files are read from.
func WithStore(s *storage.Store) LoaderOption {
	return func(l *Loader) { l.store = s }
}

// WithRunID stamps the report and logs.
func WithRunID(id string) LoaderOption {
	return func(l *Loader) { l.runID = id }
}

// WithBatchSize sets the rows per INSERT.
func WithBatchSize(n int) LoaderOption {
	return func(l *Loader) { l.batchSize = n }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a Loader reading cleaned files of sources from cleanDir.
func NewLoader(db *sql.DB, cleanDir string, sources []config.Source, opts ...LoaderOption) *Loader {
	l := &Loader{
		db:        db,
		cleanDir:  cleanDir,
		sources:   sources,
		mode:      config.FullRefresh,
		scripts:   DefaultScripts(),
		batchSize: 500,
		logger:    zap.L().Named("warehouse"),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.store == nil {
		l.store = storage.NewLocal(storage.WithLogger(l.logger))
	}
	if l.runID == "" {
		l.runID = uuid.NewString()
	}
	return l
}

// Load prepares the schemas, runs the DDL, inserts the raw tables, builds
// the dimensions, runs the transform and view scripts and counts rows.
func (l *Loader) Load(ctx context.Context) (*LoadReport, error) {
	logger := l.logger.With(zap.String("run_id", l.runID), zap.String("mode", string(l.mode)))
	report := &LoadReport{
		RunID:   l.runID,
		Mode:    l.mode,
		Started: time.Now(),
		Raw:     make(map[string]int64),
	}
	runner := NewScriptRunner(l.db, logger)

	if err := l.prepareSchemas(ctx); err != nil {
		return report, &LoaderError{Op: "prepare_schemas", Err: err}
	}
	logger.Info("schemas ready")

	if err := l.runScript(ctx, runner, report, ScriptCreateTables, l.scripts.CreateTables); err != nil {
		return report, err
	}

	datasets := make(map[string][]core.Record)
	for _, src := range l.sources {
		records, err := l.readCleaned(ctx, src)
		if errors.Is(err, ErrSourceMissing) {
			logger.Warn("cleaned file missing, skipping", zap.String("entity", src.Entity), zap.Error(err))
			report.Skipped = append(report.Skipped, src.Entity)
			continue
		}
		if err != nil {
			return report, &LoaderError{Op: "read_cleaned", Err: err}
		}
		datasets[src.Entity] = records

		if src.RawTable == "" {
			continue
		}
		n, err := l.insertRaw(ctx, src, records)
		if err != nil {
			return report, &LoaderError{Op: "insert_raw", Err: err}
		}
		report.Raw[src.RawTable] = n
		logger.Info("raw table loaded", zap.String("table", SchemaRaw+"."+src.RawTable), zap.Int64("rows", n))
	}

	in := dimension.Inputs{
		Centres:   datasets[config.EntityCentres],
		Requests:  datasets[config.EntityDemandes],
		Documents: datasets[config.EntityDocuments],
		Socio:     datasets[config.EntitySocio],
	}
	if l.mode == config.Incremental {
		existing, err := l.existingTerritories(ctx)
		if err != nil {
			return report, &LoaderError{Op: "read_territories", Err: err}
		}
		in.Existing = existing
	}
	builder := dimension.NewBuilder(l.db,
		dimension.WithSchema(SchemaDW),
		dimension.WithBatchSize(l.batchSize),
		dimension.WithIncremental(l.mode == config.Incremental),
		dimension.WithLogger(logger.Named("dimension")),
	)
	dim, err := builder.Build(ctx, in)
	if err != nil {
		return report, &LoaderError{Op: "build_dimensions", Err: err}
	}
	report.Dimension = dim
	report.Resolve = dim.Resolve

	if err := l.runScript(ctx, runner, report, ScriptTransform, l.scripts.Transform); err != nil {
		return report, err
	}
	if err := l.runScript(ctx, runner, report, ScriptViews, l.scripts.Views); err != nil {
		return report, err
	}

	report.Counts = RowCounts(ctx, l.db, ReportTables, logger)
	report.Duration = time.Since(report.Started)
	for _, t := range ReportTables {
		logger.Info("row count", zap.String("table", t), zap.Int64("rows", report.Counts[t]))
	}
	return report, nil
}

func (l *Loader) runScript(ctx context.Context, runner *ScriptRunner, report *LoadReport, name, script string) error {
	rep, err := runner.Run(ctx, name, script)
	report.Scripts = append(report.Scripts, rep)
	if err != nil {
		return &LoaderError{Op: "run_script", Err: err}
	}
	return nil
}

// prepareSchemas drops and recreates raw and dw in full refresh mode, or
// creates them when absent in incremental mode. It runs in one transaction.
func (l *Loader) prepareSchemas(ctx context.Context) (err error) {
	stmts := []string{
		"CREATE SCHEMA IF NOT EXISTS " + SchemaRaw,
		"CREATE SCHEMA IF NOT EXISTS " + SchemaDW,
	}
	if l.mode == config.FullRefresh {
		stmts = []string{
			"DROP SCHEMA IF EXISTS " + SchemaRaw + " CASCADE",
			"DROP SCHEMA IF EXISTS " + SchemaDW + " CASCADE",
			"CREATE SCHEMA " + SchemaRaw,
			"CREATE SCHEMA " + SchemaDW,
		}
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	for _, stmt := range stmts {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return tx.Commit()
}

// readCleaned reads the cleaned CSV of src and types its values by schema.
func (l *Loader) readCleaned(ctx context.Context, src config.Source) ([]core.Record, error) {
	path := storage.Join(l.cleanDir, src.CleanedFile)
	ok, err := l.store.Exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceMissing, path)
	}
	return cleaning.ReadCleaned(ctx, l.store, path, src.Entity)
}

func (l *Loader) insertRaw(ctx context.Context, src config.Source, records []core.Record) (int64, error) {
	if len(records) == 0 {
		_, err := l.db.ExecContext(ctx, "TRUNCATE TABLE "+writers.QualifiedTable(SchemaRaw, src.RawTable))
		return 0, err
	}
	cleaner, err := cleaning.NewCleaner(src.Entity, nil)
	if err != nil {
		return 0, err
	}
	loc := types.PostgresLocation{
		DB:        l.db,
		Schema:    SchemaRaw,
		Table:     src.RawTable,
		Truncate:  true,
		BatchSize: l.batchSize,
	}
	w, err := loc.NewSink(ctx, types.SinkSpec{Format: types.FormatPostgres, Headers: cleaner.Schema().Names()})
	if err != nil {
		return 0, err
	}
	var written int64
	for _, r := range records {
		if err := w.Write(ctx, r); err != nil {
			w.Close()
			return 0, err
		}
		written++
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return written, nil
}

// existingTerritories reads dw.dim_territoire. A missing table yields none.
func (l *Loader) existingTerritories(ctx context.Context) ([]dimension.Territory, error) {
	reader, err := readers.NewPostgresReader(ctx, l.db, readers.WithPostgresQuery(
		"SELECT id_territoire, region, prefecture, commune FROM "+
			writers.QualifiedTable(SchemaDW, dimension.TableTerritory)+" ORDER BY id_territoire"))
	if err != nil {
		if Categorize(SQLState(err)) == "undefined" {
			return nil, nil
		}
		return nil, err
	}
	records, err := readers.ReadAll(ctx, reader)
	if err != nil {
		return nil, err
	}
	return dimension.TerritoriesFromRecords(records)
}

// RowCounts counts the rows of each table. A table that cannot be counted
// is reported as -1 and logged.
func RowCounts(ctx context.Context, db *sql.DB, tables []string, logger *zap.Logger) map[string]int64 {
	if logger == nil {
		logger = zap.L().Named("warehouse")
	}
	counts := make(map[string]int64, len(tables))
	for _, t := range tables {
		var n int64
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t).Scan(&n); err != nil {
			logger.Warn("row count failed", zap.String("table", t), zap.Error(err))
			n = -1
		}
		counts[t] = n
	}
	return counts
}
