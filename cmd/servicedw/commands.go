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

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aaronlmathis/servicedw/api"
	"github.com/aaronlmathis/servicedw/cache"
	"github.com/aaronlmathis/servicedw/cleaning"
	"github.com/aaronlmathis/servicedw/config"
	"github.com/aaronlmathis/servicedw/core"
	"github.com/aaronlmathis/servicedw/dag"
	"github.com/aaronlmathis/servicedw/kpi"
	"github.com/aaronlmathis/servicedw/storage"
	"github.com/aaronlmathis/servicedw/types"
	"github.com/aaronlmathis/servicedw/warehouse"
	"github.com/aaronlmathis/servicedw/writers"
)

func runClean(ctx context.Context, args []string, stdout io.Writer) error {
	var common commonFlags
	fs := flag.NewFlagSet("clean", flag.ContinueOnError)
	common.register(fs)
	rawDir := fs.String("raw-dir", "", "overrides DATA_RAW_DIR (directory or s3:// prefix)")
	cleanDir := fs.String("clean-dir", "", "overrides DATA_CLEANED_DIR")
	parquet := fs.Bool("parquet", false, "also write Parquet files")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	cfg, logger, err := common.setup()
	if err != nil {
		return err
	}
	overrideDirs(cfg, *rawDir, *cleanDir)
	cfg.Parquet = cfg.Parquet || *parquet

	summary, err := clean(ctx, cfg, uuid.NewString(), logger)
	if err != nil {
		return err
	}
	return printJSON(stdout, summary.Results)
}

func runLoad(ctx context.Context, args []string, stdout io.Writer) error {
	var common commonFlags
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	common.register(fs)
	cleanDir := fs.String("clean-dir", "", "overrides DATA_CLEANED_DIR")
	mode := fs.String("mode", "", "overrides LOAD_MODE (full_refresh or incremental)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	cfg, logger, err := common.setup()
	if err != nil {
		return err
	}
	overrideDirs(cfg, "", *cleanDir)
	if *mode != "" {
		m, err := config.ParseLoadMode(*mode)
		if err != nil {
			return &usageError{msg: err.Error()}
		}
		cfg.LoadMode = m
	}

	db, err := warehouse.Open(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	report, err := load(ctx, cfg, db, uuid.NewString(), logger)
	if err != nil {
		return err
	}
	return printJSON(stdout, report)
}

// runPipeline chains clean, preview, load and report as one DAG.
func runPipeline(ctx context.Context, args []string, stdout io.Writer) error {
	var common commonFlags
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	common.register(fs)
	rawDir := fs.String("raw-dir", "", "overrides DATA_RAW_DIR")
	cleanDir := fs.String("clean-dir", "", "overrides DATA_CLEANED_DIR")
	retries := fs.Int("load-retries", 0, "retries for the load step")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	cfg, logger, err := common.setup()
	if err != nil {
		return err
	}
	overrideDirs(cfg, *rawDir, *cleanDir)

	db, err := warehouse.Open(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))
	var report *warehouse.LoadReport

	d, err := dag.NewDAG(runID, "servicedw").
		AddStep("clean", func(ctx context.Context) error {
			_, err := clean(ctx, cfg, runID, logger)
			return err
		}, dag.WithDescription("clean raw extracts")).
		AddStep("preview", func(ctx context.Context) error {
			return preview(ctx, cfg, logger)
		}, dag.DependsOn("clean"), dag.WithDescription("headline KPIs over the cleaned requests")).
		AddStep("load", func(ctx context.Context) error {
			r, err := load(ctx, cfg, db, runID, logger)
			report = r
			return err
		}, dag.DependsOn("clean"), dag.WithRetries(*retries, &dag.ExponentialBackoff{BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}), dag.WithDescription("load the warehouse")).
		AddStep("report", func(ctx context.Context) error {
			for table, n := range warehouse.RowCounts(ctx, db, warehouse.ReportTables, logger) {
				logger.Info("row count", zap.String("table", table), zap.Int64("rows", n))
			}
			return nil
		}, dag.DependsOn("load"), dag.WithTrigger(dag.AllDone), dag.WithDescription("row counts")).
		Build()
	if err != nil {
		return err
	}

	res, err := dag.NewExecutor(dag.WithLogger(logger.Named("dag"))).Execute(ctx, d)
	if err != nil {
		return err
	}
	if err := printJSON(stdout, struct {
		Run  *dag.Result           `json:"run"`
		Load *warehouse.LoadReport `json:"load,omitempty"`
	}{res, report}); err != nil {
		return err
	}
	return res.Err()
}

func runKPI(ctx context.Context, args []string, stdout io.Writer) error {
	var common commonFlags
	fs := flag.NewFlagSet("kpi", flag.ContinueOnError)
	common.register(fs)
	name := fs.String("name", "", "KPI to compute (all when empty)")
	region := fs.String("region", "", "region filter")
	prefecture := fs.String("prefecture", "", "prefecture filter")
	docType := fs.String("type-document", "", "document type filter")
	format := fs.String("format", "json", "output format: json or csv")
	out := fs.String("out", "", "output file or s3:// URI (stdout when empty)")
	list := fs.Bool("list", false, "list the catalog and exit")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *list {
		return printJSON(stdout, kpi.Catalog())
	}
	if *format != "json" && *format != "csv" {
		return &usageError{msg: fmt.Sprintf("unknown format %q", *format)}
	}
	if *format == "csv" && *name == "" {
		return &usageError{msg: "csv export needs -name"}
	}
	if *name != "" {
		if _, err := kpi.Lookup(*name); err != nil {
			return &usageError{msg: err.Error()}
		}
	}

	cfg, logger, err := common.setup()
	if err != nil {
		return err
	}
	db, err := warehouse.Open(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := kpi.NewService(kpi.NewRepository(db, cfg.Postgres.Driver, cfg.QueryTimeout), kpi.WithLogger(logger.Named("kpi")))
	f := kpi.Filter{Region: *region, Prefecture: *prefecture, TypeDocument: *docType}

	var records []core.Record
	if *name != "" {
		records, err = svc.Run(ctx, *name, f)
	} else {
		var all map[string][]core.Record
		all, err = svc.RunAll(ctx, f)
		records = flatten(all)
	}
	if err != nil {
		return err
	}

	sink, err := openSink(ctx, cfg, logger, *out, *format, stdout)
	if err != nil {
		return err
	}
	return export(ctx, sink, records)
}

func runServe(ctx context.Context, args []string, _ io.Writer) error {
	var common commonFlags
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	common.register(fs)
	addr := fs.String("addr", "", "overrides HTTP_ADDR")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	cfg, logger, err := common.setup()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	db, err := warehouse.Open(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	var c cache.Cache
	if cfg.CacheShards > 1 {
		c = cache.NewShardedCache(cfg.CacheShards, time.Minute)
	} else {
		c = cache.NewInMemoryCache(time.Minute)
	}
	defer c.Close()

	svc := kpi.NewService(
		kpi.NewRepository(db, cfg.Postgres.Driver, cfg.QueryTimeout),
		kpi.WithCache(c, cfg.CacheTTL),
		kpi.WithLogger(logger.Named("kpi")),
	)
	return api.New(svc, api.WithLogger(logger.Named("api"))).Start(ctx, cfg.HTTPAddr)
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return err
	}
	return &usageError{msg: err.Error()}
}

func overrideDirs(cfg *config.Config, rawDir, cleanDir string) {
	if rawDir != "" {
		cfg.RawDir = rawDir
	}
	if cleanDir != "" {
		cfg.CleanDir = cleanDir
	}
}

func newStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage.Store, error) {
	return storage.New(ctx, cfg.S3, storage.WithLogger(logger.Named("storage")))
}

func clean(ctx context.Context, cfg *config.Config, runID string, logger *zap.Logger) (cleaning.Summary, error) {
	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return cleaning.Summary{}, err
	}
	opts, err := cleaning.OptionsFromConfig(cfg, store)
	if err != nil {
		return cleaning.Summary{}, err
	}
	opts.RunID = runID
	opts.Logger = logger.Named("cleaning")
	return cleaning.Run(ctx, opts)
}

func load(ctx context.Context, cfg *config.Config, db *sql.DB, runID string, logger *zap.Logger) (*warehouse.LoadReport, error) {
	scripts, err := warehouse.LoadScripts(cfg.ScriptsDir)
	if err != nil {
		return nil, err
	}
	loader := warehouse.NewLoader(db, cfg.CleanDir, cfg.Sources,
		warehouse.WithMode(cfg.LoadMode),
		warehouse.WithScripts(scripts),
		warehouse.WithRunID(runID),
		warehouse.WithLogger(logger.Named("warehouse")),
	)
	return loader.Load(ctx)
}

// preview logs the headline KPIs computed from the cleaned requests file.
func preview(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	src, ok := cfg.Source(config.EntityDemandes)
	if !ok {
		return nil
	}
	store := storage.NewLocal(storage.WithLogger(logger.Named("storage")))
	path := cfg.CleanedPath(src)
	exists, err := store.Exists(ctx, path)
	if err != nil || !exists {
		return err
	}
	records, err := cleaning.ReadCleaned(ctx, store, path, src.Entity)
	if err != nil {
		return err
	}
	p, err := kpi.Preview(ctx, records, kpi.Filter{})
	if err != nil {
		return err
	}
	fields := make([]zap.Field, 0, len(p))
	for _, k := range sortedKeys(p) {
		fields = append(fields, zap.Any(k, p[k]))
	}
	logger.Info("kpi preview", fields...)
	return nil
}

// flatten tags each row with its KPI name, in catalog order.
func flatten(all map[string][]core.Record) []core.Record {
	var out []core.Record
	for _, name := range kpi.Names() {
		for _, r := range all[name] {
			row := r.Clone()
			row["kpi"] = name
			out = append(out, row)
		}
	}
	return out
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func exportFormat(format string) types.OutputFormat {
	if format == "csv" {
		return types.FormatCSV
	}
	return types.FormatJSON
}

// streamSink writes to w, which is closed with the sink.
func streamSink(w io.WriteCloser, format string) (core.DataSink, error) {
	if exportFormat(format) == types.FormatCSV {
		return writers.NewCSVWriter(w)
	}
	return writers.NewJSONWriter(w), nil
}

// openSink targets stdout when out is empty, an S3 object for s3:// URIs and
// a local file otherwise.
func openSink(ctx context.Context, cfg *config.Config, logger *zap.Logger, out, format string, stdout io.Writer) (core.DataSink, error) {
	if out == "" {
		return streamSink(nopCloser{stdout}, format)
	}
	spec := types.SinkSpec{Format: exportFormat(format)}
	if bucket, key, ok := storage.ParseS3URI(out); ok {
		store, err := newStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		if store.Manager() == nil {
			return nil, fmt.Errorf("export to %s: %w", out, storage.ErrNoS3Client)
		}
		return types.S3Location{Bucket: bucket, Key: key, Uploader: store.Manager()}.NewSink(ctx, spec)
	}
	return types.FileLocation{Path: out}.NewSink(ctx, spec)
}

// export writes records to sink and closes it.
func export(ctx context.Context, sink core.DataSink, records []core.Record) error {
	for _, r := range records {
		if err := sink.Write(ctx, r); err != nil {
			sink.Close()
			return err
		}
	}
	return sink.Close()
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sortedKeys(r core.Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
