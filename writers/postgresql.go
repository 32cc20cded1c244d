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
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aaronlmathis/servicedw/core"
	"github.com/lib/pq"
)

// PostgresWriter batches records into multi-row INSERT statements against
// schema.table on a caller-owned *sql.DB.

// maxBindParams is the PostgreSQL limit on bind parameters per statement.
const maxBindParams = 65535

// PostgresWriterError wraps PostgreSQL-specific write errors with context about the operation.
type PostgresWriterError struct {
	Op  string
	Err error
}

func (e *PostgresWriterError) Error() string {
	return fmt.Sprintf("postgres writer %s: %v", e.Op, e.Err)
}

func (e *PostgresWriterError) Unwrap() error {
	return e.Err
}

// PostgresWriterStats holds PostgreSQL write performance statistics.
type PostgresWriterStats struct {
	RecordsWritten   int64
	RowsInserted     int64
	BatchesWritten   int64
	TransactionCount int64
	LastWriteTime    time.Time
	WriteDuration    time.Duration
	NullValueCounts  map[string]int64
	ConflictCount    int64
}

// ConflictResolution defines how to handle INSERT conflicts in PostgreSQL.
type ConflictResolution int

const (
	// ConflictError returns an error on conflict.
	ConflictError ConflictResolution = iota
	// ConflictIgnore skips conflicting rows (ON CONFLICT DO NOTHING).
	ConflictIgnore
	// ConflictUpdate overwrites conflicting rows (ON CONFLICT DO UPDATE).
	ConflictUpdate
)

// PostgresWriterOptions configures the PostgreSQL writer.
type PostgresWriterOptions struct {
	Schema             string
	TableName          string
	Columns            []string
	BatchSize          int
	CreateTable        bool
	TruncateTable      bool
	ConflictResolution ConflictResolution
	ConflictColumns    []string
	UpdateColumns      []string
	TransactionMode    bool
	QueryTimeout       time.Duration
}

// PostgresWriterOption represents a configuration function for PostgresWriterOptions.
type PostgresWriterOption func(*PostgresWriterOptions)

// WithSchema sets the schema of the target table.
func WithSchema(schema string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.Schema = schema
	}
}

// WithTableName sets the target table name.
func WithTableName(tableName string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.TableName = tableName
	}
}

// WithColumns fixes the inserted columns and their order.
func WithColumns(columns []string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.Columns = append([]string(nil), columns...)
	}
}

// WithPostgresBatchSize sets the number of rows per INSERT.
func WithPostgresBatchSize(size int) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.BatchSize = size
	}
}

// WithCreateTable creates the table from the first record when it does not exist.
func WithCreateTable(create bool) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.CreateTable = create
	}
}

// WithTruncateTable empties the table before the first batch.
func WithTruncateTable(truncate bool) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.TruncateTable = truncate
	}
}

// WithConflictResolution sets the conflict resolution strategy and columns.
func WithConflictResolution(resolution ConflictResolution, conflictCols, updateCols []string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.ConflictResolution = resolution
		opts.ConflictColumns = append([]string(nil), conflictCols...)
		opts.UpdateColumns = append([]string(nil), updateCols...)
	}
}

// WithTransactionMode wraps each batch in its own transaction.
func WithTransactionMode(enabled bool) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.TransactionMode = enabled
	}
}

// WithPostgresQueryTimeout bounds each batch statement.
func WithPostgresQueryTimeout(timeout time.Duration) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.QueryTimeout = timeout
	}
}

// PostgresWriter implements core.DataSink for PostgreSQL output.
type PostgresWriter struct {
	mu          sync.Mutex
	db          *sql.DB
	options     PostgresWriterOptions
	columns     []string
	recordBuf   []core.Record
	stats       PostgresWriterStats
	initialized bool
	errorState  bool
}

// NewPostgresWriter creates a writer on db. The pool is not closed by Close.
func NewPostgresWriter(db *sql.DB, opts ...PostgresWriterOption) (*PostgresWriter, error) {
	options := (&PostgresWriterOptions{}).withDefaults()
	for _, opt := range opts {
		opt(options)
	}
	if db == nil {
		return nil, &PostgresWriterError{Op: "validate", Err: errors.New("database handle is required")}
	}
	if err := validateOptions(options); err != nil {
		return nil, &PostgresWriterError{Op: "validate", Err: err}
	}

	return &PostgresWriter{
		db:        db,
		options:   *options,
		columns:   append([]string(nil), options.Columns...),
		recordBuf: make([]core.Record, 0, options.BatchSize),
		stats:     PostgresWriterStats{NullValueCounts: make(map[string]int64)},
	}, nil
}

func (opts *PostgresWriterOptions) withDefaults() *PostgresWriterOptions {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.QueryTimeout == 0 {
		opts.QueryTimeout = 60 * time.Second
	}
	if opts.Schema == "" {
		opts.Schema = "public"
	}
	opts.TransactionMode = true
	return opts
}

func validateOptions(opts *PostgresWriterOptions) error {
	if opts.TableName == "" {
		return fmt.Errorf("table name is required")
	}
	if opts.ConflictResolution == ConflictUpdate && len(opts.UpdateColumns) == 0 {
		return fmt.Errorf("update columns required for conflict update resolution")
	}
	if opts.ConflictResolution != ConflictError && len(opts.ConflictColumns) == 0 {
		return fmt.Errorf("conflict columns required for conflict resolution")
	}
	return nil
}

// QualifiedName returns the quoted schema.table name.
func (w *PostgresWriter) QualifiedName() string {
	return QualifiedTable(w.options.Schema, w.options.TableName)
}

// QualifiedTable quotes schema and table as a single identifier path.
func QualifiedTable(schema, table string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}

// Stats returns a copy of the current write statistics.
func (w *PostgresWriter) Stats() PostgresWriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	statsCopy := w.stats
	statsCopy.NullValueCounts = make(map[string]int64, len(w.stats.NullValueCounts))
	for k, v := range w.stats.NullValueCounts {
		statsCopy.NullValueCounts[k] = v
	}
	return statsCopy
}

// Write implements the core.DataSink interface.
func (w *PostgresWriter) Write(ctx context.Context, record core.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.errorState {
		return &PostgresWriterError{Op: "write", Err: fmt.Errorf("writer is in error state")}
	}
	if !w.initialized {
		if err := w.initializeUnsafe(ctx, record); err != nil {
			w.errorState = true
			return &PostgresWriterError{Op: "initialize", Err: err}
		}
	}

	for k, v := range record {
		if v == nil {
			w.stats.NullValueCounts[k]++
		}
	}
	w.recordBuf = append(w.recordBuf, record)
	w.stats.RecordsWritten++

	if len(w.recordBuf) >= w.batchRows() {
		if err := w.flushBufferUnsafe(ctx); err != nil {
			w.errorState = true
			return &PostgresWriterError{Op: "flush_batch", Err: err}
		}
	}
	return nil
}

// Flush implements the core.DataSink interface.
func (w *PostgresWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flushBufferUnsafe(context.Background()); err != nil {
		w.errorState = true
		return &PostgresWriterError{Op: "flush", Err: err}
	}
	return nil
}

// Close flushes pending rows.
func (w *PostgresWriter) Close() error {
	return w.Flush()
}

func (w *PostgresWriter) batchRows() int {
	rows := w.options.BatchSize
	if n := len(w.columns); n > 0 && rows*n > maxBindParams {
		rows = maxBindParams / n
	}
	return rows
}

func (w *PostgresWriter) initializeUnsafe(ctx context.Context, firstRecord core.Record) error {
	if len(w.columns) == 0 {
		for key := range firstRecord {
			w.columns = append(w.columns, key)
		}
		sort.Strings(w.columns)
	}

	if w.options.CreateTable {
		if err := w.createTableUnsafe(ctx, firstRecord); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	if w.options.TruncateTable {
		if err := w.truncateTableUnsafe(ctx); err != nil {
			return fmt.Errorf("truncate table: %w", err)
		}
	}

	w.initialized = true
	return nil
}

func (w *PostgresWriter) createTableUnsafe(ctx context.Context, record core.Record) error {
	defs := make([]string, len(w.columns))
	for i, col := range w.columns {
		defs[i] = pq.QuoteIdentifier(col) + " " + inferSQLType(record[col])
	}
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", w.QualifiedName(), strings.Join(defs, ", "))
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *PostgresWriter) truncateTableUnsafe(ctx context.Context) error {
	_, err := w.db.ExecContext(ctx, "TRUNCATE TABLE "+w.QualifiedName())
	return err
}

// InsertStatement builds the INSERT for rows records, numbering placeholders row-major.
func (w *PostgresWriter) InsertStatement(rows int) string {
	quoted := make([]string, len(w.columns))
	for i, c := range w.columns {
		quoted[i] = pq.QuoteIdentifier(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", w.QualifiedName(), strings.Join(quoted, ", "))
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range w.columns {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteByte(')')
	}

	switch w.options.ConflictResolution {
	case ConflictIgnore:
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", quoteAll(w.options.ConflictColumns))
	case ConflictUpdate:
		sets := make([]string, len(w.options.UpdateColumns))
		for i, col := range w.options.UpdateColumns {
			q := pq.QuoteIdentifier(col)
			sets[i] = q + " = EXCLUDED." + q
		}
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET %s", quoteAll(w.options.ConflictColumns), strings.Join(sets, ", "))
	}
	return b.String()
}

func (w *PostgresWriter) flushBufferUnsafe(ctx context.Context) (err error) {
	if len(w.recordBuf) == 0 {
		return nil
	}
	if !w.initialized {
		return errors.New("writer not initialized")
	}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, w.options.QueryTimeout)
	defer cancel()

	args := make([]interface{}, 0, len(w.recordBuf)*len(w.columns))
	for _, record := range w.recordBuf {
		for _, col := range w.columns {
			args = append(args, convertValue(record[col]))
		}
	}
	query := w.InsertStatement(len(w.recordBuf))

	var result sql.Result
	if w.options.TransactionMode {
		tx, berr := w.db.BeginTx(ctx, nil)
		if berr != nil {
			return fmt.Errorf("begin transaction: %w", berr)
		}
		defer func() {
			if err != nil {
				tx.Rollback()
			}
		}()
		if result, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("execute insert: %w", err)
		}
		if err = tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		w.stats.TransactionCount++
	} else {
		if result, err = w.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("execute insert: %w", err)
		}
	}

	if affected, aerr := result.RowsAffected(); aerr == nil {
		w.stats.RowsInserted += affected
		w.stats.ConflictCount += int64(len(w.recordBuf)) - affected
	}
	w.stats.BatchesWritten++
	w.stats.LastWriteTime = time.Now()
	w.stats.WriteDuration += time.Since(start)
	w.recordBuf = w.recordBuf[:0]
	return nil
}

func quoteAll(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pq.QuoteIdentifier(c)
	}
	return strings.Join(out, ", ")
}

func inferSQLType(value interface{}) string {
	switch value.(type) {
	case bool:
		return "BOOLEAN"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "BIGINT"
	case float32, float64:
		return "DOUBLE PRECISION"
	case time.Time:
		return "DATE"
	case []byte:
		return "BYTEA"
	default:
		return "TEXT"
	}
}

func convertValue(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time, bool, int64, float64, string, []byte:
		return v
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
			return rv.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return int64(rv.Uint())
		case reflect.Float32:
			return rv.Float()
		default:
			return fmt.Sprintf("%v", v)
		}
	}
}
