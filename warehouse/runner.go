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

// runner.go - Best-effort SQL script execution
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ScriptError reports a script that could not be run at all.
type ScriptError struct {
	Script string
	Op     string
	Err    error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("script %s %s: %v", e.Script, e.Op, e.Err)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// StatementFailure describes one failed statement. Its transaction was rolled back.
type StatementFailure struct {
	Index    int    `json:"index"`
	SQL      string `json:"sql"`
	Code     string `json:"code,omitempty"` // SQLSTATE, empty when the driver gave none
	Category string `json:"category"`
	Err      error  `json:"-"`
	Message  string `json:"error"`
}

// ScriptReport is the outcome of one script.
type ScriptReport struct {
	Name     string             `json:"name"`
	Total    int                `json:"total"`
	Executed int                `json:"executed"`
	Failed   []StatementFailure `json:"failed,omitempty"`
	Duration time.Duration      `json:"duration"`
}

// OK reports whether every statement succeeded.
func (r ScriptReport) OK() bool { return len(r.Failed) == 0 }

// SplitStatements splits a script into statements on ';'. Lines starting with
// a backslash (psql meta-commands) are skipped. Semicolons inside quotes,
// quoted identifiers, dollar-quoted bodies and comments do not split.
// Comments are removed from the output.
func SplitStatements(script string) []string {
	var kept []string
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), `\`) {
			continue
		}
		kept = append(kept, line)
	}
	src := strings.Join(kept, "\n")

	var (
		out     []string
		cur     strings.Builder
		dollar  string
		inQuote byte
	)
	flush := func() {
		if stmt := strings.TrimSpace(cur.String()); stmt != "" {
			out = append(out, stmt)
		}
		cur.Reset()
	}

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case dollar != "":
			if strings.HasPrefix(src[i:], dollar) {
				cur.WriteString(dollar)
				i += len(dollar) - 1
				dollar = ""
				continue
			}
			cur.WriteByte(c)
		case inQuote != 0:
			cur.WriteByte(c)
			if c == inQuote {
				if i+1 < len(src) && src[i+1] == inQuote {
					cur.WriteByte(src[i+1])
					i++
					continue
				}
				inQuote = 0
			}
		case c == '\'' || c == '"':
			inQuote = c
			cur.WriteByte(c)
		case c == '-' && i+1 < len(src) && src[i+1] == '-':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			cur.WriteByte('\n')
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				i = len(src)
				continue
			}
			i += end + 3
			cur.WriteByte(' ')
		case c == '$':
			if tag := dollarTag(src[i:]); tag != "" {
				dollar = tag
				cur.WriteString(tag)
				i += len(tag) - 1
				continue
			}
			cur.WriteByte(c)
		case c == ';':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return out
}

// dollarTag returns the opening tag ($$ or $name$) at the start of s.
func dollarTag(s string) string {
	for j := 1; j < len(s); j++ {
		c := s[j]
		if c == '$' {
			return s[:j+1]
		}
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || j > 1 && c >= '0' && c <= '9') {
			return ""
		}
	}
	return ""
}

// SQLState extracts the SQLSTATE code from pgx and lib/pq errors.
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// Categorize names the class of a SQLSTATE code.
func Categorize(code string) string {
	switch code {
	case "":
		return "unknown"
	case pgerrcode.DuplicateTable, pgerrcode.DuplicateObject, pgerrcode.DuplicateSchema, pgerrcode.DuplicateColumn:
		return "already_exists"
	case pgerrcode.UndefinedTable, pgerrcode.UndefinedColumn, pgerrcode.UndefinedObject, pgerrcode.InvalidSchemaName:
		return "undefined"
	}
	switch {
	case pgerrcode.IsIntegrityConstraintViolation(code):
		return "integrity"
	case pgerrcode.IsDataException(code):
		return "data"
	case pgerrcode.IsSyntaxErrororAccessRuleViolation(code):
		return "syntax_or_access"
	case pgerrcode.IsConnectionException(code):
		return "connection"
	}
	return "other"
}

// ScriptRunner executes scripts one statement at a time.
type ScriptRunner struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewScriptRunner creates a runner on db. A nil logger uses the global one.
func NewScriptRunner(db *sql.DB, logger *zap.Logger) *ScriptRunner {
	if logger == nil {
		logger = zap.L().Named("warehouse")
	}
	return &ScriptRunner{db: db, logger: logger}
}

// Run executes every statement of script in its own transaction. A failing
// statement is rolled back and recorded; the following statements still run.
// Only a failure to start a transaction or a canceled context stops the run.
func (r *ScriptRunner) Run(ctx context.Context, name, script string) (ScriptReport, error) {
	start := time.Now()
	stmts := SplitStatements(script)
	report := ScriptReport{Name: name, Total: len(stmts)}

	for i, stmt := range stmts {
		if err := ctx.Err(); err != nil {
			return report, &ScriptError{Script: name, Op: "execute", Err: err}
		}
		err := r.exec(ctx, stmt)
		var begin *beginError
		if errors.As(err, &begin) {
			report.Duration = time.Since(start)
			return report, &ScriptError{Script: name, Op: "begin", Err: begin.err}
		}
		if err != nil {
			code := SQLState(err)
			f := StatementFailure{Index: i, SQL: stmt, Code: code, Category: Categorize(code), Err: err, Message: err.Error()}
			report.Failed = append(report.Failed, f)
			r.logger.Warn("statement failed",
				zap.String("script", name),
				zap.Int("index", i),
				zap.String("sqlstate", code),
				zap.String("category", f.Category),
				zap.String("statement", firstLine(stmt)),
				zap.Error(err))
			continue
		}
		report.Executed++
	}
	report.Duration = time.Since(start)
	r.logger.Info("script executed",
		zap.String("script", name),
		zap.Int("statements", report.Total),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("duration", report.Duration))
	return report, nil
}

type beginError struct{ err error }

func (e *beginError) Error() string { return "begin transaction: " + e.err.Error() }

func (r *ScriptRunner) exec(ctx context.Context, stmt string) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &beginError{err: err}
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, stmt); err != nil {
		return err
	}
	return tx.Commit()
}

func firstLine(stmt string) string {
	line, _, _ := strings.Cut(stmt, "\n")
	if len(line) > 80 {
		return line[:80] + "..."
	}
	return line
}
