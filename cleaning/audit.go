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

// audit.go - Human-readable record of cleaning decisions
package cleaning

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEntry records one cleaning operation on a column.
type AuditEntry struct {
	Entity    string
	Column    string
	Operation string // dedupe, impute, parse_date, normalize, clip, derive, ...
	Before    int    // missing or offending values (or rows) before the operation
	After     int    // same measure after the operation
	Detail    string
}

// AuditTrail collects entries for one cleaning run.
type AuditTrail struct {
	RunID string

	mu      sync.Mutex
	entries []AuditEntry
	now     func() time.Time
}

// NewAuditTrail creates an empty trail stamped with runID.
func NewAuditTrail(runID string) *AuditTrail {
	return &AuditTrail{RunID: runID, now: time.Now}
}

// Record appends an entry.
func (a *AuditTrail) Record(e AuditEntry) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
}

// Entries returns a copy of every entry.
func (a *AuditTrail) Entries() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AuditEntry(nil), a.entries...)
}

// ForEntity returns the entries of one entity.
func (a *AuditTrail) ForEntity(entity string) []AuditEntry {
	var out []AuditEntry
	for _, e := range a.Entries() {
		if e.Entity == entity {
			out = append(out, e)
		}
	}
	return out
}

// WriteTo renders every entry as text.
func (a *AuditTrail) WriteTo(w io.Writer) (int64, error) {
	return a.write(w, a.Entries())
}

// AppendFile appends the block of entity to path, creating it if needed.
func (a *AuditTrail) AppendFile(path, entity string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := a.write(f, a.ForEntity(entity)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (a *AuditTrail) write(w io.Writer, entries []AuditEntry) (int64, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--- cleaning run %s at %s ---\n", a.RunID, a.now().Format("2006-01-02 15:04:05"))
	for _, e := range entries {
		fmt.Fprintf(&buf, "[%s] %s %s: %d -> %d", e.Entity, e.Column, e.Operation, e.Before, e.After)
		if e.Detail != "" {
			fmt.Fprintf(&buf, " (%s)", e.Detail)
		}
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.WriteTo(w)
}
