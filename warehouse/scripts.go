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

package warehouse

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Script file names, in execution order.
const (
	ScriptCreateTables = "02_create_tables.sql"
	ScriptTransform    = "04_transform_to_dw.sql"
	ScriptViews        = "05_create_views.sql"
)

//go:embed sql/*.sql
var embedded embed.FS

// Scripts holds the SQL text of each load phase.
type Scripts struct {
	CreateTables string
	Transform    string
	Views        string
}

// DefaultScripts returns the scripts shipped with the binary.
func DefaultScripts() Scripts {
	s, err := readScripts(embedded, "sql")
	if err != nil {
		panic(fmt.Sprintf("embedded scripts: %v", err))
	}
	return s
}

// LoadScripts reads scripts from dir. Files absent from dir fall back to
// the embedded version. An empty dir returns the defaults.
func LoadScripts(dir string) (Scripts, error) {
	s := DefaultScripts()
	if dir == "" {
		return s, nil
	}
	for name, dst := range s.targets() {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return s, &ScriptError{Script: name, Op: "read", Err: err}
		}
		*dst = string(b)
	}
	return s, nil
}

func (s *Scripts) targets() map[string]*string {
	return map[string]*string{
		ScriptCreateTables: &s.CreateTables,
		ScriptTransform:    &s.Transform,
		ScriptViews:        &s.Views,
	}
}

func readScripts(fsys fs.FS, dir string) (Scripts, error) {
	var s Scripts
	for name, dst := range s.targets() {
		b, err := fs.ReadFile(fsys, dir+"/"+name)
		if err != nil {
			return s, err
		}
		*dst = string(b)
	}
	return s, nil
}
