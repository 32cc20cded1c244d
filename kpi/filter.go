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

// filter.go - Optional territorial and document filters
package kpi

import (
	"strings"

	"github.com/aaronlmathis/servicedw/core"
)

// Filter fields a KPI may honour.
const (
	FilterRegion       = "region"
	FilterPrefecture   = "prefecture"
	FilterTypeDocument = "type_document"
)

// AllValues are the labels meaning "no filter".
var AllValues = []string{"Toutes", "Tous"}

// Filter narrows a KPI. Empty fields, and the labels in AllValues, select
// everything.
type Filter struct {
	Region       string `json:"region,omitempty" query:"region"`
	Prefecture   string `json:"prefecture,omitempty" query:"prefecture"`
	TypeDocument string `json:"type_document,omitempty" query:"type_document"`
}

// Normalize trims the fields and clears the "all" labels.
func (f Filter) Normalize() Filter {
	return Filter{
		Region:       normalizeValue(f.Region),
		Prefecture:   normalizeValue(f.Prefecture),
		TypeDocument: normalizeValue(f.TypeDocument),
	}
}

// IsZero reports whether the filter selects everything.
func (f Filter) IsZero() bool {
	return f.Normalize() == Filter{}
}

func normalizeValue(v string) string {
	v = strings.TrimSpace(v)
	for _, all := range AllValues {
		if strings.EqualFold(v, all) {
			return ""
		}
	}
	return v
}

type condition struct {
	column string
	value  string
}

// conditions returns the active filters among allowed, in a fixed order.
// Restrict keeps only the fields named in allowed.
func (f Filter) Restrict(allowed []string) Filter {
	var out Filter
	for _, name := range allowed {
		switch name {
		case FilterRegion:
			out.Region = f.Region
		case FilterPrefecture:
			out.Prefecture = f.Prefecture
		case FilterTypeDocument:
			out.TypeDocument = f.TypeDocument
		}
	}
	return out
}

func (f Filter) conditions(allowed []string) []condition {
	f = f.Normalize()
	var out []condition
	for _, name := range allowed {
		switch name {
		case FilterRegion:
			if f.Region != "" {
				out = append(out, condition{"t.region", f.Region})
			}
		case FilterPrefecture:
			if f.Prefecture != "" {
				out = append(out, condition{"t.prefecture", f.Prefecture})
			}
		case FilterTypeDocument:
			if f.TypeDocument != "" {
				out = append(out, condition{"td.type_document", f.TypeDocument})
			}
		}
	}
	return out
}

// Match reports whether a cleaned request record passes the filter.
func (f Filter) Match(r core.Record) bool {
	f = f.Normalize()
	return matches(r, FilterRegion, f.Region) &&
		matches(r, FilterPrefecture, f.Prefecture) &&
		matches(r, FilterTypeDocument, f.TypeDocument)
}

func matches(r core.Record, field, want string) bool {
	return want == "" || strings.TrimSpace(r.String(field)) == want
}
