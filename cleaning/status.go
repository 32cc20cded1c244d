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

// status.go - Request status vocabulary
package cleaning

import (
	"strings"

	"github.com/aaronlmathis/servicedw/transform"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Canonical request statuses.
const (
	StatusValidated = "Validée"
	StatusRejected  = "Rejetée"
	StatusPending   = "En Attente"
)

// Statuses lists the canonical labels.
var Statuses = []string{StatusValidated, StatusRejected, StatusPending}

// TerminalStatuses are the statuses counted as processed.
var TerminalStatuses = []string{StatusValidated, StatusRejected}

// StatusMapping maps raw status spellings onto canonical labels. Keys are
// compared after encoding repair, whitespace collapsing and case folding.
var StatusMapping = map[string]string{
	"validée":    StatusValidated,
	"validee":    StatusValidated,
	"traitée":    StatusValidated,
	"traitee":    StatusValidated,
	"acceptée":   StatusValidated,
	"acceptee":   StatusValidated,
	"finalisée":  StatusValidated,
	"finalisee":  StatusValidated,
	"rejetée":    StatusRejected,
	"rejetee":    StatusRejected,
	"refusée":    StatusRejected,
	"refusee":    StatusRejected,
	"en attente": StatusPending,
	"en cours":   StatusPending,
}

// NormalizeStatus maps s onto a canonical status. Unmapped values are
// returned unchanged apart from encoding repair and whitespace trimming.
func NormalizeStatus(s string) string {
	repaired := strings.Join(strings.Fields(transform.RepairText(s)), " ")
	if label, ok := StatusMapping[cases.Fold().String(repaired)]; ok {
		return label
	}
	return repaired
}

// IsCanonicalStatus reports whether s is one of Statuses.
func IsCanonicalStatus(s string) bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

// frenchLower is used for case-insensitive comparisons of sentinel values.
func frenchLower(s string) string {
	return cases.Lower(language.French).String(strings.TrimSpace(s))
}
