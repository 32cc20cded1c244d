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

package kpi

// Metrics with badge thresholds.
const (
	MetricDMT        = "dmt"
	MetricAbsorption = "absorption"
	MetricCoverage   = "couverture"
	MetricRejection  = "rejet"
)

// Badge levels.
const (
	LevelGood     = "good"
	LevelWarning  = "warning"
	LevelCritical = "critical"
	LevelNone     = "none"
)

// Badge is a graded KPI value.
type Badge struct {
	Level string `json:"level"`
	Label string `json:"label"`
}

type threshold struct {
	pass  func(v float64) bool
	badge Badge
}

var (
	good     = func(label string) Badge { return Badge{Level: LevelGood, Label: label} }
	warning  = func(label string) Badge { return Badge{Level: LevelWarning, Label: label} }
	critical = Badge{Level: LevelCritical, Label: "Critique"}
)

func below(limit float64) func(float64) bool { return func(v float64) bool { return v < limit } }
func above(limit float64) func(float64) bool { return func(v float64) bool { return v > limit } }
func atLeast(limit float64) func(float64) bool {
	return func(v float64) bool { return v >= limit }
}

// Thresholds are checked in order; the first match wins, else Critique.
var thresholds = map[string][]threshold{
	MetricDMT: {
		{below(3), good("Excellent")},
		{below(5), good("Bon")},
		{below(10), warning("Acceptable")},
	},
	MetricAbsorption: {
		{above(90), good("Excellent")},
		{above(85), good("Bon")},
		{above(75), warning("Acceptable")},
	},
	MetricCoverage: {
		{atLeast(100), good("Complète")},
		{atLeast(90), good("Très Bon")},
		{atLeast(80), warning("Bon")},
	},
	MetricRejection: {
		{below(5), good("Excellent")},
		{below(10), good("Bon")},
		{below(15), warning("Moyen")},
	},
}

// Grade returns the badge of value for metric. Unknown metrics and missing
// values grade as N/A.
func Grade(metric string, value *float64) Badge {
	steps, ok := thresholds[metric]
	if !ok || value == nil {
		return Badge{Level: LevelNone, Label: "N/A"}
	}
	for _, s := range steps {
		if s.pass(*value) {
			return s.badge
		}
	}
	return critical
}
