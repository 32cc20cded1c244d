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

package dag

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError lists the steps left unordered by a dependency cycle.
type CycleError struct {
	Steps []string
}

func (e *CycleError) Error() string {
	return "dag contains a cycle through " + strings.Join(e.Steps, ", ")
}

// DAG is a validated set of steps.
type DAG struct {
	id    string
	name  string
	steps map[string]*Step
	order []string // insertion order
}

// ID returns the DAG's identifier.
func (d *DAG) ID() string { return d.id }

// Name returns the DAG's name.
func (d *DAG) Name() string { return d.name }

// Len returns the number of steps.
func (d *DAG) Len() int { return len(d.steps) }

// Step returns the step called id.
func (d *DAG) Step(id string) (*Step, bool) {
	s, ok := d.steps[id]
	return s, ok
}

// Dependencies returns the upstream steps of id.
func (d *DAG) Dependencies(id string) []string {
	if s, ok := d.steps[id]; ok {
		return s.Dependencies
	}
	return nil
}

// Downstream returns the steps depending on id, sorted.
func (d *DAG) Downstream(id string) []string {
	var out []string
	for _, sid := range d.order {
		for _, dep := range d.steps[sid].Dependencies {
			if dep == id {
				out = append(out, sid)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// ExecutionOrder returns the steps in topological order. Among ready steps
// the one added first comes first, so the order is deterministic.
func (d *DAG) ExecutionOrder() ([]string, error) {
	return topologicalSort(d.steps, d.order)
}

// String renders the structure, one step per line.
func (d *DAG) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "DAG %s (%s): %d steps\n", d.name, d.id, len(d.steps))
	order, err := d.ExecutionOrder()
	if err != nil {
		order = d.order
	}
	for _, id := range order {
		s := d.steps[id]
		fmt.Fprintf(&b, "  %s", id)
		if len(s.Dependencies) > 0 {
			fmt.Fprintf(&b, " <- %s [%s]", strings.Join(s.Dependencies, ", "), s.Trigger)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// topologicalSort runs Kahn's algorithm, always picking the ready step with
// the lowest insertion index.
func topologicalSort(steps map[string]*Step, order []string) ([]string, error) {
	index := make(map[string]int, len(order))
	for i, id := range order {
		index[id] = i
	}
	inDegree := make(map[string]int, len(steps))
	downstream := make(map[string][]string, len(steps))
	for _, id := range order {
		for _, dep := range steps[id].Dependencies {
			if _, ok := steps[dep]; !ok {
				continue
			}
			inDegree[id]++
			downstream[dep] = append(downstream[dep], id)
		}
	}

	var ready []string
	for _, id := range order {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	result := make([]string, 0, len(steps))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return index[ready[i]] < index[ready[j]] })
		current := ready[0]
		ready = ready[1:]
		result = append(result, current)
		for _, next := range downstream[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(result) != len(steps) {
		var stuck []string
		for _, id := range order {
			if inDegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		return nil, &CycleError{Steps: stuck}
	}
	return result, nil
}
