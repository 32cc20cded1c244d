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

package dimension

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aaronlmathis/servicedw/core"
	"github.com/aaronlmathis/servicedw/transform"
)

// Location fields carried by every territory-scoped dataset.
const (
	FieldRegion      = "region"
	FieldPrefecture  = "prefecture"
	FieldCommune     = "commune"
	FieldTerritoryID = "id_territoire"
)

// TerritoryKey is the natural key of a territory.
type TerritoryKey struct {
	Region     string
	Prefecture string
	Commune    string
}

func (k TerritoryKey) String() string {
	return k.Region + "/" + k.Prefecture + "/" + k.Commune
}

func (k TerritoryKey) less(o TerritoryKey) bool {
	if k.Region != o.Region {
		return k.Region < o.Region
	}
	if k.Prefecture != o.Prefecture {
		return k.Prefecture < o.Prefecture
	}
	return k.Commune < o.Commune
}

// KeyOf extracts the natural key of r. It reports false when any part is missing.
func KeyOf(r core.Record) (TerritoryKey, bool) {
	if r.IsMissing(FieldRegion) || r.IsMissing(FieldPrefecture) || r.IsMissing(FieldCommune) {
		return TerritoryKey{}, false
	}
	return TerritoryKey{
		Region:     r.String(FieldRegion),
		Prefecture: r.String(FieldPrefecture),
		Commune:    r.String(FieldCommune),
	}, true
}

// Territory is a row of dim_territoire.
type Territory struct {
	ID int
	TerritoryKey
}

// Record renders t as a dim_territoire row.
func (t Territory) Record() core.Record {
	return core.Record{
		FieldTerritoryID: t.ID,
		FieldRegion:      t.Region,
		FieldPrefecture:  t.Prefecture,
		FieldCommune:     t.Commune,
	}
}

// distinctKeys returns the sorted set of complete keys found in sources,
// leaving out those already in skip.
func distinctKeys(skip map[TerritoryKey]bool, sources ...[]core.Record) []TerritoryKey {
	seen := make(map[TerritoryKey]bool)
	var keys []TerritoryKey
	for _, records := range sources {
		for _, r := range records {
			k, ok := KeyOf(r)
			if !ok || seen[k] || skip[k] {
				continue
			}
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	return keys
}

// BuildTerritories returns the distinct (region, prefecture, commune) triples
// of sources sorted by natural key, with ids 1..n. Records missing any part
// of the triple do not contribute.
func BuildTerritories(sources ...[]core.Record) []Territory {
	keys := distinctKeys(nil, sources...)
	out := make([]Territory, len(keys))
	for i, k := range keys {
		out[i] = Territory{ID: i + 1, TerritoryKey: k}
	}
	return out
}

// ExtendTerritories keeps the ids of existing and appends the triples of
// sources not yet known, sorted, numbered after the current maximum id.
// It returns the full dimension and the newly added territories.
func ExtendTerritories(existing []Territory, sources ...[]core.Record) (all, added []Territory) {
	known := make(map[TerritoryKey]bool, len(existing))
	next := 0
	for _, t := range existing {
		known[t.TerritoryKey] = true
		if t.ID > next {
			next = t.ID
		}
	}
	all = append([]Territory(nil), existing...)
	for _, k := range distinctKeys(known, sources...) {
		next++
		t := Territory{ID: next, TerritoryKey: k}
		all = append(all, t)
		added = append(added, t)
	}
	return all, added
}

// TerritoriesFromRecords decodes dim_territoire rows.
func TerritoriesFromRecords(records []core.Record) ([]Territory, error) {
	out := make([]Territory, 0, len(records))
	for _, r := range records {
		id, ok := transform.ParseFloat(r[FieldTerritoryID])
		if !ok {
			return nil, fmt.Errorf("dim_territoire row without a numeric %s: %v", FieldTerritoryID, r[FieldTerritoryID])
		}
		k, ok := KeyOf(r)
		if !ok {
			return nil, fmt.Errorf("dim_territoire row %d has an incomplete key", int(id))
		}
		out = append(out, Territory{ID: int(id), TerritoryKey: k})
	}
	return out, nil
}

// ResolveReport counts the rows of a dependent table kept and dropped while
// resolving territory keys.
type ResolveReport struct {
	Table   string `json:"table"`
	Before  int    `json:"before"`
	Kept    int    `json:"kept"`
	Dropped int    `json:"dropped"`
}

func (r ResolveReport) String() string {
	return fmt.Sprintf("%s: %d -> %d (%d unmatched)", r.Table, r.Before, r.Kept, r.Dropped)
}

// Resolver maps natural keys onto territory ids.
type Resolver struct {
	ids map[TerritoryKey]int
}

// NewResolver indexes territories by natural key.
func NewResolver(territories []Territory) *Resolver {
	ids := make(map[TerritoryKey]int, len(territories))
	for _, t := range territories {
		ids[t.TerritoryKey] = t.ID
	}
	return &Resolver{ids: ids}
}

// Lookup returns the territory id of r.
func (r *Resolver) Lookup(rec core.Record) (int, bool) {
	k, ok := KeyOf(rec)
	if !ok {
		return 0, false
	}
	id, ok := r.ids[k]
	return id, ok
}

// Resolve returns copies of the records whose territory resolves, with
// id_territoire set. Unmatched records are dropped and counted.
func (r *Resolver) Resolve(table string, records []core.Record) ([]core.Record, ResolveReport) {
	kept := make([]core.Record, 0, len(records))
	for _, rec := range records {
		id, ok := r.Lookup(rec)
		if !ok {
			continue
		}
		out := rec.Clone()
		out[FieldTerritoryID] = id
		kept = append(kept, out)
	}
	return kept, ResolveReport{
		Table:   table,
		Before:  len(records),
		Kept:    len(kept),
		Dropped: len(records) - len(kept),
	}
}

// DocumentType is a row of dim_type_document.
type DocumentType struct {
	ID   int
	Name string
}

// DocumentTypes returns the distinct non-empty type_document values of
// sources, sorted, with ids 1..n.
func DocumentTypes(sources ...[]core.Record) []DocumentType {
	seen := make(map[string]bool)
	var names []string
	for _, records := range sources {
		for _, r := range records {
			if r.IsMissing("type_document") {
				continue
			}
			name := strings.TrimSpace(r.String("type_document"))
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	out := make([]DocumentType, len(names))
	for i, n := range names {
		out[i] = DocumentType{ID: i + 1, Name: n}
	}
	return out
}
