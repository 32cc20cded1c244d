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

// schema.go - Declared column layout of cleaned datasets
package cleaning

import (
	"context"

	"github.com/aaronlmathis/servicedw/config"
	"github.com/aaronlmathis/servicedw/core"
	"github.com/aaronlmathis/servicedw/transform"
	"github.com/aaronlmathis/servicedw/writers"
)

// ColumnKind is the value type of a cleaned column.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindInt
	KindFloat
	KindDate
)

// Column declares one cleaned column. Optional columns absent from the raw
// extract are filled with Default; required ones are left missing and reported.
type Column struct {
	Name     string
	Kind     ColumnKind
	Optional bool
	Default  interface{}
}

// Schema is the ordered column list of one cleaned entity.
type Schema struct {
	Entity  string
	Columns []Column
}

// Names returns the column names in output order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name.
func (s Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Missing lists required columns that no record carries.
func (s Schema) Missing(records []core.Record) []string {
	var missing []string
	for _, c := range s.Columns {
		if c.Optional {
			continue
		}
		if !anyHas(records, c.Name) {
			missing = append(missing, c.Name)
		}
	}
	return missing
}

// Conform returns records restricted to the schema columns. Absent optional
// columns take their Default; absent required columns become nil.
func (s Schema) Conform(records []core.Record) []core.Record {
	out := make([]core.Record, len(records))
	for i, r := range records {
		conformed := make(core.Record, len(s.Columns))
		for _, c := range s.Columns {
			v, ok := r[c.Name]
			switch {
			case ok:
				conformed[c.Name] = v
			case c.Optional:
				conformed[c.Name] = c.Default
			default:
				conformed[c.Name] = nil
			}
		}
		out[i] = conformed
	}
	return out
}

// Coerce converts text values read back from a cleaned file into the Go
// types of their column kind. Values that do not parse become nil.
func (s Schema) Coerce(ctx context.Context, records []core.Record) ([]core.Record, error) {
	var ints, floats []string
	var stages []core.Transformer
	for _, c := range s.Columns {
		switch c.Kind {
		case KindInt:
			ints = append(ints, c.Name)
		case KindFloat:
			floats = append(floats, c.Name)
		case KindDate:
			stages = append(stages, transform.ParseDate(c.Name))
		}
	}
	stages = append(stages, transform.ToInt(ints...), transform.ToFloat(floats...))
	return transform.Apply(ctx, transform.Chain(stages...), records)
}

// ParquetColumns maps the schema onto typed Parquet columns.
func (s Schema) ParquetColumns() []writers.ParquetColumn {
	cols := make([]writers.ParquetColumn, len(s.Columns))
	for i, c := range s.Columns {
		t := writers.ColumnString
		switch c.Kind {
		case KindInt:
			t = writers.ColumnInt64
		case KindFloat:
			t = writers.ColumnFloat64
		case KindDate:
			t = writers.ColumnDate
		}
		cols[i] = writers.ParquetColumn{Name: c.Name, Type: t}
	}
	return cols
}

func anyHas(records []core.Record, field string) bool {
	for _, r := range records {
		if _, ok := r[field]; ok {
			return true
		}
	}
	return false
}

// present filters fields down to those carried by at least one record.
func present(records []core.Record, fields ...string) []string {
	var out []string
	for _, f := range fields {
		if anyHas(records, f) {
			out = append(out, f)
		}
	}
	return out
}

func text(name string) Column     { return Column{Name: name, Kind: KindText} }
func optText(name string) Column  { return Column{Name: name, Kind: KindText, Optional: true} }
func optInt(name string) Column   { return Column{Name: name, Kind: KindInt, Optional: true} }
func optFloat(name string) Column { return Column{Name: name, Kind: KindFloat, Optional: true} }
func derived(name string, k ColumnKind) Column {
	return Column{Name: name, Kind: k, Optional: true}
}

// Location columns shared by every territory-scoped entity.
var locationColumns = []Column{text("region"), text("prefecture"), text("commune")}

// RequestsSchema describes demande_services_public_cleaned.csv.
var RequestsSchema = Schema{Entity: config.EntityDemandes, Columns: append(append([]Column{text("demande_id"), {Name: "date_demande", Kind: KindDate}},
	locationColumns...),
	optText("quartier"),
	text("type_document"),
	optText("categorie_document"),
	optText("motif_demande"),
	text("statut_demande"),
	optText("canal_demande"),
	optInt("age_demandeur"),
	optText("sexe_demandeur"),
	optFloat("delai_traitement_jours"),
	Column{Name: "taux_rejet", Kind: KindFloat, Optional: true, Default: 0.0},
	derived("annee_demande", KindInt),
	derived("mois_demande", KindInt),
	derived("jour_semaine_demande", KindText),
)}

// CentersSchema describes centres_service_cleaned.csv.
var CentersSchema = Schema{Entity: config.EntityCentres, Columns: append(append([]Column{optText("centre_id"), text("nom_centre"), optText("type_centre")},
	locationColumns...),
	optText("quartier"),
	optFloat("latitude"),
	optFloat("longitude"),
	Column{Name: "personnel_capacite_jour", Kind: KindInt, Optional: true, Default: 0},
	Column{Name: "nombre_guichets", Kind: KindInt, Optional: true, Default: 0},
	optText("heures_ouverture"),
	optText("horaire_nuit"),
	optText("equipement_numerique"),
	Column{Name: "date_ouverture", Kind: KindDate, Optional: true},
	optText("statut_centre"),
	derived("annee_ouverture", KindInt),
	derived("mois_ouverture", KindInt),
)}

// DocumentsSchema describes document_administratif_cleaned.csv.
var DocumentsSchema = Schema{Entity: config.EntityDocuments, Columns: append(append([]Column{optText("document_id")},
	locationColumns...),
	text("type_document"),
	optText("categorie_document"),
	Column{Name: "annee", Kind: KindInt},
	Column{Name: "mois", Kind: KindInt},
	optInt("nombre_demandes"),
	optFloat("delai_moyen_jours"),
	optFloat("taux_rejet"),
	derived("mois_nom", KindText),
	derived("periode", KindText),
)}

// LogsSchema describes logs_activite_cleaned.csv.
var LogsSchema = Schema{Entity: config.EntityLogs, Columns: []Column{
	optText("log_id"),
	optText("centre_id"),
	Column{Name: "date_operation", Kind: KindDate, Optional: true},
	optText("type_operation"),
	text("type_document"),
	Column{Name: "nombre_traite", Kind: KindFloat, Optional: true, Default: 0.0},
	Column{Name: "nombre_rejete", Kind: KindFloat, Optional: true, Default: 0.0},
	Column{Name: "delai_effectif", Kind: KindFloat, Optional: true, Default: 0.0},
	Column{Name: "temps_attente_moyen_minutes", Kind: KindFloat, Optional: true, Default: 0.0},
	optText("raison_rejet"),
	optText("incident_technique"),
}}

// SocioSchema describes donnees_socioeconomiques_cleaned.csv.
var SocioSchema = Schema{Entity: config.EntitySocio, Columns: append(append([]Column{}, locationColumns...),
	optInt("population"),
	optInt("nombre_menages"),
	optFloat("taux_pauvrete"),
	optFloat("taux_alphabetisation"),
	optFloat("taux_chomage"),
	optFloat("taux_acces_eau"),
	optFloat("taux_electrification"),
)}

// CommunesSchema describes details_communes_cleaned.csv.
var CommunesSchema = Schema{Entity: config.EntityCommunes, Columns: append(append([]Column{}, locationColumns...),
	optInt("population"),
	optFloat("superficie_km2"),
	optFloat("densite"),
	optInt("nombre_quartiers"),
	optFloat("latitude"),
	optFloat("longitude"),
	optFloat("taux_urbanisation"),
)}
