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

// builder.go - Writes the warehouse dimensions and the request fact table
package dimension

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/aaronlmathis/servicedw/core"
	"github.com/aaronlmathis/servicedw/writers"
)

// Warehouse tables written by the Builder.
const (
	TableTerritory     = "dim_territoire"
	TableCentres       = "dim_centres_service"
	TableRequests      = "dim_demande"
	TableDocuments     = "dim_document"
	TableSocio         = "dim_socioeconomique"
	TableDocumentTypes = "dim_type_document"
	TableFact          = "fact_demandes"

	// TableCommunes is filled by the transform script but references the
	// territory dimension, so it is emptied with it.
	TableCommunes = "dim_communes"
)

// referencingTables hold foreign keys to dim_territoire or dim_type_document.
// PostgreSQL only truncates a referenced table together with them.
var referencingTables = []string{TableFact, TableCentres, TableRequests, TableDocuments,
	TableSocio, TableCommunes, TableDocumentTypes}

// TruncatedTables lists the tables Build empties in one statement before
// writing. Incremental builds keep the territory dimension.
func TruncatedTables(incremental bool) []string {
	tables := append([]string(nil), referencingTables...)
	if !incremental {
		tables = append(tables, TableTerritory)
	}
	return tables
}

// Column layouts, in insert order.
var (
	territoryColumns = []string{FieldTerritoryID, FieldRegion, FieldPrefecture, FieldCommune}
	centreColumns    = []string{"id_centre", "centre_id", "nom_centre", "type_centre", "quartier", "latitude", "longitude",
		"personnel_capacite_jour", "nombre_guichets", "heures_ouverture", "horaire_nuit", "equipement_numerique",
		"date_ouverture", "statut_centre", "annee_ouverture", "mois_ouverture", FieldTerritoryID}
	requestColumns = []string{"demande_id", "date_demande", "quartier", "type_document", "categorie_document",
		"motif_demande", "statut_demande", "canal_demande", "age_demandeur", "sexe_demandeur", FieldTerritoryID}
	documentColumns = []string{"id_document", "document_id", "type_document", "categorie_document", "annee", "mois",
		"mois_nom", "periode", "nombre_demandes", "delai_moyen_jours", "taux_rejet", FieldTerritoryID}
	socioColumns = []string{FieldTerritoryID, "population", "nombre_menages", "taux_pauvrete", "taux_alphabetisation",
		"taux_chomage", "taux_acces_eau", "taux_electrification"}
	documentTypeColumns = []string{"id_type_document", "type_document"}
	factColumns         = []string{"id_fact", "demande_id", FieldTerritoryID, "id_type_document", "statut_demande",
		"motif_demande", "canal_demande", "age_demandeur", "sexe_demandeur", "delai_traitement_jours", "taux_rejet",
		"date_demande", "annee_demande", "mois_demande", "jour_semaine_demande"}
)

// Inputs are the cleaned datasets feeding the dimensions. Existing holds the
// current territory dimension in incremental mode.
type Inputs struct {
	Centres   []core.Record
	Requests  []core.Record
	Documents []core.Record
	Socio     []core.Record
	Existing  []Territory
}

// Report summarizes a build.
type Report struct {
	Territories    int              `json:"territories"`
	NewTerritories int              `json:"new_territories"`
	DocumentTypes  int              `json:"document_types"`
	Resolve        []ResolveReport  `json:"resolve"`
	Rows           map[string]int64 `json:"rows"`
}

// Builder writes dimensions through PostgresWriter.
type Builder struct {
	db          *sql.DB
	schema      string
	batchSize   int
	incremental bool
	logger      *zap.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithSchema sets the warehouse schema, "dw" by default.
func WithSchema(schema string) BuilderOption {
	return func(b *Builder) { b.schema = schema }
}

// WithBatchSize sets the rows per INSERT.
func WithBatchSize(n int) BuilderOption {
	return func(b *Builder) { b.batchSize = n }
}

// WithIncremental keeps existing territory ids and only appends new territories.
func WithIncremental(incremental bool) BuilderOption {
	return func(b *Builder) { b.incremental = incremental }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) BuilderOption {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBuilder creates a Builder on db.
func NewBuilder(db *sql.DB, opts ...BuilderOption) *Builder {
	b := &Builder{
		db:        db,
		schema:    "dw",
		batchSize: 500,
		logger:    zap.L().Named("dimension"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build replaces the territory dimension (or extends it in incremental mode),
// resolves every dependent table against it and rewrites the fact table.
func (b *Builder) Build(ctx context.Context, in Inputs) (*Report, error) {
	report := &Report{Rows: make(map[string]int64)}

	var territories, added []Territory
	if b.incremental {
		territories, added = ExtendTerritories(in.Existing, in.Centres, in.Requests, in.Documents, in.Socio)
	} else {
		territories = BuildTerritories(in.Centres, in.Requests, in.Documents, in.Socio)
		added = territories
	}
	report.Territories = len(territories)
	report.NewTerritories = len(added)

	if err := b.truncate(ctx); err != nil {
		return report, err
	}

	rows := make([]core.Record, len(added))
	for i, t := range added {
		rows[i] = t.Record()
	}
	territoryOpts := []writers.PostgresWriterOption{}
	if b.incremental {
		territoryOpts = append(territoryOpts, writers.WithConflictResolution(writers.ConflictIgnore, []string{FieldTerritoryID}, nil))
	}
	if err := b.write(ctx, report, TableTerritory, territoryColumns, rows, territoryOpts...); err != nil {
		return report, err
	}

	resolver := NewResolver(territories)

	centres, rep := resolver.Resolve(TableCentres, in.Centres)
	b.addResolve(report, rep)
	numbered(centres, "id_centre")
	if err := b.write(ctx, report, TableCentres, centreColumns, centres); err != nil {
		return report, err
	}

	requests, rep := resolver.Resolve(TableRequests, in.Requests)
	b.addResolve(report, rep)
	if err := b.write(ctx, report, TableRequests, requestColumns, requests); err != nil {
		return report, err
	}

	documents, rep := resolver.Resolve(TableDocuments, in.Documents)
	b.addResolve(report, rep)
	numbered(documents, "id_document")
	if err := b.write(ctx, report, TableDocuments, documentColumns, documents); err != nil {
		return report, err
	}

	socio, rep := resolver.Resolve(TableSocio, in.Socio)
	b.addResolve(report, rep)
	if err := b.write(ctx, report, TableSocio, socioColumns, socio); err != nil {
		return report, err
	}

	docTypes := DocumentTypes(in.Requests, in.Documents)
	report.DocumentTypes = len(docTypes)
	typeIDs := make(map[string]int, len(docTypes))
	typeRows := make([]core.Record, len(docTypes))
	for i, dt := range docTypes {
		typeIDs[dt.Name] = dt.ID
		typeRows[i] = core.Record{"id_type_document": dt.ID, "type_document": dt.Name}
	}
	if err := b.write(ctx, report, TableDocumentTypes, documentTypeColumns, typeRows); err != nil {
		return report, err
	}

	facts := make([]core.Record, len(in.Requests))
	for i, r := range in.Requests {
		f := r.Clone()
		f["id_fact"] = i + 1
		f[FieldTerritoryID] = nil
		if id, ok := resolver.Lookup(r); ok {
			f[FieldTerritoryID] = id
		}
		f["id_type_document"] = nil
		if id, ok := typeIDs[strings.TrimSpace(r.String("type_document"))]; ok && !r.IsMissing("type_document") {
			f["id_type_document"] = id
		}
		facts[i] = f
	}
	if err := b.write(ctx, report, TableFact, factColumns, facts); err != nil {
		return report, err
	}

	b.logger.Info("dimensions built",
		zap.Int("territories", report.Territories),
		zap.Int("new_territories", report.NewTerritories),
		zap.Int("document_types", report.DocumentTypes),
		zap.Int("facts", len(facts)))
	return report, nil
}

func (b *Builder) addResolve(report *Report, rep ResolveReport) {
	report.Resolve = append(report.Resolve, rep)
	if rep.Dropped > 0 {
		b.logger.Warn("rows without a matching territory dropped",
			zap.String("table", rep.Table),
			zap.Int("before", rep.Before),
			zap.Int("dropped", rep.Dropped))
	}
}

// numbered assigns field the row position starting at 1.
func numbered(records []core.Record, field string) {
	for i, r := range records {
		r[field] = i + 1
	}
}

func (b *Builder) truncate(ctx context.Context) error {
	tables := TruncatedTables(b.incremental)
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = writers.QualifiedTable(b.schema, t)
	}
	if _, err := b.db.ExecContext(ctx, "TRUNCATE TABLE "+strings.Join(names, ", ")); err != nil {
		return fmt.Errorf("truncate %s: %w", strings.Join(tables, ", "), err)
	}
	return nil
}

func (b *Builder) write(ctx context.Context, report *Report, table string, columns []string, records []core.Record, extra ...writers.PostgresWriterOption) error {
	if len(records) == 0 {
		report.Rows[table] = 0
		return nil
	}

	opts := append([]writers.PostgresWriterOption{
		writers.WithSchema(b.schema),
		writers.WithTableName(table),
		writers.WithColumns(columns),
		writers.WithPostgresBatchSize(b.batchSize),
	}, extra...)
	w, err := writers.NewPostgresWriter(b.db, opts...)
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := w.Write(ctx, r); err != nil {
			return fmt.Errorf("write %s: %w", table, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("write %s: %w", table, err)
	}
	report.Rows[table] = w.Stats().RecordsWritten
	b.logger.Debug("table written", zap.String("table", table), zap.Int("rows", len(records)))
	return nil
}
