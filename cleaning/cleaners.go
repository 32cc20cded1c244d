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

// cleaners.go - Per-entity cleaners
package cleaning

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/aaronlmathis/servicedw/aggregate"
	"github.com/aaronlmathis/servicedw/config"
	"github.com/aaronlmathis/servicedw/core"
	"github.com/aaronlmathis/servicedw/filter"
	"github.com/aaronlmathis/servicedw/transform"
)

// Imputation sentinels.
const (
	MotifNotApplicable = "Non Applicable"
	MotifUnspecified   = "Non Spécifié (Rejet)"
	UnknownQuartier    = "Inconnu"
	DocTypeNotProvided = "Non_Renseigné"
	DocTypeUnknown     = "Inconnu"
)

// Cleaner turns one raw entity dataset into its cleaned form. Implementations
// never modify the input records.
type Cleaner interface {
	core.BatchTransformer
	Entity() string
	Schema() Schema
}

// NewCleaner returns the cleaner registered for entity.
func NewCleaner(entity string, audit *AuditTrail) (Cleaner, error) {
	switch entity {
	case config.EntityDemandes:
		return NewRequestsCleaner(audit), nil
	case config.EntityCentres:
		return NewCentersCleaner(audit), nil
	case config.EntityDocuments:
		return NewDocumentsCleaner(audit), nil
	case config.EntityLogs:
		return NewLogsCleaner(audit), nil
	case config.EntitySocio:
		return NewSocioCleaner(audit), nil
	case config.EntityCommunes:
		return NewCommunesCleaner(audit), nil
	}
	return nil, &CleanError{Op: "lookup", Entity: entity, Err: fmt.Errorf("no cleaner for entity %q", entity)}
}

var locationFields = []string{"region", "prefecture", "commune"}

// repairAll fixes mojibake in every text value.
var repairAll = core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
	result := record.Clone()
	for k, v := range result {
		if s, ok := v.(string); ok {
			result[k] = transform.RepairText(s)
		}
	}
	return result, nil
})

func countMissing(records []core.Record, field string) int {
	n := 0
	for _, r := range records {
		if r.IsMissing(field) {
			n++
		}
	}
	return n
}

func countWhere(records []core.Record, pred func(core.Record) bool) int {
	n := 0
	for _, r := range records {
		if pred(r) {
			n++
		}
	}
	return n
}

// parseDates parses field and audits the values that could not be read.
func parseDates(ctx context.Context, audit *AuditTrail, entity, field string, records []core.Record) ([]core.Record, error) {
	if !anyHas(records, field) {
		return records, nil
	}
	before := countMissing(records, field)
	out, err := transform.Apply(ctx, transform.ParseDate(field), records)
	if err != nil {
		return nil, err
	}
	audit.Record(AuditEntry{Entity: entity, Column: field, Operation: "parse_date",
		Before: before, After: countMissing(out, field), Detail: "unparseable dates set to missing"})
	return out, nil
}

// clipRates coerces rate fields to numbers and bounds them to [0, 1].
func clipRates(ctx context.Context, audit *AuditTrail, entity string, records []core.Record, fields ...string) ([]core.Record, error) {
	if len(fields) == 0 {
		return records, nil
	}
	out, err := transform.Apply(ctx, transform.Clip(0, 1, fields...), records)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		offending := countWhere(records, func(r core.Record) bool {
			v, ok := transform.ParseFloat(r[f])
			return !ok || v < 0 || v > 1
		})
		audit.Record(AuditEntry{Entity: entity, Column: f, Operation: "clip",
			Before: offending, After: 0, Detail: "non-numeric set to 0, bounded to [0, 1]"})
	}
	return out, nil
}

// rateFields lists the taux_* columns carried by records.
func rateFields(records []core.Record) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range records {
		for k := range r {
			if strings.HasPrefix(k, "taux_") && !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return sortedStrings(out)
}

func sortedStrings(s []string) []string {
	sort.Strings(s)
	return s
}

// RequestsCleaner cleans demande_services_public extracts.
type RequestsCleaner struct {
	audit *AuditTrail
}

// NewRequestsCleaner creates a RequestsCleaner writing to audit (may be nil).
func NewRequestsCleaner(audit *AuditTrail) *RequestsCleaner {
	return &RequestsCleaner{audit: audit}
}

func (c *RequestsCleaner) Entity() string { return config.EntityDemandes }
func (c *RequestsCleaner) Schema() Schema { return RequestsSchema }

var requestTitleFields = []string{
	"region", "prefecture", "commune", "quartier", "type_document",
	"categorie_document", "motif_demande", "canal_demande", "sexe_demandeur",
}

// TransformBatch implements core.BatchTransformer.
func (c *RequestsCleaner) TransformBatch(ctx context.Context, records []core.Record) ([]core.Record, error) {
	entity := c.Entity()
	recs, err := transform.Apply(ctx, repairAll, records)
	if err != nil {
		return nil, err
	}
	if recs, err = parseDates(ctx, c.audit, entity, "date_demande", recs); err != nil {
		return nil, err
	}

	dedupe := filter.FirstByKey("demande_id")
	before := len(recs)
	if recs, err = filter.Apply(ctx, dedupe, recs); err != nil {
		return nil, err
	}
	c.audit.Record(AuditEntry{Entity: entity, Column: "demande_id", Operation: "dedupe", Before: before, After: len(recs),
		Detail: fmt.Sprintf("%d duplicate ids dropped, first occurrence kept", dedupe.Dropped())})

	nonCanonical := func(r core.Record) bool { return !IsCanonicalStatus(r.String("statut_demande")) }
	before = countWhere(recs, nonCanonical)
	if recs, err = transform.Apply(ctx, transform.MapValues("statut_demande", func(v interface{}) interface{} {
		if s, ok := v.(string); ok {
			return NormalizeStatus(s)
		}
		return v
	}), recs); err != nil {
		return nil, err
	}
	c.audit.Record(AuditEntry{Entity: entity, Column: "statut_demande", Operation: "normalize",
		Before: before, After: countWhere(recs, nonCanonical), Detail: "mapped onto Validée, Rejetée, En Attente; remaining values unmapped"})

	if recs, err = transform.Apply(ctx, transform.TitleCase(requestTitleFields...), recs); err != nil {
		return nil, err
	}

	before = countMissing(recs, "motif_demande")
	if recs, err = transform.Apply(ctx, core.TransformFunc(imputeMotif), recs); err != nil {
		return nil, err
	}
	c.audit.Record(AuditEntry{Entity: entity, Column: "motif_demande", Operation: "impute", Before: before, After: countMissing(recs, "motif_demande"),
		Detail: fmt.Sprintf("%q for validated or pending requests, %q otherwise", MotifNotApplicable, MotifUnspecified)})

	if recs, err = c.fill(ctx, recs, "quartier", UnknownQuartier, "constant"); err != nil {
		return nil, err
	}
	if recs, err = c.imputeAge(ctx, recs); err != nil {
		return nil, err
	}

	mode, err := aggregate.Aggregate(ctx, recs, aggregate.Mode("sexe_demandeur", "mode"))
	if err != nil {
		return nil, err
	}
	if m := mode["mode"]; m != nil {
		if recs, err = c.fill(ctx, recs, "sexe_demandeur", m, "mode"); err != nil {
			return nil, err
		}
	}

	if recs, err = clipRates(ctx, c.audit, entity, recs, "taux_rejet"); err != nil {
		return nil, err
	}
	if recs, err = transform.Apply(ctx, transform.Chain(
		transform.ToFloat(present(recs, "delai_traitement_jours")...),
		transform.DateParts("date_demande", "annee_demande", "mois_demande", "jour_semaine_demande"),
	), recs); err != nil {
		return nil, err
	}
	c.audit.Record(AuditEntry{Entity: entity, Column: "date_demande", Operation: "derive", Before: len(recs), After: len(recs),
		Detail: "annee_demande, mois_demande, jour_semaine_demande"})

	return RequestsSchema.Conform(recs), nil
}

func imputeMotif(ctx context.Context, record core.Record) (core.Record, error) {
	result := record.Clone()
	if !result.IsMissing("motif_demande") {
		return result, nil
	}
	switch result.String("statut_demande") {
	case StatusValidated, StatusPending:
		result["motif_demande"] = MotifNotApplicable
	default:
		result["motif_demande"] = MotifUnspecified
	}
	return result, nil
}

// imputeAge fills missing or non-numeric ages with the rounded median, then
// stores every age as an int.
func (c *RequestsCleaner) imputeAge(ctx context.Context, recs []core.Record) ([]core.Record, error) {
	const field = "age_demandeur"
	stats, err := aggregate.Aggregate(ctx, recs, aggregate.Median(field, "median"))
	if err != nil {
		return nil, err
	}
	var imputed interface{}
	if m, ok := stats["median"].(float64); ok {
		imputed = int(math.Round(m))
	}
	notNumeric := func(r core.Record) bool {
		_, ok := transform.ParseFloat(r[field])
		return !ok
	}
	before := countWhere(recs, notNumeric)
	out, err := transform.Apply(ctx, core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := record.Clone()
		if f, ok := transform.ParseFloat(record[field]); ok {
			result[field] = int(math.Round(f))
		} else {
			result[field] = imputed
		}
		return result, nil
	}), recs)
	if err != nil {
		return nil, err
	}
	c.audit.Record(AuditEntry{Entity: c.Entity(), Column: field, Operation: "impute", Before: before, After: countWhere(out, notNumeric),
		Detail: fmt.Sprintf("median %v, converted to integer", imputed)})
	return out, nil
}

func (c *RequestsCleaner) fill(ctx context.Context, recs []core.Record, field string, value interface{}, how string) ([]core.Record, error) {
	before := countMissing(recs, field)
	out, err := transform.Apply(ctx, transform.FillNull(field, value), recs)
	if err != nil {
		return nil, err
	}
	c.audit.Record(AuditEntry{Entity: c.Entity(), Column: field, Operation: "impute", Before: before, After: countMissing(out, field),
		Detail: fmt.Sprintf("%s %v", how, value)})
	return out, nil
}

// CentersCleaner cleans centres_service extracts.
type CentersCleaner struct {
	audit *AuditTrail
}

// NewCentersCleaner creates a CentersCleaner.
func NewCentersCleaner(audit *AuditTrail) *CentersCleaner {
	return &CentersCleaner{audit: audit}
}

func (c *CentersCleaner) Entity() string { return config.EntityCentres }
func (c *CentersCleaner) Schema() Schema { return CentersSchema }

// TransformBatch implements core.BatchTransformer.
func (c *CentersCleaner) TransformBatch(ctx context.Context, records []core.Record) ([]core.Record, error) {
	entity := c.Entity()
	recs, err := transform.Apply(ctx, repairAll, records)
	if err != nil {
		return nil, err
	}
	if recs, err = parseDates(ctx, c.audit, entity, "date_ouverture", recs); err != nil {
		return nil, err
	}
	capacity := present(recs, "personnel_capacite_jour", "nombre_guichets")
	recs, err = transform.Apply(ctx, transform.Chain(
		transform.DateParts("date_ouverture", "annee_ouverture", "mois_ouverture", ""),
		transform.TitleCase("region", "prefecture", "commune", "quartier", "nom_centre"),
		transform.Capitalize("type_centre", "statut_centre", "equipement_numerique"),
		transform.ToFloat(present(recs, "latitude", "longitude")...),
		transform.ToInt(capacity...),
	), recs)
	if err != nil {
		return nil, err
	}
	for _, f := range capacity {
		before := countMissing(recs, f)
		if recs, err = transform.Apply(ctx, transform.FillNull(f, 0), recs); err != nil {
			return nil, err
		}
		c.audit.Record(AuditEntry{Entity: entity, Column: f, Operation: "impute", Before: before, After: 0, Detail: "non-numeric capacity set to 0"})
	}
	return CentersSchema.Conform(recs), nil
}

// DocumentsCleaner cleans document_administratif extracts.
type DocumentsCleaner struct {
	audit *AuditTrail
}

// NewDocumentsCleaner creates a DocumentsCleaner.
func NewDocumentsCleaner(audit *AuditTrail) *DocumentsCleaner {
	return &DocumentsCleaner{audit: audit}
}

func (c *DocumentsCleaner) Entity() string { return config.EntityDocuments }
func (c *DocumentsCleaner) Schema() Schema { return DocumentsSchema }

// TransformBatch implements core.BatchTransformer.
func (c *DocumentsCleaner) TransformBatch(ctx context.Context, records []core.Record) ([]core.Record, error) {
	entity := c.Entity()
	recs, err := transform.Apply(ctx, transform.Chain(
		repairAll,
		transform.TitleCase("region", "prefecture", "commune", "type_document", "categorie_document"),
		transform.ToInt(present(records, "annee", "mois", "nombre_demandes")...),
		transform.ToFloat(present(records, "delai_moyen_jours")...),
		transform.MonthName("mois", "mois_nom"),
		transform.AddField("periode", func(r core.Record) interface{} {
			if r.IsMissing("mois_nom") || r.IsMissing("annee") {
				return nil
			}
			return r.String("mois_nom") + " " + r.String("annee")
		}),
	), records)
	if err != nil {
		return nil, err
	}
	c.audit.Record(AuditEntry{Entity: entity, Column: "mois", Operation: "derive", Before: countMissing(records, "mois"), After: countMissing(recs, "mois_nom"),
		Detail: "mois_nom and periode from mois and annee"})
	if recs, err = clipRates(ctx, c.audit, entity, recs, present(recs, "taux_rejet")...); err != nil {
		return nil, err
	}
	return DocumentsSchema.Conform(recs), nil
}

// LogsCleaner cleans activity log extracts.
type LogsCleaner struct {
	audit *AuditTrail
}

// NewLogsCleaner creates a LogsCleaner.
func NewLogsCleaner(audit *AuditTrail) *LogsCleaner {
	return &LogsCleaner{audit: audit}
}

func (c *LogsCleaner) Entity() string { return config.EntityLogs }
func (c *LogsCleaner) Schema() Schema { return LogsSchema }

var logNumericFields = []string{"nombre_traite", "delai_effectif", "nombre_rejete", "temps_attente_moyen_minutes"}

// TransformBatch implements core.BatchTransformer.
func (c *LogsCleaner) TransformBatch(ctx context.Context, records []core.Record) ([]core.Record, error) {
	entity := c.Entity()
	nulls := countWhere(records, func(r core.Record) bool { return r["type_document"] == nil })
	blanks := countWhere(records, func(r core.Record) bool { return r["type_document"] != nil && r.IsMissing("type_document") })

	recs, err := transform.Apply(ctx, transform.Chain(
		repairAll,
		core.TransformFunc(fillLogDocType),
		transform.ToFloatOrZero(present(records, logNumericFields...)...),
		transform.TrimSpace("type_operation", "raison_rejet", "incident_technique"),
	), records)
	if err != nil {
		return nil, err
	}
	c.audit.Record(AuditEntry{Entity: entity, Column: "type_document", Operation: "impute", Before: nulls + blanks, After: 0,
		Detail: fmt.Sprintf("%d null -> %s, %d blank -> %s", nulls, DocTypeNotProvided, blanks, DocTypeUnknown)})
	if recs, err = parseDates(ctx, c.audit, entity, "date_operation", recs); err != nil {
		return nil, err
	}
	return LogsSchema.Conform(recs), nil
}

func fillLogDocType(ctx context.Context, record core.Record) (core.Record, error) {
	result := record.Clone()
	v := result["type_document"]
	switch {
	case v == nil:
		result["type_document"] = DocTypeNotProvided
	case result.IsMissing("type_document") || frenchLower(result.String("type_document")) == "nan":
		result["type_document"] = DocTypeUnknown
	}
	return result, nil
}

// SocioCleaner cleans donnees_socioeconomiques extracts.
type SocioCleaner struct {
	audit *AuditTrail
}

// NewSocioCleaner creates a SocioCleaner.
func NewSocioCleaner(audit *AuditTrail) *SocioCleaner {
	return &SocioCleaner{audit: audit}
}

func (c *SocioCleaner) Entity() string { return config.EntitySocio }
func (c *SocioCleaner) Schema() Schema { return SocioSchema }

// TransformBatch implements core.BatchTransformer.
func (c *SocioCleaner) TransformBatch(ctx context.Context, records []core.Record) ([]core.Record, error) {
	recs := records
	if alias := literacyAlias(records); alias != "" {
		var err error
		if recs, err = transform.Apply(ctx, transform.Rename(map[string]string{alias: "taux_alphabetisation"}), recs); err != nil {
			return nil, err
		}
		c.audit.Record(AuditEntry{Entity: c.Entity(), Column: alias, Operation: "rename", Before: len(recs), After: len(recs),
			Detail: "renamed to taux_alphabetisation"})
	}
	out, err := cleanTerritorial(ctx, c.audit, c.Entity(), recs,
		[]string{"population", "nombre_menages"}, nil)
	if err != nil {
		return nil, err
	}
	return SocioSchema.Conform(out), nil
}

// literacyAlias finds a column naming literacy under another spelling.
func literacyAlias(records []core.Record) string {
	if anyHas(records, "taux_alphabetisation") {
		return ""
	}
	var candidates []string
	for _, r := range records {
		for k := range r {
			if strings.Contains(k, "alphab") {
				candidates = append(candidates, k)
			}
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	return sortedStrings(candidates)[0]
}

// CommunesCleaner cleans details_communes extracts.
type CommunesCleaner struct {
	audit *AuditTrail
}

// NewCommunesCleaner creates a CommunesCleaner.
func NewCommunesCleaner(audit *AuditTrail) *CommunesCleaner {
	return &CommunesCleaner{audit: audit}
}

func (c *CommunesCleaner) Entity() string { return config.EntityCommunes }
func (c *CommunesCleaner) Schema() Schema { return CommunesSchema }

// TransformBatch implements core.BatchTransformer.
func (c *CommunesCleaner) TransformBatch(ctx context.Context, records []core.Record) ([]core.Record, error) {
	out, err := cleanTerritorial(ctx, c.audit, c.Entity(), records,
		[]string{"population", "nombre_quartiers"},
		[]string{"superficie_km2", "densite", "latitude", "longitude"})
	if err != nil {
		return nil, err
	}
	return CommunesSchema.Conform(out), nil
}

// cleanTerritorial title-cases the location, coerces numeric columns and clips rates.
func cleanTerritorial(ctx context.Context, audit *AuditTrail, entity string, records []core.Record, ints, floats []string) ([]core.Record, error) {
	recs, err := transform.Apply(ctx, transform.Chain(
		repairAll,
		transform.TitleCase(locationFields...),
		transform.ToInt(present(records, ints...)...),
		transform.ToFloat(present(records, floats...)...),
	), records)
	if err != nil {
		return nil, err
	}
	return clipRates(ctx, audit, entity, recs, rateFields(recs)...)
}
