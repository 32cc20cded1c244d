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

// repository.go - sqlx access to the KPI catalog
package kpi

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aaronlmathis/servicedw/core"
)

// DelaiMoyenRow is the result of delai_moyen.
type DelaiMoyenRow struct {
	DelaiMoyenJours *float64 `db:"delai_moyen_jours" json:"delai_moyen_jours"`
	NombreDemandes  int64    `db:"nombre_demandes" json:"nombre_demandes"`
}

// RegionDelaiRow is one row of delai_par_region.
type RegionDelaiRow struct {
	Region          string   `db:"region" json:"region"`
	DelaiMoyenJours *float64 `db:"delai_moyen_jours" json:"delai_moyen_jours"`
	NombreDemandes  int64    `db:"nombre_demandes" json:"nombre_demandes"`
}

// AbsorptionRow is the result of absorption.
type AbsorptionRow struct {
	DemandesTraitees  int64    `db:"demandes_traitees" json:"demandes_traitees"`
	TotalDemandes     int64    `db:"total_demandes" json:"total_demandes"`
	TauxAbsorptionPct *float64 `db:"taux_absorption_pct" json:"taux_absorption_pct"`
}

// RegionAbsorptionRow is one row of absorption_par_region.
type RegionAbsorptionRow struct {
	Region string `db:"region" json:"region"`
	AbsorptionRow
}

// CouvertureRow is one row of couverture.
type CouvertureRow struct {
	Region            string   `db:"region" json:"region"`
	CommunesTotales   int64    `db:"communes_totales" json:"communes_totales"`
	CommunesActives   int64    `db:"communes_actives" json:"communes_actives"`
	AvecCentre        int64    `db:"communes_avec_centre" json:"communes_avec_centre"`
	AvecDemande       int64    `db:"communes_avec_demande" json:"communes_avec_demande"`
	TauxCouverturePct *float64 `db:"taux_couverture_pct" json:"taux_couverture_pct"`
}

// EquiteRow is one row of equite.
type EquiteRow struct {
	Region           string   `db:"region" json:"region"`
	NombreCentres    int64    `db:"nombre_centres" json:"nombre_centres"`
	PopulationTotale int64    `db:"population_totale" json:"population_totale"`
	HabParCentre     *float64 `db:"hab_par_centre" json:"hab_par_centre"`
	RatioInegalite   *float64 `db:"ratio_inegalite" json:"ratio_inegalite"`
}

// RejetRow is the result of rejet.
type RejetRow struct {
	DemandesRejetees   int64    `db:"demandes_rejetees" json:"demandes_rejetees"`
	DemandesValidees   int64    `db:"demandes_validees" json:"demandes_validees"`
	TauxRejetGlobalPct *float64 `db:"taux_rejet_global_pct" json:"taux_rejet_global_pct"`
}

// TypeRejetRow is one row of rejet_par_type.
type TypeRejetRow struct {
	TypeDocument     string   `db:"type_document" json:"type_document"`
	DemandesRejetees int64    `db:"demandes_rejetees" json:"demandes_rejetees"`
	DemandesValidees int64    `db:"demandes_validees" json:"demandes_validees"`
	TauxRejetPct     *float64 `db:"taux_rejet_pct" json:"taux_rejet_pct"`
}

// ChargeRow is one row of charge_par_region.
type ChargeRow struct {
	Region         string   `db:"region" json:"region"`
	TotalTraite    int64    `db:"total_traite" json:"total_traite"`
	TotalAgents    int64    `db:"total_agents" json:"total_agents"`
	ChargeParAgent *float64 `db:"charge_par_agent" json:"charge_par_agent"`
}

// TypePerformanceRow is one row of performance_type_document.
type TypePerformanceRow struct {
	TypeDocument    string   `db:"type_document" json:"type_document"`
	NombreDemandes  int64    `db:"nombre_demandes" json:"nombre_demandes"`
	DelaiMoyenJours *float64 `db:"delai_moyen_jours" json:"delai_moyen_jours"`
	TauxRejetPct    *float64 `db:"taux_rejet_pct" json:"taux_rejet_pct"`
}

// SaturationRow is one row of saturation_par_region.
type SaturationRow struct {
	Region            string   `db:"region" json:"region"`
	EnAttente         int64    `db:"en_attente" json:"en_attente"`
	CapaciteJour      int64    `db:"capacite_jour" json:"capacite_jour"`
	TauxSaturationPct *float64 `db:"taux_saturation_pct" json:"taux_saturation_pct"`
}

// TendanceRow is one row of tendance_mensuelle.
type TendanceRow struct {
	Annee      int64    `db:"annee_demande" json:"annee_demande"`
	Mois       int64    `db:"mois_demande" json:"mois_demande"`
	MoisNom    string   `db:"mois_nom" json:"mois_nom"`
	NbDemandes int64    `db:"nb_demandes" json:"nb_demandes"`
	DelaiMoyen *float64 `db:"delai_moyen" json:"delai_moyen"`
}

// CapaciteDemandeRow is one row of capacite_demande. Surcharge flags a
// centre whose estimated demand exceeds its capacity.
type CapaciteDemandeRow struct {
	IDCentre            int64    `db:"id_centre" json:"id_centre"`
	NomCentre           string   `db:"nom_centre" json:"nom_centre"`
	CapaciteQuotidienne *int64   `db:"capacite_quotidienne" json:"capacite_quotidienne"`
	DemandeEstimee      *float64 `db:"demande_quotidienne_estimee" json:"demande_quotidienne_estimee"`
	Surcharge           bool     `db:"surcharge" json:"surcharge"`
}

// ZonePrioritaireRow is one row of zones_prioritaires.
type ZonePrioritaireRow struct {
	Region           string   `db:"region" json:"region"`
	Prefecture       string   `db:"prefecture" json:"prefecture"`
	PopulationTotale *int64   `db:"population_totale" json:"population_totale"`
	NbCentres        int64    `db:"nb_centres" json:"nb_centres"`
	HabParCentre     *float64 `db:"hab_par_centre" json:"hab_par_centre"`
}

// CentreDetail is the record card of one service centre.
type CentreDetail struct {
	IDCentre              int64    `db:"id_centre" json:"id_centre"`
	NomCentre             string   `db:"nom_centre" json:"nom_centre"`
	TypeCentre            *string  `db:"type_centre" json:"type_centre"`
	StatutCentre          *string  `db:"statut_centre" json:"statut_centre"`
	PersonnelCapaciteJour *int64   `db:"personnel_capacite_jour" json:"personnel_capacite_jour"`
	NombreGuichets        *int64   `db:"nombre_guichets" json:"nombre_guichets"`
	EquipementNumerique   *string  `db:"equipement_numerique" json:"equipement_numerique"`
	HeuresOuverture       *string  `db:"heures_ouverture" json:"heures_ouverture"`
	Region                string   `db:"region" json:"region"`
	Prefecture            string   `db:"prefecture" json:"prefecture"`
	Commune               string   `db:"commune" json:"commune"`
	Latitude              *float64 `db:"latitude" json:"latitude"`
	Longitude             *float64 `db:"longitude" json:"longitude"`
}

const (
	regionsSQL     = `SELECT DISTINCT region FROM dw.dim_territoire WHERE region IS NOT NULL ORDER BY region`
	prefecturesSQL = `SELECT DISTINCT t.prefecture FROM dw.dim_territoire t {where} ORDER BY t.prefecture`
	docTypesSQL    = `SELECT type_document FROM dw.dim_type_document ORDER BY type_document`
	centresSQL     = `SELECT DISTINCT nom_centre FROM dw.dim_centres_service WHERE nom_centre IS NOT NULL ORDER BY nom_centre`
	centreSQL      = `SELECT cs.id_centre, cs.nom_centre, cs.type_centre, cs.statut_centre,
       cs.personnel_capacite_jour, cs.nombre_guichets, cs.equipement_numerique, cs.heures_ouverture,
       t.region, t.prefecture, t.commune,
       COALESCE(cs.latitude, t.latitude) AS latitude,
       COALESCE(cs.longitude, t.longitude) AS longitude
FROM dw.dim_centres_service cs
JOIN dw.dim_territoire t ON cs.id_territoire = t.id_territoire
WHERE cs.nom_centre = ?
ORDER BY cs.id_centre`
)

// Repository runs catalog queries. It is read-only and safe for concurrent use.
type Repository struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRepository wraps db. driverName selects the placeholder style.
func NewRepository(db *sql.DB, driverName string, timeout time.Duration) *Repository {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Repository{db: sqlx.NewDb(db, driverName), timeout: timeout}
}

func (r *Repository) render(name string, f Filter) (string, []interface{}, error) {
	d, err := Lookup(name)
	if err != nil {
		return "", nil, err
	}
	query, args := d.Query(f)
	return r.db.Rebind(query), args, nil
}

func selectKPI[T any](ctx context.Context, r *Repository, name string, f Filter) ([]T, error) {
	query, args, err := r.render(name, f)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var out []T
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, &KPIError{KPI: name, Op: "query", Err: err}
	}
	return out, nil
}

func getKPI[T any](ctx context.Context, r *Repository, name string, f Filter) (T, error) {
	var out T
	query, args, err := r.render(name, f)
	if err != nil {
		return out, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.db.GetContext(ctx, &out, query, args...); err != nil {
		return out, &KPIError{KPI: name, Op: "query", Err: err}
	}
	return out, nil
}

func (r *Repository) DelaiMoyen(ctx context.Context, f Filter) (DelaiMoyenRow, error) {
	return getKPI[DelaiMoyenRow](ctx, r, DelaiMoyen, f)
}

func (r *Repository) DelaiParRegion(ctx context.Context) ([]RegionDelaiRow, error) {
	return selectKPI[RegionDelaiRow](ctx, r, DelaiParRegion, Filter{})
}

func (r *Repository) Absorption(ctx context.Context, f Filter) (AbsorptionRow, error) {
	return getKPI[AbsorptionRow](ctx, r, Absorption, f)
}

func (r *Repository) AbsorptionParRegion(ctx context.Context) ([]RegionAbsorptionRow, error) {
	return selectKPI[RegionAbsorptionRow](ctx, r, AbsorptionParRegion, Filter{})
}

func (r *Repository) Couverture(ctx context.Context) ([]CouvertureRow, error) {
	return selectKPI[CouvertureRow](ctx, r, Couverture, Filter{})
}

func (r *Repository) Equite(ctx context.Context) ([]EquiteRow, error) {
	return selectKPI[EquiteRow](ctx, r, Equite, Filter{})
}

func (r *Repository) Rejet(ctx context.Context, f Filter) (RejetRow, error) {
	return getKPI[RejetRow](ctx, r, Rejet, f)
}

func (r *Repository) RejetParType(ctx context.Context) ([]TypeRejetRow, error) {
	return selectKPI[TypeRejetRow](ctx, r, RejetParType, Filter{})
}

func (r *Repository) ChargeParRegion(ctx context.Context) ([]ChargeRow, error) {
	return selectKPI[ChargeRow](ctx, r, ChargeParRegion, Filter{})
}

func (r *Repository) PerformanceTypeDocument(ctx context.Context) ([]TypePerformanceRow, error) {
	return selectKPI[TypePerformanceRow](ctx, r, PerformanceTypeDocument, Filter{})
}

func (r *Repository) SaturationParRegion(ctx context.Context) ([]SaturationRow, error) {
	return selectKPI[SaturationRow](ctx, r, SaturationParRegion, Filter{})
}

func (r *Repository) TendanceMensuelle(ctx context.Context, f Filter) ([]TendanceRow, error) {
	return selectKPI[TendanceRow](ctx, r, TendanceMensuelle, f)
}

func (r *Repository) CapaciteDemande(ctx context.Context) ([]CapaciteDemandeRow, error) {
	return selectKPI[CapaciteDemandeRow](ctx, r, CapaciteDemande, Filter{})
}

func (r *Repository) ZonesPrioritaires(ctx context.Context) ([]ZonePrioritaireRow, error) {
	return selectKPI[ZonePrioritaireRow](ctx, r, ZonesPrioritaires, Filter{})
}

func (r *Repository) list(ctx context.Context, op, query string, args ...interface{}) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	out := []string{}
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(query), args...); err != nil {
		return nil, &KPIError{KPI: op, Op: "list", Err: err}
	}
	return out, nil
}

// Regions lists the regions of the territory dimension.
func (r *Repository) Regions(ctx context.Context) ([]string, error) {
	return r.list(ctx, "regions", regionsSQL)
}

// Prefectures lists the prefectures, of region when it is set.
func (r *Repository) Prefectures(ctx context.Context, region string) ([]string, error) {
	conds := []string{"t.prefecture IS NOT NULL"}
	var args []interface{}
	if region = normalizeValue(region); region != "" {
		conds = append(conds, "t.region = ?")
		args = append(args, region)
	}
	query := strings.Replace(prefecturesSQL, "{where}", "WHERE "+strings.Join(conds, " AND "), 1)
	return r.list(ctx, "prefectures", query, args...)
}

// DocumentTypes lists the document types.
func (r *Repository) DocumentTypes(ctx context.Context) ([]string, error) {
	return r.list(ctx, "document_types", docTypesSQL)
}

// Centres lists the centre names.
func (r *Repository) Centres(ctx context.Context) ([]string, error) {
	return r.list(ctx, "centres", centresSQL)
}

// CentreDetails returns every centre called name.
func (r *Repository) CentreDetails(ctx context.Context, name string) ([]CentreDetail, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var out []CentreDetail
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(centreSQL), name); err != nil {
		return nil, &KPIError{KPI: "centre_details", Op: "list", Err: err}
	}
	return out, nil
}

// Query runs any catalog KPI and returns its rows as records. NUMERIC
// columns come back as float64.
func (r *Repository) Query(ctx context.Context, name string, f Filter) ([]core.Record, error) {
	query, args, err := r.render(name, f)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, &KPIError{KPI: name, Op: "query", Err: err}
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, &KPIError{KPI: name, Op: "columns", Err: err}
	}
	numeric := make(map[string]bool, len(types))
	for _, ct := range types {
		numeric[ct.Name()] = strings.EqualFold(ct.DatabaseTypeName(), "NUMERIC")
	}

	out := []core.Record{}
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, &KPIError{KPI: name, Op: "scan", Err: err}
		}
		rec := make(core.Record, len(row))
		for k, v := range row {
			rec[k] = normalize(v, numeric[k])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &KPIError{KPI: name, Op: "rows", Err: err}
	}
	return out, nil
}

func normalize(v interface{}, numeric bool) interface{} {
	var s string
	switch t := v.(type) {
	case []byte:
		s = string(t)
	case string:
		s = t
	default:
		return v
	}
	if numeric {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}
