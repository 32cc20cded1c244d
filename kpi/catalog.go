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

// catalog.go - Named KPI queries over the warehouse
package kpi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/aaronlmathis/servicedw/cleaning"
)

// KPI names.
const (
	DelaiMoyen              = "delai_moyen"
	DelaiParRegion          = "delai_par_region"
	Absorption              = "absorption"
	AbsorptionParRegion     = "absorption_par_region"
	Couverture              = "couverture"
	Equite                  = "equite"
	Rejet                   = "rejet"
	RejetParType            = "rejet_par_type"
	ChargeParRegion         = "charge_par_region"
	PerformanceTypeDocument = "performance_type_document"
	SaturationParRegion     = "saturation_par_region"
	TendanceMensuelle       = "tendance_mensuelle"
	CapaciteDemande         = "capacite_demande"
	ZonesPrioritaires       = "zones_prioritaires"
)

// ErrUnknownKPI is returned for a name missing from the catalog.
var ErrUnknownKPI = errors.New("unknown kpi")

// KPIError reports a failed KPI lookup or query.
type KPIError struct {
	KPI string
	Op  string
	Err error
}

func (e *KPIError) Error() string {
	return fmt.Sprintf("kpi %s %s: %v", e.Op, e.KPI, e.Err)
}

func (e *KPIError) Unwrap() error {
	return e.Err
}

// Definition is one catalog entry. SQL may contain a {where} token that is
// replaced by the fixed conditions plus the active filters.
type Definition struct {
	Name        string   `json:"name"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Filters     []string `json:"filters,omitempty"`

	where []string
	sql   string
}

// Query renders the SQL for f with '?' placeholders and returns its arguments.
// Filters the definition does not honour are ignored.
func (d Definition) Query(f Filter) (string, []interface{}) {
	conds := append([]string(nil), d.where...)
	var args []interface{}
	for _, c := range f.conditions(d.Filters) {
		conds = append(conds, c.column+" = ?")
		args = append(args, c.value)
	}
	clause := ""
	if len(conds) > 0 {
		clause = "WHERE " + strings.Join(conds, " AND ")
	}
	return strings.Replace(d.sql, "{where}", clause, 1), args
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = pq.QuoteLiteral(v)
	}
	return strings.Join(quoted, ", ")
}

var statuses = strings.NewReplacer(
	"{terminal}", quoteList(cleaning.TerminalStatuses),
	"{validated}", pq.QuoteLiteral(cleaning.StatusValidated),
	"{rejected}", pq.QuoteLiteral(cleaning.StatusRejected),
	"{pending}", pq.QuoteLiteral(cleaning.StatusPending),
)

const factJoins = `FROM dw.fact_demandes f
JOIN dw.dim_territoire t ON f.id_territoire = t.id_territoire
JOIN dw.dim_type_document td ON f.id_type_document = td.id_type_document`

var catalog = []Definition{
	{
		Name:        DelaiMoyen,
		Title:       "Délai moyen de traitement",
		Description: "Average processing delay in days over requests with a known delay.",
		Filters:     []string{FilterRegion, FilterPrefecture, FilterTypeDocument},
		where:       []string{"f.delai_traitement_jours IS NOT NULL"},
		sql: `SELECT ROUND(AVG(f.delai_traitement_jours)::NUMERIC, 2) AS delai_moyen_jours,
       COUNT(*) AS nombre_demandes
` + factJoins + `
{where}`,
	},
	{
		Name:        DelaiParRegion,
		Title:       "Délai moyen par région",
		Description: "Average processing delay per region.",
		sql: `SELECT t.region,
       ROUND(AVG(f.delai_traitement_jours)::NUMERIC, 2) AS delai_moyen_jours,
       COUNT(*) AS nombre_demandes
FROM dw.fact_demandes f
JOIN dw.dim_territoire t ON f.id_territoire = t.id_territoire
WHERE f.delai_traitement_jours IS NOT NULL
GROUP BY t.region
ORDER BY delai_moyen_jours DESC`,
	},
	{
		Name:        Absorption,
		Title:       "Taux d'absorption",
		Description: "Processed (validated or rejected) requests over all requests, in percent.",
		Filters:     []string{FilterRegion, FilterPrefecture},
		sql: `SELECT COUNT(*) FILTER (WHERE f.statut_demande IN ({terminal})) AS demandes_traitees,
       COUNT(*) AS total_demandes,
       ROUND(COUNT(*) FILTER (WHERE f.statut_demande IN ({terminal}))::NUMERIC / NULLIF(COUNT(*), 0) * 100, 2) AS taux_absorption_pct
FROM dw.fact_demandes f
JOIN dw.dim_territoire t ON f.id_territoire = t.id_territoire
{where}`,
	},
	{
		Name:        AbsorptionParRegion,
		Title:       "Taux d'absorption par région",
		Description: "Absorption rate per region, lowest first.",
		sql: `SELECT t.region,
       COUNT(*) FILTER (WHERE f.statut_demande IN ({terminal})) AS demandes_traitees,
       COUNT(*) AS total_demandes,
       ROUND(COUNT(*) FILTER (WHERE f.statut_demande IN ({terminal}))::NUMERIC / NULLIF(COUNT(*), 0) * 100, 2) AS taux_absorption_pct
FROM dw.fact_demandes f
JOIN dw.dim_territoire t ON f.id_territoire = t.id_territoire
GROUP BY t.region
ORDER BY taux_absorption_pct ASC`,
	},
	{
		Name:        Couverture,
		Title:       "Couverture territoriale",
		Description: "Communes with at least one service centre or observed request over all communes, per region.",
		sql: `WITH communes_totales AS (
    SELECT region, COUNT(DISTINCT commune) AS total_communes
    FROM dw.dim_territoire
    GROUP BY region
), avec_centre AS (
    SELECT DISTINCT t.region, t.commune
    FROM dw.dim_territoire t
    JOIN dw.dim_centres_service cs ON t.id_territoire = cs.id_territoire
), avec_demande AS (
    SELECT DISTINCT t.region, t.commune
    FROM dw.dim_territoire t
    JOIN dw.fact_demandes f ON t.id_territoire = f.id_territoire
), communes_couvertes AS (
    SELECT region,
           COUNT(*) AS communes_actives,
           COUNT(*) FILTER (WHERE centre) AS communes_avec_centre,
           COUNT(*) FILTER (WHERE demande) AS communes_avec_demande
    FROM (
        SELECT COALESCE(c.region, d.region) AS region,
               c.commune IS NOT NULL AS centre,
               d.commune IS NOT NULL AS demande
        FROM avec_centre c
        FULL OUTER JOIN avec_demande d ON c.region = d.region AND c.commune = d.commune
    ) u
    GROUP BY region
)
SELECT ct.region,
       ct.total_communes AS communes_totales,
       COALESCE(cc.communes_actives, 0) AS communes_actives,
       COALESCE(cc.communes_avec_centre, 0) AS communes_avec_centre,
       COALESCE(cc.communes_avec_demande, 0) AS communes_avec_demande,
       ROUND(COALESCE(cc.communes_actives, 0)::NUMERIC / NULLIF(ct.total_communes, 0) * 100, 2) AS taux_couverture_pct
FROM communes_totales ct
LEFT JOIN communes_couvertes cc ON ct.region = cc.region
ORDER BY taux_couverture_pct DESC`,
	},
	{
		Name:        Equite,
		Title:       "Équité d'accès",
		Description: "Inhabitants per centre by region and the ratio to the best served region.",
		sql: `WITH centres AS (
    SELECT id_territoire, COUNT(*) AS n FROM dw.dim_centres_service GROUP BY id_territoire
), pop AS (
    SELECT id_territoire, SUM(population) AS population FROM dw.dim_socioeconomique GROUP BY id_territoire
), region_stats AS (
    SELECT t.region,
           COALESCE(SUM(c.n), 0)::INTEGER AS nombre_centres,
           COALESCE(SUM(p.population), 0)::BIGINT AS population_totale
    FROM dw.dim_territoire t
    LEFT JOIN centres c ON c.id_territoire = t.id_territoire
    LEFT JOIN pop p ON p.id_territoire = t.id_territoire
    GROUP BY t.region
), ratios AS (
    SELECT region, nombre_centres, population_totale,
           population_totale::NUMERIC / NULLIF(nombre_centres, 0) AS pop_par_centre
    FROM region_stats
)
SELECT region, nombre_centres, population_totale,
       ROUND(pop_par_centre, 0) AS hab_par_centre,
       ROUND(pop_par_centre / NULLIF(MIN(pop_par_centre) FILTER (WHERE pop_par_centre > 0) OVER (), 0), 2) AS ratio_inegalite
FROM ratios
ORDER BY pop_par_centre DESC NULLS LAST`,
	},
	{
		Name:        Rejet,
		Title:       "Taux de rejet",
		Description: "Rejected requests over decided (validated or rejected) requests, in percent.",
		Filters:     []string{FilterRegion, FilterPrefecture, FilterTypeDocument},
		sql: `SELECT COUNT(*) FILTER (WHERE f.statut_demande = {rejected}) AS demandes_rejetees,
       COUNT(*) FILTER (WHERE f.statut_demande = {validated}) AS demandes_validees,
       ROUND(COUNT(*) FILTER (WHERE f.statut_demande = {rejected})::NUMERIC
             / NULLIF(COUNT(*) FILTER (WHERE f.statut_demande IN ({terminal})), 0) * 100, 2) AS taux_rejet_global_pct
` + factJoins + `
{where}`,
	},
	{
		Name:        RejetParType,
		Title:       "Taux de rejet par type de document",
		Description: "Rejection rate per document type, highest first.",
		sql: `SELECT td.type_document,
       COUNT(*) FILTER (WHERE f.statut_demande = {rejected}) AS demandes_rejetees,
       COUNT(*) FILTER (WHERE f.statut_demande = {validated}) AS demandes_validees,
       ROUND(COUNT(*) FILTER (WHERE f.statut_demande = {rejected})::NUMERIC
             / NULLIF(COUNT(*) FILTER (WHERE f.statut_demande IN ({terminal})), 0) * 100, 2) AS taux_rejet_pct
FROM dw.fact_demandes f
JOIN dw.dim_type_document td ON f.id_type_document = td.id_type_document
GROUP BY td.type_document
ORDER BY taux_rejet_pct DESC NULLS LAST`,
	},
	{
		Name:        ChargeParRegion,
		Title:       "Charge par agent",
		Description: "Processed requests per unit of daily staff capacity, per region.",
		sql: `WITH traite AS (
    SELECT t.region, COUNT(*) FILTER (WHERE f.statut_demande IN ({terminal})) AS total_traite
    FROM dw.fact_demandes f
    JOIN dw.dim_territoire t ON f.id_territoire = t.id_territoire
    GROUP BY t.region
), agents AS (
    SELECT t.region, SUM(cs.personnel_capacite_jour) AS total_agents
    FROM dw.dim_centres_service cs
    JOIN dw.dim_territoire t ON cs.id_territoire = t.id_territoire
    GROUP BY t.region
)
SELECT tr.region,
       tr.total_traite,
       COALESCE(a.total_agents, 0) AS total_agents,
       ROUND(tr.total_traite::NUMERIC / NULLIF(a.total_agents, 0), 2) AS charge_par_agent
FROM traite tr
LEFT JOIN agents a ON a.region = tr.region
ORDER BY charge_par_agent DESC NULLS LAST`,
	},
	{
		Name:        PerformanceTypeDocument,
		Title:       "Performance par type de document",
		Description: "Volume, average delay and rejection rate per document type.",
		sql: `SELECT td.type_document,
       COUNT(f.id_fact) AS nombre_demandes,
       ROUND(AVG(f.delai_traitement_jours)::NUMERIC, 2) AS delai_moyen_jours,
       ROUND(COUNT(*) FILTER (WHERE f.statut_demande = {rejected})::NUMERIC
             / NULLIF(COUNT(*) FILTER (WHERE f.statut_demande IN ({terminal})), 0) * 100, 2) AS taux_rejet_pct
FROM dw.fact_demandes f
JOIN dw.dim_type_document td ON f.id_type_document = td.id_type_document
GROUP BY td.type_document
ORDER BY delai_moyen_jours DESC NULLS LAST`,
	},
	{
		Name:        SaturationParRegion,
		Title:       "Taux de saturation",
		Description: "Pending requests over daily staff capacity, per region, in percent.",
		sql: `WITH attente AS (
    SELECT t.region, COUNT(*) FILTER (WHERE f.statut_demande = {pending}) AS en_attente
    FROM dw.fact_demandes f
    JOIN dw.dim_territoire t ON f.id_territoire = t.id_territoire
    GROUP BY t.region
), capacite AS (
    SELECT t.region, SUM(cs.personnel_capacite_jour) AS capacite_jour
    FROM dw.dim_centres_service cs
    JOIN dw.dim_territoire t ON cs.id_territoire = t.id_territoire
    GROUP BY t.region
)
SELECT att.region,
       att.en_attente,
       COALESCE(c.capacite_jour, 0) AS capacite_jour,
       ROUND(att.en_attente::NUMERIC / NULLIF(c.capacite_jour, 0) * 100, 2) AS taux_saturation_pct
FROM attente att
LEFT JOIN capacite c ON c.region = att.region
ORDER BY taux_saturation_pct DESC NULLS LAST`,
	},
	{
		Name:        TendanceMensuelle,
		Title:       "Tendance mensuelle",
		Description: "Requests and average delay per month.",
		Filters:     []string{FilterRegion, FilterPrefecture, FilterTypeDocument},
		where:       []string{"f.annee_demande IS NOT NULL", "f.mois_demande IS NOT NULL"},
		sql: `SELECT f.annee_demande,
       f.mois_demande,
       (ARRAY['Janvier', 'Février', 'Mars', 'Avril', 'Mai', 'Juin', 'Juillet', 'Août',
              'Septembre', 'Octobre', 'Novembre', 'Décembre'])[f.mois_demande] AS mois_nom,
       COUNT(*) AS nb_demandes,
       ROUND(AVG(f.delai_traitement_jours)::NUMERIC, 2) AS delai_moyen
` + factJoins + `
{where}
GROUP BY f.annee_demande, f.mois_demande
ORDER BY f.annee_demande, f.mois_demande`,
	},
	{
		Name:        CapaciteDemande,
		Title:       "Capacité et demande par centre",
		Description: "Daily capacity against the average daily demand of the centre's territory.",
		sql: `WITH demande AS (
    SELECT id_territoire,
           COUNT(*)::NUMERIC / NULLIF(COUNT(DISTINCT date_demande), 0) AS demande_quotidienne
    FROM dw.fact_demandes
    GROUP BY id_territoire
)
SELECT cs.id_centre,
       cs.nom_centre,
       cs.personnel_capacite_jour AS capacite_quotidienne,
       ROUND(COALESCE(d.demande_quotidienne, 0), 2) AS demande_quotidienne_estimee,
       COALESCE(d.demande_quotidienne, 0) > COALESCE(cs.personnel_capacite_jour, 0) AS surcharge
FROM dw.dim_centres_service cs
LEFT JOIN demande d ON d.id_territoire = cs.id_territoire
ORDER BY demande_quotidienne_estimee DESC, cs.id_centre`,
	},
	{
		Name:        ZonesPrioritaires,
		Title:       "Zones prioritaires",
		Description: "Prefectures with the most inhabitants per centre; prefectures without a centre first.",
		sql: `WITH pop AS (
    SELECT t.region, t.prefecture, SUM(s.population) AS population_totale
    FROM dw.dim_territoire t
    JOIN dw.dim_socioeconomique s ON s.id_territoire = t.id_territoire
    GROUP BY t.region, t.prefecture
), centres AS (
    SELECT t.region, t.prefecture, COUNT(cs.id_centre) AS nb_centres
    FROM dw.dim_territoire t
    JOIN dw.dim_centres_service cs ON cs.id_territoire = t.id_territoire
    GROUP BY t.region, t.prefecture
)
SELECT p.region,
       p.prefecture,
       p.population_totale,
       COALESCE(c.nb_centres, 0) AS nb_centres,
       ROUND(p.population_totale::NUMERIC / NULLIF(c.nb_centres, 0), 0) AS hab_par_centre
FROM pop p
LEFT JOIN centres c ON c.region = p.region AND c.prefecture = p.prefecture
ORDER BY hab_par_centre DESC NULLS FIRST
LIMIT 10`,
	},
}

var byName = func() map[string]Definition {
	m := make(map[string]Definition, len(catalog))
	for i := range catalog {
		catalog[i].sql = statuses.Replace(catalog[i].sql)
		m[catalog[i].Name] = catalog[i]
	}
	return m
}()

// Catalog returns every definition in display order.
func Catalog() []Definition {
	return append([]Definition(nil), catalog...)
}

// Names returns the KPI names in display order.
func Names() []string {
	names := make([]string, len(catalog))
	for i, d := range catalog {
		names[i] = d.Name
	}
	return names
}

// Lookup returns the definition called name.
func Lookup(name string) (Definition, error) {
	d, ok := byName[name]
	if !ok {
		return Definition{}, &KPIError{KPI: name, Op: "lookup", Err: ErrUnknownKPI}
	}
	return d, nil
}
