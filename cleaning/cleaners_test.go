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

package cleaning

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aaronlmathis/servicedw/config"
	"github.com/aaronlmathis/servicedw/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawRequests() []core.Record {
	return []core.Record{
		{"demande_id": "1", "date_demande": "2023-01-15", "region": "maritime", "prefecture": " golfe ", "commune": "lomÃ©",
			"quartier": nil, "type_document": "passeport", "statut_demande": "Traitée", "motif_demande": nil,
			"age_demandeur": "30", "sexe_demandeur": "m", "taux_rejet": "1.5", "delai_traitement_jours": "4"},
		{"demande_id": "1", "date_demande": "2023-01-16", "region": "maritime", "prefecture": "golfe", "commune": "lomé",
			"quartier": "be", "type_document": "passeport", "statut_demande": "Rejetée", "motif_demande": "dossier",
			"age_demandeur": "99", "sexe_demandeur": "f", "taux_rejet": "0.2", "delai_traitement_jours": "1"},
		{"demande_id": "2", "date_demande": "pas une date", "region": "plateaux", "prefecture": "ogou", "commune": "atakpamé",
			"quartier": "centre", "type_document": "casier judiciaire", "statut_demande": "Refusée", "motif_demande": nil,
			"age_demandeur": nil, "sexe_demandeur": nil, "taux_rejet": "abc", "delai_traitement_jours": "x"},
		{"demande_id": "3", "date_demande": "2023-02-01", "region": "maritime", "prefecture": "golfe", "commune": "lomé",
			"quartier": "tokoin", "type_document": "passeport", "statut_demande": "en cours", "motif_demande": nil,
			"age_demandeur": "41", "sexe_demandeur": "f", "taux_rejet": "-0.3", "delai_traitement_jours": "7"},
		{"demande_id": "4", "date_demande": "2023-02-02", "region": "maritime", "prefecture": "golfe", "commune": "lomé",
			"quartier": "tokoin", "type_document": "passeport", "statut_demande": "Archivée", "motif_demande": nil,
			"age_demandeur": "20", "sexe_demandeur": "m", "taux_rejet": "0.5", "delai_traitement_jours": "2"},
	}
}

func byID(records []core.Record) map[string]core.Record {
	out := make(map[string]core.Record, len(records))
	for _, r := range records {
		out[r.String("demande_id")] = r
	}
	return out
}

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Validée", StatusValidated},
		{"TRAITÉE", StatusValidated},
		{"traitee", StatusValidated},
		{"ValidÃ©e", StatusValidated},
		{"Acceptée", StatusValidated},
		{"Finalisée", StatusValidated},
		{"Refusée", StatusRejected},
		{"rejetÃ©e", StatusRejected},
		{"  en   cours ", StatusPending},
		{"En attente", StatusPending},
		{"Archivée", "Archivée"},
		{" Suspendue ", "Suspendue"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeStatus(tt.in))
		})
	}
}

func TestRequestsCleaner(t *testing.T) {
	audit := NewAuditTrail("run-1")
	input := rawRequests()
	out, err := NewRequestsCleaner(audit).TransformBatch(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, out, 4)

	rows := byID(out)
	first := rows["1"]
	assert.Equal(t, StatusValidated, first["statut_demande"], "first occurrence of a duplicated id wins")
	assert.Equal(t, time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC), first["date_demande"])
	assert.Equal(t, "Maritime", first["region"])
	assert.Equal(t, "Golfe", first["prefecture"])
	assert.Equal(t, "Lomé", first["commune"])
	assert.Equal(t, UnknownQuartier, first["quartier"])
	assert.Equal(t, MotifNotApplicable, first["motif_demande"])
	assert.Equal(t, 1.0, first["taux_rejet"])
	assert.Equal(t, 4.0, first["delai_traitement_jours"])
	assert.Equal(t, 2023, first["annee_demande"])
	assert.Equal(t, 1, first["mois_demande"])
	assert.Equal(t, "Dimanche", first["jour_semaine_demande"])

	rejected := rows["2"]
	assert.Equal(t, StatusRejected, rejected["statut_demande"])
	assert.Equal(t, MotifUnspecified, rejected["motif_demande"])
	assert.Nil(t, rejected["date_demande"])
	assert.Nil(t, rejected["annee_demande"])
	assert.Equal(t, 30, rejected["age_demandeur"], "median of 30, 41, 20")
	assert.Equal(t, "M", rejected["sexe_demandeur"], "mode of M, F, M")
	assert.Equal(t, 0.0, rejected["taux_rejet"])
	assert.Nil(t, rejected["delai_traitement_jours"])
	assert.Equal(t, "Casier Judiciaire", rejected["type_document"])

	assert.Equal(t, StatusPending, rows["3"]["statut_demande"])
	assert.Equal(t, MotifNotApplicable, rows["3"]["motif_demande"])
	assert.Equal(t, 0.0, rows["3"]["taux_rejet"])
	assert.Equal(t, "Archivée", rows["4"]["statut_demande"], "unmapped status passes through")
	assert.Equal(t, MotifUnspecified, rows["4"]["motif_demande"])

	for _, r := range out {
		rate := r["taux_rejet"].(float64)
		assert.GreaterOrEqual(t, rate, 0.0)
		assert.LessOrEqual(t, rate, 1.0)
		assert.IsType(t, 0, r["age_demandeur"])
		assert.Len(t, r, len(RequestsSchema.Columns))
	}

	// Input untouched.
	assert.Len(t, input, 5)
	assert.Equal(t, "Traitée", input[0]["statut_demande"])
	assert.Equal(t, "lomÃ©", input[0]["commune"])
	assert.Nil(t, input[2]["age_demandeur"])

	var dedupe *AuditEntry
	for _, e := range audit.ForEntity(config.EntityDemandes) {
		if e.Operation == "dedupe" {
			e := e
			dedupe = &e
		}
	}
	require.NotNil(t, dedupe)
	assert.Equal(t, 5, dedupe.Before)
	assert.Equal(t, 4, dedupe.After)
}

func TestRequestsCleaner_NoAges(t *testing.T) {
	input := []core.Record{
		{"demande_id": "1", "statut_demande": "Validée", "age_demandeur": nil},
		{"demande_id": "2", "statut_demande": "Validée", "age_demandeur": "inconnu"},
	}
	out, err := NewRequestsCleaner(nil).TransformBatch(context.Background(), input)
	require.NoError(t, err)
	for _, r := range out {
		assert.Nil(t, r["age_demandeur"])
		assert.Equal(t, 0.0, r["taux_rejet"], "absent rate takes its schema default")
	}
}

func TestRequestsCleaner_SexTieImputesSmallestValue(t *testing.T) {
	input := []core.Record{
		{"demande_id": "1", "statut_demande": "Validée", "sexe_demandeur": "M"},
		{"demande_id": "2", "statut_demande": "Validée", "sexe_demandeur": "F"},
		{"demande_id": "3", "statut_demande": "Validée", "sexe_demandeur": nil},
	}
	out, err := NewRequestsCleaner(nil).TransformBatch(context.Background(), input)
	require.NoError(t, err)
	rows := byID(out)
	require.Len(t, rows, 3)
	assert.Equal(t, "F", rows["3"]["sexe_demandeur"])
	assert.Equal(t, "M", rows["1"]["sexe_demandeur"])
}

func TestCentersCleaner(t *testing.T) {
	input := []core.Record{
		{"nom_centre": "centre de lomé", "type_centre": "MAIRIE", "region": "maritime", "prefecture": "golfe",
			"commune": "lomé", "date_ouverture": "15/03/2019", "personnel_capacite_jour": "12.6",
			"statut_centre": "ACTIF", "equipement_numerique": "oui", "latitude": "6,13"},
		{"nom_centre": "annexe", "region": "plateaux", "prefecture": "ogou", "commune": "atakpamé",
			"date_ouverture": "", "personnel_capacite_jour": "n/a"},
	}
	out, err := NewCentersCleaner(nil).TransformBatch(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "Centre De Lomé", out[0]["nom_centre"])
	assert.Equal(t, "Mairie", out[0]["type_centre"])
	assert.Equal(t, "Actif", out[0]["statut_centre"])
	assert.Equal(t, "Oui", out[0]["equipement_numerique"])
	assert.Equal(t, 2019, out[0]["annee_ouverture"])
	assert.Equal(t, 3, out[0]["mois_ouverture"])
	assert.Equal(t, 13, out[0]["personnel_capacite_jour"])
	assert.Equal(t, 6.13, out[0]["latitude"])
	assert.Equal(t, 0, out[0]["nombre_guichets"])

	assert.Nil(t, out[1]["annee_ouverture"])
	assert.Equal(t, 0, out[1]["personnel_capacite_jour"])
}

func TestDocumentsCleaner(t *testing.T) {
	input := []core.Record{
		{"type_document": "passeport", "region": "maritime", "prefecture": "golfe", "commune": "lomé", "annee": "2023", "mois": "8"},
		{"type_document": "passeport", "region": "maritime", "prefecture": "golfe", "commune": "lomé", "annee": "2023", "mois": "13"},
	}
	out, err := NewDocumentsCleaner(nil).TransformBatch(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "Août", out[0]["mois_nom"])
	assert.Equal(t, "Août 2023", out[0]["periode"])
	assert.Equal(t, "Passeport", out[0]["type_document"])
	assert.Nil(t, out[1]["mois_nom"])
	assert.Nil(t, out[1]["periode"])
}

func TestLogsCleaner(t *testing.T) {
	input := []core.Record{
		{"type_document": nil, "nombre_traite": "12", "delai_effectif": "x", "date_operation": "2023-05-01", "raison_rejet": "  dossier incomplet "},
		{"type_document": "  ", "nombre_traite": nil},
		{"type_document": "NaN", "nombre_traite": "3,5"},
		{"type_document": "Passeport"},
	}
	out, err := NewLogsCleaner(nil).TransformBatch(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, DocTypeNotProvided, out[0]["type_document"])
	assert.Equal(t, DocTypeUnknown, out[1]["type_document"])
	assert.Equal(t, DocTypeUnknown, out[2]["type_document"])
	assert.Equal(t, "Passeport", out[3]["type_document"])

	assert.Equal(t, 12.0, out[0]["nombre_traite"])
	assert.Equal(t, 0.0, out[0]["delai_effectif"])
	assert.Equal(t, 0.0, out[1]["nombre_traite"])
	assert.Equal(t, 3.5, out[2]["nombre_traite"])
	assert.Equal(t, 0.0, out[3]["temps_attente_moyen_minutes"])
	assert.Equal(t, "dossier incomplet", out[0]["raison_rejet"])
	assert.IsType(t, time.Time{}, out[0]["date_operation"])
}

func TestSocioCleaner_AliasAndClip(t *testing.T) {
	input := []core.Record{
		{"region": "maritime", "prefecture": "golfe", "commune": "lomé", "population": "837437",
			"taux_d_alphabetisation": "0.8", "taux_pauvrete": "1.2", "taux_chomage": "bad"},
	}
	out, err := NewSocioCleaner(nil).TransformBatch(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 0.8, out[0]["taux_alphabetisation"])
	assert.Equal(t, 1.0, out[0]["taux_pauvrete"])
	assert.Equal(t, 0.0, out[0]["taux_chomage"])
	assert.Equal(t, 837437, out[0]["population"])
	assert.NotContains(t, out[0], "taux_d_alphabetisation")
}

func TestCommunesCleaner(t *testing.T) {
	input := []core.Record{
		{"region": "kara", "prefecture": "kozah", "commune": "kara", "superficie_km2": "12,5", "taux_urbanisation": "55"},
	}
	out, err := NewCommunesCleaner(nil).TransformBatch(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "Kara", out[0]["region"])
	assert.Equal(t, 12.5, out[0]["superficie_km2"])
	assert.Equal(t, 1.0, out[0]["taux_urbanisation"])
}

func TestNewCleaner(t *testing.T) {
	for _, entity := range []string{config.EntityDemandes, config.EntityCentres, config.EntityDocuments,
		config.EntityLogs, config.EntitySocio, config.EntityCommunes} {
		c, err := NewCleaner(entity, nil)
		require.NoError(t, err)
		assert.Equal(t, entity, c.Entity())
		assert.Equal(t, entity, c.Schema().Entity)
	}
	_, err := NewCleaner("inconnu", nil)
	var cerr *CleanError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "inconnu", cerr.Entity)
}

func TestSchema_ConformAndMissing(t *testing.T) {
	records := []core.Record{{"nom_centre": "A", "extra": 1}}
	out := CentersSchema.Conform(records)
	assert.Equal(t, CentersSchema.Names(), keysInSchemaOrder(out[0]))
	assert.Equal(t, 0, out[0]["personnel_capacite_jour"])
	assert.Nil(t, out[0]["region"])
	assert.NotContains(t, out[0], "extra")
	assert.Equal(t, []string{"region", "prefecture", "commune"}, CentersSchema.Missing(records))
}

func keysInSchemaOrder(r core.Record) []string {
	var keys []string
	for _, name := range CentersSchema.Names() {
		if _, ok := r[name]; ok {
			keys = append(keys, name)
		}
	}
	return keys
}

func TestAuditTrail_WriteTo(t *testing.T) {
	audit := NewAuditTrail("abc")
	audit.now = func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC) }
	audit.Record(AuditEntry{Entity: "demandes", Column: "quartier", Operation: "impute", Before: 3, After: 0, Detail: "constant Inconnu"})

	var sb strings.Builder
	_, err := audit.WriteTo(&sb)
	require.NoError(t, err)
	assert.Equal(t, "--- cleaning run abc at 2024-06-01 10:00:00 ---\n"+
		"[demandes] quartier impute: 3 -> 0 (constant Inconnu)\n\n", sb.String())
}

func TestSchema_Coerce(t *testing.T) {
	records := []core.Record{{"demande_id": "7", "date_demande": "2023-04-02", "age_demandeur": "33", "taux_rejet": "0.25", "annee_demande": "x"}}
	out, err := RequestsSchema.Coerce(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, "7", out[0]["demande_id"])
	assert.Equal(t, time.Date(2023, 4, 2, 0, 0, 0, 0, time.UTC), out[0]["date_demande"])
	assert.Equal(t, 33, out[0]["age_demandeur"])
	assert.Equal(t, 0.25, out[0]["taux_rejet"])
	assert.Nil(t, out[0]["annee_demande"])
	assert.Equal(t, "33", records[0]["age_demandeur"])
}
