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

// validate.go - Data quality rules applied to cleaned datasets
package cleaning

import (
	"context"

	"github.com/aaronlmathis/servicedw/config"
	"github.com/aaronlmathis/servicedw/core"
	"github.com/aaronlmathis/servicedw/validators"
)

var (
	socioRates   = []string{"taux_pauvrete", "taux_alphabetisation", "taux_chomage", "taux_acces_eau", "taux_electrification"}
	communeRates = []string{"taux_urbanisation"}
)

// ValidatorFor returns the quality rules checked after cleaning entity.
func ValidatorFor(entity string) *validators.DataQualityValidator {
	location := []string{"region", "prefecture", "commune"}
	switch entity {
	case config.EntityDemandes:
		return validators.NewDataQualityValidator(1, []string{"demande_id", "statut_demande", "type_document"},
			validators.WithName(entity),
			validators.WithAllowedValues("statut_demande", Statuses...),
			validators.WithRange("taux_rejet", 0, 1),
			validators.WithNotNull(append(location, "demande_id", "motif_demande", "quartier")...),
			validators.WithMaxNullRate(0.05, "date_demande", "type_document"),
		)
	case config.EntityCentres:
		return validators.NewDataQualityValidator(1, []string{"nom_centre"},
			validators.WithName(entity),
			validators.WithNotNull(append(location, "nom_centre")...),
			validators.WithRange("personnel_capacite_jour", 0, 1e6),
		)
	case config.EntityDocuments:
		return validators.NewDataQualityValidator(1, []string{"type_document", "annee", "mois"},
			validators.WithName(entity),
			validators.WithRange("mois", 1, 12),
			validators.WithRange("taux_rejet", 0, 1),
		)
	case config.EntityLogs:
		return validators.NewDataQualityValidator(1, []string{"type_document"},
			validators.WithName(entity),
			validators.WithNotNull("type_document"),
		)
	case config.EntitySocio:
		opts := []validators.DataQualityOption{validators.WithName(entity), validators.WithNotNull(location...)}
		for _, f := range socioRates {
			opts = append(opts, validators.WithRange(f, 0, 1))
		}
		return validators.NewDataQualityValidator(1, location, opts...)
	case config.EntityCommunes:
		opts := []validators.DataQualityOption{validators.WithName(entity), validators.WithNotNull(location...)}
		for _, f := range communeRates {
			opts = append(opts, validators.WithRange(f, 0, 1))
		}
		return validators.NewDataQualityValidator(1, location, opts...)
	}
	return validators.NewDataQualityValidator(0, nil, validators.WithName(entity))
}

// validationStage runs a validator over the batch without changing it and
// keeps the report for the caller.
type validationStage struct {
	validator *validators.DataQualityValidator
	report    validators.ValidationReport
}

func (v *validationStage) TransformBatch(ctx context.Context, records []core.Record) ([]core.Record, error) {
	report, err := v.validator.Validate(ctx, records)
	if err != nil {
		return nil, err
	}
	v.report = report
	return records, nil
}
