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

// manifest.go - Source manifest
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Source entities known to the cleaners and the loader.
const (
	EntityDemandes  = "demandes"
	EntityCentres   = "centres"
	EntityDocuments = "documents"
	EntitySocio     = "socioeconomique"
	EntityCommunes  = "communes"
	EntityLogs      = "logs"
)

// Source describes one raw extract and where its cleaned form goes.
type Source struct {
	Entity      string `yaml:"entity"`
	RawFile     string `yaml:"raw_file"`
	CleanedFile string `yaml:"cleaned_file"`
	RawTable    string `yaml:"raw_table,omitempty"` // Empty when the entity is not loaded into raw
	Encoding    string `yaml:"encoding,omitempty"`  // utf-8 (default) or latin-1
	Delimiter   string `yaml:"delimiter,omitempty"` // Single character, default ","
}

// Comma returns the CSV delimiter rune.
func (s Source) Comma() rune {
	if s.Delimiter == "" {
		return ','
	}
	return []rune(s.Delimiter)[0]
}

// Validate checks the required fields of a source.
func (s Source) Validate() error {
	if s.Entity == "" {
		return errors.New("source entity is required")
	}
	if s.RawFile == "" || s.CleanedFile == "" {
		return fmt.Errorf("source %s: raw_file and cleaned_file are required", s.Entity)
	}
	if len([]rune(s.Delimiter)) > 1 {
		return fmt.Errorf("source %s: delimiter must be a single character", s.Entity)
	}
	return nil
}

// Manifest is the YAML document listing sources.
type Manifest struct {
	Sources []Source `yaml:"sources"`
}

// LoadManifest reads a YAML manifest. Sources left empty fall back to the defaults.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if len(m.Sources) == 0 {
		m.Sources = DefaultSources()
	}
	for _, s := range m.Sources {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("manifest %s: %w", path, err)
		}
	}
	return &m, nil
}

// DefaultSources returns the built-in source list.
func DefaultSources() []Source {
	return []Source{
		{Entity: EntityCommunes, RawFile: "details_communes.csv", CleanedFile: "details_communes_cleaned.csv", RawTable: "communes"},
		{Entity: EntityCentres, RawFile: "centres_service.csv", CleanedFile: "centres_service_cleaned.csv", RawTable: "centres_service"},
		{Entity: EntityDemandes, RawFile: "demande_services_public.csv", CleanedFile: "demande_services_public_cleaned.csv", RawTable: "demandes_services_public"},
		{Entity: EntitySocio, RawFile: "donnees_socioeconomiques.csv", CleanedFile: "donnees_socioeconomiques_cleaned.csv", RawTable: "donnees_socioeconomiques"},
		{Entity: EntityDocuments, RawFile: "document_administratif.csv", CleanedFile: "document_administratif_cleaned.csv"},
		{Entity: EntityLogs, RawFile: "logs_activite.csv", CleanedFile: "logs_activite_cleaned.csv"},
	}
}
