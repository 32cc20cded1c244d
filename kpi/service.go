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

// service.go - Cached KPI access for the CLI and the HTTP API
package kpi

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aaronlmathis/servicedw/cache"
	"github.com/aaronlmathis/servicedw/core"
)

// Service runs catalog KPIs through an optional result cache.
type Service struct {
	repo   *Repository
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCache caches results in c for ttl.
func WithCache(c cache.Cache, ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.cache = c
		s.ttl = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a Service on repo.
func NewService(repo *Repository, opts ...ServiceOption) *Service {
	s := &Service{repo: repo, logger: zap.L().Named("kpi")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Repository returns the underlying repository.
func (s *Service) Repository() *Repository { return s.repo }

// CacheKey identifies the result of name under f.
func CacheKey(name string, f Filter) string {
	f = f.Normalize()
	return cache.NewKeyBuilder("kpi").Add(name).Add(f.Region).Add(f.Prefecture).Add(f.TypeDocument).Build()
}

// Run returns the rows of the KPI called name. Callers get their own copy
// of cached rows.
func (s *Service) Run(ctx context.Context, name string, f Filter) ([]core.Record, error) {
	if _, err := Lookup(name); err != nil {
		return nil, err
	}
	key := CacheKey(name, f)
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			if rows, ok := v.([]core.Record); ok {
				return core.CloneAll(rows), nil
			}
		}
	}

	start := time.Now()
	rows, err := s.repo.Query(ctx, name, f)
	if err != nil {
		s.logger.Error("kpi query failed", zap.String("kpi", name), zap.Error(err))
		return nil, err
	}
	s.logger.Debug("kpi computed",
		zap.String("kpi", name),
		zap.Int("rows", len(rows)),
		zap.Duration("duration", time.Since(start)))

	if s.cache != nil {
		s.cache.Set(key, core.CloneAll(rows), s.ttl)
	}
	return rows, nil
}

// RunAll runs every catalog KPI under f. The first failure stops the run.
func (s *Service) RunAll(ctx context.Context, f Filter) (map[string][]core.Record, error) {
	out := make(map[string][]core.Record, len(catalog))
	for _, name := range Names() {
		rows, err := s.Run(ctx, name, f)
		if err != nil {
			return out, err
		}
		out[name] = rows
	}
	return out, nil
}

// Summary is the headline view: delay, absorption and rejection with badges.
type Summary struct {
	Filter     Filter           `json:"filter"`
	Delai      DelaiMoyenRow    `json:"delai"`
	Absorption AbsorptionRow    `json:"absorption"`
	Rejet      RejetRow         `json:"rejet"`
	Badges     map[string]Badge `json:"badges"`
}

// Summary computes the headline KPIs under f.
func (s *Service) Summary(ctx context.Context, f Filter) (*Summary, error) {
	f = f.Normalize()
	delai, err := s.repo.DelaiMoyen(ctx, f)
	if err != nil {
		return nil, err
	}
	abs, err := s.repo.Absorption(ctx, f)
	if err != nil {
		return nil, err
	}
	rej, err := s.repo.Rejet(ctx, f)
	if err != nil {
		return nil, err
	}
	return &Summary{
		Filter:     f,
		Delai:      delai,
		Absorption: abs,
		Rejet:      rej,
		Badges: map[string]Badge{
			MetricDMT:        Grade(MetricDMT, delai.DelaiMoyenJours),
			MetricAbsorption: Grade(MetricAbsorption, abs.TauxAbsorptionPct),
			MetricRejection:  Grade(MetricRejection, rej.TauxRejetGlobalPct),
		},
	}, nil
}
