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

package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/aaronlmathis/servicedw/kpi"
)

func HealthHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}

func CatalogHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, kpi.Catalog())
	}
}

func bindFilter(c echo.Context) (kpi.Filter, error) {
	var f kpi.Filter
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &f); err != nil {
		return kpi.Filter{}, echo.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	}
	return f.Normalize(), nil
}

func KPIHandler(svc *kpi.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := c.Param("name")
		def, err := kpi.Lookup(name)
		if err != nil {
			return err
		}
		f, err := bindFilter(c)
		if err != nil {
			return err
		}
		f = f.Restrict(def.Filters)

		recs, err := svc.Run(c.Request().Context(), name, f)
		if err != nil {
			return err
		}
		rows := make([]interface{}, 0, len(recs))
		for _, r := range recs {
			rows = append(rows, r)
		}
		return c.JSON(http.StatusOK, KPIResponse{
			KPI:    def.Name,
			Title:  def.Title,
			Filter: f,
			Rows:   rows,
		})
	}
}

func SummaryHandler(svc *kpi.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		f, err := bindFilter(c)
		if err != nil {
			return err
		}
		sum, err := svc.Summary(c.Request().Context(), f)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, sum)
	}
}

func RegionsHandler(repo *kpi.Repository) echo.HandlerFunc {
	return func(c echo.Context) error {
		values, err := repo.Regions(c.Request().Context())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, nonNil(values))
	}
}

// PrefecturesHandler honours an optional region query parameter.
func PrefecturesHandler(repo *kpi.Repository) echo.HandlerFunc {
	return func(c echo.Context) error {
		values, err := repo.Prefectures(c.Request().Context(), c.QueryParam("region"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, nonNil(values))
	}
}

func DocumentTypesHandler(repo *kpi.Repository) echo.HandlerFunc {
	return func(c echo.Context) error {
		values, err := repo.DocumentTypes(c.Request().Context())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, nonNil(values))
	}
}

func CentresHandler(repo *kpi.Repository) echo.HandlerFunc {
	return func(c echo.Context) error {
		values, err := repo.Centres(c.Request().Context())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, nonNil(values))
	}
}

// CentreDetailsHandler answers 404 when no centre carries the name.
func CentreDetailsHandler(repo *kpi.Repository) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := c.Param("name")
		details, err := repo.CentreDetails(c.Request().Context(), name)
		if err != nil {
			return err
		}
		if len(details) == 0 {
			return echo.NewHTTPError(http.StatusNotFound, "centre not found: "+name)
		}
		return c.JSON(http.StatusOK, details)
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
