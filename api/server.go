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

// server.go - KPI HTTP API
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/aaronlmathis/servicedw/kpi"
)

// ErrorBody is the JSON document returned for every failed request.
type ErrorBody struct {
	Error string `json:"error"`
	KPI   string `json:"kpi,omitempty"`
}

// KPIResponse carries the rows of one catalog entry.
type KPIResponse struct {
	KPI    string        `json:"kpi"`
	Title  string        `json:"title"`
	Filter kpi.Filter    `json:"filter"`
	Rows   []interface{} `json:"rows"`
}

// Server wraps the echo instance serving the KPI catalog.
type Server struct {
	echo            *echo.Echo
	svc             *kpi.Service
	logger          *zap.Logger
	shutdownTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for requests and errors.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithShutdownTimeout bounds the graceful shutdown in Start.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// New builds the server and registers its routes.
func New(svc *kpi.Service, opts ...Option) *Server {
	s := &Server{
		svc:             svc,
		logger:          zap.L().Named("api"),
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			s.logger.Info("request", fields...)
			return nil
		},
	}))

	e.GET("/health", HealthHandler())
	e.GET("/kpi", CatalogHandler())
	e.GET("/kpi/summary", SummaryHandler(svc))
	e.GET("/kpi/:name", KPIHandler(svc))
	e.GET("/regions", RegionsHandler(svc.Repository()))
	e.GET("/prefectures", PrefecturesHandler(svc.Repository()))
	e.GET("/document-types", DocumentTypesHandler(svc.Repository()))
	e.GET("/centres", CentresHandler(svc.Repository()))
	e.GET("/centres/:name", CentreDetailsHandler(svc.Repository()))

	s.echo = e
	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	body := ErrorBody{Error: http.StatusText(code)}

	var he *echo.HTTPError
	var ke *kpi.KPIError
	if errors.As(err, &ke) {
		body.KPI = ke.KPI
	}
	switch {
	case errors.As(err, &he):
		code = he.Code
		body.Error = http.StatusText(code)
		if msg, ok := he.Message.(string); ok {
			body.Error = msg
		}
	case errors.Is(err, kpi.ErrUnknownKPI):
		code = http.StatusNotFound
		body.Error = err.Error()
	case ke != nil:
		body.Error = "kpi " + ke.Op + " failed"
	}

	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", code),
			zap.Error(err),
		)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, body)
	}
	if err != nil {
		s.logger.Warn("writing error response", zap.Error(err))
	}
}
