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

package servicedw

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aaronlmathis/servicedw/core"
	"go.uber.org/zap"
)

// Package servicedw cleans public-service extracts, loads them into a
// PostgreSQL warehouse and serves KPI queries over the result.
//
// The Pipeline type ties the pieces together for one dataset:
//
//   p, err := servicedw.NewPipeline().
//       From(csvReader).
//       Transform(transform.TrimSpace("region")).
//       Batch(cleaning.NewRequestsCleaner(audit)).
//       To(csvWriter).
//       WithErrorStrategy(core.SkipErrors).
//       Build()
//   if err != nil { return err }
//   stats, err := p.Execute(ctx)
//
// Record-level stages stream; batch stages buffer the whole dataset first.

// PipelineStats summarizes one Execute call.
type PipelineStats struct {
	RecordsRead     int64
	RecordsFiltered int64
	RecordsWritten  int64
	Errors          []error
}

// PipelineBuilder provides a fluent API for constructing pipelines.
type PipelineBuilder struct {
	pipeline *Pipeline
}

// NewPipeline creates a new PipelineBuilder.
func NewPipeline() *PipelineBuilder {
	return &PipelineBuilder{
		pipeline: &Pipeline{
			transformers: make([]core.Transformer, 0),
			filters:      make([]core.Filter, 0),
			batches:      make([]core.BatchTransformer, 0),
			strategy:     core.FailFast,
			logger:       zap.L().Named("pipeline"),
		},
	}
}

// From sets the DataSource for the pipeline.
func (pb *PipelineBuilder) From(source core.DataSource) *PipelineBuilder {
	pb.pipeline.source = source
	return pb
}

// Transform adds a record-level Transformer.
func (pb *PipelineBuilder) Transform(transformer core.Transformer) *PipelineBuilder {
	pb.pipeline.transformers = append(pb.pipeline.transformers, transformer)
	return pb
}

// Filter adds a record-level Filter.
func (pb *PipelineBuilder) Filter(filter core.Filter) *PipelineBuilder {
	pb.pipeline.filters = append(pb.pipeline.filters, filter)
	return pb
}

// Map adds a transformation given as a plain function.
func (pb *PipelineBuilder) Map(fn func(ctx context.Context, record core.Record) (core.Record, error)) *PipelineBuilder {
	return pb.Transform(core.TransformFunc(fn))
}

// Where adds a filtering condition given as a plain function.
func (pb *PipelineBuilder) Where(fn func(ctx context.Context, record core.Record) (bool, error)) *PipelineBuilder {
	return pb.Filter(core.FilterFunc(fn))
}

// Batch adds a dataset-level stage. Batch stages run in order after every
// record has passed the record-level stages.
func (pb *PipelineBuilder) Batch(stage core.BatchTransformer) *PipelineBuilder {
	pb.pipeline.batches = append(pb.pipeline.batches, stage)
	return pb
}

// To sets the DataSink for the pipeline.
func (pb *PipelineBuilder) To(sink core.DataSink) *PipelineBuilder {
	pb.pipeline.sink = sink
	return pb
}

// WithErrorStrategy sets how record-level errors are handled.
func (pb *PipelineBuilder) WithErrorStrategy(strategy core.ErrorStrategy) *PipelineBuilder {
	pb.pipeline.strategy = strategy
	return pb
}

// WithErrorHandler sets a custom error handler used by SkipErrors and CollectErrors.
func (pb *PipelineBuilder) WithErrorHandler(handler core.ErrorHandler) *PipelineBuilder {
	pb.pipeline.errorHandler = handler
	return pb
}

// WithLogger replaces the default named logger.
func (pb *PipelineBuilder) WithLogger(logger *zap.Logger) *PipelineBuilder {
	if logger != nil {
		pb.pipeline.logger = logger
	}
	return pb
}

// Build validates and returns the Pipeline.
func (pb *PipelineBuilder) Build() (*Pipeline, error) {
	if pb.pipeline.source == nil {
		return nil, fmt.Errorf("pipeline requires a data source")
	}
	if pb.pipeline.sink == nil {
		return nil, fmt.Errorf("pipeline requires a data sink")
	}
	return pb.pipeline, nil
}

// Pipeline moves records from one source to one sink.
type Pipeline struct {
	transformers []core.Transformer
	filters      []core.Filter
	batches      []core.BatchTransformer
	source       core.DataSource
	sink         core.DataSink
	strategy     core.ErrorStrategy
	errorHandler core.ErrorHandler
	logger       *zap.Logger

	mu    sync.Mutex
	stats PipelineStats
}

// Execute runs the pipeline to completion. The source and sink are always
// closed, and a sink flush or close failure is reported when nothing else failed.
func (p *Pipeline) Execute(ctx context.Context) (stats PipelineStats, err error) {
	defer func() {
		p.source.Close()
		if cerr := p.sink.Close(); cerr != nil && err == nil {
			err = cerr
		}
		stats = p.Stats()
	}()

	var buffered []core.Record

	for {
		select {
		case <-ctx.Done():
			return p.Stats(), ctx.Err()
		default:
		}

		record, rerr := p.source.Read(ctx)
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			if herr := p.handleError(ctx, record, rerr); herr != nil {
				return p.Stats(), herr
			}
			continue
		}
		if len(record) == 0 {
			continue
		}
		p.count(func(s *PipelineStats) { s.RecordsRead++ })

		transformed, terr := p.applyTransformations(ctx, record)
		if terr != nil {
			if herr := p.handleError(ctx, record, terr); herr != nil {
				return p.Stats(), herr
			}
			continue
		}
		if len(transformed) == 0 {
			continue
		}

		include, ferr := p.applyFilters(ctx, transformed)
		if ferr != nil {
			if herr := p.handleError(ctx, record, ferr); herr != nil {
				return p.Stats(), herr
			}
			continue
		}
		if !include {
			p.count(func(s *PipelineStats) { s.RecordsFiltered++ })
			continue
		}

		if len(p.batches) > 0 {
			buffered = append(buffered, transformed)
			continue
		}
		if werr := p.write(ctx, transformed); werr != nil {
			return p.Stats(), werr
		}
	}

	if len(p.batches) == 0 {
		return p.Stats(), p.sink.Flush()
	}

	out := buffered
	for _, stage := range p.batches {
		next, berr := stage.TransformBatch(ctx, out)
		if berr != nil {
			return p.Stats(), fmt.Errorf("batch stage: %w", berr)
		}
		out = next
	}
	p.logger.Debug("batch stages done",
		zap.Int("records_in", len(buffered)),
		zap.Int("records_out", len(out)))

	for _, record := range out {
		if werr := p.write(ctx, record); werr != nil {
			return p.Stats(), werr
		}
	}
	return p.Stats(), p.sink.Flush()
}

// Stats returns a copy of the running statistics.
func (p *Pipeline) Stats() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.stats
	out.Errors = append([]error(nil), p.stats.Errors...)
	return out
}

func (p *Pipeline) count(fn func(*PipelineStats)) {
	p.mu.Lock()
	fn(&p.stats)
	p.mu.Unlock()
}

func (p *Pipeline) write(ctx context.Context, record core.Record) error {
	if err := p.sink.Write(ctx, record); err != nil {
		if herr := p.handleError(ctx, record, err); herr != nil {
			return herr
		}
		return nil
	}
	p.count(func(s *PipelineStats) { s.RecordsWritten++ })
	return nil
}

func (p *Pipeline) applyFilters(ctx context.Context, record core.Record) (bool, error) {
	for _, filter := range p.filters {
		include, err := filter.ShouldInclude(ctx, record)
		if err != nil {
			return false, err
		}
		if !include {
			return false, nil
		}
	}
	return true, nil
}

func (p *Pipeline) applyTransformations(ctx context.Context, record core.Record) (core.Record, error) {
	current := record
	for _, transformer := range p.transformers {
		transformed, err := transformer.Transform(ctx, current)
		if err != nil {
			return nil, err
		}
		current = transformed
	}
	return current, nil
}

func (p *Pipeline) handleError(ctx context.Context, record core.Record, err error) error {
	switch p.strategy {
	case core.SkipErrors:
		p.logger.Warn("record skipped", zap.Error(err))
	case core.CollectErrors:
		p.count(func(s *PipelineStats) { s.Errors = append(s.Errors, err) })
	default:
		return err
	}
	if p.errorHandler != nil {
		return p.errorHandler.HandleError(ctx, record, err)
	}
	return nil
}
