//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of CallStream.
//
// CallStream is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// CallStream is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with CallStream. If not, see https://www.gnu.org/licenses/.

package callstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/aaronlmathis/callstream/core"
)

// Package callstream provides a small micro-batch stream library for call-detail records.
//
// Core Concepts:
//   - DataSource: a spout emitting records (feeder, CSV, Parquet, S3, MongoDB).
//   - Transformer: a per-tuple function applied with Each (e.g. FormatCall).
//   - Filter: a per-tuple predicate (e.g. FilterNull, Debug).
//   - DataSink: the end of a stream. Every Flush closes one micro-batch.
//   - Pipeline: the record loop binding a source to a sink.
//
// Example usage:
//
//   pipeline, err := callstream.NewPipeline().
//       From(feeder).
//       Transform(transform.FormatCall(core.FieldFrom, core.FieldTo, core.FieldCall)).
//       To(stateUpdater).
//       WithBatchSize(4).
//       Build()
//   if err != nil { log.Fatal(err) }
//   if err := pipeline.Execute(ctx); err != nil { log.Fatal(err) }

// DefaultBatchSize is the number of records per micro-batch when none is configured.
const DefaultBatchSize = 100

// PipelineBuilder provides a fluent API for constructing pipelines.
// Use NewPipeline() to create a new builder, then chain From, Transform, Filter, To, and configuration methods.
type PipelineBuilder struct {
	pipeline *Pipeline
}

// NewPipeline creates a new PipelineBuilder.
func NewPipeline() *PipelineBuilder {
	return &PipelineBuilder{
		pipeline: &Pipeline{
			transformers: make([]core.Transformer, 0),
			filters:      make([]core.Filter, 0),
			strategy:     core.FailFast,
			batchSize:    DefaultBatchSize,
			logger:       slog.Default(),
		},
	}
}

// From sets the DataSource for the pipeline.
func (pb *PipelineBuilder) From(source core.DataSource) *PipelineBuilder {
	pb.pipeline.source = source
	return pb
}

// Transform adds a Transformer to the pipeline.
func (pb *PipelineBuilder) Transform(transformer core.Transformer) *PipelineBuilder {
	pb.pipeline.transformers = append(pb.pipeline.transformers, transformer)
	return pb
}

// Filter adds a Filter to the pipeline.
func (pb *PipelineBuilder) Filter(filter core.Filter) *PipelineBuilder {
	pb.pipeline.filters = append(pb.pipeline.filters, filter)
	return pb
}

// To sets the DataSink for the pipeline.
func (pb *PipelineBuilder) To(sink core.DataSink) *PipelineBuilder {
	pb.pipeline.sink = sink
	return pb
}

// WithBatchSize sets how many records are read before the sink is flushed.
func (pb *PipelineBuilder) WithBatchSize(size int) *PipelineBuilder {
	pb.pipeline.batchSize = size
	return pb
}

// WithErrorStrategy sets the error handling strategy for the pipeline.
func (pb *PipelineBuilder) WithErrorStrategy(strategy core.ErrorStrategy) *PipelineBuilder {
	pb.pipeline.strategy = strategy
	return pb
}

// WithErrorHandler sets a custom error handler for the pipeline.
func (pb *PipelineBuilder) WithErrorHandler(handler core.ErrorHandler) *PipelineBuilder {
	pb.pipeline.errorHandler = handler
	return pb
}

// WithLogger sets the logger used for batch and error events.
func (pb *PipelineBuilder) WithLogger(logger *slog.Logger) *PipelineBuilder {
	if logger != nil {
		pb.pipeline.logger = logger
	}
	return pb
}

// Build validates and constructs the Pipeline from the builder.
func (pb *PipelineBuilder) Build() (*Pipeline, error) {
	if pb.pipeline.source == nil {
		return nil, fmt.Errorf("pipeline requires a data source")
	}
	if pb.pipeline.sink == nil {
		return nil, fmt.Errorf("pipeline requires a data sink")
	}
	if pb.pipeline.batchSize <= 0 {
		return nil, fmt.Errorf("pipeline batch size must be positive, got %d", pb.pipeline.batchSize)
	}
	return pb.pipeline, nil
}

// PipelineStats holds counters for a pipeline run.
type PipelineStats struct {
	RecordsRead     int64
	RecordsWritten  int64
	RecordsFiltered int64
	RecordsFailed   int64
	Batches         int64
}

// Pipeline binds a DataSource to a DataSink through transformers and filters.
//
// Use Execute to drain the source. The sink is flushed every batchSize records and at end of input.
type Pipeline struct {
	transformers []core.Transformer
	filters      []core.Filter
	source       core.DataSource
	sink         core.DataSink
	strategy     core.ErrorStrategy
	errorHandler core.ErrorHandler
	batchSize    int
	logger       *slog.Logger

	mu      sync.Mutex
	stats   PipelineStats
	errs    []error
	pending int
}

// Execute runs the pipeline until the source returns io.EOF or ctx is cancelled.
// Source and sink are closed before returning.
func (p *Pipeline) Execute(ctx context.Context) (err error) {
	defer func() {
		if cerr := p.source.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close source: %w", cerr)
		}
		if cerr := p.sink.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close sink: %w", cerr)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		record, err := p.source.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := p.handleError(ctx, record, err); err != nil {
				return err
			}
			continue
		}

		p.addRead()
		if err := p.process(ctx, record); err != nil {
			return err
		}

		if p.pending >= p.batchSize {
			if err := p.flush(ctx); err != nil {
				return err
			}
		}
	}

	if p.pending > 0 {
		return p.flush(ctx)
	}
	return nil
}

// process applies transformers and filters to one record and writes the result.
func (p *Pipeline) process(ctx context.Context, record core.Record) error {
	p.pending++

	if len(record) == 0 {
		p.addFiltered()
		return nil
	}

	transformed, err := p.applyTransformations(ctx, record)
	if err != nil {
		return p.handleError(ctx, record, err)
	}
	if len(transformed) == 0 {
		p.addFiltered()
		return nil
	}

	include, err := p.applyFilters(ctx, transformed)
	if err != nil {
		return p.handleError(ctx, record, err)
	}
	if !include {
		p.addFiltered()
		return nil
	}

	if err := p.sink.Write(ctx, transformed); err != nil {
		return p.handleError(ctx, transformed, err)
	}
	p.mu.Lock()
	p.stats.RecordsWritten++
	p.mu.Unlock()
	return nil
}

// flush closes the current micro-batch on the sink.
func (p *Pipeline) flush(ctx context.Context) error {
	size := p.pending
	p.pending = 0
	var err error
	if cf, ok := p.sink.(core.ContextFlusher); ok {
		err = cf.FlushContext(ctx)
	} else {
		err = p.sink.Flush()
	}
	if err != nil {
		return fmt.Errorf("flush batch: %w", err)
	}
	p.mu.Lock()
	p.stats.Batches++
	batch := p.stats.Batches
	p.mu.Unlock()
	p.logger.Debug("batch flushed", "batch", batch, "records", size)
	return nil
}

// applyFilters applies all configured filters to a record.
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

// applyTransformations applies all configured transformers to a record in sequence.
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

// handleError handles errors according to the pipeline's error strategy and handler.
// Returns an error if processing should stop, or nil to continue.
func (p *Pipeline) handleError(ctx context.Context, record core.Record, err error) error {
	p.mu.Lock()
	p.stats.RecordsFailed++
	p.mu.Unlock()

	switch p.strategy {
	case core.FailFast:
		return err
	case core.SkipErrors, core.CollectErrors:
		p.logger.Warn("record skipped", "error", err)
		if p.strategy == core.CollectErrors {
			p.mu.Lock()
			p.errs = append(p.errs, err)
			p.mu.Unlock()
		}
		if p.errorHandler != nil {
			return p.errorHandler.HandleError(ctx, record, err)
		}
		return nil
	default:
		return err
	}
}

func (p *Pipeline) addRead() {
	p.mu.Lock()
	p.stats.RecordsRead++
	p.mu.Unlock()
}

func (p *Pipeline) addFiltered() {
	p.mu.Lock()
	p.stats.RecordsFiltered++
	p.mu.Unlock()
}

// Stats returns a copy of the pipeline counters.
func (p *Pipeline) Stats() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Errors returns the errors collected under CollectErrors.
func (p *Pipeline) Errors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]error, len(p.errs))
	copy(out, p.errs)
	return out
}
