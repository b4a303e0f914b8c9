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

package topology

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/aaronlmathis/callstream"
	"github.com/aaronlmathis/callstream/core"
	"github.com/aaronlmathis/callstream/drpc"
	"github.com/aaronlmathis/callstream/state"
)

// Package topology wires spouts, per-tuple operations and persistent state into runnable streams,
// and exposes that state to DRPC queries.

// Options configures a Topology.
type Options struct {
	BatchSize     int
	Logger        *slog.Logger
	ErrorStrategy core.ErrorStrategy
	ErrorHandler  core.ErrorHandler
}

// Option represents a configuration function for Topology.
type Option func(*Options)

// WithBatchSize sets the number of records per micro-batch.
func WithBatchSize(size int) Option {
	return func(o *Options) {
		o.BatchSize = size
	}
}

// WithLogger sets the logger passed to every stream.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithErrorStrategy sets how streams react to per-record failures.
func WithErrorStrategy(strategy core.ErrorStrategy) Option {
	return func(o *Options) {
		o.ErrorStrategy = strategy
	}
}

// WithErrorHandler sets the handler invoked for skipped or collected record failures.
func WithErrorHandler(handler core.ErrorHandler) Option {
	return func(o *Options) {
		o.ErrorHandler = handler
	}
}

func (o *Options) withDefaults() {
	if o.BatchSize == 0 {
		o.BatchSize = callstream.DefaultBatchSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Topology is a set of streams run together.
type Topology struct {
	opts    Options
	streams []*Stream
}

// New creates an empty topology.
func New(opts ...Option) *Topology {
	options := Options{}
	for _, opt := range opts {
		opt(&options)
	}
	options.withDefaults()
	return &Topology{opts: options}
}

// NewStream starts a stream reading from source.
func (t *Topology) NewStream(name string, source core.DataSource) *Stream {
	s := &Stream{topology: t, name: name, source: source}
	t.streams = append(t.streams, s)
	return s
}

// NewDRPCStream registers a query function against client.
func (t *Topology) NewDRPCStream(function string, client *drpc.Local, handler drpc.Handler) error {
	if err := client.Register(function, handler); err != nil {
		return fmt.Errorf("drpc stream %s: %w", function, err)
	}
	t.opts.Logger.Debug("drpc stream registered", "function", function)
	return nil
}

// Run executes every stream until its source is exhausted or ctx is cancelled.
// The first stream error cancels the others.
func (t *Topology) Run(ctx context.Context) error {
	pipelines := make([]*callstream.Pipeline, 0, len(t.streams))
	for _, s := range t.streams {
		p, err := s.build()
		if err != nil {
			return fmt.Errorf("stream %s: %w", s.name, err)
		}
		pipelines = append(pipelines, p)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, p := range pipelines {
		name := t.streams[i].name
		p := p
		g.Go(func() error {
			t.opts.Logger.Info("stream started", "stream", name)
			if err := p.Execute(ctx); err != nil {
				return fmt.Errorf("stream %s: %w", name, err)
			}
			stats := p.Stats()
			t.opts.Logger.Info("stream finished",
				"stream", name,
				"records", stats.RecordsRead,
				"batches", stats.Batches,
				"failed", stats.RecordsFailed)
			return nil
		})
	}
	return g.Wait()
}

// Stream is an ordered chain of per-tuple operations over one source.
type Stream struct {
	topology *Topology
	name     string
	source   core.DataSource
	steps    []core.Transformer
	sink     core.DataSink
}

// Each applies transformer to every tuple.
func (s *Stream) Each(transformer core.Transformer) *Stream {
	s.steps = append(s.steps, transformer)
	return s
}

// Filter drops tuples that filter rejects. Steps run in the order they are added.
func (s *Stream) Filter(filter core.Filter) *Stream {
	s.steps = append(s.steps, filterStep(filter))
	return s
}

// GroupBy partitions each micro-batch by field.
func (s *Stream) GroupBy(field string) *GroupedStream {
	return &GroupedStream{stream: s, field: field}
}

// To ends the stream in an arbitrary sink.
func (s *Stream) To(sink core.DataSink) {
	s.sink = sink
}

func (s *Stream) build() (*callstream.Pipeline, error) {
	if s.sink == nil {
		return nil, fmt.Errorf("stream has no sink")
	}
	builder := callstream.NewPipeline().
		From(s.source).
		To(s.sink).
		WithBatchSize(s.topology.opts.BatchSize).
		WithErrorStrategy(s.topology.opts.ErrorStrategy).
		WithLogger(s.topology.opts.Logger.With("stream", s.name))
	if s.topology.opts.ErrorHandler != nil {
		builder = builder.WithErrorHandler(s.topology.opts.ErrorHandler)
	}
	for _, step := range s.steps {
		builder = builder.Transform(step)
	}
	return builder.Build()
}

// filterStep turns a filter into a transformer; a rejected tuple becomes an empty record,
// which the pipeline counts as filtered.
func filterStep(filter core.Filter) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		include, err := filter.ShouldInclude(ctx, record)
		if err != nil {
			return nil, err
		}
		if !include {
			return core.Record{}, nil
		}
		return record, nil
	})
}

// GroupedStream is a stream partitioned by a key field.
type GroupedStream struct {
	stream *Stream
	field  string
}

// PersistentAggregate counts tuples per group and commits each micro-batch into store.
func (g *GroupedStream) PersistentAggregate(store *state.CallCountStore) *state.CallCountStore {
	g.stream.To(NewStateUpdater(store, g.field, g.stream.topology.opts.Logger))
	return store
}
