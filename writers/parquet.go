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

package writers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/aaronlmathis/callstream/core"
)

// Package writers provides core.DataSink implementations used to export call count snapshots.
//
// This file implements a Parquet writer with a fixed Arrow schema, batching, compression and statistics.

// ParquetWriterError wraps Parquet-specific write errors with context about the operation.
type ParquetWriterError struct {
	Op  string
	Err error
}

func (e *ParquetWriterError) Error() string {
	return fmt.Sprintf("parquet writer %s: %v", e.Op, e.Err)
}

func (e *ParquetWriterError) Unwrap() error {
	return e.Err
}

// SnapshotSchema is the schema of an exported call count table.
var SnapshotSchema = arrow.NewSchema([]arrow.Field{
	{Name: core.FieldCall, Type: arrow.BinaryTypes.String},
	{Name: core.FieldCount, Type: arrow.PrimitiveTypes.Int64},
}, nil)

// CallRecordSchema is the schema of a call-detail log.
var CallRecordSchema = arrow.NewSchema([]arrow.Field{
	{Name: core.FieldFrom, Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: core.FieldTo, Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: core.FieldDuration, Type: arrow.PrimitiveTypes.Int64, Nullable: true},
}, nil)

// WriterStats holds statistics about the Parquet writer's performance.
type WriterStats struct {
	RecordsWritten  int64
	BatchesWritten  int64
	FlushDuration   time.Duration
	LastFlushTime   time.Time
	NullValueCounts map[string]int64
}

// ParquetWriterOptions configures the Parquet writer.
type ParquetWriterOptions struct {
	BatchSize   int64                // Number of records to buffer before writing a row group
	Schema      *arrow.Schema        // Output schema
	Compression compress.Compression // Compression algorithm
}

// WriterOption represents a configuration function for ParquetWriterOptions.
type WriterOption func(*ParquetWriterOptions)

// WithBatchSize sets the number of records to buffer before writing a batch.
func WithBatchSize(size int64) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.BatchSize = size
	}
}

// WithCompression sets the Parquet compression algorithm.
func WithCompression(compression compress.Compression) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.Compression = compression
	}
}

// WithSchema replaces the default snapshot schema.
// Only string, int64 and float64 columns are supported.
func WithSchema(schema *arrow.Schema) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.Schema = schema
	}
}

func (opts *ParquetWriterOptions) withDefaults() {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.Schema == nil {
		opts.Schema = SnapshotSchema
	}
}

// ParquetWriter implements core.DataSink for Parquet files.
type ParquetWriter struct {
	mu           sync.Mutex
	writer       *pqarrow.FileWriter
	builder      *array.RecordBuilder
	schema       *arrow.Schema
	recordBuffer []core.Record
	stats        WriterStats
	opts         *ParquetWriterOptions
	closed       bool
	errorState   bool
}

// NewParquetWriter creates filename (and its parent directories) and prepares an Arrow file writer.
func NewParquetWriter(filename string, options ...WriterOption) (*ParquetWriter, error) {
	opts := &ParquetWriterOptions{Compression: compress.Codecs.Snappy}
	for _, option := range options {
		option(opts)
	}
	opts.withDefaults()

	for _, field := range opts.Schema.Fields() {
		switch field.Type.ID() {
		case arrow.STRING, arrow.INT64, arrow.FLOAT64:
		default:
			return nil, &ParquetWriterError{Op: "schema", Err: fmt.Errorf("unsupported type %s for field %s", field.Type, field.Name)}
		}
	}

	if dir := filepath.Dir(filename); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &ParquetWriterError{Op: "create_directory", Err: fmt.Errorf("failed to create directory %s: %w", dir, err)}
		}
	}

	file, err := os.Create(filename)
	if err != nil {
		return nil, &ParquetWriterError{Op: "open_file", Err: fmt.Errorf("failed to create parquet file %s: %w", filename, err)}
	}

	props := parquet.NewWriterProperties(parquet.WithCompression(opts.Compression))
	fw, err := pqarrow.NewFileWriter(opts.Schema, file, props, pqarrow.DefaultWriterProps())
	if err != nil {
		file.Close()
		return nil, &ParquetWriterError{Op: "create_writer", Err: err}
	}

	return &ParquetWriter{
		writer:       fw,
		builder:      array.NewRecordBuilder(memory.NewGoAllocator(), opts.Schema),
		schema:       opts.Schema,
		recordBuffer: make([]core.Record, 0, opts.BatchSize),
		stats:        WriterStats{NullValueCounts: make(map[string]int64)},
		opts:         opts,
	}, nil
}

// Stats returns the current statistics of the Parquet writer.
func (p *ParquetWriter) Stats() WriterStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := p.stats
	stats.NullValueCounts = make(map[string]int64, len(p.stats.NullValueCounts))
	for k, v := range p.stats.NullValueCounts {
		stats.NullValueCounts[k] = v
	}
	return stats
}

// Write implements the core.DataSink interface. Records are buffered and written in batches.
func (p *ParquetWriter) Write(ctx context.Context, record core.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return &ParquetWriterError{Op: "write", Err: fmt.Errorf("parquet writer is closed")}
	}
	if p.errorState {
		return &ParquetWriterError{Op: "write", Err: fmt.Errorf("writer is in error state")}
	}
	if err := ctx.Err(); err != nil {
		return &ParquetWriterError{Op: "write", Err: err}
	}

	p.recordBuffer = append(p.recordBuffer, record)
	p.stats.RecordsWritten++

	if int64(len(p.recordBuffer)) >= p.opts.BatchSize {
		if err := p.flushBatch(); err != nil {
			p.errorState = true
			return err
		}
	}
	return nil
}

// Flush implements the core.DataSink interface.
func (p *ParquetWriter) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	return p.flushBatch()
}

// Close flushes buffered records and closes the file.
func (p *ParquetWriter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var flushErr error
	if !p.errorState {
		flushErr = p.flushBatch()
	}
	p.builder.Release()

	if err := p.writer.Close(); err != nil {
		return &ParquetWriterError{Op: "close_writer", Err: fmt.Errorf("failed to close parquet writer: %w", err)}
	}
	return flushErr
}

// flushBatch writes buffered records as one Arrow record batch (must hold mutex).
func (p *ParquetWriter) flushBatch() error {
	if len(p.recordBuffer) == 0 {
		return nil
	}
	start := time.Now()

	for _, record := range p.recordBuffer {
		for i, field := range p.schema.Fields() {
			if err := p.appendValue(p.builder.Field(i), field, record[field.Name]); err != nil {
				return &ParquetWriterError{Op: "append_value", Err: err}
			}
		}
	}

	batch := p.builder.NewRecord()
	defer batch.Release()

	if err := p.writer.Write(batch); err != nil {
		return &ParquetWriterError{Op: "write_batch", Err: fmt.Errorf("failed to write record batch: %w", err)}
	}

	p.stats.BatchesWritten++
	p.stats.FlushDuration += time.Since(start)
	p.stats.LastFlushTime = time.Now()
	p.recordBuffer = p.recordBuffer[:0]
	return nil
}

func (p *ParquetWriter) appendValue(builder array.Builder, field arrow.Field, value interface{}) error {
	if ptr, ok := value.(*int64); ok {
		if ptr == nil {
			value = nil
		} else {
			value = *ptr
		}
	}
	if value == nil {
		p.stats.NullValueCounts[field.Name]++
		builder.AppendNull()
		return nil
	}

	switch b := builder.(type) {
	case *array.StringBuilder:
		s, ok := value.(string)
		if !ok {
			s = fmt.Sprintf("%v", value)
		}
		b.Append(s)
	case *array.Int64Builder:
		switch v := value.(type) {
		case int:
			b.Append(int64(v))
		case int32:
			b.Append(int64(v))
		case int64:
			b.Append(v)
		default:
			return fmt.Errorf("field %s: cannot write %T as int64", field.Name, value)
		}
	case *array.Float64Builder:
		switch v := value.(type) {
		case float64:
			b.Append(v)
		case int:
			b.Append(float64(v))
		case int64:
			b.Append(float64(v))
		default:
			return fmt.Errorf("field %s: cannot write %T as float64", field.Name, value)
		}
	default:
		return fmt.Errorf("field %s: unsupported builder %T", field.Name, builder)
	}
	return nil
}
