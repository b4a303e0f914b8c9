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
package readers

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow/go/arrow/memory"
	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/parquet/file"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/aaronlmathis/callstream/core"
)

// ParquetReaderError provides structured error information for parquet reader operations
type ParquetReaderError struct {
	Op  string // Operation that failed (e.g., "open_file", "schema", "load_batch")
	Err error
}

func (e *ParquetReaderError) Error() string {
	return fmt.Sprintf("parquet reader %s: %v", e.Op, e.Err)
}

func (e *ParquetReaderError) Unwrap() error {
	return e.Err
}

// ParquetReaderStats holds counters for a Parquet call log.
type ParquetReaderStats struct {
	RecordsRead   int64
	BatchesRead   int64
	NullEndpoints int64
}

// ParquetReaderOptions configures the Parquet reader.
type ParquetReaderOptions struct {
	BatchSize int64 // rows decoded per Arrow batch
}

// ReaderOption represents a configuration function
type ReaderOption func(*ParquetReaderOptions)

// WithBatchSize sets the number of rows decoded per Arrow batch.
func WithBatchSize(size int64) ReaderOption {
	return func(opts *ParquetReaderOptions) {
		opts.BatchSize = size
	}
}

func (opts *ParquetReaderOptions) withDefaults() {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
}

// parquetColumn is one projected call-record column.
type parquetColumn struct {
	field    string
	endpoint bool
}

// ParquetReader implements DataSource for Parquet call logs. Only the caller, callee
// and duration columns are decoded. Both endpoint columns must be strings; duration is
// optional and must be an integer column when present.
type ParquetReader struct {
	fileHandle   *os.File
	recordReader pqarrow.RecordReader
	columns      []parquetColumn
	batch        arrow.Record
	row          int
	stats        ParquetReaderStats
}

// NewParquetReader opens a Parquet call log.
func NewParquetReader(filename string, options ...ReaderOption) (*ParquetReader, error) {
	opts := &ParquetReaderOptions{}
	for _, option := range options {
		option(opts)
	}
	opts.withDefaults()

	f, err := os.Open(filename)
	if err != nil {
		return nil, &ParquetReaderError{Op: "open_file", Err: err}
	}

	pr, err := file.NewParquetReader(f)
	if err != nil {
		f.Close()
		return nil, &ParquetReaderError{Op: "create_reader", Err: err}
	}

	arrowReader, err := pqarrow.NewFileReader(pr, pqarrow.ArrowReadProperties{BatchSize: opts.BatchSize}, memory.NewGoAllocator())
	if err != nil {
		f.Close()
		return nil, &ParquetReaderError{Op: "create_arrow_reader", Err: err}
	}

	schema, err := arrowReader.Schema()
	if err != nil {
		f.Close()
		return nil, &ParquetReaderError{Op: "schema", Err: err}
	}

	columns, indices, err := projectCallColumns(schema)
	if err != nil {
		f.Close()
		return nil, &ParquetReaderError{Op: "schema", Err: err}
	}

	recordReader, err := arrowReader.GetRecordReader(context.Background(), indices, nil)
	if err != nil {
		f.Close()
		return nil, &ParquetReaderError{Op: "create_record_reader", Err: err}
	}

	return &ParquetReader{
		fileHandle:   f,
		recordReader: recordReader,
		columns:      columns,
	}, nil
}

func projectCallColumns(schema *arrow.Schema) ([]parquetColumn, []int, error) {
	var (
		columns []parquetColumn
		indices []int
	)
	for _, field := range callColumns {
		found := schema.FieldIndices(field)
		endpoint := field != core.FieldDuration
		if len(found) == 0 {
			if endpoint {
				return nil, nil, fmt.Errorf("column %q not found", field)
			}
			continue
		}
		typ := schema.Field(found[0]).Type.ID()
		switch {
		case endpoint && typ != arrow.STRING && typ != arrow.LARGE_STRING:
			return nil, nil, fmt.Errorf("column %q must be a string, got %s", field, typ)
		case !endpoint && typ != arrow.INT32 && typ != arrow.INT64:
			return nil, nil, fmt.Errorf("column %q must be an integer, got %s", field, typ)
		}
		columns = append(columns, parquetColumn{field: field, endpoint: endpoint})
		indices = append(indices, found[0])
	}
	return columns, indices, nil
}

// Read returns the next call record, or io.EOF at the end of the file.
func (p *ParquetReader) Read(ctx context.Context) (core.Record, error) {
	select {
	case <-ctx.Done():
		return nil, &ParquetReaderError{Op: "read", Err: ctx.Err()}
	default:
	}

	if p.batch == nil || p.row >= int(p.batch.NumRows()) {
		if err := p.loadNextBatch(); err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, &ParquetReaderError{Op: "load_batch", Err: err}
		}
	}

	res := make(core.Record, len(p.columns))
	for i, col := range p.columns {
		value := cellValue(p.batch.Column(i), p.row)
		if value == nil && col.endpoint {
			p.stats.NullEndpoints++
		}
		res[col.field] = value
	}
	p.row++
	p.stats.RecordsRead++
	return res, nil
}

// Close releases the current batch and closes the file.
func (p *ParquetReader) Close() error {
	if p.batch != nil {
		p.batch.Release()
		p.batch = nil
	}
	if p.recordReader != nil {
		p.recordReader.Release()
		p.recordReader = nil
	}
	if p.fileHandle != nil {
		err := p.fileHandle.Close()
		p.fileHandle = nil
		return err
	}
	return nil
}

// Stats returns the reader counters.
func (p *ParquetReader) Stats() ParquetReaderStats {
	return p.stats
}

func (p *ParquetReader) loadNextBatch() error {
	if p.batch != nil {
		p.batch.Release()
		p.batch = nil
	}
	for {
		rec, err := p.recordReader.Read()
		if err != nil {
			return err
		}
		if rec == nil {
			return io.EOF
		}
		if rec.NumRows() == 0 {
			continue
		}
		rec.Retain()
		p.batch = rec
		p.row = 0
		p.stats.BatchesRead++
		return nil
	}
}

// cellValue converts one projected cell. Durations become int like the other readers.
func cellValue(col arrow.Array, row int) interface{} {
	if col.IsNull(row) {
		return nil
	}
	switch arr := col.(type) {
	case *array.String:
		return arr.Value(row)
	case *array.LargeString:
		return arr.Value(row)
	case *array.Int32:
		return int(arr.Value(row))
	case *array.Int64:
		return int(arr.Value(row))
	}
	return nil
}
