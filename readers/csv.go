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
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aaronlmathis/callstream/core"
)

// CSVReaderError wraps structured error information for the CSV reader.
type CSVReaderError struct {
	Op  string
	Err error
}

func (e *CSVReaderError) Error() string {
	return fmt.Sprintf("csv reader %s: %v", e.Op, e.Err)
}

func (e *CSVReaderError) Unwrap() error {
	return e.Err
}

// CSVReaderStats holds statistics about the CSV reader.
type CSVReaderStats struct {
	RecordsRead    int64
	ShortRows      int64 // rows missing at least one call-record column
	EmptyDurations int64
	LastReadTime   time.Time
}

// CSVReaderOptions configures the CSV reader.
type CSVReaderOptions struct {
	Comma      rune
	HasHeaders bool
}

// ReaderOptionCSV allows functional customization of CSVReader.
type ReaderOptionCSV func(*CSVReaderOptions)

func WithCSVComma(r rune) ReaderOptionCSV {
	return func(o *CSVReaderOptions) { o.Comma = r }
}

// WithCSVHasHeaders controls whether the first row names the columns. Without a header
// the columns are read positionally as caller, callee and duration.
func WithCSVHasHeaders(hasHeaders bool) ReaderOptionCSV {
	return func(o *CSVReaderOptions) { o.HasHeaders = hasHeaders }
}

// callColumns is the positional layout of a headerless call log.
var callColumns = []string{core.FieldFrom, core.FieldTo, core.FieldDuration}

// CSVReader implements DataSource for CSV call logs.
// Only the caller, callee and duration columns are read. Endpoint cells are kept
// verbatim, the empty string included; an empty duration cell becomes nil.
type CSVReader struct {
	reader  *csv.Reader
	closer  io.Closer
	columns map[string]int // call-record field -> cell index
	stats   CSVReaderStats
}

// NewCSVReader creates a CSVReader with default or overridden options.
func NewCSVReader(r io.ReadCloser, options ...ReaderOptionCSV) (*CSVReader, error) {
	opts := CSVReaderOptions{Comma: ',', HasHeaders: true}
	for _, opt := range options {
		opt(&opts)
	}

	csvReader := csv.NewReader(r)
	csvReader.Comma = opts.Comma
	csvReader.FieldsPerRecord = -1

	reader := &CSVReader{
		reader:  csvReader,
		closer:  r,
		columns: make(map[string]int, len(callColumns)),
	}

	if !opts.HasHeaders {
		for i, field := range callColumns {
			reader.columns[field] = i
		}
		return reader, nil
	}

	headers, err := csvReader.Read()
	if err != nil {
		return nil, &CSVReaderError{Op: "read_headers", Err: err}
	}
	for i, name := range headers {
		name = strings.TrimSpace(name)
		for _, field := range callColumns {
			if name == field {
				reader.columns[field] = i
			}
		}
	}
	return reader, nil
}

// Read implements the DataSource interface. A row that lacks an endpoint column
// yields a record without that field, which fails validation downstream.
func (c *CSVReader) Read(ctx context.Context) (core.Record, error) {
	select {
	case <-ctx.Done():
		return nil, &CSVReaderError{Op: "read", Err: ctx.Err()}
	default:
	}

	row, err := c.reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &CSVReaderError{Op: "read_record", Err: err}
	}

	res := make(core.Record, len(c.columns))
	short := false
	for field, idx := range c.columns {
		if idx >= len(row) {
			short = true
			continue
		}
		if field == core.FieldDuration {
			res[field] = c.parseDuration(row[idx])
			continue
		}
		res[field] = row[idx]
	}
	if short || len(c.columns) < len(callColumns) {
		c.stats.ShortRows++
	}

	c.stats.RecordsRead++
	c.stats.LastReadTime = time.Now()
	return res, nil
}

// Close implements the DataSource interface.
func (c *CSVReader) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// Stats returns CSV reader stats.
func (c *CSVReader) Stats() CSVReaderStats {
	return c.stats
}

// parseDuration returns nil for an empty cell, an int for whole seconds and the raw
// text otherwise.
func (c *CSVReader) parseDuration(cell string) interface{} {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		c.stats.EmptyDurations++
		return nil
	}
	if n, err := strconv.Atoi(cell); err == nil {
		return n
	}
	return cell
}
