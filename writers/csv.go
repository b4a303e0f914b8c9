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
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/aaronlmathis/callstream/core"
)

// CSVWriterError wraps CSV-specific write errors with context.
type CSVWriterError struct {
	Op  string
	Err error
}

func (e *CSVWriterError) Error() string {
	return fmt.Sprintf("csv writer %s: %v", e.Op, e.Err)
}

func (e *CSVWriterError) Unwrap() error {
	return e.Err
}

// CSVWriterStats holds snapshot write counters.
type CSVWriterStats struct {
	RowsWritten   int64
	UnknownCounts int64 // rows whose count was null
	FlushCount    int64
	LastFlushTime time.Time
}

// csvHeader is the fixed column order of a snapshot file.
var csvHeader = []string{core.FieldCall, core.FieldCount}

// CSVWriter writes {call, count} records as rows under a call,count header.
// The header is written even when the snapshot is empty.
type CSVWriter struct {
	mu          sync.Mutex
	writer      *csv.Writer
	closer      io.Closer
	wroteHeader bool
	stats       CSVWriterStats
}

// NewCSVWriter creates a snapshot writer over w. Close closes w.
func NewCSVWriter(w io.WriteCloser) *CSVWriter {
	return &CSVWriter{writer: csv.NewWriter(w), closer: w}
}

// Write buffers one snapshot row. The call field must be a string; a null count
// is written as an empty cell.
func (c *CSVWriter) Write(ctx context.Context, record core.Record) error {
	if err := ctx.Err(); err != nil {
		return &CSVWriterError{Op: "write", Err: err}
	}

	call, ok := record[core.FieldCall].(string)
	if !ok {
		return &CSVWriterError{Op: "write", Err: &core.InputError{
			Field: core.FieldCall,
			Err:   fmt.Errorf("expected string, got %T", record[core.FieldCall]),
		}}
	}
	count, known, err := formatCount(record[core.FieldCount])
	if err != nil {
		return &CSVWriterError{Op: "write", Err: &core.InputError{Field: core.FieldCount, Err: err}}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeHeaderLocked(); err != nil {
		return err
	}
	if err := c.writer.Write([]string{call, count}); err != nil {
		return &CSVWriterError{Op: "write_row", Err: err}
	}
	c.stats.RowsWritten++
	if !known {
		c.stats.UnknownCounts++
	}
	return nil
}

// Flush writes buffered rows to the underlying writer.
func (c *CSVWriter) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeHeaderLocked(); err != nil {
		return err
	}
	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		return &CSVWriterError{Op: "flush", Err: err}
	}
	c.stats.FlushCount++
	c.stats.LastFlushTime = time.Now()
	return nil
}

// Close flushes and closes the underlying writer.
func (c *CSVWriter) Close() error {
	if err := c.Flush(); err != nil {
		return err
	}
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// Stats returns write statistics.
func (c *CSVWriter) Stats() CSVWriterStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *CSVWriter) writeHeaderLocked() error {
	if c.wroteHeader {
		return nil
	}
	if err := c.writer.Write(csvHeader); err != nil {
		return &CSVWriterError{Op: "write_header", Err: err}
	}
	c.wroteHeader = true
	return nil
}

// formatCount renders a count cell. known is false for a null count.
func formatCount(value interface{}) (cell string, known bool, err error) {
	if n, ok := countValue(value); ok {
		return strconv.FormatInt(n, 10), true, nil
	}
	if p, isPtr := value.(*int64); value == nil || (isPtr && p == nil) {
		return "", false, nil
	}
	return "", false, fmt.Errorf("expected integer count, got %T", value)
}
