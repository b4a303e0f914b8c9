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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aaronlmathis/callstream/core"
)

// JSONWriterError wraps JSON-specific write errors with context.
type JSONWriterError struct {
	Op  string
	Err error
}

func (e *JSONWriterError) Error() string {
	return fmt.Sprintf("json writer %s: %v", e.Op, e.Err)
}

func (e *JSONWriterError) Unwrap() error {
	return e.Err
}

// JSONWriterStats holds JSON write statistics.
type JSONWriterStats struct {
	RecordsWritten  int64
	FlushCount      int64
	FlushDuration   time.Duration
	LastFlushTime   time.Time
	NullValueCounts map[string]int64
}

// JSONWriterOptions configures JSON lines output.
type JSONWriterOptions struct {
	BatchSize    int  // Records buffered before an automatic flush; 0 flushes only on Flush/Close
	FlushOnWrite bool // Flush after every record
}

// WriterOptionJSON is a functional option.
type WriterOptionJSON func(*JSONWriterOptions)

func WithJSONBatchSize(size int) WriterOptionJSON {
	return func(opts *JSONWriterOptions) {
		opts.BatchSize = size
	}
}

func WithFlushOnWrite(enabled bool) WriterOptionJSON {
	return func(opts *JSONWriterOptions) {
		opts.FlushOnWrite = enabled
	}
}

// JSONWriter implements DataSink for line-delimited JSON output.
type JSONWriter struct {
	mu      sync.Mutex
	buf     *bufio.Writer
	closer  io.Closer
	opts    JSONWriterOptions
	pending int
	stats   JSONWriterStats
	closed  bool
}

// NewJSONWriter creates a new JSON writer for line-delimited JSON output
func NewJSONWriter(w io.WriteCloser, opts ...WriterOptionJSON) *JSONWriter {
	options := JSONWriterOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return &JSONWriter{
		buf:    bufio.NewWriter(w),
		closer: w,
		opts:   options,
		stats:  JSONWriterStats{NullValueCounts: make(map[string]int64)},
	}
}

// Write implements the DataSink interface
func (j *JSONWriter) Write(ctx context.Context, record core.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return &JSONWriterError{Op: "write", Err: fmt.Errorf("writer is closed")}
	}
	if err := ctx.Err(); err != nil {
		return &JSONWriterError{Op: "write", Err: err}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return &JSONWriterError{Op: "marshal", Err: err}
	}
	if _, err := j.buf.Write(append(data, '\n')); err != nil {
		return &JSONWriterError{Op: "write", Err: err}
	}

	for k, v := range record {
		if v == nil {
			j.stats.NullValueCounts[k]++
		}
	}
	j.stats.RecordsWritten++
	j.pending++

	if j.opts.FlushOnWrite || (j.opts.BatchSize > 0 && j.pending >= j.opts.BatchSize) {
		return j.flushUnsafe()
	}
	return nil
}

// Flush implements the DataSink interface
func (j *JSONWriter) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	return j.flushUnsafe()
}

// Close implements the DataSink interface
func (j *JSONWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true

	if err := j.flushUnsafe(); err != nil {
		j.closer.Close()
		return err
	}
	if err := j.closer.Close(); err != nil {
		return &JSONWriterError{Op: "close", Err: err}
	}
	return nil
}

// Stats returns write statistics.
func (j *JSONWriter) Stats() JSONWriterStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	stats := j.stats
	stats.NullValueCounts = make(map[string]int64, len(j.stats.NullValueCounts))
	for k, v := range j.stats.NullValueCounts {
		stats.NullValueCounts[k] = v
	}
	return stats
}

func (j *JSONWriter) flushUnsafe() error {
	if j.pending == 0 && j.buf.Buffered() == 0 {
		return nil
	}
	start := time.Now()
	if err := j.buf.Flush(); err != nil {
		return &JSONWriterError{Op: "flush", Err: err}
	}
	j.pending = 0
	j.stats.FlushCount++
	j.stats.FlushDuration += time.Since(start)
	j.stats.LastFlushTime = time.Now()
	return nil
}
