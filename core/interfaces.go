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

package core

import (
	"context"
)

// This file contains the primary interfaces for spouts, sinks, transformation and filtering.

// DataSource defines the interface for a spout.
// Implementations stream records from a source (e.g., a feeder, CSV, Parquet, MongoDB).
type DataSource interface {
	// Read returns the next record or io.EOF when no more records are available.
	Read(ctx context.Context) (Record, error)
	// Close releases any resources held by the data source.
	Close() error
}

// DataSink defines the interface for the end of a stream.
// A sink may be a state updater (committing one micro-batch per Flush) or a snapshot writer.
type DataSink interface {
	// Write outputs a single record to the sink.
	Write(ctx context.Context, record Record) error
	// Flush ends the current batch and ensures all buffered data is written.
	Flush() error
	// Close releases any resources held by the data sink.
	Close() error
}

// ContextFlusher is implemented by sinks whose Flush does blocking work that should
// observe the stream's context. Pipelines call FlushContext instead of Flush when available.
type ContextFlusher interface {
	FlushContext(ctx context.Context) error
}

// Transformer defines the interface for per-tuple functions (Trident "each").
type Transformer interface {
	// Transform applies the transformation to a record and returns the result.
	Transform(ctx context.Context, record Record) (Record, error)
}

// Filter defines the interface for record filtering.
// Filters determine whether a record should continue down the stream.
type Filter interface {
	// ShouldInclude returns true if the record should be included in the output.
	ShouldInclude(ctx context.Context, record Record) (bool, error)
}
