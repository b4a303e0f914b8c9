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

import "context"

// Package core defines the core types for the CallStream library.
//
// CallStream is a small micro-batch stream topology for call-detail records: records flow from a
// spout through per-tuple operations into a queryable aggregate state.
//
// This file contains the primary types and function adapters.

// Record represents a single tuple in the stream.
// Each record is a map from field names to values, supporting heterogeneous data.
type Record map[string]interface{}

// Standard field names carried by call-detail records.
const (
	FieldFrom     = "fromMobileNumber"
	FieldTo       = "toMobileNumber"
	FieldDuration = "duration"
	FieldCall     = "call"
	FieldCount    = "count"
	FieldArgs     = "args"
	FieldSum      = "sum"
)

// CallRecord is the typed form of a call-detail record.
type CallRecord struct {
	From     string
	To       string
	Duration int
}

// Record converts the call into a stream tuple.
func (c CallRecord) Record() Record {
	return Record{
		FieldFrom:     c.From,
		FieldTo:       c.To,
		FieldDuration: c.Duration,
	}
}

// TransformFunc is a function adapter for the Transformer interface.
// Allows ordinary functions to be used as Transformers.
type TransformFunc func(ctx context.Context, record Record) (Record, error)

// Transform implements the Transformer interface for TransformFunc.
func (f TransformFunc) Transform(ctx context.Context, record Record) (Record, error) {
	return f(ctx, record)
}

// FilterFunc is a function adapter for the Filter interface.
// Allows ordinary functions to be used as Filters.
type FilterFunc func(ctx context.Context, record Record) (bool, error)

// ShouldInclude implements the Filter interface for FilterFunc.
func (f FilterFunc) ShouldInclude(ctx context.Context, record Record) (bool, error) {
	return f(ctx, record)
}
