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

package filter

import (
	"context"
	"log/slog"

	"github.com/aaronlmathis/callstream/core"
)

// NotNull creates a filter that drops records whose field is missing or nil (Trident FilterNull).
// Typed nil pointers, as produced by a MapGet miss, also count as null.
func NotNull(field string) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		value, exists := record[field]
		if !exists || value == nil {
			return false, nil
		}
		if ptr, ok := value.(*int64); ok && ptr == nil {
			return false, nil
		}
		return true, nil
	})
}

// Debug creates a pass-through filter that logs the selected fields of every record at debug level.
// With no fields the whole record is logged.
func Debug(logger *slog.Logger, fields ...string) core.Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		if !logger.Enabled(ctx, slog.LevelDebug) {
			return true, nil
		}
		attrs := make([]any, 0, 2*len(record))
		if len(fields) == 0 {
			for k, v := range record {
				attrs = append(attrs, k, deref(v))
			}
		} else {
			for _, field := range fields {
				attrs = append(attrs, field, deref(record[field]))
			}
		}
		logger.DebugContext(ctx, "debug", attrs...)
		return true, nil
	})
}

func deref(value interface{}) interface{} {
	if ptr, ok := value.(*int64); ok {
		if ptr == nil {
			return nil
		}
		return *ptr
	}
	return value
}
