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

package transform

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/aaronlmathis/callstream/callkey"
	"github.com/aaronlmathis/callstream/core"
)

// Package transform provides the per-tuple functions applied with a stream's Each step.

// FormatCall creates a transformer that combines the two endpoint fields into a call key
// stored under outField. Records with a missing, null or non-string endpoint fail with
// core.ErrInvalidInput.
func FormatCall(fromField, toField, outField string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		key, err := callkey.FromRecord(record, fromField, toField)
		if err != nil {
			return nil, err
		}

		result := copyRecord(record, 1)
		result[outField] = key
		return result, nil
	})
}

// Select creates a transformer that keeps only the specified fields.
func Select(fields ...string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(fields))
		for _, field := range fields {
			if value, exists := record[field]; exists {
				result[field] = value
			}
		}
		return result, nil
	})
}

// ToString creates a transformer that converts the given fields to strings.
// Readers that infer types turn phone numbers into integers; this restores them.
func ToString(fields ...string) core.Transformer {
	return convertFields(reflect.TypeOf(""), fields...)
}

// ToInt creates a transformer that converts the given fields to int.
func ToInt(fields ...string) core.Transformer {
	return convertFields(reflect.TypeOf(0), fields...)
}

// TrimSpace creates a transformer that trims whitespace from the given string fields.
func TrimSpace(fields ...string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := copyRecord(record, 0)
		for _, field := range fields {
			if str, ok := record[field].(string); ok {
				result[field] = strings.TrimSpace(str)
			}
		}
		return result, nil
	})
}

func convertFields(targetType reflect.Type, fields ...string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := copyRecord(record, 0)
		for _, field := range fields {
			value, exists := record[field]
			if !exists || value == nil {
				continue
			}
			converted, err := convertValue(value, targetType)
			if err != nil {
				return nil, fmt.Errorf("failed to convert field %s: %w", field, err)
			}
			result[field] = converted
		}
		return result, nil
	})
}

func copyRecord(record core.Record, extra int) core.Record {
	result := make(core.Record, len(record)+extra)
	for k, v := range record {
		result[k] = v
	}
	return result
}

// convertValue converts a value to the specified reflect.Type for use in type conversion transformers.
func convertValue(value interface{}, targetType reflect.Type) (interface{}, error) {
	sourceValue := reflect.ValueOf(value)
	if sourceValue.Type() == targetType {
		return value, nil
	}

	switch targetType.Kind() {
	case reflect.String:
		if f, ok := value.(float64); ok && f == float64(int64(f)) {
			// JSON numbers decode as float64; keep integral ones free of exponents.
			return strconv.FormatInt(int64(f), 10), nil
		}
		return fmt.Sprintf("%v", value), nil
	case reflect.Int:
		return convertToInt(value)
	default:
		return nil, fmt.Errorf("unsupported target type: %s", targetType)
	}
}

// convertToInt attempts to convert a value to int.
func convertToInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case string:
		return strconv.Atoi(strings.TrimSpace(v))
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int", value)
	}
}
