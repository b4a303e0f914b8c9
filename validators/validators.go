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

// Package validators implements per-record quality checks that run as a stream step.
package validators

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/aaronlmathis/callstream/core"
)

// FieldValidator defines validation rules for individual fields
type FieldValidator struct {
	Required      bool                            // Field must be present and non-nil
	DataType      FieldDataType                   // Expected data type
	Pattern       *regexp.Regexp                  // Regex pattern for string fields
	MinValue      interface{}                     // Minimum value (for numeric fields)
	MaxValue      interface{}                     // Maximum value (for numeric fields)
	AllowedValues []interface{}                   // Whitelist of allowed values
	CustomFunc    func(interface{}) (bool, error) // Custom validation function
}

// FieldDataType represents expected data types for validation
type FieldDataType string

const (
	FieldTypeString FieldDataType = "string"
	FieldTypeInt    FieldDataType = "int"
	FieldTypeFloat  FieldDataType = "float"
	FieldTypeBool   FieldDataType = "bool"
	FieldTypeAny    FieldDataType = "any"
)

// ValidatorStats counts checked and rejected records.
type ValidatorStats struct {
	RecordsChecked  int64
	RecordsRejected int64
	RejectsByField  map[string]int64
}

// RecordValidator is a core.Transformer that passes valid records through unchanged
// and fails invalid ones with a *core.InputError.
type RecordValidator struct {
	fields map[string]FieldValidator
	order  []string

	mu    sync.Mutex
	stats ValidatorStats
}

// Option is a functional option for configuring RecordValidator
type Option func(*RecordValidator)

// WithField adds rules for one field. Fields are checked in the order they are added.
func WithField(name string, validator FieldValidator) Option {
	return func(v *RecordValidator) {
		if _, exists := v.fields[name]; !exists {
			v.order = append(v.order, name)
		}
		v.fields[name] = validator
	}
}

// NewRecordValidator creates a validator with the given field rules.
func NewRecordValidator(opts ...Option) *RecordValidator {
	v := &RecordValidator{
		fields: make(map[string]FieldValidator),
		stats:  ValidatorStats{RejectsByField: make(map[string]int64)},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// CallRecordValidator checks that both endpoints are present strings and that a
// duration, when present, is a non-negative whole number of seconds. Any string is a
// valid endpoint, the empty string included. A positive maxDuration is an exclusive upper bound.
func CallRecordValidator(maxDuration int) *RecordValidator {
	endpoint := FieldValidator{Required: true, DataType: FieldTypeString}
	duration := FieldValidator{DataType: FieldTypeInt, MinValue: 0}
	if maxDuration > 0 {
		duration.MaxValue = maxDuration - 1
	}
	return NewRecordValidator(
		WithField(core.FieldFrom, endpoint),
		WithField(core.FieldTo, endpoint),
		WithField(core.FieldDuration, duration),
	)
}

// Transform implements core.Transformer.
func (v *RecordValidator) Transform(ctx context.Context, record core.Record) (core.Record, error) {
	for _, name := range v.order {
		if err := validateField(record, name, v.fields[name]); err != nil {
			v.reject(name)
			return nil, &core.InputError{Field: name, Err: err}
		}
	}
	v.mu.Lock()
	v.stats.RecordsChecked++
	v.mu.Unlock()
	return record, nil
}

// Stats returns a copy of the validator counters.
func (v *RecordValidator) Stats() ValidatorStats {
	v.mu.Lock()
	defer v.mu.Unlock()
	stats := v.stats
	stats.RejectsByField = make(map[string]int64, len(v.stats.RejectsByField))
	for k, n := range v.stats.RejectsByField {
		stats.RejectsByField[k] = n
	}
	return stats
}

func (v *RecordValidator) reject(field string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stats.RecordsChecked++
	v.stats.RecordsRejected++
	v.stats.RejectsByField[field]++
}

// validateField validates a single field value against its validator
func validateField(record core.Record, name string, validator FieldValidator) error {
	value, exists := record[name]
	if !exists || value == nil {
		if validator.Required {
			return fmt.Errorf("required field is missing")
		}
		return nil
	}

	if !validateDataType(value, validator.DataType) {
		return fmt.Errorf("invalid type %T, expected %s", value, validator.DataType)
	}

	if validator.Pattern != nil {
		if str, ok := value.(string); ok && !validator.Pattern.MatchString(str) {
			return fmt.Errorf("value %q does not match pattern", str)
		}
	}

	if err := validateRange(value, validator.MinValue, validator.MaxValue); err != nil {
		return err
	}

	if len(validator.AllowedValues) > 0 {
		valid := false
		for _, allowedValue := range validator.AllowedValues {
			if value == allowedValue {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("value %v not in allowed values", value)
		}
	}

	if validator.CustomFunc != nil {
		valid, err := validator.CustomFunc(value)
		if err != nil {
			return fmt.Errorf("custom validation failed: %w", err)
		}
		if !valid {
			return fmt.Errorf("failed custom validation")
		}
	}

	return nil
}

// validateDataType checks if a value matches the expected data type
func validateDataType(value interface{}, expectedType FieldDataType) bool {
	switch expectedType {
	case FieldTypeString:
		_, ok := value.(string)
		return ok
	case FieldTypeInt:
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		}
		return false
	case FieldTypeFloat:
		switch value.(type) {
		case float32, float64:
			return true
		}
		return false
	case FieldTypeBool:
		_, ok := value.(bool)
		return ok
	default:
		return true
	}
}

// validateRange validates numeric ranges
func validateRange(value, minValue, maxValue interface{}) error {
	if minValue == nil && maxValue == nil {
		return nil
	}

	val, ok := toFloat64(value)
	if !ok {
		return nil
	}

	if minValue != nil {
		if min, ok := toFloat64(minValue); ok && val < min {
			return fmt.Errorf("value %v below minimum %v", value, minValue)
		}
	}
	if maxValue != nil {
		if max, ok := toFloat64(maxValue); ok && val > max {
			return fmt.Errorf("value %v above maximum %v", value, maxValue)
		}
	}
	return nil
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
