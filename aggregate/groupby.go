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

package aggregate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aaronlmathis/callstream/core"
)

// groupKeySeparator separates group field values inside an encoded group key.
const groupKeySeparator = "\x1f"

// GroupBy implements grouping and aggregation operations over one batch of records.
type GroupBy struct {
	groupFields []string
	outputs     []string
	aggregators map[string]Aggregator
}

// NewGroupBy creates a new GroupBy aggregator
func NewGroupBy(groupFields ...string) *GroupBy {
	return &GroupBy{
		groupFields: groupFields,
		aggregators: make(map[string]Aggregator),
	}
}

// Count adds a count aggregator for the specified output field
func (g *GroupBy) Count(outputField string) *GroupBy {
	return g.add(outputField, &CountAggregator{})
}

// Sum adds a sum aggregator for the specified field
func (g *GroupBy) Sum(field, outputField string) *GroupBy {
	return g.add(outputField, &SumAggregator{Field: field})
}

func (g *GroupBy) add(outputField string, aggregator Aggregator) *GroupBy {
	if _, exists := g.aggregators[outputField]; !exists {
		g.outputs = append(g.outputs, outputField)
	}
	g.aggregators[outputField] = aggregator
	return g
}

type group struct {
	values      []interface{}
	aggregators map[string]Aggregator
}

// Process aggregates records and returns one record per group, ordered by group key.
// Each result carries the group field values and one field per aggregator.
func (g *GroupBy) Process(ctx context.Context, records <-chan core.Record) ([]core.Record, error) {
	groups := make(map[string]*group)

	for record := range records {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		groupKey, values := g.buildGroupKey(record)

		grp, exists := groups[groupKey]
		if !exists {
			grp = &group{values: values, aggregators: make(map[string]Aggregator, len(g.aggregators))}
			for outputField, aggregator := range g.aggregators {
				grp.aggregators[outputField] = cloneAggregator(aggregator)
			}
			groups[groupKey] = grp
		}

		for outputField, aggregator := range grp.aggregators {
			if err := aggregator.Add(ctx, record); err != nil {
				return nil, fmt.Errorf("aggregation error for field %s: %w", outputField, err)
			}
		}
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	results := make([]core.Record, 0, len(keys))
	for _, key := range keys {
		grp := groups[key]
		result := make(core.Record, len(g.groupFields)+len(g.outputs))
		for i, field := range g.groupFields {
			result[field] = grp.values[i]
		}

		for _, outputField := range g.outputs {
			value, err := grp.aggregators[outputField].Result()
			if err != nil {
				return nil, fmt.Errorf("failed to get result for field %s: %w", outputField, err)
			}
			result[outputField] = value[resultField]
		}

		results = append(results, result)
	}

	return results, nil
}

// ProcessSlice is a convenience wrapper around Process for an in-memory batch.
func (g *GroupBy) ProcessSlice(ctx context.Context, records []core.Record) ([]core.Record, error) {
	ch := make(chan core.Record, len(records))
	for _, record := range records {
		ch <- record
	}
	close(ch)
	return g.Process(ctx, ch)
}

func (g *GroupBy) buildGroupKey(record core.Record) (string, []interface{}) {
	keyParts := make([]string, len(g.groupFields))
	values := make([]interface{}, len(g.groupFields))
	for i, field := range g.groupFields {
		if value, exists := record[field]; exists && value != nil {
			keyParts[i] = fmt.Sprintf("%T:%v", value, value)
			values[i] = value
		}
	}
	return strings.Join(keyParts, groupKeySeparator), values
}

func cloneAggregator(aggregator Aggregator) Aggregator {
	switch agg := aggregator.(type) {
	case *CountAggregator:
		return &CountAggregator{}
	case *SumAggregator:
		return &SumAggregator{Field: agg.Field}
	}
	return aggregator
}

// resultField is the single field every built-in aggregator reports its value under.
const resultField = "value"

// CountAggregator counts the number of records
type CountAggregator struct {
	count int64
}

func (c *CountAggregator) Add(ctx context.Context, record core.Record) error {
	c.count++
	return nil
}

func (c *CountAggregator) Result() (core.Record, error) {
	return core.Record{resultField: c.count}, nil
}

func (c *CountAggregator) Reset() {
	c.count = 0
}

// SumAggregator sums numeric values. Records missing the field or carrying nil are skipped.
// The sum stays integral (int64) until a floating point value is seen.
type SumAggregator struct {
	Field    string
	intSum   int64
	floatSum float64
	isFloat  bool
}

func (s *SumAggregator) Add(ctx context.Context, record core.Record) error {
	value, exists := record[s.Field]
	if !exists || value == nil {
		return nil
	}

	switch v := value.(type) {
	case int:
		s.intSum += int64(v)
	case int32:
		s.intSum += int64(v)
	case int64:
		s.intSum += v
	case *int64:
		if v != nil {
			s.intSum += *v
		}
	case float32:
		s.floatSum += float64(v)
		s.isFloat = true
	case float64:
		s.floatSum += v
		s.isFloat = true
	default:
		return fmt.Errorf("cannot sum %T in field %s", value, s.Field)
	}
	return nil
}

func (s *SumAggregator) Result() (core.Record, error) {
	if s.isFloat {
		return core.Record{resultField: s.floatSum + float64(s.intSum)}, nil
	}
	return core.Record{resultField: s.intSum}, nil
}

func (s *SumAggregator) Reset() {
	s.intSum = 0
	s.floatSum = 0
	s.isFloat = false
}

// Value extracts the aggregated value from an aggregator result.
func Value(result core.Record) interface{} {
	return result[resultField]
}
