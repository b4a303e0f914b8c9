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

package topology

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aaronlmathis/callstream/aggregate"
	"github.com/aaronlmathis/callstream/callkey"
	"github.com/aaronlmathis/callstream/core"
	"github.com/aaronlmathis/callstream/drpc"
	"github.com/aaronlmathis/callstream/filter"
	"github.com/aaronlmathis/callstream/state"
)

// Query function names registered by the demo topology.
const (
	CallCountFunction      = "call_count"
	MultiCallCountFunction = "multi_call_count"
)

// CallCountQuery answers with the count stored under args, taken as one call key.
// The reply is a JSON tuple list, [["<args>",<count>]], with null for an unknown key.
func CallCountQuery(store *state.CallCountStore) drpc.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var count *int64
		if n, ok := store.Lookup(args); ok {
			count = &n
		}
		return encodeTuples([][]interface{}{{args, count}})
	}
}

// MultiCallCountQuery answers with the summed count of a comma-separated list of call keys.
// Each candidate is looked up, debug-logged, dropped if unknown and summed, so a key
// listed twice counts twice. The reply is [[<sum>]] and always equals store.MultiLookupSum(args).
func MultiCallCountQuery(store *state.CallCountStore, logger *slog.Logger) drpc.Handler {
	debug := filter.Debug(logger, core.FieldCall, core.FieldCount)
	notNull := filter.NotNull(core.FieldCount)

	return func(ctx context.Context, args string) (string, error) {
		keys := callkey.SplitArgs(args)
		counts := store.MultiGet(keys)

		sum := &aggregate.SumAggregator{Field: core.FieldCount}
		for i, key := range keys {
			tuple := core.Record{core.FieldCall: key, core.FieldCount: counts[i]}
			for _, f := range []core.Filter{debug, notNull} {
				include, err := f.ShouldInclude(ctx, tuple)
				if err != nil {
					return "", err
				}
				if !include {
					tuple = nil
					break
				}
			}
			if tuple == nil {
				continue
			}
			if err := sum.Add(ctx, tuple); err != nil {
				return "", err
			}
		}

		result, err := sum.Result()
		if err != nil {
			return "", err
		}
		return encodeTuples([][]interface{}{{aggregate.Value(result)}})
	}
}

// RegisterQueries registers both call count queries on client.
func RegisterQueries(t *Topology, client *drpc.Local, store *state.CallCountStore) error {
	if err := t.NewDRPCStream(CallCountFunction, client, CallCountQuery(store)); err != nil {
		return err
	}
	return t.NewDRPCStream(MultiCallCountFunction, client, MultiCallCountQuery(store, t.opts.Logger))
}

func encodeTuples(tuples [][]interface{}) (string, error) {
	data, err := json.Marshal(tuples)
	if err != nil {
		return "", fmt.Errorf("encode reply: %w", err)
	}
	return string(data), nil
}
