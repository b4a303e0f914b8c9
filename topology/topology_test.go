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
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/aaronlmathis/callstream/callkey"
	"github.com/aaronlmathis/callstream/core"
	"github.com/aaronlmathis/callstream/drpc"
	"github.com/aaronlmathis/callstream/filter"
	"github.com/aaronlmathis/callstream/spout"
	"github.com/aaronlmathis/callstream/state"
	"github.com/aaronlmathis/callstream/transform"
	"github.com/aaronlmathis/callstream/validators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func call(from, to string) core.Record {
	return core.CallRecord{From: from, To: to, Duration: 1}.Record()
}

func buildCallCounts(t *testing.T, source core.DataSource, opts ...Option) (*Topology, *state.CallCountStore) {
	t.Helper()
	topo := New(opts...)
	store := topo.NewStream("fixed-batch-spout", source).
		Each(transform.FormatCall(core.FieldFrom, core.FieldTo, core.FieldCall)).
		GroupBy(core.FieldCall).
		PersistentAggregate(state.NewCallCountStore())
	return topo, store
}

func TestTopology_EndToEndScenario(t *testing.T) {
	ctx := context.Background()
	feeder := spout.NewFeeder()
	for i := 0; i < 12; i++ {
		require.NoError(t, feeder.Feed(call("1234123401", "1234123402")))
	}
	for i := 0; i < 7; i++ {
		require.NoError(t, feeder.Feed(call("1234123401", "1234123403")))
	}
	require.NoError(t, feeder.Close())

	topo, store := buildCallCounts(t, feeder, WithBatchSize(4))
	client := drpc.NewLocal()
	require.NoError(t, RegisterQueries(topo, client, store))
	require.NoError(t, topo.Run(ctx))

	stats := store.Stats()
	assert.Equal(t, int64(5), stats.BatchesCommitted)
	assert.Equal(t, int64(19), stats.Increments)

	out, err := client.Execute(ctx, CallCountFunction, "1234123401 - 1234123402")
	require.NoError(t, err)
	assert.Equal(t, `[["1234123401 - 1234123402",12]]`, out)

	out, err = client.Execute(ctx, MultiCallCountFunction, "1234123401 - 1234123402,1234123401 - 1234123403")
	require.NoError(t, err)
	assert.Equal(t, `[[19]]`, out)

	out, err = client.Execute(ctx, MultiCallCountFunction, "1234123401 - 1234123402,unknown-key")
	require.NoError(t, err)
	assert.Equal(t, `[[12]]`, out)
}

func TestTopology_RandomDemoFeed(t *testing.T) {
	feeder := spout.NewFeeder()
	require.NoError(t, feeder.Feed(spout.RandomCalls(rand.New(rand.NewSource(7)), 10)...))
	require.NoError(t, feeder.Close())

	topo, store := buildCallCounts(t, feeder, WithBatchSize(1))
	require.NoError(t, topo.Run(context.Background()))

	assert.Equal(t, 4, store.Len())
	for _, pair := range spout.DemoPairs {
		n, ok := store.Lookup(callkey.Format(pair[0], pair[1]))
		assert.True(t, ok)
		assert.Equal(t, int64(10), n)
	}
	assert.Equal(t, int64(40), store.Stats().BatchesCommitted)
}

func TestTopology_InvalidRecordFailsFast(t *testing.T) {
	feeder := spout.NewFeeder()
	require.NoError(t, feeder.Feed(call("1", "2"), core.Record{core.FieldFrom: "1"}))
	require.NoError(t, feeder.Close())

	topo, _ := buildCallCounts(t, feeder)
	err := topo.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidInput))
}

func TestTopology_SkipErrorsKeepsValidRecords(t *testing.T) {
	feeder := spout.NewFeeder()
	require.NoError(t, feeder.Feed(call("1", "2"), core.Record{core.FieldFrom: "1"}, call("1", "2")))
	require.NoError(t, feeder.Close())

	topo, store := buildCallCounts(t, feeder, WithErrorStrategy(core.SkipErrors))
	require.NoError(t, topo.Run(context.Background()))

	n, ok := store.Lookup("1 - 2")
	assert.True(t, ok)
	assert.Equal(t, int64(2), n)
}

func TestTopology_FilterRunsInOrder(t *testing.T) {
	feeder := spout.NewFeeder()
	require.NoError(t, feeder.Feed(call("1", "2"), call("1", "3"), call("1", "2")))
	require.NoError(t, feeder.Close())

	topo := New()
	store := topo.NewStream("filtered", feeder).
		Each(transform.FormatCall(core.FieldFrom, core.FieldTo, core.FieldCall)).
		Filter(core.FilterFunc(func(ctx context.Context, r core.Record) (bool, error) {
			return r[core.FieldCall] == "1 - 2", nil
		})).
		Filter(filter.NotNull(core.FieldCall)).
		GroupBy(core.FieldCall).
		PersistentAggregate(state.NewCallCountStore())
	require.NoError(t, topo.Run(context.Background()))

	assert.Equal(t, 1, store.Len())
	_, ok := store.Lookup("1 - 3")
	assert.False(t, ok)
}

func TestTopology_StreamsShareStore(t *testing.T) {
	store := state.NewCallCountStore()
	topo := New(WithBatchSize(1))
	for _, name := range []string{"east", "west"} {
		feeder := spout.NewFeeder()
		for i := 0; i < 5; i++ {
			require.NoError(t, feeder.Feed(call("1", "2")))
		}
		require.NoError(t, feeder.Close())
		topo.NewStream(name, feeder).
			Each(transform.FormatCall(core.FieldFrom, core.FieldTo, core.FieldCall)).
			GroupBy(core.FieldCall).
			PersistentAggregate(store)
	}
	require.NoError(t, topo.Run(context.Background()))

	n, ok := store.Lookup("1 - 2")
	require.True(t, ok)
	assert.Equal(t, int64(10), n)
	stats := store.Stats()
	assert.Equal(t, int64(10), stats.BatchesCommitted)
	assert.Equal(t, int64(0), stats.BatchesSkipped)
}

func TestTopology_ConsecutiveRunsAccumulate(t *testing.T) {
	store := state.NewCallCountStore()
	for run := 0; run < 2; run++ {
		feeder := spout.NewFeeder()
		require.NoError(t, feeder.Feed(call("1", "2"), call("1", "2"), call("1", "3")))
		require.NoError(t, feeder.Close())

		topo := New(WithBatchSize(2))
		topo.NewStream("run", feeder).
			Each(transform.FormatCall(core.FieldFrom, core.FieldTo, core.FieldCall)).
			GroupBy(core.FieldCall).
			PersistentAggregate(store)
		require.NoError(t, topo.Run(context.Background()))
	}

	n, _ := store.Lookup("1 - 2")
	assert.Equal(t, int64(4), n)
	n, _ = store.Lookup("1 - 3")
	assert.Equal(t, int64(2), n)
	assert.Equal(t, int64(0), store.Stats().BatchesSkipped)
}

func TestTopology_AnyStringEndpointCounted(t *testing.T) {
	ctx := context.Background()
	feeder := spout.NewFeeder()
	require.NoError(t, feeder.Feed(
		core.Record{core.FieldFrom: "alice", core.FieldTo: "bob"},
		core.Record{core.FieldFrom: "", core.FieldTo: "1234123402"},
	))
	require.NoError(t, feeder.Close())

	topo := New()
	store := topo.NewStream("validated", feeder).
		Each(validators.CallRecordValidator(spout.MaxDuration)).
		Each(transform.FormatCall(core.FieldFrom, core.FieldTo, core.FieldCall)).
		GroupBy(core.FieldCall).
		PersistentAggregate(state.NewCallCountStore())
	client := drpc.NewLocal()
	require.NoError(t, RegisterQueries(topo, client, store))
	require.NoError(t, topo.Run(ctx))

	out, err := client.Execute(ctx, CallCountFunction, "alice - bob")
	require.NoError(t, err)
	assert.Equal(t, `[["alice - bob",1]]`, out)

	n, ok := store.Lookup(" - 1234123402")
	require.True(t, ok)
	assert.Equal(t, int64(1), n)
}

func TestTopology_RunStopsOnCancel(t *testing.T) {
	feeder := spout.NewFeeder()
	topo, _ := buildCallCounts(t, feeder)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, topo.Run(ctx), context.DeadlineExceeded)
}

func TestTopology_StreamWithoutSink(t *testing.T) {
	topo := New()
	topo.NewStream("dangling", spout.NewFeeder())
	assert.Error(t, topo.Run(context.Background()))
}
