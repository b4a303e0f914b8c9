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

package state

import (
	"sync"
	"testing"

	"github.com/aaronlmathis/callstream/callkey"
	"github.com/aaronlmathis/callstream/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScenarioStore() *CallCountStore {
	store := NewCallCountStore()
	for i := 0; i < 12; i++ {
		store.Increment(callkey.Format("1234123401", "1234123402"))
	}
	for i := 0; i < 7; i++ {
		store.Increment(callkey.Format("1234123401", "1234123403"))
	}
	return store
}

func TestCallCountStore_Scenario(t *testing.T) {
	store := newScenarioStore()

	count, ok := store.Lookup("1234123401 - 1234123402")
	require.True(t, ok)
	assert.Equal(t, int64(12), count)

	assert.Equal(t, int64(19), store.MultiLookupSum("1234123401 - 1234123402,1234123401 - 1234123403"))
	assert.Equal(t, int64(12), store.MultiLookupSum("1234123401 - 1234123402,unknown-key"))
}

func TestCallCountStore_LookupAbsent(t *testing.T) {
	store := NewCallCountStore()

	count, ok := store.Lookup("never-seen")
	assert.False(t, ok)
	assert.Zero(t, count)

	// Lookup must not create the entry.
	assert.Equal(t, 0, store.Len())
	_, ok = store.Lookup("never-seen")
	assert.False(t, ok)
}

func TestCallCountStore_IncrementCountsOnlyItsKey(t *testing.T) {
	store := NewCallCountStore()
	for i := 0; i < 5; i++ {
		store.Increment("k")
	}

	count, ok := store.Lookup("k")
	require.True(t, ok)
	assert.Equal(t, int64(5), count)

	_, ok = store.Lookup("other")
	assert.False(t, ok)
	assert.Equal(t, 1, store.Len())
}

func TestCallCountStore_MultiLookupSum_Malformed(t *testing.T) {
	store := newScenarioStore()

	assert.Equal(t, int64(0), store.MultiLookupSum(""))
	assert.Equal(t, int64(0), store.MultiLookupSum(",,,"))
	assert.Equal(t, int64(0), NewCallCountStore().MultiLookupSum("k1,k2"))
	assert.Equal(t,
		store.MultiLookupSum("1234123401 - 1234123402,1234123401 - 1234123403"),
		store.MultiLookupSum("1234123401 - 1234123402,,1234123401 - 1234123403"),
	)
	assert.Equal(t, int64(19), store.MultiLookupSum(",1234123401 - 1234123402,1234123401 - 1234123403,"))
}

func TestCallCountStore_MultiGet(t *testing.T) {
	store := newScenarioStore()

	got := store.MultiGet([]string{"1234123401 - 1234123403", "missing"})
	require.Len(t, got, 2)
	require.NotNil(t, got[0])
	assert.Equal(t, int64(7), *got[0])
	assert.Nil(t, got[1])
}

func TestCallCountStore_CommitBatch(t *testing.T) {
	store := NewCallCountStore()
	w := store.RegisterWriter()

	applied := store.CommitBatch(w, 1, map[string]int64{"a - b": 3, "a - c": 1})
	assert.True(t, applied)

	// Same txid again is ignored.
	applied = store.CommitBatch(w, 1, map[string]int64{"a - b": 3})
	assert.False(t, applied)

	applied = store.CommitBatch(w, 2, map[string]int64{"a - b": 2, "zero": 0})
	assert.True(t, applied)

	count, ok := store.Lookup("a - b")
	require.True(t, ok)
	assert.Equal(t, int64(5), count)

	_, ok = store.Lookup("zero")
	assert.False(t, ok)

	stats := store.Stats()
	assert.Equal(t, int64(2), stats.BatchesCommitted)
	assert.Equal(t, int64(1), stats.BatchesSkipped)
	assert.Equal(t, int64(1), stats.Writers)
	assert.Equal(t, int64(6), stats.Increments)
	assert.Equal(t, int64(1), stats.Lookups)
}

func TestCallCountStore_CommitBatchPerWriter(t *testing.T) {
	store := NewCallCountStore()
	first := store.RegisterWriter()
	second := store.RegisterWriter()
	require.NotEqual(t, first, second)

	// Both writers start their own txid sequence at 1.
	assert.True(t, store.CommitBatch(first, 1, map[string]int64{"1 - 2": 2}))
	assert.True(t, store.CommitBatch(second, 1, map[string]int64{"1 - 2": 2}))
	assert.True(t, store.CommitBatch(second, 2, map[string]int64{"1 - 2": 1}))
	assert.True(t, store.CommitBatch(first, 2, map[string]int64{"1 - 2": 1}))
	assert.False(t, store.CommitBatch(first, 2, map[string]int64{"1 - 2": 1}))

	count, ok := store.Lookup("1 - 2")
	require.True(t, ok)
	assert.Equal(t, int64(6), count)
	assert.Equal(t, int64(1), store.Stats().BatchesSkipped)
}

func TestCallCountStore_Snapshot(t *testing.T) {
	store := newScenarioStore()

	snapshot := store.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, core.Record{core.FieldCall: "1234123401 - 1234123402", core.FieldCount: int64(12)}, snapshot[0])
	assert.Equal(t, core.Record{core.FieldCall: "1234123401 - 1234123403", core.FieldCount: int64(7)}, snapshot[1])
}

func TestCallCountStore_ConcurrentAccess(t *testing.T) {
	store := NewCallCountStore()
	const writers = 8
	const perWriter = 500

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				store.Increment("hot")
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				store.Lookup("hot")
				store.MultiLookupSum("hot,cold")
			}
		}()
	}
	wg.Wait()

	count, ok := store.Lookup("hot")
	require.True(t, ok)
	assert.Equal(t, int64(writers*perWriter), count)
}
