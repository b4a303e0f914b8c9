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
	"testing"

	"github.com/aaronlmathis/callstream/core"
	"github.com/aaronlmathis/callstream/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateUpdater_CommitsOneTxPerFlush(t *testing.T) {
	ctx := context.Background()
	store := state.NewCallCountStore()
	u := NewStateUpdater(store, core.FieldCall, nil)

	require.NoError(t, u.Write(ctx, core.Record{core.FieldCall: "a - b"}))
	require.NoError(t, u.Write(ctx, core.Record{core.FieldCall: "a - b"}))
	require.NoError(t, u.Write(ctx, core.Record{core.FieldCall: "a - c"}))
	require.NoError(t, u.Flush())
	require.NoError(t, u.Flush())

	n, _ := store.Lookup("a - b")
	assert.Equal(t, int64(2), n)
	n, _ = store.Lookup("a - c")
	assert.Equal(t, int64(1), n)

	stats := store.Stats()
	assert.Equal(t, int64(1), stats.Writers)
	assert.Equal(t, int64(2), stats.BatchesCommitted)
	require.NoError(t, u.Close())
}

func TestStateUpdater_RejectsNonStringKey(t *testing.T) {
	u := NewStateUpdater(state.NewCallCountStore(), core.FieldCall, nil)
	err := u.Write(context.Background(), core.Record{core.FieldCall: 5})
	assert.True(t, errors.Is(err, core.ErrInvalidInput))
}

func TestStateUpdater_SharedStore(t *testing.T) {
	ctx := context.Background()
	store := state.NewCallCountStore()
	first := NewStateUpdater(store, core.FieldCall, nil)
	second := NewStateUpdater(store, core.FieldCall, nil)

	for _, u := range []*StateUpdater{first, second} {
		require.NoError(t, u.Write(ctx, core.Record{core.FieldCall: "a - b"}))
		require.NoError(t, u.Flush())
	}

	n, _ := store.Lookup("a - b")
	assert.Equal(t, int64(2), n)
	assert.Equal(t, int64(0), store.Stats().BatchesSkipped)
}

func TestStateUpdater_FlushContextCancelled(t *testing.T) {
	store := state.NewCallCountStore()
	u := NewStateUpdater(store, core.FieldCall, nil)
	require.NoError(t, u.Write(context.Background(), core.Record{core.FieldCall: "a - b"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := u.FlushContext(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, ok := store.Lookup("a - b")
	assert.False(t, ok)
	assert.Equal(t, int64(0), store.Stats().BatchesCommitted)
}
