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
	"fmt"
	"log/slog"
	"sync"

	"github.com/aaronlmathis/callstream/aggregate"
	"github.com/aaronlmathis/callstream/core"
	"github.com/aaronlmathis/callstream/state"
)

// StateUpdater is the sink behind PersistentAggregate. Records written between two flushes
// form one micro-batch, which is grouped, counted and committed under the next txid.
// Txids are numbered per updater; the store keeps them apart by writer id.
type StateUpdater struct {
	store  *state.CallCountStore
	field  string
	logger *slog.Logger
	writer uint64

	mu    sync.Mutex
	batch []core.Record
	txid  uint64
}

// NewStateUpdater creates a sink counting records by field into store.
func NewStateUpdater(store *state.CallCountStore, field string, logger *slog.Logger) *StateUpdater {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateUpdater{store: store, field: field, logger: logger, writer: store.RegisterWriter()}
}

// Write adds a record to the current batch.
func (u *StateUpdater) Write(ctx context.Context, record core.Record) error {
	if _, ok := record[u.field].(string); !ok {
		return &core.InputError{Field: u.field, Err: fmt.Errorf("group key must be a string, got %T", record[u.field])}
	}
	u.mu.Lock()
	u.batch = append(u.batch, record)
	u.mu.Unlock()
	return nil
}

// Flush commits the current batch without a deadline.
func (u *StateUpdater) Flush() error {
	return u.FlushContext(context.Background())
}

// FlushContext commits the current batch. An empty batch still consumes a txid.
// If ctx is done before the commit the batch is dropped and ctx's error returned.
func (u *StateUpdater) FlushContext(ctx context.Context) error {
	u.mu.Lock()
	batch := u.batch
	u.batch = nil
	u.txid++
	txid := u.txid
	u.mu.Unlock()

	groups, err := aggregate.NewGroupBy(u.field).Count(core.FieldCount).ProcessSlice(ctx, batch)
	if err != nil {
		return fmt.Errorf("aggregate batch %d: %w", txid, err)
	}

	counts := make(map[string]int64, len(groups))
	for _, group := range groups {
		key := group[u.field].(string)
		counts[key] = group[core.FieldCount].(int64)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	applied := u.store.CommitBatch(u.writer, txid, counts)
	u.logger.Debug("batch committed", "writer", u.writer, "txid", txid, "records", len(batch), "keys", len(counts), "applied", applied)
	return nil
}

// Close discards any uncommitted records.
func (u *StateUpdater) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.batch) > 0 {
		u.logger.Warn("state updater closed with uncommitted records", "records", len(u.batch))
	}
	u.batch = nil
	return nil
}
