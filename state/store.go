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

// Package state holds the aggregate table that the stream topology persists into
// and that DRPC queries read from.
package state

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aaronlmathis/callstream/callkey"
	"github.com/aaronlmathis/callstream/core"
)

// StoreStats holds counters describing store activity.
type StoreStats struct {
	Increments       int64     // Total count added across all keys
	Lookups          int64     // Single and multi-key lookups served
	BatchesCommitted int64     // Micro-batches applied
	BatchesSkipped   int64     // Micro-batches ignored because their txid was already committed
	Writers          int64     // Batch writers registered with RegisterWriter
	LastCommitTime   time.Time // Time of the last applied batch
}

// CallCountStore maps call keys to the number of records observed with that key.
// It is safe for concurrent use; every mutation excludes every read.
type CallCountStore struct {
	mu      sync.RWMutex
	counts  map[string]int64
	lastTx  map[uint64]uint64 // writer id -> last committed txid
	stats   StoreStats
	lookups atomic.Int64
}

// NewCallCountStore creates an empty store.
func NewCallCountStore() *CallCountStore {
	return &CallCountStore{
		counts: make(map[string]int64),
		lastTx: make(map[uint64]uint64),
	}
}

// Increment adds one to the count for key, creating it at 1 if unseen.
func (s *CallCountStore) Increment(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[key]++
	s.stats.Increments++
}

// Lookup returns the count for key. The boolean is false if the key was never observed;
// the lookup does not create an entry.
func (s *CallCountStore) Lookup(key string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count, ok := s.counts[key]
	s.lookups.Add(1)
	return count, ok
}

// MultiGet returns one entry per key, nil where the key is absent.
func (s *CallCountStore) MultiGet(keys []string) []*int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*int64, len(keys))
	for i, key := range keys {
		if count, ok := s.counts[key]; ok {
			c := count
			result[i] = &c
		}
	}
	s.lookups.Add(1)
	return result
}

// MultiLookupSum splits rawArgs on commas, looks up every non-empty key and sums the counts
// of the keys that exist. Unknown keys and empty candidates contribute nothing.
func (s *CallCountStore) MultiLookupSum(rawArgs string) int64 {
	var sum int64
	for _, count := range s.MultiGet(callkey.SplitArgs(rawArgs)) {
		if count != nil {
			sum += *count
		}
	}
	return sum
}

// RegisterWriter returns a new writer id for CommitBatch. Every writer numbers its
// own batches, so several streams or successive runs can commit into one store.
func (s *CallCountStore) RegisterWriter() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Writers++
	return uint64(s.stats.Writers)
}

// CommitBatch applies the grouped counts of one micro-batch atomically.
// Each writer's batches carry a monotonically increasing txid; a batch whose txid is not
// greater than the last one committed by the same writer is ignored and false is returned.
func (s *CallCountStore) CommitBatch(writer, txid uint64, counts map[string]int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, seen := s.lastTx[writer]; seen && txid <= last {
		s.stats.BatchesSkipped++
		return false
	}

	for key, n := range counts {
		if n <= 0 {
			continue
		}
		s.counts[key] += n
		s.stats.Increments += n
	}
	s.lastTx[writer] = txid
	s.stats.BatchesCommitted++
	s.stats.LastCommitTime = time.Now()
	return true
}

// Len returns the number of distinct keys.
func (s *CallCountStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.counts)
}

// Snapshot returns a consistent copy of the table as {call, count} records sorted by key.
func (s *CallCountStore) Snapshot() []core.Record {
	s.mu.RLock()
	keys := make([]string, 0, len(s.counts))
	for key := range s.counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	records := make([]core.Record, 0, len(keys))
	for _, key := range keys {
		records = append(records, core.Record{
			core.FieldCall:  key,
			core.FieldCount: s.counts[key],
		})
	}
	s.mu.RUnlock()
	return records
}

// Stats returns a copy of the store counters.
func (s *CallCountStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.stats
	stats.Lookups = s.lookups.Load()
	return stats
}
