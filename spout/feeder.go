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

package spout

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"

	"github.com/aaronlmathis/callstream/core"
)

// Package spout provides in-memory sources for the stream topology.

// ErrFeederClosed is returned by Feed after Close.
var ErrFeederClosed = errors.New("feeder closed")

// Feeder is a source that emits whatever is fed to it.
// Read blocks until a record is available, the feeder is closed, or the context ends.
type Feeder struct {
	mu     sync.Mutex
	queue  []core.Record
	closed bool
	signal chan struct{}
	done   chan struct{}
	fed    int64
}

// NewFeeder creates an open, empty feeder.
func NewFeeder() *Feeder {
	return &Feeder{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Feed enqueues records in order.
func (f *Feeder) Feed(records ...core.Record) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFeederClosed
	}
	f.queue = append(f.queue, records...)
	f.fed += int64(len(records))
	f.mu.Unlock()

	select {
	case f.signal <- struct{}{}:
	default:
	}
	return nil
}

// Read returns the next queued record. Once the feeder is closed and drained it returns io.EOF.
func (f *Feeder) Read(ctx context.Context) (core.Record, error) {
	for {
		f.mu.Lock()
		if len(f.queue) > 0 {
			record := f.queue[0]
			f.queue[0] = nil
			f.queue = f.queue[1:]
			f.mu.Unlock()
			return record, nil
		}
		closed := f.closed
		f.mu.Unlock()
		if closed {
			return nil, io.EOF
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.signal:
		case <-f.done:
		}
	}
}

// Close ends the stream. Records already fed are still delivered.
func (f *Feeder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

// Fed returns the total number of records fed so far.
func (f *Feeder) Fed() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fed
}

// DemoPairs are the caller/callee pairs emitted by RandomCalls each round.
var DemoPairs = [][2]string{
	{"1234123401", "1234123402"},
	{"1234123401", "1234123403"},
	{"1234123401", "1234123404"},
	{"1234123402", "1234123403"},
}

// MaxDuration bounds the random call duration in seconds (exclusive).
const MaxDuration = 60

// RandomCalls generates rounds*len(DemoPairs) call records with durations in [0, MaxDuration).
func RandomCalls(rng *rand.Rand, rounds int) []core.Record {
	if rounds <= 0 {
		return nil
	}
	out := make([]core.Record, 0, rounds*len(DemoPairs))
	for i := 0; i < rounds; i++ {
		for _, pair := range DemoPairs {
			call := core.CallRecord{From: pair[0], To: pair[1], Duration: rng.Intn(MaxDuration)}
			out = append(out, call.Record())
		}
	}
	return out
}
