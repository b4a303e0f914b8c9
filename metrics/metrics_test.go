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

package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/callstream/state"
)

func TestStoreCollector(t *testing.T) {
	store := state.NewCallCountStore()
	w := store.RegisterWriter()
	store.CommitBatch(w, 1, map[string]int64{"1 - 2": 3, "1 - 3": 1})
	store.CommitBatch(w, 1, map[string]int64{"1 - 2": 3})

	collector := NewStoreCollector(store)
	expected := `
# HELP callstream_call_count Number of calls observed per call key
# TYPE callstream_call_count gauge
callstream_call_count{call="1 - 2"} 3
callstream_call_count{call="1 - 3"} 1
# HELP callstream_store_keys Number of distinct call keys in the store
# TYPE callstream_store_keys gauge
callstream_store_keys 2
# HELP callstream_batches_total Micro-batches handled by the store by outcome
# TYPE callstream_batches_total counter
callstream_batches_total{outcome="committed"} 1
callstream_batches_total{outcome="skipped"} 1
`
	require.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected)))
}

func TestQueryMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewQueryMetrics(reg)

	m.Observe("call_count", time.Millisecond, nil)
	m.Observe("call_count", time.Millisecond, nil)
	m.Observe("multi_call_count", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Queries.WithLabelValues("call_count", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Queries.WithLabelValues("multi_call_count", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.Duration))
}
