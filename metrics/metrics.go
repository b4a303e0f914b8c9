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
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aaronlmathis/callstream/core"
	"github.com/aaronlmathis/callstream/state"
)

// StoreCollector exports the contents of a CallCountStore on every scrape.
type StoreCollector struct {
	store *state.CallCountStore

	count   *prometheus.Desc
	keys    *prometheus.Desc
	batches *prometheus.Desc
}

// NewStoreCollector creates a collector over store.
func NewStoreCollector(store *state.CallCountStore) *StoreCollector {
	return &StoreCollector{
		store: store,
		count: prometheus.NewDesc(
			"callstream_call_count",
			"Number of calls observed per call key",
			[]string{"call"},
			nil,
		),
		keys: prometheus.NewDesc(
			"callstream_store_keys",
			"Number of distinct call keys in the store",
			nil,
			nil,
		),
		batches: prometheus.NewDesc(
			"callstream_batches_total",
			"Micro-batches handled by the store by outcome",
			[]string{"outcome"},
			nil,
		),
	}
}

func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.count
	ch <- c.keys
	ch <- c.batches
}

func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.store.Snapshot()
	for _, record := range snapshot {
		call, _ := record[core.FieldCall].(string)
		n, _ := record[core.FieldCount].(int64)
		ch <- prometheus.MustNewConstMetric(c.count, prometheus.GaugeValue, float64(n), call)
	}
	ch <- prometheus.MustNewConstMetric(c.keys, prometheus.GaugeValue, float64(len(snapshot)))

	stats := c.store.Stats()
	ch <- prometheus.MustNewConstMetric(c.batches, prometheus.CounterValue, float64(stats.BatchesCommitted), "committed")
	ch <- prometheus.MustNewConstMetric(c.batches, prometheus.CounterValue, float64(stats.BatchesSkipped), "skipped")
}

// QueryMetrics counts and times DRPC requests.
type QueryMetrics struct {
	Queries  *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewQueryMetrics creates query metrics and registers them with reg.
func NewQueryMetrics(reg prometheus.Registerer) *QueryMetrics {
	m := &QueryMetrics{
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callstream_drpc_queries_total",
			Help: "DRPC requests by function and outcome",
		}, []string{"function", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "callstream_drpc_query_seconds",
			Help:    "DRPC request latency",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"function"}),
	}
	if reg != nil {
		reg.MustRegister(m.Queries, m.Duration)
	}
	return m
}

// Observe records one request. Its signature matches drpc.Observer.
func (m *QueryMetrics) Observe(function string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Queries.WithLabelValues(function, outcome).Inc()
	m.Duration.WithLabelValues(function).Observe(elapsed.Seconds())
}

// Serve exposes reg on /metrics at addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
