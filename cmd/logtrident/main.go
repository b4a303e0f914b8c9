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

// Command logtrident runs the call-count topology: a spout of call records is keyed by
// caller and callee, counted per key into an in-memory store, and queried over local DRPC.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aaronlmathis/callstream/config"
	"github.com/aaronlmathis/callstream/core"
	"github.com/aaronlmathis/callstream/drpc"
	"github.com/aaronlmathis/callstream/metrics"
	"github.com/aaronlmathis/callstream/spout"
	"github.com/aaronlmathis/callstream/state"
	"github.com/aaronlmathis/callstream/topology"
	"github.com/aaronlmathis/callstream/transform"
	"github.com/aaronlmathis/callstream/validators"
	"github.com/aaronlmathis/callstream/writers"
)

const (
	demoCallKey  = "1234123401 - 1234123402"
	demoMultiKey = "1234123401 - 1234123402,1234123401 - 1234123403"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("logtrident failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store := state.NewCallCountStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewStoreCollector(store))
	queryMetrics := metrics.NewQueryMetrics(reg)

	client := drpc.NewLocal(
		drpc.WithTimeout(cfg.QueryTimeout),
		drpc.WithLogger(logger),
		drpc.WithObserver(queryMetrics.Observe),
	)
	defer client.Shutdown()

	if cfg.MetricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.MetricsAddr, reg); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	source, feeder, err := openSource(ctx, cfg.Input)
	if err != nil {
		return err
	}

	topo := topology.New(
		topology.WithBatchSize(cfg.BatchSize),
		topology.WithLogger(logger),
		topology.WithErrorStrategy(core.SkipErrors),
	)
	maxDuration := 0
	if feeder != nil {
		maxDuration = spout.MaxDuration
	}
	validator := validators.CallRecordValidator(maxDuration)

	buildCallStream(topo, source, validator, store)

	if err := topology.RegisterQueries(topo, client, store); err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- topo.Run(ctx)
	}()

	if feeder != nil {
		if err := feedRandomCalls(feeder, cfg.FeedRounds); err != nil {
			return err
		}
		logger.Info("spout fed", "records", feeder.Fed())
	}

	if err := <-runErr; err != nil {
		return fmt.Errorf("topology: %w", err)
	}

	if rejected := validator.Stats().RecordsRejected; rejected > 0 {
		logger.Warn("invalid call records skipped", "count", rejected)
	}

	if err := printQueries(ctx, client); err != nil {
		return err
	}

	return exportSnapshot(ctx, cfg, store, logger)
}

// buildCallStream adds the counting stream: endpoints are trimmed, validated, joined
// into a call key and counted per key into store.
func buildCallStream(topo *topology.Topology, source core.DataSource, validator *validators.RecordValidator, store *state.CallCountStore) {
	topo.NewStream("spout", source).
		Each(transform.TrimSpace(core.FieldFrom, core.FieldTo)).
		Each(validator).
		Each(transform.FormatCall(core.FieldFrom, core.FieldTo, core.FieldCall)).
		GroupBy(core.FieldCall).
		PersistentAggregate(store)
}

func feedRandomCalls(feeder *spout.Feeder, rounds int) error {
	defer feeder.Close()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < rounds; i++ {
		if err := feeder.Feed(spout.RandomCalls(rng, 1)...); err != nil {
			return err
		}
	}
	return nil
}

func printQueries(ctx context.Context, client *drpc.Local) error {
	fmt.Println("DRPC : Query starts")

	reply, err := client.Execute(ctx, topology.CallCountFunction, demoCallKey)
	if err != nil {
		return err
	}
	fmt.Println(reply)

	reply, err = client.Execute(ctx, topology.MultiCallCountFunction, demoMultiKey)
	if err != nil {
		return err
	}
	fmt.Println(reply)

	fmt.Println("DRPC : Query ends")
	return nil
}

func exportSnapshot(ctx context.Context, cfg *config.Config, store *state.CallCountStore, logger *slog.Logger) error {
	sink, err := openSnapshotSink(ctx, cfg)
	if err != nil {
		return err
	}
	if sink == nil {
		return nil
	}

	n, err := writers.ExportSnapshot(ctx, store, sink)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("export %s snapshot: %w", cfg.SnapshotFormat, err)
	}
	logger.Info("snapshot exported", "format", cfg.SnapshotFormat, "records", n)
	return nil
}
