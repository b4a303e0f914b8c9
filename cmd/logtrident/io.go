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

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aaronlmathis/callstream/config"
	"github.com/aaronlmathis/callstream/core"
	"github.com/aaronlmathis/callstream/readers"
	"github.com/aaronlmathis/callstream/spout"
	"github.com/aaronlmathis/callstream/writers"
)

// openSource returns the configured spout. For random input the feeder is returned as
// well so the caller can feed and close it.
func openSource(ctx context.Context, in config.Input) (core.DataSource, *spout.Feeder, error) {
	switch in.Kind {
	case config.InputRandom, "":
		feeder := spout.NewFeeder()
		return feeder, feeder, nil
	case config.InputCSV:
		file, err := os.Open(in.Location)
		if err != nil {
			return nil, nil, fmt.Errorf("open csv input: %w", err)
		}
		reader, err := readers.NewCSVReader(file)
		if err != nil {
			file.Close()
			return nil, nil, err
		}
		return reader, nil, nil
	case config.InputJSON:
		file, err := os.Open(in.Location)
		if err != nil {
			return nil, nil, fmt.Errorf("open json input: %w", err)
		}
		return readers.NewJSONReader(file), nil, nil
	case config.InputParquet:
		reader, err := readers.NewParquetReader(in.Location)
		if err != nil {
			return nil, nil, err
		}
		return reader, nil, nil
	case config.InputS3:
		bucket, prefix := readers.ParseS3Location(in.Location)
		reader, err := readers.NewS3Reader(ctx, readers.WithS3Bucket(bucket), readers.WithS3Prefix(prefix))
		if err != nil {
			return nil, nil, err
		}
		return reader, nil, nil
	case config.InputMongo:
		uri, database, collection, err := readers.ParseMongoLocation(in.Location)
		if err != nil {
			return nil, nil, err
		}
		reader, err := readers.NewMongoReader(
			readers.WithMongoURI(uri),
			readers.WithMongoDB(database),
			readers.WithMongoCollection(collection),
		)
		if err != nil {
			return nil, nil, err
		}
		return reader, nil, nil
	case config.InputSQLite, config.InputPG:
		reader, err := readers.OpenCallTableReader(in.Kind, in.Location, in.Table)
		if err != nil {
			return nil, nil, err
		}
		return reader, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown input kind %q", in.Kind)
	}
}

// openSnapshotSink returns nil when snapshots are disabled.
func openSnapshotSink(ctx context.Context, cfg *config.Config) (core.DataSink, error) {
	if cfg.SnapshotFormat == config.SnapshotNone || cfg.SnapshotFormat == "" {
		return nil, nil
	}
	format := writers.Format(cfg.SnapshotFormat)
	location, err := writers.ParseLocation(format, cfg.SnapshotPath, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	return location.NewSink(ctx, format)
}
