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

package writers

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aaronlmathis/callstream/core"
)

// Format names a snapshot encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatParquet  Format = "parquet"
	FormatSQLite   Format = "sqlite"
	FormatPostgres Format = "postgres"
)

// Location is a snapshot destination.
type Location interface {
	NewSink(ctx context.Context, format Format) (core.DataSink, error)
}

// ParseLocation picks a destination for format. Paths of the form s3://bucket/key
// upload the finished file; postgres always targets dsn.
func ParseLocation(format Format, path, dsn string) (Location, error) {
	switch {
	case format == FormatPostgres:
		return DatabaseLocation{Dialect: DialectPostgres, DSN: dsn}, nil
	case format == FormatSQLite:
		return DatabaseLocation{Dialect: DialectSQLite, DSN: path}, nil
	case strings.HasPrefix(path, "s3://"):
		bucket, key, ok := strings.Cut(strings.TrimPrefix(path, "s3://"), "/")
		if !ok || bucket == "" || key == "" {
			return nil, fmt.Errorf("s3 location %q must look like s3://bucket/key", path)
		}
		return &S3Location{Bucket: bucket, Key: key}, nil
	case path != "":
		return FileLocation{Path: path}, nil
	default:
		return nil, fmt.Errorf("no location for %s snapshot", format)
	}
}

// FileLocation writes to a local file.
type FileLocation struct {
	Path string
}

func (f FileLocation) NewSink(ctx context.Context, format Format) (core.DataSink, error) {
	switch format {
	case FormatCSV:
		file, err := os.Create(f.Path)
		if err != nil {
			return nil, err
		}
		return NewCSVWriter(file), nil
	case FormatJSON:
		file, err := os.Create(f.Path)
		if err != nil {
			return nil, err
		}
		return NewJSONWriter(file), nil
	case FormatParquet:
		return NewParquetWriter(f.Path)
	default:
		return nil, fmt.Errorf("unsupported format %q for file location", format)
	}
}

// DatabaseLocation upserts into a SQL table.
type DatabaseLocation struct {
	Dialect string
	DSN     string
}

func (d DatabaseLocation) NewSink(ctx context.Context, format Format) (core.DataSink, error) {
	switch d.Dialect {
	case DialectSQLite:
		return NewSQLiteWriter(d.DSN)
	case DialectPostgres:
		return NewPostgresWriter(d.DSN)
	default:
		return nil, fmt.Errorf("unsupported dialect %q", d.Dialect)
	}
}

// S3PutAPI is the subset of the S3 client used for uploads.
type S3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Location uploads the snapshot to an S3 object when the sink is closed.
type S3Location struct {
	Bucket string
	Key    string
	Client S3PutAPI
}

func (s *S3Location) NewSink(ctx context.Context, format Format) (core.DataSink, error) {
	if s.Client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		s.Client = s3.NewFromConfig(cfg)
	}

	switch format {
	case FormatCSV:
		return NewCSVWriter(newS3WriteCloser(ctx, s.Client, s.Bucket, s.Key)), nil
	case FormatJSON:
		return NewJSONWriter(newS3WriteCloser(ctx, s.Client, s.Bucket, s.Key)), nil
	case FormatParquet:
		tmp, err := os.CreateTemp("", "callstream-*.parquet")
		if err != nil {
			return nil, err
		}
		filename := tmp.Name()
		tmp.Close()
		pw, err := NewParquetWriter(filename)
		if err != nil {
			os.Remove(filename)
			return nil, err
		}
		return &parquetS3Sink{ParquetWriter: pw, ctx: ctx, client: s.Client, bucket: s.Bucket, key: s.Key, filename: filename}, nil
	default:
		return nil, fmt.Errorf("unsupported format %q for s3 location", format)
	}
}

// s3WriteCloser buffers everything in memory and uploads it on Close.
type s3WriteCloser struct {
	ctx    context.Context
	buf    *bytes.Buffer
	client S3PutAPI
	bucket string
	key    string
}

func newS3WriteCloser(ctx context.Context, client S3PutAPI, bucket, key string) *s3WriteCloser {
	return &s3WriteCloser{
		ctx:    ctx,
		buf:    &bytes.Buffer{},
		client: client,
		bucket: bucket,
		key:    key,
	}
}

func (s *s3WriteCloser) Write(p []byte) (int, error) { return s.buf.Write(p) }

func (s *s3WriteCloser) Close() error {
	_, err := s.client.PutObject(s.ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &s.key,
		Body:   bytes.NewReader(s.buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

type parquetS3Sink struct {
	*ParquetWriter
	ctx      context.Context
	client   S3PutAPI
	bucket   string
	key      string
	filename string
}

func (p *parquetS3Sink) Close() error {
	defer os.Remove(p.filename)
	if err := p.ParquetWriter.Close(); err != nil {
		return err
	}
	data, err := os.ReadFile(p.filename)
	if err != nil {
		return err
	}
	_, err = p.client.PutObject(p.ctx, &s3.PutObjectInput{
		Bucket: &p.bucket,
		Key:    &p.key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", p.bucket, p.key, err)
	}
	return nil
}
