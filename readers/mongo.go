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

package readers

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/aaronlmathis/callstream/core"
)

// This file implements a MongoDB spout. It reads stored call records with a find cursor,
// or follows newly inserted ones through a change stream.

// MongoReaderError provides structured error information for MongoDB reader operations
type MongoReaderError struct {
	Op         string // Operation that failed (e.g., "connect", "find", "decode")
	Collection string // Collection being accessed when error occurred
	Err        error  // Underlying error
}

func (e *MongoReaderError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("mongo reader %s [%s]: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("mongo reader %s: %v", e.Op, e.Err)
}

func (e *MongoReaderError) Unwrap() error {
	return e.Err
}

// MongoReaderStats holds statistics about the MongoDB reader's performance
type MongoReaderStats struct {
	RecordsRead     int64
	QueriesExecuted int64
	ReadDuration    time.Duration
	LastReadTime    time.Time
	NullValueCounts map[string]int64
	ErrorCount      int64
}

// MongoReadMode defines how documents are read from MongoDB
type MongoReadMode string

const (
	ModeFind  MongoReadMode = "find"  // Read the matching documents once
	ModeWatch MongoReadMode = "watch" // Follow inserts through a change stream
)

// MongoReaderOptions configures the MongoDB reader
type MongoReaderOptions struct {
	URI            string
	Database       string
	Collection     string
	Mode           MongoReadMode
	Filter         bson.M
	Projection     bson.M
	Sort           bson.D
	BatchSize      int32
	Limit          int64
	Timeout        time.Duration
	ReadPreference string
	Username       string
	Password       string
	AuthDatabase   string
	TLS            bool
	TLSInsecure    bool
}

// ReaderOptionMongo is a functional option for MongoReaderOptions
type ReaderOptionMongo func(*MongoReaderOptions)

func WithMongoURI(uri string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.URI = uri
	}
}

func WithMongoDB(database string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Database = database
	}
}

func WithMongoCollection(collection string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Collection = collection
	}
}

func WithMongoMode(mode MongoReadMode) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Mode = mode
	}
}

func WithMongoFilter(filter bson.M) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Filter = filter
	}
}

func WithMongoProjection(projection bson.M) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Projection = projection
	}
}

func WithMongoSort(sort bson.D) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Sort = sort
	}
}

func WithMongoLimit(limit int64) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Limit = limit
	}
}

func WithMongoBatchSize(batchSize int32) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.BatchSize = batchSize
	}
}

func WithMongoTimeout(timeout time.Duration) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Timeout = timeout
	}
}

func WithMongoReadPreference(preference string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.ReadPreference = preference
	}
}

func WithMongoAuth(username, password, authDB string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Username = username
		opts.Password = password
		opts.AuthDatabase = authDB
	}
}

func WithMongoTLS(enabled, insecure bool) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.TLS = enabled
		opts.TLSInsecure = insecure
	}
}

// MongoReader implements core.DataSource for MongoDB collections of call records
type MongoReader struct {
	client       *mongo.Client
	collection   *mongo.Collection
	cursor       *mongo.Cursor
	changeStream *mongo.ChangeStream
	opts         *MongoReaderOptions
	stats        MongoReaderStats
	connected    bool
}

// NewMongoReader creates a new MongoDB reader. The connection is opened lazily on the first Read.
func NewMongoReader(options ...ReaderOptionMongo) (*MongoReader, error) {
	opts := &MongoReaderOptions{
		URI:            "mongodb://localhost:27017",
		Mode:           ModeFind,
		BatchSize:      1000,
		Timeout:        30 * time.Second,
		ReadPreference: "primary",
		Projection: bson.M{
			"_id":              0,
			core.FieldFrom:     1,
			core.FieldTo:       1,
			core.FieldDuration: 1,
		},
	}

	for _, option := range options {
		option(opts)
	}

	if opts.Database == "" {
		return nil, &MongoReaderError{Op: "validate", Err: fmt.Errorf("database name is required")}
	}
	if opts.Collection == "" {
		return nil, &MongoReaderError{Op: "validate", Err: fmt.Errorf("collection name is required")}
	}
	if opts.Mode != ModeFind && opts.Mode != ModeWatch {
		return nil, &MongoReaderError{Op: "validate", Err: fmt.Errorf("unsupported read mode: %s", opts.Mode)}
	}
	if _, err := readPreference(opts.ReadPreference); err != nil {
		return nil, &MongoReaderError{Op: "validate", Err: err}
	}

	return &MongoReader{
		opts:  opts,
		stats: MongoReaderStats{NullValueCounts: make(map[string]int64)},
	}, nil
}

// ParseMongoLocation splits "<uri>/<database>/<collection>" into its parts.
func ParseMongoLocation(location string) (uri, database, collection string, err error) {
	collIdx := strings.LastIndex(location, "/")
	if collIdx <= 0 {
		return "", "", "", fmt.Errorf("mongo location %q must end with /<database>/<collection>", location)
	}
	dbIdx := strings.LastIndex(location[:collIdx], "/")
	if dbIdx <= 0 {
		return "", "", "", fmt.Errorf("mongo location %q must end with /<database>/<collection>", location)
	}
	uri = location[:dbIdx]
	database = location[dbIdx+1 : collIdx]
	collection = location[collIdx+1:]
	if database == "" || collection == "" || strings.HasSuffix(uri, "/") {
		return "", "", "", fmt.Errorf("mongo location %q must end with /<database>/<collection>", location)
	}
	return uri, database, collection, nil
}

// Connect establishes connection to MongoDB
func (mr *MongoReader) Connect(ctx context.Context) error {
	if mr.connected {
		return nil
	}

	client, err := mongo.Connect(ctx, mr.buildClientOptions())
	if err != nil {
		return &MongoReaderError{Op: "connect", Err: err}
	}

	pingCtx, cancel := context.WithTimeout(ctx, mr.opts.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(ctx)
		return &MongoReaderError{Op: "ping", Err: err}
	}

	mr.client = client
	mr.collection = client.Database(mr.opts.Database).Collection(mr.opts.Collection)
	mr.connected = true
	return nil
}

// buildClientOptions constructs MongoDB client options from reader configuration
func (mr *MongoReader) buildClientOptions() *options.ClientOptions {
	clientOpts := options.Client().ApplyURI(mr.opts.URI)

	if mr.opts.Timeout > 0 {
		clientOpts.SetConnectTimeout(mr.opts.Timeout)
	}

	if mr.opts.Username != "" && mr.opts.Password != "" {
		auth := options.Credential{
			Username:   mr.opts.Username,
			Password:   mr.opts.Password,
			AuthSource: mr.opts.AuthDatabase,
		}
		if auth.AuthSource == "" {
			auth.AuthSource = mr.opts.Database
		}
		clientOpts.SetAuth(auth)
	}

	if mr.opts.TLS {
		clientOpts.SetTLSConfig(&tls.Config{InsecureSkipVerify: mr.opts.TLSInsecure})
	}

	// Validated in NewMongoReader.
	pref, _ := readPreference(mr.opts.ReadPreference)
	clientOpts.SetReadPreference(pref)

	return clientOpts
}

func readPreference(name string) (*readpref.ReadPref, error) {
	switch name {
	case "", "primary":
		return readpref.Primary(), nil
	case "primaryPreferred":
		return readpref.PrimaryPreferred(), nil
	case "secondary":
		return readpref.Secondary(), nil
	case "secondaryPreferred":
		return readpref.SecondaryPreferred(), nil
	case "nearest":
		return readpref.Nearest(), nil
	default:
		return nil, fmt.Errorf("invalid read preference: %s", name)
	}
}

// Read implements the core.DataSource interface
func (mr *MongoReader) Read(ctx context.Context) (core.Record, error) {
	start := time.Now()
	defer func() {
		mr.stats.ReadDuration += time.Since(start)
		mr.stats.LastReadTime = time.Now()
	}()

	select {
	case <-ctx.Done():
		return nil, &MongoReaderError{Op: "read", Collection: mr.opts.Collection, Err: ctx.Err()}
	default:
	}

	if err := mr.Connect(ctx); err != nil {
		return nil, err
	}
	if mr.cursor == nil && mr.changeStream == nil {
		if err := mr.initializeCursor(ctx); err != nil {
			return nil, &MongoReaderError{Op: "init_cursor", Collection: mr.opts.Collection, Err: err}
		}
	}

	doc, err := mr.next(ctx)
	if err != nil {
		return nil, err
	}

	record := convertBSONToRecord(doc)
	mr.stats.RecordsRead++
	for key, val := range record {
		if val == nil {
			mr.stats.NullValueCounts[key]++
		}
	}
	return record, nil
}

func (mr *MongoReader) next(ctx context.Context) (bson.M, error) {
	if mr.changeStream != nil {
		if !mr.changeStream.Next(ctx) {
			if err := mr.changeStream.Err(); err != nil {
				mr.stats.ErrorCount++
				return nil, &MongoReaderError{Op: "changestream_next", Collection: mr.opts.Collection, Err: err}
			}
			return nil, io.EOF
		}
		var event struct {
			FullDocument bson.M `bson:"fullDocument"`
		}
		if err := mr.changeStream.Decode(&event); err != nil {
			mr.stats.ErrorCount++
			return nil, &MongoReaderError{Op: "changestream_decode", Collection: mr.opts.Collection, Err: err}
		}
		return event.FullDocument, nil
	}

	if !mr.cursor.Next(ctx) {
		if err := mr.cursor.Err(); err != nil {
			mr.stats.ErrorCount++
			return nil, &MongoReaderError{Op: "cursor_next", Collection: mr.opts.Collection, Err: err}
		}
		return nil, io.EOF
	}
	var doc bson.M
	if err := mr.cursor.Decode(&doc); err != nil {
		mr.stats.ErrorCount++
		return nil, &MongoReaderError{Op: "decode", Collection: mr.opts.Collection, Err: err}
	}
	return doc, nil
}

// Close implements the core.DataSource interface
func (mr *MongoReader) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mr.opts.Timeout)
	defer cancel()

	var errs []string
	if mr.cursor != nil {
		if err := mr.cursor.Close(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("cursor close: %v", err))
		}
		mr.cursor = nil
	}
	if mr.changeStream != nil {
		if err := mr.changeStream.Close(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("changestream close: %v", err))
		}
		mr.changeStream = nil
	}
	if mr.client != nil {
		if err := mr.client.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("client disconnect: %v", err))
		}
		mr.client = nil
	}
	mr.connected = false

	if len(errs) > 0 {
		return &MongoReaderError{Op: "close", Err: fmt.Errorf("multiple errors: %s", strings.Join(errs, "; "))}
	}
	return nil
}

// Stats returns MongoDB reader performance statistics
func (mr *MongoReader) Stats() MongoReaderStats {
	return mr.stats
}

func (mr *MongoReader) initializeCursor(ctx context.Context) error {
	mr.stats.QueriesExecuted++

	if mr.opts.Mode == ModeWatch {
		streamOpts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
		if mr.opts.BatchSize > 0 {
			streamOpts.SetBatchSize(mr.opts.BatchSize)
		}
		pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: bson.M{"operationType": "insert"}}}}
		changeStream, err := mr.collection.Watch(ctx, pipeline, streamOpts)
		if err != nil {
			return fmt.Errorf("failed to create change stream: %w", err)
		}
		mr.changeStream = changeStream
		return nil
	}

	findOpts := options.Find()
	if mr.opts.BatchSize > 0 {
		findOpts.SetBatchSize(mr.opts.BatchSize)
	}
	if mr.opts.Limit > 0 {
		findOpts.SetLimit(mr.opts.Limit)
	}
	if mr.opts.Projection != nil {
		findOpts.SetProjection(mr.opts.Projection)
	}
	if mr.opts.Sort != nil {
		findOpts.SetSort(mr.opts.Sort)
	}

	filter := mr.opts.Filter
	if filter == nil {
		filter = bson.M{}
	}
	cursor, err := mr.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return err
	}
	mr.cursor = cursor
	return nil
}

// convertBSONToRecord converts a BSON document to core.Record
func convertBSONToRecord(doc bson.M) core.Record {
	record := make(core.Record, len(doc))
	for key, value := range doc {
		record[key] = convertBSONValue(value)
	}
	return record
}

// convertBSONValue converts BSON values to the Go types used by the rest of the stream.
// Integers become int so durations match the file readers.
func convertBSONValue(value interface{}) interface{} {
	switch v := value.(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case primitive.ObjectID:
		return v.Hex()
	case primitive.DateTime:
		return v.Time()
	case primitive.Decimal128:
		return v.String()
	case primitive.Binary:
		return v.Data
	case primitive.Undefined, primitive.Null:
		return nil
	case bson.M:
		result := make(map[string]interface{}, len(v))
		for k, val := range v {
			result[k] = convertBSONValue(val)
		}
		return result
	case bson.A:
		result := make([]interface{}, len(v))
		for i, val := range v {
			result[i] = convertBSONValue(val)
		}
		return result
	default:
		return v
	}
}
