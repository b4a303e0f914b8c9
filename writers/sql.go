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
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/aaronlmathis/callstream/core"
)

// This file implements the snapshot writer for SQL databases. Rows are upserted
// into a call_counts table keyed by call, so exporting twice leaves the latest
// count in place.

// DefaultSnapshotTable is the table snapshots are upserted into.
const DefaultSnapshotTable = "call_counts"

// Supported dialects.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLWriterError wraps SQL-specific write errors with context about the operation.
type SQLWriterError struct {
	Op  string // The operation being performed (e.g., "write", "connect")
	Err error  // The underlying error
}

func (e *SQLWriterError) Error() string {
	return fmt.Sprintf("sql writer %s: %v", e.Op, e.Err)
}

func (e *SQLWriterError) Unwrap() error {
	return e.Err
}

// SQLWriterStats holds SQL write statistics.
type SQLWriterStats struct {
	RecordsWritten   int64
	BatchesWritten   int64
	TransactionCount int64
	LastWriteTime    time.Time
	WriteDuration    time.Duration
}

// SQLWriterOptions configures the SQL writer.
type SQLWriterOptions struct {
	TableName       string
	BatchSize       int
	CreateTable     bool
	QueryTimeout    time.Duration
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// SQLWriterOption represents a configuration function for SQLWriterOptions.
type SQLWriterOption func(*SQLWriterOptions)

func WithTableName(name string) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.TableName = name
	}
}

func WithSQLBatchSize(size int) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.BatchSize = size
	}
}

// WithCreateTable controls whether the table is created on first use.
func WithCreateTable(create bool) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.CreateTable = create
	}
}

func WithQueryTimeout(timeout time.Duration) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.QueryTimeout = timeout
	}
}

// WithConnectionPool sets the pool limits applied to databases the writer opens itself.
func WithConnectionPool(maxOpen int, maxLifetime time.Duration) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.MaxOpenConns = maxOpen
		opts.ConnMaxLifetime = maxLifetime
	}
}

func (opts *SQLWriterOptions) withDefaults() *SQLWriterOptions {
	if opts.TableName == "" {
		opts.TableName = DefaultSnapshotTable
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 30 * time.Second
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 4
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}
	return opts
}

// SQLWriter implements DataSink by upserting {call, count} records.
type SQLWriter struct {
	db          *sql.DB
	ownsDB      bool
	dialect     string
	options     *SQLWriterOptions
	upsertQuery string
	initialized bool
	recordBuf   []core.Record
	stats       SQLWriterStats
	closed      bool
	mu          sync.Mutex
}

// NewSQLWriter wraps an open database. The caller keeps ownership of db.
func NewSQLWriter(db *sql.DB, dialect string, opts ...SQLWriterOption) (*SQLWriter, error) {
	options := &SQLWriterOptions{CreateTable: true}
	for _, opt := range opts {
		opt(options)
	}
	options.withDefaults()

	if db == nil {
		return nil, &SQLWriterError{Op: "validate", Err: fmt.Errorf("database is required")}
	}
	if dialect != DialectPostgres && dialect != DialectSQLite {
		return nil, &SQLWriterError{Op: "validate", Err: fmt.Errorf("unsupported dialect %q", dialect)}
	}
	if !tableNamePattern.MatchString(options.TableName) {
		return nil, &SQLWriterError{Op: "validate", Err: fmt.Errorf("invalid table name %q", options.TableName)}
	}

	return &SQLWriter{
		db:          db,
		dialect:     dialect,
		options:     options,
		upsertQuery: upsertQuery(dialect, options.TableName),
		recordBuf:   make([]core.Record, 0, options.BatchSize),
	}, nil
}

// NewSQLiteWriter opens a SQLite database file and returns a writer that owns it.
func NewSQLiteWriter(path string, opts ...SQLWriterOption) (*SQLWriter, error) {
	return openSQLWriter(DialectSQLite, path, opts...)
}

// NewPostgresWriter connects to PostgreSQL and returns a writer that owns the pool.
func NewPostgresWriter(dsn string, opts ...SQLWriterOption) (*SQLWriter, error) {
	return openSQLWriter(DialectPostgres, dsn, opts...)
}

func openSQLWriter(dialect, dsn string, opts ...SQLWriterOption) (*SQLWriter, error) {
	if dsn == "" {
		return nil, &SQLWriterError{Op: "validate", Err: fmt.Errorf("dsn is required")}
	}
	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, &SQLWriterError{Op: "connect", Err: err}
	}

	w, err := NewSQLWriter(db, dialect, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(w.options.MaxOpenConns)
	db.SetConnMaxLifetime(w.options.ConnMaxLifetime)
	w.ownsDB = true
	return w, nil
}

// Write implements the DataSink interface.
func (w *SQLWriter) Write(ctx context.Context, record core.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return &SQLWriterError{Op: "write", Err: fmt.Errorf("writer is closed")}
	}
	if _, ok := record[core.FieldCall].(string); !ok {
		return &SQLWriterError{Op: "write", Err: &core.InputError{Field: core.FieldCall, Err: core.ErrInvalidInput}}
	}
	if _, ok := countValue(record[core.FieldCount]); !ok {
		return &SQLWriterError{Op: "write", Err: &core.InputError{Field: core.FieldCount, Err: core.ErrInvalidInput}}
	}

	w.recordBuf = append(w.recordBuf, record)
	if len(w.recordBuf) >= w.options.BatchSize {
		if err := w.flushBufferUnsafe(ctx); err != nil {
			return &SQLWriterError{Op: "flush_batch", Err: err}
		}
	}
	return nil
}

// Flush implements the DataSink interface.
func (w *SQLWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	if err := w.flushBufferUnsafe(context.Background()); err != nil {
		return &SQLWriterError{Op: "flush", Err: err}
	}
	return nil
}

// Close flushes buffered rows and releases the database if the writer opened it.
func (w *SQLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	var err error
	if ferr := w.flushBufferUnsafe(context.Background()); ferr != nil {
		err = &SQLWriterError{Op: "flush", Err: ferr}
	}
	if w.ownsDB {
		if cerr := w.db.Close(); cerr != nil && err == nil {
			err = &SQLWriterError{Op: "close", Err: cerr}
		}
	}
	return err
}

// Stats returns write statistics.
func (w *SQLWriter) Stats() SQLWriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *SQLWriter) initializeUnsafe(ctx context.Context) error {
	if w.initialized {
		return nil
	}
	if w.options.CreateTable {
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s ("call" TEXT PRIMARY KEY, "count" BIGINT NOT NULL)`, w.options.TableName)
		if _, err := w.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	w.initialized = true
	return nil
}

// flushBufferUnsafe upserts buffered records in one transaction (must hold mutex).
func (w *SQLWriter) flushBufferUnsafe(ctx context.Context) (err error) {
	if len(w.recordBuf) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, w.options.QueryTimeout)
	defer cancel()

	if err := w.initializeUnsafe(ctx); err != nil {
		return err
	}

	start := time.Now()
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, w.upsertQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, record := range w.recordBuf {
		count, _ := countValue(record[core.FieldCount])
		if _, err = stmt.ExecContext(ctx, record[core.FieldCall], count); err != nil {
			return fmt.Errorf("failed to execute upsert: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	w.stats.RecordsWritten += int64(len(w.recordBuf))
	w.stats.BatchesWritten++
	w.stats.TransactionCount++
	w.stats.LastWriteTime = time.Now()
	w.stats.WriteDuration += time.Since(start)
	w.recordBuf = w.recordBuf[:0]
	return nil
}

func upsertQuery(dialect, table string) string {
	placeholders := []string{"?", "?"}
	if dialect == DialectPostgres {
		placeholders = []string{"$1", "$2"}
	}
	return fmt.Sprintf(`INSERT INTO %s ("call", "count") VALUES (%s) ON CONFLICT ("call") DO UPDATE SET "count" = EXCLUDED."count"`,
		table, strings.Join(placeholders, ", "))
}

func countValue(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case *int64:
		if v == nil {
			return 0, false
		}
		return *v, true
	default:
		return 0, false
	}
}
