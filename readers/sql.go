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
	"database/sql"
	"fmt"
	"io"
	"regexp"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/aaronlmathis/callstream/core"
)

// This file implements a database/sql spout for call records stored in PostgreSQL or SQLite.

// SQLReaderError provides structured error information for SQL reader operations
type SQLReaderError struct {
	Op  string // Operation that failed (e.g., "open", "query", "scan")
	Err error  // Underlying error
}

func (e *SQLReaderError) Error() string {
	return fmt.Sprintf("sql reader %s: %v", e.Op, e.Err)
}

func (e *SQLReaderError) Unwrap() error {
	return e.Err
}

// SQLReaderStats holds statistics about the SQL reader's performance
type SQLReaderStats struct {
	RecordsRead     int64
	QueryDuration   time.Duration
	ReadDuration    time.Duration
	NullValueCounts map[string]int64
}

// DefaultCallTable is the table read when none is configured.
const DefaultCallTable = "call_records"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLReader implements core.DataSource over the rows of a query.
// The query runs on the first Read.
type SQLReader struct {
	db          *sql.DB
	ownsDB      bool
	query       string
	args        []interface{}
	rows        *sql.Rows
	columnNames []string
	values      []interface{}
	scanBuffer  []interface{}
	stats       SQLReaderStats
}

// NewSQLReader creates a reader over an open database. The caller keeps ownership of db.
func NewSQLReader(db *sql.DB, query string, args ...interface{}) *SQLReader {
	return &SQLReader{
		db:    db,
		query: query,
		args:  args,
		stats: SQLReaderStats{NullValueCounts: make(map[string]int64)},
	}
}

// OpenCallTableReader opens driverName ("postgres" or "sqlite") at dsn and reads
// the call record columns of table. The reader closes the database on Close.
func OpenCallTableReader(driverName, dsn, table string) (*SQLReader, error) {
	if table == "" {
		table = DefaultCallTable
	}
	if !identifierPattern.MatchString(table) {
		return nil, &SQLReaderError{Op: "validate", Err: fmt.Errorf("invalid table name %q", table)}
	}
	switch driverName {
	case "postgres", "sqlite":
	default:
		return nil, &SQLReaderError{Op: "validate", Err: fmt.Errorf("unsupported driver %q", driverName)}
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, &SQLReaderError{Op: "open", Err: err}
	}

	query := fmt.Sprintf(`SELECT %q, %q, %q FROM %s`, core.FieldFrom, core.FieldTo, core.FieldDuration, table)
	reader := NewSQLReader(db, query)
	reader.ownsDB = true
	return reader, nil
}

// Read implements the core.DataSource interface
func (r *SQLReader) Read(ctx context.Context) (core.Record, error) {
	start := time.Now()
	defer func() {
		r.stats.ReadDuration += time.Since(start)
	}()

	select {
	case <-ctx.Done():
		return nil, &SQLReaderError{Op: "read", Err: ctx.Err()}
	default:
	}

	if r.rows == nil {
		if err := r.executeQuery(ctx); err != nil {
			return nil, err
		}
	}

	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return nil, &SQLReaderError{Op: "next", Err: err}
		}
		return nil, io.EOF
	}

	if err := r.rows.Scan(r.scanBuffer...); err != nil {
		return nil, &SQLReaderError{Op: "scan", Err: err}
	}

	r.stats.RecordsRead++
	return r.convertRowToRecord(), nil
}

// Close implements the core.DataSource interface
func (r *SQLReader) Close() error {
	var err error
	if r.rows != nil {
		err = r.rows.Close()
		r.rows = nil
	}
	if r.ownsDB && r.db != nil {
		if cerr := r.db.Close(); cerr != nil && err == nil {
			err = cerr
		}
		r.db = nil
	}
	if err != nil {
		return &SQLReaderError{Op: "close", Err: err}
	}
	return nil
}

// Stats returns SQL reader statistics
func (r *SQLReader) Stats() SQLReaderStats {
	return r.stats
}

func (r *SQLReader) executeQuery(ctx context.Context) error {
	start := time.Now()
	rows, err := r.db.QueryContext(ctx, r.query, r.args...)
	if err != nil {
		return &SQLReaderError{Op: "query", Err: err}
	}
	r.stats.QueryDuration = time.Since(start)

	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return &SQLReaderError{Op: "columns", Err: err}
	}

	r.rows = rows
	r.columnNames = columns
	r.values = make([]interface{}, len(columns))
	r.scanBuffer = make([]interface{}, len(columns))
	for i := range r.scanBuffer {
		r.scanBuffer[i] = &r.values[i]
	}
	return nil
}

// convertRowToRecord converts the scanned SQL row values to a core.Record
func (r *SQLReader) convertRowToRecord() core.Record {
	record := make(core.Record, len(r.columnNames))
	for i, columnName := range r.columnNames {
		value := r.values[i]
		if value == nil {
			r.stats.NullValueCounts[columnName]++
			record[columnName] = nil
			continue
		}
		record[columnName] = convertSQLValue(value)
	}
	return record
}

// convertSQLValue converts SQL driver values to the Go types used by the stream.
func convertSQLValue(value interface{}) interface{} {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case int64:
		return int(v)
	case int32:
		return int(v)
	default:
		return v
	}
}
