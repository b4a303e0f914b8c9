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
	"io"
	"strings"
	"testing"

	"github.com/aaronlmathis/callstream/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAllCSV(t *testing.T, reader *CSVReader) []core.Record {
	t.Helper()
	var out []core.Record
	for {
		record, err := reader.Read(context.Background())
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, record)
	}
}

func TestCSVReader_CallRecords(t *testing.T) {
	data := "duration,note,fromMobileNumber,toMobileNumber\n" +
		"42,x,0234123401,1234123402\n" +
		",,alice,bob\n" +
		"7,,,1234123402\n" +
		"1.5,,1,2\n"
	reader, err := NewCSVReader(io.NopCloser(strings.NewReader(data)))
	require.NoError(t, err)
	defer reader.Close()

	got := readAllCSV(t, reader)
	require.Len(t, got, 4)
	assert.Equal(t, core.Record{core.FieldFrom: "0234123401", core.FieldTo: "1234123402", core.FieldDuration: 42}, got[0])
	assert.Equal(t, core.Record{core.FieldFrom: "alice", core.FieldTo: "bob", core.FieldDuration: nil}, got[1])
	assert.Equal(t, "", got[2][core.FieldFrom])
	assert.Equal(t, "1.5", got[3][core.FieldDuration])

	stats := reader.Stats()
	assert.Equal(t, int64(4), stats.RecordsRead)
	assert.Equal(t, int64(1), stats.EmptyDurations)
	assert.Zero(t, stats.ShortRows)
}

func TestCSVReader_ShortRowsAndMissingColumns(t *testing.T) {
	reader, err := NewCSVReader(io.NopCloser(strings.NewReader("fromMobileNumber,toMobileNumber\n1,2\n3\n")))
	require.NoError(t, err)

	got := readAllCSV(t, reader)
	require.Len(t, got, 2)
	assert.Equal(t, core.Record{core.FieldFrom: "1", core.FieldTo: "2"}, got[0])
	_, hasTo := got[1][core.FieldTo]
	assert.False(t, hasTo)
	assert.Equal(t, int64(2), reader.Stats().ShortRows)
}

func TestCSVReader_NoHeaders(t *testing.T) {
	reader, err := NewCSVReader(io.NopCloser(strings.NewReader("1;2;3\n")),
		WithCSVHasHeaders(false), WithCSVComma(';'))
	require.NoError(t, err)

	record, err := reader.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.Record{core.FieldFrom: "1", core.FieldTo: "2", core.FieldDuration: 3}, record)
}

func TestCSVReader_Cancelled(t *testing.T) {
	reader, err := NewCSVReader(io.NopCloser(strings.NewReader("fromMobileNumber\n1\n")))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = reader.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCSVReader_EmptyInput(t *testing.T) {
	_, err := NewCSVReader(io.NopCloser(strings.NewReader("")))
	require.Error(t, err)

	var csvErr *CSVReaderError
	assert.ErrorAs(t, err, &csvErr)
	assert.Equal(t, "read_headers", csvErr.Op)
}
