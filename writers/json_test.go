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
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aaronlmathis/callstream/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, output string) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestJSONWriter_WritesSnapshotLines(t *testing.T) {
	mock := newMockWriteCloser()
	writer := NewJSONWriter(mock)
	ctx := context.Background()

	require.NoError(t, writer.Write(ctx, core.Record{"call": "1234123401 - 1234123402", "count": int64(12)}))
	require.NoError(t, writer.Write(ctx, core.Record{"call": "1234123401 - 1234123403", "count": int64(7)}))
	assert.Empty(t, mock.String(), "nothing reaches the underlying writer before a flush")

	require.NoError(t, writer.Close())
	assert.True(t, mock.IsClosed())

	lines := decodeLines(t, mock.String())
	require.Len(t, lines, 2)
	assert.Equal(t, "1234123401 - 1234123402", lines[0]["call"])
	assert.Equal(t, float64(12), lines[0]["count"])
	assert.Equal(t, float64(7), lines[1]["count"])
}

func TestJSONWriter_BatchedWrites(t *testing.T) {
	mock := newMockWriteCloser()
	writer := NewJSONWriter(mock, WithJSONBatchSize(2))
	ctx := context.Background()

	require.NoError(t, writer.Write(ctx, core.Record{"call": "a - b", "count": int64(1)}))
	assert.Empty(t, mock.String())

	require.NoError(t, writer.Write(ctx, core.Record{"call": "a - c", "count": int64(2)}))
	assert.Len(t, decodeLines(t, mock.String()), 2)
	assert.Equal(t, int64(1), writer.Stats().FlushCount)

	require.NoError(t, writer.Write(ctx, core.Record{"call": "a - d", "count": int64(3)}))
	require.NoError(t, writer.Flush())
	assert.Len(t, decodeLines(t, mock.String()), 3)
	assert.Equal(t, int64(2), writer.Stats().FlushCount)
}

func TestJSONWriter_FlushOnWrite(t *testing.T) {
	mock := newMockWriteCloser()
	writer := NewJSONWriter(mock, WithFlushOnWrite(true))

	require.NoError(t, writer.Write(context.Background(), core.Record{"call": "a - b", "count": int64(1)}))
	assert.Contains(t, mock.String(), `"call":"a - b"`)
}

func TestJSONWriter_NullValueTracking(t *testing.T) {
	mock := newMockWriteCloser()
	writer := NewJSONWriter(mock)
	var missing *int64

	require.NoError(t, writer.Write(context.Background(), core.Record{"call": "a - b", "count": nil}))
	require.NoError(t, writer.Write(context.Background(), core.Record{"call": nil, "count": int64(1)}))
	require.NoError(t, writer.Write(context.Background(), core.Record{"call": "a - c", "count": missing}))
	require.NoError(t, writer.Close())

	stats := writer.Stats()
	assert.Equal(t, int64(3), stats.RecordsWritten)
	assert.Equal(t, int64(1), stats.NullValueCounts["count"])
	assert.Equal(t, int64(1), stats.NullValueCounts["call"])

	lines := decodeLines(t, mock.String())
	assert.Nil(t, lines[2]["count"], "a nil *int64 encodes as null")
}

func TestJSONWriter_ErrorHandling(t *testing.T) {
	t.Run("write failure surfaces on flush", func(t *testing.T) {
		mock := newMockWriteCloser()
		mock.failWrite = true
		writer := NewJSONWriter(mock)

		require.NoError(t, writer.Write(context.Background(), core.Record{"call": "a - b"}))
		err := writer.Flush()
		require.Error(t, err)

		var jerr *JSONWriterError
		require.True(t, errors.As(err, &jerr))
		assert.Equal(t, "flush", jerr.Op)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("unmarshalable value", func(t *testing.T) {
		writer := NewJSONWriter(newMockWriteCloser())
		err := writer.Write(context.Background(), core.Record{"bad": make(chan int)})

		var jerr *JSONWriterError
		require.True(t, errors.As(err, &jerr))
		assert.Equal(t, "marshal", jerr.Op)
	})

	t.Run("write after close", func(t *testing.T) {
		writer := NewJSONWriter(newMockWriteCloser())
		require.NoError(t, writer.Close())
		assert.Error(t, writer.Write(context.Background(), core.Record{"call": "a - b"}))
		assert.NoError(t, writer.Close(), "close is idempotent")
	})

	t.Run("close failure", func(t *testing.T) {
		mock := newMockWriteCloser()
		mock.failClose = true
		writer := NewJSONWriter(mock)
		assert.Error(t, writer.Close())
	})
}

func TestJSONWriter_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	writer := NewJSONWriter(newMockWriteCloser())
	err := writer.Write(ctx, core.Record{"call": "a - b"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJSONWriter_ConcurrentSafety(t *testing.T) {
	mock := newMockWriteCloser()
	writer := NewJSONWriter(mock, WithJSONBatchSize(5))

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NoError(t, writer.Write(context.Background(), core.Record{"call": "a - b", "count": int64(i)}))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, writer.Close())

	assert.Len(t, decodeLines(t, mock.String()), 100)
	assert.Equal(t, int64(100), writer.Stats().RecordsWritten)
}
