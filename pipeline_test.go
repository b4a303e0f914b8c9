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

package callstream

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aaronlmathis/callstream/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	records []core.Record
	pos     int
	closed  bool
}

func (s *sliceSource) Read(ctx context.Context) (core.Record, error) {
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	r := s.records[s.pos]
	s.pos++
	return r, nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

type batchSink struct {
	current []core.Record
	batches [][]core.Record
	closed  bool
}

func (s *batchSink) Write(ctx context.Context, record core.Record) error {
	s.current = append(s.current, record)
	return nil
}

func (s *batchSink) Flush() error {
	s.batches = append(s.batches, s.current)
	s.current = nil
	return nil
}

func (s *batchSink) Close() error {
	s.closed = true
	return nil
}

func calls(n int) []core.Record {
	out := make([]core.Record, n)
	for i := range out {
		out[i] = core.CallRecord{From: "1", To: "2", Duration: i}.Record()
	}
	return out
}

func TestPipeline_FlushesEveryBatch(t *testing.T) {
	src := &sliceSource{records: calls(10)}
	sink := &batchSink{}

	p, err := NewPipeline().From(src).To(sink).WithBatchSize(4).Build()
	require.NoError(t, err)
	require.NoError(t, p.Execute(context.Background()))

	require.Len(t, sink.batches, 3)
	assert.Len(t, sink.batches[0], 4)
	assert.Len(t, sink.batches[1], 4)
	assert.Len(t, sink.batches[2], 2)
	assert.True(t, src.closed)
	assert.True(t, sink.closed)

	stats := p.Stats()
	assert.Equal(t, int64(10), stats.RecordsRead)
	assert.Equal(t, int64(10), stats.RecordsWritten)
	assert.Equal(t, int64(3), stats.Batches)
}

type ctxKey struct{}

type contextSink struct {
	batchSink
	seen []interface{}
}

func (s *contextSink) FlushContext(ctx context.Context) error {
	s.seen = append(s.seen, ctx.Value(ctxKey{}))
	return s.Flush()
}

func TestPipeline_FlushContextReceivesRunContext(t *testing.T) {
	sink := &contextSink{}
	p, err := NewPipeline().From(&sliceSource{records: calls(3)}).To(sink).WithBatchSize(2).Build()
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), ctxKey{}, "run-1")
	require.NoError(t, p.Execute(ctx))

	require.Len(t, sink.batches, 2)
	assert.Equal(t, []interface{}{"run-1", "run-1"}, sink.seen)
}

func TestPipeline_EmptySourceDoesNotFlush(t *testing.T) {
	sink := &batchSink{}
	p, err := NewPipeline().From(&sliceSource{}).To(sink).Build()
	require.NoError(t, err)
	require.NoError(t, p.Execute(context.Background()))
	assert.Empty(t, sink.batches)
}

func TestPipeline_TransformAndFilter(t *testing.T) {
	sink := &batchSink{}
	p, err := NewPipeline().
		From(&sliceSource{records: calls(6)}).
		Transform(core.TransformFunc(func(ctx context.Context, r core.Record) (core.Record, error) {
			r["even"] = r[core.FieldDuration].(int)%2 == 0
			return r, nil
		})).
		Filter(core.FilterFunc(func(ctx context.Context, r core.Record) (bool, error) {
			return r["even"].(bool), nil
		})).
		To(sink).
		WithBatchSize(100).
		Build()
	require.NoError(t, err)
	require.NoError(t, p.Execute(context.Background()))

	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0], 3)
	assert.Equal(t, int64(3), p.Stats().RecordsFiltered)
}

func TestPipeline_ErrorStrategies(t *testing.T) {
	boom := errors.New("boom")
	failOdd := core.TransformFunc(func(ctx context.Context, r core.Record) (core.Record, error) {
		if r[core.FieldDuration].(int)%2 == 1 {
			return nil, boom
		}
		return r, nil
	})

	t.Run("fail fast", func(t *testing.T) {
		p, err := NewPipeline().From(&sliceSource{records: calls(4)}).Transform(failOdd).To(&batchSink{}).Build()
		require.NoError(t, err)
		assert.ErrorIs(t, p.Execute(context.Background()), boom)
	})

	t.Run("skip errors", func(t *testing.T) {
		sink := &batchSink{}
		p, err := NewPipeline().From(&sliceSource{records: calls(4)}).Transform(failOdd).To(sink).
			WithErrorStrategy(core.SkipErrors).Build()
		require.NoError(t, err)
		require.NoError(t, p.Execute(context.Background()))
		assert.Len(t, sink.batches[0], 2)
		assert.Equal(t, int64(2), p.Stats().RecordsFailed)
		assert.Empty(t, p.Errors())
	})

	t.Run("collect errors", func(t *testing.T) {
		var handled int
		handler := core.ErrorHandlerFunc(func(ctx context.Context, r core.Record, err error) error {
			handled++
			return nil
		})
		p, err := NewPipeline().From(&sliceSource{records: calls(4)}).Transform(failOdd).To(&batchSink{}).
			WithErrorStrategy(core.CollectErrors).WithErrorHandler(handler).Build()
		require.NoError(t, err)
		require.NoError(t, p.Execute(context.Background()))
		assert.Len(t, p.Errors(), 2)
		assert.Equal(t, 2, handled)
	})
}

func TestPipeline_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, err := NewPipeline().From(&sliceSource{records: calls(3)}).To(&batchSink{}).Build()
	require.NoError(t, err)
	assert.ErrorIs(t, p.Execute(ctx), context.Canceled)
}

func TestPipelineBuilder_Validation(t *testing.T) {
	_, err := NewPipeline().To(&batchSink{}).Build()
	assert.Error(t, err)

	_, err = NewPipeline().From(&sliceSource{}).Build()
	assert.Error(t, err)

	_, err = NewPipeline().From(&sliceSource{}).To(&batchSink{}).WithBatchSize(0).Build()
	assert.Error(t, err)
}
