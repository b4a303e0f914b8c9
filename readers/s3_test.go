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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/callstream/core"
)

type fakeS3 struct {
	objects map[string]string
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for key, body := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(key), Size: aws.Int64(int64(len(body)))})
		}
	}
	return out, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body := f.objects[aws.ToString(in.Key)]
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestS3Reader_ReadsObjectsInKeyOrder(t *testing.T) {
	client := &fakeS3{objects: map[string]string{
		"calls/b.jsonl":    `{"fromMobileNumber":"3","toMobileNumber":"4","duration":2}` + "\n",
		"calls/a.csv":      "fromMobileNumber,toMobileNumber,duration\n1,2,1\n",
		"calls/":           "",
		"other/ignore.csv": "fromMobileNumber\n9\n",
	}}

	reader, err := NewS3ReaderWithClient(context.Background(), client,
		WithS3Bucket("logs"), WithS3Prefix("calls/"), WithS3IncludeKey(true))
	require.NoError(t, err)
	defer reader.Close()

	require.Len(t, reader.Objects(), 2)

	ctx := context.Background()
	first, err := reader.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", first[core.FieldFrom])
	assert.Equal(t, "calls/a.csv", first[S3KeyField])

	second, err := reader.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3", second[core.FieldFrom])

	_, err = reader.Read(ctx)
	assert.Equal(t, io.EOF, err)

	stats := reader.Stats()
	assert.Equal(t, int64(2), stats.RecordsRead)
	assert.Equal(t, []string{"calls/a.csv", "calls/b.jsonl"}, stats.ProcessedFiles)
}

func TestS3Reader_RequiresBucket(t *testing.T) {
	_, err := NewS3ReaderWithClient(context.Background(), &fakeS3{})
	var s3Err *S3ReaderError
	require.ErrorAs(t, err, &s3Err)
	assert.Equal(t, "validate_options", s3Err.Op)
}

func TestParseS3Location(t *testing.T) {
	bucket, prefix := ParseS3Location("s3://logs/calls/2024")
	assert.Equal(t, "logs", bucket)
	assert.Equal(t, "calls/2024", prefix)

	bucket, prefix = ParseS3Location("logs")
	assert.Equal(t, "logs", bucket)
	assert.Empty(t, prefix)
}
