//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of ServiceDW.
//
// ServiceDW is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// ServiceDW is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with ServiceDW. If not, see https://www.gnu.org/licenses/.

package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string]string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[*in.Bucket+"/"+*in.Key]; !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri    string
		bucket string
		key    string
		ok     bool
	}{
		{"s3://raw/extracts/demandes.csv", "raw", "extracts/demandes.csv", true},
		{"s3://raw", "", "", false},
		{"s3:///key.csv", "", "", false},
		{"data/demandes.csv", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, ok := ParseS3URI(tt.uri)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "s3://raw/in/a.csv", Join("s3://raw/in/", "a.csv"))
	assert.Equal(t, filepath.Join("data", "a.csv"), Join("data", "a.csv"))
}

func TestStoreLocal(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "communes.csv")
	require.NoError(t, os.WriteFile(p, []byte("region\nMaritime\n"), 0o644))

	s := NewLocal()
	ctx := context.Background()

	ok, err := s.Exists(ctx, p)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, filepath.Join(dir, "missing.csv"))
	require.NoError(t, err)
	assert.False(t, ok)

	rc, err := s.Open(ctx, p)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "region\nMaritime\n", string(data))

	_, err = s.Open(ctx, filepath.Join(dir, "missing.csv"))
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestStoreS3WithoutClient(t *testing.T) {
	s := NewLocal()
	_, err := s.Open(context.Background(), "s3://raw/a.csv")
	assert.ErrorIs(t, err, ErrNoS3Client)

	_, err = s.Uploader("raw", "cleaned")
	assert.ErrorIs(t, err, ErrNoS3Client)
}

func TestStoreS3(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{"raw/in/centres.csv": "nom_centre\nCentre A\n"}}
	s := NewLocal(WithS3Client(fake))
	ctx := context.Background()

	ok, err := s.Exists(ctx, "s3://raw/in/centres.csv")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "s3://raw/in/other.csv")
	require.NoError(t, err)
	assert.False(t, ok)

	rc, err := s.Open(ctx, "s3://raw/in/centres.csv")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Centre A")

	_, err = s.Open(ctx, "s3://raw/in/other.csv")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestS3OptionsEnabled(t *testing.T) {
	assert.False(t, S3Options{}.Enabled())
	assert.True(t, S3Options{Region: "eu-west-3"}.Enabled())
	assert.True(t, S3Options{Endpoint: "http://localhost:9000"}.Enabled())
}
