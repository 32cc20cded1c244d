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

// Package storage opens raw extracts from local paths or s3:// URIs and
// uploads cleaned outputs to a bucket.
package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// StorageError provides structured error information for storage operations.
type StorageError struct {
	Op  string
	URI string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.URI, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ErrNoS3Client is returned when an s3:// URI is used without S3 options.
var ErrNoS3Client = errors.New("s3 client not configured")

// S3Options configures the S3 client.
type S3Options struct {
	Region          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Endpoint        string
	ForcePathStyle  bool
}

// Enabled reports whether any S3 setting was provided.
func (o S3Options) Enabled() bool {
	return o.Region != "" || o.Profile != "" || o.AccessKeyID != "" || o.Endpoint != ""
}

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Store resolves URIs to readers. A Store without an S3 client only serves local paths.
type Store struct {
	client   S3API
	uploader *s3manager.Uploader
	logger   *zap.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithS3Client overrides the S3 client, mainly for tests.
func WithS3Client(c S3API) Option {
	return func(s *Store) { s.client = c }
}

// NewLocal returns a Store that only serves local paths.
func NewLocal(options ...Option) *Store {
	s := &Store{logger: zap.L().Named("storage")}
	for _, o := range options {
		o(s)
	}
	return s
}

// New builds a Store. The S3 client is created only when opts carries settings.
func New(ctx context.Context, opts S3Options, options ...Option) (*Store, error) {
	s := NewLocal(options...)
	if !opts.Enabled() || s.client != nil {
		return s, nil
	}
	client, err := NewS3Client(ctx, opts)
	if err != nil {
		return nil, &StorageError{Op: "config", Err: err}
	}
	s.client = client
	s.uploader = s3manager.NewUploader(client)
	return s, nil
}

// NewS3Client loads the default AWS configuration and applies overrides from opts.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var configOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, err
	}
	if opts.AccessKeyID != "" {
		cfg.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken),
		)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.ForcePathStyle
	}), nil
}

// ParseS3URI splits s3://bucket/key. ok is false for anything else.
func ParseS3URI(uri string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// Join appends a file name to a local directory or an s3:// prefix.
func Join(base, name string) string {
	if strings.HasPrefix(base, "s3://") {
		return strings.TrimSuffix(base, "/") + "/" + path.Clean(name)
	}
	return filepath.Join(base, name)
}

// Open returns a reader for a local path or an s3:// URI.
func (s *Store) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, isS3 := ParseS3URI(uri)
	if !isS3 {
		f, err := os.Open(uri)
		if err != nil {
			return nil, &StorageError{Op: "open", URI: uri, Err: err}
		}
		return readCloser{Reader: bufio.NewReader(f), Closer: f}, nil
	}
	if s.client == nil {
		return nil, &StorageError{Op: "open", URI: uri, Err: ErrNoS3Client}
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			err = fmt.Errorf("%w: %v", os.ErrNotExist, err)
		}
		return nil, &StorageError{Op: "get_object", URI: uri, Err: err}
	}
	s.logger.Debug("opened object", zap.String("bucket", bucket), zap.String("key", key))
	return out.Body, nil
}

// Exists reports whether uri names an existing file or object.
func (s *Store) Exists(ctx context.Context, uri string) (bool, error) {
	bucket, key, isS3 := ParseS3URI(uri)
	if !isS3 {
		info, err := os.Stat(uri)
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, &StorageError{Op: "stat", URI: uri, Err: err}
		}
		return !info.IsDir(), nil
	}
	if s.client == nil {
		return false, &StorageError{Op: "head_object", URI: uri, Err: ErrNoS3Client}
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *s3types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, &StorageError{Op: "head_object", URI: uri, Err: err}
	}
	return true, nil
}

// Uploader copies local files under a bucket prefix.
type Uploader struct {
	Bucket   string
	Prefix   string
	uploader *s3manager.Uploader
	logger   *zap.Logger
}

// Uploader returns an Uploader for bucket/prefix, or an error when S3 is not configured.
func (s *Store) Uploader(bucket, prefix string) (*Uploader, error) {
	if s.uploader == nil {
		return nil, &StorageError{Op: "uploader", URI: "s3://" + bucket, Err: ErrNoS3Client}
	}
	return &Uploader{Bucket: bucket, Prefix: prefix, uploader: s.uploader, logger: s.logger}, nil
}

// Manager exposes the underlying s3 manager, nil without S3.
func (s *Store) Manager() *s3manager.Uploader {
	return s.uploader
}

// UploadFile uploads localPath as Prefix/key and returns the object URI.
func (u *Uploader) UploadFile(ctx context.Context, localPath, key string) (string, error) {
	objectKey := key
	if u.Prefix != "" {
		objectKey = strings.TrimSuffix(u.Prefix, "/") + "/" + key
	}
	uri := "s3://" + u.Bucket + "/" + objectKey

	f, err := os.Open(localPath)
	if err != nil {
		return "", &StorageError{Op: "upload", URI: uri, Err: err}
	}
	defer f.Close()

	if _, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.Bucket),
		Key:    aws.String(objectKey),
		Body:   f,
	}); err != nil {
		return "", &StorageError{Op: "upload", URI: uri, Err: err}
	}
	u.logger.Info("uploaded", zap.String("file", localPath), zap.String("uri", uri))
	return uri, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}
