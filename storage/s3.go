//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of FlowDigest.
//
// FlowDigest is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// FlowDigest is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with FlowDigest. If not, see https://www.gnu.org/licenses/.

// Package storage implements the object-store collaborator on Amazon S3 and S3-compatible services.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/aaronlmathis/flowdigest/core"
)

// S3StoreError provides structured error information for S3 store operations
type S3StoreError struct {
	Op     string // Operation that failed (e.g., "head", "get", "put", "list")
	Bucket string
	Key    string
	Err    error // Underlying error
}

func (e *S3StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("s3 %s s3://%s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("s3 %s s3://%s: %v", e.Op, e.Bucket, e.Err)
}

func (e *S3StoreError) Unwrap() error {
	return e.Err
}

// S3StoreStats holds statistics about object store traffic
type S3StoreStats struct {
	Heads         int64
	Gets          int64
	Puts          int64
	BytesWritten  int64
	ObjectsListed int64
	LastOpTime    time.Time
}

// AWSOptions configures AWS client construction.
type AWSOptions struct {
	Region         string          // AWS region
	Profile        string          // AWS profile to use
	Credentials    aws.Credentials // Explicit credentials
	EndpointURL    string          // Custom endpoint (for S3-compatible services and local stacks)
	ForcePathStyle bool            // Use path-style addressing
}

// LoadAWSConfig creates AWS configuration from options. Explicit credentials override the default
// provider chain.
func LoadAWSConfig(ctx context.Context, opts AWSOptions) (aws.Config, error) {
	configOpts := []func(*config.LoadOptions) error{}

	if opts.Region != "" {
		configOpts = append(configOpts, config.WithRegion(opts.Region))
	}

	if opts.Profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, err
	}

	if opts.Credentials.AccessKeyID != "" {
		cfg.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(
				opts.Credentials.AccessKeyID,
				opts.Credentials.SecretAccessKey,
				opts.Credentials.SessionToken,
			),
		)
	}

	return cfg, nil
}

// NewS3Client builds an S3 client honouring a custom endpoint and path-style addressing.
func NewS3Client(cfg aws.Config, opts AWSOptions) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.EndpointURL != "" {
			o.BaseEndpoint = aws.String(opts.EndpointURL)
		}
		o.UsePathStyle = opts.ForcePathStyle
	})
}

// s3API is the subset of *s3.Client used by S3Store.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// S3Store implements core.ObjectStore over S3.
type S3Store struct {
	client  s3API
	maxKeys int32
	stats   S3StoreStats
	mu      sync.Mutex
}

// S3StoreOption allows functional customization of S3Store.
type S3StoreOption func(*S3Store)

// WithMaxKeys sets the page size used when listing.
func WithMaxKeys(n int32) S3StoreOption {
	return func(s *S3Store) { s.maxKeys = n }
}

// NewS3Store wraps an S3 client.
func NewS3Store(client s3API, opts ...S3StoreOption) *S3Store {
	s := &S3Store{client: client, maxKeys: 1000}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Head implements core.ObjectStore.
func (s *S3Store) Head(ctx context.Context, bucket, key string) (core.ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	s.record(func(st *S3StoreStats) { st.Heads++ })
	if err != nil {
		if isNotFound(err) {
			return core.ObjectInfo{}, &S3StoreError{Op: "head", Bucket: bucket, Key: key,
				Err: fmt.Errorf("%w: %v", core.ErrObjectNotFound, err)}
		}
		return core.ObjectInfo{}, &S3StoreError{Op: "head", Bucket: bucket, Key: key, Err: err}
	}

	return core.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
		ETag:         strings.Trim(aws.ToString(out.ETag), "\""),
		ContentType:  aws.ToString(out.ContentType),
	}, nil
}

// Get implements core.ObjectStore.
func (s *S3Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	s.record(func(st *S3StoreStats) { st.Gets++ })
	if err != nil {
		if isNotFound(err) {
			err = fmt.Errorf("%w: %v", core.ErrObjectNotFound, err)
		}
		return nil, &S3StoreError{Op: "get", Bucket: bucket, Key: key, Err: err}
	}
	return out.Body, nil
}

// Put implements core.ObjectStore. The body is written as a single object.
func (s *S3Store) Put(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return &S3StoreError{Op: "put", Bucket: bucket, Key: key, Err: err}
	}
	s.record(func(st *S3StoreStats) {
		st.Puts++
		st.BytesWritten += int64(len(body))
	})
	return nil
}

// List implements core.ObjectStore using the ListObjectsV2 paginator.
func (s *S3Store) List(ctx context.Context, bucket, prefix string) ([]core.ObjectInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		MaxKeys: aws.Int32(s.maxKeys),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var objects []core.ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &S3StoreError{Op: "list", Bucket: bucket, Err: err}
		}
		for _, obj := range page.Contents {
			objects = append(objects, core.ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         strings.Trim(aws.ToString(obj.ETag), "\""),
			})
		}
	}

	s.record(func(st *S3StoreStats) { st.ObjectsListed += int64(len(objects)) })
	return objects, nil
}

// Stats returns a copy of the store statistics.
func (s *S3Store) Stats() S3StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *S3Store) record(fn func(*S3StoreStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.stats)
	s.stats.LastOpTime = time.Now()
}

// isNotFound reports whether err means the object does not exist. HEAD responses carry no body,
// so the SDK surfaces them as a bare NotFound code.
func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
