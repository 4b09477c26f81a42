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

// Package types turns output configuration into the secondary summary sinks.
package types

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aaronlmathis/flowdigest/config"
	"github.com/aaronlmathis/flowdigest/core"
	"github.com/aaronlmathis/flowdigest/ingest"
	"github.com/aaronlmathis/flowdigest/writers"
)

// ParquetContentType is the content type of exported Parquet summaries.
const ParquetContentType = "application/vnd.apache.parquet"

// OutputLocation creates a SummarySink for one configured destination.
type OutputLocation interface {
	NewSink(ctx context.Context) (core.SummarySink, error)
}

// uploader is the part of *s3manager.Uploader the Parquet sink uses.
type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

// S3Location exports a Parquet copy of every summary to an S3 bucket.
type S3Location struct {
	Bucket   string
	Uploader *s3manager.Uploader
}

// NewSink creates the Parquet export sink. Without an Uploader the default AWS configuration
// is loaded.
func (s S3Location) NewSink(ctx context.Context) (core.SummarySink, error) {
	if s.Bucket == "" {
		return nil, errors.New("s3 location requires a bucket")
	}
	if s.Uploader == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		s.Uploader = s3manager.NewUploader(s3.NewFromConfig(cfg))
	}
	return NewParquetSummarySink(s.Uploader, s.Bucket), nil
}

// ParquetSummarySink uploads each summary as a Parquet file next to its CSV copy's name.
type ParquetSummarySink struct {
	uploader uploader
	bucket   string
	options  []writers.WriterOption
}

// NewParquetSummarySink creates a sink uploading to bucket.
func NewParquetSummarySink(u uploader, bucket string, options ...writers.WriterOption) *ParquetSummarySink {
	return &ParquetSummarySink{uploader: u, bucket: bucket, options: options}
}

// Name identifies the sink.
func (p *ParquetSummarySink) Name() string {
	return "parquet"
}

// WriteSummary encodes and uploads the summary. Re-uploading the same key overwrites it.
func (p *ParquetSummarySink) WriteSummary(ctx context.Context, meta core.SummaryMeta, summary *core.DailySummary) error {
	options := append([]writers.WriterOption{writers.WithMetadata(map[string]string{
		"source_container": meta.Source.Container,
		"source_key":       meta.Source.Key,
		"summary_key":      meta.Output.Key,
		"processed_at":     meta.ProcessedAt.UTC().Format(time.RFC3339),
	})}, p.options...)

	data, err := writers.EncodeSummaryParquet(ctx, summary, options...)
	if err != nil {
		return err
	}

	key := ingest.ParquetKey(meta.Output.Key)
	_, err = p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(ParquetContentType),
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", p.bucket, key, err)
	}
	return nil
}

// Close is a no-op; the uploader holds no resources of its own.
func (p *ParquetSummarySink) Close(ctx context.Context) error {
	return nil
}

// PostgresLocation directs summaries to a PostgreSQL table.
type PostgresLocation struct {
	DSN   string
	Table string
}

// NewSink connects to PostgreSQL and ensures the table exists.
func (p PostgresLocation) NewSink(ctx context.Context) (core.SummarySink, error) {
	opts := []writers.PostgresWriterOption{writers.WithPostgresDSN(p.DSN)}
	if p.Table != "" {
		opts = append(opts, writers.WithTableName(p.Table))
	}
	sink, err := writers.NewPostgresSummarySink(opts...)
	if err != nil {
		return nil, err
	}
	return sink, nil
}

// MongoLocation directs summaries to a MongoDB collection.
type MongoLocation struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

// NewSink connects to MongoDB.
func (m MongoLocation) NewSink(ctx context.Context) (core.SummarySink, error) {
	opts := []writers.WriterOptionMongo{
		writers.WithMongoURI(m.URI),
		writers.WithMongoDB(m.Database),
		writers.WithMongoCollection(m.Collection),
	}
	if m.Timeout > 0 {
		opts = append(opts, writers.WithMongoTimeout(m.Timeout))
	}
	sink, err := writers.NewMongoSummarySink(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return sink, nil
}

// Locations lists the enabled secondary destinations in the order they run.
func Locations(cfg *config.Config, up *s3manager.Uploader) []OutputLocation {
	var locations []OutputLocation
	if cfg.Output.Parquet.Enabled {
		bucket := cfg.Output.Parquet.Bucket
		if bucket == "" {
			bucket = cfg.Output.Bucket
		}
		locations = append(locations, S3Location{Bucket: bucket, Uploader: up})
	}
	if cfg.Postgres.Enabled {
		locations = append(locations, PostgresLocation{DSN: cfg.Postgres.DSN, Table: cfg.Postgres.Table})
	}
	if cfg.Mongo.Enabled {
		locations = append(locations, MongoLocation{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
			Timeout:    cfg.Mongo.Timeout,
		})
	}
	return locations
}

// OpenSinks opens a sink per location. If any fails, the ones already open are closed.
func OpenSinks(ctx context.Context, locations []OutputLocation) ([]core.SummarySink, error) {
	sinks := make([]core.SummarySink, 0, len(locations))
	for _, loc := range locations {
		sink, err := loc.NewSink(ctx)
		if err != nil {
			_ = CloseSinks(ctx, sinks)
			return nil, fmt.Errorf("open %T: %w", loc, err)
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

// CloseSinks closes every sink and joins their errors.
func CloseSinks(ctx context.Context, sinks []core.SummarySink) error {
	var errs []error
	for _, sink := range sinks {
		if err := sink.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
