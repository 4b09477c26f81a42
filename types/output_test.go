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

package types

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/flowdigest/config"
	"github.com/aaronlmathis/flowdigest/core"
)

type fakeUploader struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, input)
	f.bodies = append(f.bodies, body)
	return &s3manager.UploadOutput{Key: input.Key}, nil
}

func testSummary() *core.DailySummary {
	return &core.DailySummary{Rows: []core.SummaryRow{{
		Key:    core.AggregationKey{Date: "2024-02-01", SourceIP: "10.0.0.1", DestinationIP: "10.0.0.2"},
		Totals: core.Totals{FlowDuration: 120, ForwardPackets: 30},
	}}}
}

func testMeta() core.SummaryMeta {
	return core.SummaryMeta{
		Source:      core.Target{Container: "raw", Key: "flows.csv"},
		Output:      core.Target{Container: "summaries", Key: "daily_summary_2024-03-05_flows.csv"},
		ProcessedAt: time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC),
	}
}

func TestParquetSummarySink(t *testing.T) {
	up := &fakeUploader{}
	sink := NewParquetSummarySink(up, "columnar")
	assert.Equal(t, "parquet", sink.Name())

	require.NoError(t, sink.WriteSummary(context.Background(), testMeta(), testSummary()))
	require.Len(t, up.inputs, 1)

	input := up.inputs[0]
	assert.Equal(t, "columnar", aws.ToString(input.Bucket))
	assert.Equal(t, "daily_summary_2024-03-05_flows.parquet", aws.ToString(input.Key))
	assert.Equal(t, ParquetContentType, aws.ToString(input.ContentType))
	assert.True(t, bytes.HasPrefix(up.bodies[0], []byte("PAR1")), "body is a parquet file")
	assert.True(t, bytes.HasSuffix(up.bodies[0], []byte("PAR1")))

	assert.NoError(t, sink.Close(context.Background()))
}

func TestParquetSummarySinkUploadError(t *testing.T) {
	sink := NewParquetSummarySink(&fakeUploader{err: errors.New("access denied")}, "columnar")

	err := sink.WriteSummary(context.Background(), testMeta(), testSummary())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://columnar/daily_summary_2024-03-05_flows.parquet")
	assert.Contains(t, err.Error(), "access denied")
}

func TestS3LocationRequiresBucket(t *testing.T) {
	_, err := S3Location{}.NewSink(context.Background())
	assert.Error(t, err)
}

func TestPostgresLocationValidation(t *testing.T) {
	_, err := PostgresLocation{}.NewSink(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn is required")

	_, err = PostgresLocation{DSN: "postgres://localhost/flows", Table: "bad table;"}.NewSink(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid table name")
}

func TestMongoLocationValidation(t *testing.T) {
	_, err := MongoLocation{URI: "mongodb://localhost:27017", Collection: "daily"}.NewSink(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database name is required")
}

func TestLocations(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Bucket = "summaries"
	assert.Empty(t, Locations(cfg, nil))

	cfg.Output.Parquet.Enabled = true
	cfg.Postgres.Enabled = true
	cfg.Postgres.DSN = "postgres://localhost/flows"
	cfg.Mongo.Enabled = true

	locations := Locations(cfg, nil)
	require.Len(t, locations, 3)
	assert.Equal(t, S3Location{Bucket: "summaries"}, locations[0])
	assert.Equal(t, PostgresLocation{DSN: "postgres://localhost/flows", Table: "daily_traffic"}, locations[1])
	assert.Equal(t, MongoLocation{
		URI:        "mongodb://localhost:27017",
		Database:   "flowdigest",
		Collection: "daily_traffic",
		Timeout:    10 * time.Second,
	}, locations[2])

	cfg.Output.Parquet.Bucket = "columnar"
	assert.Equal(t, S3Location{Bucket: "columnar"}, Locations(cfg, nil)[0])
}

type stubSink struct {
	name     string
	closed   bool
	closeErr error
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) WriteSummary(ctx context.Context, meta core.SummaryMeta, summary *core.DailySummary) error {
	return nil
}

func (s *stubSink) Close(ctx context.Context) error {
	s.closed = true
	return s.closeErr
}

type stubLocation struct {
	sink *stubSink
	err  error
}

func (l stubLocation) NewSink(ctx context.Context) (core.SummarySink, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.sink, nil
}

func TestOpenSinks(t *testing.T) {
	a, b := &stubSink{name: "a"}, &stubSink{name: "b"}

	sinks, err := OpenSinks(context.Background(), []OutputLocation{stubLocation{sink: a}, stubLocation{sink: b}})
	require.NoError(t, err)
	assert.Equal(t, []core.SummarySink{a, b}, sinks)
}

func TestOpenSinksClosesOnFailure(t *testing.T) {
	opened := &stubSink{name: "opened"}

	_, err := OpenSinks(context.Background(), []OutputLocation{
		stubLocation{sink: opened},
		stubLocation{err: errors.New("connection refused")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.True(t, opened.closed)
}

func TestCloseSinks(t *testing.T) {
	ok := &stubSink{name: "ok"}
	bad := &stubSink{name: "bad", closeErr: errors.New("still busy")}

	err := CloseSinks(context.Background(), []core.SummarySink{bad, ok})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close bad")
	assert.True(t, ok.closed, "every sink is closed even after an error")
	assert.NoError(t, CloseSinks(context.Background(), nil))
}
