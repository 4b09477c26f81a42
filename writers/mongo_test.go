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

package writers

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aaronlmathis/flowdigest/core"
)

type fakeBulkWriter struct {
	models  []mongo.WriteModel
	ordered *bool
	err     error
}

func (f *fakeBulkWriter) BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error) {
	f.models = append(f.models, models...)
	for _, o := range opts {
		if o.Ordered != nil {
			f.ordered = o.Ordered
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &mongo.BulkWriteResult{UpsertedCount: int64(len(models))}, nil
}

func testMeta() core.SummaryMeta {
	return core.SummaryMeta{
		Source:      core.Target{Container: "in", Key: "flows.csv"},
		Output:      core.Target{Container: "out", Key: "daily_summary_2024-02-03_flows.csv"},
		ProcessedAt: time.Date(2024, 2, 3, 10, 0, 0, 0, time.UTC),
	}
}

func TestMongoSummarySink_WriteSummary(t *testing.T) {
	fake := &fakeBulkWriter{}
	sink := &MongoSummarySink{collection: fake, opts: &MongoWriterOptions{Collection: "daily", Timeout: time.Second}}

	require.NoError(t, sink.WriteSummary(context.Background(), testMeta(), sampleSummary()))

	require.Len(t, fake.models, 2)
	require.NotNil(t, fake.ordered)
	assert.False(t, *fake.ordered)

	model, ok := fake.models[0].(*mongo.UpdateOneModel)
	require.True(t, ok)
	require.NotNil(t, model.Upsert)
	assert.True(t, *model.Upsert)

	filter := model.Filter.(bson.M)
	id := filter["_id"].(bson.D)
	assert.Equal(t, "in", id[0].Value)
	assert.Equal(t, "flows.csv", id[1].Value)
	assert.Equal(t, "2024-02-01", id[2].Value)

	set := model.Update.(bson.M)["$set"].(bson.M)
	assert.Equal(t, int64(120), set["total_flow_duration"])
	assert.Equal(t, "out/daily_summary_2024-02-03_flows.csv", set["output"])

	assert.Equal(t, int64(2), sink.Stats().DocumentsUpserted)
	assert.Equal(t, int64(1), sink.Stats().BulkWrites)
}

func TestMongoSummarySink_EmptySummary(t *testing.T) {
	fake := &fakeBulkWriter{}
	sink := &MongoSummarySink{collection: fake, opts: &MongoWriterOptions{}}

	require.NoError(t, sink.WriteSummary(context.Background(), testMeta(), &core.DailySummary{}))
	assert.Empty(t, fake.models)
}

func TestMongoSummarySink_Error(t *testing.T) {
	fake := &fakeBulkWriter{err: errors.New("not primary")}
	sink := &MongoSummarySink{collection: fake, opts: &MongoWriterOptions{Collection: "daily"}}

	err := sink.WriteSummary(context.Background(), testMeta(), sampleSummary())
	require.Error(t, err)
	var mongoErr *MongoWriterError
	require.ErrorAs(t, err, &mongoErr)
	assert.Equal(t, "bulk_write", mongoErr.Op)
	assert.Contains(t, err.Error(), "[daily]")
}

func TestNewMongoSummarySink_Validation(t *testing.T) {
	_, err := NewMongoSummarySink(context.Background(), WithMongoCollection("c"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database name is required")

	_, err = NewMongoSummarySink(context.Background(), WithMongoDB("d"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collection name is required")
}

func TestBuildMongoClientOptions(t *testing.T) {
	opts := &MongoWriterOptions{
		URI:         "mongodb://db:27017",
		Database:    "flowdigest",
		Timeout:     3 * time.Second,
		MaxPoolSize: 20,
		Username:    "u",
		Password:    "p",
		RetryWrites: true,
	}
	clientOpts := buildMongoClientOptions(opts)

	require.NotNil(t, clientOpts.MaxPoolSize)
	assert.Equal(t, uint64(20), *clientOpts.MaxPoolSize)
	require.NotNil(t, clientOpts.Auth)
	assert.Equal(t, "flowdigest", clientOpts.Auth.AuthSource)
	require.NotNil(t, clientOpts.ConnectTimeout)
	assert.Equal(t, 3*time.Second, *clientOpts.ConnectTimeout)
}

func TestMongoSummarySink_Integration(t *testing.T) {
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}

	sink, err := NewMongoSummarySink(context.Background(),
		WithMongoURI(uri), WithMongoDB("flowdigest_test"), WithMongoCollection("daily_traffic"))
	require.NoError(t, err)
	defer sink.Close(context.Background())

	require.NoError(t, sink.WriteSummary(context.Background(), testMeta(), sampleSummary()))
	require.NoError(t, sink.WriteSummary(context.Background(), testMeta(), sampleSummary()))
}
