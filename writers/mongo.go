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
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aaronlmathis/flowdigest/core"
)

// This file implements a MongoDB summary sink. Each summary row becomes one document whose _id
// is the source object plus the aggregation key; writes are unordered bulk upserts.

// MongoWriterError provides structured error information for MongoDB sink operations
type MongoWriterError struct {
	Op         string // Operation that failed (e.g., "connect", "ping", "bulk_write")
	Collection string // Collection being accessed when error occurred
	Err        error  // Underlying error
}

func (e *MongoWriterError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("mongo writer %s [%s]: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("mongo writer %s: %v", e.Op, e.Err)
}

func (e *MongoWriterError) Unwrap() error {
	return e.Err
}

// MongoWriterStats holds statistics about the MongoDB sink
type MongoWriterStats struct {
	DocumentsUpserted int64
	DocumentsModified int64
	BulkWrites        int64
	WriteDuration     time.Duration
	LastWriteTime     time.Time
}

// MongoWriterOptions configures the MongoDB sink
type MongoWriterOptions struct {
	URI          string        // MongoDB connection URI
	Database     string        // Database name
	Collection   string        // Collection name
	Timeout      time.Duration // Connect and operation timeout
	MaxPoolSize  uint64        // Connection pool size
	AuthDatabase string        // Authentication database
	Username     string        // Authentication username
	Password     string        // Authentication password
	TLS          bool          // Enable TLS
	TLSInsecure  bool          // Skip TLS verification
	RetryWrites  bool          // Enable write retries
}

// WriterOptionMongo is a functional option for MongoWriterOptions
type WriterOptionMongo func(*MongoWriterOptions)

func WithMongoURI(uri string) WriterOptionMongo {
	return func(opts *MongoWriterOptions) {
		opts.URI = uri
	}
}

func WithMongoDB(database string) WriterOptionMongo {
	return func(opts *MongoWriterOptions) {
		opts.Database = database
	}
}

func WithMongoCollection(collection string) WriterOptionMongo {
	return func(opts *MongoWriterOptions) {
		opts.Collection = collection
	}
}

func WithMongoTimeout(timeout time.Duration) WriterOptionMongo {
	return func(opts *MongoWriterOptions) {
		opts.Timeout = timeout
	}
}

func WithMongoAuth(username, password, authDatabase string) WriterOptionMongo {
	return func(opts *MongoWriterOptions) {
		opts.Username = username
		opts.Password = password
		opts.AuthDatabase = authDatabase
	}
}

func WithMongoTLS(enabled, insecure bool) WriterOptionMongo {
	return func(opts *MongoWriterOptions) {
		opts.TLS = enabled
		opts.TLSInsecure = insecure
	}
}

func WithMongoPoolSize(size uint64) WriterOptionMongo {
	return func(opts *MongoWriterOptions) {
		opts.MaxPoolSize = size
	}
}

// bulkWriter is the part of *mongo.Collection the sink uses.
type bulkWriter interface {
	BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
}

// MongoSummarySink implements core.SummarySink for MongoDB.
type MongoSummarySink struct {
	client     *mongo.Client
	collection bulkWriter
	opts       *MongoWriterOptions
	stats      MongoWriterStats
	mu         sync.Mutex
}

// NewMongoSummarySink connects to MongoDB and returns a ready sink.
func NewMongoSummarySink(ctx context.Context, options ...WriterOptionMongo) (*MongoSummarySink, error) {
	opts := &MongoWriterOptions{
		URI:         "mongodb://localhost:27017",
		Timeout:     10 * time.Second,
		RetryWrites: true,
	}
	for _, option := range options {
		option(opts)
	}

	if opts.Database == "" {
		return nil, &MongoWriterError{Op: "validate", Err: fmt.Errorf("database name is required")}
	}
	if opts.Collection == "" {
		return nil, &MongoWriterError{Op: "validate", Err: fmt.Errorf("collection name is required")}
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, buildMongoClientOptions(opts))
	if err != nil {
		return nil, &MongoWriterError{Op: "connect", Err: err}
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, &MongoWriterError{Op: "ping", Err: err}
	}

	return &MongoSummarySink{
		client:     client,
		collection: client.Database(opts.Database).Collection(opts.Collection),
		opts:       opts,
	}, nil
}

// buildMongoClientOptions constructs MongoDB client options from sink configuration
func buildMongoClientOptions(opts *MongoWriterOptions) *options.ClientOptions {
	clientOpts := options.Client().ApplyURI(opts.URI)

	if opts.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(opts.MaxPoolSize)
	}
	if opts.Timeout > 0 {
		clientOpts.SetConnectTimeout(opts.Timeout)
	}
	if opts.Username != "" && opts.Password != "" {
		auth := options.Credential{
			Username:   opts.Username,
			Password:   opts.Password,
			AuthSource: opts.AuthDatabase,
		}
		if auth.AuthSource == "" {
			auth.AuthSource = opts.Database
		}
		clientOpts.SetAuth(auth)
	}
	if opts.TLS {
		clientOpts.SetTLSConfig(&tls.Config{InsecureSkipVerify: opts.TLSInsecure})
	}
	clientOpts.SetRetryWrites(opts.RetryWrites)

	return clientOpts
}

// Name implements core.SummarySink.
func (m *MongoSummarySink) Name() string {
	return "mongo"
}

// Stats returns a copy of the sink statistics.
func (m *MongoSummarySink) Stats() MongoWriterStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// WriteSummary upserts one document per summary row.
func (m *MongoSummarySink) WriteSummary(ctx context.Context, meta core.SummaryMeta, summary *core.DailySummary) error {
	if summary.Len() == 0 {
		return nil
	}

	start := time.Now()
	if m.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.Timeout)
		defer cancel()
	}

	models := summaryWriteModels(meta, summary)
	result, err := m.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return &MongoWriterError{Op: "bulk_write", Collection: m.opts.Collection, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if result != nil {
		m.stats.DocumentsUpserted += result.UpsertedCount
		m.stats.DocumentsModified += result.ModifiedCount
	}
	m.stats.BulkWrites++
	m.stats.WriteDuration += time.Since(start)
	m.stats.LastWriteTime = time.Now()
	return nil
}

// Close disconnects the client.
func (m *MongoSummarySink) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	if err := m.client.Disconnect(ctx); err != nil {
		return &MongoWriterError{Op: "disconnect", Err: err}
	}
	return nil
}

func summaryWriteModels(meta core.SummaryMeta, summary *core.DailySummary) []mongo.WriteModel {
	models := make([]mongo.WriteModel, 0, len(summary.Rows))
	for _, row := range summary.Rows {
		id := bson.D{
			{Key: "source_container", Value: meta.Source.Container},
			{Key: "source_key", Value: meta.Source.Key},
			{Key: "date", Value: row.Key.Date},
			{Key: "source_ip", Value: row.Key.SourceIP},
			{Key: "destination_ip", Value: row.Key.DestinationIP},
		}
		update := bson.M{"$set": bson.M{
			"date":                  row.Key.Date,
			"source_ip":             row.Key.SourceIP,
			"destination_ip":        row.Key.DestinationIP,
			"total_flow_duration":   row.Totals.FlowDuration,
			"total_forward_packets": row.Totals.ForwardPackets,
			"source":                meta.Source.String(),
			"output":                meta.Output.String(),
			"processed_at":          meta.ProcessedAt.UTC(),
		}}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": id}).
			SetUpdate(update).
			SetUpsert(true))
	}
	return models
}
