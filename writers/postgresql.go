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
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/aaronlmathis/flowdigest/core"
)

// This file implements a PostgreSQL summary sink. Rows are upserted on
// (source container, source key, date, source ip, destination ip) so reprocessing an object
// replaces its earlier totals instead of duplicating them.

// PostgresWriterError wraps PostgreSQL-specific write errors with context about the operation.
type PostgresWriterError struct {
	Op  string // The operation being performed (e.g., "write", "connect")
	Err error  // The underlying error
}

// Error returns the error string for PostgresWriterError.
func (e *PostgresWriterError) Error() string {
	return fmt.Sprintf("postgres writer %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for PostgresWriterError.
func (e *PostgresWriterError) Unwrap() error {
	return e.Err
}

// PostgresWriterStats holds PostgreSQL write performance statistics.
type PostgresWriterStats struct {
	RowsWritten      int64
	SummariesWritten int64
	TransactionCount int64
	LastWriteTime    time.Time
	WriteDuration    time.Duration
	ConnectionTime   time.Duration
}

// PostgresWriterOptions configures the PostgreSQL summary sink.
type PostgresWriterOptions struct {
	DSN             string        // PostgreSQL connection string
	TableName       string        // Target table name
	CreateTable     bool          // Create table if not exists
	ConnMaxLifetime time.Duration // Max connection lifetime
	ConnMaxIdleTime time.Duration // Max idle connection time
	MaxOpenConns    int           // Max open connections
	MaxIdleConns    int           // Max idle connections
	QueryTimeout    time.Duration // Timeout for queries
}

// PostgresWriterOption represents a configuration function for PostgresWriterOptions.
type PostgresWriterOption func(*PostgresWriterOptions)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.DSN = dsn
	}
}

// WithTableName sets the target table name.
func WithTableName(tableName string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.TableName = tableName
	}
}

// WithCreateTable enables or disables table creation.
func WithCreateTable(create bool) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.CreateTable = create
	}
}

// WithPostgresConnectionPool configures the connection pool.
func WithPostgresConnectionPool(maxOpen, maxIdle int, maxLifetime, maxIdleTime time.Duration) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.MaxOpenConns = maxOpen
		opts.MaxIdleConns = maxIdle
		opts.ConnMaxLifetime = maxLifetime
		opts.ConnMaxIdleTime = maxIdleTime
	}
}

// WithPostgresQueryTimeout sets the query timeout.
func WithPostgresQueryTimeout(timeout time.Duration) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.QueryTimeout = timeout
	}
}

// PostgresSummarySink implements core.SummarySink for PostgreSQL.
type PostgresSummarySink struct {
	db          *sql.DB
	options     PostgresWriterOptions
	stats       PostgresWriterStats
	initialized bool
	mu          sync.Mutex
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// NewPostgresSummarySink opens a connection pool and returns a ready sink.
func NewPostgresSummarySink(opts ...PostgresWriterOption) (*PostgresSummarySink, error) {
	options := &PostgresWriterOptions{CreateTable: true}
	for _, opt := range opts {
		opt(options)
	}
	options = options.withDefaults()

	if err := validateOptions(options); err != nil {
		return nil, &PostgresWriterError{Op: "validate", Err: err}
	}

	sink := &PostgresSummarySink{options: *options}
	if err := sink.connect(); err != nil {
		return nil, &PostgresWriterError{Op: "connect", Err: err}
	}
	return sink, nil
}

// Name implements core.SummarySink.
func (w *PostgresSummarySink) Name() string {
	return "postgres"
}

// Stats returns a copy of the current write statistics.
func (w *PostgresSummarySink) Stats() PostgresWriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// WriteSummary upserts every row of the summary in one transaction.
func (w *PostgresSummarySink) WriteSummary(ctx context.Context, meta core.SummaryMeta, summary *core.DailySummary) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, w.options.QueryTimeout)
	defer cancel()

	if !w.initialized && w.options.CreateTable {
		if _, err := w.db.ExecContext(ctx, createTableQuery(w.options.TableName)); err != nil {
			return &PostgresWriterError{Op: "create_table", Err: err}
		}
	}
	w.initialized = true

	if summary.Len() == 0 {
		return nil
	}

	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return &PostgresWriterError{Op: "begin", Err: err}
	}

	stmt, err := tx.PrepareContext(ctx, upsertQuery(w.options.TableName))
	if err != nil {
		tx.Rollback()
		return &PostgresWriterError{Op: "prepare", Err: err}
	}
	defer stmt.Close()

	for _, row := range summary.Rows {
		if _, err := stmt.ExecContext(ctx, upsertArgs(meta, row)...); err != nil {
			tx.Rollback()
			return &PostgresWriterError{Op: "write", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &PostgresWriterError{Op: "commit", Err: err}
	}

	w.stats.RowsWritten += int64(len(summary.Rows))
	w.stats.SummariesWritten++
	w.stats.TransactionCount++
	w.stats.LastWriteTime = time.Now()
	w.stats.WriteDuration += time.Since(start)
	return nil
}

// Close closes the connection pool.
func (w *PostgresSummarySink) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db != nil {
		err := w.db.Close()
		w.db = nil
		return err
	}
	return nil
}

// withDefaults applies default values to PostgresWriterOptions.
func (opts *PostgresWriterOptions) withDefaults() *PostgresWriterOptions {
	if opts.TableName == "" {
		opts.TableName = "daily_traffic"
	}
	if opts.QueryTimeout == 0 {
		opts.QueryTimeout = 30 * time.Second
	}
	if opts.ConnMaxLifetime == 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}
	if opts.ConnMaxIdleTime == 0 {
		opts.ConnMaxIdleTime = 1 * time.Minute
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 5
	}
	return opts
}

// validateOptions validates the PostgreSQL sink options.
func validateOptions(opts *PostgresWriterOptions) error {
	if opts.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	if !tableNamePattern.MatchString(opts.TableName) {
		return fmt.Errorf("invalid table name %q", opts.TableName)
	}
	return nil
}

// connect establishes the database connection and configures the connection pool.
func (w *PostgresSummarySink) connect() error {
	start := time.Now()

	db, err := sql.Open("postgres", w.options.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(w.options.MaxOpenConns)
	db.SetMaxIdleConns(w.options.MaxIdleConns)
	db.SetConnMaxLifetime(w.options.ConnMaxLifetime)
	db.SetConnMaxIdleTime(w.options.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), w.options.QueryTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	w.db = db
	w.stats.ConnectionTime = time.Since(start)
	return nil
}

var summaryColumns = []string{
	"source_container",
	"source_key",
	"date",
	"source_ip",
	"destination_ip",
	"total_flow_duration",
	"total_forward_packets",
	"processed_at",
}

var summaryConflictColumns = summaryColumns[:5]

func createTableQuery(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	source_container TEXT NOT NULL,
	source_key TEXT NOT NULL,
	date DATE NOT NULL,
	source_ip TEXT NOT NULL,
	destination_ip TEXT NOT NULL,
	total_flow_duration BIGINT NOT NULL,
	total_forward_packets BIGINT NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (%s)
)`, table, strings.Join(summaryConflictColumns, ", "))
}

func upsertQuery(table string) string {
	placeholders := make([]string, len(summaryColumns))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	updateColumns := summaryColumns[len(summaryConflictColumns):]
	updateClauses := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updateClauses[i] = fmt.Sprintf("%s = EXCLUDED.%s", col, col)
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		strings.Join(summaryColumns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(summaryConflictColumns, ", "),
		strings.Join(updateClauses, ", "))
}

func upsertArgs(meta core.SummaryMeta, row core.SummaryRow) []interface{} {
	return []interface{}{
		meta.Source.Container,
		meta.Source.Key,
		row.Key.Date,
		row.Key.SourceIP,
		row.Key.DestinationIP,
		row.Totals.FlowDuration,
		row.Totals.ForwardPackets,
		meta.ProcessedAt.UTC(),
	}
}
