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

// Package ingest turns one stored flow table into its daily summary.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aaronlmathis/flowdigest/aggregate"
	"github.com/aaronlmathis/flowdigest/core"
	"github.com/aaronlmathis/flowdigest/logging"
	"github.com/aaronlmathis/flowdigest/metrics"
	"github.com/aaronlmathis/flowdigest/writers"
)

// SummaryContentType is the content type of every primary summary object.
const SummaryContentType = "text/csv"

// OutputPrefix starts every summary key.
const OutputPrefix = "daily_summary_"

// Handler runs the ingestion of a single object: existence check, streaming read, aggregation,
// primary CSV write and any secondary sinks. A Handler holds no per-object state and may be
// shared by concurrent callers.
type Handler struct {
	store   core.ObjectStore
	output  string
	sinks   []core.SummarySink
	clock   func() time.Time
	logger  *logging.Logger
	aggOpts []aggregate.Option
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithClock sets the clock used to date output keys.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) { h.clock = clock }
}

// WithSinks appends secondary sinks. They run in order after the primary write.
func WithSinks(sinks ...core.SummarySink) HandlerOption {
	return func(h *Handler) { h.sinks = append(h.sinks, sinks...) }
}

// WithLogger sets the handler's logger.
func WithLogger(logger *logging.Logger) HandlerOption {
	return func(h *Handler) { h.logger = logger }
}

// WithAggregateOptions passes extra options to every aggregation run.
func WithAggregateOptions(opts ...aggregate.Option) HandlerOption {
	return func(h *Handler) { h.aggOpts = append(h.aggOpts, opts...) }
}

// NewHandler creates a Handler that reads from store and writes summaries to outputContainer
// in the same store.
func NewHandler(store core.ObjectStore, outputContainer string, opts ...HandlerOption) *Handler {
	h := &Handler{
		store:  store,
		output: outputContainer,
		clock:  time.Now,
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OutputContainer returns the container summaries are written to.
func (h *Handler) OutputContainer() string {
	return h.output
}

// OutputKey derives the summary key of key processed at now. The date is now's calendar date in
// now's location, never a date taken from the data.
func OutputKey(now time.Time, key string) string {
	return OutputPrefix + now.Format("2006-01-02") + "_" + key
}

// ParquetKey derives the Parquet export key from a summary key.
func ParquetKey(outputKey string) string {
	return strings.TrimSuffix(outputKey, ".csv") + ".parquet"
}

// Handle ingests target. Every failure is a *core.ProcessingError carrying the original cause.
func (h *Handler) Handle(ctx context.Context, target core.Target) (result *core.IngestResult, err error) {
	start := time.Now()
	defer func() {
		metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ProcessingFailures.WithLabelValues(core.KindOf(err).String()).Inc()
		}
	}()

	if _, err := h.store.Head(ctx, target.Container, target.Key); err != nil {
		if errors.Is(err, core.ErrObjectNotFound) {
			return nil, h.fail("head", core.KindSourceNotFound, target,
				fmt.Errorf("object %s does not exist in bucket %s: %w", target.Key, target.Container, err))
		}
		return nil, h.fail("head", core.KindIO, target, err)
	}

	body, err := h.store.Get(ctx, target.Container, target.Key)
	if err != nil {
		return nil, h.fail("get", core.KindIO, target, err)
	}
	defer body.Close()

	opts := append([]aggregate.Option{aggregate.WithRowErrorHandler(h.rowHandler(target))}, h.aggOpts...)
	summary, err := aggregate.Aggregate(ctx, body, opts...)
	if err != nil {
		return nil, h.fail("aggregate", core.KindIO, target, err)
	}
	recordRows(summary.Stats)

	encoded, err := writers.EncodeSummaryCSV(ctx, summary)
	if err != nil {
		return nil, h.fail("encode", core.KindIO, target, err)
	}

	now := h.clock()
	output := core.Target{Container: h.output, Key: OutputKey(now, target.Key)}
	if err := h.store.Put(ctx, output.Container, output.Key, encoded, SummaryContentType); err != nil {
		return nil, h.fail("put", core.KindIO, target, err)
	}
	metrics.SummariesWritten.WithLabelValues("primary").Inc()

	meta := core.SummaryMeta{Source: target, Output: output, ProcessedAt: now}
	for _, sink := range h.sinks {
		if err := sink.WriteSummary(ctx, meta, summary); err != nil {
			return nil, h.fail("sink", core.KindSink, target, fmt.Errorf("%s: %w", sink.Name(), err))
		}
		metrics.SummariesWritten.WithLabelValues(sink.Name()).Inc()
	}

	result = &core.IngestResult{
		Source:   target,
		Output:   output,
		Groups:   summary.Len(),
		Stats:    summary.Stats,
		Duration: time.Since(start),
		Message:  "Successfully processed " + target.Key,
	}

	h.logger.InfoContext(ctx, "summary written",
		logging.Container(target.Container),
		logging.Key(target.Key),
		logging.OutputKey(output.Key),
		logging.Rows(summary.Stats.RowsRead),
		slog.Int("groups", result.Groups),
		logging.Duration(result.Duration),
	)

	return result, nil
}

func (h *Handler) fail(op string, kind core.ErrorKind, target core.Target, err error) error {
	return &core.ProcessingError{
		Op:        op,
		Kind:      kind,
		Container: target.Container,
		Key:       target.Key,
		Err:       err,
	}
}

// rowHandler logs skipped rows. Bad timestamps are worth a warning; the other reasons are
// expected in real flow exports.
func (h *Handler) rowHandler(target core.Target) core.RowErrorHandler {
	return core.RowErrorHandlerFunc(func(ctx context.Context, row core.RowResult) {
		args := []any{
			logging.Key(target.Key),
			logging.Line(row.Line),
			logging.Reason(row.Skip.String()),
		}
		if row.Skip == core.SkipBadTimestamp {
			args = append(args, logging.Error(row.Err))
			h.logger.WarnContext(ctx, "skipping row with unparseable timestamp", args...)
			return
		}
		h.logger.DebugContext(ctx, "skipping row", args...)
	})
}

func recordRows(stats core.SummaryStats) {
	metrics.Rows.WithLabelValues("aggregated").Add(float64(stats.RowsAggregated))
	for reason, n := range stats.RowsSkipped {
		metrics.Rows.WithLabelValues(reason.String()).Add(float64(n))
	}
}
