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

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aaronlmathis/flowdigest/core"
	"github.com/aaronlmathis/flowdigest/logging"
)

// ReportWriter receives one report per object of a batch run.
type ReportWriter interface {
	// Begin is called before an object is processed.
	Begin(ctx context.Context, key string) error
	// Write is called once the object has been processed or has failed.
	Write(ctx context.Context, report core.ObjectReport) error
	Close() error
}

// BackfillResult totals a batch run.
type BackfillResult struct {
	RunID     string
	Objects   int
	Processed int
	Failed    int
	Duration  time.Duration
}

// Backfill runs every object of an input container through a Handler once.
type Backfill struct {
	store   core.ObjectStore
	handler *Handler
	logger  *logging.Logger
	runID   func() string
}

// BackfillOption configures a Backfill.
type BackfillOption func(*Backfill)

// WithBackfillLogger sets the logger of the run.
func WithBackfillLogger(logger *logging.Logger) BackfillOption {
	return func(b *Backfill) { b.logger = logger }
}

// WithRunID overrides how run ids are generated.
func WithRunID(fn func() string) BackfillOption {
	return func(b *Backfill) { b.runID = fn }
}

// NewBackfill creates a batch runner listing objects from store and processing them with handler.
func NewBackfill(store core.ObjectStore, handler *Handler, opts ...BackfillOption) *Backfill {
	b := &Backfill{
		store:   store,
		handler: handler,
		logger:  logging.Default(),
		runID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run processes every object in container under prefix. A failed object is reported and the run
// moves on; Run itself only fails when the listing, the report, or ctx fails.
func (b *Backfill) Run(ctx context.Context, container, prefix string, report ReportWriter) (BackfillResult, error) {
	start := time.Now()
	result := BackfillResult{RunID: b.runID()}
	ctx = logging.WithRunID(ctx, result.RunID)

	objects, err := b.store.List(ctx, container, prefix)
	if err != nil {
		return result, &core.ProcessingError{Op: "list", Kind: core.KindIO, Container: container, Err: err}
	}
	result.Objects = len(objects)
	b.logger.InfoContext(ctx, "backfill started",
		logging.Container(container),
		slog.String("output_container", b.handler.OutputContainer()),
		slog.Int("objects", len(objects)),
	)

	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := report.Begin(ctx, obj.Key); err != nil {
			return result, fmt.Errorf("report begin %s: %w", obj.Key, err)
		}

		target := core.Target{Container: container, Key: obj.Key}
		objStart := time.Now()
		res, err := b.handler.Handle(ctx, target)

		entry := core.ObjectReport{
			RunID:      result.RunID,
			Source:     target,
			Key:        obj.Key,
			DurationMs: time.Since(objStart).Milliseconds(),
		}
		if err != nil {
			result.Failed++
			entry.Status = core.ReportFailed
			entry.Error = err.Error()
			b.logger.ErrorContext(ctx, "object failed", logging.Key(obj.Key), logging.Error(err))
		} else {
			result.Processed++
			entry.Status = core.ReportProcessed
			entry.Output = res.Output.Key
			entry.Groups = res.Groups
			entry.RowsRead = res.Stats.RowsRead
			entry.Skipped = res.Stats.Skipped()
		}

		if err := report.Write(ctx, entry); err != nil {
			return result, fmt.Errorf("report write %s: %w", obj.Key, err)
		}
	}

	result.Duration = time.Since(start)
	b.logger.InfoContext(ctx, "backfill finished",
		logging.Container(container),
		slog.Int("processed", result.Processed),
		slog.Int("failed", result.Failed),
		logging.Duration(result.Duration),
	)
	return result, nil
}
