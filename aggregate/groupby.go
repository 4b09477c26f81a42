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

package aggregate

import (
	"context"
	"io"

	"github.com/aaronlmathis/flowdigest/core"
	"github.com/aaronlmathis/flowdigest/readers"
)

// Options configures a single aggregation run.
type Options struct {
	RowHandler    core.RowErrorHandler
	ReaderOptions []readers.ReaderOptionFlow
}

// Option allows functional customization of Aggregate.
type Option func(*Options)

// WithRowErrorHandler reports every skipped row to h.
func WithRowErrorHandler(h core.RowErrorHandler) Option {
	return func(o *Options) { o.RowHandler = h }
}

// WithReaderOptions passes options through to the flow reader.
func WithReaderOptions(opts ...readers.ReaderOptionFlow) Option {
	return func(o *Options) { o.ReaderOptions = append(o.ReaderOptions, opts...) }
}

// Aggregate reads a flow table from r and returns its daily summary.
//
// Every call owns its own accumulator, so concurrent runs never share state. Skipped rows are
// counted and handed to the row handler; only a structural read failure returns an error.
func Aggregate(ctx context.Context, r io.Reader, options ...Option) (*core.DailySummary, error) {
	opts := Options{}
	for _, opt := range options {
		opt(&opts)
	}

	reader := readers.NewFlowReader(r, opts.ReaderOptions...)
	acc := NewTrafficAccumulator()
	stats := core.SummaryStats{RowsSkipped: make(map[core.SkipReason]int64)}

	for {
		row, err := reader.Read(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		stats.RowsRead++
		if row.Skipped() {
			stats.RowsSkipped[row.Skip]++
			if opts.RowHandler != nil {
				opts.RowHandler.HandleRow(ctx, row)
			}
			continue
		}

		if err := acc.Add(ctx, row.Record); err != nil {
			return nil, err
		}
		stats.RowsAggregated++
	}

	return &core.DailySummary{Rows: acc.Result(), Stats: stats}, nil
}
