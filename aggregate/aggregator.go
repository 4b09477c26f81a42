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
	"slices"

	"github.com/aaronlmathis/flowdigest/core"
)

// Accumulator defines the interface for folding flow records into summary rows.
// Accumulators process multiple records and produce the sorted daily summary.
type Accumulator interface {
	// Add folds a record into its aggregation key.
	Add(ctx context.Context, record core.FlowRecord) error
	// Result returns the accumulated rows in ascending key order.
	Result() []core.SummaryRow
	// Reset clears the accumulator state for reuse.
	Reset()
}

// TrafficAccumulator sums flow duration and forward packets per (date, source, destination).
type TrafficAccumulator struct {
	groups map[core.AggregationKey]*core.Totals
}

// NewTrafficAccumulator creates an empty TrafficAccumulator.
func NewTrafficAccumulator() *TrafficAccumulator {
	return &TrafficAccumulator{groups: make(map[core.AggregationKey]*core.Totals)}
}

func (a *TrafficAccumulator) Add(ctx context.Context, record core.FlowRecord) error {
	key := record.Key()
	totals, ok := a.groups[key]
	if !ok {
		totals = &core.Totals{}
		a.groups[key] = totals
	}
	totals.FlowDuration += record.FlowDuration
	totals.ForwardPackets += record.ForwardPackets
	return nil
}

func (a *TrafficAccumulator) Result() []core.SummaryRow {
	rows := make([]core.SummaryRow, 0, len(a.groups))
	for key, totals := range a.groups {
		rows = append(rows, core.SummaryRow{Key: key, Totals: *totals})
	}
	slices.SortFunc(rows, func(x, y core.SummaryRow) int {
		return x.Key.Compare(y.Key)
	})
	return rows
}

func (a *TrafficAccumulator) Reset() {
	a.groups = make(map[core.AggregationKey]*core.Totals)
}

// Len returns the number of distinct keys seen so far.
func (a *TrafficAccumulator) Len() int {
	return len(a.groups)
}
