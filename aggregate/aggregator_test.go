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
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/flowdigest/core"
	"github.com/aaronlmathis/flowdigest/readers"
)

const header = "id,src,sport,dst,dport,proto,timestamp,duration,packets\n"

func flowLine(src, dst, ts, duration, packets string) string {
	return strings.Join([]string{"x", src, "0", dst, "0", "6", ts, duration, packets}, ",") + "\n"
}

func TestAggregate_SpecimenTable(t *testing.T) {
	input := header +
		flowLine("10.0.0.1", "10.0.0.2", "01/02/2024 09:15:00 AM", "120", "30") +
		flowLine("10.0.0.1", "10.0.0.2", "01/02/2024 23:00:00 PM", "80", "10")

	summary, err := Aggregate(context.Background(), strings.NewReader(input))
	require.NoError(t, err)

	require.Equal(t, 1, summary.Len())
	assert.Equal(t, core.SummaryRow{
		Key:    core.AggregationKey{Date: "2024-02-01", SourceIP: "10.0.0.1", DestinationIP: "10.0.0.2"},
		Totals: core.Totals{FlowDuration: 120, ForwardPackets: 30},
	}, summary.Rows[0])
	assert.Equal(t, int64(2), summary.Stats.RowsRead)
	assert.Equal(t, int64(1), summary.Stats.RowsAggregated)
	assert.Equal(t, int64(1), summary.Stats.RowsSkipped[core.SkipBadTimestamp])
}

func TestAggregate_MergesAndSorts(t *testing.T) {
	input := header +
		flowLine("10.0.0.9", "10.0.0.1", "02/02/2024 01:00:00 PM", "5", "1") +
		flowLine("10.0.0.1", "10.0.0.3", "01/02/2024 01:00:00 PM", "10", "2") +
		flowLine("10.0.0.1", "10.0.0.2", "02/02/2024 02:00:00 AM", "7", "3") +
		flowLine("10.0.0.1", "10.0.0.3", "01/02/2024 11:59:59 PM", "20", "4") +
		flowLine("10.0.0.1", "10.0.0.2", "01/02/2024 12:00:00 AM", "1", "1")

	summary, err := Aggregate(context.Background(), strings.NewReader(input))
	require.NoError(t, err)

	want := []core.SummaryRow{
		{Key: core.AggregationKey{Date: "2024-02-01", SourceIP: "10.0.0.1", DestinationIP: "10.0.0.2"}, Totals: core.Totals{FlowDuration: 1, ForwardPackets: 1}},
		{Key: core.AggregationKey{Date: "2024-02-01", SourceIP: "10.0.0.1", DestinationIP: "10.0.0.3"}, Totals: core.Totals{FlowDuration: 30, ForwardPackets: 6}},
		{Key: core.AggregationKey{Date: "2024-02-02", SourceIP: "10.0.0.1", DestinationIP: "10.0.0.2"}, Totals: core.Totals{FlowDuration: 7, ForwardPackets: 3}},
		{Key: core.AggregationKey{Date: "2024-02-02", SourceIP: "10.0.0.9", DestinationIP: "10.0.0.1"}, Totals: core.Totals{FlowDuration: 5, ForwardPackets: 1}},
	}
	assert.Equal(t, want, summary.Rows)
}

func TestAggregate_Deterministic(t *testing.T) {
	input := header +
		flowLine("b", "a", "03/03/2024 03:00:00 PM", "1", "1") +
		flowLine("a", "b", "03/03/2024 03:00:00 PM", "2", "2") +
		flowLine("a", "a", "03/03/2024 03:00:00 PM", "3", "3") +
		flowLine("c", "c", "01/03/2024 03:00:00 PM", "4", "4")

	first, err := Aggregate(context.Background(), strings.NewReader(input))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := Aggregate(context.Background(), strings.NewReader(input))
		require.NoError(t, err)
		assert.Equal(t, first.Rows, again.Rows)
	}
}

func TestAggregate_SkipReasons(t *testing.T) {
	input := header +
		"too,short\n" +
		flowLine("a", "b", "", "1", "1") +
		flowLine("a", "b", "yesterday", "1", "1") +
		flowLine("", "b", "01/02/2024 09:15:00 AM", "1", "1") +
		flowLine("a", "b", "01/02/2024 09:15:00 AM", "n/a", "9")

	var skipped []core.RowResult
	handler := core.RowErrorHandlerFunc(func(ctx context.Context, row core.RowResult) {
		skipped = append(skipped, row)
	})

	summary, err := Aggregate(context.Background(), strings.NewReader(input), WithRowErrorHandler(handler))
	require.NoError(t, err)

	require.Equal(t, 1, summary.Len())
	assert.Equal(t, core.Totals{FlowDuration: 0, ForwardPackets: 9}, summary.Rows[0].Totals)

	require.Len(t, skipped, 4)
	assert.Equal(t, core.SkipShortRow, skipped[0].Skip)
	assert.Equal(t, 2, skipped[0].Line)
	assert.Equal(t, core.SkipEmptyTimestamp, skipped[1].Skip)
	assert.Equal(t, core.SkipBadTimestamp, skipped[2].Skip)
	assert.Equal(t, core.SkipEmptyAddress, skipped[3].Skip)
	assert.Equal(t, int64(4), summary.Stats.Skipped())
}

func TestAggregate_EmptyInputs(t *testing.T) {
	for name, input := range map[string]string{
		"empty":       "",
		"header only": header,
		"all skipped": header + "a,b\n",
	} {
		t.Run(name, func(t *testing.T) {
			summary, err := Aggregate(context.Background(), strings.NewReader(input))
			require.NoError(t, err)
			assert.Equal(t, 0, summary.Len())
			assert.NotNil(t, summary.Rows)
		})
	}
}

func TestAggregate_ReaderOptions(t *testing.T) {
	input := "a\tb\n" + strings.ReplaceAll(flowLine("a", "b", "01/02/2024 09:15:00 AM", "3", "4"), ",", "\t")

	summary, err := Aggregate(context.Background(), strings.NewReader(input),
		WithReaderOptions(readers.WithFlowComma('\t')))
	require.NoError(t, err)
	require.Equal(t, 1, summary.Len())
	assert.Equal(t, int64(3), summary.Rows[0].Totals.FlowDuration)
}

func TestAggregate_StructuralError(t *testing.T) {
	input := header + "x,\"unterminated\n"

	_, err := Aggregate(context.Background(), strings.NewReader(input),
		WithReaderOptions(readers.WithFlowLazyQuotes(false)))
	require.Error(t, err)

	var readerErr *readers.FlowReaderError
	assert.True(t, errors.As(err, &readerErr))
}

func TestTrafficAccumulator_Reset(t *testing.T) {
	acc := NewTrafficAccumulator()
	ctx := context.Background()

	rec := core.FlowRecord{Date: "2024-01-01", SourceIP: "a", DestinationIP: "b", FlowDuration: 2, ForwardPackets: 3}
	require.NoError(t, acc.Add(ctx, rec))
	require.NoError(t, acc.Add(ctx, rec))
	assert.Equal(t, 1, acc.Len())
	assert.Equal(t, core.Totals{FlowDuration: 4, ForwardPackets: 6}, acc.Result()[0].Totals)

	acc.Reset()
	assert.Equal(t, 0, acc.Len())
	assert.Empty(t, acc.Result())
}

func TestAggregate_ConcurrentRunsAreIndependent(t *testing.T) {
	inputs := []string{
		header + flowLine("a", "b", "01/02/2024 09:15:00 AM", "1", "1"),
		header + flowLine("c", "d", "01/02/2024 09:15:00 AM", "2", "2"),
	}

	results := make([]*core.DailySummary, len(inputs))
	done := make(chan struct{})
	for i := range inputs {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			s, err := Aggregate(context.Background(), strings.NewReader(inputs[i]))
			if err == nil {
				results[i] = s
			}
		}(i)
	}
	for range inputs {
		<-done
	}

	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.Equal(t, "a", results[0].Rows[0].Key.SourceIP)
	assert.Equal(t, "c", results[1].Rows[0].Key.SourceIP)
	assert.Equal(t, 1, results[0].Len())
	assert.Equal(t, 1, results[1].Len())
}
