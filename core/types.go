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

package core

import (
	"strings"
	"time"
)

// Package core defines the core types for the FlowDigest pipeline.
//
// FlowDigest turns storage notifications into daily traffic summaries: a notification names an
// object of network flow records, the records are grouped by (date, source, destination) and the
// sorted totals are written back to an output container.
//
// This file contains the domain types shared by readers, aggregators, writers and the consumer.

// SummaryHeader is the fixed header row of every serialized daily summary.
var SummaryHeader = []string{
	"date",
	"source_ip",
	"destination_ip",
	"total_flow_duration",
	"total_forward_packets",
}

// Target identifies one object in an object store.
type Target struct {
	Container string
	Key       string
}

// String returns the target as container/key.
func (t Target) String() string {
	return t.Container + "/" + t.Key
}

// FlowRecord is an eligible row of a flow table, reduced to the fields that are aggregated.
type FlowRecord struct {
	Date           string // calendar date, YYYY-MM-DD
	SourceIP       string
	DestinationIP  string
	FlowDuration   int64
	ForwardPackets int64
}

// Key returns the aggregation key of the record.
func (r FlowRecord) Key() AggregationKey {
	return AggregationKey{Date: r.Date, SourceIP: r.SourceIP, DestinationIP: r.DestinationIP}
}

// AggregationKey groups flow records by calendar date and address pair.
type AggregationKey struct {
	Date          string
	SourceIP      string
	DestinationIP string
}

// Compare orders keys lexicographically by date, then source, then destination.
func (k AggregationKey) Compare(other AggregationKey) int {
	if c := strings.Compare(k.Date, other.Date); c != 0 {
		return c
	}
	if c := strings.Compare(k.SourceIP, other.SourceIP); c != 0 {
		return c
	}
	return strings.Compare(k.DestinationIP, other.DestinationIP)
}

// Totals holds the summed counters of one aggregation key.
type Totals struct {
	FlowDuration   int64
	ForwardPackets int64
}

// SummaryRow is one line of a daily summary.
type SummaryRow struct {
	Key    AggregationKey
	Totals Totals
}

// SkipReason explains why a row did not contribute to a summary.
type SkipReason int

const (
	// SkipNone marks an aggregated row.
	SkipNone SkipReason = iota
	// SkipShortRow marks a row with fewer fields than a flow record needs.
	SkipShortRow
	// SkipEmptyTimestamp marks a row whose timestamp field is blank.
	SkipEmptyTimestamp
	// SkipBadTimestamp marks a row whose timestamp does not match the flow table layout.
	SkipBadTimestamp
	// SkipEmptyAddress marks a row with a blank source or destination address.
	SkipEmptyAddress
)

func (r SkipReason) String() string {
	switch r {
	case SkipNone:
		return "none"
	case SkipShortRow:
		return "short_row"
	case SkipEmptyTimestamp:
		return "empty_timestamp"
	case SkipBadTimestamp:
		return "bad_timestamp"
	case SkipEmptyAddress:
		return "empty_address"
	default:
		return "unknown"
	}
}

// RowResult is the outcome of reading one data row: either a record or a skip reason.
type RowResult struct {
	Line   int      // 1-based row number in the source, header included
	Fields []string // raw fields as read
	Record FlowRecord
	Skip   SkipReason
	Err    error // parse error behind a SkipBadTimestamp, if any
}

// Skipped reports whether the row was dropped.
func (r RowResult) Skipped() bool {
	return r.Skip != SkipNone
}

// SummaryStats counts what happened to the rows of one aggregation run.
type SummaryStats struct {
	RowsRead       int64
	RowsAggregated int64
	RowsSkipped    map[SkipReason]int64
}

// Skipped returns the total number of skipped rows.
func (s SummaryStats) Skipped() int64 {
	var n int64
	for _, c := range s.RowsSkipped {
		n += c
	}
	return n
}

// DailySummary is the sorted aggregation result for one processed object.
type DailySummary struct {
	Rows  []SummaryRow
	Stats SummaryStats
}

// Len returns the number of aggregation keys in the summary.
func (s *DailySummary) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Rows)
}

// SummaryMeta describes where a summary came from and where its primary copy was written.
type SummaryMeta struct {
	Source      Target
	Output      Target
	ProcessedAt time.Time
}

// IngestResult describes a successfully processed object.
type IngestResult struct {
	Source   Target
	Output   Target
	Groups   int
	Stats    SummaryStats
	Duration time.Duration
	Message  string
}

// ReportStatus is the outcome of one object in a batch run.
type ReportStatus string

const (
	ReportProcessed ReportStatus = "processed"
	ReportFailed    ReportStatus = "failed"
)

// ObjectReport describes what a batch run did with one object.
type ObjectReport struct {
	RunID      string       `json:"run_id"`
	Source     Target       `json:"-"`
	Key        string       `json:"key"`
	Status     ReportStatus `json:"status"`
	Output     string       `json:"output,omitempty"`
	Groups     int          `json:"groups"`
	RowsRead   int64        `json:"rows_read"`
	Skipped    int64        `json:"rows_skipped"`
	DurationMs int64        `json:"duration_ms"`
	Error      string       `json:"error,omitempty"`
}
