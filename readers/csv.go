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

package readers

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aaronlmathis/flowdigest/core"
)

// Positional layout of a flow table row.
const (
	MinFlowFields = 9

	fieldSourceIP       = 1
	fieldDestinationIP  = 3
	fieldTimestamp      = 6
	fieldFlowDuration   = 7
	fieldForwardPackets = 8
)

// TimestampLayout is the fixed flow timestamp layout: day/month/year, 12-hour clock, AM/PM.
// Hours above 12 do not parse.
const TimestampLayout = "02/01/2006 03:04:05 PM"

// DateLayout is the layout of the calendar date in an aggregation key.
const DateLayout = "2006-01-02"

// FlowReaderError wraps structured error information for the flow reader.
type FlowReaderError struct {
	Op   string
	Line int
	Err  error
}

func (e *FlowReaderError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("flow reader %s (line %d): %v", e.Op, e.Line, e.Err)
	}
	return fmt.Sprintf("flow reader %s: %v", e.Op, e.Err)
}

func (e *FlowReaderError) Unwrap() error {
	return e.Err
}

// FlowReaderStats holds statistics about the flow reader.
type FlowReaderStats struct {
	RowsRead     int64
	RowsSkipped  int64
	ReadDuration time.Duration
	LastReadTime time.Time
}

// FlowReaderOptions configures the flow reader.
type FlowReaderOptions struct {
	Comma      rune
	LazyQuotes bool
	SkipHeader bool
}

// ReaderOptionFlow allows functional customization of FlowReader.
type ReaderOptionFlow func(*FlowReaderOptions)

func WithFlowComma(r rune) ReaderOptionFlow {
	return func(o *FlowReaderOptions) { o.Comma = r }
}

func WithFlowLazyQuotes(lazy bool) ReaderOptionFlow {
	return func(o *FlowReaderOptions) { o.LazyQuotes = lazy }
}

func WithFlowSkipHeader(skip bool) ReaderOptionFlow {
	return func(o *FlowReaderOptions) { o.SkipHeader = skip }
}

// FlowReader reads a delimited flow table and turns every data row into a core.RowResult.
// Rows that cannot be aggregated come back with a skip reason, never as an error.
type FlowReader struct {
	reader     *csv.Reader
	closer     io.Closer
	line       int
	headerDone bool
	stats      FlowReaderStats
	opts       FlowReaderOptions
}

// NewFlowReader creates a FlowReader over r. The first row is treated as a header and skipped
// regardless of its content unless WithFlowSkipHeader(false) is given.
func NewFlowReader(r io.Reader, options ...ReaderOptionFlow) *FlowReader {
	opts := FlowReaderOptions{
		Comma:      ',',
		LazyQuotes: true,
		SkipHeader: true,
	}

	for _, opt := range options {
		opt(&opts)
	}

	csvReader := csv.NewReader(r)
	csvReader.Comma = opts.Comma
	csvReader.LazyQuotes = opts.LazyQuotes
	csvReader.FieldsPerRecord = -1

	reader := &FlowReader{
		reader: csvReader,
		opts:   opts,
	}
	if c, ok := r.(io.Closer); ok {
		reader.closer = c
	}
	return reader
}

// Read returns the next data row, or io.EOF when the table is exhausted.
func (f *FlowReader) Read(ctx context.Context) (core.RowResult, error) {
	start := time.Now()

	select {
	case <-ctx.Done():
		return core.RowResult{}, &FlowReaderError{Op: "read", Err: ctx.Err()}
	default:
	}

	if !f.headerDone && f.opts.SkipHeader {
		if _, err := f.reader.Read(); err != nil {
			if err == io.EOF {
				return core.RowResult{}, io.EOF
			}
			return core.RowResult{}, &FlowReaderError{Op: "read_header", Line: 1, Err: err}
		}
		f.line++
	}
	f.headerDone = true

	fields, err := f.reader.Read()
	if err != nil {
		if err == io.EOF {
			return core.RowResult{}, io.EOF
		}
		return core.RowResult{}, &FlowReaderError{Op: "read_record", Line: f.line + 1, Err: err}
	}
	f.line++

	row := ParseFlowRow(f.line, fields)

	f.stats.RowsRead++
	if row.Skipped() {
		f.stats.RowsSkipped++
	}
	f.stats.LastReadTime = time.Now()
	f.stats.ReadDuration += time.Since(start)

	return row, nil
}

// ReadAll reads every remaining data row.
func (f *FlowReader) ReadAll(ctx context.Context) ([]core.RowResult, error) {
	var rows []core.RowResult
	for {
		row, err := f.Read(ctx)
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}

// Close closes the underlying reader if it is closable.
func (f *FlowReader) Close() error {
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

// Stats returns flow reader stats.
func (f *FlowReader) Stats() FlowReaderStats {
	return f.stats
}

// ParseFlowRow evaluates one data row. Checks run in a fixed order: field count, blank
// timestamp, timestamp layout, blank addresses.
func ParseFlowRow(line int, fields []string) core.RowResult {
	row := core.RowResult{Line: line, Fields: fields}

	if len(fields) < MinFlowFields {
		row.Skip = core.SkipShortRow
		return row
	}

	ts := strings.TrimSpace(fields[fieldTimestamp])
	if ts == "" {
		row.Skip = core.SkipEmptyTimestamp
		return row
	}

	parsed, err := time.Parse(TimestampLayout, ts)
	if err != nil {
		row.Skip = core.SkipBadTimestamp
		row.Err = err
		return row
	}

	src := strings.TrimSpace(fields[fieldSourceIP])
	dst := strings.TrimSpace(fields[fieldDestinationIP])
	if src == "" || dst == "" {
		row.Skip = core.SkipEmptyAddress
		return row
	}

	row.Record = core.FlowRecord{
		Date:           parsed.Format(DateLayout),
		SourceIP:       src,
		DestinationIP:  dst,
		FlowDuration:   parseInt64(fields[fieldFlowDuration]),
		ForwardPackets: parseInt64(fields[fieldForwardPackets]),
	}
	return row
}

// parseInt64 parses a counter, treating anything unparseable as 0.
func parseInt64(value string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
