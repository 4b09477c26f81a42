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
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/aaronlmathis/flowdigest/core"
)

// This file implements the columnar export of a daily summary. The Arrow schema mirrors the CSV
// header so both copies of a summary share column names.

// ParquetWriterError wraps Parquet-specific write errors with context about the operation.
type ParquetWriterError struct {
	Op  string // Operation that failed (e.g., "open_writer", "write_record", "close_writer")
	Err error  // Underlying error
}

// Error returns the error string for ParquetWriterError.
func (e *ParquetWriterError) Error() string {
	return fmt.Sprintf("parquet writer %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for ParquetWriterError.
func (e *ParquetWriterError) Unwrap() error {
	return e.Err
}

// ParquetWriterOptions configures the Parquet encoder.
type ParquetWriterOptions struct {
	Compression  compress.Compression
	RowGroupSize int64
	Metadata     map[string]string
}

// WriterOption represents a configuration function for ParquetWriterOptions.
type WriterOption func(*ParquetWriterOptions)

// WithCompression sets the Parquet compression algorithm.
func WithCompression(compression compress.Compression) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.Compression = compression
	}
}

// WithRowGroupSize sets the row group size for the Parquet file.
func WithRowGroupSize(size int64) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.RowGroupSize = size
	}
}

// WithMetadata sets user metadata for the Parquet file.
func WithMetadata(metadata map[string]string) WriterOption {
	return func(opts *ParquetWriterOptions) {
		if opts.Metadata == nil {
			opts.Metadata = make(map[string]string)
		}
		for k, v := range metadata {
			opts.Metadata[k] = v
		}
	}
}

func (opts *ParquetWriterOptions) withDefaults() *ParquetWriterOptions {
	result := &ParquetWriterOptions{}
	if opts != nil {
		*result = *opts
	}
	if result.RowGroupSize <= 0 {
		result.RowGroupSize = 10000
	}
	if result.Compression == 0 {
		result.Compression = compress.Codecs.Snappy
	}
	return result
}

// SummarySchema returns the Arrow schema of an exported summary.
func SummarySchema(metadata map[string]string) *arrow.Schema {
	fields := []arrow.Field{
		{Name: core.SummaryHeader[0], Type: arrow.BinaryTypes.String},
		{Name: core.SummaryHeader[1], Type: arrow.BinaryTypes.String},
		{Name: core.SummaryHeader[2], Type: arrow.BinaryTypes.String},
		{Name: core.SummaryHeader[3], Type: arrow.PrimitiveTypes.Int64},
		{Name: core.SummaryHeader[4], Type: arrow.PrimitiveTypes.Int64},
	}
	if len(metadata) == 0 {
		return arrow.NewSchema(fields, nil)
	}

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = metadata[k]
	}
	md := arrow.NewMetadata(keys, values)
	return arrow.NewSchema(fields, &md)
}

// EncodeSummaryParquet renders a summary as a single-record Parquet file held in memory.
func EncodeSummaryParquet(ctx context.Context, summary *core.DailySummary, options ...WriterOption) ([]byte, error) {
	opts := (&ParquetWriterOptions{}).withDefaults()
	for _, option := range options {
		option(opts)
	}

	schema := SummarySchema(opts.Metadata)
	props := parquet.NewWriterProperties(
		parquet.WithCompression(opts.Compression),
		parquet.WithMaxRowGroupLength(opts.RowGroupSize),
	)

	var buf bytes.Buffer
	writer, err := pqarrow.NewFileWriter(schema, &buf, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return nil, &ParquetWriterError{Op: "open_writer", Err: err}
	}

	record := buildSummaryRecord(memory.NewGoAllocator(), schema, summary)
	defer record.Release()

	if err := ctx.Err(); err != nil {
		writer.Close()
		return nil, &ParquetWriterError{Op: "write_record", Err: err}
	}
	if err := writer.Write(record); err != nil {
		writer.Close()
		return nil, &ParquetWriterError{Op: "write_record", Err: err}
	}
	if err := writer.Close(); err != nil {
		return nil, &ParquetWriterError{Op: "close_writer", Err: err}
	}
	return buf.Bytes(), nil
}

func buildSummaryRecord(mem memory.Allocator, schema *arrow.Schema, summary *core.DailySummary) arrow.Record {
	builder := array.NewRecordBuilder(mem, schema)
	defer builder.Release()

	date := builder.Field(0).(*array.StringBuilder)
	src := builder.Field(1).(*array.StringBuilder)
	dst := builder.Field(2).(*array.StringBuilder)
	duration := builder.Field(3).(*array.Int64Builder)
	packets := builder.Field(4).(*array.Int64Builder)

	if summary != nil {
		n := len(summary.Rows)
		date.Reserve(n)
		src.Reserve(n)
		dst.Reserve(n)
		duration.Reserve(n)
		packets.Reserve(n)

		for _, row := range summary.Rows {
			date.Append(row.Key.Date)
			src.Append(row.Key.SourceIP)
			dst.Append(row.Key.DestinationIP)
			duration.Append(row.Totals.FlowDuration)
			packets.Append(row.Totals.ForwardPackets)
		}
	}

	return builder.NewRecord()
}
