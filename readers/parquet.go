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
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/file"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/aaronlmathis/flowdigest/core"
)

// ParquetReaderError provides structured error information for Parquet reader operations
type ParquetReaderError struct {
	Op  string // Operation that failed (e.g., "create_reader", "schema", "load_batch", "read")
	Err error  // Underlying error
}

func (e *ParquetReaderError) Error() string {
	return fmt.Sprintf("parquet reader %s: %v", e.Op, e.Err)
}

func (e *ParquetReaderError) Unwrap() error {
	return e.Err
}

// ParquetReaderStats holds statistics about the Parquet reader's performance
type ParquetReaderStats struct {
	RowsRead     int64
	BatchesRead  int64
	ReadDuration time.Duration
	LastReadTime time.Time
}

// ParquetReaderOptions configures the summary Parquet reader
type ParquetReaderOptions struct {
	BatchSize int64 // rows per Arrow batch
}

// ReaderOptionParquet represents a configuration function
type ReaderOptionParquet func(*ParquetReaderOptions)

// WithBatchSize sets how many rows are decoded per batch.
func WithBatchSize(size int64) ReaderOptionParquet {
	return func(opts *ParquetReaderOptions) {
		opts.BatchSize = size
	}
}

// SummaryParquetReader reads the rows of a Parquet daily summary back as core.SummaryRow values.
type SummaryParquetReader struct {
	reader       *file.Reader
	recordReader pqarrow.RecordReader
	schema       *arrow.Schema
	columns      [5]int // indexes of the summary columns, in core.SummaryHeader order

	currentBatch    arrow.Record
	currentBatchIdx int
	stats           ParquetReaderStats
}

// NewSummaryParquetReader opens a Parquet summary. The caller keeps ownership of r.
func NewSummaryParquetReader(r parquet.ReaderAtSeeker, options ...ReaderOptionParquet) (*SummaryParquetReader, error) {
	opts := &ParquetReaderOptions{BatchSize: 1000}
	for _, option := range options {
		option(opts)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}

	parquetReader, err := file.NewParquetReader(r)
	if err != nil {
		return nil, &ParquetReaderError{Op: "create_reader", Err: err}
	}

	arrowReader, err := pqarrow.NewFileReader(parquetReader, pqarrow.ArrowReadProperties{BatchSize: opts.BatchSize}, memory.NewGoAllocator())
	if err != nil {
		return nil, &ParquetReaderError{Op: "create_arrow_reader", Err: err}
	}

	schema, err := arrowReader.Schema()
	if err != nil {
		return nil, &ParquetReaderError{Op: "schema", Err: err}
	}

	columns, err := summaryColumns(schema)
	if err != nil {
		return nil, &ParquetReaderError{Op: "schema", Err: err}
	}

	recordReader, err := arrowReader.GetRecordReader(context.Background(), nil, nil)
	if err != nil {
		return nil, &ParquetReaderError{Op: "create_record_reader", Err: err}
	}

	return &SummaryParquetReader{
		reader:       parquetReader,
		recordReader: recordReader,
		schema:       schema,
		columns:      columns,
	}, nil
}

// summaryColumns maps each summary column to its index, checking its Arrow type.
func summaryColumns(schema *arrow.Schema) ([5]int, error) {
	var columns [5]int
	for i, name := range core.SummaryHeader {
		indices := schema.FieldIndices(name)
		if len(indices) == 0 {
			return columns, fmt.Errorf("column %q not found in schema", name)
		}
		want := arrow.DataType(arrow.BinaryTypes.String)
		if i >= 3 {
			want = arrow.PrimitiveTypes.Int64
		}
		if got := schema.Field(indices[0]).Type; !arrow.TypeEqual(got, want) {
			return columns, fmt.Errorf("column %q has type %s, want %s", name, got, want)
		}
		columns[i] = indices[0]
	}
	return columns, nil
}

// Read returns the next summary row, or io.EOF when the file is exhausted.
func (p *SummaryParquetReader) Read(ctx context.Context) (core.SummaryRow, error) {
	startTime := time.Now()
	defer func() {
		p.stats.ReadDuration += time.Since(startTime)
		p.stats.LastReadTime = time.Now()
	}()

	select {
	case <-ctx.Done():
		return core.SummaryRow{}, &ParquetReaderError{Op: "read", Err: ctx.Err()}
	default:
	}

	for p.currentBatch == nil || p.currentBatchIdx >= int(p.currentBatch.NumRows()) {
		if err := p.loadNextBatch(); err != nil {
			if err == io.EOF {
				return core.SummaryRow{}, io.EOF
			}
			return core.SummaryRow{}, &ParquetReaderError{Op: "load_batch", Err: err}
		}
	}

	row := p.rowAt(p.currentBatch, p.currentBatchIdx)
	p.currentBatchIdx++
	p.stats.RowsRead++
	return row, nil
}

// ReadAll reads every remaining row into a summary.
func (p *SummaryParquetReader) ReadAll(ctx context.Context) (*core.DailySummary, error) {
	summary := &core.DailySummary{Rows: []core.SummaryRow{}}
	for {
		row, err := p.Read(ctx)
		if err == io.EOF {
			return summary, nil
		}
		if err != nil {
			return nil, err
		}
		summary.Rows = append(summary.Rows, row)
	}
}

// NumRows returns the row count recorded in the file footer.
func (p *SummaryParquetReader) NumRows() int64 {
	return p.reader.NumRows()
}

// NumRowGroups returns the number of row groups in the file.
func (p *SummaryParquetReader) NumRowGroups() int {
	return p.reader.NumRowGroups()
}

// Schema returns the Arrow schema of the file.
func (p *SummaryParquetReader) Schema() *arrow.Schema {
	return p.schema
}

// Metadata returns the key/value metadata stored with the schema.
func (p *SummaryParquetReader) Metadata() map[string]string {
	md := p.schema.Metadata()
	out := make(map[string]string, md.Len())
	for i, k := range md.Keys() {
		out[k] = md.Values()[i]
	}
	return out
}

// MetadataKeys returns the metadata keys in sorted order.
func (p *SummaryParquetReader) MetadataKeys() []string {
	keys := append([]string(nil), p.schema.Metadata().Keys()...)
	sort.Strings(keys)
	return keys
}

// Stats returns statistics about the reader's progress.
func (p *SummaryParquetReader) Stats() ParquetReaderStats {
	return p.stats
}

// Close releases the Arrow buffers held by the reader.
func (p *SummaryParquetReader) Close() error {
	if p.currentBatch != nil {
		p.currentBatch.Release()
		p.currentBatch = nil
	}
	if p.recordReader != nil {
		p.recordReader.Release()
		p.recordReader = nil
	}
	return nil
}

func (p *SummaryParquetReader) loadNextBatch() error {
	if p.currentBatch != nil {
		p.currentBatch.Release()
		p.currentBatch = nil
	}

	rec, err := p.recordReader.Read()
	if err != nil {
		return err
	}
	if rec == nil {
		return io.EOF
	}

	rec.Retain()
	p.currentBatch = rec
	p.currentBatchIdx = 0
	p.stats.BatchesRead++
	return nil
}

func (p *SummaryParquetReader) rowAt(rec arrow.Record, idx int) core.SummaryRow {
	str := func(col int) string {
		return rec.Column(p.columns[col]).(*array.String).Value(idx)
	}
	num := func(col int) int64 {
		return rec.Column(p.columns[col]).(*array.Int64).Value(idx)
	}
	return core.SummaryRow{
		Key: core.AggregationKey{
			Date:          str(0),
			SourceIP:      str(1),
			DestinationIP: str(2),
		},
		Totals: core.Totals{
			FlowDuration:   num(3),
			ForwardPackets: num(4),
		},
	}
}
