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
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/aaronlmathis/flowdigest/core"
)

// CSVWriterError wraps CSV-specific write errors with context.
type CSVWriterError struct {
	Op  string
	Err error
}

func (e *CSVWriterError) Error() string {
	return fmt.Sprintf("csv writer %s: %v", e.Op, e.Err)
}

func (e *CSVWriterError) Unwrap() error {
	return e.Err
}

// CSVWriterStats holds CSV write performance statistics.
type CSVWriterStats struct {
	RowsWritten   int64
	FlushCount    int64
	FlushDuration time.Duration
	LastFlushTime time.Time
}

// CSVWriterOptions configures summary CSV output.
type CSVWriterOptions struct {
	Comma       rune
	UseCRLF     bool
	WriteHeader bool
	BatchSize   int
}

// WriterOptionCSV is a functional option.
type WriterOptionCSV func(*CSVWriterOptions)

func WithComma(delim rune) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.Comma = delim
	}
}

func WithWriteHeader(write bool) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.WriteHeader = write
	}
}

func WithCSVBatchSize(size int) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.BatchSize = size
	}
}

func WithUseCRLF(useCRLF bool) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.UseCRLF = useCRLF
	}
}

// SummaryCSVWriter writes daily summary rows as delimited text. The header row is written
// before the first row, or on Close when no row was written.
type SummaryCSVWriter struct {
	writer      *csv.Writer
	closer      io.Closer
	options     CSVWriterOptions
	pending     int
	stats       CSVWriterStats
	wroteHeader bool
	errorState  bool
	closed      bool
	mu          sync.Mutex
}

// NewSummaryCSVWriter creates a summary writer over w. Lines end in LF unless WithUseCRLF is given.
func NewSummaryCSVWriter(w io.Writer, opts ...WriterOptionCSV) *SummaryCSVWriter {
	options := CSVWriterOptions{
		Comma:       ',',
		UseCRLF:     false,
		WriteHeader: true,
		BatchSize:   0,
	}

	for _, opt := range opts {
		opt(&options)
	}

	cw := csv.NewWriter(w)
	cw.Comma = options.Comma
	cw.UseCRLF = options.UseCRLF

	sw := &SummaryCSVWriter{
		writer:  cw,
		options: options,
	}
	if c, ok := w.(io.Closer); ok {
		sw.closer = c
	}
	return sw
}

// Write appends one summary row.
func (c *SummaryCSVWriter) Write(ctx context.Context, row core.SummaryRow) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return &CSVWriterError{Op: "write", Err: fmt.Errorf("writer is closed")}
	}
	if c.errorState {
		return &CSVWriterError{Op: "write", Err: fmt.Errorf("writer is in error state")}
	}

	if err := c.writeHeaderUnsafe(); err != nil {
		return err
	}

	if err := c.writer.Write(summaryRecord(row)); err != nil {
		c.errorState = true
		return &CSVWriterError{Op: "write_row", Err: err}
	}
	c.stats.RowsWritten++
	c.pending++

	if c.options.BatchSize > 0 && c.pending >= c.options.BatchSize {
		if err := c.flushUnsafe(); err != nil {
			c.errorState = true
			return &CSVWriterError{Op: "flush_batch", Err: err}
		}
	}

	return nil
}

// WriteSummary writes every row of summary in order.
func (c *SummaryCSVWriter) WriteSummary(ctx context.Context, summary *core.DailySummary) error {
	if summary == nil {
		return nil
	}
	for _, row := range summary.Rows {
		if err := c.Write(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes buffered rows to the underlying writer.
func (c *SummaryCSVWriter) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushUnsafe()
}

// Close writes a header if nothing was written yet, flushes, and closes the underlying writer
// when it is closable.
func (c *SummaryCSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if !c.errorState {
		if err := c.writeHeaderUnsafe(); err != nil {
			return err
		}
		if err := c.flushUnsafe(); err != nil {
			return &CSVWriterError{Op: "flush", Err: err}
		}
	}

	if c.closer != nil {
		if err := c.closer.Close(); err != nil {
			return &CSVWriterError{Op: "close", Err: err}
		}
	}
	return nil
}

// Stats returns CSV writer stats.
func (c *SummaryCSVWriter) Stats() CSVWriterStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *SummaryCSVWriter) writeHeaderUnsafe() error {
	if c.wroteHeader || !c.options.WriteHeader {
		return nil
	}
	if err := c.writer.Write(core.SummaryHeader); err != nil {
		c.errorState = true
		return &CSVWriterError{Op: "write_header", Err: err}
	}
	c.wroteHeader = true
	return nil
}

func (c *SummaryCSVWriter) flushUnsafe() error {
	start := time.Now()
	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		return err
	}
	c.pending = 0
	c.stats.FlushCount++
	c.stats.FlushDuration += time.Since(start)
	c.stats.LastFlushTime = time.Now()
	return nil
}

func summaryRecord(row core.SummaryRow) []string {
	return []string{
		row.Key.Date,
		row.Key.SourceIP,
		row.Key.DestinationIP,
		strconv.FormatInt(row.Totals.FlowDuration, 10),
		strconv.FormatInt(row.Totals.ForwardPackets, 10),
	}
}

// EncodeSummaryCSV renders a summary as the header plus one line per row, LF line endings.
func EncodeSummaryCSV(ctx context.Context, summary *core.DailySummary) ([]byte, error) {
	var buf bytes.Buffer
	w := NewSummaryCSVWriter(&buf)
	if err := w.WriteSummary(ctx, summary); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
