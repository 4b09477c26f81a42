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
	"context"
	"fmt"
	"io"

	"github.com/aaronlmathis/flowdigest/core"
)

// TextReportWriter writes the human-readable batch report:
//
//	Processing file: <key>
//	Successfully processed <key>
//	Failed to process <key>: <cause>
type TextReportWriter struct {
	writer io.Writer
}

// NewTextReportWriter creates a text report writer.
func NewTextReportWriter(w io.Writer) *TextReportWriter {
	return &TextReportWriter{writer: w}
}

func (t *TextReportWriter) Begin(ctx context.Context, key string) error {
	_, err := fmt.Fprintf(t.writer, "Processing file: %s\n", key)
	return err
}

func (t *TextReportWriter) Write(ctx context.Context, report core.ObjectReport) error {
	var err error
	switch report.Status {
	case core.ReportProcessed:
		_, err = fmt.Fprintf(t.writer, "Successfully processed %s\n", report.Key)
	default:
		_, err = fmt.Fprintf(t.writer, "Failed to process %s: %s\n", report.Key, report.Error)
	}
	return err
}

// Close is a no-op; the text writer usually wraps stdout.
func (t *TextReportWriter) Close() error {
	return nil
}
