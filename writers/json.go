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
	"encoding/json"
	"fmt"
	"io"

	"github.com/aaronlmathis/flowdigest/core"
)

// JSONReportWriter writes one JSON object per processed object (JSON lines).
type JSONReportWriter struct {
	writer io.Writer
	closer io.Closer
}

// NewJSONReportWriter creates a new JSON lines report writer.
func NewJSONReportWriter(w io.Writer) *JSONReportWriter {
	jw := &JSONReportWriter{writer: w}
	if c, ok := w.(io.Closer); ok {
		jw.closer = c
	}
	return jw
}

// Begin is a no-op; JSON reports carry one line per finished object.
func (j *JSONReportWriter) Begin(ctx context.Context, key string) error {
	return nil
}

// Write emits one report line.
func (j *JSONReportWriter) Write(ctx context.Context, report core.ObjectReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report to JSON: %w", err)
	}

	data = append(data, '\n')
	if _, err := j.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON data: %w", err)
	}
	return nil
}

// Close closes the underlying writer when it is closable.
func (j *JSONReportWriter) Close() error {
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}
