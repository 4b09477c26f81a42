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

package logging

import (
	"log/slog"
	"time"
)

// Common field names for consistent logging across components.
const (
	FieldMessageID = "message_id"
	FieldContainer = "container"
	FieldKey       = "key"
	FieldOutputKey = "output_key"
	FieldOutcome   = "outcome"
	FieldError     = "error"
	FieldRows      = "rows"
	FieldDuration  = "duration_ms"
	FieldRunID     = "run_id"
	FieldQueue     = "queue"
	FieldSink      = "sink"
	FieldLine      = "line"
	FieldReason    = "reason"
)

// MessageID returns a slog attribute for a queue message id.
func MessageID(id string) slog.Attr {
	return slog.String(FieldMessageID, id)
}

// Container returns a slog attribute for a bucket or container name.
func Container(name string) slog.Attr {
	return slog.String(FieldContainer, name)
}

// Key returns a slog attribute for an object key.
func Key(key string) slog.Attr {
	return slog.String(FieldKey, key)
}

// OutputKey returns a slog attribute for the summary object key.
func OutputKey(key string) slog.Attr {
	return slog.String(FieldOutputKey, key)
}

// Outcome returns a slog attribute for a message outcome.
func Outcome(outcome string) slog.Attr {
	return slog.String(FieldOutcome, outcome)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Rows returns a slog attribute for a row count.
func Rows(n int64) slog.Attr {
	return slog.Int64(FieldRows, n)
}

// Duration returns a slog attribute for a duration in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// RunID returns a slog attribute for a batch run id.
func RunID(id string) slog.Attr {
	return slog.String(FieldRunID, id)
}

// Queue returns a slog attribute for a queue identifier.
func Queue(name string) slog.Attr {
	return slog.String(FieldQueue, name)
}

// Sink returns a slog attribute for a summary sink name.
func Sink(name string) slog.Attr {
	return slog.String(FieldSink, name)
}

// Line returns a slog attribute for a source row number.
func Line(n int) slog.Attr {
	return slog.Int(FieldLine, n)
}

// Reason returns a slog attribute for a skip reason.
func Reason(reason string) slog.Attr {
	return slog.String(FieldReason, reason)
}
