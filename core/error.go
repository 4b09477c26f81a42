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
	"context"
	"errors"
	"fmt"
)

// Package core defines the error handling types for the FlowDigest pipeline.
//
// Every failure that should leave a message on the queue surfaces as a single *ProcessingError.
// Row-level problems never become errors; they are reported to a RowErrorHandler instead.

// ErrObjectNotFound is returned by ObjectStore.Head for a missing object.
var ErrObjectNotFound = errors.New("object not found")

// Sentinels matched by errors.Is against a *ProcessingError of the same kind.
var (
	ErrMalformedNotification = errors.New("malformed notification")
	ErrUnresolvableTarget    = errors.New("unresolvable target")
	ErrSourceNotFound        = errors.New("source object not found")
	ErrIO                    = errors.New("object store i/o failure")
	ErrSink                  = errors.New("summary sink failure")
)

// ErrorKind classifies a processing failure.
type ErrorKind int

const (
	KindMalformedNotification ErrorKind = iota + 1
	KindUnresolvableTarget
	KindSourceNotFound
	KindIO
	KindSink
)

func (k ErrorKind) String() string {
	switch k {
	case KindMalformedNotification:
		return "malformed_notification"
	case KindUnresolvableTarget:
		return "unresolvable_target"
	case KindSourceNotFound:
		return "source_not_found"
	case KindIO:
		return "io"
	case KindSink:
		return "sink"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindMalformedNotification:
		return ErrMalformedNotification
	case KindUnresolvableTarget:
		return ErrUnresolvableTarget
	case KindSourceNotFound:
		return ErrSourceNotFound
	case KindIO:
		return ErrIO
	case KindSink:
		return ErrSink
	default:
		return nil
	}
}

// ProcessingError wraps any failure of resolving or ingesting one message.
type ProcessingError struct {
	Op        string // stage that failed (e.g., "decode", "head", "get", "aggregate", "put")
	Kind      ErrorKind
	Container string
	Key       string
	Err       error // underlying cause
}

func (e *ProcessingError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("processing %s %s/%s: %v", e.Op, e.Container, e.Key, e.Err)
	}
	return fmt.Sprintf("processing %s: %v", e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *ProcessingError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the kind of the first *ProcessingError in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

// RowErrorHandler is told about every row that was skipped during aggregation.
// Skipped rows never stop an aggregation run.
type RowErrorHandler interface {
	HandleRow(ctx context.Context, row RowResult)
}

// RowErrorHandlerFunc is a function adapter for the RowErrorHandler interface.
type RowErrorHandlerFunc func(ctx context.Context, row RowResult)

// HandleRow implements the RowErrorHandler interface for RowErrorHandlerFunc.
func (f RowErrorHandlerFunc) HandleRow(ctx context.Context, row RowResult) {
	f(ctx, row)
}
