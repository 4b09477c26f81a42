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

package flowdigest

import (
	"context"

	"github.com/aaronlmathis/flowdigest/core"
)

// Package flowdigest defines the consumption loop of the FlowDigest ingestion pipeline.
//
// FlowDigest receives storage notifications from a queue, resolves each one to the flow table it
// names, aggregates that table into a daily traffic summary and acknowledges the notification
// only once the summary is stored. Failed messages are left for the queue to redeliver.
//
// This file contains the interfaces the loop dispatches to and the per-message outcome type.

// Resolver turns a notification body into the objects it names.
// An empty, error-free result marks a notification that needs no processing.
type Resolver interface {
	Resolve(body string) ([]core.Target, error)
}

// ResolverFunc is a function adapter for the Resolver interface.
type ResolverFunc func(body string) ([]core.Target, error)

// Resolve implements the Resolver interface for ResolverFunc.
func (f ResolverFunc) Resolve(body string) ([]core.Target, error) {
	return f(body)
}

// Handler ingests one resolved object.
type Handler interface {
	Handle(ctx context.Context, target core.Target) (*core.IngestResult, error)
}

// HandlerFunc is a function adapter for the Handler interface.
type HandlerFunc func(ctx context.Context, target core.Target) (*core.IngestResult, error)

// Handle implements the Handler interface for HandlerFunc.
func (f HandlerFunc) Handle(ctx context.Context, target core.Target) (*core.IngestResult, error) {
	return f(ctx, target)
}

// Outcome is the terminal state of one received message.
type Outcome int

const (
	// OutcomeFailed leaves the message on the queue for redelivery.
	OutcomeFailed Outcome = iota
	// OutcomeSkipped marks a notification that needed no work, such as a test event.
	OutcomeSkipped
	// OutcomeProcessed marks a notification whose object was summarized and stored.
	OutcomeProcessed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeProcessed:
		return "processed"
	default:
		return "failed"
	}
}

// Acknowledge reports whether a message with this outcome is deleted from the queue.
func (o Outcome) Acknowledge() bool {
	return o == OutcomeSkipped || o == OutcomeProcessed
}
