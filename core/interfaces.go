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
	"io"
	"time"
)

// Package core defines the collaborator interfaces of the FlowDigest pipeline.
//
// The pipeline never talks to a concrete queue or object store; it is handed implementations of
// the interfaces below (S3, SQS and NATS JetStream in production, fakes in tests).

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
	ContentType  string
}

// ObjectStore is the object-store collaborator.
type ObjectStore interface {
	// Head fetches object metadata. It returns an error matching ErrObjectNotFound when the
	// object does not exist.
	Head(ctx context.Context, container, key string) (ObjectInfo, error)
	// Get opens a streaming read of the object body. The caller closes it.
	Get(ctx context.Context, container, key string) (io.ReadCloser, error)
	// Put writes body as a single object.
	Put(ctx context.Context, container, key string, body []byte, contentType string) error
	// List returns every object in the container under prefix.
	List(ctx context.Context, container, prefix string) ([]ObjectInfo, error)
}

// Message is one queue message as received.
type Message struct {
	ID      string
	Body    string
	Receipt string // opaque handle passed back to Queue.Delete
}

// ReceiveOptions configures one receive call.
type ReceiveOptions struct {
	MaxMessages       int32
	WaitTime          time.Duration // long-poll wait
	VisibilityTimeout time.Duration // how long a received message stays hidden
}

// Queue is the message-queue collaborator.
type Queue interface {
	// Receive returns up to MaxMessages messages, blocking at most WaitTime.
	Receive(ctx context.Context, opts ReceiveOptions) ([]Message, error)
	// Delete acknowledges a message so it is never redelivered.
	Delete(ctx context.Context, receipt string) error
}

// SummarySink receives every summary after its primary CSV copy has been written.
type SummarySink interface {
	// Name identifies the sink in logs and metrics.
	Name() string
	// WriteSummary stores the summary. Implementations must be idempotent for the same meta.
	WriteSummary(ctx context.Context, meta SummaryMeta, summary *DailySummary) error
	// Close releases any resources held by the sink.
	Close(ctx context.Context) error
}
