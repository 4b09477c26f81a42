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

// Package queue implements the queue collaborator on Amazon SQS and NATS JetStream.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/aaronlmathis/flowdigest/core"
)

// SQS request limits.
const (
	sqsMaxMessages = 10
	sqsMaxWait     = 20 * time.Second
)

// QueueError provides structured error information for queue operations
type QueueError struct {
	Op    string // Operation that failed (e.g., "receive", "delete")
	Queue string
	Err   error
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("queue %s %s: %v", e.Op, e.Queue, e.Err)
}

func (e *QueueError) Unwrap() error {
	return e.Err
}

// sqsAPI is the subset of *sqs.Client used by SQSQueue.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue implements core.Queue over an SQS queue URL.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
}

// NewSQSClient builds an SQS client, honouring a custom endpoint.
func NewSQSClient(cfg aws.Config, endpoint string) *sqs.Client {
	return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// NewSQSQueue wraps an SQS client for one queue.
func NewSQSQueue(client sqsAPI, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL}
}

// Receive implements core.Queue. Options outside the limits SQS accepts are clamped.
func (q *SQSQueue) Receive(ctx context.Context, opts core.ReceiveOptions) ([]core.Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: clampMaxMessages(opts.MaxMessages),
		WaitTimeSeconds:     seconds(min(opts.WaitTime, sqsMaxWait)),
		VisibilityTimeout:   seconds(opts.VisibilityTimeout),
	})
	if err != nil {
		return nil, &QueueError{Op: "receive", Queue: q.queueURL, Err: err}
	}

	messages := make([]core.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, core.Message{
			ID:      aws.ToString(m.MessageId),
			Body:    aws.ToString(m.Body),
			Receipt: aws.ToString(m.ReceiptHandle),
		})
	}
	return messages, nil
}

// Delete implements core.Queue.
func (q *SQSQueue) Delete(ctx context.Context, receipt string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		return &QueueError{Op: "delete", Queue: q.queueURL, Err: err}
	}
	return nil
}

// String returns the queue URL.
func (q *SQSQueue) String() string {
	return q.queueURL
}

func clampMaxMessages(n int32) int32 {
	switch {
	case n < 1:
		return 1
	case n > sqsMaxMessages:
		return sqsMaxMessages
	default:
		return n
	}
}

func seconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	return int32(d / time.Second)
}
