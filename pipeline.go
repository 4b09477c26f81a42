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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aaronlmathis/flowdigest/core"
	"github.com/aaronlmathis/flowdigest/logging"
	"github.com/aaronlmathis/flowdigest/metrics"
	"github.com/aaronlmathis/flowdigest/notify"
)

// Default receive settings of the consumption loop.
const (
	DefaultMaxMessages       = 5
	DefaultWaitTime          = 10 * time.Second
	DefaultVisibilityTimeout = 30 * time.Second
	DefaultErrorBackoff      = 5 * time.Second
)

// ConsumerBuilder provides a fluent API for constructing a Consumer.
//
// Example usage:
//
//	consumer, err := flowdigest.NewConsumer().
//		From(sqsQueue).
//		HandleWith(handler).
//		WithLogger(logger).
//		Build()
//	if err != nil { return err }
//	return consumer.Run(ctx)
type ConsumerBuilder struct {
	consumer *Consumer
}

// NewConsumer creates a ConsumerBuilder with the default receive settings and the storage
// notification resolver.
func NewConsumer() *ConsumerBuilder {
	return &ConsumerBuilder{
		consumer: &Consumer{
			resolver: notify.NewResolver(),
			receive: core.ReceiveOptions{
				MaxMessages:       DefaultMaxMessages,
				WaitTime:          DefaultWaitTime,
				VisibilityTimeout: DefaultVisibilityTimeout,
			},
			backoff:     DefaultErrorBackoff,
			concurrency: 1,
			logger:      logging.Default(),
		},
	}
}

// From sets the queue messages are received from.
func (cb *ConsumerBuilder) From(queue core.Queue) *ConsumerBuilder {
	cb.consumer.queue = queue
	return cb
}

// ResolveWith replaces the notification resolver.
func (cb *ConsumerBuilder) ResolveWith(resolver Resolver) *ConsumerBuilder {
	cb.consumer.resolver = resolver
	return cb
}

// HandleWith sets the handler resolved objects are passed to.
func (cb *ConsumerBuilder) HandleWith(handler Handler) *ConsumerBuilder {
	cb.consumer.handler = handler
	return cb
}

// WithReceiveOptions sets the batch size, long-poll wait and visibility timeout of every receive.
func (cb *ConsumerBuilder) WithReceiveOptions(opts core.ReceiveOptions) *ConsumerBuilder {
	cb.consumer.receive = opts
	return cb
}

// WithLogger sets the consumer's logger.
func (cb *ConsumerBuilder) WithLogger(logger *logging.Logger) *ConsumerBuilder {
	cb.consumer.logger = logger
	return cb
}

// WithConcurrency sets how many messages of one batch are processed at once.
func (cb *ConsumerBuilder) WithConcurrency(n int) *ConsumerBuilder {
	cb.consumer.concurrency = n
	return cb
}

// WithErrorBackoff sets the pause after a failed loop iteration.
func (cb *ConsumerBuilder) WithErrorBackoff(d time.Duration) *ConsumerBuilder {
	cb.consumer.backoff = d
	return cb
}

// Build validates and constructs the Consumer.
func (cb *ConsumerBuilder) Build() (*Consumer, error) {
	c := cb.consumer
	if c.queue == nil {
		return nil, errors.New("consumer requires a queue")
	}
	if c.resolver == nil {
		return nil, errors.New("consumer requires a resolver")
	}
	if c.handler == nil {
		return nil, errors.New("consumer requires a handler")
	}
	if c.receive.MaxMessages < 1 {
		return nil, fmt.Errorf("consumer max messages must be positive, got %d", c.receive.MaxMessages)
	}
	if c.concurrency < 1 {
		c.concurrency = 1
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	return c, nil
}

// Consumer is the long-running consumption loop. Each received message ends as exactly one
// Outcome; only Skipped and Processed messages are deleted from the queue.
type Consumer struct {
	queue       core.Queue
	resolver    Resolver
	handler     Handler
	receive     core.ReceiveOptions
	backoff     time.Duration
	concurrency int
	logger      *logging.Logger
}

// Run polls until ctx is cancelled. A failed iteration is logged and followed by the error
// backoff; it never ends the loop. Run returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "starting queue polling", logging.Queue(queueName(c.queue)))

	for {
		if ctx.Err() != nil {
			c.logger.InfoContext(ctx, "queue polling stopped", logging.Queue(queueName(c.queue)))
			return nil
		}

		if _, err := c.iterate(ctx); err != nil && ctx.Err() == nil {
			c.logger.ErrorContext(ctx, "error in polling loop", logging.Error(err))
			sleep(ctx, c.backoff)
		}
	}
}

// iterate runs one Poll behind a panic boundary.
func (c *Consumer) iterate(ctx context.Context) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.LoopPanics.Inc()
			err = fmt.Errorf("panic in polling loop: %v", r)
		}
	}()
	return c.Poll(ctx)
}

// Poll receives one batch and processes every message in it. Messages already received are
// processed to completion even if ctx is cancelled meanwhile. It returns the batch size.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	messages, err := c.queue.Receive(ctx, c.receive)
	if err != nil {
		if ctx.Err() == nil {
			metrics.ReceiveErrors.Inc()
		}
		return 0, fmt.Errorf("receive: %w", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}
	metrics.MessagesReceived.Add(float64(len(messages)))

	batchCtx := context.WithoutCancel(ctx)
	if c.concurrency <= 1 {
		for _, msg := range messages {
			c.dispatch(batchCtx, msg)
		}
		return len(messages), nil
	}

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, msg := range messages {
		msg := msg
		g.Go(func() error {
			c.dispatch(batchCtx, msg)
			return nil
		})
	}
	_ = g.Wait()
	return len(messages), nil
}

// dispatch processes msg and deletes it when its outcome says so.
func (c *Consumer) dispatch(ctx context.Context, msg core.Message) {
	ctx = logging.WithMessageID(ctx, msg.ID)

	outcome := c.Process(ctx, msg)
	if !outcome.Acknowledge() {
		c.logger.WarnContext(ctx, "message not processed, will return to queue")
		return
	}

	if err := c.queue.Delete(ctx, msg.Receipt); err != nil {
		metrics.DeleteErrors.Inc()
		c.logger.ErrorContext(ctx, "failed to delete message", logging.Error(err))
		return
	}
	c.logger.DebugContext(ctx, "deleted message")
}

// Process resolves and handles one message and returns its outcome. It never deletes the
// message and never panics.
func (c *Consumer) Process(ctx context.Context, msg core.Message) (outcome Outcome) {
	if logging.MessageIDFrom(ctx) == "" {
		ctx = logging.WithMessageID(ctx, msg.ID)
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.LoopPanics.Inc()
			c.logger.ErrorContext(ctx, "panic while processing message", slog.Any("panic", r))
			outcome = OutcomeFailed
		}
		metrics.MessageOutcomes.WithLabelValues(outcome.String()).Inc()
	}()

	c.logger.DebugContext(ctx, "raw message body", slog.String("body", msg.Body))

	targets, err := c.resolver.Resolve(msg.Body)
	if err != nil {
		c.logger.ErrorContext(ctx, "error resolving message",
			logging.Error(err),
			logging.Outcome(OutcomeFailed.String()),
		)
		return OutcomeFailed
	}
	if len(targets) == 0 {
		c.logger.InfoContext(ctx, "received test event, skipping processing",
			logging.Outcome(OutcomeSkipped.String()),
		)
		return OutcomeSkipped
	}

	target := targets[0]
	c.logger.InfoContext(ctx, "processing storage event",
		logging.Container(target.Container),
		logging.Key(target.Key),
	)

	result, err := c.handler.Handle(ctx, target)
	if err != nil {
		c.logger.ErrorContext(ctx, "error processing message",
			logging.Container(target.Container),
			logging.Key(target.Key),
			logging.Error(err),
			logging.Outcome(OutcomeFailed.String()),
		)
		return OutcomeFailed
	}

	args := []any{
		logging.Container(target.Container),
		logging.Key(target.Key),
		logging.Outcome(OutcomeProcessed.String()),
	}
	if result != nil {
		args = append(args, logging.OutputKey(result.Output.Key), logging.Duration(result.Duration))
	}
	c.logger.InfoContext(ctx, "message processed", args...)
	return OutcomeProcessed
}

func queueName(q core.Queue) string {
	if s, ok := q.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", q)
}

// sleep waits for d or until ctx is done. It reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
