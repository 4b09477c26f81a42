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

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/aaronlmathis/flowdigest/core"
)

// ErrUnknownReceipt is returned by JetStreamQueue.Delete for a receipt that was never handed
// out or whose ack window has already expired.
var ErrUnknownReceipt = errors.New("unknown or expired receipt")

// JetStreamConfig configures the NATS JetStream queue backend.
type JetStreamConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for connection identification.
	Name string

	// Stream captures the notification subjects. It is created when missing.
	Stream string

	// Subject is the subject notifications are published on.
	Subject string

	// Consumer is the durable pull consumer name.
	Consumer string

	// AckWait plays the role of the visibility timeout: an unacknowledged message is
	// redelivered once it elapses.
	AckWait time.Duration

	// MaxDeliver caps delivery attempts. -1 means unlimited.
	MaxDeliver int

	// Username for authentication (optional).
	Username string

	// Password for authentication (optional).
	Password string

	// Token for token-based authentication (optional).
	Token string
}

// DefaultJetStreamConfig returns a JetStreamConfig with sensible defaults.
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:        nats.DefaultURL,
		Name:       "flowdigest",
		Stream:     "OBJECT_EVENTS",
		Subject:    "storage.events.>",
		Consumer:   "flowdigest",
		AckWait:    30 * time.Second,
		MaxDeliver: -1,
	}
}

// pullConsumer is the part of jetstream.Consumer used by JetStreamQueue.
type pullConsumer interface {
	Fetch(batch int, opts ...jetstream.FetchOpt) (jetstream.MessageBatch, error)
	FetchNoWait(batch int) (jetstream.MessageBatch, error)
}

type inflight struct {
	msg      jetstream.Msg
	received time.Time
}

// JetStreamQueue implements core.Queue over a durable JetStream pull consumer. The receipt of a
// message is its reply subject, which is unique per delivery.
type JetStreamQueue struct {
	conn     *nats.Conn
	consumer pullConsumer
	name     string
	ackWait  time.Duration
	now      func() time.Time

	mu       sync.Mutex
	inflight map[string]inflight
}

// DialJetStream connects to NATS, ensures the stream and durable consumer exist, and returns a
// ready queue.
func DialJetStream(ctx context.Context, cfg JetStreamConfig) (*JetStreamQueue, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, &QueueError{Op: "connect", Queue: cfg.URL, Err: err}
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, &QueueError{Op: "jetstream", Queue: cfg.URL, Err: err}
	}

	stream, err := js.Stream(ctx, cfg.Stream)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		stream, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:      cfg.Stream,
			Subjects:  []string{cfg.Subject},
			Retention: jetstream.WorkQueuePolicy,
			Storage:   jetstream.FileStorage,
		})
	}
	if err != nil {
		conn.Close()
		return nil, &QueueError{Op: "stream", Queue: cfg.Stream, Err: err}
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          cfg.Consumer,
		Durable:       cfg.Consumer,
		FilterSubject: cfg.Subject,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		conn.Close()
		return nil, &QueueError{Op: "consumer", Queue: cfg.Stream, Err: err}
	}

	q := newJetStreamQueue(consumer, cfg.Stream+"/"+cfg.Consumer, cfg.AckWait)
	q.conn = conn
	return q, nil
}

func newJetStreamQueue(consumer pullConsumer, name string, ackWait time.Duration) *JetStreamQueue {
	return &JetStreamQueue{
		consumer: consumer,
		name:     name,
		ackWait:  ackWait,
		now:      time.Now,
		inflight: make(map[string]inflight),
	}
}

// Receive implements core.Queue. The visibility timeout is fixed by the consumer's AckWait; the
// per-call value is ignored.
func (q *JetStreamQueue) Receive(ctx context.Context, opts core.ReceiveOptions) ([]core.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.evictExpired()

	batchSize := int(opts.MaxMessages)
	if batchSize < 1 {
		batchSize = 1
	}

	var (
		batch jetstream.MessageBatch
		err   error
	)
	if opts.WaitTime > 0 {
		batch, err = q.consumer.Fetch(batchSize, jetstream.FetchMaxWait(opts.WaitTime))
	} else {
		batch, err = q.consumer.FetchNoWait(batchSize)
	}
	if err != nil {
		return nil, &QueueError{Op: "receive", Queue: q.name, Err: err}
	}

	var messages []core.Message
	for msg := range batch.Messages() {
		receipt := msg.Reply()
		messages = append(messages, core.Message{
			ID:      messageID(msg),
			Body:    string(msg.Data()),
			Receipt: receipt,
		})

		q.mu.Lock()
		q.inflight[receipt] = inflight{msg: msg, received: q.now()}
		q.mu.Unlock()
	}

	if err := batch.Error(); err != nil && len(messages) == 0 && !isFetchTimeout(err) {
		return nil, &QueueError{Op: "receive", Queue: q.name, Err: err}
	}
	return messages, nil
}

// Delete implements core.Queue by acknowledging the delivery and waiting for the server to
// confirm it.
func (q *JetStreamQueue) Delete(ctx context.Context, receipt string) error {
	q.mu.Lock()
	entry, ok := q.inflight[receipt]
	delete(q.inflight, receipt)
	q.mu.Unlock()

	if !ok {
		return &QueueError{Op: "delete", Queue: q.name, Err: ErrUnknownReceipt}
	}
	if err := entry.msg.DoubleAck(ctx); err != nil {
		return &QueueError{Op: "delete", Queue: q.name, Err: err}
	}
	return nil
}

// Close drains the NATS connection.
func (q *JetStreamQueue) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Drain()
}

// String returns stream/consumer.
func (q *JetStreamQueue) String() string {
	return q.name
}

// InFlight returns the number of received, unacknowledged deliveries still tracked.
func (q *JetStreamQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// evictExpired forgets deliveries whose ack window has passed; the server redelivers them under
// a new reply subject.
func (q *JetStreamQueue) evictExpired() {
	if q.ackWait <= 0 {
		return
	}
	cutoff := q.now().Add(-q.ackWait)

	q.mu.Lock()
	defer q.mu.Unlock()
	for receipt, entry := range q.inflight {
		if entry.received.Before(cutoff) {
			delete(q.inflight, receipt)
		}
	}
}

func messageID(msg jetstream.Msg) string {
	md, err := msg.Metadata()
	if err != nil || md == nil {
		return msg.Reply()
	}
	return fmt.Sprintf("%s:%d", md.Stream, md.Sequence.Stream)
}

func isFetchTimeout(err error) bool {
	return errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
