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
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/flowdigest/core"
)

type fakeSQS struct {
	receives   []*sqs.ReceiveMessageInput
	deletes    []*sqs.DeleteMessageInput
	messages   []types.Message
	receiveErr error
	deleteErr  error
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.receives = append(f.receives, in)
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	return &sqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deletes = append(f.deletes, in)
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &sqs.DeleteMessageOutput{}, nil
}

const testQueueURL = "https://sqs.us-east-1.amazonaws.com/123456789012/flows"

func TestSQSQueue_Receive(t *testing.T) {
	fake := &fakeSQS{messages: []types.Message{
		{MessageId: aws.String("m-1"), Body: aws.String(`{"Records":[]}`), ReceiptHandle: aws.String("r-1")},
		{MessageId: aws.String("m-2"), Body: aws.String("x"), ReceiptHandle: aws.String("r-2")},
	}}
	q := NewSQSQueue(fake, testQueueURL)

	msgs, err := q.Receive(context.Background(), core.ReceiveOptions{
		MaxMessages:       5,
		WaitTime:          10 * time.Second,
		VisibilityTimeout: 30 * time.Second,
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, core.Message{ID: "m-1", Body: `{"Records":[]}`, Receipt: "r-1"}, msgs[0])

	require.Len(t, fake.receives, 1)
	in := fake.receives[0]
	assert.Equal(t, testQueueURL, aws.ToString(in.QueueUrl))
	assert.Equal(t, int32(5), in.MaxNumberOfMessages)
	assert.Equal(t, int32(10), in.WaitTimeSeconds)
	assert.Equal(t, int32(30), in.VisibilityTimeout)
}

func TestSQSQueue_ReceiveClampsOptions(t *testing.T) {
	fake := &fakeSQS{}
	q := NewSQSQueue(fake, testQueueURL)

	msgs, err := q.Receive(context.Background(), core.ReceiveOptions{MaxMessages: 50, WaitTime: time.Minute})
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = q.Receive(context.Background(), core.ReceiveOptions{MaxMessages: 0, WaitTime: -time.Second})
	require.NoError(t, err)

	assert.Equal(t, int32(10), fake.receives[0].MaxNumberOfMessages)
	assert.Equal(t, int32(20), fake.receives[0].WaitTimeSeconds)
	assert.Equal(t, int32(1), fake.receives[1].MaxNumberOfMessages)
	assert.Equal(t, int32(0), fake.receives[1].WaitTimeSeconds)
}

func TestSQSQueue_Delete(t *testing.T) {
	fake := &fakeSQS{}
	q := NewSQSQueue(fake, testQueueURL)

	require.NoError(t, q.Delete(context.Background(), "r-1"))
	require.Len(t, fake.deletes, 1)
	assert.Equal(t, "r-1", aws.ToString(fake.deletes[0].ReceiptHandle))
	assert.Equal(t, testQueueURL, aws.ToString(fake.deletes[0].QueueUrl))
}

func TestSQSQueue_Errors(t *testing.T) {
	cause := errors.New("throttled")
	q := NewSQSQueue(&fakeSQS{receiveErr: cause, deleteErr: cause}, testQueueURL)

	_, err := q.Receive(context.Background(), core.ReceiveOptions{MaxMessages: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	var qErr *QueueError
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, "receive", qErr.Op)

	err = q.Delete(context.Background(), "r")
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, "delete", qErr.Op)
}
