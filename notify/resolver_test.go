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

package notify

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/flowdigest/core"
)

const directEvent = `{"Records":[{"eventSource":"aws:s3","s3":{"bucket":{"name":"raw-flows"},"object":{"key":"2024/02/flows+day%2B1.csv","size":42}}}]}`

func snsWrap(t *testing.T, inner string) string {
	t.Helper()
	data, err := json.Marshal(map[string]string{
		"Type":    "Notification",
		"Message": inner,
	})
	require.NoError(t, err)
	return string(data)
}

func TestResolve_DirectEvent(t *testing.T) {
	targets, err := NewResolver().Resolve(directEvent)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, core.Target{Container: "raw-flows", Key: "2024/02/flows day+1.csv"}, targets[0])
}

func TestResolve_WrappedMatchesDirect(t *testing.T) {
	direct, err := NewResolver().Resolve(directEvent)
	require.NoError(t, err)

	wrapped, err := NewResolver().Resolve(snsWrap(t, directEvent))
	require.NoError(t, err)
	assert.Equal(t, direct, wrapped)
}

func TestResolve_OnlyOneLevelUnwrapped(t *testing.T) {
	twice := snsWrap(t, snsWrap(t, directEvent))

	_, err := NewResolver().Resolve(twice)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrMalformedNotification)
}

func TestResolve_TestEvent(t *testing.T) {
	body := `{"Service":"Amazon S3","Event":"s3:TestEvent","Time":"2024-02-01T00:00:00.000Z","Bucket":"raw-flows"}`

	targets, err := NewResolver().Resolve(body)
	require.NoError(t, err)
	assert.NotNil(t, targets)
	assert.Empty(t, targets)
}

func TestResolve_TestEventCheckedBeforeUnwrap(t *testing.T) {
	// A test event hidden inside the envelope is not recognised.
	body := snsWrap(t, `{"Event":"s3:TestEvent"}`)

	_, err := NewResolver().Resolve(body)
	assert.ErrorIs(t, err, core.ErrMalformedNotification)
}

func TestResolve_CustomTestEvent(t *testing.T) {
	targets, err := NewResolver(WithTestEvent("ping")).Resolve(`{"Event":"ping"}`)
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestResolve_Failures(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind core.ErrorKind
	}{
		{"not json", `not json`, core.KindMalformedNotification},
		{"empty body", ``, core.KindMalformedNotification},
		{"array root", `[{"Records":[]}]`, core.KindMalformedNotification},
		{"trailing data", `{"Records":[]} {}`, core.KindMalformedNotification},
		{"records missing", `{"foo":"bar"}`, core.KindMalformedNotification},
		{"records empty", `{"Records":[]}`, core.KindMalformedNotification},
		{"records not array", `{"Records":{"s3":{}}}`, core.KindMalformedNotification},
		{"wrapped message not json", `{"Message":"hello"}`, core.KindMalformedNotification},
		{"wrapped message is object", `{"Message":{"Records":[]}}`, core.KindMalformedNotification},
		{"other event type", `{"Event":"s3:ObjectCreated:Put"}`, core.KindMalformedNotification},
		{"bad escape in key", `{"Records":[{"s3":{"bucket":{"name":"b"},"object":{"key":"100%"}}}]}`, core.KindMalformedNotification},
		{"empty bucket", `{"Records":[{"s3":{"bucket":{"name":""},"object":{"key":"k"}}}]}`, core.KindUnresolvableTarget},
		{"missing key", `{"Records":[{"s3":{"bucket":{"name":"b"},"object":{}}}]}`, core.KindUnresolvableTarget},
		{"null bucket", `{"Records":[{"s3":{"bucket":{"name":null},"object":{"key":"k"}}}]}`, core.KindUnresolvableTarget},
		{"first record not object", `{"Records":["x"]}`, core.KindUnresolvableTarget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			targets, err := NewResolver().Resolve(tt.body)
			require.Error(t, err)
			assert.Nil(t, targets)
			assert.Equal(t, tt.kind, core.KindOf(err))

			var pe *core.ProcessingError
			assert.True(t, errors.As(err, &pe))
		})
	}
}

func TestResolve_ScalarRendering(t *testing.T) {
	body := `{"Records":[{"s3":{"bucket":{"name":12345},"object":{"key":true}}}]}`

	targets, err := NewResolver().Resolve(body)
	require.NoError(t, err)
	assert.Equal(t, core.Target{Container: "12345", Key: "true"}, targets[0])
}

func TestResolve_OnlyFirstRecordUsed(t *testing.T) {
	body := `{"Records":[` +
		`{"s3":{"bucket":{"name":"a"},"object":{"key":"one.csv"}}},` +
		`{"s3":{"bucket":{"name":"b"},"object":{"key":"two.csv"}}}]}`

	targets, err := NewResolver().Resolve(body)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "one.csv", targets[0].Key)
}
