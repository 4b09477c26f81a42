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

// Package notify resolves storage event notifications into object targets.
//
// A notification is either a direct storage event, a pub/sub envelope whose "Message" field
// carries the event as escaped text, or a connectivity test event. Only one level of pub/sub
// wrapping is unwrapped.
package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/aaronlmathis/flowdigest/core"
)

// TestEvent is the event type of the synthetic connectivity test notification.
const TestEvent = "s3:TestEvent"

var errNotObject = errors.New("notification is not a JSON object")

// Resolver turns notification bodies into targets.
type Resolver struct {
	testEvent string
}

// ResolverOption allows functional customization of Resolver.
type ResolverOption func(*Resolver)

// WithTestEvent overrides the test event sentinel.
func WithTestEvent(event string) ResolverOption {
	return func(r *Resolver) { r.testEvent = event }
}

// NewResolver creates a Resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{testEvent: TestEvent}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve decodes body into at most one target. A test event yields an empty slice and no
// error. Every other outcome without a target is a *core.ProcessingError.
func (r *Resolver) Resolve(body string) ([]core.Target, error) {
	root, err := decodeObject(body)
	if err != nil {
		return nil, malformed("decode", err)
	}

	if event, ok := root["Event"]; ok && textValue(event) == r.testEvent {
		return []core.Target{}, nil
	}

	if message, ok := root["Message"]; ok {
		root, err = decodeObject(textValue(message))
		if err != nil {
			return nil, malformed("unwrap", err)
		}
	}

	records, ok := root["Records"].([]interface{})
	if !ok || len(records) == 0 {
		return nil, malformed("records", errors.New("no Records array found in message"))
	}

	first, _ := records[0].(map[string]interface{})
	container := textValue(path(first, "s3", "bucket", "name"))
	rawKey := textValue(path(first, "s3", "object", "key"))

	key, err := url.QueryUnescape(rawKey)
	if err != nil {
		return nil, malformed("decode_key", fmt.Errorf("object key %q: %w", rawKey, err))
	}

	if container == "" || key == "" {
		return nil, &core.ProcessingError{
			Op:        "target",
			Kind:      core.KindUnresolvableTarget,
			Container: container,
			Key:       key,
			Err:       errors.New("empty bucket name or object key"),
		}
	}

	return []core.Target{{Container: container, Key: key}}, nil
}

func malformed(op string, err error) error {
	return &core.ProcessingError{Op: op, Kind: core.KindMalformedNotification, Err: err}
}

// decodeObject parses text as a JSON object. Numbers are kept as json.Number so their literal
// form survives.
func decodeObject(text string) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("unexpected data after notification")
	}

	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, errNotObject
	}
	return obj, nil
}

// path walks nested objects and returns nil when any step is missing.
func path(node map[string]interface{}, fields ...string) interface{} {
	var cur interface{} = node
	for _, f := range fields {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = obj[f]
	}
	return cur
}

// textValue renders scalars as text; containers and null render as "".
func textValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}
