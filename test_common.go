// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build !prod

package daisychain

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// createMockClient creates a client on a fresh mock transport.
func createMockClient(t *testing.T, opts ...Option) (*Client, *MockTransport) {
	t.Helper()
	mockTransport := NewMockTransport()
	client, err := NewClient(mockTransport, opts...)
	require.NoError(t, err)
	return client, mockTransport
}

// decodeRequest parses a NUL-terminated request frame written by the client.
func decodeRequest(t *testing.T, frame []byte) map[string]any {
	t.Helper()
	require.NotEmpty(t, frame)
	require.Equal(t, byte(0), frame[len(frame)-1], "request must be NUL terminated")

	dec := json.NewDecoder(bytes.NewReader(frame[:len(frame)-1]))
	dec.UseNumber()
	var req map[string]any
	require.NoError(t, dec.Decode(&req))
	return req
}

// jsonResponder answers every command frame with the document built by
// reply. The rid of the request is passed through so replies can echo it.
func jsonResponder(t *testing.T, reply func(req map[string]any, rid json.Number) map[string]any) Responder {
	t.Helper()
	return func(payload []byte) [][]byte {
		req := decodeRequest(t, payload)
		rid, _ := req["rid"].(json.Number)
		doc := reply(req, rid)
		if doc == nil {
			return nil
		}
		out, err := json.Marshal(doc)
		if err != nil {
			panic(err)
		}
		return [][]byte{append(out, 0)}
	}
}

// okResponder echoes the rid with status 0 and any extra fields.
func okResponder(t *testing.T, extra map[string]any) Responder {
	t.Helper()
	return jsonResponder(t, func(_ map[string]any, rid json.Number) map[string]any {
		doc := map[string]any{"rid": rid, "status": 0}
		for k, v := range extra {
			doc[k] = v
		}
		return doc
	})
}
