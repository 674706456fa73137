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

package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_Literal(t *testing.T) {
	t.Parallel()

	resp, err := Parse([]byte(`{"rid":5,"status":0,"name":"abc"}` + "\x00"))
	require.NoError(t, err)

	ok, v := resp.Evaluate(Is("rid", 5), Is("status", 0), Has("name", KindString))
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	ok, v = resp.Evaluate(Is("rid", 6), Is("status", 0), Has("name", KindString))
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	resp, err := Parse([]byte(`{"rid":3,"sts":0,"msg":"OK","ratio":0.5,"big":2.0,"flag":true,` +
		`"leds":[[1,1,10]],"obj":{"a":1}}` + "\x00"))
	require.NoError(t, err)

	tests := []struct {
		want   any
		name   string
		fields []Field
		ok     bool
	}{
		{name: "no fields", ok: true},
		{name: "alt status key", fields: []Field{Is("sts", 0)}, ok: true, want: 0},
		{name: "missing key", fields: []Field{Is("status", 0)}},
		{name: "exact float equals int", fields: []Field{Is("big", 2)}, ok: true, want: 2.0},
		{name: "exact float", fields: []Field{Is("ratio", 0.5)}, ok: true, want: 0.5},
		{name: "number is not string", fields: []Field{Is("rid", "3")}},
		{name: "int kind", fields: []Field{Has("rid", KindInt)}, ok: true, want: 3},
		{name: "float is not int kind", fields: []Field{Has("ratio", KindInt)}},
		{name: "number kind", fields: []Field{Has("ratio", KindNumber)}, ok: true, want: 0.5},
		{name: "bool kind", fields: []Field{Has("flag", KindBool)}, ok: true, want: true},
		{name: "list kind", fields: []Field{Has("leds", KindList)}, ok: true, want: []any{[]any{1, 1, 10}}},
		{name: "object kind", fields: []Field{Has("obj", KindObject)}, ok: true, want: map[string]any{"a": 1}},
		{name: "string is not list", fields: []Field{Has("msg", KindList)}},
		{name: "nil expectation", fields: []Field{{Key: "rid"}}},
		{name: "last value wins", fields: []Field{Has("msg", KindString), Is("rid", 3)}, ok: true, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ok, v := resp.Evaluate(tt.fields...)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
	}{
		{name: "truncated", raw: `{"rid":0,"cmd":"invalid_json"` + "\x00"},
		{name: "empty", raw: "\x00"},
		{name: "array", raw: `[1,2]` + "\x00"},
		{name: "null", raw: `null` + "\x00"},
		{name: "trailing garbage", raw: `{"rid":1}x` + "\x00"},
		{name: "two terminators", raw: `{"rid":1}` + "\x00\x00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.raw))
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestResponseAccessors(t *testing.T) {
	t.Parallel()

	resp, err := Parse([]byte(`{"rid":12,"status":-1,"msg":"Unknown 'cmd': 'x'"}`))
	require.NoError(t, err, "terminator is optional")

	rid, ok := resp.RID()
	require.True(t, ok)
	assert.Equal(t, 12, rid)

	status, ok := resp.Status(DefaultStatusKey)
	require.True(t, ok)
	assert.Equal(t, -1, status)

	_, ok = resp.Status(AltStatusKey)
	assert.False(t, ok)

	assert.Equal(t, "Unknown 'cmd': 'x'", resp.Message())
	assert.Equal(t, `"status" = -1, want == 0`, resp.Mismatch(Is("rid", 12), Is("status", 0)))
	assert.Equal(t, `missing "name"`, resp.Mismatch(Has("name", KindString)))
	assert.Empty(t, resp.Mismatch(Is("rid", 12)))
}
