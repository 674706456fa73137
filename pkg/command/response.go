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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"reflect"
)

// Response is a decoded controller reply.
type Response struct {
	doc map[string]any
	raw []byte
}

// Parse decodes one response frame. A single trailing NUL is stripped; the
// remainder must be exactly one JSON object. Numbers are kept exact until a
// field is read.
func Parse(raw []byte) (Response, error) {
	body := bytes.TrimSuffix(raw, []byte{Terminator})

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if doc == nil {
		return Response{}, fmt.Errorf("%w: not an object", ErrMalformed)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Response{}, fmt.Errorf("%w: trailing data after object", ErrMalformed)
	}
	return Response{doc: doc, raw: append([]byte(nil), raw...)}, nil
}

// Raw returns the frame the response was parsed from.
func (r Response) Raw() []byte { return r.raw }

// Value returns a field with numbers normalized to int (or float64 when not
// integral).
func (r Response) Value(key string) (any, bool) {
	v, ok := r.doc[key]
	if !ok {
		return nil, false
	}
	return normalize(v), true
}

// RID returns the echoed request id.
func (r Response) RID() (int, bool) {
	v, ok := r.Value(KeyRID)
	if !ok {
		return 0, false
	}
	n, ok := v.(int)
	return n, ok
}

// Status returns the status field under the given key spelling.
func (r Response) Status(key string) (any, bool) {
	return r.Value(key)
}

// Message returns the device's diagnostic text, empty when absent.
func (r Response) Message() string {
	s, _ := r.doc[KeyMsg].(string)
	return s
}

// Kind is a JSON value class for type expectations.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindNumber
	KindBool
	KindList
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Expect is a constraint on one response field.
type Expect interface {
	matches(v any) bool
	String() string
}

type exact struct{ want any }

// Exact requires the field to equal v. Numbers compare by value, so Exact(0)
// matches 0 and 0.0.
func Exact(v any) Expect { return exact{want: v} }

func (e exact) matches(v any) bool {
	if n, ok := v.(json.Number); ok {
		want, ok := toRat(e.want)
		if !ok {
			return false
		}
		got, ok := new(big.Rat).SetString(n.String())
		return ok && got.Cmp(want) == 0
	}
	return reflect.DeepEqual(normalize(v), normalize(e.want))
}

func (e exact) String() string { return fmt.Sprintf("== %v", e.want) }

type ofType struct{ kind Kind }

// OfType requires the field to be of the given kind.
func OfType(k Kind) Expect { return ofType{kind: k} }

func (o ofType) matches(v any) bool {
	switch o.kind {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindInt:
		n, ok := v.(json.Number)
		if !ok {
			return false
		}
		_, err := n.Int64()
		return err == nil
	case KindNumber:
		_, ok := v.(json.Number)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindList:
		_, ok := v.([]any)
		return ok
	case KindObject:
		_, ok := v.(map[string]any)
		return ok
	default:
		return false
	}
}

func (o ofType) String() string { return "is " + o.kind.String() }

// Field pairs a response key with its expectation.
type Field struct {
	Expect Expect
	Key    string
}

// Is is shorthand for Field{Key: key, Expect: Exact(v)}.
func Is(key string, v any) Field { return Field{Key: key, Expect: Exact(v)} }

// Has is shorthand for Field{Key: key, Expect: OfType(k)}.
func Has(key string, k Kind) Field { return Field{Key: key, Expect: OfType(k)} }

// Evaluate checks every field in order. It reports whether all are present
// and satisfied, and on success returns the normalized value of the last
// field checked. A violation yields (false, nil).
func (r Response) Evaluate(fields ...Field) (bool, any) {
	var last any
	for _, f := range fields {
		v, ok := r.doc[f.Key]
		if !ok || f.Expect == nil || !f.Expect.matches(v) {
			return false, nil
		}
		last = v
	}
	return true, normalize(last)
}

// Mismatch describes the first field that fails, for diagnostics.
func (r Response) Mismatch(fields ...Field) string {
	for _, f := range fields {
		v, ok := r.doc[f.Key]
		switch {
		case !ok:
			return fmt.Sprintf("missing %q", f.Key)
		case f.Expect == nil || !f.Expect.matches(v):
			return fmt.Sprintf("%q = %v, want %v", f.Key, normalize(v), f.Expect)
		}
	}
	return ""
}

func toRat(v any) (*big.Rat, bool) {
	switch n := v.(type) {
	case int:
		return new(big.Rat).SetInt64(int64(n)), true
	case int32:
		return new(big.Rat).SetInt64(int64(n)), true
	case int64:
		return new(big.Rat).SetInt64(n), true
	case uint16:
		return new(big.Rat).SetInt64(int64(n)), true
	case float64:
		r := new(big.Rat)
		if r.SetFloat64(n) == nil {
			return nil, false
		}
		return r, true
	case json.Number:
		return new(big.Rat).SetString(n.String())
	default:
		return nil, false
	}
}

// normalize converts json.Number to int or float64, recursively.
func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i)
		}
		f, _ := t.Float64()
		return f
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	default:
		return v
	}
}
