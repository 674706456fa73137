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

package testing

import (
	"bytes"
	"testing"
)

func TestJitter_FragmentPreservesBytes(t *testing.T) {
	t.Parallel()

	jitter := NewJitter(JitterConfig{FragmentReplies: true, FragmentMinBytes: 1, Seed: 12345})
	data := []byte(`{"rid":1,"msg":"OK","status":0,"version":"v1.0.0"}` + "\x00")

	for range 20 {
		pieces := jitter.Fragment(data)
		if len(pieces) == 0 {
			t.Fatal("no fragments returned")
		}
		if got := bytes.Join(pieces, nil); !bytes.Equal(got, data) {
			t.Fatalf("fragments do not rejoin: got %q", got)
		}
		for _, p := range pieces {
			if len(p) == 0 {
				t.Fatal("empty fragment")
			}
		}
	}
}

func TestJitter_FragmentsEventuallySplit(t *testing.T) {
	t.Parallel()

	jitter := NewJitter(JitterConfig{FragmentReplies: true, FragmentMinBytes: 2, Seed: 99})
	data := bytes.Repeat([]byte("x"), 64)

	split := false
	for range 20 {
		pieces := jitter.Fragment(data)
		for _, p := range pieces[:len(pieces)-1] {
			if len(p) < 2 {
				t.Fatalf("fragment shorter than minimum: %d", len(p))
			}
		}
		if len(pieces) > 1 {
			split = true
		}
	}
	if !split {
		t.Error("expected at least one notification to be split")
	}
}

func TestJitter_NoFragmentation(t *testing.T) {
	t.Parallel()

	jitter := NewJitter(JitterConfig{Seed: 1})
	data := []byte("hello\x00")
	pieces := jitter.Fragment(data)
	if len(pieces) != 1 || !bytes.Equal(pieces[0], data) {
		t.Fatalf("expected a single fragment, got %q", pieces)
	}
}

func TestJitter_SeedIsDeterministic(t *testing.T) {
	t.Parallel()

	config := JitterConfig{FragmentReplies: true, FragmentMinBytes: 1, Seed: 4242}
	a := NewJitter(config)
	b := NewJitter(config)
	data := bytes.Repeat([]byte("ab"), 50)

	for range 5 {
		pa, pb := a.Fragment(data), b.Fragment(data)
		if len(pa) != len(pb) {
			t.Fatalf("same seed produced %d and %d fragments", len(pa), len(pb))
		}
		for i := range pa {
			if len(pa[i]) != len(pb[i]) {
				t.Fatalf("fragment %d differs: %d vs %d bytes", i, len(pa[i]), len(pb[i]))
			}
		}
	}
}
