// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestEncodeDecodeHitsRoundTrip(t *testing.T) {
	cases := [][]Hit{
		nil,
		{{SeqID: 0, Score: 0}},
		{{SeqID: 1, Score: 12.5}, {SeqID: 2, Score: -3.25}, {SeqID: 7, Score: 1e9}},
	}
	for _, hits := range cases {
		got, err := DecodeHits(EncodeHits(hits))
		if err != nil {
			t.Fatalf("DecodeHits: %v", err)
		}
		if len(got) == 0 && len(hits) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, hits) {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, hits)
		}
	}
}

func TestDecodeHitsRejectsTruncated(t *testing.T) {
	if _, err := DecodeHits([]byte{1, 2, 3}); err == nil {
		t.Error("expected error decoding truncated entry")
	}
	full := EncodeHits([]Hit{{SeqID: 1, Score: 1}})
	if _, err := DecodeHits(full[:len(full)-1]); err == nil {
		t.Error("expected error decoding length-mismatched entry")
	}
}

func TestKeyOrdering(t *testing.T) {
	if byKey(Key(0, 0), Key(0, 1)) >= 0 {
		t.Error("Key(0,0) should sort before Key(0,1)")
	}
	if byKey(Key(0, 5), Key(1, 0)) >= 0 {
		t.Error("Key(0,5) should sort before Key(1,0)")
	}
}

func TestCheckpointGetPutRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "scores.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if _, ok, err := c.Get(3, 4); err != nil || ok {
		t.Fatalf("Get on empty store: ok=%v err=%v", ok, err)
	}

	want := []Hit{{SeqID: 10, Score: 42.5}, {SeqID: 11, Score: -1}}
	if err := c.Put(3, 4, want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := c.Get(3, 4)
	if err != nil || !ok {
		t.Fatalf("Get after Put: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Get after Put = %+v, want %+v", got, want)
	}

	if _, ok, err := c.Get(3, 5); err != nil || ok {
		t.Fatalf("Get on unwritten cell: ok=%v err=%v", ok, err)
	}
}

func TestCheckpointPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scores.db")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := []Hit{{SeqID: 1, Score: 2.5}, {SeqID: 9, Score: -0.25}}
	if err := c.Put(0, 1, want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// Close before the flush ticker fires: the pending batch must be
	// committed on the way out.
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c2.Close()
	got, ok, err := c2.Get(0, 1)
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Get after reopen = %+v, want %+v", got, want)
	}
}
