// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store is the scorer's resumable checkpoint cache: a persistent
// key-value store keyed by (chunk id, HMM id) holding the raw bitscore
// vector computed for that cell. A re-run of the scorer against the same
// checkpoint directory reuses every cell already present instead of
// invoking hmmsearch again.
package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"time"

	"modernc.org/kv"
)

// Hit is one (sequence id, raw bitscore) pair from a scored cell, in the
// hmmsearch report order for that cell.
type Hit struct {
	SeqID uint32
	Score float64
}

var order = binary.BigEndian

// Key returns the cache key for the cell (chunkID, hmmID): the
// big-endian concatenation of the two ids.
func Key(chunkID, hmmID int) []byte {
	var buf [8]byte
	order.PutUint32(buf[0:4], uint32(chunkID))
	order.PutUint32(buf[4:8], uint32(hmmID))
	return buf[:]
}

// EncodeHits serialises hits to a byte blob that DecodeHits round-trips
// exactly.
func EncodeHits(hits []Hit) []byte {
	buf := make([]byte, 4+12*len(hits))
	order.PutUint32(buf[:4], uint32(len(hits)))
	off := 4
	for _, h := range hits {
		order.PutUint32(buf[off:off+4], h.SeqID)
		order.PutUint64(buf[off+4:off+12], math.Float64bits(h.Score))
		off += 12
	}
	return buf
}

// DecodeHits reverses EncodeHits.
func DecodeHits(data []byte) ([]Hit, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("store: truncated cache entry (%d bytes)", len(data))
	}
	n := order.Uint32(data[:4])
	data = data[4:]
	if uint64(len(data)) != 12*uint64(n) {
		return nil, fmt.Errorf("store: cache entry length mismatch: want %d hits, have %d bytes", n, len(data))
	}
	hits := make([]Hit, n)
	off := 0
	for i := range hits {
		hits[i].SeqID = order.Uint32(data[off : off+4])
		hits[i].Score = math.Float64frombits(order.Uint64(data[off+4 : off+12]))
		off += 12
	}
	return hits, nil
}

// byKey orders cache entries by their raw (chunk,hmm) key, which is
// already in the right sort order because both fields are fixed-width
// big-endian integers.
func byKey(x, y []byte) int {
	return bytes.Compare(x, y)
}

// ParseKey reverses Key.
func ParseKey(k []byte) (chunkID, hmmID int, err error) {
	if len(k) != 8 {
		return 0, 0, fmt.Errorf("store: malformed cache key of %d bytes", len(k))
	}
	return int(order.Uint32(k[0:4])), int(order.Uint32(k[4:8])), nil
}

// Walk opens the checkpoint store at path read-only and calls fn for
// every cached cell in key order. It is used by audit tooling; the
// store must not be open for scoring at the same time.
func Walk(path string, fn func(chunkID, hmmID int, hits []Hit) error) error {
	db, err := kv.Open(path, &kv.Options{Compare: byKey})
	if err != nil {
		return fmt.Errorf("store: opening checkpoint %s: %w", path, err)
	}
	defer db.Close()
	it, err := db.SeekFirst()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("store: seeking checkpoint %s: %w", path, err)
	}
	for {
		k, v, err := it.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("store: iterating checkpoint %s: %w", path, err)
		}
		chunkID, hmmID, err := ParseKey(k)
		if err != nil {
			return err
		}
		hits, err := DecodeHits(v)
		if err != nil {
			return fmt.Errorf("store: decoding cell (%d,%d): %w", chunkID, hmmID, err)
		}
		if err := fn(chunkID, hmmID, hits); err != nil {
			return err
		}
	}
}

// Checkpoint is a thread-safe cache of scored cells, backed by a
// modernc.org/kv store on disk. Writes accumulate in an open structural
// transaction that a background ticker commits every flushInterval,
// giving crash-consistency without a commit-per-cell cost; Close commits
// any open batch before closing the store.
type Checkpoint struct {
	mu      sync.Mutex
	db      *kv.DB
	inTx    bool
	done    chan struct{}
	closing sync.Once
}

// Open opens or creates a checkpoint store at path.
func Open(path string) (*Checkpoint, error) {
	opts := &kv.Options{Compare: byKey}
	db, err := kv.Open(path, opts)
	if err != nil {
		db, err = kv.Create(path, opts)
		if err != nil {
			return nil, fmt.Errorf("store: opening checkpoint %s: %w", path, err)
		}
	}
	c := &Checkpoint{db: db, done: make(chan struct{})}
	go c.flushLoop(3 * time.Second)
	return c, nil
}

// Get returns the cached hits for (chunkID, hmmID), if present.
func (c *Checkpoint) Get(chunkID, hmmID int) (hits []Hit, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := c.db.Get(nil, Key(chunkID, hmmID))
	if err != nil {
		return nil, false, fmt.Errorf("store: reading cell (%d,%d): %w", chunkID, hmmID, err)
	}
	if v == nil {
		return nil, false, nil
	}
	hits, err = DecodeHits(v)
	if err != nil {
		return nil, false, fmt.Errorf("store: decoding cell (%d,%d): %w", chunkID, hmmID, err)
	}
	return hits, true, nil
}

// Put stores hits for (chunkID, hmmID), opening a transaction if none
// is pending; the batch is committed by the flush ticker or by Close.
// Each cell is written at most once by the scorer, so Put does not
// check for an existing value.
func (c *Checkpoint) Put(chunkID, hmmID int, hits []Hit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inTx {
		if err := c.db.BeginTransaction(); err != nil {
			return fmt.Errorf("store: beginning checkpoint batch: %w", err)
		}
		c.inTx = true
	}
	if err := c.db.Set(Key(chunkID, hmmID), EncodeHits(hits)); err != nil {
		return fmt.Errorf("store: writing cell (%d,%d): %w", chunkID, hmmID, err)
	}
	return nil
}

func (c *Checkpoint) flushLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := c.flush(); err != nil {
				log.Printf("store: checkpoint flush: %v", err)
			}
		case <-c.done:
			return
		}
	}
}

// flush commits the pending write batch, if any.
func (c *Checkpoint) flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitLocked()
}

// commitLocked commits the open transaction. The caller must hold mu.
func (c *Checkpoint) commitLocked() error {
	if !c.inTx {
		return nil
	}
	c.inTx = false
	if err := c.db.Commit(); err != nil {
		return fmt.Errorf("store: committing checkpoint batch: %w", err)
	}
	return nil
}

// Close stops the flush loop, commits any pending batch and closes the
// underlying store.
func (c *Checkpoint) Close() error {
	c.closing.Do(func() { close(c.done) })
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.commitLocked()
	if cerr := c.db.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("store: closing checkpoint: %w", cerr)
	}
	return err
}
