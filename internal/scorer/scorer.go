// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scorer runs the all-queries-by-all-HMMs profile search sweep,
// converts the raw per-query, per-HMM bitscores into a log-space
// adjusted score, and keeps the top-K scoring HMMs for each query.
package scorer

import (
	"bytes"
	"container/heap"
	"context"
	"fmt"
	"log"
	"math"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/kortschak/witch/internal/ehmm"
	"github.com/kortschak/witch/internal/fastaio"
	"github.com/kortschak/witch/internal/hmmtools"
	"github.com/kortschak/witch/internal/store"
)

// DefaultTopK is the number of HMMs retained per query. It is a named
// constant rather than a buried literal so a caller can override it.
const DefaultTopK = 10

// Config controls the scorer's concurrency and resumability.
type Config struct {
	NumWorkers          int
	NumThreadsPerWorker int
	IOBound             bool
	ShowProgress        bool
	CheckpointDir       string // empty disables the checkpoint cache
	TopK                int    // 0 means DefaultTopK
}

func (c Config) topK() int {
	if c.TopK <= 0 {
		return DefaultTopK
	}
	return c.TopK
}

// HMMScore is one entry of a query's top-K list: the HMM it was scored
// against and its adjusted bitscore.
type HMMScore struct {
	HMMID int
	Score float64
}

// SeqScore is one entry of a HMM's hit list after transposition: the
// query that hit it and its adjusted bitscore.
type SeqScore struct {
	SeqID int
	Score float64
}

// AdderPayload is the scorer's output: for each query, up to Config.TopK
// (HMM, adjusted score) pairs.
type AdderPayload struct {
	SequenceTophits [][]HMMScore
}

// Transpose regroups SequenceTophits by HMM id. The total hit count is
// conserved: sum(len(SequenceTophits[q])) equals sum(len(result[h])).
func (p *AdderPayload) Transpose(numHMMs int) [][]SeqScore {
	byHMM := make([][]SeqScore, numHMMs)
	for q, hits := range p.SequenceTophits {
		for _, h := range hits {
			byHMM[h.HMMID] = append(byHMM[h.HMMID], SeqScore{SeqID: q, Score: h.Score})
		}
	}
	return byHMM
}

// clampChunkSize returns the query-chunk size for a sweep over q queries
// across numWorkers workers: ⌈q/numWorkers⌉ clamped to [400,1000].
func clampChunkSize(q, numWorkers int) int {
	if numWorkers < 1 {
		numWorkers = 1
	}
	c := (q + numWorkers - 1) / numWorkers
	if c < 400 {
		c = 400
	}
	if c > 1000 {
		c = 1000
	}
	return c
}

// Score runs the scoring sweep of queries against every HMM described by
// ctxt (an eHMM directory laid out by package ehmm, rooted at dir), and
// returns each query's top-K adjusted-scoring HMMs.
func Score(ctx context.Context, dir string, ctxt *ehmm.CrucibleCtxt, queries []fastaio.Record, cfg Config) (*AdderPayload, error) {
	numHMMs := ctxt.NumHMMs()
	if numHMMs == 0 {
		return nil, fmt.Errorf("scorer: eHMM context has no HMMs")
	}
	numWorkers := cfg.NumWorkers
	if numWorkers < 1 {
		numWorkers = runtime.NumCPU()
	}

	var cp *store.Checkpoint
	if cfg.CheckpointDir != "" {
		var err error
		cp, err = store.Open(cfg.CheckpointDir)
		if err != nil {
			return nil, fmt.Errorf("scorer: opening checkpoint: %w", err)
		}
		defer cp.Close()
	}

	chunkSize := clampChunkSize(len(queries), numWorkers)
	var chunks [][]fastaio.Record
	for lo := 0; lo < len(queries); lo += chunkSize {
		hi := lo + chunkSize
		if hi > len(queries) {
			hi = len(queries)
		}
		chunks = append(chunks, queries[lo:hi])
	}
	if len(chunks) == 0 {
		return &AdderPayload{SequenceTophits: make([][]HMMScore, 0)}, nil
	}

	type cell struct {
		chunkID, hmmID int
		lo             int // global seq id offset of this chunk
		recs           []fastaio.Record
	}
	var cells []cell
	for ci, chunk := range chunks {
		lo := ci * chunkSize
		for h := 0; h < numHMMs; h++ {
			cells = append(cells, cell{chunkID: ci, hmmID: h, lo: lo, recs: chunk})
		}
	}

	var done int64
	var reporterWG sync.WaitGroup
	term := make(chan struct{})
	if cfg.ShowProgress {
		reporterWG.Add(1)
		go reportProgress(&done, int64(len(cells)), term, &reporterWG)
	}

	var mu sync.Mutex
	var raw []rawTriple

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)
	for _, c := range cells {
		c := c
		g.Go(func() error {
			defer atomic.AddInt64(&done, 1)

			var hits []store.Hit
			var err error
			if cp != nil {
				var ok bool
				hits, ok, err = cp.Get(c.chunkID, c.hmmID)
				if err != nil {
					return err
				}
				if !ok {
					hits, err = runCell(gctx, dir, c.hmmID, c.recs, cfg.IOBound)
					if err != nil {
						return err
					}
					if err := cp.Put(c.chunkID, c.hmmID, hits); err != nil {
						return err
					}
				}
			} else {
				hits, err = runCell(gctx, dir, c.hmmID, c.recs, cfg.IOBound)
				if err != nil {
					return err
				}
			}

			mu.Lock()
			for _, h := range hits {
				raw = append(raw, rawTriple{hmmID: c.hmmID, seqID: c.lo + int(h.SeqID), bitscore: h.Score})
			}
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	close(term)
	reporterWG.Wait()
	if err != nil {
		return nil, fmt.Errorf("scorer: scoring sweep: %w", err)
	}

	// An HMM's size in the adjusted-score formula is the number of
	// backbone sequences its subset was built from.
	sizes := make([]int, numHMMs)
	for i, m := range ctxt.Metadata {
		sizes[i] = m.SequenceRange[1] - m.SequenceRange[0]
	}

	byQuery := make(map[int][]rawTriple, len(queries))
	for _, r := range raw {
		byQuery[r.seqID] = append(byQuery[r.seqID], r)
	}

	// The adjusted-score pass is CPU-bound and memory-light, so it gets
	// the full numWorkers×threadsPerWorker pool rather than the
	// subprocess-sized one used for the sweep.
	topK := cfg.topK()
	out := make([][]HMMScore, len(queries))
	gq := new(errgroup.Group)
	gq.SetLimit(numWorkers * max(1, cfg.NumThreadsPerWorker))
	for q, triples := range byQuery {
		q, triples := q, triples
		gq.Go(func() error {
			out[q] = adjustedTopK(triples, sizes, topK)
			return nil
		})
	}
	gq.Wait()
	for q := range out {
		if out[q] == nil {
			out[q] = []HMMScore{}
		}
	}

	return &AdderPayload{SequenceTophits: out}, nil
}

// runCell runs hmmsearch of hmm hmmID against recs and resolves reported
// names back to the chunk-local sequence ids.
func runCell(ctx context.Context, dir string, hmmID int, recs []fastaio.Record, ioBound bool) ([]store.Hit, error) {
	nameToID := make(map[string]int, len(recs))
	for i, r := range recs {
		nameToID[r.Name] = i
	}

	search := hmmtools.DefaultSearch(ehmm.HMMPath(dir, hmmID), ioBound)
	cmd, err := search.BuildCommand()
	if err != nil {
		return nil, fmt.Errorf("scorer: building hmmsearch command: %w", err)
	}
	cmd = exec.CommandContext(ctx, cmd.Path, cmd.Args[1:]...)

	var in bytes.Buffer
	if err := fastaio.WriteFasta(&in, recs); err != nil {
		return nil, fmt.Errorf("scorer: writing query chunk: %w", err)
	}
	cmd.Stdin = &in

	var out bytes.Buffer
	cmd.Stdout = &out
	if err := hmmtools.RunLogged(cmd); err != nil {
		return nil, fmt.Errorf("scorer: hmmsearch (hmm %d) failed: %w", hmmID, err)
	}

	parsed, err := hmmtools.ParseHits(&out)
	if err != nil {
		return nil, fmt.Errorf("scorer: parsing hmmsearch output (hmm %d): %w", hmmID, err)
	}

	hits := make([]store.Hit, len(parsed))
	for i, h := range parsed {
		id, ok := nameToID[h.Name]
		if !ok {
			return nil, fmt.Errorf("scorer: hmmsearch (hmm %d) reported unknown sequence name %q", hmmID, h.Name)
		}
		hits[i] = store.Hit{SeqID: uint32(id), Score: h.BitScore}
	}
	return hits, nil
}

// rawTriple is one scored (HMM, query) cell result before the
// adjusted-score transform: the HMM and query that produced it, and the
// raw bitscore hmmsearch reported.
type rawTriple struct {
	hmmID, seqID int
	bitscore     float64
}

// adjustedTopK computes the adjusted bitscore of each of one query's
// raw (hmm, bitscore) triples and returns the top k, sorted
// descending by score and ascending by HMM id on ties.
func adjustedTopK(triples []rawTriple, sizes []int, k int) []HMMScore {
	n := len(triples)
	logTerms := make([]float64, n)
	adjusted := make([]HMMScore, n)
	for i := range triples {
		bi := triples[i].bitscore
		si := float64(sizes[triples[i].hmmID])
		for j := range triples {
			bj := triples[j].bitscore
			sj := float64(sizes[triples[j].hmmID])
			logTerms[j] = (bj-bi)*math.Ln2 + math.Log(sj) - math.Log(si)
		}
		logDenom := floats.LogSumExp(logTerms)
		adjusted[i] = HMMScore{HMMID: triples[i].hmmID, Score: math.Exp(-logDenom)}
	}
	return topKByScore(adjusted, k)
}

// scoreHeap is a min-heap over HMMScore used to keep the top k entries
// while scanning a candidate list once, avoiding a full sort of all
// candidates.
type scoreHeap []HMMScore

func (h scoreHeap) Len() int { return len(h) }
func (h scoreHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	// Smaller HMM id wins ties; as a min-heap keeping the top k, that
	// means the larger HMM id is the one we'd rather evict first.
	return h[i].HMMID > h[j].HMMID
}
func (h scoreHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *scoreHeap) Push(x any) { *h = append(*h, x.(HMMScore)) }
func (h *scoreHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

func topKByScore(candidates []HMMScore, k int) []HMMScore {
	if k <= 0 {
		return nil
	}
	h := make(scoreHeap, 0, k)
	for _, c := range candidates {
		if h.Len() < k {
			heap.Push(&h, c)
			continue
		}
		if c.Score > h[0].Score || (c.Score == h[0].Score && c.HMMID < h[0].HMMID) {
			heap.Pop(&h)
			heap.Push(&h, c)
		}
	}
	out := make([]HMMScore, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(HMMScore)
	}
	return out
}

// reportProgress polls count every 300ms and logs a status line every
// 10s until term is closed.
func reportProgress(count *int64, total int64, term <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	poll := time.NewTicker(300 * time.Millisecond)
	defer poll.Stop()
	logEvery := time.NewTicker(10 * time.Second)
	defer logEvery.Stop()
	start := time.Now()
	for {
		select {
		case <-poll.C:
		case <-logEvery.C:
			log.Printf("scoring progress: %d/%d cells (%s elapsed)", atomic.LoadInt64(count), total, time.Since(start).Round(time.Second))
		case <-term:
			log.Printf("scoring progress: %d/%d cells (%s elapsed), done", atomic.LoadInt64(count), total, time.Since(start).Round(time.Second))
			return
		}
	}
}
