// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package accumulate runs profile alignment of each HMM's matching
// queries and turns the aligner's output into sparse positional weights:
// for each query, how strongly each of its residues supports being
// matched to each backbone column.
package accumulate

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"golang.org/x/sync/errgroup"

	"github.com/kortschak/witch/internal/ehmm"
	"github.com/kortschak/witch/internal/fastaio"
	"github.com/kortschak/witch/internal/hmmtools"
	"github.com/kortschak/witch/internal/scorer"
)

// batchSize caps the number of queries per hmmalign invocation to
// bound the aligner's memory use.
const batchSize = 500

// Key is a sparse weight-matrix coordinate: a 0-based residue index into
// a query's ungapped sequence and a 0-based backbone column index.
type Key struct {
	Residue int
	Column  int
}

// WeightMatrix is the accumulated evidence for every query: for query q,
// WeightMatrix[q] maps the (residue, backbone column) pairs that
// received any weight to their accumulated weight.
type WeightMatrix map[int]map[Key]float64

// add accumulates delta into m[q][k], creating the inner map if needed.
func (m WeightMatrix) add(q int, k Key, delta float64) {
	row := m[q]
	if row == nil {
		row = make(map[Key]float64)
		m[q] = row
	}
	row[k] += delta
}

// mergeInto adds every entry of src into dst.
func mergeInto(dst, src WeightMatrix) {
	for q, row := range src {
		for k, w := range row {
			dst.add(q, k, w)
		}
	}
}

// Accumulate runs hmmalign for every HMM with a non-empty hit list in
// hitsByHMM (as produced by scorer.AdderPayload.Transpose) and merges
// the resulting per-query weights into a single WeightMatrix. queries
// must be indexed by the same sequence ids used in hitsByHMM.
//
// Each HMM is processed by its own goroutine under a pool bounded to
// numWorkers, building a private WeightMatrix that is merged into the
// result after the parallel region drains — addition over float64 is
// commutative and associative up to the last ULP, so the merge order
// (and thus which goroutine happens to process which HMM) does not
// affect the result beyond that tolerance.
func Accumulate(ctx context.Context, dir string, ctxt *ehmm.CrucibleCtxt, queries []fastaio.Record, hitsByHMM [][]scorer.SeqScore, numWorkers int) (WeightMatrix, error) {
	locals := make([]WeightMatrix, len(hitsByHMM))

	g, gctx := errgroup.WithContext(ctx)
	if numWorkers > 0 {
		g.SetLimit(numWorkers)
	}
	for h, hits := range hitsByHMM {
		if len(hits) == 0 {
			continue
		}
		h, hits := h, hits
		g.Go(func() error {
			local := make(WeightMatrix)
			if err := processOneHMM(gctx, dir, h, &ctxt.Metadata[h], queries, hits, local); err != nil {
				return fmt.Errorf("accumulate: HMM %d: %w", h, err)
			}
			locals[h] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	result := make(WeightMatrix)
	for _, local := range locals {
		mergeInto(result, local)
	}
	return result, nil
}

// processOneHMM aligns hits's queries against HMM h in batches of
// batchSize and accumulates their weight contributions into out.
func processOneHMM(ctx context.Context, dir string, h int, meta *ehmm.HmmMeta, queries []fastaio.Record, hits []scorer.SeqScore, out WeightMatrix) error {
	scoreOf := make(map[int]float64, len(hits))
	for _, hit := range hits {
		scoreOf[hit.SeqID] = hit.Score
	}

	for lo := 0; lo < len(hits); lo += batchSize {
		hi := lo + batchSize
		if hi > len(hits) {
			hi = len(hits)
		}
		batch := hits[lo:hi]

		recs := make([]fastaio.Record, len(batch))
		for i, hit := range batch {
			recs[i] = queries[hit.SeqID]
		}

		aligned, err := runAlign(ctx, dir, h, recs)
		if err != nil {
			return err
		}

		nameToSeqID := make(map[string]int, len(recs))
		for i, r := range recs {
			nameToSeqID[r.Name] = batch[i].SeqID
		}

		for _, rec := range aligned {
			seqID, ok := nameToSeqID[rec.Name]
			if !ok {
				return fmt.Errorf("hmmalign reported unknown sequence name %q", rec.Name)
			}
			if err := accumulateRecord(rec.Row, meta, seqID, scoreOf[seqID], out); err != nil {
				return fmt.Errorf("query %q: %w", rec.Name, err)
			}
		}
	}
	return nil
}

// runAlign invokes hmmalign against the profile for HMM h with recs as
// the query FASTA stream, returning the parsed aligned records.
func runAlign(ctx context.Context, dir string, h int, recs []fastaio.Record) ([]fastaio.AlignedRecord, error) {
	align := hmmtools.DefaultAlign(ehmm.HMMPath(dir, h))
	cmd, err := align.BuildCommand()
	if err != nil {
		return nil, fmt.Errorf("building hmmalign command: %w", err)
	}
	cmd = exec.CommandContext(ctx, cmd.Path, cmd.Args[1:]...)

	var in bytes.Buffer
	if err := fastaio.WriteFasta(&in, recs); err != nil {
		return nil, fmt.Errorf("writing query batch: %w", err)
	}
	cmd.Stdin = &in

	var out bytes.Buffer
	cmd.Stdout = &out
	if err := hmmtools.RunLogged(cmd); err != nil {
		return nil, fmt.Errorf("hmmalign failed: %w", err)
	}

	aligned, err := fastaio.ReadAligned(&out)
	if err != nil {
		return nil, fmt.Errorf("parsing hmmalign output: %w", err)
	}
	return aligned, nil
}

// accumulateRecord walks one aligned row using hmmalign's four-symbol
// convention ('.' pad, '-' gap, uppercase match, lowercase insert) and
// records weight for every consensus-column match.
func accumulateRecord(row []byte, meta *ehmm.HmmMeta, seqID int, score float64, out WeightMatrix) error {
	columnCursor := 0
	residueCursor := 0
	for _, b := range row {
		switch {
		case b == '.':
			// Insertion-state padding; ignored entirely.
		case b == '-':
			columnCursor++
		case b >= 'A' && b <= 'Z':
			if columnCursor >= len(meta.ColumnPositions) {
				return fmt.Errorf("consensus column cursor %d exceeds HMM width %d", columnCursor, len(meta.ColumnPositions))
			}
			delta := score * float64(meta.CharsCnt[columnCursor])
			out.add(seqID, Key{Residue: residueCursor, Column: meta.ColumnPositions[columnCursor]}, delta)
			columnCursor++
			residueCursor++
		case b >= 'a' && b <= 'z':
			residueCursor++
		default:
			return fmt.Errorf("unexpected residue byte %q in aligned record", b)
		}
	}
	if columnCursor != len(meta.ColumnPositions) {
		return fmt.Errorf("column cursor %d did not reach HMM width %d after parsing record", columnCursor, len(meta.ColumnPositions))
	}
	return nil
}
