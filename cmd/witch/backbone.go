// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/biogo/hts/fai"

	"github.com/kortschak/witch/internal/ehmm"
	"github.com/kortschak/witch/internal/fastaio"
	"github.com/kortschak/witch/internal/guidetree"
)

// workerCounts returns the worker-pool sizing for the given -threads
// value: when ioBound each worker is assumed to saturate one core with a
// search subprocess while its reading thread handles I/O, so half the
// cores become workers with two threads each; otherwise one
// single-threaded worker per core.
func workerCounts(threads int, ioBound bool) (numWorkers, threadsPerWorker int) {
	cores := threads
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	if ioBound {
		w := cores / 2
		if w < 1 {
			w = 1
		}
		return w, 2
	}
	return cores, 1
}

// readFasta reads every record of the FASTA file at path.
func readFasta(path string) ([]fastaio.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := fastaio.ReadFasta(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

// ensureEHMM resolves the -b argument into an eHMM ensemble: when
// backbone names an existing eHMM directory its persisted context is
// loaded; otherwise backbone must be an aligned FASTA file and treePath
// a Newick guide tree over its sequence names, and the ensemble is
// built under ehmmPath (default <backbone>.ehmm). The returned dir is
// the ensemble directory used by the later stages.
func ensureEHMM(backbone, treePath, ehmmPath string, hmmSizeLB, numWorkers int) (ctxt *ehmm.CrucibleCtxt, dir string, err error) {
	fi, err := os.Stat(backbone)
	if err != nil {
		return nil, "", err
	}
	if fi.IsDir() {
		if treePath != "" {
			return nil, "", fmt.Errorf("config: -b names an eHMM directory, so -t must not be given")
		}
		ctxt, err = ehmm.Load(backbone)
		if err != nil {
			return nil, "", err
		}
		log.Printf("loaded eHMM ensemble of %d HMMs from %s", ctxt.NumHMMs(), backbone)
		return ctxt, backbone, nil
	}

	if treePath == "" {
		return nil, "", fmt.Errorf("config: -b names an alignment file, so -t is required")
	}
	if ehmmPath == "" {
		ehmmPath = backbone + ".ehmm"
	}

	records, err := readFasta(backbone)
	if err != nil {
		return nil, "", err
	}
	names := make(map[string]int, len(records))
	for i, r := range records {
		if _, ok := names[r.Name]; ok {
			return nil, "", fmt.Errorf("%s: non-unique sequence id in backbone: %q", backbone, r.Name)
		}
		names[r.Name] = i
	}

	tf, err := os.Open(treePath)
	if err != nil {
		return nil, "", err
	}
	tree, err := guidetree.LoadNewick(tf, names)
	tf.Close()
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", treePath, err)
	}

	log.Printf("building eHMM ensemble in %s", ehmmPath)
	ctxt, err = ehmm.Build(records, tree, hmmSizeLB, ehmmPath, numWorkers)
	if err != nil {
		return nil, "", err
	}
	return ctxt, ehmmPath, nil
}

// backboneRows returns the backbone alignment's rows in their original
// input order. Rows are not held in memory across the scoring sweep:
// when the backbone came from an alignment file they are re-read here
// through a FASTA index, and when it came from an eHMM directory they
// are recovered from the root subset's alignment file, unpermuted using
// the persisted taxon order.
func backboneRows(backbone, dir string, ctxt *ehmm.CrucibleCtxt) ([]fastaio.Record, error) {
	fi, err := os.Stat(backbone)
	if err == nil && !fi.IsDir() {
		return indexedRows(backbone)
	}
	rows, err := readFasta(ehmm.AFAPath(dir, 0))
	if err != nil {
		return nil, err
	}
	if len(rows) != len(ctxt.ReorderedTaxa) {
		return nil, fmt.Errorf("%s: %d rows but metadata records %d taxa", ehmm.AFAPath(dir, 0), len(rows), len(ctxt.ReorderedTaxa))
	}
	orig := make([]fastaio.Record, len(rows))
	for i, t := range ctxt.ReorderedTaxa {
		orig[t] = rows[i]
	}
	return orig, nil
}

// indexedRows re-reads every row of the alignment at path via a FASTA
// index, in the file's record order.
func indexedRows(path string) ([]fastaio.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	idx, err := fai.NewIndex(f)
	if err != nil {
		return nil, fmt.Errorf("%s: indexing backbone: %w", path, err)
	}
	_, err = f.Seek(0, io.SeekStart)
	if err != nil {
		return nil, err
	}
	qfa := fai.NewFile(f, idx)

	recs := make([]fai.Record, 0, len(idx))
	for _, r := range idx {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Start < recs[j].Start })

	rows := make([]fastaio.Record, len(recs))
	for i, r := range recs {
		sr, err := qfa.SeqRange(r.Name, 0, r.Length)
		if err != nil {
			return nil, fmt.Errorf("%s: reading backbone row %q: %w", path, r.Name, err)
		}
		b, err := io.ReadAll(sr)
		if err != nil {
			return nil, fmt.Errorf("%s: reading backbone row %q: %w", path, r.Name, err)
		}
		rows[i] = fastaio.Record{Name: r.Name, Residues: b}
	}
	return rows, nil
}

// checkpointPath prepares the scoring checkpoint under
// <output>.checkpoint/ and returns the store file path within it.
func checkpointPath(output string) (string, error) {
	dir := output + ".checkpoint"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating checkpoint directory: %w", err)
	}
	path := filepath.Join(dir, "scores.db")
	if _, err := os.Stat(path); err == nil {
		log.Printf("resuming from existing checkpoint %s — results computed from different inputs or HMM size thresholds are not detected", path)
	}
	return path, nil
}
