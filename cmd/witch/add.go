// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/kortschak/witch/internal/accumulate"
	"github.com/kortschak/witch/internal/assemble"
	"github.com/kortschak/witch/internal/fastaio"
	"github.com/kortschak/witch/internal/scorer"
)

// cmdAdd runs the full pipeline: build or load the eHMM ensemble, score
// every query against every HMM, accumulate alignment weights, match
// residues to backbone columns and write the merged alignment.
func cmdAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	var (
		input, backbone, treePath, ehmmPath, output string

		hmmSizeLB, threads, topK int

		ioBound, checkpoint, progress, trim, onlyQueries bool
	)
	fs.StringVar(&input, "i", "", "")
	fs.StringVar(&input, "input", "", "specify query sequence file (required)")
	fs.StringVar(&backbone, "b", "", "")
	fs.StringVar(&backbone, "backbone", "", "specify backbone alignment file or prebuilt eHMM directory (required)")
	fs.StringVar(&treePath, "t", "", "")
	fs.StringVar(&treePath, "tree", "", "specify guide tree for the backbone (required with a backbone alignment file)")
	fs.StringVar(&ehmmPath, "e", "", "")
	fs.StringVar(&ehmmPath, "ehmm-path", "", "specify output eHMM directory (default <backbone>.ehmm)")
	fs.StringVar(&output, "o", "", "")
	fs.StringVar(&output, "output", "", "specify merged alignment output file (required)")
	fs.IntVar(&hmmSizeLB, "hmm-size-lb", 10, "specify the subset size floor for tree decomposition")
	fs.IntVar(&threads, "threads", 0, "specify the maximum number of cores to use (<=0 is use all cores)")
	fs.IntVar(&topK, "top-k", scorer.DefaultTopK, "specify the number of HMMs retained per query")
	fs.BoolVar(&ioBound, "io-bound", false, "specify that search subprocesses are I/O bound")
	fs.BoolVar(&checkpoint, "checkpoint", false, "specify to keep a resumable scoring checkpoint under <output>.checkpoint")
	fs.BoolVar(&progress, "progress", false, "specify to log scoring progress")
	fs.BoolVar(&trim, "trim", false, "trim unmatched query residues (not implemented)")
	fs.BoolVar(&onlyQueries, "only-queries", false, "emit only query rows (not implemented)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), `Usage of %[1]s add:
  $ %[1]s add -i <queries.fa> -b <backbone.fa> -t <tree.nwk> -o <merged.fa> [options]
  $ %[1]s add -i <queries.fa> -b <dir.ehmm> -o <merged.fa> [options]

Options:
`, os.Args[0])
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if trim && !onlyQueries {
		return fmt.Errorf("config: -trim requires -only-queries")
	}
	if trim || onlyQueries {
		return fmt.Errorf("config: -trim and -only-queries are not implemented")
	}
	if input == "" || backbone == "" || output == "" {
		fs.Usage()
		os.Exit(2)
	}

	log.Println(os.Args)
	numWorkers, threadsPer := workerCounts(threads, ioBound)

	queries, err := loadQueries(input)
	if err != nil {
		return err
	}

	ctxt, dir, err := ensureEHMM(backbone, treePath, ehmmPath, hmmSizeLB, numWorkers)
	if err != nil {
		return err
	}

	cfg := scorer.Config{
		NumWorkers:          numWorkers,
		NumThreadsPerWorker: threadsPer,
		IOBound:             ioBound,
		ShowProgress:        progress,
		TopK:                topK,
	}
	if checkpoint {
		cfg.CheckpointDir, err = checkpointPath(output)
		if err != nil {
			return err
		}
	}

	ctx := context.Background()
	log.Printf("scoring %d queries against %d HMMs", len(queries), ctxt.NumHMMs())
	payload, err := scorer.Score(ctx, dir, ctxt, queries, cfg)
	if err != nil {
		return err
	}

	log.Println("accumulating alignment weights")
	byHMM := payload.Transpose(ctxt.NumHMMs())
	weights, err := accumulate.Accumulate(ctx, dir, ctxt, queries, byHMM, numWorkers)
	if err != nil {
		return err
	}

	rows, err := backboneRows(backbone, dir, ctxt)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%s: empty backbone alignment", backbone)
	}
	numColumns := len(rows[0].Residues)

	log.Println("matching query residues to backbone columns")
	traces := make([]assemble.Trace, len(queries))
	g := new(errgroup.Group)
	g.SetLimit(numWorkers * threadsPer)
	for q := range queries {
		q := q
		g.Go(func() error {
			traces[q] = assemble.SolveDP(weights[q], len(queries[q].Residues), numColumns)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	merged, err := assemble.Assemble(rows, queries, traces, numColumns)
	if err != nil {
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	err = fastaio.WriteFasta(f, merged)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	log.Printf("wrote %d sequences over %d columns to %s", len(merged), len(merged[0].Residues), output)
	return nil
}

// loadQueries reads the query FASTA file and checks that its sequence
// ids are unique; search and alignment output is mapped back to queries
// by name, so a duplicate would be unresolvable.
func loadQueries(path string) ([]fastaio.Record, error) {
	queries, err := readFasta(path)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(queries))
	for _, q := range queries {
		if seen[q.Name] {
			return nil, fmt.Errorf("%s: non-unique sequence id in queries: %q", path, q.Name)
		}
		seen[q.Name] = true
	}
	log.Printf("read %d query sequences", len(queries))
	return queries, nil
}
