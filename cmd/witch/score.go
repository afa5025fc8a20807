// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/kortschak/witch/internal/scorer"
)

// cmdScore runs only the scoring sweep and writes each query's top-K
// adjusted-scoring HMMs as a JSON stream, one record per query.
func cmdScore(args []string) error {
	fs := flag.NewFlagSet("score", flag.ExitOnError)
	var (
		input, backbone, treePath, ehmmPath, output string

		hmmSizeLB, threads, topK int

		ioBound, checkpoint, progress bool
	)
	fs.StringVar(&input, "i", "", "")
	fs.StringVar(&input, "input", "", "specify query sequence file (required)")
	fs.StringVar(&backbone, "b", "", "")
	fs.StringVar(&backbone, "backbone", "", "specify backbone alignment file or prebuilt eHMM directory (required)")
	fs.StringVar(&treePath, "t", "", "")
	fs.StringVar(&treePath, "tree", "", "specify guide tree for the backbone (required with a backbone alignment file)")
	fs.StringVar(&ehmmPath, "e", "", "")
	fs.StringVar(&ehmmPath, "ehmm-path", "", "specify output eHMM directory (default <backbone>.ehmm)")
	fs.StringVar(&output, "o", "scores.json", "")
	fs.StringVar(&output, "output", "scores.json", "specify scores output file")
	fs.IntVar(&hmmSizeLB, "hmm-size-lb", 10, "specify the subset size floor for tree decomposition")
	fs.IntVar(&threads, "threads", 0, "specify the maximum number of cores to use (<=0 is use all cores)")
	fs.IntVar(&topK, "top-k", scorer.DefaultTopK, "specify the number of HMMs retained per query")
	fs.BoolVar(&ioBound, "io-bound", false, "specify that search subprocesses are I/O bound")
	fs.BoolVar(&checkpoint, "checkpoint", false, "specify to keep a resumable scoring checkpoint under <output>.checkpoint")
	fs.BoolVar(&progress, "progress", false, "specify to log scoring progress")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), `Usage of %[1]s score:
  $ %[1]s score -i <queries.fa> -b <backbone.fa|dir.ehmm> [-o <scores.json>] [options]

Options:
`, os.Args[0])
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if input == "" || backbone == "" {
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

	log.Printf("scoring %d queries against %d HMMs", len(queries), ctxt.NumHMMs())
	payload, err := scorer.Score(context.Background(), dir, ctxt, queries, cfg)
	if err != nil {
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for q, hits := range payload.SequenceTophits {
		err = enc.Encode(queryScores{Name: queries[q].Name, Tophits: hits})
		if err != nil {
			break
		}
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}
	log.Printf("wrote scores for %d queries to %s", len(queries), output)
	return nil
}

type queryScores struct {
	Name    string
	Tophits []scorer.HMMScore
}
