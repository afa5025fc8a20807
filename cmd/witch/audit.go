// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kortschak/witch/internal/ehmm"
	"github.com/kortschak/witch/internal/store"
)

// cmdAudit dumps the internal data stores a witch run leaves behind.
// With -db it streams every cached scoring cell of a checkpoint store;
// with -e it summarises the persisted eHMM metadata. Output is a JSON
// stream on stdout.
func cmdAudit(args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	var db, ehmmPath string
	fs.StringVar(&db, "db", "", "specify a scoring checkpoint to dump (the .checkpoint directory or the store file within it)")
	fs.StringVar(&ehmmPath, "e", "", "")
	fs.StringVar(&ehmmPath, "ehmm-path", "", "specify an eHMM directory to summarise")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), `Usage of %[1]s audit:
  $ %[1]s audit -db <merged.fa.checkpoint> >cells.json
  $ %[1]s audit -e <dir.ehmm> >subsets.json

Options:
`, os.Args[0])
		fs.PrintDefaults()
	}
	fs.Parse(args)

	enc := json.NewEncoder(os.Stdout)
	switch {
	case db != "":
		if fi, err := os.Stat(db); err == nil && fi.IsDir() {
			db = filepath.Join(db, "scores.db")
		}
		return store.Walk(db, func(chunkID, hmmID int, hits []store.Hit) error {
			return enc.Encode(cell{Chunk: chunkID, HMM: hmmID, Hits: hits})
		})
	case ehmmPath != "":
		ctxt, err := ehmm.Load(ehmmPath)
		if err != nil {
			return err
		}
		for i, m := range ctxt.Metadata {
			err = enc.Encode(subset{
				HMM:           i,
				SequenceRange: m.SequenceRange,
				NumColumns:    len(m.ColumnPositions),
				HMMFile:       ehmm.HMMPath(ehmmPath, i),
			})
			if err != nil {
				return err
			}
		}
		return nil
	default:
		fs.Usage()
		os.Exit(2)
		return nil
	}
}

type cell struct {
	Chunk int
	HMM   int
	Hits  []store.Hit
}

type subset struct {
	HMM           int
	SequenceRange [2]int
	NumColumns    int
	HMMFile       string
}
