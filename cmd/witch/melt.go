// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
)

// cmdMelt decomposes the backbone guide tree and builds the eHMM
// ensemble without running the query stages, leaving a directory that a
// later `witch add -b <dir.ehmm>` can reuse.
func cmdMelt(args []string) error {
	fs := flag.NewFlagSet("melt", flag.ExitOnError)
	var (
		backbone, treePath, ehmmPath string
		hmmSizeLB, threads           int
	)
	fs.StringVar(&backbone, "b", "", "")
	fs.StringVar(&backbone, "backbone", "", "specify backbone alignment file (required)")
	fs.StringVar(&treePath, "t", "", "")
	fs.StringVar(&treePath, "tree", "", "specify guide tree for the backbone (required)")
	fs.StringVar(&ehmmPath, "e", "", "")
	fs.StringVar(&ehmmPath, "ehmm-path", "", "specify output eHMM directory (default <backbone>.ehmm)")
	fs.IntVar(&hmmSizeLB, "hmm-size-lb", 10, "specify the subset size floor for tree decomposition")
	fs.IntVar(&threads, "threads", 0, "specify the maximum number of cores to use (<=0 is use all cores)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), `Usage of %[1]s melt:
  $ %[1]s melt -b <backbone.fa> -t <tree.nwk> [-e <dir.ehmm>] [options]

Options:
`, os.Args[0])
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if backbone == "" || treePath == "" {
		fs.Usage()
		os.Exit(2)
	}

	log.Println(os.Args)
	numWorkers, _ := workerCounts(threads, false)
	ctxt, dir, err := ensureEHMM(backbone, treePath, ehmmPath, hmmSizeLB, numWorkers)
	if err != nil {
		return err
	}
	log.Printf("built eHMM ensemble of %d HMMs in %s", ctxt.NumHMMs(), dir)
	return nil
}
