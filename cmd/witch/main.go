// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// witch adds query sequences, typically short fragments, into an existing
// backbone multiple sequence alignment. The backbone's guide tree is
// decomposed into nested taxon subsets, a profile HMM is built for each
// subset, every query is scored against every HMM, and the best-supported
// monotone matching of query residues to backbone columns is merged into
// an output alignment that preserves every backbone column.
package main

import (
	"fmt"
	"log"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "add":
		err = cmdAdd(os.Args[2:])
	case "melt":
		err = cmdMelt(os.Args[2:])
	case "score":
		err = cmdScore(os.Args[2:])
	case "audit":
		err = cmdAudit(os.Args[2:])
	case "help", "-h", "-help", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand: %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage of %[1]s:
  $ %[1]s add -i <queries.fa> -b <backbone.fa> -t <tree.nwk> -o <merged.fa> [options]
  $ %[1]s add -i <queries.fa> -b <dir.ehmm> -o <merged.fa> [options]
  $ %[1]s melt -b <backbone.fa> -t <tree.nwk> [-e <dir.ehmm>] [options]
  $ %[1]s score -i <queries.fa> -b <backbone.fa|dir.ehmm> [-o <scores.json>] [options]
  $ %[1]s audit -db <checkpoint> | -e <dir.ehmm>

Run '%[1]s <subcommand> -h' for the options of each subcommand.
`, os.Args[0])
}
