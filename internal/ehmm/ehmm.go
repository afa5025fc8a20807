// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ehmm builds and persists an ensemble of profile HMMs (the
// "eHMM") from a decomposed backbone alignment: one HMM per subset
// produced by guidetree.HierarchicalDecomp, plus the per-HMM metadata
// needed to map its consensus columns back onto backbone columns.
package ehmm

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/kortschak/witch/internal/fastaio"
	"github.com/kortschak/witch/internal/guidetree"
	"github.com/kortschak/witch/internal/hmmtools"
)

// HmmMeta describes one HMM: the taxon range of the backbone it was
// built from, the non-gap residue count at each of its retained
// columns, and the backbone column each retained column corresponds to.
type HmmMeta struct {
	SequenceRange   [2]int
	CharsCnt        []uint32
	ColumnPositions []int
}

// CrucibleCtxt is the full persisted eHMM description: one HmmMeta per
// HMM, in build order (HMM 0 is always the whole-backbone root subset).
// ReorderedTaxa is the decomposition's taxon permutation (see
// guidetree.TaxaHierarchy): ReorderedTaxa[i] is the original taxon id of
// the row at position i of subset 0's alignment file. It is persisted so
// a caller handed only an eHMM directory (the --backbone <dir> form of
// `witch add`) can recover the backbone's original row order and names
// from subsets/0.afa without needing the original backbone FASTA.
type CrucibleCtxt struct {
	Version       uint32
	Metadata      []HmmMeta
	ReorderedTaxa []int
}

// NumHMMs returns the number of HMMs described by c.
func (c *CrucibleCtxt) NumHMMs() int { return len(c.Metadata) }

// subsetsDir and metadataFile are the fixed layout of an eHMM directory.
const (
	subsetsDir   = "subsets"
	metadataFile = "melt.json"
)

// HMMPath returns the path of HMM i's built profile file under dir.
func HMMPath(dir string, i int) string {
	return filepath.Join(dir, subsetsDir, fmt.Sprintf("%d.hmm", i))
}

// AFAPath returns the path of HMM i's subset alignment file under dir.
func AFAPath(dir string, i int) string {
	return filepath.Join(dir, subsetsDir, fmt.Sprintf("%d.afa", i))
}

// MetadataPath returns the path of dir's persisted CrucibleCtxt.
func MetadataPath(dir string) string {
	return filepath.Join(dir, metadataFile)
}

// Build decomposes tree into nested taxon subsets no larger than
// maxSize, writes one subset FASTA and invokes hmmbuild on it per
// subset under dir, and returns the resulting CrucibleCtxt. backbone
// must be ordered so that backbone[t] is the sequence for taxon id t.
// dir is created if necessary; numWorkers bounds the number of
// concurrent hmmbuild subprocesses.
func Build(backbone []fastaio.Record, tree *guidetree.Tree, maxSize int, dir string, numWorkers int) (*CrucibleCtxt, error) {
	if len(backbone) != tree.NTaxa {
		return nil, fmt.Errorf("ehmm: %d backbone records but tree has %d taxa", len(backbone), tree.NTaxa)
	}
	decomp, err := guidetree.HierarchicalDecomp(tree, maxSize)
	if err != nil {
		return nil, fmt.Errorf("ehmm: decomposing guide tree: %w", err)
	}
	log.Printf("decomposed input tree into %d subsets", len(decomp.DecompositionRanges))

	ordered := make([]fastaio.Record, len(backbone))
	for i, taxon := range decomp.ReorderedTaxa {
		ordered[i] = backbone[taxon]
	}

	prefix, ncols := nonGapPrefix(ordered)

	ctxt, err := buildFromOrdered(ordered, decomp.DecompositionRanges, prefix, ncols, dir, numWorkers)
	if err != nil {
		return nil, err
	}
	ctxt.ReorderedTaxa = decomp.ReorderedTaxa
	if dir != "" {
		if err := writeMetadata(dir, ctxt); err != nil {
			return nil, err
		}
	}
	return ctxt, nil
}

// BuildMetadataOnly computes the CrucibleCtxt metadata for ordered
// records and ranges without writing any files or invoking hmmbuild. It
// is used by tests that exercise the prefix-sum/column-retention
// computation directly.
func BuildMetadataOnly(ordered []fastaio.Record, ranges [][2]int) (*CrucibleCtxt, error) {
	prefix, ncols := nonGapPrefix(ordered)
	return buildFromOrdered(ordered, ranges, prefix, ncols, "", 0)
}

func buildFromOrdered(ordered []fastaio.Record, ranges [][2]int, prefix [][]uint32, ncols int, dir string, numWorkers int) (*CrucibleCtxt, error) {
	var subsetsRoot string
	if dir != "" {
		subsetsRoot = filepath.Join(dir, subsetsDir)
		if err := os.MkdirAll(subsetsRoot, 0o755); err != nil {
			return nil, fmt.Errorf("ehmm: creating subsets directory: %w", err)
		}
		g := new(errgroup.Group)
		if numWorkers > 0 {
			g.SetLimit(numWorkers)
		}
		for i, r := range ranges {
			i, r := i, r
			g.Go(func() error {
				return buildOneSubset(dir, i, ordered[r[0]:r[1]])
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	metadata := make([]HmmMeta, len(ranges))
	buf := make([]uint32, ncols)
	for i, r := range ranges {
		retrieveNChars(prefix, r, buf)
		var charsCnt []uint32
		var columnPositions []int
		for col, c := range buf {
			if c > 0 {
				charsCnt = append(charsCnt, c)
				columnPositions = append(columnPositions, col)
			}
		}
		metadata[i] = HmmMeta{
			SequenceRange:   r,
			CharsCnt:        charsCnt,
			ColumnPositions: columnPositions,
		}
		log.Printf("subset %d: range (%d,%d), %d columns retained", i, r[0], r[1], len(columnPositions))
	}

	ctxt := &CrucibleCtxt{Version: 0, Metadata: metadata}
	if dir != "" {
		f, err := os.Create(MetadataPath(dir))
		if err != nil {
			return nil, fmt.Errorf("ehmm: creating metadata file: %w", err)
		}
		defer f.Close()
		if err := json.NewEncoder(f).Encode(ctxt); err != nil {
			return nil, fmt.Errorf("ehmm: writing metadata: %w", err)
		}
	}
	return ctxt, nil
}

func buildOneSubset(dir string, i int, records []fastaio.Record) error {
	afa := AFAPath(dir, i)
	f, err := os.Create(afa)
	if err != nil {
		return fmt.Errorf("ehmm: creating subset %d alignment file: %w", i, err)
	}
	err = fastaio.WriteFasta(f, records)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("ehmm: writing subset %d alignment: %w", i, err)
	}

	cmd, err := hmmtools.DefaultBuild(fmt.Sprintf("%d", i), HMMPath(dir, i), afa).BuildCommand()
	if err != nil {
		return fmt.Errorf("ehmm: building hmmbuild command for subset %d: %w", i, err)
	}
	if err := hmmtools.RunLogged(cmd); err != nil {
		return fmt.Errorf("ehmm: hmmbuild failed for subset %d: %w", i, err)
	}
	return nil
}

// nonGapPrefix computes the (N+1, K) prefix-sum table of non-gap residue
// counts over ordered, prefix[i][c] being the number of records among
// ordered[:i] whose residue at column c is not '-'. ncols is the column
// count K, taken from the first record.
func nonGapPrefix(ordered []fastaio.Record) (prefix [][]uint32, ncols int) {
	n := len(ordered)
	if n == 0 {
		return nil, 0
	}
	ncols = len(ordered[0].Residues)
	prefix = make([][]uint32, n+1)
	prefix[0] = make([]uint32, ncols)
	for i := 1; i <= n; i++ {
		row := make([]uint32, ncols)
		prev := prefix[i-1]
		seq := ordered[i-1].Residues
		for c := 0; c < ncols; c++ {
			row[c] = prev[c]
			if seq[c] != '-' {
				row[c]++
			}
		}
		prefix[i] = row
	}
	return prefix, ncols
}

// retrieveNChars fills buf[c] with prefix[hi][c]-prefix[lo][c] for the
// range (lo,hi).
func retrieveNChars(prefix [][]uint32, r [2]int, buf []uint32) {
	lo, hi := r[0], r[1]
	for c := range buf {
		buf[c] = prefix[hi][c] - prefix[lo][c]
	}
}

// writeMetadata persists ctxt to dir's metadata file.
func writeMetadata(dir string, ctxt *CrucibleCtxt) error {
	f, err := os.Create(MetadataPath(dir))
	if err != nil {
		return fmt.Errorf("ehmm: creating metadata file: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(ctxt); err != nil {
		return fmt.Errorf("ehmm: writing metadata: %w", err)
	}
	return nil
}

// Load reads a previously persisted CrucibleCtxt from dir.
func Load(dir string) (*CrucibleCtxt, error) {
	f, err := os.Open(MetadataPath(dir))
	if err != nil {
		return nil, fmt.Errorf("ehmm: opening metadata file: %w", err)
	}
	defer f.Close()
	return decodeCtxt(f)
}

func decodeCtxt(r io.Reader) (*CrucibleCtxt, error) {
	var ctxt CrucibleCtxt
	if err := json.NewDecoder(r).Decode(&ctxt); err != nil {
		return nil, fmt.Errorf("ehmm: decoding metadata: %w", err)
	}
	return &ctxt, nil
}
