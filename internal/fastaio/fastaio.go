// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fastaio provides the sequence record type shared across the
// decomposition, scoring, accumulation and assembly stages, along with
// FASTA I/O helpers built on biogo where its typed alphabets fit, and a
// minimal raw-byte reader for the one place they don't: parsing aligner
// output that mixes match-state, insert-state and pad symbols in a way
// biogo's alphabets cannot represent losslessly (see ReadAligned).
package fastaio

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"
)

// Record is a single FASTA entry: a name and its residues, matching the
// system's (name bytes, residues bytes) data model. Desc carries anything
// after the first whitespace run on the header line.
type Record struct {
	Name     string
	Desc     string
	Residues []byte
}

// Alpha is the alphabet used when handing records to biogo's fasta
// writer. The backbone and query sequences this system reads never
// contain the literal '.' or mixed-case insert/match distinction that
// aligner output does (that is parsed separately by ReadAligned), so a
// gapped nucleotide alphabet is sufficient for the plain records this
// package writes.
var Alpha = alphabet.DNAgapped

// ReadFasta reads every record in r using biogo's FASTA reader.
func ReadFasta(r io.Reader) ([]Record, error) {
	sc := seqio.NewScanner(fasta.NewReader(r, linear.NewSeq("", nil, Alpha)))
	var out []Record
	for sc.Next() {
		seq := sc.Seq().(*linear.Seq)
		residues := make([]byte, seq.Len())
		for i := range residues {
			residues[i] = byte(seq.Seq[i])
		}
		out = append(out, Record{Name: seq.ID, Desc: seq.Desc, Residues: residues})
	}
	if err := sc.Error(); err != nil {
		return nil, fmt.Errorf("fastaio: reading fasta: %w", err)
	}
	return out, nil
}

// WriteFasta writes records to w, one 60-column-wrapped entry per
// record, using biogo's "%a" format verb.
func WriteFasta(w io.Writer, records []Record) error {
	for _, rec := range records {
		seq := linear.NewSeq(rec.Name, alphabet.BytesToLetters(rec.Residues), Alpha)
		seq.Desc = rec.Desc
		if _, err := fmt.Fprintf(w, "%60a\n", seq); err != nil {
			return fmt.Errorf("fastaio: writing fasta record %q: %w", rec.Name, err)
		}
	}
	return nil
}

// AlignedRecord is one row of aligner output, preserving the exact byte
// sequence so the four-symbol convention ('.', '-', upper, lower) can be
// walked by the accumulator without any alphabet-driven normalization.
type AlignedRecord struct {
	Name string
	Row  []byte
}

// ReadAligned performs a minimal FASTA split of r, preserving every byte
// of each sequence line verbatim (including case and '.'). It is used
// only for parsing hmmalign output, where biogo's typed alphabets would
// either reject or silently normalize letters this package must not
// touch.
func ReadAligned(r io.Reader) ([]AlignedRecord, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var out []AlignedRecord
	var cur *AlignedRecord
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			name, _, _ := bytes.Cut(line[1:], []byte(" "))
			out = append(out, AlignedRecord{Name: string(name)})
			cur = &out[len(out)-1]
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("fastaio: aligned fasta data before any header")
		}
		cur.Row = append(cur.Row, line...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("fastaio: reading aligned fasta: %w", err)
	}
	return out, nil
}
