// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hmmtools provides types and functions for invoking HMMER3's
// hmmbuild, hmmsearch and hmmalign, and for interpreting the results they
// return on stdout.
package hmmtools

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/biogo/external"
)

// Build wraps hmmbuild, which estimates a profile HMM from an aligned
// training set.
type Build struct {
	// Usage: hmmbuild --cpu <n> --informat <s> --ere <f> --symfrac <f> -n <s> <hmmfile> <msafile>
	//
	// For details relating to options and parameters, see the HMMER
	// user guide.
	//
	Cmd string `buildarg:"{{if .}}{{.}}{{else}}hmmbuild{{end}}"` // hmmbuild

	CPU       int     `buildarg:"--cpu{{split}}{{.}}"`        // --cpu <n>
	InFormat  string  `buildarg:"{{with .}}--informat{{split}}{{.}}{{end}}"` // --informat <s>
	ERE       float64 `buildarg:"{{if .}}--ere{{split}}{{.}}{{end}}"`        // --ere <f>
	SymFrac   float64 `buildarg:"--symfrac{{split}}{{.}}"`                  // --symfrac <f>
	Name      string  `buildarg:"{{with .}}-n{{split}}{{.}}{{end}}"`        // -n <s>

	HMMFile string `buildarg:"{{.}}"` // <hmmfile>
	MSAFile string `buildarg:"{{.}}"` // <msafile>

	// ExtraFlags will be passed through to hmmbuild as flags.
	ExtraFlags string
}

func (b Build) BuildCommand() (*exec.Cmd, error) {
	if b.HMMFile == "" {
		return nil, errors.New("hmmbuild: missing hmmfile")
	}
	if b.MSAFile == "" {
		return nil, errors.New("hmmbuild: missing msafile")
	}
	cl := external.Must(external.Build(b))
	var extra []string
	if b.ExtraFlags != "" {
		extra = strings.Split(b.ExtraFlags, " ")
	}
	return exec.Command(cl[0], append(cl[1:], extra...)...), nil
}

// DefaultBuild returns a Build configured exactly as the system's
// eHMM-set context requires: --cpu 0, --informat afa, --ere 0.59,
// --symfrac 0.0, named name, producing hmmFile from msaFile.
func DefaultBuild(name, hmmFile, msaFile string) Build {
	return Build{
		CPU:      0,
		InFormat: "afa",
		ERE:      0.59,
		SymFrac:  0.0,
		Name:     name,
		HMMFile:  hmmFile,
		MSAFile:  msaFile,
	}
}

// Search wraps hmmsearch, which scores a query FASTA stream against one
// profile HMM.
type Search struct {
	// Usage: hmmsearch --cpu <n> [--noali] [--max] -E <f> <hmmfile> -
	//
	// For details relating to options and parameters, see the HMMER
	// user guide.
	//
	Cmd string `buildarg:"{{if .}}{{.}}{{else}}hmmsearch{{end}}"` // hmmsearch

	CPU    int     `buildarg:"--cpu{{split}}{{.}}"`     // --cpu <n>
	NoAli  bool    `buildarg:"{{if .}}--noali{{end}}"`  // --noali
	Max    bool    `buildarg:"{{if .}}--max{{end}}"`    // --max
	EValue float64 `buildarg:"-E{{split}}{{.}}"`        // -E <f>

	HMMFile string `buildarg:"{{.}}"`                    // <hmmfile>
	Seqs    string `buildarg:"{{if .}}{{.}}{{else}}-{{end}}"` // <seqfile>|-

	// ExtraFlags will be passed through to hmmsearch as flags.
	ExtraFlags string
}

func (s Search) BuildCommand() (*exec.Cmd, error) {
	if s.HMMFile == "" {
		return nil, errors.New("hmmsearch: missing hmmfile")
	}
	cl := external.Must(external.Build(s))
	var extra []string
	if s.ExtraFlags != "" {
		extra = strings.Split(s.ExtraFlags, " ")
	}
	return exec.Command(cl[0], append(cl[1:], extra...)...), nil
}

// DefaultSearch returns a Search configured as the scorer requires:
// --noali --max -E 999999999, --cpu 1 if ioBound else 0, reading queries
// from stdin.
func DefaultSearch(hmmFile string, ioBound bool) Search {
	cpu := 0
	if ioBound {
		cpu = 1
	}
	return Search{
		CPU:    cpu,
		NoAli:  true,
		Max:    true,
		EValue: 999999999,

		HMMFile: hmmFile,
	}
}

// Align wraps hmmalign, which aligns a query FASTA stream to one profile
// HMM's consensus columns.
type Align struct {
	// Usage: hmmalign --informat <s> --outformat <s> <hmmfile> <seqfile>
	//
	// For details relating to options and parameters, see the HMMER
	// user guide.
	//
	Cmd string `buildarg:"{{if .}}{{.}}{{else}}hmmalign{{end}}"` // hmmalign

	InFormat  string `buildarg:"{{with .}}--informat{{split}}{{.}}{{end}}"`  // --informat <s>
	OutFormat string `buildarg:"{{with .}}--outformat{{split}}{{.}}{{end}}"` // --outformat <s>

	HMMFile string `buildarg:"{{.}}"` // <hmmfile>
	Seqs    string `buildarg:"{{if .}}{{.}}{{else}}-{{end}}"` // <seqfile>|-

	// ExtraFlags will be passed through to hmmalign as flags.
	ExtraFlags string
}

func (a Align) BuildCommand() (*exec.Cmd, error) {
	if a.HMMFile == "" {
		return nil, errors.New("hmmalign: missing hmmfile")
	}
	cl := external.Must(external.Build(a))
	var extra []string
	if a.ExtraFlags != "" {
		extra = strings.Split(a.ExtraFlags, " ")
	}
	return exec.Command(cl[0], append(cl[1:], extra...)...), nil
}

// DefaultAlign returns an Align configured as the weight accumulator
// requires: --informat fasta --outformat afa, reading queries from
// stdin.
func DefaultAlign(hmmFile string) Align {
	return Align{
		InFormat:  "fasta",
		OutFormat: "afa",
		HMMFile:   hmmFile,
	}
}

// Hit is one row of a hmmsearch per-sequence hit table: the target
// (query) name and its full-sequence bit score.
type Hit struct {
	Name     string
	BitScore float64
}

// ParseHits scans hmmsearch's default (non-tabular) stdout for the
// per-sequence hit table — the block of rows following the "E-value"
// column header — and returns one Hit per row, in report order. Rows are
// terminated by a blank line; the "inclusion threshold" marker HMMER
// prints between included and merely reported hits is skipped, and the
// rows after it are returned like any other.
func ParseHits(r io.Reader) ([]Hit, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	inTable := false
	sawHeader := false
	var hits []Hit
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if !inTable {
			if strings.Contains(line, "E-value") && strings.Contains(line, "score") {
				sawHeader = true
			}
			if sawHeader && strings.HasPrefix(trimmed, "---") {
				inTable = true
			}
			continue
		}
		if strings.Contains(trimmed, "inclusion threshold") {
			continue
		}
		if trimmed == "" {
			if len(hits) == 0 {
				inTable = false
				continue
			}
			break
		}
		fields := strings.Fields(line)
		if len(fields) < 9 {
			return hits, fmt.Errorf("hmmtools: malformed hit table row: %q", line)
		}
		score, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return hits, fmt.Errorf("hmmtools: parsing bit score in row %q: %w", line, err)
		}
		hits = append(hits, Hit{Name: fields[8], BitScore: score})
	}
	if err := sc.Err(); err != nil {
		return hits, fmt.Errorf("hmmtools: reading hit table: %w", err)
	}
	return hits, nil
}

// RunStderrTail is the maximum number of trailing stderr bytes logged
// when a subprocess exits non-zero.
const RunStderrTail = 4096

// TailBytes returns the last n bytes of b, or all of b if it is shorter.
func TailBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}

// RunLogged runs cmd, capturing only the trailing RunStderrTail bytes of
// its stderr and including them in the returned error on a non-zero
// exit. It does not touch cmd.Stdin or cmd.Stdout, so callers that need
// to pipe a FASTA stream in or capture tabular output out should set
// those before calling RunLogged.
func RunLogged(cmd *exec.Cmd) error {
	var stderr trailingBuffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", cmd.Path, err, stderr.Tail())
	}
	return nil
}

// trailingBuffer keeps only the last RunStderrTail bytes written to it.
type trailingBuffer struct {
	buf []byte
}

func (t *trailingBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > RunStderrTail {
		t.buf = t.buf[len(t.buf)-RunStderrTail:]
	}
	return len(p), nil
}

func (t *trailingBuffer) Tail() []byte { return t.buf }
