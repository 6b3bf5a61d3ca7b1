// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package geli writes single-sample genotype likelihoods in the GELI text
// and binary formats.
package geli

import (
	"io"
	"strconv"

	"github.com/grailbio/base/tsv"
)

// NGenotype is the number of diploid genotypes over {A,C,G,T}.
const NGenotype = 10

// GenotypeNames lists the genotypes in record order.
var GenotypeNames = [NGenotype]string{"AA", "AC", "AG", "AT", "CC", "CG", "CT", "GG", "GT", "TT"}

// homIndex maps an uppercase base to the index of its homozygous genotype.
func homIndex(base byte) int {
	switch base {
	case 'A':
		return 0
	case 'C':
		return 4
	case 'G':
		return 7
	case 'T':
		return 9
	}
	return -1
}

// Record is one site.
type Record struct {
	Chrom string
	// Pos is 1-based.
	Pos      int
	Ref      byte
	NumReads int
	MaxMapQ  int
	// Likelihoods are log10 genotype likelihoods, ordered as GenotypeNames.
	Likelihoods [NGenotype]float64
}

// Best returns the most likely genotype (the lowest index on ties), its log10
// odds against the homozygous-reference genotype, and against the next best
// genotype.  btr is 0 when Ref is not one of A, C, G, T.
func (r *Record) Best() (best int, btr, btnb float64) {
	for g := 1; g < NGenotype; g++ {
		if r.Likelihoods[g] > r.Likelihoods[best] {
			best = g
		}
	}
	next := -1
	for g := 0; g < NGenotype; g++ {
		if g != best && (next < 0 || r.Likelihoods[g] > r.Likelihoods[next]) {
			next = g
		}
	}
	if h := homIndex(r.Ref); h >= 0 {
		btr = r.Likelihoods[best] - r.Likelihoods[h]
	}
	btnb = r.Likelihoods[best] - r.Likelihoods[next]
	return
}

func formatLod(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// TextWriter writes GELI text: a header line followed by one tab-separated
// line per record.
type TextWriter struct {
	w *tsv.Writer
}

// NewTextWriter writes the header line to w and returns a TextWriter.
func NewTextWriter(w io.Writer) (*TextWriter, error) {
	tw := tsv.NewWriter(w)
	tw.WriteString("#Sequence")
	for _, col := range []string{"Position", "ReferenceBase", "NumReads", "MaxMappingQuality", "BestGenotype", "BtrLod", "BtnbLod"} {
		tw.WriteString(col)
	}
	for _, name := range GenotypeNames {
		tw.WriteString(name)
	}
	if err := tw.EndLine(); err != nil {
		return nil, err
	}
	return &TextWriter{w: tw}, nil
}

// Write writes one record.
func (w *TextWriter) Write(r *Record) error {
	best, btr, btnb := r.Best()
	w.w.WriteString(r.Chrom)
	w.w.WriteInt64(int64(r.Pos))
	w.w.WriteByte(r.Ref)
	w.w.WriteInt64(int64(r.NumReads))
	w.w.WriteInt64(int64(r.MaxMapQ))
	w.w.WriteString(GenotypeNames[best])
	w.w.WriteString(formatLod(btr))
	w.w.WriteString(formatLod(btnb))
	for _, l := range r.Likelihoods {
		w.w.WriteString(formatLod(l))
	}
	return w.w.EndLine()
}

// Flush flushes buffered records to the underlying writer.
func (w *TextWriter) Flush() error {
	return w.w.Flush()
}
