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

// Package beagle writes genotype-likelihood files for the Beagle phasing and
// imputation tool.  Each line names a marker and its two alleles, followed
// by three likelihoods per sample (homozygous A, heterozygous,
// homozygous B), normalized to sum to one.
package beagle

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/grailbio/base/tsv"
)

// Record is one marker.
type Record struct {
	// Marker is conventionally "chrom:pos".
	Marker           string
	AlleleA, AlleleB byte
	// Log10Likelihoods holds, per sample, the log10 likelihoods of the AA,
	// AB and BB genotypes.
	Log10Likelihoods [][3]float64
}

// Writer writes a Beagle likelihood file.
type Writer struct {
	w        *tsv.Writer
	nSamples int
}

// NewWriter writes the header line for samples to w.
func NewWriter(w io.Writer, samples []string) (*Writer, error) {
	tw := tsv.NewWriter(w)
	tw.WriteString("marker")
	tw.WriteString("alleleA")
	tw.WriteString("alleleB")
	for _, s := range samples {
		for i := 0; i < 3; i++ {
			tw.WriteString(s)
		}
	}
	if err := tw.EndLine(); err != nil {
		return nil, err
	}
	return &Writer{w: tw, nSamples: len(samples)}, nil
}

// Normalize converts log10 likelihoods to linear-scale likelihoods summing to
// one.  All-equal inputs, including a sample without data, give 1/3 each.
func Normalize(l [3]float64) [3]float64 {
	max := math.Max(l[0], math.Max(l[1], l[2]))
	var out [3]float64
	var sum float64
	for i, v := range l {
		out[i] = math.Pow(10, v-max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Write writes one marker line.
func (w *Writer) Write(r *Record) error {
	if len(r.Log10Likelihoods) != w.nSamples {
		return fmt.Errorf("beagle: marker %s has %d samples, header has %d", r.Marker, len(r.Log10Likelihoods), w.nSamples)
	}
	w.w.WriteString(r.Marker)
	w.w.WriteByte(r.AlleleA)
	w.w.WriteByte(r.AlleleB)
	for _, l := range r.Log10Likelihoods {
		for _, p := range Normalize(l) {
			w.w.WriteString(strconv.FormatFloat(p, 'f', 4, 64))
		}
	}
	return w.w.EndLine()
}

// Flush flushes buffered lines to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}
