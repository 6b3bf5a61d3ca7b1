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

package genotyper

import (
	"math"

	"github.com/grailbio/genotyper/pileup"
)

// SampleCall is the genotype call of one sample at a site.
type SampleCall struct {
	// Genotype is the posterior mode, or NoCall.
	Genotype Genotype
	// GQ is the phred-scaled probability that Genotype is wrong.
	GQ    float64
	Depth uint32
	// Likelihoods are natural-log genotype likelihoods, indexed by Genotype.
	Likelihoods [NGenotype]float64
}

// SiteCall is one retained call.  Pos is 0-based.  Ref and Alt are ASCII
// bases.  Samples is empty for pooled calls.
type SiteCall struct {
	RefID uint32
	Pos   uint32
	Ref   byte
	Alt   byte
	// Qual is the phred-scaled site quality.
	Qual float64
	// Log10PRef is log10 of the posterior probability that the site is
	// reference in every sample.
	Log10PRef  float64
	AltCount   int
	AlleleFreq float64
	Depth      uint32
	RMSMapQ    byte
	MaxMapQ    byte
	// NotConverged is set when the EM iteration hit its iteration cap.
	NotConverged bool
	Samples      []SampleCall
}

// NAlleles returns the number of called chromosomes, counting two per called
// sample.
func (c *SiteCall) NAlleles() int {
	n := 0
	for i := range c.Samples {
		if c.Samples[i].Genotype != NoCall {
			n += 2
		}
	}
	return n
}

// AlleleIndices returns the VCF allele indices (0 = Ref, 1 = Alt) of sample
// i's genotype, or (-1, -1) for a no-call.
func (c *SiteCall) AlleleIndices(i int) (int, int) {
	g := c.Samples[i].Genotype
	if g == NoCall {
		return -1, -1
	}
	a, b := g.Alleles()
	idx := func(base byte) int {
		if pileup.EnumToASCIITable[base] == c.Ref {
			return 0
		}
		return 1
	}
	x, y := idx(a), idx(b)
	if x > y {
		x, y = y, x
	}
	return x, y
}

// BiallelicLog10 returns the log10 likelihoods of hom-ref, het and hom-alt
// for sample i.
func (c *SiteCall) BiallelicLog10(i int) [3]float64 {
	ref := pileup.ASCIIToEnumTable[c.Ref]
	alt := pileup.ASCIIToEnumTable[c.Alt]
	gs := biallelic(ref, alt)
	var out [3]float64
	for j, g := range gs {
		out[j] = c.Samples[i].Likelihoods[g] * math.Log10E
	}
	return out
}
