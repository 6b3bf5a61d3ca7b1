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

// Likelihoods is the genotype likelihood vector of one sample at one site.
// LogL is in natural log, indexed by Genotype.  A sample without admissible
// reads has Depth 0 and an all-zero (flat) LogL.
type Likelihoods struct {
	LogL  [NGenotype]float64
	Depth uint32
	// mapQSq is the sum of squared mapping qualities of the contributing
	// reads.
	mapQSq  uint64
	maxMapQ byte
}

// Add folds one read base into l.
func (l *Likelihoods) Add(m *ErrorModel, b pileup.Base) {
	row := m.genotypeRow(b.Base, b.Qual, b.Platform)
	for g := range l.LogL {
		l.LogL[g] += row[g]
	}
	l.Depth++
	l.mapQSq += uint64(b.MapQ) * uint64(b.MapQ)
	if b.MapQ > l.maxMapQ {
		l.maxMapQ = b.MapQ
	}
}

// biallelic returns the hom-ref, het, hom-alt entries of l.
func (l *Likelihoods) biallelic(ref, alt byte) [3]float64 {
	gs := biallelic(ref, alt)
	return [3]float64{l.LogL[gs[0]], l.LogL[gs[1]], l.LogL[gs[2]]}
}

// aggregate computes one Likelihoods per sample from the bases observed at a
// site.  ls is reused when large enough.
func aggregate(ls []Likelihoods, m *ErrorModel, bases []pileup.Base, nSample int) []Likelihoods {
	if cap(ls) < nSample {
		ls = make([]Likelihoods, nSample)
	}
	ls = ls[:nSample]
	for i := range ls {
		ls[i] = Likelihoods{}
	}
	for _, b := range bases {
		ls[b.Sample].Add(m, b)
	}
	return ls
}

// siteDepth returns the total depth, and the RMS and maximum mapping
// quality over all samples.
func siteDepth(ls []Likelihoods) (depth uint32, rmsMapQ, maxMapQ byte) {
	var sumSq uint64
	for i := range ls {
		depth += ls[i].Depth
		sumSq += ls[i].mapQSq
		if ls[i].maxMapQ > maxMapQ {
			maxMapQ = ls[i].maxMapQ
		}
	}
	if depth == 0 {
		return 0, 0, 0
	}
	rms := math.Round(math.Sqrt(float64(sumSq) / float64(depth)))
	if rms > 255 {
		rms = 255
	}
	return depth, byte(rms), maxMapQ
}

// chooseAlt returns the non-reference base b maximizing the sum over samples
// of max(L(ref,b), L(b,b)).  Ties go to the lowest base in A<C<G<T order.
func chooseAlt(ls []Likelihoods, ref byte) byte {
	alt := pileup.BaseX
	best := math.Inf(-1)
	for b := byte(0); b < pileup.NBase; b++ {
		if b == ref {
			continue
		}
		var score float64
		for i := range ls {
			if ls[i].Depth == 0 {
				continue
			}
			score += math.Max(ls[i].LogL[GenotypeOf(ref, b)], ls[i].LogL[GenotypeOf(b, b)])
		}
		if alt == pileup.BaseX || score > best {
			alt = b
			best = score
		}
	}
	return alt
}
