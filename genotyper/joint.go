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

	"gonum.org/v1/gonum/floats"
)

// The joint model scores every assignment of biallelic genotypes g_s in
// {0,1,2} to the S samples as
//
//   P(AC=k) / C(2S,k) * prod_s C(2,g_s) L_s(g_s),   k = sum_s g_s.
//
// Summing over assignments with a fixed k is a polynomial product, so the
// forward pass F_{s+1} = F_s * z_s (z_s(g) = C(2,g) L_s(g)) yields every
// allele-count likelihood in O(S^2).  A backward pass over the same
// polynomials gives each sample's marginal without re-convolving the others.

// logBinom2 is log C(2, g).
var logBinom2 = [3]float64{0, math.Ln2, 0}

// convolve3 returns the log-space product of polynomial a with the
// three-term polynomial z.
func convolve3(a []float64, z [3]float64) []float64 {
	out := make([]float64, len(a)+2)
	for i := range out {
		out[i] = math.Inf(-1)
	}
	for i, ai := range a {
		for g, zg := range z {
			out[i+g] = logAddExp(out[i+g], ai+zg)
		}
	}
	return out
}

// jointPosterior returns the log-posterior over the site's total alternate
// allele count, and each sample's normalized biallelic log-posterior.
func (m *compiledModel) jointPosterior(s *site, alt byte) (acPost []float64, post [][3]float64) {
	nSample := len(s.ls)
	z := make([][3]float64, nSample)
	for i := range s.ls {
		bl := s.ls[i].biallelic(s.ref, alt)
		for g := range bl {
			z[i][g] = logBinom2[g] + bl[g]
		}
	}
	fwd := make([][]float64, nSample+1)
	fwd[0] = []float64{0}
	for i := range z {
		fwd[i+1] = convolve3(fwd[i], z[i])
	}
	// c[k] = P(AC=k) / C(2S,k), and w[k] is the unnormalized log-posterior
	// of AC = k.
	c := make([]float64, 2*nSample+1)
	w := make([]float64, 2*nSample+1)
	for k := range w {
		c[k] = m.prior[k] - m.logBinom[k]
		w[k] = c[k] + fwd[nSample][k]
	}
	logZ := floats.LogSumExp(w)
	acPost = make([]float64, len(w))
	for k := range w {
		acPost[k] = w[k] - logZ
	}

	post = make([][3]float64, nSample)
	// bwd[j] sums, over the genotypes of samples i+1..S-1, their z product
	// times c[j + their count], for j in [0, 2(i+1)].
	bwd := c
	for i := nSample - 1; i >= 0; i-- {
		for g := range post[i] {
			acc := math.Inf(-1)
			for j, f := range fwd[i] {
				acc = logAddExp(acc, f+bwd[j+g])
			}
			post[i][g] = acc + z[i][g] - logZ
		}
		normalize3(&post[i])
		next := make([]float64, 2*i+1)
		for j := range next {
			acc := math.Inf(-1)
			for g, zg := range z[i] {
				acc = logAddExp(acc, zg+bwd[j+g])
			}
			next[j] = acc
		}
		bwd = next
	}
	return
}

func (m *compiledModel) joint(s *site) siteResult {
	alt := chooseAlt(s.ls, s.ref)
	acPost, post := m.jointPosterior(s, alt)
	r := siteResult{alt: alt, logPRef: acPost[0]}
	var nAllele int
	r.samples, r.altCount, nAllele = sampleCalls(s, alt, post)
	if nAllele > 0 {
		r.alleleFreq = float64(r.altCount) / float64(nAllele)
	}
	return r
}
