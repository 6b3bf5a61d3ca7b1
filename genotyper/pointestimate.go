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

	"github.com/grailbio/base/log"
)

// emPosteriors computes each covered sample's biallelic log-posterior under
// Hardy-Weinberg priors at allele frequency f, and returns the expected
// number of alternate alleles.
func emPosteriors(s *site, bl, post [][3]float64, f float64) float64 {
	prior := hweLogPrior(f)
	expected := 0.0
	for i := range s.ls {
		if s.ls[i].Depth == 0 {
			continue
		}
		for g := range post[i] {
			post[i][g] = bl[i][g] + prior[g]
		}
		normalize3(&post[i])
		expected += math.Exp(post[i][1]) + 2*math.Exp(post[i][2])
	}
	return expected
}

// emFrequency runs the allele-frequency EM from f = heterozygosity.  It
// leaves the posteriors at the final frequency in post.
func (m *compiledModel) emFrequency(s *site, bl, post [][3]float64, nCovered int) (f, expected float64, converged bool) {
	theta := m.Heterozygosity
	f = theta
	for iter := 0; iter < m.MaxIterations; iter++ {
		expected = emPosteriors(s, bl, post, f)
		fNew := expected / float64(2*nCovered)
		fNew = math.Max(theta, math.Min(1-theta, fNew))
		delta := math.Abs(fNew - f)
		f = fNew
		if delta < m.ConvergenceThreshold {
			converged = true
			break
		}
	}
	expected = emPosteriors(s, bl, post, f)
	return
}

func (m *compiledModel) pointEstimate(s *site) siteResult {
	alt := chooseAlt(s.ls, s.ref)
	bl := make([][3]float64, len(s.ls))
	post := make([][3]float64, len(s.ls))
	nCovered := 0
	for i := range s.ls {
		if s.ls[i].Depth > 0 {
			bl[i] = s.ls[i].biallelic(s.ref, alt)
			nCovered++
		}
	}
	_, _, converged := m.emFrequency(s, bl, post, nCovered)
	if !converged {
		log.Debug.Printf("pointEstimate: %s:%d: allele frequency did not converge in %d iterations",
			s.refName, s.pos+1, m.MaxIterations)
	}
	r := siteResult{alt: alt, notConverged: !converged}
	for i := range s.ls {
		if s.ls[i].Depth > 0 {
			r.logPRef += post[i][0]
		}
	}
	var nAllele int
	r.samples, r.altCount, nAllele = sampleCalls(s, alt, post)
	if nAllele > 0 {
		r.alleleFreq = float64(r.altCount) / float64(nAllele)
	}
	return r
}
