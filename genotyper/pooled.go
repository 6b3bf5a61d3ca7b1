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

// pooledPosterior returns the natural-log posterior over the number of
// alternate alleles k in [0, PoolSize], where each read is drawn from an
// alternate chromosome with probability k/PoolSize.
func (m *compiledModel) pooledPosterior(s *site, alt byte) []float64 {
	n := m.PoolSize
	post := make([]float64, n+1)
	copy(post, m.prior)
	for _, b := range s.bases {
		q := m.em.Quality(b.Qual, b.Platform)
		pRef := math.Exp(m.em.logEmit[q][s.ref][b.Base])
		pAlt := math.Exp(m.em.logEmit[q][alt][b.Base])
		for k := range post {
			frac := float64(k) / float64(n)
			post[k] += math.Log(frac*pAlt + (1-frac)*pRef)
		}
	}
	z := floats.LogSumExp(post)
	for k := range post {
		post[k] -= z
	}
	return post
}

// expectedCount returns the mean of a log-posterior over counts.
func expectedCount(post []float64) float64 {
	e := 0.0
	for k, lp := range post {
		e += float64(k) * math.Exp(lp)
	}
	return e
}

func (m *compiledModel) pooled(s *site) siteResult {
	alt := chooseAlt(s.ls, s.ref)
	post := m.pooledPosterior(s, alt)
	k := bestIndex(post)
	return siteResult{
		alt:        alt,
		logPRef:    post[0],
		altCount:   k,
		alleleFreq: float64(k) / float64(m.PoolSize),
	}
}
