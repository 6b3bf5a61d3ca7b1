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
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/genotyper/pileup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/combin"
)

// ModelKind selects the population inference model.
type ModelKind int

const (
	// PointEstimate calls each sample from its posterior under a
	// Hardy-Weinberg prior whose allele frequency is estimated by EM.
	PointEstimate ModelKind = iota
	// Pooled treats all reads as drawn from PoolSize chromosomes and
	// reports the alternate-allele count.
	Pooled
	// Joint computes the exact posterior over the total alternate-allele
	// count of all samples, and per-sample marginals.
	Joint
)

var modelNames = [...]string{"EM_POINT_ESTIMATE", "POOLED", "JOINT_ESTIMATE"}

func (k ModelKind) String() string {
	if k < 0 || int(k) >= len(modelNames) {
		return "unknown"
	}
	return modelNames[k]
}

// ParseModelKind parses one of "EM_POINT_ESTIMATE", "POOLED",
// "JOINT_ESTIMATE".
func ParseModelKind(s string) (ModelKind, error) {
	for i, name := range modelNames {
		if s == name {
			return ModelKind(i), nil
		}
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("unknown model %q", s))
}

// Model is the run-level inference configuration.
type Model struct {
	Kind ModelKind
	// Heterozygosity is the prior probability that a site is polymorphic.
	Heterozygosity float64
	// PoolSize is the number of chromosomes in the pool.  Pooled only.
	PoolSize int
	// MaxIterations and ConvergenceThreshold bound the EM iteration.
	// PointEstimate only.
	MaxIterations        int
	ConvergenceThreshold float64
}

// site is the input to one model invocation.
type site struct {
	refName string
	pos     PosType
	// ref is pileup.BaseA..BaseT.
	ref   byte
	bases []pileup.Base
	ls    []Likelihoods
}

type siteResult struct {
	alt          byte
	logPRef      float64
	altCount     int
	alleleFreq   float64
	notConverged bool
	// samples is nil for pooled calls.
	samples []SampleCall
}

// compiledModel is a validated Model with its priors precomputed for a fixed
// number of samples.  It is immutable and shared by all workers.
type compiledModel struct {
	Model
	em      *ErrorModel
	nSample int
	// prior is the allele-count log-prior: over 2*nSample chromosomes for
	// Joint, PoolSize for Pooled.
	prior []float64
	// logBinom[k] = log C(2*nSample, k).  Joint only.
	logBinom []float64
}

func (m Model) compile(em *ErrorModel, nSample int) (*compiledModel, error) {
	if nSample < 1 {
		return nil, errors.E(errors.Invalid, "no samples")
	}
	if !(m.Heterozygosity > 0 && m.Heterozygosity < 0.5) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("heterozygosity %v must be in (0, 0.5)", m.Heterozygosity))
	}
	cm := &compiledModel{Model: m, em: em, nSample: nSample}
	var err error
	switch m.Kind {
	case PointEstimate:
		if m.MaxIterations < 1 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("max iterations %d must be positive", m.MaxIterations))
		}
		if !(m.ConvergenceThreshold > 0) {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("convergence threshold %v must be positive", m.ConvergenceThreshold))
		}
	case Pooled:
		if m.PoolSize < 1 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("pool size %d must be positive", m.PoolSize))
		}
		if cm.prior, err = alleleCountLogPrior(m.Heterozygosity, m.PoolSize); err != nil {
			return nil, err
		}
	case Joint:
		n := 2 * nSample
		if cm.prior, err = alleleCountLogPrior(m.Heterozygosity, n); err != nil {
			return nil, err
		}
		cm.logBinom = make([]float64, n+1)
		for k := range cm.logBinom {
			cm.logBinom[k] = combin.LogGeneralizedBinomial(float64(n), float64(k))
		}
	default:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("unknown model kind %d", int(m.Kind)))
	}
	return cm, nil
}

// call runs the configured model on one site with nonzero depth.
func (m *compiledModel) call(s *site) siteResult {
	switch m.Kind {
	case PointEstimate:
		return m.pointEstimate(s)
	case Pooled:
		return m.pooled(s)
	case Joint:
		return m.joint(s)
	}
	panic(m.Kind)
}

// normalize3 converts log-weights into log-posteriors in place.
func normalize3(v *[3]float64) {
	z := floats.LogSumExp(v[:])
	for i := range v {
		v[i] -= z
	}
}

// logAddExp returns log(exp(a) + exp(b)).
func logAddExp(a, b float64) float64 {
	if a < b {
		a, b = b, a
	}
	if math.IsInf(b, -1) {
		return a
	}
	return a + math.Log1p(math.Exp(b-a))
}

// sampleCalls builds per-sample calls from normalized biallelic
// log-posteriors.  It also returns the total called alternate alleles and
// the number of called chromosomes.
func sampleCalls(s *site, alt byte, post [][3]float64) (calls []SampleCall, altCount, nAllele int) {
	gs := biallelic(s.ref, alt)
	calls = make([]SampleCall, len(s.ls))
	for i := range s.ls {
		l := &s.ls[i]
		c := &calls[i]
		c.Depth = l.Depth
		c.Likelihoods = l.LogL
		if l.Depth == 0 {
			c.Genotype = NoCall
			continue
		}
		best := bestIndex(post[i][:])
		c.Genotype = gs[best]
		others := make([]float64, 0, 2)
		for j := range post[i] {
			if j != best {
				others = append(others, post[i][j])
			}
		}
		c.GQ = phredFromLog(floats.LogSumExp(others))
		altCount += best
		nAllele += 2
	}
	return
}
