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
)

// ErrorModelKind selects how a base quality turns into emission
// probabilities.
type ErrorModelKind int

const (
	// OneState spreads the error probability evenly over the three other
	// bases.
	OneState ErrorModelKind = iota
	// ThreeState gives the transition partner of the true base twice the
	// error mass of either transversion.
	ThreeState
	// Empirical is OneState applied to qualities recalibrated from an
	// observed-error histogram.
	Empirical
)

var errorModelNames = [...]string{"one_state", "three_state", "empirical"}

func (k ErrorModelKind) String() string {
	if k < 0 || int(k) >= len(errorModelNames) {
		return "unknown"
	}
	return errorModelNames[k]
}

// ParseErrorModelKind parses one of "one_state", "three_state",
// "empirical".
func ParseErrorModelKind(s string) (ErrorModelKind, error) {
	for i, name := range errorModelNames {
		if s == name {
			return ErrorModelKind(i), nil
		}
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("unknown error model %q", s))
}

// transitionPartner maps A<->G and C<->T.
func transitionPartner(b byte) byte {
	return b ^ 2
}

// ErrorModel computes per-base emission probabilities.  It is immutable after
// construction and safe for concurrent use.
type ErrorModel struct {
	kind ErrorModelKind
	cal  *Calibration
	// logEmit[q][trueBase][observed] is the natural log of P(observed |
	// trueBase, q).
	logEmit [nQual][pileup.NBase][pileup.NBase]float64
	// genotypeLogEmit[q][observed][g] averages the two alleles of g.
	genotypeLogEmit [nQual][pileup.NBase][NGenotype]float64
}

// NewErrorModel returns the error model of the given kind.  cal is only
// consulted by the Empirical model, and may be nil.
func NewErrorModel(kind ErrorModelKind, cal *Calibration) (*ErrorModel, error) {
	if kind < OneState || kind > Empirical {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("NewErrorModel: unknown kind %d", int(kind)))
	}
	m := &ErrorModel{kind: kind, cal: cal}
	for q := range m.logEmit {
		e := errProbTable[q]
		for t := byte(0); t < pileup.NBase; t++ {
			for o := byte(0); o < pileup.NBase; o++ {
				var p float64
				switch {
				case o == t:
					p = 1 - e
				case kind == ThreeState && o == transitionPartner(t):
					p = e / 2
				case kind == ThreeState:
					p = e / 4
				default:
					p = e / 3
				}
				m.logEmit[q][t][o] = math.Log(p)
			}
		}
		for o := byte(0); o < pileup.NBase; o++ {
			for g, alleles := range genotypeAlleles {
				pa := math.Exp(m.logEmit[q][alleles[0]][o])
				pb := math.Exp(m.logEmit[q][alleles[1]][o])
				m.genotypeLogEmit[q][o][g] = math.Log(0.5*pa + 0.5*pb)
			}
		}
	}
	return m, nil
}

// Kind returns the model kind.
func (m *ErrorModel) Kind() ErrorModelKind {
	return m.kind
}

// Quality returns the quality actually used for a base with the reported
// quality qual, sequenced on the given platform.
func (m *ErrorModel) Quality(qual byte, platform string) byte {
	if m.kind == Empirical && m.cal != nil {
		return m.cal.Recalibrate(platform, qual)
	}
	return clampQual(int(qual))
}

// EmissionProbability returns P(observed | trueBase) for a base with the
// given reported quality.  Bases are pileup.BaseA..pileup.BaseT.
func (m *ErrorModel) EmissionProbability(trueBase, observed, qual byte, platform string) float64 {
	return math.Exp(m.logEmission(trueBase, observed, qual, platform))
}

func (m *ErrorModel) logEmission(trueBase, observed, qual byte, platform string) float64 {
	return m.logEmit[m.Quality(qual, platform)][trueBase][observed]
}

// genotypeRow returns, for every genotype, the log-probability of observing
// the base.
func (m *ErrorModel) genotypeRow(observed, qual byte, platform string) *[NGenotype]float64 {
	return &m.genotypeLogEmit[m.Quality(qual, platform)][observed]
}
