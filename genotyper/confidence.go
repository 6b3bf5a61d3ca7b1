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
)

// ConfidenceFilter converts the posterior probability of the reference into
// a site quality, and decides whether the site is emitted.
type ConfidenceFilter struct {
	// Threshold is the minimum emitted phred quality.
	Threshold float64
	// GenotypeMode also emits confident reference sites.  The quality then
	// measures the called state: variant when P(ref) < 1/2, reference
	// otherwise.
	GenotypeMode bool
}

// Qual returns the phred-scaled site quality given the natural log of
// P(ref).
func (f ConfidenceFilter) Qual(logPRef float64) float64 {
	if f.GenotypeMode && logPRef >= -math.Ln2 {
		return phredFromLog(log1mExp(logPRef))
	}
	return phredFromLog(logPRef)
}

// Retain returns whether a site with the given depth and quality is emitted.
// Sites without coverage are never emitted.
func (f ConfidenceFilter) Retain(depth uint32, qual float64) bool {
	return depth > 0 && qual >= f.Threshold
}
