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

// This file contains phred-math routines.

// All quality scores are clamped to [0, nQual - 1] before use.
const nQual = 94

// maxQual caps reported site qualities.  -10*log10 of the smallest positive
// float64 is about 3236, so anything above this carries no information.
const maxQual = 3000

// errProbTable[q] = 10^(-q/10).
var errProbTable [nQual]float64

func init() {
	for i := range errProbTable {
		errProbTable[i] = math.Exp(float64(i) * (-0.1 * math.Ln10))
	}
	// Q0 would claim that the called base is certainly wrong.  Treat it as
	// uninformative instead.
	errProbTable[0] = 0.75
}

func clampQual(q int) byte {
	if q < 0 {
		return 0
	}
	if q >= nQual {
		return nQual - 1
	}
	return byte(q)
}

// phredFromLog converts a natural-log error probability to a phred score,
// capped at maxQual.
func phredFromLog(logP float64) float64 {
	if logP >= 0 {
		return 0
	}
	q := logP * (-10.0 * math.Log10E)
	if q > maxQual || math.IsInf(q, 1) || math.IsNaN(q) {
		return maxQual
	}
	return q
}

// log1mExp returns log(1 - exp(x)) for x <= 0 without losing precision at
// either end.
func log1mExp(x float64) float64 {
	if x > -math.Ln2 {
		return math.Log(-math.Expm1(x))
	}
	return math.Log1p(-math.Exp(x))
}
