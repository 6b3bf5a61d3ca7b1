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
)

// alleleCountLogPrior returns the natural-log prior over the number of
// alternate alleles k among n chromosomes: P(k) = theta/k for 1 <= k <= n,
// and P(0) takes the remaining mass.
func alleleCountLogPrior(theta float64, n int) ([]float64, error) {
	if n < 1 {
		return nil, errors.E(errors.Invalid, "allele-count prior needs at least one chromosome")
	}
	prior := make([]float64, n+1)
	sum := 0.0
	for k := 1; k <= n; k++ {
		p := theta / float64(k)
		prior[k] = math.Log(p)
		sum += p
	}
	if sum >= 1 {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("heterozygosity %v too large for %d chromosomes", theta, n))
	}
	prior[0] = math.Log1p(-sum)
	return prior, nil
}

// hweLogPrior returns the Hardy-Weinberg log-priors of hom-ref, het and
// hom-alt for alternate allele frequency f.
func hweLogPrior(f float64) [3]float64 {
	return [3]float64{
		2 * math.Log1p(-f),
		math.Ln2 + math.Log(f) + math.Log1p(-f),
		2 * math.Log(f),
	}
}
