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
	"github.com/grailbio/genotyper/pileup"
)

// Genotype indexes the ten unordered diploid genotypes over {A,C,G,T}, in the
// order AA, AC, AG, AT, CC, CG, CT, GG, GT, TT.
type Genotype byte

// NGenotype is the number of diploid genotypes.
const NGenotype = 10

// NoCall marks a sample without admissible reads at a site.
const NoCall Genotype = 0xff

var genotypeAlleles = [NGenotype][2]byte{
	{pileup.BaseA, pileup.BaseA},
	{pileup.BaseA, pileup.BaseC},
	{pileup.BaseA, pileup.BaseG},
	{pileup.BaseA, pileup.BaseT},
	{pileup.BaseC, pileup.BaseC},
	{pileup.BaseC, pileup.BaseG},
	{pileup.BaseC, pileup.BaseT},
	{pileup.BaseG, pileup.BaseG},
	{pileup.BaseG, pileup.BaseT},
	{pileup.BaseT, pileup.BaseT},
}

// genotypeTable[a][b] is the Genotype with alleles {a, b}.
var genotypeTable [4][4]Genotype

var genotypeNames [NGenotype]string

func init() {
	for g, alleles := range genotypeAlleles {
		genotypeTable[alleles[0]][alleles[1]] = Genotype(g)
		genotypeTable[alleles[1]][alleles[0]] = Genotype(g)
		genotypeNames[g] = string([]byte{
			pileup.EnumToASCIITable[alleles[0]],
			pileup.EnumToASCIITable[alleles[1]],
		})
	}
}

// GenotypeOf returns the genotype with the given alleles (BaseA..BaseT).
func GenotypeOf(a, b byte) Genotype {
	return genotypeTable[a][b]
}

// Alleles returns the two alleles of g, in ascending order.
func (g Genotype) Alleles() (byte, byte) {
	return genotypeAlleles[g][0], genotypeAlleles[g][1]
}

func (g Genotype) String() string {
	if g == NoCall {
		return "NN"
	}
	return genotypeNames[g]
}

// AltCount returns the number of alleles of g that differ from ref.
func (g Genotype) AltCount(ref byte) int {
	n := 0
	if genotypeAlleles[g][0] != ref {
		n++
	}
	if genotypeAlleles[g][1] != ref {
		n++
	}
	return n
}

// biallelic returns hom-ref, het and hom-alt genotypes for the given pair of
// bases.
func biallelic(ref, alt byte) [3]Genotype {
	return [3]Genotype{genotypeTable[ref][ref], genotypeTable[ref][alt], genotypeTable[alt][alt]}
}

// bestIndex returns the index of the largest value in v.  Ties are resolved
// in favor of the lowest index; callers order v so that index 0 carries the
// fewest alternate alleles.
func bestIndex(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
