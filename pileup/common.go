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

// Package pileup turns aligned reads into per-site, per-sample collections of
// observed bases.  It owns the read sources (BAM files or in-memory records),
// the read-admission rules, and the reference-sequence plumbing shared by the
// genotyper.
package pileup

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/genotyper/encoding/fasta"
	"github.com/grailbio/genotyper/interval"
	"github.com/grailbio/hts/sam"
)

// PosType is the integer type used to represent genomic positions.
type PosType = interval.PosType

// PosTypeMax is the maximum value that can be represented by a PosType.
const PosTypeMax = interval.PosTypeMax

// These constants have two relevant meanings:
// 1. In the .bam seq[] encoding (sam.BaseA, sam.BaseC, etc.), it's the
//    position of A's set bit.
// 2. It's the natural value for A/C/G/T in a packed 2-bit representation
//    (useful anywhere we don't have to worry about Ns).

const (
	// BaseA represents an A base.
	BaseA byte = iota
	// BaseC represents an C base.
	BaseC
	// BaseG represents an G base.
	BaseG
	// BaseT represents an T base.
	BaseT
	// BaseX is a catch-all.
	BaseX
)

const (
	// NBase is the number of regular base types.
	NBase = 4
	// NBaseEnum counts BaseX as well as the regular base types.
	NBaseEnum = 5
)

// Seq8ToEnumTable is the .bam seq nibble -> A/C/G/T/X enum mapping.
var Seq8ToEnumTable = [...]byte{BaseX, BaseA, BaseC, BaseX, BaseG, BaseX, BaseX, BaseX, BaseT, BaseX, BaseX, BaseX, BaseX, BaseX, BaseX, BaseX}

// EnumToASCIITable is the A/C/G/T/X -> ASCII mapping, with X rendered as 'N'.
var EnumToASCIITable = [...]byte{'A', 'C', 'G', 'T', 'N'}

// ASCIIToEnumTable maps ASCII bases (either case) to A/C/G/T/X.
var ASCIIToEnumTable [256]byte

func init() {
	for i := range ASCIIToEnumTable {
		ASCIIToEnumTable[i] = BaseX
	}
	for e, c := range EnumToASCIITable[:NBase] {
		ASCIIToEnumTable[c] = byte(e)
		ASCIIToEnumTable[c+'a'-'A'] = byte(e)
	}
}

// StrandType describes which strand a read is aligned to.
type StrandType int

const (
	// StrandNone means undefined strand.
	StrandNone StrandType = iota
	// StrandFwd means the read is aligned to the forward strand.
	StrandFwd
	// StrandRev means the read is reverse-complemented.
	StrandRev
)

// StrandTypeToASCIITable is the StrandType -> ASCII mapping.
var StrandTypeToASCIITable = [...]byte{'.', '+', '-'}

// ReadStrand returns the strand the read itself is aligned to.
func ReadStrand(samr *sam.Record) StrandType {
	if samr.Flags&sam.Unmapped != 0 {
		return StrandNone
	}
	if samr.Flags&sam.Reverse != 0 {
		return StrandRev
	}
	return StrandFwd
}

// LoadReference returns the reference bases for each contig in headerRefs[]
// whose name is in want (all contigs if want is nil), uppercased, indexed by
// reference ID.  Contigs that are not loaded are left empty.  It performs
// reference-length consistency checks between headerRefs and fa in the
// process.
func LoadReference(fa fasta.Fasta, headerRefs []*sam.Reference, want map[string]bool) ([]string, error) {
	refSeqs := make([]string, len(headerRefs))
	nMissingFromFa := 0
	for i, curRef := range headerRefs {
		refName := curRef.Name()
		refLen, e := fa.Len(refName)
		if e != nil {
			if want == nil || !want[refName] {
				nMissingFromFa++
				continue
			}
			return nil, fmt.Errorf("pileup.LoadReference: contig %s missing from reference", refName)
		}
		if refLen != uint64(curRef.Len()) {
			return nil, fmt.Errorf("pileup.LoadReference: inconsistent lengths for contig %s (%d in BAM header, %d in .fa)", refName, curRef.Len(), refLen)
		}
		if want != nil && !want[refName] {
			continue
		}
		if refLen == 0 {
			continue
		}
		refSeq, err := fa.Get(refName, 0, refLen)
		if err != nil {
			return nil, err
		}
		refSeqs[i] = strings.ToUpper(refSeq)
	}
	if nMissingFromFa != 0 {
		log.Printf("pileup.LoadReference: warning: %d reference(s) present in BAM header but missing from .fa", nMissingFromFa)
	}
	return refSeqs, nil
}
