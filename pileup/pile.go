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

package pileup

import (
	"fmt"
	"sort"

	"github.com/grailbio/genotyper/interval"
	"github.com/grailbio/hts/sam"
)

// Filter holds the deterministic read-admission rules.
type Filter struct {
	// FlagExclude drops reads with any of these SAM flags set.
	FlagExclude int
	// MinMapQ drops reads with lower mapping quality.
	MinMapQ int
	// MinBaseQual drops individual bases with lower base quality.
	MinBaseQual int
	// MaxMismatches drops a read at a site when more than this many of its
	// aligned bases within MismatchWindow of the site disagree with the
	// reference.  Negative disables the veto.
	MaxMismatches int
	// MismatchWindow is the width of the window, centered on the site:
	// [pos - MismatchWindow/2, pos + MismatchWindow/2).
	MismatchWindow int
}

// Base is one aligned read base observed at a site.  It is never modified
// after creation.
type Base struct {
	// Sample indexes Source.Samples().
	Sample int
	// Base is one of BaseA..BaseT.
	Base     byte
	Qual     byte
	MapQ     byte
	Strand   StrandType
	Platform string
}

// Stats counts what happened to the reads examined by Filter.Add.
type Stats struct {
	Reads        int
	FlagFiltered int
	MapQFiltered int
	// DataErrors counts malformed reads: quality/sequence length mismatches,
	// missing qualities, alignments past the contig end, and unknown read
	// groups.
	DataErrors int
	// Vetoed counts (read, site) pairs rejected by the mismatch window.
	Vetoed int
}

// Merge adds o's counts to s.
func (s *Stats) Merge(o Stats) {
	s.Reads += o.Reads
	s.FlagFiltered += o.FlagFiltered
	s.MapQFiltered += o.MapQFiltered
	s.DataErrors += o.DataErrors
	s.Vetoed += o.Vetoed
}

// Piles holds the admitted bases at each position of the window
// [Start, Start+len(Sites)).
type Piles struct {
	Start PosType
	Sites [][]Base
}

// Reset empties the piles and resizes the window to [start, end), reusing
// storage.
func (p *Piles) Reset(start, end PosType) {
	p.Start = start
	n := int(end - start)
	if cap(p.Sites) < n {
		p.Sites = make([][]Base, n)
	}
	p.Sites = p.Sites[:n]
	for i := range p.Sites {
		p.Sites[i] = p.Sites[i][:0]
	}
}

// At returns the bases at pos.
func (p *Piles) At(pos PosType) []Base {
	return p.Sites[pos-p.Start]
}

type alignedPos struct {
	posInRef  PosType
	posInRead PosType
}

// readScratch holds per-read buffers, reused across reads.
type readScratch struct {
	aligned    []alignedPos
	mismatches []PosType
}

func seqNibble(seq sam.Seq, i PosType) byte {
	d := seq.Seq[i>>1]
	if i&1 == 0 {
		return byte(d >> 4)
	}
	return byte(d & 0xf)
}

// checkRead returns a non-nil error for reads whose fields are inconsistent.
func checkRead(r *sam.Record, refLen int) error {
	if len(r.Qual) != r.Seq.Length {
		return fmt.Errorf("read %s: %d base qualities for %d bases", r.Name, len(r.Qual), r.Seq.Length)
	}
	if r.Seq.Length == 0 {
		return fmt.Errorf("read %s: no sequence", r.Name)
	}
	for _, q := range r.Qual {
		if q == 0xff {
			return fmt.Errorf("read %s: missing base qualities", r.Name)
		}
	}
	queryLen := 0
	for _, co := range r.Cigar {
		switch co.Type() {
		case sam.CigarMatch, sam.CigarInsertion, sam.CigarSoftClipped, sam.CigarEqual, sam.CigarMismatch:
			queryLen += co.Len()
		}
	}
	if queryLen != r.Seq.Length {
		return fmt.Errorf("read %s: CIGAR covers %d bases, sequence has %d", r.Name, queryLen, r.Seq.Length)
	}
	if r.End() > refLen {
		return fmt.Errorf("read %s: alignment end %d past contig end %d", r.Name, r.End(), refLen)
	}
	return nil
}

// alignRead fills s.aligned with the read's aligned positions falling inside
// the intervals described by endpoints, and s.mismatches with every reference
// position (sorted) where an aligned read base disagrees with refSeq.
func (s *readScratch) alignRead(r *sam.Record, refSeq string, endpoints []PosType) error {
	s.aligned = s.aligned[:0]
	s.mismatches = s.mismatches[:0]
	posInRef := PosType(r.Pos)
	posInRead := PosType(0)
	epIdx := interval.NewEndpointIndex(posInRef, endpoints)
	for _, co := range r.Cigar {
		cLen := PosType(co.Len())
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			for i := PosType(0); i < cLen; i++ {
				refPos := posInRef + i
				readBase := Seq8ToEnumTable[seqNibble(r.Seq, posInRead+i)]
				refBase := ASCIIToEnumTable[refSeq[refPos]]
				if readBase != BaseX && refBase != BaseX && readBase != refBase {
					s.mismatches = append(s.mismatches, refPos)
				}
				for !epIdx.Finished(endpoints) && refPos >= endpoints[epIdx] {
					epIdx++
				}
				if epIdx.Contained() {
					s.aligned = append(s.aligned, alignedPos{posInRef: refPos, posInRead: posInRead + i})
				}
			}
			posInRef += cLen
			posInRead += cLen
		case sam.CigarInsertion, sam.CigarSoftClipped:
			posInRead += cLen
		case sam.CigarDeletion, sam.CigarSkipped:
			posInRef += cLen
		case sam.CigarHardClipped, sam.CigarPadded:
			// do nothing
		default:
			return fmt.Errorf("read %s: unexpected CIGAR code %v", r.Name, co)
		}
	}
	return nil
}

// vetoed returns whether more than maxMismatches of the sorted mismatch
// positions fall in [pos - window/2, pos + window/2).
func vetoed(mismatches []PosType, pos PosType, window, maxMismatches int) bool {
	if maxMismatches < 0 || len(mismatches) <= maxMismatches {
		return false
	}
	lo := pos - PosType(window/2)
	hi := pos + PosType(window/2)
	first := sort.Search(len(mismatches), func(i int) bool { return mismatches[i] >= lo })
	last := sort.Search(len(mismatches), func(i int) bool { return mismatches[i] >= hi })
	return last-first > maxMismatches
}

// Add reads every record from it and appends the admitted bases at the
// positions covered by endpoints (a sorted endpoint sequence inside p's
// window) to p.  refSeq is the entire uppercase contig.  Data errors are only
// counted for reads starting at or after countFrom, so that a read spanning
// several windows is counted once.
func (f *Filter) Add(p *Piles, it Iterator, refSeq string, endpoints []PosType, countFrom PosType, stats *Stats) error {
	var s readScratch
	for it.Scan() {
		r := it.Record()
		stats.Reads++
		if int(r.Flags)&f.FlagExclude != 0 || r.Flags&sam.Unmapped != 0 {
			stats.FlagFiltered++
			continue
		}
		if int(r.MapQ) < f.MinMapQ {
			stats.MapQFiltered++
			continue
		}
		rg := it.ReadGroup()
		err := checkRead(r, len(refSeq))
		if err == nil && rg.Sample < 0 {
			err = fmt.Errorf("read %s: unknown read group", r.Name)
		}
		if err == nil {
			err = s.alignRead(r, refSeq, endpoints)
		}
		if err != nil {
			if PosType(r.Pos) >= countFrom {
				stats.DataErrors++
			}
			continue
		}
		strand := ReadStrand(r)
		for _, ap := range s.aligned {
			base := Seq8ToEnumTable[seqNibble(r.Seq, ap.posInRead)]
			if base == BaseX {
				continue
			}
			qual := r.Qual[ap.posInRead]
			if int(qual) < f.MinBaseQual {
				continue
			}
			if vetoed(s.mismatches, ap.posInRef, f.MismatchWindow, f.MaxMismatches) {
				stats.Vetoed++
				continue
			}
			idx := ap.posInRef - p.Start
			p.Sites[idx] = append(p.Sites[idx], Base{
				Sample:   rg.Sample,
				Base:     base,
				Qual:     qual,
				MapQ:     r.MapQ,
				Strand:   strand,
				Platform: rg.Platform,
			})
		}
	}
	if err := it.Err(); err != nil {
		it.Close() // nolint: errcheck
		return err
	}
	return it.Close()
}
