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
	"context"
	"fmt"
	"sort"

	"github.com/grailbio/hts/sam"
)

// memSource is an in-memory Source, mostly for unittests.
type memSource struct {
	header *sam.Header
	rgs    *readGroupTable
	recs   []*sam.Record
}

// NewMemSource creates a Source yielding recs.  defaultSample names the
// sample when header declares no read groups.  recs are sorted by coordinate
// (stably, so records at the same position keep their order).
func NewMemSource(header *sam.Header, defaultSample string, recs []*sam.Record) (Source, error) {
	rgs, err := newReadGroupTable(header, defaultSample)
	if err != nil {
		return nil, err
	}
	sorted := make([]*sam.Record, 0, len(recs))
	for _, r := range recs {
		if r.Ref == nil {
			continue
		}
		sorted = append(sorted, r)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Ref.ID() != sorted[j].Ref.ID() {
			return sorted[i].Ref.ID() < sorted[j].Ref.ID()
		}
		return sorted[i].Pos < sorted[j].Pos
	})
	return &memSource{header: header, rgs: rgs, recs: sorted}, nil
}

// Header implements Source.
func (m *memSource) Header() *sam.Header {
	return m.header
}

// Samples implements Source.
func (m *memSource) Samples() []string {
	return m.rgs.samples
}

// Open implements Source.
func (m *memSource) Open(ctx context.Context) (Reader, error) {
	return m, nil
}

// Query implements Reader.
func (m *memSource) Query(refName string, start, end PosType) Iterator {
	ref := findRef(m.header, refName)
	if ref == nil {
		return &errIterator{fmt.Errorf("pileup.Query: contig %s not in header", refName)}
	}
	refID := ref.ID()
	// Records are sorted, so skip everything on earlier contigs.
	first := sort.Search(len(m.recs), func(i int) bool {
		return m.recs[i].Ref.ID() >= refID
	})
	return &memIterator{source: m, recs: m.recs[first:], refID: refID, start: start, end: end}
}

// Close implements Reader.
func (m *memSource) Close() error {
	return nil
}

type memIterator struct {
	source     *memSource
	recs       []*sam.Record
	refID      int
	start, end PosType
	rec        *sam.Record
}

// Scan implements Iterator.
func (i *memIterator) Scan() bool {
	for len(i.recs) > 0 {
		rec := i.recs[0]
		i.recs = i.recs[1:]
		if rec.Ref.ID() != i.refID || PosType(rec.Pos) >= i.end {
			i.recs = nil
			return false
		}
		if overlaps(rec, i.refID, i.start, i.end) {
			i.rec = rec
			return true
		}
	}
	return false
}

// Record implements Iterator.  The record must not be modified.
func (i *memIterator) Record() *sam.Record {
	return i.rec
}

// ReadGroup implements Iterator.
func (i *memIterator) ReadGroup() ReadGroup {
	return i.source.rgs.lookup(i.rec)
}

// Err implements Iterator.
func (i *memIterator) Err() error {
	return nil
}

// Close implements Iterator.
func (i *memIterator) Close() error {
	return nil
}
