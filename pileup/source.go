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
	"path/filepath"
	"strings"

	"github.com/grailbio/hts/sam"
)

// Source is a collection of coordinate-sorted aligned reads from one or more
// samples, sharing a single reference dictionary.
type Source interface {
	// Header returns the reference dictionary (and read groups) of the source.
	Header() *sam.Header
	// Samples returns the sample names, in the order used by
	// ReadGroup.Sample.
	Samples() []string
	// Open returns a new Reader.  Each worker opens its own.
	Open(ctx context.Context) (Reader, error)
}

// Reader supports repeated positional queries.  A Reader is not thread-safe.
type Reader interface {
	// Query returns the reads on refName overlapping [start, end), in file
	// order.
	Query(refName string, start, end PosType) Iterator
	Close() error
}

// Iterator yields the records of a single query.
type Iterator interface {
	Scan() bool
	Record() *sam.Record
	// ReadGroup returns the resolved read group of the current record.  Its
	// Sample is -1 if the record names a read group missing from the header.
	ReadGroup() ReadGroup
	Err() error
	Close() error
}

// ReadGroup is the per-read metadata the genotyper needs.
type ReadGroup struct {
	// Sample indexes Source.Samples().
	Sample int
	// Platform is the read group's PL tag, e.g. "ILLUMINA".
	Platform string
}

var rgTag = sam.NewTag("RG")

// readGroupTable resolves RG aux tags to samples.
type readGroupTable struct {
	samples []string
	byID    map[string]ReadGroup
	// dflt is used for all reads when the header has no read groups.
	dflt ReadGroup
	// hasRGs is true if the header declares read groups.
	hasRGs bool
}

// DefaultSampleName derives a sample name from a file path, e.g.
// "/data/NA12878.chr20.bam" -> "NA12878.chr20".
func DefaultSampleName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func newReadGroupTable(header *sam.Header, defaultSample string) (*readGroupTable, error) {
	t := &readGroupTable{byID: map[string]ReadGroup{}}
	sampleIdx := map[string]int{}
	for _, rg := range header.RGs() {
		sm := rg.Get(sam.NewTag("SM"))
		if sm == "" {
			sm = defaultSample
		}
		idx, ok := sampleIdx[sm]
		if !ok {
			idx = len(t.samples)
			sampleIdx[sm] = idx
			t.samples = append(t.samples, sm)
		}
		if _, ok := t.byID[rg.Name()]; ok {
			return nil, fmt.Errorf("pileup: duplicate read group %s", rg.Name())
		}
		t.byID[rg.Name()] = ReadGroup{Sample: idx, Platform: strings.ToUpper(rg.Get(sam.NewTag("PL")))}
		t.hasRGs = true
	}
	if !t.hasRGs {
		t.samples = []string{defaultSample}
		t.dflt = ReadGroup{Sample: 0}
	}
	return t, nil
}

func (t *readGroupTable) lookup(r *sam.Record) ReadGroup {
	if !t.hasRGs {
		return t.dflt
	}
	aux := r.AuxFields.Get(rgTag)
	if aux == nil {
		return ReadGroup{Sample: -1}
	}
	id, ok := aux.Value().(string)
	if !ok {
		return ReadGroup{Sample: -1}
	}
	rg, ok := t.byID[id]
	if !ok {
		return ReadGroup{Sample: -1}
	}
	return rg
}

// overlaps returns whether r is mapped to refID and overlaps [start, end).
func overlaps(r *sam.Record, refID int, start, end PosType) bool {
	if r.Ref == nil || r.Ref.ID() != refID || r.Flags&sam.Unmapped != 0 {
		return false
	}
	return PosType(r.Pos) < end && PosType(r.End()) > start
}

// errIterator is returned by queries that fail before any record is read.
type errIterator struct{ err error }

func (i *errIterator) Scan() bool { return false }
func (i *errIterator) Record() *sam.Record { return nil }
func (i *errIterator) ReadGroup() ReadGroup { return ReadGroup{Sample: -1} }
func (i *errIterator) Err() error { return i.err }
func (i *errIterator) Close() error { return i.err }
