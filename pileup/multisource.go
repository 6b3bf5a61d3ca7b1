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

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// multiSource merges several sources over the same reference dictionary.
// Samples with the same name in different sources are merged.
type multiSource struct {
	sources []Source
	samples []string
	// remap[i][j] is the merged index of sources[i].Samples()[j].
	remap [][]int
}

// NewMultiSource combines sources, which must share the same reference
// dictionary (names and lengths, in the same order).  A single source is
// returned as is.
func NewMultiSource(sources ...Source) (Source, error) {
	if len(sources) == 0 {
		return nil, errors.E(errors.Invalid, "pileup.NewMultiSource: no read sources")
	}
	if len(sources) == 1 {
		return sources[0], nil
	}
	m := &multiSource{sources: sources, remap: make([][]int, len(sources))}
	refs0 := sources[0].Header().Refs()
	sampleIdx := map[string]int{}
	for i, s := range sources {
		refs := s.Header().Refs()
		if len(refs) != len(refs0) {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("pileup.NewMultiSource: source %d has %d contigs, source 0 has %d", i, len(refs), len(refs0)))
		}
		for j, ref := range refs {
			if ref.Name() != refs0[j].Name() || ref.Len() != refs0[j].Len() {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("pileup.NewMultiSource: contig %d differs between sources (%s:%d vs %s:%d)", j, ref.Name(), ref.Len(), refs0[j].Name(), refs0[j].Len()))
			}
		}
		for _, name := range s.Samples() {
			idx, ok := sampleIdx[name]
			if !ok {
				idx = len(m.samples)
				sampleIdx[name] = idx
				m.samples = append(m.samples, name)
			}
			m.remap[i] = append(m.remap[i], idx)
		}
	}
	return m, nil
}

// Header implements Source.  It returns the first source's header.
func (m *multiSource) Header() *sam.Header {
	return m.sources[0].Header()
}

// Samples implements Source.
func (m *multiSource) Samples() []string {
	return m.samples
}

// Open implements Source.
func (m *multiSource) Open(ctx context.Context) (Reader, error) {
	r := &multiReader{source: m}
	for _, s := range m.sources {
		sr, err := s.Open(ctx)
		if err != nil {
			r.Close() // nolint: errcheck
			return nil, err
		}
		r.readers = append(r.readers, sr)
	}
	return r, nil
}

type multiReader struct {
	source  *multiSource
	readers []Reader
}

// Query implements Reader.  Records are yielded source by source.
func (r *multiReader) Query(refName string, start, end PosType) Iterator {
	return &multiIterator{reader: r, refName: refName, start: start, end: end, cur: -1}
}

// Close implements Reader.
func (r *multiReader) Close() error {
	var err errors.Once
	for _, sr := range r.readers {
		err.Set(sr.Close())
	}
	r.readers = nil
	return err.Err()
}

type multiIterator struct {
	reader     *multiReader
	refName    string
	start, end PosType
	cur        int
	it         Iterator
	err        errors.Once
}

// Scan implements Iterator.
func (i *multiIterator) Scan() bool {
	for {
		if i.it != nil {
			if i.it.Scan() {
				return true
			}
			i.err.Set(i.it.Close())
			i.it = nil
			if i.err.Err() != nil {
				return false
			}
		}
		i.cur++
		if i.cur >= len(i.reader.readers) {
			return false
		}
		i.it = i.reader.readers[i.cur].Query(i.refName, i.start, i.end)
	}
}

// Record implements Iterator.
func (i *multiIterator) Record() *sam.Record {
	return i.it.Record()
}

// ReadGroup implements Iterator.
func (i *multiIterator) ReadGroup() ReadGroup {
	rg := i.it.ReadGroup()
	if rg.Sample >= 0 {
		rg.Sample = i.reader.source.remap[i.cur][rg.Sample]
	}
	return rg
}

// Err implements Iterator.
func (i *multiIterator) Err() error {
	return i.err.Err()
}

// Close implements Iterator.
func (i *multiIterator) Close() error {
	if i.it != nil {
		i.err.Set(i.it.Close())
		i.it = nil
	}
	i.cur = len(i.reader.readers)
	return i.err.Err()
}
