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
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/bgzf/index"
	"github.com/grailbio/hts/sam"
	"v.io/x/lib/vlog"
)

// BAMSource implements Source for a single BAM file.  Both the BAM and the
// index may be S3 URLs.
type BAMSource struct {
	// Path of the *.bam file.
	Path string
	// Index is the pathname of the *.bam.bai file, or "" if there is none, in
	// which case every query scans the file from the beginning.
	Index  string
	header *sam.Header
	rgs    *readGroupTable
}

// NewBAMSource reads the header of the BAM file at path.  If indexPath is
// empty, path + ".bai" is used when it exists.
func NewBAMSource(ctx context.Context, path, indexPath string) (*BAMSource, error) {
	b := &BAMSource{Path: path, Index: indexPath}
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck
	reader, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return nil, fmt.Errorf("pileup.NewBAMSource %s: %v", path, err)
	}
	b.header = reader.Header()
	if err = reader.Close(); err != nil {
		return nil, err
	}
	if b.rgs, err = newReadGroupTable(b.header, DefaultSampleName(path)); err != nil {
		return nil, fmt.Errorf("pileup.NewBAMSource %s: %v", path, err)
	}
	if b.Index == "" {
		if idx, err := file.Open(ctx, path+".bai"); err == nil {
			b.Index = path + ".bai"
			idx.Close(ctx) // nolint: errcheck
		} else {
			log.Printf("pileup.NewBAMSource: no index for %s, queries will scan the whole file", path)
		}
	}
	return b, nil
}

// Header implements Source.
func (b *BAMSource) Header() *sam.Header {
	return b.header
}

// Samples implements Source.
func (b *BAMSource) Samples() []string {
	return b.rgs.samples
}

// Open implements Source.
func (b *BAMSource) Open(ctx context.Context) (_ Reader, err error) {
	r := &bamReader{source: b, ctx: ctx}
	if r.in, err = file.Open(ctx, b.Path); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			r.in.Close(ctx) // nolint: errcheck
		}
	}()
	if b.Index != "" {
		var indexIn file.File
		if indexIn, err = file.Open(ctx, b.Index); err != nil {
			return nil, err
		}
		r.index, err = bam.ReadIndex(indexIn.Reader(ctx))
		if e := indexIn.Close(ctx); e != nil && err == nil {
			err = e
		}
		if err != nil {
			return nil, fmt.Errorf("pileup.BAMSource.Open %s: %v", b.Index, err)
		}
	}
	if r.reader, err = bam.NewReader(r.in.Reader(ctx), 1); err != nil {
		return nil, err
	}
	r.firstRecord = r.reader.LastChunk().End
	return r, nil
}

type bamReader struct {
	source *BAMSource
	ctx    context.Context
	in     file.File
	reader *bam.Reader
	index  *bam.Index
	// Offset of the first record in the file.
	firstRecord bgzf.Offset
	err         errors.Once
}

// Query implements Reader.
func (r *bamReader) Query(refName string, start, end PosType) Iterator {
	ref := findRef(r.source.header, refName)
	if ref == nil {
		return &errIterator{fmt.Errorf("pileup.Query: contig %s not in %s", refName, r.source.Path)}
	}
	offset := r.firstRecord
	if r.index != nil {
		chunks, err := r.index.Chunks(ref, int(start), int(end))
		if err == index.ErrInvalid || (err == nil && len(chunks) == 0) {
			// No reads for this interval.
			vlog.VI(1).Infof("%s: %s:%d-%d has no indexed reads", r.source.Path, refName, start, end)
			return &bamIterator{done: true}
		}
		if err != nil {
			r.err.Set(err)
			return &errIterator{err}
		}
		offset = chunks[0].Begin
		vlog.VI(1).Infof("%s: %s:%d-%d, %d chunks", r.source.Path, refName, start, end, len(chunks))
	}
	if err := r.reader.Seek(offset); err != nil {
		r.err.Set(err)
		return &errIterator{err}
	}
	return &bamIterator{
		reader: r,
		refID:  ref.ID(),
		start:  start,
		end:    end,
	}
}

// Close implements Reader.
func (r *bamReader) Close() error {
	if r.reader != nil {
		r.err.Set(r.reader.Close())
		r.reader = nil
	}
	if r.in != nil {
		r.err.Set(r.in.Close(r.ctx))
		r.in = nil
	}
	return r.err.Err()
}

type bamIterator struct {
	reader     *bamReader
	refID      int
	start, end PosType
	rec        *sam.Record
	done       bool
	err        error
}

// Scan implements Iterator.
func (i *bamIterator) Scan() bool {
	if i.done {
		return false
	}
	for {
		rec, err := i.reader.reader.Read()
		if err != nil {
			if err != io.EOF {
				i.err = err
				i.reader.err.Set(err)
			}
			i.done = true
			return false
		}
		if rec.Ref == nil || rec.Ref.ID() > i.refID ||
			(rec.Ref.ID() == i.refID && PosType(rec.Pos) >= i.end) {
			// Coordinate-sorted input: nothing further can overlap.
			i.done = true
			return false
		}
		if overlaps(rec, i.refID, i.start, i.end) {
			i.rec = rec
			return true
		}
	}
}

// Record implements Iterator.
func (i *bamIterator) Record() *sam.Record {
	return i.rec
}

// ReadGroup implements Iterator.
func (i *bamIterator) ReadGroup() ReadGroup {
	return i.reader.source.rgs.lookup(i.rec)
}

// Err implements Iterator.
func (i *bamIterator) Err() error {
	return i.err
}

// Close implements Iterator.
func (i *bamIterator) Close() error {
	i.done = true
	return i.err
}

func findRef(header *sam.Header, name string) *sam.Reference {
	for _, ref := range header.Refs() {
		if ref.Name() == name {
			return ref
		}
	}
	return nil
}
