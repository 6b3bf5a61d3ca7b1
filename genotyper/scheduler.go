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
	"context"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"sort"
	"strconv"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/genotyper/interval"
	"github.com/grailbio/genotyper/pileup"
)

// Implementation strategy:
// The requested intervals are enumerated in reference order and split into
// shards of near-equal base count (interval.Partition).  Each shard is
// processed by its own worker, which walks the shard a chunk (at most
// ChunkSize bases) at a time.  For every chunk, all reads overlapping the
// chunk are fetched from the source and piled up, so a site always sees
// every read covering it, regardless of how the intervals were cut.
//
// Each worker appends its retained calls to a private temporary recordio
// file (zstd level 1).  Once every worker has succeeded, the files are
// replayed in shard order, which is also (contig, position) order.  If any
// worker fails, or the context is canceled, nothing is replayed.

// Summary describes a finished run.
type Summary struct {
	// Sites is the number of positions with at least one admitted base.
	Sites int
	// Calls is the number of retained site calls.
	Calls int
	// NotConverged counts retained calls whose EM iteration hit its cap.
	NotConverged int
	// Checksum is a seahash of the serialized call stream.  It only depends
	// on the calls, not on the shard count.
	Checksum uint64
	Stats    pileup.Stats
}

func (s *Summary) merge(o Summary) {
	s.Sites += o.Sites
	s.Calls += o.Calls
	s.NotConverged += o.NotConverged
	s.Stats.Merge(o.Stats)
}

// Calls holds the retained calls of a finished run until they are replayed.
type Calls struct {
	Summary  Summary
	refNames []string
	tmpFiles []*os.File
}

// RefNames returns the reference names indexed by SiteCall.RefID.
func (c *Calls) RefNames() []string {
	return c.refNames
}

// Each calls fn on every retained call, in (contig, position) order.  The
// SiteCall must not be retained after fn returns.  Each also fills in
// c.Summary.Checksum.
func (c *Calls) Each(fn func(*SiteCall) error) error {
	h := seahash.New()
	var scratch []byte
	for _, f := range c.tmpFiles {
		if _, err := f.Seek(0, 0); err != nil {
			return err
		}
		scanner := recordio.NewScanner(f, recordio.ScannerOpts{
			Unmarshal: unmarshalSiteCall,
		})
		for scanner.Scan() {
			call := scanner.Get().(*SiteCall)
			var err error
			if scratch, err = marshalSiteCall(scratch, call); err != nil {
				return err
			}
			h.Write(scratch) // nolint: errcheck
			if err = fn(call); err != nil {
				return err
			}
		}
		if err := scanner.Err(); err != nil {
			return err
		}
	}
	c.Summary.Checksum = h.Sum64()
	return nil
}

// Close removes the temporary files.
func (c *Calls) Close() (err error) {
	for i, f := range c.tmpFiles {
		if f == nil {
			continue
		}
		curPath := f.Name()
		if e := f.Close(); e != nil && err == nil {
			err = e
		}
		// os.Remove returns an error if we try to remove a file that isn't there.
		_ = os.Remove(curPath)
		c.tmpFiles[i] = nil
	}
	return
}

// dataErrorFloor returns the smallest read start position whose data errors
// are charged to a chunk beginning at start.  Reads starting earlier overlap
// an earlier chunk of the same contig, or the contig's first chunk.
func dataErrorFloor(endpoints []PosType, start PosType) PosType {
	i := sort.Search(len(endpoints), func(i int) bool { return endpoints[i] >= start })
	if i < len(endpoints) && endpoints[i] == start && i%2 == 0 {
		if i == 0 {
			return -1
		}
		return endpoints[i-1]
	}
	return start
}

// worker holds one shard's state.
type worker struct {
	opts    *genotypeOpts
	reader  pileup.Reader
	refSeqs []string
	// contigEndpoints has the endpoints of all requested intervals, keyed by
	// contig.
	contigEndpoints map[string][]PosType
	refIDs          map[string]int
	w               recordio.Writer
	summary         Summary

	piles pileup.Piles
	spans []PosType
	ls    []Likelihoods
}

func (wk *worker) processShard(ctx context.Context, shard interval.Shard) error {
	chunkSize := PosType(wk.opts.chunkSize)
	for _, run := range shard.Runs() {
		refID := wk.refIDs[run.ChrName]
		refSeq := wk.refSeqs[refID]
		us := interval.NewUnionScanner(run.Endpoints)
		for us.Pos() != interval.PosTypeMax {
			limit := us.Pos() + chunkSize
			wk.spans = wk.spans[:0]
			var start, end PosType
			for us.Scan(&start, &end, limit) {
				wk.spans = append(wk.spans, start, end)
			}
			chunkStart := wk.spans[0]
			chunkEnd := wk.spans[len(wk.spans)-1]
			wk.piles.Reset(chunkStart, chunkEnd)
			it := wk.reader.Query(run.ChrName, chunkStart, chunkEnd)
			countFrom := dataErrorFloor(wk.contigEndpoints[run.ChrName], chunkStart)
			if err := wk.opts.filter.Add(&wk.piles, it, refSeq, wk.spans, countFrom, &wk.summary.Stats); err != nil {
				return err
			}
			// A shard's count never exceeds the run's, so stopping early is safe.
			if err := wk.opts.checkDataErrors(wk.summary.Stats.DataErrors); err != nil {
				return fmt.Errorf("shard %d: %v", shard.Index, err)
			}
			for i := 0; i < len(wk.spans); i += 2 {
				for pos := wk.spans[i]; pos < wk.spans[i+1]; pos++ {
					if err := ctx.Err(); err != nil {
						return err
					}
					wk.processSite(run.ChrName, refID, refSeq, pos)
				}
			}
		}
	}
	return nil
}

func (wk *worker) processSite(refName string, refID int, refSeq string, pos PosType) {
	ref := pileup.ASCIIToEnumTable[refSeq[pos]]
	if ref == pileup.BaseX {
		return
	}
	bases := wk.piles.At(pos)
	if len(bases) == 0 {
		return
	}
	wk.summary.Sites++
	wk.ls = aggregate(wk.ls, wk.opts.errModel, bases, wk.opts.nSample)
	s := site{
		refName: refName,
		pos:     pos,
		ref:     ref,
		bases:   bases,
		ls:      wk.ls,
	}
	res := wk.opts.model.call(&s)
	qual := wk.opts.confidence.Qual(res.logPRef)
	depth, rmsMapQ, maxMapQ := siteDepth(wk.ls)
	if !wk.opts.confidence.Retain(depth, qual) {
		return
	}
	call := &SiteCall{
		RefID:        uint32(refID),
		Pos:          uint32(pos),
		Ref:          pileup.EnumToASCIITable[ref],
		Alt:          pileup.EnumToASCIITable[res.alt],
		Qual:         qual,
		Log10PRef:    res.logPRef * math.Log10E,
		AltCount:     res.altCount,
		AlleleFreq:   res.alleleFreq,
		Depth:        depth,
		RMSMapQ:      rmsMapQ,
		MaxMapQ:      maxMapQ,
		NotConverged: res.notConverged,
		Samples:      res.samples,
	}
	wk.summary.Calls++
	if res.notConverged {
		wk.summary.NotConverged++
	}
	wk.w.Append(call)
}

// checkDataErrors fails once n exceeds the configured data error limit.
func (o *genotypeOpts) checkDataErrors(n int) error {
	if max := o.maxDataErrors; max >= 0 && n > max {
		return fmt.Errorf("%d malformed reads, more than the limit of %d", n, max)
	}
	return nil
}

// run processes all shards, and returns the retained calls.  refSeqs is
// indexed by reference ID, and must hold every contig named in entries.
func (o *genotypeOpts) run(ctx context.Context, src pileup.Source, refSeqs []string, entries []interval.Entry) (calls *Calls, err error) {
	header := src.Header()
	calls = &Calls{}
	refIDs := make(map[string]int)
	for _, ref := range header.Refs() {
		refIDs[ref.Name()] = ref.ID()
		calls.refNames = append(calls.refNames, ref.Name())
	}
	contigEndpoints := make(map[string][]PosType)
	for _, e := range entries {
		if _, ok := refIDs[e.ChrName]; !ok {
			return nil, fmt.Errorf("run: contig %s not in the read header", e.ChrName)
		}
		contigEndpoints[e.ChrName] = append(contigEndpoints[e.ChrName], e.Start0, e.End)
	}
	shards := interval.Partition(entries, o.parallelism)
	if len(shards) == 0 {
		log.Printf("run: no sites requested")
		return calls, nil
	}

	if o.tempDir != "" {
		if err = os.MkdirAll(o.tempDir, 0755); err != nil {
			return nil, err
		}
	}
	defer func() {
		if err != nil {
			calls.Close() // nolint: errcheck
			calls = nil
		}
	}()
	calls.tmpFiles = make([]*os.File, len(shards))
	for i := range calls.tmpFiles {
		if calls.tmpFiles[i], err = ioutil.TempFile(o.tempDir, "genotype_tmp"+strconv.Itoa(i)+"_*.rio"); err != nil {
			return
		}
	}

	summaries := make([]Summary, len(shards))
	log.Printf("run: starting main loop (%d shards)", len(shards))
	err = traverse.Each(len(shards), func(jobIdx int) (err error) {
		reader, err := src.Open(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if e := reader.Close(); e != nil && err == nil {
				err = e
			}
		}()
		wk := worker{
			opts:            o,
			reader:          reader,
			refSeqs:         refSeqs,
			contigEndpoints: contigEndpoints,
			refIDs:          refIDs,
			w: recordio.NewWriter(calls.tmpFiles[jobIdx], recordio.WriterOpts{
				Marshal:      marshalSiteCall,
				Transformers: []string{"zstd 1"},
			}),
		}
		if err = wk.processShard(ctx, shards[jobIdx]); err != nil {
			return err
		}
		if err = wk.w.Finish(); err != nil {
			return err
		}
		summaries[jobIdx] = wk.summary
		return nil
	})
	if err != nil {
		return
	}
	for _, s := range summaries {
		calls.Summary.merge(s)
	}
	if err = o.checkDataErrors(calls.Summary.Stats.DataErrors); err != nil {
		return
	}
	log.Printf("run: main loop complete: %d sites examined, %d calls, %d reads, %d malformed",
		calls.Summary.Sites, calls.Summary.Calls, calls.Summary.Stats.Reads, calls.Summary.Stats.DataErrors)
	return calls, nil
}
