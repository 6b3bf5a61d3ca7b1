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

package interval

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/base/vcontext"
	"github.com/klauspost/compress/gzip"
)

// getTokens identifies up to the first len(tokens) tokens from curLine,
// returning the number of tokens saved.  Any (group of) characters <= ' ' is
// treated as a delimiter.
func getTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

// NewBEDOpts defines behavior of this package's BED-loading function(s).
type NewBEDOpts struct {
	// OneBasedInput interprets the BED interval boundaries as one-based [start,
	// end] instead of the usual zero-based [start, end).
	OneBasedInput bool
}

// Entry represents a single interval, with 0-based coordinates.
type Entry struct {
	ChrName string
	Start0  PosType
	End     PosType
}

// Len returns the number of bases covered by the entry.
func (e Entry) Len() int {
	return int(e.End - e.Start0)
}

func (e Entry) String() string {
	return fmt.Sprintf("%s:%d-%d", e.ChrName, e.Start0+1, e.End)
}

// Contig names a reference sequence and its length.
type Contig struct {
	Name string
	Len  PosType
}

// BEDUnion is a set of genomic positions, stored per chromosome as a sorted
// sequence of interval endpoints: the (0-based) start of interval #k is in
// element [2k] and its end in element [2k+1].  Intervals never touch or
// overlap.
type BEDUnion struct {
	// nameMap is a chromosome-keyed map with disjoint-interval-set values.
	// Always initialized.
	nameMap map[string][]PosType
	// chrNames lists the chromosomes in order of first appearance in the input.
	chrNames []string
}

func initBEDUnion() BEDUnion {
	return BEDUnion{nameMap: make(map[string][]PosType)}
}

// ContainsByName checks whether the (0-based) interval [pos, pos+1) is
// contained within the BEDUnion.
func (u *BEDUnion) ContainsByName(chrName string, pos PosType) bool {
	endpoints := u.nameMap[chrName]
	if endpoints == nil {
		return false
	}
	return NewEndpointIndex(pos, endpoints).Contained()
}

// Endpoints returns the sorted endpoint sequence for the given chromosome, or
// nil if the chromosome is not mentioned.  The caller must not modify it.
func (u *BEDUnion) Endpoints(chrName string) []PosType {
	return u.nameMap[chrName]
}

// ChrNames returns the mentioned chromosomes in order of first appearance.
func (u *BEDUnion) ChrNames() []string {
	return u.chrNames
}

// NumBases returns the total number of positions covered.
func (u *BEDUnion) NumBases() int {
	n := 0
	for _, endpoints := range u.nameMap {
		for i := 0; i < len(endpoints); i += 2 {
			n += int(endpoints[i+1] - endpoints[i])
		}
	}
	return n
}

// Entries enumerates the union in reference-dictionary order, clipping every
// interval to its contig's length.  Chromosomes absent from contigs are an
// error.
func (u *BEDUnion) Entries(contigs []Contig) ([]Entry, error) {
	lens := make(map[string]PosType, len(contigs))
	for _, c := range contigs {
		lens[c.Name] = c.Len
	}
	for _, name := range u.chrNames {
		if _, ok := lens[name]; !ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.Entries: contig %q is not in the reference", name))
		}
	}
	var entries []Entry
	for _, c := range contigs {
		endpoints := u.nameMap[c.Name]
		for i := 0; i < len(endpoints); i += 2 {
			start, end := endpoints[i], endpoints[i+1]
			if start >= c.Len {
				break
			}
			if end > c.Len {
				end = c.Len
			}
			entries = append(entries, Entry{ChrName: c.Name, Start0: start, End: end})
		}
	}
	return entries, nil
}

// WholeGenome returns a BEDUnion covering every position of every contig.
func WholeGenome(contigs []Contig) BEDUnion {
	u := initBEDUnion()
	for _, c := range contigs {
		u.chrNames = append(u.chrNames, c.Name)
		if c.Len > 0 {
			u.nameMap[c.Name] = []PosType{0, c.Len}
		} else {
			u.nameMap[c.Name] = []PosType{}
		}
	}
	return u
}

func scanBEDUnion(scanner *bufio.Scanner, opts NewBEDOpts) (bedUnion BEDUnion, err error) {
	var startSubtract int
	if opts.OneBasedInput {
		startSubtract++
	}
	var tokens [3][]byte
	var entries []Entry
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		curLine := scanner.Bytes()
		nToken := getTokens(tokens[:], curLine)
		if nToken == 0 || curLine[0] == '#' {
			continue
		}
		if nToken != 3 {
			if nToken >= 1 && (string(tokens[0]) == "track" || string(tokens[0]) == "browser") {
				continue
			}
			err = fmt.Errorf("interval.scanBEDUnion: line %d has fewer tokens than expected", lineIdx)
			return
		}
		var parsedStart int
		if parsedStart, err = strconv.Atoi(gunsafe.BytesToString(tokens[1])); err != nil {
			return
		}
		parsedStart -= startSubtract
		if parsedStart < 0 {
			err = fmt.Errorf("interval.scanBEDUnion: negative start coordinate %s on line %d", tokens[1], lineIdx)
			return
		}
		var parsedEnd int
		if parsedEnd, err = strconv.Atoi(gunsafe.BytesToString(tokens[2])); err != nil {
			return
		}
		if (parsedEnd < parsedStart) || (parsedEnd >= PosTypeMax) {
			err = fmt.Errorf("interval.scanBEDUnion: invalid coordinate pair on line %d", lineIdx)
			return
		}
		// tokens[0] refers to bytes on curLine that will be overwritten soon.
		entries = append(entries, Entry{
			ChrName: string(tokens[0]),
			Start0:  PosType(parsedStart),
			End:     PosType(parsedEnd),
		})
	}
	if err = scanner.Err(); err != nil {
		return
	}
	if bedUnion, err = NewBEDUnionFromEntries(entries); err != nil {
		return
	}
	log.Printf("BED loaded, %d base(s) covered.", bedUnion.NumBases())
	return
}

// NewBEDUnion loads just the intervals from an interval-BED, merging
// touching/overlapping intervals and eliminating empty ones in the process.
// The input need not be sorted.
func NewBEDUnion(reader io.Reader, opts NewBEDOpts) (BEDUnion, error) {
	return scanBEDUnion(bufio.NewScanner(reader), opts)
}

// NewBEDUnionFromPath is a wrapper for NewBEDUnion that takes a path instead
// of an io.Reader.  Gzipped BED files are detected by extension.
func NewBEDUnionFromPath(path string, opts NewBEDOpts) (bedUnion BEDUnion, err error) {
	ctx := vcontext.Background()
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return
	}
	defer func() {
		if cerr := infile.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	reader := io.Reader(infile.Reader(ctx))
	switch fileio.DetermineType(path) {
	case fileio.Gzip:
		var gz *gzip.Reader
		if gz, err = gzip.NewReader(reader); err != nil {
			return
		}
		defer gz.Close() // nolint: errcheck
		reader = gz
	}
	return NewBEDUnion(reader, opts)
}

// parsePos parses a 1-based position, ignoring thousands separators.
func parsePos(s string) (int, error) {
	if strings.IndexByte(s, ',') != -1 {
		s = strings.Replace(s, ",", "", -1)
	}
	pos1, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("interval.ParseRegionString: bad position %q", s)
	}
	if pos1 <= 0 || pos1 >= PosTypeMax {
		return 0, fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", s)
	}
	return pos1, nil
}

// ParseRegionString parses a region string of one of the forms
//   [contig ID]:[1-based first pos]-[last pos]
//   [contig ID]:[1-based pos]
//   [contig ID]
// returning a contig ID and 0-based interval boundaries.  Positions may
// contain thousands separators, e.g. "1:10,023,400-10,024,000".  The interval
// [0, PosTypeMax - 1) is returned if there is no positional restriction.
func ParseRegionString(region string) (result Entry, err error) {
	region = strings.TrimSpace(region)
	if len(region) == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty region string")
		return
	}
	colonPos := strings.LastIndexByte(region, ':')
	if colonPos == -1 {
		result.ChrName = region
		result.Start0 = 0
		result.End = PosTypeMax - 1
		return
	}
	if colonPos == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty contig ID")
		return
	}
	result.ChrName = region[0:colonPos]
	rangeStr := region[colonPos+1:]
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos1 int
		if pos1, err = parsePos(rangeStr); err != nil {
			return
		}
		result.Start0 = PosType(pos1 - 1)
		result.End = PosType(pos1)
		return
	}
	var start1, end int
	if start1, err = parsePos(rangeStr[:dashPos]); err != nil {
		return
	}
	if end, err = parsePos(rangeStr[dashPos+1:]); err != nil {
		return
	}
	if end < start1 {
		err = fmt.Errorf("interval.ParseRegionString: invalid range string %v", rangeStr)
		return
	}
	result.Start0 = PosType(start1 - 1)
	result.End = PosType(end)
	return
}

// NewBEDUnionFromRegions parses each region string and merges the results.
func NewBEDUnionFromRegions(regions []string) (BEDUnion, error) {
	entries := make([]Entry, 0, len(regions))
	for _, region := range regions {
		entry, err := ParseRegionString(region)
		if err != nil {
			return BEDUnion{}, errors.E(errors.Invalid, err)
		}
		entries = append(entries, entry)
	}
	return NewBEDUnionFromEntries(entries)
}

// NewBEDUnionFromEntries initializes a BEDUnion from a []Entry, which need
// not be sorted.  Chromosome order is the order of first appearance.
func NewBEDUnionFromEntries(entries []Entry) (bedUnion BEDUnion, err error) {
	bedUnion = initBEDUnion()
	byChr := make(map[string][]Entry)
	for _, entry := range entries {
		if entry.Start0 < 0 {
			err = fmt.Errorf("interval.NewBEDUnionFromEntries: negative start coordinate")
			return
		}
		if (entry.End < entry.Start0) || (entry.End >= PosTypeMax) {
			err = fmt.Errorf("interval.NewBEDUnionFromEntries: invalid coordinate pair [%d, %d)", entry.Start0, entry.End)
			return
		}
		if _, found := byChr[entry.ChrName]; !found {
			bedUnion.chrNames = append(bedUnion.chrNames, entry.ChrName)
			byChr[entry.ChrName] = nil
		}
		if entry.End == entry.Start0 {
			// Distinguish between 'mentioned' chromosomes without any overlapping
			// bases and unmentioned chromosomes.
			continue
		}
		byChr[entry.ChrName] = append(byChr[entry.ChrName], entry)
	}
	for _, chrName := range bedUnion.chrNames {
		chrEntries := byChr[chrName]
		sort.SliceStable(chrEntries, func(i, j int) bool {
			return chrEntries[i].Start0 < chrEntries[j].Start0
		})
		chrIntervals := []PosType{}
		for _, entry := range chrEntries {
			n := len(chrIntervals)
			if n > 0 && entry.Start0 <= chrIntervals[n-1] {
				// Intervals touch or overlap, merge them.
				if entry.End > chrIntervals[n-1] {
					chrIntervals[n-1] = entry.End
				}
				continue
			}
			chrIntervals = append(chrIntervals, entry.Start0, entry.End)
		}
		bedUnion.nameMap[chrName] = chrIntervals
	}
	return
}
