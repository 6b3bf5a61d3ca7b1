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

// Shard is a contiguous run of the requested intervals, in reference order.
type Shard struct {
	// Index is the shard's position in the partition.
	Index   int
	Entries []Entry
}

// NumBases returns the number of positions in the shard.
func (s Shard) NumBases() int {
	n := 0
	for _, e := range s.Entries {
		n += e.Len()
	}
	return n
}

// ChrRun is the part of a shard on a single chromosome, expressed as a sorted
// endpoint sequence suitable for NewUnionScanner.
type ChrRun struct {
	ChrName   string
	Endpoints []PosType
}

// Runs groups the shard's entries by chromosome, preserving order.
func (s Shard) Runs() []ChrRun {
	var runs []ChrRun
	for _, e := range s.Entries {
		if e.End == e.Start0 {
			continue
		}
		if n := len(runs); n > 0 && runs[n-1].ChrName == e.ChrName {
			runs[n-1].Endpoints = append(runs[n-1].Endpoints, e.Start0, e.End)
			continue
		}
		runs = append(runs, ChrRun{ChrName: e.ChrName, Endpoints: []PosType{e.Start0, e.End}})
	}
	return runs
}

// Partition splits entries, which must be in reference order, into at most
// nShard shards.  Shard i covers bases [i*total/nShard, (i+1)*total/nShard)
// of the concatenated entries, so intervals are split at shard boundaries
// and every base lands in exactly one shard.  Fewer than nShard shards are
// returned when there are fewer bases than shards.
func Partition(entries []Entry, nShard int) []Shard {
	total := 0
	for _, e := range entries {
		total += e.Len()
	}
	if total == 0 {
		return nil
	}
	if nShard < 1 {
		nShard = 1
	}
	if nShard > total {
		nShard = total
	}
	shards := make([]Shard, nShard)
	entryIdx := 0
	// offset is the number of bases of entries[entryIdx] already assigned.
	offset := 0
	for shardIdx := range shards {
		shards[shardIdx].Index = shardIdx
		need := (shardIdx+1)*total/nShard - shardIdx*total/nShard
		for need > 0 {
			e := entries[entryIdx]
			avail := e.Len() - offset
			if avail == 0 {
				entryIdx++
				offset = 0
				continue
			}
			take := avail
			if take > need {
				take = need
			}
			start := e.Start0 + PosType(offset)
			shards[shardIdx].Entries = append(shards[shardIdx].Entries, Entry{
				ChrName: e.ChrName,
				Start0:  start,
				End:     start + PosType(take),
			})
			offset += take
			need -= take
		}
	}
	return shards
}
