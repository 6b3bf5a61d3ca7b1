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
	"testing"

	"github.com/grailbio/testutil/expect"
)

func TestPartitionCoversOnce(t *testing.T) {
	entries := []Entry{
		{"chr1", 0, 10},
		{"chr1", 20, 23},
		{"chr2", 100, 117},
	}
	for nShard := 1; nShard <= 40; nShard++ {
		shards := Partition(entries, nShard)
		expectShards := nShard
		if expectShards > 30 {
			expectShards = 30
		}
		expect.EQ(t, len(shards), expectShards)

		covered := map[Entry]int{}
		minBases, maxBases := 1<<30, 0
		for i, s := range shards {
			expect.EQ(t, s.Index, i)
			n := s.NumBases()
			if n < minBases {
				minBases = n
			}
			if n > maxBases {
				maxBases = n
			}
			for _, e := range s.Entries {
				for pos := e.Start0; pos < e.End; pos++ {
					covered[Entry{e.ChrName, pos, pos + 1}]++
				}
			}
		}
		expect.LE(t, maxBases-minBases, 1)
		expect.EQ(t, len(covered), 30)
		for k, v := range covered {
			expect.EQ(t, v, 1, "site %v nShard %d", k, nShard)
		}
	}
}

func TestPartitionOrder(t *testing.T) {
	entries := []Entry{{"chr1", 0, 10}, {"chr2", 0, 10}}
	shards := Partition(entries, 3)
	expect.EQ(t, shards[0].Entries, []Entry{{"chr1", 0, 6}})
	expect.EQ(t, shards[1].Entries, []Entry{{"chr1", 6, 10}, {"chr2", 0, 3}})
	expect.EQ(t, shards[2].Entries, []Entry{{"chr2", 3, 10}})
	expect.EQ(t, shards[1].Runs(), []ChrRun{
		{"chr1", []PosType{6, 10}},
		{"chr2", []PosType{0, 3}},
	})
	expect.True(t, Partition(nil, 4) == nil)
}
