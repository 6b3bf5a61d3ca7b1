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

func TestUnionScannerChunks(t *testing.T) {
	us := NewUnionScanner([]PosType{5, 17, 20, 25})
	var chunks [][]Entry
	var start, end PosType
	for us.Pos() != PosTypeMax {
		limit := us.Pos() + 8
		var chunk []Entry
		for us.Scan(&start, &end, limit) {
			chunk = append(chunk, Entry{"", start, end})
		}
		chunks = append(chunks, chunk)
	}
	expect.EQ(t, chunks, [][]Entry{
		{{"", 5, 13}},
		{{"", 13, 17}, {"", 20, 21}},
		{{"", 21, 25}},
	})

	empty := NewUnionScanner(nil)
	expect.EQ(t, empty.Pos(), PosType(PosTypeMax))
	expect.False(t, empty.Scan(&start, &end, 100))
}

func TestEndpointIndex(t *testing.T) {
	endpoints := []PosType{5, 17, 20, 25}
	expect.False(t, NewEndpointIndex(4, endpoints).Contained())
	expect.True(t, NewEndpointIndex(5, endpoints).Contained())
	expect.True(t, NewEndpointIndex(16, endpoints).Contained())
	expect.False(t, NewEndpointIndex(17, endpoints).Contained())
	expect.True(t, NewEndpointIndex(30, endpoints).Finished(endpoints))
	expect.False(t, NewEndpointIndex(24, endpoints).Finished(endpoints))
}
