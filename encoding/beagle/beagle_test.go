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

package beagle_test

import (
	"bytes"
	"testing"

	"github.com/grailbio/genotyper/encoding/beagle"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	p := beagle.Normalize([3]float64{0, -1, -2})
	require.InDelta(t, 1/1.11, p[0], 1e-12)
	require.InDelta(t, 0.1/1.11, p[1], 1e-12)
	require.InDelta(t, 0.01/1.11, p[2], 1e-12)

	p = beagle.Normalize([3]float64{0, 0, 0})
	for _, v := range p {
		require.InDelta(t, 1.0/3, v, 1e-12)
	}
	// Very small likelihoods don't underflow.
	p = beagle.Normalize([3]float64{-1000, -1001, -2000})
	require.InDelta(t, 1/1.1, p[0], 1e-12)
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := beagle.NewWriter(&buf, []string{"S1", "S2"})
	assert.NoError(t, err)
	assert.NoError(t, w.Write(&beagle.Record{
		Marker:           "chr1:100",
		AlleleA:          'A',
		AlleleB:          'G',
		Log10Likelihoods: [][3]float64{{0, -1, -2}, {0, 0, 0}},
	}))
	expect.NotNil(t, w.Write(&beagle.Record{Marker: "chr1:101", AlleleA: 'C', AlleleB: 'T'}))
	assert.NoError(t, w.Flush())
	expect.EQ(t, buf.String(),
		"marker\talleleA\talleleB\tS1\tS1\tS1\tS2\tS2\tS2\n"+
			"chr1:100\tA\tG\t0.9009\t0.0901\t0.0090\t0.3333\t0.3333\t0.3333\n")
}
