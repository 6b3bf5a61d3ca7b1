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

package geli_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/grailbio/genotyper/encoding/geli"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func testRecord() geli.Record {
	return geli.Record{
		Chrom:    "chr1",
		Pos:      1000,
		Ref:      'A',
		NumReads: 12,
		MaxMapQ:  60,
		// AG best, AA second.
		Likelihoods: [geli.NGenotype]float64{-3.5, -9, -1.25, -9, -20, -20, -20, -8, -20, -20},
	}
}

func TestBest(t *testing.T) {
	r := testRecord()
	best, btr, btnb := r.Best()
	expect.EQ(t, geli.GenotypeNames[best], "AG")
	expect.EQ(t, btr, 2.25)
	expect.EQ(t, btnb, 2.25)

	// Ties go to the lower index.
	r.Likelihoods = [geli.NGenotype]float64{-2, -1, -1, -5, -5, -5, -5, -5, -5, -5}
	best, btr, btnb = r.Best()
	expect.EQ(t, best, 1)
	expect.EQ(t, btr, 1.0)
	expect.EQ(t, btnb, 0.0)
}

func TestTextWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := geli.NewTextWriter(&buf)
	assert.NoError(t, err)
	r := testRecord()
	assert.NoError(t, w.Write(&r))
	assert.NoError(t, w.Flush())
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	assert.EQ(t, len(lines), 2)
	expect.EQ(t, lines[0], "#Sequence\tPosition\tReferenceBase\tNumReads\tMaxMappingQuality\tBestGenotype\tBtrLod\tBtnbLod\t"+
		"AA\tAC\tAG\tAT\tCC\tCG\tCT\tGG\tGT\tTT")
	expect.EQ(t, lines[1], "chr1\t1000\tA\t12\t60\tAG\t2.25\t2.25\t"+
		"-3.50\t-9.00\t-1.25\t-9.00\t-20.00\t-20.00\t-20.00\t-8.00\t-20.00\t-20.00")
}

func TestBinaryRoundTrip(t *testing.T) {
	refs := []geli.Reference{{"chr1", 5000}, {"chr2", 300}}
	var buf bytes.Buffer
	w, err := geli.NewBinaryWriter(&buf, refs, 1)
	assert.NoError(t, err)
	r1 := testRecord()
	r2 := testRecord()
	r2.Chrom = "chr2"
	r2.Pos = 7
	r2.Ref = 'T'
	assert.NoError(t, w.Write(&r1))
	assert.NoError(t, w.Write(&r2))
	r3 := testRecord()
	r3.Chrom = "chrUn"
	expect.NotNil(t, w.Write(&r3))
	assert.NoError(t, w.Close())

	rd, err := geli.NewBinaryReader(&buf)
	assert.NoError(t, err)
	expect.EQ(t, rd.Refs(), refs)
	for _, want := range []geli.Record{r1, r2} {
		got, err := rd.Read()
		assert.NoError(t, err)
		// The likelihoods are stored as float32; these values are exact.
		expect.EQ(t, got, want)
	}
	_, err = rd.Read()
	expect.EQ(t, err, io.EOF)
}

func TestBinaryHeader(t *testing.T) {
	var buf bytes.Buffer
	w, err := geli.NewBinaryWriter(&buf, nil, 1)
	assert.NoError(t, err)
	assert.NoError(t, w.Close())
	rd, err := geli.NewBinaryReader(bytes.NewReader(buf.Bytes()))
	assert.NoError(t, err)
	expect.EQ(t, len(rd.Refs()), 0)
	_, err = rd.Read()
	expect.EQ(t, err, io.EOF)

	buf.Reset()
	bw := bgzf.NewWriter(&buf, 1)
	_, err = bw.Write([]byte("GLF\x03\x00\x00\x00\x00"))
	assert.NoError(t, err)
	assert.NoError(t, bw.Close())
	_, err = geli.NewBinaryReader(&buf)
	expect.NotNil(t, err)

	_, err = geli.NewBinaryReader(strings.NewReader("not bgzf"))
	expect.NotNil(t, err)
}
