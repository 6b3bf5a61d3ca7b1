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

package vcf_test

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/genotyper/encoding/vcf"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func TestFlagCategory(t *testing.T) {
	_, err := vcf.NewHeaderLine(vcf.Format, "XF", vcf.FixedCount(0), vcf.Flag, "flag", vcf.V4_0)
	require.Error(t, err)
	expect.True(t, errors.Is(errors.Invalid, err))

	l, err := vcf.NewHeaderLine(vcf.Info, "XF", vcf.FixedCount(0), vcf.Flag, "flag", vcf.V4_0)
	assert.NoError(t, err)
	expect.EQ(t, l.Name(), "XF")
	expect.EQ(t, l.Category(), vcf.Info)
	expect.EQ(t, l.Type(), vcf.Flag)

	_, err = vcf.NewHeaderLine(vcf.Info, "XF", vcf.FixedCount(1), vcf.Flag, "flag", vcf.V4_0)
	expect.NotNil(t, err)
}

func TestHeaderLineValidation(t *testing.T) {
	tests := []struct {
		category vcf.Category
		name     string
		count    vcf.Count
		typ      vcf.Type
		version  vcf.Version
		ok       bool
	}{
		{vcf.Info, "AC", vcf.PerAltAllele, vcf.Integer, vcf.V4_0, true},
		{vcf.Info, "AC", vcf.PerAltAllele, vcf.Integer, vcf.V3_3, false},
		{vcf.Format, "GL", vcf.PerGenotype, vcf.Float, vcf.V4_0, true},
		{vcf.Format, "GL", vcf.PerGenotype, vcf.Float, vcf.V3_3, false},
		{vcf.Format, "GL", vcf.Variable, vcf.Float, vcf.V3_3, true},
		{vcf.Info, "1000G", vcf.FixedCount(0), vcf.Flag, vcf.V4_0, false},
		{vcf.Info, "", vcf.FixedCount(1), vcf.Integer, vcf.V4_0, false},
		{vcf.Info, "DB", vcf.FixedCount(0), vcf.Flag, vcf.V3_3, true},
		{vcf.Format, "GT", vcf.FixedCount(1), vcf.String, vcf.V3_3, true},
		{vcf.Info, "DP", vcf.FixedCount(-1), vcf.Integer, vcf.V4_0, false},
	}
	for _, test := range tests {
		_, err := vcf.NewHeaderLine(test.category, test.name, test.count, test.typ, "desc", test.version)
		expect.EQ(t, err == nil, test.ok, fmt.Sprintf("%+v: %v", test, err))
	}
}

func TestHeaderLineRoundTrip(t *testing.T) {
	for _, version := range []vcf.Version{vcf.V3_3, vcf.V4_0} {
		lines := []vcf.HeaderLine{
			vcf.MustHeaderLine(vcf.Info, "DP", vcf.FixedCount(1), vcf.Integer, "Total Depth", version),
			vcf.MustHeaderLine(vcf.Info, "EMNC", vcf.FixedCount(0), vcf.Flag, "EM did not converge", version),
			vcf.MustHeaderLine(vcf.Info, "DS", vcf.Variable, vcf.String, `Comma, "quoted" text`, version),
			vcf.MustHeaderLine(vcf.Format, "GQ", vcf.FixedCount(1), vcf.Integer, "Genotype Quality", version),
		}
		if version == vcf.V4_0 {
			lines = append(lines,
				vcf.MustHeaderLine(vcf.Info, "AF", vcf.PerAltAllele, vcf.Float, "Allele Frequency", version),
				vcf.MustHeaderLine(vcf.Format, "GL", vcf.PerGenotype, vcf.Float, "Genotype Likelihoods", version))
		}
		for _, l := range lines {
			got, err := vcf.ParseHeaderLine("##"+l.String(), version)
			assert.NoError(t, err, l.String())
			expect.EQ(t, got, l)
		}
	}
	expect.EQ(t,
		vcf.MustHeaderLine(vcf.Info, "DP", vcf.FixedCount(1), vcf.Integer, "Total Depth", vcf.V4_0).String(),
		`INFO=<ID=DP,Number=1,Type=Integer,Description="Total Depth">`)
	expect.EQ(t,
		vcf.MustHeaderLine(vcf.Info, "DP", vcf.FixedCount(1), vcf.Integer, "Total Depth", vcf.V3_3).String(),
		`INFO=DP,1,Integer,"Total Depth"`)

	_, err := vcf.ParseHeaderLine(`##FORMAT=<ID=FT,Number=0,Type=Flag,Description="x">`, vcf.V4_0)
	expect.NotNil(t, err)
}

func newTestHeader(t *testing.T) *vcf.Header {
	h := vcf.NewHeader(vcf.V4_0)
	assert.NoError(t, h.AddMeta("source", "test"))
	assert.NoError(t, h.Add(vcf.MustHeaderLine(vcf.Info, "DP", vcf.FixedCount(1), vcf.Integer, "Total Depth", vcf.V4_0)))
	assert.NoError(t, h.Add(vcf.MustHeaderLine(vcf.Info, "EMNC", vcf.FixedCount(0), vcf.Flag, "Not converged", vcf.V4_0)))
	assert.NoError(t, h.Add(vcf.MustHeaderLine(vcf.Format, "GT", vcf.FixedCount(1), vcf.String, "Genotype", vcf.V4_0)))
	assert.NoError(t, h.Add(vcf.MustHeaderLine(vcf.Format, "GQ", vcf.FixedCount(1), vcf.Integer, "Genotype Quality", vcf.V4_0)))
	h.SetSamples([]string{"NA1", "NA2"})
	return h
}

func TestHeaderRoundTrip(t *testing.T) {
	h := newTestHeader(t)
	var buf bytes.Buffer
	assert.NoError(t, h.Write(&buf))
	expect.EQ(t, buf.String(), `##fileformat=VCFv4.0
##source=test
##INFO=<ID=DP,Number=1,Type=Integer,Description="Total Depth">
##INFO=<ID=EMNC,Number=0,Type=Flag,Description="Not converged">
##FORMAT=<ID=GT,Number=1,Type=String,Description="Genotype">
##FORMAT=<ID=GQ,Number=1,Type=Integer,Description="Genotype Quality">
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO	FORMAT	NA1	NA2
`)
	got, err := vcf.ParseHeader(bufio.NewReader(&buf))
	assert.NoError(t, err)
	expect.EQ(t, got.Version(), vcf.V4_0)
	expect.EQ(t, got.Meta(), h.Meta())
	expect.EQ(t, got.Lines(), h.Lines())
	expect.EQ(t, got.Samples(), h.Samples())
}

func TestHeaderAdd(t *testing.T) {
	h := newTestHeader(t)
	expect.NotNil(t, h.Add(vcf.MustHeaderLine(vcf.Info, "DP", vcf.FixedCount(1), vcf.Integer, "again", vcf.V4_0)))
	// Same name in the other category is fine.
	expect.NoError(t, h.Add(vcf.MustHeaderLine(vcf.Format, "DP", vcf.FixedCount(1), vcf.Integer, "Depth", vcf.V4_0)))
	expect.NotNil(t, h.Add(vcf.MustHeaderLine(vcf.Info, "NS", vcf.FixedCount(1), vcf.Integer, "x", vcf.V3_3)))
	_, ok := h.Lookup(vcf.Format, "GQ")
	expect.True(t, ok)
	_, ok = h.Lookup(vcf.Info, "GQ")
	expect.False(t, ok)
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := vcf.NewWriter(&buf, newTestHeader(t))
	assert.NoError(t, err)
	buf.Reset()
	assert.NoError(t, w.Write(&vcf.Record{
		Chrom:   "chr1",
		Pos:     100,
		Ref:     "A",
		Alt:     []string{"G"},
		Qual:    45.678,
		Info:    []vcf.InfoField{{"DP", "20"}, {"EMNC", ""}},
		Format:  []string{"GT", "GQ"},
		Samples: [][]string{{"0/1", "45"}, {"./.", "."}},
	}))
	assert.NoError(t, w.Write(&vcf.Record{
		Chrom:   "chr1",
		Pos:     101,
		Ref:     "C",
		Qual:    math.NaN(),
		Format:  []string{"GT"},
		Samples: [][]string{{"0/0"}, {"0/0"}},
	}))
	assert.NoError(t, w.Flush())
	expect.EQ(t, buf.String(),
		"chr1\t100\t.\tA\tG\t45.68\t.\tDP=20;EMNC\tGT:GQ\t0/1:45\t./.:.\n"+
			"chr1\t101\t.\tC\t.\t.\t.\t.\tGT\t0/0\t0/0\n")

	expect.NotNil(t, w.Write(&vcf.Record{Chrom: "chr1", Pos: 1, Ref: "A", Info: []vcf.InfoField{{"AC", "1"}},
		Samples: [][]string{nil, nil}}))
	expect.NotNil(t, w.Write(&vcf.Record{Chrom: "chr1", Pos: 1, Ref: "A", Format: []string{"GL"},
		Samples: [][]string{{"0"}, {"0"}}}))
	expect.NotNil(t, w.Write(&vcf.Record{Chrom: "chr1", Pos: 1, Ref: "A", Info: []vcf.InfoField{{"EMNC", "1"}},
		Samples: [][]string{nil, nil}}))
	expect.NotNil(t, w.Write(&vcf.Record{Chrom: "chr1", Pos: 1, Ref: "A"}))
}

func TestFormatFloat(t *testing.T) {
	expect.EQ(t, vcf.FormatFloat(3000, 2), "3000")
	expect.EQ(t, vcf.FormatFloat(0.5, 3), "0.5")
	expect.EQ(t, vcf.FormatFloat(-0.0001, 2), "0")
	expect.EQ(t, vcf.FormatFloat(-1.25, 2), "-1.25")
	expect.True(t, strings.HasPrefix(vcf.FormatFloat(1.0/3, 4), "0.333"))
}
