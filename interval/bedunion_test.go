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
	"bytes"
	"compress/gzip"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

const testBED = `track name=targets
chr2	100	200
chr1	2488104	2488172
chr1	2489165	2489273
chr1	2489200	2489300
chr1	2489300	2489400
chr2	50	60
chr2	150	300
chr3	10	10
`

func TestLoadBEDIntervals(t *testing.T) {
	u, err := NewBEDUnion(strings.NewReader(testBED), NewBEDOpts{})
	assert.NoError(t, err)
	expect.EQ(t, u.ChrNames(), []string{"chr2", "chr1", "chr3"})
	expect.EQ(t, u.Endpoints("chr1"), []PosType{2488104, 2488172, 2489165, 2489400})
	expect.EQ(t, u.Endpoints("chr2"), []PosType{50, 60, 100, 300})
	expect.EQ(t, u.Endpoints("chr3"), []PosType{})
	expect.True(t, u.Endpoints("chr4") == nil)
	expect.EQ(t, u.NumBases(), 68+235+10+200)

	expect.True(t, u.ContainsByName("chr1", 2488104))
	expect.False(t, u.ContainsByName("chr1", 2488172))
	expect.True(t, u.ContainsByName("chr2", 299))
	expect.False(t, u.ContainsByName("chr2", 99))
	expect.False(t, u.ContainsByName("chr3", 10))
}

func TestLoadOneBasedBED(t *testing.T) {
	u, err := NewBEDUnion(strings.NewReader("chr1\t1\t10\n"), NewBEDOpts{OneBasedInput: true})
	assert.NoError(t, err)
	expect.EQ(t, u.Endpoints("chr1"), []PosType{0, 10})

	_, err = NewBEDUnion(strings.NewReader("chr1\t10\n"), NewBEDOpts{})
	expect.NotNil(t, err)
	_, err = NewBEDUnion(strings.NewReader("chr1\t10\t5\n"), NewBEDOpts{})
	expect.NotNil(t, err)
}

func TestLoadBEDFromPath(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)

	plainPath := filepath.Join(tmpdir, "targets.bed")
	assert.NoError(t, ioutil.WriteFile(plainPath, []byte(testBED), 0644))
	gzPath := filepath.Join(tmpdir, "targets.bed.gz")
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(testBED))
	assert.NoError(t, err)
	assert.NoError(t, gz.Close())
	assert.NoError(t, ioutil.WriteFile(gzPath, buf.Bytes(), 0644))

	for _, path := range []string{plainPath, gzPath} {
		u, err := NewBEDUnionFromPath(path, NewBEDOpts{})
		assert.NoError(t, err, "path=%s", path)
		expect.EQ(t, u.Endpoints("chr2"), []PosType{50, 60, 100, 300})
	}
}

func TestParseRegionString(t *testing.T) {
	tests := []struct {
		region  string
		chrName string
		start0  PosType
		end     PosType
	}{
		{"chr1:1-1000", "chr1", 0, 1000},
		{"chr1:1000", "chr1", 999, 1000},
		{"chr1", "chr1", 0, PosTypeMax - 1},
		{"1:10,023,400-10,024,000", "1", 10023399, 10024000},
		{" 1:1,000 ", "1", 999, 1000},
		{"HLA-A*01:01:01:01:5-6", "HLA-A*01:01:01:01", 4, 6},
	}
	for _, tt := range tests {
		result, err := ParseRegionString(tt.region)
		assert.NoError(t, err, "region=%s", tt.region)
		expect.EQ(t, result.ChrName, tt.chrName)
		expect.EQ(t, result.Start0, tt.start0)
		expect.EQ(t, result.End, tt.end)
	}

	for _, bad := range []string{"", ":5", "chr1:0", "chr1:10-5", "chr1:x-5", "chr1:5-"} {
		_, err := ParseRegionString(bad)
		expect.NotNil(t, err, "region=%q", bad)
	}
}

func TestRegionsAndEntries(t *testing.T) {
	u, err := NewBEDUnionFromRegions([]string{"chr2:1-10", "chr1:5,001-5,010", "chr1:5,005-5,020", "chr2"})
	assert.NoError(t, err)
	entries, err := u.Entries([]Contig{{"chr1", 10000}, {"chr2", 300}, {"chr3", 50}})
	assert.NoError(t, err)
	expect.EQ(t, entries, []Entry{
		{"chr1", 5000, 5020},
		{"chr2", 0, 300},
	})

	_, err = u.Entries([]Contig{{"chr1", 10000}})
	expect.True(t, errors.Is(errors.Invalid, err))

	_, err = NewBEDUnionFromRegions([]string{"chr1:0-5"})
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestWholeGenome(t *testing.T) {
	u := WholeGenome([]Contig{{"a", 5}, {"b", 0}, {"c", 3}})
	entries, err := u.Entries([]Contig{{"a", 5}, {"b", 0}, {"c", 3}})
	assert.NoError(t, err)
	expect.EQ(t, entries, []Entry{{"a", 0, 5}, {"c", 0, 3}})
	expect.EQ(t, u.NumBases(), 8)
}
