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
	"path/filepath"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

type queryResult struct {
	name   string
	sample int
}

func queryAll(t *testing.T, r Reader, refName string, start, end PosType) []queryResult {
	var got []queryResult
	it := r.Query(refName, start, end)
	for it.Scan() {
		got = append(got, queryResult{it.Record().Name, it.ReadGroup().Sample})
	}
	assert.NoError(t, it.Err())
	assert.NoError(t, it.Close())
	return got
}

func TestMemSourceQuery(t *testing.T) {
	header, refs := newTestHeader(t, "", 100, 100)
	src, err := NewMemSource(header, "s", []*sam.Record{
		newRead(t, "b", refs[1], 0, match(5), "AAAAA", 30, ""),
		newRead(t, "a", refs[0], 50, match(5), "AAAAA", 30, ""),
		newRead(t, "c", refs[1], 4, match(5), "AAAAA", 30, ""),
		newRead(t, "d", refs[1], 10, match(5), "AAAAA", 30, ""),
	})
	assert.NoError(t, err)
	reader, err := src.Open(context.Background())
	assert.NoError(t, err)
	expect.EQ(t, queryAll(t, reader, "chr2", 4, 10), []queryResult{{"b", 0}, {"c", 0}})
	expect.EQ(t, queryAll(t, reader, "chr2", 15, 20), []queryResult(nil))
	expect.EQ(t, queryAll(t, reader, "chr1", 0, 100), []queryResult{{"a", 0}})

	it := reader.Query("chrZ", 0, 10)
	expect.False(t, it.Scan())
	expect.NotNil(t, it.Err())
	assert.NoError(t, reader.Close())
}

func TestMultiSource(t *testing.T) {
	header1, refs1 := newTestHeader(t, "", 100)
	header2, refs2 := newTestHeader(t, "@RG\tID:x\tSM:b\n@RG\tID:y\tSM:a\n", 100)
	src1, err := NewMemSource(header1, "a", []*sam.Record{
		newRead(t, "r1", refs1[0], 10, match(5), "AAAAA", 30, ""),
	})
	assert.NoError(t, err)
	src2, err := NewMemSource(header2, "unused", []*sam.Record{
		newRead(t, "r2", refs2[0], 8, match(5), "AAAAA", 30, "y"),
		newRead(t, "r3", refs2[0], 9, match(5), "AAAAA", 30, "x"),
		newRead(t, "r4", refs2[0], 9, match(5), "AAAAA", 30, "nope"),
	})
	assert.NoError(t, err)
	expect.EQ(t, src2.Samples(), []string{"b", "a"})

	multi, err := NewMultiSource(src1, src2)
	assert.NoError(t, err)
	expect.EQ(t, multi.Samples(), []string{"a", "b"})
	reader, err := multi.Open(context.Background())
	assert.NoError(t, err)
	expect.EQ(t, queryAll(t, reader, "chr1", 10, 11), []queryResult{
		{"r1", 0}, {"r2", 0}, {"r3", 1}, {"r4", -1},
	})
	assert.NoError(t, reader.Close())

	single, err := NewMultiSource(src1)
	assert.NoError(t, err)
	expect.True(t, single == src1)

	header3, _ := newTestHeader(t, "", 99)
	src3, err := NewMemSource(header3, "c", nil)
	assert.NoError(t, err)
	_, err = NewMultiSource(src1, src3)
	expect.True(t, errors.Is(errors.Invalid, err))
	_, err = NewMultiSource()
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestBAMSource(t *testing.T) {
	ctx := vcontext.Background()
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)

	header, refs := newTestHeader(t, "", 1000, 500)
	recs := []*sam.Record{
		newRead(t, "a", refs[0], 5, match(10), "ACGTACGTAC", 30, ""),
		newRead(t, "b", refs[0], 12, match(10), "ACGTACGTAC", 30, ""),
		newRead(t, "c", refs[0], 40, match(10), "ACGTACGTAC", 30, ""),
		newRead(t, "d", refs[1], 0, match(10), "ACGTACGTAC", 30, ""),
	}
	bampath := filepath.Join(tmpdir, "NA12878.bam")
	out, err := file.Create(ctx, bampath)
	assert.NoError(t, err)
	w, err := bam.NewWriter(out.Writer(ctx), header, 1)
	assert.NoError(t, err)
	for _, r := range recs {
		assert.NoError(t, w.Write(r))
	}
	assert.NoError(t, w.Close())
	assert.NoError(t, out.Close(ctx))

	src, err := NewBAMSource(ctx, bampath, "")
	assert.NoError(t, err)
	expect.EQ(t, src.Samples(), []string{"NA12878"})
	expect.EQ(t, src.Index, "")
	expect.EQ(t, len(src.Header().Refs()), 2)

	reader, err := src.Open(ctx)
	assert.NoError(t, err)
	expect.EQ(t, queryAll(t, reader, "chr1", 14, 16), []queryResult{{"a", 0}, {"b", 0}})
	expect.EQ(t, queryAll(t, reader, "chr1", 30, 45), []queryResult{{"c", 0}})
	expect.EQ(t, queryAll(t, reader, "chr2", 0, 500), []queryResult{{"d", 0}})
	expect.EQ(t, queryAll(t, reader, "chr1", 100, 200), []queryResult(nil))
	it := reader.Query("chr9", 0, 10)
	expect.False(t, it.Scan())
	expect.NotNil(t, it.Err())
	assert.NoError(t, reader.Close())

	_, err = NewBAMSource(ctx, filepath.Join(tmpdir, "missing.bam"), "")
	expect.NotNil(t, err)
}

func TestBAMReaderCloseReportsFirstError(t *testing.T) {
	r := &bamReader{}
	r.err.Set(nil)
	r.err.Set(errors.New("truncated block"))
	r.err.Set(errors.New("bad record"))
	err := r.Close()
	assert.NotNil(t, err)
	expect.EQ(t, err.Error(), "truncated block")
}

func TestDefaultSampleName(t *testing.T) {
	expect.EQ(t, DefaultSampleName("/data/NA12878.chr20.bam"), "NA12878.chr20")
	expect.EQ(t, DefaultSampleName("s3://bucket/x.bam"), "x")
}
