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
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestReadOpts(t *testing.T) {
	opts := DefaultOpts
	assert.NoError(t, ReadOpts(strings.NewReader(`
model: JOINT_ESTIMATE
heterozygosity: 0.01
min_mapq: 20
regions:
  - chr1:1-1000
  - chr2
`), &opts))
	expect.EQ(t, opts.Model, "JOINT_ESTIMATE")
	expect.EQ(t, opts.Heterozygosity, 0.01)
	expect.EQ(t, opts.MinMapQ, 20)
	expect.EQ(t, opts.Regions, []string{"chr1:1-1000", "chr2"})
	// Unset keys keep their defaults.
	expect.EQ(t, opts.MinBaseQual, DefaultOpts.MinBaseQual)
	expect.EQ(t, opts.Format, "vcf")

	err := ReadOpts(strings.NewReader("min_map_q: 20\n"), &opts)
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestLoadOpts(t *testing.T) {
	ctx := vcontext.Background()
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(tmpDir, "genotype.yaml")
	assert.NoError(t, ioutil.WriteFile(path, []byte("confidence: 50\nformat: vcf-bgz\n"), 0644))

	assert.NoError(t, os.Setenv("GENOTYPE_FORMAT", "geli"))
	assert.NoError(t, os.Setenv("GENOTYPE_REGIONS", "chr1,chr3"))
	defer func() {
		os.Unsetenv("GENOTYPE_FORMAT")  // nolint: errcheck
		os.Unsetenv("GENOTYPE_REGIONS") // nolint: errcheck
	}()
	opts, err := LoadOpts(ctx, path)
	assert.NoError(t, err)
	expect.EQ(t, opts.Confidence, 50.0)
	expect.EQ(t, opts.Format, "geli")
	expect.EQ(t, opts.Regions, []string{"chr1", "chr3"})
	expect.EQ(t, opts.ChunkSize, DefaultOpts.ChunkSize)

	assert.NoError(t, os.Setenv("GENOTYPE_MIN_MAP_Q", "high"))
	defer os.Unsetenv("GENOTYPE_MIN_MAP_Q") // nolint: errcheck
	_, err = LoadOpts(ctx, "")
	expect.True(t, errors.Is(errors.Invalid, err))

	_, err = LoadOpts(ctx, filepath.Join(tmpDir, "missing.yaml"))
	expect.NotNil(t, err)
}
