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
	"context"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
)

// CalibrationRow is one line of a quality-calibration histogram:
//
//   #PLATFORM	QUAL	OBSERVATIONS	ERRORS
//   ILLUMINA	30	1000000	812
type CalibrationRow struct {
	Platform     string `tsv:"PLATFORM"`
	Qual         int    `tsv:"QUAL"`
	Observations int64  `tsv:"OBSERVATIONS"`
	Errors       int64  `tsv:"ERRORS"`
}

// Calibration maps (platform, reported quality) to an empirical quality.
type Calibration struct {
	// tables maps the uppercase platform name to a reported -> empirical
	// quality table.  Entries without observations keep the reported quality.
	tables map[string]*[nQual]byte
}

func identityQualTable() *[nQual]byte {
	var t [nQual]byte
	for i := range t {
		t[i] = byte(i)
	}
	return &t
}

// empiricalQual returns -10*log10((errors+1)/(observations+2)).
func empiricalQual(observations, errors int64) byte {
	p := float64(errors+1) / float64(observations+2)
	return clampQual(int(math.Round(-10 * math.Log10(p))))
}

// NewCalibration builds a calibration from histogram rows.  Rows for the same
// platform and quality are summed.
func NewCalibration(rows []CalibrationRow) (*Calibration, error) {
	type key struct {
		platform string
		qual     int
	}
	type counts struct{ obs, errs int64 }
	sums := make(map[key]counts)
	for _, row := range rows {
		if row.Qual < 0 || row.Qual >= nQual {
			return nil, fmt.Errorf("NewCalibration: quality %d out of range", row.Qual)
		}
		if row.Observations < 0 || row.Errors < 0 || row.Errors > row.Observations {
			return nil, fmt.Errorf("NewCalibration: bad counts for %s Q%d: %d errors in %d observations",
				row.Platform, row.Qual, row.Errors, row.Observations)
		}
		k := key{strings.ToUpper(row.Platform), row.Qual}
		c := sums[k]
		c.obs += row.Observations
		c.errs += row.Errors
		sums[k] = c
	}
	cal := &Calibration{tables: make(map[string]*[nQual]byte)}
	for k, c := range sums {
		t, ok := cal.tables[k.platform]
		if !ok {
			t = identityQualTable()
			cal.tables[k.platform] = t
		}
		if c.obs > 0 {
			t[k.qual] = empiricalQual(c.obs, c.errs)
		}
	}
	return cal, nil
}

// ReadCalibration parses a calibration histogram in TSV form.  Lines starting
// with '#' are ignored.
func ReadCalibration(r io.Reader) (*Calibration, error) {
	tr := tsv.NewReader(r)
	tr.Comment = '#'
	var rows []CalibrationRow
	for {
		var row CalibrationRow
		if err := tr.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		rows = append(rows, row)
	}
	return NewCalibration(rows)
}

// LoadCalibration reads a calibration histogram from path.
func LoadCalibration(ctx context.Context, path string) (cal *Calibration, err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, in, &err)
	if cal, err = ReadCalibration(in.Reader(ctx)); err != nil {
		err = fmt.Errorf("LoadCalibration %s: %v", path, err)
		return
	}
	log.Printf("LoadCalibration: %d platform(s) from %s", len(cal.tables), path)
	return
}

// Recalibrate returns the empirical quality for a base with the given
// reported quality.  The reported quality is returned unchanged when the
// platform or quality is absent from the histogram.
func (c *Calibration) Recalibrate(platform string, qual byte) byte {
	qual = clampQual(int(qual))
	if c == nil {
		return qual
	}
	t, ok := c.tables[strings.ToUpper(platform)]
	if !ok {
		return qual
	}
	return t[qual]
}
