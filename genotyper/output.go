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
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/genotyper/encoding/beagle"
	"github.com/grailbio/genotyper/encoding/geli"
	"github.com/grailbio/genotyper/encoding/glf"
	"github.com/grailbio/genotyper/encoding/vcf"
	"github.com/grailbio/genotyper/pileup"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/sam"
	"github.com/klauspost/compress/gzip"
)

type outputFormat int

const (
	formatVCF outputFormat = iota
	formatVCFBgz
	formatGELI
	formatGELIBinary
	formatGLF
)

var outputFormatNames = [...]string{"vcf", "vcf-bgz", "geli", "geli-binary", "glf"}

func parseOutputFormat(s string) (outputFormat, error) {
	for i, name := range outputFormatNames {
		if s == name {
			return outputFormat(i), nil
		}
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("unrecognized output format %q; supported formats are %s",
		s, strings.Join(outputFormatNames[:], ", ")))
}

func (f outputFormat) String() string {
	return outputFormatNames[f]
}

// singleSample returns whether the format holds exactly one sample.
func (f outputFormat) singleSample() bool {
	return f == formatGELI || f == formatGELIBinary || f == formatGLF
}

// maxVCFGQ caps the GQ values written to VCF.
const maxVCFGQ = 99

// callWriter serializes replayed calls.
type callWriter interface {
	write(c *SiteCall) error
	// close flushes the writer.  It does not close the underlying file.
	close() error
}

// output holds everything needed to serialize a run's calls.  It is built
// before any shard runs, so that an invalid header fails the run early.
type output struct {
	opts      *genotypeOpts
	refs      []*sam.Reference
	samples   []string
	vcfHeader *vcf.Header
}

func (o *genotypeOpts) newOutput(src pileup.Source) (*output, error) {
	out := &output{
		opts:    o,
		refs:    src.Header().Refs(),
		samples: src.Samples(),
	}
	if o.format == formatVCF || o.format == formatVCFBgz {
		var err error
		if out.vcfHeader, err = newVCFHeader(o.reference, out.samples, o.model.Kind); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type vcfLineSpec struct {
	category    vcf.Category
	name        string
	count       vcf.Count
	typ         vcf.Type
	description string
}

var (
	vcfInfoLines = []vcfLineSpec{
		{vcf.Info, "AC", vcf.PerAltAllele, vcf.Integer, "Allele count in genotypes, for each ALT allele, in the same order as listed"},
		{vcf.Info, "AF", vcf.PerAltAllele, vcf.Float, "Allele Frequency, for each ALT allele, in the same order as listed"},
		{vcf.Info, "AN", vcf.FixedCount(1), vcf.Integer, "Total number of alleles in called genotypes"},
		{vcf.Info, "DP", vcf.FixedCount(1), vcf.Integer, "Total Depth"},
	}
	vcfEMLines = []vcfLineSpec{
		{vcf.Info, "EMNC", vcf.FixedCount(0), vcf.Flag, "The EM allele frequency estimate did not converge"},
	}
	vcfFormatLines = []vcfLineSpec{
		{vcf.Format, "GT", vcf.FixedCount(1), vcf.String, "Genotype"},
		{vcf.Format, "GQ", vcf.FixedCount(1), vcf.Integer, "Genotype Quality"},
		{vcf.Format, "DP", vcf.FixedCount(1), vcf.Integer, "Read Depth"},
		{vcf.Format, "GL", vcf.PerGenotype, vcf.Float, "Log10 genotype likelihoods for hom-ref, het and hom-alt"},
	}
	vcfFormatKeys = []string{"GT", "GQ", "DP", "GL"}
)

// newVCFHeader builds the header of a run.  Pooled runs have no sample
// columns.
func newVCFHeader(reference string, samples []string, kind ModelKind) (*vcf.Header, error) {
	h := vcf.NewHeader(vcf.V4_0)
	if err := h.AddMeta("source", "bio-genotype"); err != nil {
		return nil, err
	}
	if reference != "" {
		if err := h.AddMeta("reference", reference); err != nil {
			return nil, err
		}
	}
	specs := vcfInfoLines
	if kind == PointEstimate {
		specs = append(specs[:len(specs):len(specs)], vcfEMLines...)
	}
	if kind != Pooled {
		specs = append(specs[:len(specs):len(specs)], vcfFormatLines...)
	}
	for _, s := range specs {
		l, err := vcf.NewHeaderLine(s.category, s.name, s.count, s.typ, s.description, h.Version())
		if err != nil {
			return nil, err
		}
		if err := h.Add(l); err != nil {
			return nil, err
		}
	}
	if kind != Pooled {
		h.SetSamples(samples)
	}
	return h, nil
}

type vcfCallWriter struct {
	w        *vcf.Writer
	bgzf     *bgzf.Writer
	refNames []string
	kind     ModelKind
	poolSize int
	alt      [1]string
	rec      vcf.Record
}

func (out *output) newVCFCallWriter(w io.Writer, refNames []string) (*vcfCallWriter, error) {
	cw := &vcfCallWriter{
		refNames: refNames,
		kind:     out.opts.model.Kind,
		poolSize: out.opts.model.PoolSize,
	}
	if out.opts.format == formatVCFBgz {
		cw.bgzf = bgzf.NewWriter(w, out.opts.parallelism)
		w = cw.bgzf
	}
	var err error
	if cw.w, err = vcf.NewWriter(w, out.vcfHeader); err != nil {
		return nil, err
	}
	return cw, nil
}

func genotypeString(x, y int) string {
	if x < 0 {
		return "./."
	}
	return strconv.Itoa(x) + "/" + strconv.Itoa(y)
}

func (cw *vcfCallWriter) write(c *SiteCall) error {
	r := &cw.rec
	r.Chrom = cw.refNames[c.RefID]
	r.Pos = int(c.Pos) + 1
	r.Ref = string(c.Ref)
	cw.alt[0] = string(c.Alt)
	r.Alt = cw.alt[:]
	r.Qual = c.Qual
	an := c.NAlleles()
	if cw.kind == Pooled {
		an = cw.poolSize
	}
	r.Info = append(r.Info[:0],
		vcf.InfoField{Key: "AC", Value: strconv.Itoa(c.AltCount)},
		vcf.InfoField{Key: "AF", Value: vcf.FormatFloat(c.AlleleFreq, 4)},
		vcf.InfoField{Key: "AN", Value: strconv.Itoa(an)},
		vcf.InfoField{Key: "DP", Value: strconv.FormatUint(uint64(c.Depth), 10)})
	if c.NotConverged {
		r.Info = append(r.Info, vcf.InfoField{Key: "EMNC"})
	}
	r.Format = nil
	r.Samples = r.Samples[:0]
	if cw.kind != Pooled {
		r.Format = vcfFormatKeys
		for i := range c.Samples {
			s := &c.Samples[i]
			values := []string{genotypeString(c.AlleleIndices(i)), ".", strconv.FormatUint(uint64(s.Depth), 10), "."}
			if s.Genotype != NoCall {
				values[1] = strconv.Itoa(int(math.Round(math.Min(s.GQ, maxVCFGQ))))
				gl := c.BiallelicLog10(i)
				values[3] = vcf.FormatFloat(gl[0], 2) + "," + vcf.FormatFloat(gl[1], 2) + "," + vcf.FormatFloat(gl[2], 2)
			}
			r.Samples = append(r.Samples, values)
		}
	}
	return cw.w.Write(r)
}

func (cw *vcfCallWriter) close() error {
	err := cw.w.Flush()
	if cw.bgzf != nil {
		if e := cw.bgzf.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// geliRecord converts the single-sample call c.
func geliRecord(refNames []string, c *SiteCall) geli.Record {
	r := geli.Record{
		Chrom:    refNames[c.RefID],
		Pos:      int(c.Pos) + 1,
		Ref:      c.Ref,
		NumReads: int(c.Depth),
		MaxMapQ:  int(c.MaxMapQ),
	}
	for g, l := range c.Samples[0].Likelihoods {
		r.Likelihoods[g] = l * math.Log10E
	}
	return r
}

type geliTextCallWriter struct {
	w        *geli.TextWriter
	refNames []string
}

func (cw *geliTextCallWriter) write(c *SiteCall) error {
	r := geliRecord(cw.refNames, c)
	return cw.w.Write(&r)
}

func (cw *geliTextCallWriter) close() error {
	return cw.w.Flush()
}

type geliBinaryCallWriter struct {
	w        *geli.BinaryWriter
	refNames []string
}

func (cw *geliBinaryCallWriter) write(c *SiteCall) error {
	r := geliRecord(cw.refNames, c)
	return cw.w.Write(&r)
}

func (cw *geliBinaryCallWriter) close() error {
	return cw.w.Close()
}

type glfCallWriter struct {
	w     *glf.Writer
	refs  []*sam.Reference
	refID int
}

func (cw *glfCallWriter) write(c *SiteCall) error {
	if int(c.RefID) != cw.refID {
		ref := cw.refs[c.RefID]
		if err := cw.w.StartReference(glf.Reference{Name: ref.Name(), Len: uint32(ref.Len())}); err != nil {
			return err
		}
		cw.refID = int(c.RefID)
	}
	r := glf.SNPRecord{
		Pos:     c.Pos,
		Ref:     c.Ref,
		Depth:   c.Depth,
		RMSMapQ: c.RMSMapQ,
	}
	var l [glf.NGenotype]float64
	for g, v := range c.Samples[0].Likelihoods {
		l[g] = v * math.Log10E
	}
	r.SetLog10Likelihoods(l)
	return cw.w.WriteSNP(&r)
}

func (cw *glfCallWriter) close() error {
	return cw.w.Close()
}

func (out *output) newCallWriter(w io.Writer, refNames []string) (callWriter, error) {
	switch out.opts.format {
	case formatVCF, formatVCFBgz:
		return out.newVCFCallWriter(w, refNames)
	case formatGELI:
		tw, err := geli.NewTextWriter(w)
		if err != nil {
			return nil, err
		}
		return &geliTextCallWriter{w: tw, refNames: refNames}, nil
	case formatGELIBinary:
		refs := make([]geli.Reference, len(out.refs))
		for i, ref := range out.refs {
			refs[i] = geli.Reference{Name: ref.Name(), Len: ref.Len()}
		}
		bw, err := geli.NewBinaryWriter(w, refs, out.opts.parallelism)
		if err != nil {
			return nil, err
		}
		return &geliBinaryCallWriter{w: bw, refNames: refNames}, nil
	case formatGLF:
		gw, err := glf.NewWriter(w, "", out.opts.parallelism)
		if err != nil {
			return nil, err
		}
		return &glfCallWriter{w: gw, refs: out.refs, refID: -1}, nil
	}
	panic(out.opts.format)
}

type beagleCallWriter struct {
	w        *beagle.Writer
	gz       *gzip.Writer
	refNames []string
	rec      beagle.Record
}

func (cw *beagleCallWriter) write(c *SiteCall) error {
	r := &cw.rec
	r.Marker = cw.refNames[c.RefID] + ":" + strconv.Itoa(int(c.Pos)+1)
	r.AlleleA = c.Ref
	r.AlleleB = c.Alt
	r.Log10Likelihoods = r.Log10Likelihoods[:0]
	for i := range c.Samples {
		r.Log10Likelihoods = append(r.Log10Likelihoods, c.BiallelicLog10(i))
	}
	return cw.w.Write(r)
}

func (cw *beagleCallWriter) close() error {
	err := cw.w.Flush()
	if cw.gz != nil {
		if e := cw.gz.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

func (out *output) newBeagleCallWriter(w io.Writer, path string, refNames []string) (*beagleCallWriter, error) {
	cw := &beagleCallWriter{refNames: refNames}
	if strings.HasSuffix(path, ".gz") {
		cw.gz = gzip.NewWriter(w)
		w = cw.gz
	}
	var err error
	if cw.w, err = beagle.NewWriter(w, out.samples); err != nil {
		return nil, err
	}
	return cw, nil
}

// closeWriter closes cw, folding its error into *err.
func closeWriter(cw callWriter, err *error) {
	if e := cw.close(); e != nil && *err == nil {
		*err = e
	}
}

// write replays calls into path, and into the Beagle file if one was
// requested.
func (out *output) write(ctx context.Context, path string, calls *Calls) (err error) {
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, dst, &err)
	var writers []callWriter
	primary, err := out.newCallWriter(dst.Writer(ctx), calls.RefNames())
	if err != nil {
		return
	}
	defer closeWriter(primary, &err)
	writers = append(writers, primary)

	if path := out.opts.beaglePath; path != "" {
		var bdst file.File
		if bdst, err = file.Create(ctx, path); err != nil {
			return
		}
		defer file.CloseAndReport(ctx, bdst, &err)
		var bw *beagleCallWriter
		if bw, err = out.newBeagleCallWriter(bdst.Writer(ctx), path, calls.RefNames()); err != nil {
			return
		}
		defer closeWriter(bw, &err)
		writers = append(writers, bw)
	}
	return calls.Each(func(c *SiteCall) error {
		for _, w := range writers {
			if err := w.write(c); err != nil {
				return err
			}
		}
		return nil
	})
}
