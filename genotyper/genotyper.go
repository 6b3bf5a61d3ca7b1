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
	"runtime"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/genotyper/encoding/fasta"
	"github.com/grailbio/genotyper/interval"
	"github.com/grailbio/genotyper/pileup"
)

// Opts is the raw run configuration.  The yaml tags name the keys of a
// configuration file.  LoadOpts also reads each field from an environment
// variable named after it, e.g. GENOTYPE_MIN_MAP_Q for MinMapQ.
type Opts struct {
	// Model is one of EM_POINT_ESTIMATE, POOLED, JOINT_ESTIMATE.
	Model string `yaml:"model" split_words:"true"`
	// ErrorModel is one of one_state, three_state, empirical.
	ErrorModel string `yaml:"error_model" split_words:"true"`
	// PoolSize is the number of chromosomes in the pool (POOLED only).
	PoolSize       int     `yaml:"pool_size" split_words:"true"`
	Heterozygosity float64 `yaml:"heterozygosity" split_words:"true"`
	// Confidence is the minimum phred-scaled site quality emitted.
	Confidence float64 `yaml:"confidence" split_words:"true"`
	// GenotypeMode also emits confident reference sites.
	GenotypeMode bool `yaml:"genotype" split_words:"true"`

	MinBaseQual    int `yaml:"min_base_qual" split_words:"true"`
	MinMapQ        int `yaml:"min_mapq" split_words:"true"`
	MaxMismatches  int `yaml:"max_mismatches" split_words:"true"`
	MismatchWindow int `yaml:"mismatch_window" split_words:"true"`
	FlagExclude    int `yaml:"flag_exclude" split_words:"true"`
	// MaxDataErrors is the number of malformed reads the run tolerates.
	// Negative disables the check.
	MaxDataErrors int `yaml:"max_data_errors" split_words:"true"`

	MaxIterations        int     `yaml:"max_iterations" split_words:"true"`
	ConvergenceThreshold float64 `yaml:"convergence_threshold" split_words:"true"`
	// CalibrationPath is a PLATFORM/QUAL/OBSERVATIONS/ERRORS table for the
	// empirical error model.
	CalibrationPath string `yaml:"calibration" split_words:"true"`

	// Parallelism is the number of shards; 0 = runtime.NumCPU().  Output does
	// not depend on it.
	Parallelism int    `yaml:"parallelism" split_words:"true"`
	ChunkSize   int    `yaml:"chunk_size" split_words:"true"`
	TempDir     string `yaml:"temp_dir" split_words:"true"`

	// Format is one of vcf, vcf-bgz, geli, geli-binary, glf.
	Format string `yaml:"format" split_words:"true"`
	// BeaglePath, if nonempty, receives a Beagle genotype-likelihood file.
	// It is gzipped when the path ends in .gz.
	BeaglePath string `yaml:"beagle" split_words:"true"`
	// Reference is recorded in the VCF ##reference line.
	Reference string `yaml:"reference" split_words:"true"`

	// At most one of BedPath and Regions may be set; when neither is, the
	// whole genome is processed.
	BedPath string   `yaml:"bed" split_words:"true"`
	Regions []string `yaml:"regions" split_words:"true"`
}

// DefaultOpts holds the default configuration.
var DefaultOpts = Opts{
	Model:                PointEstimate.String(),
	ErrorModel:           OneState.String(),
	PoolSize:             0,
	Heterozygosity:       0.001,
	Confidence:           30,
	MinBaseQual:          10,
	MinMapQ:              10,
	MaxMismatches:        3,
	MismatchWindow:       40,
	FlagExclude:          0xf04,
	MaxDataErrors:        1000,
	MaxIterations:        50,
	ConvergenceThreshold: 1e-5,
	Parallelism:          1,
	ChunkSize:            8192,
	Format:               "vcf",
}

// genotypeOpts is the validated, immutable form of Opts.
type genotypeOpts struct {
	filter        pileup.Filter
	maxDataErrors int
	errModel      *ErrorModel
	nSample       int
	model         *compiledModel
	confidence    ConfidenceFilter
	parallelism   int
	chunkSize     int
	tempDir       string
	format        outputFormat
	beaglePath    string
	reference     string
}

// compile validates rawOpts for a run over nSample samples.  Every returned
// configuration error has kind errors.Invalid.
func (rawOpts *Opts) compile(ctx context.Context, nSample int) (*genotypeOpts, error) {
	o := &genotypeOpts{
		maxDataErrors: rawOpts.MaxDataErrors,
		nSample:       nSample,
		confidence: ConfidenceFilter{
			Threshold:    rawOpts.Confidence,
			GenotypeMode: rawOpts.GenotypeMode,
		},
		chunkSize:  rawOpts.ChunkSize,
		tempDir:    rawOpts.TempDir,
		beaglePath: rawOpts.BeaglePath,
		reference:  rawOpts.Reference,
	}
	if rawOpts.BedPath != "" && len(rawOpts.Regions) > 0 {
		return nil, errors.E(errors.Invalid, "bed path and regions can't be used together")
	}
	if rawOpts.MinBaseQual < 0 || rawOpts.MinMapQ < 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("negative quality threshold (min base qual %d, min mapq %d)",
			rawOpts.MinBaseQual, rawOpts.MinMapQ))
	}
	if rawOpts.MaxMismatches >= 0 && rawOpts.MismatchWindow < 1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("mismatch window %d must be positive", rawOpts.MismatchWindow))
	}
	o.filter = pileup.Filter{
		FlagExclude:    rawOpts.FlagExclude,
		MinMapQ:        rawOpts.MinMapQ,
		MinBaseQual:    rawOpts.MinBaseQual,
		MaxMismatches:  rawOpts.MaxMismatches,
		MismatchWindow: rawOpts.MismatchWindow,
	}
	if !(rawOpts.Confidence >= 0) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("confidence %v must be nonnegative", rawOpts.Confidence))
	}
	if o.chunkSize < 1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("chunk size %d must be positive", o.chunkSize))
	}
	o.parallelism = rawOpts.Parallelism
	if o.parallelism <= 0 {
		o.parallelism = runtime.NumCPU()
	}

	modelKind, err := ParseModelKind(rawOpts.Model)
	if err != nil {
		return nil, err
	}
	if o.format, err = parseOutputFormat(rawOpts.Format); err != nil {
		return nil, err
	}
	switch {
	case modelKind == Pooled && o.format != formatVCF && o.format != formatVCFBgz:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("the POOLED model only supports vcf output, not %s", rawOpts.Format))
	case modelKind == Pooled && o.beaglePath != "":
		return nil, errors.E(errors.Invalid, "the POOLED model has no per-sample likelihoods for Beagle output")
	case o.format.singleSample() && nSample != 1:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("%s output holds one sample, the input has %d", rawOpts.Format, nSample))
	}

	errKind, err := ParseErrorModelKind(rawOpts.ErrorModel)
	if err != nil {
		return nil, err
	}
	var cal *Calibration
	if rawOpts.CalibrationPath != "" {
		if errKind != Empirical {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("a calibration table requires the %s error model", Empirical))
		}
		if cal, err = LoadCalibration(ctx, rawOpts.CalibrationPath); err != nil {
			return nil, err
		}
	} else if errKind == Empirical {
		log.Printf("compile: no calibration table, the empirical error model uses reported qualities")
	}
	if o.errModel, err = NewErrorModel(errKind, cal); err != nil {
		return nil, err
	}
	m := Model{
		Kind:                 modelKind,
		Heterozygosity:       rawOpts.Heterozygosity,
		PoolSize:             rawOpts.PoolSize,
		MaxIterations:        rawOpts.MaxIterations,
		ConvergenceThreshold: rawOpts.ConvergenceThreshold,
	}
	if o.model, err = m.compile(o.errModel, nSample); err != nil {
		return nil, err
	}
	return o, nil
}

// Contigs returns the reference dictionary of src.
func Contigs(src pileup.Source) []interval.Contig {
	var contigs []interval.Contig
	for _, ref := range src.Header().Refs() {
		contigs = append(contigs, interval.Contig{Name: ref.Name(), Len: PosType(ref.Len())})
	}
	return contigs
}

// Intervals returns the requested intervals in reference order: the BED file
// or region strings of opts, or every contig of src when neither is set.
func Intervals(src pileup.Source, opts *Opts) ([]interval.Entry, error) {
	contigs := Contigs(src)
	var (
		u   interval.BEDUnion
		err error
	)
	switch {
	case opts.BedPath != "" && len(opts.Regions) > 0:
		return nil, errors.E(errors.Invalid, "bed path and regions can't be used together")
	case opts.BedPath != "":
		if u, err = interval.NewBEDUnionFromPath(opts.BedPath, interval.NewBEDOpts{}); err != nil {
			return nil, err
		}
	case len(opts.Regions) > 0:
		if u, err = interval.NewBEDUnionFromRegions(opts.Regions); err != nil {
			return nil, err
		}
	default:
		u = interval.WholeGenome(contigs)
	}
	return u.Entries(contigs)
}

// Run genotypes entries, which must be in reference order, and returns the
// retained calls.  refSeqs is indexed by reference ID, and must hold every
// contig named in entries.  The caller must Close the result.
func Run(ctx context.Context, src pileup.Source, refSeqs []string, entries []interval.Entry, opts *Opts) (*Calls, error) {
	o, err := opts.compile(ctx, len(src.Samples()))
	if err != nil {
		return nil, err
	}
	return o.run(ctx, src, refSeqs, entries)
}

// Call runs the genotyper on src, with reference fa, and writes the
// calls to outPath in opts.Format.  Configuration errors are reported before
// any read is examined.  Nothing is written unless every shard succeeds.
func Call(ctx context.Context, src pileup.Source, fa fasta.Fasta, outPath string, opts *Opts) (summary Summary, err error) {
	o, err := opts.compile(ctx, len(src.Samples()))
	if err != nil {
		return Summary{}, err
	}
	entries, err := Intervals(src, opts)
	if err != nil {
		return Summary{}, err
	}
	out, err := o.newOutput(src)
	if err != nil {
		return Summary{}, err
	}
	want := make(map[string]bool)
	for _, e := range entries {
		want[e.ChrName] = true
	}
	refSeqs, err := pileup.LoadReference(fa, src.Header().Refs(), want)
	if err != nil {
		return Summary{}, err
	}
	var calls *Calls
	if calls, err = o.run(ctx, src, refSeqs, entries); err != nil {
		return Summary{}, err
	}
	defer func() {
		if e := calls.Close(); e != nil && err == nil {
			err = e
		}
	}()
	if err = out.write(ctx, outPath, calls); err != nil {
		return Summary{}, err
	}
	log.Printf("Genotype: wrote %d calls to %s (checksum %016x)", calls.Summary.Calls, outPath, calls.Summary.Checksum)
	return calls.Summary, nil
}
