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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/genotyper/encoding/fasta"
	"github.com/grailbio/genotyper/genotyper"
	"github.com/grailbio/genotyper/pileup"
)

var (
	configPath     = flag.String("config", "", "YAML configuration file; explicit flags override its settings")
	model          = flag.String("model", genotyper.DefaultOpts.Model, "Genotype model; EM_POINT_ESTIMATE, JOINT_ESTIMATE and POOLED supported")
	errorModel     = flag.String("error-model", genotyper.DefaultOpts.ErrorModel, "Base error model; one_state, three_state and empirical supported")
	poolSize       = flag.Int("pool-size", genotyper.DefaultOpts.PoolSize, "Number of chromosomes in the pool (POOLED only)")
	heterozygosity = flag.Float64("heterozygosity", genotyper.DefaultOpts.Heterozygosity, "Prior per-site heterozygosity")
	confidence     = flag.Float64("confidence", genotyper.DefaultOpts.Confidence, "Minimum phred-scaled site quality emitted")
	genotypeMode   = flag.Bool("genotype", genotyper.DefaultOpts.GenotypeMode, "Also emit confident reference sites")
	minBaseQual    = flag.Int("min-base-qual", genotyper.DefaultOpts.MinBaseQual, "Lower bound on base quality in a single read")
	minMapQ        = flag.Int("mapq", genotyper.DefaultOpts.MinMapQ, "Reads with MAPQ below this level are skipped")
	maxMismatches  = flag.Int("max-mismatches", genotyper.DefaultOpts.MaxMismatches, "Bases with more than this many mismatches nearby in the same read are skipped; negative disables")
	mismatchWindow = flag.Int("mismatch-window", genotyper.DefaultOpts.MismatchWindow, "Window size for -max-mismatches")
	flagExclude    = flag.Int("flag-exclude", genotyper.DefaultOpts.FlagExclude, "Reads with a FLAG bit intersecting this value are skipped")
	maxDataErrors  = flag.Int("max-data-errors", genotyper.DefaultOpts.MaxDataErrors, "Fail once a shard sees more malformed reads than this; negative disables")
	maxIterations  = flag.Int("max-iterations", genotyper.DefaultOpts.MaxIterations, "Cap on EM iterations per site")
	convergence    = flag.Float64("convergence", genotyper.DefaultOpts.ConvergenceThreshold, "EM allele-frequency convergence threshold")
	calibration    = flag.String("calibration", genotyper.DefaultOpts.CalibrationPath, "PLATFORM/QUAL/OBSERVATIONS/ERRORS table for the empirical error model")
	parallelism    = flag.Int("parallelism", genotyper.DefaultOpts.Parallelism, "Number of shards; 0 = runtime.NumCPU()")
	chunkSize      = flag.Int("chunk-size", genotyper.DefaultOpts.ChunkSize, "Number of positions piled up at a time")
	tempDir        = flag.String("temp-dir", genotyper.DefaultOpts.TempDir, "Directory to write temporary files to (default os.TempDir())")
	format         = flag.String("format", genotyper.DefaultOpts.Format, "Output format; 'vcf', 'vcf-bgz', 'geli', 'geli-binary', and 'glf' supported")
	beaglePath     = flag.String("beagle", genotyper.DefaultOpts.BeaglePath, "Optional Beagle genotype-likelihood output path; gzipped if it ends in .gz")
	bedPath        = flag.String("bed", genotyper.DefaultOpts.BedPath, "Input BED path; at most one of this and -regions")
	regions        = flag.String("regions", "", "Comma-separated regions, each formatted as <contig ID>:<1-based first pos>-<last pos>, <contig ID>:<1-based pos>, or just <contig ID>")
	indexPath      = flag.String("index", "", "BAM index path, with a single BAM. Defaults to bampath + .bai")
	outPath        = flag.String("out", "bio-genotype.vcf", "Output path")
)

func bioGenotypeUsage() {
	fmt.Printf("Usage: %s [OPTIONS] bampath... fapath\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

// applyFlags overrides opts with the flags set on the command line.
func applyFlags(opts *genotyper.Opts) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "model":
			opts.Model = *model
		case "error-model":
			opts.ErrorModel = *errorModel
		case "pool-size":
			opts.PoolSize = *poolSize
		case "heterozygosity":
			opts.Heterozygosity = *heterozygosity
		case "confidence":
			opts.Confidence = *confidence
		case "genotype":
			opts.GenotypeMode = *genotypeMode
		case "min-base-qual":
			opts.MinBaseQual = *minBaseQual
		case "mapq":
			opts.MinMapQ = *minMapQ
		case "max-mismatches":
			opts.MaxMismatches = *maxMismatches
		case "mismatch-window":
			opts.MismatchWindow = *mismatchWindow
		case "flag-exclude":
			opts.FlagExclude = *flagExclude
		case "max-data-errors":
			opts.MaxDataErrors = *maxDataErrors
		case "max-iterations":
			opts.MaxIterations = *maxIterations
		case "convergence":
			opts.ConvergenceThreshold = *convergence
		case "calibration":
			opts.CalibrationPath = *calibration
		case "parallelism":
			opts.Parallelism = *parallelism
		case "chunk-size":
			opts.ChunkSize = *chunkSize
		case "temp-dir":
			opts.TempDir = *tempDir
		case "format":
			opts.Format = *format
		case "beagle":
			opts.BeaglePath = *beaglePath
		case "bed":
			opts.BedPath = *bedPath
		case "regions":
			opts.Regions = nil
			for _, r := range strings.Split(*regions, ",") {
				if r = strings.TrimSpace(r); r != "" {
					opts.Regions = append(opts.Regions, r)
				}
			}
		}
	})
}

func openSource(ctx context.Context, bamPaths []string) (pileup.Source, error) {
	if *indexPath != "" && len(bamPaths) != 1 {
		return nil, fmt.Errorf("-index requires a single BAM, got %d", len(bamPaths))
	}
	var sources []pileup.Source
	for _, path := range bamPaths {
		src, err := pileup.NewBAMSource(ctx, path, *indexPath)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return pileup.NewMultiSource(sources...)
}

func genotype(ctx context.Context, bamPaths []string, faPath string) error {
	opts, err := genotyper.LoadOpts(ctx, *configPath)
	if err != nil {
		return err
	}
	applyFlags(&opts)
	if opts.Reference == "" {
		opts.Reference = faPath
	}
	src, err := openSource(ctx, bamPaths)
	if err != nil {
		return err
	}
	fa, err := fasta.Open(ctx, faPath)
	if err != nil {
		return err
	}
	defer fa.Close(ctx) // nolint: errcheck
	summary, err := genotyper.Call(ctx, src, fa, *outPath, &opts)
	if err != nil {
		return err
	}
	log.Printf("%d sites examined, %d calls (%d not converged); %d reads, %d malformed",
		summary.Sites, summary.Calls, summary.NotConverged, summary.Stats.Reads, summary.Stats.DataErrors)
	return nil
}

func main() {
	flag.Usage = bioGenotypeUsage
	shutdown := grail.Init()
	defer shutdown()
	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})

	positionalArgs := flag.Args()
	if len(positionalArgs) < 2 {
		log.Fatalf("Missing positional arguments (bampath... and fapath required); please check flag syntax: '%s'", strings.Join(positionalArgs, " "))
	}
	ctx := vcontext.Background()
	n := len(positionalArgs)
	if err := genotype(ctx, positionalArgs[:n-1], positionalArgs[n-1]); err != nil {
		log.Fatalf("%v", err)
	}
	log.Debug.Printf("exiting")
}
