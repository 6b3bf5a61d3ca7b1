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

/*
bio-genotype calls SNP genotypes jointly across the samples of one or more
BAM files.  Samples are identified by the SM tag of each read group; a BAM
without read groups is a single sample named after the file.

Three models are available.  EM_POINT_ESTIMATE (the default) estimates one
alternate allele frequency per site and calls each sample independently.
JOINT_ESTIMATE integrates over the allele count of all samples.  POOLED
treats the input as a single pool of -pool-size chromosomes.

Settings are taken, in increasing order of precedence, from the built-in
defaults, the YAML file named by -config, GENOTYPE_* environment variables,
and explicit flags.

Sample usage:
bio-genotype \
    -regions chr20:1-2,000,000 \
    -out calls.vcf \
    -beagle calls.bgl.gz \
    s1.bam s2.bam \
    ref.fa
*/
package main
