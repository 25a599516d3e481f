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
Given a coordinate-sorted, indexed BAM and its reference FASTA,
bio-assembly-regions splits the genome (or the loci named by -region or -bed)
into active and inactive assembly regions and writes one TSV row per region.

Two modes are available.  "fast" segments every read shard on its own;
region boundaries near shard joins then depend on -read-shard-size.
"strict" regroups the activity profile by contig before segmenting, so its
output is the same for every shard size and parallelism.

Sample usage:
bio-assembly-regions \
    -bed targets.bed \
    -mode strict \
    -out regions.tsv.gz \
    -format tsv-bgz \
    sample.bam hg38.fa

The output columns are:

	#CHROM     contig
	CORE_START 1-based first locus of the region
	CORE_END   last locus of the region
	EXT_START  first locus of the padded region
	EXT_END    last locus of the padded region
	ACTIVE     1 if the region is active, 0 otherwise
	NREADS     number of reads overlapping the padded region
	NFEATURES  number of -features records overlapping the padded region

Rows are in genome order.  Arguments may also be read from a YAML file given
with -config; flags set on the command line override it.
*/
package main
