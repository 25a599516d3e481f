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

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/regionfinder/activity"
	"github.com/grailbio/regionfinder/assemblyregion"
	"github.com/grailbio/regionfinder/encoding/bamprovider"
	"github.com/grailbio/regionfinder/encoding/fasta"
	"github.com/grailbio/regionfinder/feature"
	"github.com/grailbio/regionfinder/interval"
)

var (
	bedPath      = flag.String("bed", "", "Input BED path; restricts the scan to its intervals. Mutually exclusive with -region")
	region       = flag.String("region", "", "Restrict the scan to the specified region. Format as <contig ID>:<1-based first pos>-<last pos>, <contig ID>:<1-based pos>, or just <contig ID>. Mutually exclusive with -bed")
	bamIndexPath = flag.String("index", "", "Input BAM index path. Defaults to bampath + .bai")
	featuresPath = flag.String("features", "", "Optional BED file of features to attach to each region")
	configPath   = flag.String("config", "", "Optional YAML file of region finding arguments; flags override it")
	mode         = flag.String("mode", "fast", "Segmentation mode: 'fast' or 'strict'")
	format       = flag.String("format", "tsv", "Output format; 'tsv' and 'tsv-bgz' supported")
	outPath      = flag.String("out", "bio-assembly-regions.tsv", "Output path")

	readShardSize       = flag.Int("read-shard-size", assemblyregion.DefaultArgs.ReadShardSize, "Core length of read shards")
	readShardPadding    = flag.Int("read-shard-padding", assemblyregion.DefaultArgs.ReadShardPadding, "Padding added to each side of a read shard")
	minRegionSize       = flag.Int("min-assembly-region-size", assemblyregion.DefaultArgs.MinAssemblyRegionSize, "Minimum assembly region size")
	maxRegionSize       = flag.Int("max-assembly-region-size", assemblyregion.DefaultArgs.MaxAssemblyRegionSize, "Maximum assembly region size")
	regionPadding       = flag.Int("assembly-region-padding", assemblyregion.DefaultArgs.AssemblyRegionPadding, "Padding added to each side of an assembly region")
	activeProbThreshold = flag.Float64("active-prob-threshold", assemblyregion.DefaultArgs.ActiveProbThreshold, "Smoothed activity probability at or above which a locus is active")
	maxPropagation      = flag.Int("max-prob-propagation-distance", assemblyregion.DefaultArgs.MaxProbPropagationDistance, "Half-width of the activity smoothing kernel")
	maxReadsPerStart    = flag.Int("max-reads-per-alignment-start", assemblyregion.DefaultArgs.MaxReadsPerAlignmentStart, "Downsample reads sharing an alignment start to this many (fast mode only); 0 disables")
	includeDeletions    = flag.Bool("include-deletions", assemblyregion.DefaultArgs.IncludeReadsWithDeletionsInIsActivePileups, "Count reads with a deletion at a locus in its pileup")
	shuffle             = flag.Bool("shuffle", assemblyregion.DefaultArgs.Shuffle, "Place read shards on partitions by hash")
	parallelism         = flag.Int("parallelism", 0, "Maximum number of concurrent tasks; 0 = runtime.NumCPU()")
	maxAttempts         = flag.Int("max-attempts", assemblyregion.DefaultArgs.MaxAttempts, "Number of attempts for tasks failing with a temporary error")
)

func bioAssemblyRegionsUsage() {
	fmt.Printf("Usage: %s [OPTIONS] bampath fapath\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

// loadArgs reads -config, if any, and applies the flags set on the command
// line on top of it.
func loadArgs(ctx context.Context) (assemblyregion.Args, error) {
	args := assemblyregion.DefaultArgs
	if *configPath != "" {
		var err error
		if args, err = assemblyregion.LoadArgs(ctx, *configPath); err != nil {
			return args, err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "read-shard-size":
			args.ReadShardSize = *readShardSize
		case "read-shard-padding":
			args.ReadShardPadding = *readShardPadding
		case "min-assembly-region-size":
			args.MinAssemblyRegionSize = *minRegionSize
		case "max-assembly-region-size":
			args.MaxAssemblyRegionSize = *maxRegionSize
		case "assembly-region-padding":
			args.AssemblyRegionPadding = *regionPadding
		case "active-prob-threshold":
			args.ActiveProbThreshold = *activeProbThreshold
		case "max-prob-propagation-distance":
			args.MaxProbPropagationDistance = *maxPropagation
		case "max-reads-per-alignment-start":
			args.MaxReadsPerAlignmentStart = *maxReadsPerStart
		case "include-deletions":
			args.IncludeReadsWithDeletionsInIsActivePileups = *includeDeletions
		case "shuffle":
			args.Shuffle = *shuffle
		case "parallelism":
			args.Parallelism = *parallelism
		case "max-attempts":
			args.MaxAttempts = *maxAttempts
		}
	})
	return args, args.Validate()
}

func run(ctx context.Context, bamPath, faPath string) (err error) {
	m, err := assemblyregion.ParseMode(*mode)
	if err != nil {
		return err
	}
	args, err := loadArgs(ctx)
	if err != nil {
		return err
	}
	if *bedPath != "" && *region != "" {
		return errors.E(errors.Invalid, "-bed and -region are mutually exclusive")
	}

	provider := bamprovider.NewProvider(bamPath, bamprovider.ProviderOpts{Index: *bamIndexPath})
	defer func() {
		if e := provider.Close(); e != nil && err == nil {
			err = e
		}
	}()
	header, err := provider.GetHeader()
	if err != nil {
		return err
	}
	dict, err := interval.DictionaryFromHeader(header)
	if err != nil {
		return err
	}
	ref, err := fasta.Load(ctx, faPath)
	if err != nil {
		return err
	}
	defer func() {
		if e := ref.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	if err = ref.CheckCompatible(dict); err != nil {
		return err
	}

	in := assemblyregion.Inputs{
		Reads:      provider,
		Dict:       dict,
		Evaluators: activity.MismatchFactory{Opts: activity.DefaultMismatchOpts},
		Ref:        ref,
	}
	switch {
	case *bedPath != "":
		if in.Intervals, err = interval.LoadBED(ctx, *bedPath, dict); err != nil {
			return err
		}
	case *region != "":
		iv, err := interval.ParseRegionString(*region, dict)
		if err != nil {
			return err
		}
		in.Intervals = []interval.Interval{iv}
	}
	if *featuresPath != "" {
		if in.Features, err = feature.LoadBED(ctx, *featuresPath, dict); err != nil {
			return err
		}
	}

	ds, err := assemblyregion.Find(ctx, m, in, args)
	if err != nil {
		return err
	}
	log.Printf("found %d %s regions, writing %s", ds.Len(), m, *outPath)
	return writeRegions(ctx, *outPath, *format, dict, ds)
}

func main() {
	flag.Usage = bioAssemblyRegionsUsage
	shutdown := grail.Init()
	defer shutdown()

	positionalArgs := flag.Args()
	if len(positionalArgs) != 2 {
		log.Fatalf("Expected bampath and fapath positional arguments, got '%s'", strings.Join(positionalArgs, " "))
	}
	ctx := vcontext.Background()
	if err := run(ctx, positionalArgs[0], positionalArgs[1]); err != nil {
		log.Fatalf("%v", err)
	}
	log.Debug.Printf("exiting")
}
