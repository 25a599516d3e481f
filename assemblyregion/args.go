// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package assemblyregion

import (
	"context"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/regionfinder/activity"
	"github.com/grailbio/regionfinder/bandpass"
	"github.com/grailbio/regionfinder/cluster"
	"gopkg.in/yaml.v3"
)

// Args configures region discovery.
type Args struct {
	// ReadShardSize is the core length of the shards the reads are split into.
	ReadShardSize int `yaml:"readShardSize"`

	// ReadShardPadding is the number of loci added to each side of a shard
	// core so that pileups at the core edges see all their reads.
	ReadShardPadding int `yaml:"readShardPadding"`

	MinAssemblyRegionSize      int     `yaml:"minAssemblyRegionSize"`
	MaxAssemblyRegionSize      int     `yaml:"maxAssemblyRegionSize"`
	AssemblyRegionPadding      int     `yaml:"assemblyRegionPadding"`
	ActiveProbThreshold        float64 `yaml:"activeProbThreshold"`
	MaxProbPropagationDistance int     `yaml:"maxProbPropagationDistance"`

	// MaxReadsPerAlignmentStart caps the reads sharing an alignment start
	// before activity is computed by the fast pipeline.  0 disables it.
	MaxReadsPerAlignmentStart int `yaml:"maxReadsPerAlignmentStart"`

	// IncludeReadsWithDeletionsInIsActivePileups only affects pileup
	// construction.
	IncludeReadsWithDeletionsInIsActivePileups bool `yaml:"includeReadsWithDeletionsInIsActivePileups"`

	// Shuffle places shards on partitions by hash instead of in contiguous
	// blocks.  It never changes the output.
	Shuffle bool `yaml:"shuffle"`

	// Parallelism bounds the number of concurrent tasks; 0 means
	// runtime.NumCPU().
	Parallelism int `yaml:"parallelism"`

	// Partitions is the number of partitions the shards are spread over;
	// 0 means four per unit of parallelism.
	Partitions int `yaml:"partitions"`

	// MaxAttempts is the number of times a task failing with a temporary
	// error is run.
	MaxAttempts int `yaml:"maxAttempts"`
}

// DefaultArgs is the default Args.
var DefaultArgs = Args{
	ReadShardSize:              5000,
	ReadShardPadding:           100,
	MinAssemblyRegionSize:      bandpass.DefaultParams.MinRegionSize,
	MaxAssemblyRegionSize:      bandpass.DefaultParams.MaxRegionSize,
	AssemblyRegionPadding:      bandpass.DefaultParams.RegionPadding,
	ActiveProbThreshold:        bandpass.DefaultParams.ActiveProbThreshold,
	MaxProbPropagationDistance: bandpass.DefaultParams.MaxProbPropagationDistance,
	MaxReadsPerAlignmentStart:  50,
	MaxAttempts:                cluster.DefaultOpts.MaxAttempts,

	IncludeReadsWithDeletionsInIsActivePileups: activity.DefaultOpts.IncludeDeletions,
}

// Validate checks a for configuration errors.
func (a Args) Validate() error {
	if a.ReadShardSize <= 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("assemblyregion: readShardSize must be positive, not %d", a.ReadShardSize))
	}
	if a.ReadShardPadding < 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("assemblyregion: negative readShardPadding %d", a.ReadShardPadding))
	}
	if a.MaxReadsPerAlignmentStart < 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("assemblyregion: negative maxReadsPerAlignmentStart %d", a.MaxReadsPerAlignmentStart))
	}
	if a.Parallelism < 0 || a.Partitions < 0 || a.MaxAttempts < 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("assemblyregion: negative parallelism %d, partitions %d or maxAttempts %d", a.Parallelism, a.Partitions, a.MaxAttempts))
	}
	return a.bandpassParams().Validate()
}

func (a Args) bandpassParams() bandpass.Params {
	return bandpass.Params{
		MinRegionSize:              a.MinAssemblyRegionSize,
		MaxRegionSize:              a.MaxAssemblyRegionSize,
		RegionPadding:              a.AssemblyRegionPadding,
		ActiveProbThreshold:        a.ActiveProbThreshold,
		MaxProbPropagationDistance: a.MaxProbPropagationDistance,
	}
}

func (a Args) activityOpts() activity.Opts {
	return activity.Opts{IncludeDeletions: a.IncludeReadsWithDeletionsInIsActivePileups}
}

func (a Args) clusterOpts() cluster.Opts {
	return cluster.Opts{Parallelism: a.Parallelism, MaxAttempts: a.MaxAttempts}
}

// numPartitions returns the number of partitions to spread the shards of a
// job run on c over.
func (a Args) numPartitions(c *cluster.Cluster) int {
	if a.Partitions > 0 {
		return a.Partitions
	}
	return 4 * c.Parallelism()
}

// ReadArgs overlays the YAML document read from r on base.  Keys are the
// yaml tags of Args; unknown keys are an error.
func ReadArgs(r io.Reader, base Args) (Args, error) {
	args := base
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&args); err != nil && err != io.EOF {
		return Args{}, errors.E(errors.Invalid, err, "assemblyregion: parsing arguments")
	}
	return args, nil
}

// LoadArgs reads the YAML file at path over DefaultArgs.
func LoadArgs(ctx context.Context, path string) (args Args, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return Args{}, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	if args, err = ReadArgs(in.Reader(ctx), DefaultArgs); err != nil {
		return Args{}, errors.E(err, path)
	}
	return args, nil
}
