// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package assemblyregion

import (
	"context"
	"fmt"
	"sort"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/regionfinder/activity"
	"github.com/grailbio/regionfinder/bandpass"
	"github.com/grailbio/regionfinder/cluster"
	"github.com/grailbio/regionfinder/interval"
	"github.com/grailbio/regionfinder/sharder"
)

// FindStrict finds the assembly regions of in.  The activity profile is
// computed per read shard, regrouped by contig and segmented one contig at a
// time, so the regions are the same as those of a single pass over each
// contig, whatever the shard size or parallelism.  The reads are then
// re-sharded by region.
//
// The steps are:
//
//  1. shard the reads;
//  2. compute the activity profile of each shard;
//  3. regroup the profiles by contig (shuffle);
//  4. segment each contig, producing regions without reads;
//  5. collect the region boundaries;
//  6. re-shard the reads by region boundary;
//  7. attach reads, reference and features to each region.
//
// Step 6 starts only after every contig has been segmented.  FindStrict does
// not downsample reads.
func FindStrict(ctx context.Context, in Inputs, args Args) (*cluster.Dataset[*WalkerContext], error) {
	if err := in.validate(args); err != nil {
		return nil, err
	}
	s, shards, err := in.shards(args)
	if err != nil {
		return nil, err
	}
	c := cluster.New(args.clusterOpts())
	if args.MaxReadsPerAlignmentStart > 0 {
		log.Printf("job %s: strict: reads are not downsampled, ignoring maxReadsPerAlignmentStart=%d", c.ID(), args.MaxReadsPerAlignmentStart)
	}
	ds := sharder.Partition(shards, args.numPartitions(c), args.Shuffle)
	log.Printf("job %s: strict: %d shards in %d partitions", c.ID(), len(shards), ds.NumPartitions())

	profiles, err := cluster.MapPartitions(ctx, c, ds, func(ctx context.Context, part int, shards []*sharder.Shard[*sam.Record]) (ranges []activity.StateRange, err error) {
		if err := sharder.Materialize(ctx, shards, materializeParallelism); err != nil {
			return nil, err
		}
		err = withEvaluator(in.Evaluators, func(ev activity.Evaluator) error {
			for _, shard := range shards {
				reads, err := shard.Items(ctx)
				if err != nil {
					return err
				}
				r, err := activity.Compute(reads, shard.Boundary, in.Ref, in.Features, ev, args.activityOpts())
				if err != nil {
					return errors.E(err, "assemblyregion: shard "+shard.Boundary.String())
				}
				ranges = append(ranges, r)
			}
			return nil
		})
		return ranges, err
	})
	if err != nil {
		return nil, err
	}

	byContig, err := cluster.GroupByKey(ctx, c, profiles, func(r activity.StateRange) string { return r.Boundary.Contig() })
	if err != nil {
		return nil, err
	}
	params := args.bandpassParams()
	readless, err := cluster.MapPartitions(ctx, c, byContig, func(ctx context.Context, part int, groups []cluster.Group[activity.StateRange]) ([]Region, error) {
		var regions []Region
		for _, g := range groups {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			r, err := segmentContig(g.Items, params, in.Dict)
			if err != nil {
				return nil, errors.E(err, "assemblyregion: contig "+g.Key)
			}
			regions = append(regions, r...)
		}
		return regions, nil
	})
	if err != nil {
		return nil, err
	}

	regions := cluster.Collect(readless)
	sort.SliceStable(regions, func(i, j int) bool {
		return in.Dict.Compare(regions[i].Boundary.Core, regions[j].Boundary.Core) < 0
	})
	log.Printf("job %s: strict: segmented %d contigs into %d regions", c.ID(), byContig.Len(), len(regions))

	bs := make([]interval.ShardBoundary, len(regions))
	active := make(map[interval.Interval]bool, len(regions))
	for i, r := range regions {
		bs[i] = r.Boundary
		active[r.Boundary.Core] = r.Active
	}
	regionShards, err := s.Shards(bs)
	if err != nil {
		return nil, err
	}
	enricher := Enricher{Ref: in.Ref, Features: in.Features}
	out, err := cluster.MapPartitions(ctx, c, sharder.Partition(regionShards, args.numPartitions(c), false), func(ctx context.Context, part int, shards []*sharder.Shard[*sam.Record]) ([]*WalkerContext, error) {
		if err := sharder.Materialize(ctx, shards, materializeParallelism); err != nil {
			return nil, err
		}
		contexts := make([]*WalkerContext, 0, len(shards))
		for _, shard := range shards {
			reads, err := shard.Items(ctx)
			if err != nil {
				return nil, err
			}
			r := Region{Boundary: shard.Boundary, Active: active[shard.Boundary.Core]}
			wc, err := enricher.Enrich(NewAssemblyRegion(r, reads))
			if err != nil {
				return nil, err
			}
			contexts = append(contexts, wc)
		}
		return contexts, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// rangeKey orders the state ranges of a contig by core start.
type rangeKey struct {
	r *activity.StateRange
}

func (k rangeKey) Compare(c llrb.Comparable) int {
	return k.r.Boundary.Core.Start - c.(rangeKey).r.Boundary.Core.Start
}

// segmentContig concatenates the state ranges of one contig in genome order
// and segments the result in a single pass.
func segmentContig(ranges []activity.StateRange, params bandpass.Params, dict *interval.Dictionary) ([]Region, error) {
	var tree llrb.Tree
	for i := range ranges {
		k := rangeKey{&ranges[i]}
		if tree.Get(k) != nil {
			return nil, errors.E(errors.Precondition, fmt.Sprintf("assemblyregion: duplicate state range %v", ranges[i].Boundary))
		}
		tree.Insert(k)
	}
	var regions []Region
	seg, err := bandpass.New(params, dict, func(b interval.ShardBoundary, active bool) error {
		regions = append(regions, Region{Boundary: b, Active: active})
		return nil
	})
	if err != nil {
		return nil, err
	}
	var prev *activity.StateRange
	tree.Do(func(c llrb.Comparable) bool {
		r := c.(rangeKey).r
		if err = r.Validate(); err != nil {
			return true
		}
		if prev != nil && prev.Boundary.Core.Overlaps(r.Boundary.Core) {
			err = errors.E(errors.Precondition, fmt.Sprintf("assemblyregion: state ranges %v and %v overlap", prev.Boundary, r.Boundary))
			return true
		}
		prev = r
		for _, s := range r.States {
			if err = seg.Add(s); err != nil {
				return true
			}
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	if err := seg.Flush(); err != nil {
		return nil, err
	}
	return regions, nil
}
