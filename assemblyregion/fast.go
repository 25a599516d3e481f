// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package assemblyregion

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/regionfinder/activity"
	"github.com/grailbio/regionfinder/bandpass"
	"github.com/grailbio/regionfinder/cluster"
	"github.com/grailbio/regionfinder/downsample"
	"github.com/grailbio/regionfinder/interval"
	"github.com/grailbio/regionfinder/sharder"
)

// FindFast finds the assembly regions of in.  Each read shard is segmented on
// its own, in one pass and without moving data between workers, so the
// regions never cross shard cores and their boundaries near a shard join may
// differ from a whole-contig segmentation.
//
// Reads are downsampled to args.MaxReadsPerAlignmentStart per alignment start
// before activity is computed, and regions carry the downsampled reads.
func FindFast(ctx context.Context, in Inputs, args Args) (*cluster.Dataset[*WalkerContext], error) {
	if err := in.validate(args); err != nil {
		return nil, err
	}
	_, shards, err := in.shards(args)
	if err != nil {
		return nil, err
	}
	c := cluster.New(args.clusterOpts())
	ds := sharder.Partition(shards, args.numPartitions(c), args.Shuffle)
	log.Printf("job %s: fast: %d shards in %d partitions", c.ID(), len(shards), ds.NumPartitions())

	enricher := Enricher{Ref: in.Ref, Features: in.Features}
	out, err := cluster.MapPartitions(ctx, c, ds, func(ctx context.Context, part int, shards []*sharder.Shard[*sam.Record]) (contexts []*WalkerContext, err error) {
		if err := sharder.Materialize(ctx, shards, materializeParallelism); err != nil {
			return nil, err
		}
		err = withEvaluator(in.Evaluators, func(ev activity.Evaluator) error {
			for _, shard := range shards {
				reads, err := shard.Items(ctx)
				if err != nil {
					return err
				}
				reads = downsample.Apply(reads, args.MaxReadsPerAlignmentStart)
				regions, err := segmentShard(reads, shard.Boundary, in, ev, args)
				if err != nil {
					return errors.E(err, "assemblyregion: shard "+shard.Boundary.String())
				}
				for _, r := range regions {
					wc, err := enricher.Enrich(NewAssemblyRegion(r, reads))
					if err != nil {
						return err
					}
					contexts = append(contexts, wc)
				}
			}
			return nil
		})
		return contexts, err
	})
	if err != nil {
		return nil, err
	}
	log.Printf("job %s: fast: found %d regions", c.ID(), out.Len())
	return out, nil
}

// segmentShard computes the activity profile of one shard's core and
// segments it.
func segmentShard(reads []*sam.Record, b interval.ShardBoundary, in Inputs, ev activity.Evaluator, args Args) ([]Region, error) {
	var regions []Region
	seg, err := bandpass.New(args.bandpassParams(), in.Dict, func(rb interval.ShardBoundary, active bool) error {
		regions = append(regions, Region{Boundary: rb, Active: active})
		return nil
	})
	if err != nil {
		return nil, err
	}
	c := activity.NewComputer(reads, b, in.Ref, in.Features, ev, args.activityOpts())
	for c.Scan() {
		if err := seg.Add(c.State()); err != nil {
			return nil, err
		}
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	if err := seg.Flush(); err != nil {
		return nil, err
	}
	return regions, nil
}
