// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package sharder splits a read collection into shards: one per
// ShardBoundary, holding every read that overlaps the boundary's padded
// interval.
package sharder

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/regionfinder/cluster"
	"github.com/grailbio/regionfinder/encoding/bamprovider"
	"github.com/grailbio/regionfinder/interval"
)

// Shard is a boundary plus the items that overlap its padded interval.  The
// items are loaded on the first successful call to Items and cached.  Shard
// is thread safe.
type Shard[T any] struct {
	Boundary interval.ShardBoundary

	load func(ctx context.Context) ([]T, error)

	mu     sync.Mutex
	loaded bool
	items  []T
}

// NewShard creates a shard whose items are already known.
func NewShard[T any](b interval.ShardBoundary, items []T) *Shard[T] {
	return &Shard[T]{Boundary: b, loaded: true, items: items}
}

// NewLazyShard creates a shard whose items are produced by load on first
// use.
func NewLazyShard[T any](b interval.ShardBoundary, load func(ctx context.Context) ([]T, error)) *Shard[T] {
	return &Shard[T]{Boundary: b, load: load}
}

// Items returns the items of the shard, loading them if needed.  A failed load
// is not cached, so a retried task reloads the shard.
func (s *Shard[T]) Items(ctx context.Context) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		items, err := s.load(ctx)
		if err != nil {
			return nil, err
		}
		s.items, s.loaded = items, true
	}
	return s.items, nil
}

// Sharder creates read shards from a Provider.
type Sharder struct {
	provider  bamprovider.Provider
	dict      *interval.Dictionary
	shardSize int
}

// New creates a Sharder.  shardSize is the core length used by
// BoundariesFor.
func New(provider bamprovider.Provider, dict *interval.Dictionary, shardSize int) (*Sharder, error) {
	if shardSize <= 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("sharder: shard size must be positive, not %d", shardSize))
	}
	return &Sharder{provider: provider, dict: dict, shardSize: shardSize}, nil
}

// Dictionary returns the sequence dictionary of the sharder.
func (s *Sharder) Dictionary() *interval.Dictionary { return s.dict }

// BoundariesFor cuts the normalized intervals ivs into shard boundaries of
// the sharder's shard size, padded by padding.
func (s *Sharder) BoundariesFor(ivs []interval.Interval, padding int) ([]interval.ShardBoundary, error) {
	return interval.DivideIntoShards(ivs, s.shardSize, padding, s.dict)
}

// Shards creates one lazy shard per boundary.  The boundaries must be
// ordered with non-overlapping cores (see interval.ValidateBoundaries).
func (s *Sharder) Shards(bs []interval.ShardBoundary) ([]*Shard[*sam.Record], error) {
	if err := interval.ValidateBoundaries(bs, s.dict); err != nil {
		return nil, err
	}
	shards := make([]*Shard[*sam.Record], len(bs))
	for i, b := range bs {
		b := b
		shards[i] = NewLazyShard(b, func(ctx context.Context) ([]*sam.Record, error) {
			return s.reads(ctx, b)
		})
	}
	return shards, nil
}

// checkInterval is the number of reads between two context checks.
const checkInterval = 1 << 14

// reads returns the reads overlapping b.Padded, in coordinate order.
func (s *Sharder) reads(ctx context.Context, b interval.ShardBoundary) (recs []*sam.Record, err error) {
	iter := s.provider.NewIterator(b.Padded)
	defer func() {
		if e := iter.Close(); e != nil && err == nil {
			err = e
		}
	}()
	lastPos := -1
	for iter.Scan() {
		rec := iter.Record()
		if _, ok := s.dict.Index(rec.Ref.Name()); !ok {
			return nil, errors.E(errors.NotExist, fmt.Sprintf("sharder: read %s on unknown contig %s", rec.Name, rec.Ref.Name()))
		}
		if rec.Ref.Name() != b.Contig() || rec.Pos < lastPos {
			return nil, errors.E(errors.Precondition, fmt.Sprintf("sharder: read %s at %s:%d out of order in shard %v", rec.Name, rec.Ref.Name(), rec.Pos+1, b))
		}
		lastPos = rec.Pos
		recs = append(recs, rec)
		if len(recs)%checkInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, errors.E(err, fmt.Sprintf("sharder: reading shard %v", b))
	}
	return recs, nil
}

// Partition assigns shards to n cluster partitions.  By default each
// partition gets a contiguous block of shards.  With rebalance, shards are
// placed by a hash of their boundary instead, which spreads dense genomic
// neighbourhoods over workers.  Placement never changes shard content.
func Partition[T any](shards []*Shard[T], n int, rebalance bool) *cluster.Dataset[*Shard[T]] {
	if !rebalance {
		return cluster.Parallelize(shards, n)
	}
	if n < 1 {
		n = 1
	}
	parts := make([][]*Shard[T], n)
	for _, s := range shards {
		p := cluster.HashPartition(s.Boundary.String(), n)
		parts[p] = append(parts[p], s)
	}
	return cluster.FromPartitions(parts)
}

// Materialize loads the items of shards, at most parallelism at a time.
func Materialize[T any](ctx context.Context, shards []*Shard[T], parallelism int) error {
	if parallelism < 1 {
		parallelism = 1
	}
	return traverse.Limit(parallelism).Each(len(shards), func(i int) error {
		_, err := shards[i].Items(ctx)
		return err
	})
}
