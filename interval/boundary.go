// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package interval

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// ShardBoundary is the unit of distributed work.  Core is the range of loci
// the shard is responsible for.  Padded extends Core on both sides so that
// computations at the edges of Core see the reads they need; the padding
// regions overlap the Core of neighboring shards and are never reported.
//
// Padded always contains Core.
type ShardBoundary struct {
	Core   Interval
	Padded Interval
}

// NewShardBoundary pads core by padding loci on each side, clipped to the
// contig.
func NewShardBoundary(core Interval, padding int, dict *Dictionary) (ShardBoundary, error) {
	if padding < 0 {
		return ShardBoundary{}, errors.E(errors.Invalid, fmt.Sprintf("interval.NewShardBoundary: padding must be non-negative, not %d", padding))
	}
	if err := dict.Validate(core); err != nil {
		return ShardBoundary{}, err
	}
	return ShardBoundary{Core: core, Padded: dict.Expand(core, padding)}, nil
}

// Contig returns the contig of the boundary.
func (b ShardBoundary) Contig() string {
	return b.Core.Contig
}

// Valid reports whether both intervals are well formed and Padded contains
// Core.
func (b ShardBoundary) Valid() bool {
	return b.Core.Valid() && b.Padded.Valid() && b.Padded.Contains(b.Core)
}

// Extension returns the larger of the two paddings actually applied to Core.
func (b ShardBoundary) Extension() int {
	return max(b.Core.Start-b.Padded.Start, b.Padded.End-b.Core.End)
}

// String returns a debug string for b.
func (b ShardBoundary) String() string {
	return fmt.Sprintf("%v(%d-%d)", b.Core, b.Padded.Start, b.Padded.End)
}

// DivideIntoShards cuts each interval, from its start, into cores of
// shardSize loci (the last core of an interval may be shorter) and pads them
// by padding.  The intervals must already be normalized (see Normalize), so
// the result is ordered and the cores do not overlap.
func DivideIntoShards(ivs []Interval, shardSize, padding int, dict *Dictionary) ([]ShardBoundary, error) {
	if shardSize <= 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.DivideIntoShards: shard size must be positive, not %d", shardSize))
	}
	var shards []ShardBoundary
	for _, iv := range ivs {
		for start := iv.Start; start <= iv.End; start += shardSize {
			core := Interval{Contig: iv.Contig, Start: start, End: min(iv.End, start+shardSize-1)}
			b, err := NewShardBoundary(core, padding, dict)
			if err != nil {
				return nil, err
			}
			shards = append(shards, b)
		}
	}
	if err := ValidateBoundaries(shards, dict); err != nil {
		return nil, err
	}
	return shards, nil
}

// ValidateBoundaries checks that every boundary lies within the dictionary,
// that Padded contains Core, and that cores are sorted in genome order without
// overlaps.
func ValidateBoundaries(bs []ShardBoundary, dict *Dictionary) error {
	for i, b := range bs {
		if err := dict.Validate(b.Core); err != nil {
			return err
		}
		if err := dict.Validate(b.Padded); err != nil {
			return err
		}
		if !b.Valid() {
			return errors.E(errors.Precondition, fmt.Sprintf("interval: shard %d: padded %v does not contain core %v", i, b.Padded, b.Core))
		}
		if i == 0 {
			continue
		}
		prev := bs[i-1].Core
		if dict.Compare(prev, b.Core) >= 0 || prev.Overlaps(b.Core) {
			return errors.E(errors.Precondition, fmt.Sprintf("interval: shard %d (%v) is not after shard %d (%v)", i, b.Core, i-1, prev))
		}
	}
	return nil
}
