// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package activity

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/regionfinder/interval"
)

// State is the activity of one locus.
type State struct {
	Contig string
	Pos    int // 1-based
	// Prob is the probability that the locus is active, in [0, 1].
	Prob float64
	// HighQualitySoftClips, when positive, is the number of loci on each side
	// over which Prob is spread before smoothing.
	HighQualitySoftClips int
}

// Locus returns the single-base interval of s.
func (s State) Locus() interval.Interval {
	return interval.Locus(s.Contig, s.Pos)
}

// StateRange holds the states of one shard.  States cover Boundary.Core
// exactly, one per locus, in increasing order.
type StateRange struct {
	Boundary interval.ShardBoundary
	States   []State
}

// Validate checks that r.States cover r.Boundary.Core one locus at a time.
func (r StateRange) Validate() error {
	core := r.Boundary.Core
	if len(r.States) != core.Len() {
		return errors.E(errors.Precondition, fmt.Sprintf("activity: %d states for core %v", len(r.States), core))
	}
	for i, s := range r.States {
		if s.Contig != core.Contig || s.Pos != core.Start+i {
			return errors.E(errors.Precondition, fmt.Sprintf("activity: state %s:%d at index %d of core %v", s.Contig, s.Pos, i, core))
		}
	}
	return nil
}
