// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package activity

import (
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/regionfinder/feature"
	"github.com/grailbio/regionfinder/interval"
	"github.com/grailbio/regionfinder/pileup"
)

// Opts controls pileup construction for activity computation.
type Opts struct {
	// IncludeDeletions keeps elements that fall inside deletions in the
	// pileups handed to the evaluator.
	IncludeDeletions bool
}

// DefaultOpts is the default Opts.
var DefaultOpts = Opts{IncludeDeletions: true}

// Computer lazily computes the activity profile of a shard: one State per
// locus of the shard's core, in increasing order.  Reads from the padding are
// used only to build the pileups of the core loci.
//
// Usage:
//   c := activity.NewComputer(reads, boundary, ref, features, ev, opts)
//   for c.Scan() {
//     s := c.State()
//     ...
//   }
//   if err := c.Err(); err != nil { ... }
type Computer struct {
	core     interval.Interval
	builder  *pileup.Builder
	ref      ReferenceSource
	features feature.Source
	ev       Evaluator

	refBases  []byte
	refLoaded bool
	state     State
	err       error
}

// NewComputer creates a computer over the reads of one shard.  ref and
// features may be nil.
func NewComputer(reads []*sam.Record, boundary interval.ShardBoundary, ref ReferenceSource, features feature.Source, ev Evaluator, opts Opts) *Computer {
	return &Computer{
		core:     boundary.Core,
		builder:  pileup.NewBuilder(reads, boundary.Core, opts.IncludeDeletions),
		ref:      ref,
		features: features,
		ev:       ev,
	}
}

// Scan computes the state of the next locus.  It returns false when the core
// is exhausted or on error.
func (c *Computer) Scan() bool {
	if c.err != nil {
		return false
	}
	if !c.refLoaded {
		c.refLoaded = true
		if c.ref != nil {
			if c.refBases, c.err = c.ref.Slice(c.core); c.err != nil {
				return false
			}
			if len(c.refBases) != c.core.Len() {
				c.err = errors.E(errors.Precondition, fmt.Sprintf("activity: got %d reference bases for %v", len(c.refBases), c.core))
				return false
			}
		}
	}
	if !c.builder.Scan() {
		c.err = c.builder.Err()
		return false
	}
	p := c.builder.Pileup()
	var refBase []byte
	if c.refBases != nil {
		i := p.Pos - c.core.Start
		refBase = c.refBases[i : i+1]
	}
	var features []feature.Feature
	if c.features != nil {
		features = c.features.Slice(p.Locus())
	}
	res, err := c.ev.IsActive(p, refBase, features)
	if err != nil {
		c.err = errors.E(err, fmt.Sprintf("activity: evaluating %s:%d", p.Contig, p.Pos))
		return false
	}
	if math.IsNaN(res.Prob) || res.Prob < 0 || res.Prob > 1 {
		c.err = errors.E(errors.Precondition, fmt.Sprintf("activity: evaluator returned probability %v at %s:%d", res.Prob, p.Contig, p.Pos))
		return false
	}
	c.state = State{Contig: p.Contig, Pos: p.Pos, Prob: res.Prob, HighQualitySoftClips: res.HighQualitySoftClips}
	return true
}

// State returns the state computed by the last successful Scan.
func (c *Computer) State() State {
	return c.state
}

// Err returns the error that stopped Scan, if any.
func (c *Computer) Err() error {
	return c.err
}

// Compute runs a Computer to completion and returns the shard's StateRange.
func Compute(reads []*sam.Record, boundary interval.ShardBoundary, ref ReferenceSource, features feature.Source, ev Evaluator, opts Opts) (StateRange, error) {
	c := NewComputer(reads, boundary, ref, features, ev, opts)
	r := StateRange{Boundary: boundary, States: make([]State, 0, boundary.Core.Len())}
	for c.Scan() {
		r.States = append(r.States, c.State())
	}
	if err := c.Err(); err != nil {
		return StateRange{}, err
	}
	return r, nil
}
