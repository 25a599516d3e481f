// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package assemblyregion

import (
	"context"
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/regionfinder/activity"
	"github.com/grailbio/regionfinder/cluster"
	"github.com/grailbio/regionfinder/encoding/bamprovider"
	"github.com/grailbio/regionfinder/feature"
	"github.com/grailbio/regionfinder/interval"
	"github.com/grailbio/regionfinder/sharder"
)

// Mode selects how regions are segmented.
type Mode int

const (
	// Fast segments every read shard on its own.  Region boundaries near
	// shard joins depend on the shard size.
	Fast Mode = iota
	// Strict segments every contig as a whole, at the cost of two shuffles.
	Strict
)

// String returns "fast" or "strict".
func (m Mode) String() string {
	switch m {
	case Fast:
		return "fast"
	case Strict:
		return "strict"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses "fast" or "strict", case insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "fast":
		return Fast, nil
	case "strict":
		return Strict, nil
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("assemblyregion: unknown mode %q, want fast or strict", s))
}

// Inputs are the data sources of a run.  The sources are shared by all
// workers and only read.
type Inputs struct {
	Reads      bamprovider.Provider
	Dict       *interval.Dictionary
	Evaluators activity.Factory

	// Intervals lists the loci to scan.  They are normalized before use.
	// An empty list means the whole genome.
	Intervals []interval.Interval

	// Ref is optional unless Evaluators.RequiresReference().
	Ref activity.ReferenceSource

	// Features is optional.
	Features feature.Source
}

func (in Inputs) validate(args Args) error {
	if err := args.Validate(); err != nil {
		return err
	}
	switch {
	case in.Reads == nil:
		return errors.E(errors.Invalid, "assemblyregion: no read source")
	case in.Dict == nil:
		return errors.E(errors.Invalid, "assemblyregion: no sequence dictionary")
	case in.Evaluators == nil:
		return errors.E(errors.Invalid, "assemblyregion: no activity evaluator")
	case in.Ref == nil && in.Evaluators.RequiresReference():
		return errors.E(errors.Invalid, "assemblyregion: the activity evaluator requires a reference")
	}
	return nil
}

// shards creates the sharder and the initial read shards.
func (in Inputs) shards(args Args) (*sharder.Sharder, []*sharder.Shard[*sam.Record], error) {
	ivs := in.Dict.WholeGenome()
	if len(in.Intervals) > 0 {
		var err error
		if ivs, err = interval.Normalize(in.Intervals, in.Dict); err != nil {
			return nil, nil, err
		}
	}
	s, err := sharder.New(in.Reads, in.Dict, args.ReadShardSize)
	if err != nil {
		return nil, nil, err
	}
	bs, err := s.BoundariesFor(ivs, args.ReadShardPadding)
	if err != nil {
		return nil, nil, err
	}
	shards, err := s.Shards(bs)
	if err != nil {
		return nil, nil, err
	}
	return s, shards, nil
}

// withEvaluator runs fn with a fresh evaluator and closes it afterwards.
func withEvaluator(f activity.Factory, fn func(ev activity.Evaluator) error) (err error) {
	ev, err := f.New()
	if err != nil {
		return errors.E(err, "assemblyregion: creating activity evaluator")
	}
	defer func() {
		if e := ev.Close(); e != nil && err == nil {
			err = e
		}
	}()
	return fn(ev)
}

// materializeParallelism bounds the shards of one partition read at once.
const materializeParallelism = 4

// Find runs FindFast or FindStrict.
func Find(ctx context.Context, mode Mode, in Inputs, args Args) (*cluster.Dataset[*WalkerContext], error) {
	switch mode {
	case Fast:
		return FindFast(ctx, in, args)
	case Strict:
		return FindStrict(ctx, in, args)
	}
	return nil, errors.E(errors.Invalid, fmt.Sprintf("assemblyregion: unknown mode %v", mode))
}
