// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package feature provides read-only sources of genomic feature annotations
// (known sites, targets) that are attached to assembly regions.
package feature

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/biogo/store/interval"
	"github.com/grailbio/base/errors"
	gi "github.com/grailbio/regionfinder/interval"
)

// Feature is one annotation.  Score is 0 when the source has none.
type Feature struct {
	gi.Interval
	Name  string
	Score float64
}

// Source answers overlap queries over a feature set.  Implementations must be
// safe for concurrent use.
type Source interface {
	// Slice returns the features overlapping iv, ordered by start.  The
	// result is owned by the caller.
	Slice(iv gi.Interval) []Feature
}

type entry struct {
	idx        int
	start, end int // 0-based half-open
}

func (e entry) Overlap(b interval.IntRange) bool {
	return e.start < b.End && b.Start < e.end
}
func (e entry) ID() uintptr               { return uintptr(e.idx) }
func (e entry) Range() interval.IntRange { return interval.IntRange{Start: e.start, End: e.end} }

type query struct{ start, end int }

func (q query) Overlap(b interval.IntRange) bool {
	return q.start < b.End && b.Start < q.end
}

// TreeSource is a Source backed by one interval tree per contig.
type TreeSource struct {
	features []Feature
	trees    map[string]*interval.IntTree
}

// NewTreeSource indexes features.  When dict is non-nil every feature is
// validated against it.
func NewTreeSource(features []Feature, dict *gi.Dictionary) (*TreeSource, error) {
	s := &TreeSource{
		features: make([]Feature, len(features)),
		trees:    map[string]*interval.IntTree{},
	}
	copy(s.features, features)
	sort.SliceStable(s.features, func(i, j int) bool {
		a, b := s.features[i], s.features[j]
		if a.Contig != b.Contig {
			return a.Contig < b.Contig
		}
		return a.Start < b.Start
	})
	for idx, f := range s.features {
		if dict != nil {
			if err := dict.Validate(f.Interval); err != nil {
				return nil, err
			}
		} else if !f.Valid() {
			return nil, errors.E(errors.Precondition, fmt.Sprintf("feature: invalid interval %v", f.Interval))
		}
		tree, ok := s.trees[f.Contig]
		if !ok {
			tree = &interval.IntTree{}
			s.trees[f.Contig] = tree
		}
		if err := tree.Insert(entry{idx: idx, start: f.Start - 1, end: f.End}, true); err != nil {
			return nil, errors.E(err, "feature.NewTreeSource", f.Name)
		}
	}
	for _, tree := range s.trees {
		tree.AdjustRanges()
	}
	return s, nil
}

// Len returns the number of features in s.
func (s *TreeSource) Len() int { return len(s.features) }

// Slice implements Source.
func (s *TreeSource) Slice(iv gi.Interval) []Feature {
	tree, ok := s.trees[iv.Contig]
	if !ok || !iv.Valid() {
		return nil
	}
	hits := tree.Get(query{start: iv.Start - 1, end: iv.End})
	if len(hits) == 0 {
		return nil
	}
	idxs := make([]int, len(hits))
	for i, h := range hits {
		idxs[i] = h.(entry).idx
	}
	sort.Ints(idxs)
	out := make([]Feature, len(idxs))
	for i, idx := range idxs {
		out[i] = s.features[idx]
	}
	return out
}

// LoadBED reads features from a (possibly gzipped) BED file.  The fourth
// column, if present, is the feature name and the fifth its score.
func LoadBED(ctx context.Context, path string, dict *gi.Dictionary) (*TreeSource, error) {
	recs, err := gi.ReadBEDPath(ctx, path)
	if err != nil {
		return nil, err
	}
	features := make([]Feature, len(recs))
	for i, rec := range recs {
		f := Feature{Interval: rec.Interval}
		if len(rec.Extra) > 0 {
			f.Name = rec.Extra[0]
		}
		if len(rec.Extra) > 1 && rec.Extra[1] != "." {
			if f.Score, err = strconv.ParseFloat(rec.Extra[1], 64); err != nil {
				return nil, errors.E(errors.Precondition, err, fmt.Sprintf("feature.LoadBED: %s: score of %v", path, rec.Interval))
			}
		}
		features[i] = f
	}
	return NewTreeSource(features, dict)
}
