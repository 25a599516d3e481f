// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package downsample caps read depth per alignment start.
package downsample

import (
	"github.com/grailbio/hts/sam"
)

type startKey struct {
	contig string
	pos    int
}

// Policy keeps the first N reads seen at each alignment start and rejects
// the rest.  A Policy is stateful and must be used for one shard only; it is
// not thread safe.  A nil *Policy accepts every read.
type Policy struct {
	maxPerStart int
	counts      map[startKey]int
	rejected    int
}

// New returns a policy keeping at most maxPerStart reads per alignment start.
// It returns nil, the pass-through policy, when maxPerStart <= 0.
func New(maxPerStart int) *Policy {
	if maxPerStart <= 0 {
		return nil
	}
	return &Policy{maxPerStart: maxPerStart, counts: map[startKey]int{}}
}

// Accept reports whether rec is kept.  Reads must be presented in a
// deterministic order (the shard order) for the result to be reproducible.
func (p *Policy) Accept(rec *sam.Record) bool {
	if p == nil || rec.Ref == nil {
		return true
	}
	k := startKey{rec.Ref.Name(), rec.Pos}
	n := p.counts[k]
	if n >= p.maxPerStart {
		p.rejected++
		return false
	}
	p.counts[k] = n + 1
	return true
}

// Rejected returns the number of reads rejected so far.
func (p *Policy) Rejected() int {
	if p == nil {
		return 0
	}
	return p.rejected
}

// Apply filters recs through a fresh policy.  The input slice is not
// modified.  When maxPerStart <= 0, recs is returned as is.
func Apply(recs []*sam.Record, maxPerStart int) []*sam.Record {
	p := New(maxPerStart)
	if p == nil {
		return recs
	}
	out := make([]*sam.Record, 0, len(recs))
	for _, r := range recs {
		if p.Accept(r) {
			out = append(out, r)
		}
	}
	return out
}
