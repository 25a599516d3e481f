// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package interval

import (
	"fmt"
)

// Interval is a contiguous range of loci on one contig.  Start is 1-based and
// End is inclusive, so Interval{"chr1", 1, 1000} covers the first thousand
// bases of chr1.
type Interval struct {
	Contig string
	Start  int
	End    int
}

// New returns the interval contig:start-end.
func New(contig string, start, end int) Interval {
	return Interval{Contig: contig, Start: start, End: end}
}

// Locus returns the single-base interval contig:pos-pos.
func Locus(contig string, pos int) Interval {
	return Interval{Contig: contig, Start: pos, End: pos}
}

// Valid reports whether iv names a contig and has 1 <= Start <= End.
func (iv Interval) Valid() bool {
	return iv.Contig != "" && iv.Start >= 1 && iv.End >= iv.Start
}

// Len returns the number of loci covered by iv.
func (iv Interval) Len() int {
	if iv.End < iv.Start {
		return 0
	}
	return iv.End - iv.Start + 1
}

// Overlaps reports whether iv and o share at least one locus.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Contig == o.Contig && iv.Start <= o.End && o.Start <= iv.End
}

// Contains reports whether every locus of o is in iv.
func (iv Interval) Contains(o Interval) bool {
	return iv.Contig == o.Contig && iv.Start <= o.Start && o.End <= iv.End
}

// ContainsPos reports whether contig:pos is in iv.
func (iv Interval) ContainsPos(contig string, pos int) bool {
	return iv.Contig == contig && iv.Start <= pos && pos <= iv.End
}

// Abuts reports whether o starts immediately after iv ends.
func (iv Interval) Abuts(o Interval) bool {
	return iv.Contig == o.Contig && o.Start == iv.End+1
}

// Intersect returns the loci common to iv and o.  The second return value is
// false if they do not overlap.
func (iv Interval) Intersect(o Interval) (Interval, bool) {
	if !iv.Overlaps(o) {
		return Interval{}, false
	}
	return Interval{Contig: iv.Contig, Start: max(iv.Start, o.Start), End: min(iv.End, o.End)}, true
}

// Span returns the smallest interval containing both iv and o.
//
// REQUIRES: iv.Contig == o.Contig.
func (iv Interval) Span(o Interval) Interval {
	if iv.Contig != o.Contig {
		panic(fmt.Sprintf("interval.Span: %v and %v are on different contigs", iv, o))
	}
	return Interval{Contig: iv.Contig, Start: min(iv.Start, o.Start), End: max(iv.End, o.End)}
}

// String renders iv as contig:start-end.
func (iv Interval) String() string {
	return fmt.Sprintf("%s:%d-%d", iv.Contig, iv.Start, iv.End)
}

func min(x, y int) int {
	if y < x {
		return y
	}
	return x
}

func max(x, y int) int {
	if y > x {
		return y
	}
	return x
}
