// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bandpass

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/regionfinder/activity"
	"github.com/grailbio/regionfinder/interval"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

type region struct {
	Core, Padded string
	Active       bool
}

func newDict(t *testing.T, contigs ...interval.Contig) *interval.Dictionary {
	dict, err := interval.NewDictionary(contigs)
	assert.NoError(t, err)
	return dict
}

// states returns one state per entry of probs, starting at chr1:start.
func states(start int, probs ...float64) []activity.State {
	s := make([]activity.State, len(probs))
	for i, p := range probs {
		s[i] = activity.State{Contig: "chr1", Pos: start + i, Prob: p}
	}
	return s
}

func segment(t *testing.T, params Params, dict *interval.Dictionary, ss []activity.State) []region {
	var got []region
	g, err := New(params, dict, func(b interval.ShardBoundary, active bool) error {
		got = append(got, region{b.Core.String(), b.Padded.String(), active})
		return nil
	})
	assert.NoError(t, err)
	for _, s := range ss {
		assert.NoError(t, g.Add(s))
		expect.LE(t, len(g.run), params.MaxRegionSize+params.MinRegionSize)
	}
	assert.NoError(t, g.Flush())
	return got
}

func checkRegions(t *testing.T, got, want []region) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("regions mismatch (-want +got):\n%s", diff)
	}
}

func TestUniformInactive(t *testing.T) {
	dict := newDict(t, interval.Contig{Name: "chr1", Length: 1000})
	params := Params{MinRegionSize: 50, MaxRegionSize: 300, RegionPadding: 100, ActiveProbThreshold: 0.2, MaxProbPropagationDistance: 50}
	got := segment(t, params, dict, states(1, make([]float64, 1000)...))
	checkRegions(t, got, []region{
		{"chr1:1-300", "chr1:1-400", false},
		{"chr1:301-600", "chr1:201-700", false},
		{"chr1:601-900", "chr1:501-1000", false},
		{"chr1:901-1000", "chr1:801-1000", false},
	})

	params.MaxRegionSize = 1000
	got = segment(t, params, dict, states(1, make([]float64, 1000)...))
	checkRegions(t, got, []region{{"chr1:1-1000", "chr1:1-1000", false}})
}

func TestSmoothing(t *testing.T) {
	dict := newDict(t, interval.Contig{Name: "chr1", Length: 20})
	params := Params{MinRegionSize: 1, MaxRegionSize: 20, RegionPadding: 2, ActiveProbThreshold: 0.15, MaxProbPropagationDistance: 2}
	probs := make([]float64, 20)
	probs[9] = 0.9
	// Smoothed: 0.3 at 10, 0.2 at 9 and 11, 0.1 at 8 and 12.
	got := segment(t, params, dict, states(1, probs...))
	checkRegions(t, got, []region{
		{"chr1:1-8", "chr1:1-10", false},
		{"chr1:9-11", "chr1:7-13", true},
		{"chr1:12-20", "chr1:10-20", false},
	})

	// Spreading over one soft-clipped base each side widens the active run.
	ss := states(1, probs...)
	ss[9].HighQualitySoftClips = 1
	got = segment(t, params, dict, ss)
	checkRegions(t, got, []region{
		{"chr1:1-7", "chr1:1-9", false},
		{"chr1:8-12", "chr1:6-14", true},
		{"chr1:13-20", "chr1:11-20", false},
	})

	// Soft clip spreading is capped by the propagation distance.
	ss[9].HighQualitySoftClips = 100
	capped := segment(t, params, dict, ss)
	ss[9].HighQualitySoftClips = 2
	checkRegions(t, capped, segment(t, params, dict, ss))
}

func TestSmoothingAtSpanEdge(t *testing.T) {
	dict := newDict(t, interval.Contig{Name: "chr1", Length: 20})
	params := Params{MinRegionSize: 1, MaxRegionSize: 20, ActiveProbThreshold: 0.15, MaxProbPropagationDistance: 2}
	probs := make([]float64, 10)
	probs[0] = 0.9
	probs[9] = 0.9
	// Contributions outside chr1:1-10 are dropped.
	got := segment(t, params, dict, states(1, probs...))
	checkRegions(t, got, []region{
		{"chr1:1-2", "chr1:1-2", true},
		{"chr1:3-8", "chr1:3-8", false},
		{"chr1:9-10", "chr1:9-10", true},
	})
}

func TestActiveCutAtMinimum(t *testing.T) {
	dict := newDict(t, interval.Contig{Name: "chr1", Length: 8})
	params := Params{MinRegionSize: 2, MaxRegionSize: 5, ActiveProbThreshold: 0.5}
	got := segment(t, params, dict, states(1, 0.9, 0.9, 0.6, 0.9, 0.9, 0.9, 0.9, 0.9))
	checkRegions(t, got, []region{
		{"chr1:1-3", "chr1:1-3", true},
		{"chr1:4-8", "chr1:4-8", true},
	})

	// Without a local minimum the cut falls at the end of the window.
	got = segment(t, params, dict, states(1, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9))
	checkRegions(t, got, []region{
		{"chr1:1-5", "chr1:1-5", true},
		{"chr1:6-8", "chr1:6-8", true},
	})
}

func TestShortRegions(t *testing.T) {
	dict := newDict(t, interval.Contig{Name: "chr1", Length: 10})
	params := Params{MinRegionSize: 3, MaxRegionSize: 4, ActiveProbThreshold: 0.5}
	// A short run between differently classified runs is kept.
	got := segment(t, params, dict, states(1, 0, 0, 0, 0.9, 0, 0, 0))
	checkRegions(t, got, []region{
		{"chr1:1-3", "chr1:1-3", false},
		{"chr1:4-4", "chr1:4-4", true},
		{"chr1:5-7", "chr1:5-7", false},
	})
	// No cut avoids a short tail when max < 2*min.
	got = segment(t, params, dict, states(1, 0, 0, 0, 0, 0))
	checkRegions(t, got, []region{
		{"chr1:1-4", "chr1:1-4", false},
		{"chr1:5-5", "chr1:5-5", false},
	})
	// Window end cuts leave no tail shorter than the minimum.
	got = segment(t, params, dict, states(1, 0, 0, 0, 0, 0, 0, 0))
	checkRegions(t, got, []region{
		{"chr1:1-4", "chr1:1-4", false},
		{"chr1:5-7", "chr1:5-7", false},
	})
}

func TestGapsAndContigs(t *testing.T) {
	dict := newDict(t, interval.Contig{Name: "chr1", Length: 20}, interval.Contig{Name: "chr2", Length: 5})
	params := Params{MinRegionSize: 1, MaxRegionSize: 20, RegionPadding: 1, ActiveProbThreshold: 0.5}
	ss := append(states(1, 0, 0), states(10, 0.9, 0.9)...)
	ss = append(ss, activity.State{Contig: "chr2", Pos: 5, Prob: 0})
	got := segment(t, params, dict, ss)
	checkRegions(t, got, []region{
		{"chr1:1-2", "chr1:1-3", false},
		{"chr1:10-11", "chr1:9-12", true},
		{"chr2:5-5", "chr2:4-5", false},
	})
}

func TestErrors(t *testing.T) {
	dict := newDict(t, interval.Contig{Name: "chr1", Length: 20})
	emit := func(interval.ShardBoundary, bool) error { return nil }
	for _, p := range []Params{
		{MinRegionSize: 0, MaxRegionSize: 10},
		{MinRegionSize: 10, MaxRegionSize: 5},
		{MinRegionSize: 1, MaxRegionSize: 5, RegionPadding: -1},
		{MinRegionSize: 1, MaxRegionSize: 5, MaxProbPropagationDistance: -1},
		{MinRegionSize: 1, MaxRegionSize: 5, ActiveProbThreshold: 1.5},
	} {
		_, err := New(p, dict, emit)
		expect.True(t, errors.Is(errors.Invalid, err), "%+v", p)
	}
	assert.NoError(t, DefaultParams.Validate())

	g, err := New(DefaultParams, dict, emit)
	assert.NoError(t, err)
	assert.NoError(t, g.Add(activity.State{Contig: "chr1", Pos: 5}))
	expect.True(t, errors.Is(errors.Precondition, g.Add(activity.State{Contig: "chr1", Pos: 5})))
	expect.True(t, errors.Is(errors.Precondition, g.Add(activity.State{Contig: "chr1", Pos: 6, Prob: 2})))
	expect.True(t, errors.Is(errors.NotExist, g.Add(activity.State{Contig: "chr9", Pos: 1})))
	expect.True(t, errors.Is(errors.Precondition, g.Add(activity.State{Contig: "chr1", Pos: 21})))

	// A contiguous run may not step past the contig end.
	var emitted []interval.ShardBoundary
	g, err = New(Params{MinRegionSize: 1, MaxRegionSize: 5}, dict, func(b interval.ShardBoundary, _ bool) error {
		emitted = append(emitted, b)
		return nil
	})
	assert.NoError(t, err)
	for pos := 1; pos <= 20; pos++ {
		assert.NoError(t, g.Add(activity.State{Contig: "chr1", Pos: pos}))
	}
	expect.True(t, errors.Is(errors.Precondition, g.Add(activity.State{Contig: "chr1", Pos: 21})))
	assert.NoError(t, g.Flush())
	expect.EQ(t, len(emitted), 4)
	for _, b := range emitted {
		expect.True(t, b.Valid() && b.Padded.Contains(b.Core), b)
	}

	fail := errors.E("emit failed")
	g, err = New(DefaultParams, dict, func(interval.ShardBoundary, bool) error { return fail })
	assert.NoError(t, err)
	assert.NoError(t, g.Add(activity.State{Contig: "chr1", Pos: 1}))
	expect.EQ(t, g.Flush(), fail)
}
