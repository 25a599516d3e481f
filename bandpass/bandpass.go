// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bandpass segments an activity profile into contiguous active and
// inactive regions.  The per-locus probabilities are spread over high
// quality soft clips, smoothed with a triangular kernel, thresholded, and the
// resulting runs are cut to the configured size bounds.
package bandpass

import (
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/regionfinder/activity"
	"github.com/grailbio/regionfinder/interval"
)

// Params configures a Segmenter.
type Params struct {
	// MinRegionSize is the preferred minimum core length.  Shorter regions
	// are emitted only when merging them would exceed MaxRegionSize or
	// change their classification.
	MinRegionSize int
	// MaxRegionSize bounds the core length of every region.
	MaxRegionSize int
	// RegionPadding is added to each side of the core, clipped to the contig.
	RegionPadding int
	// ActiveProbThreshold is the smoothed probability at and above which a
	// locus is active.
	ActiveProbThreshold float64
	// MaxProbPropagationDistance is the half-width of the smoothing kernel.
	MaxProbPropagationDistance int
}

// DefaultParams is the default Params.
var DefaultParams = Params{
	MinRegionSize:              50,
	MaxRegionSize:              300,
	RegionPadding:              100,
	ActiveProbThreshold:        0.002,
	MaxProbPropagationDistance: 50,
}

// Validate checks p for consistency.
func (p Params) Validate() error {
	switch {
	case p.MinRegionSize <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("bandpass: min region size %d must be positive", p.MinRegionSize))
	case p.MaxRegionSize < p.MinRegionSize:
		return errors.E(errors.Invalid, fmt.Sprintf("bandpass: max region size %d is smaller than min region size %d", p.MaxRegionSize, p.MinRegionSize))
	case p.RegionPadding < 0:
		return errors.E(errors.Invalid, fmt.Sprintf("bandpass: negative region padding %d", p.RegionPadding))
	case p.MaxProbPropagationDistance < 0:
		return errors.E(errors.Invalid, fmt.Sprintf("bandpass: negative propagation distance %d", p.MaxProbPropagationDistance))
	case math.IsNaN(p.ActiveProbThreshold) || p.ActiveProbThreshold < 0 || p.ActiveProbThreshold > 1:
		return errors.E(errors.Invalid, fmt.Sprintf("bandpass: active threshold %v outside [0, 1]", p.ActiveProbThreshold))
	}
	return nil
}

// EmitFunc receives each finalized region, in genome order.  b.Core is the
// region and b.Padded its padded extent.
type EmitFunc func(b interval.ShardBoundary, active bool) error

type piece struct {
	start, end int
	active     bool
}

func (p piece) len() int { return p.end - p.start + 1 }

// Segmenter turns a stream of activity states into regions.  States must be
// added in increasing order; a gap or a new contig finalizes the open span
// and starts a new one.  The Segmenter holds at most
// MaxRegionSize+MinRegionSize+2*MaxProbPropagationDistance states, so a whole
// contig can be streamed through it.
//
// Usage:
//   s, err := bandpass.New(params, dict, emit)
//   for _, state := range states {
//     if err := s.Add(state); err != nil { ... }
//   }
//   if err := s.Flush(); err != nil { ... }
type Segmenter struct {
	params Params
	dict   *interval.Dictionary
	emit   EmitFunc
	// kernel[d] is the normalized weight of distance d.
	kernel []float64

	// The open span is contig:start-last.  start is 0 when no span is open.
	contig    string
	contigLen int
	start     int
	last      int

	// raw[i] accumulates the spread probability of locus rawStart+i.
	raw      []float64
	rawStart int
	// smooth[i] accumulates the smoothed probability of locus smoothStart+i.
	smooth      []float64
	smoothStart int

	// run holds the smoothed values of the open run, which starts at runStart.
	run       []float64
	runStart  int
	runActive bool

	// held is the last cut piece of the open run.  It is emitted once it is
	// known that no short piece will be merged into it.
	held    piece
	hasHeld bool
}

// New creates a Segmenter.  dict provides the contig lengths used to clip
// padding.
func New(params Params, dict *interval.Dictionary, emit EmitFunc) (*Segmenter, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	d := params.MaxProbPropagationDistance
	kernel := make([]float64, d+1)
	norm := float64((d + 1) * (d + 1))
	for i := range kernel {
		kernel[i] = float64(d+1-i) / norm
	}
	return &Segmenter{params: params, dict: dict, emit: emit, kernel: kernel}, nil
}

// Add appends the state of the locus following the last one added.
func (g *Segmenter) Add(s activity.State) error {
	if math.IsNaN(s.Prob) || s.Prob < 0 || s.Prob > 1 {
		return errors.E(errors.Precondition, fmt.Sprintf("bandpass: probability %v at %s:%d", s.Prob, s.Contig, s.Pos))
	}
	if g.start > 0 {
		if s.Contig == g.contig && s.Pos <= g.last {
			return errors.E(errors.Precondition, fmt.Sprintf("bandpass: %s:%d added after %s:%d", s.Contig, s.Pos, g.contig, g.last))
		}
		if s.Contig != g.contig || s.Pos != g.last+1 {
			if err := g.Flush(); err != nil {
				return err
			}
		}
	}
	if g.start == 0 {
		n, ok := g.dict.Length(s.Contig)
		if !ok {
			return errors.E(errors.NotExist, fmt.Sprintf("bandpass: unknown contig %s", s.Contig))
		}
		if s.Pos < 1 || s.Pos > n {
			return errors.E(errors.Precondition, fmt.Sprintf("bandpass: %s:%d outside contig of length %d", s.Contig, s.Pos, n))
		}
		g.contig, g.contigLen = s.Contig, n
		g.start, g.rawStart, g.smoothStart = s.Pos, s.Pos, s.Pos
	}
	if s.Pos > g.contigLen {
		return errors.E(errors.Precondition, fmt.Sprintf("bandpass: %s:%d outside contig of length %d", s.Contig, s.Pos, g.contigLen))
	}
	g.last = s.Pos
	d := g.params.MaxProbPropagationDistance

	w := 0
	if s.HighQualitySoftClips > 0 {
		w = s.HighQualitySoftClips
		if w > d {
			w = d
		}
	}
	for q := s.Pos - w; q <= s.Pos+w; q++ {
		if q < g.start || q > g.contigLen {
			continue
		}
		i := q - g.rawStart
		for len(g.raw) <= i {
			g.raw = append(g.raw, 0)
		}
		g.raw[i] += s.Prob
	}
	// No later state reaches back further than d loci.
	for g.rawStart <= g.last-d {
		g.foldRaw()
	}
	for g.smoothStart <= g.last-2*d {
		if err := g.popSmooth(); err != nil {
			return err
		}
	}
	return nil
}

// foldRaw smooths the raw value at rawStart into its neighbourhood.
func (g *Segmenter) foldRaw() {
	var v float64
	if len(g.raw) > 0 {
		v = g.raw[0]
		g.raw = g.raw[1:]
	}
	q := g.rawStart
	g.rawStart++
	if v == 0 {
		return
	}
	d := len(g.kernel) - 1
	for i := q - d; i <= q+d; i++ {
		if i < g.start || i > g.contigLen {
			continue
		}
		j := i - g.smoothStart
		for len(g.smooth) <= j {
			g.smooth = append(g.smooth, 0)
		}
		dist := i - q
		if dist < 0 {
			dist = -dist
		}
		g.smooth[j] += v * g.kernel[dist]
	}
}

// popSmooth hands the smoothed value at smoothStart to the run segmentation.
func (g *Segmenter) popSmooth() error {
	var v float64
	if len(g.smooth) > 0 {
		v = g.smooth[0]
		g.smooth = g.smooth[1:]
	}
	pos := g.smoothStart
	g.smoothStart++
	return g.push(pos, v)
}

func (g *Segmenter) push(pos int, v float64) error {
	active := v >= g.params.ActiveProbThreshold
	if len(g.run) > 0 && active != g.runActive {
		if err := g.closeRun(); err != nil {
			return err
		}
	}
	if len(g.run) == 0 {
		g.runStart, g.runActive = pos, active
	}
	g.run = append(g.run, v)
	// With more than max+min loci buffered the first cut no longer depends on
	// where the run ends.
	if len(g.run) > g.params.MaxRegionSize+g.params.MinRegionSize {
		return g.cut(g.cutLength(len(g.run)))
	}
	return nil
}

// cutLength returns the length of the next piece of a run whose total
// remaining length is remaining.
//
// REQUIRES: remaining > MaxRegionSize.
func (g *Segmenter) cutLength(remaining int) int {
	lo, hi := g.params.MinRegionSize, g.params.MaxRegionSize
	if r := remaining - g.params.MinRegionSize; r < hi {
		hi = r
	}
	if hi < lo {
		return g.params.MaxRegionSize
	}
	if !g.runActive {
		return hi
	}
	best := -1
	for i := hi - 1; i >= lo-1 && i >= 1; i-- {
		v := g.run[i]
		if v < g.run[i-1] && g.run[i+1] >= v && (best < 0 || v < g.run[best]) {
			best = i
		}
	}
	if best < 0 {
		return hi
	}
	return best + 1
}

// cut finalizes the first n loci of the open run.
func (g *Segmenter) cut(n int) error {
	p := piece{start: g.runStart, end: g.runStart + n - 1, active: g.runActive}
	g.run = g.run[n:]
	g.runStart += n
	return g.add(p)
}

func (g *Segmenter) add(p piece) error {
	if g.hasHeld {
		h := g.held
		if p.len() < g.params.MinRegionSize && h.active == p.active && h.end+1 == p.start && h.len()+p.len() <= g.params.MaxRegionSize {
			g.held.end = p.end
			return nil
		}
		if err := g.release(); err != nil {
			return err
		}
	}
	g.held, g.hasHeld = p, true
	return nil
}

func (g *Segmenter) release() error {
	if !g.hasHeld {
		return nil
	}
	g.hasHeld = false
	core := interval.New(g.contig, g.held.start, g.held.end)
	b := interval.ShardBoundary{Core: core, Padded: g.dict.Expand(core, g.params.RegionPadding)}
	return g.emit(b, g.held.active)
}

// closeRun finalizes the open run.
func (g *Segmenter) closeRun() error {
	for len(g.run) > g.params.MaxRegionSize {
		if err := g.cut(g.cutLength(len(g.run))); err != nil {
			return err
		}
	}
	if len(g.run) > 0 {
		if err := g.cut(len(g.run)); err != nil {
			return err
		}
	}
	return g.release()
}

// Flush finalizes the open span.  Smoothing contributions that fall beyond
// the last added locus are dropped.
func (g *Segmenter) Flush() error {
	if g.start == 0 {
		return nil
	}
	for g.rawStart <= g.last {
		g.foldRaw()
	}
	for g.smoothStart <= g.last {
		if err := g.popSmooth(); err != nil {
			return err
		}
	}
	err := g.closeRun()
	g.start, g.last = 0, 0
	g.raw, g.smooth, g.run = g.raw[:0], g.smooth[:0], g.run[:0]
	g.hasHeld = false
	return err
}
