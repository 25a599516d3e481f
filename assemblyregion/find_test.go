// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package assemblyregion_test

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/regionfinder/activity"
	"github.com/grailbio/regionfinder/assemblyregion"
	"github.com/grailbio/regionfinder/bandpass"
	"github.com/grailbio/regionfinder/cluster"
	"github.com/grailbio/regionfinder/encoding/bamprovider"
	"github.com/grailbio/regionfinder/encoding/fasta"
	"github.com/grailbio/regionfinder/feature"
	"github.com/grailbio/regionfinder/interval"
	"github.com/grailbio/regionfinder/pileup"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

var (
	chr1, _   = sam.NewReference("chr1", "", "", 3000, nil, nil)
	chr2, _   = sam.NewReference("chr2", "", "", 1500, nil, nil)
	header, _ = sam.NewHeader(nil, []*sam.Reference{chr1, chr2})
)

func newRead(t *testing.T, name string, ref *sam.Reference, pos, readLen int) *sam.Record {
	seq := make([]byte, readLen)
	qual := make([]byte, readLen)
	for i := range seq {
		seq[i] = "ACGT"[(pos-1+i)%4]
		qual[i] = 30
	}
	cigar := []sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, readLen)}
	r, err := sam.NewRecord(name, ref, nil, pos-1, -1, 0, 60, cigar, seq, qual, nil)
	require.NoError(t, err)
	return r
}

// randomReads returns reads spread over chr1 and chr2, denser around a few
// hotspots so that the activity profile has both active and inactive runs.
func randomReads(t *testing.T) []*sam.Record {
	r := rand.New(rand.NewSource(1))
	hotspots := []struct {
		ref        *sam.Reference
		start, end int
	}{
		{chr1, 480, 620},
		{chr1, 1400, 1700},
		{chr1, 2850, 2950},
		{chr2, 700, 760},
	}
	var reads []*sam.Record
	add := func(ref *sam.Reference, pos, n int) {
		if pos+n-1 > ref.Len() {
			n = ref.Len() - pos + 1
		}
		reads = append(reads, newRead(t, fmt.Sprintf("r%d", len(reads)), ref, pos, n))
	}
	for i := 0; i < 150; i++ {
		ref := chr1
		if i%3 == 0 {
			ref = chr2
		}
		add(ref, 1+r.Intn(ref.Len()), 30+r.Intn(70))
	}
	for _, h := range hotspots {
		for i := 0; i < 60; i++ {
			add(h.ref, h.start+r.Intn(h.end-h.start), 20+r.Intn(60))
		}
	}
	return reads
}

// depthFactory scores a locus by its depth.
var depthFactory = activity.FuncFactory{Fn: func(p *pileup.Pileup, ref []byte, features []feature.Feature) (activity.Result, error) {
	prob := float64(p.Depth()) / 20
	if prob > 1 {
		prob = 1
	}
	return activity.Result{Prob: prob}, nil
}}

func testArgs() assemblyregion.Args {
	args := assemblyregion.DefaultArgs
	args.ReadShardSize = 400
	args.ReadShardPadding = 100
	args.MinAssemblyRegionSize = 20
	args.MaxAssemblyRegionSize = 100
	args.AssemblyRegionPadding = 30
	args.ActiveProbThreshold = 0.4
	args.MaxProbPropagationDistance = 15
	args.MaxReadsPerAlignmentStart = 0
	args.Parallelism = 3
	return args
}

func testInputs(t *testing.T, reads []*sam.Record) assemblyregion.Inputs {
	p, err := bamprovider.NewMemProvider(header, reads)
	assert.NoError(t, err)
	dict, err := interval.DictionaryFromHeader(header)
	assert.NoError(t, err)
	return assemblyregion.Inputs{Reads: p, Dict: dict, Evaluators: depthFactory}
}

type result struct {
	Core, Padded string
	Active       bool
	Reads        string
}

func readNames(reads []*sam.Record) string {
	names := make([]string, len(reads))
	for i, r := range reads {
		names[i] = r.Name
	}
	return strings.Join(names, ",")
}

// summarize returns the regions of ds in genome order.
func summarize(dict *interval.Dictionary, ds *cluster.Dataset[*assemblyregion.WalkerContext]) []result {
	wcs := cluster.Collect(ds)
	sort.Slice(wcs, func(i, j int) bool { return dict.Compare(wcs[i].Boundary.Core, wcs[j].Boundary.Core) < 0 })
	out := make([]result, len(wcs))
	for i, wc := range wcs {
		out[i] = result{wc.Boundary.Core.String(), wc.Boundary.Padded.String(), wc.Active, readNames(wc.Reads)}
	}
	return out
}

// singlePass segments every contig in one pass over an unsharded activity
// profile.
func singlePass(t *testing.T, in assemblyregion.Inputs, args assemblyregion.Args, ivs []interval.Interval) []result {
	params := bandpass.Params{
		MinRegionSize:              args.MinAssemblyRegionSize,
		MaxRegionSize:              args.MaxAssemblyRegionSize,
		RegionPadding:              args.AssemblyRegionPadding,
		ActiveProbThreshold:        args.ActiveProbThreshold,
		MaxProbPropagationDistance: args.MaxProbPropagationDistance,
	}
	var out []result
	seg, err := bandpass.New(params, in.Dict, func(b interval.ShardBoundary, active bool) error {
		it := in.Reads.NewIterator(b.Padded)
		var reads []*sam.Record
		for it.Scan() {
			reads = append(reads, it.Record())
		}
		out = append(out, result{b.Core.String(), b.Padded.String(), active, readNames(reads)})
		return it.Close()
	})
	assert.NoError(t, err)
	ev, err := in.Evaluators.New()
	assert.NoError(t, err)
	for _, iv := range ivs {
		b, err := interval.NewShardBoundary(iv, args.ReadShardPadding, in.Dict)
		assert.NoError(t, err)
		it := in.Reads.NewIterator(b.Padded)
		var reads []*sam.Record
		for it.Scan() {
			reads = append(reads, it.Record())
		}
		assert.NoError(t, it.Close())
		r, err := activity.Compute(reads, b, nil, nil, ev, activity.Opts{IncludeDeletions: args.IncludeReadsWithDeletionsInIsActivePileups})
		assert.NoError(t, err)
		for _, s := range r.States {
			assert.NoError(t, seg.Add(s))
		}
	}
	assert.NoError(t, seg.Flush())
	return out
}

func checkResults(t *testing.T, got, want []result, msg string) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("%s: regions mismatch (-want +got):\n%s", msg, diff)
	}
}

func TestExample(t *testing.T) {
	ctx := context.Background()
	ref, _ := sam.NewReference("chr1", "", "", 1000, nil, nil)
	h, err := sam.NewHeader(nil, []*sam.Reference{ref})
	assert.NoError(t, err)
	p, err := bamprovider.NewMemProvider(h, nil)
	assert.NoError(t, err)
	dict, err := interval.DictionaryFromHeader(h)
	assert.NoError(t, err)
	in := assemblyregion.Inputs{
		Reads:      p,
		Dict:       dict,
		Evaluators: activity.ConstantFactory(0),
		Intervals:  []interval.Interval{interval.New("chr1", 1, 1000)},
	}
	args := assemblyregion.DefaultArgs
	args.ReadShardSize = 500
	args.ActiveProbThreshold = 0.2
	args.MaxAssemblyRegionSize = 1000

	strict, err := assemblyregion.Find(ctx, assemblyregion.Strict, in, args)
	assert.NoError(t, err)
	checkResults(t, summarize(dict, strict), []result{{"chr1:1-1000", "chr1:1-1000", false, ""}}, "strict")

	fast, err := assemblyregion.Find(ctx, assemblyregion.Fast, in, args)
	assert.NoError(t, err)
	checkResults(t, summarize(dict, fast), []result{
		{"chr1:1-500", "chr1:1-600", false, ""},
		{"chr1:501-1000", "chr1:401-1000", false, ""},
	}, "fast")
}

func TestStrictEquivalence(t *testing.T) {
	ctx := context.Background()
	in := testInputs(t, randomReads(t))
	ivs := []interval.Interval{
		interval.New("chr1", 101, 2000),
		interval.New("chr1", 2400, 3000),
		interval.New("chr2", 1, 1500),
	}
	in.Intervals = ivs
	args := testArgs()
	want := singlePass(t, in, args, ivs)
	var nActive int
	for _, r := range want {
		if r.Active {
			nActive++
		}
	}
	assert.True(t, nActive > 0 && nActive < len(want), "want both active and inactive regions, got %d/%d", nActive, len(want))

	for _, shardSize := range []int{97, 400, 1000, 5000} {
		for _, parallelism := range []int{1, 4} {
			args.ReadShardSize = shardSize
			args.Parallelism = parallelism
			args.Partitions = parallelism * 2
			ds, err := assemblyregion.FindStrict(ctx, in, args)
			assert.NoError(t, err)
			checkResults(t, summarize(in.Dict, ds), want, fmt.Sprintf("shard size %d, parallelism %d", shardSize, parallelism))
		}
	}
}

// checkLayout verifies that the cores exactly tile ivs and that the padding
// and size bounds hold.
func checkLayout(t *testing.T, dict *interval.Dictionary, args assemblyregion.Args, ds *cluster.Dataset[*assemblyregion.WalkerContext], ivs []interval.Interval, maxSize int) {
	t.Helper()
	wcs := cluster.Collect(ds)
	sort.Slice(wcs, func(i, j int) bool { return dict.Compare(wcs[i].Boundary.Core, wcs[j].Boundary.Core) < 0 })
	var cores []interval.Interval
	for _, wc := range wcs {
		b := wc.Boundary
		expect.EQ(t, b.Padded, dict.Expand(b.Core, args.AssemblyRegionPadding))
		expect.EQ(t, wc.Extension, b.Extension())
		expect.LE(t, b.Core.Len(), maxSize, b.Core)
		if n := len(cores); n > 0 && cores[n-1].Contig == b.Core.Contig && cores[n-1].End+1 == b.Core.Start {
			cores[n-1].End = b.Core.End
		} else {
			cores = append(cores, b.Core)
		}
		for _, r := range wc.Reads {
			start, end, ok := bamprovider.ReadSpan(r)
			expect.True(t, ok && r.Ref.Name() == b.Contig() && start <= b.Padded.End && end >= b.Padded.Start, "%s in %v", r.Name, b)
		}
	}
	expect.EQ(t, cores, ivs)
}

func TestLayout(t *testing.T) {
	ctx := context.Background()
	in := testInputs(t, randomReads(t))
	ivs := []interval.Interval{
		interval.New("chr1", 1, 1200),
		interval.New("chr1", 1500, 3000),
		interval.New("chr2", 1, 1500),
	}
	in.Intervals = ivs
	args := testArgs()
	for _, mode := range []assemblyregion.Mode{assemblyregion.Fast, assemblyregion.Strict} {
		ds, err := assemblyregion.Find(ctx, mode, in, args)
		assert.NoError(t, err, mode)
		checkLayout(t, in.Dict, args, ds, ivs, args.MaxAssemblyRegionSize)
	}

	// Without intervals the whole genome is scanned.
	in.Intervals = nil
	ds, err := assemblyregion.FindStrict(ctx, in, args)
	assert.NoError(t, err)
	checkLayout(t, in.Dict, args, ds, in.Dict.WholeGenome(), args.MaxAssemblyRegionSize)
}

func TestFastDeterminism(t *testing.T) {
	ctx := context.Background()
	in := testInputs(t, randomReads(t))
	args := testArgs()
	args.MaxReadsPerAlignmentStart = 2
	ds, err := assemblyregion.FindFast(ctx, in, args)
	assert.NoError(t, err)
	want := summarize(in.Dict, ds)

	for _, shuffle := range []bool{false, true} {
		for _, parallelism := range []int{1, 5} {
			args.Shuffle = shuffle
			args.Parallelism = parallelism
			ds, err := assemblyregion.FindFast(ctx, in, args)
			assert.NoError(t, err)
			checkResults(t, summarize(in.Dict, ds), want, fmt.Sprintf("shuffle %v, parallelism %d", shuffle, parallelism))
		}
	}
	// Shuffling the initial shards does not change strict results either.
	args.Shuffle = false
	ds, err = assemblyregion.FindStrict(ctx, in, args)
	assert.NoError(t, err)
	strict := summarize(in.Dict, ds)
	args.Shuffle = true
	ds, err = assemblyregion.FindStrict(ctx, in, args)
	assert.NoError(t, err)
	checkResults(t, summarize(in.Dict, ds), strict, "strict shuffle")
}

func TestSpanningRead(t *testing.T) {
	ctx := context.Background()
	span := newRead(t, "span", chr1, 380, 50)
	in := testInputs(t, []*sam.Record{span, newRead(t, "other", chr1, 100, 50)})
	in.Intervals = []interval.Interval{interval.New("chr1", 1, 800)}
	args := testArgs()

	for _, mode := range []assemblyregion.Mode{assemblyregion.Fast, assemblyregion.Strict} {
		ds, err := assemblyregion.Find(ctx, mode, in, args)
		assert.NoError(t, err)
		n := 0
		for _, wc := range cluster.Collect(ds) {
			overlaps := wc.Boundary.Padded.Overlaps(interval.New("chr1", 380, 429))
			found := false
			for _, r := range wc.Reads {
				found = found || r == span
			}
			expect.EQ(t, found, overlaps, "%v %v", mode, wc.Boundary)
			if found {
				n++
			}
		}
		// The read overlaps the padding of regions on both sides of 400.
		expect.GE(t, n, 2, mode)
	}
}

func TestEmptyShard(t *testing.T) {
	ctx := context.Background()
	var reads []*sam.Record
	for i := 0; i < 20; i++ {
		reads = append(reads, newRead(t, fmt.Sprintf("left%d", i), chr1, 50+5*i, 50))
		reads = append(reads, newRead(t, fmt.Sprintf("right%d", i), chr1, 950+5*i, 50))
	}
	in := testInputs(t, reads)
	ivs := []interval.Interval{interval.New("chr1", 1, 1200)}
	in.Intervals = ivs
	args := testArgs()
	// Shards 1-400, 401-800 and 801-1200; the middle one has no reads even
	// with its padding.
	args.ReadShardSize = 400
	ds, err := assemblyregion.FindFast(ctx, in, args)
	assert.NoError(t, err)
	checkLayout(t, in.Dict, args, ds, ivs, args.MaxAssemblyRegionSize)

	empty := interval.New("chr1", 401, 800)
	var n int
	for _, wc := range cluster.Collect(ds) {
		if !empty.Contains(wc.Boundary.Core) {
			continue
		}
		n += wc.Boundary.Core.Len()
		expect.False(t, wc.Active, wc.Boundary)
		expect.EQ(t, len(wc.Reads), 0, wc.Boundary)
	}
	// The read-free core is still covered, by inactive regions.
	expect.EQ(t, n, empty.Len())
}

func TestDownsampling(t *testing.T) {
	ctx := context.Background()
	var reads []*sam.Record
	for i := 0; i < 10; i++ {
		reads = append(reads, newRead(t, fmt.Sprintf("dup%d", i), chr2, 200, 40))
	}
	in := testInputs(t, reads)
	in.Intervals = []interval.Interval{interval.New("chr2", 150, 300)}
	args := testArgs()
	args.MaxReadsPerAlignmentStart = 3

	count := func(ds *cluster.Dataset[*assemblyregion.WalkerContext]) int {
		max := 0
		for _, wc := range cluster.Collect(ds) {
			if len(wc.Reads) > max {
				max = len(wc.Reads)
			}
		}
		return max
	}
	ds, err := assemblyregion.FindFast(ctx, in, args)
	assert.NoError(t, err)
	expect.EQ(t, count(ds), 3)
	ds, err = assemblyregion.FindStrict(ctx, in, args)
	assert.NoError(t, err)
	expect.EQ(t, count(ds), 10)
}

// countingFactory records evaluator lifetimes.
type countingFactory struct {
	activity.Factory
	opened, closed int32
}

type countingEvaluator struct {
	activity.Evaluator
	f *countingFactory
}

func (f *countingFactory) New() (activity.Evaluator, error) {
	ev, err := f.Factory.New()
	if err != nil {
		return nil, err
	}
	atomic.AddInt32(&f.opened, 1)
	return countingEvaluator{ev, f}, nil
}

func (e countingEvaluator) Close() error {
	atomic.AddInt32(&e.f.closed, 1)
	return e.Evaluator.Close()
}

func TestEvaluatorLifetime(t *testing.T) {
	ctx := context.Background()
	in := testInputs(t, randomReads(t))
	args := testArgs()
	args.Partitions = 3
	for _, mode := range []assemblyregion.Mode{assemblyregion.Fast, assemblyregion.Strict} {
		f := &countingFactory{Factory: depthFactory}
		in.Evaluators = f
		_, err := assemblyregion.Find(ctx, mode, in, args)
		assert.NoError(t, err)
		// One evaluator per partition, each closed.
		expect.EQ(t, atomic.LoadInt32(&f.opened), int32(3), mode)
		expect.EQ(t, atomic.LoadInt32(&f.closed), int32(3), mode)
	}
}

func TestEnrich(t *testing.T) {
	ctx := context.Background()
	var seqs strings.Builder
	for _, c := range []struct {
		name string
		n    int
	}{{"chr1", 3000}, {"chr2", 1500}} {
		seqs.WriteString(">" + c.name + "\n")
		for i := 0; i < c.n; i++ {
			seqs.WriteByte("ACGT"[i%4])
		}
		seqs.WriteString("\n")
	}
	fa, err := fasta.New(strings.NewReader(seqs.String()))
	assert.NoError(t, err)
	ref, err := fasta.NewReference(fa)
	assert.NoError(t, err)

	in := testInputs(t, randomReads(t))
	assert.NoError(t, ref.CheckCompatible(in.Dict))
	features, err := feature.NewTreeSource([]feature.Feature{
		{Interval: interval.New("chr1", 500, 510), Name: "site1"},
		{Interval: interval.New("chr2", 10, 10), Name: "site2"},
	}, in.Dict)
	assert.NoError(t, err)
	in.Ref = ref
	in.Features = features
	in.Evaluators = activity.MismatchFactory{Opts: activity.DefaultMismatchOpts}
	in.Intervals = []interval.Interval{interval.New("chr1", 401, 700), interval.New("chr2", 1, 200)}

	for _, mode := range []assemblyregion.Mode{assemblyregion.Fast, assemblyregion.Strict} {
		ds, err := assemblyregion.Find(ctx, mode, in, testArgs())
		assert.NoError(t, err)
		nFeatures := 0
		for _, wc := range cluster.Collect(ds) {
			want, err := ref.Slice(wc.Boundary.Padded)
			assert.NoError(t, err)
			expect.EQ(t, string(wc.Ref), string(want))
			for _, f := range wc.Features {
				expect.True(t, f.Overlaps(wc.Boundary.Padded))
			}
			nFeatures += len(wc.Features)
		}
		expect.GE(t, nFeatures, 2, mode)
	}
}

func TestFindErrors(t *testing.T) {
	ctx := context.Background()
	in := testInputs(t, randomReads(t))

	args := testArgs()
	args.MinAssemblyRegionSize = args.MaxAssemblyRegionSize + 1
	_, err := assemblyregion.FindFast(ctx, in, args)
	expect.True(t, errors.Is(errors.Invalid, err))
	args = testArgs()
	args.ReadShardSize = -1
	_, err = assemblyregion.FindStrict(ctx, in, args)
	expect.True(t, errors.Is(errors.Invalid, err))

	noRef := in
	noRef.Evaluators = activity.MismatchFactory{Opts: activity.DefaultMismatchOpts}
	_, err = assemblyregion.FindStrict(ctx, noRef, testArgs())
	expect.True(t, errors.Is(errors.Invalid, err))

	_, err = assemblyregion.Find(ctx, assemblyregion.Mode(7), in, testArgs())
	expect.True(t, errors.Is(errors.Invalid, err))
	_, err = assemblyregion.ParseMode("exact")
	expect.True(t, errors.Is(errors.Invalid, err))
	m, err := assemblyregion.ParseMode("Strict")
	assert.NoError(t, err)
	expect.EQ(t, m, assemblyregion.Strict)
	expect.EQ(t, assemblyregion.Fast.String(), "fast")

	outOfBounds := in
	outOfBounds.Intervals = []interval.Interval{interval.New("chr2", 1, 1501)}
	_, err = assemblyregion.FindFast(ctx, outOfBounds, testArgs())
	expect.True(t, errors.Is(errors.Precondition, err))

	failing := in
	failing.Evaluators = activity.FuncFactory{Fn: func(p *pileup.Pileup, _ []byte, _ []feature.Feature) (activity.Result, error) {
		if p.Contig == "chr2" && p.Pos == 1000 {
			return activity.Result{}, errors.E(errors.Precondition, "bad locus")
		}
		return activity.Result{}, nil
	}}
	for _, mode := range []assemblyregion.Mode{assemblyregion.Fast, assemblyregion.Strict} {
		ds, err := assemblyregion.Find(ctx, mode, failing, testArgs())
		expect.True(t, ds == nil)
		expect.True(t, errors.Is(errors.Precondition, err), mode)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = assemblyregion.FindStrict(cancelled, in, testArgs())
	expect.EQ(t, err, context.Canceled)
}
