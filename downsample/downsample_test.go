// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package downsample_test

import (
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/regionfinder/downsample"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

var (
	chr1, _   = sam.NewReference("chr1", "", "", 1000, nil, nil)
	chr2, _   = sam.NewReference("chr2", "", "", 1000, nil, nil)
	// NewHeader assigns the reference IDs that NewRecord requires.
	header, _ = sam.NewHeader(nil, []*sam.Reference{chr1, chr2})
)

func read(t *testing.T, name string, ref *sam.Reference, pos int) *sam.Record {
	r, err := sam.NewRecord(name, ref, nil, pos, -1, 0, 60,
		[]sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, 4)}, []byte("ACGT"), []byte{30, 30, 30, 30}, nil)
	require.NoError(t, err)
	return r
}

func names(recs []*sam.Record) []string {
	var out []string
	for _, r := range recs {
		out = append(out, r.Name)
	}
	return out
}

func TestApply(t *testing.T) {
	recs := []*sam.Record{
		read(t, "a1", chr1, 10),
		read(t, "a2", chr1, 10),
		read(t, "a3", chr1, 10),
		read(t, "b1", chr1, 11),
		read(t, "c1", chr2, 10),
		read(t, "c2", chr2, 10),
		read(t, "c3", chr2, 10),
	}
	expect.EQ(t, names(downsample.Apply(recs, 2)), []string{"a1", "a2", "b1", "c1", "c2"})
	expect.EQ(t, names(downsample.Apply(recs, 1)), []string{"a1", "b1", "c1"})
	expect.EQ(t, len(downsample.Apply(recs, 0)), len(recs))
	expect.EQ(t, len(downsample.Apply(recs, 3)), len(recs))
	// Deterministic.
	expect.EQ(t, names(downsample.Apply(recs, 2)), names(downsample.Apply(recs, 2)))
}

func TestPolicy(t *testing.T) {
	var disabled *downsample.Policy
	expect.True(t, disabled.Accept(read(t, "x", chr1, 1)))
	expect.EQ(t, disabled.Rejected(), 0)
	expect.True(t, downsample.New(0) == nil)

	p := downsample.New(1)
	expect.True(t, p.Accept(read(t, "x", chr1, 1)))
	expect.False(t, p.Accept(read(t, "y", chr1, 1)))
	expect.True(t, p.Accept(read(t, "z", chr1, 2)))
	expect.EQ(t, p.Rejected(), 1)
}
