// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package activity

import (
	"github.com/grailbio/regionfinder/feature"
	"github.com/grailbio/regionfinder/pileup"
)

// MismatchOpts configures the pileup heuristic of MismatchFactory.
type MismatchOpts struct {
	// MinBaseQual is the minimum quality of a base to be counted.
	MinBaseQual byte
	// MinAltCount is the minimum number of mismatching bases and deletions
	// for a locus to get a nonzero probability.
	MinAltCount int
	// SoftClipQual is the minimum quality of a soft-clipped base to count as
	// high quality.
	SoftClipQual byte
	// MinAvgSoftClips is the average number of high-quality soft clips per
	// read above which a locus reports soft-clip evidence.
	MinAvgSoftClips float64
	// FeatureProb, if positive, is the lower bound of the probability of
	// loci that overlap a feature.
	FeatureProb float64
}

// DefaultMismatchOpts is the default MismatchOpts.
var DefaultMismatchOpts = MismatchOpts{
	MinBaseQual:     20,
	MinAltCount:     2,
	SoftClipQual:    pileup.DefaultHighQualitySoftClipQual,
	MinAvgSoftClips: 6,
}

// MismatchFactory creates evaluators scoring a locus by the fraction of
// high-quality reads that disagree with the reference there.  Deletions count
// as disagreement.
type MismatchFactory struct {
	Opts MismatchOpts
}

// New implements Factory.
func (f MismatchFactory) New() (Evaluator, error) {
	return &mismatchEvaluator{opts: f.Opts}, nil
}

// RequiresReference implements Factory.
func (f MismatchFactory) RequiresReference() bool { return true }

type mismatchEvaluator struct {
	opts MismatchOpts
}

func (e *mismatchEvaluator) IsActive(p *pileup.Pileup, ref []byte, features []feature.Feature) (Result, error) {
	var (
		res        Result
		refBase    = pileup.BaseX
		n, alt     int
		nReads     int
		totalClips int
	)
	if len(ref) > 0 {
		refBase = pileup.ASCIIToEnum(ref[0])
	}
	for _, el := range p.Elements {
		nReads++
		totalClips += pileup.HighQualitySoftClips(el.Read, e.opts.SoftClipQual)
		if el.Deletion {
			n++
			alt++
			continue
		}
		if el.Qual < e.opts.MinBaseQual {
			continue
		}
		n++
		if b := pileup.ASCIIToEnum(el.Base); refBase != pileup.BaseX && b != pileup.BaseX && b != refBase {
			alt++
		}
	}
	if n > 0 && alt >= e.opts.MinAltCount {
		res.Prob = float64(alt) / float64(n)
	}
	if nReads > 0 {
		if avg := float64(totalClips) / float64(nReads); avg > e.opts.MinAvgSoftClips {
			res.HighQualitySoftClips = int(avg)
		}
	}
	if e.opts.FeatureProb > 0 && len(features) > 0 && res.Prob < e.opts.FeatureProb {
		res.Prob = e.opts.FeatureProb
	}
	return res, nil
}

func (e *mismatchEvaluator) Close() error { return nil }
