// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package activity

import (
	"github.com/grailbio/regionfinder/feature"
	"github.com/grailbio/regionfinder/interval"
	"github.com/grailbio/regionfinder/pileup"
)

// Result is an evaluator's verdict on one locus.
type Result struct {
	Prob                 float64
	HighQualitySoftClips int
}

// Evaluator scores loci.  An Evaluator may keep mutable scratch state, so it
// is used by one goroutine at a time.
type Evaluator interface {
	// IsActive scores the locus of p.  ref holds the reference base at the
	// locus, or is empty when no reference is available.  features are the
	// features overlapping the locus.
	IsActive(p *pileup.Pileup, ref []byte, features []feature.Feature) (Result, error)
	// Close releases the evaluator.
	Close() error
}

// Factory creates evaluators.  It is shared by all workers and must be
// thread safe.
type Factory interface {
	New() (Evaluator, error)
	// RequiresReference reports whether evaluators need reference bases.
	RequiresReference() bool
}

// ReferenceSource serves reference bases.  *fasta.Reference implements it.
type ReferenceSource interface {
	Slice(iv interval.Interval) ([]byte, error)
}

// Func is the signature of an evaluator implemented by a function.
type Func func(p *pileup.Pileup, ref []byte, features []feature.Feature) (Result, error)

// FuncFactory creates stateless evaluators calling Fn.
type FuncFactory struct {
	Fn       Func
	NeedsRef bool
}

// New implements Factory.
func (f FuncFactory) New() (Evaluator, error) { return funcEvaluator(f.Fn), nil }

// RequiresReference implements Factory.
func (f FuncFactory) RequiresReference() bool { return f.NeedsRef }

type funcEvaluator Func

func (f funcEvaluator) IsActive(p *pileup.Pileup, ref []byte, features []feature.Feature) (Result, error) {
	return f(p, ref, features)
}

func (f funcEvaluator) Close() error { return nil }

// ConstantFactory returns a factory whose evaluators report prob everywhere.
func ConstantFactory(prob float64) Factory {
	return FuncFactory{Fn: func(*pileup.Pileup, []byte, []feature.Feature) (Result, error) {
		return Result{Prob: prob}, nil
	}}
}
