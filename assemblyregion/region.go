// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package assemblyregion

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/regionfinder/activity"
	"github.com/grailbio/regionfinder/encoding/bamprovider"
	"github.com/grailbio/regionfinder/feature"
	"github.com/grailbio/regionfinder/interval"
)

// Region is a segment of the genome classified active or inactive, without
// reads.  Boundary.Core is the region proper and Boundary.Padded its
// extended interval.  The strict pipeline re-shards reads by Region
// boundaries.
type Region struct {
	Boundary interval.ShardBoundary
	Active   bool
}

// String returns a debug string for r.
func (r Region) String() string {
	if r.Active {
		return r.Boundary.String() + "/active"
	}
	return r.Boundary.String() + "/inactive"
}

// AssemblyRegion is a Region plus the reads overlapping its extended
// interval.  It must not be modified after construction.
type AssemblyRegion struct {
	Region
	// Extension is the larger of the two paddings applied to the core.
	Extension int
	// Reads are the reads overlapping Boundary.Padded, in coordinate order.
	Reads []*sam.Record
}

// NewAssemblyRegion creates an AssemblyRegion from r and the reads of
// candidates that overlap r's extended interval.  candidates must be in
// coordinate order.  The result owns its read slice.
func NewAssemblyRegion(r Region, candidates []*sam.Record) *AssemblyRegion {
	ext := r.Boundary.Padded
	var reads []*sam.Record
	for _, rec := range candidates {
		if rec.Ref == nil || rec.Ref.Name() != ext.Contig {
			continue
		}
		start, end, ok := bamprovider.ReadSpan(rec)
		if !ok || end < ext.Start {
			continue
		}
		if start > ext.End {
			break
		}
		reads = append(reads, rec)
	}
	return &AssemblyRegion{Region: r, Extension: r.Boundary.Extension(), Reads: reads}
}

// WalkerContext is a self-contained unit of work for a downstream assembler:
// a region with its reads, the reference bases of its extended interval and
// the features overlapping it.
type WalkerContext struct {
	*AssemblyRegion
	// Ref holds the bases of Boundary.Padded.  It is empty when no reference
	// was supplied.
	Ref []byte
	// Features overlap Boundary.Padded, ordered by start.
	Features []feature.Feature
}

// Enricher attaches reference bases and features to regions.  Either source
// may be nil.
type Enricher struct {
	Ref      activity.ReferenceSource
	Features feature.Source
}

// Enrich builds the WalkerContext of r.
func (e Enricher) Enrich(r *AssemblyRegion) (*WalkerContext, error) {
	ext := r.Boundary.Padded
	ctx := &WalkerContext{AssemblyRegion: r}
	if e.Ref != nil {
		ref, err := e.Ref.Slice(ext)
		if err != nil {
			return nil, errors.E(err, fmt.Sprintf("assemblyregion: reference for %v", r.Region))
		}
		ctx.Ref = append([]byte(nil), ref...)
	}
	if e.Features != nil {
		ctx.Features = e.Features.Slice(ext)
	}
	return ctx, nil
}
