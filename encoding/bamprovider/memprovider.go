package bamprovider

import (
	"fmt"
	"sort"

	"github.com/biogo/store/interval"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
	gi "github.com/grailbio/regionfinder/interval"
)

// MemProvider is a Provider over an in-memory, genome-wide read collection.
// Each contig's reads are indexed by a biogo interval tree keyed on their
// aligned reference span.  Unmapped reads are dropped.
type MemProvider struct {
	header *sam.Header
	recs   []*sam.Record
	trees  map[string]*interval.IntTree
}

// memRead is the tree entry for recs[idx]: the 0-based half-open aligned
// span.
type memRead struct {
	idx        int
	start, end int
}

func (r memRead) Overlap(b interval.IntRange) bool {
	return r.start < b.End && b.Start < r.end
}
func (r memRead) ID() uintptr { return uintptr(r.idx) }
func (r memRead) Range() interval.IntRange {
	return interval.IntRange{Start: r.start, End: r.end}
}

// spanQuery is a 0-based half-open query range.
type spanQuery struct{ start, end int }

func (q spanQuery) Overlap(b interval.IntRange) bool {
	return q.start < b.End && b.Start < q.end
}

// NewMemProvider creates a provider that returns header in response to a
// GetHeader() call and answers queries from recs.  recs is stably sorted by
// (reference, position) first; the caller must not modify the records
// afterwards.
func NewMemProvider(header *sam.Header, recs []*sam.Record) (*MemProvider, error) {
	p := &MemProvider{header: header, trees: map[string]*interval.IntTree{}}
	for _, rec := range recs {
		if _, _, ok := ReadSpan(rec); ok {
			p.recs = append(p.recs, rec)
		}
	}
	sort.SliceStable(p.recs, func(i, j int) bool {
		a, b := p.recs[i], p.recs[j]
		if a.Ref.ID() != b.Ref.ID() {
			return a.Ref.ID() < b.Ref.ID()
		}
		return a.Pos < b.Pos
	})
	for idx, rec := range p.recs {
		name := rec.Ref.Name()
		if RefByName(header, name) == nil {
			return nil, errors.E(errors.NotExist, fmt.Sprintf("bamprovider.NewMemProvider: read %s is on contig %q, which is not in the header", rec.Name, name))
		}
		tree, ok := p.trees[name]
		if !ok {
			tree = &interval.IntTree{}
			p.trees[name] = tree
		}
		start, end, _ := ReadSpan(rec)
		if err := tree.Insert(memRead{idx: idx, start: start - 1, end: end}, true); err != nil {
			return nil, errors.E(err, "bamprovider.NewMemProvider", rec.Name)
		}
	}
	for _, tree := range p.trees {
		tree.AdjustRanges()
	}
	return p, nil
}

// GetHeader implements the Provider interface.
func (p *MemProvider) GetHeader() (*sam.Header, error) {
	return p.header, nil
}

// Len returns the number of mapped reads held by p.
func (p *MemProvider) Len() int {
	return len(p.recs)
}

// NewIterator implements the Provider interface.
func (p *MemProvider) NewIterator(iv gi.Interval) Iterator {
	if RefByName(p.header, iv.Contig) == nil {
		return NewErrorIterator(errors.E(errors.NotExist, fmt.Sprintf("bamprovider: contig %q not in header", iv.Contig)))
	}
	if !iv.Valid() {
		return NewErrorIterator(errors.E(errors.Precondition, fmt.Sprintf("bamprovider: invalid query %v", iv)))
	}
	tree, ok := p.trees[iv.Contig]
	if !ok {
		return &memIterator{}
	}
	hits := tree.Get(spanQuery{start: iv.Start - 1, end: iv.End})
	idxs := make([]int, len(hits))
	for i, h := range hits {
		idxs[i] = h.(memRead).idx
	}
	// recs is already in coordinate order.
	sort.Ints(idxs)
	recs := make([]*sam.Record, len(idxs))
	for i, idx := range idxs {
		recs[i] = p.recs[idx]
	}
	return &memIterator{recs: recs}
}

// Close implements the Provider interface.
func (p *MemProvider) Close() error {
	return nil
}

type memIterator struct {
	recs []*sam.Record
	rec  *sam.Record
}

func (i *memIterator) Scan() bool {
	if len(i.recs) == 0 {
		return false
	}
	i.rec, i.recs = i.recs[0], i.recs[1:]
	return true
}

func (i *memIterator) Record() *sam.Record { return i.rec }
func (i *memIterator) Err() error          { return nil }
func (i *memIterator) Close() error        { return nil }
