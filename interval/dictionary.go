// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package interval

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// Contig is one entry of a sequence dictionary.
type Contig struct {
	Name   string
	Length int
}

// Dictionary is the ordered list of contigs that reads, intervals and
// reference bases are expressed against.  The order defines the genome order
// used to sort intervals.  A Dictionary is immutable and thread safe.
type Dictionary struct {
	contigs []Contig
	index   map[string]int
}

// NewDictionary creates a dictionary from contigs, in the given order.
func NewDictionary(contigs []Contig) (*Dictionary, error) {
	d := &Dictionary{
		contigs: make([]Contig, len(contigs)),
		index:   make(map[string]int, len(contigs)),
	}
	for i, c := range contigs {
		if c.Name == "" {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.NewDictionary: contig #%d has no name", i))
		}
		if c.Length <= 0 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.NewDictionary: contig %s has length %d", c.Name, c.Length))
		}
		if _, ok := d.index[c.Name]; ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.NewDictionary: duplicate contig %s", c.Name))
		}
		d.contigs[i] = c
		d.index[c.Name] = i
	}
	return d, nil
}

// DictionaryFromHeader creates a dictionary from the references of a SAM
// header.
func DictionaryFromHeader(header *sam.Header) (*Dictionary, error) {
	refs := header.Refs()
	contigs := make([]Contig, len(refs))
	for i, ref := range refs {
		contigs[i] = Contig{Name: ref.Name(), Length: ref.Len()}
	}
	return NewDictionary(contigs)
}

// Contigs returns the contigs in dictionary order.  The caller must not modify
// the result.
func (d *Dictionary) Contigs() []Contig {
	return d.contigs
}

// Index returns the position of the named contig in the dictionary.
func (d *Dictionary) Index(contig string) (int, bool) {
	i, ok := d.index[contig]
	return i, ok
}

// Length returns the length of the named contig.
func (d *Dictionary) Length(contig string) (int, bool) {
	i, ok := d.index[contig]
	if !ok {
		return 0, false
	}
	return d.contigs[i].Length, true
}

// Validate returns a NotExist error if iv names an unknown contig, and a
// Precondition error if iv is malformed or extends past the contig.
func (d *Dictionary) Validate(iv Interval) error {
	length, ok := d.Length(iv.Contig)
	if !ok {
		return errors.E(errors.NotExist, fmt.Sprintf("interval: contig %q of %v not in sequence dictionary", iv.Contig, iv))
	}
	if !iv.Valid() || iv.End > length {
		return errors.E(errors.Precondition, fmt.Sprintf("interval: %v is outside [1, %d]", iv, length))
	}
	return nil
}

// Compare orders intervals by (contig index, start, end).  Unknown contigs
// sort after every known contig, by name.
func (d *Dictionary) Compare(a, b Interval) int {
	if a.Contig != b.Contig {
		ai, aok := d.index[a.Contig]
		bi, bok := d.index[b.Contig]
		switch {
		case aok && bok:
			return ai - bi
		case aok:
			return -1
		case bok:
			return 1
		case a.Contig < b.Contig:
			return -1
		default:
			return 1
		}
	}
	if a.Start != b.Start {
		return a.Start - b.Start
	}
	return a.End - b.End
}

// Expand grows iv by padding loci on each side, clipped to [1, contig
// length].  Unknown contigs are only clipped at 1.
func (d *Dictionary) Expand(iv Interval, padding int) Interval {
	out := Interval{Contig: iv.Contig, Start: max(1, iv.Start-padding), End: iv.End + padding}
	if length, ok := d.Length(iv.Contig); ok {
		out.End = min(length, out.End)
	}
	return out
}

// WholeContig returns the interval covering the named contig.
func (d *Dictionary) WholeContig(contig string) (Interval, error) {
	length, ok := d.Length(contig)
	if !ok {
		return Interval{}, errors.E(errors.NotExist, fmt.Sprintf("interval: contig %q not in sequence dictionary", contig))
	}
	return Interval{Contig: contig, Start: 1, End: length}, nil
}

// WholeGenome returns one interval per contig, in dictionary order.
func (d *Dictionary) WholeGenome() []Interval {
	ivs := make([]Interval, len(d.contigs))
	for i, c := range d.contigs {
		ivs[i] = Interval{Contig: c.Name, Start: 1, End: c.Length}
	}
	return ivs
}
