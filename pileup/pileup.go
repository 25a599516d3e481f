// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pileup

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/regionfinder/interval"
)

// Element is one read's contribution to a locus.
type Element struct {
	Read *sam.Record
	// Offset is the 0-based position of Base in the read sequence.  For a
	// deletion it is the offset of the last base before the deletion.
	Offset int
	// Base is the ASCII read base, or 0 for a deletion.
	Base byte
	// Qual is the phred base quality, or 0 for a deletion.
	Qual     byte
	Deletion bool
	// SoftClipLeft and SoftClipRight are the lengths of the read's leading and
	// trailing soft clips.
	SoftClipLeft, SoftClipRight int
}

// Pileup is the set of elements at one locus, in input read order.
type Pileup struct {
	Contig   string
	Pos      int // 1-based
	Elements []Element
}

// Locus returns the single-base interval of p.
func (p *Pileup) Locus() interval.Interval {
	return interval.Locus(p.Contig, p.Pos)
}

// Depth returns the number of elements, deletions included.
func (p *Pileup) Depth() int {
	return len(p.Elements)
}

// readCursor walks one read's CIGAR in reference order.
type readCursor struct {
	rec       *sam.Record
	seq       []byte
	end       int // 1-based inclusive reference end
	left      int
	right     int
	opIdx     int
	opOff     int // bases of cigar[opIdx] already consumed
	refPos    int // 1-based reference position of cigar[opIdx][opOff]
	qPos      int // query offset of cigar[opIdx][opOff]
	lastQuery int // query offset of the last base aligned before refPos
}

func newReadCursor(rec *sam.Record, end int) *readCursor {
	c := &readCursor{
		rec:       rec,
		seq:       rec.Seq.Expand(),
		end:       end,
		refPos:    rec.Pos + 1,
		lastQuery: -1,
	}
	c.left, c.right = softClips(rec.Cigar)
	return c
}

// at advances the cursor to pos and returns the element there.  ok is false
// when the read has no element at pos (reference skip).
//
// REQUIRES: pos is not smaller than in the previous call.
func (c *readCursor) at(pos int) (e Element, ok bool) {
	cigar := c.rec.Cigar
	for c.opIdx < len(cigar) {
		co := cigar[c.opIdx]
		con := co.Type().Consumes()
		remaining := co.Len() - c.opOff
		if con.Reference == 0 {
			if con.Query != 0 {
				c.qPos += remaining
				c.lastQuery = c.qPos - 1
			}
			c.opIdx, c.opOff = c.opIdx+1, 0
			continue
		}
		if c.refPos+remaining <= pos {
			c.refPos += remaining
			if con.Query != 0 {
				c.qPos += remaining
				c.lastQuery = c.qPos - 1
			}
			c.opIdx, c.opOff = c.opIdx+1, 0
			continue
		}
		delta := pos - c.refPos
		c.opOff += delta
		c.refPos = pos
		if con.Query != 0 {
			c.qPos += delta
			c.lastQuery = c.qPos - 1
		}
		e = Element{Read: c.rec, SoftClipLeft: c.left, SoftClipRight: c.right}
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			e.Offset = c.qPos
			if c.qPos < len(c.seq) {
				e.Base = c.seq[c.qPos]
			}
			if c.qPos < len(c.rec.Qual) && c.rec.Qual[c.qPos] != 0xff {
				e.Qual = c.rec.Qual[c.qPos]
			}
			return e, true
		case sam.CigarDeletion:
			e.Deletion = true
			e.Offset = c.lastQuery
			return e, true
		default:
			// Reference skip.
			return Element{}, false
		}
	}
	return Element{}, false
}

// Builder produces the pileups of a span, one locus at a time, from reads
// sorted by alignment start.  Reads that do not overlap the span are ignored;
// reads that start before it are walked up to its first locus.
type Builder struct {
	reads            []*sam.Record
	span             interval.Interval
	includeDeletions bool

	next    int // index of the next read to activate
	lastPos int // alignment start of the last activated read
	active  []*readCursor
	pos     int
	cur     *Pileup
	err     error
}

// NewBuilder creates a Builder over span.  When includeDeletions is false,
// elements that fall inside a deletion are dropped.
func NewBuilder(reads []*sam.Record, span interval.Interval, includeDeletions bool) *Builder {
	return &Builder{
		reads:            reads,
		span:             span,
		includeDeletions: includeDeletions,
		pos:              span.Start - 1,
		lastPos:          -1,
	}
}

// Scan advances to the next locus of the span.  It returns false at the end
// of the span or on error.
func (b *Builder) Scan() bool {
	if b.err != nil || b.pos >= b.span.End {
		b.cur = nil
		return false
	}
	b.pos++
	for b.next < len(b.reads) {
		rec := b.reads[b.next]
		if rec.Ref == nil || rec.Flags&sam.Unmapped != 0 {
			b.next++
			continue
		}
		if rec.Ref.Name() != b.span.Contig {
			b.err = errors.E(errors.Precondition, fmt.Sprintf("pileup: read %s on %s in pileup of %v", rec.Name, rec.Ref.Name(), b.span))
			return false
		}
		if rec.Pos < b.lastPos {
			b.err = errors.E(errors.Precondition, fmt.Sprintf("pileup: read %s at %s:%d is out of order", rec.Name, rec.Ref.Name(), rec.Pos+1))
			return false
		}
		if rec.Pos+1 > b.pos {
			break
		}
		b.lastPos = rec.Pos
		b.next++
		end := rec.End()
		if end < rec.Pos+1 {
			end = rec.Pos + 1
		}
		if end >= b.pos {
			b.active = append(b.active, newReadCursor(rec, end))
		}
	}
	p := &Pileup{Contig: b.span.Contig, Pos: b.pos}
	live := b.active[:0]
	for _, c := range b.active {
		if c.end < b.pos {
			continue
		}
		live = append(live, c)
		e, ok := c.at(b.pos)
		if !ok || (e.Deletion && !b.includeDeletions) {
			continue
		}
		p.Elements = append(p.Elements, e)
	}
	for i := len(live); i < len(b.active); i++ {
		b.active[i] = nil
	}
	b.active = live
	b.cur = p
	return true
}

// Pileup returns the pileup of the current locus.  Each call to Scan
// allocates a new Pileup.
func (b *Builder) Pileup() *Pileup {
	return b.cur
}

// Err returns the error that stopped Scan, if any.
func (b *Builder) Err() error {
	return b.err
}
