package bamprovider

import (
	"github.com/grailbio/hts/sam"
)

// RefByName finds a sam.Reference with the given name. It returns nil if a
// reference is not found.
func RefByName(h *sam.Header, refName string) *sam.Reference {
	for _, ref := range h.Refs() {
		if ref.Name() == refName {
			return ref
		}
	}
	return nil
}

// ReadSpan returns the 1-based closed reference span [start, end] covered by
// the alignment of rec.  ok is false for unmapped reads, which overlap no
// locus.  A mapped read whose CIGAR consumes no reference is treated as
// covering its alignment start.
func ReadSpan(rec *sam.Record) (start, end int, ok bool) {
	if rec.Ref == nil || rec.Pos < 0 || rec.Flags&sam.Unmapped != 0 {
		return 0, 0, false
	}
	start = rec.Pos + 1
	end = rec.End()
	if end < start {
		end = start
	}
	return start, end, true
}

// overlapsSpan reports whether rec is mapped to contig and overlaps the
// 1-based closed range [start, end].
func overlapsSpan(rec *sam.Record, contig string, start, end int) bool {
	if rec.Ref == nil || rec.Ref.Name() != contig {
		return false
	}
	rs, re, ok := ReadSpan(rec)
	return ok && rs <= end && start <= re
}
