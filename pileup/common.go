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

// Package pileup turns coordinate-sorted reads into per-locus pileups: for
// every reference position, the read bases (or deletions) aligned to it.
package pileup

import (
	"github.com/grailbio/hts/sam"
)

const (
	// BaseA represents an A base.
	BaseA byte = iota
	// BaseC represents an C base.
	BaseC
	// BaseG represents an G base.
	BaseG
	// BaseT represents an T base.
	BaseT
	// BaseX is a catch-all.
	BaseX
)

// NBaseEnum counts BaseX as well as the regular base types.
const NBaseEnum = 5

// EnumToASCIITable is the A/C/G/T/X -> ASCII mapping, with X rendered as 'N'.
var EnumToASCIITable = [...]byte{'A', 'C', 'G', 'T', 'N'}

// asciiToEnumTable maps ASCII bases, either case, to A/C/G/T/X.
var asciiToEnumTable = func() (t [256]byte) {
	for i := range t {
		t[i] = BaseX
	}
	for e, c := range EnumToASCIITable[:BaseX] {
		t[c] = byte(e)
		t[c+'a'-'A'] = byte(e)
	}
	return
}()

// ASCIIToEnum maps an ASCII base to A/C/G/T/X.  IUPAC ambiguity codes and
// anything else map to BaseX.
func ASCIIToEnum(c byte) byte {
	return asciiToEnumTable[c]
}

// DefaultHighQualitySoftClipQual is the minimum base quality for a soft
// clipped base to count as high quality.
const DefaultHighQualitySoftClipQual = 29

// HighQualitySoftClips returns the number of soft-clipped bases of rec whose
// quality is at least minQual.
func HighQualitySoftClips(rec *sam.Record, minQual byte) int {
	n := 0
	qPos := 0
	for _, co := range rec.Cigar {
		cLen := co.Len()
		switch co.Type() {
		case sam.CigarSoftClipped:
			for i := qPos; i < qPos+cLen && i < len(rec.Qual); i++ {
				if rec.Qual[i] >= minQual && rec.Qual[i] != 0xff {
					n++
				}
			}
			qPos += cLen
		default:
			qPos += cLen * co.Type().Consumes().Query
		}
	}
	return n
}

// softClips returns the lengths of the leading and trailing soft clips of
// cigar.  Hard clips outside the soft clips are skipped.
func softClips(cigar sam.Cigar) (left, right int) {
	for _, co := range cigar {
		if t := co.Type(); t == sam.CigarHardClipped {
			continue
		} else if t == sam.CigarSoftClipped {
			left += co.Len()
			continue
		}
		break
	}
	for i := len(cigar) - 1; i >= 0; i-- {
		co := cigar[i]
		if t := co.Type(); t == sam.CigarHardClipped {
			continue
		} else if t == sam.CigarSoftClipped {
			right += co.Len()
			continue
		}
		break
	}
	return left, right
}
