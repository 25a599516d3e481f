// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package interval

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/klauspost/compress/gzip"
)

// ParseRegionString parses a region string of one of the forms
//   [contig]:[1-based first pos]-[last pos]
//   [contig]:[1-based pos]
//   [contig]
// The last form covers the whole contig, so its length is looked up in dict.
func ParseRegionString(region string, dict *Dictionary) (Interval, error) {
	if len(region) == 0 {
		return Interval{}, errors.E(errors.Invalid, "interval.ParseRegionString: empty region string")
	}
	colonPos := strings.LastIndexByte(region, ':')
	if colonPos == -1 {
		return dict.WholeContig(region)
	}
	if colonPos == 0 {
		return Interval{}, errors.E(errors.Invalid, fmt.Sprintf("interval.ParseRegionString: empty contig in %q", region))
	}
	iv := Interval{Contig: region[:colonPos]}
	rangeStr := strings.Replace(region[colonPos+1:], ",", "", -1)
	dashPos := strings.IndexByte(rangeStr, '-')
	var err error
	if dashPos == -1 {
		if iv.Start, err = strconv.Atoi(rangeStr); err != nil {
			return Interval{}, errors.E(errors.Invalid, err, fmt.Sprintf("interval.ParseRegionString: %q", region))
		}
		iv.End = iv.Start
	} else {
		if iv.Start, err = strconv.Atoi(rangeStr[:dashPos]); err != nil {
			return Interval{}, errors.E(errors.Invalid, err, fmt.Sprintf("interval.ParseRegionString: %q", region))
		}
		if iv.End, err = strconv.Atoi(rangeStr[dashPos+1:]); err != nil {
			return Interval{}, errors.E(errors.Invalid, err, fmt.Sprintf("interval.ParseRegionString: %q", region))
		}
	}
	if !iv.Valid() {
		return Interval{}, errors.E(errors.Invalid, fmt.Sprintf("interval.ParseRegionString: position out of range in %q", region))
	}
	if err := dict.Validate(iv); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

// BEDRecord is one line of a BED file, converted to a 1-based closed
// interval.  Extra holds the columns after the third, if any.
type BEDRecord struct {
	Interval
	Extra []string
}

// ReadBED parses BED text.  Header lines ("track", "browser", "#...") and
// blank lines are skipped.
func ReadBED(r io.Reader) ([]BEDRecord, error) {
	var (
		recs    []BEDRecord
		scanner = bufio.NewScanner(r)
		lineIdx = 0
	)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lineIdx++
		line := scanner.Bytes()
		if len(line) == 0 || line[0] == '#' || bytes.HasPrefix(line, []byte("track")) || bytes.HasPrefix(line, []byte("browser")) {
			continue
		}
		tokens := bytes.Fields(line)
		if len(tokens) == 0 {
			continue
		}
		if len(tokens) < 3 {
			return nil, errors.E(errors.Precondition, fmt.Sprintf("interval.ReadBED: line %d has %d columns, need at least 3", lineIdx, len(tokens)))
		}
		start0, err := strconv.Atoi(gunsafe.BytesToString(tokens[1]))
		if err != nil {
			return nil, errors.E(errors.Precondition, err, fmt.Sprintf("interval.ReadBED: line %d", lineIdx))
		}
		end, err := strconv.Atoi(gunsafe.BytesToString(tokens[2]))
		if err != nil {
			return nil, errors.E(errors.Precondition, err, fmt.Sprintf("interval.ReadBED: line %d", lineIdx))
		}
		if start0 < 0 || end <= start0 {
			return nil, errors.E(errors.Precondition, fmt.Sprintf("interval.ReadBED: line %d: bad interval [%d, %d)", lineIdx, start0, end))
		}
		rec := BEDRecord{Interval: Interval{Contig: string(tokens[0]), Start: start0 + 1, End: end}}
		for _, tok := range tokens[3:] {
			rec.Extra = append(rec.Extra, string(tok))
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(err, "interval.ReadBED")
	}
	return recs, nil
}

// ReadBEDPath is ReadBED on a path.  Files ending in .gz are decompressed.
func ReadBEDPath(ctx context.Context, path string) (recs []BEDRecord, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader := io.Reader(in.Reader(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, errors.E(err, path)
		}
		defer gz.Close() // nolint: errcheck
		reader = gz
	}
	return ReadBED(reader)
}

// LoadBED reads the BED file at path and returns its intervals normalized
// against dict.
func LoadBED(ctx context.Context, path string, dict *Dictionary) ([]Interval, error) {
	recs, err := ReadBEDPath(ctx, path)
	if err != nil {
		return nil, err
	}
	ivs := make([]Interval, len(recs))
	for i, rec := range recs {
		ivs[i] = rec.Interval
	}
	return Normalize(ivs, dict)
}

// Normalize validates ivs against dict, sorts them in genome order and merges
// intervals that overlap or abut.  The input slice is not modified.
func Normalize(ivs []Interval, dict *Dictionary) ([]Interval, error) {
	sorted := make([]Interval, len(ivs))
	copy(sorted, ivs)
	for _, iv := range sorted {
		if err := dict.Validate(iv); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return dict.Compare(sorted[i], sorted[j]) < 0
	})
	var out []Interval
	for _, iv := range sorted {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.Contig == iv.Contig && iv.Start <= last.End+1 {
				last.End = max(last.End, iv.End)
				continue
			}
		}
		out = append(out, iv)
	}
	return out, nil
}
