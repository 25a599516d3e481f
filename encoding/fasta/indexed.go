package fasta

import (
	"bufio"
	"io"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// Index files consist of one tab-separated line per sequence in the associated
// FASTA file.  The format is: "<sequence name>\t<length>\t<byte
// offset>\t<bases per line>\t<bytes per line>".
// For example: "chr3\t12345\t9000\t80\t81".
var indexRegExp = regexp.MustCompile(`^(\S+)\t(\d+)\t(\d+)\t(\d+)\t(\d+)`)

type indexEntry struct {
	length    uint64
	offset    uint64
	lineBase  uint64
	lineWidth uint64
}

type indexedFasta struct {
	seqs     map[string]indexEntry
	seqNames []string

	mu        sync.Mutex
	reader    io.ReadSeeker
	bufOff    int64
	buf       []byte // caches file contents starting at bufOff.
	resultBuf []byte // temp for concatenating multi-line sequences.
}

func parseIndex(index io.Reader) (map[string]indexEntry, []string, error) {
	seqs := map[string]indexEntry{}
	var names []string
	scanner := bufio.NewScanner(index)
	for scanner.Scan() {
		matches := indexRegExp.FindStringSubmatch(scanner.Text())
		if len(matches) != 6 {
			return nil, nil, errors.Errorf("invalid index line: %s", scanner.Text())
		}
		var (
			ent  indexEntry
			errs [4]error
		)
		ent.length, errs[0] = strconv.ParseUint(matches[2], 10, 64)
		ent.offset, errs[1] = strconv.ParseUint(matches[3], 10, 64)
		ent.lineBase, errs[2] = strconv.ParseUint(matches[4], 10, 64)
		ent.lineWidth, errs[3] = strconv.ParseUint(matches[5], 10, 64)
		for _, err := range errs {
			if err != nil {
				return nil, nil, errors.Wrapf(err, "index line %s", scanner.Text())
			}
		}
		if ent.lineBase == 0 || ent.lineWidth < ent.lineBase {
			return nil, nil, errors.Errorf("invalid line geometry in index line: %s", scanner.Text())
		}
		seqs[matches[1]] = ent
		names = append(names, matches[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "couldn't read FASTA index")
	}
	sort.SliceStable(names, func(i, j int) bool {
		return seqs[names[i]].offset < seqs[names[j]].offset
	})
	return seqs, names, nil
}

// NewIndexed creates a new Fasta that can perform efficient random lookups
// using the provided index, without reading the data into memory.
func NewIndexed(fasta io.ReadSeeker, index io.Reader) (Fasta, error) {
	seqs, names, err := parseIndex(index)
	if err != nil {
		return nil, err
	}
	return &indexedFasta{seqs: seqs, seqNames: names, reader: fasta}, nil
}

// Len implements Fasta.Len().
func (f *indexedFasta) Len(seqName string) (uint64, error) {
	ent, ok := f.seqs[seqName]
	if !ok {
		return 0, errors.Errorf("sequence not found in index: %s", seqName)
	}
	return ent.length, nil
}

// SeqNames implements Fasta.SeqNames().
func (f *indexedFasta) SeqNames() []string {
	return f.seqNames
}

// read returns the file range [off, off+n).  REQUIRES: f.mu is held.
func (f *indexedFasta) read(off int64, n int) ([]byte, error) {
	limit := off + int64(n)
	if off < f.bufOff || limit > f.bufOff+int64(len(f.buf)) {
		if newOffset, err := f.reader.Seek(off, io.SeekStart); err != nil || newOffset != off {
			return nil, errors.Errorf("failed to seek to offset %d: %d, %v", off, newOffset, err)
		}
		bufSize := 8192
		if bufSize < n {
			bufSize = n
		}
		resize(&f.buf, bufSize)
		bytesRead, err := io.ReadAtLeast(f.reader, f.buf, n)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return nil, errors.Wrapf(err, "read at offset %d", off)
		}
		if bytesRead < n {
			return nil, errors.Errorf("encountered unexpected end of file (bad index? file doesn't end in newline?)")
		}
		f.bufOff = off
		f.buf = f.buf[:bytesRead]
	}
	return f.buf[off-f.bufOff : limit-f.bufOff], nil
}

func resize(buf *[]byte, n int) {
	if cap(*buf) < n {
		*buf = make([]byte, n)
	} else {
		*buf = (*buf)[:n]
	}
}

// Get implements Fasta.Get().
func (f *indexedFasta) Get(seqName string, start uint64, end uint64) (string, error) {
	if end <= start {
		return "", errors.Errorf("start must be less than end")
	}
	ent, ok := f.seqs[seqName]
	if !ok {
		return "", errors.Errorf("sequence not found in index: %s", seqName)
	}
	if end > ent.length {
		return "", errors.Errorf("end is past end of sequence %s: %d", seqName, ent.length)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	// Byte offset of start, skipping the line terminators before it.
	charsPerNewline := ent.lineWidth - ent.lineBase
	offset := ent.offset + start + charsPerNewline*(start/ent.lineBase)

	firstLineBases := ent.lineBase - (start % ent.lineBase)
	newlinesToRead := uint64(0)
	if end-start > firstLineBases {
		newlinesToRead = 1 + (end-start-firstLineBases)/ent.lineBase
	}
	buffer, err := f.read(int64(offset), int(end-start+newlinesToRead*charsPerNewline))
	if err != nil {
		return "", err
	}

	resize(&f.resultBuf, int(end-start))
	linePos := (offset - ent.offset) % ent.lineWidth
	n := 0
	for _, c := range buffer {
		if linePos < ent.lineBase && n < len(f.resultBuf) {
			f.resultBuf[n] = c
			n++
		}
		linePos++
		if linePos == ent.lineWidth {
			linePos = 0
		}
	}
	return string(f.resultBuf[:n]), nil
}
