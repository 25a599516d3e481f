package bamprovider

import (
	"fmt"
	"io"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/bgzf/index"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/regionfinder/interval"
	"v.io/x/lib/vlog"
)

// BAMProvider implements Provider for indexed BAM files.  Both BAM and the
// index filenames are allowed to be S3 URLs, in which case the data will be
// read from S3. Otherwise the data will be read from the local filesystem.
//
// Iterators hold an open file, a BAM reader and the parsed index.  They are
// recycled after Close, so a worker that issues one query per shard opens the
// file once.
type BAMProvider struct {
	// Path of the *.bam file. Must be nonempty.
	Path string
	// Index is the pathname of *.bam.bai file. If "", Path + ".bai"
	Index string
	err   errors.Once

	mu        sync.Mutex
	nActive   int
	freeIters []*bamIterator
	header    *sam.Header
}

type bamIterator struct {
	provider *BAMProvider
	in       file.File
	reader   *bam.Reader
	index    *bam.Index

	// Query, 1-based closed.
	contig     string
	refID      int
	start, end int

	active bool
	err    error
	rec    *sam.Record
}

func (b *BAMProvider) indexPath() string {
	index := b.Index
	if index == "" {
		index = b.Path + ".bai"
	}
	return index
}

// GetHeader implements the Provider interface.
func (b *BAMProvider) GetHeader() (*sam.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.header != nil {
		return b.header, nil
	}

	ctx := vcontext.Background()
	in, err := file.Open(ctx, b.Path)
	if err != nil {
		b.err.Set(err)
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck
	bamReader, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		err = errors.E(errors.Precondition, err, b.Path)
		b.err.Set(err)
		return nil, err
	}
	defer bamReader.Close() // nolint: errcheck
	b.header = bamReader.Header()
	return b.header, nil
}

// Close implements the Provider interface.
func (b *BAMProvider) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nActive > 0 {
		vlog.Fatalf("%d iterators still active for %+v", b.nActive, b.Path)
	}
	for _, iter := range b.freeIters {
		iter.internalClose()
	}
	b.freeIters = nil
	return b.err.Err()
}

func (b *BAMProvider) freeIterator(i *bamIterator) {
	if !i.active {
		vlog.Fatalf("%s: iterator closed twice", b.Path)
	}
	i.active = false
	if i.Err() != nil {
		// The iter may be invalid. Don't reuse it.
		i.internalClose()
		i = nil
	}
	b.mu.Lock()
	if i != nil {
		b.freeIters = append(b.freeIters, i)
	}
	b.nActive--
	if b.nActive < 0 {
		vlog.Fatalf("negative active iterator count for %v", b.Path)
	}
	b.mu.Unlock()
}

// allocateIterator returns an unused iterator, from freeIters if possible.
// Otherwise it opens the BAM file and its index. On error, it returns an
// iterator with non-nil err field.
func (b *BAMProvider) allocateIterator() *bamIterator {
	b.mu.Lock()
	b.nActive++
	if n := len(b.freeIters); n > 0 {
		iter := b.freeIters[n-1]
		b.freeIters = b.freeIters[:n-1]
		b.mu.Unlock()
		iter.active = true
		iter.err = nil
		iter.rec = nil
		return iter
	}
	b.mu.Unlock()

	iter := &bamIterator{provider: b, active: true}
	ctx := vcontext.Background()
	if iter.in, iter.err = file.Open(ctx, b.Path); iter.err != nil {
		return iter
	}
	indexIn, err := file.Open(ctx, b.indexPath())
	if err != nil {
		iter.err = err
		return iter
	}
	defer indexIn.Close(ctx) // nolint: errcheck
	if iter.index, iter.err = bam.ReadIndex(indexIn.Reader(ctx)); iter.err != nil {
		iter.err = errors.E(errors.Precondition, iter.err, b.indexPath())
		return iter
	}
	if iter.reader, iter.err = bam.NewReader(iter.in.Reader(ctx), 1); iter.err != nil {
		iter.err = errors.E(errors.Precondition, iter.err, b.Path)
	}
	return iter
}

// NewIterator implements the Provider interface.
func (b *BAMProvider) NewIterator(iv interval.Interval) Iterator {
	iter := b.allocateIterator()
	if iter.err != nil {
		return iter
	}
	iter.reset(iv)
	return iter
}

// reset positions the iterator at the first chunk that may hold reads
// overlapping iv.
func (i *bamIterator) reset(iv interval.Interval) {
	ref := RefByName(i.reader.Header(), iv.Contig)
	if ref == nil {
		i.err = errors.E(errors.NotExist, fmt.Sprintf("bamprovider: contig %q not in BAM header of %s", iv.Contig, i.provider.Path))
		return
	}
	if !iv.Valid() {
		i.err = errors.E(errors.Precondition, fmt.Sprintf("bamprovider: invalid query %v", iv))
		return
	}
	i.contig, i.refID, i.start, i.end = iv.Contig, ref.ID(), iv.Start, iv.End
	found, offset, err := i.findRecordOffset(ref, iv.Start-1, iv.End)
	if err != nil {
		i.err = err
		return
	}
	if !found {
		i.err = io.EOF
		return
	}
	vlog.VI(2).Infof("%s: query %v starts at offset %+v", i.provider.Path, iv, offset)
	i.err = i.reader.Seek(offset)
}

// findRecordOffset finds the file offset of the first chunk that may hold a
// record overlapping the 0-based half-open range [beg, end) of ref.  It is
// conservative: the offset may precede the first overlapping record.
func (i *bamIterator) findRecordOffset(ref *sam.Reference, beg, end int) (bool, bgzf.Offset, error) {
	chunks, err := i.index.Chunks(ref, beg, end)
	if err == index.ErrInvalid || (err == nil && len(chunks) == 0) {
		// No reads for this interval.
		return false, bgzf.Offset{}, nil
	}
	if err != nil {
		return false, bgzf.Offset{}, err
	}
	return true, chunks[0].Begin, nil
}

// Scan implements the Iterator interface.
func (i *bamIterator) Scan() bool {
	if !i.active {
		vlog.Fatal("reusing closed iterator")
	}
	for i.err == nil {
		var rec *sam.Record
		if rec, i.err = i.reader.Read(); i.err != nil {
			return false
		}
		if rec.Ref == nil || rec.Ref.ID() > i.refID || (rec.Ref.ID() == i.refID && rec.Pos+1 > i.end) {
			// Past the query; records are coordinate sorted.
			i.err = io.EOF
			return false
		}
		if overlapsSpan(rec, i.contig, i.start, i.end) {
			i.rec = rec
			return true
		}
	}
	return false
}

// Record implements the Iterator interface.
func (i *bamIterator) Record() *sam.Record {
	return i.rec
}

// Err implements the Iterator interface.
func (i *bamIterator) Err() error {
	if i.err == io.EOF {
		return nil
	}
	return i.err
}

// Close implements the Iterator interface.
func (i *bamIterator) Close() error {
	err := i.Err()
	i.provider.freeIterator(i)
	return err
}

func (i *bamIterator) internalClose() {
	if i.reader != nil {
		if err := i.reader.Close(); err != nil && i.err == nil {
			i.err = err
		}
		i.reader = nil
	}
	if i.in != nil {
		if err := i.in.Close(vcontext.Background()); err != nil && i.err == nil {
			i.err = err
		}
		i.in = nil
	}
	i.provider.err.Set(i.Err())
}
