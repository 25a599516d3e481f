package fasta

import (
	"context"
	"fmt"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/regionfinder/interval"
)

// Reference serves the bases of a Fasta by genomic interval.  It is safe for
// concurrent use.
type Reference struct {
	fa   Fasta
	dict *interval.Dictionary
	// Files backing an indexed Fasta; closed by Close.
	files []file.File
}

// NewReference wraps fa.  Its sequence dictionary lists fa's sequences in
// file order.
func NewReference(fa Fasta) (*Reference, error) {
	var contigs []interval.Contig
	for _, name := range fa.SeqNames() {
		n, err := fa.Len(name)
		if err != nil {
			return nil, err
		}
		contigs = append(contigs, interval.Contig{Name: name, Length: int(n)})
	}
	dict, err := interval.NewDictionary(contigs)
	if err != nil {
		return nil, err
	}
	return &Reference{fa: fa, dict: dict}, nil
}

// Dictionary returns the sequence dictionary of the reference.
func (r *Reference) Dictionary() *interval.Dictionary {
	return r.dict
}

// Slice returns a copy of the bases covered by iv.
func (r *Reference) Slice(iv interval.Interval) ([]byte, error) {
	if err := r.dict.Validate(iv); err != nil {
		return nil, err
	}
	s, err := r.fa.Get(iv.Contig, uint64(iv.Start-1), uint64(iv.End))
	if err != nil {
		return nil, errors.E(errors.Precondition, err, fmt.Sprintf("fasta: reading %v", iv))
	}
	return []byte(s), nil
}

// CheckCompatible verifies that every contig of dict exists in the reference
// with the same length.
func (r *Reference) CheckCompatible(dict *interval.Dictionary) error {
	for _, c := range dict.Contigs() {
		n, ok := r.dict.Length(c.Name)
		if !ok {
			return errors.E(errors.NotExist, fmt.Sprintf("fasta: contig %s missing from reference", c.Name))
		}
		if n != c.Length {
			return errors.E(errors.Precondition, fmt.Sprintf("fasta: inconsistent lengths for contig %s (%d in reads, %d in reference)", c.Name, c.Length, n))
		}
	}
	return nil
}

// Close releases the files backing the reference, if any.
func (r *Reference) Close(ctx context.Context) error {
	var once errors.Once
	for _, f := range r.files {
		once.Set(f.Close(ctx))
	}
	r.files = nil
	return once.Err()
}

// Load opens the FASTA file at path.  If path.fai exists, sequences are read
// on demand through the index; otherwise the (possibly compressed) file is
// loaded into memory.
func Load(ctx context.Context, path string) (*Reference, error) {
	if idx, err := file.Open(ctx, path+".fai"); err == nil {
		in, err := file.Open(ctx, path)
		if err != nil {
			_ = idx.Close(ctx)
			return nil, err
		}
		fa, err := NewIndexed(in.Reader(ctx), idx.Reader(ctx))
		if err != nil {
			_ = idx.Close(ctx)
			_ = in.Close(ctx)
			return nil, errors.E(errors.Invalid, err, path+".fai")
		}
		ref, err := NewReference(fa)
		if err != nil {
			_ = idx.Close(ctx)
			_ = in.Close(ctx)
			return nil, err
		}
		log.Debug.Printf("fasta.Load: %s: indexed, %d sequences", path, len(fa.SeqNames()))
		ref.files = []file.File{in, idx}
		return ref, nil
	}
	fa, err := loadFa(ctx, path)
	if err != nil {
		return nil, err
	}
	log.Debug.Printf("fasta.Load: %s: in memory, %d sequences", path, len(fa.SeqNames()))
	return NewReference(fa)
}

func loadFa(ctx context.Context, path string) (fa Fasta, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader, _ := compress.NewReader(in.Reader(ctx))
	defer func() {
		if e := reader.Close(); e != nil && err == nil {
			err = e
		}
	}()
	if fa, err = New(reader); err != nil {
		return nil, errors.E(errors.Invalid, err, path)
	}
	return fa, nil
}
