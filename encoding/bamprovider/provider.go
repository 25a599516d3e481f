package bamprovider

import (
	"strings"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/regionfinder/interval"
	"v.io/x/lib/vlog"
)

// ProviderOpts defines options for NewProvider.
type ProviderOpts struct {
	// Index specifies the name of the BAM index file. If Index=="", it
	// defaults to path + ".bai".
	Index string
}

// Provider answers overlap queries against a set of reads. Thread safe.
type Provider interface {
	// GetHeader returns the header for the provided BAM data.  The callee
	// must not modify the returned header object.
	//
	// REQUIRES: Close has not been called.
	GetHeader() (*sam.Header, error)

	// NewIterator returns an iterator over the mapped records whose aligned
	// reference span overlaps iv.  Records are yielded in coordinate order,
	// ties broken by their order in the underlying source.
	//
	// REQUIRES: Close has not been called.
	NewIterator(iv interval.Interval) Iterator

	// Close must be called exactly once. It returns any error encountered
	// by the provider, or any iterator created by the provider.
	//
	// REQUIRES: All the iterators created by NewIterator have been closed.
	Close() error
}

// Iterator iterates over sam.Records in a particular genomic range, in
// coordinate order. Thread compatible.
type Iterator interface {
	// Scan returns where there are any records remaining in the iterator,
	// and if so, advances the iterator to the next record. If the iterator
	// reaches the end of its range, Scan() returns false.  If an error
	// occurs, Scan() returns false and the error can be retrieved by
	// calling Err().
	//
	// REQUIRES: Close has not been called.
	Scan() bool

	// Record returns the current record in the iterator. This must be
	// called only after a call to Scan() returns true.  The caller must not
	// modify the record.
	//
	// REQUIRES: Close has not been called.
	Record() *sam.Record

	// Err returns the error encoutered during iteration, or nil if no error
	// occurred.  An io.EOF error will be translated to nil.
	Err() error

	// Close must be called exactly once. It returns the value of Err().
	Close() error
}

// NewProvider creates a Provider for the BAM file at path.
func NewProvider(path string, optList ...ProviderOpts) Provider {
	opts := ProviderOpts{}
	for _, o := range optList {
		if o.Index != "" {
			opts.Index = o.Index
		}
	}
	if !strings.HasSuffix(path, ".bam") {
		vlog.VI(1).Infof("%v: no .bam suffix, reading it as BAM anyway", path)
	}
	return &BAMProvider{Path: path, Index: opts.Index}
}

// NewErrorIterator creates an Iterator that yields nothing and reports err
// from Err and Close.
func NewErrorIterator(err error) Iterator {
	return failedIterator{err}
}

type failedIterator struct{ err error }

func (it failedIterator) Scan() bool          { return false }
func (it failedIterator) Record() *sam.Record { return nil }
func (it failedIterator) Err() error          { return it.err }
func (it failedIterator) Close() error        { return it.err }
