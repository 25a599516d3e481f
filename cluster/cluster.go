// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package cluster is a small in-process data-parallel executor.  A Dataset is
// a list of partitions; MapPartitions runs a function over every partition
// concurrently, GroupByKey is a full-barrier shuffle and Collect gathers a
// dataset on the caller.
//
// Tasks must be deterministic and free of side effects: a task that fails
// with a temporary error (errors.IsTemporary) is simply run again.
package cluster

import (
	"context"
	"fmt"
	"runtime"

	"blainsmith.com/go/seahash"
	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	gunsafe "github.com/grailbio/base/unsafe"
	"golang.org/x/sync/errgroup"
)

// Opts configures a Cluster.
type Opts struct {
	// Parallelism bounds the number of tasks run at once.  If <= 0,
	// runtime.NumCPU() is used.
	Parallelism int
	// MaxAttempts is the number of times a task failing with a temporary
	// error is run before the job fails.  Values < 1 mean 1.
	MaxAttempts int
	// ShufflePartitions is the number of partitions produced by GroupByKey.
	// If <= 0, the parallelism is used.
	ShufflePartitions int
}

// DefaultOpts is the default Opts.
var DefaultOpts = Opts{MaxAttempts: 3}

// Cluster runs the tasks of one job.
type Cluster struct {
	opts Opts
	id   string
}

// New creates a cluster for a new job.
func New(opts Opts) *Cluster {
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.NumCPU()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.ShufflePartitions <= 0 {
		opts.ShufflePartitions = opts.Parallelism
	}
	return &Cluster{opts: opts, id: uuid.New().String()}
}

// ID returns the job id, for logging.
func (c *Cluster) ID() string { return c.id }

// Parallelism returns the maximum number of concurrent tasks.
func (c *Cluster) Parallelism() int { return c.opts.Parallelism }

// ShufflePartitions returns the number of partitions GroupByKey produces.
func (c *Cluster) ShufflePartitions() int { return c.opts.ShufflePartitions }

// run runs fn until it succeeds, fails permanently, or exhausts
// c.opts.MaxAttempts.
func (c *Cluster) run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = fn(ctx); err == nil || !errors.IsTemporary(err) {
			return err
		}
		log.Printf("job %s: %s: attempt %d/%d failed: %v", c.id, name, attempt, c.opts.MaxAttempts, err)
	}
	return err
}

// Dataset is a partitioned collection.  Datasets are immutable once built.
type Dataset[T any] struct {
	parts [][]T
}

// Parallelize splits items into n contiguous partitions of near-equal size.
// n is clamped to [1, len(items)], except that an empty input yields one
// empty partition.
func Parallelize[T any](items []T, n int) *Dataset[T] {
	if n > len(items) {
		n = len(items)
	}
	if n < 1 {
		n = 1
	}
	parts := make([][]T, n)
	for i := range parts {
		start := i * len(items) / n
		limit := (i + 1) * len(items) / n
		parts[i] = items[start:limit:limit]
	}
	return &Dataset[T]{parts: parts}
}

// FromPartitions creates a dataset with the given partitions.
func FromPartitions[T any](parts [][]T) *Dataset[T] {
	return &Dataset[T]{parts: parts}
}

// NumPartitions returns the number of partitions of d.
func (d *Dataset[T]) NumPartitions() int { return len(d.parts) }

// Partition returns the i'th partition.  The caller must not modify it.
func (d *Dataset[T]) Partition(i int) []T { return d.parts[i] }

// Partitions returns all partitions.  The caller must not modify them.
func (d *Dataset[T]) Partitions() [][]T { return d.parts }

// Len returns the total number of items.
func (d *Dataset[T]) Len() int {
	n := 0
	for _, p := range d.parts {
		n += len(p)
	}
	return n
}

// MapFunc transforms one partition.  part is the partition index.
type MapFunc[T, U any] func(ctx context.Context, part int, items []T) ([]U, error)

// MapPartitions applies fn to every partition of d, running at most
// c.Parallelism() partitions at once.  The first permanent failure cancels
// the context passed to the other tasks and is returned; no partial result
// is returned in that case.
func MapPartitions[T, U any](ctx context.Context, c *Cluster, d *Dataset[T], fn MapFunc[T, U]) (*Dataset[U], error) {
	out := make([][]U, len(d.parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Parallelism)
	for i := range d.parts {
		i := i
		g.Go(func() error {
			return c.run(gctx, fmt.Sprintf("partition %d", i), func(ctx context.Context) error {
				r, err := fn(ctx, i, d.parts[i])
				if err != nil {
					return err
				}
				out[i] = r
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Dataset[U]{parts: out}, nil
}

// Group is the set of items that share a key.
type Group[T any] struct {
	Key   string
	Items []T
}

// HashPartition maps key to one of n partitions.
func HashPartition(key string, n int) int {
	return int(seahash.Sum64(gunsafe.StringToBytes(key)) % uint64(n))
}

// GroupByKey gathers the items of d by key into c.ShufflePartitions()
// partitions.  A group lives in partition HashPartition(key, n).  Groups
// within a partition are ordered by first occurrence, and items within a
// group keep their (partition, position) order in d.
//
// GroupByKey is a barrier: it reads every partition of d before returning.
func GroupByKey[T any](ctx context.Context, c *Cluster, d *Dataset[T], key func(T) string) (*Dataset[Group[T]], error) {
	n := c.opts.ShufflePartitions
	parts := make([][]Group[T], n)
	index := make([]map[string]int, n)
	for i := range index {
		index[i] = map[string]int{}
	}
	for _, part := range d.parts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, item := range part {
			k := key(item)
			p := HashPartition(k, n)
			gi, ok := index[p][k]
			if !ok {
				gi = len(parts[p])
				index[p][k] = gi
				parts[p] = append(parts[p], Group[T]{Key: k})
			}
			parts[p][gi].Items = append(parts[p][gi].Items, item)
		}
	}
	log.Debug.Printf("job %s: shuffled %d items into %d partitions", c.id, d.Len(), n)
	return &Dataset[Group[T]]{parts: parts}, nil
}

// Collect concatenates the partitions of d in order.
func Collect[T any](d *Dataset[T]) []T {
	out := make([]T, 0, d.Len())
	for _, p := range d.parts {
		out = append(out, p...)
	}
	return out
}
