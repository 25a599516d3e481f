// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
Package assemblyregion finds assembly regions: contiguous stretches of the
genome classified as active (likely to hold variation) or inactive, each
bundled with the reads, reference bases and features a local assembler needs.

Reads are split into padded shards of Args.ReadShardSize loci.  An activity
evaluator scores every locus of every shard core, and the bandpass package
smooths the resulting profile and cuts it into regions of
[MinAssemblyRegionSize, MaxAssemblyRegionSize] loci.

Two pipelines are provided.  FindFast segments each shard independently and
needs no data movement between workers.  FindStrict regroups the activity
profiles by contig before segmenting, so its regions do not depend on the
shard size or on the parallelism, and then re-shards the reads along the
region boundaries.

Both return a cluster.Dataset of WalkerContexts.  Region order within the
dataset is unspecified; sort by interval.Dictionary.Compare on
Boundary.Core when a genome order is needed.
*/
package assemblyregion
