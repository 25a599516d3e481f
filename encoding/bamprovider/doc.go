// Package bamprovider provides read sources for region discovery.
//
// A Provider answers genomic overlap queries: NewIterator(interval) yields, in
// coordinate order, every mapped read whose aligned reference span overlaps
// the interval.  BAMProvider serves queries from an indexed BAM file;
// MemProvider serves them from an in-memory genome-wide collection.
package bamprovider
