/*Package interval implements the genomic coordinate model shared by the
  region-discovery pipeline: 1-based closed intervals, the sequence dictionary
  they are validated against, and padded shard boundaries.

  Text formats in our domain are 1-based and binary formats are 0-based.  Every
  Interval in this package is 1-based with an inclusive end; BED input (0-based,
  half-open) is converted on load.
*/
package interval
