// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*Package activity computes activity profiles: for every locus of a shard's
  core interval, the probability that the locus carries variation, as judged
  by a pluggable Evaluator looking at the pileup, the reference base and the
  overlapping features.

  Evaluators are created through a Factory, once per worker, and closed when
  the worker is done.  The statistical model behind an evaluator is outside
  this package; MismatchFactory provides a simple pileup heuristic.
*/
package activity
