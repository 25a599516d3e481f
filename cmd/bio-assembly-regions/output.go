// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/regionfinder/assemblyregion"
	"github.com/grailbio/regionfinder/cluster"
	"github.com/grailbio/regionfinder/encoding/bgzf"
	"github.com/grailbio/regionfinder/interval"
	"github.com/klauspost/compress/flate"
)

const header = "#CHROM\tCORE_START\tCORE_END\tEXT_START\tEXT_END\tACTIVE\tNREADS\tNFEATURES"

// writeRegions writes the regions of ds to path in genome order.  format is
// "tsv" or "tsv-bgz".
func writeRegions(ctx context.Context, path, format string, dict *interval.Dictionary, ds *cluster.Dataset[*assemblyregion.WalkerContext]) (err error) {
	if format != "tsv" && format != "tsv-bgz" {
		return errors.E(errors.Invalid, fmt.Sprintf("unknown output format %q", format))
	}
	regions := cluster.Collect(ds)
	sort.Slice(regions, func(i, j int) bool {
		return dict.Compare(regions[i].Boundary.Core, regions[j].Boundary.Core) < 0
	})

	dst, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, dst, &err)
	var w io.Writer = dst.Writer(ctx)
	if format == "tsv-bgz" {
		var bw *bgzf.Writer
		if bw, err = bgzf.NewWriter(w, flate.DefaultCompression); err != nil {
			return err
		}
		defer func() {
			if e := bw.Close(); e != nil && err == nil {
				err = e
			}
		}()
		w = bw
	}
	out := tsv.NewWriter(w)
	out.WriteString(header)
	if err = out.EndLine(); err != nil {
		return err
	}
	for _, r := range regions {
		core, ext := r.Boundary.Core, r.Boundary.Padded
		out.WriteString(core.Contig)
		out.WriteUint32(uint32(core.Start))
		out.WriteUint32(uint32(core.End))
		out.WriteUint32(uint32(ext.Start))
		out.WriteUint32(uint32(ext.End))
		if r.Active {
			out.WriteString("1")
		} else {
			out.WriteString("0")
		}
		out.WriteUint32(uint32(len(r.Reads)))
		out.WriteUint32(uint32(len(r.Features)))
		if err = out.EndLine(); err != nil {
			return err
		}
	}
	return out.Flush()
}
