package fasta

import (
	"bufio"
	"bytes"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
)

// GenerateIndex writes the faidx index (*.fai) of the FASTA data read from in.
// The index can be passed to NewIndexed() to random-access the FASTA file.
//
// The index format is defined by "samtools faidx"
// (http://www.htslib.org/doc/faidx.html).  All lines of a sequence except the
// last must have the same width.
func GenerateIndex(out io.Writer, in io.Reader) error {
	var (
		w         = tsv.NewWriter(out)
		r         = bufio.NewReader(in)
		name      string
		seqOff    int64
		bases     int
		lineBases int
		lineWidth int
		short     bool // saw a line shorter than lineBases
		off       int64
	)
	flush := func() error {
		if name == "" {
			return nil
		}
		w.WriteString(name)
		w.WriteInt64(int64(bases))
		w.WriteInt64(seqOff)
		w.WriteInt64(int64(lineBases))
		w.WriteInt64(int64(lineWidth))
		return w.EndLine()
	}
	for {
		fullLine, err := r.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return errors.E(err, "fasta.GenerateIndex")
		}
		off += int64(len(fullLine))
		line := bytes.TrimRight(fullLine, "\r\n")
		switch {
		case len(line) == 0:
		case line[0] == '>':
			if ferr := flush(); ferr != nil {
				return ferr
			}
			name = string(bytes.SplitN(line[1:], []byte(" "), 2)[0])
			if name == "" {
				return errors.E(errors.Invalid, "fasta.GenerateIndex: unnamed sequence")
			}
			seqOff, bases, lineBases, lineWidth, short = off, 0, 0, 0, false
		case name == "":
			return errors.E(errors.Invalid, "fasta.GenerateIndex: bases before the first header")
		default:
			if short {
				return errors.E(errors.Invalid, "fasta.GenerateIndex: sequence", name, "has lines of different widths")
			}
			if lineWidth == 0 {
				lineWidth, lineBases = len(fullLine), len(line)
			} else if len(line) < lineBases {
				short = true
			} else if len(line) > lineBases {
				return errors.E(errors.Invalid, "fasta.GenerateIndex: sequence", name, "has lines of different widths")
			}
			bases += len(line)
		}
		if err == io.EOF {
			break
		}
	}
	if off == 0 {
		return errors.E(errors.Invalid, "fasta.GenerateIndex: empty FASTA file")
	}
	if err := flush(); err != nil {
		return err
	}
	return w.Flush()
}
