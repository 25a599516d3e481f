// Package bgzf writes the .bgzf (block gzipped) format used for tabix
// indexed text files and BAM.  A .bgzf file is a sequence of complete gzip
// members, each holding at most 64KB of payload and carrying its compressed
// size in a BC Extra subfield, followed by an empty terminator member.
//
// See the SAM/BAM spec: https://samtools.github.io/hts-specs/SAMv1.pdf
package bgzf

import (
	"bytes"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/klauspost/compress/gzip"
)

const (
	// DefaultUncompressedBlockSize is the payload size of each block, as
	// chosen by sambamba and biogo.
	DefaultUncompressedBlockSize = 0x0ff00

	// compressedBlockSize bounds the size of a compressed block.
	compressedBlockSize = 0x10000

	// extraOffset is the offset of the Extra field in a gzip header.
	extraOffset = 12
)

var (
	// bgzfExtra is the BC subfield; its last two bytes are patched with
	// the block size - 1.
	bgzfExtra = [...]byte{66, 67, 2, 0, 0, 0}

	terminator = []byte{
		0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0x06, 0x00, 0x42, 0x43,
		0x02, 0x00, 0x1b, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
)

// Writer compresses data into .bgzf format.  It is not thread safe.
type Writer struct {
	w          io.Writer
	gz         *gzip.Writer
	original   bytes.Buffer
	compressed bytes.Buffer
	coffset    uint64 // file offset of the current block
}

// NewWriter returns a .bgzf writer compressing at the given gzip level.
func NewWriter(w io.Writer, level int) (*Writer, error) {
	gz, err := gzip.NewWriterLevel(nil, level)
	if err != nil {
		return nil, errors.E(errors.Invalid, err, "bgzf.NewWriter")
	}
	return &Writer{w: w, gz: gz}, nil
}

// Write appends buf to the payload.
func (w *Writer) Write(buf []byte) (int, error) {
	for i := 0; i < len(buf); {
		end := len(buf)
		if limit := i + DefaultUncompressedBlockSize - w.original.Len(); limit < end {
			end = limit
		}
		n, _ := w.original.Write(buf[i:end])
		i += n
		if err := w.flushBlocks(false); err != nil {
			return i, err
		}
	}
	return len(buf), nil
}

// Close compresses the pending payload and appends the terminator.  It does
// not close the underlying writer.
func (w *Writer) Close() error {
	if err := w.flushBlocks(true); err != nil {
		return err
	}
	_, err := w.w.Write(terminator)
	return err
}

// VOffset returns the virtual offset of the next byte to be written.
func (w *Writer) VOffset() uint64 {
	return w.coffset<<16 | uint64(w.original.Len())
}

func (w *Writer) flushBlocks(all bool) error {
	for w.original.Len() >= DefaultUncompressedBlockSize || (all && w.original.Len() > 0) {
		w.gz.Reset(&w.compressed)
		w.gz.Header.Extra = append(w.gz.Header.Extra[:0], bgzfExtra[:]...)
		w.gz.Header.OS = 0xff
		if _, err := w.gz.Write(w.original.Next(DefaultUncompressedBlockSize)); err != nil {
			return err
		}
		if err := w.gz.Close(); err != nil {
			return err
		}
		b := w.compressed.Bytes()
		bsize := len(b) - 1
		if bsize >= compressedBlockSize {
			return fmt.Errorf("bgzf: compressed block is too big: %d >= %d", bsize, compressedBlockSize)
		}
		b[extraOffset+4] = byte(bsize)
		b[extraOffset+5] = byte(bsize >> 8)
		if _, err := w.compressed.WriteTo(w.w); err != nil {
			return err
		}
		w.coffset += uint64(bsize + 1)
	}
	return nil
}
