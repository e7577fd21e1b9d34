package merkle

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/colorfulnotion/dealproof/dealerrors"
	"github.com/colorfulnotion/dealproof/log"
	"lukechampine.com/blake3/bao"
)

// chunkRange maps a non-empty byte range onto the first and last chunk it
// touches. An empty range selects no chunk and would verify against any
// root, so it is never accepted.
func chunkRange(offset, length, contentLen uint64) (first, last uint64, ok bool) {
	if length == 0 || offset >= contentLen || length > contentLen-offset {
		return 0, 0, false
	}
	return offset / ChunkSize, (offset + length - 1) / ChunkSize, true
}

// chunkBounds returns the byte extent of chunk index within contentLen bytes.
func chunkBounds(index, contentLen uint64) (uint64, uint64) {
	start := index * ChunkSize
	end := start + ChunkSize
	if end > contentLen {
		end = contentLen
	}
	return start, end
}

// ExtractSlice builds the slice proof for [offset, offset+length) from the
// content and its outboard.
func ExtractSlice(data, outboard io.ReaderAt, offset, length uint64) ([]byte, error) {
	var buf bytes.Buffer
	if err := ExtractSliceTo(&buf, data, outboard, offset, length); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExtractSliceTo writes the bao slice encoding of [offset, offset+length) to
// w. Only the chunks covering the range are read from data, and the outboard
// is read once from the start.
func ExtractSliceTo(w io.Writer, data, outboard io.ReaderAt, offset, length uint64) error {
	hdr := make([]byte, HeaderSize)
	if err := readFullAt(outboard, hdr, 0); err != nil {
		return fmt.Errorf("%w: outboard header: %v", dealerrors.ErrMalformedOutboard, err)
	}
	contentLen, _ := ParseOutboardHeader(hdr)
	first, last, ok := chunkRange(offset, length, contentLen)
	if !ok {
		return fmt.Errorf("%w: offset=%d length=%d content=%d", dealerrors.ErrRangeOutOfBounds, offset, length, contentLen)
	}
	start, _ := chunkBounds(first, contentLen)
	_, end := chunkBounds(last, contentLen)

	sink := &recordingWriter{w: w}
	err := bao.ExtractSlice(sink,
		io.NewSectionReader(data, int64(start), int64(end-start)),
		io.NewSectionReader(outboard, 0, int64(OutboardSize(contentLen))),
		baoGroup, offset, length)
	switch {
	case sink.err != nil:
		return sink.err
	case err != nil:
		return fmt.Errorf("%w: chunks %d..%d: %v", dealerrors.ErrCommitmentMismatch, first, last, err)
	}
	log.Trace(log.MerkleMonitoring, "slice extracted", "offset", offset, "length", length, "chunks", last-first+1)
	return nil
}

// recordingWriter keeps the first error of the underlying writer so it can be
// told apart from a short read of the inputs.
type recordingWriter struct {
	w   io.Writer
	err error
}

func (r *recordingWriter) Write(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	n, err := r.w.Write(p)
	r.err = err
	return n, err
}

func readFullAt(r io.ReaderAt, buf []byte, off int64) error {
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
