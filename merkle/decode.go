package merkle

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/colorfulnotion/dealproof/common"
	"github.com/colorfulnotion/dealproof/log"
	"lukechampine.com/blake3/bao"
)

// DecodeSlice streams a bao slice proof, checking every node against root
// before descending into it, and writes the verified bytes of
// [offset, offset+length) to dst.
//
// It returns false with a nil error for any proof that does not verify:
// empty, truncated, trailing bytes, a header that cannot hold the range, or a
// hash mismatch. An error is returned only when reading proof or writing dst
// fails for reasons other than the proof running out. When false is returned
// dst may already hold a verified prefix of the range.
func DecodeSlice(dst io.Writer, proof io.Reader, root common.Hash, offset, length uint64) (bool, error) {
	hdr := make([]byte, HeaderSize)
	if _, err := io.ReadFull(proof, hdr); err != nil {
		return rejectOrFail(err, "header")
	}
	contentLen, _ := ParseOutboardHeader(hdr)
	if _, _, ok := chunkRange(offset, length, contentLen); !ok {
		log.Trace(log.MerkleMonitoring, "slice header does not cover range", "content", contentLen, "offset", offset, "length", length)
		return false, nil
	}

	sink := &recordingWriter{w: dst}
	var expected [32]byte
	copy(expected[:], root.Bytes())
	ok, err := bao.DecodeSlice(sink, io.MultiReader(bytes.NewReader(hdr), proof), baoGroup, offset, length, expected)
	switch {
	case sink.err != nil:
		return false, fmt.Errorf("decode slice: write content: %w", sink.err)
	case err != nil:
		return rejectOrFail(err, "tree")
	case !ok:
		log.Trace(log.MerkleMonitoring, "slice hash mismatch", "offset", offset, "length", length)
		return false, nil
	}

	var trailing [1]byte
	switch _, err := io.ReadFull(proof, trailing[:]); {
	case err == nil:
		log.Trace(log.MerkleMonitoring, "slice has trailing bytes")
		return false, nil
	case errors.Is(err, io.EOF):
		return true, nil
	default:
		return false, fmt.Errorf("decode slice: trailing read: %w", err)
	}
}

// VerifySlice is DecodeSlice without keeping the content.
func VerifySlice(proof io.Reader, root common.Hash, offset, length uint64) (bool, error) {
	return DecodeSlice(io.Discard, proof, root, offset, length)
}

// VerifySliceBytes verifies an in-memory proof. Reading a byte slice cannot
// fail, so there is no error to report.
func VerifySliceBytes(proof []byte, root common.Hash, offset, length uint64) bool {
	ok, err := VerifySlice(bytes.NewReader(proof), root, offset, length)
	return ok && err == nil
}

func rejectOrFail(err error, where string) (bool, error) {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		log.Trace(log.MerkleMonitoring, "slice rejected", "at", where, "err", err)
		return false, nil
	}
	return false, fmt.Errorf("decode slice: %s: %w", where, err)
}
