package merkle

import (
	"encoding/binary"
	"math/bits"

	"github.com/colorfulnotion/dealproof/common"
	"lukechampine.com/blake3/guts"
)

const (
	// ChunkSize is the leaf width of the commitment tree, one BLAKE3 chunk.
	ChunkSize = guts.ChunkSize
	// HeaderSize is the little-endian content length prefix of outboards and slices.
	HeaderSize = 8
	// ParentSize is one encoded parent node: the left and right chaining values.
	ParentSize = 2 * common.HashLength
)

// baoGroup selects one chunk per leaf in the bao encoding.
const baoGroup = 0

// cv is a BLAKE3 chaining value, the hash of one subtree.
type cv [common.HashLength]byte

func cvToBytes(words [8]uint32) cv {
	var out cv
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

func bytesToCV(b []byte) [8]uint32 {
	var words [8]uint32
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words
}

// chunkCV compresses one chunk at its position in the content. The root flag
// is only set when the chunk is the entire content.
func chunkCV(index uint64, chunk []byte, isRoot bool) cv {
	n := guts.CompressChunk(chunk, &guts.IV, index, 0)
	if isRoot {
		n.Flags |= guts.FlagRoot
	}
	return cvToBytes(guts.ChainingValue(n))
}

func parentCV(left, right *cv, isRoot bool) cv {
	var flags uint32
	if isRoot {
		flags = guts.FlagRoot
	}
	n := guts.ParentNode(bytesToCV(left[:]), bytesToCV(right[:]), &guts.IV, flags)
	return cvToBytes(guts.ChainingValue(n))
}

// numChunks counts the leaves for a content length; empty content is one empty chunk.
func numChunks(contentLen uint64) uint64 {
	if contentLen == 0 {
		return 1
	}
	return (contentLen + ChunkSize - 1) / ChunkSize
}

// leftChunks is the size of the left subtree of a node spanning n > 1 chunks:
// the largest power of two strictly below n.
func leftChunks(n uint64) uint64 {
	return uint64(1) << (bits.Len64(n-1) - 1)
}

// OutboardSize is the byte length of the outboard for contentLen bytes of data.
func OutboardSize(contentLen uint64) uint64 {
	return HeaderSize + (numChunks(contentLen)-1)*ParentSize
}

func encodeHeader(contentLen uint64) []byte {
	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[:], contentLen)
	return hdr[:]
}

// ParseOutboardHeader returns the content length recorded in an outboard or slice header.
func ParseOutboardHeader(hdr []byte) (uint64, bool) {
	if len(hdr) < HeaderSize {
		return 0, false
	}
	return binary.LittleEndian.Uint64(hdr[:HeaderSize]), true
}
