package merkle

import (
	"fmt"
	"io"
	"os"

	"github.com/colorfulnotion/dealproof/common"
	"github.com/colorfulnotion/dealproof/log"
)

// span identifies a subtree by its first chunk and chunk count.
type span struct {
	start uint64
	count uint64
}

type stackEntry struct {
	span
	value cv
}

// Encoder builds the BLAKE3 tree incrementally without knowing the content
// length in advance. It is an io.Writer: chunk boundaries are fixed at
// ChunkSize regardless of how the input is split across Write calls.
type Encoder struct {
	buf     []byte
	chunks  uint64 // completed chunks
	length  uint64
	stack   []stackEntry
	parents map[span][ParentSize]byte
	done    bool
}

func NewEncoder() *Encoder {
	return &Encoder{
		buf:     make([]byte, 0, ChunkSize),
		parents: make(map[span][ParentSize]byte),
	}
}

func (e *Encoder) Write(p []byte) (int, error) {
	if e.done {
		return 0, fmt.Errorf("merkle: write after Finalize")
	}
	n := len(p)
	for len(p) > 0 {
		// A full buffer is only closed once more input arrives, so the last
		// chunk of the content is always hashed by Finalize.
		if len(e.buf) == ChunkSize {
			e.pushChunk()
		}
		take := ChunkSize - len(e.buf)
		if take > len(p) {
			take = len(p)
		}
		e.buf = append(e.buf, p[:take]...)
		p = p[take:]
	}
	e.length += uint64(n)
	return n, nil
}

func (e *Encoder) pushChunk() {
	entry := stackEntry{
		span:  span{start: e.chunks, count: 1},
		value: chunkCV(e.chunks, e.buf, false),
	}
	e.chunks++
	e.buf = e.buf[:0]
	// Merge completed power-of-two subtrees. None of them can be the root
	// because a later chunk is already known to exist.
	for total := e.chunks; total&1 == 0; total >>= 1 {
		left := e.stack[len(e.stack)-1]
		e.stack = e.stack[:len(e.stack)-1]
		entry = e.merge(left, entry, false)
	}
	e.stack = append(e.stack, entry)
}

func (e *Encoder) merge(left, right stackEntry, isRoot bool) stackEntry {
	var node [ParentSize]byte
	copy(node[:common.HashLength], left.value[:])
	copy(node[common.HashLength:], right.value[:])
	s := span{start: left.start, count: left.count + right.count}
	e.parents[s] = node
	return stackEntry{span: s, value: parentCV(&left.value, &right.value, isRoot)}
}

// Len returns the number of content bytes written so far.
func (e *Encoder) Len() uint64 {
	return e.length
}

// Finalize closes the tree and returns the BLAKE3 hash of the content with
// its bao outboard encoding. The Encoder must not be written to afterwards.
func (e *Encoder) Finalize() (common.Hash, []byte) {
	e.done = true
	if len(e.stack) == 0 {
		root := chunkCV(0, e.buf, true)
		return common.BytesToHash(root[:]), encodeHeader(e.length)
	}
	entry := stackEntry{
		span:  span{start: e.chunks, count: 1},
		value: chunkCV(e.chunks, e.buf, false),
	}
	for len(e.stack) > 0 {
		left := e.stack[len(e.stack)-1]
		e.stack = e.stack[:len(e.stack)-1]
		entry = e.merge(left, entry, len(e.stack) == 0)
	}

	outboard := make([]byte, 0, OutboardSize(e.length))
	outboard = append(outboard, encodeHeader(e.length)...)
	outboard = e.appendPreOrder(outboard, entry.span)
	return common.BytesToHash(entry.value[:]), outboard
}

func (e *Encoder) appendPreOrder(dst []byte, s span) []byte {
	if s.count == 1 {
		return dst
	}
	node := e.parents[s]
	dst = append(dst, node[:]...)
	lc := leftChunks(s.count)
	dst = e.appendPreOrder(dst, span{start: s.start, count: lc})
	return e.appendPreOrder(dst, span{start: s.start + lc, count: s.count - lc})
}

// Commit streams r to EOF and returns the root hash and outboard.
func Commit(r io.Reader) (common.Hash, []byte, error) {
	enc := NewEncoder()
	if _, err := io.Copy(enc, r); err != nil {
		return common.Hash{}, nil, fmt.Errorf("commit: read content: %w", err)
	}
	root, outboard := enc.Finalize()
	log.Debug(log.MerkleMonitoring, "commitment built", "root", root.String_short(), "length", enc.Len(), "outboard", len(outboard))
	return root, outboard, nil
}

// CommitFile commits the file at path.
func CommitFile(path string) (common.Hash, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("commit: %w", err)
	}
	defer f.Close()
	return Commit(f)
}
