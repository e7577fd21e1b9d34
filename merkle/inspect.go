package merkle

import (
	"fmt"

	"github.com/colorfulnotion/dealproof/common"
	"github.com/colorfulnotion/dealproof/dealerrors"
	"github.com/xlab/treeprint"
)

// OutboardTree renders an outboard as a tree of parent nodes. Leaves show the
// chunk byte ranges they cover; chunk hashes are not part of the outboard.
func OutboardTree(outboard []byte) (treeprint.Tree, error) {
	contentLen, ok := ParseOutboardHeader(outboard)
	if !ok {
		return nil, fmt.Errorf("%w: %d bytes", dealerrors.ErrMalformedOutboard, len(outboard))
	}
	if uint64(len(outboard)) != OutboardSize(contentLen) {
		return nil, fmt.Errorf("%w: content=%d size=%d want=%d", dealerrors.ErrMalformedOutboard, contentLen, len(outboard), OutboardSize(contentLen))
	}
	tree := treeprint.NewWithRoot(fmt.Sprintf("content %d bytes, %d chunks", contentLen, numChunks(contentLen)))
	addOutboardNode(tree, outboard[HeaderSize:], 0, span{start: 0, count: numChunks(contentLen)}, contentLen)
	return tree, nil
}

func addOutboardNode(branch treeprint.Tree, parents []byte, p uint64, s span, contentLen uint64) {
	if s.count == 1 {
		start, end := chunkBounds(s.start, contentLen)
		branch.AddNode(fmt.Sprintf("chunk %d [%d,%d)", s.start, start, end))
		return
	}
	node := parents[p*ParentSize : (p+1)*ParentSize]
	left := common.BytesToHash(node[:common.HashLength])
	right := common.BytesToHash(node[common.HashLength:])
	sub := branch.AddBranch(fmt.Sprintf("chunks %d..%d %s|%s", s.start, s.start+s.count-1, left.String_short(), right.String_short()))
	lc := leftChunks(s.count)
	addOutboardNode(sub, parents, p+1, span{start: s.start, count: lc}, contentLen)
	addOutboardNode(sub, parents, p+lc, span{start: s.start + lc, count: s.count - lc}, contentLen)
}
