// Package window maps a deal's block schedule onto proof windows and picks the
// chunk each window must prove. Producer and verifier both call these
// functions, so they must stay pure.
package window

import (
	"fmt"

	"github.com/colorfulnotion/dealproof/common"
	"github.com/colorfulnotion/dealproof/dealerrors"
	"github.com/colorfulnotion/dealproof/merkle"
	"github.com/colorfulnotion/dealproof/types"
	"github.com/holiman/uint256"
)

// ChunkSelection is the byte range a window's proof must cover.
type ChunkSelection struct {
	Offset uint64 `json:"chunk_offset"`
	Length uint64 `json:"chunk_length"`
}

func (c ChunkSelection) Index() uint64 {
	return c.Offset / merkle.ChunkSize
}

func (c ChunkSelection) String() string {
	return fmt.Sprintf("chunk %d [%d,+%d)", c.Index(), c.Offset, c.Length)
}

// ComputeTargetWindowStart is deal_start + window_num * proof_frequency.
func ComputeTargetWindowStart(dealStart, proofFrequency types.BlockNum, windowNum uint64) types.BlockNum {
	return dealStart + proofFrequency*types.BlockNum(windowNum)
}

// NumChunks is ceil(fileLength / ChunkSize).
func NumChunks(fileLength uint64) uint64 {
	return fileLength/merkle.ChunkSize + boolToUint64(fileLength%merkle.ChunkSize != 0)
}

// ComputeRandomBlockChoiceFromHash reduces the 256-bit big-endian randomness
// modulo the chunk count and returns that chunk's byte range. The last chunk
// carries the remainder of the file.
func ComputeRandomBlockChoiceFromHash(randomness common.Hash, fileLength uint64) (ChunkSelection, error) {
	if fileLength == 0 {
		return ChunkSelection{}, dealerrors.ErrEmptyFile
	}
	n := NumChunks(fileLength)

	var r, m uint256.Int
	r.SetBytes32(randomness.Bytes())
	m.SetUint64(n)
	r.Mod(&r, &m)
	index := r.Uint64()

	offset := index * merkle.ChunkSize
	length := uint64(merkle.ChunkSize)
	if index == n-1 {
		length = fileLength - offset
	}
	return ChunkSelection{Offset: offset, Length: length}, nil
}

// NumWindows is ceil(length / proofFrequency).
func NumWindows(length, proofFrequency types.BlockNum) (uint64, error) {
	if proofFrequency == 0 {
		return 0, dealerrors.ErrZeroProofFrequency
	}
	l, f := uint64(length), uint64(proofFrequency)
	return l/f + boolToUint64(l%f != 0), nil
}

// CurrentWindow is the window containing block current.
func CurrentWindow(dealStart, proofFrequency, current types.BlockNum) (uint64, error) {
	if proofFrequency == 0 {
		return 0, dealerrors.ErrZeroProofFrequency
	}
	if current < dealStart {
		return 0, fmt.Errorf("%w: start=%d current=%d", dealerrors.ErrDealNotStarted, dealStart, current)
	}
	return uint64((current - dealStart) / proofFrequency), nil
}

// EffectiveLength is the number of blocks the deal actually ran for. A
// cancelled deal ends at its cancellation block; a cancellation recorded
// before the start leaves nothing to prove.
func EffectiveLength(deal *types.OnChainDealInfo) types.BlockNum {
	if !deal.Cancelled() {
		return deal.DealLengthInBlocks
	}
	if deal.CancellationBlock <= deal.DealStartBlock {
		return 0
	}
	return deal.CancellationBlock - deal.DealStartBlock
}

// DealOver reports whether current lies past the last block of the agreed deal.
func DealOver(current types.BlockNum, deal *types.OnChainDealInfo) bool {
	return current > deal.DealStartBlock+deal.DealLengthInBlocks
}

func boolToUint64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
