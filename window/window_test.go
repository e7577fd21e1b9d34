package window

import (
	"testing"

	"github.com/colorfulnotion/dealproof/common"
	"github.com/colorfulnotion/dealproof/dealerrors"
	"github.com/colorfulnotion/dealproof/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeTargetWindowStart(t *testing.T) {
	assert.Equal(t, types.BlockNum(100), ComputeTargetWindowStart(100, 5, 0))
	assert.Equal(t, types.BlockNum(115), ComputeTargetWindowStart(100, 5, 3))
}

func TestNumChunks(t *testing.T) {
	assert.Equal(t, uint64(0), NumChunks(0))
	assert.Equal(t, uint64(1), NumChunks(1))
	assert.Equal(t, uint64(1), NumChunks(1024))
	assert.Equal(t, uint64(2), NumChunks(1025))
	assert.Equal(t, uint64(920), NumChunks(941366))
}

func TestChoiceDeterministic(t *testing.T) {
	h := common.HexToHash("0x8c6b1e1f7a0f1d0a5e7c2b9e39fbc4b7e8a1d6f2c3b4a5968778695a4b3c2d1e")
	a, err := ComputeRandomBlockChoiceFromHash(h, 941366)
	require.NoError(t, err)
	b, err := ComputeRandomBlockChoiceFromHash(h, 941366)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestChoiceUsesFull256Bits(t *testing.T) {
	// 2^255 mod 3 == 2, while the low 64 bits alone are zero.
	var h common.Hash
	h[0] = 0x80
	sel, err := ComputeRandomBlockChoiceFromHash(h, 3*1024)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), sel.Index())
	assert.Equal(t, uint64(2048), sel.Offset)
	assert.Equal(t, uint64(1024), sel.Length)
}

func TestChoiceCoverage(t *testing.T) {
	for _, fileLength := range []uint64{1, 1023, 1024, 1025, 4096, 5000, 10*1024 + 1} {
		n := NumChunks(fileLength)
		var next uint64
		for i := uint64(0); i < n; i++ {
			sel, err := ComputeRandomBlockChoiceFromHash(common.Uint64ToHash(i), fileLength)
			require.NoError(t, err)
			assert.Equal(t, i, sel.Index())
			assert.Equal(t, next, sel.Offset, "gap or overlap at chunk %d of %d", i, fileLength)
			assert.NotZero(t, sel.Length)
			next = sel.Offset + sel.Length
		}
		assert.Equal(t, fileLength, next)
	}
}

func TestChoiceBoundary(t *testing.T) {
	last, err := ComputeRandomBlockChoiceFromHash(common.Uint64ToHash(3), 4096)
	require.NoError(t, err)
	assert.Equal(t, ChunkSelection{Offset: 3072, Length: 1024}, last)

	last, err = ComputeRandomBlockChoiceFromHash(common.Uint64ToHash(4), 5000)
	require.NoError(t, err)
	assert.Equal(t, ChunkSelection{Offset: 4096, Length: 5000 % 1024}, last)

	// randomness wraps around the chunk count
	wrapped, err := ComputeRandomBlockChoiceFromHash(common.Uint64ToHash(9), 5000)
	require.NoError(t, err)
	assert.Equal(t, last, wrapped)
}

func TestChoiceEmptyFile(t *testing.T) {
	_, err := ComputeRandomBlockChoiceFromHash(common.Uint64ToHash(1), 0)
	assert.ErrorIs(t, err, dealerrors.ErrEmptyFile)
}

func TestNumWindows(t *testing.T) {
	n, err := NumWindows(10, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	n, err = NumWindows(11, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	n, err = NumWindows(0, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	_, err = NumWindows(10, 0)
	assert.ErrorIs(t, err, dealerrors.ErrZeroProofFrequency)
}

func TestCurrentWindow(t *testing.T) {
	w, err := CurrentWindow(100, 5, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), w)

	w, err = CurrentWindow(100, 5, 112)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), w)

	_, err = CurrentWindow(100, 5, 99)
	assert.ErrorIs(t, err, dealerrors.ErrDealNotStarted)
}

func TestEffectiveLengthAndDealOver(t *testing.T) {
	deal := &types.OnChainDealInfo{DealStartBlock: 100, DealLengthInBlocks: 20, ProofFrequencyInBlocks: 5}
	assert.Equal(t, types.BlockNum(20), EffectiveLength(deal))
	assert.False(t, DealOver(120, deal))
	assert.True(t, DealOver(121, deal))

	deal.CancellationBlock = 111
	assert.Equal(t, types.BlockNum(11), EffectiveLength(deal))
	n, err := NumWindows(EffectiveLength(deal), deal.ProofFrequencyInBlocks)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	deal.CancellationBlock = 90
	assert.Equal(t, types.BlockNum(0), EffectiveLength(deal))
}
