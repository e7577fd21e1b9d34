package prover

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/colorfulnotion/dealproof/chain"
	"github.com/colorfulnotion/dealproof/common"
	"github.com/colorfulnotion/dealproof/dealerrors"
	"github.com/colorfulnotion/dealproof/merkle"
	"github.com/colorfulnotion/dealproof/storage"
	"github.com/colorfulnotion/dealproof/types"
	"github.com/colorfulnotion/dealproof/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	mc     *chain.MemChain
	store  *storage.DealStore
	prover *Prover
	path   string
	data   []byte
	root   common.Hash
}

func newFixture(t *testing.T, size int) *fixture {
	t.Helper()
	data := make([]byte, size)
	rand.New(rand.NewSource(7)).Read(data)
	path := filepath.Join(t.TempDir(), "content.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	root, _, err := merkle.Commit(bytes.NewReader(data))
	require.NoError(t, err)

	store, err := storage.NewDealStore("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mc := chain.NewMemChain("prover-test")
	return &fixture{mc: mc, store: store, prover: New(mc, store), path: path, data: data, root: root}
}

func (f *fixture) propose(start, length, freq types.BlockNum) types.DealID {
	return f.mc.ProposeDeal(types.OnChainDealInfo{
		DealStartBlock:         start,
		DealLengthInBlocks:     length,
		ProofFrequencyInBlocks: freq,
		FileSize:               uint64(len(f.data)),
		Blake3Checksum:         f.root,
	})
}

func TestGenerateProof(t *testing.T) {
	data := make([]byte, 5000)
	rand.New(rand.NewSource(1)).Read(data)
	root, outboard, err := merkle.Commit(bytes.NewReader(data))
	require.NoError(t, err)

	for i := uint64(0); i < 10; i++ {
		blockHash := common.Keccak256(common.Uint64ToBytes(i))
		proof, err := GenerateProof(bytes.NewReader(data), bytes.NewReader(outboard), uint64(len(data)), types.BlockNum(i), blockHash)
		require.NoError(t, err)
		assert.Equal(t, types.BlockNum(i), proof.BlockNumber)

		sel, err := window.ComputeRandomBlockChoiceFromHash(blockHash, uint64(len(data)))
		require.NoError(t, err)
		assert.True(t, merkle.VerifySliceBytes(proof.Data, root, sel.Offset, sel.Length))
	}

	_, err = GenerateProof(bytes.NewReader(nil), bytes.NewReader(outboard), 0, 1, common.Hash{})
	assert.ErrorIs(t, err, dealerrors.ErrEmptyFile)
}

func TestRegisterChecksumMismatch(t *testing.T) {
	f := newFixture(t, 3000)
	id := f.mc.ProposeDeal(types.OnChainDealInfo{
		DealStartBlock: 1, DealLengthInBlocks: 10, ProofFrequencyInBlocks: 5,
		FileSize: 3000, Blake3Checksum: common.Keccak256([]byte("not the file")),
	})
	_, err := f.prover.Register(context.Background(), id, f.path)
	assert.ErrorIs(t, err, dealerrors.ErrChecksumMismatch)

	id = f.mc.ProposeDeal(types.OnChainDealInfo{
		DealStartBlock: 1, DealLengthInBlocks: 10, ProofFrequencyInBlocks: 5,
		FileSize: 2999, Blake3Checksum: f.root,
	})
	_, err = f.prover.Register(context.Background(), id, f.path)
	assert.ErrorIs(t, err, dealerrors.ErrChecksumMismatch)

	_, err = f.prover.Register(context.Background(), 99, f.path)
	assert.ErrorIs(t, err, dealerrors.ErrDealNotFound)
}

func TestProveWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5000)
	id := f.propose(1, 10, 5)

	local, err := f.prover.Register(ctx, id, f.path)
	require.NoError(t, err)
	assert.Equal(t, types.DealActive, local.Status)
	assert.NotEmpty(t, local.ObaoCid)

	block, err := f.prover.ProveWindow(ctx, id, 0)
	require.NoError(t, err)

	proofBlock, ok, err := f.mc.GetProofBlockNumFromWindow(ctx, id, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, block, proofBlock)

	proof, ok, err := f.mc.GetProofFromLogs(ctx, block, id)
	require.NoError(t, err)
	require.True(t, ok)
	blockHash, err := f.mc.GetBlockHashFromNum(ctx, 1)
	require.NoError(t, err)
	sel, err := window.ComputeRandomBlockChoiceFromHash(blockHash, 5000)
	require.NoError(t, err)
	assert.True(t, merkle.VerifySliceBytes(proof, f.root, sel.Offset, sel.Length))

	stored, err := f.store.GetDeal(id)
	require.NoError(t, err)
	assert.Equal(t, block, stored.LastSubmission)
	require.NotNil(t, stored.LastWindow)
	assert.Equal(t, uint64(0), *stored.LastWindow)

	_, err = f.prover.ProveWindow(ctx, id, 2)
	assert.ErrorIs(t, err, dealerrors.ErrWindowClosed)
	_, err = f.prover.ProveWindow(ctx, id+1, 0)
	assert.ErrorIs(t, err, dealerrors.ErrDealNotRegistered)
}

func TestTickFollowsSchedule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 4096)
	id := f.propose(5, 10, 5)

	local, err := f.prover.Register(ctx, id, f.path)
	require.NoError(t, err)
	assert.Equal(t, types.DealFuture, local.Status)

	require.NoError(t, f.prover.Tick(ctx))
	_, ok, err := f.mc.GetProofBlockNumFromWindow(ctx, id, 0)
	require.NoError(t, err)
	assert.False(t, ok, "future deal must not be proved")

	f.mc.SetHead(5)
	require.NoError(t, f.prover.Tick(ctx))
	_, ok, err = f.mc.GetProofBlockNumFromWindow(ctx, id, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	// same window again is a no-op
	head, err := f.mc.GetLatestBlockNum(ctx)
	require.NoError(t, err)
	require.NoError(t, f.prover.Tick(ctx))
	after, err := f.mc.GetLatestBlockNum(ctx)
	require.NoError(t, err)
	assert.Equal(t, head, after)

	f.mc.SetHead(11)
	require.NoError(t, f.prover.Tick(ctx))
	_, ok, err = f.mc.GetProofBlockNumFromWindow(ctx, id, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	f.mc.SetHead(30)
	require.NoError(t, f.prover.Tick(ctx))
	stored, err := f.store.GetDeal(id)
	require.NoError(t, err)
	assert.Equal(t, types.DealCompleteAwaitingFinalization, stored.Status)

	require.NoError(t, f.prover.MarkDone(id))
	require.NoError(t, f.prover.Tick(ctx))
	stored, err = f.store.GetDeal(id)
	require.NoError(t, err)
	assert.Equal(t, types.DealDone, stored.Status)
}

func TestTickCancelled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2000)
	id := f.propose(1, 100, 5)
	_, err := f.prover.Register(ctx, id, f.path)
	require.NoError(t, err)

	require.NoError(t, f.mc.Cancel(id, 3))
	require.NoError(t, f.prover.Tick(ctx))
	stored, err := f.store.GetDeal(id)
	require.NoError(t, err)
	assert.Equal(t, types.DealCancelled, stored.Status)
	assert.Equal(t, types.BlockNum(3), stored.Onchain.CancellationBlock)
	_, ok, err := f.mc.GetProofBlockNumFromWindow(ctx, id, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunProvesUntilCancelled(t *testing.T) {
	f := newFixture(t, 3000)
	id := f.propose(1, 10, 5)
	_, err := f.prover.Register(context.Background(), id, f.path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.prover.Run(ctx, Config{PollInterval: 5 * time.Millisecond}) }()

	require.Eventually(t, func() bool {
		_, ok, err := f.mc.GetProofBlockNumFromWindow(context.Background(), id, 0)
		return err == nil && ok
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
