package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/colorfulnotion/dealproof/common"
	"github.com/colorfulnotion/dealproof/dealerrors"
	"github.com/colorfulnotion/dealproof/types"
	ethereumCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Client = (*MemChain)(nil)
	_ Client = (*EthClient)(nil)
)

func TestProofAddedTopic(t *testing.T) {
	want := crypto.Keccak256Hash([]byte("ProofAdded(uint256,uint256,bytes)"))
	assert.Equal(t, want, ProofAddedTopic().Eth())
}

func TestProofLogRoundTrip(t *testing.T) {
	for _, proof := range [][]byte{{}, {1, 2, 3}, make([]byte, 1224)} {
		data, err := EncodeProofLogData(proof)
		require.NoError(t, err)
		require.Zero(t, len(data)%wordSize)

		got, err := DecodeProofLogData(data)
		require.NoError(t, err)
		assert.Equal(t, len(proof), len(got))
		assert.Equal(t, proof, got[:len(proof)])
	}
}

func word(v *big.Int) []byte {
	return ethereumCommon.LeftPadBytes(v.Bytes(), wordSize)
}

func TestDecodeProofLogDataRejects(t *testing.T) {
	payload := make([]byte, wordSize)

	_, err := DecodeProofLogData(nil)
	assert.ErrorIs(t, err, dealerrors.ErrMalformedProofLog)

	bad := append(append(word(big.NewInt(64)), word(big.NewInt(3))...), payload...)
	_, err = DecodeProofLogData(bad)
	assert.ErrorIs(t, err, dealerrors.ErrMalformedProofLog, "offset must point at the length word")

	tooLong := append(append(word(big.NewInt(32)), word(big.NewInt(33))...), payload...)
	_, err = DecodeProofLogData(tooLong)
	assert.ErrorIs(t, err, dealerrors.ErrMalformedProofLog)

	// only the low 8 bytes look small; the full word is enormous
	huge := new(big.Int).Lsh(big.NewInt(1), 200)
	huge.Add(huge, big.NewInt(3))
	wide := append(append(word(big.NewInt(32)), word(huge)...), payload...)
	_, err = DecodeProofLogData(wide)
	assert.ErrorIs(t, err, dealerrors.ErrMalformedProofLog)

	valid := append(append(word(big.NewInt(32)), word(big.NewInt(3))...), payload...)
	valid[2*wordSize] = 9
	got, err := DecodeProofLogData(valid)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 0, 0}, got)
}

func TestMemChainDeals(t *testing.T) {
	ctx := context.Background()
	mc := NewMemChain("test")

	_, err := mc.GetOffer(ctx, 5)
	assert.ErrorIs(t, err, dealerrors.ErrDealNotFound)

	id := mc.ProposeDeal(types.OnChainDealInfo{DealStartBlock: 10, DealLengthInBlocks: 10, ProofFrequencyInBlocks: 5, FileSize: 3000})
	assert.Equal(t, types.DealID(1), id)
	deal, err := mc.GetOffer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(3000), deal.FileSize)

	// returned deal is a copy
	deal.FileSize = 1
	again, err := mc.GetOffer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(3000), again.FileSize)

	require.NoError(t, mc.Cancel(id, 14))
	again, err = mc.GetOffer(ctx, id)
	require.NoError(t, err)
	assert.True(t, again.Cancelled())
	assert.ErrorIs(t, mc.Cancel(99, 1), dealerrors.ErrDealNotFound)

	assert.Equal(t, types.DealID(7), mc.ProposeDeal(types.OnChainDealInfo{DealID: 7}))
	assert.Equal(t, types.DealID(8), mc.ProposeDeal(types.OnChainDealInfo{}))
}

func TestMemChainBlocks(t *testing.T) {
	ctx := context.Background()
	a := NewMemChain("seed")
	b := NewMemChain("seed")
	a.AdvanceBlocks(10)
	b.AdvanceBlocks(10)

	head, err := a.GetLatestBlockNum(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.BlockNum(11), head)

	h1, err := a.GetBlockHashFromNum(ctx, 5)
	require.NoError(t, err)
	h2, err := b.GetBlockHashFromNum(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	h3, err := a.GetBlockHashFromNum(ctx, 6)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
	assert.False(t, common.IsNilHash(h1))

	_, err = a.GetBlockHashFromNum(ctx, 12)
	assert.ErrorIs(t, err, dealerrors.ErrBlockNotFound)
}

func TestMemChainProofs(t *testing.T) {
	ctx := context.Background()
	mc := NewMemChain("proofs")
	id := mc.ProposeDeal(types.OnChainDealInfo{DealStartBlock: 1, DealLengthInBlocks: 10, ProofFrequencyInBlocks: 5})

	_, err := mc.PostProof(ctx, 42, []byte{1}, 0)
	assert.ErrorIs(t, err, dealerrors.ErrDealNotFound)

	block, err := mc.PostProof(ctx, id, []byte("proof-0"), 0)
	require.NoError(t, err)

	got, ok, err := mc.GetProofBlockNumFromWindow(ctx, id, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, block, got)

	_, ok, err = mc.GetProofBlockNumFromWindow(ctx, id, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	proof, ok, err := mc.GetProofFromLogs(ctx, block, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("proof-0"), proof)

	_, ok, err = mc.GetProofFromLogs(ctx, block, id+1)
	require.NoError(t, err)
	assert.False(t, ok)

	bad := mc.AddProofLog(id, 1, []byte{1, 2, 3})
	_, _, err = mc.GetProofFromLogs(ctx, bad, id)
	assert.ErrorIs(t, err, dealerrors.ErrMalformedProofLog)
}

func TestDialEthClientSigner(t *testing.T) {
	addr, key := common.GetEVMDevAccount(1)
	contract := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

	// http endpoints are dialed lazily, so no node is needed here.
	c, err := DialEthClient(context.Background(), EthConfig{
		RPCURL:          "http://127.0.0.1:1",
		ContractAddress: contract,
		PrivateKey:      "0x" + key,
	})
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, addr.Eth(), c.from)
	assert.Equal(t, contract.Eth(), c.contract)
	assert.Equal(t, DefaultGasLimit, c.gasLimit)
	assert.Equal(t, DefaultReceiptLimit, c.receiptLimit)

	_, err = DialEthClient(context.Background(), EthConfig{RPCURL: "http://127.0.0.1:1", PrivateKey: "zz"})
	assert.Error(t, err)
}
