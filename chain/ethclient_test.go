package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/colorfulnotion/dealproof/common"
	"github.com/colorfulnotion/dealproof/types"
	ethereumCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethereumTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeNode answers the JSON-RPC methods EthClient uses. Contract views are
// served from views keyed by ABI method name.
type fakeNode struct {
	chainID uint64
	views   map[string][]interface{}
	mined   types.BlockNum

	mu   sync.Mutex
	sent []*ethereumTypes.Transaction
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	result, err := f.handle(req)
	if err != nil {
		resp["error"] = map[string]interface{}{"code": -32000, "message": err.Error()}
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (f *fakeNode) handle(req rpcRequest) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch req.Method {
	case "eth_call":
		var arg struct {
			Input hexutil.Bytes `json:"input"`
			Data  hexutil.Bytes `json:"data"`
		}
		if err := json.Unmarshal(req.Params[0], &arg); err != nil {
			return nil, err
		}
		input := arg.Input
		if len(input) == 0 {
			input = arg.Data
		}
		if len(input) < 4 {
			return nil, fmt.Errorf("short calldata")
		}
		method, err := contractABI.MethodById(input[:4])
		if err != nil {
			return nil, err
		}
		values, ok := f.views[method.Name]
		if !ok {
			return nil, fmt.Errorf("unexpected call %s", method.Name)
		}
		out, err := method.Outputs.Pack(values...)
		return hexutil.Bytes(out), err
	case "eth_chainId":
		return hexutil.Uint64(f.chainID), nil
	case "eth_getBlockByNumber":
		return &ethereumTypes.Header{Number: big.NewInt(int64(f.mined) - 1), Difficulty: big.NewInt(0)}, nil
	case "eth_getTransactionCount":
		return hexutil.Uint64(7), nil
	case "eth_gasPrice":
		return (*hexutil.Big)(big.NewInt(1_000_000_000)), nil
	case "eth_sendRawTransaction":
		var raw hexutil.Bytes
		if err := json.Unmarshal(req.Params[0], &raw); err != nil {
			return nil, err
		}
		tx := new(ethereumTypes.Transaction)
		if err := tx.UnmarshalBinary(raw); err != nil {
			return nil, err
		}
		f.sent = append(f.sent, tx)
		return tx.Hash(), nil
	case "eth_getTransactionReceipt":
		if len(f.sent) == 0 {
			return nil, nil
		}
		return &ethereumTypes.Receipt{
			Status:      ethereumTypes.ReceiptStatusSuccessful,
			Logs:        []*ethereumTypes.Log{},
			TxHash:      f.sent[len(f.sent)-1].Hash(),
			BlockNumber: new(big.Int).SetUint64(uint64(f.mined)),
		}, nil
	}
	return nil, fmt.Errorf("method %s not supported", req.Method)
}

func dialFakeNode(t *testing.T, node *fakeNode, key string) *EthClient {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)
	c, err := DialEthClient(context.Background(), EthConfig{
		RPCURL:          srv.URL,
		ContractAddress: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		PrivateKey:      key,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func dealViews(price *big.Int) map[string][]interface{} {
	var checksum [32]byte
	copy(checksum[:], common.Keccak256([]byte("content")).Bytes())
	return map[string][]interface{}{
		"getDealStartBlock":         {big.NewInt(100)},
		"getDealLengthInBlocks":     {big.NewInt(10)},
		"getProofFrequencyInBlocks": {big.NewInt(5)},
		"getFileSize":               {big.NewInt(941366)},
		"getCancellationBlock":      {big.NewInt(0)},
		"getPrice":                  {price},
		"getCollateral":             {big.NewInt(1)},
		"getErc20TokenDenomination": {ethereumCommon.HexToAddress("0x326C977E6efc84E512bB9C30f76E30c160eD06FB")},
		"getBlake3Checksum":         {checksum},
		"getIpfsFileCid":            {""},
	}
}

func TestGetOfferPriceAboveUint64(t *testing.T) {
	price, ok := new(big.Int).SetString("20000000000000000000", 10)
	require.True(t, ok)
	c := dialFakeNode(t, &fakeNode{views: dealViews(price)}, "")

	deal, err := c.GetOffer(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "20000000000000000000", deal.Price.Dec())
	assert.Equal(t, uint64(1), deal.Collateral.Uint64())
	assert.Equal(t, types.BlockNum(100), deal.DealStartBlock)
	assert.Equal(t, uint64(941366), deal.FileSize)
	assert.Equal(t, common.Keccak256([]byte("content")), deal.Blake3Checksum)
	assert.False(t, deal.IpfsFileCid.Defined())
}

func TestGetOfferUnknownDeal(t *testing.T) {
	views := dealViews(big.NewInt(0))
	views["getDealLengthInBlocks"] = []interface{}{big.NewInt(0)}
	views["getProofFrequencyInBlocks"] = []interface{}{big.NewInt(0)}
	c := dialFakeNode(t, &fakeNode{views: views}, "")

	_, err := c.GetOffer(context.Background(), 9)
	assert.ErrorContains(t, err, "deal 9")
}

func TestPostProofSendsSaveProof(t *testing.T) {
	addr, key := common.GetEVMDevAccount(0)
	node := &fakeNode{chainID: 31337, mined: 42}
	c := dialFakeNode(t, node, key)

	proof := []byte{1, 2, 3, 4}
	block, err := c.PostProof(context.Background(), 3, proof, 5)
	require.NoError(t, err)
	assert.Equal(t, types.BlockNum(42), block)

	require.Len(t, node.sent, 1)
	tx := node.sent[0]
	assert.Equal(t, c.contract, *tx.To())
	assert.Equal(t, DefaultGasLimit, tx.Gas())
	assert.Equal(t, uint64(7), tx.Nonce())
	sender, err := ethereumTypes.Sender(ethereumTypes.LatestSignerForChainID(big.NewInt(31337)), tx)
	require.NoError(t, err)
	assert.Equal(t, addr.Eth(), sender)

	method, err := contractABI.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "save_proof", method.Name)
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, proof, args[0])
	assert.Equal(t, big.NewInt(3), args[1])
	assert.Equal(t, big.NewInt(5), args[2])
}

func TestPostProofNeedsKey(t *testing.T) {
	c := dialFakeNode(t, &fakeNode{}, "")
	_, err := c.PostProof(context.Background(), 3, []byte{1}, 0)
	assert.ErrorContains(t, err, "no signing key")
}
