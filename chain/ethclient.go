package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/colorfulnotion/dealproof/common"
	"github.com/colorfulnotion/dealproof/dealerrors"
	"github.com/colorfulnotion/dealproof/log"
	"github.com/colorfulnotion/dealproof/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethereumCommon "github.com/ethereum/go-ethereum/common"
	ethereumTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/ipfs/go-cid"
)

const (
	DefaultGasLimit     = uint64(3_000_000)
	DefaultReceiptLimit = 5 * time.Minute
)

// EthConfig configures an EthClient. PrivateKey is only needed to post proofs.
type EthConfig struct {
	RPCURL          string
	ContractAddress common.Address
	PrivateKey      string
	GasLimit        uint64
	// ReceiptLimit bounds the wait for a save_proof transaction to be mined.
	ReceiptLimit time.Duration
}

// EthClient talks to the deal contract over JSON-RPC. The underlying
// ethclient.Client is safe for concurrent use, so one EthClient can serve
// every request.
type EthClient struct {
	rpc          *ethclient.Client
	bound        *bind.BoundContract
	contract     ethereumCommon.Address
	key          *ecdsa.PrivateKey
	from         ethereumCommon.Address
	gasLimit     uint64
	receiptLimit time.Duration
}

// DialEthClient connects to cfg.RPCURL (http, ws or ipc).
func DialEthClient(ctx context.Context, cfg EthConfig) (*EthClient, error) {
	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	c := &EthClient{
		rpc:          rpc,
		bound:        bind.NewBoundContract(cfg.ContractAddress.Eth(), contractABI, rpc, rpc, rpc),
		contract:     cfg.ContractAddress.Eth(),
		gasLimit:     cfg.GasLimit,
		receiptLimit: cfg.ReceiptLimit,
	}
	if c.gasLimit == 0 {
		c.gasLimit = DefaultGasLimit
	}
	if c.receiptLimit == 0 {
		c.receiptLimit = DefaultReceiptLimit
	}
	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(trimHexPrefix(cfg.PrivateKey))
		if err != nil {
			rpc.Close()
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	log.Info(log.ChainMonitoring, "connected to deal contract", "rpc", cfg.RPCURL, "contract", cfg.ContractAddress.Hex(), "signer", c.from.Hex())
	return c, nil
}

func (c *EthClient) Close() {
	c.rpc.Close()
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func (c *EthClient) call(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unpack %s: %d return values", method, len(out))
	}
	return out[0], nil
}

func (c *EthClient) callBig(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	v, err := c.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected return type %T", method, v)
	}
	return n, nil
}

func (c *EthClient) callUint64(ctx context.Context, method string, args ...interface{}) (uint64, error) {
	n, err := c.callBig(ctx, method, args...)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("%s: value %s overflows uint64", method, n)
	}
	return n.Uint64(), nil
}

// callAmount reads a token amount, which uses the full uint256 range.
func (c *EthClient) callAmount(ctx context.Context, method string, args ...interface{}) (*types.TokenAmount, error) {
	n, err := c.callBig(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	amount, overflow := uint256.FromBig(n)
	if overflow {
		return nil, fmt.Errorf("%s: value %s overflows uint256", method, n)
	}
	return amount, nil
}

// GetOffer reads every deal field with one contract call per getter. A deal
// with a zero proof frequency and zero length was never proposed.
func (c *EthClient) GetOffer(ctx context.Context, dealID types.DealID) (*types.OnChainDealInfo, error) {
	id := new(big.Int).SetUint64(uint64(dealID))
	deal := &types.OnChainDealInfo{DealID: dealID}

	uints := []struct {
		method string
		dst    *uint64
	}{
		{"getDealStartBlock", (*uint64)(&deal.DealStartBlock)},
		{"getDealLengthInBlocks", (*uint64)(&deal.DealLengthInBlocks)},
		{"getProofFrequencyInBlocks", (*uint64)(&deal.ProofFrequencyInBlocks)},
		{"getFileSize", &deal.FileSize},
		{"getCancellationBlock", (*uint64)(&deal.CancellationBlock)},
	}
	for _, u := range uints {
		v, err := c.callUint64(ctx, u.method, id)
		if err != nil {
			return nil, fmt.Errorf("deal %d: %w", dealID, err)
		}
		*u.dst = v
	}
	if deal.DealLengthInBlocks == 0 && deal.ProofFrequencyInBlocks == 0 {
		return nil, fmt.Errorf("%w: deal %d", dealerrors.ErrDealNotFound, dealID)
	}

	amounts := []struct {
		method string
		dst    **types.TokenAmount
	}{
		{"getPrice", &deal.Price},
		{"getCollateral", &deal.Collateral},
	}
	for _, a := range amounts {
		v, err := c.callAmount(ctx, a.method, id)
		if err != nil {
			return nil, fmt.Errorf("deal %d: %w", dealID, err)
		}
		*a.dst = v
	}

	v, err := c.call(ctx, "getErc20TokenDenomination", id)
	if err != nil {
		return nil, fmt.Errorf("deal %d: %w", dealID, err)
	}
	if token, ok := v.(ethereumCommon.Address); ok {
		deal.Erc20TokenDenomination = types.Token(token)
	}

	v, err = c.call(ctx, "getBlake3Checksum", id)
	if err != nil {
		return nil, fmt.Errorf("deal %d: %w", dealID, err)
	}
	checksum, ok := v.([32]byte)
	if !ok {
		return nil, fmt.Errorf("deal %d: getBlake3Checksum: unexpected return type %T", dealID, v)
	}
	deal.Blake3Checksum = common.BytesToHash(checksum[:])

	v, err = c.call(ctx, "getIpfsFileCid", id)
	if err != nil {
		return nil, fmt.Errorf("deal %d: %w", dealID, err)
	}
	if s, ok := v.(string); ok && s != "" {
		fileCid, err := cid.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("deal %d: ipfs cid %q: %w", dealID, s, err)
		}
		deal.IpfsFileCid = fileCid
	}

	log.Debug(log.ChainMonitoring, "GetOffer", "deal", dealID, "start", deal.DealStartBlock, "length", deal.DealLengthInBlocks, "freq", deal.ProofFrequencyInBlocks, "size", deal.FileSize)
	return deal, nil
}

func (c *EthClient) GetLatestBlockNum(ctx context.Context) (types.BlockNum, error) {
	n, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("latest block: %w", err)
	}
	return types.BlockNum(n), nil
}

func (c *EthClient) GetBlockHashFromNum(ctx context.Context, blockNum types.BlockNum) (common.Hash, error) {
	header, err := c.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(uint64(blockNum)))
	if errors.Is(err, ethereum.NotFound) {
		return common.Hash{}, fmt.Errorf("%w: %d", dealerrors.ErrBlockNotFound, blockNum)
	}
	if err != nil {
		return common.Hash{}, fmt.Errorf("header %d: %w", blockNum, err)
	}
	return common.Hash(header.Hash()), nil
}

func (c *EthClient) GetProofBlockNumFromWindow(ctx context.Context, dealID types.DealID, windowNum uint64) (types.BlockNum, bool, error) {
	n, err := c.callUint64(ctx, "getProofBlock", new(big.Int).SetUint64(uint64(dealID)), new(big.Int).SetUint64(windowNum))
	if err != nil {
		return 0, false, fmt.Errorf("deal %d window %d: %w", dealID, windowNum, err)
	}
	if n == 0 {
		return 0, false, nil
	}
	return types.BlockNum(n), true, nil
}

// GetProofFromLogs returns the proof of the first ProofAdded log for dealID in
// blockNum. A log whose payload does not decode is reported as an error
// wrapping dealerrors.ErrMalformedProofLog.
func (c *EthClient) GetProofFromLogs(ctx context.Context, blockNum types.BlockNum, dealID types.DealID) ([]byte, bool, error) {
	b := new(big.Int).SetUint64(uint64(blockNum))
	logs, err := c.rpc.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: b,
		ToBlock:   b,
		Addresses: []ethereumCommon.Address{c.contract},
		Topics: [][]ethereumCommon.Hash{
			{ProofAddedTopic().Eth()},
			{common.Uint64ToHash(uint64(dealID)).Eth()},
		},
	})
	if err != nil {
		return nil, false, fmt.Errorf("logs of block %d: %w", blockNum, err)
	}
	if len(logs) == 0 {
		return nil, false, nil
	}
	proof, err := DecodeProofLogData(logs[0].Data)
	if err != nil {
		return nil, false, fmt.Errorf("deal %d block %d: %w", dealID, blockNum, err)
	}
	return proof, true, nil
}

// PostProof sends save_proof through the bound contract and waits for it to
// be mined. It returns the block the proof landed in.
func (c *EthClient) PostProof(ctx context.Context, dealID types.DealID, proof []byte, targetWindow uint64) (types.BlockNum, error) {
	if c.key == nil {
		return 0, errors.New("post proof: no signing key configured")
	}
	chainID, err := c.rpc.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain id: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, chainID)
	if err != nil {
		return 0, fmt.Errorf("failed to create transactor: %w", err)
	}
	opts.Context = ctx
	opts.GasLimit = c.gasLimit

	tx, err := c.bound.Transact(opts, "save_proof", proof, new(big.Int).SetUint64(uint64(dealID)), new(big.Int).SetUint64(targetWindow))
	if err != nil {
		return 0, fmt.Errorf("send save_proof: %w", err)
	}
	log.Info(log.ChainMonitoring, "save_proof sent", "deal", dealID, "window", targetWindow, "tx", tx.Hash().Hex(), "bytes", len(proof))

	waitCtx, cancel := context.WithTimeout(ctx, c.receiptLimit)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, c.rpc, tx)
	if err != nil {
		return 0, fmt.Errorf("receipt %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != ethereumTypes.ReceiptStatusSuccessful {
		return 0, fmt.Errorf("save_proof %s reverted in block %d", tx.Hash().Hex(), receipt.BlockNumber)
	}
	return types.BlockNum(receipt.BlockNumber.Uint64()), nil
}
