// Package chain is the boundary to the deal contract: deal metadata, block
// hashes used as window randomness, and the proof logs submitted per window.
package chain

import (
	"context"

	"github.com/colorfulnotion/dealproof/common"
	"github.com/colorfulnotion/dealproof/types"
)

// Reader is everything verification needs from the chain. Implementations
// must be safe for concurrent use.
type Reader interface {
	GetOffer(ctx context.Context, dealID types.DealID) (*types.OnChainDealInfo, error)
	GetLatestBlockNum(ctx context.Context) (types.BlockNum, error)
	GetBlockHashFromNum(ctx context.Context, blockNum types.BlockNum) (common.Hash, error)
	// GetProofBlockNumFromWindow returns false when no proof was recorded for the window.
	GetProofBlockNumFromWindow(ctx context.Context, dealID types.DealID, windowNum uint64) (types.BlockNum, bool, error)
	// GetProofFromLogs returns false when the block holds no proof log for the deal.
	GetProofFromLogs(ctx context.Context, blockNum types.BlockNum, dealID types.DealID) ([]byte, bool, error)
}

// Poster submits proofs. Only the storing party needs it.
type Poster interface {
	PostProof(ctx context.Context, dealID types.DealID, proof []byte, targetWindow uint64) (types.BlockNum, error)
}

// Client is a chain connection usable by both sides.
type Client interface {
	Reader
	Poster
}
