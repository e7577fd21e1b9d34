package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/colorfulnotion/dealproof/common"
	"github.com/colorfulnotion/dealproof/dealerrors"
	"github.com/colorfulnotion/dealproof/log"
	"github.com/colorfulnotion/dealproof/types"
)

// MemChain is an in-memory chain holding deals, a block counter and the
// ProofAdded logs posted against it. Block hashes are derived from a seed so
// runs are reproducible.
type MemChain struct {
	mu          sync.RWMutex
	seed        []byte
	head        types.BlockNum
	nextDeal    types.DealID
	deals       map[types.DealID]*types.OnChainDealInfo
	proofBlocks map[windowKey]types.BlockNum
	logs        map[types.BlockNum][]memLog
}

type windowKey struct {
	deal   types.DealID
	window uint64
}

type memLog struct {
	deal types.DealID
	data []byte
}

func NewMemChain(seed string) *MemChain {
	return &MemChain{
		seed:        []byte(seed),
		head:        1,
		nextDeal:    1,
		deals:       make(map[types.DealID]*types.OnChainDealInfo),
		proofBlocks: make(map[windowKey]types.BlockNum),
		logs:        make(map[types.BlockNum][]memLog),
	}
}

func (m *MemChain) blockHash(n types.BlockNum) common.Hash {
	return common.Keccak256(m.seed, common.Uint64ToBytes(uint64(n)))
}

// ProposeDeal records deal under a fresh id, or under deal.DealID when it is set.
func (m *MemChain) ProposeDeal(deal types.OnChainDealInfo) types.DealID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if deal.DealID == 0 {
		deal.DealID = m.nextDeal
	}
	if deal.DealID >= m.nextDeal {
		m.nextDeal = deal.DealID + 1
	}
	m.deals[deal.DealID] = &deal
	log.Debug(log.ChainMonitoring, "deal proposed", "deal", deal.DealID, "start", deal.DealStartBlock, "length", deal.DealLengthInBlocks)
	return deal.DealID
}

// Cancel marks dealID as cancelled at block.
func (m *MemChain) Cancel(dealID types.DealID, block types.BlockNum) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	deal, ok := m.deals[dealID]
	if !ok {
		return fmt.Errorf("%w: deal %d", dealerrors.ErrDealNotFound, dealID)
	}
	deal.CancellationBlock = block
	return nil
}

// AdvanceBlocks mines n empty blocks and returns the new head.
func (m *MemChain) AdvanceBlocks(n uint64) types.BlockNum {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head += types.BlockNum(n)
	return m.head
}

// SetHead moves the head to n, which must not be behind the current head.
func (m *MemChain) SetHead(n types.BlockNum) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > m.head {
		m.head = n
	}
}

// AddProofLog stores raw ProofAdded data for dealID at the current head and
// records the head as the window's proof block. It lets tests post payloads
// the ABI encoder would never produce.
func (m *MemChain) AddProofLog(dealID types.DealID, windowNum uint64, data []byte) types.BlockNum {
	m.mu.Lock()
	defer m.mu.Unlock()
	block := m.head
	m.logs[block] = append(m.logs[block], memLog{deal: dealID, data: append([]byte(nil), data...)})
	m.proofBlocks[windowKey{deal: dealID, window: windowNum}] = block
	m.head++
	return block
}

func (m *MemChain) GetOffer(_ context.Context, dealID types.DealID) (*types.OnChainDealInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	deal, ok := m.deals[dealID]
	if !ok {
		return nil, fmt.Errorf("%w: deal %d", dealerrors.ErrDealNotFound, dealID)
	}
	cp := *deal
	return &cp, nil
}

func (m *MemChain) GetLatestBlockNum(_ context.Context) (types.BlockNum, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.head, nil
}

func (m *MemChain) GetBlockHashFromNum(_ context.Context, blockNum types.BlockNum) (common.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if blockNum > m.head {
		return common.Hash{}, fmt.Errorf("%w: %d (head %d)", dealerrors.ErrBlockNotFound, blockNum, m.head)
	}
	return m.blockHash(blockNum), nil
}

func (m *MemChain) GetProofBlockNumFromWindow(_ context.Context, dealID types.DealID, windowNum uint64) (types.BlockNum, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	block, ok := m.proofBlocks[windowKey{deal: dealID, window: windowNum}]
	return block, ok, nil
}

func (m *MemChain) GetProofFromLogs(_ context.Context, blockNum types.BlockNum, dealID types.DealID) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.logs[blockNum] {
		if l.deal != dealID {
			continue
		}
		proof, err := DecodeProofLogData(l.data)
		if err != nil {
			return nil, false, fmt.Errorf("deal %d block %d: %w", dealID, blockNum, err)
		}
		return proof, true, nil
	}
	return nil, false, nil
}

// PostProof includes the proof in the current head block and mines it.
func (m *MemChain) PostProof(_ context.Context, dealID types.DealID, proof []byte, targetWindow uint64) (types.BlockNum, error) {
	m.mu.RLock()
	_, ok := m.deals[dealID]
	m.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: deal %d", dealerrors.ErrDealNotFound, dealID)
	}
	data, err := EncodeProofLogData(proof)
	if err != nil {
		return 0, fmt.Errorf("encode proof log: %w", err)
	}
	block := m.AddProofLog(dealID, targetWindow, data)
	log.Debug(log.ChainMonitoring, "proof posted", "deal", dealID, "window", targetWindow, "block", block, "bytes", len(proof))
	return block, nil
}
