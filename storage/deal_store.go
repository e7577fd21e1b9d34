package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/colorfulnotion/dealproof/dealerrors"
	"github.com/colorfulnotion/dealproof/log"
	"github.com/colorfulnotion/dealproof/types"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

var (
	dealPrefix     = []byte("deal/")
	outboardPrefix = []byte("obao/")
)

// DealStore keeps the storing party's view of its deals and the outboards it
// needs to answer challenges. Outboards are content addressed by a CIDv1 with
// a BLAKE3 multihash so a deal record can refer to them by string.
type DealStore struct {
	ps *PersistenceStore
}

// NewDealStore opens the store at path; an empty path keeps everything in memory.
func NewDealStore(path string) (*DealStore, error) {
	ps, err := NewPersistenceStore(path)
	if err != nil {
		return nil, err
	}
	return &DealStore{ps: ps}, nil
}

func (s *DealStore) Close() error {
	return s.ps.Close()
}

func dealKey(id types.DealID) []byte {
	key := make([]byte, len(dealPrefix)+8)
	copy(key, dealPrefix)
	binary.BigEndian.PutUint64(key[len(dealPrefix):], uint64(id))
	return key
}

func (s *DealStore) PutDeal(deal *types.LocalDealInfo) error {
	b, err := json.Marshal(deal)
	if err != nil {
		return fmt.Errorf("encode deal %d: %w", deal.Onchain.DealID, err)
	}
	if err := s.ps.Put(dealKey(deal.Onchain.DealID), b); err != nil {
		return fmt.Errorf("put deal %d: %w", deal.Onchain.DealID, err)
	}
	log.Trace(log.StorageMonitoring, "PutDeal", "deal", deal.Onchain.DealID, "status", deal.Status)
	return nil
}

// GetDeal returns dealerrors.ErrDealNotRegistered for unknown ids.
func (s *DealStore) GetDeal(id types.DealID) (*types.LocalDealInfo, error) {
	b, ok, err := s.ps.Get(dealKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: deal %d", dealerrors.ErrDealNotRegistered, id)
	}
	var deal types.LocalDealInfo
	if err := json.Unmarshal(b, &deal); err != nil {
		return nil, fmt.Errorf("decode deal %d: %w", id, err)
	}
	return &deal, nil
}

// ListDeals returns every stored deal ordered by id.
func (s *DealStore) ListDeals() ([]*types.LocalDealInfo, error) {
	kvs, err := s.ps.GetWithPrefix(dealPrefix)
	if err != nil {
		return nil, err
	}
	deals := make([]*types.LocalDealInfo, 0, len(kvs))
	for _, kv := range kvs {
		var deal types.LocalDealInfo
		if err := json.Unmarshal(kv[1], &deal); err != nil {
			return nil, fmt.Errorf("decode %x: %w", kv[0], err)
		}
		deals = append(deals, &deal)
	}
	return deals, nil
}

// OutboardCid is the content id under which an outboard is stored.
func OutboardCid(outboard []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(outboard, multihash.BLAKE3, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("outboard multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

func (s *DealStore) PutOutboard(outboard []byte) (cid.Cid, error) {
	c, err := OutboardCid(outboard)
	if err != nil {
		return cid.Undef, err
	}
	if err := s.ps.Put(append(append([]byte(nil), outboardPrefix...), c.Bytes()...), outboard); err != nil {
		return cid.Undef, fmt.Errorf("put outboard %s: %w", c, err)
	}
	log.Trace(log.StorageMonitoring, "PutOutboard", "cid", c.String(), "bytes", len(outboard))
	return c, nil
}

// GetOutboard loads an outboard and checks it still hashes to its id.
func (s *DealStore) GetOutboard(c cid.Cid) ([]byte, error) {
	b, ok, err := s.ps.Get(append(append([]byte(nil), outboardPrefix...), c.Bytes()...))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("outboard %s not found", c)
	}
	got, err := c.Prefix().Sum(b)
	if err != nil {
		return nil, fmt.Errorf("outboard %s: %w", c, err)
	}
	if !got.Equals(c) {
		return nil, fmt.Errorf("%w: stored outboard does not hash to %s", dealerrors.ErrMalformedOutboard, c)
	}
	return b, nil
}
