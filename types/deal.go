package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/colorfulnotion/dealproof/common"
	"github.com/holiman/uint256"
	"github.com/ipfs/go-cid"
)

// DealID identifies an offer on the deal contract.
type DealID uint64

// BlockNum is an execution-layer block height.
type BlockNum uint64

// TokenAmount is denominated in the deal's ERC20 token base unit. Amounts
// span the full uint256 range and travel in JSON as decimal strings.
type TokenAmount = uint256.Int

// Token is the ERC20 contract a deal is priced in.
type Token common.Address

func (d DealID) String() string {
	return strconv.FormatUint(uint64(d), 10)
}

// ParseDealID parses a decimal deal id, the form used in CLI arguments and
// string-typed JSON payloads.
func ParseDealID(s string) (DealID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid deal id %q: %w", s, err)
	}
	return DealID(v), nil
}

// UnmarshalJSON accepts a JSON number or a decimal string.
func (d *DealID) UnmarshalJSON(data []byte) error {
	v, err := unmarshalUint64(data)
	if err != nil {
		return fmt.Errorf("deal id: %w", err)
	}
	*d = DealID(v)
	return nil
}

func (b BlockNum) String() string {
	return strconv.FormatUint(uint64(b), 10)
}

// ParseBlockNum parses a decimal or 0x-prefixed hex block number.
func ParseBlockNum(s string) (BlockNum, error) {
	digits := strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X") {
		digits = digits[2:]
		base = 16
	}
	v, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid block number %q: %w", s, err)
	}
	return BlockNum(v), nil
}

// UnmarshalJSON accepts a JSON number or a decimal string.
func (b *BlockNum) UnmarshalJSON(data []byte) error {
	v, err := unmarshalUint64(data)
	if err != nil {
		return fmt.Errorf("block number: %w", err)
	}
	*b = BlockNum(v)
	return nil
}

func unmarshalUint64(data []byte) (uint64, error) {
	var n json.Number
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return 0, err
	}
	switch v := raw.(type) {
	case json.Number:
		n = v
	case string:
		n = json.Number(strings.TrimSpace(v))
	default:
		return 0, fmt.Errorf("unexpected JSON value %s", string(data))
	}
	return strconv.ParseUint(n.String(), 10, 64)
}

func (t Token) MarshalJSON() ([]byte, error) {
	return json.Marshal(common.Address(t).Hex())
}

func (t *Token) UnmarshalJSON(data []byte) error {
	var a common.Address
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*t = Token(a)
	return nil
}

// OnChainDealInfo is the deal as recorded by the deal contract.
type OnChainDealInfo struct {
	DealID                 DealID       `json:"deal_id"`
	DealStartBlock         BlockNum     `json:"deal_start_block"`
	DealLengthInBlocks     BlockNum     `json:"deal_length_in_blocks"`
	ProofFrequencyInBlocks BlockNum     `json:"proof_frequency_in_blocks"`
	Price                  *TokenAmount `json:"price"`
	Collateral             *TokenAmount `json:"collateral"`
	Erc20TokenDenomination Token        `json:"erc20_token_denomination"`
	IpfsFileCid            cid.Cid      `json:"ipfs_file_cid"`
	FileSize               uint64       `json:"file_size"`
	Blake3Checksum         common.Hash  `json:"blake3_checksum"`
	// CancellationBlock is zero unless the deal was cancelled.
	CancellationBlock BlockNum `json:"cancellation_block,omitempty"`
}

// Cancelled reports whether the deal ended early.
func (d *OnChainDealInfo) Cancelled() bool {
	return d.CancellationBlock != 0
}

// DealEnd is the last block covered by the agreed deal length.
func (d *OnChainDealInfo) DealEnd() BlockNum {
	return d.DealStartBlock + d.DealLengthInBlocks
}

func (d OnChainDealInfo) MarshalJSON() ([]byte, error) {
	type Alias OnChainDealInfo
	fileCid := ""
	if d.IpfsFileCid.Defined() {
		fileCid = d.IpfsFileCid.String()
	}
	return json.Marshal(&struct {
		IpfsFileCid string `json:"ipfs_file_cid"`
		*Alias
	}{
		IpfsFileCid: fileCid,
		Alias:       (*Alias)(&d),
	})
}

func (d *OnChainDealInfo) UnmarshalJSON(data []byte) error {
	type Alias OnChainDealInfo
	aux := &struct {
		IpfsFileCid string `json:"ipfs_file_cid"`
		*Alias
	}{
		Alias: (*Alias)(d),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if aux.IpfsFileCid == "" {
		d.IpfsFileCid = cid.Undef
		return nil
	}
	c, err := cid.Decode(aux.IpfsFileCid)
	if err != nil {
		return fmt.Errorf("ipfs_file_cid: %w", err)
	}
	d.IpfsFileCid = c
	return nil
}

func (d *OnChainDealInfo) String() string {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Sprintf("%v", err)
	}
	return string(b)
}

// DealStatus is the producer-side lifecycle of a deal.
type DealStatus uint8

const (
	DealFuture DealStatus = iota
	DealActive
	DealCompleteAwaitingFinalization
	DealCancelled
	DealDone
)

var dealStatusNames = []string{"Future", "Active", "CompleteAwaitingFinalization", "Cancelled", "Done"}

func (s DealStatus) String() string {
	if int(s) < len(dealStatusNames) {
		return dealStatusNames[s]
	}
	return fmt.Sprintf("DealStatus(%d)", uint8(s))
}

func (s DealStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *DealStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range dealStatusNames {
		if n == name {
			*s = DealStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown deal status %q", name)
}

// LocalDealInfo is what the storing party keeps for each deal it serves.
type LocalDealInfo struct {
	Onchain        OnChainDealInfo `json:"onchain"`
	ObaoCid        string          `json:"obao_cid"`
	FilePath       string          `json:"file_path"`
	LastSubmission BlockNum        `json:"last_submission"`
	LastWindow     *uint64         `json:"last_window,omitempty"`
	Status         DealStatus      `json:"status"`
}

// Proof is a slice proof ready for submission.
type Proof struct {
	BlockNumber BlockNum `json:"block_number"`
	Data        []byte   `json:"bao_proof_data"`
}
