package chain

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/dealproof/common"
	"github.com/colorfulnotion/dealproof/dealerrors"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/holiman/uint256"
)

const wordSize = 32

// dealContractABI covers the subset of the deal contract this module calls.
const dealContractABI = `[
 {"type":"function","name":"getDealStartBlock","stateMutability":"view","inputs":[{"name":"offerId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getDealLengthInBlocks","stateMutability":"view","inputs":[{"name":"offerId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getProofFrequencyInBlocks","stateMutability":"view","inputs":[{"name":"offerId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getPrice","stateMutability":"view","inputs":[{"name":"offerId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getCollateral","stateMutability":"view","inputs":[{"name":"offerId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getErc20TokenDenomination","stateMutability":"view","inputs":[{"name":"offerId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"getIpfsFileCid","stateMutability":"view","inputs":[{"name":"offerId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"getFileSize","stateMutability":"view","inputs":[{"name":"offerId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getBlake3Checksum","stateMutability":"view","inputs":[{"name":"offerId","type":"uint256"}],"outputs":[{"name":"","type":"bytes32"}]},
 {"type":"function","name":"getCancellationBlock","stateMutability":"view","inputs":[{"name":"offerId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getProofBlock","stateMutability":"view","inputs":[{"name":"offerId","type":"uint256"},{"name":"windowNum","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"save_proof","stateMutability":"nonpayable","inputs":[{"name":"_proof","type":"bytes"},{"name":"offerId","type":"uint256"},{"name":"targetWindow","type":"uint256"}],"outputs":[]},
 {"type":"event","name":"ProofAdded","anonymous":false,"inputs":[{"name":"offerId","type":"uint256","indexed":true},{"name":"blockNumber","type":"uint256","indexed":true},{"name":"proof","type":"bytes","indexed":false}]}
]`

var contractABI = mustParseABI(dealContractABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("deal contract ABI: %v", err))
	}
	return parsed
}

// ProofAddedTopic is topic0 of the ProofAdded event.
func ProofAddedTopic() common.Hash {
	return common.Hash(contractABI.Events["ProofAdded"].ID)
}

// EncodeProofLogData ABI-encodes proof as the non-indexed data of a ProofAdded log.
func EncodeProofLogData(proof []byte) ([]byte, error) {
	return contractABI.Events["ProofAdded"].Inputs.NonIndexed().Pack(proof)
}

// DecodeProofLogData extracts the proof bytes from ProofAdded log data: an
// offset word that must point at the second word, a length word, then the
// padded payload. The full 256-bit length is checked against what remains in
// the buffer, so an oversized length can neither wrap nor over-read.
func DecodeProofLogData(data []byte) ([]byte, error) {
	if len(data) < 2*wordSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", dealerrors.ErrMalformedProofLog, len(data), 2*wordSize)
	}
	var offset, length uint256.Int
	offset.SetBytes32(data[:wordSize])
	if !offset.IsUint64() || offset.Uint64() != wordSize {
		return nil, fmt.Errorf("%w: data offset %s", dealerrors.ErrMalformedProofLog, offset.Dec())
	}
	length.SetBytes32(data[wordSize : 2*wordSize])
	remaining := uint64(len(data) - 2*wordSize)
	if !length.IsUint64() || length.Uint64() > remaining {
		return nil, fmt.Errorf("%w: length %s exceeds %d remaining bytes", dealerrors.ErrMalformedProofLog, length.Dec(), remaining)
	}
	n := length.Uint64()
	out := make([]byte, n)
	copy(out, data[2*wordSize:2*wordSize+n])
	return out, nil
}
