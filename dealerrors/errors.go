package dealerrors

import (
	"errors"
	"strings"
)

// Selection (S) Errors
var (
	ErrEmptyFile          = errors.New("S1|EmptyFile: Chunk selection over a zero-length file is undefined.")
	ErrZeroProofFrequency = errors.New("S2|ZeroProofFrequency: Deal proof frequency must be at least one block.")
	ErrDealNotStarted     = errors.New("S3|DealNotStarted: Current block precedes the deal start block.")
)

// Commitment (C) Errors
var (
	ErrRangeOutOfBounds   = errors.New("C1|RangeOutOfBounds: Requested byte range lies outside the committed content.")
	ErrCommitmentMismatch = errors.New("C2|CommitmentMismatch: Data or outboard is shorter than the committed length.")
	ErrMalformedOutboard  = errors.New("C3|MalformedOutboard: Outboard header is missing or its size does not match the content length.")
)

// Chain (X) Errors
var (
	ErrDealNotFound      = errors.New("X1|DealNotFound: No deal is recorded on chain under this id.")
	ErrMalformedProofLog = errors.New("X2|MalformedProofLog: Proof log payload does not decode as ABI bytes.")
	ErrBlockNotFound     = errors.New("X3|BlockNotFound: Requested block is not available.")
)

// Prover (P) Errors
var (
	ErrChecksumMismatch  = errors.New("P1|ChecksumMismatch: Local file does not match the on-chain checksum or size.")
	ErrDealNotRegistered = errors.New("P2|DealNotRegistered: Deal has no local record.")
	ErrWindowClosed      = errors.New("P3|WindowClosed: Window lies outside the deal lifetime.")
)

var all = []error{
	ErrEmptyFile, ErrZeroProofFrequency, ErrDealNotStarted,
	ErrRangeOutOfBounds, ErrCommitmentMismatch, ErrMalformedOutboard,
	ErrDealNotFound, ErrMalformedProofLog, ErrBlockNotFound,
	ErrChecksumMismatch, ErrDealNotRegistered, ErrWindowClosed,
}

// Sentinel returns the coded error wrapped anywhere in err's chain, or nil.
func Sentinel(err error) error {
	for _, s := range all {
		if errors.Is(err, s) {
			return s
		}
	}
	return nil
}

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	if s := Sentinel(err); s != nil {
		err = s
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	nameParts := strings.SplitN(parts[1], ":", 2)
	return strings.TrimSpace(nameParts[0])
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	s := Sentinel(err)
	if s == nil {
		return ""
	}
	parts := strings.SplitN(s.Error(), "|", 2)
	return strings.TrimSpace(parts[0])
}

// GetErrorCodeWithName returns the error code and name in the format "Code_ErrorName".
func GetErrorCodeWithName(err error) string {
	code := GetErrorCode(err)
	name := GetErrorName(err)
	if code == "" || name == "" {
		return ""
	}
	return code + "_" + name
}
