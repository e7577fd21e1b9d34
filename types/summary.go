package types

import (
	"encoding/json"
	"fmt"
)

// Status is the coarse outcome reported back to the requester.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusFailure:
		return "Failure"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "Success":
		*s = StatusSuccess
	case "Failure":
		*s = StatusFailure
	default:
		return fmt.Errorf("unknown status %q", name)
	}
	return nil
}

// Outcome distinguishes the non-error ways a verification request can end.
type Outcome uint8

const (
	OutcomeVerified Outcome = iota
	OutcomeDealOngoing
	OutcomeNoWindows
	OutcomeError
)

const (
	ResultOk          = "Ok"
	ResultDealOngoing = "Deal is ongoing"
	ResultNoWindows   = "No windows found"
)

// DealProofSummary is the orchestrator's answer for one deal.
type DealProofSummary struct {
	DealID       DealID  `json:"deal_id"`
	SuccessCount uint64  `json:"success_count"`
	NumWindows   uint64  `json:"num_windows"`
	Status       Status  `json:"status"`
	Result       string  `json:"result"`
	Outcome      Outcome `json:"-"`
	// Windows holds per-window detail in window order; not part of the wire response.
	Windows []WindowResult `json:"-"`
}

// WindowVerdict is the per-window classification.
type WindowVerdict uint8

const (
	WindowMissing WindowVerdict = iota
	WindowValid
	WindowInvalid
)

func (v WindowVerdict) String() string {
	switch v {
	case WindowMissing:
		return "missing"
	case WindowValid:
		return "valid"
	case WindowInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("WindowVerdict(%d)", uint8(v))
	}
}

// WindowResult records how one proof window was resolved.
type WindowResult struct {
	WindowNum         uint64        `json:"window_num"`
	TargetWindowStart BlockNum      `json:"target_window_start"`
	ProofBlock        BlockNum      `json:"proof_block,omitempty"`
	ChunkOffset       uint64        `json:"chunk_offset"`
	ChunkLength       uint64        `json:"chunk_length"`
	Verdict           WindowVerdict `json:"verdict"`
}

// NewFailureSummary is the zero-count response used when a request cannot be evaluated.
func NewFailureSummary(dealID DealID, reason string) *DealProofSummary {
	return &DealProofSummary{
		DealID:  dealID,
		Status:  StatusFailure,
		Result:  reason,
		Outcome: OutcomeError,
	}
}
