package obituary

import (
	"fmt"
	"strings"
	"time"
)

// Verification is one verifier's vote on one obituary.
type Verification struct {
	ObituaryID      string
	VerifierAddress string
	Action          Action
	Comment         string
	RiskLevel       RiskLevel
	Timestamp       time.Time
}

type VoteInput struct {
	ObituaryID      string
	VerifierAddress string
	Action          string
	Comment         string
	RiskLevel       string
}

// NewVerification validates a vote before any write happens.
func NewVerification(in VoteInput, now time.Time) (Verification, error) {
	obituaryID := strings.TrimSpace(in.ObituaryID)
	if obituaryID == "" {
		return Verification{}, fmt.Errorf("%w: obituaryId", ErrFieldRequired)
	}
	verifier, err := NormalizeAddress(in.VerifierAddress)
	if err != nil {
		return Verification{}, fmt.Errorf("verifierAddress: %w", err)
	}
	action, err := ParseAction(in.Action)
	if err != nil {
		return Verification{}, err
	}

	var risk RiskLevel
	if strings.TrimSpace(in.RiskLevel) != "" {
		risk, err = ParseRiskLevel(in.RiskLevel)
		if err != nil {
			return Verification{}, err
		}
	}

	return Verification{
		ObituaryID:      obituaryID,
		VerifierAddress: verifier,
		Action:          action,
		Comment:         strings.TrimSpace(in.Comment),
		RiskLevel:       risk,
		Timestamp:       now.UTC(),
	}, nil
}

// Tally counts approve and reject votes.
type Tally struct {
	Approve int
	Reject  int
}

func (t Tally) Total() int { return t.Approve + t.Reject }

func TallyOf(votes []Verification) Tally {
	var t Tally
	for _, v := range votes {
		switch v.Action {
		case ActionApprove:
			t.Approve++
		case ActionReject:
			t.Reject++
		}
	}
	return t
}

// ConsensusRisk returns the risk level proposed by more than half of the approve votes.
func ConsensusRisk(votes []Verification) (RiskLevel, bool) {
	approvals := 0
	counts := make(map[RiskLevel]int, len(RiskLevels))
	for _, v := range votes {
		if v.Action != ActionApprove {
			continue
		}
		approvals++
		if v.RiskLevel != "" {
			counts[v.RiskLevel]++
		}
	}
	for _, level := range RiskLevels {
		if counts[level]*2 > approvals {
			return level, true
		}
	}
	return "", false
}
