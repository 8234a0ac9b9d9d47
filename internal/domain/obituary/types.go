package obituary

import (
	"fmt"
	"strings"
)

type Reason string

const (
	ReasonExploited  Reason = "exploited"
	ReasonDeprecated Reason = "deprecated"
	ReasonAbandoned  Reason = "abandoned"
	ReasonRugpull    Reason = "rugpull"
	ReasonMalicious  Reason = "malicious"
)

var Reasons = []Reason{ReasonExploited, ReasonDeprecated, ReasonAbandoned, ReasonRugpull, ReasonMalicious}

func ParseReason(raw string) (Reason, error) {
	candidate := Reason(strings.ToLower(strings.TrimSpace(raw)))
	for _, r := range Reasons {
		if r == candidate {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: reason %q", ErrInvalidEnum, raw)
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var RiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}

func ParseRiskLevel(raw string) (RiskLevel, error) {
	candidate := RiskLevel(strings.ToLower(strings.TrimSpace(raw)))
	for _, r := range RiskLevels {
		if r == candidate {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: risk level %q", ErrInvalidEnum, raw)
}

// Rank orders risk levels: critical (4) > high > medium > low (1). Unknown is 0.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskCritical:
		return 4
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusDisputed Status = "disputed"
	StatusRejected Status = "rejected"
)

var Statuses = []Status{StatusPending, StatusVerified, StatusDisputed, StatusRejected}

func ParseStatus(raw string) (Status, error) {
	candidate := Status(strings.ToLower(strings.TrimSpace(raw)))
	for _, s := range Statuses {
		if s == candidate {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: verification status %q", ErrInvalidEnum, raw)
}

// IsTerminal reports whether votes are frozen in this status.
func (s Status) IsTerminal() bool {
	return s == StatusVerified || s == StatusRejected
}

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

func ParseAction(raw string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(raw))) {
	case ActionApprove:
		return ActionApprove, nil
	case ActionReject:
		return ActionReject, nil
	default:
		return "", fmt.Errorf("%w: action %q", ErrInvalidEnum, raw)
	}
}

// VotePolicy decides what a second vote from the same verifier does.
type VotePolicy string

const (
	VotePolicyReject VotePolicy = "reject"
	VotePolicyUpdate VotePolicy = "update"
)

func ParseVotePolicy(raw string) (VotePolicy, error) {
	switch VotePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", VotePolicyReject:
		return VotePolicyReject, nil
	case VotePolicyUpdate:
		return VotePolicyUpdate, nil
	default:
		return "", fmt.Errorf("%w: vote policy %q", ErrInvalidEnum, raw)
	}
}
