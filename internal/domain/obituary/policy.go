package obituary

import "fmt"

// Policy holds the vote thresholds of the verification state machine.
type Policy struct {
	ApproveThreshold int `toml:"approve_threshold" yaml:"approve_threshold"`
	RejectThreshold  int `toml:"reject_threshold" yaml:"reject_threshold"`
	Quorum           int `toml:"quorum" yaml:"quorum"`
	ApproveRatio     int `toml:"approve_ratio" yaml:"approve_ratio"`
}

func DefaultPolicy() Policy {
	return Policy{
		ApproveThreshold: 3,
		RejectThreshold:  3,
		Quorum:           5,
		ApproveRatio:     2,
	}
}

func (p Policy) Validate() error {
	if p.ApproveThreshold <= 0 || p.RejectThreshold <= 0 || p.Quorum <= 0 || p.ApproveRatio <= 0 {
		return fmt.Errorf("%w: thresholds must be positive, got %+v", ErrInvalidPolicy, p)
	}
	return nil
}

// Decide maps a vote tally to a status. It depends on nothing but the tally,
// so recomputing with the same vote set always yields the same status.
func (p Policy) Decide(t Tally) Status {
	switch {
	case t.Approve >= p.ApproveThreshold && t.Approve >= p.ApproveRatio*t.Reject:
		return StatusVerified
	case t.Reject >= p.RejectThreshold && t.Reject > t.Approve:
		return StatusRejected
	case t.Total() >= p.Quorum:
		return StatusDisputed
	default:
		return StatusPending
	}
}

// Transition is the outcome of applying the vote set to an obituary.
type Transition struct {
	From      Status
	To        Status
	RiskLevel RiskLevel
	Count     int
}

func (t Transition) Changed() bool { return t.From != t.To }

// Apply recomputes status and count for o from its full vote set.
func (p Policy) Apply(o Obituary, votes []Verification) Transition {
	tally := TallyOf(votes)
	next := p.Decide(tally)

	risk := o.RiskLevel
	if next == StatusVerified && o.VerificationStatus != StatusVerified {
		if consensus, ok := ConsensusRisk(votes); ok {
			risk = consensus
		}
	}

	return Transition{
		From:      o.VerificationStatus,
		To:        next,
		RiskLevel: risk,
		Count:     tally.Total(),
	}
}
