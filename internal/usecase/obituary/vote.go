package obituary

import (
	"context"
	"fmt"
	"log/slog"

	"obituaries/internal/bootstrap/logging"
	domainobituary "obituaries/internal/domain/obituary"
	"obituaries/internal/ports"
	"obituaries/internal/stats"
)

type VoteInput struct {
	Vote           domainobituary.VoteInput
	IdempotencyKey string
}

type VoteResult struct {
	Status            domainobituary.Status `json:"status"`
	VerificationCount int                   `json:"verificationCount"`
	Replayed          bool                  `json:"-"`
}

func voteOperation(obituaryID string) string {
	return "vote:" + obituaryID
}

// Vote records one verifier's vote and recomputes the verification status
// from the full vote set. Verified, rejected and superseded records refuse
// votes with AlreadyFinalized.
func (s *Service) Vote(ctx context.Context, input VoteInput) (_ VoteResult, err error) {
	if err := checkContext(ctx); err != nil {
		return VoteResult{}, err
	}

	vote, err := domainobituary.NewVerification(input.Vote, s.now())
	if err != nil {
		s.metrics.ObserveVote(input.Vote.Action, resultLabel(err))
		return VoteResult{}, err
	}
	defer func() { s.metrics.ObserveVote(string(vote.Action), resultLabel(err)) }()

	key, err := normalizeIdempotencyKey(input.IdempotencyKey)
	if err != nil {
		return VoteResult{}, err
	}

	release, err := s.writes.Shared(ctx)
	if err != nil {
		return VoteResult{}, err
	}
	defer release()
	unlock, err := s.locks.lockAll(ctx, idempotencyLockKey(key), obituaryLockKey(vote.ObituaryID))
	if err != nil {
		return VoteResult{}, err
	}
	defer unlock()

	var previous VoteResult
	found, err := s.replay(ctx, key, voteOperation(vote.ObituaryID), &previous)
	if err != nil {
		return VoteResult{}, err
	}
	if found {
		previous.Replayed = true
		return previous, nil
	}

	var (
		updated    domainobituary.Obituary
		transition domainobituary.Transition
		deltas     []ports.StatsCounter
	)
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		current, err := s.repo.GetObituary(txCtx, vote.ObituaryID)
		if err != nil {
			return err
		}
		if !current.AcceptsVotes() {
			return fmt.Errorf("%w: obituary %s is %s", domainobituary.ErrAlreadyFinalized, current.ID, finalState(current))
		}

		var newVotes int64
		_, voted, err := s.repo.GetVerification(txCtx, vote.ObituaryID, vote.VerifierAddress)
		if err != nil {
			return err
		}
		switch {
		case voted && s.votePolicy == domainobituary.VotePolicyUpdate:
			if err := s.repo.ReplaceVerification(txCtx, vote); err != nil {
				return err
			}
		case voted:
			return fmt.Errorf("%w: %s already voted on %s", domainobituary.ErrDuplicateVote, vote.VerifierAddress, vote.ObituaryID)
		default:
			if err := s.repo.CreateVerification(txCtx, vote); err != nil {
				return err
			}
			newVotes = 1
		}

		votes, err := s.repo.ListVerifications(txCtx, vote.ObituaryID)
		if err != nil {
			return err
		}
		transition = s.Policy().Apply(current, votes)

		updated = current
		updated.VerificationStatus = transition.To
		updated.VerificationCount = transition.Count
		updated.RiskLevel = transition.RiskLevel
		updated.UpdatedAt = vote.Timestamp
		if err := s.repo.UpdateObituary(txCtx, updated); err != nil {
			return err
		}

		deltas = stats.Deltas(&current, updated, newVotes)
		if err := s.counters.IncrementCounters(txCtx, deltas); err != nil {
			return err
		}
		return s.remember(txCtx, key, voteOperation(vote.ObituaryID), VoteResult{
			Status:            updated.VerificationStatus,
			VerificationCount: updated.VerificationCount,
		})
	}); err != nil {
		return VoteResult{}, classify(err, "record vote")
	}

	s.project(ctx, deltas, domainobituary.Event{Type: domainobituary.EventUpdated, Obituary: updated})
	if transition.Changed() {
		s.metrics.ObserveTransition(string(transition.To))
		logging.Info(ctx, "verification status changed",
			slog.String("obituary_id", updated.ID),
			slog.String("from", string(transition.From)),
			slog.String("to", string(transition.To)),
			slog.Int("votes", transition.Count),
		)
	}

	return VoteResult{Status: updated.VerificationStatus, VerificationCount: updated.VerificationCount}, nil
}

func finalState(o domainobituary.Obituary) string {
	if o.SupersededBy != "" {
		return "superseded by " + o.SupersededBy
	}
	return string(o.VerificationStatus)
}
