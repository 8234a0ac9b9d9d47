package obituary

import (
	"context"
	"fmt"
	"log/slog"

	"obituaries/internal/bootstrap/logging"
	domainobituary "obituaries/internal/domain/obituary"
	"obituaries/internal/errs"
	"obituaries/internal/stats"
)

const operationSubmit = "submit"

type SubmitInput struct {
	Submission     domainobituary.Submission
	IdempotencyKey string
}

type SubmitResult struct {
	ID       string `json:"id"`
	Replayed bool   `json:"-"`
}

// Submit stores a new pending obituary. At most one live record exists per
// contract address and chain; replacing it requires Supersedes to name it.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (_ SubmitResult, err error) {
	if err := checkContext(ctx); err != nil {
		return SubmitResult{}, err
	}
	defer func() { s.metrics.ObserveSubmission(resultLabel(err)) }()

	key, err := normalizeIdempotencyKey(input.IdempotencyKey)
	if err != nil {
		return SubmitResult{}, err
	}
	created, err := domainobituary.NewObituary(input.Submission, s.newID(), s.now())
	if err != nil {
		return SubmitResult{}, err
	}

	release, err := s.writes.Shared(ctx)
	if err != nil {
		return SubmitResult{}, err
	}
	defer release()
	unlock, err := s.locks.lockAll(ctx,
		idempotencyLockKey(key),
		naturalLockKey(created.NaturalKey()),
		obituaryLockKey(created.Supersedes),
	)
	if err != nil {
		return SubmitResult{}, err
	}
	defer unlock()

	var previous SubmitResult
	found, err := s.replay(ctx, key, operationSubmit, &previous)
	if err != nil {
		return SubmitResult{}, err
	}
	if found {
		previous.Replayed = true
		return previous, nil
	}

	var superseded *domainobituary.Obituary
	deltas := stats.Deltas(nil, created, 0)
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		live, hasLive, err := s.repo.FindLive(txCtx, created.ContractAddress, created.ChainID)
		if err != nil {
			return err
		}

		if created.Supersedes == "" {
			if hasLive {
				return fmt.Errorf("%w: live obituary %s exists for %s", domainobituary.ErrDuplicateKey, live.ID, created.NaturalKey())
			}
		} else {
			old, err := s.repo.GetObituary(txCtx, created.Supersedes)
			if err != nil {
				return err
			}
			if !hasLive || live.ID != old.ID {
				return errs.E(errs.CodeValidation, "supersedes must reference the live obituary for %s", created.NaturalKey())
			}
			old.SupersededBy = created.ID
			old.UpdatedAt = created.ReportedAt
			if err := s.repo.UpdateObituary(txCtx, old); err != nil {
				return err
			}
			superseded = &old
		}

		if err := s.repo.CreateObituary(txCtx, created); err != nil {
			return err
		}
		if err := s.counters.IncrementCounters(txCtx, deltas); err != nil {
			return err
		}
		return s.remember(txCtx, key, operationSubmit, SubmitResult{ID: created.ID})
	}); err != nil {
		return SubmitResult{}, classify(err, "submit obituary")
	}

	events := []domainobituary.Event{{Type: domainobituary.EventNew, Obituary: created}}
	if superseded != nil {
		events = append(events, domainobituary.Event{Type: domainobituary.EventUpdated, Obituary: *superseded})
	}
	s.project(ctx, deltas, events...)

	logging.Info(ctx, "obituary submitted",
		slog.String("obituary_id", created.ID),
		slog.String("contract", created.NaturalKey()),
		slog.String("supersedes", created.Supersedes),
	)
	return SubmitResult{ID: created.ID}, nil
}
