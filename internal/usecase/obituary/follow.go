package obituary

import (
	"context"
	"log/slog"
	"time"

	"obituaries/internal/bootstrap/logging"
	domainobituary "obituaries/internal/domain/obituary"
	"obituaries/internal/errs"
)

const catchUpBatchSize = 500

type CatchUpResult struct {
	// Applied counts records whose projection changed.
	Applied  int
	Revision int64
}

// CatchUp folds writes committed by other processes sharing the store into
// the index, the stats mirror and the feed. Writes made through this
// service are already projected and are skipped.
func (s *Service) CatchUp(ctx context.Context) (CatchUpResult, error) {
	if err := checkContext(ctx); err != nil {
		return CatchUpResult{}, err
	}
	release, err := s.writes.Exclusive(ctx)
	if err != nil {
		return CatchUpResult{}, err
	}
	defer release()

	applied, err := s.catchUpLocked(ctx)
	if err != nil {
		return CatchUpResult{}, err
	}
	return CatchUpResult{Applied: applied, Revision: s.revision}, nil
}

// catchUpLocked requires the exclusive write gate. Local mutations commit
// and project under the shared gate, so the persisted counters loaded here
// already include every delta the mirror has seen.
func (s *Service) catchUpLocked(ctx context.Context) (int, error) {
	var events []domainobituary.Event
	for {
		changes, err := s.repo.ListChangedSince(ctx, s.revision, catchUpBatchSize)
		if err != nil {
			return 0, classify(err, "list changed obituaries")
		}
		for _, change := range changes {
			s.revision = change.Revision
			known, ok := s.index.Get(change.Obituary.ID)
			if ok && sameProjection(known, change.Obituary) {
				continue
			}
			s.index.Upsert(change.Obituary)

			eventType := domainobituary.EventUpdated
			if !ok {
				eventType = domainobituary.EventNew
			}
			events = append(events, domainobituary.Event{Type: eventType, Obituary: change.Obituary})
		}
		if len(changes) < catchUpBatchSize {
			break
		}
	}
	if len(events) == 0 {
		return 0, nil
	}

	counters, err := s.counters.LoadCounters(ctx)
	if err != nil {
		return 0, classify(err, "load stats counters")
	}
	s.stats.Load(counters)

	if s.followers != nil {
		for _, ev := range events {
			if err := s.followers.Publish(ctx, ev); err != nil {
				logging.Warn(ctx, "publish feed event failed",
					slog.String("obituary_id", ev.Obituary.ID),
					slog.String("event", string(ev.Type)),
					slog.Any("err", errs.Loggable(err)),
				)
			}
		}
	}

	logging.Info(ctx, "caught up with store",
		slog.Int("applied", len(events)),
		slog.Int64("revision", s.revision),
	)
	return len(events), nil
}

// Follow runs CatchUp every interval until ctx is done. Failures are logged
// and retried on the next tick.
func (s *Service) Follow(ctx context.Context, every time.Duration) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if every <= 0 {
		return errs.E(errs.CodeValidation, "follow interval must be positive, got %s", every)
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.CatchUp(ctx); err != nil && ctx.Err() == nil {
				logging.Warn(ctx, "store catch-up failed", slog.Any("err", errs.Loggable(err)))
			}
		}
	}
}

// sameProjection reports whether stored matches what the index already
// holds for the mutable fields.
func sameProjection(indexed domainobituary.Obituary, stored domainobituary.Obituary) bool {
	return indexed.UpdatedAt.Equal(stored.UpdatedAt) &&
		indexed.VerificationStatus == stored.VerificationStatus &&
		indexed.VerificationCount == stored.VerificationCount &&
		indexed.RiskLevel == stored.RiskLevel &&
		indexed.SupersededBy == stored.SupersededBy &&
		len(indexed.Alternatives) == len(stored.Alternatives) &&
		len(indexed.ProofAttachments) == len(stored.ProofAttachments)
}
