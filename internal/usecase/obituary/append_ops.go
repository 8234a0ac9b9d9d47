package obituary

import (
	"context"
	"fmt"
	"strings"

	domainobituary "obituaries/internal/domain/obituary"
)

type AppendResult struct {
	Added    int
	Obituary domainobituary.Obituary
}

// AppendAlternatives adds safe replacement addresses. Existing entries are
// kept in order and duplicates are ignored.
func (s *Service) AppendAlternatives(ctx context.Context, id string, addresses []string) (AppendResult, error) {
	return s.appendTo(ctx, id, func(o *domainobituary.Obituary) (int, error) {
		return o.AppendAlternatives(addresses)
	})
}

// AppendProofAttachments adds content identifiers of supporting evidence.
func (s *Service) AppendProofAttachments(ctx context.Context, id string, attachments []string) (AppendResult, error) {
	return s.appendTo(ctx, id, func(o *domainobituary.Obituary) (int, error) {
		return o.AppendProofAttachments(attachments), nil
	})
}

func (s *Service) appendTo(ctx context.Context, id string, apply func(*domainobituary.Obituary) (int, error)) (AppendResult, error) {
	if err := checkContext(ctx); err != nil {
		return AppendResult{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return AppendResult{}, fmt.Errorf("%w: id", domainobituary.ErrFieldRequired)
	}

	release, err := s.writes.Shared(ctx)
	if err != nil {
		return AppendResult{}, err
	}
	defer release()
	unlock, err := s.locks.Lock(ctx, obituaryLockKey(id))
	if err != nil {
		return AppendResult{}, err
	}
	defer unlock()

	var result AppendResult
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		current, err := s.repo.GetObituary(txCtx, id)
		if err != nil {
			return err
		}
		if !current.AcceptsAppends() {
			return fmt.Errorf("%w: obituary %s is %s", domainobituary.ErrAlreadyFinalized, current.ID, finalState(current))
		}

		added, err := apply(&current)
		if err != nil {
			return err
		}
		result = AppendResult{Added: added, Obituary: current}
		if added == 0 {
			return nil
		}
		current.UpdatedAt = s.now().UTC()
		result.Obituary = current
		return s.repo.UpdateObituary(txCtx, current)
	}); err != nil {
		return AppendResult{}, classify(err, "append to obituary")
	}

	if result.Added > 0 {
		s.project(ctx, nil, domainobituary.Event{Type: domainobituary.EventUpdated, Obituary: result.Obituary})
	}
	return result, nil
}
