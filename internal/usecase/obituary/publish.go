package obituary

import (
	"context"
	"log/slog"

	"obituaries/internal/bootstrap/logging"
	domainobituary "obituaries/internal/domain/obituary"
	"obituaries/internal/errs"
	"obituaries/internal/ports"
)

// project applies a committed change to the index, the stats mirror and the
// feed. Callers still hold the per-record lock, so events for one record
// leave in commit order.
func (s *Service) project(ctx context.Context, deltas []ports.StatsCounter, events ...domainobituary.Event) {
	for _, ev := range events {
		s.index.Upsert(ev.Obituary)
	}
	s.stats.Apply(deltas)

	if s.publisher == nil {
		return
	}
	for _, ev := range events {
		if err := s.publisher.Publish(ctx, ev); err != nil {
			logging.Warn(ctx, "publish feed event failed",
				slog.String("obituary_id", ev.Obituary.ID),
				slog.String("event", string(ev.Type)),
				slog.Any("err", errs.Loggable(err)),
			)
		}
	}
}
