package obituary

import (
	"context"
	"log/slog"

	"obituaries/internal/bootstrap/logging"
	domainobituary "obituaries/internal/domain/obituary"
	"obituaries/internal/stats"
)

const scanBatchSize = 500

func (s *Service) Stats(ctx context.Context) (stats.Snapshot, error) {
	if err := checkContext(ctx); err != nil {
		return stats.Snapshot{}, err
	}
	return s.stats.Snapshot(), nil
}

// Warm loads the index and the stats mirror from the store. Counters are
// recomputed when the table is empty but records exist.
func (s *Service) Warm(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	release, err := s.writes.Exclusive(ctx)
	if err != nil {
		return err
	}
	defer release()

	// Read before the scan so changes racing it are seen again by CatchUp.
	revision, err := s.repo.LatestRevision(ctx)
	if err != nil {
		return classify(err, "load store revision")
	}
	records, verifications, err := s.scan(ctx)
	if err != nil {
		return err
	}
	s.index.Rebuild(records)
	s.revision = revision

	counters, err := s.counters.LoadCounters(ctx)
	if err != nil {
		return classify(err, "load stats counters")
	}
	if len(counters) == 0 && len(records) > 0 {
		counters = stats.Compute(records, verifications)
		if err := s.counters.ReplaceCounters(ctx, counters); err != nil {
			return classify(err, "seed stats counters")
		}
	}
	s.stats.Load(counters)

	logging.Info(ctx, "projections warmed",
		slog.Int("obituaries", len(records)),
		slog.Int64("verifications", verifications),
		slog.Int("counters", len(counters)),
	)
	return nil
}

// RebuildStats recomputes every counter from a full scan and replaces both
// the persisted counters and the mirror. The index is refreshed from the
// same scan.
func (s *Service) RebuildStats(ctx context.Context) (stats.Snapshot, error) {
	if err := checkContext(ctx); err != nil {
		return stats.Snapshot{}, err
	}
	release, err := s.writes.Exclusive(ctx)
	if err != nil {
		return stats.Snapshot{}, err
	}
	defer release()

	if _, err := s.catchUpLocked(ctx); err != nil {
		return stats.Snapshot{}, err
	}
	records, verifications, err := s.scan(ctx)
	if err != nil {
		return stats.Snapshot{}, err
	}
	counters := stats.Compute(records, verifications)
	if err := s.counters.ReplaceCounters(ctx, counters); err != nil {
		return stats.Snapshot{}, classify(err, "replace stats counters")
	}
	s.stats.Load(counters)
	s.index.Rebuild(records)

	logging.Info(ctx, "stats rebuilt", slog.Int("obituaries", len(records)), slog.Int("counters", len(counters)))
	return s.stats.Snapshot(), nil
}

// CheckStats compares the persisted counters and the mirror with a full
// rescan after catching up with other writers. An empty result means both
// are consistent.
func (s *Service) CheckStats(ctx context.Context) ([]stats.Divergence, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	release, err := s.writes.Exclusive(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := s.catchUpLocked(ctx); err != nil {
		return nil, err
	}
	records, verifications, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	actual := stats.Compute(records, verifications)

	persisted, err := s.counters.LoadCounters(ctx)
	if err != nil {
		return nil, classify(err, "load stats counters")
	}

	out := stats.Diff(persisted, actual)
	seen := make(map[string]struct{}, len(out))
	for _, d := range out {
		seen[d.Dimension+"/"+d.Key] = struct{}{}
	}
	for _, d := range stats.Diff(s.stats.Counters(), actual) {
		if _, ok := seen[d.Dimension+"/"+d.Key]; !ok {
			out = append(out, d)
		}
	}
	if len(out) > 0 {
		logging.Warn(ctx, "stats counters diverge from records", slog.Int("divergences", len(out)))
	}
	return out, nil
}

func (s *Service) scan(ctx context.Context) ([]domainobituary.Obituary, int64, error) {
	var records []domainobituary.Obituary
	if err := s.repo.ScanObituaries(ctx, scanBatchSize, func(batch []domainobituary.Obituary) error {
		records = append(records, batch...)
		return nil
	}); err != nil {
		return nil, 0, classify(err, "scan obituaries")
	}
	verifications, err := s.repo.CountVerifications(ctx)
	if err != nil {
		return nil, 0, classify(err, "count verifications")
	}
	return records, verifications, nil
}

