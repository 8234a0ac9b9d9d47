package ports

import (
	"context"
	"time"

	domainobituary "obituaries/internal/domain/obituary"
)

// ObituaryReadRepository reads persisted records. Missing ids return
// domainobituary.ErrNotFound.
type ObituaryReadRepository interface {
	GetObituary(ctx context.Context, id string) (domainobituary.Obituary, error)
	ListByAddress(ctx context.Context, address string, chainID int64) ([]domainobituary.Obituary, error)
	FindLive(ctx context.Context, address string, chainID int64) (domainobituary.Obituary, bool, error)
	// ScanObituaries streams every record in batches; fn returning an error stops the scan.
	ScanObituaries(ctx context.Context, batchSize int, fn func([]domainobituary.Obituary) error) error
	CountObituaries(ctx context.Context) (int64, error)
	// LatestRevision returns the revision of the most recent committed write, 0 for an empty store.
	LatestRevision(ctx context.Context) (int64, error)
	// ListChangedSince returns records whose last write has a revision above
	// revision, oldest write first.
	ListChangedSince(ctx context.Context, revision int64, limit int) ([]ObituaryChange, error)

	GetVerification(ctx context.Context, obituaryID string, verifier string) (domainobituary.Verification, bool, error)
	ListVerifications(ctx context.Context, obituaryID string) ([]domainobituary.Verification, error)
	CountVerifications(ctx context.Context) (int64, error)
}

// ObituaryChange is a record as of its last committed write.
type ObituaryChange struct {
	Revision int64
	Obituary domainobituary.Obituary
}

type ObituaryRepository interface {
	ObituaryReadRepository
	// CreateObituary inserts a new record. An id conflict or a second live
	// record for the same contract and chain returns ErrDuplicateKey.
	CreateObituary(ctx context.Context, o domainobituary.Obituary) error
	// UpdateObituary persists the mutable fields: status, count, risk level,
	// append-only lists, superseded_by and updated_at.
	UpdateObituary(ctx context.Context, o domainobituary.Obituary) error
	// CreateVerification inserts a vote; an existing (obituary, verifier) pair returns ErrDuplicateVote.
	CreateVerification(ctx context.Context, v domainobituary.Verification) error
	ReplaceVerification(ctx context.Context, v domainobituary.Verification) error
}

// IdempotencyRecord remembers the first outcome of a keyed mutating request.
type IdempotencyRecord struct {
	Key        string
	Operation  string
	ResultJSON string
	CreatedAt  time.Time
}

type IdempotencyStore interface {
	LookupIdempotency(ctx context.Context, key string) (IdempotencyRecord, bool, error)
	// SaveIdempotency reports false when the key already existed.
	SaveIdempotency(ctx context.Context, record IdempotencyRecord) (bool, error)
}

// StatsCounter is one persisted aggregate, e.g. {Dimension: "chain", Key: "1", Count: 12}.
type StatsCounter struct {
	Dimension string
	Key       string
	Count     int64
}

type StatsCounterStore interface {
	IncrementCounters(ctx context.Context, deltas []StatsCounter) error
	LoadCounters(ctx context.Context) ([]StatsCounter, error)
	ReplaceCounters(ctx context.Context, counters []StatsCounter) error
}
