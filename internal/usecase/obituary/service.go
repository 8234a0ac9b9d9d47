package obituary

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	domainobituary "obituaries/internal/domain/obituary"
	"obituaries/internal/errs"
	"obituaries/internal/index"
	"obituaries/internal/ports"
	"obituaries/internal/stats"
)

// Deps are the collaborators of Service. Cache, Sources and Analyzer are optional.
type Deps struct {
	Repo      ports.ObituaryRepository
	UoW       ports.UnitOfWork
	Keys      ports.IdempotencyStore
	Counters  ports.StatsCounterStore
	Index     *index.Index
	Stats     *stats.Aggregator
	Publisher ports.EventPublisher
	Metrics   ports.Metrics
	Cache     ports.Cache
	Sources   ports.ContractSourceLookup
	Analyzer  ports.ContractAnalyzer

	// Followers receive events for changes committed by other processes.
	// Defaults to Publisher; set it to the local hub when Publisher also
	// relays to a shared bus the other process already published to.
	Followers ports.EventPublisher
}

type Options struct {
	Policy      domainobituary.Policy
	VotePolicy  domainobituary.VotePolicy
	AnalysisTTL time.Duration
	Now         func() time.Time
	NewID       func() string
}

type Service struct {
	repo      ports.ObituaryRepository
	uow       ports.UnitOfWork
	keys      ports.IdempotencyStore
	counters  ports.StatsCounterStore
	index     *index.Index
	stats     *stats.Aggregator
	publisher ports.EventPublisher
	followers ports.EventPublisher
	metrics   ports.Metrics
	cache     ports.Cache
	sources   ports.ContractSourceLookup
	analyzer  ports.ContractAnalyzer

	policyMu    sync.RWMutex
	policy      domainobituary.Policy
	votePolicy  domainobituary.VotePolicy
	analysisTTL time.Duration
	now         func() time.Time
	newID       func() string

	locks  *keyedMutex
	writes *writeGate

	// revision is the highest store revision reflected in the projections.
	// It is only touched under the exclusive write gate.
	revision int64
}

// NewService wires the obituary use cases. Missing projections are created empty.
func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Repo == nil {
		return nil, errors.New("obituary repository is required")
	}
	if deps.UoW == nil {
		return nil, errors.New("obituary unit of work is required")
	}
	if deps.Keys == nil {
		return nil, errors.New("idempotency store is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("stats counter store is required")
	}

	policy := opts.Policy
	if policy == (domainobituary.Policy{}) {
		policy = domainobituary.DefaultPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	votePolicy := opts.VotePolicy
	if votePolicy == "" {
		votePolicy = domainobituary.VotePolicyReject
	}

	s := &Service{
		repo:        deps.Repo,
		uow:         deps.UoW,
		keys:        deps.Keys,
		counters:    deps.Counters,
		index:       deps.Index,
		stats:       deps.Stats,
		publisher:   deps.Publisher,
		followers:   deps.Followers,
		metrics:     deps.Metrics,
		cache:       deps.Cache,
		sources:     deps.Sources,
		analyzer:    deps.Analyzer,
		policy:      policy,
		votePolicy:  votePolicy,
		analysisTTL: opts.AnalysisTTL,
		now:         opts.Now,
		newID:       opts.NewID,
		locks:       newKeyedMutex(),
		writes:      newWriteGate(),
	}
	if s.followers == nil {
		s.followers = s.publisher
	}
	if s.index == nil {
		s.index = index.New()
	}
	if s.stats == nil {
		s.stats = stats.NewAggregator()
	}
	if s.metrics == nil {
		s.metrics = ports.NopMetrics{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.analysisTTL <= 0 {
		s.analysisTTL = 24 * time.Hour
	}
	return s, nil
}

func (s *Service) Policy() domainobituary.Policy {
	s.policyMu.RLock()
	defer s.policyMu.RUnlock()
	return s.policy
}

// SetPolicy replaces the vote thresholds. Votes already cast keep their
// status until the next vote on the same record recomputes it.
func (s *Service) SetPolicy(policy domainobituary.Policy) error {
	if err := policy.Validate(); err != nil {
		return errs.As(errs.CodeValidation, err, "set policy")
	}
	s.policyMu.Lock()
	s.policy = policy
	s.policyMu.Unlock()
	return nil
}

func (s *Service) IndexSize() int {
	return s.index.Len()
}

func checkContext(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}
	return nil
}

// classify leaves typed errors alone and marks untyped storage failures Unavailable.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errs.CodeOf(err) != "" {
		return errs.Wrap(err, msg)
	}
	return errs.As(errs.CodeUnavailable, err, msg)
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code := errs.CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}
