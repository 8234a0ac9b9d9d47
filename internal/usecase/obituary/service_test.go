package obituary

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	domainobituary "obituaries/internal/domain/obituary"
	"obituaries/internal/errs"
	"obituaries/internal/feed"
	"obituaries/internal/infrastructure/persistence/sqlite/model"
	sqliterepo "obituaries/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "obituaries/internal/infrastructure/persistence/sqlite/uow"
	"obituaries/internal/ports"
	"obituaries/internal/stats"
)

type testCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newTestCache() *testCache {
	return &testCache{
		data: make(map[string]string),
	}
}

func (c *testCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *testCache) Set(_ context.Context, key string, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *testCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// stepClock advances one second per reading so records get distinct timestamps.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeAnalyzer struct {
	calls    atomic.Int32
	lastReq  ports.AnalysisRequest
	mu       sync.Mutex
	analysis ports.ContractAnalysis
}

func (a *fakeAnalyzer) AnalyzeContract(_ context.Context, req ports.AnalysisRequest) (ports.ContractAnalysis, error) {
	a.calls.Add(1)
	a.mu.Lock()
	a.lastReq = req
	a.mu.Unlock()
	out := a.analysis
	out.ContractAddress = req.ContractAddress
	return out, nil
}

func (a *fakeAnalyzer) GenerateDescription(_ context.Context, req ports.DescriptionRequest) (string, error) {
	return "Contract " + req.ContractAddress + " was " + req.Reason, nil
}

type fakeSources struct {
	source ports.ContractSource
}

func (s fakeSources) GetSourceCode(_ context.Context, address string, chainID int64) (ports.ContractSource, error) {
	out := s.source
	out.Address = address
	out.ChainID = chainID
	return out, nil
}

type testEnv struct {
	svc      *Service
	db       *gorm.DB
	hub      *feed.Hub
	cache    *testCache
	counters *sqliterepo.StatsRepository
	analyzer *fakeAnalyzer
}

func setupEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	var seq atomic.Int64
	clock := &stepClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	if opts.Now == nil {
		opts.Now = clock.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return fmt.Sprintf("obit-%d", seq.Add(1)) }
	}

	env := &testEnv{
		db:       db,
		hub:      feed.NewHub(256, nil),
		cache:    newTestCache(),
		counters: sqliterepo.NewStatsRepository(db),
		analyzer: &fakeAnalyzer{analysis: ports.ContractAnalysis{RiskLevel: "high", Summary: "unchecked external call", Confidence: 0.8}},
	}
	t.Cleanup(env.hub.Close)

	svc, err := NewService(Deps{
		Repo:      sqliterepo.NewObituaryRepository(db),
		UoW:       sqliteuow.NewUnitOfWork(db),
		Keys:      sqliterepo.NewIdempotencyRepository(db),
		Counters:  env.counters,
		Publisher: env.hub,
		Cache:     env.cache,
		Sources:   fakeSources{source: ports.ContractSource{SourceCode: "contract Vault {}", ABI: "[]"}},
		Analyzer:  env.analyzer,
	}, opts)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	env.svc = svc
	return env
}

func address(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

func submission(contract int, chainID int64, reason string) domainobituary.Submission {
	return domainobituary.Submission{
		ContractAddress: address(contract),
		ContractName:    fmt.Sprintf("Vault%d", contract),
		ChainID:         chainID,
		Reason:          reason,
		RiskLevel:       "high",
		Description:     "reentrancy in withdraw drained the pool",
		Evidence:        []string{"https://example.org/postmortem"},
		Tags:            []string{"defi"},
		ReportedBy:      address(9000),
	}
}

func mustSubmit(t *testing.T, svc *Service, sub domainobituary.Submission) string {
	t.Helper()
	res, err := svc.Submit(context.Background(), SubmitInput{Submission: sub})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return res.ID
}

func vote(t *testing.T, svc *Service, id string, verifier int, action string) VoteResult {
	t.Helper()
	res, err := svc.Vote(context.Background(), VoteInput{Vote: domainobituary.VoteInput{
		ObituaryID:      id,
		VerifierAddress: address(verifier),
		Action:          action,
	}})
	if err != nil {
		t.Fatalf("Vote(%s, %d, %s) error = %v", id, verifier, action, err)
	}
	return res
}

func TestSubmitThenGetIsPending(t *testing.T) {
	env := setupEnv(t, Options{})
	ctx := context.Background()

	id := mustSubmit(t, env.svc, submission(1, 1, "exploited"))
	got, err := env.svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.VerificationStatus != domainobituary.StatusPending {
		t.Fatalf("status = %s, want pending", got.VerificationStatus)
	}
	if got.VerificationCount != 0 {
		t.Fatalf("verificationCount = %d, want 0", got.VerificationCount)
	}
	if got.ContractAddress != address(1) {
		t.Fatalf("contractAddress = %s, want %s", got.ContractAddress, address(1))
	}

	if _, err := env.svc.Get(ctx, "missing"); !errors.Is(err, domainobituary.ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSubmitRejectsInvalidInputBeforeWriting(t *testing.T) {
	env := setupEnv(t, Options{})
	ctx := context.Background()

	bad := submission(1, 1, "exploited")
	bad.ContractAddress = "0x1234"
	if _, err := env.svc.Submit(ctx, SubmitInput{Submission: bad}); !errs.HasCode(err, errs.CodeValidation) {
		t.Fatalf("Submit(bad address) error = %v, want ValidationError", err)
	}

	bad = submission(1, 1, "hacked")
	if _, err := env.svc.Submit(ctx, SubmitInput{Submission: bad}); !errs.HasCode(err, errs.CodeValidation) {
		t.Fatalf("Submit(bad reason) error = %v, want ValidationError", err)
	}

	if env.svc.IndexSize() != 0 {
		t.Fatalf("index size = %d, want 0", env.svc.IndexSize())
	}
	snapshot, err := env.svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if snapshot.TotalObituaries != 0 {
		t.Fatalf("totalObituaries = %d, want 0", snapshot.TotalObituaries)
	}
}

func TestSubmitDuplicateLiveObituary(t *testing.T) {
	env := setupEnv(t, Options{})
	ctx := context.Background()

	mustSubmit(t, env.svc, submission(1, 1, "exploited"))

	_, err := env.svc.Submit(ctx, SubmitInput{Submission: submission(1, 1, "rugpull")})
	if !errors.Is(err, domainobituary.ErrDuplicateKey) {
		t.Fatalf("Submit(duplicate) error = %v, want ErrDuplicateKey", err)
	}

	// Same address on another chain is a different contract.
	mustSubmit(t, env.svc, submission(1, 137, "exploited"))
}

func TestSubmitAllowedAfterRejection(t *testing.T) {
	env := setupEnv(t, Options{})

	first := mustSubmit(t, env.svc, submission(1, 1, "exploited"))
	for v := 1; v <= 3; v++ {
		vote(t, env.svc, first, v, "reject")
	}

	second := mustSubmit(t, env.svc, submission(1, 1, "abandoned"))
	items, err := env.svc.GetByAddress(context.Background(), address(1), 1)
	if err != nil {
		t.Fatalf("GetByAddress() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("GetByAddress() len = %d, want 2", len(items))
	}
	if items[0].ID != second || items[1].ID != first {
		t.Fatalf("GetByAddress() order = [%s %s], want newest first [%s %s]", items[0].ID, items[1].ID, second, first)
	}
}

func TestSubmitSupersedesLiveObituary(t *testing.T) {
	env := setupEnv(t, Options{})
	ctx := context.Background()

	oldID := mustSubmit(t, env.svc, submission(1, 1, "deprecated"))

	wrong := submission(1, 1, "exploited")
	wrong.Supersedes = "not-the-live-one"
	if _, err := env.svc.Submit(ctx, SubmitInput{Submission: wrong}); err == nil {
		t.Fatalf("Submit(supersedes unknown) expected error")
	}

	replacement := submission(1, 1, "exploited")
	replacement.Supersedes = oldID
	newID := mustSubmit(t, env.svc, replacement)

	old, err := env.svc.Get(ctx, oldID)
	if err != nil {
		t.Fatalf("Get(old) error = %v", err)
	}
	if old.SupersededBy != newID {
		t.Fatalf("old.SupersededBy = %q, want %q", old.SupersededBy, newID)
	}

	_, err = env.svc.Vote(ctx, VoteInput{Vote: domainobituary.VoteInput{
		ObituaryID:      oldID,
		VerifierAddress: address(1),
		Action:          "approve",
	}})
	if !errors.Is(err, domainobituary.ErrAlreadyFinalized) {
		t.Fatalf("Vote(superseded) error = %v, want ErrAlreadyFinalized", err)
	}

	indexed, err := env.svc.Search(ctx, domainobituary.SearchQuery{Text: address(1)})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if indexed.TotalCount != 2 {
		t.Fatalf("Search() totalCount = %d, want 2", indexed.TotalCount)
	}
}

func TestSubmitIdempotencyKeyReplaysResult(t *testing.T) {
	env := setupEnv(t, Options{})
	ctx := context.Background()

	input := SubmitInput{Submission: submission(1, 1, "exploited"), IdempotencyKey: "req-1"}
	first, err := env.svc.Submit(ctx, input)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	second, err := env.svc.Submit(ctx, input)
	if err != nil {
		t.Fatalf("Submit(retry) error = %v", err)
	}
	if second.ID != first.ID || !second.Replayed {
		t.Fatalf("Submit(retry) = %+v, want replay of %s", second, first.ID)
	}

	snapshot, _ := env.svc.Stats(ctx)
	if snapshot.TotalObituaries != 1 {
		t.Fatalf("totalObituaries = %d, want 1", snapshot.TotalObituaries)
	}

	_, err = env.svc.Vote(ctx, VoteInput{
		Vote:           domainobituary.VoteInput{ObituaryID: first.ID, VerifierAddress: address(2), Action: "approve"},
		IdempotencyKey: "req-1",
	})
	if !errors.Is(err, domainobituary.ErrIdempotencyUsed) {
		t.Fatalf("Vote(reused key) error = %v, want ErrIdempotencyUsed", err)
	}
}

func TestVoteIdempotencyKeyCountsOnce(t *testing.T) {
	env := setupEnv(t, Options{})
	ctx := context.Background()

	id := mustSubmit(t, env.svc, submission(1, 1, "exploited"))
	input := VoteInput{
		Vote:           domainobituary.VoteInput{ObituaryID: id, VerifierAddress: address(2), Action: "approve"},
		IdempotencyKey: "vote-1",
	}
	for i := 0; i < 3; i++ {
		res, err := env.svc.Vote(ctx, input)
		if err != nil {
			t.Fatalf("Vote(attempt %d) error = %v", i, err)
		}
		if res.VerificationCount != 1 {
			t.Fatalf("Vote(attempt %d) count = %d, want 1", i, res.VerificationCount)
		}
	}

	votes, err := env.svc.ListVerifications(ctx, id)
	if err != nil {
		t.Fatalf("ListVerifications() error = %v", err)
	}
	if len(votes) != 1 {
		t.Fatalf("ListVerifications() len = %d, want 1", len(votes))
	}
}

func TestVoteTransitions(t *testing.T) {
	cases := []struct {
		name    string
		actions []string
		want    domainobituary.Status
	}{
		{name: "three approvals verify", actions: []string{"approve", "approve", "approve"}, want: domainobituary.StatusVerified},
		{name: "three rejections reject", actions: []string{"reject", "reject", "reject"}, want: domainobituary.StatusRejected},
		{name: "split quorum disputes", actions: []string{"reject", "reject", "approve", "approve", "approve"}, want: domainobituary.StatusDisputed},
		{name: "below quorum stays pending", actions: []string{"approve", "reject"}, want: domainobituary.StatusPending},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := setupEnv(t, Options{})
			id := mustSubmit(t, env.svc, submission(1, 1, "exploited"))

			var last VoteResult
			for i, action := range tc.actions {
				last = vote(t, env.svc, id, i+1, action)
			}
			if last.Status != tc.want {
				t.Fatalf("status = %s, want %s", last.Status, tc.want)
			}
			if last.VerificationCount != len(tc.actions) {
				t.Fatalf("verificationCount = %d, want %d", last.VerificationCount, len(tc.actions))
			}

			got, err := env.svc.Get(context.Background(), id)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.VerificationStatus != tc.want {
				t.Fatalf("stored status = %s, want %s", got.VerificationStatus, tc.want)
			}
		})
	}
}

func TestSetPolicyAppliesToNextVote(t *testing.T) {
	env := setupEnv(t, Options{})
	id := mustSubmit(t, env.svc, submission(1, 1, "exploited"))

	if res := vote(t, env.svc, id, 1, "approve"); res.Status != domainobituary.StatusPending {
		t.Fatalf("status after one approval = %s, want pending", res.Status)
	}

	relaxed := domainobituary.DefaultPolicy()
	relaxed.ApproveThreshold = 2
	if err := env.svc.SetPolicy(relaxed); err != nil {
		t.Fatalf("SetPolicy() error = %v", err)
	}
	if got := env.svc.Policy(); got != relaxed {
		t.Fatalf("Policy() = %+v, want %+v", got, relaxed)
	}
	if res := vote(t, env.svc, id, 2, "approve"); res.Status != domainobituary.StatusVerified {
		t.Fatalf("status after two approvals = %s, want verified", res.Status)
	}

	if err := env.svc.SetPolicy(domainobituary.Policy{}); errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("SetPolicy(zero) code = %q, want %q", errs.CodeOf(err), errs.CodeValidation)
	}
	if got := env.svc.Policy(); got != relaxed {
		t.Fatalf("invalid policy replaced the active one: %+v", got)
	}
}

func TestDisputedObituaryStillAcceptsVotes(t *testing.T) {
	env := setupEnv(t, Options{})
	id := mustSubmit(t, env.svc, submission(1, 1, "exploited"))

	for i, action := range []string{"reject", "reject", "approve", "approve", "approve"} {
		vote(t, env.svc, id, i+1, action)
	}
	res := vote(t, env.svc, id, 6, "approve")
	if res.Status != domainobituary.StatusVerified || res.VerificationCount != 6 {
		t.Fatalf("Vote() = %+v, want verified with 6 votes", res)
	}
}

func TestVerifiedExampleScenario(t *testing.T) {
	env := setupEnv(t, Options{})
	id := mustSubmit(t, env.svc, submission(0xAAA, 1, "exploited"))

	for v := 1; v <= 3; v++ {
		vote(t, env.svc, id, v, "approve")
	}

	got, err := env.svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.VerificationStatus != domainobituary.StatusVerified || got.VerificationCount != 3 {
		t.Fatalf("Get() = %s/%d, want verified/3", got.VerificationStatus, got.VerificationCount)
	}
}

func TestVerifiedRiskFollowsApproverConsensus(t *testing.T) {
	env := setupEnv(t, Options{})
	ctx := context.Background()
	id := mustSubmit(t, env.svc, submission(1, 1, "exploited"))

	for v, risk := range []string{"critical", "critical", "medium"} {
		if _, err := env.svc.Vote(ctx, VoteInput{Vote: domainobituary.VoteInput{
			ObituaryID:      id,
			VerifierAddress: address(v + 1),
			Action:          "approve",
			RiskLevel:       risk,
		}}); err != nil {
			t.Fatalf("Vote() error = %v", err)
		}
	}

	got, err := env.svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.RiskLevel != domainobituary.RiskCritical {
		t.Fatalf("riskLevel = %s, want critical", got.RiskLevel)
	}
}

func TestDuplicateVoteRejected(t *testing.T) {
	env := setupEnv(t, Options{})
	ctx := context.Background()
	id := mustSubmit(t, env.svc, submission(1, 1, "exploited"))

	vote(t, env.svc, id, 1, "approve")
	_, err := env.svc.Vote(ctx, VoteInput{Vote: domainobituary.VoteInput{
		ObituaryID:      id,
		VerifierAddress: address(1),
		Action:          "reject",
	}})
	if !errors.Is(err, domainobituary.ErrDuplicateVote) {
		t.Fatalf("Vote(duplicate) error = %v, want ErrDuplicateVote", err)
	}

	got, _ := env.svc.Get(ctx, id)
	if got.VerificationCount != 1 {
		t.Fatalf("verificationCount = %d, want 1", got.VerificationCount)
	}
}

func TestDuplicateVoteUpdatesUnderUpdatePolicy(t *testing.T) {
	env := setupEnv(t, Options{VotePolicy: domainobituary.VotePolicyUpdate})
	ctx := context.Background()
	id := mustSubmit(t, env.svc, submission(1, 1, "exploited"))

	vote(t, env.svc, id, 1, "approve")
	res := vote(t, env.svc, id, 1, "reject")
	if res.VerificationCount != 1 {
		t.Fatalf("verificationCount = %d, want 1", res.VerificationCount)
	}

	votes, err := env.svc.ListVerifications(ctx, id)
	if err != nil {
		t.Fatalf("ListVerifications() error = %v", err)
	}
	if len(votes) != 1 || votes[0].Action != domainobituary.ActionReject {
		t.Fatalf("ListVerifications() = %+v, want one reject vote", votes)
	}

	snapshot, _ := env.svc.Stats(ctx)
	if snapshot.TotalVerifications != 1 {
		t.Fatalf("totalVerifications = %d, want 1", snapshot.TotalVerifications)
	}
}

func TestVoteAfterFinalizationChangesNothing(t *testing.T) {
	env := setupEnv(t, Options{})
	ctx := context.Background()
	id := mustSubmit(t, env.svc, submission(1, 1, "exploited"))

	for v := 1; v <= 3; v++ {
		vote(t, env.svc, id, v, "approve")
	}
	_, err := env.svc.Vote(ctx, VoteInput{Vote: domainobituary.VoteInput{
		ObituaryID:      id,
		VerifierAddress: address(4),
		Action:          "reject",
	}})
	if !errors.Is(err, domainobituary.ErrAlreadyFinalized) {
		t.Fatalf("Vote(finalized) error = %v, want ErrAlreadyFinalized", err)
	}

	got, _ := env.svc.Get(ctx, id)
	if got.VerificationCount != 3 || got.VerificationStatus != domainobituary.StatusVerified {
		t.Fatalf("Get() = %s/%d, want verified/3", got.VerificationStatus, got.VerificationCount)
	}

	if _, err := env.svc.Vote(ctx, VoteInput{Vote: domainobituary.VoteInput{
		ObituaryID:      "missing",
		VerifierAddress: address(4),
		Action:          "approve",
	}}); !errors.Is(err, domainobituary.ErrNotFound) {
		t.Fatalf("Vote(missing) error = %v, want ErrNotFound", err)
	}
}

func TestConcurrentVotesAreSerialized(t *testing.T) {
	env := setupEnv(t, Options{Policy: domainobituary.Policy{
		ApproveThreshold: 100,
		RejectThreshold:  100,
		Quorum:           100,
		ApproveRatio:     2,
	}})
	id := mustSubmit(t, env.svc, submission(1, 1, "exploited"))

	const voters = 20
	var wg sync.WaitGroup
	errCh := make(chan error, voters)
	for v := 1; v <= voters; v++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			action := "approve"
			if v%2 == 0 {
				action = "reject"
			}
			_, err := env.svc.Vote(context.Background(), VoteInput{Vote: domainobituary.VoteInput{
				ObituaryID:      id,
				VerifierAddress: address(v),
				Action:          action,
			}})
			errCh <- err
		}(v)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("Vote() error = %v", err)
		}
	}

	got, err := env.svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.VerificationCount != voters {
		t.Fatalf("verificationCount = %d, want %d", got.VerificationCount, voters)
	}
	divergences, err := env.svc.CheckStats(context.Background())
	if err != nil {
		t.Fatalf("CheckStats() error = %v", err)
	}
	if len(divergences) != 0 {
		t.Fatalf("CheckStats() = %+v, want none", divergences)
	}
}

func TestConcurrentVotesCrossThresholdOnce(t *testing.T) {
	env := setupEnv(t, Options{})
	id := mustSubmit(t, env.svc, submission(1, 1, "exploited"))

	const voters = 8
	var (
		wg        sync.WaitGroup
		accepted  atomic.Int32
		finalized atomic.Int32
	)
	for v := 1; v <= voters; v++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			_, err := env.svc.Vote(context.Background(), VoteInput{Vote: domainobituary.VoteInput{
				ObituaryID:      id,
				VerifierAddress: address(v),
				Action:          "approve",
			}})
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, domainobituary.ErrAlreadyFinalized):
				finalized.Add(1)
			default:
				t.Errorf("Vote() error = %v", err)
			}
		}(v)
	}
	wg.Wait()

	if accepted.Load() != 3 || finalized.Load() != voters-3 {
		t.Fatalf("accepted=%d finalized=%d, want 3 and %d", accepted.Load(), finalized.Load(), voters-3)
	}
	got, _ := env.svc.Get(context.Background(), id)
	if got.VerificationCount != 3 || got.VerificationStatus != domainobituary.StatusVerified {
		t.Fatalf("Get() = %s/%d, want verified/3", got.VerificationStatus, got.VerificationCount)
	}
}

func TestAppendsDeduplicateAndRespectRejection(t *testing.T) {
	env := setupEnv(t, Options{})
	ctx := context.Background()
	id := mustSubmit(t, env.svc, submission(1, 1, "exploited"))

	res, err := env.svc.AppendAlternatives(ctx, id, []string{address(50), address(51), address(50)})
	if err != nil {
		t.Fatalf("AppendAlternatives() error = %v", err)
	}
	if res.Added != 2 {
		t.Fatalf("AppendAlternatives() added = %d, want 2", res.Added)
	}
	res, err = env.svc.AppendAlternatives(ctx, id, []string{address(51)})
	if err != nil {
		t.Fatalf("AppendAlternatives(repeat) error = %v", err)
	}
	if res.Added != 0 || len(res.Obituary.Alternatives) != 2 {
		t.Fatalf("AppendAlternatives(repeat) = %+v, want no change", res)
	}
	if _, err := env.svc.AppendAlternatives(ctx, id, []string{"not-an-address"}); !errs.HasCode(err, errs.CodeValidation) {
		t.Fatalf("AppendAlternatives(bad) error = %v, want ValidationError", err)
	}

	for v := 1; v <= 3; v++ {
		vote(t, env.svc, id, v, "approve")
	}
	res, err = env.svc.AppendProofAttachments(ctx, id, []string{"bafy-after-verify"})
	if err != nil {
		t.Fatalf("AppendProofAttachments(verified) error = %v", err)
	}
	if res.Added != 1 {
		t.Fatalf("AppendProofAttachments(verified) added = %d, want 1", res.Added)
	}

	rejected := mustSubmit(t, env.svc, submission(2, 1, "rugpull"))
	for v := 1; v <= 3; v++ {
		vote(t, env.svc, rejected, v, "reject")
	}
	if _, err := env.svc.AppendProofAttachments(ctx, rejected, []string{"bafy-late"}); !errors.Is(err, domainobituary.ErrAlreadyFinalized) {
		t.Fatalf("AppendProofAttachments(rejected) error = %v, want ErrAlreadyFinalized", err)
	}

	got, _ := env.svc.Get(ctx, id)
	if len(got.Alternatives) != 2 || len(got.ProofAttachments) != 1 {
		t.Fatalf("Get() alternatives=%v attachments=%v", got.Alternatives, got.ProofAttachments)
	}
}

func TestSearchSeesWritesImmediately(t *testing.T) {
	env := setupEnv(t, Options{})
	ctx := context.Background()

	id := mustSubmit(t, env.svc, submission(1, 1, "exploited"))
	mustSubmit(t, env.svc, submission(2, 137, "rugpull"))

	page, err := env.svc.Search(ctx, domainobituary.SearchQuery{Filters: domainobituary.Filters{ChainID: 1}})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if page.TotalCount != 1 || page.Items[0].ID != id {
		t.Fatalf("Search(chain 1) = %+v, want only %s", page, id)
	}

	for v := 1; v <= 3; v++ {
		vote(t, env.svc, id, v, "approve")
	}
	page, err = env.svc.Search(ctx, domainobituary.SearchQuery{Filters: domainobituary.Filters{Status: domainobituary.StatusVerified}})
	if err != nil {
		t.Fatalf("Search(verified) error = %v", err)
	}
	if page.TotalCount != 1 || page.Items[0].VerificationCount != 3 {
		t.Fatalf("Search(verified) = %+v, want the voted record", page)
	}
}

func TestFeedReceivesCommittedChangesInOrder(t *testing.T) {
	env := setupEnv(t, Options{})
	chain := int64(1)
	sub := env.hub.Subscribe(domainobituary.FeedFilter{ChainID: &chain})
	defer sub.Close()

	id := mustSubmit(t, env.svc, submission(1, 1, "exploited"))
	mustSubmit(t, env.svc, submission(2, 137, "exploited"))
	vote(t, env.svc, id, 1, "approve")
	vote(t, env.svc, id, 2, "approve")

	want := []struct {
		typ   domainobituary.EventType
		count int
	}{
		{domainobituary.EventNew, 0},
		{domainobituary.EventUpdated, 1},
		{domainobituary.EventUpdated, 2},
	}
	for i, w := range want {
		select {
		case ev := <-sub.C():
			if ev.Obituary.ChainID != 1 {
				t.Fatalf("event %d chainId = %d, want 1", i, ev.Obituary.ChainID)
			}
			if ev.Type != w.typ || ev.Obituary.VerificationCount != w.count {
				t.Fatalf("event %d = %s/%d, want %s/%d", i, ev.Type, ev.Obituary.VerificationCount, w.typ, w.count)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestStatsStayConsistentWithRecords(t *testing.T) {
	env := setupEnv(t, Options{})
	ctx := context.Background()

	first := mustSubmit(t, env.svc, submission(1, 1, "exploited"))
	second := mustSubmit(t, env.svc, submission(2, 137, "rugpull"))
	mustSubmit(t, env.svc, submission(3, 1, "abandoned"))
	for v := 1; v <= 3; v++ {
		vote(t, env.svc, first, v, "approve")
		vote(t, env.svc, second, v, "reject")
	}

	snapshot, err := env.svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if snapshot.TotalObituaries != 3 || snapshot.TotalVerifications != 6 {
		t.Fatalf("Stats() totals = %d/%d, want 3/6", snapshot.TotalObituaries, snapshot.TotalVerifications)
	}
	if snapshot.ChainDistribution[1] != 2 || snapshot.ChainDistribution[137] != 1 {
		t.Fatalf("chainDistribution = %v", snapshot.ChainDistribution)
	}
	if snapshot.StatusDistribution[domainobituary.StatusVerified] != 1 ||
		snapshot.StatusDistribution[domainobituary.StatusRejected] != 1 ||
		snapshot.StatusDistribution[domainobituary.StatusPending] != 1 {
		t.Fatalf("statusDistribution = %v", snapshot.StatusDistribution)
	}

	divergences, err := env.svc.CheckStats(ctx)
	if err != nil {
		t.Fatalf("CheckStats() error = %v", err)
	}
	if len(divergences) != 0 {
		t.Fatalf("CheckStats() = %+v, want none", divergences)
	}
}

func TestRebuildStatsRepairsCounters(t *testing.T) {
	env := setupEnv(t, Options{})
	ctx := context.Background()

	mustSubmit(t, env.svc, submission(1, 1, "exploited"))
	mustSubmit(t, env.svc, submission(2, 1, "exploited"))

	if err := env.counters.IncrementCounters(ctx, []ports.StatsCounter{
		{Dimension: stats.DimensionTotal, Key: stats.KeyObituaries, Count: 5},
	}); err != nil {
		t.Fatalf("IncrementCounters() error = %v", err)
	}

	divergences, err := env.svc.CheckStats(ctx)
	if err != nil {
		t.Fatalf("CheckStats() error = %v", err)
	}
	if len(divergences) != 1 {
		t.Fatalf("CheckStats() = %+v, want one divergence", divergences)
	}
	if d := divergences[0]; d.Cached != 7 || d.Actual != 2 {
		t.Fatalf("divergence = %+v, want cached 7 actual 2", d)
	}

	snapshot, err := env.svc.RebuildStats(ctx)
	if err != nil {
		t.Fatalf("RebuildStats() error = %v", err)
	}
	if snapshot.TotalObituaries != 2 {
		t.Fatalf("RebuildStats() totalObituaries = %d, want 2", snapshot.TotalObituaries)
	}
	divergences, err = env.svc.CheckStats(ctx)
	if err != nil {
		t.Fatalf("CheckStats(after rebuild) error = %v", err)
	}
	if len(divergences) != 0 {
		t.Fatalf("CheckStats(after rebuild) = %+v, want none", divergences)
	}
}

func TestWarmRestoresProjections(t *testing.T) {
	env := setupEnv(t, Options{})
	ctx := context.Background()

	id := mustSubmit(t, env.svc, submission(1, 1, "exploited"))
	vote(t, env.svc, id, 1, "approve")
	mustSubmit(t, env.svc, submission(2, 10, "deprecated"))

	// A fresh service over the same store starts with empty projections.
	restarted, err := NewService(Deps{
		Repo:     sqliterepo.NewObituaryRepository(env.db),
		UoW:      sqliteuow.NewUnitOfWork(env.db),
		Keys:     sqliterepo.NewIdempotencyRepository(env.db),
		Counters: env.counters,
	}, Options{})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if restarted.IndexSize() != 0 {
		t.Fatalf("index size before warm = %d, want 0", restarted.IndexSize())
	}

	if err := restarted.Warm(ctx); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if restarted.IndexSize() != 2 {
		t.Fatalf("index size = %d, want 2", restarted.IndexSize())
	}
	snapshot, _ := restarted.Stats(ctx)
	if snapshot.TotalObituaries != 2 || snapshot.TotalVerifications != 1 {
		t.Fatalf("Stats() totals = %d/%d, want 2/1", snapshot.TotalObituaries, snapshot.TotalVerifications)
	}
}

func TestWarmSeedsEmptyCounterTable(t *testing.T) {
	env := setupEnv(t, Options{})
	ctx := context.Background()

	mustSubmit(t, env.svc, submission(1, 1, "exploited"))
	if err := env.counters.ReplaceCounters(ctx, nil); err != nil {
		t.Fatalf("ReplaceCounters() error = %v", err)
	}

	if err := env.svc.Warm(ctx); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	counters, err := env.counters.LoadCounters(ctx)
	if err != nil {
		t.Fatalf("LoadCounters() error = %v", err)
	}
	if len(counters) == 0 {
		t.Fatalf("LoadCounters() empty after warm")
	}
	divergences, err := env.svc.CheckStats(ctx)
	if err != nil {
		t.Fatalf("CheckStats() error = %v", err)
	}
	if len(divergences) != 0 {
		t.Fatalf("CheckStats() = %+v, want none", divergences)
	}
}

func TestAnalyzeContractCachesResult(t *testing.T) {
	env := setupEnv(t, Options{})
	ctx := context.Background()

	first, err := env.svc.AnalyzeContract(ctx, AnalyzeInput{ContractAddress: address(1)})
	if err != nil {
		t.Fatalf("AnalyzeContract() error = %v", err)
	}
	if first.Cached {
		t.Fatalf("first analysis should not be cached")
	}
	if first.Analysis.RiskLevel != "high" || first.Analysis.AnalyzedAt == "" {
		t.Fatalf("AnalyzeContract() = %+v", first.Analysis)
	}
	env.analyzer.mu.Lock()
	source := env.analyzer.lastReq.SourceCode
	env.analyzer.mu.Unlock()
	if source != "contract Vault {}" {
		t.Fatalf("analyzer source = %q, want fetched source", source)
	}

	second, err := env.svc.AnalyzeContract(ctx, AnalyzeInput{ContractAddress: address(1), ChainID: 1})
	if err != nil {
		t.Fatalf("AnalyzeContract(second) error = %v", err)
	}
	if !second.Cached {
		t.Fatalf("second analysis should come from cache")
	}
	if env.analyzer.calls.Load() != 1 {
		t.Fatalf("analyzer calls = %d, want 1", env.analyzer.calls.Load())
	}

	if _, err := env.svc.AnalyzeContract(ctx, AnalyzeInput{ContractAddress: address(1), ABI: "{not json"}); err != nil {
		t.Fatalf("cached lookup should not validate abi, got %v", err)
	}
	if _, err := env.svc.AnalyzeContract(ctx, AnalyzeInput{ContractAddress: address(2), ABI: "{not json"}); !errs.HasCode(err, errs.CodeValidation) {
		t.Fatalf("AnalyzeContract(bad abi) error = %v, want ValidationError", err)
	}
}

func TestAnalyzeWithoutAnalyzerIsUnavailable(t *testing.T) {
	env := setupEnv(t, Options{})
	svc, err := NewService(Deps{
		Repo:     sqliterepo.NewObituaryRepository(env.db),
		UoW:      sqliteuow.NewUnitOfWork(env.db),
		Keys:     sqliterepo.NewIdempotencyRepository(env.db),
		Counters: env.counters,
	}, Options{})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	_, err = svc.AnalyzeContract(context.Background(), AnalyzeInput{ContractAddress: address(1)})
	if !errs.HasCode(err, errs.CodeUnavailable) {
		t.Fatalf("AnalyzeContract() error = %v, want Unavailable", err)
	}
}

func TestDraftDescription(t *testing.T) {
	env := setupEnv(t, Options{})
	text, err := env.svc.DraftDescription(context.Background(), ports.DescriptionRequest{
		ContractAddress: address(1),
		Reason:          "Exploited",
	})
	if err != nil {
		t.Fatalf("DraftDescription() error = %v", err)
	}
	if text != "Contract "+address(1)+" was exploited" {
		t.Fatalf("DraftDescription() = %q", text)
	}
}

func TestCancelledContextIsRejected(t *testing.T) {
	env := setupEnv(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.svc.Submit(ctx, SubmitInput{Submission: submission(1, 1, "exploited")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Submit(cancelled) error = %v, want context.Canceled", err)
	}
}

// attachService builds a second service over db, as a CLI command would
// next to a running server.
func attachService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	hub := feed.NewHub(16, nil)
	t.Cleanup(hub.Close)

	svc, err := NewService(Deps{
		Repo:      sqliterepo.NewObituaryRepository(db),
		UoW:       sqliteuow.NewUnitOfWork(db),
		Keys:      sqliterepo.NewIdempotencyRepository(db),
		Counters:  sqliterepo.NewStatsRepository(db),
		Publisher: hub,
	}, Options{})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func nextEvent(t *testing.T, sub *feed.Subscription) domainobituary.Event {
	t.Helper()
	select {
	case ev := <-sub.C():
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return domainobituary.Event{}
}

func TestCatchUpProjectsWritesFromAnotherService(t *testing.T) {
	env := setupEnv(t, Options{})
	ctx := context.Background()
	cli := attachService(t, env.db)
	sub := env.hub.Subscribe(domainobituary.FeedFilter{})
	defer sub.Close()

	id := mustSubmit(t, cli, submission(1, 1, "exploited"))
	vote(t, cli, id, 1, "approve")

	page, err := env.svc.Search(ctx, domainobituary.SearchQuery{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if page.TotalCount != 0 {
		t.Fatalf("Search() before catch-up totalCount = %d, want 0", page.TotalCount)
	}

	res, err := env.svc.CatchUp(ctx)
	if err != nil {
		t.Fatalf("CatchUp() error = %v", err)
	}
	if res.Applied != 1 {
		t.Fatalf("CatchUp() applied = %d, want 1", res.Applied)
	}

	page, err = env.svc.Search(ctx, domainobituary.SearchQuery{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if page.TotalCount != 1 || page.Items[0].ID != id || page.Items[0].VerificationCount != 1 {
		t.Fatalf("Search() after catch-up = %+v", page)
	}
	snapshot, _ := env.svc.Stats(ctx)
	if snapshot.TotalObituaries != 1 || snapshot.TotalVerifications != 1 {
		t.Fatalf("Stats() totals = %d/%d, want 1/1", snapshot.TotalObituaries, snapshot.TotalVerifications)
	}
	if ev := nextEvent(t, sub); ev.Type != domainobituary.EventNew || ev.Obituary.ID != id || ev.Obituary.VerificationCount != 1 {
		t.Fatalf("event = %s %s count=%d", ev.Type, ev.Obituary.ID, ev.Obituary.VerificationCount)
	}
	divergences, err := env.svc.CheckStats(ctx)
	if err != nil {
		t.Fatalf("CheckStats() error = %v", err)
	}
	if len(divergences) != 0 {
		t.Fatalf("CheckStats() = %+v, want none", divergences)
	}

	vote(t, cli, id, 2, "approve")
	res, err = env.svc.CatchUp(ctx)
	if err != nil {
		t.Fatalf("CatchUp() error = %v", err)
	}
	if res.Applied != 1 {
		t.Fatalf("CatchUp() after vote applied = %d, want 1", res.Applied)
	}
	if ev := nextEvent(t, sub); ev.Type != domainobituary.EventUpdated || ev.Obituary.VerificationCount != 2 {
		t.Fatalf("event = %s count=%d, want updated count=2", ev.Type, ev.Obituary.VerificationCount)
	}
}

func TestCatchUpSkipsOwnWrites(t *testing.T) {
	env := setupEnv(t, Options{})
	ctx := context.Background()
	sub := env.hub.Subscribe(domainobituary.FeedFilter{})
	defer sub.Close()

	id := mustSubmit(t, env.svc, submission(1, 1, "exploited"))
	vote(t, env.svc, id, 1, "approve")
	if _, err := env.svc.AppendAlternatives(ctx, id, []string{address(77)}); err != nil {
		t.Fatalf("AppendAlternatives() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		nextEvent(t, sub)
	}

	res, err := env.svc.CatchUp(ctx)
	if err != nil {
		t.Fatalf("CatchUp() error = %v", err)
	}
	if res.Applied != 0 || res.Revision == 0 {
		t.Fatalf("CatchUp() = %+v, want nothing applied and a revision", res)
	}
	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestFollowPicksUpRemoteSubmission(t *testing.T) {
	env := setupEnv(t, Options{})
	cli := attachService(t, env.db)
	sub := env.hub.Subscribe(domainobituary.FeedFilter{})
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.svc.Follow(ctx, 10*time.Millisecond) }()

	id := mustSubmit(t, cli, submission(1, 137, "rugpull"))
	if ev := nextEvent(t, sub); ev.Obituary.ID != id {
		t.Fatalf("event for %s, want %s", ev.Obituary.ID, id)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Follow() error = %v", err)
	}
}

func TestWritesGiveUpWhileStoreIsExclusive(t *testing.T) {
	env := setupEnv(t, Options{})
	id := mustSubmit(t, env.svc, submission(1, 1, "exploited"))

	release, err := env.svc.writes.Exclusive(context.Background())
	if err != nil {
		t.Fatalf("Exclusive() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = env.svc.Vote(ctx, VoteInput{Vote: domainobituary.VoteInput{
		ObituaryID:      id,
		VerifierAddress: address(1),
		Action:          "approve",
	}})
	if !errs.HasCode(err, errs.CodeTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Vote() while exclusive error = %v, want Timeout", err)
	}

	release()
	if res := vote(t, env.svc, id, 1, "approve"); res.VerificationCount != 1 {
		t.Fatalf("verificationCount = %d, want 1", res.VerificationCount)
	}
}

func TestVoteGivesUpWaitingForRecordLock(t *testing.T) {
	env := setupEnv(t, Options{})
	id := mustSubmit(t, env.svc, submission(1, 1, "exploited"))

	unlock, err := env.svc.locks.Lock(context.Background(), obituaryLockKey(id))
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := env.svc.AppendProofAttachments(ctx, id, []string{"bafy-late"}); !errs.HasCode(err, errs.CodeTimeout) {
		t.Fatalf("AppendProofAttachments() while locked error = %v, want Timeout", err)
	}

	unlock()
	if len(env.svc.locks.entries) != 0 {
		t.Fatalf("lock entries = %d after release, want 0", len(env.svc.locks.entries))
	}
	if _, err := env.svc.AppendProofAttachments(context.Background(), id, []string{"bafy-late"}); err != nil {
		t.Fatalf("AppendProofAttachments() error = %v", err)
	}
}
