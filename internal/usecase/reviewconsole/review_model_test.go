package reviewconsole

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	domainobituary "obituaries/internal/domain/obituary"
	obituaryuc "obituaries/internal/usecase/obituary"
)

type fakeReviewService struct {
	records map[domainobituary.Status][]domainobituary.Obituary
	votes   []obituaryuc.VoteInput
	voteErr error
}

func (f *fakeReviewService) Search(_ context.Context, query domainobituary.SearchQuery) (domainobituary.Page, error) {
	var items []domainobituary.Obituary
	for status, records := range f.records {
		if query.Filters.Status != "" && status != query.Filters.Status {
			continue
		}
		items = append(items, records...)
	}
	return domainobituary.Page{Items: items, TotalCount: len(items)}, nil
}

func (f *fakeReviewService) ListVerifications(_ context.Context, id string) ([]domainobituary.Verification, error) {
	return []domainobituary.Verification{{ObituaryID: id, VerifierAddress: "0x1111111111111111111111111111111111111111", Action: domainobituary.ActionApprove}}, nil
}

func (f *fakeReviewService) Vote(_ context.Context, input obituaryuc.VoteInput) (obituaryuc.VoteResult, error) {
	if f.voteErr != nil {
		return obituaryuc.VoteResult{}, f.voteErr
	}
	f.votes = append(f.votes, input)
	return obituaryuc.VoteResult{Status: domainobituary.StatusPending, VerificationCount: len(f.votes)}, nil
}

func record(id string, status domainobituary.Status, reportedAt time.Time) domainobituary.Obituary {
	return domainobituary.Obituary{
		ID:                 id,
		ContractAddress:    "0x00000000000000000000000000000000000000aa",
		ChainID:            1,
		Reason:             domainobituary.ReasonExploited,
		RiskLevel:          domainobituary.RiskHigh,
		VerificationStatus: status,
		ReportedAt:         reportedAt,
	}
}

func run(t *testing.T, m tea.Model, cmd tea.Cmd) tea.Model {
	t.Helper()
	if cmd == nil {
		return m
	}
	next, _ := m.Update(cmd())
	return next
}

func TestStatusesFor(t *testing.T) {
	testCases := []struct {
		input string
		want  string
	}{
		{input: "", want: "pending,disputed"},
		{input: "open", want: "pending,disputed"},
		{input: "all", want: "all"},
		{input: "Verified", want: "verified"},
	}

	for _, testCase := range testCases {
		got := joinStatuses(statusesFor(testCase.input))
		if got != testCase.want {
			t.Fatalf("statusesFor(%q) = %q, want %q", testCase.input, got, testCase.want)
		}
	}
}

func TestSortQueueNewestFirstWithoutDuplicates(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	items := []domainobituary.Obituary{
		record("b", domainobituary.StatusPending, base),
		record("c", domainobituary.StatusDisputed, base.Add(time.Hour)),
		record("a", domainobituary.StatusPending, base),
		record("c", domainobituary.StatusDisputed, base.Add(time.Hour)),
	}

	got := sortQueue(items)
	if len(got) != 3 {
		t.Fatalf("len(sortQueue()) = %d, want 3", len(got))
	}
	if got[0].ID != "c" || got[1].ID != "a" || got[2].ID != "b" {
		t.Fatalf("order = %s,%s,%s, want c,a,b", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestReviewModelVotesOnSelectedRecord(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc := &fakeReviewService{records: map[domainobituary.Status][]domainobituary.Obituary{
		domainobituary.StatusPending:  {record("obit-1", domainobituary.StatusPending, base)},
		domainobituary.StatusDisputed: {record("obit-2", domainobituary.StatusDisputed, base.Add(time.Minute))},
		domainobituary.StatusVerified: {record("obit-3", domainobituary.StatusVerified, base.Add(time.Hour))},
	}}

	var model tea.Model = NewReviewModel(context.Background(), svc, ReviewOptions{Verifier: "0xABCDEF0000000000000000000000000000000001"})
	rm := model.(*reviewModel)

	model = run(t, model, rm.loadQueueCmd())
	if len(rm.queue) != 2 {
		t.Fatalf("queue length = %d, want 2 open records", len(rm.queue))
	}
	if rm.queue[0].ID != "obit-2" {
		t.Fatalf("first queued = %q, want obit-2", rm.queue[0].ID)
	}

	model = run(t, model, rm.loadVotesCmd())
	if !rm.hasDetail || len(rm.votes) != 1 {
		t.Fatalf("detail not loaded: hasDetail=%v votes=%d", rm.hasDetail, len(rm.votes))
	}

	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyDown})
	if rm.selectedIndex != 1 {
		t.Fatalf("selectedIndex = %d, want 1", rm.selectedIndex)
	}

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	if cmd == nil {
		t.Fatalf("reject key returned no command")
	}
	model = run(t, model, cmd)

	if len(svc.votes) != 1 {
		t.Fatalf("votes cast = %d, want 1", len(svc.votes))
	}
	cast := svc.votes[0].Vote
	if cast.ObituaryID != "obit-1" || cast.Action != "reject" || cast.VerifierAddress != "0xabcdef0000000000000000000000000000000001" {
		t.Fatalf("vote = %+v", cast)
	}
	if len(rm.auditLogs) != 1 || !strings.Contains(rm.auditLogs[0], "action=reject") {
		t.Fatalf("audit log = %v", rm.auditLogs)
	}

	view := model.View()
	for _, want := range []string{"Obituary Review", "obit-2", "reject recorded"} {
		if !strings.Contains(view, want) {
			t.Fatalf("View() missing %q:\n%s", want, view)
		}
	}
}

func TestReviewModelReportsVoteFailure(t *testing.T) {
	svc := &fakeReviewService{
		records: map[domainobituary.Status][]domainobituary.Obituary{
			domainobituary.StatusPending: {record("obit-1", domainobituary.StatusPending, time.Now())},
		},
		voteErr: errors.New("already finalized"),
	}
	var model tea.Model = NewReviewModel(context.Background(), svc, ReviewOptions{Verifier: "0x1"})
	rm := model.(*reviewModel)
	model = run(t, model, rm.loadQueueCmd())

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}})
	run(t, model, cmd)

	if !strings.Contains(rm.status, "approve failed") {
		t.Fatalf("status = %q, want approve failure", rm.status)
	}
	if len(rm.auditLogs) != 1 || !strings.Contains(rm.auditLogs[0], "error: already finalized") {
		t.Fatalf("audit log = %v", rm.auditLogs)
	}
}

func TestReviewModelRequiresVerifier(t *testing.T) {
	svc := &fakeReviewService{records: map[domainobituary.Status][]domainobituary.Obituary{
		domainobituary.StatusPending: {record("obit-1", domainobituary.StatusPending, time.Now())},
	}}
	var model tea.Model = NewReviewModel(context.Background(), svc, ReviewOptions{})
	rm := model.(*reviewModel)
	model = run(t, model, rm.loadQueueCmd())

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}})
	if cmd != nil {
		t.Fatalf("vote without verifier returned a command")
	}
	if rm.status != "no verifier address configured" {
		t.Fatalf("status = %q", rm.status)
	}
}
