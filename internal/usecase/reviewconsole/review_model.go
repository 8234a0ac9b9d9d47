package reviewconsole

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"obituaries/internal/bootstrap/logging"
	domainobituary "obituaries/internal/domain/obituary"
	obituaryuc "obituaries/internal/usecase/obituary"
)

const (
	maxShownVotes = 6
	maxAuditLines = 8
	queueLimit    = 50
)

// ReviewService is what the console needs from the obituary use cases.
type ReviewService interface {
	Search(ctx context.Context, query domainobituary.SearchQuery) (domainobituary.Page, error)
	ListVerifications(ctx context.Context, id string) ([]domainobituary.Verification, error)
	Vote(ctx context.Context, input obituaryuc.VoteInput) (obituaryuc.VoteResult, error)
}

type ReviewOptions struct {
	Verifier        string
	StatusFilter    string
	ChainID         int64
	RefreshInterval time.Duration
}

type reviewModel struct {
	ctx             context.Context
	service         ReviewService
	verifier        string
	statuses        []domainobituary.Status
	chainID         int64
	refreshInterval time.Duration

	queue         []domainobituary.Obituary
	selectedIndex int
	votes         []domainobituary.Verification
	hasDetail     bool
	status        string
	auditLogs     []string
}

type queueLoadedMsg struct {
	items []domainobituary.Obituary
	err   error
}

type votesLoadedMsg struct {
	obituaryID string
	votes      []domainobituary.Verification
	err        error
}

type tickMsg struct{}

type voteDoneMsg struct {
	action     domainobituary.Action
	obituaryID string
	result     obituaryuc.VoteResult
	err        error
}

// NewReviewModel builds the verifier console. An empty status filter shows
// pending and disputed records.
func NewReviewModel(ctx context.Context, service ReviewService, options ReviewOptions) tea.Model {
	interval := options.RefreshInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &reviewModel{
		ctx:             ctx,
		service:         service,
		verifier:        strings.ToLower(strings.TrimSpace(options.Verifier)),
		statuses:        statusesFor(options.StatusFilter),
		chainID:         options.ChainID,
		refreshInterval: interval,
		status:          "loading",
	}
}

func (m *reviewModel) Init() tea.Cmd {
	return tea.Batch(m.loadQueueCmd(), m.tickCmd())
}

func (m *reviewModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := message.(type) {
	case tickMsg:
		return m, tea.Batch(m.loadQueueCmd(), m.tickCmd())
	case queueLoadedMsg:
		if msg.err != nil {
			m.status = "refresh failed: " + msg.err.Error()
			return m, nil
		}
		m.queue = msg.items
		if len(m.queue) == 0 {
			m.selectedIndex = 0
			m.hasDetail = false
			m.votes = nil
			m.status = "queue is empty"
			return m, nil
		}
		if m.selectedIndex >= len(m.queue) {
			m.selectedIndex = len(m.queue) - 1
		}
		m.status = fmt.Sprintf("refreshed, %d records", len(m.queue))
		return m, m.loadVotesCmd()
	case votesLoadedMsg:
		selected, ok := m.selected()
		if !ok || selected.ID != msg.obituaryID {
			return m, nil
		}
		if msg.err != nil {
			m.hasDetail = false
			m.status = "loading votes failed: " + msg.err.Error()
			return m, nil
		}
		m.votes = msg.votes
		m.hasDetail = true
		return m, nil
	case voteDoneMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
			m.appendAuditLog(msg.action, msg.obituaryID, "", msg.err)
		} else {
			outcome := fmt.Sprintf("%s (%d votes)", msg.result.Status, msg.result.VerificationCount)
			m.status = fmt.Sprintf("%s recorded: %s", msg.action, outcome)
			m.appendAuditLog(msg.action, msg.obituaryID, outcome, nil)
		}
		return m, m.loadQueueCmd()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "g":
			m.status = "refreshing"
			return m, m.loadQueueCmd()
		case "up", "k":
			if m.selectedIndex > 0 {
				m.selectedIndex--
				return m, m.loadVotesCmd()
			}
			return m, nil
		case "down", "j":
			if m.selectedIndex < len(m.queue)-1 {
				m.selectedIndex++
				return m, m.loadVotesCmd()
			}
			return m, nil
		case "a":
			return m, m.voteCmd(domainobituary.ActionApprove)
		case "r":
			return m, m.voteCmd(domainobituary.ActionReject)
		}
	}
	return m, nil
}

func (m *reviewModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true)
	sectionStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selectedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("62"))

	var builder strings.Builder
	builder.WriteString(titleStyle.Render("Obituary Review"))
	builder.WriteString("\n")
	builder.WriteString(dimStyle.Render(fmt.Sprintf(
		"verifier=%s status=%s chain=%s refresh=%s",
		firstNonEmpty(m.verifier, "-"),
		joinStatuses(m.statuses),
		chainLabel(m.chainID),
		m.refreshInterval,
	)))
	builder.WriteString("\n\n")

	builder.WriteString(sectionStyle.Render("Queue"))
	builder.WriteString("\n")
	if len(m.queue) == 0 {
		builder.WriteString(dimStyle.Render("- nothing to review"))
		builder.WriteString("\n\n")
	} else {
		for index, item := range m.queue {
			line := fmt.Sprintf("%s [%s] chain=%d %s %s votes=%d",
				item.ID, item.VerificationStatus, item.ChainID, item.Reason, shortAddress(item.ContractAddress), item.VerificationCount)
			if index == m.selectedIndex {
				builder.WriteString(selectedStyle.Render("> " + line))
			} else {
				builder.WriteString("  " + line)
			}
			builder.WriteString("\n")
		}
		builder.WriteString("\n")
	}

	builder.WriteString(sectionStyle.Render("Detail"))
	builder.WriteString("\n")
	if selected, ok := m.selected(); !ok || !m.hasDetail {
		builder.WriteString(dimStyle.Render("- no detail"))
		builder.WriteString("\n\n")
	} else {
		builder.WriteString(fmt.Sprintf("Contract: %s (%s)\n", selected.ContractAddress, firstNonEmpty(selected.ContractName, "unnamed")))
		builder.WriteString(fmt.Sprintf("Risk: %s\n", selected.RiskLevel))
		builder.WriteString(fmt.Sprintf("Reported: %s by %s\n", selected.ReportedAt.UTC().Format(time.RFC3339), shortAddress(selected.ReportedBy)))
		builder.WriteString(fmt.Sprintf("Description: %s\n", firstLine(selected.Description)))
		builder.WriteString("\nVotes:\n")
		if len(m.votes) == 0 {
			builder.WriteString("- none\n")
		} else {
			start := len(m.votes) - maxShownVotes
			if start < 0 {
				start = 0
			}
			for _, v := range m.votes[start:] {
				builder.WriteString(fmt.Sprintf("- %s %s %s\n", v.Action, shortAddress(v.VerifierAddress), firstNonEmpty(firstLine(v.Comment), "")))
			}
		}
		builder.WriteString("\n")
	}

	builder.WriteString(sectionStyle.Render("Status"))
	builder.WriteString("\n")
	builder.WriteString("- " + firstNonEmpty(m.status, "ready"))
	builder.WriteString("\n\n")

	builder.WriteString(sectionStyle.Render("Audit Log"))
	builder.WriteString("\n")
	if len(m.auditLogs) == 0 {
		builder.WriteString(dimStyle.Render("- no votes cast"))
		builder.WriteString("\n\n")
	} else {
		for _, line := range m.auditLogs {
			builder.WriteString("- " + line)
			builder.WriteString("\n")
		}
		builder.WriteString("\n")
	}

	builder.WriteString(dimStyle.Render("Keys: up/k down/j move  g refresh  a approve  r reject  q quit"))
	return builder.String()
}

func (m *reviewModel) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m *reviewModel) loadQueueCmd() tea.Cmd {
	statuses := m.statuses
	chainID := m.chainID
	return func() tea.Msg {
		var items []domainobituary.Obituary
		for _, status := range statuses {
			page, err := m.service.Search(m.ctx, domainobituary.SearchQuery{
				Filters: domainobituary.Filters{Status: status, ChainID: chainID},
				Sort:    domainobituary.SortReportedAt,
				Limit:   queueLimit,
			})
			if err != nil {
				return queueLoadedMsg{err: err}
			}
			items = append(items, page.Items...)
		}
		return queueLoadedMsg{items: sortQueue(items)}
	}
}

func (m *reviewModel) loadVotesCmd() tea.Cmd {
	selected, ok := m.selected()
	if !ok {
		return nil
	}
	id := selected.ID
	return func() tea.Msg {
		votes, err := m.service.ListVerifications(m.ctx, id)
		return votesLoadedMsg{obituaryID: id, votes: votes, err: err}
	}
}

func (m *reviewModel) voteCmd(action domainobituary.Action) tea.Cmd {
	selected, ok := m.selected()
	if !ok {
		m.status = "nothing selected"
		return nil
	}
	if m.verifier == "" {
		m.status = "no verifier address configured"
		return nil
	}
	id := selected.ID
	m.status = fmt.Sprintf("casting %s vote", action)
	return func() tea.Msg {
		result, err := m.service.Vote(m.ctx, obituaryuc.VoteInput{Vote: domainobituary.VoteInput{
			ObituaryID:      id,
			VerifierAddress: m.verifier,
			Action:          string(action),
			Comment:         "review console",
		}})
		return voteDoneMsg{action: action, obituaryID: id, result: result, err: err}
	}
}

func (m *reviewModel) selected() (domainobituary.Obituary, bool) {
	if m.selectedIndex < 0 || m.selectedIndex >= len(m.queue) {
		return domainobituary.Obituary{}, false
	}
	return m.queue[m.selectedIndex], true
}

func (m *reviewModel) appendAuditLog(action domainobituary.Action, obituaryID string, result string, opErr error) {
	outcome := strings.TrimSpace(result)
	if opErr != nil {
		outcome = "error: " + opErr.Error()
	}
	if outcome == "" {
		outcome = "ok"
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)
	line := fmt.Sprintf("%s obituary=%s action=%s result=%s", timestamp, obituaryID, action, outcome)
	m.auditLogs = append([]string{line}, m.auditLogs...)
	if len(m.auditLogs) > maxAuditLines {
		m.auditLogs = m.auditLogs[:maxAuditLines]
	}

	logging.Info(m.ctx, "review console vote",
		slog.String("verifier", m.verifier),
		slog.String("obituary_id", obituaryID),
		slog.String("action", string(action)),
		slog.String("result", outcome),
	)
}

// statusesFor maps the console filter to the statuses it lists. "open" and
// the empty filter mean every status that still accepts votes.
func statusesFor(filter string) []domainobituary.Status {
	value := strings.TrimSpace(strings.ToLower(filter))
	switch value {
	case "", "open":
		return []domainobituary.Status{domainobituary.StatusPending, domainobituary.StatusDisputed}
	case "all":
		return []domainobituary.Status{""}
	default:
		return []domainobituary.Status{domainobituary.Status(value)}
	}
}

// sortQueue orders newest first and drops duplicates from overlapping searches.
func sortQueue(items []domainobituary.Obituary) []domainobituary.Obituary {
	seen := make(map[string]struct{}, len(items))
	out := make([]domainobituary.Obituary, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}
	sort.SliceStable(out, func(i int, j int) bool {
		if out[i].ReportedAt.Equal(out[j].ReportedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ReportedAt.After(out[j].ReportedAt)
	})
	return out
}

func joinStatuses(statuses []domainobituary.Status) string {
	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		parts = append(parts, firstNonEmpty(string(s), "all"))
	}
	return strings.Join(parts, ",")
}

func chainLabel(chainID int64) string {
	if chainID == 0 {
		return "all"
	}
	return fmt.Sprintf("%d", chainID)
}

func shortAddress(address string) string {
	if len(address) <= 12 {
		return address
	}
	return address[:6] + ".." + address[len(address)-4:]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		normalized := strings.TrimSpace(value)
		if normalized != "" {
			return normalized
		}
	}
	return ""
}

func firstLine(body string) string {
	for _, raw := range strings.Split(body, "\n") {
		line := strings.TrimSpace(raw)
		if line != "" {
			return line
		}
	}
	return ""
}
