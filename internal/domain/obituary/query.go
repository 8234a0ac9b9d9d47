package obituary

import (
	"fmt"
	"strings"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

type SortKey string

const (
	SortReportedAt        SortKey = "reportedAt"
	SortVerificationCount SortKey = "verificationCount"
	SortRiskLevel         SortKey = "riskLevel"
)

func ParseSortKey(raw string) (SortKey, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "reportedat", "reportedat:desc", "reported_at":
		return SortReportedAt, nil
	case "verificationcount", "verificationcount:desc", "verification_count":
		return SortVerificationCount, nil
	case "risklevel", "risklevel:desc", "risk_level", "risk":
		return SortRiskLevel, nil
	default:
		return "", fmt.Errorf("%w: sort %q", ErrInvalidEnum, raw)
	}
}

// Filters narrow a search. Zero values match anything.
type Filters struct {
	Reason    Reason
	RiskLevel RiskLevel
	ChainID   int64
	Status    Status
}

type SearchQuery struct {
	Text    string
	Filters Filters
	Sort    SortKey
	Limit   int
	Offset  int
}

// Normalize applies defaults and clamps paging.
func (q SearchQuery) Normalize() (SearchQuery, error) {
	out := q
	out.Text = strings.TrimSpace(q.Text)
	if out.Sort == "" {
		out.Sort = SortReportedAt
	}
	if out.Limit <= 0 {
		out.Limit = DefaultPageLimit
	}
	if out.Limit > MaxPageLimit {
		out.Limit = MaxPageLimit
	}
	if out.Offset < 0 {
		return SearchQuery{}, fmt.Errorf("%w: offset must not be negative", ErrInvalidEnum)
	}
	if out.Filters.ChainID < 0 {
		return SearchQuery{}, fmt.Errorf("%w: got %d", ErrInvalidChainID, out.Filters.ChainID)
	}
	return out, nil
}

// Matches reports whether o passes the structured filters.
func (f Filters) Matches(o Obituary) bool {
	if f.Reason != "" && o.Reason != f.Reason {
		return false
	}
	if f.RiskLevel != "" && o.RiskLevel != f.RiskLevel {
		return false
	}
	if f.ChainID != 0 && o.ChainID != f.ChainID {
		return false
	}
	if f.Status != "" && o.VerificationStatus != f.Status {
		return false
	}
	return true
}

// MatchesText requires every whitespace-separated term to appear in one of the searchable fields.
func MatchesText(o Obituary, text string) bool {
	terms := strings.Fields(strings.ToLower(text))
	if len(terms) == 0 {
		return true
	}
	haystack := strings.ToLower(strings.Join([]string{
		o.ContractAddress,
		o.ContractName,
		o.Description,
		strings.Join(o.Tags, " "),
	}, "\n"))
	for _, term := range terms {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

type Page struct {
	Items      []Obituary
	TotalCount int
	HasMore    bool
}
