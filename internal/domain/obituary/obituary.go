package obituary

import (
	"fmt"
	"strings"
	"time"
)

type Metadata struct {
	GasUsed         string
	ExploitAmount   string
	AffectedUsers   int64
	AIGenerated     bool
	SimilarityScore float64
}

// Obituary is a report that a contract is unsafe. Description and Evidence are
// immutable after creation; Alternatives and ProofAttachments only grow.
type Obituary struct {
	ID                 string
	ContractAddress    string
	ContractName       string
	ChainID            int64
	Reason             Reason
	RiskLevel          RiskLevel
	Description        string
	Evidence           []string
	Tags               []string
	ReportedBy         string
	ReportedAt         time.Time
	VerificationStatus Status
	VerificationCount  int
	Alternatives       []string
	ProofAttachments   []string
	BlockNumber        *uint64
	TransactionHash    string
	Metadata           Metadata
	Supersedes         string
	SupersededBy       string
	UpdatedAt          time.Time
}

// NaturalKey identifies the contract an obituary is about.
func (o Obituary) NaturalKey() string {
	return fmt.Sprintf("%s@%d", o.ContractAddress, o.ChainID)
}

// IsLive reports whether the record blocks new submissions for its natural key.
func (o Obituary) IsLive() bool {
	return o.VerificationStatus != StatusRejected && o.SupersededBy == ""
}

// AcceptsVotes reports whether the state machine may still change.
func (o Obituary) AcceptsVotes() bool {
	return !o.VerificationStatus.IsTerminal() && o.SupersededBy == ""
}

// AcceptsAppends reports whether append-only lists may still grow.
func (o Obituary) AcceptsAppends() bool {
	return o.VerificationStatus != StatusRejected && o.SupersededBy == ""
}

// Clone returns a deep copy so projections never share slices with callers.
func (o Obituary) Clone() Obituary {
	out := o
	out.Evidence = cloneStrings(o.Evidence)
	out.Tags = cloneStrings(o.Tags)
	out.Alternatives = cloneStrings(o.Alternatives)
	out.ProofAttachments = cloneStrings(o.ProofAttachments)
	if o.BlockNumber != nil {
		n := *o.BlockNumber
		out.BlockNumber = &n
	}
	return out
}

// Submission is the caller-provided part of a new Obituary.
type Submission struct {
	ContractAddress  string
	ContractName     string
	ChainID          int64
	Reason           string
	RiskLevel        string
	Description      string
	Evidence         []string
	Tags             []string
	ReportedBy       string
	Alternatives     []string
	ProofAttachments []string
	BlockNumber      *uint64
	TransactionHash  string
	Metadata         Metadata
	Supersedes       string
}

// NewObituary validates a submission and builds the pending record.
func NewObituary(sub Submission, id string, now time.Time) (Obituary, error) {
	if strings.TrimSpace(id) == "" {
		return Obituary{}, fmt.Errorf("%w: id", ErrFieldRequired)
	}

	address, err := NormalizeAddress(sub.ContractAddress)
	if err != nil {
		return Obituary{}, err
	}
	if sub.ChainID <= 0 {
		return Obituary{}, fmt.Errorf("%w: got %d", ErrInvalidChainID, sub.ChainID)
	}
	reason, err := ParseReason(sub.Reason)
	if err != nil {
		return Obituary{}, err
	}
	risk, err := ParseRiskLevel(sub.RiskLevel)
	if err != nil {
		return Obituary{}, err
	}

	description := strings.TrimSpace(sub.Description)
	if description == "" {
		return Obituary{}, fmt.Errorf("%w: description", ErrFieldRequired)
	}
	reportedBy := NormalizeIdentity(sub.ReportedBy)
	if reportedBy == "" {
		return Obituary{}, fmt.Errorf("%w: reportedBy", ErrFieldRequired)
	}

	alternatives, err := normalizeAddressList(sub.Alternatives)
	if err != nil {
		return Obituary{}, fmt.Errorf("alternatives: %w", err)
	}

	txHash := strings.ToLower(strings.TrimSpace(sub.TransactionHash))
	if txHash != "" && !isHexHash(txHash) {
		return Obituary{}, fmt.Errorf("%w: transaction hash %q", ErrInvalidAddress, sub.TransactionHash)
	}

	evidence := make([]string, 0, len(sub.Evidence))
	for _, item := range sub.Evidence {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			evidence = append(evidence, trimmed)
		}
	}

	var block *uint64
	if sub.BlockNumber != nil {
		n := *sub.BlockNumber
		block = &n
	}

	at := now.UTC()
	return Obituary{
		ID:                 id,
		ContractAddress:    address,
		ContractName:       strings.TrimSpace(sub.ContractName),
		ChainID:            sub.ChainID,
		Reason:             reason,
		RiskLevel:          risk,
		Description:        description,
		Evidence:           evidence,
		Tags:               normalizeStrings(sub.Tags),
		ReportedBy:         reportedBy,
		ReportedAt:         at,
		VerificationStatus: StatusPending,
		VerificationCount:  0,
		Alternatives:       alternatives,
		ProofAttachments:   normalizeStrings(sub.ProofAttachments),
		BlockNumber:        block,
		TransactionHash:    txHash,
		Metadata:           sub.Metadata,
		Supersedes:         strings.TrimSpace(sub.Supersedes),
		UpdatedAt:          at,
	}, nil
}

// AppendAlternatives adds normalized addresses not yet present and reports how many were new.
func (o *Obituary) AppendAlternatives(raw []string) (int, error) {
	addrs, err := normalizeAddressList(raw)
	if err != nil {
		return 0, err
	}
	merged, added := appendUnique(o.Alternatives, addrs)
	o.Alternatives = merged
	return added, nil
}

// AppendProofAttachments adds content identifiers not yet present and reports how many were new.
func (o *Obituary) AppendProofAttachments(raw []string) int {
	merged, added := appendUnique(o.ProofAttachments, normalizeStrings(raw))
	o.ProofAttachments = merged
	return added
}

func appendUnique(existing []string, extra []string) ([]string, int) {
	seen := make(map[string]struct{}, len(existing))
	for _, item := range existing {
		seen[item] = struct{}{}
	}
	out := cloneStrings(existing)
	added := 0
	for _, item := range extra {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
		added++
	}
	return out, added
}

func isHexHash(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 66 {
		return false
	}
	for _, c := range s[2:] {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
