// Package wire holds the JSON shapes exchanged over HTTP and WebSocket.
// Timestamps are unix milliseconds.
package wire

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	domainobituary "obituaries/internal/domain/obituary"
	"obituaries/internal/ports"
	"obituaries/internal/stats"
)

type Metadata struct {
	GasUsed         string  `json:"gasUsed,omitempty"`
	ExploitAmount   string  `json:"exploitAmount,omitempty"`
	AffectedUsers   int64   `json:"affectedUsers,omitempty"`
	AIGenerated     bool    `json:"aiGenerated,omitempty"`
	SimilarityScore float64 `json:"similarityScore,omitempty"`
}

type Obituary struct {
	ID                 string    `json:"id"`
	ContractAddress    string    `json:"contractAddress"`
	ContractName       string    `json:"contractName,omitempty"`
	ChainID            int64     `json:"chainId"`
	Reason             string    `json:"reason"`
	RiskLevel          string    `json:"riskLevel"`
	Description        string    `json:"description"`
	Evidence           []string  `json:"evidence"`
	Tags               []string  `json:"tags"`
	ReportedBy         string    `json:"reportedBy"`
	ReportedAt         int64     `json:"reportedAt"`
	VerificationStatus string    `json:"verificationStatus"`
	VerificationCount  int       `json:"verificationCount"`
	Alternatives       []string  `json:"alternatives"`
	ProofAttachments   []string  `json:"proofAttachments"`
	BlockNumber        *uint64   `json:"blockNumber,omitempty"`
	TransactionHash    string    `json:"transactionHash,omitempty"`
	Metadata           *Metadata `json:"metadata,omitempty"`
	Supersedes         string    `json:"supersedes,omitempty"`
	SupersededBy       string    `json:"supersededBy,omitempty"`
	UpdatedAt          int64     `json:"updatedAt"`
}

func FromObituary(o domainobituary.Obituary) Obituary {
	out := Obituary{
		ID:                 o.ID,
		ContractAddress:    o.ContractAddress,
		ContractName:       o.ContractName,
		ChainID:            o.ChainID,
		Reason:             string(o.Reason),
		RiskLevel:          string(o.RiskLevel),
		Description:        o.Description,
		Evidence:           nonNil(o.Evidence),
		Tags:               nonNil(o.Tags),
		ReportedBy:         o.ReportedBy,
		ReportedAt:         o.ReportedAt.UnixMilli(),
		VerificationStatus: string(o.VerificationStatus),
		VerificationCount:  o.VerificationCount,
		Alternatives:       nonNil(o.Alternatives),
		ProofAttachments:   nonNil(o.ProofAttachments),
		BlockNumber:        o.BlockNumber,
		TransactionHash:    o.TransactionHash,
		Supersedes:         o.Supersedes,
		SupersededBy:       o.SupersededBy,
		UpdatedAt:          o.UpdatedAt.UnixMilli(),
	}
	if o.Metadata != (domainobituary.Metadata{}) {
		meta := Metadata(o.Metadata)
		out.Metadata = &meta
	}
	return out
}

func FromObituaries(items []domainobituary.Obituary) []Obituary {
	out := make([]Obituary, 0, len(items))
	for _, o := range items {
		out = append(out, FromObituary(o))
	}
	return out
}

// ReportedTime converts the wire timestamp back to time.Time.
func (o Obituary) ReportedTime() time.Time {
	return time.UnixMilli(o.ReportedAt).UTC()
}

type Event struct {
	Type     string   `json:"type"`
	Obituary Obituary `json:"obituary"`
}

func FromEvent(e domainobituary.Event) Event {
	return Event{Type: string(e.Type), Obituary: FromObituary(e.Obituary)}
}

type SubmitRequest struct {
	ContractAddress  string    `json:"contractAddress"`
	ContractName     string    `json:"contractName,omitempty"`
	ChainID          int64     `json:"chainId"`
	Reason           string    `json:"reason"`
	RiskLevel        string    `json:"riskLevel"`
	Description      string    `json:"description"`
	Evidence         []string  `json:"evidence,omitempty"`
	Tags             []string  `json:"tags,omitempty"`
	ReportedBy       string    `json:"reportedBy"`
	Alternatives     []string  `json:"alternatives,omitempty"`
	ProofAttachments []string  `json:"proofAttachments,omitempty"`
	BlockNumber      *uint64   `json:"blockNumber,omitempty"`
	TransactionHash  string    `json:"transactionHash,omitempty"`
	Metadata         *Metadata `json:"metadata,omitempty"`
	Supersedes       string    `json:"supersedes,omitempty"`
}

func (r SubmitRequest) ToSubmission() domainobituary.Submission {
	sub := domainobituary.Submission{
		ContractAddress:  r.ContractAddress,
		ContractName:     r.ContractName,
		ChainID:          r.ChainID,
		Reason:           r.Reason,
		RiskLevel:        r.RiskLevel,
		Description:      r.Description,
		Evidence:         r.Evidence,
		Tags:             r.Tags,
		ReportedBy:       r.ReportedBy,
		Alternatives:     r.Alternatives,
		ProofAttachments: r.ProofAttachments,
		BlockNumber:      r.BlockNumber,
		TransactionHash:  r.TransactionHash,
		Supersedes:       r.Supersedes,
	}
	if r.Metadata != nil {
		sub.Metadata = domainobituary.Metadata(*r.Metadata)
	}
	return sub
}

type SubmitResponse struct {
	ID string `json:"id"`
}

type VoteRequest struct {
	VerifierAddress string `json:"verifierAddress"`
	Action          string `json:"action"`
	Comment         string `json:"comment"`
	RiskLevel       string `json:"riskLevel,omitempty"`
}

type VoteResponse struct {
	Status            string `json:"status"`
	VerificationCount int    `json:"verificationCount"`
}

type Verification struct {
	ObituaryID      string `json:"obituaryId"`
	VerifierAddress string `json:"verifierAddress"`
	Action          string `json:"action"`
	Comment         string `json:"comment"`
	RiskLevel       string `json:"riskLevel,omitempty"`
	Timestamp       int64  `json:"timestamp"`
}

func FromVerifications(items []domainobituary.Verification) []Verification {
	out := make([]Verification, 0, len(items))
	for _, v := range items {
		out = append(out, Verification{
			ObituaryID:      v.ObituaryID,
			VerifierAddress: v.VerifierAddress,
			Action:          string(v.Action),
			Comment:         v.Comment,
			RiskLevel:       string(v.RiskLevel),
			Timestamp:       v.Timestamp.UnixMilli(),
		})
	}
	return out
}

type SearchResponse struct {
	Items      []Obituary `json:"items"`
	TotalCount int        `json:"totalCount"`
	HasMore    bool       `json:"hasMore"`
}

func FromPage(page domainobituary.Page) SearchResponse {
	return SearchResponse{
		Items:      FromObituaries(page.Items),
		TotalCount: page.TotalCount,
		HasMore:    page.HasMore,
	}
}

type AlternativesRequest struct {
	Addresses []string `json:"addresses"`
}

type AttachmentsRequest struct {
	Attachments []string `json:"attachments"`
}

type AppendResponse struct {
	Added    int      `json:"added"`
	Obituary Obituary `json:"obituary"`
}

type Stats struct {
	TotalObituaries    int64            `json:"totalObituaries"`
	TotalVerifications int64            `json:"totalVerifications"`
	ChainDistribution  map[string]int64 `json:"chainDistribution"`
	ReasonDistribution map[string]int64 `json:"reasonDistribution"`
	RiskDistribution   map[string]int64 `json:"riskDistribution"`
	StatusDistribution map[string]int64 `json:"statusDistribution"`
}

func FromSnapshot(s stats.Snapshot) Stats {
	out := Stats{
		TotalObituaries:    s.TotalObituaries,
		TotalVerifications: s.TotalVerifications,
		ChainDistribution:  make(map[string]int64, len(s.ChainDistribution)),
		ReasonDistribution: make(map[string]int64, len(s.ReasonDistribution)),
		RiskDistribution:   make(map[string]int64, len(s.RiskDistribution)),
		StatusDistribution: make(map[string]int64, len(s.StatusDistribution)),
	}
	for k, v := range s.ChainDistribution {
		out.ChainDistribution[strconv.FormatInt(k, 10)] = v
	}
	for k, v := range s.ReasonDistribution {
		out.ReasonDistribution[string(k)] = v
	}
	for k, v := range s.RiskDistribution {
		out.RiskDistribution[string(k)] = v
	}
	for k, v := range s.StatusDistribution {
		out.StatusDistribution[string(k)] = v
	}
	return out
}

type Divergence struct {
	Dimension string `json:"dimension"`
	Key       string `json:"key"`
	Cached    int64  `json:"cached"`
	Actual    int64  `json:"actual"`
}

type StatsCheck struct {
	Consistent  bool         `json:"consistent"`
	Divergences []Divergence `json:"divergences"`
}

func FromDivergences(items []stats.Divergence) StatsCheck {
	out := StatsCheck{Consistent: len(items) == 0, Divergences: make([]Divergence, 0, len(items))}
	for _, d := range items {
		out.Divergences = append(out.Divergences, Divergence(d))
	}
	return out
}

type AnalyzeRequest struct {
	ContractAddress string `json:"contractAddress"`
	ChainID         int64  `json:"chainId,omitempty"`
	SourceCode      string `json:"sourceCode,omitempty"`
	ABI             string `json:"abi,omitempty"`
}

type AnalyzeResponse struct {
	Analysis ports.ContractAnalysis `json:"analysis"`
	Cached   bool                   `json:"cached"`
}

type DescriptionRequest struct {
	ContractAddress string   `json:"contractAddress"`
	Reason          string   `json:"reason"`
	Evidence        []string `json:"evidence"`
}

type DescriptionResponse struct {
	Description string `json:"description"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SubscribeFilters is the nested form sent by older clients.
type SubscribeFilters struct {
	ChainID *int64  `json:"chainId,omitempty"`
	Reason  *string `json:"reason,omitempty"`
}

// SubscribeRequest accepts both {chainId, reason} and
// {type: "subscribe", filters: {chainId, reason}}.
type SubscribeRequest struct {
	Type    string            `json:"type,omitempty"`
	ChainID *int64            `json:"chainId,omitempty"`
	Reason  *string           `json:"reason,omitempty"`
	Filters *SubscribeFilters `json:"filters,omitempty"`
}

func (r SubscribeRequest) ToFilter() (domainobituary.FeedFilter, error) {
	if r.Type != "" && !strings.EqualFold(r.Type, "subscribe") {
		return domainobituary.FeedFilter{}, fmt.Errorf("%w: message type %q", domainobituary.ErrInvalidEnum, r.Type)
	}

	chainID, reason := r.ChainID, r.Reason
	if r.Filters != nil {
		if chainID == nil {
			chainID = r.Filters.ChainID
		}
		if reason == nil {
			reason = r.Filters.Reason
		}
	}

	var filter domainobituary.FeedFilter
	if chainID != nil {
		if *chainID <= 0 {
			return domainobituary.FeedFilter{}, fmt.Errorf("%w: got %d", domainobituary.ErrInvalidChainID, *chainID)
		}
		id := *chainID
		filter.ChainID = &id
	}
	if reason != nil {
		parsed, err := domainobituary.ParseReason(*reason)
		if err != nil {
			return domainobituary.FeedFilter{}, err
		}
		filter.Reason = &parsed
	}
	return filter, nil
}

type Health struct {
	Status      string `json:"status"`
	Obituaries  int    `json:"obituaries"`
	Subscribers int    `json:"subscribers"`
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

// SortedChainKeys lists chain distribution keys in numeric order.
func SortedChainKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.ParseInt(keys[i], 10, 64)
		b, errB := strconv.ParseInt(keys[j], 10, 64)
		if errA != nil || errB != nil {
			return keys[i] < keys[j]
		}
		return a < b
	})
	return keys
}
