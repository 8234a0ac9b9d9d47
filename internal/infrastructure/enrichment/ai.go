package enrichment

import (
	"context"
	"net/http"
	"strings"
	"time"

	"obituaries/internal/errs"
	"obituaries/internal/ports"
)

type AIConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	MaxTries uint
}

// AIClient calls the contract analysis service with a bearer token.
type AIClient struct {
	endpoint string
	apiKey   string
	http     httpDoer
}

var _ ports.ContractAnalyzer = (*AIClient)(nil)

func NewAIClient(cfg AIConfig) *AIClient {
	return &AIClient{
		endpoint: strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		apiKey:   cfg.APIKey,
		http:     newHTTPDoer(cfg.Timeout, cfg.MaxTries),
	}
}

func (c *AIClient) Configured() bool {
	return c.endpoint != "" && c.apiKey != ""
}

type analyzeRequest struct {
	ports.AnalysisRequest
	AnalysisType            string `json:"analysisType"`
	IncludeVulnerabilities  bool   `json:"includeVulnerabilities"`
	IncludeGasOptimization  bool   `json:"includeGasOptimization"`
	IncludeSimilarContracts bool   `json:"includeSimilarContracts"`
}

type analyzeResponse struct {
	Analysis ports.ContractAnalysis `json:"analysis"`
}

func (c *AIClient) AnalyzeContract(ctx context.Context, req ports.AnalysisRequest) (ports.ContractAnalysis, error) {
	if !c.Configured() {
		return ports.ContractAnalysis{}, errs.New(errs.CodeUnavailable, "ai analysis is not configured")
	}

	payload := analyzeRequest{
		AnalysisRequest:         req,
		AnalysisType:            "comprehensive",
		IncludeVulnerabilities:  true,
		IncludeGasOptimization:  true,
		IncludeSimilarContracts: true,
	}
	var resp analyzeResponse
	if err := c.http.doJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		return jsonRequest(ctx, http.MethodPost, c.endpoint+"/analyze/contract", c.apiKey, payload)
	}, &resp); err != nil {
		return ports.ContractAnalysis{}, classify(err, "ai analyze contract")
	}

	if resp.Analysis.ContractAddress == "" {
		resp.Analysis.ContractAddress = req.ContractAddress
	}
	return resp.Analysis, nil
}

type describeRequest struct {
	ports.DescriptionRequest
	Style                  string `json:"style"`
	IncludeRecommendations bool   `json:"includeRecommendations"`
}

type describeResponse struct {
	Description string `json:"description"`
}

func (c *AIClient) GenerateDescription(ctx context.Context, req ports.DescriptionRequest) (string, error) {
	if !c.Configured() {
		return "", errs.New(errs.CodeUnavailable, "ai analysis is not configured")
	}

	payload := describeRequest{
		DescriptionRequest:     req,
		Style:                  "professional",
		IncludeRecommendations: true,
	}
	var resp describeResponse
	if err := c.http.doJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		return jsonRequest(ctx, http.MethodPost, c.endpoint+"/generate/obituary", c.apiKey, payload)
	}, &resp); err != nil {
		return "", classify(err, "ai generate description")
	}
	if strings.TrimSpace(resp.Description) == "" {
		return "", errs.New(errs.CodeUnavailable, "ai returned an empty description")
	}
	return resp.Description, nil
}

// Health checks the collaborator's /health endpoint.
func (c *AIClient) Health(ctx context.Context) error {
	if !c.Configured() {
		return errs.New(errs.CodeUnavailable, "ai analysis is not configured")
	}
	var ignored map[string]any
	if err := c.http.doJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		return jsonRequest(ctx, http.MethodGet, c.endpoint+"/health", c.apiKey, nil)
	}, &ignored); err != nil {
		return classify(err, "ai health")
	}
	return nil
}
