package ports

import (
	"context"
	"encoding/json"
)

// ContractSource is what an Etherscan-style getsourcecode lookup returns.
type ContractSource struct {
	Address      string `json:"address"`
	ChainID      int64  `json:"chainId"`
	ContractName string `json:"contractName"`
	SourceCode   string `json:"sourceCode"`
	ABI          string `json:"abi"`
	Compiler     string `json:"compilerVersion"`
}

type ContractSourceLookup interface {
	GetSourceCode(ctx context.Context, address string, chainID int64) (ContractSource, error)
}

type AnalysisRequest struct {
	ContractAddress string          `json:"contractAddress"`
	SourceCode      string          `json:"sourceCode,omitempty"`
	ABI             json.RawMessage `json:"abi,omitempty"`
}

type Vulnerability struct {
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	Location       string `json:"location,omitempty"`
	Recommendation string `json:"recommendation"`
}

type GasFinding struct {
	Issue            string `json:"issue"`
	Impact           string `json:"impact"`
	Suggestion       string `json:"suggestion"`
	EstimatedSavings string `json:"estimatedSavings,omitempty"`
}

type CodeQuality struct {
	Score           float64  `json:"score"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

type SimilarContract struct {
	Address    string  `json:"address"`
	Similarity float64 `json:"similarity"`
	RiskLevel  string  `json:"riskLevel"`
}

// ContractAnalysis is the AI collaborator's findings for one contract.
type ContractAnalysis struct {
	ContractAddress  string            `json:"contractAddress"`
	RiskLevel        string            `json:"riskLevel"`
	Vulnerabilities  []Vulnerability   `json:"vulnerabilities"`
	GasOptimization  []GasFinding      `json:"gasOptimization"`
	CodeQuality      CodeQuality       `json:"codeQuality"`
	SimilarContracts []SimilarContract `json:"similarContracts"`
	Summary          string            `json:"summary"`
	Confidence       float64           `json:"confidence"`
	AnalyzedAt       string            `json:"analyzedAt"`
}

type DescriptionRequest struct {
	ContractAddress string   `json:"contractAddress"`
	Reason          string   `json:"reason"`
	Evidence        []string `json:"evidence"`
}

type ContractAnalyzer interface {
	AnalyzeContract(ctx context.Context, req AnalysisRequest) (ContractAnalysis, error)
	GenerateDescription(ctx context.Context, req DescriptionRequest) (string, error)
}
