package obituary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"obituaries/internal/bootstrap/logging"
	domainobituary "obituaries/internal/domain/obituary"
	"obituaries/internal/errs"
	"obituaries/internal/ports"
)

type AnalyzeInput struct {
	ContractAddress string
	ChainID         int64
	SourceCode      string
	ABI             string
}

type AnalyzeResult struct {
	Analysis ports.ContractAnalysis
	Cached   bool
}

func analysisCacheKey(address string, chainID int64) string {
	return fmt.Sprintf("analysis:%d:%s", chainID, address)
}

// AnalyzeContract asks the AI collaborator for a risk analysis. Results are
// cached per contract; missing source code is fetched from the source lookup
// when one is configured.
func (s *Service) AnalyzeContract(ctx context.Context, input AnalyzeInput) (AnalyzeResult, error) {
	if err := checkContext(ctx); err != nil {
		return AnalyzeResult{}, err
	}
	address, err := domainobituary.NormalizeAddress(input.ContractAddress)
	if err != nil {
		return AnalyzeResult{}, err
	}
	if input.ChainID < 0 {
		return AnalyzeResult{}, fmt.Errorf("%w: got %d", domainobituary.ErrInvalidChainID, input.ChainID)
	}
	chainID := input.ChainID
	if chainID == 0 {
		chainID = 1
	}
	if s.analyzer == nil {
		return AnalyzeResult{}, errs.New(errs.CodeUnavailable, "contract analysis is not configured")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("contract", address), slog.Int64("chain_id", chainID))
	cacheKey := analysisCacheKey(address, chainID)
	if cached, ok := s.cachedAnalysis(logCtx, cacheKey); ok {
		return AnalyzeResult{Analysis: cached, Cached: true}, nil
	}

	req := ports.AnalysisRequest{
		ContractAddress: address,
		SourceCode:      input.SourceCode,
	}
	if abi := strings.TrimSpace(input.ABI); abi != "" {
		if !json.Valid([]byte(abi)) {
			return AnalyzeResult{}, errs.E(errs.CodeValidation, "abi is not valid JSON")
		}
		req.ABI = json.RawMessage(abi)
	}
	if req.SourceCode == "" && s.sources != nil {
		src, err := s.sources.GetSourceCode(ctx, address, chainID)
		if err != nil {
			logging.Warn(logCtx, "source lookup failed, analyzing without source", slog.Any("err", errs.Loggable(err)))
		} else {
			req.SourceCode = src.SourceCode
			if req.ABI == nil && src.ABI != "" && json.Valid([]byte(src.ABI)) {
				req.ABI = json.RawMessage(src.ABI)
			}
		}
	}

	analysis, err := s.analyzer.AnalyzeContract(ctx, req)
	if err != nil {
		return AnalyzeResult{}, classify(err, "analyze contract")
	}
	if analysis.AnalyzedAt == "" {
		analysis.AnalyzedAt = s.now().UTC().Format("2006-01-02T15:04:05Z07:00")
	}

	s.cacheAnalysis(logCtx, cacheKey, analysis)
	return AnalyzeResult{Analysis: analysis}, nil
}

// DraftDescription asks the AI collaborator for an obituary description.
func (s *Service) DraftDescription(ctx context.Context, req ports.DescriptionRequest) (string, error) {
	if err := checkContext(ctx); err != nil {
		return "", err
	}
	address, err := domainobituary.NormalizeAddress(req.ContractAddress)
	if err != nil {
		return "", err
	}
	reason, err := domainobituary.ParseReason(req.Reason)
	if err != nil {
		return "", err
	}
	if s.analyzer == nil {
		return "", errs.New(errs.CodeUnavailable, "contract analysis is not configured")
	}

	text, err := s.analyzer.GenerateDescription(ctx, ports.DescriptionRequest{
		ContractAddress: address,
		Reason:          string(reason),
		Evidence:        req.Evidence,
	})
	if err != nil {
		return "", classify(err, "generate description")
	}
	return text, nil
}

func (s *Service) cachedAnalysis(ctx context.Context, key string) (ports.ContractAnalysis, bool) {
	if s.cache == nil {
		return ports.ContractAnalysis{}, false
	}
	raw, found, err := s.cache.Get(ctx, key)
	if err != nil {
		logging.Warn(ctx, "analysis cache read failed", slog.Any("err", errs.Loggable(err)))
		return ports.ContractAnalysis{}, false
	}
	if !found {
		return ports.ContractAnalysis{}, false
	}
	var analysis ports.ContractAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		logging.Warn(ctx, "analysis cache entry is corrupt", slog.Any("err", errs.Loggable(err)))
		return ports.ContractAnalysis{}, false
	}
	return analysis, true
}

func (s *Service) cacheAnalysis(ctx context.Context, key string, analysis ports.ContractAnalysis) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(analysis)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, string(raw), s.analysisTTL); err != nil {
		logging.Warn(ctx, "analysis cache write failed", slog.Any("err", errs.Loggable(err)))
	}
}
