package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"obituaries/internal/errs"
	"obituaries/internal/ports"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	maxSourceChars     = 48_000
)

type OpenAIConfig struct {
	// BaseURL points at any OpenAI-compatible API. Empty uses api.openai.com.
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
	MaxTries uint
}

// OpenAIAnalyzer implements the analysis collaborator on top of a chat
// completion model that answers in JSON.
type OpenAIAnalyzer struct {
	client openai.Client
	model  string
}

var _ ports.ContractAnalyzer = (*OpenAIAnalyzer)(nil)

func NewOpenAIAnalyzer(cfg OpenAIConfig) *OpenAIAnalyzer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tries := cfg.MaxTries
	if tries == 0 {
		tries = 3
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(int(tries - 1)),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIAnalyzer{client: openai.NewClient(opts...), model: model}
}

const analysisInstructions = `You audit EVM smart contracts. Reply with one JSON object and nothing else, shaped as:
{"riskLevel":"low|medium|high|critical","summary":string,"confidence":number between 0 and 1,
"vulnerabilities":[{"type":string,"severity":string,"description":string,"location":string,"recommendation":string}],
"gasOptimization":[{"issue":string,"impact":string,"suggestion":string}],
"codeQuality":{"score":number,"issues":[string],"recommendations":[string]},
"similarContracts":[]}`

func (a *OpenAIAnalyzer) AnalyzeContract(ctx context.Context, req ports.AnalysisRequest) (ports.ContractAnalysis, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Contract address: %s\n", req.ContractAddress)
	if len(req.ABI) > 0 {
		fmt.Fprintf(&prompt, "ABI:\n%s\n", req.ABI)
	}
	if src := req.SourceCode; src != "" {
		if len(src) > maxSourceChars {
			src = src[:maxSourceChars]
		}
		fmt.Fprintf(&prompt, "Source:\n%s\n", src)
	}

	content, err := a.complete(ctx, analysisInstructions, prompt.String())
	if err != nil {
		return ports.ContractAnalysis{}, classify(err, "openai analyze contract")
	}

	var analysis ports.ContractAnalysis
	if err := json.Unmarshal([]byte(extractJSONObject(content)), &analysis); err != nil {
		return ports.ContractAnalysis{}, errs.As(errs.CodeUnavailable, err, "decode openai analysis")
	}
	analysis.ContractAddress = req.ContractAddress
	return analysis, nil
}

const descriptionInstructions = `You write short, factual obituaries for dead or dangerous smart contracts.
Use two or three sentences, name the failure mode and tell users what to do. Plain text only.`

func (a *OpenAIAnalyzer) GenerateDescription(ctx context.Context, req ports.DescriptionRequest) (string, error) {
	prompt := fmt.Sprintf("Contract: %s\nReason: %s\nEvidence:\n- %s\n",
		req.ContractAddress, req.Reason, strings.Join(req.Evidence, "\n- "))

	content, err := a.complete(ctx, descriptionInstructions, prompt)
	if err != nil {
		return "", classify(err, "openai generate description")
	}
	text := strings.TrimSpace(content)
	if text == "" {
		return "", errs.New(errs.CodeUnavailable, "openai returned an empty description")
	}
	return text, nil
}

func (a *OpenAIAnalyzer) complete(ctx context.Context, system string, user string) (string, error) {
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", errs.Wrap(ctxErr, "chat completion")
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errs.New(errs.CodeUnavailable, "chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// extractJSONObject strips code fences and prose around the first JSON object.
func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return content
	}
	return content[start : end+1]
}
