package enrichment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obituaries/internal/errs"
	"obituaries/internal/ports"
)

const vault = "0x1111111111111111111111111111111111111111"

func TestEtherscanGetSourceCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "getsourcecode", r.URL.Query().Get("action"))
		assert.Equal(t, vault, r.URL.Query().Get("address"))
		assert.Equal(t, "137", r.URL.Query().Get("chainid"))
		assert.Equal(t, "key", r.URL.Query().Get("apikey"))
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[{"SourceCode":"contract Vault {}","ABI":"[]","ContractName":"Vault","CompilerVersion":"v0.8.19"}]}`))
	}))
	defer srv.Close()

	client := NewEtherscanClient(EtherscanConfig{BaseURL: srv.URL, APIKey: "key"})
	src, err := client.GetSourceCode(context.Background(), vault, 137)
	require.NoError(t, err)
	assert.Equal(t, "Vault", src.ContractName)
	assert.Equal(t, "contract Vault {}", src.SourceCode)
	assert.Equal(t, "[]", src.ABI)
}

func TestEtherscanUnverifiedIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[{"SourceCode":"","ABI":"Contract source code not verified"}]}`))
	}))
	defer srv.Close()

	_, err := NewEtherscanClient(EtherscanConfig{BaseURL: srv.URL, APIKey: "key"}).GetSourceCode(context.Background(), vault, 1)
	require.Error(t, err)
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
}

func TestEtherscanWithoutKeyIsUnavailable(t *testing.T) {
	_, err := NewEtherscanClient(EtherscanConfig{}).GetSourceCode(context.Background(), vault, 1)
	assert.Equal(t, errs.CodeUnavailable, errs.CodeOf(err))
}

func TestAIAnalyzeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze/contract", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, vault, body["contractAddress"])
		assert.Equal(t, "comprehensive", body["analysisType"])
		_, _ = w.Write([]byte(`{"analysis":{"riskLevel":"high","summary":"reentrancy","confidence":0.9,"vulnerabilities":[{"type":"reentrancy","severity":"high","description":"d","recommendation":"r"}]}}`))
	}))
	defer srv.Close()

	client := NewAIClient(AIConfig{Endpoint: srv.URL + "/", APIKey: "secret", Timeout: time.Second})
	client.http.retryMin = time.Millisecond

	analysis, err := client.AnalyzeContract(context.Background(), ports.AnalysisRequest{ContractAddress: vault})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "high", analysis.RiskLevel)
	assert.Equal(t, vault, analysis.ContractAddress)
	require.Len(t, analysis.Vulnerabilities, 1)
}

func TestAIClientErrorsAreUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewAIClient(AIConfig{Endpoint: srv.URL, APIKey: "bad"})
	_, err := client.GenerateDescription(context.Background(), ports.DescriptionRequest{ContractAddress: vault, Reason: "exploited"})
	require.Error(t, err)
	assert.Equal(t, errs.CodeUnavailable, errs.CodeOf(err))
	assert.Equal(t, int32(1), calls.Load())

	_, err = NewAIClient(AIConfig{}).AnalyzeContract(context.Background(), ports.AnalysisRequest{ContractAddress: vault})
	assert.Equal(t, errs.CodeUnavailable, errs.CodeOf(err))
}

func TestAIGenerateDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate/obituary", r.URL.Path)
		_, _ = w.Write([]byte(`{"description":"Vault was drained through a reentrancy bug."}`))
	}))
	defer srv.Close()

	text, err := NewAIClient(AIConfig{Endpoint: srv.URL, APIKey: "k"}).GenerateDescription(context.Background(), ports.DescriptionRequest{
		ContractAddress: vault,
		Reason:          "exploited",
		Evidence:        []string{"tx"},
	})
	require.NoError(t, err)
	assert.Contains(t, text, "reentrancy")
}

func chatCompletion(content string) []byte {
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
	return body
}

func TestOpenAIAnalyzerParsesFencedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "audit-model", req.Model)
		assert.Len(t, req.Messages, 2)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(chatCompletion("```json\n{\"riskLevel\":\"critical\",\"summary\":\"unchecked call\",\"confidence\":0.9}\n```"))
	}))
	defer srv.Close()

	analyzer := NewOpenAIAnalyzer(OpenAIConfig{BaseURL: srv.URL + "/v1/", APIKey: "secret", Model: "audit-model", MaxTries: 1})
	analysis, err := analyzer.AnalyzeContract(context.Background(), ports.AnalysisRequest{ContractAddress: vault, SourceCode: "contract Vault {}"})
	require.NoError(t, err)
	assert.Equal(t, vault, analysis.ContractAddress)
	assert.Equal(t, "critical", analysis.RiskLevel)
	assert.Equal(t, "unchecked call", analysis.Summary)
}

func TestOpenAIAnalyzerFailuresAreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(chatCompletion("I cannot help with that."))
	}))
	defer srv.Close()

	analyzer := NewOpenAIAnalyzer(OpenAIConfig{BaseURL: srv.URL + "/v1/", APIKey: "secret", MaxTries: 1})
	_, err := analyzer.AnalyzeContract(context.Background(), ports.AnalysisRequest{ContractAddress: vault})
	require.Error(t, err)
	assert.Equal(t, errs.CodeUnavailable, errs.CodeOf(err))

	text, err := analyzer.GenerateDescription(context.Background(), ports.DescriptionRequest{ContractAddress: vault, Reason: "exploited"})
	require.NoError(t, err)
	assert.Equal(t, "I cannot help with that.", text)
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"a":{"b":1}}`, extractJSONObject("prefix {\"a\":{\"b\":1}} suffix"))
	assert.Equal(t, "no json", extractJSONObject("no json"))
}
