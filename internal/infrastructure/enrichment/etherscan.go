package enrichment

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"obituaries/internal/errs"
	"obituaries/internal/ports"
)

const unverifiedABI = "Contract source code not verified"

type EtherscanConfig struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	MaxTries uint
}

// EtherscanClient calls the getsourcecode action of an Etherscan-compatible API.
type EtherscanClient struct {
	baseURL string
	apiKey  string
	http    httpDoer
}

var _ ports.ContractSourceLookup = (*EtherscanClient)(nil)

func NewEtherscanClient(cfg EtherscanConfig) *EtherscanClient {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = "https://api.etherscan.io/v2/api"
	}
	return &EtherscanClient{
		baseURL: base,
		apiKey:  cfg.APIKey,
		http:    newHTTPDoer(cfg.Timeout, cfg.MaxTries),
	}
}

type etherscanResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Result  []etherscanSource `json:"result"`
}

type etherscanSource struct {
	SourceCode      string `json:"SourceCode"`
	ABI             string `json:"ABI"`
	ContractName    string `json:"ContractName"`
	CompilerVersion string `json:"CompilerVersion"`
}

func (c *EtherscanClient) GetSourceCode(ctx context.Context, address string, chainID int64) (ports.ContractSource, error) {
	if c.apiKey == "" {
		return ports.ContractSource{}, errs.New(errs.CodeUnavailable, "source lookup is not configured")
	}

	query := url.Values{}
	query.Set("module", "contract")
	query.Set("action", "getsourcecode")
	query.Set("address", address)
	query.Set("apikey", c.apiKey)
	if chainID > 0 {
		query.Set("chainid", strconv.FormatInt(chainID, 10))
	}
	target := c.baseURL + "?" + query.Encode()

	var resp etherscanResponse
	if err := c.http.doJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		return jsonRequest(ctx, http.MethodGet, target, "", nil)
	}, &resp); err != nil {
		return ports.ContractSource{}, classify(err, "etherscan getsourcecode")
	}

	if resp.Status != "1" || len(resp.Result) == 0 || resp.Result[0].SourceCode == "" {
		return ports.ContractSource{}, errs.E(errs.CodeNotFound, "no verified source for %s on chain %d", address, chainID)
	}

	src := resp.Result[0]
	abi := src.ABI
	if abi == unverifiedABI {
		abi = ""
	}
	return ports.ContractSource{
		Address:      address,
		ChainID:      chainID,
		ContractName: src.ContractName,
		SourceCode:   src.SourceCode,
		ABI:          abi,
		Compiler:     src.CompilerVersion,
	}, nil
}

// classify keeps caller context errors as timeouts and marks everything else Unavailable.
func classify(err error, msg string) error {
	if errs.CodeOf(err) == errs.CodeTimeout {
		return errs.Wrap(err, msg)
	}
	return errs.As(errs.CodeUnavailable, err, msg)
}
