// Package enrichment talks to the optional collaborators: an Etherscan-style
// source lookup and an AI analysis endpoint. Failures surface as Unavailable
// and never affect the record store.
package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"obituaries/internal/errs"
)

const maxBodyBytes = 8 << 20

type httpDoer struct {
	client   *http.Client
	maxTries uint
	retryMin time.Duration
}

func newHTTPDoer(timeout time.Duration, maxTries uint) httpDoer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxTries == 0 {
		maxTries = 3
	}
	return httpDoer{
		client:   &http.Client{Timeout: timeout},
		maxTries: maxTries,
		retryMin: 200 * time.Millisecond,
	}
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

// doJSON sends the request built by build and decodes a 2xx body into out.
// Transport errors and 5xx responses are retried; 4xx responses are not.
func (d httpDoer) doJSON(ctx context.Context, build func(ctx context.Context) (*http.Request, error), out any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.retryMin

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		req, err := build(ctx)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return struct{}{}, err
		}
		if resp.StatusCode >= 500 {
			return struct{}{}, &statusError{status: resp.StatusCode, body: truncate(string(body), 200)}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return struct{}{}, backoff.Permanent(&statusError{status: resp.StatusCode, body: truncate(string(body), 200)})
		}
		if err := json.Unmarshal(body, out); err != nil {
			return struct{}{}, backoff.Permanent(errs.Wrap(err, "decode response"))
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(d.maxTries))
	return err
}

func jsonRequest(ctx context.Context, method string, url string, token string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, errs.Wrap(err, "encode request")
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errs.Wrap(err, "build request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
