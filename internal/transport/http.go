package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// TokenSource supplies the bearer token for authenticated calls. The session
// manager satisfies it.
type TokenSource interface {
	Token() string
}

// HTTPClient implements Client over plain HTTP JSON.
type HTTPClient struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client

	// retry settings for idempotent GETs; zero retryAttempts disables retry.
	retryAttempts uint64
	retryBase     time.Duration
}

// NewHTTPClient returns a client for the API at baseURL (no trailing slash).
func NewHTTPClient(baseURL string, tokens TokenSource) *HTTPClient {
	return &HTTPClient{
		baseURL:       baseURL,
		tokens:        tokens,
		http:          &http.Client{Timeout: 30 * time.Second},
		retryAttempts: 3,
		retryBase:     250 * time.Millisecond,
	}
}

func (c *HTTPClient) Push(ctx context.Context, resources []ResourceSummary) (*PushResponse, error) {
	out := &PushResponse{}
	if err := c.do(ctx, http.MethodPost, "/sync/push", resources, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) Pull(ctx context.Context, req PullRequest) (*PullResponse, error) {
	out := &PullResponse{}
	if err := c.do(ctx, http.MethodPost, "/sync/pull", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetResourceGroup fetches group metadata. Group metadata never changes, so
// the call is idempotent and transient failures are retried with backoff.
func (c *HTTPClient) GetResourceGroup(ctx context.Context, groupID string) (*ResourceGroup, error) {
	out := &ResourceGroup{}

	op := func(ctx context.Context) error {
		err := c.do(ctx, http.MethodGet, "/api/resource_groups/"+groupID, nil, out)
		if err != nil && isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	}

	if c.retryAttempts == 0 {
		if err := op(ctx); err != nil {
			return nil, err
		}
		return out, nil
	}

	backoff := retry.WithMaxRetries(c.retryAttempts, retry.NewFibonacci(c.retryBase))
	if err := retry.Do(ctx, backoff, op); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CreateResourceGroup(ctx context.Context, name string, encSymmetricKey []byte) (*ResourceGroup, error) {
	body := map[string]any{"name": name, "encSymmetricKey": encSymmetricKey}
	out := &ResourceGroup{}
	if err := c.do(ctx, http.MethodPost, "/api/resource_groups", body, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) ResetAccountData(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/reset", nil, nil)
}

func (c *HTTPClient) CancelAccount(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/account", nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(b)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

// isRetryable treats transport-level failures and 5xx responses as
// transient. 4xx responses are the client's fault and never retried.
func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}
