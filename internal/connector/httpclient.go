package connector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pysugar/linkvault/internal/util"
)

// DefaultHTTPTimeout bounds every provider call so a stuck endpoint
// fails the operation instead of hanging a worker.
const DefaultHTTPTimeout = 30 * time.Second

// HTTPClient handles communication with provider token and API
// endpoints: form-encoded POST and bearer-authenticated GET, each with a
// per-call deadline.
type HTTPClient struct {
	httpClient *http.Client
	provider   string
}

// NewHTTPClient creates a provider HTTP client. A non-positive timeout
// falls back to DefaultHTTPTimeout.
func NewHTTPClient(provider string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		provider:   provider,
	}
}

// GetJSON performs a bearer-authenticated GET and decodes the JSON body
// into dst. Non-2xx responses become *TransportError.
func (c *HTTPClient) GetJSON(ctx context.Context, endpoint, accessToken string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return c.do(req, endpoint, dst)
}

// PostForm performs a form-encoded POST (the OAuth token endpoint shape)
// and decodes the JSON body into dst.
func (c *HTTPClient) PostForm(ctx context.Context, endpoint string, form url.Values, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, endpoint, dst)
}

func (c *HTTPClient) do(req *http.Request, endpoint string, dst any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Provider: c.provider, Endpoint: endpoint, Body: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Provider: c.provider, Endpoint: endpoint, Body: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{
			Provider: c.provider,
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Body:     util.TruncateBytes(body),
		}
	}

	if dst == nil {
		return nil
	}
	return json.Unmarshal(body, dst)
}
