package mcpserver

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/solace-fi/coverage/internal/auth"
	"github.com/solace-fi/coverage/internal/retry"
)

// ErrNoSigningKey is returned by calls that act for an account when the
// client has no key.
var ErrNoSigningKey = errors.New("no signing key configured")

const maxResponseBytes = 4 << 20

// Config points the tools at a coverage API.
type Config struct {
	APIURL string            // e.g. "http://localhost:8080"
	Key    *ecdsa.PrivateKey // signs calls made for the key's account; nil means read-only
}

// Client calls the coverage REST API. Reads are retried on transport
// failures and 5xx responses; signed writes are sent once, since the server
// rejects a replayed signature.
type Client struct {
	cfg   Config
	http  *http.Client
	retry retry.Policy
	now   func() time.Time
}

// NewClient returns a client for cfg.APIURL.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: 30 * time.Second},
		retry: retry.Policy{Attempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second},
		now:   time.Now,
	}
}

// apiError is the server's error body.
type apiError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

// statusError is a non-2xx response.
type statusError struct {
	status int
	detail string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.status, e.detail)
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	var out json.RawMessage
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		body, err := c.send(ctx, http.MethodGet, path, query, false)
		var se *statusError
		if errors.As(err, &se) && se.status < http.StatusInternalServerError {
			return retry.Permanent(err)
		}
		out = body
		return err
	})
	return out, err
}

func (c *Client) postSigned(ctx context.Context, path string) (json.RawMessage, error) {
	return c.send(ctx, http.MethodPost, path, nil, true)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, signed bool) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if signed {
		if c.cfg.Key == nil {
			return nil, ErrNoSigningKey
		}
		headers, err := auth.SignRequest(c.cfg.Key, method, u.Path, c.now())
		if err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		detail := string(body)
		var ae apiError
		if json.Unmarshal(body, &ae) == nil && ae.Message != "" {
			detail = ae.Message
		}
		return nil, &statusError{status: resp.StatusCode, detail: detail}
	}
	return body, nil
}

// ListProducts returns every product with its capacity.
func (c *Client) ListProducts(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/v1/products", nil)
}

// GetQuote prices coverWei of cover on a product for a number of blocks.
func (c *Client) GetQuote(ctx context.Context, product, coverWei string, blocks uint64) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("coverAmount", coverWei)
	q.Set("blocks", strconv.FormatUint(blocks, 10))
	return c.get(ctx, "/v1/products/"+url.PathEscape(product)+"/quote", q)
}

// GetPolicy returns one policy.
func (c *Client) GetPolicy(ctx context.Context, id uint64) (json.RawMessage, error) {
	return c.get(ctx, "/v1/policies/"+strconv.FormatUint(id, 10), nil)
}

// ListPolicies returns up to limit policies held by address.
func (c *Client) ListPolicies(ctx context.Context, address string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.get(ctx, "/v1/accounts/"+address+"/policies", q)
}

// GetClaim returns one pending claim.
func (c *Client) GetClaim(ctx context.Context, id uint64) (json.RawMessage, error) {
	return c.get(ctx, "/v1/claims/"+strconv.FormatUint(id, 10), nil)
}

// RiskSummary returns capital, requirement and exposure.
func (c *Client) RiskSummary(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/v1/risk", nil)
}

// RecentEvents returns up to limit events, optionally filtered by name.
func (c *Client) RecentEvents(ctx context.Context, name string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if name != "" {
		q.Set("name", name)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.get(ctx, "/v1/events", q)
}

// WithdrawClaim pays out a claim whose cooldown has elapsed to the signing
// account.
func (c *Client) WithdrawClaim(ctx context.Context, id uint64) (json.RawMessage, error) {
	return c.postSigned(ctx, "/v1/claims/"+strconv.FormatUint(id, 10)+"/withdraw")
}
