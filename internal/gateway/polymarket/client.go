// Package polymarket reads market snapshots from the Polymarket Gamma API.
package polymarket

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"polyagent/internal/config"
	"polyagent/internal/decision"
	"polyagent/internal/errs"
	"polyagent/internal/logger"
	"polyagent/internal/pkg/retry"

	"github.com/tidwall/gjson"
)

const maxBodyBytes = 16 << 20

// Client wraps the Gamma REST API and only reads.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	fetchLimit int
	retry      retry.Policy
}

// NewClient builds a client from the polymarket config section. pol wraps
// every request; its Timeout is ignored in favour of the HTTP client timeout.
func NewClient(cfg config.PolymarketConfig, pol retry.Policy) (*Client, error) {
	raw := strings.TrimSpace(cfg.GammaURL)
	if raw == "" {
		return nil, errs.Configf("polymarket.gamma_url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return nil, errs.Configf("polymarket.gamma_url %q is not a valid URL", raw)
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	pol.Timeout = 0
	if err := pol.Validate(); err != nil {
		return nil, err
	}
	limit := cfg.FetchLimit
	if limit <= 0 {
		limit = 200
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		fetchLimit: limit,
		retry:      pol,
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Markets lists active, open markets. limit <= 0 uses the configured fetch limit.
func (c *Client) Markets(ctx context.Context, limit int) ([]decision.MarketSnapshot, error) {
	if limit <= 0 {
		limit = c.fetchLimit
	}
	q := url.Values{}
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("archived", "false")
	q.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "polymarket.markets", "/markets", q)
	if err != nil {
		return nil, err
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return nil, errs.Permanent(fmt.Errorf("gamma /markets: expected array, got %s", parsed.Type))
	}
	out := make([]decision.MarketSnapshot, 0, len(parsed.Array()))
	skipped := 0
	parsed.ForEach(func(_, node gjson.Result) bool {
		m, ok := snapshotFrom(node)
		if !ok {
			skipped++
			return true
		}
		out = append(out, m)
		return true
	})
	if skipped > 0 {
		logger.Debugf("[polymarket] skipped %d markets without id/question/outcomes", skipped)
	}
	return out, nil
}

// Market reads one market by id.
func (c *Client) Market(ctx context.Context, id string) (decision.MarketSnapshot, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return decision.MarketSnapshot{}, errs.Permanent(fmt.Errorf("market id is required"))
	}
	body, err := c.get(ctx, "polymarket.market", "/markets/"+id, nil)
	if err != nil {
		return decision.MarketSnapshot{}, err
	}
	m, ok := snapshotFrom(gjson.ParseBytes(body))
	if !ok {
		return decision.MarketSnapshot{}, errs.Permanent(fmt.Errorf("gamma market %s: incomplete payload", id))
	}
	return m, nil
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values) ([]byte, error) {
	endpoint := c.baseURL.JoinPath(path)
	if q != nil {
		endpoint.RawQuery = q.Encode()
	}
	pol := c.retry
	pol.Name = op
	return retry.Do(ctx, pol, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
		if err != nil {
			return nil, errs.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, errs.Transient(op, err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, errs.Transient(op, err)
		}
		if resp.StatusCode >= 300 {
			err := fmt.Errorf("gamma %s returned %s: %s", path, resp.Status, strings.TrimSpace(string(truncate(data, 512))))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return nil, &errs.TransientRemoteError{Op: op, StatusCode: resp.StatusCode, Err: err}
			}
			return nil, errs.Permanent(err)
		}
		if !gjson.ValidBytes(data) {
			return nil, errs.Permanent(fmt.Errorf("gamma %s: invalid JSON", path))
		}
		return data, nil
	})
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
