// Package cryptotools backs the reference MCP tool server with CoinGecko
// price data.
package cryptotools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"polyagent/internal/errs"
	"polyagent/internal/pkg/retry"

	"github.com/tidwall/gjson"
)

const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// Client is a thin wrapper over the public CoinGecko API.
type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
	policy retry.Policy
}

func NewClient(baseURL, apiKey string, timeout time.Duration, pol retry.Policy) (*Client, error) {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errs.Configf("coingecko url must be an http(s) URL: %q", raw)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if pol.MaxAttempts <= 0 {
		pol = retry.DefaultPolicy(3)
	}
	if err := pol.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		base:   u,
		apiKey: strings.TrimSpace(apiKey),
		http:   &http.Client{Timeout: timeout},
		policy: pol,
	}, nil
}

// CurrentPrice is the get_current_price payload.
type CurrentPrice struct {
	Coin           string  `json:"coin"`
	Price          float64 `json:"price"`
	PriceChange24h float64 `json:"price_change_24h"`
	Volume24h      float64 `json:"volume_24h"`
	MarketCap      float64 `json:"market_cap"`
	Currency       string  `json:"currency"`
}

// History is the get_historical_data payload.
type History struct {
	Coin              string  `json:"coin"`
	Days              int     `json:"days"`
	CurrentPrice      float64 `json:"current_price"`
	MinPrice          float64 `json:"min_price"`
	MaxPrice          float64 `json:"max_price"`
	AvgPrice          float64 `json:"avg_price"`
	PriceChangePeriod float64 `json:"price_change_period"`
	IsNearATH         bool    `json:"is_near_ath"`
	IsNearATL         bool    `json:"is_near_atl"`
	Currency          string  `json:"currency"`
}

// MarketData is the get_market_data payload. USD figures only.
type MarketData struct {
	Coin           string  `json:"coin"`
	Name           string  `json:"name"`
	Symbol         string  `json:"symbol"`
	CurrentPrice   float64 `json:"current_price"`
	MarketCap      float64 `json:"market_cap"`
	TotalVolume    float64 `json:"total_volume"`
	PriceChange24h float64 `json:"price_change_24h"`
	PriceChange7d  float64 `json:"price_change_7d"`
	PriceChange30d float64 `json:"price_change_30d"`
	ATH            float64 `json:"ath"`
	ATHDate        string  `json:"ath_date"`
	ATL            float64 `json:"atl"`
	ATLDate        string  `json:"atl_date"`
	MarketCapRank  int64   `json:"market_cap_rank"`
}

// ErrCoinNotFound is returned when CoinGecko has no entry for the coin.
type ErrCoinNotFound struct{ Coin string }

func (e *ErrCoinNotFound) Error() string { return fmt.Sprintf("coin %s not found", e.Coin) }

func (c *Client) CurrentPrice(ctx context.Context, coin, vs string) (CurrentPrice, error) {
	coin, vs = normalizeID(coin), currency(vs)
	q := url.Values{}
	q.Set("ids", coin)
	q.Set("vs_currencies", vs)
	q.Set("include_24hr_change", "true")
	q.Set("include_24hr_vol", "true")
	q.Set("include_market_cap", "true")
	body, err := c.get(ctx, "coingecko.simple_price", coin, "simple/price", q)
	if err != nil {
		return CurrentPrice{}, err
	}
	entry := gjson.GetBytes(body, gjson.Escape(coin))
	if !entry.Exists() || !entry.Get(vs).Exists() {
		return CurrentPrice{}, &ErrCoinNotFound{Coin: coin}
	}
	return CurrentPrice{
		Coin:           coin,
		Price:          entry.Get(vs).Float(),
		PriceChange24h: entry.Get(vs + "_24h_change").Float(),
		Volume24h:      entry.Get(vs + "_24h_vol").Float(),
		MarketCap:      entry.Get(vs + "_market_cap").Float(),
		Currency:       vs,
	}, nil
}

func (c *Client) History(ctx context.Context, coin string, days int, vs string) (History, error) {
	coin, vs = normalizeID(coin), currency(vs)
	if days <= 0 {
		days = 30
	}
	q := url.Values{}
	q.Set("vs_currency", vs)
	q.Set("days", strconv.Itoa(days))
	q.Set("interval", "daily")
	body, err := c.get(ctx, "coingecko.market_chart", coin, "coins/"+coin+"/market_chart", q)
	if err != nil {
		return History{}, err
	}
	var prices []float64
	for _, point := range gjson.GetBytes(body, "prices").Array() {
		if p := point.Array(); len(p) == 2 {
			prices = append(prices, p[1].Float())
		}
	}
	if len(prices) == 0 {
		return History{}, errs.Permanent(fmt.Errorf("no price data available for %s", coin))
	}
	return summarize(coin, days, vs, prices), nil
}

func summarize(coin string, days int, vs string, prices []float64) History {
	h := History{Coin: coin, Days: days, Currency: vs, MinPrice: prices[0], MaxPrice: prices[0]}
	var sum float64
	for _, p := range prices {
		sum += p
		if p < h.MinPrice {
			h.MinPrice = p
		}
		if p > h.MaxPrice {
			h.MaxPrice = p
		}
	}
	h.CurrentPrice = prices[len(prices)-1]
	h.AvgPrice = sum / float64(len(prices))
	if prices[0] != 0 {
		h.PriceChangePeriod = (h.CurrentPrice - prices[0]) / prices[0] * 100
	}
	h.IsNearATH = h.CurrentPrice > h.MaxPrice*0.95
	h.IsNearATL = h.CurrentPrice < h.MinPrice*1.05
	return h
}

func (c *Client) MarketData(ctx context.Context, coin string) (MarketData, error) {
	coin = normalizeID(coin)
	q := url.Values{}
	q.Set("localization", "false")
	q.Set("tickers", "false")
	body, err := c.get(ctx, "coingecko.coin", coin, "coins/"+coin, q)
	if err != nil {
		return MarketData{}, err
	}
	doc := gjson.ParseBytes(body)
	md := doc.Get("market_data")
	return MarketData{
		Coin:           coin,
		Name:           doc.Get("name").String(),
		Symbol:         doc.Get("symbol").String(),
		CurrentPrice:   md.Get("current_price.usd").Float(),
		MarketCap:      md.Get("market_cap.usd").Float(),
		TotalVolume:    md.Get("total_volume.usd").Float(),
		PriceChange24h: md.Get("price_change_percentage_24h").Float(),
		PriceChange7d:  md.Get("price_change_percentage_7d").Float(),
		PriceChange30d: md.Get("price_change_percentage_30d").Float(),
		ATH:            md.Get("ath.usd").Float(),
		ATHDate:        md.Get("ath_date.usd").String(),
		ATL:            md.Get("atl.usd").Float(),
		ATLDate:        md.Get("atl_date.usd").String(),
		MarketCapRank:  md.Get("market_cap_rank").Int(),
	}, nil
}

func (c *Client) get(ctx context.Context, op, coin, path string, q url.Values) ([]byte, error) {
	if c.apiKey != "" {
		q.Set("x_cg_demo_api_key", c.apiKey)
	}
	endpoint := c.base.JoinPath(path)
	endpoint.RawQuery = q.Encode()
	pol := c.policy
	pol.Name = op
	return retry.Do(ctx, pol, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
		if err != nil {
			return nil, errs.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, errs.Transient(op, err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, errs.Transient(op, err)
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, &ErrCoinNotFound{Coin: coin}
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, errs.Transient(op, fmt.Errorf("status %d", resp.StatusCode))
		case resp.StatusCode >= 300:
			return nil, errs.Permanent(fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body))))
		}
		if !gjson.ValidBytes(body) {
			return nil, errs.Permanent(fmt.Errorf("%s: invalid json", op))
		}
		return body, nil
	})
}

func normalizeID(coin string) string {
	return strings.ToLower(strings.TrimSpace(coin))
}

func currency(vs string) string {
	vs = strings.ToLower(strings.TrimSpace(vs))
	if vs == "" {
		return "usd"
	}
	return vs
}
