// Package steam is the Steam Community Market client that supplies raw sale
// history and order-book dumps.
package steam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/alanyoungcy/steamtradebot/internal/domain"
)

// DefaultBaseURL is the Steam Community root.
const DefaultBaseURL = "https://steamcommunity.com"

// rateKey is the RateLimiter key shared by every Steam request.
const rateKey = "steam:community"

var nameIDPattern = regexp.MustCompile(`Market_LoadOrderSpread\(\s*(\d+)\s*\)`)

// Config holds Steam client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Cookie is sent verbatim; pricehistory requires a steamLoginSecure
	// session.
	Cookie    string
	UserAgent string
	Country   string
	Language  string
}

// Client implements domain.MarketplaceClient against steamcommunity.com.
type Client struct {
	http    *resty.Client
	cfg     Config
	limiter domain.RateLimiter

	mu      sync.RWMutex
	nameIDs map[string]int64
}

// New creates a Steam client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Country == "" {
		cfg.Country = "US"
	}
	if cfg.Language == "" {
		cfg.Language = "english"
	}

	hc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json, text/html")
	if cfg.UserAgent != "" {
		hc.SetHeader("User-Agent", cfg.UserAgent)
	}
	if cfg.Cookie != "" {
		hc.SetHeader("Cookie", cfg.Cookie)
	}

	return &Client{
		http:    hc,
		cfg:     cfg,
		nameIDs: make(map[string]int64),
	}
}

// WithRateLimiter throttles every request through l.
func (c *Client) WithRateLimiter(l domain.RateLimiter) *Client {
	c.limiter = l
	return c
}

// FetchSellHistory returns the raw pricehistory payload for id.
func (c *Client) FetchSellHistory(ctx context.Context, id domain.ItemIdentity) (string, error) {
	const op = "sell history"
	body, err := c.get(ctx, op, "/market/pricehistory/", map[string]string{
		"appid":            strconv.FormatInt(id.AppID, 10),
		"market_hash_name": id.MarketHashName,
		"currency":         strconv.Itoa(int(id.Currency)),
	})
	if err != nil {
		return "", err
	}
	if err := checkSuccess(op, body); err != nil {
		return "", err
	}
	return body, nil
}

// FetchOrderBook returns the raw itemordershistogram payload for id.
func (c *Client) FetchOrderBook(ctx context.Context, id domain.ItemIdentity) (string, error) {
	const op = "order book"
	nameID, err := c.ItemNameID(ctx, id.AppID, id.MarketHashName)
	if err != nil {
		return "", err
	}

	body, err := c.get(ctx, op, "/market/itemordershistogram", map[string]string{
		"country":     c.cfg.Country,
		"language":    c.cfg.Language,
		"currency":    strconv.Itoa(int(id.Currency)),
		"item_nameid": strconv.FormatInt(nameID, 10),
		"two_factor":  "0",
	})
	if err != nil {
		return "", err
	}
	if err := checkSuccess(op, body); err != nil {
		return "", err
	}
	return body, nil
}

// ItemNameID resolves the numeric id the order-book endpoint needs from the
// item's listing page. Results are cached for the life of the client.
func (c *Client) ItemNameID(ctx context.Context, appID int64, marketHashName string) (int64, error) {
	key := strconv.FormatInt(appID, 10) + "/" + marketHashName

	c.mu.RLock()
	id, ok := c.nameIDs[key]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	const op = "item name id"
	path := fmt.Sprintf("/market/listings/%d/%s", appID, url.PathEscape(marketHashName))
	page, err := c.get(ctx, op, path, nil)
	if err != nil {
		return 0, err
	}

	m := nameIDPattern.FindStringSubmatch(page)
	if m == nil {
		return 0, &domain.FetchError{
			Kind: domain.FetchPermanent,
			Op:   op,
			Err:  fmt.Errorf("%w: no item_nameid on listing page for %s", domain.ErrNotFound, marketHashName),
		}
	}
	id, err = strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, &domain.FetchError{Kind: domain.FetchPermanent, Op: op, Err: err}
	}

	c.mu.Lock()
	c.nameIDs[key] = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) get(ctx context.Context, op, path string, params map[string]string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateKey); err != nil {
			return "", &domain.FetchError{Kind: domain.FetchTransient, Op: op, Err: err}
		}
	}

	req := c.http.R().SetContext(ctx)
	if len(params) > 0 {
		req.SetQueryParams(params)
	}
	resp, err := req.Get(path)
	if err != nil {
		return "", &domain.FetchError{Kind: domain.FetchTransient, Op: op, Err: err}
	}

	if err := classifyStatus(op, resp.StatusCode(), resp.Status()); err != nil {
		return "", err
	}
	return resp.String(), nil
}

// classifyStatus maps an HTTP status to a FetchError. 429 and 5xx are worth
// retrying; other client errors are not.
func classifyStatus(op string, code int, status string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return &domain.FetchError{Kind: domain.FetchTransient, Op: op, Err: fmt.Errorf("%w: %s", domain.ErrRateLimited, status)}
	case code >= 500:
		return &domain.FetchError{Kind: domain.FetchTransient, Op: op, Err: fmt.Errorf("server error: %s", status)}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &domain.FetchError{Kind: domain.FetchPermanent, Op: op, Err: fmt.Errorf("%w: %s", domain.ErrUnauthorized, status)}
	case code == http.StatusNotFound:
		return &domain.FetchError{Kind: domain.FetchPermanent, Op: op, Err: fmt.Errorf("%w: %s", domain.ErrNotFound, status)}
	default:
		return &domain.FetchError{Kind: domain.FetchPermanent, Op: op, Err: fmt.Errorf("unexpected status: %s", status)}
	}
}

// checkSuccess rejects JSON envelopes whose success flag is false or 0.
// Bodies that are not JSON objects are left for the parser to judge.
func checkSuccess(op, body string) error {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}

	var env struct {
		Success json.RawMessage `json:"success"`
	}
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil || len(env.Success) == 0 {
		return nil
	}
	switch string(env.Success) {
	case "true", "1":
		return nil
	}
	return &domain.FetchError{
		Kind: domain.FetchPermanent,
		Op:   op,
		Err:  errors.New("marketplace reported success=" + string(env.Success)),
	}
}

// Compile-time interface check.
var _ domain.MarketplaceClient = (*Client)(nil)
