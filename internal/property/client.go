package property

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/aire/internal/config"
	"github.com/digkill/aire/internal/metrics"
)

const (
	SourceEstated = "estated"
	SourceAttom   = "attom"
	SourceCache   = "cache"
	SourceDemo    = "demo"
)

var ErrEmptyAddress = errors.New("address is required")

// Suggestion carries prefill values; nil means the provider had nothing.
type Suggestion struct {
	Price           *float64 `json:"price"`
	DaysOnMarket    *int     `json:"days_on_market"`
	ReplacementCost *float64 `json:"replacement_cost"`
	Sources         []string `json:"sources"`
}

type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
}

type Client struct {
	estatedToken   string
	estatedBaseURL string
	attomKey       string
	attomBaseURL   string
	httpClient     *http.Client
	log            *slog.Logger
	cache          Cache
	cacheTTL       time.Duration
}

// NewClient builds the fetcher. cache may be nil, in which case every call
// goes to the providers.
func NewClient(cfg config.Config, log *slog.Logger, cache Cache) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		estatedToken:   cfg.EstatedToken,
		estatedBaseURL: strings.TrimRight(cfg.EstatedBaseURL, "/"),
		attomKey:       cfg.AttomAPIKey,
		attomBaseURL:   strings.TrimRight(cfg.AttomBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log:      log,
		cache:    cache,
		cacheTTL: cfg.PrefillCacheTTL,
	}
}

func (c *Client) EstatedEnabled() bool { return c.estatedToken != "" }

func (c *Client) AttomEnabled() bool { return c.attomKey != "" }

// DemoSuggestion is the canned deal used for pitch walkthroughs.
func DemoSuggestion() Suggestion {
	price, replacement, dom := 485000.0, 525000.0, 28
	return Suggestion{
		Price:           &price,
		DaysOnMarket:    &dom,
		ReplacementCost: &replacement,
		Sources:         []string{SourceDemo},
	}
}

func cacheKey(address string) string {
	return "prefill:" + strings.ToLower(strings.Join(strings.Fields(address), " "))
}

// Prefill looks the address up in Estated, then ATTOM, and merges the answers.
// Provider failures are logged and treated as missing data.
func (c *Client) Prefill(ctx context.Context, address string) (Suggestion, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Suggestion{}, ErrEmptyAddress
	}

	key := cacheKey(address)
	if c.cache != nil {
		var cached Suggestion
		found, err := c.cache.Get(ctx, key, &cached)
		switch {
		case err != nil:
			metrics.PrefillCache.WithLabelValues("error").Inc()
			c.log.Warn("prefill cache read failed", "err", err)
		case found:
			metrics.PrefillCache.WithLabelValues("hit").Inc()
			cached.Sources = append(cached.Sources, SourceCache)
			return cached, nil
		default:
			metrics.PrefillCache.WithLabelValues("miss").Inc()
		}
	}

	var s Suggestion
	if c.EstatedEnabled() {
		price, err := c.fetchEstated(ctx, address)
		if err != nil {
			c.log.Warn("estated lookup failed", "address", address, "err", err)
		} else if price != nil {
			s.Price = price
			s.Sources = append(s.Sources, SourceEstated)
		}
	}
	// Sources names only providers whose value ended up in the suggestion.
	if s.Price == nil && c.AttomEnabled() {
		price, err := c.fetchAttom(ctx, address)
		if err != nil {
			c.log.Warn("attom lookup failed", "address", address, "err", err)
		} else if price != nil {
			s.Price = price
			s.Sources = append(s.Sources, SourceAttom)
		}
	}

	if c.cache != nil && len(s.Sources) > 0 {
		if err := c.cache.Set(ctx, key, s, c.cacheTTL); err != nil {
			c.log.Warn("prefill cache write failed", "err", err)
		}
	}
	return s, nil
}

func (c *Client) fetchEstated(ctx context.Context, address string) (*float64, error) {
	params := url.Values{}
	params.Set("token", c.estatedToken)
	params.Set("combined_address", address)
	fullURL := c.estatedBaseURL + "/v4/property?" + params.Encode()

	body, err := c.get(ctx, SourceEstated, fullURL, nil)
	if err != nil || body == nil {
		return nil, err
	}

	type valuation struct {
		MarketValue *float64 `json:"market_value"`
		Value       *float64 `json:"value"`
	}
	var resp struct {
		Valuation *valuation `json:"valuation"`
		Data      struct {
			Valuation *valuation `json:"valuation"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode estated response: %w (body=%s)", err, truncateBody(body))
	}
	v := resp.Valuation
	if v == nil {
		v = resp.Data.Valuation
	}
	if v == nil {
		return nil, nil
	}
	if positive(v.MarketValue) {
		return v.MarketValue, nil
	}
	if positive(v.Value) {
		return v.Value, nil
	}
	return nil, nil
}

func (c *Client) fetchAttom(ctx context.Context, address string) (*float64, error) {
	params := url.Values{}
	params.Set("address", address)
	fullURL := c.attomBaseURL + "/propertyapi/v1.0.0/property/basicprofile?" + params.Encode()

	headers := map[string]string{"apikey": c.attomKey}
	body, err := c.get(ctx, SourceAttom, fullURL, headers)
	if err != nil || body == nil {
		return nil, err
	}

	var resp struct {
		Property []struct {
			Sale struct {
				Amount json.RawMessage `json:"amount"`
			} `json:"sale"`
			Assessment struct {
				Market struct {
					MktTtlValue *float64 `json:"mktTtlValue"`
				} `json:"market"`
			} `json:"assessment"`
		} `json:"property"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode attom response: %w (body=%s)", err, truncateBody(body))
	}
	if len(resp.Property) == 0 {
		return nil, nil
	}
	prop := resp.Property[0]
	if amount := saleAmount(prop.Sale.Amount); positive(amount) {
		return amount, nil
	}
	if positive(prop.Assessment.Market.MktTtlValue) {
		return prop.Assessment.Market.MktTtlValue, nil
	}
	return nil, nil
}

// saleAmount accepts either a bare number or ATTOM's {"saleamt": n} object.
func saleAmount(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return &n
	}
	var obj struct {
		SaleAmt *float64 `json:"saleamt"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.SaleAmt
	}
	return nil
}

// get returns the body on 200, nil on any other status.
func (c *Client) get(ctx context.Context, provider, fullURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ProviderDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", provider, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Info("provider returned no data", "provider", provider, "status", resp.StatusCode, "body", truncateBody(rawBody))
		return nil, nil
	}
	return rawBody, nil
}

func positive(v *float64) bool {
	return v != nil && *v > 0
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
