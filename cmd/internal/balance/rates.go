package balance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
)

const (
	defaultRatesTTL     = time.Hour
	defaultRatesTimeout = 5 * time.Second
)

// Rates are conversion factors from RUB.
type Rates struct {
	RUB float64 `mapstructure:"RUB"`
	USD float64 `mapstructure:"USD"`
	CNY float64 `mapstructure:"CNY"`
	EUR float64 `mapstructure:"EUR"`
}

// RateProvider returns current RUB-based conversion rates.
type RateProvider interface {
	Rates(ctx context.Context) (Rates, error)
}

// HTTPRates fetches an exchangerate-api "latest/RUB" document and caches it for ttl.
//
// Expected body: {"result":"success","conversion_rates":{"RUB":1,"USD":0.011,...}}.
type HTTPRates struct {
	client *http.Client
	url    string
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	cached  Rates
	fetched time.Time
}

// NewHTTPRates constructs a provider for url. A nil client gets a 5s-timeout default.
func NewHTTPRates(client *http.Client, url string, ttl time.Duration) *HTTPRates {
	if client == nil {
		client = &http.Client{Timeout: defaultRatesTimeout}
	}
	if ttl <= 0 {
		ttl = defaultRatesTTL
	}
	return &HTTPRates{client: client, url: url, ttl: ttl, now: time.Now}
}

// Rates returns the cached rates or refreshes them once they are older than ttl.
func (p *HTTPRates) Rates(ctx context.Context) (Rates, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.fetched.IsZero() && p.now().Sub(p.fetched) < p.ttl {
		return p.cached, nil
	}

	r, err := p.fetch(ctx)
	if err != nil {
		return Rates{}, err
	}
	p.cached = r
	p.fetched = p.now()
	return r, nil
}

func (p *HTTPRates) fetch(ctx context.Context) (Rates, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Rates{}, fmt.Errorf("%w: %w", ErrRatesUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Rates{}, fmt.Errorf("%w: %w", ErrRatesUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Rates{}, fmt.Errorf("%w: status %d", ErrRatesUnavailable, resp.StatusCode)
	}

	var doc struct {
		Result          string         `json:"result"`
		ConversionRates map[string]any `json:"conversion_rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Rates{}, fmt.Errorf("%w: decode: %w", ErrRatesUnavailable, err)
	}
	if doc.Result != "" && doc.Result != "success" {
		return Rates{}, fmt.Errorf("%w: result %q", ErrRatesUnavailable, doc.Result)
	}

	var r Rates
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &r,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Rates{}, err
	}
	if err := dec.Decode(doc.ConversionRates); err != nil {
		return Rates{}, fmt.Errorf("%w: decode rates: %w", ErrRatesUnavailable, err)
	}
	if r.RUB == 0 {
		return Rates{}, fmt.Errorf("%w: missing RUB rate", ErrRatesUnavailable)
	}
	return r, nil
}
