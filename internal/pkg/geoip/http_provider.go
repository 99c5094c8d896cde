package geoip

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// DefaultIPAPIEndpoint is the ipapi.co lookup URL; %s is the address.
const DefaultIPAPIEndpoint = "https://ipapi.co/%s/json/"

// HTTPProviderConfig configures an HTTPProvider.
type HTTPProviderConfig struct {
	// Endpoint is a URL template with a single %s for the IP address.
	Endpoint string
	Timeout  time.Duration
	// RequestsPerMinute paces outbound calls; zero disables pacing.
	RequestsPerMinute int
	// FailureThreshold opens the breaker after that many consecutive failures.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// HTTPProvider looks addresses up against an ipapi.co compatible service.
type HTTPProvider struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[Info]
	limiter  *rate.Limiter
}

type ipapiResponse struct {
	CountryName string `json:"country_name"`
	City        string `json:"city"`
	Region      string `json:"region"`
	Error       bool   `json:"error"`
	Reason      string `json:"reason"`
}

// NewHTTPProvider returns a provider with breaker and pacing applied.
func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultIPAPIEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultLookupTimeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}

	p := &HTTPProvider{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RequestsPerMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	threshold := cfg.FailureThreshold
	p.breaker = gobreaker.NewCircuitBreaker[Info](gobreaker.Settings{
		Name:        "geoip-http",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})
	return p
}

func (p *HTTPProvider) Name() string {
	return "ipapi"
}

// Lookup fails on any transport error, non-2xx status, malformed body or
// error payload; partial answers are never returned.
func (p *HTTPProvider) Lookup(ctx context.Context, ip string) (Info, error) {
	if net.ParseIP(ip) == nil {
		return Info{}, fmt.Errorf("invalid IP address: %q", ip)
	}
	if p.limiter != nil && !p.limiter.Allow() {
		return Info{}, fmt.Errorf("geo lookup rate limit reached")
	}

	return p.breaker.Execute(func() (Info, error) {
		return p.query(ctx, ip)
	})
}

func (p *HTTPProvider) query(ctx context.Context, ip string) (Info, error) {
	url := p.endpoint
	if strings.Contains(url, "%s") {
		url = fmt.Sprintf(p.endpoint, ip)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return Info{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Info{}, fmt.Errorf("failed to query geo service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Info{}, fmt.Errorf("geo service returned status %d", resp.StatusCode)
	}

	var body ipapiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err != nil {
		return Info{}, fmt.Errorf("failed to decode geo response: %w", err)
	}
	if body.Error {
		return Info{}, fmt.Errorf("geo service error: %s", body.Reason)
	}
	if body.CountryName == "" {
		return Info{}, ErrNoLocation
	}

	return Info{Country: body.CountryName, City: body.City, Region: body.Region}, nil
}
