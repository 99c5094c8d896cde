// Package geoip attaches a coarse location to tracked events. Lookups are
// best effort: every failure resolves to DefaultInfo.
package geoip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/goccy/go-json"
	"github.com/karloscodes/cartridge/cache"
	"golang.org/x/sync/singleflight"

	"linkfolio/internal/pkg/metrics"
)

// UnknownCountry is reported when no provider resolves the address.
const UnknownCountry = "Unknown"

const (
	defaultLookupTimeout = 3 * time.Second

	maxCachedAddresses = 50_000
	cacheSweepInterval = 10 * time.Minute
	cacheSweepBatch    = 1000
)

// ErrNoLocation is returned by providers that cannot place an address.
var ErrNoLocation = errors.New("geoip: no location for address")

// Info is a coarse location.
type Info struct {
	Country string `json:"country"`
	City    string `json:"city"`
	Region  string `json:"region"`
}

// DefaultInfo is the fallback location.
func DefaultInfo() Info {
	return Info{Country: UnknownCountry}
}

// Provider resolves an IP address to a location.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, ip string) (Info, error)
}

// Resolver queries providers in order and caches results per address.
// Concurrent lookups of one address share a single provider query; lookups
// of different addresses run independently.
type Resolver struct {
	providers []Provider
	store     *cache.MemoryStore
	group     singleflight.Group
	timeout   time.Duration
	logger    *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithTimeout bounds each lookup, including all provider attempts.
func WithTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewResolver returns a resolver over providers. A positive cacheTTL keeps
// results for that long, typically the visitor session timeout. Expired
// entries are swept in the background and the cache never holds more than
// maxCachedAddresses entries.
func NewResolver(logger *slog.Logger, cacheTTL time.Duration, providers []Provider, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		providers: providers,
		timeout:   defaultLookupTimeout,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if cacheTTL > 0 {
		r.store = cache.NewMemoryStore(
			cache.WithTTL(cacheTTL),
			cache.WithMaxEntries(maxCachedAddresses),
			cache.WithCleanupInterval(min(cacheTTL, cacheSweepInterval)),
			cache.WithCleanupBatchSize(cacheSweepBatch),
		)
	}
	return r
}

// Close stops the cache sweeper.
func (r *Resolver) Close() {
	if r != nil && r.store != nil {
		r.store.Close()
	}
}

// Lookup never fails; it returns DefaultInfo when the address cannot be
// resolved within the timeout or before ctx is done.
func (r *Resolver) Lookup(ctx context.Context, ip string) Info {
	if r == nil || len(r.providers) == 0 || !IsPublicIP(ip) {
		return DefaultInfo()
	}

	if info, ok := r.cached(ctx, ip); ok {
		return info
	}

	// The shared query is detached from any single caller so one caller
	// giving up does not fail the others waiting on it.
	ch := r.group.DoChan(ip, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		info, err := r.resolve(lookupCtx, ip)
		if err == nil {
			r.remember(ip, info)
		}
		return info, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			r.logger.Debug("Geo lookup failed, using default location",
				slog.String("ip", ip),
				slog.Any("error", res.Err))
			return DefaultInfo()
		}
		return res.Val.(Info)
	case <-ctx.Done():
		r.logger.Debug("Geo lookup abandoned, using default location",
			slog.String("ip", ip),
			slog.Any("error", ctx.Err()))
		return DefaultInfo()
	}
}

func (r *Resolver) cached(ctx context.Context, ip string) (Info, bool) {
	if r.store == nil {
		return Info{}, false
	}
	raw, ok := r.store.Read(ctx, ip)
	if !ok {
		return Info{}, false
	}
	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return Info{}, false
	}
	return info, true
}

func (r *Resolver) remember(ip string, info Info) {
	if r.store == nil {
		return
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := r.store.Write(context.Background(), ip, raw); err != nil {
		r.logger.Debug("Failed to cache geo lookup", slog.String("ip", ip), slog.Any("error", err))
	}
}

func (r *Resolver) resolve(ctx context.Context, ip string) (Info, error) {
	var errs []error
	for _, p := range r.providers {
		info, err := p.Lookup(ctx, ip)
		if err == nil && info.Country != "" {
			metrics.RecordGeoLookup(p.Name(), true)
			return normalize(info), nil
		}
		metrics.RecordGeoLookup(p.Name(), false)
		if err == nil {
			err = ErrNoLocation
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return Info{}, errors.Join(errs...)
}

func normalize(info Info) Info {
	if info.Country == "" {
		info.Country = UnknownCountry
	}
	return info
}

// IsPublicIP reports whether ip is a routable unicast address worth a lookup.
func IsPublicIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return !(parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() ||
		parsed.IsLinkLocalUnicast() || parsed.IsLinkLocalMulticast() || parsed.IsMulticast())
}
