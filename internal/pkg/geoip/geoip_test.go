package geoip_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkfolio/internal/pkg/geoip"
	"linkfolio/internal/testsupport"
)

type fakeProvider struct {
	name  string
	info  geoip.Info
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Lookup(ctx context.Context, ip string) (geoip.Info, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return geoip.Info{}, ctx.Err()
		}
	}
	return f.info, f.err
}

func TestResolverLookup(t *testing.T) {
	logger := testsupport.GetLogger()
	ctx := context.Background()

	t.Run("returns first successful provider", func(t *testing.T) {
		failing := &fakeProvider{name: "a", err: errors.New("boom")}
		working := &fakeProvider{name: "b", info: geoip.Info{Country: "Canada", City: "Toronto", Region: "Ontario"}}
		r := geoip.NewResolver(logger, 0, []geoip.Provider{failing, working})

		info := r.Lookup(ctx, "8.8.8.8")

		assert.Equal(t, geoip.Info{Country: "Canada", City: "Toronto", Region: "Ontario"}, info)
		assert.EqualValues(t, 1, failing.calls.Load())
	})

	t.Run("defaults when every provider fails", func(t *testing.T) {
		r := geoip.NewResolver(logger, 0, []geoip.Provider{
			&fakeProvider{name: "a", err: errors.New("boom")},
			&fakeProvider{name: "b", info: geoip.Info{City: "Nowhere"}},
		})

		assert.Equal(t, geoip.DefaultInfo(), r.Lookup(ctx, "8.8.8.8"))
	})

	t.Run("defaults on timeout", func(t *testing.T) {
		slow := &fakeProvider{name: "slow", delay: time.Second, info: geoip.Info{Country: "Spain"}}
		r := geoip.NewResolver(logger, 0, []geoip.Provider{slow}, geoip.WithTimeout(20*time.Millisecond))

		start := time.Now()
		info := r.Lookup(ctx, "8.8.8.8")

		assert.Equal(t, geoip.DefaultInfo(), info)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("skips private and invalid addresses", func(t *testing.T) {
		p := &fakeProvider{name: "a", info: geoip.Info{Country: "Spain"}}
		r := geoip.NewResolver(logger, 0, []geoip.Provider{p})

		for _, ip := range []string{"", "not-an-ip", "127.0.0.1", "10.1.2.3", "192.168.0.1", "::1"} {
			assert.Equal(t, geoip.DefaultInfo(), r.Lookup(ctx, ip), ip)
		}
		assert.EqualValues(t, 0, p.calls.Load())
	})

	t.Run("nil resolver and no providers default", func(t *testing.T) {
		var r *geoip.Resolver
		assert.Equal(t, geoip.DefaultInfo(), r.Lookup(ctx, "8.8.8.8"))
		assert.Equal(t, geoip.DefaultInfo(), geoip.NewResolver(logger, 0, nil).Lookup(ctx, "8.8.8.8"))
	})

	t.Run("caches successful lookups per address", func(t *testing.T) {
		p := &fakeProvider{name: "a", info: geoip.Info{Country: "Japan", City: "Tokyo"}}
		r := geoip.NewResolver(logger, time.Minute, []geoip.Provider{p})
		t.Cleanup(r.Close)

		first := r.Lookup(ctx, "1.1.1.1")
		second := r.Lookup(ctx, "1.1.1.1")

		assert.Equal(t, first, second)
		assert.Equal(t, "Japan", first.Country)
		assert.EqualValues(t, 1, p.calls.Load())
	})

	t.Run("different addresses resolve concurrently", func(t *testing.T) {
		p := &fakeProvider{name: "a", delay: 300 * time.Millisecond, info: geoip.Info{Country: "Spain"}}
		r := geoip.NewResolver(logger, time.Minute, []geoip.Provider{p})
		t.Cleanup(r.Close)

		ips := []string{"8.8.8.1", "8.8.8.2", "8.8.8.3", "8.8.8.4", "8.8.8.5"}
		results := make([]geoip.Info, len(ips))
		var wg sync.WaitGroup
		start := time.Now()
		for i, ip := range ips {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = r.Lookup(ctx, ip)
			}()
		}
		wg.Wait()

		assert.Less(t, time.Since(start), 900*time.Millisecond)
		for _, info := range results {
			assert.Equal(t, "Spain", info.Country)
		}
		assert.EqualValues(t, len(ips), p.calls.Load())
	})

	t.Run("concurrent lookups of one address share a query", func(t *testing.T) {
		p := &fakeProvider{name: "a", delay: 100 * time.Millisecond, info: geoip.Info{Country: "Chile"}}
		r := geoip.NewResolver(logger, time.Minute, []geoip.Provider{p})
		t.Cleanup(r.Close)

		var wg sync.WaitGroup
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.Equal(t, "Chile", r.Lookup(ctx, "9.9.9.9").Country)
			}()
		}
		wg.Wait()

		assert.EqualValues(t, 1, p.calls.Load())
	})

	t.Run("honours the caller deadline on a cache miss", func(t *testing.T) {
		p := &fakeProvider{name: "a", delay: 300 * time.Millisecond, info: geoip.Info{Country: "Spain"}}
		r := geoip.NewResolver(logger, time.Minute, []geoip.Provider{p})
		t.Cleanup(r.Close)

		deadline, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		start := time.Now()
		info := r.Lookup(deadline, "4.4.4.4")

		assert.Equal(t, geoip.DefaultInfo(), info)
		assert.Less(t, time.Since(start), 200*time.Millisecond)
	})

	t.Run("failed lookups are not cached", func(t *testing.T) {
		p := &fakeProvider{name: "a", err: errors.New("boom")}
		r := geoip.NewResolver(logger, time.Minute, []geoip.Provider{p})
		t.Cleanup(r.Close)

		assert.Equal(t, geoip.DefaultInfo(), r.Lookup(ctx, "5.5.5.5"))
		assert.Equal(t, geoip.DefaultInfo(), r.Lookup(ctx, "5.5.5.5"))
		assert.EqualValues(t, 2, p.calls.Load())
	})
}

func TestDefaultInfo(t *testing.T) {
	assert.Equal(t, geoip.Info{Country: "Unknown", City: "", Region: ""}, geoip.DefaultInfo())
}

func TestHTTPProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes ipapi payload", func(t *testing.T) {
		var gotPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"ip":"8.8.8.8","country_name":"United States","city":"Mountain View","region":"California"}`))
		}))
		defer server.Close()

		p := geoip.NewHTTPProvider(geoip.HTTPProviderConfig{Endpoint: server.URL + "/%s/json/"})
		info, err := p.Lookup(ctx, "8.8.8.8")

		require.NoError(t, err)
		assert.Equal(t, geoip.Info{Country: "United States", City: "Mountain View", Region: "California"}, info)
		assert.Equal(t, "/8.8.8.8/json/", gotPath)
	})

	failures := map[string]http.HandlerFunc{
		"non 2xx": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"country_name":"United States"}`))
		},
		"malformed body": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"country_name":`))
		},
		"error payload": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"error":true,"reason":"RateLimited"}`))
		},
		"missing country": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"city":"Somewhere"}`))
		},
	}
	for name, handler := range failures {
		t.Run(name+" is a total failure", func(t *testing.T) {
			server := httptest.NewServer(handler)
			defer server.Close()

			p := geoip.NewHTTPProvider(geoip.HTTPProviderConfig{Endpoint: server.URL + "/%s/json/"})
			info, err := p.Lookup(ctx, "8.8.8.8")

			assert.Error(t, err)
			assert.Equal(t, geoip.Info{}, info)
		})
	}

	t.Run("times out", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
		}))
		defer server.Close()

		p := geoip.NewHTTPProvider(geoip.HTTPProviderConfig{
			Endpoint: server.URL + "/%s/json/",
			Timeout:  20 * time.Millisecond,
		})
		_, err := p.Lookup(ctx, "8.8.8.8")
		assert.Error(t, err)
	})

	t.Run("breaker opens after consecutive failures", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		p := geoip.NewHTTPProvider(geoip.HTTPProviderConfig{
			Endpoint:         server.URL + "/%s/json/",
			FailureThreshold: 2,
			OpenTimeout:      time.Hour,
		})
		for i := 0; i < 5; i++ {
			_, err := p.Lookup(ctx, "8.8.8.8")
			assert.Error(t, err)
		}
		assert.EqualValues(t, 2, hits.Load())
	})

	t.Run("rejects invalid address without calling out", func(t *testing.T) {
		p := geoip.NewHTTPProvider(geoip.HTTPProviderConfig{Endpoint: "http://127.0.0.1:1/%s"})
		_, err := p.Lookup(ctx, "nope")
		assert.Error(t, err)
	})
}

func TestOpenMaxMind(t *testing.T) {
	logger := testsupport.GetLogger()

	assert.Nil(t, geoip.OpenMaxMind("", logger))
	assert.Nil(t, geoip.OpenMaxMind(t.TempDir()+"/missing.mmdb", logger))
}
