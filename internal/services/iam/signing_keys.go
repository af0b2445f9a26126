package iam

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/lestrrat-go/httpcc"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/clinigate/authgw/internal/telemetry"
)

// DefaultKeyTTL applies when the key endpoint sends no usable cache headers.
const DefaultKeyTTL = 5 * time.Minute

// KeySet is an immutable snapshot of the identity provider's signing keys.
type KeySet struct {
	Keys      jose.JSONWebKeySet
	Issuer    string
	ExpiresAt time.Time
}

// Key returns the keys registered under kid.
func (s *KeySet) Key(kid string) []jose.JSONWebKey {
	return s.Keys.Key(kid)
}

// HTTPTimeouts bounds every phase of a key fetch.
type HTTPTimeouts struct {
	Dial           time.Duration
	TLSHandshake   time.Duration
	ResponseHeader time.Duration
	Request        time.Duration
}

// NewHTTPClient builds the client used for discovery and key fetches. Zero
// durations fall back to conservative defaults.
func NewHTTPClient(t HTTPTimeouts) *http.Client {
	if t.Dial <= 0 {
		t.Dial = 5 * time.Second
	}
	if t.TLSHandshake <= 0 {
		t.TLSHandshake = 5 * time.Second
	}
	if t.ResponseHeader <= 0 {
		t.ResponseHeader = 5 * time.Second
	}
	if t.Request <= 0 {
		t.Request = 10 * time.Second
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: t.Dial}).DialContext,
		TLSHandshakeTimeout:   t.TLSHandshake,
		ResponseHeaderTimeout: t.ResponseHeader,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{Transport: transport, Timeout: t.Request}
}

// KeyCacheConfig configures a KeyCache.
type KeyCacheConfig struct {
	// Issuer is used to derive the discovery URL when DiscoveryURL is empty.
	Issuer string
	// DiscoveryURL overrides the well-known configuration location.
	DiscoveryURL string
	// DefaultTTL applies when no cache headers are present.
	DefaultTTL time.Duration
	// HTTPClient defaults to NewHTTPClient(HTTPTimeouts{}).
	HTTPClient *http.Client
	// Now defaults to time.Now.
	Now func() time.Time
	// Metrics is optional.
	Metrics *telemetry.AuthMetrics
}

// KeyCache holds the identity provider's signing keys.
//
// Readers load the current snapshot without locking. An expired snapshot is
// never used: the first request that finds it expired refreshes synchronously,
// and concurrent requests wait on that same refresh.
type KeyCache struct {
	discoveryURL string
	defaultTTL   time.Duration
	client       *http.Client
	now          func() time.Time
	metrics      *telemetry.AuthMetrics

	current atomic.Pointer[KeySet]
	group   singleflight.Group
}

// NewKeyCache creates an empty cache. Nothing is fetched until first use.
func NewKeyCache(cfg KeyCacheConfig) (*KeyCache, error) {
	discoveryURL := cfg.DiscoveryURL
	if discoveryURL == "" {
		if cfg.Issuer == "" {
			return nil, fmt.Errorf("issuer or discovery url is required")
		}
		discoveryURL = strings.TrimSuffix(cfg.Issuer, "/") + oidc.DiscoveryEndpoint
	}
	c := &KeyCache{
		discoveryURL: discoveryURL,
		defaultTTL:   cfg.DefaultTTL,
		client:       cfg.HTTPClient,
		now:          cfg.Now,
		metrics:      cfg.Metrics,
	}
	if c.defaultTTL <= 0 {
		c.defaultTTL = DefaultKeyTTL
	}
	if c.client == nil {
		c.client = NewHTTPClient(HTTPTimeouts{})
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Get returns a non-expired key set, refreshing it if needed.
func (c *KeyCache) Get(ctx context.Context) (*KeySet, error) {
	if ks := c.fresh(); ks != nil {
		return ks, nil
	}

	// The shared refresh outlives any single caller; the HTTP client's
	// request timeout bounds it. Each caller still honors its own ctx.
	refresh := context.WithoutCancel(ctx)
	ch := c.group.DoChan("keys", func() (any, error) {
		if ks := c.fresh(); ks != nil {
			return ks, nil
		}
		ks, err := c.refresh(refresh)
		if err != nil {
			return nil, err
		}
		c.current.Store(ks)
		return ks, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for signing keys: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySet), nil
	}
}

func (c *KeyCache) fresh() *KeySet {
	ks := c.current.Load()
	if ks == nil || !c.now().Before(ks.ExpiresAt) {
		return nil
	}
	return ks
}

func (c *KeyCache) refresh(ctx context.Context) (_ *KeySet, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.RefreshSigningKeys",
		attribute.String("oidc.discovery_url", c.discoveryURL),
	)
	defer func() {
		telemetry.RecordError(span, err)
		c.metrics.RecordKeyRefresh(ctx, err == nil)
		span.End()
	}()

	var doc oidc.DiscoveryConfiguration
	if _, err := c.getJSON(ctx, c.discoveryURL, &doc); err != nil {
		return nil, fmt.Errorf("fetch discovery document: %w", err)
	}
	if doc.JwksURI == "" {
		return nil, fmt.Errorf("discovery document missing jwks_uri")
	}

	var keys jose.JSONWebKeySet
	header, err := c.getJSON(ctx, doc.JwksURI, &keys)
	if err != nil {
		return nil, fmt.Errorf("fetch signing keys: %w", err)
	}

	ks := &KeySet{
		Keys:      keys,
		Issuer:    doc.Issuer,
		ExpiresAt: keySetExpiry(header, c.now(), c.defaultTTL),
	}
	telemetry.AddEvent(span, "keys.refreshed",
		attribute.Int("keys.count", len(keys.Keys)),
		attribute.String("keys.expires_at", ks.ExpiresAt.UTC().Format(time.RFC3339)),
	)
	return ks, nil
}

func (c *KeyCache) getJSON(ctx context.Context, url string, out any) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}
	return resp.Header, nil
}

// keySetExpiry derives the snapshot lifetime from response headers:
// Cache-Control max-age, then Expires, then the default TTL. no-store and
// no-cache expire the snapshot immediately.
func keySetExpiry(h http.Header, now time.Time, defaultTTL time.Duration) time.Time {
	if cc := h.Get("Cache-Control"); cc != "" {
		if tokens, err := httpcc.ParseResponseDirectives(cc); err == nil {
			for _, tok := range tokens {
				switch strings.ToLower(tok.Name) {
				case httpcc.NoStore, httpcc.NoCache:
					return now
				}
			}
		}
		if dir, err := httpcc.ParseResponse(cc); err == nil {
			if maxAge, ok := dir.MaxAge(); ok {
				return now.Add(time.Duration(maxAge) * time.Second)
			}
		}
	}
	if exp := h.Get("Expires"); exp != "" {
		if t, err := http.ParseTime(exp); err == nil {
			return t
		}
		// Unparseable Expires means already expired.
		return now
	}
	return now.Add(defaultTTL)
}
