package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ServerMetrics holds metric instruments for HTTP server telemetry.
// Initialize once at server startup and reuse throughout the application lifecycle.
type ServerMetrics struct {
	RequestCounter  metric.Int64Counter     // Total HTTP requests
	RequestDuration metric.Float64Histogram // HTTP request latency
	ErrorCounter    metric.Int64Counter     // Total HTTP errors (5xx)
}

// NewServerMetrics creates a new ServerMetrics instance with pre-configured instruments.
func NewServerMetrics() (*ServerMetrics, error) {
	meter := otel.Meter("authgw/http")

	requestCounter, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	// Buckets: 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s
	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"http.server.error.count",
		metric.WithDescription("Total number of HTTP server errors (5xx)"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &ServerMetrics{
		RequestCounter:  requestCounter,
		RequestDuration: requestDuration,
		ErrorCounter:    errorCounter,
	}, nil
}

// RecordRequest records an HTTP request with method, route, status, and duration.
// Safe to call on a nil receiver.
func (m *ServerMetrics) RecordRequest(ctx context.Context, method, route, status string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPRoute, route),
		attribute.String(AttrHTTPStatusCode, status),
	)

	m.RequestCounter.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, durationMs, attrs)

	if len(status) > 0 && status[0] == '5' {
		m.ErrorCounter.Add(ctx, 1, attrs)
	}
}

// AuthMetrics holds metric instruments for authentication operations.
// A nil *AuthMetrics records nothing, so callers never need to check.
type AuthMetrics struct {
	LoginCounter       metric.Int64Counter     // Logins by method and outcome
	LoginDuration      metric.Float64Histogram // Login latency
	TokenCounter       metric.Int64Counter     // Bearer token verifications
	TokenDuration      metric.Float64Histogram // Verification latency
	KeyRefreshCounter  metric.Int64Counter     // Signing key set fetches
	TranslationCounter metric.Int64Counter     // Errors translated to responses, by category
}

// NewAuthMetrics creates metric instruments for authentication telemetry.
func NewAuthMetrics() (*AuthMetrics, error) {
	meter := otel.Meter("authgw/auth")

	loginCounter, err := meter.Int64Counter(
		"auth.login.count",
		metric.WithDescription("Total number of login attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	loginDuration, err := meter.Float64Histogram(
		"auth.login.duration",
		metric.WithDescription("Login duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000),
	)
	if err != nil {
		return nil, err
	}

	tokenCounter, err := meter.Int64Counter(
		"auth.token.verification.count",
		metric.WithDescription("Total number of bearer token verifications"),
		metric.WithUnit("{verification}"),
	)
	if err != nil {
		return nil, err
	}

	tokenDuration, err := meter.Float64Histogram(
		"auth.token.verification.duration",
		metric.WithDescription("Bearer token verification duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000),
	)
	if err != nil {
		return nil, err
	}

	keyRefreshCounter, err := meter.Int64Counter(
		"auth.keys.refresh.count",
		metric.WithDescription("Total number of signing key set fetches"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, err
	}

	translationCounter, err := meter.Int64Counter(
		"auth.error.translation.count",
		metric.WithDescription("Errors translated into responses, by category"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &AuthMetrics{
		LoginCounter:       loginCounter,
		LoginDuration:      loginDuration,
		TokenCounter:       tokenCounter,
		TokenDuration:      tokenDuration,
		KeyRefreshCounter:  keyRefreshCounter,
		TranslationCounter: translationCounter,
	}, nil
}

// RecordLogin records one login with its method and outcome ("approved" or an error category).
func (a *AuthMetrics) RecordLogin(ctx context.Context, method, outcome string, durationMs float64) {
	if a == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrLoginMethod, method),
		attribute.String(AttrOutcome, outcome),
	)
	a.LoginCounter.Add(ctx, 1, attrs)
	a.LoginDuration.Record(ctx, durationMs, attrs)
}

// RecordTokenVerification records one bearer token verification.
func (a *AuthMetrics) RecordTokenVerification(ctx context.Context, tokenType string, success bool, durationMs float64) {
	if a == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrTokenType, tokenType),
		attribute.Bool(AttrAuthSuccess, success),
	)
	a.TokenCounter.Add(ctx, 1, attrs)
	a.TokenDuration.Record(ctx, durationMs, attrs)
}

// RecordKeyRefresh records one signing key set fetch.
func (a *AuthMetrics) RecordKeyRefresh(ctx context.Context, success bool) {
	if a == nil {
		return
	}
	a.KeyRefreshCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool(AttrAuthSuccess, success)))
}

// RecordTranslation records one error translated to a caller-facing response.
func (a *AuthMetrics) RecordTranslation(ctx context.Context, category string) {
	if a == nil {
		return
	}
	a.TranslationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrErrorCategory, category)))
}

// Common metric attribute keys
const (
	// HTTP attributes
	AttrHTTPMethod     = "http.method"
	AttrHTTPRoute      = "http.route"
	AttrHTTPStatusCode = "http.status_code"

	// Auth attributes
	AttrAuthSuccess = "auth.success"
)
