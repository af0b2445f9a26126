package iam

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinigate/authgw/internal/auth"
	"github.com/clinigate/authgw/internal/telemetry"
)

// ErrNoVerifier is wrapped into InvalidToken when a token's type has no
// verifier configured.
var ErrNoVerifier = errors.New("no verifier configured for token type")

// Token types reported to telemetry.
const (
	TokenTypeLegacy   = "legacy"
	TokenTypeExternal = "external"
)

// TokenDispatcher routes a bearer token to the legacy or external verifier.
// Canonical 36-character UUIDs are legacy session tokens; everything else is
// treated as an external JWT.
type TokenDispatcher struct {
	legacy   TokenVerifier
	external TokenVerifier
	metrics  *telemetry.AuthMetrics
}

// NewTokenDispatcher creates a dispatcher. Either verifier may be nil, in which
// case tokens of that type are rejected.
func NewTokenDispatcher(legacy, external TokenVerifier, metrics *telemetry.AuthMetrics) *TokenDispatcher {
	return &TokenDispatcher{legacy: legacy, external: external, metrics: metrics}
}

// IsLegacyToken reports whether token has the shape of a legacy session token.
func IsLegacyToken(token string) bool {
	if len(token) != 36 {
		return false
	}
	_, err := uuid.Parse(token)
	return err == nil
}

// TokenType classifies token without verifying it.
func TokenType(token string) string {
	if IsLegacyToken(token) {
		return TokenTypeLegacy
	}
	return TokenTypeExternal
}

// Verify implements TokenVerifier.
func (d *TokenDispatcher) Verify(ctx context.Context, token string) (_ *auth.Principal, err error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, auth.InvalidToken("empty bearer token", nil)
	}

	tokenType := TokenType(token)
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.VerifyToken",
		attribute.String(telemetry.AttrTokenType, tokenType),
	)
	start := time.Now()
	defer func() {
		telemetry.RecordError(span, err)
		d.metrics.RecordTokenVerification(ctx, tokenType, err == nil, float64(time.Since(start).Milliseconds()))
		span.End()
	}()

	verifier := d.external
	if tokenType == TokenTypeLegacy {
		verifier = d.legacy
	}
	if verifier == nil {
		return nil, auth.InvalidToken(tokenType+" tokens are not accepted", ErrNoVerifier)
	}
	return verifier.Verify(ctx, token)
}
