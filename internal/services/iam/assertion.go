package iam

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clinigate/authgw/internal/auth"
	"github.com/clinigate/authgw/internal/config"
)

// AssertionConsumer verifies a signed patient assertion and returns the
// long-lived external identity it carries.
type AssertionConsumer interface {
	Consume(assertion string) (string, error)
}

// PatientAssertionConsumer verifies HS256 assertions minted by the patient
// portal with a shared secret.
type PatientAssertionConsumer struct {
	secret        []byte
	issuer        string
	audience      string
	identityClaim string
	now           func() time.Time
}

// NewPatientAssertionConsumer creates a consumer from configuration.
func NewPatientAssertionConsumer(cfg config.AssertionConfig) (*PatientAssertionConsumer, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("assertion secret is required")
	}
	claim := cfg.IdentityClaim
	if claim == "" {
		claim = "external_id"
	}
	return &PatientAssertionConsumer{
		secret:        []byte(cfg.Secret),
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		identityClaim: claim,
		now:           time.Now,
	}, nil
}

// Consume implements AssertionConsumer. Every failure is BadCredentials.
func (c *PatientAssertionConsumer) Consume(assertion string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	if c.audience != "" {
		opts = append(opts, jwt.WithAudience(c.audience))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(assertion, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return "", auth.NewError(auth.KindBadCredentials, "patient assertion rejected", err)
	}

	identity, ok := auth.ExtractClaimString(claims, c.identityClaim)
	if !ok {
		return "", auth.BadCredentials("patient assertion carries no identity")
	}
	return identity, nil
}
