package iam

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/clinigate/authgw/internal/auth"
	"github.com/clinigate/authgw/internal/db/models"
	"github.com/clinigate/authgw/internal/repository"
)

// LegacyTokenVerifier validates opaque session tokens issued by the in-house
// token store.
//
// Validation:
//  1. Hash the token (raw tokens are never stored)
//  2. Look up the session by hash
//  3. Reject revoked or expired sessions
//  4. For staff sessions, reject deactivated accounts
//  5. Build a legacy Principal from the stored session
type LegacyTokenVerifier struct {
	sessions   repository.LegacyTokenStore
	identities repository.IdentityStore
	now        func() time.Time
}

// NewLegacyTokenVerifier creates a legacy verifier.
func NewLegacyTokenVerifier(sessions repository.LegacyTokenStore, identities repository.IdentityStore) *LegacyTokenVerifier {
	return &LegacyTokenVerifier{sessions: sessions, identities: identities, now: time.Now}
}

// Verify implements TokenVerifier.
func (v *LegacyTokenVerifier) Verify(ctx context.Context, token string) (*auth.Principal, error) {
	session, err := v.sessions.GetByTokenHash(ctx, auth.HashToken(token))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, auth.InvalidToken("unknown session token", nil)
		}
		return nil, auth.AuthServiceError("session store unavailable", err)
	}

	if err := auth.ValidateSessionToken(v.now(), session.ExpiresAt, session.Revoked); err != nil {
		return nil, auth.InvalidToken("session token rejected", err)
	}

	p := auth.Principal{
		UserIdentity:     auth.FormatID(session.SubjectID),
		Username:         session.Username,
		TenantID:         session.TenantID,
		Scopes:           strings.Fields(session.Scopes),
		OfficeID:         session.OfficeID,
		OriginalOfficeID: session.OriginalOfficeID,
		ClientID:         session.ClientID,
		GrantType:        auth.GrantTypePassword,
		SessionID:        session.ID,
		ExpiresAt:        session.ExpiresAt,
	}

	switch session.SubjectKind {
	case models.SessionSubjectProvider:
		user, err := v.identities.UserByID(ctx, session.TenantID, session.SubjectID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, auth.InvalidToken("session user no longer exists", nil)
			}
			return nil, auth.AuthServiceError("identity store unavailable", err)
		}
		if !user.Active || user.IsDisabled() {
			return nil, auth.InsufficientAccess("user is deactivated")
		}
		p.Kind = auth.IdentityLegacyProvider
		if p.Username == "" {
			p.Username = user.Username
		}
	case models.SessionSubjectPatient:
		p.Kind = auth.IdentityLegacyPatient
	default:
		return nil, auth.InvalidToken("session has unknown subject kind", nil)
	}

	return auth.NewPrincipal(p), nil
}
