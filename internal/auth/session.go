package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionID normalizes an external session claim to a UUID. A claim that is
// already a UUID is returned as-is; otherwise a name-based UUID over issuer and
// claim keeps the id stable for the lifetime of the upstream session. When sid
// is empty, jti is used the same way. Both empty yields a random id.
func SessionID(issuer, sid, jti string) string {
	for _, candidate := range []string{sid, jti} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if id, err := uuid.Parse(candidate); err == nil {
			return id.String()
		}
		return uuid.NewSHA1(uuid.NameSpaceURL, []byte(issuer+"#"+candidate)).String()
	}
	return uuid.NewString()
}

// ValidateSessionToken checks a legacy session record's lifecycle.
func ValidateSessionToken(now, expiresAt time.Time, revoked bool) error {
	if revoked {
		return fmt.Errorf("session revoked")
	}
	if !expiresAt.IsZero() && !now.Before(expiresAt) {
		return fmt.Errorf("session expired")
	}
	return nil
}
