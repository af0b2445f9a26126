package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/xenitab/go-oidc-middleware/oidctoken"
	"github.com/xenitab/go-oidc-middleware/options"
)

// ErrNoBearerToken is returned when a request carries no bearer credential.
var ErrNoBearerToken = errors.New("no bearer token")

// TokenSource describes one header a bearer token may be read from.
type TokenSource struct {
	Header string
	Prefix string
}

// BearerToken extracts the bearer token from the request headers. Extra
// sources are tried before the Authorization header.
func BearerToken(r *http.Request, extra ...TokenSource) (string, error) {
	return BearerTokenFromHeader(r.Header.Get, extra...)
}

// BearerTokenFromHeader extracts a bearer token through a header getter, so
// Connect request headers can be used as well as net/http ones.
func BearerTokenFromHeader(get func(string) string, extra ...TokenSource) (string, error) {
	tokenStrings := make([][]options.TokenStringOption, 0, len(extra)+1)
	for _, src := range extra {
		prefix := src.Prefix
		if prefix == "" {
			prefix = "Bearer "
		}
		tokenStrings = append(tokenStrings, []options.TokenStringOption{
			options.WithTokenStringHeaderName(src.Header),
			options.WithTokenStringTokenPrefix(prefix),
		})
	}
	tokenStrings = append(tokenStrings, []options.TokenStringOption{}) // Default: Authorization header.

	if get("Authorization") == "" && !anyHeader(get, extra) {
		return "", ErrNoBearerToken
	}

	token, err := oidctoken.GetTokenString(get, tokenStrings)
	if err != nil {
		return "", fmt.Errorf("extract bearer token: %w", err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNoBearerToken
	}
	return token, nil
}

func anyHeader(get func(string) string, sources []TokenSource) bool {
	for _, src := range sources {
		if get(src.Header) != "" {
			return true
		}
	}
	return false
}

// HashToken creates a SHA256 hash of a token string. Legacy session tokens are
// only ever stored and looked up by this hash.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
