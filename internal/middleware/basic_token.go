package middleware

import (
	"net/http"
	"strings"
)

// PromoteBasicAuthToken rewrites a Basic credential into a bearer token for
// requests under one of pathPrefixes. Integrations that can only send Basic
// auth put their session token in the password field; the username is
// ignored. Requests outside the prefixes, or already carrying a bearer token,
// are left untouched.
func PromoteBasicAuthToken(pathPrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if underAny(r.URL.Path, pathPrefixes) {
				if _, token, ok := r.BasicAuth(); ok {
					if token = strings.TrimSpace(token); token != "" {
						r.Header.Set("Authorization", "Bearer "+token)
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func underAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
