package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/clinigate/authgw/internal/auth"
	"github.com/clinigate/authgw/internal/invocation"
)

// errAuthenticationRequired is reported when a guarded route is reached
// without a security context.
var errAuthenticationRequired = auth.InvalidToken("authentication required", nil)

// Guards builds chi-compatible middleware that rejects requests whose
// security context does not satisfy a predicate. The zero value writes
// errors without recording metrics.
type Guards struct {
	Errors *invocation.Writer
}

// check inspects the request's security context and returns a categorized
// error to reject the request.
type check func(sc *auth.SecurityContext) error

func (g Guards) require(c check) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc, ok := auth.Store{}.Current(r.Context())
			if !ok {
				g.Errors.WriteError(w, r, errAuthenticationRequired)
				return
			}
			if err := c(sc); err != nil {
				g.Errors.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuthenticated rejects requests that carry no security context.
func (g Guards) RequireAuthenticated() func(http.Handler) http.Handler {
	return g.require(func(*auth.SecurityContext) error { return nil })
}

// RequireScope rejects callers whose granted scopes do not cover scope.
// scope must be concrete; a wildcard requirement fails as an internal error.
func (g Guards) RequireScope(scope string) func(http.Handler) http.Handler {
	return g.RequireAnyScope(scope)
}

// RequireAnyScope rejects callers whose granted scopes cover none of scopes.
func (g Guards) RequireAnyScope(scopes ...string) func(http.Handler) http.Handler {
	return g.require(func(sc *auth.SecurityContext) error {
		return checkScopes(sc, scopes)
	})
}

// RequireAccess rejects callers without level on the named role section.
func (g Guards) RequireAccess(section, level string) func(http.Handler) http.Handler {
	return g.require(func(sc *auth.SecurityContext) error {
		guard, err := sc.Guard()
		if err != nil {
			return err
		}
		if !guard.HasAccess(section, level) {
			return auth.InsufficientAccess(fmt.Sprintf("%s access to %s required", level, section))
		}
		return nil
	})
}

// RequireFeature rejects callers for whom the named feature is disabled.
func (g Guards) RequireFeature(name string) func(http.Handler) http.Handler {
	return g.require(func(sc *auth.SecurityContext) error {
		guard, err := sc.Guard()
		if err != nil {
			return err
		}
		if !guard.HasFeature(name) {
			return auth.InsufficientAccess(fmt.Sprintf("feature %s is not enabled", name))
		}
		return nil
	})
}

// RequireExternalAccess rejects callers without the named external access flag.
func (g Guards) RequireExternalAccess(name string) func(http.Handler) http.Handler {
	return g.require(func(sc *auth.SecurityContext) error {
		guard, err := sc.Guard()
		if err != nil {
			return err
		}
		if !guard.HasExternalAccess(name) {
			return auth.InsufficientAccess(fmt.Sprintf("external access %s required", name))
		}
		return nil
	})
}

// RequireProvider admits only provider identities.
func (g Guards) RequireProvider() func(http.Handler) http.Handler {
	return g.require(func(sc *auth.SecurityContext) error {
		if !sc.Principal.IsProvider() {
			return auth.NewError(auth.KindForbidden, "provider identity required", nil)
		}
		return nil
	})
}

// RequirePatient admits only patient identities.
func (g Guards) RequirePatient() func(http.Handler) http.Handler {
	return g.require(func(sc *auth.SecurityContext) error {
		if !sc.Principal.IsPatient() {
			return auth.NewError(auth.KindForbidden, "patient identity required", nil)
		}
		return nil
	})
}

func checkScopes(sc *auth.SecurityContext, scopes []string) error {
	if len(scopes) == 0 {
		return nil
	}
	ok, err := auth.NewScopeChecker(sc.Scopes()).HasAnyScope(scopes...)
	if err != nil {
		return fmt.Errorf("check scopes %v: %w", scopes, err)
	}
	if !ok {
		return auth.InsufficientAccess("scope required: " + strings.Join(scopes, " or "))
	}
	return nil
}
