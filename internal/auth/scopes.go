package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrWildcardRequirement is returned when a required scope itself contains a
// wildcard. Wildcards are only meaningful on granted scopes.
var ErrWildcardRequirement = errors.New("required scope must not contain a wildcard")

// smartScopePattern matches "<user|patient>/<provider|consumer>.<resource>.<verb>".
var smartScopePattern = regexp.MustCompile(`^((?:user|patient)/(?:provider|consumer))\.([^.]+)\.([^.]+)$`)

const scopeWildcard = "*"

// ExpandScope returns the granted scopes that would satisfy required.
//
// For "user/provider.Task.read" that is the literal scope plus
// "user/provider.Task.*", "user/provider.*.read" and "user/provider.*.*".
// Scopes outside the pattern only match themselves.
func ExpandScope(required string) ([]string, error) {
	m := smartScopePattern.FindStringSubmatch(required)
	if m == nil {
		return []string{required}, nil
	}
	context, resource, verb := m[1], m[2], m[3]
	if strings.Contains(resource, scopeWildcard) || strings.Contains(verb, scopeWildcard) {
		return nil, fmt.Errorf("%w: %q", ErrWildcardRequirement, required)
	}
	return []string{
		required,
		context + "." + resource + "." + scopeWildcard,
		context + "." + scopeWildcard + "." + verb,
		context + "." + scopeWildcard + "." + scopeWildcard,
	}, nil
}

// ScopeChecker answers coarse-grained scope questions against a granted set.
type ScopeChecker struct {
	granted map[string]struct{}
}

// NewScopeChecker builds a checker over the caller's granted scopes.
func NewScopeChecker(granted []string) ScopeChecker {
	set := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		set[s] = struct{}{}
	}
	return ScopeChecker{granted: set}
}

// HasScope reports whether any expansion of required is granted.
func (c ScopeChecker) HasScope(required string) (bool, error) {
	return c.HasAnyScope(required)
}

// HasAnyScope reports whether any expansion of any required scope is granted.
// Every required scope is validated before matching so a misconfigured
// requirement fails even when an earlier one would have matched.
func (c ScopeChecker) HasAnyScope(required ...string) (bool, error) {
	candidates := make([]string, 0, len(required)*4)
	for _, r := range required {
		expanded, err := ExpandScope(r)
		if err != nil {
			return false, err
		}
		candidates = append(candidates, expanded...)
	}
	return c.hasAnyExact(candidates), nil
}

func (c ScopeChecker) hasAnyExact(candidates []string) bool {
	for _, s := range candidates {
		if _, ok := c.granted[s]; ok {
			return true
		}
	}
	return false
}
