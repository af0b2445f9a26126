package auth

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ExtractScopes reads a scope claim that is either a list of strings or a
// single space-delimited string. A missing claim yields an empty list.
func ExtractScopes(claims map[string]any, claimField string) ([]string, error) {
	rawValue, ok := claims[claimField]
	if !ok || rawValue == nil {
		return []string{}, nil
	}

	if s, ok := rawValue.(string); ok {
		return strings.Fields(s), nil
	}

	var scopes []string
	if err := mapstructure.Decode(rawValue, &scopes); err != nil {
		return nil, fmt.Errorf("scope claim %s invalid format (expected []string or string): %w", claimField, err)
	}
	return scopes, nil
}

// ExtractClaimString extracts a string claim. ok is false when the claim is
// absent, not a string, or blank.
func ExtractClaimString(claims map[string]any, claimField string) (string, bool) {
	value, ok := claims[claimField].(string)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// ExtractClaimInt64 extracts an integer claim. JSON numbers, json.Number and
// numeric strings are accepted. present is false when the claim is absent;
// err is set when it is present but not an integer.
func ExtractClaimInt64(claims map[string]any, claimField string) (value int64, present bool, err error) {
	rawValue, ok := claims[claimField]
	if !ok || rawValue == nil {
		return 0, false, nil
	}

	switch v := rawValue.(type) {
	case float64:
		if v != float64(int64(v)) {
			return 0, true, fmt.Errorf("claim field %s is not an integer", claimField)
		}
		return int64(v), true, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, true, fmt.Errorf("claim field %s is not an integer: %w", claimField, err)
		}
		return n, true, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, false, nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, true, fmt.Errorf("claim field %s is not an integer: %w", claimField, err)
		}
		return n, true, nil
	}

	var n int64
	if err := mapstructure.WeakDecode(rawValue, &n); err != nil {
		return 0, true, fmt.Errorf("claim field %s is not an integer: %w", claimField, err)
	}
	return n, true, nil
}

// ExtractTenant resolves the tenant for an external token: the requested
// tenant claim when non-blank, otherwise the first entry of the tenant list
// with prefix removed.
func ExtractTenant(claims map[string]any, requestedField, listField, prefix string) (string, bool) {
	if tenant, ok := ExtractClaimString(claims, requestedField); ok {
		return tenant, true
	}

	var tenants []string
	if err := mapstructure.Decode(claims[listField], &tenants); err != nil || len(tenants) == 0 {
		return "", false
	}
	tenant := strings.TrimSpace(StripTenantPrefix(tenants[0], prefix))
	return tenant, tenant != ""
}
