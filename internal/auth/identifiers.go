package auth

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultTenantPrefix marks tenant entries in an external token's tenant list.
// Example: "tenant:acme" → "acme"
const DefaultTenantPrefix = "tenant:"

// StripTenantPrefix removes prefix from a tenant list entry when present.
func StripTenantPrefix(entry, prefix string) string {
	if prefix == "" {
		return entry
	}
	return strings.TrimPrefix(entry, prefix)
}

// TenantEntry formats a tenant id the way external tokens list it.
// Example: TenantEntry("acme", "tenant:") → "tenant:acme"
func TenantEntry(tenant, prefix string) string {
	return prefix + tenant
}

// ParseOfficeID parses an office selection. Blank or non-integer values are rejected.
func ParseOfficeID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("office is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("office %q is not an integer", raw)
	}
	return id, nil
}

// FormatID renders a numeric identity the way it is stored on a Principal.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
