package bunx

import "github.com/google/uuid"

// NewUUIDv7 generates a time-ordered UUIDv7 string for session primary keys.
// Legacy session tokens are looked up by hash, so ordering only serves the
// index on id.
func NewUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}
