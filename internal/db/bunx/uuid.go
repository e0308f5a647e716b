package bunx

import "github.com/google/uuid"

// NewUUIDv7 generates a time-ordered UUIDv7 string. Used for audit row ids
// and for the action ids that correlate log lines with audit records.
//
// Panics only if the entropy source fails, in which case nothing else could
// proceed either.
func NewUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}
