package platform

import "errors"

var (
	// ErrPermissionDenied means the platform rejected a mutation for lack of
	// authorization. It is never retried.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrTransport is a transient delivery or network failure.
	ErrTransport = errors.New("transport error")

	// ErrUnreachable means a direct message could not be delivered.
	ErrUnreachable = errors.New("member unreachable")

	// ErrDeliveryFailed means a log channel post failed.
	ErrDeliveryFailed = errors.New("log delivery failed")
)

// IsRetryable reports whether a mutation error may be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport) && !errors.Is(err, ErrPermissionDenied)
}
