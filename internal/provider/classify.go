package provider

import (
	"net/http"
	"strconv"
	"time"

	"github.com/yszxh/gproxy/internal/pool"
)

// Classify maps an upstream non-2xx response to an attempt failure. A nil
// Mark means a client error that the pool surfaces without rotating.
func Classify(status int, header http.Header, body []byte) *pool.AttemptFailure {
	passthrough := &pool.Passthrough{StatusCode: status, Header: header, Body: body}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		// The refresh path already ran; drop the credential for this request
		// only. A zero-duration mark expires immediately, so the next request
		// may try it again.
		return &pool.AttemptFailure{
			Passthrough: passthrough,
			Mark:        pool.Transient(pool.AllModels(), 0, "auth rejected"),
		}
	case status == http.StatusTooManyRequests:
		return &pool.AttemptFailure{
			Passthrough: passthrough,
			Mark:        pool.Transient(pool.AllModels(), retryAfter(header), "rate limited"),
		}
	case status >= 500:
		return &pool.AttemptFailure{
			Passthrough: passthrough,
			Mark:        pool.Transient(pool.AllModels(), 30*time.Second, "upstream error"),
		}
	}
	return &pool.AttemptFailure{Passthrough: passthrough}
}

// NetworkFailure maps a transport-level error to an attempt failure.
func NetworkFailure(err error) *pool.AttemptFailure {
	return &pool.AttemptFailure{
		Passthrough: pool.Synthesize(http.StatusBadGateway, "upstream unreachable: "+err.Error()),
		Mark:        pool.Transient(pool.AllModels(), 10*time.Second, "network error"),
	}
}

// retryAfter parses the Retry-After header in seconds, defaulting to 60.
func retryAfter(header http.Header) time.Duration {
	if value := header.Get("Retry-After"); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 60 * time.Second
}
