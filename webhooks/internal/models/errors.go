package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy shared by every stage of the pipeline. Callers match with
// errors.Is; wrapping context is added with fmt.Errorf("...: %w", err).
var (
	// ErrConfiguration means required credentials or secrets are missing.
	// Never retried; surfaced to the administrator.
	ErrConfiguration = errors.New("configuration error")

	// ErrAuthentication means the delivery's signature did not verify.
	ErrAuthentication = errors.New("authentication failed")

	// ErrDuplicate means the event id was already admitted within the
	// replay window.
	ErrDuplicate = errors.New("duplicate event")

	// ErrUpstreamThrottled means Guesty answered 429 after the single retry.
	ErrUpstreamThrottled = errors.New("upstream throttled")

	// ErrUpstream means Guesty answered with a non-2xx status.
	ErrUpstream = errors.New("upstream error")

	// ErrConnectivity means the token exchange or outbound request could not
	// complete.
	ErrConnectivity = errors.New("upstream connectivity error")

	// ErrProcessing wraps handler failures recorded on the event record.
	ErrProcessing = errors.New("processing error")

	ErrUnknownAccount   = errors.New("unknown account")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrNotFound         = errors.New("not found")
)

// UpstreamError is a non-2xx response from the Guesty API.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("guesty responded %d", e.StatusCode)
	}
	return fmt.Sprintf("guesty responded %d: %s", e.StatusCode, e.Body)
}

// Is reports ErrUpstream for every status and ErrUpstreamThrottled for 429.
func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrUpstream:
		return true
	case ErrUpstreamThrottled:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}
