// Package errs defines the sentinel error kinds shared across the dispatch
// core. Components wrap one of these with context via fmt.Errorf's %w verb;
// callers discriminate with errors.Is rather than string matching.
package errs

import "errors"

var (
	// ErrTransportClosed marks a client or model stream that ended normally at
	// a suspension point. Triggers graceful teardown, never a retry.
	ErrTransportClosed = errors.New("transport closed")

	// ErrMalformedEnvelope marks inbound JSON that does not match any
	// recognised envelope shape. Logged and skipped; the stream continues.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrToolExtractionFailed marks a selector or argument-extraction call
	// that returned nothing usable.
	ErrToolExtractionFailed = errors.New("tool extraction failed")

	// ErrStoreUnavailable marks a relational-store round-trip failure.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidTime marks a requested execution time that has already
	// passed in the user's zone. Non-retryable.
	ErrInvalidTime = errors.New("invalid time")

	// ErrDuplicateRequest marks a user input already seen in the dedup set
	// or scratchpad for this session.
	ErrDuplicateRequest = errors.New("duplicate request")

	// ErrQueueBroker marks a message-queue broker failure on publish or ack.
	ErrQueueBroker = errors.New("queue broker failure")

	// ErrNotFound marks a lookup that found no matching row. Distinct from
	// ErrStoreUnavailable: the store answered, the row just doesn't exist.
	ErrNotFound = errors.New("not found")
)
