// Package taxonomy defines the error classes that cross the dispatcher
// boundary. Collaborator errors (store, source client, extractor) wrap
// one of these sentinels where they match, and the dispatcher branches on
// them via Classify. The events table's error_message column and the
// logs receive the collaborator's full error text, not only the sentinel
// name.
package taxonomy

import "errors"

var (
	// ErrDuplicateEvent means event_id was already recorded. Dropped silently.
	ErrDuplicateEvent = errors.New("duplicate_event")

	// ErrMalformedPayload means the inbound notification was missing a
	// required field (action.id, card.id, ...). Returned as 400, never recorded.
	ErrMalformedPayload = errors.New("malformed_payload")

	// ErrCardAbsent means the source platform returned 404 for the card.
	// Terminal, non-retryable for the event.
	ErrCardAbsent = errors.New("card_absent")

	// ErrExtractionFailed means the extractor timed out or errored.
	// Terminal, not retried automatically.
	ErrExtractionFailed = errors.New("extraction_failed")

	// ErrStoreDeferred means a streaming-buffer rejection. The operation is
	// enqueued to the pending-updates table; the event is left unfinalized.
	ErrStoreDeferred = errors.New("store_deferred")

	// ErrStorePermanent means a schema violation, authorization failure, or
	// other non-transient store error. Finalized as failed, logged loudly.
	ErrStorePermanent = errors.New("store_permanent")

	// ErrFetchTransient means a network-level blip talking to the source
	// platform that exhausted its bounded in-call retry budget.
	ErrFetchTransient = errors.New("fetch_transient")
)

// Classify returns the taxonomy sentinel that best matches err, preferring
// the first matching sentinel in taxonomy precedence order. Returns nil if
// err is nil, and err itself (unwrapped) if nothing in the taxonomy matches.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		ErrDuplicateEvent,
		ErrMalformedPayload,
		ErrCardAbsent,
		ErrExtractionFailed,
		ErrStoreDeferred,
		ErrStorePermanent,
		ErrFetchTransient,
	} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return err
}
