package otclient

import "errors"

var (
	// ErrNoPendingOperation is returned by ServerAck when no operation is
	// outstanding (state is Synchronized).
	ErrNoPendingOperation = errors.New("otclient: ack received with no pending operation")

	// ErrInvalidRevision is returned when an inbound operation or ack
	// arrives more than one revision ahead of the client's local revision
	// outside of the recognized stale-recovery path.
	ErrInvalidRevision = errors.New("otclient: revision gap larger than one")

	// ErrNotStale is returned by ApplyOperations when the client is not
	// currently in a Stale/StaleWithBuffer recovery state.
	ErrNotStale = errors.New("otclient: applyOperations called outside a stale recovery state")
)
