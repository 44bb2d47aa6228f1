// Package otclient implements the OT client state machine (Neil Fraser /
// ShareJS style): it enforces the at-most-one-outstanding-operation rule
// that lets a client converge with a server which acknowledges operations
// by revision number.
package otclient

import "github.com/shiv248/mdsession/pkg/mdot"

// Kind names the five reachable states of the client state machine.
type Kind int

const (
	// Synchronized means no operation is in flight.
	Synchronized Kind = iota
	// AwaitingConfirm means one operation has been sent and not yet acked.
	AwaitingConfirm
	// AwaitingWithBuffer means one operation is outstanding and subsequent
	// local edits have been composed into a single buffered operation.
	AwaitingWithBuffer
	// Stale means an ack arrived for a revision further ahead than the
	// local revision; the client is awaiting the missing operations.
	Stale
	// StaleWithBuffer is Stale with a buffered operation alongside it.
	StaleWithBuffer
)

func (k Kind) String() string {
	switch k {
	case Synchronized:
		return "Synchronized"
	case AwaitingConfirm:
		return "AwaitingConfirm"
	case AwaitingWithBuffer:
		return "AwaitingWithBuffer"
	case Stale:
		return "Stale"
	case StaleWithBuffer:
		return "StaleWithBuffer"
	default:
		return "Unknown"
	}
}

// State is the FSM's current tagged-variant value. Outstanding and Buffer
// are nil when the current Kind doesn't carry them.
type State struct {
	Kind           Kind
	Outstanding    *mdot.TextOperation
	Buffer         *mdot.TextOperation
	TargetRevision int
}
