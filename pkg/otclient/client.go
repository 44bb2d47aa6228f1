package otclient

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shiv248/mdsession/pkg/mdot"
)

// ErrStaleApplyClient is returned by ApplyClient while the FSM is in a
// Stale/StaleWithBuffer recovery state: local edits are rejected until the
// missing operations have been delivered.
var ErrStaleApplyClient = errors.New("otclient: cannot apply a local edit while recovering from a stale ack")

// Collaborators are the three injected hooks the FSM calls out to. Tests
// supply in-memory stand-ins; production code wires them to the transport
// and the document replica (see pkg/session).
type Collaborators struct {
	// SendOperation transmits op, composed against revision, to the server.
	SendOperation func(revision int, op *mdot.TextOperation)
	// ApplyOperation mutates the local replica by op and fans out a
	// "remote" change event.
	ApplyOperation func(op *mdot.TextOperation)
	// GetOperations requests the operations in (base, head] from the
	// server, to resume from a Stale state.
	GetOperations func(base, head int)
}

// Client is the OT client state machine. It holds no document text itself
// — that's the session's replica — only the bookkeeping needed to keep at
// most one operation outstanding and converge under the server's
// revision-acknowledgement protocol.
type Client struct {
	mu    sync.Mutex
	state State
	rev   int
	collab Collaborators
}

// New returns a Client starting in Synchronized state at the given
// revision (typically the revision carried by the server's initial doc
// event).
func New(revision int, collab Collaborators) *Client {
	return &Client{
		state:  State{Kind: Synchronized},
		rev:    revision,
		collab: collab,
	}
}

// State returns a copy of the current tagged-variant state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Revision returns the client's current revision number.
func (c *Client) Revision() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rev
}

// IsSynchronized reports whether no operation is currently in flight.
func (c *Client) IsSynchronized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Kind == Synchronized
}

// ApplyClient handles a local edit. It must not be called while the FSM is
// in a Stale recovery state.
func (c *Client) ApplyClient(op *mdot.TextOperation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.Kind {
	case Synchronized:
		c.state = State{Kind: AwaitingConfirm, Outstanding: op}
		c.collab.SendOperation(c.rev, op)
		return nil
	case AwaitingConfirm:
		c.state = State{Kind: AwaitingWithBuffer, Outstanding: c.state.Outstanding, Buffer: op}
		return nil
	case AwaitingWithBuffer:
		composed, err := c.state.Buffer.Compose(op)
		if err != nil {
			return fmt.Errorf("otclient: compose buffered local edit: %w", err)
		}
		c.state = State{Kind: AwaitingWithBuffer, Outstanding: c.state.Outstanding, Buffer: composed}
		return nil
	default: // Stale, StaleWithBuffer
		return ErrStaleApplyClient
	}
}

// ApplyServer handles an inbound remote operation confirmed at revision
// rev. A gap of more than one revision ahead of the client's local
// revision is fatal — it should only ever happen via an ack, handled by
// ServerAck's recovery path, never here.
func (c *Client) ApplyServer(rev int, op *mdot.TextOperation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rev-c.rev > 1 {
		return fmt.Errorf("otclient: applyServer revision %d is %d ahead of local %d: %w", rev, rev-c.rev, c.rev, ErrInvalidRevision)
	}

	switch c.state.Kind {
	case Synchronized:
		c.rev = rev
		c.collab.ApplyOperation(op)
		return nil
	case AwaitingConfirm:
		outPrime, opPrime, err := mdot.Transform(c.state.Outstanding, op)
		if err != nil {
			return fmt.Errorf("otclient: transform outstanding against remote op: %w", err)
		}
		c.rev = rev
		c.collab.ApplyOperation(opPrime)
		c.state = State{Kind: AwaitingConfirm, Outstanding: outPrime}
		return nil
	case AwaitingWithBuffer:
		outPrime, op1, err := mdot.Transform(c.state.Outstanding, op)
		if err != nil {
			return fmt.Errorf("otclient: transform outstanding against remote op: %w", err)
		}
		bufPrime, op2, err := mdot.Transform(c.state.Buffer, op1)
		if err != nil {
			return fmt.Errorf("otclient: transform buffer against remote op: %w", err)
		}
		c.rev = rev
		c.collab.ApplyOperation(op2)
		c.state = State{Kind: AwaitingWithBuffer, Outstanding: outPrime, Buffer: bufPrime}
		return nil
	default: // Stale, StaleWithBuffer: remote ops keep arriving while we wait on GetOperations.
		return fmt.Errorf("otclient: applyServer called while in %s recovery state: %w", c.state.Kind, ErrInvalidRevision)
	}
}

// ServerAck handles an acknowledgement of our own outstanding operation at
// revision rev. If rev is further ahead than one past the local revision,
// the FSM transitions to a Stale recovery state and requests the missing
// operations via GetOperations.
func (c *Client) ServerAck(rev int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.Kind {
	case Synchronized:
		return ErrNoPendingOperation
	case AwaitingConfirm:
		if rev <= c.rev {
			return fmt.Errorf("otclient: ack for revision %d not ahead of local %d: %w", rev, c.rev, ErrInvalidRevision)
		}
		if rev == c.rev+1 {
			c.rev = rev
			c.state = State{Kind: Synchronized}
			return nil
		}
		out := c.state.Outstanding
		c.state = State{Kind: Stale, Outstanding: out, TargetRevision: rev}
		c.collab.GetOperations(c.rev, rev)
		return nil
	case AwaitingWithBuffer:
		if rev <= c.rev {
			return fmt.Errorf("otclient: ack for revision %d not ahead of local %d: %w", rev, c.rev, ErrInvalidRevision)
		}
		if rev == c.rev+1 {
			buf := c.state.Buffer
			c.rev = rev
			c.state = State{Kind: AwaitingConfirm, Outstanding: buf}
			c.collab.SendOperation(rev, buf)
			return nil
		}
		c.state = State{Kind: StaleWithBuffer, Outstanding: c.state.Outstanding, Buffer: c.state.Buffer, TargetRevision: rev}
		c.collab.GetOperations(c.rev, rev)
		return nil
	default:
		return fmt.Errorf("otclient: ack received while in %s recovery state: %w", c.state.Kind, ErrNoPendingOperation)
	}
}

// ApplyOperations resumes from a Stale/StaleWithBuffer recovery state once
// the server has delivered the missing operations (head is the revision
// they bring the client to).
func (c *Client) ApplyOperations(head int, ops []*mdot.TextOperation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.Kind {
	case Stale:
		out := c.state.Outstanding
		for _, serverOp := range ops {
			outPrime, opPrime, err := mdot.Transform(out, serverOp)
			if err != nil {
				return fmt.Errorf("otclient: fold-transform outstanding during stale recovery: %w", err)
			}
			out = outPrime
			c.collab.ApplyOperation(opPrime)
		}
		c.rev = head
		c.state = State{Kind: AwaitingConfirm, Outstanding: out}
		return nil
	case StaleWithBuffer:
		out, buf := c.state.Outstanding, c.state.Buffer
		for _, serverOp := range ops {
			outPrime, op1, err := mdot.Transform(out, serverOp)
			if err != nil {
				return fmt.Errorf("otclient: fold-transform outstanding during stale recovery: %w", err)
			}
			bufPrime, op2, err := mdot.Transform(buf, op1)
			if err != nil {
				return fmt.Errorf("otclient: fold-transform buffer during stale recovery: %w", err)
			}
			out, buf = outPrime, bufPrime
			c.collab.ApplyOperation(op2)
		}
		c.rev = head
		c.state = State{Kind: AwaitingWithBuffer, Outstanding: out, Buffer: buf}
		return nil
	default:
		return ErrNotStale
	}
}

// ServerReconnect re-sends the outstanding operation, if any, after a
// transport reconnect. The server is expected to either have already
// applied it (in which case it resends an ack) or not to have seen it at
// all (in which case it will process and ack it normally).
func (c *Client) ServerReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Outstanding != nil {
		c.collab.SendOperation(c.rev, c.state.Outstanding)
	}
}

// TransformSelection maps a selection position forward through whatever
// local operations are currently outstanding/buffered, so cursor
// visualisation stays valid while edits are in flight.
func (c *Client) TransformSelection(pos uint64, insertBefore bool) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Outstanding != nil {
		pos = mdot.TransformPosition(pos, c.state.Outstanding, insertBefore)
	}
	if c.state.Buffer != nil {
		pos = mdot.TransformPosition(pos, c.state.Buffer, insertBefore)
	}
	return pos
}
