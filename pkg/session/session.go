// Package session implements SessionClient: a live, editable replica of a
// collaborative markdown document kept convergent with its peers through
// an operational-transformation state machine (pkg/otclient), delivered
// over internal/transport, and hardened with rate limiting, batching,
// undo/redo, and reconnect recovery.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shiv248/mdsession/internal/protocol"
	"github.com/shiv248/mdsession/internal/transport"
	"github.com/shiv248/mdsession/pkg/mdot"
	"github.com/shiv248/mdsession/pkg/otclient"
	"github.com/shiv248/mdsession/pkg/store"
)

// Config configures a Session at construction time. Zero values fall
// back to sane defaults (see New).
type Config struct {
	// Document is the document name/ID this session edits; it also keys
	// the durability journal if Store is non-nil.
	Document string
	// UserName and UserColor identify this client to peers. UserColor
	// defaults to a deterministic pick if empty.
	UserName  string
	UserColor string

	RateLimit RateLimitConfig
	Undo      UndoConfig
	Reconnect ReconnectConfig

	// Store, if non-nil, journals pending operations and undo history so
	// they survive a process restart while disconnected.
	Store *store.Store
}

// Session is a single client's live connection to one collaborative
// document. All exported methods are safe for concurrent use.
type Session struct {
	mu sync.Mutex

	cfg Config

	transport transport.Transport
	otc       *otclient.Client

	replica string // local document text, UTF-16 indexed by mdot

	clientID  uint64
	// pendingRemoteAuthor carries the clientId of the remote operation
	// currently being applied through otclient's ApplyOperation
	// collaborator hook, so the resulting ChangeEvent can attribute it
	// (see handleOperation). Stale recovery batches don't carry
	// per-operation authors, so it is left at zero there.
	pendingRemoteAuthor uint64
	users               map[uint64]protocol.UserInfo
	note      protocol.NoteInfo
	ready     bool
	connected bool

	limiter *rateLimiter
	batch   *batch
	undo    *undoStack
	recon   *reconnectSupervisor

	changeHandlers   []subscriber[ChangeEvent]
	cursorHandlers   []func(clientID uint64, r *protocol.Range)
	presenceHandlers []func(users map[uint64]protocol.UserInfo)
	nextSubID        int

	closed bool
}

// subscriber pairs a callback with an ID so OnChange's returned
// unsubscribe closure can remove exactly one registration.
type subscriber[T any] struct {
	id int
	fn func(T)
}

// ChangeEvent is delivered to OnChange subscribers on every replica
// mutation, local or remote. MacroEngine filters on Local to avoid
// reacting to its own edits.
type ChangeEvent struct {
	Replica   string
	Local     bool
	Operation *mdot.TextOperation
	// AuthorID is the remote author of a non-local change, if known.
	AuthorID uint64
}

// New constructs a Session bound to tr. Call Connect to join the
// document; the Session is otherwise inert until then.
func New(tr transport.Transport, cfg Config) *Session {
	cfg.RateLimit = cfg.RateLimit.withDefaults()
	cfg.Undo = cfg.Undo.withDefaults()
	cfg.Reconnect = cfg.Reconnect.withDefaults()
	if cfg.UserColor == "" {
		cfg.UserColor = defaultColorFor(cfg.UserName)
	}

	s := &Session{
		cfg:       cfg,
		transport: tr,
		users:     make(map[uint64]protocol.UserInfo),
	}
	s.limiter = newRateLimiter(cfg.RateLimit)
	s.limiter.submit = func(op *mdot.TextOperation) error { return s.otc.ApplyClient(op) }
	s.batch = newBatch()
	s.undo = newUndoStack(cfg.Undo, cfg.Store, cfg.Document)
	s.recon = newReconnectSupervisor(s, cfg.Reconnect)

	s.registerHandlers()
	return s
}

func defaultColorFor(seed string) string {
	palette := []string{"#f44336", "#2196f3", "#4caf50", "#ff9800", "#9c27b0", "#009688"}
	if seed == "" {
		return palette[0]
	}
	sum := 0
	for _, r := range seed {
		sum += int(r)
	}
	return palette[sum%len(palette)]
}

// Connect dials the transport and starts watching the connection for
// drops. It returns once the dial succeeds or fails; the document
// snapshot arrives later as a doc event. Journaled pending operations are
// replayed only on the first doc after a reconnect.
func (s *Session) Connect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.transport.Connect(ctx); err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}
	s.recon.onConnected()
	return nil
}

// Close tears down the session and its transport.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.recon.stop()
	return s.transport.Close()
}

// Document returns the current local text.
func (s *Session) Document() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replica
}

// Revision returns the client's current convergence revision.
func (s *Session) Revision() int {
	return s.otc.Revision()
}

// ClientID returns this connection's server-assigned ID. No inbound event
// handled by the session sets it, so it is always zero.
func (s *Session) ClientID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// OnlineUsers returns a snapshot of currently connected users.
func (s *Session) OnlineUsers() map[uint64]protocol.UserInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint64]protocol.UserInfo, len(s.users))
	for id, u := range s.users {
		out[id] = u
	}
	return out
}

// OnChange registers a callback invoked on every replica mutation,
// locally or remotely authored. The returned function unsubscribes it.
func (s *Session) OnChange(fn func(ChangeEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.changeHandlers = append(s.changeHandlers, subscriber[ChangeEvent]{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		out := s.changeHandlers[:0]
		for _, sub := range s.changeHandlers {
			if sub.id != id {
				out = append(out, sub)
			}
		}
		s.changeHandlers = out
	}
}

// OnCursor registers a callback for remote cursor focus/activity/blur.
func (s *Session) OnCursor(fn func(clientID uint64, r *protocol.Range)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursorHandlers = append(s.cursorHandlers, fn)
}

// OnPresence registers a callback invoked whenever the online-users
// roster changes.
func (s *Session) OnPresence(fn func(users map[uint64]protocol.UserInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presenceHandlers = append(s.presenceHandlers, fn)
}

func (s *Session) fireChange(ev ChangeEvent) {
	s.mu.Lock()
	ev.Replica = s.replica
	handlers := append([]subscriber[ChangeEvent]{}, s.changeHandlers...)
	s.mu.Unlock()
	for _, sub := range handlers {
		sub.fn(ev)
	}
}

func (s *Session) firePresence() {
	users := s.OnlineUsers()
	s.mu.Lock()
	handlers := append([]func(map[uint64]protocol.UserInfo){}, s.presenceHandlers...)
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(users)
	}
}

// guardEdit enforces the readiness and permission preconditions shared
// by every edit-API entry point.
func (s *Session) guardEdit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return ErrNotReady
	}
	if perm := s.note.Permission; !canEdit(perm, s.cfg.UserName != "") {
		return &PermissionDeniedError{Permission: perm}
	}
	return nil
}

// applyLocalOperation is shared by every edit helper: it updates the
// replica, journals the op for undo, and hands it to the FSM (or the
// active batch).
func (s *Session) applyLocalOperation(op *mdot.TextOperation) error {
	oldText, err := s.mutateReplica(op)
	if err != nil {
		return err
	}
	s.undo.record(op, oldText)
	return s.dispatch(op)
}

// applyWithoutRecording is applyLocalOperation without pushing a new
// undo entry, used by Undo/Redo themselves to replay an already-recorded
// inverse/forward operation.
func (s *Session) applyWithoutRecording(op *mdot.TextOperation) error {
	if _, err := s.mutateReplica(op); err != nil {
		return err
	}
	return s.dispatch(op)
}

func (s *Session) mutateReplica(op *mdot.TextOperation) (oldText string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", fmt.Errorf("session: closed")
	}
	newText, err := op.Apply(s.replica)
	if err != nil {
		return "", fmt.Errorf("session: apply local operation: %w", err)
	}
	oldText = s.replica
	s.replica = newText
	return oldText, nil
}

func (s *Session) dispatch(op *mdot.TextOperation) error {
	if s.batch.active() {
		s.batch.append(op)
		s.fireChange(ChangeEvent{Local: true, Operation: op})
		return nil
	}
	if err := s.submit(op); err != nil {
		return err
	}
	s.fireChange(ChangeEvent{Local: true, Operation: op})
	return nil
}

// submit runs op through the rate limiter before handing it to the FSM,
// or — if currently disconnected — journals it durably to replay once
// reconnected (see reconnectSupervisor.replayPending), per the
// preserve-the-queue disconnection policy.
func (s *Session) submit(op *mdot.TextOperation) error {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()

	if !connected {
		if s.cfg.Store != nil {
			if data, err := op.MarshalJSON(); err == nil {
				s.cfg.Store.Append(s.cfg.Document, pendingKind, data)
			}
		}
		return nil
	}

	return s.limiter.schedule(op, func() error {
		return s.otc.ApplyClient(op)
	})
}
