package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/shiv248/mdsession/pkg/logger"
	"github.com/shiv248/mdsession/pkg/mdot"
	"github.com/shiv248/mdsession/pkg/store"
)

// UndoConfig bounds the undo/redo stack.
type UndoConfig struct {
	// MaxDepth caps how many grouped edits are kept; older entries are
	// dropped once the stack grows past it.
	MaxDepth int
	// GroupWindow is how close in time consecutive edits must be to
	// merge into a single undo step, mirroring how a text editor groups
	// fast typing into one undo unit.
	GroupWindow time.Duration
}

func (c UndoConfig) withDefaults() UndoConfig {
	if c.MaxDepth <= 0 {
		c.MaxDepth = 200
	}
	if c.GroupWindow <= 0 {
		c.GroupWindow = 700 * time.Millisecond
	}
	return c
}

type undoEntry struct {
	inverse *mdot.TextOperation // applies to go backward (undo)
	forward *mdot.TextOperation // applies to go forward again (redo)
	at      time.Time
	// seq is the journal row backing this entry, 0 if it was never
	// (or is no longer) persisted.
	seq int64
}

// journaledUndo is the wire shape an undoEntry is persisted as: both
// directions, since forward alone can't be inverted back without the
// pre-edit text that produced it.
type journaledUndo struct {
	Forward json.RawMessage `json:"forward"`
	Inverse json.RawMessage `json:"inverse"`
}

// undoStack holds grouped local edits for Undo/Redo. It journals to
// store best-effort; store may be nil. The journal tracks the past
// stack only — once an edit is undone it drops out of durable state,
// so a restart after an undo doesn't resurrect a redo it never
// persisted.
type undoStack struct {
	cfg      UndoConfig
	store    *store.Store
	document string

	mu    sync.Mutex
	past   []undoEntry
	future []undoEntry
}

func newUndoStack(cfg UndoConfig, st *store.Store, document string) *undoStack {
	u := &undoStack{cfg: cfg, store: st, document: document}
	u.restore()
	return u
}

// restore rehydrates the past stack from the durable journal, e.g.
// after a process restart that left pending undo history on disk.
func (u *undoStack) restore() {
	if u.store == nil {
		return
	}
	entries, err := u.store.List(u.document, store.KindUndo)
	if err != nil {
		logger.Error("session: restore undo journal: %v", err)
		return
	}
	past := make([]undoEntry, 0, len(entries))
	for _, e := range entries {
		var j journaledUndo
		if err := json.Unmarshal(e.Operation, &j); err != nil {
			logger.Error("session: decode journaled undo entry: %v", err)
			continue
		}
		forward, err := mdot.FromJSON(j.Forward)
		if err != nil {
			logger.Error("session: decode journaled undo forward op: %v", err)
			continue
		}
		inverse, err := mdot.FromJSON(j.Inverse)
		if err != nil {
			logger.Error("session: decode journaled undo inverse op: %v", err)
			continue
		}
		past = append(past, undoEntry{inverse: inverse, forward: forward, seq: e.Seq})
	}
	u.mu.Lock()
	u.past = past
	u.mu.Unlock()
}

// journal persists entry and returns the sequence number it was
// assigned, or 0 if it could not be (or there is no store).
func (u *undoStack) journal(entry undoEntry) int64 {
	if u.store == nil {
		return 0
	}
	forward, err := entry.forward.MarshalJSON()
	if err != nil {
		logger.Error("session: marshal undo forward op: %v", err)
		return 0
	}
	inverse, err := entry.inverse.MarshalJSON()
	if err != nil {
		logger.Error("session: marshal undo inverse op: %v", err)
		return 0
	}
	data, err := json.Marshal(journaledUndo{Forward: forward, Inverse: inverse})
	if err != nil {
		logger.Error("session: marshal journaled undo entry: %v", err)
		return 0
	}
	seq, err := u.store.Append(u.document, store.KindUndo, data)
	if err != nil {
		logger.Error("session: append undo journal: %v", err)
		return 0
	}
	return seq
}

// record journals a freshly-applied local operation. oldText is the
// replica text before op was applied, used to compute op's inverse.
func (u *undoStack) record(op *mdot.TextOperation, oldText string) {
	inverse := op.Invert(oldText)

	u.mu.Lock()
	defer u.mu.Unlock()

	u.future = nil // any new edit invalidates the redo stack

	now := time.Now()
	if n := len(u.past); n > 0 {
		last := &u.past[n-1]
		if now.Sub(last.at) < u.cfg.GroupWindow {
			composedForward, err := last.forward.Compose(op)
			if err == nil {
				composedInverse, err2 := inverse.Compose(last.inverse)
				if err2 == nil {
					composed := undoEntry{inverse: composedInverse, forward: composedForward, at: now}
					if last.seq != 0 {
						u.store.DeleteSeq(last.seq)
					}
					composed.seq = u.journal(composed)
					*last = composed
					return
				}
			}
		}
	}

	entry := undoEntry{inverse: inverse, forward: op, at: now}
	entry.seq = u.journal(entry)
	u.past = append(u.past, entry)
	if len(u.past) > u.cfg.MaxDepth {
		dropped := u.past[:len(u.past)-u.cfg.MaxDepth]
		u.past = u.past[len(u.past)-u.cfg.MaxDepth:]
		if u.store != nil {
			for _, d := range dropped {
				if d.seq != 0 {
					u.store.DeleteSeq(d.seq)
				}
			}
		}
	}
}

// CanUndo reports whether an undo step is available.
func (s *Session) CanUndo() bool {
	s.undo.mu.Lock()
	defer s.undo.mu.Unlock()
	return len(s.undo.past) > 0
}

// CanRedo reports whether a redo step is available.
func (s *Session) CanRedo() bool {
	s.undo.mu.Lock()
	defer s.undo.mu.Unlock()
	return len(s.undo.future) > 0
}

// Undo reverts the most recent grouped local edit, submitting its
// inverse as a new operation.
func (s *Session) Undo() error {
	s.undo.mu.Lock()
	n := len(s.undo.past)
	if n == 0 {
		s.undo.mu.Unlock()
		return nil
	}
	entry := s.undo.past[n-1]
	s.undo.past = s.undo.past[:n-1]
	if entry.seq != 0 {
		s.undo.store.DeleteSeq(entry.seq)
		entry.seq = 0
	}
	s.undo.future = append(s.undo.future, entry)
	s.undo.mu.Unlock()

	return s.applyWithoutRecording(entry.inverse)
}

// Redo re-applies the most recently undone edit.
func (s *Session) Redo() error {
	s.undo.mu.Lock()
	n := len(s.undo.future)
	if n == 0 {
		s.undo.mu.Unlock()
		return nil
	}
	entry := s.undo.future[n-1]
	s.undo.future = s.undo.future[:n-1]
	entry.seq = s.undo.journal(entry)
	s.undo.past = append(s.undo.past, entry)
	s.undo.mu.Unlock()

	return s.applyWithoutRecording(entry.forward)
}

// ClearHistory discards the undo/redo stacks, e.g. after loading a fresh
// document that shouldn't be undoable into the prior one's state.
func (s *Session) ClearHistory() {
	s.undo.mu.Lock()
	s.undo.past = nil
	s.undo.future = nil
	s.undo.mu.Unlock()

	if s.undo.store != nil {
		s.undo.store.Clear(s.undo.document, store.KindUndo)
	}
}
