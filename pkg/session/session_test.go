package session

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/shiv248/mdsession/internal/protocol"
	"github.com/shiv248/mdsession/internal/transport"
	"github.com/shiv248/mdsession/pkg/mdot"
	"github.com/shiv248/mdsession/pkg/store"
)

// fakeTransport is an in-memory stand-in for transport.Transport: Emit
// records every outgoing envelope instead of sending it anywhere, and
// fire lets a test play back server events through the handlers the
// Session registered with On.
type fakeTransport struct {
	handlers map[string]transport.Handler
	emitted  []fakeEmit
	closedCh chan error
}

type fakeEmit struct {
	event   string
	payload []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]transport.Handler), closedCh: make(chan error)}
}

func (f *fakeTransport) Connect(ctx context.Context) error { return nil }

func (f *fakeTransport) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.emitted = append(f.emitted, fakeEmit{event: event, payload: data})
	return nil
}

func (f *fakeTransport) On(event string, h transport.Handler) { f.handlers[event] = h }

func (f *fakeTransport) Closed() <-chan error { return f.closedCh }

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) fire(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	h, ok := f.handlers[event]
	if !ok {
		return
	}
	h(protocol.Envelope{Event: event, Data: data})
}

// newReadySession builds a Session over a fakeTransport, delivers an
// initial doc event at the given text/revision, and marks the document
// freely editable so the permission guard never interferes with tests
// that aren't specifically about permissions.
func newReadySession(t *testing.T, doc string, revision int) (*Session, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	s := New(tr, Config{Document: "test-doc", UserName: "alice"})
	tr.fire(protocol.EventDoc, protocol.DocPayload{Str: doc, Revision: revision})
	s.mu.Lock()
	s.connected = true
	s.note.Permission = protocol.PermissionFreely
	s.mu.Unlock()
	return s, tr
}

func TestSession_InsertUpdatesReplicaNotRevision(t *testing.T) {
	s, _ := newReadySession(t, "hello world", 0)

	if err := s.Insert(5, "X"); err != nil {
		t.Fatal(err)
	}
	if got, want := s.Document(), "helloX world"; got != want {
		t.Fatalf("document = %q, want %q", got, want)
	}
	if s.Revision() != 0 {
		t.Fatalf("revision changed to %d before ack", s.Revision())
	}
}

func TestSession_DeleteAndReplace(t *testing.T) {
	s, _ := newReadySession(t, "hello world", 0)

	if err := s.Delete(5, 6); err != nil {
		t.Fatal(err)
	}
	if got, want := s.Document(), "hello"; got != want {
		t.Fatalf("document = %q, want %q", got, want)
	}

	if err := s.Replace(0, 5, "goodbye"); err != nil {
		t.Fatal(err)
	}
	if got, want := s.Document(), "goodbye"; got != want {
		t.Fatalf("document = %q, want %q", got, want)
	}
}

func TestSession_EditRejectedBeforeReady(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr, Config{Document: "test-doc"})
	if err := s.Insert(0, "x"); err != ErrNotReady {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestSession_EditRejectedByPermission(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr, Config{Document: "test-doc"}) // no UserName: anonymous
	tr.fire(protocol.EventDoc, protocol.DocPayload{Str: "abc", Revision: 0})
	s.mu.Lock()
	s.note.Permission = protocol.PermissionLimited
	s.mu.Unlock()

	err := s.Insert(0, "x")
	if _, ok := err.(*PermissionDeniedError); !ok {
		t.Fatalf("expected *PermissionDeniedError, got %v (%T)", err, err)
	}
}

func TestSession_UpdateContentMinimalDiff(t *testing.T) {
	s, tr := newReadySession(t, "the quick brown fox", 0)

	if err := s.UpdateContent("the quick red fox"); err != nil {
		t.Fatal(err)
	}
	if got, want := s.Document(), "the quick red fox"; got != want {
		t.Fatalf("document = %q, want %q", got, want)
	}

	// Exactly one operation event counts as "a single replace": find the
	// most recent emitted operation and confirm it isn't a full
	// delete-all+insert-all (it should retain the common prefix/suffix).
	if len(tr.emitted) == 0 {
		t.Fatal("expected an emitted operation")
	}
	last := tr.emitted[len(tr.emitted)-1]
	var payload protocol.OperationPayload
	if err := json.Unmarshal(last.payload, &payload); err != nil {
		t.Fatal(err)
	}
	op, err := mdot.FromJSON(payload.Operation)
	if err != nil {
		t.Fatal(err)
	}
	retains := 0
	for _, a := range op.Ops() {
		if _, ok := a.(mdot.Retain); ok {
			retains++
		}
	}
	if retains == 0 {
		t.Fatal("updateContent should retain the common prefix/suffix, found no Retain atoms")
	}
}

func TestSession_UpdateContentNoopWhenUnchanged(t *testing.T) {
	s, tr := newReadySession(t, "same", 0)
	before := len(tr.emitted)

	if err := s.UpdateContent("same"); err != nil {
		t.Fatal(err)
	}
	if len(tr.emitted) != before {
		t.Fatalf("expected no operation emitted for identical content, emitted %d more", len(tr.emitted)-before)
	}
}

func TestSession_ReplaceRegexRightToLeft(t *testing.T) {
	s, _ := newReadySession(t, "a1 b2 c3", 0)

	pattern := regexp.MustCompile(`\d`)
	err := s.ReplaceRegex(pattern, Replacer{Func: func(match string, groups []string, index int, doc string) string {
		switch match {
		case "1":
			return "11"
		case "2":
			return "12"
		case "3":
			return "13"
		}
		return match
	}})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := s.Document(), "a11 b12 c13"; got != want {
		t.Fatalf("document = %q, want %q", got, want)
	}
}

// TestSession_ReplaceRegexSubmitsSeparateOperations guards against
// ReplaceRegex/ReplaceFirst silently composing every match into one
// operation the way Batch would. Right-to-left, the last match ("3")
// is submitted first; since the FSM starts Synchronized it goes out on
// the wire immediately, before the other two matches are even
// processed. If that first emitted operation carried all three
// replacements it would target a much longer document than replacing
// "3" alone does.
func TestSession_ReplaceRegexSubmitsSeparateOperations(t *testing.T) {
	s, tr := newReadySession(t, "a1 b2 c3", 0)
	opsBefore := len(tr.emitted)

	pattern := regexp.MustCompile(`\d`)
	err := s.ReplaceRegex(pattern, Replacer{Literal: "$&$&"})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := s.Document(), "a11 b22 c33"; got != want {
		t.Fatalf("document = %q, want %q", got, want)
	}
	if got := len(tr.emitted) - opsBefore; got != 1 {
		t.Fatalf("expected exactly 1 emitted operation before any ack (the rest buffered in the FSM), got %d", got)
	}

	var payload protocol.OperationPayload
	if err := json.Unmarshal(tr.emitted[len(tr.emitted)-1].payload, &payload); err != nil {
		t.Fatal(err)
	}
	op, err := mdot.FromJSON(payload.Operation)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := op.TargetLength(), uint64(len("a1 b2 c33")); got != want {
		t.Fatalf("first emitted op targets length %d, want %d (single-match replace, not all three composed)", got, want)
	}
}

func TestSession_BatchComposesIntoOneSubmission(t *testing.T) {
	sequential, _ := newReadySession(t, "abc", 0)
	if err := sequential.Insert(0, "X"); err != nil {
		t.Fatal(err)
	}
	if err := sequential.Insert(1, "Y"); err != nil {
		t.Fatal(err)
	}
	if err := sequential.Insert(2, "Z"); err != nil {
		t.Fatal(err)
	}
	wantDoc := sequential.Document()

	batched, tr := newReadySession(t, "abc", 0)
	opsBefore := len(tr.emitted)
	err := batched.Batch(func() error {
		if err := batched.Insert(0, "X"); err != nil {
			return err
		}
		if err := batched.Insert(1, "Y"); err != nil {
			return err
		}
		return batched.Insert(2, "Z")
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := batched.Document(); got != wantDoc {
		t.Fatalf("batched document = %q, want %q (sequential)", got, wantDoc)
	}
	if got := len(tr.emitted) - opsBefore; got != 1 {
		t.Fatalf("expected exactly 1 emitted operation from the batch, got %d", got)
	}
}

func TestSession_BatchCancelOnError(t *testing.T) {
	s, tr := newReadySession(t, "abc", 0)
	opsBefore := len(tr.emitted)

	boom := context.Canceled
	err := s.Batch(func() error {
		if err := s.Insert(0, "X"); err != nil {
			return err
		}
		return boom
	})
	if err != boom {
		t.Fatalf("expected boom error to propagate, got %v", err)
	}
	if len(tr.emitted) != opsBefore {
		t.Fatalf("cancelled batch should not emit, got %d new emissions", len(tr.emitted)-opsBefore)
	}
	// cancelBatch does not roll back the replica mutation that already
	// happened; the document reflects the partial edit.
	if got, want := s.Document(), "Xabc"; got != want {
		t.Fatalf("document = %q, want %q", got, want)
	}
}

func TestSession_UndoRedoRoundTrip(t *testing.T) {
	s, _ := newReadySession(t, "start", 0)

	if err := s.Insert(5, " one"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(s.cfg.Undo.GroupWindow + 10*time.Millisecond)
	if err := s.Insert(9, " two"); err != nil {
		t.Fatal(err)
	}

	if !s.CanUndo() {
		t.Fatal("expected CanUndo after edits")
	}
	if err := s.Undo(); err != nil {
		t.Fatal(err)
	}
	if got, want := s.Document(), "start one"; got != want {
		t.Fatalf("after first undo: document = %q, want %q", got, want)
	}
	if err := s.Undo(); err != nil {
		t.Fatal(err)
	}
	if got, want := s.Document(), "start"; got != want {
		t.Fatalf("after second undo: document = %q, want %q", got, want)
	}
	if s.CanUndo() {
		t.Fatal("expected no more undo entries")
	}

	if err := s.Redo(); err != nil {
		t.Fatal(err)
	}
	if err := s.Redo(); err != nil {
		t.Fatal(err)
	}
	if got, want := s.Document(), "start one two"; got != want {
		t.Fatalf("after redos: document = %q, want %q", got, want)
	}
}

func TestSession_UndoGroupingWithinInterval(t *testing.T) {
	s, _ := newReadySession(t, "", 0)
	s.undo.cfg.GroupWindow = 500 * time.Millisecond

	if err := s.Insert(0, "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(1, "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(2, "c"); err != nil {
		t.Fatal(err)
	}
	// All three fall within one group: a single undo should return to "".
	if err := s.Undo(); err != nil {
		t.Fatal(err)
	}
	if got, want := s.Document(), ""; got != want {
		t.Fatalf("document = %q, want %q after single undo of grouped edits", got, want)
	}
}

func TestSession_NewLocalEditClearsRedoStack(t *testing.T) {
	s, _ := newReadySession(t, "x", 0)

	if err := s.Insert(1, "1"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(s.cfg.Undo.GroupWindow + 10*time.Millisecond)
	if err := s.Undo(); err != nil {
		t.Fatal(err)
	}
	if !s.CanRedo() {
		t.Fatal("expected a redo entry after undo")
	}

	time.Sleep(s.cfg.Undo.GroupWindow + 10*time.Millisecond)
	if err := s.Insert(1, "2"); err != nil {
		t.Fatal(err)
	}
	if s.CanRedo() {
		t.Fatal("a new local edit must clear the redo stack")
	}
}

func TestSession_RateLimiterPreservesSubmissionOrder(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr, Config{
		Document: "doc",
		UserName: "alice",
		RateLimit: RateLimitConfig{
			MinInterval: 20 * time.Millisecond,
			Burst:       2,
			BurstWindow: time.Second,
		},
	})
	tr.fire(protocol.EventDoc, protocol.DocPayload{Str: "", Revision: 0})
	s.mu.Lock()
	s.connected = true
	s.note.Permission = protocol.PermissionFreely
	s.mu.Unlock()

	opsBefore := len(tr.emitted)
	if err := s.Insert(0, "A"); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(1, "B"); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(2, "C"); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(3, "D"); err != nil {
		t.Fatal(err)
	}

	if got, want := s.Document(), "ABCD"; got != want {
		t.Fatalf("document = %q, want %q", got, want)
	}

	// The FSM keeps one operation in flight; ack each one as the server
	// would so the next can be sent.
	deadline := time.Now().Add(2 * time.Second)
	acked := 0
	for len(tr.emitted)-opsBefore < 4 && time.Now().Before(deadline) {
		for acked < len(tr.emitted)-opsBefore {
			acked++
			tr.fire(protocol.EventAck, protocol.AckPayload{Revision: acked})
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := len(tr.emitted) - opsBefore; got != 4 {
		t.Fatalf("expected all 4 operations to drain to the FSM, got %d", got)
	}

	var inserted []string
	for _, e := range tr.emitted[opsBefore:] {
		var payload protocol.OperationPayload
		if err := json.Unmarshal(e.payload, &payload); err != nil {
			t.Fatal(err)
		}
		op, err := mdot.FromJSON(payload.Operation)
		if err != nil {
			t.Fatal(err)
		}
		for _, a := range op.Ops() {
			if ins, ok := a.(mdot.Insert); ok {
				inserted = append(inserted, ins.Text)
			}
		}
	}
	want := []string{"A", "B", "C", "D"}
	if len(inserted) != len(want) {
		t.Fatalf("inserted = %v, want %v", inserted, want)
	}
	for i := range want {
		if inserted[i] != want[i] {
			t.Fatalf("inserted[%d] = %q, want %q (order must match submission order)", i, inserted[i], want[i])
		}
	}
}

func TestSession_LineHelpers(t *testing.T) {
	s, _ := newReadySession(t, "one\ntwo\nthree\n", 0)

	line, err := s.GetLine(1)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := line, "two"; got != want {
		t.Fatalf("GetLine(1) = %q, want %q", got, want)
	}
	if err := s.SetLine(1, "TWO"); err != nil {
		t.Fatal(err)
	}
	if got, want := s.Document(), "one\nTWO\nthree\n"; got != want {
		t.Fatalf("document = %q, want %q", got, want)
	}
	if err := s.DeleteLine(1); err != nil {
		t.Fatal(err)
	}
	if got, want := s.Document(), "one\nthree\n"; got != want {
		t.Fatalf("document after DeleteLine = %q, want %q", got, want)
	}
}

// TestSession_ReconnectReplaysPendingOperations guards against replay
// firing before the session is actually usable again. Connect only
// dials the socket; replay must wait for the post-reconnect doc event
// (the point where submit's disconnected branch stops journaling
// instead of sending), or the durably-queued op gets re-journaled and
// then wiped instead of resent.
func TestSession_ReconnectReplaysPendingOperations(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	tr := newFakeTransport()
	s := New(tr, Config{Document: "reconnect-doc", UserName: "alice", Store: st})
	tr.fire(protocol.EventDoc, protocol.DocPayload{Str: "hello", Revision: 0})
	s.mu.Lock()
	s.note.Permission = protocol.PermissionFreely
	s.mu.Unlock()

	// Simulate watch() having observed an unexpected disconnect: the
	// transport is down and a reconnect is in flight.
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.recon.mu.Lock()
	s.recon.reconnecting = true
	s.recon.mu.Unlock()

	if err := s.Insert(5, "!"); err != nil {
		t.Fatal(err)
	}

	entries, err := st.List("reconnect-doc", store.KindPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 durably queued op while disconnected, got %d", len(entries))
	}

	opsBefore := len(tr.emitted)

	// The transport dial itself (not simulated here) never flips
	// connected back to true; only the doc event that follows does.
	tr.fire(protocol.EventDoc, protocol.DocPayload{Str: "hello", Revision: 0})

	if got := len(tr.emitted) - opsBefore; got != 1 {
		t.Fatalf("expected the queued op to replay onto the wire once ready, got %d new emissions", got)
	}

	entries, err = st.List("reconnect-doc", store.KindPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected pending journal cleared after replay, got %d entries", len(entries))
	}
}
