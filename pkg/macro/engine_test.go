package macro_test

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/shiv248/mdsession/internal/protocol"
	"github.com/shiv248/mdsession/internal/transport"
	"github.com/shiv248/mdsession/pkg/macro"
	"github.com/shiv248/mdsession/pkg/mdot"
	"github.com/shiv248/mdsession/pkg/session"
)

func mustCompileFilter(name string) *regexp.Regexp {
	return regexp.MustCompile("^" + regexp.QuoteMeta(name) + "$")
}

// settleDelay must exceed the engine's internal debounce window for a
// remote change to have been fully processed by the time a test asserts
// on the resulting document.
const settleDelay = 250 * time.Millisecond

// fakeTransport is an in-memory transport.Transport whose fire method
// plays a server event back through whatever handler the Session
// registered, letting tests drive remote operations without a socket.
type fakeTransport struct {
	handlers map[string]transport.Handler
	closedCh chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]transport.Handler), closedCh: make(chan error)}
}

func (f *fakeTransport) Connect(ctx context.Context) error           { return nil }
func (f *fakeTransport) Emit(event string, payload any) error        { return nil }
func (f *fakeTransport) On(event string, h transport.Handler)        { f.handlers[event] = h }
func (f *fakeTransport) Closed() <-chan error                        { return f.closedCh }
func (f *fakeTransport) Close() error                                { return nil }

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

// newReadySession builds a freely-editable session seeded with doc at
// revision 0, ready to receive simulated remote operations.
func newReadySession(t *testing.T, doc string) (*session.Session, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	s := session.New(tr, session.Config{Document: "doc", UserName: "alice"})
	tr.fire(protocol.EventDoc, protocol.DocPayload{Str: doc, Revision: 0})
	tr.fire(protocol.EventPermission, protocol.PermissionPayload{Permission: protocol.PermissionFreely})
	return s, tr
}

// remoteOp delivers a server operation event at the next revision,
// exactly as handleOperation expects to receive it from the transport.
func remoteOp(t *testing.T, tr *fakeTransport, rev int, authorID uint64, op *mdot.TextOperation) {
	t.Helper()
	wire, err := op.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	tr.fire(protocol.EventOperation, protocol.OperationPayload{
		ClientID:  authorID,
		Revision:  rev,
		Operation: wire,
	})
}

func TestEngine_TextMacroExpandsOnRemoteChange(t *testing.T) {
	s, tr := newReadySession(t, "notes: ")
	eng := macro.New(s)
	eng.AddTextMacro("TODOTAG", "TODO(alice):", false)
	eng.Start()
	defer eng.Stop()

	remoteOp(t, tr, 1, 7, mdot.NewOperation().Retain(7).Insert("TODOTAG"))

	waitFor(t, func() bool { return s.Document() == "notes: TODO(alice):" })
}

func TestEngine_RegexMacroHandlerComputesReplacement(t *testing.T) {
	s, tr := newReadySession(t, "")
	eng := macro.New(s)
	if err := eng.AddRegexMacro("double-digits", `#(\d+)`, func(match string, groups []string, index int) string {
		return groups[0] + groups[0]
	}); err != nil {
		t.Fatal(err)
	}
	eng.Start()
	defer eng.Stop()

	remoteOp(t, tr, 1, 1, mdot.NewOperation().Insert("x#42y"))

	waitFor(t, func() bool { return s.Document() == "x4242y" })
}

func TestEngine_TemplateMacroNonGreedyMultiCharDelimiters(t *testing.T) {
	s, tr := newReadySession(t, "")
	eng := macro.New(s)
	if err := eng.AddTemplateMacro("upper", "{{", "}}", func(content string) string {
		out := make([]byte, len(content))
		for i := 0; i < len(content); i++ {
			c := content[i]
			if c >= 'a' && c <= 'z' {
				c -= 32
			}
			out[i] = c
		}
		return string(out)
	}); err != nil {
		t.Fatal(err)
	}
	eng.Start()
	defer eng.Stop()

	remoteOp(t, tr, 1, 1, mdot.NewOperation().Insert("see {{one}} and {{two}} done"))

	waitFor(t, func() bool { return s.Document() == "see ONE and TWO done" })
}

func TestEngine_BlockMacroReplacesMarkersInclusive(t *testing.T) {
	s, tr := newReadySession(t, "")
	eng := macro.New(s)
	if err := eng.AddBlockMacro("sort", func(content string, ctx macro.BlockContext) string {
		return "[sorted:" + content + "]"
	}); err != nil {
		t.Fatal(err)
	}
	eng.Start()
	defer eng.Stop()

	remoteOp(t, tr, 1, 1, mdot.NewOperation().Insert("before ::BEGIN:sort::\nc,b,a\n::END:sort:: after"))

	waitFor(t, func() bool { return s.Document() == "before [sorted:c,b,a] after" })
}

func TestEngine_IgnoresLocalChanges(t *testing.T) {
	s, _ := newReadySession(t, "")
	eng := macro.New(s)
	eng.AddTextMacro("TRIGGERWORD", "REPLACED", false)
	eng.Start()
	defer eng.Stop()

	if err := s.Insert(0, "TRIGGERWORD"); err != nil {
		t.Fatal(err)
	}

	time.Sleep(settleDelay)
	if got, want := s.Document(), "TRIGGERWORD"; got != want {
		t.Fatalf("local edit must not trigger macro expansion: document = %q, want %q", got, want)
	}
}

func TestEngine_UserFilterIgnoresUnmatchedAuthor(t *testing.T) {
	s, tr := newReadySession(t, "")
	eng := macro.New(s)
	eng.AddTextMacro("TAGGED", "EXPANDED", false)
	eng.SetUserFilter(mustCompileFilter("bob"))
	eng.Start()
	defer eng.Stop()

	tr.fire(protocol.EventOnlineUsers, protocol.OnlineUsersPayload{
		Users: map[uint64]protocol.UserInfo{7: {ID: 7, Name: "alice"}},
	})
	remoteOp(t, tr, 1, 7, mdot.NewOperation().Insert("TAGGED"))

	time.Sleep(settleDelay)
	if got, want := s.Document(), "TAGGED"; got != want {
		t.Fatalf("unmatched author's change must not expand: document = %q, want %q", got, want)
	}
}

func TestEngine_StreamingMacroInsertsSubprocessOutput(t *testing.T) {
	s, tr := newReadySession(t, "before TRIGGER after")
	eng := macro.New(s)
	err := eng.AddStreamingExecMacro("echoer", "TRIGGER",
		func(match string, groups []string) string { return "printf 'one\\ntwo\\n'" },
		macro.StreamingOptions{LineBuffered: true},
	)
	if err != nil {
		t.Fatal(err)
	}
	eng.Start()
	defer eng.Stop()

	remoteOp(t, tr, 1, 1, mdot.NewOperation().Retain(20))

	waitFor(t, func() bool { return s.Document() == "before one\ntwo\n after" })
	eng.WaitForStreams()

	if eng.HasActiveStreams() {
		t.Fatal("expected no active streams once WaitForStreams returns")
	}
}

// TestEngine_ExpandRunsSynchronously checks the public manual trigger:
// a document already containing a trigger, edited by something other
// than a remote operation event (so onChange's debounce never fires),
// still expands once Expand is called directly.
func TestEngine_ExpandRunsSynchronously(t *testing.T) {
	s, _ := newReadySession(t, "notes: TODOTAG")
	eng := macro.New(s)
	eng.AddTextMacro("TODOTAG", "TODO(alice):", false)
	eng.Start()
	defer eng.Stop()

	eng.Expand()

	if got, want := s.Document(), "notes: TODO(alice):"; got != want {
		t.Fatalf("document after Expand = %q, want %q", got, want)
	}
}

func TestEngine_ExpandNoopWhenDisabled(t *testing.T) {
	s, _ := newReadySession(t, "TODOTAG")
	eng := macro.New(s)
	eng.AddTextMacro("TODOTAG", "TODO(alice):", false)
	eng.SetEnabled(false)
	eng.Start()
	defer eng.Stop()

	eng.Expand()

	if got, want := s.Document(), "TODOTAG"; got != want {
		t.Fatalf("Expand should be a no-op while disabled: document = %q, want %q", got, want)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
