package otclient

import (
	"errors"
	"testing"

	"github.com/shiv248/mdsession/pkg/mdot"
)

// fakeReplica is a tiny in-memory replica collaborator for FSM tests:
// ApplyOperation mutates local state the same way a real session would.
type fakeReplica struct {
	doc  string
	sent []struct {
		rev int
		op  *mdot.TextOperation
	}
	gotOpsRequests []struct{ base, head int }
}

func (r *fakeReplica) collaborators() Collaborators {
	return Collaborators{
		SendOperation: func(rev int, op *mdot.TextOperation) {
			r.sent = append(r.sent, struct {
				rev int
				op  *mdot.TextOperation
			}{rev, op})
		},
		ApplyOperation: func(op *mdot.TextOperation) {
			out, err := op.Apply(r.doc)
			if err != nil {
				panic(err)
			}
			r.doc = out
		},
		GetOperations: func(base, head int) {
			r.gotOpsRequests = append(r.gotOpsRequests, struct{ base, head int }{base, head})
		},
	}
}

func TestFSM_ConcurrentInsertSamePosition(t *testing.T) {
	r := &fakeReplica{doc: "hello world"}
	c := New(0, r.collaborators())

	local := mdot.NewOperation().Retain(5).Insert("X").Retain(6)
	if err := c.ApplyClient(local); err != nil {
		t.Fatal(err)
	}
	// A session applies local edits to its replica before the FSM sees them.
	r.doc = "helloX world"
	if c.State().Kind != AwaitingConfirm {
		t.Fatalf("expected AwaitingConfirm, got %s", c.State().Kind)
	}

	remote := mdot.NewOperation().Retain(5).Insert("Y").Retain(6)
	if err := c.ApplyServer(1, remote); err != nil {
		t.Fatal(err)
	}
	if r.doc != "helloXY world" {
		t.Fatalf("expected left-hand tie-break helloXY world, got %q", r.doc)
	}
	if c.State().Kind != AwaitingConfirm {
		t.Fatalf("expected still AwaitingConfirm, got %s", c.State().Kind)
	}

	if err := c.ServerAck(2); err != nil {
		t.Fatal(err)
	}
	if !c.IsSynchronized() {
		t.Fatal("expected Synchronized after ack")
	}
	if c.Revision() != 2 {
		t.Fatalf("expected revision 2, got %d", c.Revision())
	}
}

func TestFSM_BufferedLocalEditsCompose(t *testing.T) {
	r := &fakeReplica{doc: "abc"}
	c := New(0, r.collaborators())

	first := mdot.NewOperation().Retain(3).Insert("1")
	if err := c.ApplyClient(first); err != nil {
		t.Fatal(err)
	}

	second := mdot.NewOperation().Retain(4).Insert("2")
	if err := c.ApplyClient(second); err != nil {
		t.Fatal(err)
	}
	if c.State().Kind != AwaitingWithBuffer {
		t.Fatalf("expected AwaitingWithBuffer, got %s", c.State().Kind)
	}

	// Ack the outstanding; the buffer should now be sent as the new
	// outstanding operation.
	if err := c.ServerAck(1); err != nil {
		t.Fatal(err)
	}
	if c.State().Kind != AwaitingConfirm {
		t.Fatalf("expected AwaitingConfirm after ack, got %s", c.State().Kind)
	}
	if len(r.sent) != 2 {
		t.Fatalf("expected 2 sends (initial + buffer flush), got %d", len(r.sent))
	}
}

func TestFSM_AckWithNoPendingOperation(t *testing.T) {
	r := &fakeReplica{}
	c := New(0, r.collaborators())
	if err := c.ServerAck(1); !errors.Is(err, ErrNoPendingOperation) {
		t.Errorf("expected ErrNoPendingOperation, got %v", err)
	}
}

func TestFSM_StaleRecovery(t *testing.T) {
	r := &fakeReplica{doc: "hello"}
	c := New(5, r.collaborators())

	out := mdot.NewOperation().Retain(5).Insert("!")
	if err := c.ApplyClient(out); err != nil {
		t.Fatal(err)
	}
	r.doc = "hello!"

	// Ack arrives for revision 8, three ahead of our local 5.
	if err := c.ServerAck(8); err != nil {
		t.Fatal(err)
	}
	if c.State().Kind != Stale {
		t.Fatalf("expected Stale, got %s", c.State().Kind)
	}
	if len(r.gotOpsRequests) != 1 || r.gotOpsRequests[0] != (struct{ base, head int }{5, 8}) {
		t.Fatalf("expected GetOperations(5, 8), got %+v", r.gotOpsRequests)
	}

	op6 := mdot.NewOperation().Retain(5)
	op7 := mdot.NewOperation().Retain(5)
	op8 := mdot.NewOperation().Retain(5)
	if err := c.ApplyOperations(8, []*mdot.TextOperation{op6, op7, op8}); err != nil {
		t.Fatal(err)
	}
	if c.State().Kind != AwaitingConfirm {
		t.Fatalf("expected AwaitingConfirm after recovery, got %s", c.State().Kind)
	}
	if c.Revision() != 8 {
		t.Fatalf("expected revision 8, got %d", c.Revision())
	}
}

func TestFSM_ApplyClientRejectedWhileStale(t *testing.T) {
	r := &fakeReplica{doc: "x"}
	c := New(0, r.collaborators())
	_ = c.ApplyClient(mdot.NewOperation().Retain(1).Insert("y"))
	_ = c.ServerAck(5) // jumps to Stale

	if err := c.ApplyClient(mdot.NewOperation().Retain(1).Insert("z")); !errors.Is(err, ErrStaleApplyClient) {
		t.Errorf("expected ErrStaleApplyClient, got %v", err)
	}
}

func TestFSM_InvalidRevisionGapIsFatal(t *testing.T) {
	r := &fakeReplica{doc: "x"}
	c := New(0, r.collaborators())
	if err := c.ApplyServer(3, mdot.NewOperation().Retain(1)); !errors.Is(err, ErrInvalidRevision) {
		t.Errorf("expected ErrInvalidRevision, got %v", err)
	}
}

func TestFSM_ServerReconnectResendsOutstanding(t *testing.T) {
	r := &fakeReplica{doc: "hi"}
	c := New(0, r.collaborators())
	out := mdot.NewOperation().Retain(2).Insert("!")
	_ = c.ApplyClient(out)
	r.sent = nil

	c.ServerReconnect()
	if len(r.sent) != 1 {
		t.Fatalf("expected one resend, got %d", len(r.sent))
	}
}
