package session

import (
	"fmt"
	"sync"

	"github.com/shiv248/mdsession/pkg/mdot"
)

// batch accumulates local edits into a single composed operation instead
// of submitting each one individually, for callers that want to apply
// several edits as one atomic unit (e.g. a find-and-replace-all).
type batch struct {
	mu  sync.Mutex
	on  bool
	op  *mdot.TextOperation
}

func newBatch() *batch {
	return &batch{}
}

func (b *batch) active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.on
}

func (b *batch) append(op *mdot.TextOperation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.op == nil {
		b.op = op
		return
	}
	composed, err := b.op.Compose(op)
	if err != nil {
		// Compose can only fail on a length mismatch, which would mean
		// an edit applied outside the batch raced with it; keep the
		// most recent op rather than corrupt the batch.
		b.op = op
		return
	}
	b.op = composed
}

// StartBatch begins accumulating subsequent local edits into one
// operation instead of sending each individually. Returns an error if a
// batch is already in progress.
func (s *Session) StartBatch() error {
	s.batch.mu.Lock()
	defer s.batch.mu.Unlock()
	if s.batch.on {
		return fmt.Errorf("session: batch already in progress")
	}
	s.batch.on = true
	s.batch.op = nil
	return nil
}

// EndBatch submits the accumulated batch as a single operation. A no-op
// if no edits occurred during the batch.
func (s *Session) EndBatch() error {
	s.batch.mu.Lock()
	op := s.batch.op
	s.batch.on = false
	s.batch.op = nil
	s.batch.mu.Unlock()

	if op == nil {
		return nil
	}
	return s.submit(op)
}

// CancelBatch discards the accumulated batch without submitting it. The
// replica has already been mutated by the batched edits; callers that
// want a true rollback should re-apply the batch's inverse themselves.
func (s *Session) CancelBatch() {
	s.batch.mu.Lock()
	s.batch.on = false
	s.batch.op = nil
	s.batch.mu.Unlock()
}

// Batch runs fn with batching enabled, then ends (or cancels, on error)
// the batch automatically.
func (s *Session) Batch(fn func() error) error {
	if err := s.StartBatch(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		s.CancelBatch()
		return err
	}
	return s.EndBatch()
}
