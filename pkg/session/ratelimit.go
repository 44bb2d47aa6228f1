package session

import (
	"sync"
	"time"

	"github.com/shiv248/mdsession/pkg/mdot"
)

// RateLimitConfig bounds how fast local edits are submitted. A token
// check admits an operation immediately iff at least MinInterval has
// elapsed since the last admitted op AND fewer than Burst ops were
// admitted within the trailing BurstWindow; anything else queues.
type RateLimitConfig struct {
	MinInterval time.Duration
	Burst       int
	BurstWindow time.Duration
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.MinInterval <= 0 {
		c.MinInterval = 50 * time.Millisecond
	}
	if c.Burst <= 0 {
		c.Burst = 20
	}
	if c.BurstWindow <= 0 {
		c.BurstWindow = time.Second
	}
	return c
}

// queuedOp is one operation waiting on the rate-limit FIFO. Its base
// length (op.BaseLength()) is what the drain worker checks against
// baseAnchor to detect staleness before applying it.
type queuedOp struct {
	op *mdot.TextOperation
}

// rateLimiter implements the minInterval/burst token check plus a FIFO
// drain queue for operations that don't pass it immediately.
type rateLimiter struct {
	cfg RateLimitConfig

	mu        sync.Mutex
	enabled   bool
	lastOp    time.Time
	admitted  []time.Time // admission timestamps within the trailing burst window
	queue     []queuedOp
	draining  bool
	drainWake chan struct{}

	// baseAnchor is the base length the queue head must match: the
	// document length immediately before the oldest still-queued op was
	// built. It advances as the queue drains and is kept in sync with
	// remote interference by transformQueued. Comparing against it,
	// rather than the live (already locally-mutated) document length,
	// means later siblings built and applied eagerly while earlier
	// siblings are still queued don't make the earlier ones look stale.
	baseAnchor uint64

	// submit runs an admitted operation through the FSM; set by Session.
	submit func(op *mdot.TextOperation) error
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	return &rateLimiter{cfg: cfg, enabled: true, drainWake: make(chan struct{}, 1)}
}

// SetRateLimitEnabled flips enforcement on/off. Disabling does not flush
// the queue; the drain worker simply stops waiting on admission checks
// for new submissions and lets the existing queue clear at full speed.
func (s *Session) SetRateLimitEnabled(enabled bool) {
	s.limiter.mu.Lock()
	s.limiter.enabled = enabled
	s.limiter.mu.Unlock()
}

func (l *rateLimiter) admit(now time.Time) bool {
	if !l.enabled {
		return true
	}
	if !l.lastOp.IsZero() && now.Sub(l.lastOp) < l.cfg.MinInterval {
		return false
	}
	cutoff := now.Add(-l.cfg.BurstWindow)
	kept := l.admitted[:0]
	for _, t := range l.admitted {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.admitted = kept
	return len(l.admitted) < l.cfg.Burst
}

func (l *rateLimiter) recordAdmission(now time.Time) {
	l.lastOp = now
	l.admitted = append(l.admitted, now)
}

// schedule runs fn immediately if the queue is empty and the token check
// admits it now, else enqueues op to drain in FIFO order once admission
// allows. The queue-empty check matters even when admit would otherwise
// succeed: admitting a later op ahead of older queued ones would reorder
// them on the wire.
func (l *rateLimiter) schedule(op *mdot.TextOperation, fn func() error) error {
	now := time.Now()

	l.mu.Lock()
	if len(l.queue) == 0 && l.admit(now) {
		l.recordAdmission(now)
		l.mu.Unlock()
		return fn()
	}

	if len(l.queue) == 0 {
		l.baseAnchor = op.BaseLength()
	}
	l.queue = append(l.queue, queuedOp{op: op})
	alreadyDraining := l.draining
	l.draining = true
	l.mu.Unlock()

	if !alreadyDraining {
		go l.drain()
	}
	return nil
}

func (l *rateLimiter) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.draining = false
			l.mu.Unlock()
			return
		}
		head := l.queue[0]
		now := time.Now()
		if !l.admit(now) {
			wait := l.cfg.MinInterval
			l.mu.Unlock()
			time.Sleep(wait)
			continue
		}
		l.recordAdmission(now)
		anchor := l.baseAnchor
		l.queue = l.queue[1:]
		if len(l.queue) > 0 {
			l.baseAnchor = head.op.TargetLength()
		}
		submit := l.submit
		l.mu.Unlock()

		if head.op.BaseLength() != anchor {
			// Stale base: dropped rather than applied against the wrong
			// document length.
			continue
		}
		if submit != nil {
			submit(head.op)
		}
	}
}

// transformQueued walks the pending queue in insertion order and
// transforms each entry's operation against remoteOp, advancing a
// rolling copy of remoteOp analogously, so queued ops stay valid against
// the post-remote-op document. Entries whose transform fails are
// dropped.
func (l *rateLimiter) transformQueued(remoteOp *mdot.TextOperation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rolling := remoteOp
	out := l.queue[:0]
	for _, q := range l.queue {
		opPrime, rollingPrime, err := mdot.Transform(q.op, rolling)
		if err != nil {
			continue
		}
		rolling = rollingPrime
		out = append(out, queuedOp{op: opPrime})
	}
	l.queue = out
	if len(out) > 0 {
		l.baseAnchor = out[0].op.BaseLength()
	}
}
