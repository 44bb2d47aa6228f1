package session

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/shiv248/mdsession/pkg/logger"
	"github.com/shiv248/mdsession/pkg/mdot"
	"github.com/shiv248/mdsession/pkg/store"
)

const pendingKind = store.KindPending

func opFromJSON(data []byte) (*mdot.TextOperation, error) {
	return mdot.FromJSON(data)
}

// ReconnectConfig governs the supervised exponential backoff retry loop.
type ReconnectConfig struct {
	Enabled       bool
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	MaxAttempts   int

	// OnTerminalFailure is invoked once reconnection is abandoned
	// (disabled or max attempts exhausted).
	OnTerminalFailure func(err error)
	// OnReplaying is invoked when durable pending operations are about
	// to be resent after a reconnect.
	OnReplaying func(count int)
}

func (c ReconnectConfig) withDefaults() ReconnectConfig {
	c.Enabled = true
	if c.InitialDelay <= 0 {
		c.InitialDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2.0
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	return c
}

// reconnectSupervisor watches the transport's Closed signal and, unless
// the disconnect was intentional (Session.Close), retries connecting
// with exponential backoff.
type reconnectSupervisor struct {
	session *Session
	cfg     ReconnectConfig

	mu           sync.Mutex
	attempts     int
	intentional  bool
	wasReady     bool
	reconnecting bool
	stopCh       chan struct{}
}

func newReconnectSupervisor(s *Session, cfg ReconnectConfig) *reconnectSupervisor {
	return &reconnectSupervisor{session: s, cfg: cfg, stopCh: make(chan struct{})}
}

// onConnected starts watching the transport's Closed channel.
func (r *reconnectSupervisor) onConnected() {
	go r.watch()
}

// onReady is called once a doc event confirms the session is usable
// again, resetting the backoff attempt counter. If this doc event
// followed a reconnect, it also replays whatever was durably queued
// while disconnected — doc is the point at which submit's disconnected
// branch stops firing, so replay must not happen any earlier.
func (r *reconnectSupervisor) onReady() {
	r.mu.Lock()
	r.attempts = 0
	r.wasReady = true
	reconnecting := r.reconnecting
	r.reconnecting = false
	r.mu.Unlock()

	if reconnecting {
		r.replayPending()
	}
}

// stop marks the next disconnect as intentional, suppressing reconnect.
func (r *reconnectSupervisor) stop() {
	r.mu.Lock()
	r.intentional = true
	r.mu.Unlock()
	close(r.stopCh)
}

func (r *reconnectSupervisor) watch() {
	err := <-r.session.transport.Closed()

	r.mu.Lock()
	intentional := r.intentional
	wasReady := r.wasReady
	enabled := r.cfg.Enabled
	r.mu.Unlock()

	r.session.mu.Lock()
	r.session.connected = false
	r.session.mu.Unlock()

	if intentional || !enabled || !wasReady {
		return
	}
	r.mu.Lock()
	r.reconnecting = true
	r.mu.Unlock()
	logger.Info("session: transport closed unexpectedly (%v), starting reconnect", err)
	r.retryLoop()
}

func (r *reconnectSupervisor) retryLoop() {
	for {
		r.mu.Lock()
		attempt := r.attempts
		r.attempts++
		r.mu.Unlock()

		if attempt >= r.cfg.MaxAttempts {
			if r.cfg.OnTerminalFailure != nil {
				r.cfg.OnTerminalFailure(errMaxReconnectAttempts)
			}
			logger.Error("session: reconnect abandoned after %d attempts", attempt)
			return
		}

		delay := time.Duration(math.Min(
			float64(r.cfg.MaxDelay),
			float64(r.cfg.InitialDelay)*math.Pow(r.cfg.BackoffFactor, float64(attempt)),
		))

		select {
		case <-time.After(delay):
		case <-r.stopCh:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := r.session.transport.Connect(ctx)
		cancel()
		if err != nil {
			logger.Error("session: reconnect attempt %d failed: %v", attempt+1, err)
			continue
		}

		// A successful Connect only dials the socket; the session
		// isn't usable again until the next doc event reaches
		// handleDoc and calls onReady, which is what actually
		// triggers replayPending. Re-arm the watch loop and stop
		// retrying — onReady takes it from here.
		go r.watch()
		return
	}
}

func (r *reconnectSupervisor) replayPending() {
	st := r.session.cfg.Store
	doc := r.session.cfg.Document
	if st == nil {
		return
	}
	entries, err := st.List(doc, pendingKind)
	if err != nil || len(entries) == 0 {
		return
	}
	if r.cfg.OnReplaying != nil {
		r.cfg.OnReplaying(len(entries))
	}
	for _, e := range entries {
		op, err := opFromJSON(e.Operation)
		if err != nil {
			logger.Error("session: decode durable pending op: %v", err)
			continue
		}
		if err := r.session.submit(op); err != nil {
			logger.Error("session: replay pending op: %v", err)
		}
	}
	st.Clear(doc, pendingKind)
}

var errMaxReconnectAttempts = &reconnectError{"session: reconnect abandoned: max attempts exhausted"}

type reconnectError struct{ msg string }

func (e *reconnectError) Error() string { return e.msg }
