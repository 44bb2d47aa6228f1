// Package macro implements pattern-driven auto-replacement over a live
// session.Session document: trigger text, regex, template-delimited,
// streaming shell-exec, and block macros, expanded on remote changes
// only so the engine never reacts to its own edits.
package macro

import (
	"regexp"
	"sync"
	"time"

	"github.com/shiv248/mdsession/pkg/logger"
	"github.com/shiv248/mdsession/pkg/session"
)

// maxExpansionIterations bounds the synchronous expansion loop against
// pathological self-triggering macros.
const maxExpansionIterations = 10

// debounceWindow coalesces bursts of remote changes before running the
// expansion loop once.
const debounceWindow = 100 * time.Millisecond

// expander is the common interface every macro kind implements so the
// engine can run them uniformly, in insertion order.
type expander interface {
	name() string
	// findMatches returns non-overlapping match locations in doc, in
	// the byte-offset convention of regexp.FindAllSubmatchIndex.
	findMatches(doc string) [][]int
	// expand computes the replacement for one match, returning false if
	// the macro declines to replace it (e.g. a streaming macro, which
	// only launches a worker instead of replacing synchronously).
	expand(eng *Engine, doc string, loc []int) (string, bool)
	// launchStreaming, for streaming macros, starts an async worker that
	// deletes the match from the document and streams its output in its
	// place; no-op otherwise.
	launchStreaming(eng *Engine, doc string, loc []int)
}

// Engine runs the macro registry against a Session's remote changes.
type Engine struct {
	sess *session.Session

	mu       sync.Mutex
	macros   []expander
	enabled  bool
	userFilter *regexp.Regexp

	processing bool
	debounce   *time.Timer

	streams       sync.WaitGroup
	active        int
	activeWorkers []*streamWorker
	activeMu      sync.Mutex

	unsubscribe func()
}

// New creates an Engine bound to sess. Call Start to begin reacting to
// remote changes.
func New(sess *session.Session) *Engine {
	return &Engine{sess: sess, enabled: true}
}

// SetEnabled toggles whether the engine reacts to changes at all.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
}

// SetUserFilter restricts expansion to remote changes whose author's
// display name matches filter. A nil filter processes all authors.
func (e *Engine) SetUserFilter(filter *regexp.Regexp) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.userFilter = filter
}

// ListMacros returns the registered macro names, in insertion order.
func (e *Engine) ListMacros() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, len(e.macros))
	for i, m := range e.macros {
		names[i] = m.name()
	}
	return names
}

// RemoveMacro unregisters the macro with the given name.
func (e *Engine) RemoveMacro(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.macros[:0]
	for _, m := range e.macros {
		if m.name() != name {
			out = append(out, m)
		}
	}
	e.macros = out
}

func (e *Engine) register(m expander) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.macros = append(e.macros, m)
}

// Start subscribes to the session's change events.
func (e *Engine) Start() {
	e.unsubscribe = e.sess.OnChange(e.onChange)
}

// Stop unsubscribes, cancels any pending debounce, and aborts every
// still-running streaming worker.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.debounce != nil {
		e.debounce.Stop()
	}
	e.mu.Unlock()
	if e.unsubscribe != nil {
		e.unsubscribe()
	}

	e.activeMu.Lock()
	workers := append([]*streamWorker{}, e.activeWorkers...)
	e.activeMu.Unlock()
	for _, w := range workers {
		w.Abort()
	}
}

func (e *Engine) onChange(ev session.ChangeEvent) {
	if ev.Local {
		return
	}

	e.mu.Lock()
	if !e.enabled {
		e.mu.Unlock()
		return
	}
	if e.userFilter != nil {
		u, ok := e.sess.OnlineUsers()[ev.AuthorID]
		if !ok || !e.userFilter.MatchString(u.Name) {
			e.mu.Unlock()
			return
		}
	}
	if e.debounce != nil {
		e.debounce.Stop()
	}
	e.debounce = time.AfterFunc(debounceWindow, e.runExpansionLoop)
	e.mu.Unlock()
}

// Expand runs the expansion loop synchronously, once, independent of
// the debounce timer and without waiting for a remote change. It still
// honors SetEnabled; SetUserFilter has nothing to check against here
// since a manual call names no triggering remote author.
func (e *Engine) Expand() {
	e.mu.Lock()
	if !e.enabled {
		e.mu.Unlock()
		return
	}
	if e.debounce != nil {
		e.debounce.Stop()
	}
	e.mu.Unlock()
	e.runExpansionLoop()
}

func (e *Engine) runExpansionLoop() {
	e.mu.Lock()
	if e.processing {
		e.mu.Unlock()
		return
	}
	e.processing = true
	macros := append([]expander{}, e.macros...)
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.processing = false
		e.mu.Unlock()
	}()

	for iter := 0; iter < maxExpansionIterations; iter++ {
		replaced := e.runOnePass(macros)
		if !replaced {
			break
		}
	}
}

// runOnePass finds all matches for each macro in order, processes them
// right-to-left, and stops at the first successful replacement so the
// caller can re-fetch the document and restart the loop.
func (e *Engine) runOnePass(macros []expander) bool {
	doc := e.sess.Document()

	for _, m := range macros {
		locs := m.findMatches(doc)
		if len(locs) == 0 {
			continue
		}

		for i := len(locs) - 1; i >= 0; i-- {
			loc := locs[i]
			if loc[1] > len(doc) {
				continue
			}

			replacement, ok := m.expand(e, doc, loc)
			if !ok {
				m.launchStreaming(e, doc, loc)
				continue
			}

			if !e.applyMatch(doc, loc, replacement) {
				continue
			}
			return true
		}
	}
	return false
}

// applyMatch re-validates loc's match text against the current replica
// before replacing it, tolerating interleaved remote operations per the
// re-fetch-and-revalidate rule.
func (e *Engine) applyMatch(originalDoc string, loc []int, replacement string) bool {
	matchText := originalDoc[loc[0]:loc[1]]
	current := e.sess.Document()

	start, end := loc[0], loc[1]
	if end > len(current) || current[start:end] != matchText {
		idx := indexFrom(current, matchText, 0)
		if idx < 0 {
			return false
		}
		start, end = idx, idx+len(matchText)
	}

	pos := uint64(utf16Len(current[:start]))
	n := uint64(utf16Len(current[start:end]))
	if err := e.sess.Replace(pos, n, replacement); err != nil {
		logger.Error("macro: replace failed: %v", err)
		return false
	}
	return true
}

func indexFrom(haystack, needle string, from int) int {
	if from >= len(haystack) {
		return -1
	}
	idx := indexOf(haystack[from:], needle)
	if idx < 0 {
		return -1
	}
	return idx + from
}
