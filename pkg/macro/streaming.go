package macro

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shiv248/mdsession/pkg/logger"
	"github.com/shiv248/mdsession/pkg/mdot"
	"github.com/shiv248/mdsession/pkg/session"
)

// maxInsertRetries bounds the bounded-retry-with-backoff rule for
// bounds-clamped inserts racing concurrent remote edits.
const maxInsertRetries = 3

// StreamingOptions configures a streaming exec macro's worker behaviour.
type StreamingOptions struct {
	// LineBuffered splits stdout on '\n' and inserts complete lines
	// (plus the newline); otherwise each decoded read is inserted raw.
	LineBuffered bool
	// UseDocumentContext, if set, substitutes {DOC}/{BEFORE}/{AFTER}
	// into the built command in addition to {0}/{1..n}.
	UseDocumentContext bool

	OnStart func(name string)
	OnData  func(name, chunk string)
	OnEnd   func(name string)
	OnError func(name string, err error)
}

// CommandBuilder constructs the shell command string for one match,
// given the full match and its capture groups.
type CommandBuilder func(match string, groups []string) string

// streamingMacro launches an async subprocess worker per match instead
// of replacing synchronously.
type streamingMacro struct {
	macroName string
	pattern   *regexp.Regexp
	build     CommandBuilder
	opts      StreamingOptions
}

// AddStreamingExecMacro registers a macro whose expansion is the live
// stdout of a shell command, inserted incrementally at a position that
// tracks concurrent remote edits.
func (e *Engine) AddStreamingExecMacro(name, pattern string, build CommandBuilder, opts StreamingOptions) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.register(&streamingMacro{macroName: name, pattern: re, build: build, opts: opts})
	return nil
}

func (m *streamingMacro) name() string { return "streaming:" + m.macroName }

func (m *streamingMacro) findMatches(doc string) [][]int {
	return m.pattern.FindAllSubmatchIndex([]byte(doc), -1)
}

// expand always declines: streaming macros never produce a synchronous
// replacement, only an async worker via launchStreaming.
func (m *streamingMacro) expand(*Engine, string, []int) (string, bool) { return "", false }

func (m *streamingMacro) launchStreaming(eng *Engine, doc string, loc []int) {
	match := doc[loc[0]:loc[1]]
	groups := make([]string, 0, len(loc)/2-1)
	for i := 2; i+1 < len(loc); i += 2 {
		if loc[i] < 0 {
			groups = append(groups, "")
			continue
		}
		groups = append(groups, doc[loc[i]:loc[i+1]])
	}

	command := substitutePlaceholders(m.build(match, groups), match, groups, doc, loc, m.opts.UseDocumentContext)

	w := &streamWorker{
		eng:       eng,
		macroName: m.macroName,
		opts:      m.opts,
		command:   command,
		cursorPos: uint64(utf16Len(doc[:loc[0]])),
		matchLen:  uint64(utf16Len(match)),
		matchText: match,
	}
	eng.startStream(w)
}

// substitutePlaceholders fills {0}, {1..n}, and (if useDocumentContext)
// {DOC}/{BEFORE}/{AFTER} into a command template, shell-quoting every
// substituted value.
func substitutePlaceholders(command, match string, groups []string, doc string, loc []int, useDocumentContext bool) string {
	out := strings.ReplaceAll(command, "{0}", shellQuote(match))
	for i, g := range groups {
		out = strings.ReplaceAll(out, fmt.Sprintf("{%d}", i+1), shellQuote(g))
	}
	if useDocumentContext {
		out = strings.ReplaceAll(out, "{DOC}", shellQuote(doc))
		out = strings.ReplaceAll(out, "{BEFORE}", shellQuote(doc[:loc[0]]))
		out = strings.ReplaceAll(out, "{AFTER}", shellQuote(doc[loc[1]:]))
	}
	return out
}

// shellQuote wraps s in single quotes, escaping embedded single quotes
// the POSIX-portable way: close, literal quote, reopen.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// streamWorker holds one streaming macro invocation's local state, per
// spec: cursorPos tracks where the next chunk is inserted, inserting
// suppresses self-reentrancy into the change handler, and aborted stops
// the subprocess and lets the worker exit cleanly.
type streamWorker struct {
	eng       *Engine
	macroName string
	opts      StreamingOptions
	command   string

	mu        sync.Mutex
	cursorPos uint64
	matchLen  uint64
	matchText string

	cancel context.CancelFunc

	inserting atomic.Bool
	aborted   atomic.Bool
}

// Abort kills the worker's subprocess and sets its aborted flag so its
// streaming loop exits cleanly instead of treating the kill as failure.
func (w *streamWorker) Abort() {
	w.aborted.Store(true)
	if w.cancel != nil {
		w.cancel()
	}
}

// startStream runs w on its own goroutine, tracked by the engine's
// stream WaitGroup, active-count, and worker registry so
// waitForStreams/hasActiveStreams/Stop can observe and abort it.
func (e *Engine) startStream(w *streamWorker) {
	e.streams.Add(1)
	e.activeMu.Lock()
	e.active++
	e.activeWorkers = append(e.activeWorkers, w)
	e.activeMu.Unlock()

	go func() {
		defer func() {
			e.activeMu.Lock()
			e.active--
			out := e.activeWorkers[:0]
			for _, other := range e.activeWorkers {
				if other != w {
					out = append(out, other)
				}
			}
			e.activeWorkers = out
			e.activeMu.Unlock()
			e.streams.Done()
		}()
		w.run()
	}()
}

// WaitForStreams blocks until every active streaming worker finishes.
func (e *Engine) WaitForStreams() { e.streams.Wait() }

// HasActiveStreams reports whether any streaming worker is currently running.
func (e *Engine) HasActiveStreams() bool {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	return e.active > 0
}

func (w *streamWorker) run() {
	if w.opts.OnStart != nil {
		w.opts.OnStart(w.macroName)
	}

	current := w.eng.sess.Document()
	idx := indexOf(current, w.matchText)
	if idx < 0 {
		// Match no longer locatable; abort without mutating anything.
		if w.opts.OnError != nil {
			w.opts.OnError(w.macroName, fmt.Errorf("macro: streaming match %q no longer present", w.matchText))
		}
		return
	}
	w.cursorPos = uint64(utf16Len(current[:idx]))

	prevRateLimit := true
	w.eng.sess.SetRateLimitEnabled(false)
	defer w.eng.sess.SetRateLimitEnabled(prevRateLimit)

	if err := w.deleteMatchWithRetry(); err != nil {
		if w.opts.OnError != nil {
			w.opts.OnError(w.macroName, err)
		}
		return
	}

	unsubscribe := w.eng.sess.OnChange(w.onChange)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", w.command)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		if w.opts.OnError != nil {
			w.opts.OnError(w.macroName, err)
		}
		return
	}
	if err := cmd.Start(); err != nil {
		if w.opts.OnError != nil {
			w.opts.OnError(w.macroName, err)
		}
		return
	}

	if w.opts.LineBuffered {
		w.streamLines(stdout)
	} else {
		w.streamRaw(stdout)
	}

	if err := cmd.Wait(); err != nil && !w.aborted.Load() {
		logger.Error("macro: streaming worker %s: %v", w.macroName, err)
		if w.opts.OnError != nil {
			w.opts.OnError(w.macroName, err)
		}
	}
	if w.opts.OnEnd != nil {
		w.opts.OnEnd(w.macroName)
	}
}

func (w *streamWorker) streamLines(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if w.aborted.Load() {
			return
		}
		w.insertChunk(scanner.Text() + "\n")
	}
}

func (w *streamWorker) streamRaw(stdout io.Reader) {
	buf := make([]byte, 4096)
	for {
		if w.aborted.Load() {
			return
		}
		n, err := stdout.Read(buf)
		if n > 0 {
			w.insertChunk(string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

func (w *streamWorker) insertChunk(chunk string) {
	if chunk == "" {
		return
	}
	w.mu.Lock()
	pos := w.cursorPos
	w.mu.Unlock()

	docLen := uint64(utf16Len(w.eng.sess.Document()))
	if pos > docLen {
		pos = docLen
	}

	w.inserting.Store(true)
	defer w.inserting.Store(false)

	var lastErr error
	for attempt := 0; attempt < maxInsertRetries; attempt++ {
		if err := w.eng.sess.Insert(pos, chunk); err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt+1) * 20 * time.Millisecond)
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		w.aborted.Store(true)
		if w.opts.OnError != nil {
			w.opts.OnError(w.macroName, lastErr)
		}
		return
	}

	w.mu.Lock()
	w.cursorPos += uint64(utf16Len(chunk))
	w.mu.Unlock()

	if w.opts.OnData != nil {
		w.opts.OnData(w.macroName, chunk)
	}
}

func (w *streamWorker) deleteMatchWithRetry() error {
	var lastErr error
	for attempt := 0; attempt < maxInsertRetries; attempt++ {
		if err := w.eng.sess.Delete(w.cursorPos, w.matchLen); err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt+1) * 20 * time.Millisecond)
			continue
		}
		return nil
	}
	return fmt.Errorf("macro: streaming delete failed: %w", lastErr)
}

// onChange transforms cursorPos through every remote operation,
// skipping operations this worker itself caused (inserting=true).
func (w *streamWorker) onChange(ev session.ChangeEvent) {
	if ev.Local || w.inserting.Load() || ev.Operation == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cursorPos = mdot.TransformPosition(w.cursorPos, ev.Operation, true)
}
