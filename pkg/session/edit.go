package session

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf16"

	"github.com/shiv248/mdsession/pkg/mdot"
)

func utf16Length(s string) int {
	return len(utf16.Encode([]rune(s)))
}

// padded builds a TextOperation that retains [0,pos), applies the given
// atoms, then retains the remainder of the current document.
func (s *Session) padded(pos, consumed uint64, apply func(op *mdot.TextOperation)) (*mdot.TextOperation, error) {
	s.mu.Lock()
	docLen := uint64(utf16Length(s.replica))
	s.mu.Unlock()

	if pos > docLen || pos+consumed > docLen {
		return nil, fmt.Errorf("session: position %d (consuming %d) out of bounds for document of length %d", pos, consumed, docLen)
	}

	op := mdot.NewOperation().Retain(pos)
	apply(op)
	if rest := docLen - pos - consumed; rest > 0 {
		op.Retain(rest)
	}
	return op, nil
}

// Insert inserts text at the UTF-16 code unit position pos.
func (s *Session) Insert(pos uint64, text string) error {
	if err := s.guardEdit(); err != nil {
		return err
	}
	op, err := s.padded(pos, 0, func(op *mdot.TextOperation) { op.Insert(text) })
	if err != nil {
		return err
	}
	return s.applyLocalOperation(op)
}

// Delete removes n UTF-16 code units starting at pos.
func (s *Session) Delete(pos, n uint64) error {
	if err := s.guardEdit(); err != nil {
		return err
	}
	op, err := s.padded(pos, n, func(op *mdot.TextOperation) { op.Delete(n) })
	if err != nil {
		return err
	}
	return s.applyLocalOperation(op)
}

// Replace deletes n UTF-16 code units at pos and inserts text in their
// place, as a single operation.
func (s *Session) Replace(pos, n uint64, text string) error {
	if err := s.guardEdit(); err != nil {
		return err
	}
	op, err := s.padded(pos, n, func(op *mdot.TextOperation) {
		op.Delete(n)
		op.Insert(text)
	})
	if err != nil {
		return err
	}
	return s.applyLocalOperation(op)
}

// SetContent replaces the entire document with newStr.
func (s *Session) SetContent(newStr string) error {
	if err := s.guardEdit(); err != nil {
		return err
	}
	s.mu.Lock()
	docLen := uint64(utf16Length(s.replica))
	s.mu.Unlock()

	op := mdot.NewOperation()
	if docLen > 0 {
		op.Delete(docLen)
	}
	if newStr != "" {
		op.Insert(newStr)
	}
	return s.applyLocalOperation(op)
}

// UpdateContent replaces the document with newStr via the minimal single
// replace: the common prefix and common suffix with the current
// replica are trimmed, and only the differing middle is replaced.
func (s *Session) UpdateContent(newStr string) error {
	if err := s.guardEdit(); err != nil {
		return err
	}
	s.mu.Lock()
	old := s.replica
	s.mu.Unlock()

	oldUnits := utf16.Encode([]rune(old))
	newUnits := utf16.Encode([]rune(newStr))

	prefix := 0
	for prefix < len(oldUnits) && prefix < len(newUnits) && oldUnits[prefix] == newUnits[prefix] {
		prefix++
	}
	// Keep surrogate pairs whole on both cut points.
	if prefix > 0 && oldUnits[prefix-1] >= 0xD800 && oldUnits[prefix-1] < 0xDC00 {
		prefix--
	}
	oldSuffix, newSuffix := len(oldUnits), len(newUnits)
	for oldSuffix > prefix && newSuffix > prefix && oldUnits[oldSuffix-1] == newUnits[newSuffix-1] {
		oldSuffix--
		newSuffix--
	}
	if oldSuffix < len(oldUnits) && oldUnits[oldSuffix] >= 0xDC00 && oldUnits[oldSuffix] < 0xE000 {
		oldSuffix++
		newSuffix++
	}

	if prefix == oldSuffix && prefix == newSuffix {
		return nil // identical content
	}

	op := mdot.NewOperation().Retain(uint64(prefix))
	if n := oldSuffix - prefix; n > 0 {
		op.Delete(uint64(n))
	}
	if mid := string(utf16.Decode(newUnits[prefix:newSuffix])); mid != "" {
		op.Insert(mid)
	}
	if rest := len(oldUnits) - oldSuffix; rest > 0 {
		op.Retain(uint64(rest))
	}
	return s.applyLocalOperation(op)
}

// ApplyOperation submits a caller-built operation directly.
func (s *Session) ApplyOperation(op *mdot.TextOperation) error {
	if err := s.guardEdit(); err != nil {
		return err
	}
	return s.applyLocalOperation(op)
}

// Replacer is either a literal replacement string supporting $1..$n/$&
// expansion, or a function computing the replacement from the match.
type Replacer struct {
	Literal string
	Func    func(match string, groups []string, index int, doc string) string
}

func (r Replacer) expand(doc string, loc []int) string {
	match := doc[loc[0]:loc[1]]
	if r.Func != nil {
		groups := make([]string, 0, len(loc)/2-1)
		for i := 2; i < len(loc); i += 2 {
			if loc[i] < 0 {
				groups = append(groups, "")
				continue
			}
			groups = append(groups, doc[loc[i]:loc[i+1]])
		}
		return r.Func(match, groups, loc[0], doc)
	}
	out := strings.ReplaceAll(r.Literal, "$&", match)
	for i := len(loc)/2 - 1; i >= 1; i-- {
		group := ""
		if loc[2*i] >= 0 {
			group = doc[loc[2*i]:loc[2*i+1]]
		}
		out = strings.ReplaceAll(out, fmt.Sprintf("$%d", i), group)
	}
	return out
}

// ReplaceRegex replaces every match of pattern with repl, processing
// matches right-to-left so earlier replacements never shift the byte
// offsets of later ones.
func (s *Session) ReplaceRegex(pattern *regexp.Regexp, repl Replacer) error {
	return s.replaceMatches(pattern, repl, -1)
}

// ReplaceFirst replaces only the first match of pattern.
func (s *Session) ReplaceFirst(pattern *regexp.Regexp, repl Replacer) error {
	return s.replaceMatches(pattern, repl, 1)
}

func (s *Session) replaceMatches(pattern *regexp.Regexp, repl Replacer, limit int) error {
	if err := s.guardEdit(); err != nil {
		return err
	}
	s.mu.Lock()
	doc := s.replica
	s.mu.Unlock()

	locs := pattern.FindAllSubmatchIndex([]byte(doc), limit)
	if len(locs) == 0 {
		return nil
	}

	// Each match is submitted as its own operation, right-to-left so
	// earlier replacements never shift the positions of later ones.
	// They are not batched: a caller watching the wire sees one
	// operation per match, not one composed operation for the whole
	// replace-all.
	for i := len(locs) - 1; i >= 0; i-- {
		loc := locs[i]
		replacement := repl.expand(doc, loc)
		pos := uint64(utf16Length(doc[:loc[0]]))
		n := uint64(utf16Length(doc[loc[0]:loc[1]]))
		if err := s.Replace(pos, n, replacement); err != nil {
			return err
		}
	}
	return nil
}
