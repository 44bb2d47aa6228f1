package session

import (
	"fmt"
	"strings"
)

// splitLines splits doc on "\n", matching the semantics line helpers are
// defined against: line i is the text between the i-th and (i+1)-th
// newline, not including the newline itself.
func splitLines(doc string) []string {
	return strings.Split(doc, "\n")
}

// GetLine returns the zero-indexed line i, without its trailing newline.
func (s *Session) GetLine(i int) (string, error) {
	s.mu.Lock()
	lines := splitLines(s.replica)
	s.mu.Unlock()
	if i < 0 || i >= len(lines) {
		return "", fmt.Errorf("session: line %d out of range (%d lines)", i, len(lines))
	}
	return lines[i], nil
}

// GetLines returns the zero-indexed half-open range of lines [from, to).
func (s *Session) GetLines(from, to int) ([]string, error) {
	s.mu.Lock()
	lines := splitLines(s.replica)
	s.mu.Unlock()
	if from < 0 || to > len(lines) || from > to {
		return nil, fmt.Errorf("session: line range [%d,%d) out of range (%d lines)", from, to, len(lines))
	}
	out := make([]string, to-from)
	copy(out, lines[from:to])
	return out, nil
}

// GetLineStart returns the UTF-16 code unit offset of the start of line i.
func (s *Session) GetLineStart(i int) (uint64, error) {
	s.mu.Lock()
	lines := splitLines(s.replica)
	s.mu.Unlock()
	if i < 0 || i >= len(lines) {
		return 0, fmt.Errorf("session: line %d out of range (%d lines)", i, len(lines))
	}
	offset := 0
	for _, l := range lines[:i] {
		offset += utf16Length(l) + 1 // +1 for the newline
	}
	return uint64(offset), nil
}

// GetLineEnd returns the UTF-16 code unit offset just past the end of
// line i's text (before its trailing newline, if any).
func (s *Session) GetLineEnd(i int) (uint64, error) {
	start, err := s.GetLineStart(i)
	if err != nil {
		return 0, err
	}
	line, err := s.GetLine(i)
	if err != nil {
		return 0, err
	}
	return start + uint64(utf16Length(line)), nil
}

// SetLine replaces line i's text, preserving whatever trailing newline
// (or absence of one, for the last line) the document already has.
func (s *Session) SetLine(i int, text string) error {
	start, err := s.GetLineStart(i)
	if err != nil {
		return err
	}
	line, err := s.GetLine(i)
	if err != nil {
		return err
	}
	return s.Replace(start, uint64(utf16Length(line)), text)
}

// InsertLine inserts a new line containing text before the current
// line i (or appends, if i equals the current line count).
func (s *Session) InsertLine(i int, text string) error {
	s.mu.Lock()
	lines := splitLines(s.replica)
	s.mu.Unlock()
	if i < 0 || i > len(lines) {
		return fmt.Errorf("session: line %d out of range (%d lines)", i, len(lines))
	}
	if i == len(lines) {
		var pos uint64
		if len(lines) > 0 {
			end, err := s.GetLineEnd(i - 1)
			if err != nil {
				return err
			}
			pos = end
		}
		return s.Insert(pos, "\n"+text)
	}
	start, err := s.GetLineStart(i)
	if err != nil {
		return err
	}
	return s.Insert(start, text+"\n")
}

// DeleteLine removes line i. Deleting the only line clears the document;
// deleting the last line removes the preceding newline instead of a
// trailing one (there isn't one); deleting any other line removes its
// own trailing newline.
func (s *Session) DeleteLine(i int) error {
	s.mu.Lock()
	lines := splitLines(s.replica)
	s.mu.Unlock()
	if i < 0 || i >= len(lines) {
		return fmt.Errorf("session: line %d out of range (%d lines)", i, len(lines))
	}

	if len(lines) == 1 {
		return s.SetContent("")
	}

	lineText := lines[i]
	start, err := s.GetLineStart(i)
	if err != nil {
		return err
	}

	if i == len(lines)-1 {
		// Last line: remove the preceding newline plus this line's text.
		return s.Delete(start-1, uint64(utf16Length(lineText))+1)
	}
	// Any other line: remove this line's text plus its trailing newline.
	return s.Delete(start, uint64(utf16Length(lineText))+1)
}

// ReplaceLines replaces the half-open line range [from, to) with
// replacement lines, joined by "\n".
func (s *Session) ReplaceLines(from, to int, replacement []string) error {
	s.mu.Lock()
	lines := splitLines(s.replica)
	s.mu.Unlock()
	if from < 0 || to > len(lines) || from > to {
		return fmt.Errorf("session: line range [%d,%d) out of range (%d lines)", from, to, len(lines))
	}

	start, err := s.GetLineStart(from)
	if err != nil {
		return err
	}
	var end uint64
	if to == 0 {
		end = 0
	} else {
		end, err = s.GetLineEnd(to - 1)
		if err != nil {
			return err
		}
	}
	return s.Replace(start, end-start, strings.Join(replacement, "\n"))
}
