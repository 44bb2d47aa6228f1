package session

import (
	"unicode/utf16"

	"github.com/shiv248/mdsession/internal/protocol"
)

// AuthorshipView is the joined result of GetDocumentWithAuthorship:
// the live document text, the author profiles keyed by user ID, and the
// server's last-pushed authorship spans. Spans are a read-only snapshot
// — they are not transformed under local edits and only change on the
// next refresh event.
type AuthorshipView struct {
	Content string
	Authors map[string]protocol.UserInfo
	Spans   []protocol.AuthorshipSpan
}

// GetTextByAuthor returns the concatenation of every span attributed to
// userID, in document order. Spans are UTF-16 code unit offsets, the
// same convention mdot and the wire protocol use everywhere else.
func (v AuthorshipView) GetTextByAuthor(userID string) string {
	units := utf16.Encode([]rune(v.Content))
	var out []uint16
	for _, span := range v.Spans {
		if span.UserID == nil || *span.UserID != userID {
			continue
		}
		if span.Start < 0 || span.End > len(units) || span.Start > span.End {
			continue
		}
		out = append(out, units[span.Start:span.End]...)
	}
	return string(utf16.Decode(out))
}

// GetAuthorAtPosition returns the user ID attributed to the span
// covering pos (a UTF-16 code unit offset), or "" if no span covers it.
func (v AuthorshipView) GetAuthorAtPosition(pos int) string {
	for _, span := range v.Spans {
		if pos >= span.Start && pos < span.End {
			if span.UserID == nil {
				return ""
			}
			return *span.UserID
		}
	}
	return ""
}

// GetDocumentWithAuthorship joins the live replica with the last-known
// authorship spans and author profiles.
func (s *Session) GetDocumentWithAuthorship() AuthorshipView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return AuthorshipView{
		Content: s.replica,
		Authors: s.note.Authors,
		Spans:   s.note.AuthorshipSpans,
	}
}
