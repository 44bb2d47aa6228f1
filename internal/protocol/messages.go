package protocol

import (
	"encoding/json"
	"time"
)

// Envelope is the wire framing for every message: a named event plus its
// raw payload. The transport decodes Event to pick a registered handler
// and hands it Data to unmarshal into the concrete payload type below.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Selection is a client's cursor/selection, carried alongside outgoing
// operations so peers can keep cursor visualisation in sync.
type Selection struct {
	Ranges []Range `json:"ranges"`
}

// Range is a single cursor (Start == End) or selection span, in the
// document's UTF-16 code unit indexing.
type Range struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// UserInfo is a connected user's display profile.
type UserInfo struct {
	ID    uint64  `json:"id"`
	Name  string  `json:"name"`
	Color string  `json:"color"`
	Photo *string `json:"photo,omitempty"`
}

// DocPayload is the server's initial-document event: the full text,
// revision, and (optionally) the set of already-connected clients.
type DocPayload struct {
	Str      string              `json:"str"`
	Revision int                 `json:"revision"`
	Clients  map[uint64]UserInfo `json:"clients,omitempty"`
	Force    bool                `json:"force,omitempty"`
}

// AckPayload acknowledges the client's own operation at Revision.
type AckPayload struct {
	Revision int `json:"revision"`
}

// OperationPayload carries one operation, as the client sends it
// (ClientID is absent/zero) or as the server rebroadcasts it (ClientID
// identifies the author). Operation is the mdot wire form (see pkg/mdot).
type OperationPayload struct {
	ClientID  uint64          `json:"clientId,omitempty"`
	Revision  int             `json:"revision"`
	Operation json.RawMessage `json:"operation"`
	Selection *Selection      `json:"selection,omitempty"`
}

// OperationsPayload answers a get_operations request with the missing
// range, ending at Head.
type OperationsPayload struct {
	Head       int                `json:"head"`
	Operations []OperationPayload `json:"operations"`
}

// AuthorshipSpan is a read-only, server-issued record of which user
// authored a half-open character range; the client never mutates spans
// under local edits (see session.GetDocumentWithAuthorship).
type AuthorshipSpan struct {
	UserID    *string   `json:"userId"`
	Start     int       `json:"start"`
	End       int       `json:"end"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NoteInfo is the document's metadata, pushed by a refresh event.
type NoteInfo struct {
	Title           string              `json:"title"`
	Permission      Permission          `json:"permission"`
	OwnerID         string              `json:"ownerId"`
	Authors         map[string]UserInfo `json:"authors"`
	AuthorshipSpans []AuthorshipSpan    `json:"authorshipSpans"`
}

// OnlineUsersPayload is the full roster of connected clients.
type OnlineUsersPayload struct {
	Users map[uint64]UserInfo `json:"users"`
}

// CursorPayload carries a cursor lifecycle event (focus/activity/blur)
// for one client.
type CursorPayload struct {
	ClientID uint64 `json:"clientId"`
	Position *Range `json:"position,omitempty"`
}

// ClientLeftPayload announces a client's disconnection.
type ClientLeftPayload struct {
	ClientID uint64 `json:"clientId"`
}

// PermissionPayload announces a permission change for the current
// document.
type PermissionPayload struct {
	Permission Permission `json:"permission"`
}

// InfoPayload is a server-originated informational or fatal notice. Codes
// 403/404 are fatal per spec and surface as terminal errors.
type InfoPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
