// Package protocol defines the wire messages exchanged between
// SessionClient and the collaborative markdown server: the event names,
// their payload shapes, and the permission vocabulary. The transport
// itself — framing, reconnection, delivery ordering — is internal/transport;
// this package only describes what travels over it.
package protocol

// SystemUserID is the user ID used for system-generated operations and
// initial state (max uint64, to avoid conflicts with real user IDs which
// start at 0).
const SystemUserID = ^uint64(0)

// Outbound event names: emitted by the client.
const (
	EventOperation     = "operation"
	EventGetOperations = "get_operations"
	EventRefresh       = "refresh"
	EventOnlineUsers   = "online users"
	EventVersion       = "version"
)

// Inbound event names: emitted by the server.
const (
	EventDoc         = "doc"
	EventAck         = "ack"
	EventOperations  = "operations"
	EventUserStatus  = "user status"
	EventCursorFocus = "cursor focus"
	EventCursorMove  = "cursor activity"
	EventCursorBlur  = "cursor blur"
	EventClientLeft  = "client_left"
	EventPermission  = "permission"
	EventDelete      = "delete"
	EventInfo        = "info"
)

// Permission is the server-authoritative access level for a document.
// Unknown is reserved for defensive zero-values; canEdit treats it as
// deny regardless of login state (see pkg/session).
type Permission string

const (
	PermissionFreely    Permission = "freely"
	PermissionEditable  Permission = "editable"
	PermissionLimited   Permission = "limited"
	PermissionLocked    Permission = "locked"
	PermissionPrivate   Permission = "private"
	PermissionProtected Permission = "protected"
	PermissionUnknown   Permission = "unknown"
)
