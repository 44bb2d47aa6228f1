package session

import "github.com/shiv248/mdsession/internal/protocol"

// canEdit is a pure function of the document's permission and whether
// the viewer is logged in. locked/private/protected optimistically admit
// any authenticated user: the real authority is the server, which may
// still refuse the operation.
func canEdit(perm protocol.Permission, isLoggedIn bool) bool {
	switch perm {
	case protocol.PermissionFreely:
		return true
	case protocol.PermissionEditable, protocol.PermissionLimited,
		protocol.PermissionLocked, protocol.PermissionPrivate, protocol.PermissionProtected:
		return isLoggedIn
	default: // PermissionUnknown and anything unrecognized
		return false
	}
}

// CanEdit reports whether the local client is currently permitted to
// submit edits, per the document's last-known permission.
func (s *Session) CanEdit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return canEdit(s.note.Permission, s.cfg.UserName != "")
}

// Permission returns the document's last-known permission level.
func (s *Session) Permission() protocol.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.note.Permission
}
