package session

import (
	"fmt"

	"github.com/shiv248/mdsession/internal/protocol"
)

// PermissionDeniedError is returned by every edit-API entry point when
// canEdit() refuses the current permission level.
type PermissionDeniedError struct {
	Permission protocol.Permission
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("session: edit denied: document permission is %q", e.Permission)
}

// ErrNotReady is returned by edit-API calls made before the initial doc
// event has established a replica and revision.
var ErrNotReady = fmt.Errorf("session: not ready: initial document not yet received")
