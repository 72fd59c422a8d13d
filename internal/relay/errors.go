package relay

import "errors"

var (
	// ErrNoCounterpart is reported when the destination role slot is empty.
	ErrNoCounterpart = errors.New("relay: no counterpart registered")
	// ErrNotRoleHolder is reported when a message kind requires a role the
	// originating connection does not hold.
	ErrNotRoleHolder = errors.New("relay: connection does not hold the required role")
)
