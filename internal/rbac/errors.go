package rbac

import "errors"

// ErrInvalidConfig is returned when a role configuration document cannot be used.
var ErrInvalidConfig = errors.New("rbac: invalid role configuration")
