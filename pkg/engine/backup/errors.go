package backup

import "errors"

// ErrRootUnavailable is returned when the configured remote subtree root
// cannot be read (not found, or permission denied) — fatal to the
// backup operation.
var ErrRootUnavailable = errors.New("backup: root unavailable")
