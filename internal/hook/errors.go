package hook

import "errors"

var (
	// ErrAlreadyAttached is returned by Attach on a hook that is installed.
	ErrAlreadyAttached = errors.New("hook: already attached")

	// ErrNotAttached is returned by Detach on a hook that is not installed.
	ErrNotAttached = errors.New("hook: not attached")

	// ErrOriginalUnreachable means installation did not yield a callable original entry point.
	ErrOriginalUnreachable = errors.New("hook: original entry point unreachable")

	// ErrDrainTimeout means in-flight presentation calls did not finish before the deadline.
	ErrDrainTimeout = errors.New("hook: timed out waiting for in-flight calls")
)
