package supervisor

import "errors"

var (
	// ErrBlacklisted is returned when an attach is requested for a blacklisted process.
	ErrBlacklisted = errors.New("supervisor: process is blacklisted")

	// ErrRetriesExhausted is returned after the last allowed attach attempt failed.
	ErrRetriesExhausted = errors.New("supervisor: attach retries exhausted")

	// ErrUnsupportedAPI is returned when the host's presentation API cannot be hooked.
	ErrUnsupportedAPI = errors.New("supervisor: unsupported presentation API")

	// ErrBusy is returned when an attach for the same process is already running.
	ErrBusy = errors.New("supervisor: attach already in progress")

	// ErrNotAttached is returned by Detach for a process without an active hook.
	ErrNotAttached = errors.New("supervisor: process not attached")

	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("supervisor: shut down")
)
