package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoData means no output arrived within the poll window. The
	// channel is still live; callers should poll again.
	ErrNoData = errors.New("no data within poll window")

	// ErrChannelClosed means the channel is permanently closed: the child
	// exited, the master handle was closed, or an unrecoverable I/O error
	// occurred. It is a terminal condition, never retryable, and must stay
	// distinguishable from ErrNoData.
	ErrChannelClosed = errors.New("pty channel closed")

	// ErrWorkingDirectoryMissing is returned before any process is
	// spawned when the requested working directory does not exist.
	ErrWorkingDirectoryMissing = errors.New("working directory does not exist")
)

// SpawnError reports that a session's command could not be started. It is
// surfaced to the caller at creation time; no session is registered.
type SpawnError struct {
	Command []string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %q: %v", strings.Join(e.Command, " "), e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
