package domain

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")

	// ErrRoomNotFound means the session has no bound room yet, or a room ID
	// did not resolve on the transport. Recoverable: the caller may offer
	// room creation.
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomCreationFailed = errors.New("room creation failed")

	// ErrTransitionInProgress is returned when a room join/leave is already
	// in flight for this client. The new request is rejected, not queued.
	ErrTransitionInProgress = errors.New("room transition already in progress")
	ErrNotInMainRoom        = errors.New("not in the main room")
	ErrNoBreakoutAssignment = errors.New("no breakout room assigned")

	// ErrMalformedEvent marks a protocol violation on the event channel.
	// Logged and dropped during passive handling, never propagated.
	ErrMalformedEvent   = errors.New("malformed event type")
	ErrActivityNotFound = errors.New("activity not found")
	ErrActivityRunning  = errors.New("activity already running")

	// ErrNotHost: partition/activity-control writes are issued only by the
	// room creator. This is convention, not transport-enforced.
	ErrNotHost = errors.New("operation requires the room host")
)
