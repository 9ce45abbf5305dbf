package domain

import "time"

// ActivityState is the local view of the shared activity running in the
// active room. Zero value means no activity.
type ActivityState struct {
	Slug      string    `json:"slug"`
	Phase     string    `json:"phase"`
	StartedAt time.Time `json:"started_at"`
}

func (a ActivityState) Running() bool { return a.Slug != "" }

// Reaction is a client-local, ephemeral emoji reaction. Reactions are never
// written to room metadata; each client replays the broadcast event locally
// and drops the entry after a fixed display duration.
type Reaction struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}
