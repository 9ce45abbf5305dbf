// Package activity defines the registry of shared activity definitions and
// the context handed to their event handlers.
package activity

import (
	"github.com/huddleplan/call-service/internal/rtc"
)

// Context is the shared state an activity handler may read and mutate. It is
// only valid for the duration of one HandleEvent call.
type Context struct {
	Room   rtc.Room
	UserID string
	IsHost bool

	// Phase is the current local phase; SetPhase transitions it.
	Phase    string
	SetPhase func(phase string)

	// State is activity-scoped mutable state, local to this client.
	State map[string]any

	// SetSubRoom narrows which events this client accepts (activities that
	// partition their participants further, e.g. into pairs).
	SetSubRoom func(subRoomID string)
}

// Definition is one installable activity.
type Definition interface {
	Slug() string
	InitialPhase() string
	// HandleEvent receives actions other than the reserved start/end/reaction.
	HandleEvent(ev rtc.Event, c *Context) error
}

type Registry interface {
	Lookup(slug string) (Definition, bool)
}

type registry struct {
	defs map[string]Definition
}

func NewRegistry(defs ...Definition) Registry {
	m := make(map[string]Definition, len(defs))
	for _, d := range defs {
		m[d.Slug()] = d
	}
	return &registry{defs: m}
}

func (r *registry) Lookup(slug string) (Definition, bool) {
	d, ok := r.defs[slug]
	return d, ok
}

// BuiltIn returns the activities shipped with the service.
func BuiltIn() Registry {
	return NewRegistry(Icebreaker{}, PairShare{})
}
