// Package rtc is the boundary to the real-time transport: rooms, membership,
// structured events and the replicated metadata key-value store. The call
// orchestrator only ever sees these interfaces; the in-process hub below and
// the test fake both implement them.
package rtc

import (
	"context"

	"github.com/huddleplan/call-service/internal/domain"
)

type EventHandler func(ev Event)
type MetadataHandler func(md map[string]string)
type ParticipantHandler func(p domain.Participant)

// MediaDefaults are applied on join. Breakout rooms start with the camera
// off by convention.
type MediaDefaults struct {
	CameraOff bool
	MicMuted  bool
}

type CreateRoomParams struct {
	ID       string
	Kind     domain.RoomKind
	Metadata map[string]string
	// AdminUserIDs are granted elevated membership. The first entry is the
	// room creator.
	AdminUserIDs []string
}

type Transport interface {
	// LookupRoom returns domain.ErrRoomNotFound for unknown IDs.
	LookupRoom(ctx context.Context, id string) (Room, error)
	CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error)
}

// Room is a live room handle. Metadata is eventually consistent with
// last-writer-wins merge semantics; UpdateMetadata merges, ClearMetadata
// deletes. Handler registration returns a cancel func; handlers for one room
// are invoked serially relative to each other.
type Room interface {
	ID() string
	Kind() domain.RoomKind
	CreatorUserID() string

	Join(ctx context.Context, p domain.Participant, metadata map[string]string, media MediaDefaults) error
	Leave(ctx context.Context, connectionID string) error
	Members() []domain.Participant

	Metadata() map[string]string
	UpdateMetadata(ctx context.Context, patch map[string]string) error
	ClearMetadata(ctx context.Context, keys ...string) error

	SendEvent(ctx context.Context, ev Event) error

	OnEvent(h EventHandler) (cancel func())
	OnMetadataChanged(h MetadataHandler) (cancel func())
	OnParticipantJoined(h ParticipantHandler) (cancel func())
}
