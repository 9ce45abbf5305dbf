package ws

import "github.com/huddleplan/call-service/internal/domain"

// Message types carried over the session socket.
const (
	TypeState      = "state"       // full call-state snapshot
	TypePeerJoined = "peer_joined" // participant joined the active room
	TypePeerLeft   = "peer_left"   // participant detached from the call
	TypeChat       = "chat"        // chat message
	TypeChatAck    = "chat_ack"    // send confirmation (NOT a message)
	TypeEvent      = "event"       // room event, "subject:action"
	TypeMetadata   = "metadata"    // active-room metadata snapshot
	TypeReaction   = "reaction"    // inbound only; broadcast comes back as event
)

type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type StatePayload struct {
	MainRoomID     string                `json:"main_room_id,omitempty"`
	ActiveRoomID   string                `json:"active_room_id,omitempty"`
	ActiveRoomKind string                `json:"active_room_kind,omitempty"`
	Members        []domain.Participant  `json:"members"`
	Assignment     *domain.BreakoutRoom  `json:"assignment,omitempty"`
	BreakoutEndsAt int64                 `json:"breakout_ends_at_ms,omitempty"`
	IsHost         bool                  `json:"is_host"`
	Activity       *domain.ActivityState `json:"activity,omitempty"`
	Reactions      []domain.Reaction     `json:"reactions"`
	SubRoomID      string                `json:"sub_room_id,omitempty"`
}

type PeerEventPayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type ChatPayload struct {
	RoomID  string `json:"room_id"`
	UserID  string `json:"user_id"`
	Message string `json:"message"`

	MsgID  string `json:"msg_id,omitempty"`
	TSUnix int64  `json:"ts_unix,omitempty"`
}

// client side: drops pending state and deduplicates on MsgID
type ChatAckPayload struct {
	MsgID string `json:"msg_id"`
}

type EventPayload struct {
	Subject string         `json:"subject"`
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload,omitempty"`
	Sender  string         `json:"sender,omitempty"`
	SubRoom string         `json:"sub_room,omitempty"`
}

type MetadataPayload struct {
	RoomID   string            `json:"room_id"`
	Metadata map[string]string `json:"metadata"`
}

type ReactionPayload struct {
	Emoji string `json:"emoji"`
}
