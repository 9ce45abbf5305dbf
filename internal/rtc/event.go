package rtc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/huddleplan/call-service/internal/domain"
)

// Action is the verb half of a "subject:action" event type. The three
// reserved actions are handled by the event bus; anything else is delegated
// to the running activity definition.
type Action string

const (
	ActionStart    Action = "start"
	ActionEnd      Action = "end"
	ActionReaction Action = "reaction"
)

// EventType is the parsed form of the wire "subject:action" string. Subject
// is an activity slug, or the emoji payload for reaction events.
type EventType struct {
	Subject string
	Action  Action
}

func (t EventType) String() string { return t.Subject + ":" + string(t.Action) }

// ParseEventType rejects anything that is not exactly "<subject>:<action>"
// with both halves non-empty. Parsing happens once, at the transport
// boundary, so malformed frames never reach dispatch logic.
func ParseEventType(s string) (EventType, error) {
	i := strings.IndexByte(s, ':')
	if i < 0 || strings.IndexByte(s[i+1:], ':') >= 0 {
		return EventType{}, fmt.Errorf("%w: %q", domain.ErrMalformedEvent, s)
	}
	subject, action := s[:i], s[i+1:]
	if subject == "" || action == "" {
		return EventType{}, fmt.Errorf("%w: %q", domain.ErrMalformedEvent, s)
	}
	return EventType{Subject: subject, Action: Action(action)}, nil
}

// Event is one structured message on a room's event channel.
type Event struct {
	Type         EventType
	Payload      map[string]any
	SenderUserID string

	// SubRoomID scopes the event to a sub-partition inside the room (an
	// activity pairing participants further). Empty means room-wide.
	SubRoomID string
}

type wireEvent struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Sender    string         `json:"sender"`
	SubRoomID string         `json:"sub_room_id,omitempty"`
}

func EncodeEvent(ev Event) ([]byte, error) {
	return json.Marshal(wireEvent{
		Type:      ev.Type.String(),
		Payload:   ev.Payload,
		Sender:    ev.SenderUserID,
		SubRoomID: ev.SubRoomID,
	})
}

func DecodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	typ, err := ParseEventType(w.Type)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:         typ,
		Payload:      w.Payload,
		SenderUserID: w.Sender,
		SubRoomID:    w.SubRoomID,
	}, nil
}
