package http

import "time"

type ErrorResponse struct {
	Error string `json:"error"`
}

type CreateSessionRequest struct {
	CourseName     string    `json:"course_name"`
	Topic          string    `json:"topic"`
	ScheduledStart time.Time `json:"scheduled_start"`
}

type SessionItem struct {
	ID             string    `json:"id"`
	HostUserID     string    `json:"host_user_id"`
	CourseName     string    `json:"course_name"`
	Topic          string    `json:"topic"`
	ScheduledStart time.Time `json:"scheduled_start"`
	CallRoomID     *string   `json:"call_room_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type SessionsListResponse struct {
	Items      []SessionItem `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type RoomResponse struct {
	RoomID string `json:"room_id"`
}

type CreateBreakoutsRequest struct {
	MaxPerRoom int `json:"max_per_room"`
}

type BreakoutRoomItem struct {
	RoomID        string   `json:"room_id"`
	MemberUserIDs []string `json:"member_user_ids"`
}

type BreakoutsResponse struct {
	Rooms []BreakoutRoomItem `json:"rooms"`
}

type StartActivityRequest struct {
	Slug string `json:"slug"`
}

type ActivityEventRequest struct {
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload,omitempty"`
}

type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

type ParticipantItem struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
}

type CallStateResponse struct {
	MainRoomID     string             `json:"main_room_id,omitempty"`
	ActiveRoomID   string             `json:"active_room_id,omitempty"`
	ActiveRoomKind string             `json:"active_room_kind,omitempty"`
	Members        []ParticipantItem  `json:"members"`
	Assignment     *BreakoutRoomItem  `json:"assignment,omitempty"`
	BreakoutEndsAt int64              `json:"breakout_ends_at_ms,omitempty"`
	IsHost         bool               `json:"is_host"`
	Activity       *ActivityStateItem `json:"activity,omitempty"`
	Reactions      []ReactionItem     `json:"reactions"`
	SubRoomID      string             `json:"sub_room_id,omitempty"`
}

type ActivityStateItem struct {
	Slug      string `json:"slug"`
	Phase     string `json:"phase"`
	StartedAt int64  `json:"started_at_unix"`
}

type ReactionItem struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

type ChatMessageItem struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	ReplyTo   *string   `json:"reply_to,omitempty"`
}

type ChatHistoryResponse struct {
	Items      []ChatMessageItem `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}
