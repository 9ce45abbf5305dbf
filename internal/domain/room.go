package domain

type RoomKind string

const (
	RoomKindMain     RoomKind = "main"
	RoomKindBreakout RoomKind = "breakout"
)

// BreakoutRoom is one entry of a published partition: a breakout room ID and
// the user IDs assigned to it. The full partition lives in the main room's
// metadata under the "rooms" key.
type BreakoutRoom struct {
	RoomID        string   `json:"room_id"`
	MemberUserIDs []string `json:"member_user_ids"`
}

// Contains reports whether the given user is assigned to this room.
func (b BreakoutRoom) Contains(userID string) bool {
	for _, id := range b.MemberUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
