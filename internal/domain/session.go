package domain

import "time"

// Session is the planning record a call is bound to. CallRoomID is nil until
// a main room has been created for the session.
type Session struct {
	ID             string    `db:"id"`
	HostUserID     string    `db:"host_user_id"`
	CourseName     string    `db:"course_name"`
	Topic          string    `db:"topic"`
	ScheduledStart time.Time `db:"scheduled_start"`
	CallRoomID     *string   `db:"call_room_id"`
	CreatedAt      time.Time `db:"created_at"`
}
