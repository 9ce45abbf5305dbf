package call

// Room metadata keys. The main room's metadata is the only shared channel
// for room-level state; by convention only the room creator writes the
// partition and activity-control keys.
const (
	// MetaRooms holds the published breakout partition as JSON
	// ([]domain.BreakoutRoom).
	MetaRooms = "rooms"
	// MetaEndingBreakoutsAt holds the breakout dissolve deadline in unix
	// milliseconds. Clients in breakouts self-initiate the leave when it
	// passes.
	MetaEndingBreakoutsAt = "endingBreakoutsAt"

	MetaActivitySlug = "activitySlug"
	MetaCurrentEvent = "currentEvent"

	MetaCourseName     = "courseName"
	MetaTopic          = "topic"
	MetaScheduledStart = "scheduledStart"
)
