// Package partition implements the breakout room partitioner: a pure
// function from a participant list to a set of breakout room assignments.
package partition

import (
	"fmt"
	"math/rand"

	"github.com/huddleplan/call-service/internal/domain"
)

// RoomID returns the deterministic breakout room ID for a call and a
// 1-based room index. Repeated partitions of the same call reuse the same
// IDs, so recreating rooms does not collide.
func RoomID(callID string, index int) string {
	return fmt.Sprintf("%s-breakout-%d", callID, index)
}

// Split shuffles participants with the given source and slices them into
// ceil(n/maxPerRoom) contiguous chunks of at most maxPerRoom members each.
// Every input participant lands in exactly one room; only the last room may
// be smaller than maxPerRoom. maxPerRoom below 1 is clamped to 1.
func Split(rng *rand.Rand, callID string, participants []domain.Participant, maxPerRoom int) []domain.BreakoutRoom {
	if len(participants) == 0 {
		return nil
	}
	if maxPerRoom < 1 {
		maxPerRoom = 1
	}

	shuffled := make([]domain.Participant, len(participants))
	copy(shuffled, participants)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	roomCount := (len(shuffled) + maxPerRoom - 1) / maxPerRoom
	rooms := make([]domain.BreakoutRoom, 0, roomCount)
	for i := 0; i < roomCount; i++ {
		start := i * maxPerRoom
		end := min(start+maxPerRoom, len(shuffled))

		members := make([]string, 0, end-start)
		for _, p := range shuffled[start:end] {
			members = append(members, p.UserID)
		}
		rooms = append(rooms, domain.BreakoutRoom{
			RoomID:        RoomID(callID, i+1),
			MemberUserIDs: members,
		})
	}
	return rooms
}
