package activity

import (
	"fmt"

	"github.com/huddleplan/call-service/internal/rtc"
)

// Icebreaker is a host-driven warm-up: the host advances the whole room
// through warmup -> answer -> share.
type Icebreaker struct{}

func (Icebreaker) Slug() string         { return "icebreaker" }
func (Icebreaker) InitialPhase() string { return "warmup" }

var icebreakerNext = map[string]string{
	"warmup": "answer",
	"answer": "share",
	"share":  "share",
}

func (Icebreaker) HandleEvent(ev rtc.Event, c *Context) error {
	switch ev.Type.Action {
	case "advance":
		c.SetPhase(icebreakerNext[c.Phase])
		return nil
	case "prompt":
		// host picked a question; everyone keeps it in local state
		if q, ok := ev.Payload["question"].(string); ok {
			c.State["question"] = q
		}
		return nil
	default:
		return fmt.Errorf("icebreaker: unknown action %q", ev.Type.Action)
	}
}

// PairShare splits the room into pairs; each pair only sees events scoped to
// its own sub-room.
type PairShare struct{}

func (PairShare) Slug() string         { return "pair-share" }
func (PairShare) InitialPhase() string { return "pairing" }

func (PairShare) HandleEvent(ev rtc.Event, c *Context) error {
	switch ev.Type.Action {
	case "paired":
		// the host announces the pairing; each client adopts its pair as the
		// sub-room scope
		if pairs, ok := ev.Payload["pairs"].(map[string]any); ok {
			if sub, ok := pairs[c.UserID].(string); ok {
				c.SetSubRoom(sub)
			}
		}
		c.SetPhase("discuss")
		return nil
	case "regroup":
		c.SetSubRoom("")
		c.SetPhase("share")
		return nil
	default:
		return fmt.Errorf("pair-share: unknown action %q", ev.Type.Action)
	}
}
