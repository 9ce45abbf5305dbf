package rtc

import (
	"errors"
	"testing"

	"github.com/huddleplan/call-service/internal/domain"
)

func TestParseEventType(t *testing.T) {
	typ, err := ParseEventType("foo:bar")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if typ.Subject != "foo" || typ.Action != Action("bar") {
		t.Fatalf("got %+v", typ)
	}
}

func TestParseEventType_Malformed(t *testing.T) {
	for _, raw := range []string{"foobar", "a:b:c", ":", "a:", ":b", ""} {
		_, err := ParseEventType(raw)
		if !errors.Is(err, domain.ErrMalformedEvent) {
			t.Fatalf("%q: expected ErrMalformedEvent, got %v", raw, err)
		}
	}
}

func TestParseEventType_ReactionEmoji(t *testing.T) {
	typ, err := ParseEventType("❤️:reaction")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if typ.Subject != "❤️" || typ.Action != ActionReaction {
		t.Fatalf("got %+v", typ)
	}
}

func TestDecodeEvent(t *testing.T) {
	data, err := EncodeEvent(Event{
		Type:         EventType{Subject: "icebreaker", Action: ActionStart},
		Payload:      map[string]any{"round": float64(1)},
		SenderUserID: "u1",
		SubRoomID:    "pair-2",
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	ev, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type.String() != "icebreaker:start" || ev.SenderUserID != "u1" || ev.SubRoomID != "pair-2" {
		t.Fatalf("got %+v", ev)
	}
	if ev.Payload["round"] != float64(1) {
		t.Fatalf("payload lost: %+v", ev.Payload)
	}
}

func TestDecodeEvent_MalformedType(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"type":"noseparator","sender":"u1"}`))
	if !errors.Is(err, domain.ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent, got %v", err)
	}
	_, err = DecodeEvent([]byte(`not json`))
	if !errors.Is(err, domain.ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent for bad json, got %v", err)
	}
}
