package rtc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/huddleplan/call-service/internal/domain"
)

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
		panic("unreachable")
	}
}

func TestHub_LookupUnknown(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	_, err := h.LookupRoom(context.Background(), "nope")
	if !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestHub_CreateIsIdempotent(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()
	ctx := context.Background()

	a, err := h.CreateRoom(ctx, CreateRoomParams{ID: "r1", Kind: domain.RoomKindMain, AdminUserIDs: []string{"host"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := h.CreateRoom(ctx, CreateRoomParams{ID: "r1", Kind: domain.RoomKindMain})
	if err != nil {
		t.Fatalf("re-create: %v", err)
	}
	if a != b {
		t.Fatal("expected the same room handle for the same ID")
	}
	if a.CreatorUserID() != "host" {
		t.Fatalf("creator lost: %q", a.CreatorUserID())
	}
}

func TestHubRoom_MetadataMergeAndClear(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()
	ctx := context.Background()

	room, err := h.CreateRoom(ctx, CreateRoomParams{
		ID:       "r1",
		Kind:     domain.RoomKindMain,
		Metadata: map[string]string{"topic": "algebra"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updates := make(chan map[string]string, 4)
	cancel := room.OnMetadataChanged(func(md map[string]string) { updates <- md })
	defer cancel()

	if err := room.UpdateMetadata(ctx, map[string]string{"rooms": "[]"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	md := waitFor(t, updates)
	if md["topic"] != "algebra" || md["rooms"] != "[]" {
		t.Fatalf("merge broken: %v", md)
	}

	if err := room.ClearMetadata(ctx, "rooms"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	md = waitFor(t, updates)
	if _, ok := md["rooms"]; ok {
		t.Fatalf("rooms key survived clear: %v", md)
	}
	if md["topic"] != "algebra" {
		t.Fatalf("clear dropped unrelated key: %v", md)
	}
}

func TestHubRoom_EventOrderPreserved(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()
	ctx := context.Background()

	room, _ := h.CreateRoom(ctx, CreateRoomParams{ID: "r1", Kind: domain.RoomKindMain})

	got := make(chan string, 8)
	cancel := room.OnEvent(func(ev Event) { got <- ev.Type.Subject })
	defer cancel()

	for _, subj := range []string{"a", "b", "c", "d"} {
		if err := room.SendEvent(ctx, Event{Type: EventType{Subject: subj, Action: ActionStart}}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	for _, want := range []string{"a", "b", "c", "d"} {
		if s := waitFor(t, got); s != want {
			t.Fatalf("out of order: got %q want %q", s, want)
		}
	}
}

func TestHubRoom_JoinNotifiesAndTracksMembers(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()
	ctx := context.Background()

	room, _ := h.CreateRoom(ctx, CreateRoomParams{ID: "r1", Kind: domain.RoomKindMain})

	joined := make(chan domain.Participant, 1)
	cancel := room.OnParticipantJoined(func(p domain.Participant) { joined <- p })
	defer cancel()

	p := domain.Participant{ConnectionID: "conn1", UserID: "u1", DisplayName: "Ada"}
	if err := room.Join(ctx, p, nil, MediaDefaults{}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if got := waitFor(t, joined); got.UserID != "u1" {
		t.Fatalf("join notification: %+v", got)
	}
	if ms := room.Members(); len(ms) != 1 || ms[0].ConnectionID != "conn1" {
		t.Fatalf("members: %+v", ms)
	}

	if err := room.Leave(ctx, "conn1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if ms := room.Members(); len(ms) != 0 {
		t.Fatalf("members after leave: %+v", ms)
	}
}
