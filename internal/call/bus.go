package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/huddleplan/call-service/internal/activity"
	"github.com/huddleplan/call-service/internal/domain"
	"github.com/huddleplan/call-service/internal/rtc"
)

const defaultReactionTTL = 2500 * time.Millisecond

// Bus interprets the "subject:action" protocol on the active room's event
// channel: starting, ending and reacting to a shared activity, plus
// delegation of activity-defined actions. One malformed or unknown event is
// logged and dropped; it never breaks the listener.
//
// Mutations arrive serialized through the orchestrator's loop; the mutex
// only protects the read accessors used by the serving layer.
type Bus struct {
	registry activity.Registry
	userID   string

	reactionTTL time.Duration
	afterFunc   func(d time.Duration, f func()) *time.Timer
	clock       func() time.Time
	newID       func() string

	mu     sync.Mutex
	room   rtc.Room
	isHost bool

	subRoomID string
	slug      string
	phase     string
	startedAt time.Time
	state     map[string]any

	reactions []domain.Reaction
	timers    map[string]*time.Timer
	closed    bool
}

type BusOptions struct {
	ReactionTTL time.Duration
	// AfterFunc and Clock are injectable for tests.
	AfterFunc func(d time.Duration, f func()) *time.Timer
	Clock     func() time.Time
}

func NewBus(registry activity.Registry, userID string, opts BusOptions) *Bus {
	b := &Bus{
		registry:    registry,
		userID:      userID,
		reactionTTL: opts.ReactionTTL,
		afterFunc:   opts.AfterFunc,
		clock:       opts.Clock,
		newID:       uuid.NewString,
		timers:      make(map[string]*time.Timer),
	}
	if b.reactionTTL <= 0 {
		b.reactionTTL = defaultReactionTTL
	}
	if b.afterFunc == nil {
		b.afterFunc = time.AfterFunc
	}
	if b.clock == nil {
		b.clock = time.Now
	}
	return b
}

// AttachRoom binds the bus to a new active room. All per-room state resets;
// the caller is expected to follow up with SyncLocal.
func (b *Bus) AttachRoom(room rtc.Room, isHost bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.room = room
	b.isHost = isHost
	b.clearActivityLocked()
	b.reactions = nil
	// expiry timers from the previous room must not fire against this one
	for id, tm := range b.timers {
		tm.Stop()
		delete(b.timers, id)
	}
}

// SyncLocal resynchronizes local activity state from the room metadata. It
// is invoked on (re)connect and when a new participant is observed, not on
// every metadata write. A client catching up adopts the running activity
// without re-running start side effects.
func (b *Bus) SyncLocal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.room == nil {
		return
	}

	md := b.room.Metadata()
	slug := md[MetaActivitySlug]
	if slug == "" {
		b.clearActivityLocked()
		return
	}

	def, ok := b.registry.Lookup(slug)
	if !ok {
		slog.Warn("sync: unknown activity in room metadata", "room", b.room.ID(), "slug", slug)
		b.clearActivityLocked()
		return
	}

	if b.slug == slug {
		// already in sync: replaying currentEvent again would re-run
		// non-idempotent actions and drift the local phase
		return
	}

	b.slug = slug
	b.phase = def.InitialPhase()
	b.startedAt = b.clock()
	b.state = make(map[string]any)

	// replay the last published event so a late joiner lands in the current
	// phase, not the initial one
	if raw := md[MetaCurrentEvent]; raw != "" {
		ev, err := rtc.DecodeEvent([]byte(raw))
		if err != nil {
			slog.Warn("sync: bad currentEvent metadata", "room", b.room.ID(), "err", err)
			return
		}
		if !reservedAction(ev.Type.Action) && ev.Type.Subject == slug {
			b.dispatchToDefinitionLocked(def, ev)
		}
	}
}

// HandleEvent processes one inbound event from the active room. Errors are
// contained here: one bad event must never desynchronize a healthy client.
func (b *Bus) HandleEvent(ev rtc.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.room == nil {
		return
	}

	// events scoped to a different sub-room are not for this client
	if ev.SubRoomID != "" && ev.SubRoomID != b.subRoomID {
		return
	}

	switch ev.Type.Action {
	case rtc.ActionStart:
		b.handleStartLocked(ev)
	case rtc.ActionEnd:
		b.clearActivityLocked()
	case rtc.ActionReaction:
		b.addReactionLocked(ev)
	default:
		b.handleCustomLocked(ev)
	}
}

func (b *Bus) handleStartLocked(ev rtc.Event) {
	def, ok := b.registry.Lookup(ev.Type.Subject)
	if !ok {
		// the initiator was already told via StartActivity; a peer sending
		// an unknown slug is just dropped
		slog.Warn("start event for unknown activity", "room", b.room.ID(), "slug", ev.Type.Subject, "sender", ev.SenderUserID)
		return
	}
	if b.slug == ev.Type.Subject {
		// duplicate start (own echo or a rebroadcast): no side effects twice
		return
	}

	b.slug = ev.Type.Subject
	b.phase = def.InitialPhase()
	b.startedAt = b.clock()
	b.state = make(map[string]any)
	b.subRoomID = ""

	// only the room creator publishes canonical metadata; everyone else
	// just consumes it
	if b.isHost {
		b.publishActivityLocked(ev)
	}
}

func (b *Bus) handleCustomLocked(ev rtc.Event) {
	if b.slug == "" || ev.Type.Subject != b.slug {
		slog.Debug("activity event without matching activity", "type", ev.Type.String())
		return
	}
	def, ok := b.registry.Lookup(b.slug)
	if !ok {
		return
	}
	b.dispatchToDefinitionLocked(def, ev)

	if b.isHost {
		b.publishActivityLocked(ev)
	}
}

func (b *Bus) dispatchToDefinitionLocked(def activity.Definition, ev rtc.Event) {
	c := &activity.Context{
		Room:       b.room,
		UserID:     b.userID,
		IsHost:     b.isHost,
		Phase:      b.phase,
		SetPhase:   func(p string) { b.phase = p },
		State:      b.state,
		SetSubRoom: func(s string) { b.subRoomID = s },
	}
	if err := def.HandleEvent(ev, c); err != nil {
		slog.Warn("activity handler failed", "slug", def.Slug(), "type", ev.Type.String(), "err", err)
	}
}

func (b *Bus) publishActivityLocked(ev rtc.Event) {
	raw, err := rtc.EncodeEvent(ev)
	if err != nil {
		slog.Error("encode activity event", "err", err)
		return
	}
	patch := map[string]string{
		MetaActivitySlug: b.slug,
		MetaCurrentEvent: string(raw),
	}
	if err := b.room.UpdateMetadata(context.Background(), patch); err != nil {
		slog.Warn("publish activity metadata failed", "room", b.room.ID(), "err", err)
	}
}

func (b *Bus) addReactionLocked(ev rtc.Event) {
	if b.closed {
		return
	}
	r := domain.Reaction{
		ID:     b.newID(),
		UserID: ev.SenderUserID,
		Emoji:  ev.Type.Subject,
	}
	b.reactions = append(b.reactions, r)
	b.timers[r.ID] = b.afterFunc(b.reactionTTL, func() { b.expireReaction(r.ID) })
}

func (b *Bus) expireReaction(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.timers, id)
	for i, r := range b.reactions {
		if r.ID == id {
			b.reactions = append(b.reactions[:i], b.reactions[i+1:]...)
			return
		}
	}
}

// StartActivity validates the slug locally, then broadcasts the start event.
// An unknown slug is reported to the initiator only; nothing is sent and no
// shared metadata is touched.
func (b *Bus) StartActivity(ctx context.Context, slug string) error {
	b.mu.Lock()
	room := b.room
	running := b.slug
	b.mu.Unlock()

	if room == nil {
		return domain.ErrRoomNotFound
	}
	if _, ok := b.registry.Lookup(slug); !ok {
		return fmt.Errorf("%w: %q", domain.ErrActivityNotFound, slug)
	}
	if running != "" {
		return fmt.Errorf("%w: %q", domain.ErrActivityRunning, running)
	}

	return room.SendEvent(ctx, rtc.Event{
		Type:         rtc.EventType{Subject: slug, Action: rtc.ActionStart},
		SenderUserID: b.userID,
	})
}

// EndActivity broadcasts the end event and, for the room creator, clears the
// canonical activity keys from room metadata. Ending with no activity
// running is a no-op.
func (b *Bus) EndActivity(ctx context.Context) error {
	b.mu.Lock()
	room := b.room
	slug := b.slug
	isHost := b.isHost
	b.mu.Unlock()

	if room == nil || slug == "" {
		return nil
	}

	if err := room.SendEvent(ctx, rtc.Event{
		Type:         rtc.EventType{Subject: slug, Action: rtc.ActionEnd},
		SenderUserID: b.userID,
	}); err != nil {
		return err
	}
	if isHost {
		if err := room.ClearMetadata(ctx, MetaActivitySlug, MetaCurrentEvent); err != nil {
			slog.Warn("clear activity metadata failed", "room", room.ID(), "err", err)
		}
	}
	return nil
}

// SendActivityEvent broadcasts an activity-defined action for the running
// activity. Reserved actions must go through StartActivity, EndActivity and
// SendReaction.
func (b *Bus) SendActivityEvent(ctx context.Context, action string, payload map[string]any) error {
	b.mu.Lock()
	room := b.room
	slug := b.slug
	b.mu.Unlock()

	if room == nil {
		return domain.ErrRoomNotFound
	}
	if slug == "" {
		return domain.ErrActivityNotFound
	}
	if reservedAction(rtc.Action(action)) {
		return fmt.Errorf("%w: reserved action %q", domain.ErrMalformedEvent, action)
	}
	return room.SendEvent(ctx, rtc.Event{
		Type:         rtc.EventType{Subject: slug, Action: rtc.Action(action)},
		Payload:      payload,
		SenderUserID: b.userID,
	})
}

// SendReaction broadcasts a fire-and-forget reaction. The emoji travels as
// the event subject; nothing is written to room metadata.
func (b *Bus) SendReaction(ctx context.Context, emoji string) error {
	b.mu.Lock()
	room := b.room
	b.mu.Unlock()

	if room == nil {
		return domain.ErrRoomNotFound
	}
	if emoji == "" {
		return errors.New("empty reaction")
	}
	return room.SendEvent(ctx, rtc.Event{
		Type:         rtc.EventType{Subject: emoji, Action: rtc.ActionReaction},
		SenderUserID: b.userID,
	})
}

// Activity returns the local view of the running activity.
func (b *Bus) Activity() domain.ActivityState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.ActivityState{Slug: b.slug, Phase: b.phase, StartedAt: b.startedAt}
}

func (b *Bus) Reactions() []domain.Reaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Reaction, len(b.reactions))
	copy(out, b.reactions)
	return out
}

func (b *Bus) SubRoomID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subRoomID
}

// Close stops every pending reaction-expiry timer so nothing fires after the
// session is torn down.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, tm := range b.timers {
		tm.Stop()
		delete(b.timers, id)
	}
}

func (b *Bus) clearActivityLocked() {
	b.slug = ""
	b.phase = ""
	b.startedAt = time.Time{}
	b.state = nil
	b.subRoomID = ""
}

func reservedAction(a rtc.Action) bool {
	return a == rtc.ActionStart || a == rtc.ActionEnd || a == rtc.ActionReaction
}
