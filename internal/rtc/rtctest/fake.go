// Package rtctest provides a synchronous in-memory transport fake for
// orchestrator and event-bus tests. Handlers fire inline on the calling
// goroutine, so tests stay deterministic without sleeps.
package rtctest

import (
	"context"
	"errors"
	"sync"

	"github.com/huddleplan/call-service/internal/domain"
	"github.com/huddleplan/call-service/internal/rtc"
)

type FakeTransport struct {
	mu    sync.Mutex
	rooms map[string]*FakeRoom

	// CreateErr, when set, fails the next CreateRoom call. FailCreateID
	// fails only the creation of that specific room ID.
	CreateErr    error
	FailCreateID string
	// Created records the IDs passed to CreateRoom, in order.
	Created []string
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{rooms: make(map[string]*FakeRoom)}
}

func (t *FakeTransport) LookupRoom(ctx context.Context, id string) (rtc.Room, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return r, nil
}

func (t *FakeTransport) CreateRoom(ctx context.Context, params rtc.CreateRoomParams) (rtc.Room, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.CreateErr != nil {
		err := t.CreateErr
		t.CreateErr = nil
		return nil, err
	}
	if t.FailCreateID != "" && t.FailCreateID == params.ID {
		return nil, errors.New("transport refused room " + params.ID)
	}
	if r, ok := t.rooms[params.ID]; ok {
		return r, nil
	}
	var creator string
	if len(params.AdminUserIDs) > 0 {
		creator = params.AdminUserIDs[0]
	}
	r := NewFakeRoom(params.ID, params.Kind, creator)
	for k, v := range params.Metadata {
		r.metadata[k] = v
	}
	t.rooms[params.ID] = r
	t.Created = append(t.Created, params.ID)
	return r, nil
}

// AddRoom seeds a room directly, bypassing CreateRoom bookkeeping.
func (t *FakeTransport) AddRoom(r *FakeRoom) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rooms[r.id] = r
}

func (t *FakeTransport) Room(id string) *FakeRoom {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rooms[id]
}

type FakeRoom struct {
	mu      sync.Mutex
	id      string
	kind    domain.RoomKind
	creator string

	metadata map[string]string
	members  map[string]domain.Participant

	eventSubs    []rtc.EventHandler
	metadataSubs []rtc.MetadataHandler
	joinSubs     []rtc.ParticipantHandler

	// JoinErr / LeaveErr fail the next Join/Leave call.
	JoinErr  error
	LeaveErr error
	// JoinGate, when non-nil, blocks Join until the channel is closed;
	// JoinStarted (if set) is closed once a gated Join has begun. Used to
	// hold a transition in flight.
	JoinGate    chan struct{}
	JoinStarted chan struct{}

	Joins  []string // connection IDs passed to Join
	Leaves []string // connection IDs passed to Leave

	// LastJoinMetadata / LastJoinMedia capture the arguments of the most
	// recent Join.
	LastJoinMetadata map[string]string
	LastJoinMedia    rtc.MediaDefaults

	// Sent records events passed to SendEvent. The fake also fans them out
	// to event handlers, like the real hub does.
	Sent []rtc.Event
}

func NewFakeRoom(id string, kind domain.RoomKind, creator string) *FakeRoom {
	return &FakeRoom{
		id:       id,
		kind:     kind,
		creator:  creator,
		metadata: make(map[string]string),
		members:  make(map[string]domain.Participant),
	}
}

func (r *FakeRoom) ID() string            { return r.id }
func (r *FakeRoom) Kind() domain.RoomKind { return r.kind }
func (r *FakeRoom) CreatorUserID() string { return r.creator }

func (r *FakeRoom) Join(ctx context.Context, p domain.Participant, metadata map[string]string, media rtc.MediaDefaults) error {
	r.mu.Lock()
	gate, started := r.JoinGate, r.JoinStarted
	r.mu.Unlock()
	if gate != nil {
		if started != nil {
			close(started)
			r.mu.Lock()
			r.JoinStarted = nil
			r.mu.Unlock()
		}
		<-gate
	}

	r.mu.Lock()
	if r.JoinErr != nil {
		err := r.JoinErr
		r.JoinErr = nil
		r.mu.Unlock()
		return err
	}
	r.members[p.ConnectionID] = p
	for k, v := range metadata {
		r.metadata[k] = v
	}
	r.Joins = append(r.Joins, p.ConnectionID)
	r.LastJoinMetadata = metadata
	r.LastJoinMedia = media
	subs := append([]rtc.ParticipantHandler(nil), r.joinSubs...)
	r.mu.Unlock()

	for _, h := range subs {
		h(p)
	}
	return nil
}

func (r *FakeRoom) Leave(ctx context.Context, connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.LeaveErr != nil {
		err := r.LeaveErr
		r.LeaveErr = nil
		return err
	}
	delete(r.members, connectionID)
	r.Leaves = append(r.Leaves, connectionID)
	return nil
}

func (r *FakeRoom) Members() []domain.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Participant, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, p)
	}
	return out
}

func (r *FakeRoom) Metadata() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	md := make(map[string]string, len(r.metadata))
	for k, v := range r.metadata {
		md[k] = v
	}
	return md
}

func (r *FakeRoom) UpdateMetadata(ctx context.Context, patch map[string]string) error {
	r.mu.Lock()
	for k, v := range patch {
		r.metadata[k] = v
	}
	r.mu.Unlock()
	r.notifyMetadata()
	return nil
}

func (r *FakeRoom) ClearMetadata(ctx context.Context, keys ...string) error {
	r.mu.Lock()
	for _, k := range keys {
		delete(r.metadata, k)
	}
	r.mu.Unlock()
	r.notifyMetadata()
	return nil
}

func (r *FakeRoom) SendEvent(ctx context.Context, ev rtc.Event) error {
	r.mu.Lock()
	r.Sent = append(r.Sent, ev)
	subs := append([]rtc.EventHandler(nil), r.eventSubs...)
	r.mu.Unlock()
	for _, h := range subs {
		h(ev)
	}
	return nil
}

// PushEvent delivers an event to handlers without recording it as sent,
// simulating a frame from a remote peer.
func (r *FakeRoom) PushEvent(ev rtc.Event) {
	r.mu.Lock()
	subs := append([]rtc.EventHandler(nil), r.eventSubs...)
	r.mu.Unlock()
	for _, h := range subs {
		h(ev)
	}
}

// SetMetadata replaces keys directly and notifies subscribers, simulating a
// remote metadata write.
func (r *FakeRoom) SetMetadata(md map[string]string) {
	r.mu.Lock()
	for k, v := range md {
		r.metadata[k] = v
	}
	r.mu.Unlock()
	r.notifyMetadata()
}

func (r *FakeRoom) notifyMetadata() {
	md := r.Metadata()
	r.mu.Lock()
	subs := append([]rtc.MetadataHandler(nil), r.metadataSubs...)
	r.mu.Unlock()
	for _, h := range subs {
		h(md)
	}
}

func (r *FakeRoom) OnEvent(h rtc.EventHandler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eventSubs = append(r.eventSubs, h)
	return func() {}
}

func (r *FakeRoom) OnMetadataChanged(h rtc.MetadataHandler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadataSubs = append(r.metadataSubs, h)
	return func() {}
}

func (r *FakeRoom) OnParticipantJoined(h rtc.ParticipantHandler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joinSubs = append(r.joinSubs, h)
	return func() {}
}
