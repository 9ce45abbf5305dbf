package rtc

import (
	"context"
	"sort"
	"sync"

	"github.com/huddleplan/call-service/internal/domain"
)

// hubRoom delivers all callbacks for one room through a single dispatch
// goroutine, so metadata-change, event and participant-join handlers never
// run concurrently with each other.
type hubRoom struct {
	hub     *Hub
	id      string
	kind    domain.RoomKind
	creator string
	admins  []string

	mu       sync.RWMutex
	metadata map[string]string
	members  map[string]domain.Participant // by connection ID

	handlerID    int
	eventSubs    map[int]EventHandler
	metadataSubs map[int]MetadataHandler
	joinSubs     map[int]ParticipantHandler

	dispatch chan func()
	done     chan struct{}
	closing  sync.Once
}

const dispatchBuffer = 256

func newHubRoom(hub *Hub, st RoomState) *hubRoom {
	r := &hubRoom{
		hub:          hub,
		id:           st.ID,
		kind:         st.Kind,
		creator:      st.Creator,
		admins:       st.Admins,
		metadata:     st.Metadata,
		members:      make(map[string]domain.Participant),
		eventSubs:    make(map[int]EventHandler),
		metadataSubs: make(map[int]MetadataHandler),
		joinSubs:     make(map[int]ParticipantHandler),
		dispatch:     make(chan func(), dispatchBuffer),
		done:         make(chan struct{}),
	}
	if r.metadata == nil {
		r.metadata = make(map[string]string)
	}
	go r.run()
	return r
}

func (r *hubRoom) run() {
	for {
		select {
		case fn := <-r.dispatch:
			fn()
		case <-r.done:
			return
		}
	}
}

func (r *hubRoom) post(fn func()) {
	select {
	case r.dispatch <- fn:
	case <-r.done:
	}
}

func (r *hubRoom) close() {
	r.closing.Do(func() { close(r.done) })
}

func (r *hubRoom) state() RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	md := make(map[string]string, len(r.metadata))
	for k, v := range r.metadata {
		md[k] = v
	}
	return RoomState{
		ID:       r.id,
		Kind:     r.kind,
		Creator:  r.creator,
		Admins:   r.admins,
		Metadata: md,
	}
}

func (r *hubRoom) ID() string            { return r.id }
func (r *hubRoom) Kind() domain.RoomKind { return r.kind }
func (r *hubRoom) CreatorUserID() string { return r.creator }

func (r *hubRoom) Join(ctx context.Context, p domain.Participant, metadata map[string]string, media MediaDefaults) error {
	r.mu.Lock()
	r.members[p.ConnectionID] = p
	for k, v := range metadata {
		r.metadata[k] = v
	}
	r.mu.Unlock()

	if len(metadata) > 0 {
		r.notifyMetadata()
	}
	r.post(func() {
		r.mu.RLock()
		subs := make([]ParticipantHandler, 0, len(r.joinSubs))
		for _, h := range r.joinSubs {
			subs = append(subs, h)
		}
		r.mu.RUnlock()
		for _, h := range subs {
			h(p)
		}
	})
	return nil
}

func (r *hubRoom) Leave(ctx context.Context, connectionID string) error {
	r.mu.Lock()
	delete(r.members, connectionID)
	r.mu.Unlock()
	return nil
}

func (r *hubRoom) Members() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Participant, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}

func (r *hubRoom) Metadata() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	md := make(map[string]string, len(r.metadata))
	for k, v := range r.metadata {
		md[k] = v
	}
	return md
}

// UpdateMetadata merges the patch into the room metadata. Last writer wins;
// there is no optimistic concurrency control.
func (r *hubRoom) UpdateMetadata(ctx context.Context, patch map[string]string) error {
	r.mu.Lock()
	for k, v := range patch {
		r.metadata[k] = v
	}
	r.mu.Unlock()

	r.notifyMetadata()
	return r.hub.persist(ctx, r)
}

func (r *hubRoom) ClearMetadata(ctx context.Context, keys ...string) error {
	r.mu.Lock()
	for _, k := range keys {
		delete(r.metadata, k)
	}
	r.mu.Unlock()

	r.notifyMetadata()
	return r.hub.persist(ctx, r)
}

func (r *hubRoom) SendEvent(ctx context.Context, ev Event) error {
	r.post(func() {
		r.mu.RLock()
		subs := make([]EventHandler, 0, len(r.eventSubs))
		for _, h := range r.eventSubs {
			subs = append(subs, h)
		}
		r.mu.RUnlock()
		for _, h := range subs {
			h(ev)
		}
	})
	return nil
}

func (r *hubRoom) notifyMetadata() {
	md := r.Metadata()
	r.post(func() {
		r.mu.RLock()
		subs := make([]MetadataHandler, 0, len(r.metadataSubs))
		for _, h := range r.metadataSubs {
			subs = append(subs, h)
		}
		r.mu.RUnlock()
		for _, h := range subs {
			h(md)
		}
	})
}

func (r *hubRoom) OnEvent(h EventHandler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlerID++
	id := r.handlerID
	r.eventSubs[id] = h
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.eventSubs, id)
	}
}

func (r *hubRoom) OnMetadataChanged(h MetadataHandler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlerID++
	id := r.handlerID
	r.metadataSubs[id] = h
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.metadataSubs, id)
	}
}

func (r *hubRoom) OnParticipantJoined(h ParticipantHandler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlerID++
	id := r.handlerID
	r.joinSubs[id] = h
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.joinSubs, id)
	}
}
