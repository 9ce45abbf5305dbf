package rtc

import (
	"context"
	"log/slog"
	"sync"

	"github.com/huddleplan/call-service/internal/domain"
)

// Hub is the in-process transport implementation: it owns every live room on
// this node. Room state survives a restart through the optional Store.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*hubRoom
	store Store // nil disables persistence
}

func NewHub(store Store) *Hub {
	return &Hub{
		rooms: make(map[string]*hubRoom),
		store: store,
	}
}

// Restore loads previously persisted room state from the store. Memberships
// are not restored: participants are ephemeral and reconnect on their own.
func (h *Hub) Restore(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	states, err := h.store.LoadRooms(ctx)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, st := range states {
		if _, ok := h.rooms[st.ID]; ok {
			continue
		}
		h.rooms[st.ID] = newHubRoom(h, st)
	}
	slog.Info("rtc rooms restored", "count", len(states))
	return nil
}

func (h *Hub) LookupRoom(ctx context.Context, id string) (Room, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return r, nil
}

func (h *Hub) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	if params.ID == "" {
		return nil, domain.ErrRoomCreationFailed
	}

	h.mu.Lock()
	if r, ok := h.rooms[params.ID]; ok {
		h.mu.Unlock()
		return r, nil
	}

	md := make(map[string]string, len(params.Metadata))
	for k, v := range params.Metadata {
		md[k] = v
	}
	var creator string
	if len(params.AdminUserIDs) > 0 {
		creator = params.AdminUserIDs[0]
	}
	st := RoomState{
		ID:       params.ID,
		Kind:     params.Kind,
		Creator:  creator,
		Admins:   params.AdminUserIDs,
		Metadata: md,
	}
	r := newHubRoom(h, st)
	h.rooms[params.ID] = r
	h.mu.Unlock()

	if err := h.persist(ctx, r); err != nil {
		slog.Warn("rtc room persist failed", "room", params.ID, "err", err)
	}
	return r, nil
}

// DropRoom removes a room from the hub and the store. Used when a session's
// call is torn down for good.
func (h *Hub) DropRoom(ctx context.Context, id string) error {
	h.mu.Lock()
	r, ok := h.rooms[id]
	if ok {
		delete(h.rooms, id)
	}
	h.mu.Unlock()

	if ok {
		r.close()
	}
	if h.store != nil {
		return h.store.DeleteRoom(ctx, id)
	}
	return nil
}

func (h *Hub) Close() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]*hubRoom)
	h.mu.Unlock()

	for _, r := range rooms {
		r.close()
	}
}

func (h *Hub) persist(ctx context.Context, r *hubRoom) error {
	if h.store == nil {
		return nil
	}
	return h.store.SaveRoom(ctx, r.state())
}
