package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/huddleplan/call-service/internal/domain"
	"github.com/huddleplan/call-service/internal/rtc"
	"github.com/huddleplan/call-service/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type CallSvc interface {
	Attach(ctx context.Context, sessionID, userID, displayName string) (*service.ClientCall, error)
	Detach(ctx context.Context, sessionID, userID string)
	LoadMainRoom(ctx context.Context, sessionID, userID string) error
	State(sessionID, userID string) (service.CallState, error)
	SendActivityEvent(ctx context.Context, sessionID, userID, action string, payload map[string]any) error
	SendReaction(ctx context.Context, sessionID, userID, emoji string) error
}

type ChatSvc interface {
	Save(ctx context.Context, roomID, userID, text string) (msgID string, createdAt time.Time, err error)
}

type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	callSvc  CallSvc
	chatSvc  ChatSvc

	pingEvery time.Duration
}

func NewServer(hub *Hub, callSvc CallSvc, chat ChatSvc) *Server {
	return &Server{
		hub:     hub,
		callSvc: callSvc,
		chatSvc: chat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery: 15 * time.Second,
	}
}

// WS endpoint: GET /ws/sessions/{id}?access_token=...&user_id=...&display_name=...
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	accessToken := strings.TrimSpace(q.Get("access_token"))
	userID := strings.TrimSpace(q.Get("user_id"))
	if accessToken == "" {
		http.Error(w, "missing access_token", http.StatusUnauthorized)
		return
	}
	if userID == "" {
		http.Error(w, "missing user_id", http.StatusUnauthorized)
		return
	}
	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	client, err := s.callSvc.Attach(r.Context(), sessionID, userID, strings.TrimSpace(q.Get("display_name")))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		slog.Error("ws attach failed", "session", sessionID, "user", userID, "err", err)
		http.Error(w, "attach failed", http.StatusInternalServerError)
		return
	}

	// join the bound main room if there is one; a missing room is fine, the
	// client may create it over the HTTP API and the watcher picks it up
	if err := s.callSvc.LoadMainRoom(r.Context(), sessionID, userID); err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
		slog.Warn("ws load main room failed", "session", sessionID, "user", userID, "err", err)
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "err", err)
		return
	}

	c := newWsConn(conn, sessionID, userID)
	s.hub.Add(c)

	if err := s.sendState(c); err != nil {
		slog.Warn("ws send initial state failed", "session", sessionID, "user", userID, "err", err)
	}

	s.hub.Broadcast(sessionID, Message{
		Type:    TypePeerJoined,
		Payload: PeerEventPayload{UserID: userID},
	})

	go s.writeLoop(c)
	go s.watchRoom(c, client)
	s.readLoop(r.Context(), c)

	s.hub.Remove(c)
	s.callSvc.Detach(context.WithoutCancel(r.Context()), sessionID, userID)

	s.hub.Broadcast(sessionID, Message{
		Type:    TypePeerLeft,
		Payload: PeerEventPayload{UserID: userID},
	})

	if err := c.Close(); err != nil {
		slog.Debug("ws close failed", "session", sessionID, "user", userID, "err", err)
	}
}

func (s *Server) sendState(c *wsConn) error {
	state, err := s.callSvc.State(c.sessionID, c.userID)
	if err != nil {
		return err
	}

	p := StatePayload{
		MainRoomID:     state.MainRoomID,
		ActiveRoomID:   state.ActiveRoomID,
		ActiveRoomKind: string(state.ActiveRoomKind),
		Members:        state.Members,
		Assignment:     state.Assignment,
		IsHost:         state.IsHost,
		Reactions:      state.Reactions,
		SubRoomID:      state.SubRoomID,
	}
	if !state.BreakoutEndsAt.IsZero() {
		p.BreakoutEndsAt = state.BreakoutEndsAt.UnixMilli()
	}
	if state.Activity.Running() {
		a := state.Activity
		p.Activity = &a
	}
	return c.Send(Message{Type: TypeState, Payload: p})
}

// watchRoom mirrors the client's active room onto the socket: room events,
// metadata writes and joins are forwarded, and when the orchestrator moves
// the client between rooms the subscriptions follow.
func (s *Server) watchRoom(c *wsConn, client *service.ClientCall) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var (
		curID   string
		cancels []func()
	)
	unsub := func() {
		for _, cancel := range cancels {
			cancel()
		}
		cancels = nil
	}
	defer unsub()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
		}

		room := client.Orch.ActiveRoom()
		if room == nil {
			if curID != "" {
				curID = ""
				unsub()
			}
			continue
		}
		if room.ID() == curID {
			continue
		}

		unsub()
		curID = room.ID()
		cancels = append(cancels,
			room.OnEvent(func(ev rtc.Event) {
				_ = c.Send(Message{Type: TypeEvent, Payload: EventPayload{
					Subject: ev.Type.Subject,
					Action:  string(ev.Type.Action),
					Payload: ev.Payload,
					Sender:  ev.SenderUserID,
					SubRoom: ev.SubRoomID,
				}})
			}),
			room.OnMetadataChanged(func(md map[string]string) {
				_ = c.Send(Message{Type: TypeMetadata, Payload: MetadataPayload{RoomID: curID, Metadata: md}})
			}),
			room.OnParticipantJoined(func(p domain.Participant) {
				_ = c.Send(Message{Type: TypePeerJoined, Payload: PeerEventPayload{RoomID: curID, UserID: p.UserID}})
			}),
		)

		// entering a room always comes with a fresh snapshot
		if err := s.sendState(c); err != nil {
			slog.Debug("ws state refresh failed", "session", c.sessionID, "user", c.userID, "err", err)
		}
		_ = c.Send(Message{Type: TypeMetadata, Payload: MetadataPayload{RoomID: curID, Metadata: room.Metadata()}})
	}
}

func (s *Server) readLoop(ctx context.Context, c *wsConn) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(1 << 20)
	c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case TypeChat:
			s.handleChat(ctx, c, msg.Payload)

		case TypeReaction:
			var p ReactionPayload
			if decode(msg.Payload, &p) == nil && p.Emoji != "" {
				if err := s.callSvc.SendReaction(ctx, c.sessionID, c.userID, p.Emoji); err != nil {
					slog.Debug("ws reaction failed", "session", c.sessionID, "user", c.userID, "err", err)
				}
			}

		case TypeEvent:
			var p EventPayload
			if decode(msg.Payload, &p) == nil && p.Action != "" {
				if err := s.callSvc.SendActivityEvent(ctx, c.sessionID, c.userID, p.Action, p.Payload); err != nil {
					slog.Debug("ws event failed", "session", c.sessionID, "user", c.userID, "err", err)
				}
			}

		default:
			// ignore
		}
	}
}

func (s *Server) handleChat(ctx context.Context, c *wsConn, payload any) {
	var p ChatPayload
	if decode(payload, &p) != nil {
		return
	}
	text := strings.TrimSpace(p.Message)
	if text == "" {
		return
	}

	state, err := s.callSvc.State(c.sessionID, c.userID)
	if err != nil || state.ActiveRoomID == "" {
		return
	}

	var (
		msgID string
		ts    time.Time
	)
	if id, createdAt, err := s.chatSvc.Save(ctx, state.ActiveRoomID, c.userID, text); err == nil {
		msgID, ts = id, createdAt
	} else {
		slog.Warn("ws chat save failed", "room", state.ActiveRoomID, "user", c.userID, "err", err)
		ts = time.Now()
	}

	// one broadcast to everyone including the sender; clients filter on
	// room_id so breakout chat stays inside the breakout
	out := ChatPayload{
		RoomID:  state.ActiveRoomID,
		UserID:  c.userID,
		Message: text,
	}
	if msgID != "" {
		out.MsgID = msgID
	}
	if !ts.IsZero() {
		out.TSUnix = ts.Unix()
	}
	s.hub.Broadcast(c.sessionID, Message{Type: TypeChat, Payload: out})

	// lightweight ACK to the sender only
	if msgID != "" {
		_ = c.Send(Message{Type: TypeChatAck, Payload: ChatAckPayload{MsgID: msgID}})
	}
}

func (s *Server) writeLoop(c *wsConn) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case <-c.closed:
			return
		}
	}
}

// --- helpers ---

func decode(payload any, dst any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return json.Unmarshal(b, dst)
}

type wsConn struct {
	conn      *websocket.Conn
	sessionID string
	userID    string
	sendMu    chan struct{}
	closed    chan struct{}
}

func newWsConn(c *websocket.Conn, sessionID, userID string) *wsConn {
	return &wsConn{
		conn:      c,
		sessionID: sessionID,
		userID:    userID,
		sendMu:    make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
}

func (c *wsConn) Send(msg Message) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	return c.conn.WriteJSON(msg)
}

func (c *wsConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}

	return c.conn.Close()
}

func (c *wsConn) UserID() string    { return c.userID }
func (c *wsConn) SessionID() string { return c.sessionID }
