package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/huddleplan/call-service/internal/domain"
	"github.com/huddleplan/call-service/internal/postgres"
	"github.com/huddleplan/call-service/internal/service"
	httpmw "github.com/huddleplan/call-service/internal/transport/http/middleware"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	sessionSvc *service.SessionService
	callSvc    *service.CallService
	chatSvc    *service.ChatService
}

func NewHandler(session *service.SessionService, callSvc *service.CallService, chat *service.ChatService) *Handler {
	return &Handler{
		sessionSvc: session,
		callSvc:    callSvc,
		chatSvc:    chat,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeCallError maps the call-control error taxonomy onto HTTP statuses.
func writeCallError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "session not found"})
	case errors.Is(err, domain.ErrRoomNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "room not found"})
	case errors.Is(err, service.ErrNotAttached):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "not attached to call"})
	case errors.Is(err, domain.ErrNotHost):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "host only"})
	case errors.Is(err, domain.ErrTransitionInProgress):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "transition in progress"})
	case errors.Is(err, domain.ErrNotInMainRoom):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "not in the main room"})
	case errors.Is(err, domain.ErrNoBreakoutAssignment):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "no breakout assignment"})
	case errors.Is(err, domain.ErrActivityNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "activity not found"})
	case errors.Is(err, domain.ErrActivityRunning):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "activity already running"})
	case errors.Is(err, domain.ErrRoomCreationFailed):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "room creation failed"})
	default:
		slog.Error("handler."+op+":", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

func sessionItem(s *domain.Session) SessionItem {
	return SessionItem{
		ID:             s.ID,
		HostUserID:     s.HostUserID,
		CourseName:     s.CourseName,
		Topic:          s.Topic,
		ScheduledStart: s.ScheduledStart,
		CallRoomID:     s.CallRoomID,
		CreatedAt:      s.CreatedAt,
	}
}

// POST /sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	userID := httpmw.UserIDFromCtx(r.Context())

	sess, err := h.sessionSvc.CreateSession(r.Context(), userID, req.CourseName, req.Topic, req.ScheduledStart)
	if err != nil {
		slog.Error("handler.CreateSession:", slog.Any("err", err))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, sessionItem(sess))
}

// GET /sessions?limit=&cursor=
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}
	cursor := r.URL.Query().Get("cursor")

	sessions, next, err := h.sessionSvc.ListSessions(r.Context(), limit, cursor)
	if err != nil {
		if errors.Is(err, postgres.ErrInvalidCursor) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_cursor"})
			return
		}
		slog.Error("handler.ListSessions:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	resp := SessionsListResponse{Items: make([]SessionItem, 0, len(sessions)), NextCursor: next}
	for i := range sessions {
		resp.Items = append(resp.Items, sessionItem(&sessions[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := h.sessionSvc.GetSession(r.Context(), id)
	if err != nil {
		writeCallError(w, "GetSession", err)
		return
	}
	writeJSON(w, http.StatusOK, sessionItem(sess))
}

// attach is implicit on every call-control route: the per-user call client
// is created on first use and reused afterward.
func (h *Handler) attach(r *http.Request) (sessionID, userID string, err error) {
	sessionID = chi.URLParam(r, "id")
	userID = httpmw.UserIDFromCtx(r.Context())
	_, err = h.callSvc.Attach(r.Context(), sessionID, userID, r.Header.Get("X-Display-Name"))
	return sessionID, userID, err
}

// POST /sessions/{id}/call
func (h *Handler) CreateMainRoom(w http.ResponseWriter, r *http.Request) {
	sessionID, userID, err := h.attach(r)
	if err != nil {
		writeCallError(w, "CreateMainRoom", err)
		return
	}
	roomID, err := h.callSvc.CreateMainRoom(r.Context(), sessionID, userID)
	if err != nil {
		writeCallError(w, "CreateMainRoom", err)
		return
	}
	writeJSON(w, http.StatusCreated, RoomResponse{RoomID: roomID})
}

// POST /sessions/{id}/call/load
func (h *Handler) LoadMainRoom(w http.ResponseWriter, r *http.Request) {
	sessionID, userID, err := h.attach(r)
	if err != nil {
		writeCallError(w, "LoadMainRoom", err)
		return
	}
	if err := h.callSvc.LoadMainRoom(r.Context(), sessionID, userID); err != nil {
		writeCallError(w, "LoadMainRoom", err)
		return
	}
	state, err := h.callSvc.State(sessionID, userID)
	if err != nil {
		writeCallError(w, "LoadMainRoom", err)
		return
	}
	writeJSON(w, http.StatusOK, callStateResponse(state))
}

// GET /sessions/{id}/call/state
func (h *Handler) CallState(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	userID := httpmw.UserIDFromCtx(r.Context())

	state, err := h.callSvc.State(sessionID, userID)
	if err != nil {
		writeCallError(w, "CallState", err)
		return
	}
	writeJSON(w, http.StatusOK, callStateResponse(state))
}

// POST /sessions/{id}/call/breakouts
func (h *Handler) CreateBreakouts(w http.ResponseWriter, r *http.Request) {
	sessionID, userID, err := h.attach(r)
	if err != nil {
		writeCallError(w, "CreateBreakouts", err)
		return
	}
	var req CreateBreakoutsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}

	groups, err := h.callSvc.CreateBreakoutRooms(r.Context(), sessionID, userID, req.MaxPerRoom)
	if err != nil {
		writeCallError(w, "CreateBreakouts", err)
		return
	}
	resp := BreakoutsResponse{Rooms: make([]BreakoutRoomItem, 0, len(groups))}
	for _, g := range groups {
		resp.Rooms = append(resp.Rooms, BreakoutRoomItem{RoomID: g.RoomID, MemberUserIDs: g.MemberUserIDs})
	}
	writeJSON(w, http.StatusCreated, resp)
}

// POST /sessions/{id}/call/breakouts/join
func (h *Handler) JoinBreakout(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	userID := httpmw.UserIDFromCtx(r.Context())
	if err := h.callSvc.JoinBreakoutRoom(r.Context(), sessionID, userID); err != nil {
		writeCallError(w, "JoinBreakout", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}

// POST /sessions/{id}/call/breakouts/leave
func (h *Handler) LeaveBreakout(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	userID := httpmw.UserIDFromCtx(r.Context())
	if err := h.callSvc.LeaveBreakoutRoom(r.Context(), sessionID, userID); err != nil {
		writeCallError(w, "LeaveBreakout", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// POST /sessions/{id}/call/breakouts/end
func (h *Handler) EndBreakouts(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	userID := httpmw.UserIDFromCtx(r.Context())
	if err := h.callSvc.EndBreakoutRooms(r.Context(), sessionID, userID); err != nil {
		writeCallError(w, "EndBreakouts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ending"})
}

// POST /sessions/{id}/call/activity
func (h *Handler) StartActivity(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	userID := httpmw.UserIDFromCtx(r.Context())
	var req StartActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	if err := h.callSvc.StartActivity(r.Context(), sessionID, userID, req.Slug); err != nil {
		writeCallError(w, "StartActivity", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// DELETE /sessions/{id}/call/activity
func (h *Handler) EndActivity(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	userID := httpmw.UserIDFromCtx(r.Context())
	if err := h.callSvc.EndActivity(r.Context(), sessionID, userID); err != nil {
		writeCallError(w, "EndActivity", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

// POST /sessions/{id}/call/activity/events
func (h *Handler) SendActivityEvent(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	userID := httpmw.UserIDFromCtx(r.Context())
	var req ActivityEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Action == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	if err := h.callSvc.SendActivityEvent(r.Context(), sessionID, userID, req.Action, req.Payload); err != nil {
		if errors.Is(err, domain.ErrMalformedEvent) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "reserved action"})
			return
		}
		writeCallError(w, "SendActivityEvent", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// POST /sessions/{id}/call/reactions
func (h *Handler) SendReaction(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	userID := httpmw.UserIDFromCtx(r.Context())
	var req ReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	if err := h.callSvc.SendReaction(r.Context(), sessionID, userID, req.Emoji); err != nil {
		writeCallError(w, "SendReaction", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// GET /sessions/{id}/call/chat?after=&limit=
func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	userID := httpmw.UserIDFromCtx(r.Context())

	// history is read from the client's active room, not a fixed room ID
	state, err := h.callSvc.State(sessionID, userID)
	if err != nil {
		writeCallError(w, "GetChatHistory", err)
		return
	}
	if state.ActiveRoomID == "" {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "not in a room"})
		return
	}

	after := r.URL.Query().Get("after")
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}
	items, next, err := h.chatSvc.History(r.Context(), state.ActiveRoomID, after, limit)
	if err != nil {
		slog.Error("handler.GetChatHistory:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	resp := ChatHistoryResponse{Items: make([]ChatMessageItem, 0, len(items)), NextCursor: next}
	for _, m := range items {
		resp.Items = append(resp.Items, ChatMessageItem{
			ID:        m.ID,
			RoomID:    m.RoomID,
			UserID:    m.UserID,
			Text:      m.Text,
			CreatedAt: m.CreatedAt.Truncate(time.Millisecond),
			ReplyTo:   m.ReplyTo,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func callStateResponse(s service.CallState) CallStateResponse {
	resp := CallStateResponse{
		MainRoomID:     s.MainRoomID,
		ActiveRoomID:   s.ActiveRoomID,
		ActiveRoomKind: string(s.ActiveRoomKind),
		Members:        make([]ParticipantItem, 0, len(s.Members)),
		IsHost:         s.IsHost,
		Reactions:      make([]ReactionItem, 0, len(s.Reactions)),
		SubRoomID:      s.SubRoomID,
	}
	for _, m := range s.Members {
		resp.Members = append(resp.Members, ParticipantItem{UserID: m.UserID, DisplayName: m.DisplayName})
	}
	if s.Assignment != nil {
		resp.Assignment = &BreakoutRoomItem{RoomID: s.Assignment.RoomID, MemberUserIDs: s.Assignment.MemberUserIDs}
	}
	if !s.BreakoutEndsAt.IsZero() {
		resp.BreakoutEndsAt = s.BreakoutEndsAt.UnixMilli()
	}
	if s.Activity.Running() {
		resp.Activity = &ActivityStateItem{
			Slug:      s.Activity.Slug,
			Phase:     s.Activity.Phase,
			StartedAt: s.Activity.StartedAt.Unix(),
		}
	}
	for _, rc := range s.Reactions {
		resp.Reactions = append(resp.Reactions, ReactionItem{ID: rc.ID, UserID: rc.UserID, Emoji: rc.Emoji})
	}
	return resp
}
