package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/huddleplan/call-service/internal/activity"
	"github.com/huddleplan/call-service/internal/call"
	"github.com/huddleplan/call-service/internal/domain"
	"github.com/huddleplan/call-service/internal/partition"
	"github.com/huddleplan/call-service/internal/postgres"
	"github.com/huddleplan/call-service/internal/rtc"
)

// ErrNotAttached means the user has no live call client for the session;
// Attach must be called first.
var ErrNotAttached = errors.New("not attached to the session call")

type CallConfig struct {
	MaxPerRoom  int
	GraceDelay  time.Duration
	ClearBuffer time.Duration
	ReactionTTL time.Duration
	Tick        time.Duration
}

// CallService is the call-control entry point the transports talk to. It
// owns one ClientCall (orchestrator + event bus) per attached user per
// session and translates session-level requests into room operations.
type CallService struct {
	transport   rtc.Transport
	sessionRepo *postgres.SessionRepository
	registry    activity.Registry
	cfg         CallConfig

	rngMu sync.Mutex
	rng   *rand.Rand

	mu      sync.Mutex
	clients map[clientKey]*ClientCall
}

type clientKey struct {
	sessionID string
	userID    string
}

// ClientCall is one user's live attachment to a session call.
type ClientCall struct {
	SessionID string
	Self      domain.Participant
	Bus       *call.Bus
	Orch      *call.Orchestrator
}

func NewCallService(transport rtc.Transport, sessionRepo *postgres.SessionRepository, registry activity.Registry, cfg CallConfig) *CallService {
	if cfg.MaxPerRoom <= 0 {
		cfg.MaxPerRoom = 4
	}
	return &CallService{
		transport:   transport,
		sessionRepo: sessionRepo,
		registry:    registry,
		cfg:         cfg,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		clients:     make(map[clientKey]*ClientCall),
	}
}

// Attach creates the per-user call client for a session, or returns the
// existing one. It does not join any room; LoadMainRoom and CreateMainRoom
// drive that explicitly so the caller can react to a missing room.
func (s *CallService) Attach(ctx context.Context, sessionID, userID, displayName string) (*ClientCall, error) {
	if _, err := s.sessionRepo.Get(ctx, sessionID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := clientKey{sessionID: sessionID, userID: userID}
	if c, ok := s.clients[key]; ok {
		return c, nil
	}

	self := domain.Participant{
		ConnectionID: uuid.NewString(),
		UserID:       userID,
		DisplayName:  displayName,
	}
	bus := call.NewBus(s.registry, userID, call.BusOptions{ReactionTTL: s.cfg.ReactionTTL})
	c := &ClientCall{
		SessionID: sessionID,
		Self:      self,
		Bus:       bus,
		Orch: call.NewOrchestrator(s.transport, bus, self, call.Options{
			GraceDelay:  s.cfg.GraceDelay,
			ClearBuffer: s.cfg.ClearBuffer,
			Tick:        s.cfg.Tick,
		}),
	}
	s.clients[key] = c
	return c, nil
}

// Detach tears down the user's call client: leaves the active room, cancels
// subscriptions and timers.
func (s *CallService) Detach(ctx context.Context, sessionID, userID string) {
	s.mu.Lock()
	key := clientKey{sessionID: sessionID, userID: userID}
	c, ok := s.clients[key]
	delete(s.clients, key)
	s.mu.Unlock()

	if ok {
		c.Orch.Close(ctx)
	}
}

func (s *CallService) client(sessionID, userID string) (*ClientCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientKey{sessionID: sessionID, userID: userID}]
	if !ok {
		return nil, ErrNotAttached
	}
	return c, nil
}

// LoadMainRoom joins the session's bound main room. domain.ErrRoomNotFound
// means no room is bound yet; the caller may offer creation.
func (s *CallService) LoadMainRoom(ctx context.Context, sessionID, userID string) error {
	c, err := s.client(sessionID, userID)
	if err != nil {
		return err
	}
	sess, err := s.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	return c.Orch.LoadMainRoom(ctx, sess)
}

// CreateMainRoom creates and joins the main room for the session, then binds
// the room ID to the session record. Only the session host may create it.
func (s *CallService) CreateMainRoom(ctx context.Context, sessionID, userID string) (string, error) {
	c, err := s.client(sessionID, userID)
	if err != nil {
		return "", err
	}
	sess, err := s.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess.HostUserID != userID {
		return "", domain.ErrNotHost
	}

	roomID, err := c.Orch.CreateMainRoom(ctx, sess, userID)
	if err != nil {
		return "", err
	}
	if err := s.sessionRepo.SetCallRoomID(ctx, sessionID, roomID); err != nil {
		return "", fmt.Errorf("bind room to session: %w", err)
	}
	return roomID, nil
}

// CreateBreakoutRooms partitions the current main-room members into groups
// of at most maxPerRoom, creates the rooms and publishes the assignment.
func (s *CallService) CreateBreakoutRooms(ctx context.Context, sessionID, userID string, maxPerRoom int) ([]domain.BreakoutRoom, error) {
	c, err := s.client(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if maxPerRoom <= 0 {
		maxPerRoom = s.cfg.MaxPerRoom
	}

	snap := c.Orch.Snapshot()
	if snap.MainRoomID == "" {
		return nil, domain.ErrRoomNotFound
	}

	s.rngMu.Lock()
	groups := partition.Split(s.rng, snap.MainRoomID, snap.Members, maxPerRoom)
	s.rngMu.Unlock()

	if err := c.Orch.CreateBreakoutRooms(ctx, groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (s *CallService) JoinBreakoutRoom(ctx context.Context, sessionID, userID string) error {
	c, err := s.client(sessionID, userID)
	if err != nil {
		return err
	}
	return c.Orch.JoinBreakoutRoom(ctx)
}

func (s *CallService) LeaveBreakoutRoom(ctx context.Context, sessionID, userID string) error {
	c, err := s.client(sessionID, userID)
	if err != nil {
		return err
	}
	return c.Orch.LeaveBreakoutRoom(ctx)
}

func (s *CallService) EndBreakoutRooms(ctx context.Context, sessionID, userID string) error {
	c, err := s.client(sessionID, userID)
	if err != nil {
		return err
	}
	return c.Orch.EndBreakoutRooms(ctx)
}

func (s *CallService) StartActivity(ctx context.Context, sessionID, userID, slug string) error {
	c, err := s.client(sessionID, userID)
	if err != nil {
		return err
	}
	return c.Bus.StartActivity(ctx, slug)
}

func (s *CallService) EndActivity(ctx context.Context, sessionID, userID string) error {
	c, err := s.client(sessionID, userID)
	if err != nil {
		return err
	}
	return c.Bus.EndActivity(ctx)
}

func (s *CallService) SendActivityEvent(ctx context.Context, sessionID, userID, action string, payload map[string]any) error {
	c, err := s.client(sessionID, userID)
	if err != nil {
		return err
	}
	return c.Bus.SendActivityEvent(ctx, action, payload)
}

func (s *CallService) SendReaction(ctx context.Context, sessionID, userID, emoji string) error {
	c, err := s.client(sessionID, userID)
	if err != nil {
		return err
	}
	return c.Bus.SendReaction(ctx, emoji)
}

// CallState is the combined client view the transports serialize.
type CallState struct {
	MainRoomID     string
	ActiveRoomID   string
	ActiveRoomKind domain.RoomKind
	Members        []domain.Participant
	Assignment     *domain.BreakoutRoom
	BreakoutEndsAt time.Time
	IsHost         bool
	Activity       domain.ActivityState
	Reactions      []domain.Reaction
	SubRoomID      string
}

func (s *CallService) State(sessionID, userID string) (CallState, error) {
	c, err := s.client(sessionID, userID)
	if err != nil {
		return CallState{}, err
	}
	snap := c.Orch.Snapshot()
	return CallState{
		MainRoomID:     snap.MainRoomID,
		ActiveRoomID:   snap.ActiveRoomID,
		ActiveRoomKind: snap.ActiveRoomKind,
		Members:        snap.Members,
		Assignment:     snap.Assignment,
		BreakoutEndsAt: snap.BreakoutEndsAt,
		IsHost:         snap.IsHost,
		Activity:       c.Bus.Activity(),
		Reactions:      c.Bus.Reactions(),
		SubRoomID:      c.Bus.SubRoomID(),
	}, nil
}

// Close detaches every client. Used on shutdown.
func (s *CallService) Close(ctx context.Context) {
	s.mu.Lock()
	clients := make([]*ClientCall, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[clientKey]*ClientCall)
	s.mu.Unlock()

	for _, c := range clients {
		c.Orch.Close(ctx)
	}
}
