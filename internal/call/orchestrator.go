package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/huddleplan/call-service/internal/domain"
	"github.com/huddleplan/call-service/internal/rtc"
)

const (
	defaultGraceDelay  = 5 * time.Second
	defaultClearBuffer = 2 * time.Second
	defaultTick        = time.Second
)

var (
	errClosed = errors.New("call orchestrator closed")

	// internal markers for transition bookkeeping
	errLeaveInFlight = errors.New("leave already in flight")
	errAlreadyInMain = errors.New("already in main room")
)

type transitionKind int

const (
	transitionNone transitionKind = iota
	transitionLoad
	transitionCreate
	transitionJoin
	transitionLeave
)

// Orchestrator owns one client's room assignment for a call: the main room,
// the currently active room, the published breakout assignment and the
// breakout-ending countdown.
//
// It is an actor: all state lives on a single run loop, transport callbacks
// and commands are funneled through one queue, so handlers never interleave.
// Transport round-trips (create/join/leave) happen off the loop; at most one
// such transition is in flight per client, a second request is rejected with
// domain.ErrTransitionInProgress.
type Orchestrator struct {
	transport rtc.Transport
	bus       *Bus
	self      domain.Participant

	graceDelay  time.Duration
	clearBuffer time.Duration
	clock       func() time.Time
	afterFunc   func(d time.Duration, f func()) *time.Timer

	cmds      chan func()
	done      chan struct{}
	closeOnce sync.Once

	// loop-owned state below

	mainRoom   rtc.Room
	activeRoom rtc.Room
	assignment *domain.BreakoutRoom
	endingAt   time.Time
	clearTimer *time.Timer

	inFlight    transitionKind
	mainCancel  func()
	roomCancels []func()
}

type Options struct {
	// GraceDelay is the countdown shown before breakouts dissolve.
	GraceDelay time.Duration
	// ClearBuffer is the extra wait before the host clears the partition
	// keys, so slow clients see the deadline pass first.
	ClearBuffer time.Duration
	// Tick is the countdown re-check interval.
	Tick time.Duration

	Clock     func() time.Time
	AfterFunc func(d time.Duration, f func()) *time.Timer
}

func NewOrchestrator(transport rtc.Transport, bus *Bus, self domain.Participant, opts Options) *Orchestrator {
	o := &Orchestrator{
		transport:   transport,
		bus:         bus,
		self:        self,
		graceDelay:  opts.GraceDelay,
		clearBuffer: opts.ClearBuffer,
		clock:       opts.Clock,
		afterFunc:   opts.AfterFunc,
		cmds:        make(chan func(), 128),
		done:        make(chan struct{}),
	}
	if o.graceDelay <= 0 {
		o.graceDelay = defaultGraceDelay
	}
	if o.clearBuffer <= 0 {
		o.clearBuffer = defaultClearBuffer
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.afterFunc == nil {
		o.afterFunc = time.AfterFunc
	}
	tick := opts.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	go o.run(tick)
	return o
}

func (o *Orchestrator) run(tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case fn := <-o.cmds:
			fn()
		case <-ticker.C:
			o.onTick()
		case <-o.done:
			return
		}
	}
}

// do runs fn on the loop and waits for it.
func (o *Orchestrator) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case o.cmds <- func() { fn(); close(ran) }:
	case <-o.done:
		return errClosed
	}
	select {
	case <-ran:
		return nil
	case <-o.done:
		return errClosed
	}
}

// post queues fn without waiting. Used by transport callbacks.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.cmds <- fn:
	case <-o.done:
	}
}

// ---- transitions ----

func (o *Orchestrator) begin(kind transitionKind, prepare func() error) error {
	var err error
	if derr := o.do(func() {
		if o.inFlight != transitionNone {
			if kind == transitionLeave && o.inFlight == transitionLeave {
				err = errLeaveInFlight
				return
			}
			err = domain.ErrTransitionInProgress
			return
		}
		if prepare != nil {
			if err = prepare(); err != nil {
				return
			}
		}
		o.inFlight = kind
	}); derr != nil {
		return derr
	}
	return err
}

// finish commits (or not) and releases the transition slot. On failure the
// caller passes nil commit: the last-known-good assignment stays.
func (o *Orchestrator) finish(commit func()) {
	_ = o.do(func() {
		if commit != nil {
			commit()
		}
		o.inFlight = transitionNone
	})
}

// LoadMainRoom resolves the room bound to the session and joins it. A
// session with no bound room fails with domain.ErrRoomNotFound; the caller
// may then offer CreateMainRoom.
func (o *Orchestrator) LoadMainRoom(ctx context.Context, sess *domain.Session) error {
	if sess.CallRoomID == nil || *sess.CallRoomID == "" {
		return fmt.Errorf("session %s: %w", sess.ID, domain.ErrRoomNotFound)
	}
	if err := o.begin(transitionLoad, nil); err != nil {
		return err
	}

	room, err := o.transport.LookupRoom(ctx, *sess.CallRoomID)
	if err != nil {
		o.finish(nil)
		return fmt.Errorf("lookup room %s: %w", *sess.CallRoomID, err)
	}
	if err := room.Join(ctx, o.self, nil, rtc.MediaDefaults{}); err != nil {
		o.finish(nil)
		return fmt.Errorf("join room %s: %w", room.ID(), err)
	}

	o.finish(func() { o.adoptMainRoom(room) })
	return nil
}

// CreateMainRoom creates the session's room with the creator as admin and
// joins it. One room per session is the caller's convention, not enforced
// here. Returns the new room ID for writing back to the session record.
func (o *Orchestrator) CreateMainRoom(ctx context.Context, sess *domain.Session, creatorUserID string) (string, error) {
	if err := o.begin(transitionCreate, nil); err != nil {
		return "", err
	}

	params := rtc.CreateRoomParams{
		ID:   "call-" + sess.ID,
		Kind: domain.RoomKindMain,
		Metadata: map[string]string{
			MetaCourseName:     sess.CourseName,
			MetaTopic:          sess.Topic,
			MetaScheduledStart: sess.ScheduledStart.UTC().Format(time.RFC3339),
		},
		AdminUserIDs: []string{creatorUserID},
	}
	room, err := o.transport.CreateRoom(ctx, params)
	if err != nil {
		o.finish(nil)
		return "", fmt.Errorf("%w: %v", domain.ErrRoomCreationFailed, err)
	}
	if err := room.Join(ctx, o.self, nil, rtc.MediaDefaults{}); err != nil {
		o.finish(nil)
		return "", fmt.Errorf("join created room: %w", err)
	}

	o.finish(func() { o.adoptMainRoom(room) })
	return room.ID(), nil
}

// CreateBreakoutRooms creates (or fetches) a room per group, seeded with the
// main room's shared metadata, then publishes the partition into the main
// room's metadata. Best effort, not transactional: a failure leaves already
// created rooms intact and the partition unpublished.
func (o *Orchestrator) CreateBreakoutRooms(ctx context.Context, groups []domain.BreakoutRoom) error {
	var main rtc.Room
	if err := o.do(func() { main = o.mainRoom }); err != nil {
		return err
	}
	if main == nil {
		return domain.ErrRoomNotFound
	}
	if main.CreatorUserID() != o.self.UserID {
		return domain.ErrNotHost
	}

	seed := sharedMetadata(main.Metadata())
	for _, g := range groups {
		if _, err := o.transport.LookupRoom(ctx, g.RoomID); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrRoomNotFound) {
			return fmt.Errorf("lookup breakout %s: %w", g.RoomID, err)
		}
		if _, err := o.transport.CreateRoom(ctx, rtc.CreateRoomParams{
			ID:           g.RoomID,
			Kind:         domain.RoomKindBreakout,
			Metadata:     seed,
			AdminUserIDs: []string{o.self.UserID},
		}); err != nil {
			return fmt.Errorf("%w: breakout %s: %v", domain.ErrRoomCreationFailed, g.RoomID, err)
		}
	}

	raw, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("encode partition: %w", err)
	}
	if err := main.UpdateMetadata(ctx, map[string]string{MetaRooms: string(raw)}); err != nil {
		return fmt.Errorf("publish partition: %w", err)
	}
	slog.Info("breakout partition published", "call", main.ID(), "rooms", len(groups))
	return nil
}

// JoinBreakoutRoom moves this client from the main room into its assigned
// breakout: leave-then-join, never join-then-join. Joining from another
// breakout is not supported; leave first.
func (o *Orchestrator) JoinBreakoutRoom(ctx context.Context) error {
	var (
		main   rtc.Room
		target *domain.BreakoutRoom
	)
	if err := o.begin(transitionJoin, func() error {
		if o.mainRoom == nil {
			return domain.ErrRoomNotFound
		}
		if o.activeRoom != o.mainRoom {
			return domain.ErrNotInMainRoom
		}
		if o.assignment == nil {
			return domain.ErrNoBreakoutAssignment
		}
		main = o.mainRoom
		a := *o.assignment
		target = &a
		return nil
	}); err != nil {
		return err
	}

	room, err := o.transport.LookupRoom(ctx, target.RoomID)
	if err != nil {
		o.finish(nil)
		return fmt.Errorf("lookup breakout %s: %w", target.RoomID, err)
	}

	carry := carriedMetadata(main.Metadata())
	if err := main.Leave(ctx, o.self.ConnectionID); err != nil {
		o.finish(nil)
		return fmt.Errorf("leave main room: %w", err)
	}
	if err := room.Join(ctx, o.self, carry, rtc.MediaDefaults{CameraOff: true}); err != nil {
		// restore the last-known-good assignment
		if rerr := main.Join(ctx, o.self, nil, rtc.MediaDefaults{}); rerr != nil {
			slog.Error("rejoin main after failed breakout join", "room", main.ID(), "err", rerr)
		}
		o.finish(nil)
		return fmt.Errorf("join breakout %s: %w", room.ID(), err)
	}

	o.finish(func() { o.adoptActiveRoom(room) })
	return nil
}

// LeaveBreakoutRoom returns this client to the main room. Reentrant-safe:
// called while already in the main room, or while another leave is in
// flight, it is a no-op. Both a manual click and an expiring countdown may
// race into it.
func (o *Orchestrator) LeaveBreakoutRoom(ctx context.Context) error {
	var from, main rtc.Room
	err := o.begin(transitionLeave, func() error {
		if o.mainRoom == nil {
			return domain.ErrRoomNotFound
		}
		if o.activeRoom == o.mainRoom {
			return errAlreadyInMain
		}
		from = o.activeRoom
		main = o.mainRoom
		return nil
	})
	switch {
	case errors.Is(err, errAlreadyInMain), errors.Is(err, errLeaveInFlight):
		return nil
	case err != nil:
		return err
	}

	if err := from.Leave(ctx, o.self.ConnectionID); err != nil {
		o.finish(nil)
		return fmt.Errorf("leave breakout %s: %w", from.ID(), err)
	}
	if err := main.Join(ctx, o.self, nil, rtc.MediaDefaults{}); err != nil {
		o.finish(nil)
		return fmt.Errorf("rejoin main room: %w", err)
	}

	o.finish(func() { o.adoptActiveRoom(main) })
	return nil
}

// EndBreakoutRooms publishes the dissolve deadline so every client can show
// the countdown and leave on its own, then clears the partition keys after
// the grace period plus a buffer. There is no per-client kick message.
func (o *Orchestrator) EndBreakoutRooms(ctx context.Context) error {
	var main rtc.Room
	if err := o.do(func() { main = o.mainRoom }); err != nil {
		return err
	}
	if main == nil {
		return domain.ErrRoomNotFound
	}
	if main.CreatorUserID() != o.self.UserID {
		return domain.ErrNotHost
	}

	deadline := o.clock().Add(o.graceDelay)
	patch := map[string]string{
		MetaEndingBreakoutsAt: strconv.FormatInt(deadline.UnixMilli(), 10),
	}
	if err := main.UpdateMetadata(ctx, patch); err != nil {
		return fmt.Errorf("publish breakout deadline: %w", err)
	}

	tm := o.afterFunc(o.graceDelay+o.clearBuffer, func() {
		select {
		case <-o.done:
			// torn down in the meantime, no stale metadata writes
			return
		default:
		}
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := main.ClearMetadata(cctx, MetaRooms, MetaEndingBreakoutsAt); err != nil {
			slog.Warn("clear breakout partition failed", "call", main.ID(), "err", err)
		}
	})
	_ = o.do(func() {
		if o.clearTimer != nil {
			o.clearTimer.Stop()
		}
		o.clearTimer = tm
	})
	return nil
}

// ---- loop-side handlers ----

func (o *Orchestrator) adoptMainRoom(room rtc.Room) {
	if o.mainCancel != nil {
		o.mainCancel()
	}
	o.mainRoom = room
	o.mainCancel = room.OnMetadataChanged(func(md map[string]string) {
		o.post(func() { o.onMainMetadata(md) })
	})
	o.adoptActiveRoom(room)
	o.onMainMetadata(room.Metadata())
}

func (o *Orchestrator) adoptActiveRoom(room rtc.Room) {
	for _, cancel := range o.roomCancels {
		cancel()
	}
	o.roomCancels = o.roomCancels[:0]

	o.activeRoom = room
	o.roomCancels = append(o.roomCancels,
		room.OnEvent(func(ev rtc.Event) {
			o.post(func() { o.bus.HandleEvent(ev) })
		}),
		room.OnParticipantJoined(func(p domain.Participant) {
			// a fresh presence is the resync signal; every metadata write
			// is not
			o.post(func() { o.bus.SyncLocal() })
		}),
	)

	isHost := room.CreatorUserID() == o.self.UserID
	o.bus.AttachRoom(room, isHost)
	o.bus.SyncLocal()
	slog.Info("active room changed", "room", room.ID(), "kind", room.Kind(), "user", o.self.UserID)
}

// onMainMetadata recomputes this client's breakout assignment and the
// dissolve deadline from the authoritative main-room metadata. A client that
// joined after the partition was published simply finds no entry and stays
// unassigned until the host republishes.
func (o *Orchestrator) onMainMetadata(md map[string]string) {
	raw, ok := md[MetaRooms]
	if !ok || raw == "" {
		o.assignment = nil
	} else {
		var groups []domain.BreakoutRoom
		if err := json.Unmarshal([]byte(raw), &groups); err != nil {
			slog.Warn("bad partition metadata", "err", err)
		} else {
			o.assignment = nil
			for i := range groups {
				if groups[i].Contains(o.self.UserID) {
					o.assignment = &groups[i]
					break
				}
			}
		}
	}

	if raw, ok := md[MetaEndingBreakoutsAt]; ok && raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			slog.Warn("bad breakout deadline metadata", "value", raw, "err", err)
			o.endingAt = time.Time{}
		} else {
			o.endingAt = time.UnixMilli(ms)
		}
	} else {
		o.endingAt = time.Time{}
	}
}

// onTick re-evaluates the countdown against the authoritative deadline. The
// timestamp, not a pushed tick, is the source of truth, so a backgrounded or
// drifted client self-corrects.
func (o *Orchestrator) onTick() {
	if o.endingAt.IsZero() || o.clock().Before(o.endingAt) {
		return
	}
	if o.activeRoom == nil || o.activeRoom == o.mainRoom {
		return
	}
	if o.inFlight != transitionNone {
		return
	}
	// self-driven expiry: leave off the loop, the no-op guard absorbs
	// duplicate ticks
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.LeaveBreakoutRoom(ctx); err != nil {
			slog.Warn("countdown leave failed", "err", err)
		}
	}()
}

// ---- accessors ----

// Snapshot is a consistent read of the orchestrator state.
type Snapshot struct {
	MainRoomID     string
	ActiveRoomID   string
	ActiveRoomKind domain.RoomKind
	Members        []domain.Participant
	Assignment     *domain.BreakoutRoom
	BreakoutEndsAt time.Time
	IsHost         bool
}

func (o *Orchestrator) Snapshot() Snapshot {
	var s Snapshot
	_ = o.do(func() {
		if o.mainRoom != nil {
			s.MainRoomID = o.mainRoom.ID()
			s.IsHost = o.mainRoom.CreatorUserID() == o.self.UserID
		}
		if o.activeRoom != nil {
			s.ActiveRoomID = o.activeRoom.ID()
			s.ActiveRoomKind = o.activeRoom.Kind()
			s.Members = o.activeRoom.Members()
		}
		if o.assignment != nil {
			a := *o.assignment
			s.Assignment = &a
		}
		s.BreakoutEndsAt = o.endingAt
	})
	return s
}

func (o *Orchestrator) ActiveRoom() rtc.Room {
	var r rtc.Room
	_ = o.do(func() { r = o.activeRoom })
	return r
}

func (o *Orchestrator) Assignment() *domain.BreakoutRoom {
	var a *domain.BreakoutRoom
	_ = o.do(func() {
		if o.assignment != nil {
			c := *o.assignment
			a = &c
		}
	})
	return a
}

// Close cancels subscriptions and timers and leaves the active room.
func (o *Orchestrator) Close(ctx context.Context) {
	o.closeOnce.Do(func() {
		_ = o.do(func() {
			if o.mainCancel != nil {
				o.mainCancel()
			}
			for _, cancel := range o.roomCancels {
				cancel()
			}
			o.roomCancels = nil
			if o.clearTimer != nil {
				o.clearTimer.Stop()
				o.clearTimer = nil
			}
			if o.activeRoom != nil {
				if err := o.activeRoom.Leave(ctx, o.self.ConnectionID); err != nil {
					slog.Debug("leave on close failed", "room", o.activeRoom.ID(), "err", err)
				}
			}
		})
		close(o.done)
		o.bus.Close()
	})
}

// sharedMetadata is what a new breakout inherits from the main room:
// everything except the partition-control keys.
func sharedMetadata(md map[string]string) map[string]string {
	out := make(map[string]string, len(md))
	for k, v := range md {
		if k == MetaRooms || k == MetaEndingBreakoutsAt {
			continue
		}
		out[k] = v
	}
	return out
}

// carriedMetadata is the subset a client carries along when joining a
// breakout.
func carriedMetadata(md map[string]string) map[string]string {
	out := make(map[string]string, 2)
	for _, k := range []string{MetaCourseName, MetaTopic} {
		if v, ok := md[k]; ok {
			out[k] = v
		}
	}
	return out
}
