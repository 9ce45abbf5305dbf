package call

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/huddleplan/call-service/internal/activity"
	"github.com/huddleplan/call-service/internal/domain"
	"github.com/huddleplan/call-service/internal/rtc"
	"github.com/huddleplan/call-service/internal/rtc/rtctest"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type timerRecorder struct {
	mu     sync.Mutex
	durs   []time.Duration
	fns    []func()
	timers []*time.Timer
}

func (r *timerRecorder) AfterFunc(d time.Duration, f func()) *time.Timer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durs = append(r.durs, d)
	r.fns = append(r.fns, f)
	tm := time.NewTimer(time.Hour)
	r.timers = append(r.timers, tm)
	return tm
}

// stopped reports whether recorded timer i has been stopped by the code
// under test. Stop on an already-stopped timer returns false.
func (r *timerRecorder) stopped(t *testing.T, i int) bool {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= len(r.timers) {
		t.Fatalf("no recorded timer %d", i)
	}
	return !r.timers[i].Stop()
}

func (r *timerRecorder) fire(t *testing.T, i int) {
	t.Helper()
	r.mu.Lock()
	if i >= len(r.fns) {
		r.mu.Unlock()
		t.Fatalf("no recorded timer %d", i)
	}
	fn := r.fns[i]
	r.mu.Unlock()
	fn()
}

type fixture struct {
	ft    *rtctest.FakeTransport
	main  *rtctest.FakeRoom
	clock *fakeClock
	timer *timerRecorder
	bus   *Bus
	orch  *Orchestrator
	sess  *domain.Session
}

func strPtr(s string) *string { return &s }

// newFixture builds an orchestrator for the given user with a seeded main
// room created by "host".
func newFixture(t *testing.T, userID string) *fixture {
	t.Helper()

	f := &fixture{
		ft:    rtctest.NewFakeTransport(),
		clock: newFakeClock(),
		timer: &timerRecorder{},
	}
	f.main = rtctest.NewFakeRoom("call-s1", domain.RoomKindMain, "host")
	f.main.SetMetadata(map[string]string{MetaTopic: "fractions", MetaCourseName: "math"})
	f.ft.AddRoom(f.main)
	f.sess = &domain.Session{ID: "s1", CallRoomID: strPtr("call-s1")}

	self := domain.Participant{ConnectionID: "conn-" + userID, UserID: userID, DisplayName: userID}
	f.bus = NewBus(activity.BuiltIn(), userID, BusOptions{Clock: f.clock.Now, AfterFunc: f.timer.AfterFunc})
	f.orch = NewOrchestrator(f.ft, f.bus, self, Options{
		GraceDelay:  5 * time.Second,
		ClearBuffer: 2 * time.Second,
		Tick:        time.Hour, // ticks are driven manually in tests
		Clock:       f.clock.Now,
		AfterFunc:   f.timer.AfterFunc,
	})
	t.Cleanup(func() { f.orch.Close(context.Background()) })
	return f
}

func (f *fixture) publishPartition(t *testing.T, groups []domain.BreakoutRoom) {
	t.Helper()
	raw, err := json.Marshal(groups)
	if err != nil {
		t.Fatalf("marshal partition: %v", err)
	}
	f.main.SetMetadata(map[string]string{MetaRooms: string(raw)})
	f.waitLoop()
}

// waitLoop flushes everything already queued on the orchestrator loop.
func (f *fixture) waitLoop() {
	_ = f.orch.do(func() {})
}

func TestLoadMainRoom_NoBoundRoom(t *testing.T) {
	f := newFixture(t, "alice")
	err := f.orch.LoadMainRoom(context.Background(), &domain.Session{ID: "s2"})
	if !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestLoadMainRoom_JoinsAndAdopts(t *testing.T) {
	f := newFixture(t, "alice")
	if err := f.orch.LoadMainRoom(context.Background(), f.sess); err != nil {
		t.Fatalf("load: %v", err)
	}

	s := f.orch.Snapshot()
	if s.MainRoomID != "call-s1" || s.ActiveRoomID != "call-s1" {
		t.Fatalf("snapshot: %+v", s)
	}
	if len(f.main.Joins) != 1 || f.main.Joins[0] != "conn-alice" {
		t.Fatalf("joins: %v", f.main.Joins)
	}
}

func TestCreateMainRoom(t *testing.T) {
	f := newFixture(t, "host")
	sess := &domain.Session{ID: "s9", CourseName: "math", Topic: "fractions", ScheduledStart: f.clock.Now()}

	id, err := f.orch.CreateMainRoom(context.Background(), sess, "host")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "call-s9" {
		t.Fatalf("room id: %q", id)
	}
	room := f.ft.Room("call-s9")
	if room == nil {
		t.Fatal("room not created on transport")
	}
	md := room.Metadata()
	if md[MetaTopic] != "fractions" || md[MetaCourseName] != "math" {
		t.Fatalf("seed metadata: %v", md)
	}
	if s := f.orch.Snapshot(); !s.IsHost {
		t.Fatal("creator should be host of the new room")
	}
}

func TestAssignmentDiscovery(t *testing.T) {
	f := newFixture(t, "alice")
	if err := f.orch.LoadMainRoom(context.Background(), f.sess); err != nil {
		t.Fatalf("load: %v", err)
	}

	f.publishPartition(t, []domain.BreakoutRoom{
		{RoomID: "call-s1-breakout-1", MemberUserIDs: []string{"bob", "carol"}},
		{RoomID: "call-s1-breakout-2", MemberUserIDs: []string{"alice", "dave"}},
	})

	a := f.orch.Assignment()
	if a == nil || a.RoomID != "call-s1-breakout-2" {
		t.Fatalf("assignment: %+v", a)
	}

	// republish without alice: she goes back to unassigned
	f.publishPartition(t, []domain.BreakoutRoom{
		{RoomID: "call-s1-breakout-1", MemberUserIDs: []string{"bob", "carol"}},
	})
	if a := f.orch.Assignment(); a != nil {
		t.Fatalf("expected no assignment after republish, got %+v", a)
	}
}

func TestLateJoinerStaysUnassigned(t *testing.T) {
	f := newFixture(t, "eve")
	// partition published before eve loads the room, without her in it
	f.publishPartition(t, []domain.BreakoutRoom{
		{RoomID: "call-s1-breakout-1", MemberUserIDs: []string{"bob"}},
	})
	if err := f.orch.LoadMainRoom(context.Background(), f.sess); err != nil {
		t.Fatalf("load: %v", err)
	}
	if a := f.orch.Assignment(); a != nil {
		t.Fatalf("late joiner must stay unassigned, got %+v", a)
	}
}

func TestCreateBreakoutRooms(t *testing.T) {
	f := newFixture(t, "host")
	if err := f.orch.LoadMainRoom(context.Background(), f.sess); err != nil {
		t.Fatalf("load: %v", err)
	}

	groups := []domain.BreakoutRoom{
		{RoomID: "call-s1-breakout-1", MemberUserIDs: []string{"alice", "host"}},
		{RoomID: "call-s1-breakout-2", MemberUserIDs: []string{"bob"}},
	}
	if err := f.orch.CreateBreakoutRooms(context.Background(), groups); err != nil {
		t.Fatalf("create breakouts: %v", err)
	}

	b1 := f.ft.Room("call-s1-breakout-1")
	if b1 == nil {
		t.Fatal("breakout 1 missing")
	}
	if md := b1.Metadata(); md[MetaTopic] != "fractions" {
		t.Fatalf("breakout should inherit shared metadata, got %v", md)
	}

	raw := f.main.Metadata()[MetaRooms]
	var published []domain.BreakoutRoom
	if err := json.Unmarshal([]byte(raw), &published); err != nil || len(published) != 2 {
		t.Fatalf("published partition: %q err=%v", raw, err)
	}
	f.waitLoop()
	if a := f.orch.Assignment(); a == nil || a.RoomID != "call-s1-breakout-1" {
		t.Fatalf("host's own assignment: %+v", a)
	}
}

func TestCreateBreakoutRooms_NotHost(t *testing.T) {
	f := newFixture(t, "alice")
	if err := f.orch.LoadMainRoom(context.Background(), f.sess); err != nil {
		t.Fatalf("load: %v", err)
	}
	err := f.orch.CreateBreakoutRooms(context.Background(), []domain.BreakoutRoom{{RoomID: "x"}})
	if !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
}

func TestCreateBreakoutRooms_PartialFailure(t *testing.T) {
	f := newFixture(t, "host")
	if err := f.orch.LoadMainRoom(context.Background(), f.sess); err != nil {
		t.Fatalf("load: %v", err)
	}
	f.ft.FailCreateID = "call-s1-breakout-2"

	err := f.orch.CreateBreakoutRooms(context.Background(), []domain.BreakoutRoom{
		{RoomID: "call-s1-breakout-1", MemberUserIDs: []string{"alice"}},
		{RoomID: "call-s1-breakout-2", MemberUserIDs: []string{"bob"}},
	})
	if !errors.Is(err, domain.ErrRoomCreationFailed) {
		t.Fatalf("expected ErrRoomCreationFailed, got %v", err)
	}
	// no rollback of the room that did get created, and no partition published
	if f.ft.Room("call-s1-breakout-1") == nil {
		t.Fatal("first breakout should be left intact")
	}
	if _, ok := f.main.Metadata()[MetaRooms]; ok {
		t.Fatal("partition must not be published after a failure")
	}
}

func joinedBreakoutFixture(t *testing.T, userID string) *fixture {
	t.Helper()
	f := newFixture(t, userID)
	if err := f.orch.LoadMainRoom(context.Background(), f.sess); err != nil {
		t.Fatalf("load: %v", err)
	}
	breakout := rtctest.NewFakeRoom("call-s1-breakout-1", domain.RoomKindBreakout, "host")
	f.ft.AddRoom(breakout)
	f.publishPartition(t, []domain.BreakoutRoom{
		{RoomID: "call-s1-breakout-1", MemberUserIDs: []string{userID}},
	})
	return f
}

func TestJoinBreakoutRoom(t *testing.T) {
	f := joinedBreakoutFixture(t, "alice")

	if err := f.orch.JoinBreakoutRoom(context.Background()); err != nil {
		t.Fatalf("join breakout: %v", err)
	}

	s := f.orch.Snapshot()
	if s.ActiveRoomID != "call-s1-breakout-1" || s.ActiveRoomKind != domain.RoomKindBreakout {
		t.Fatalf("snapshot: %+v", s)
	}
	if len(f.main.Leaves) != 1 {
		t.Fatalf("should have left main exactly once: %v", f.main.Leaves)
	}
	b := f.ft.Room("call-s1-breakout-1")
	if !b.LastJoinMedia.CameraOff {
		t.Fatal("breakout join should default camera off")
	}
	if b.LastJoinMetadata[MetaTopic] != "fractions" {
		t.Fatalf("carried metadata: %v", b.LastJoinMetadata)
	}
}

func TestJoinBreakoutRoom_NoAssignment(t *testing.T) {
	f := newFixture(t, "alice")
	if err := f.orch.LoadMainRoom(context.Background(), f.sess); err != nil {
		t.Fatalf("load: %v", err)
	}
	err := f.orch.JoinBreakoutRoom(context.Background())
	if !errors.Is(err, domain.ErrNoBreakoutAssignment) {
		t.Fatalf("expected ErrNoBreakoutAssignment, got %v", err)
	}
}

func TestJoinBreakoutRoom_FailureRestoresMain(t *testing.T) {
	f := joinedBreakoutFixture(t, "alice")
	b := f.ft.Room("call-s1-breakout-1")
	b.JoinErr = errors.New("transport hiccup")

	if err := f.orch.JoinBreakoutRoom(context.Background()); err == nil {
		t.Fatal("expected join error")
	}
	s := f.orch.Snapshot()
	if s.ActiveRoomID != "call-s1" {
		t.Fatalf("should remain in main after failed join, got %+v", s)
	}
	// rejoined main after the failed leave-then-join
	if len(f.main.Joins) != 2 {
		t.Fatalf("expected rejoin of main, joins=%v", f.main.Joins)
	}
}

func TestLeaveBreakoutRoom_NoopInMain(t *testing.T) {
	f := newFixture(t, "alice")
	if err := f.orch.LoadMainRoom(context.Background(), f.sess); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := f.orch.LeaveBreakoutRoom(context.Background()); err != nil {
		t.Fatalf("leave in main must be a no-op, got %v", err)
	}
	if len(f.main.Leaves) != 0 {
		t.Fatalf("no leave should have happened: %v", f.main.Leaves)
	}
}

func TestLeaveBreakoutRoom_ReturnsToMain(t *testing.T) {
	f := joinedBreakoutFixture(t, "alice")
	if err := f.orch.JoinBreakoutRoom(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := f.orch.LeaveBreakoutRoom(context.Background()); err != nil {
		t.Fatalf("leave: %v", err)
	}
	s := f.orch.Snapshot()
	if s.ActiveRoomID != "call-s1" {
		t.Fatalf("should be back in main: %+v", s)
	}
	b := f.ft.Room("call-s1-breakout-1")
	if len(b.Leaves) != 1 {
		t.Fatalf("breakout leaves: %v", b.Leaves)
	}
}

func TestTransitionInProgressRejected(t *testing.T) {
	f := joinedBreakoutFixture(t, "alice")
	b := f.ft.Room("call-s1-breakout-1")
	gate := make(chan struct{})
	started := make(chan struct{})
	b.JoinGate = gate
	b.JoinStarted = started

	joinErr := make(chan error, 1)
	go func() { joinErr <- f.orch.JoinBreakoutRoom(context.Background()) }()

	<-started
	if err := f.orch.LeaveBreakoutRoom(context.Background()); !errors.Is(err, domain.ErrTransitionInProgress) {
		t.Fatalf("expected ErrTransitionInProgress, got %v", err)
	}

	close(gate)
	if err := <-joinErr; err != nil {
		t.Fatalf("gated join should finish cleanly: %v", err)
	}
}

func TestEndBreakoutRooms(t *testing.T) {
	f := joinedBreakoutFixture(t, "host")
	if err := f.orch.EndBreakoutRooms(context.Background()); err != nil {
		t.Fatalf("end: %v", err)
	}

	raw := f.main.Metadata()[MetaEndingBreakoutsAt]
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		t.Fatalf("deadline metadata %q: %v", raw, err)
	}
	want := f.clock.Now().Add(5 * time.Second).UnixMilli()
	if ms != want {
		t.Fatalf("deadline: got %d want %d", ms, want)
	}

	// the scheduled clear removes both keys
	f.timer.fire(t, 0)
	md := f.main.Metadata()
	if _, ok := md[MetaRooms]; ok {
		t.Fatalf("rooms key should be cleared: %v", md)
	}
	if _, ok := md[MetaEndingBreakoutsAt]; ok {
		t.Fatalf("deadline key should be cleared: %v", md)
	}
}

func TestEndBreakoutRooms_NotHost(t *testing.T) {
	f := joinedBreakoutFixture(t, "alice")
	if err := f.orch.EndBreakoutRooms(context.Background()); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
}

func TestEndBreakoutRooms_ClearCancelledOnClose(t *testing.T) {
	f := joinedBreakoutFixture(t, "host")
	if err := f.orch.EndBreakoutRooms(context.Background()); err != nil {
		t.Fatalf("end: %v", err)
	}

	f.orch.Close(context.Background())

	// the scheduled clear must not write after teardown
	f.timer.fire(t, 0)
	md := f.main.Metadata()
	if _, ok := md[MetaRooms]; !ok {
		t.Fatalf("rooms key should survive a post-close timer: %v", md)
	}
	if _, ok := md[MetaEndingBreakoutsAt]; !ok {
		t.Fatalf("deadline key should survive a post-close timer: %v", md)
	}
}

func TestCountdownSelfLeave(t *testing.T) {
	f := joinedBreakoutFixture(t, "alice")
	if err := f.orch.JoinBreakoutRoom(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	deadline := f.clock.Now().Add(5 * time.Second)
	f.main.SetMetadata(map[string]string{
		MetaEndingBreakoutsAt: strconv.FormatInt(deadline.UnixMilli(), 10),
	})
	f.waitLoop()

	// before the deadline nothing happens
	_ = f.orch.do(f.orch.onTick)
	if s := f.orch.Snapshot(); s.ActiveRoomID != "call-s1-breakout-1" {
		t.Fatalf("left too early: %+v", s)
	}

	f.clock.Advance(6 * time.Second)
	_ = f.orch.do(f.orch.onTick)
	// a second tick while the leave runs must be harmless
	_ = f.orch.do(f.orch.onTick)

	waitUntil(t, func() bool {
		return f.orch.Snapshot().ActiveRoomID == "call-s1"
	})
	b := f.ft.Room("call-s1-breakout-1")
	if len(b.Leaves) != 1 {
		t.Fatalf("exactly one leave expected: %v", b.Leaves)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// events arriving on the active room reach the bus through the loop
func TestActiveRoomEventsReachBus(t *testing.T) {
	f := newFixture(t, "alice")
	if err := f.orch.LoadMainRoom(context.Background(), f.sess); err != nil {
		t.Fatalf("load: %v", err)
	}

	f.main.PushEvent(rtc.Event{
		Type:         rtc.EventType{Subject: "icebreaker", Action: rtc.ActionStart},
		SenderUserID: "host",
	})
	f.waitLoop()

	if a := f.bus.Activity(); a.Slug != "icebreaker" || a.Phase != "warmup" {
		t.Fatalf("activity: %+v", a)
	}
}
