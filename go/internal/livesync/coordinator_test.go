package livesync

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/picklesync/go/internal/models"
	"github.com/mcdev12/picklesync/go/internal/rules"
	"github.com/mcdev12/picklesync/go/internal/store"
	"github.com/mcdev12/picklesync/go/internal/timer"
	"github.com/mcdev12/picklesync/go/internal/transport"
	"github.com/mcdev12/picklesync/go/internal/wire"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

// recorder is a transport that keeps everything sent through it.
type recorder struct {
	mu        sync.Mutex
	reachable bool
	sendErr   error
	sent      [][]byte
	queued    [][]byte
	cb        transport.Callbacks
}

func newRecorder() *recorder {
	return &recorder{reachable: true}
}

func (r *recorder) Send(ctx context.Context, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, append([]byte(nil), data...))
	return nil
}

func (r *recorder) Enqueue(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queued = append(r.queued, append([]byte(nil), data...))
	return nil
}

func (r *recorder) Reachable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reachable
}

func (r *recorder) OnReachabilityChanged(fn func(bool)) { r.cb.SetReachability(fn) }
func (r *recorder) OnMessageReceived(fn func([]byte))   { r.cb.SetMessage(fn) }
func (r *recorder) Close() error                        { return nil }

func (r *recorder) setReachable(v bool) {
	r.mu.Lock()
	r.reachable = v
	r.mu.Unlock()
	r.cb.NotifyReachability(v)
}

// inject hands data to the coordinator as if it came from the peer.
func (r *recorder) inject(data []byte) {
	r.cb.Deliver(data)
}

func (r *recorder) snapshots(t *testing.T) []wire.LiveSnapshot {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []wire.LiveSnapshot
	for _, data := range r.sent {
		m, err := wire.Decode(data)
		if err != nil {
			t.Fatalf("decode sent message: %v", err)
		}
		if m.Type == wire.TypeSnapshot {
			out = append(out, *m.Snapshot)
		}
	}
	return out
}

func (r *recorder) count(t *testing.T, typ wire.MessageType) int {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, data := range r.sent {
		m, err := wire.Decode(data)
		if err != nil {
			t.Fatalf("decode sent message: %v", err)
		}
		if m.Type == typ {
			n++
		}
	}
	return n
}

type harness struct {
	c     *Coordinator
	clock *clockwork.FakeClock
	store *store.MemoryStore
	tr    *recorder
	ctx   context.Context
}

func startCoordinator(t *testing.T, cfg Config, st *store.MemoryStore, tr transport.Transport, clock *clockwork.FakeClock) *Coordinator {
	t.Helper()
	c, err := New(cfg, st, tr, WithClock(clock), WithVariationResolver(st))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})

	// One round trip guarantees the transport callbacks are registered.
	if _, err := c.Stats(ctx); err != nil {
		t.Fatalf("Stats: %v", err)
	}
	return c
}

func newHarness(t *testing.T, configure func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DeviceID = "test-device"
	if configure != nil {
		configure(&cfg)
	}
	h := &harness{
		clock: clockwork.NewFakeClockAt(t0),
		store: store.NewMemoryStore(),
		tr:    newRecorder(),
		ctx:   context.Background(),
	}
	h.c = startCoordinator(t, cfg, h.store, h.tr, h.clock)
	return h
}

func (h *harness) current(t *testing.T) *models.Game {
	t.Helper()
	g, err := h.c.CurrentGame(h.ctx)
	if err != nil {
		t.Fatalf("CurrentGame: %v", err)
	}
	return g
}

func (h *harness) stats(t *testing.T) Stats {
	t.Helper()
	s, err := h.c.Stats(h.ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	return s
}

func (h *harness) newGame(t *testing.T) *models.Game {
	t.Helper()
	g, err := h.c.StartNewGame(h.ctx, NewGameRequest{GameType: "doubles"})
	if err != nil {
		t.Fatalf("StartNewGame: %v", err)
	}
	return g
}

func encodeSnapshot(t *testing.T, g *models.Game, ts time.Time, elapsed time.Duration, running bool) []byte {
	t.Helper()
	s := wire.BuildSnapshot(g, elapsed, running, nil, "peer")
	s.LastEventTimestamp = ts
	data, err := wire.Encode(wire.SnapshotMessage(s))
	if err != nil {
		t.Fatalf("encode snapshot: %v", err)
	}
	return data
}

func remoteGame(ts time.Time, score1, score2 int) *models.Game {
	g := models.NewGame(uuid.New(), "doubles", models.DefaultRuleSet(), ts)
	g.Score1 = score1
	g.Score2 = score2
	g.RallyCount = score1 + score2
	if score1+score2 > 0 {
		g.State = models.GameStatePlaying
	}
	return g
}

func completedGame(ts time.Time, score1, score2 int) *models.Game {
	g := remoteGame(ts, score1, score2)
	if err := rules.Complete(g, ts); err != nil {
		panic(err)
	}
	return g
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func nextEvent(t *testing.T, ch <-chan Event, typ EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", typ)
			return Event{}
		}
	}
}

func TestDuplicateSnapshotIsIdempotent(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Role = RoleCompanion })

	g := remoteGame(t0, 3, 2)
	data := encodeSnapshot(t, g, t0, 30*time.Second, false)

	h.tr.inject(data)
	first := h.current(t)
	if first == nil || first.ID != g.ID {
		t.Fatalf("snapshot was not adopted: %+v", first)
	}

	h.tr.inject(data)
	second := h.current(t)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("duplicate snapshot changed the game:\nfirst  %+v\nsecond %+v", first, second)
	}

	s := h.stats(t)
	if s.GamesAdopted != 1 || s.SnapshotsIgnored != 1 || s.SnapshotsApplied != 0 {
		t.Fatalf("stats = %+v", s)
	}
	if n := h.tr.count(t, wire.TypeAck); n != 2 {
		t.Fatalf("acks sent = %d, want 2", n)
	}
}

func TestSnapshotsOnlyMoveForward(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Role = RoleCompanion })

	g := remoteGame(t0, 5, 3)
	h.tr.inject(encodeSnapshot(t, g, t0, 0, false))

	tests := []struct {
		name   string
		ts     time.Time
		score1 int
		want   int
	}{
		{name: "older", ts: t0.Add(-time.Second), score1: 7, want: 5},
		{name: "equal", ts: t0, score1: 8, want: 5},
		{name: "newer", ts: t0.Add(time.Second), score1: 6, want: 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := g.Clone()
			next.Score1 = tt.score1
			h.tr.inject(encodeSnapshot(t, next, tt.ts, 0, false))
			if got := h.current(t).Score1; got != tt.want {
				t.Fatalf("score1 = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCompanionAdoptsPrimaryTimer(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Role = RoleCompanion })

	g := remoteGame(t0, 1, 0)
	h.tr.inject(encodeSnapshot(t, g, t0, 10*time.Second, true))
	h.clock.Advance(3 * time.Second)

	ts, err := h.c.TimerState(h.ctx)
	if err != nil {
		t.Fatalf("TimerState: %v", err)
	}
	if ts.ElapsedSeconds != 13 || !ts.Running {
		t.Fatalf("timer before baseline = %+v", ts)
	}

	steps := []struct {
		name        string
		at          time.Time
		elapsed     time.Duration
		running     bool
		want        float64
		wantRunning bool
	}{
		{name: "large drift adopts remote", at: t0.Add(3 * time.Second), elapsed: 30 * time.Second, running: true, want: 30, wantRunning: true},
		{name: "small drift is ignored", at: t0.Add(4 * time.Second), elapsed: 30500 * time.Millisecond, running: true, want: 30, wantRunning: true},
		{name: "stop follows remote", at: t0.Add(5 * time.Second), elapsed: 30 * time.Second, running: false, want: 30, wantRunning: false},
	}
	for _, s := range steps {
		t.Run(s.name, func(t *testing.T) {
			h.tr.inject(encodeSnapshot(t, g, s.at, s.elapsed, s.running))
			ts, err := h.c.TimerState(h.ctx)
			if err != nil {
				t.Fatalf("TimerState: %v", err)
			}
			if ts.ElapsedSeconds != s.want || ts.Running != s.wantRunning {
				t.Fatalf("timer = %+v, want elapsed %v running %v", ts, s.want, s.wantRunning)
			}
		})
	}

	// The companion never answers a baseline with its own.
	if n := len(h.tr.snapshots(t)); n != 0 {
		t.Fatalf("companion sent %d snapshots", n)
	}
}

func TestPrimaryAssertsTimerAuthority(t *testing.T) {
	h := newHarness(t, nil)

	h.newGame(t)
	if err := h.c.StartGame(h.ctx); err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	h.clock.Advance(10 * time.Second)

	local := h.current(t)
	before := len(h.tr.snapshots(t))
	h.tr.inject(encodeSnapshot(t, local, t0.Add(5*time.Second), 15*time.Second, true))

	ts, err := h.c.TimerState(h.ctx)
	if err != nil {
		t.Fatalf("TimerState: %v", err)
	}
	if ts.ElapsedSeconds != 10 {
		t.Fatalf("primary elapsed = %v, want 10", ts.ElapsedSeconds)
	}

	snaps := h.tr.snapshots(t)
	if len(snaps) != before+1 {
		t.Fatalf("snapshots sent = %d, want %d", len(snaps), before+1)
	}
	last := snaps[len(snaps)-1]
	if last.ElapsedSeconds != 10 {
		t.Fatalf("re-broadcast elapsed = %v, want 10", last.ElapsedSeconds)
	}
	if !last.LastEventTimestamp.After(t0.Add(5 * time.Second)) {
		t.Fatalf("re-broadcast timestamp %v is not newer than the peer's", last.LastEventTimestamp)
	}
}

func TestDifferentGameConflict(t *testing.T) {
	t.Run("newer remote is adopted", func(t *testing.T) {
		h := newHarness(t, nil)
		events, cancel := h.c.Subscribe(64)
		defer cancel()

		local := h.newGame(t)
		h.clock.Advance(time.Second)

		remote := remoteGame(t0.Add(time.Second), 3, 2)
		h.tr.inject(encodeSnapshot(t, remote, t0.Add(time.Second), 0, false))

		if got := h.current(t); got.ID != remote.ID || got.Score1 != 3 {
			t.Fatalf("current game = %+v, want remote", got)
		}
		stored, err := h.store.FetchGame(h.ctx, local.ID)
		if err != nil {
			t.Fatalf("FetchGame(local): %v", err)
		}
		if !stored.IsCompleted {
			t.Fatalf("replaced local game was not completed")
		}
		if _, err := h.store.FetchGame(h.ctx, remote.ID); err != nil {
			t.Fatalf("adopted game not persisted: %v", err)
		}
		if e := nextEvent(t, events, EventConflictResolved); e.Outcome != OutcomeAdoptedRemote {
			t.Fatalf("outcome = %q", e.Outcome)
		}
	})

	t.Run("older remote keeps local", func(t *testing.T) {
		h := newHarness(t, nil)
		h.clock.Advance(2 * time.Second)
		local := h.newGame(t)
		before := len(h.tr.snapshots(t))

		remote := remoteGame(t0, 4, 4)
		h.tr.inject(encodeSnapshot(t, remote, t0.Add(time.Second), 0, false))

		if got := h.current(t); got.ID != local.ID {
			t.Fatalf("local game was replaced by %s", got.ID)
		}
		snaps := h.tr.snapshots(t)
		if len(snaps) != before+1 || snaps[len(snaps)-1].ID != local.ID {
			t.Fatalf("local game was not re-broadcast")
		}
	})

	t.Run("tie keeps local and stamps it newer", func(t *testing.T) {
		h := newHarness(t, nil)
		local := h.newGame(t)

		remote := remoteGame(t0, 1, 1)
		h.tr.inject(encodeSnapshot(t, remote, t0, 0, false))

		got := h.current(t)
		if got.ID != local.ID {
			t.Fatalf("tie adopted the remote game")
		}
		if !got.LastModified.After(t0) {
			t.Fatalf("local game not stamped after a tie")
		}
	})

	t.Run("completed remote is history", func(t *testing.T) {
		h := newHarness(t, nil)
		local := h.newGame(t)

		done := completedGame(t0.Add(time.Hour), 11, 7)
		h.tr.inject(encodeSnapshot(t, done, t0.Add(time.Hour), 0, false))

		if got := h.current(t); got.ID != local.ID {
			t.Fatalf("completed remote game replaced the live game")
		}
		stored, err := h.store.FetchGame(h.ctx, done.ID)
		if err != nil {
			t.Fatalf("completed game not merged: %v", err)
		}
		if stored.Score1 != 11 || !stored.IsCompleted {
			t.Fatalf("merged game = %+v", stored)
		}
	})
}

func TestManualConflict(t *testing.T) {
	manual := func(c *Config) { c.ConflictPolicy = ConflictManual }

	t.Run("accept", func(t *testing.T) {
		h := newHarness(t, manual)
		events, cancel := h.c.Subscribe(64)
		defer cancel()

		local := h.newGame(t)
		remote := remoteGame(t0.Add(time.Second), 2, 0)
		h.tr.inject(encodeSnapshot(t, remote, t0.Add(time.Second), 0, false))

		cf, err := h.c.PendingConflict(h.ctx)
		if err != nil {
			t.Fatalf("PendingConflict: %v", err)
		}
		if cf == nil || cf.Local.ID != local.ID || cf.Remote.ID != remote.ID {
			t.Fatalf("pending conflict = %+v", cf)
		}
		nextEvent(t, events, EventConflictDetected)
		if got := h.current(t); got.ID != local.ID {
			t.Fatalf("manual policy replaced the live game")
		}

		if err := h.c.AcceptConflict(h.ctx); err != nil {
			t.Fatalf("AcceptConflict: %v", err)
		}
		if got := h.current(t); got.ID != remote.ID {
			t.Fatalf("accept did not adopt the remote game")
		}
		if cf, _ := h.c.PendingConflict(h.ctx); cf != nil {
			t.Fatalf("conflict still pending after accept")
		}
		if err := h.c.AcceptConflict(h.ctx); !errors.Is(err, ErrNoPendingConflict) {
			t.Fatalf("second accept: err = %v", err)
		}
	})

	t.Run("reject", func(t *testing.T) {
		h := newHarness(t, manual)
		local := h.newGame(t)
		remote := remoteGame(t0.Add(time.Second), 2, 0)
		h.tr.inject(encodeSnapshot(t, remote, t0.Add(time.Second), 0, false))

		if err := h.c.RejectConflict(h.ctx); err != nil {
			t.Fatalf("RejectConflict: %v", err)
		}
		got := h.current(t)
		if got.ID != local.ID {
			t.Fatalf("reject replaced the live game")
		}
		if !got.LastModified.After(t0) {
			t.Fatalf("rejected conflict did not stamp the local game")
		}
		snaps := h.tr.snapshots(t)
		if last := snaps[len(snaps)-1]; last.ID != local.ID {
			t.Fatalf("local game not re-broadcast after reject")
		}
	})
}

func TestThrottle(t *testing.T) {
	h := newHarness(t, nil)
	h.newGame(t)
	h.clock.Advance(time.Second)
	before := len(h.tr.snapshots(t))

	if err := h.c.ScorePoint(h.ctx, models.SideOne); err != nil {
		t.Fatalf("ScorePoint: %v", err)
	}
	h.clock.Advance(50 * time.Millisecond)
	if err := h.c.ScorePoint(h.ctx, models.SideOne); err != nil {
		t.Fatalf("ScorePoint: %v", err)
	}

	if sent := len(h.tr.snapshots(t)) - before; sent != 1 {
		t.Fatalf("snapshots sent = %d, want 1", sent)
	}
	if s := h.stats(t); s.SnapshotsThrottled != 1 {
		t.Fatalf("throttled = %d, want 1", s.SnapshotsThrottled)
	}

	// SyncNow is not throttled.
	if err := h.c.SyncNow(h.ctx); err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	if sent := len(h.tr.snapshots(t)) - before; sent != 2 {
		t.Fatalf("snapshots sent after SyncNow = %d, want 2", sent)
	}
}

func TestUndoWithNoRalliesIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	h.newGame(t)
	h.clock.Advance(time.Second)

	before := h.current(t)
	sent := len(h.tr.snapshots(t))
	if err := h.c.UndoLastPoint(h.ctx); err != nil {
		t.Fatalf("UndoLastPoint: %v", err)
	}
	if after := h.current(t); !reflect.DeepEqual(before, after) {
		t.Fatalf("undo changed the game:\nbefore %+v\nafter  %+v", before, after)
	}
	if n := len(h.tr.snapshots(t)); n != sent {
		t.Fatalf("undo sent a snapshot")
	}
}

func TestActionsWithoutGame(t *testing.T) {
	h := newHarness(t, nil)

	actions := map[string]func(context.Context) error{
		"start":    h.c.StartGame,
		"undo":     h.c.UndoLastPoint,
		"fault":    h.c.ServiceFault,
		"pause":    h.c.Pause,
		"resume":   h.c.Resume,
		"complete": h.c.CompleteGame,
		"reset":    h.c.ResetGame,
		"delete":   h.c.DeleteGame,
		"sync":     h.c.SyncNow,
	}
	for name, fn := range actions {
		t.Run(name, func(t *testing.T) {
			if err := fn(h.ctx); !errors.Is(err, ErrNoActiveGame) {
				t.Fatalf("err = %v, want ErrNoActiveGame", err)
			}
		})
	}
}

func TestScoringToCompletion(t *testing.T) {
	h := newHarness(t, nil)
	events, cancel := h.c.Subscribe(128)
	defer cancel()

	g := h.newGame(t)
	if err := h.c.StartGame(h.ctx); err != nil {
		t.Fatalf("StartGame: %v", err)
	}

	points := []models.Side{}
	for i := 0; i < 9; i++ {
		points = append(points, models.SideOne, models.SideTwo)
	}
	points = append(points, models.SideOne, models.SideOne)
	for _, side := range points {
		if err := h.c.ScorePoint(h.ctx, side); err != nil {
			t.Fatalf("ScorePoint(%d): %v", side, err)
		}
	}

	got := h.current(t)
	if !got.IsCompleted || got.Score1 != 11 || got.Score2 != 9 {
		t.Fatalf("game = %d-%d completed=%v, want 11-9 completed", got.Score1, got.Score2, got.IsCompleted)
	}
	if e := nextEvent(t, events, EventGameCompleted); e.GameID != g.ID {
		t.Fatalf("completed event for %s", e.GameID)
	}
	ts, _ := h.c.TimerState(h.ctx)
	if ts.Running {
		t.Fatalf("timer still running after completion")
	}

	// Completed games take no more points.
	if err := h.c.ScorePoint(h.ctx, models.SideTwo); err != nil {
		t.Fatalf("ScorePoint after completion: %v", err)
	}
	if after := h.current(t); after.Score2 != 9 {
		t.Fatalf("score changed after completion: %d", after.Score2)
	}

	stored, err := h.store.FetchGame(h.ctx, g.ID)
	if err != nil {
		t.Fatalf("FetchGame: %v", err)
	}
	if !stored.IsCompleted {
		t.Fatalf("completion not persisted")
	}
}

func TestInactivity(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.WatchdogInterval = 10 * time.Second
		c.Timer = timer.Config{PauseAfter: 30 * time.Second, EndAfter: 60 * time.Second}
	})
	h.newGame(t)
	if err := h.c.ScorePoint(h.ctx, models.SideOne); err != nil {
		t.Fatalf("ScorePoint: %v", err)
	}

	h.clock.Advance(40 * time.Second)
	eventually(t, "timer pause", func() bool {
		ts, err := h.c.TimerState(h.ctx)
		return err == nil && !ts.Running
	})
	if got := h.current(t); got.State != models.GameStatePlaying {
		t.Fatalf("game state = %s after timer pause", got.State)
	}

	h.clock.Advance(30 * time.Second)
	eventually(t, "game pause", func() bool {
		return h.current(t).State == models.GameStatePaused
	})

	// A point brings both back.
	if err := h.c.ScorePoint(h.ctx, models.SideTwo); err != nil {
		t.Fatalf("ScorePoint: %v", err)
	}
	ts, _ := h.c.TimerState(h.ctx)
	if got := h.current(t); got.State != models.GameStatePlaying || !ts.Running {
		t.Fatalf("state = %s running = %v after scoring", got.State, ts.Running)
	}
}

func TestSendFailures(t *testing.T) {
	t.Run("send error", func(t *testing.T) {
		h := newHarness(t, nil)
		events, cancel := h.c.Subscribe(64)
		defer cancel()
		h.newGame(t)

		h.tr.mu.Lock()
		h.tr.sendErr = transport.ErrPeerUnreachable
		h.tr.mu.Unlock()

		if err := h.c.SyncNow(h.ctx); !errors.Is(err, transport.ErrPeerUnreachable) {
			t.Fatalf("SyncNow: err = %v", err)
		}
		if s := h.stats(t); s.SendFailures != 1 {
			t.Fatalf("send failures = %d", s.SendFailures)
		}
		if e := nextEvent(t, events, EventSyncFailed); e.Phase != "snapshot" {
			t.Fatalf("phase = %q", e.Phase)
		}
	})

	t.Run("unreachable peer queues", func(t *testing.T) {
		h := newHarness(t, nil)
		h.tr.setReachable(false)
		h.newGame(t)

		h.tr.mu.Lock()
		queued := len(h.tr.queued)
		h.tr.mu.Unlock()
		if queued != 1 {
			t.Fatalf("queued = %d, want 1", queued)
		}
		if s := h.stats(t); s.SnapshotsQueued != 1 || s.SendFailures != 0 {
			t.Fatalf("stats = %+v", s)
		}
	})

	t.Run("undecodable message", func(t *testing.T) {
		h := newHarness(t, nil)
		h.tr.inject([]byte(`{"type":"snapshot"}`))
		if s := h.stats(t); s.DecodeFailures != 1 {
			t.Fatalf("decode failures = %d", s.DecodeFailures)
		}
	})
}

func TestSyncDisabled(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.SyncDisabled = true })
	h.newGame(t)
	if err := h.c.ScorePoint(h.ctx, models.SideOne); err != nil {
		t.Fatalf("ScorePoint: %v", err)
	}
	// Explicit sync calls are skipped without an error.
	if err := h.c.SyncNow(h.ctx); err != nil {
		t.Fatalf("SyncNow: err = %v", err)
	}
	if err := h.c.RequestHistory(h.ctx); err != nil {
		t.Fatalf("RequestHistory: err = %v", err)
	}

	h.tr.inject(encodeSnapshot(t, remoteGame(t0.Add(time.Hour), 5, 5), t0.Add(time.Hour), 0, false))
	if got := h.current(t); got.Score1 != 1 {
		t.Fatalf("disabled coordinator applied a peer snapshot")
	}
	h.tr.mu.Lock()
	sent := len(h.tr.sent)
	h.tr.mu.Unlock()
	if sent != 0 {
		t.Fatalf("disabled coordinator sent %d messages", sent)
	}
}

func TestLoadRestoresGame(t *testing.T) {
	st := store.NewMemoryStore()
	g := remoteGame(t0, 4, 2)
	g.ElapsedSeconds = 90
	if err := st.Insert(context.Background(), g); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	c := startCoordinator(t, DefaultConfig(), st, nil, clockwork.NewFakeClockAt(t0))
	loaded, err := c.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil || loaded.ID != g.ID {
		t.Fatalf("loaded = %+v", loaded)
	}
	ts, _ := c.TimerState(context.Background())
	if ts.ElapsedSeconds != 90 || !ts.Running {
		t.Fatalf("timer after load = %+v", ts)
	}
}

func TestStartNewGameFromVariation(t *testing.T) {
	h := newHarness(t, nil)
	limit := 600
	v := store.Variation{
		ID:   uuid.New(),
		Name: "fifteen",
		Rules: models.RuleSet{
			WinningScore:  15,
			WinByTwo:      true,
			ServeRotation: models.ServeRotationRally,
			SideSwitching: models.SideSwitchAtSix,
			TimeLimitSec:  &limit,
			TeamSize:      2,
		},
	}
	h.store.PutVariation(v)

	g, err := h.c.StartNewGame(h.ctx, NewGameRequest{GameType: "doubles", VariationID: &v.ID})
	if err != nil {
		t.Fatalf("StartNewGame: %v", err)
	}
	if g.Rules.WinningScore != 15 || g.VariationID == nil || *g.VariationID != v.ID {
		t.Fatalf("game rules = %+v variation = %v", g.Rules, g.VariationID)
	}

	missing := uuid.New()
	g, err = h.c.StartNewGame(h.ctx, NewGameRequest{GameType: "doubles", VariationID: &missing})
	if err != nil {
		t.Fatalf("StartNewGame: %v", err)
	}
	if g.Rules.WinningScore != 11 || g.VariationID != nil {
		t.Fatalf("missing variation: rules = %+v variation = %v", g.Rules, g.VariationID)
	}
}

func TestPairOverPipe(t *testing.T) {
	a, b := transport.Pipe()
	defer a.Close()
	defer b.Close()

	clock := clockwork.NewFakeClockAt(t0)
	primaryStore := store.NewMemoryStore()
	companionStore := store.NewMemoryStore()

	// History on the primary, one stale copy on the companion.
	var history []*models.Game
	for i := 0; i < 3; i++ {
		g := completedGame(t0.Add(-time.Duration(i+1)*time.Hour), 11, i)
		history = append(history, g)
		if err := primaryStore.Insert(context.Background(), g); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	stale := history[0].Clone()
	stale.Score2 = 9
	stale.LastModified = stale.LastModified.Add(-time.Minute)
	if err := companionStore.Insert(context.Background(), stale); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	primaryCfg := DefaultConfig()
	primaryCfg.DeviceID = "primary"
	primaryCfg.HistoryBatchSize = 2
	companionCfg := DefaultConfig()
	companionCfg.DeviceID = "companion"
	companionCfg.Role = RoleCompanion

	primary := startCoordinator(t, primaryCfg, primaryStore, a, clock)
	companion := startCoordinator(t, companionCfg, companionStore, b, clock)
	ctx := context.Background()

	t.Run("live game follows primary", func(t *testing.T) {
		g, err := primary.StartNewGame(ctx, NewGameRequest{GameType: "doubles"})
		if err != nil {
			t.Fatalf("StartNewGame: %v", err)
		}
		for i := 0; i < 3; i++ {
			clock.Advance(time.Second)
			if err := primary.ScorePoint(ctx, models.SideOne); err != nil {
				t.Fatalf("ScorePoint: %v", err)
			}
		}
		eventually(t, "companion score", func() bool {
			cg, err := companion.CurrentGame(ctx)
			return err == nil && cg != nil && cg.ID == g.ID && cg.Score1 == 3
		})
		eventually(t, "acks", func() bool {
			s, err := primary.Stats(ctx)
			return err == nil && s.AcksReceived >= 1
		})
	})

	t.Run("history request", func(t *testing.T) {
		events, cancel := companion.Subscribe(64)
		defer cancel()

		if err := companion.RequestHistory(ctx); err != nil {
			t.Fatalf("RequestHistory: %v", err)
		}

		var inserted, updated int
		for inserted+updated < 3 {
			e := nextEvent(t, events, EventHistorySynced)
			inserted += e.History.Inserted
			updated += e.History.Updated
		}
		if inserted != 2 || updated != 1 {
			t.Fatalf("inserted = %d updated = %d, want 2 and 1", inserted, updated)
		}

		games, err := companionStore.FetchCompletedGames(ctx)
		if err != nil {
			t.Fatalf("FetchCompletedGames: %v", err)
		}
		if len(games) != 3 {
			t.Fatalf("companion history has %d games", len(games))
		}
		merged, err := companionStore.FetchGame(ctx, history[0].ID)
		if err != nil {
			t.Fatalf("FetchGame: %v", err)
		}
		if merged.Score2 != history[0].Score2 {
			t.Fatalf("stale copy not replaced: score2 = %d", merged.Score2)
		}
	})
}

func TestPeerScoringCountsAsActivity(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Role = RoleCompanion
		c.WatchdogInterval = 10 * time.Second
		c.Timer = timer.Config{PauseAfter: 30 * time.Second, EndAfter: 60 * time.Second}
	})

	g := remoteGame(t0, 1, 0)
	h.tr.inject(encodeSnapshot(t, g, t0, 0, true))

	// The peer scores every 10s for longer than both thresholds.
	for i := 1; i <= 7; i++ {
		h.clock.Advance(10 * time.Second)
		next := g.Clone()
		next.Score1 = 1 + i
		next.RallyCount = 1 + i
		at := time.Duration(i) * 10 * time.Second
		h.tr.inject(encodeSnapshot(t, next, t0.Add(at), at, true))
		if got := h.current(t); got.Score1 != 1+i {
			t.Fatalf("after %v score1 = %d, want %d", at, got.Score1, 1+i)
		}
	}

	got := h.current(t)
	if got.State != models.GameStatePlaying {
		t.Fatalf("game state = %s while the peer is scoring", got.State)
	}
	ts, err := h.c.TimerState(h.ctx)
	if err != nil {
		t.Fatalf("TimerState: %v", err)
	}
	if !ts.Running {
		t.Fatalf("timer paused while the peer is scoring")
	}
	if n := len(h.tr.snapshots(t)); n != 0 {
		t.Fatalf("companion broadcast %d inactivity snapshots", n)
	}
	if s := h.stats(t); s.SnapshotsIgnored != 0 {
		t.Fatalf("peer points were ignored: %+v", s)
	}
}

func TestPrimaryFollowsPeerPause(t *testing.T) {
	h := newHarness(t, nil)

	h.newGame(t)
	if err := h.c.StartGame(h.ctx); err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	h.clock.Advance(10 * time.Second)

	local := h.current(t)
	before := len(h.tr.snapshots(t))
	h.tr.inject(encodeSnapshot(t, local, t0.Add(5*time.Second), 25*time.Second, false))

	ts, err := h.c.TimerState(h.ctx)
	if err != nil {
		t.Fatalf("TimerState: %v", err)
	}
	if ts.Running || ts.ElapsedSeconds != 10 {
		t.Fatalf("primary timer = %+v, want paused at its own 10s", ts)
	}

	// Paused stays paused.
	h.clock.Advance(5 * time.Second)
	if ts, _ := h.c.TimerState(h.ctx); ts.ElapsedSeconds != 10 {
		t.Fatalf("paused timer moved to %v", ts.ElapsedSeconds)
	}

	snaps := h.tr.snapshots(t)
	if len(snaps) != before+1 {
		t.Fatalf("snapshots sent = %d, want %d", len(snaps), before+1)
	}
	last := snaps[len(snaps)-1]
	if last.IsTimerRunning || last.ElapsedSeconds != 10 {
		t.Fatalf("re-broadcast running = %v elapsed = %v, want paused at 10", last.IsTimerRunning, last.ElapsedSeconds)
	}
	if !last.LastEventTimestamp.After(t0.Add(5 * time.Second)) {
		t.Fatalf("re-broadcast timestamp %v is not newer than the peer's", last.LastEventTimestamp)
	}
}

func TestHistoryMergeOnlyMovesForward(t *testing.T) {
	h := newHarness(t, nil)
	events, cancel := h.c.Subscribe(64)
	defer cancel()

	kept := completedGame(t0.Add(time.Hour), 11, 4)
	if err := h.store.Insert(h.ctx, kept); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	live := h.newGame(t)

	older := kept.Clone()
	older.Score2 = 9
	older.LastModified = kept.LastModified.Add(-time.Minute)
	equal := kept.Clone()
	equal.Score2 = 8
	unknown := completedGame(t0.Add(2*time.Hour), 11, 2)
	liveCopy := completedGame(t0.Add(3*time.Hour), 11, 0)
	liveCopy.ID = live.ID

	data, err := wire.Encode(wire.HistoryBatch([]models.GameSummary{
		models.Summarize(older),
		models.Summarize(equal),
		models.Summarize(liveCopy),
		models.Summarize(unknown),
	}))
	if err != nil {
		t.Fatalf("encode history: %v", err)
	}
	h.tr.inject(data)

	e := nextEvent(t, events, EventHistorySynced)
	if *e.History != (HistoryResult{Inserted: 1, Updated: 0, Skipped: 3}) {
		t.Fatalf("history result = %+v", *e.History)
	}

	stored, err := h.store.FetchGame(h.ctx, kept.ID)
	if err != nil {
		t.Fatalf("FetchGame: %v", err)
	}
	if stored.Score2 != 4 || !stored.LastModified.Equal(kept.LastModified) {
		t.Fatalf("newer stored game was overwritten: %+v", stored)
	}
	if _, err := h.store.FetchGame(h.ctx, unknown.ID); err != nil {
		t.Fatalf("unknown game not inserted: %v", err)
	}

	got := h.current(t)
	if got.ID != live.ID || got.IsCompleted {
		t.Fatalf("live game touched by history: %+v", got)
	}
	storedLive, err := h.store.FetchGame(h.ctx, live.ID)
	if err != nil {
		t.Fatalf("FetchGame(live): %v", err)
	}
	if storedLive.IsCompleted {
		t.Fatalf("stored live game replaced by a history item")
	}
}

func TestTerminalSnapshotsSkipThrottle(t *testing.T) {
	slow := func(c *Config) {
		c.ThrottleInterval = time.Hour
		c.Timer = timer.Config{TickInterval: time.Second}
	}

	t.Run("complete", func(t *testing.T) {
		h := newHarness(t, slow)
		h.newGame(t)
		if err := h.c.ScorePoint(h.ctx, models.SideOne); err != nil {
			t.Fatalf("ScorePoint: %v", err)
		}
		if err := h.c.CompleteGame(h.ctx); err != nil {
			t.Fatalf("CompleteGame: %v", err)
		}
		snaps := h.tr.snapshots(t)
		if last := snaps[len(snaps)-1]; !last.IsCompleted {
			t.Fatalf("completion snapshot was throttled")
		}
	})

	t.Run("time limit", func(t *testing.T) {
		h := newHarness(t, slow)
		limit := 5
		rs := models.DefaultRuleSet()
		rs.TimeLimitSec = &limit
		if _, err := h.c.StartNewGame(h.ctx, NewGameRequest{GameType: "doubles", Rules: &rs}); err != nil {
			t.Fatalf("StartNewGame: %v", err)
		}
		if err := h.c.StartGame(h.ctx); err != nil {
			t.Fatalf("StartGame: %v", err)
		}

		for i := 0; i < 10 && !h.current(t).IsCompleted; i++ {
			h.clock.Advance(time.Second)
			// Let the tick reach the run loop.
			time.Sleep(10 * time.Millisecond)
		}
		eventually(t, "time limit completion", func() bool {
			return h.current(t).IsCompleted
		})
		eventually(t, "completion snapshot", func() bool {
			snaps := h.tr.snapshots(t)
			return len(snaps) > 0 && snaps[len(snaps)-1].IsCompleted
		})
	})
}
