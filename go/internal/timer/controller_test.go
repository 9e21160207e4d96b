package timer

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/picklesync/go/internal/models"
)

func newTestController() (*Controller, *clockwork.FakeClock) {
	fc := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	return NewController(fc, Config{}), fc
}

func TestStartOnlyWhilePlaying(t *testing.T) {
	c, _ := newTestController()

	for _, s := range []models.GameState{models.GameStateInitial, models.GameStateServing, models.GameStatePaused, models.GameStateCompleted} {
		if c.Start(s) {
			t.Fatalf("timer started in state %s", s)
		}
	}
	if !c.Start(models.GameStatePlaying) {
		t.Fatalf("timer should start while playing")
	}
	if c.Start(models.GameStatePlaying) {
		t.Fatalf("second start should be a no-op")
	}
}

func TestElapsedAcrossPause(t *testing.T) {
	c, fc := newTestController()

	c.Start(models.GameStatePlaying)
	fc.Advance(30 * time.Second)
	c.Pause()
	fc.Advance(5 * time.Minute)
	if got := c.Elapsed(); got != 30*time.Second {
		t.Fatalf("elapsed while paused = %v, want 30s", got)
	}

	c.Resume(models.GameStatePlaying)
	fc.Advance(15 * time.Second)
	if got := c.Elapsed(); got != 45*time.Second {
		t.Fatalf("elapsed after resume = %v, want 45s", got)
	}
	if c.Ticks() == nil {
		t.Fatalf("running timer should expose ticks")
	}

	c.Stop()
	if c.IsRunning() || c.Ticks() != nil {
		t.Fatalf("stopped timer should not tick")
	}
}

func TestTicks(t *testing.T) {
	c, fc := newTestController()
	c.Start(models.GameStatePlaying)

	fc.Advance(DefaultTickInterval)
	select {
	case <-c.Ticks():
	case <-time.After(time.Second):
		t.Fatalf("expected a tick")
	}
}

func TestApplyBaseline(t *testing.T) {
	c, fc := newTestController()
	c.Start(models.GameStatePlaying)
	fc.Advance(10 * time.Second)

	remoteStart := fc.Now().Add(-42 * time.Second)
	c.ApplyBaseline(42*time.Second, true, &remoteStart)
	if got := c.Elapsed(); got != 42*time.Second {
		t.Fatalf("elapsed after baseline = %v, want 42s", got)
	}
	fc.Advance(3 * time.Second)
	if got := c.Elapsed(); got != 45*time.Second {
		t.Fatalf("elapsed should continue from baseline, got %v", got)
	}
	if ls := c.LastStartTime(); ls == nil || !ls.Equal(remoteStart) {
		t.Fatalf("last start = %v, want %v", ls, remoteStart)
	}

	c.ApplyBaseline(50*time.Second, false, nil)
	fc.Advance(time.Minute)
	if c.IsRunning() || c.Elapsed() != 50*time.Second {
		t.Fatalf("running=%v elapsed=%v, want stopped at 50s", c.IsRunning(), c.Elapsed())
	}
}

func TestApplyBaselineStartsStoppedTimer(t *testing.T) {
	c, fc := newTestController()
	c.ApplyBaseline(time.Minute, true, nil)
	if !c.IsRunning() || c.Ticks() == nil {
		t.Fatalf("baseline with running=true should start the timer")
	}
	fc.Advance(time.Second)
	if got := c.Elapsed(); got != time.Minute+time.Second {
		t.Fatalf("elapsed = %v", got)
	}
}

func TestCheckInactivity(t *testing.T) {
	c, fc := newTestController()
	if got := c.CheckInactivity(); got != InactivityNone {
		t.Fatalf("fresh controller: %s", got)
	}

	c.Start(models.GameStatePlaying)
	fc.Advance(time.Minute)
	c.RecordActivity()
	fc.Advance(DefaultPauseAfter - time.Second)
	if got := c.CheckInactivity(); got != InactivityNone {
		t.Fatalf("before threshold: %s", got)
	}
	fc.Advance(time.Second)
	if got := c.CheckInactivity(); got != InactivityPauseTimer {
		t.Fatalf("at short threshold: %s", got)
	}

	c.Pause()
	if got := c.CheckInactivity(); got != InactivityNone {
		t.Fatalf("paused timer below long threshold: %s", got)
	}
	fc.Advance(DefaultEndAfter)
	if got := c.CheckInactivity(); got != InactivityPauseGame {
		t.Fatalf("at long threshold: %s", got)
	}
}

func TestReset(t *testing.T) {
	c, fc := newTestController()
	c.Start(models.GameStatePlaying)
	fc.Advance(time.Minute)
	c.Reset()
	if c.Elapsed() != 0 || c.IsRunning() || c.LastStartTime() != nil {
		t.Fatalf("reset left elapsed=%v running=%v", c.Elapsed(), c.IsRunning())
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00"},
		{59 * time.Second, "00:59"},
		{12*time.Minute + 5*time.Second, "12:05"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
		{-time.Second, "00:00"},
	}
	for _, tt := range tests {
		if got := FormatElapsed(tt.in); got != tt.want {
			t.Fatalf("FormatElapsed(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
