// Package timer tracks elapsed play time for the live game.
//
// A Controller is not safe for concurrent use. It is owned by the sync
// coordinator's run loop, which also selects on Ticks.
package timer

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/picklesync/go/internal/models"
)

const (
	DefaultTickInterval = time.Second
	DefaultPauseAfter   = 2 * time.Minute
	DefaultEndAfter     = 10 * time.Minute
)

type Config struct {
	TickInterval time.Duration
	// PauseAfter is how long a running timer may go without activity before
	// it should be paused.
	PauseAfter time.Duration
	// EndAfter is how long without activity before the game itself should be
	// paused.
	EndAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.PauseAfter <= 0 {
		c.PauseAfter = DefaultPauseAfter
	}
	if c.EndAfter <= 0 {
		c.EndAfter = DefaultEndAfter
	}
	return c
}

type Controller struct {
	clock  clockwork.Clock
	config Config

	running bool
	// accumulated is the elapsed time banked before the current run.
	accumulated time.Duration
	runStart    time.Time
	lastStart   *time.Time
	ticker      clockwork.Ticker

	lastActivity time.Time
}

func NewController(clock clockwork.Clock, cfg Config) *Controller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Controller{
		clock:  clock,
		config: cfg.withDefaults(),
	}
}

// Start begins timing. The timer only runs while the game is playing; any
// other state, or a timer that is already running, is a no-op.
func (c *Controller) Start(state models.GameState) bool {
	if state != models.GameStatePlaying || c.running {
		return false
	}
	now := c.clock.Now()
	c.running = true
	c.runStart = now
	c.lastStart = &now
	c.lastActivity = now
	c.startTicker()

	log.Debug().Dur("elapsed", c.accumulated).Msg("timer started")
	return true
}

// Resume continues a paused timer from where it stopped.
func (c *Controller) Resume(state models.GameState) bool {
	return c.Start(state)
}

// Pause banks the current run and stops ticking.
func (c *Controller) Pause() bool {
	if !c.running {
		return false
	}
	c.accumulated += c.clock.Since(c.runStart)
	c.running = false
	c.stopTicker()

	log.Debug().Dur("elapsed", c.accumulated).Msg("timer paused")
	return true
}

// Stop halts the timer, keeping the elapsed value. Used when a game completes
// or is replaced.
func (c *Controller) Stop() {
	c.Pause()
}

// Reset stops the timer and zeroes it.
func (c *Controller) Reset() {
	c.Stop()
	c.accumulated = 0
	c.lastStart = nil
	c.lastActivity = time.Time{}
}

// ApplyBaseline overrides the timer with values received from the peer.
// Elapsed continues from the baseline; no time between the peer's reading and
// now is added.
func (c *Controller) ApplyBaseline(elapsed time.Duration, running bool, lastStart *time.Time) {
	if elapsed < 0 {
		elapsed = 0
	}
	now := c.clock.Now()
	c.accumulated = elapsed
	c.runStart = now
	if lastStart != nil {
		ls := *lastStart
		c.lastStart = &ls
	}

	switch {
	case running && !c.running:
		c.running = true
		if c.lastStart == nil {
			c.lastStart = &now
		}
		c.startTicker()
	case !running && c.running:
		c.running = false
		c.stopTicker()
	}

	log.Debug().
		Dur("elapsed", elapsed).
		Bool("running", running).
		Msg("timer baseline applied")
}

// Ticks delivers periodic ticks while the timer runs. It returns nil when
// stopped so a select on it blocks forever.
func (c *Controller) Ticks() <-chan time.Time {
	if c.ticker == nil {
		return nil
	}
	return c.ticker.Chan()
}

func (c *Controller) Elapsed() time.Duration {
	if !c.running {
		return c.accumulated
	}
	return c.accumulated + c.clock.Since(c.runStart)
}

func (c *Controller) IsRunning() bool {
	return c.running
}

// LastStartTime is when the current or most recent run began.
func (c *Controller) LastStartTime() *time.Time {
	if c.lastStart == nil {
		return nil
	}
	t := *c.lastStart
	return &t
}

func (c *Controller) startTicker() {
	c.stopTicker()
	c.ticker = c.clock.NewTicker(c.config.TickInterval)
}

func (c *Controller) stopTicker() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

// FormatElapsed renders d as MM:SS, or H:MM:SS from one hour up.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
