package timer

import "time"

// Inactivity is the action the watchdog asks for.
type Inactivity int

const (
	InactivityNone Inactivity = iota
	InactivityPauseTimer
	InactivityPauseGame
)

func (i Inactivity) String() string {
	switch i {
	case InactivityPauseTimer:
		return "pause_timer"
	case InactivityPauseGame:
		return "pause_game"
	default:
		return "none"
	}
}

// RecordActivity marks the game as attended. Only scoring actions count.
func (c *Controller) RecordActivity() {
	c.lastActivity = c.clock.Now()
}

// IdleFor returns how long it has been since the last recorded activity.
func (c *Controller) IdleFor() time.Duration {
	if c.lastActivity.IsZero() {
		return 0
	}
	return c.clock.Since(c.lastActivity)
}

// CheckInactivity compares idle time against the configured thresholds.
func (c *Controller) CheckInactivity() Inactivity {
	idle := c.IdleFor()
	switch {
	case c.lastActivity.IsZero():
		return InactivityNone
	case idle >= c.config.EndAfter:
		return InactivityPauseGame
	case c.running && idle >= c.config.PauseAfter:
		return InactivityPauseTimer
	default:
		return InactivityNone
	}
}
