package livesync

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/picklesync/go/internal/timer"
)

var (
	// ErrSyncDisabled is the reason logged when a sync call is skipped because
	// sync is turned off in config.
	ErrSyncDisabled = errors.New("live sync disabled")
	// ErrNoActiveGame is returned by game actions when there is no live game.
	ErrNoActiveGame = errors.New("no active game")
	// ErrNoPendingConflict is returned when accepting or rejecting a conflict
	// that is not there.
	ErrNoPendingConflict = errors.New("no pending conflict")
	// ErrStopped is returned once the coordinator's run loop has exited.
	ErrStopped = errors.New("coordinator stopped")
)

// Role decides who owns the timer when the two devices disagree.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleCompanion Role = "companion"
)

// ConflictPolicy decides how two different live games are reconciled.
type ConflictPolicy string

const (
	// ConflictAuto keeps whichever game was modified last.
	ConflictAuto ConflictPolicy = "auto"
	// ConflictManual holds the conflict until AcceptConflict or
	// RejectConflict is called.
	ConflictManual ConflictPolicy = "manual"
)

const (
	DefaultThrottleInterval = 250 * time.Millisecond
	DefaultDriftThreshold   = time.Second
	DefaultHistoryBatchSize = 20
	DefaultSendTimeout      = 5 * time.Second
	DefaultStoreTimeout     = 5 * time.Second
	DefaultWatchdogInterval = 15 * time.Second
	defaultCommandBuffer    = 64
)

type Config struct {
	DeviceID string
	Role     Role
	// SyncDisabled turns every sync call into a silent no-op. Local play
	// still works.
	SyncDisabled bool

	ThrottleInterval time.Duration
	DriftThreshold   time.Duration
	HistoryBatchSize int
	ConflictPolicy   ConflictPolicy

	SendTimeout      time.Duration
	StoreTimeout     time.Duration
	WatchdogInterval time.Duration

	Timer timer.Config
}

func DefaultConfig() Config {
	return Config{
		Role:             RolePrimary,
		ThrottleInterval: DefaultThrottleInterval,
		DriftThreshold:   DefaultDriftThreshold,
		HistoryBatchSize: DefaultHistoryBatchSize,
		ConflictPolicy:   ConflictAuto,
		SendTimeout:      DefaultSendTimeout,
		StoreTimeout:     DefaultStoreTimeout,
		WatchdogInterval: DefaultWatchdogInterval,
	}
}

// Validate fills unset values with defaults and rejects unknown enums.
func (c Config) Validate() (Config, error) {
	d := DefaultConfig()
	if c.Role == "" {
		c.Role = d.Role
	}
	if c.Role != RolePrimary && c.Role != RoleCompanion {
		return c, fmt.Errorf("unknown device role %q", c.Role)
	}
	if c.ConflictPolicy == "" {
		c.ConflictPolicy = d.ConflictPolicy
	}
	if c.ConflictPolicy != ConflictAuto && c.ConflictPolicy != ConflictManual {
		return c, fmt.Errorf("unknown conflict policy %q", c.ConflictPolicy)
	}
	if c.ThrottleInterval <= 0 {
		c.ThrottleInterval = d.ThrottleInterval
	}
	if c.DriftThreshold <= 0 {
		c.DriftThreshold = d.DriftThreshold
	}
	if c.HistoryBatchSize <= 0 {
		c.HistoryBatchSize = d.HistoryBatchSize
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = d.WatchdogInterval
	}
	if c.DeviceID == "" {
		c.DeviceID = string(c.Role)
	}
	return c, nil
}
