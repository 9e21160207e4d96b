package wire

import (
	"time"

	"github.com/mcdev12/picklesync/go/internal/models"
)

// LiveSnapshot is the full live state of a game as sent to the peer. It is
// built on demand and never stored.
type LiveSnapshot struct {
	models.Game

	IsTimerRunning     bool       `json:"is_timer_running"`
	LastTimerStartTime *time.Time `json:"last_timer_start_time,omitempty"`
	// LastEventTimestamp decides which side wins a conflict. It is the game's
	// LastModified at the time the snapshot was built.
	LastEventTimestamp time.Time `json:"last_event_timestamp"`
	OriginDeviceID     string    `json:"origin_device_id,omitempty"`
}

// BuildSnapshot copies g and attaches the live timer reading.
func BuildSnapshot(g *models.Game, elapsed time.Duration, running bool, lastStart *time.Time, deviceID string) LiveSnapshot {
	game := g.Clone()
	game.ElapsedSeconds = elapsed.Seconds()
	return LiveSnapshot{
		Game:               *game,
		IsTimerRunning:     running,
		LastTimerStartTime: lastStart,
		LastEventTimestamp: g.LastModified,
		OriginDeviceID:     deviceID,
	}
}

func (s LiveSnapshot) Elapsed() time.Duration {
	return time.Duration(s.ElapsedSeconds * float64(time.Second))
}

// ToGame returns the game carried by the snapshot, stamped with the snapshot's
// event time.
func (s LiveSnapshot) ToGame() *models.Game {
	g := s.Game.Clone()
	g.LastModified = s.LastEventTimestamp
	return g
}
