package livesync

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/picklesync/go/internal/models"
)

// EventType names a change subscribers can observe.
type EventType string

const (
	EventGameUpdated      EventType = "game_updated"
	EventGameCompleted    EventType = "game_completed"
	EventGameDeleted      EventType = "game_deleted"
	EventConflictDetected EventType = "conflict_detected"
	EventConflictResolved EventType = "conflict_resolved"
	EventTimerUpdated     EventType = "timer_updated"
	EventSyncFailed       EventType = "sync_failed"
	EventHistorySynced    EventType = "history_synced"
)

// Conflict outcomes.
const (
	OutcomeKeptLocal     = "kept_local"
	OutcomeAdoptedRemote = "adopted_remote"
)

type Event struct {
	Type     EventType      `json:"type"`
	GameID   uuid.UUID      `json:"game_id"`
	Game     *models.Game   `json:"game,omitempty"`
	Timer    *TimerState    `json:"timer,omitempty"`
	Conflict *Conflict      `json:"conflict,omitempty"`
	History  *HistoryResult `json:"history,omitempty"`
	Outcome  string         `json:"outcome,omitempty"`
	Phase    string         `json:"phase,omitempty"`
	Error    string         `json:"error,omitempty"`
	At       time.Time      `json:"at"`
}

// TimerState is the externally visible reading of the session timer.
type TimerState struct {
	ElapsedSeconds float64    `json:"elapsed_seconds"`
	Running        bool       `json:"running"`
	LastStart      *time.Time `json:"last_start,omitempty"`
	Display        string     `json:"display"`
}

// Conflict describes two different live games, one on each device.
type Conflict struct {
	Local      *models.Game `json:"local"`
	Remote     *models.Game `json:"remote"`
	DetectedAt time.Time    `json:"detected_at"`
}

// HistoryResult counts what a received history batch did to the store.
type HistoryResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// Subscribe returns a channel of events and a function that cancels the
// subscription. Events are dropped for a subscriber whose buffer is full.
func (c *Coordinator) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)

	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subsMu.Unlock()

	var once bool
	cancel := func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		if once {
			return
		}
		once = true
		delete(c.subs, id)
		close(ch)
	}
	return ch, cancel
}

func (c *Coordinator) emit(e Event) {
	if e.At.IsZero() {
		e.At = c.clock.Now()
	}
	if e.GameID == uuid.Nil && e.Game != nil {
		e.GameID = e.Game.ID
	}

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for id, ch := range c.subs {
		select {
		case ch <- e:
		default:
			log.Warn().
				Int("subscriber", id).
				Str("event_type", string(e.Type)).
				Msg("subscriber buffer full, dropping event")
		}
	}
}

// emitGame publishes a change to the live game with a copy of it.
func (c *Coordinator) emitGame(t EventType, g *models.Game) {
	if g == nil {
		return
	}
	c.emit(Event{Type: t, Game: g.Clone(), Timer: c.timerState()})
}
