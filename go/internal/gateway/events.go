package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/picklesync/go/internal/livesync"
)

// GameEvent is the envelope pushed to UI clients over the event stream.
type GameEvent struct {
	ID        string             `json:"id"`
	GameID    string             `json:"game_id,omitempty"`
	Type      livesync.EventType `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	Data      json.RawMessage    `json:"data"`
}

// NewGameEvent wraps a coordinator event for the UI.
func NewGameEvent(e livesync.Event) (*GameEvent, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.Type, err)
	}

	ge := &GameEvent{
		ID:        uuid.New().String(),
		Type:      e.Type,
		Timestamp: e.At,
		Data:      data,
	}
	if e.GameID != uuid.Nil {
		ge.GameID = e.GameID.String()
	}
	return ge, nil
}
