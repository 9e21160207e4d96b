// Package analytics publishes game events from the sync coordinator to Kafka
// for offline reporting.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/mcdev12/picklesync/go/internal/livesync"
	"github.com/mcdev12/picklesync/go/internal/models"
)

const defaultWriteTimeout = 2 * time.Second

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Record is one analytics message.
type Record struct {
	Event      string           `json:"event"`
	DeviceID   string           `json:"device_id"`
	GameID     string           `json:"game_id,omitempty"`
	GameType   string           `json:"game_type,omitempty"`
	Score1     int              `json:"score1"`
	Score2     int              `json:"score2"`
	RallyCount int              `json:"rally_count"`
	State      models.GameState `json:"state,omitempty"`
	Elapsed    float64          `json:"elapsed_seconds,omitempty"`
	Outcome    string           `json:"outcome,omitempty"`
	Phase      string           `json:"phase,omitempty"`
	Error      string           `json:"error,omitempty"`
	Inserted   int              `json:"inserted,omitempty"`
	Updated    int              `json:"updated,omitempty"`
	TS         time.Time        `json:"ts"`
}

type Sink struct {
	writer       MessageWriter
	deviceID     string
	writeTimeout time.Duration
}

// NewKafkaSink writes to topic on the given comma separated brokers.
func NewKafkaSink(brokers, topic, deviceID string) *Sink {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return New(w, deviceID)
}

func New(w MessageWriter, deviceID string) *Sink {
	return &Sink{writer: w, deviceID: deviceID, writeTimeout: defaultWriteTimeout}
}

// Run publishes events until ctx is cancelled or the channel closes. Timer
// ticks are not published.
func (s *Sink) Run(ctx context.Context, events <-chan livesync.Event) {
	if s == nil || s.writer == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type == livesync.EventTimerUpdated {
				continue
			}
			if err := s.Emit(ctx, e); err != nil {
				log.Warn().Err(err).Str("event_type", string(e.Type)).Msg("kafka emit failed")
			}
		}
	}
}

// Emit writes a single event. Messages are keyed by game so one game's events
// stay ordered on one partition.
func (s *Sink) Emit(ctx context.Context, e livesync.Event) error {
	rec := s.record(e)
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal analytics record: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	msg := kafka.Message{Key: []byte(rec.GameID), Value: b, Time: rec.TS}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s: %w", e.Type, err)
	}
	return nil
}

func (s *Sink) record(e livesync.Event) Record {
	rec := Record{
		Event:    string(e.Type),
		DeviceID: s.deviceID,
		Outcome:  e.Outcome,
		Phase:    e.Phase,
		Error:    e.Error,
		TS:       e.At.UTC(),
	}
	if e.GameID != uuid.Nil {
		rec.GameID = e.GameID.String()
	}
	if g := e.Game; g != nil {
		rec.GameType = g.GameType
		rec.Score1 = g.Score1
		rec.Score2 = g.Score2
		rec.RallyCount = g.RallyCount
		rec.State = g.State
	}
	if e.Timer != nil {
		rec.Elapsed = e.Timer.ElapsedSeconds
	}
	if e.History != nil {
		rec.Inserted = e.History.Inserted
		rec.Updated = e.History.Updated
	}
	return rec
}

func (s *Sink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
