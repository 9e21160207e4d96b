package gateway

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/picklesync/go/internal/livesync"
)

// EventSource is anything that publishes coordinator events.
type EventSource interface {
	Subscribe(buffer int) (<-chan livesync.Event, func())
}

// EventConsumer forwards coordinator events to connected UI clients.
type EventConsumer struct {
	connectionManager *ConnectionManager
	source            EventSource
	buffer            int
}

func NewEventConsumer(cm *ConnectionManager, source EventSource, buffer int) *EventConsumer {
	if buffer <= 0 {
		buffer = 256
	}
	return &EventConsumer{
		connectionManager: cm,
		source:            source,
		buffer:            buffer,
	}
}

// Start forwards events until ctx is cancelled.
func (ec *EventConsumer) Start(ctx context.Context) {
	events, cancel := ec.source.Subscribe(ec.buffer)
	defer cancel()

	log.Info().Msg("starting game event consumer")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event consumer shutting down")
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ge, err := NewGameEvent(e)
			if err != nil {
				log.Error().Err(err).Str("event_type", string(e.Type)).Msg("failed to convert event")
				continue
			}
			ec.connectionManager.Broadcast(ge)
		}
	}
}
