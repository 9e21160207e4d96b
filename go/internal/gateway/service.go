// Package gateway exposes the live game to UI clients: an HTTP JSON API for
// reading state and acting on the game, and a WebSocket stream of game events.
package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
)

type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	eventConsumer     *EventConsumer
	stateHandler      *StateHandler
}

type Config struct {
	ConnectionConfig ConnectionConfig
	EventBuffer      int
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		EventBuffer:      256,
	}
}

func NewService(config Config, games GameController, history HistoryReader) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig)

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
		eventConsumer:     NewEventConsumer(connectionManager, games, config.EventBuffer),
		stateHandler:      NewStateHandler(games, history),
	}
}

// Start runs the connection manager and event consumer until ctx is
// cancelled.
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting game gateway")

	go s.connectionManager.Start(ctx)
	s.eventConsumer.Start(ctx)

	log.Info().Msg("game gateway stopped")
}

func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("game gateway routes registered")
}

// ConnectionCount returns the number of connected UI clients.
func (s *Service) ConnectionCount() int {
	return s.connectionManager.ConnectionCount()
}
