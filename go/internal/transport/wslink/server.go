package wslink

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/picklesync/go/internal/transport"
)

var _ transport.Transport = (*Server)(nil)

// Server accepts the peer's websocket. A new connection replaces the old one,
// so only the most recent peer session is live.
type Server struct {
	*link
	upgrader websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		link: newLink("server", cfg),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.isClosed() {
		http.Error(w, "peer link closed", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade peer connection")
		return
	}

	pc := s.attach(ws)
	if pc == nil {
		return
	}
	go s.readPump(pc)
}

func (s *Server) Close() error {
	s.close()
	return nil
}
