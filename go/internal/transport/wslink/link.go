package wslink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/picklesync/go/internal/transport"
)

// peerConn is one websocket session with the peer.
type peerConn struct {
	ws     *websocket.Conn
	closed chan struct{}
	once   sync.Once
}

func (p *peerConn) close() {
	p.once.Do(func() {
		close(p.closed)
		p.ws.Close()
	})
}

// link holds the state shared by Server and Client: at most one live session,
// the registered callbacks and the queue of messages waiting for a session.
type link struct {
	role    string
	config  Config
	cb      transport.Callbacks
	pending *transport.Pending

	mu     sync.Mutex
	conn   *peerConn
	closed bool
	done   chan struct{}

	// gorilla allows one concurrent writer per connection.
	writeMu sync.Mutex
}

func newLink(role string, cfg Config) *link {
	return &link{
		role:    role,
		config:  cfg,
		pending: transport.NewPending(cfg.QueueLimit),
		done:    make(chan struct{}),
	}
}

func (l *link) current() *peerConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

// attach makes ws the live session, replacing any previous one.
func (l *link) attach(ws *websocket.Conn) *peerConn {
	pc := &peerConn{ws: ws, closed: make(chan struct{})}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		ws.Close()
		return nil
	}
	old := l.conn
	l.conn = pc
	l.mu.Unlock()

	if old != nil {
		log.Info().Str("role", l.role).Msg("replacing existing peer session")
		old.close()
	}

	ws.SetReadLimit(l.config.MaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(l.config.PongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(l.config.PongWait))
		return nil
	})

	log.Info().
		Str("role", l.role).
		Str("remote_addr", ws.RemoteAddr().String()).
		Msg("peer connected")

	l.cb.NotifyReachability(true)
	l.flush()
	go l.pingLoop(pc)
	return pc
}

// detach drops pc if it is still the live session.
func (l *link) detach(pc *peerConn) {
	l.mu.Lock()
	wasCurrent := l.conn == pc
	if wasCurrent {
		l.conn = nil
	}
	l.mu.Unlock()

	pc.close()
	if wasCurrent {
		log.Info().Str("role", l.role).Msg("peer disconnected")
		l.cb.NotifyReachability(false)
	}
}

// readPump delivers incoming messages until the session fails.
func (l *link) readPump(pc *peerConn) {
	defer l.detach(pc)

	for {
		msgType, data, err := pc.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("role", l.role).Msg("unexpected peer close")
			}
			return
		}
		pc.ws.SetReadDeadline(time.Now().Add(l.config.PongWait))
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		l.cb.Deliver(data)
	}
}

func (l *link) pingLoop(pc *peerConn) {
	ticker := time.NewTicker(l.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := pc.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(l.config.WriteTimeout)); err != nil {
				log.Warn().Err(err).Str("role", l.role).Msg("failed to ping peer")
				l.detach(pc)
				return
			}
		case <-pc.closed:
			return
		case <-l.done:
			return
		}
	}
}

func (l *link) write(ctx context.Context, pc *peerConn, data []byte) error {
	deadline := time.Now().Add(l.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	l.writeMu.Lock()
	pc.ws.SetWriteDeadline(deadline)
	err := pc.ws.WriteMessage(websocket.TextMessage, data)
	l.writeMu.Unlock()

	if err != nil {
		l.detach(pc)
		return fmt.Errorf("%w: %v", transport.ErrPeerUnreachable, err)
	}
	return nil
}

func (l *link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *link) Send(ctx context.Context, data []byte) error {
	if l.isClosed() {
		return transport.ErrTransportUnavailable
	}
	pc := l.current()
	if pc == nil {
		return transport.ErrPeerUnreachable
	}
	return l.write(ctx, pc, data)
}

// Enqueue writes now when a session is up and otherwise queues for the next
// session.
func (l *link) Enqueue(data []byte) error {
	if l.isClosed() {
		return transport.ErrTransportUnavailable
	}
	if pc := l.current(); pc != nil {
		if err := l.write(context.Background(), pc, data); err == nil {
			return nil
		}
	}
	if l.pending.Push(data) {
		log.Warn().Str("role", l.role).Msg("peer queue full, dropped oldest message")
	}
	return nil
}

func (l *link) flush() {
	queued := l.pending.Drain()
	for i, data := range queued {
		pc := l.current()
		if pc == nil || l.write(context.Background(), pc, data) != nil {
			for _, rest := range queued[i:] {
				l.pending.Push(rest)
			}
			return
		}
	}
	if len(queued) > 0 {
		log.Debug().Str("role", l.role).Int("count", len(queued)).Msg("flushed queued peer messages")
	}
}

func (l *link) Reachable() bool {
	return l.current() != nil
}

func (l *link) OnReachabilityChanged(fn func(bool)) {
	l.cb.SetReachability(fn)
}

func (l *link) OnMessageReceived(fn func([]byte)) {
	l.cb.SetMessage(fn)
}

func (l *link) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.done)
	pc := l.conn
	l.mu.Unlock()

	if pc != nil {
		l.writeMu.Lock()
		pc.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		l.writeMu.Unlock()
		l.detach(pc)
	}
}
