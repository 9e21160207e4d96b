// Package transport moves opaque message bytes between the two paired
// devices. It knows nothing about games.
package transport

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrTransportUnavailable means the link is closed or was never set up.
	ErrTransportUnavailable = errors.New("peer transport unavailable")
	// ErrPeerUnreachable means the link is up but the peer cannot be reached
	// right now.
	ErrPeerUnreachable = errors.New("peer unreachable")
)

// Transport is a link to a single peer.
//
// Send delivers immediately and fails when the peer is unreachable. Enqueue
// hands the message to whatever later-delivery the link supports; it does not
// fail just because the peer is away. Callbacks are invoked from the
// transport's own goroutines and must not block for long.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Enqueue(data []byte) error
	Reachable() bool
	OnReachabilityChanged(fn func(reachable bool))
	OnMessageReceived(fn func(data []byte))
	Close() error
}

// Callbacks stores the handlers registered on a transport.
type Callbacks struct {
	mu      sync.RWMutex
	onReach func(bool)
	onMsg   func([]byte)
}

func (c *Callbacks) SetReachability(fn func(bool)) {
	c.mu.Lock()
	c.onReach = fn
	c.mu.Unlock()
}

func (c *Callbacks) SetMessage(fn func([]byte)) {
	c.mu.Lock()
	c.onMsg = fn
	c.mu.Unlock()
}

func (c *Callbacks) NotifyReachability(reachable bool) {
	c.mu.RLock()
	fn := c.onReach
	c.mu.RUnlock()
	if fn != nil {
		fn(reachable)
	}
}

func (c *Callbacks) Deliver(data []byte) {
	c.mu.RLock()
	fn := c.onMsg
	c.mu.RUnlock()
	if fn != nil {
		fn(data)
	}
}

// Pending is a bounded FIFO of messages waiting for the peer. When full the
// oldest message is dropped.
type Pending struct {
	mu      sync.Mutex
	items   [][]byte
	limit   int
	dropped int
}

func NewPending(limit int) *Pending {
	if limit <= 0 {
		limit = 64
	}
	return &Pending{limit: limit}
}

// Push appends data and reports whether an older message was dropped to make
// room.
func (p *Pending) Push(data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	dropped := false
	if len(p.items) >= p.limit {
		p.items = p.items[1:]
		p.dropped++
		dropped = true
	}
	p.items = append(p.items, append([]byte(nil), data...))
	return dropped
}

// Drain removes and returns everything queued, oldest first.
func (p *Pending) Drain() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	items := p.items
	p.items = nil
	return items
}

func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

func (p *Pending) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}
