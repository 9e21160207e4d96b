package transport

import (
	"context"
	"sync"
	"sync/atomic"
)

const pipeInboxSize = 128

var _ Transport = (*PipeEnd)(nil)

type pipeLink struct {
	mu        sync.Mutex
	reachable bool
	ends      [2]*PipeEnd
}

// PipeEnd is one side of an in-process link created by Pipe. Messages are
// delivered in order on a goroutine owned by the receiving end.
type PipeEnd struct {
	link    *pipeLink
	idx     int
	cb      Callbacks
	pending *Pending
	inbox   chan []byte
	done    chan struct{}
	closed  atomic.Bool
	once    sync.Once
}

// Pipe returns two connected ends that start out reachable.
func Pipe() (*PipeEnd, *PipeEnd) {
	link := &pipeLink{reachable: true}
	for i := range link.ends {
		end := &PipeEnd{
			link:    link,
			idx:     i,
			pending: NewPending(0),
			inbox:   make(chan []byte, pipeInboxSize),
			done:    make(chan struct{}),
		}
		link.ends[i] = end
		go end.dispatch()
	}
	return link.ends[0], link.ends[1]
}

func (p *PipeEnd) dispatch() {
	for {
		select {
		case data := <-p.inbox:
			p.cb.Deliver(data)
		case <-p.done:
			return
		}
	}
}

func (p *PipeEnd) peer() *PipeEnd {
	return p.link.ends[1-p.idx]
}

func (p *PipeEnd) Send(ctx context.Context, data []byte) error {
	if p.closed.Load() {
		return ErrTransportUnavailable
	}
	if !p.Reachable() {
		return ErrPeerUnreachable
	}
	peer := p.peer()
	select {
	case peer.inbox <- append([]byte(nil), data...):
		return nil
	case <-peer.done:
		return ErrPeerUnreachable
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue delivers right away when the peer is reachable and otherwise holds
// the message until SetReachable(true).
func (p *PipeEnd) Enqueue(data []byte) error {
	if p.closed.Load() {
		return ErrTransportUnavailable
	}
	if p.Reachable() {
		if err := p.Send(context.Background(), data); err == nil {
			return nil
		}
	}
	p.pending.Push(data)
	return nil
}

func (p *PipeEnd) Reachable() bool {
	p.link.mu.Lock()
	defer p.link.mu.Unlock()
	return p.link.reachable && !p.closed.Load() && !p.peer().closed.Load()
}

// SetReachable simulates the peer coming and going. Both ends are notified,
// and messages queued while unreachable are flushed when the link returns.
func (p *PipeEnd) SetReachable(reachable bool) {
	p.link.mu.Lock()
	changed := p.link.reachable != reachable
	p.link.reachable = reachable
	p.link.mu.Unlock()
	if !changed {
		return
	}

	for _, end := range p.link.ends {
		end.cb.NotifyReachability(reachable)
	}
	if reachable {
		for _, end := range p.link.ends {
			end.flush()
		}
	}
}

func (p *PipeEnd) flush() {
	for _, data := range p.pending.Drain() {
		if err := p.Send(context.Background(), data); err != nil {
			p.pending.Push(data)
		}
	}
}

// Pending returns how many enqueued messages are waiting for the peer.
func (p *PipeEnd) Pending() int {
	return p.pending.Len()
}

func (p *PipeEnd) OnReachabilityChanged(fn func(bool)) {
	p.cb.SetReachability(fn)
}

func (p *PipeEnd) OnMessageReceived(fn func([]byte)) {
	p.cb.SetMessage(fn)
}

// Close shuts this end down. The other end sees the peer become unreachable.
func (p *PipeEnd) Close() error {
	p.once.Do(func() {
		p.closed.Store(true)
		close(p.done)
		p.peer().cb.NotifyReachability(false)
	})
	return nil
}
