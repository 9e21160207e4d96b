// Package natslink carries peer messages over NATS.
//
// Live messages use core NATS subjects addressed to the peer's device id.
// Each side publishes a heartbeat; the peer counts as reachable while
// heartbeats keep arriving. Enqueued messages go through a JetStream stream
// and a durable consumer per device, so they reach the peer whenever it next
// connects.
package natslink

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/picklesync/go/internal/transport"
)

var _ transport.Transport = (*Link)(nil)

type Config struct {
	URL           string
	SubjectPrefix string
	DeviceID      string
	PeerID        string

	StreamName        string
	QueueMaxAge       time.Duration
	HeartbeatInterval time.Duration
	// PeerTimeout is how long without a heartbeat before the peer is
	// considered gone.
	PeerTimeout    time.Duration
	PublishTimeout time.Duration

	MaxReconnects int
	ReconnectWait time.Duration

	Clock clockwork.Clock
}

func DefaultConfig() Config {
	return Config{
		URL:               nats.DefaultURL,
		SubjectPrefix:     "picklesync",
		StreamName:        "PICKLESYNC_QUEUE",
		QueueMaxAge:       24 * time.Hour,
		HeartbeatInterval: 2 * time.Second,
		PeerTimeout:       6 * time.Second,
		PublishTimeout:    5 * time.Second,
		MaxReconnects:     -1,
		ReconnectWait:     2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.URL == "" {
		c.URL = d.URL
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = d.SubjectPrefix
	}
	if c.StreamName == "" {
		c.StreamName = d.StreamName
	}
	if c.QueueMaxAge <= 0 {
		c.QueueMaxAge = d.QueueMaxAge
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.PeerTimeout <= 0 {
		c.PeerTimeout = 3 * c.HeartbeatInterval
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = d.PublishTimeout
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = d.ReconnectWait
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return c
}

func (c Config) liveSubject(device string) string {
	return fmt.Sprintf("%s.%s.live", c.SubjectPrefix, device)
}

func (c Config) heartbeatSubject(device string) string {
	return fmt.Sprintf("%s.%s.heartbeat", c.SubjectPrefix, device)
}

func (c Config) queueSubject(device string) string {
	return fmt.Sprintf("%s.%s.queue", c.SubjectPrefix, device)
}

func (c Config) consumerName() string {
	return fmt.Sprintf("%s-queue", c.DeviceID)
}

type Link struct {
	config Config
	cb     transport.Callbacks

	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.ConsumeContext
	subs     []*nats.Subscription

	mu            sync.Mutex
	lastHeartbeat time.Time
	reachable     bool

	closed atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Connect dials NATS, sets up the queue stream and starts the heartbeat loop.
// Register callbacks before Start so no early message is missed.
func Connect(ctx context.Context, cfg Config) (*Link, error) {
	cfg = cfg.withDefaults()
	if cfg.DeviceID == "" || cfg.PeerID == "" {
		return nil, fmt.Errorf("%w: device and peer ids are required", transport.ErrTransportUnavailable)
	}

	opts := []nats.Option{
		nats.Name("picklesync-" + cfg.DeviceID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to NATS: %v", transport.ErrTransportUnavailable, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	l := &Link{config: cfg, nc: nc, js: js}
	if err := l.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return l, nil
}

func (l *Link) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        l.config.StreamName,
		Description: "Queued live game messages between paired devices",
		Subjects:    []string{fmt.Sprintf("%s.*.queue", l.config.SubjectPrefix)},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      l.config.QueueMaxAge,
		Storage:     jetstream.FileStorage,
	}
	if _, err := l.js.CreateOrUpdateStream(ctx, sc); err != nil {
		return err
	}
	log.Info().Str("stream", l.config.StreamName).Msg("JetStream queue stream ready")
	return nil
}

// Start subscribes to the live and heartbeat subjects, begins consuming the
// queue and publishing heartbeats.
func (l *Link) Start(ctx context.Context) error {
	live, err := l.nc.Subscribe(l.config.liveSubject(l.config.DeviceID), func(m *nats.Msg) {
		l.markAlive()
		l.cb.Deliver(m.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe live: %w", err)
	}
	hb, err := l.nc.Subscribe(l.config.heartbeatSubject(l.config.PeerID), func(m *nats.Msg) {
		l.markAlive()
	})
	if err != nil {
		live.Unsubscribe()
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	l.subs = []*nats.Subscription{live, hb}

	consumer, err := l.js.CreateOrUpdateConsumer(ctx, l.config.StreamName, jetstream.ConsumerConfig{
		Name:          l.config.consumerName(),
		Durable:       l.config.consumerName(),
		FilterSubject: l.config.queueSubject(l.config.DeviceID),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		l.cb.Deliver(msg.Data())
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error().Err(ackErr).Msg("failed to ACK queued message")
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	l.consumer = cc

	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.heartbeatLoop(ctx)
	}()

	log.Info().
		Str("device_id", l.config.DeviceID).
		Str("peer_id", l.config.PeerID).
		Msg("NATS peer link started")
	return nil
}

func (l *Link) heartbeatLoop(ctx context.Context) {
	ticker := l.config.Clock.NewTicker(l.config.HeartbeatInterval)
	defer ticker.Stop()

	l.beat()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			l.beat()
			l.checkPeer()
		}
	}
}

func (l *Link) beat() {
	if err := l.nc.Publish(l.config.heartbeatSubject(l.config.DeviceID), nil); err != nil {
		log.Warn().Err(err).Msg("failed to publish heartbeat")
	}
}

func (l *Link) markAlive() {
	l.mu.Lock()
	l.lastHeartbeat = l.config.Clock.Now()
	changed := !l.reachable
	l.reachable = true
	l.mu.Unlock()

	if changed {
		log.Info().Str("peer_id", l.config.PeerID).Msg("peer reachable")
		l.cb.NotifyReachability(true)
	}
}

func (l *Link) checkPeer() {
	l.mu.Lock()
	lost := l.reachable && l.config.Clock.Since(l.lastHeartbeat) > l.config.PeerTimeout
	if lost {
		l.reachable = false
	}
	l.mu.Unlock()

	if lost {
		log.Info().Str("peer_id", l.config.PeerID).Msg("peer heartbeat lost")
		l.cb.NotifyReachability(false)
	}
}

func (l *Link) Send(ctx context.Context, data []byte) error {
	if l.closed.Load() || !l.nc.IsConnected() {
		return transport.ErrTransportUnavailable
	}
	if !l.Reachable() {
		return transport.ErrPeerUnreachable
	}
	if err := l.nc.Publish(l.config.liveSubject(l.config.PeerID), data); err != nil {
		return fmt.Errorf("%w: publish: %v", transport.ErrPeerUnreachable, err)
	}
	if err := l.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("%w: flush: %v", transport.ErrPeerUnreachable, err)
	}
	return nil
}

// Enqueue stores data in the peer's JetStream queue.
func (l *Link) Enqueue(data []byte) error {
	if l.closed.Load() {
		return transport.ErrTransportUnavailable
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.config.PublishTimeout)
	defer cancel()

	ack, err := l.js.Publish(ctx, l.config.queueSubject(l.config.PeerID), data,
		jetstream.WithExpectStream(l.config.StreamName))
	if err != nil {
		return fmt.Errorf("%w: queue publish: %v", transport.ErrTransportUnavailable, err)
	}
	log.Debug().
		Str("peer_id", l.config.PeerID).
		Uint64("sequence", ack.Sequence).
		Msg("queued message for peer")
	return nil
}

func (l *Link) Reachable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reachable
}

func (l *Link) OnReachabilityChanged(fn func(bool)) {
	l.cb.SetReachability(fn)
}

func (l *Link) OnMessageReceived(fn func([]byte)) {
	l.cb.SetMessage(fn)
}

func (l *Link) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
	if l.consumer != nil {
		l.consumer.Stop()
	}
	for _, sub := range l.subs {
		sub.Unsubscribe()
	}
	l.nc.Close()
	return nil
}
