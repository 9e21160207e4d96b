// Package livesync keeps one live pickleball game consistent between a
// primary device and its companion.
//
// A Coordinator owns the game, its timer and all sync state. Everything runs
// on the goroutine that calls Run: public methods, transport callbacks, timer
// ticks and the inactivity watchdog are all turned into commands on a single
// channel, so none of the state below needs a lock.
package livesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/picklesync/go/internal/models"
	"github.com/mcdev12/picklesync/go/internal/store"
	"github.com/mcdev12/picklesync/go/internal/timer"
	"github.com/mcdev12/picklesync/go/internal/transport"
)

type Coordinator struct {
	config     Config
	clock      clockwork.Clock
	store      store.Store
	variations store.VariationResolver
	transport  transport.Transport
	timer      *timer.Controller

	cmds    chan func()
	done    chan struct{}
	runOnce sync.Once
	runCtx  context.Context

	subsMu  sync.Mutex
	subs    map[int]chan Event
	nextSub int

	// Owned by the run loop.
	game                     *models.Game
	lastSend                 time.Time
	isProcessingRemoteUpdate bool
	pending                  *pendingConflict
	stats                    Stats
}

type Option func(*Coordinator)

// WithClock replaces the real clock, mainly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithVariationResolver lets new games be started from a stored rule
// variation.
func WithVariationResolver(r store.VariationResolver) Option {
	return func(c *Coordinator) {
		c.variations = r
	}
}

// New builds a coordinator. tr may be nil, in which case the coordinator
// behaves as if sync were disabled.
func New(cfg Config, st store.Store, tr transport.Transport, opts ...Option) (*Coordinator, error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid live sync config: %w", err)
	}
	if st == nil {
		return nil, fmt.Errorf("live sync requires a store")
	}

	c := &Coordinator{
		config:    cfg,
		clock:     clockwork.NewRealClock(),
		store:     st,
		transport: tr,
		cmds:      make(chan func(), defaultCommandBuffer),
		done:      make(chan struct{}),
		runCtx:    context.Background(),
		subs:      make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.timer = timer.NewController(c.clock, cfg.Timer)

	if tr == nil && !cfg.SyncDisabled {
		log.Warn().Msg("no peer transport configured, live sync is off")
		c.config.SyncDisabled = true
	}
	return c, nil
}

// Run processes commands until ctx is cancelled. It must be called once.
func (c *Coordinator) Run(ctx context.Context) error {
	started := false
	c.runOnce.Do(func() { started = true })
	if !started {
		return fmt.Errorf("coordinator already running")
	}
	defer close(c.done)

	c.runCtx = ctx
	if c.transport != nil {
		c.transport.OnMessageReceived(func(data []byte) {
			c.submit(func() { c.handleMessage(data) })
		})
		c.transport.OnReachabilityChanged(func(reachable bool) {
			c.submit(func() { c.handleReachability(reachable) })
		})
	}

	watchdog := c.clock.NewTicker(c.config.WatchdogInterval)
	defer watchdog.Stop()

	log.Info().
		Str("device_id", c.config.DeviceID).
		Str("role", string(c.config.Role)).
		Bool("sync_disabled", c.config.SyncDisabled).
		Msg("live sync coordinator started")

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case fn := <-c.cmds:
			fn()
		case <-c.timer.Ticks():
			c.handleTick()
		case <-watchdog.Chan():
			c.checkInactivity()
		}
	}
}

func (c *Coordinator) shutdown() {
	if c.game != nil && c.game.IsActive() {
		c.timer.Stop()
		c.persist("shutdown")
	}
	log.Info().Str("device_id", c.config.DeviceID).Msg("live sync coordinator stopped")
}

// submit queues fn on the run loop without waiting for it.
func (c *Coordinator) submit(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.done:
	}
}

// do runs fn on the run loop and waits for its result.
func (c *Coordinator) do(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case c.cmds <- func() { errCh <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

func query[T any](ctx context.Context, c *Coordinator, fn func() T) (T, error) {
	var out T
	err := c.do(ctx, func() error {
		out = fn()
		return nil
	})
	return out, err
}

// CurrentGame returns a copy of the live game, or nil when there is none.
func (c *Coordinator) CurrentGame(ctx context.Context) (*models.Game, error) {
	return query(ctx, c, func() *models.Game {
		if c.game == nil {
			return nil
		}
		g := c.game.Clone()
		g.ElapsedSeconds = c.timer.Elapsed().Seconds()
		return g
	})
}

func (c *Coordinator) TimerState(ctx context.Context) (TimerState, error) {
	return query(ctx, c, func() TimerState {
		return *c.timerState()
	})
}

// PendingConflict returns the conflict awaiting a decision, if any.
func (c *Coordinator) PendingConflict(ctx context.Context) (*Conflict, error) {
	return query(ctx, c, func() *Conflict {
		if c.pending == nil {
			return nil
		}
		cf := c.pending.conflict
		cf.Local = cf.Local.Clone()
		cf.Remote = cf.Remote.Clone()
		return &cf
	})
}

func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	return query(ctx, c, func() Stats {
		s := c.stats
		if c.transport != nil {
			s.PeerReachable = c.transport.Reachable()
		}
		return s
	})
}

func (c *Coordinator) timerState() *TimerState {
	elapsed := c.timer.Elapsed()
	return &TimerState{
		ElapsedSeconds: elapsed.Seconds(),
		Running:        c.timer.IsRunning(),
		LastStart:      c.timer.LastStartTime(),
		Display:        timer.FormatElapsed(elapsed),
	}
}

func (c *Coordinator) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.runCtx, c.config.StoreTimeout)
}

// persist writes the live game with the current timer reading. Failures are
// logged and never interrupt play.
func (c *Coordinator) persist(phase string) {
	if c.game == nil {
		return
	}
	c.game.ElapsedSeconds = c.timer.Elapsed().Seconds()
	c.saveGame(c.game, phase)
}

func (c *Coordinator) saveGame(g *models.Game, phase string) {
	ctx, cancel := c.storeCtx()
	defer cancel()
	if err := c.store.Save(ctx, g); err != nil {
		c.stats.StoreFailures++
		log.Error().
			Err(err).
			Str("game_id", g.ID.String()).
			Str("phase", phase).
			Msg("failed to persist game")
	}
}

// stamp marks the live game modified now, or just after its previous stamp
// when the clock has not moved past it.
func (c *Coordinator) stamp() {
	now := c.clock.Now()
	if !now.After(c.game.LastModified) {
		now = c.game.LastModified.Add(time.Millisecond)
	}
	c.game.Touch(now)
}
