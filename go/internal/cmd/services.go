package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/picklesync/go/internal/analytics"
	"github.com/mcdev12/picklesync/go/internal/config"
	"github.com/mcdev12/picklesync/go/internal/gateway"
	"github.com/mcdev12/picklesync/go/internal/livesync"
	"github.com/mcdev12/picklesync/go/internal/store"
	"github.com/mcdev12/picklesync/go/internal/store/gormstore"
	"github.com/mcdev12/picklesync/go/internal/store/pgstore"
	"github.com/mcdev12/picklesync/go/internal/transport"
	"github.com/mcdev12/picklesync/go/internal/transport/natslink"
	"github.com/mcdev12/picklesync/go/internal/transport/wslink"
)

// gameStore is what every store driver provides.
type gameStore interface {
	store.Store
	store.VariationResolver
}

type Services struct {
	Store       gameStore
	Coordinator *livesync.Coordinator
	Gateway     *gateway.Service
	Analytics   *analytics.Sink

	// PeerHandler accepts the companion's websocket when this device is the
	// websocket primary.
	PeerHandler http.Handler

	wg      sync.WaitGroup
	closers []func()
}

func setupServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	s := &Services{}

	// Store → coordinator → transport start → gateway → analytics
	st, err := s.setupStore(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Store = st

	tr, start, err := s.setupTransport(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	coord, err := s.runCoordinator(ctx, cfg.LiveSync(), st, tr)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Coordinator = coord

	if _, err := coord.Load(ctx); err != nil {
		log.Error().Err(err).Msg("failed to restore live game, starting empty")
	}

	// Callbacks are registered once the run loop is up, so the link can only
	// start delivering now.
	if start != nil {
		if err := start(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}

	s.Gateway = gateway.NewService(gateway.DefaultConfig(), coord, st)
	s.goRun(func() { s.Gateway.Start(ctx) })

	if cfg.Analytics.Enabled() {
		s.Analytics = analytics.NewKafkaSink(cfg.Analytics.Brokers, cfg.Analytics.Topic, cfg.Device.ID)
		events, unsubscribe := coord.Subscribe(256)
		s.goRun(func() {
			defer unsubscribe()
			s.Analytics.Run(ctx, events)
		})
		s.closers = append(s.closers, func() {
			if err := s.Analytics.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close analytics writer")
			}
		})
		log.Info().
			Str("brokers", cfg.Analytics.Brokers).
			Str("topic", cfg.Analytics.Topic).
			Msg("analytics enabled")
	}

	return s, nil
}

func (s *Services) setupStore(ctx context.Context, cfg *config.Config) (gameStore, error) {
	var st gameStore
	switch cfg.Store.Driver {
	case config.StorePgx:
		pg, err := pgstore.Open(ctx, cfg.Store.Database.DSN())
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pg.Close)
		st = pg
	case config.StoreGorm:
		gs, err := gormstore.Open(cfg.Store.Database.DSN())
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() {
			if db, err := gs.DB().DB(); err == nil {
				db.Close()
			}
		})
		st = gs
	default:
		st = store.NewMemoryStore()
	}

	for _, v := range cfg.StoreVariations() {
		if err := putVariation(ctx, st, v); err != nil {
			return nil, fmt.Errorf("seed variation %s: %w", v.Name, err)
		}
	}

	log.Info().
		Str("driver", cfg.Store.Driver).
		Int("variations", len(cfg.Variations)).
		Msg("game store ready")
	return st, nil
}

func putVariation(ctx context.Context, st gameStore, v store.Variation) error {
	switch s := st.(type) {
	case *store.MemoryStore:
		s.PutVariation(v)
		return nil
	case *pgstore.Store:
		return s.PutVariation(ctx, v)
	case *gormstore.Store:
		return s.PutVariation(ctx, v)
	default:
		return fmt.Errorf("store %T cannot hold variations", st)
	}
}

// setupTransport builds the peer link. The returned start func, if any, must
// run after the coordinator has registered its callbacks.
func (s *Services) setupTransport(ctx context.Context, cfg *config.Config) (transport.Transport, func(context.Context) error, error) {
	wsCfg := wslink.DefaultConfig()
	wsCfg.QueueLimit = cfg.Transport.QueueMax

	switch cfg.Transport.Kind {
	case config.TransportWebsocket:
		if cfg.Device.Role == livesync.RolePrimary {
			srv := wslink.NewServer(wsCfg)
			s.PeerHandler = srv
			s.closers = append(s.closers, func() { srv.Close() })
			return srv, nil, nil
		}
		client := wslink.NewClient(cfg.Transport.PeerURL, wsCfg)
		s.closers = append(s.closers, func() { client.Close() })
		start := func(ctx context.Context) error {
			client.Start(ctx)
			log.Info().Str("peer_url", cfg.Transport.PeerURL).Msg("dialing primary device")
			return nil
		}
		return client, start, nil

	case config.TransportNATS:
		nc := cfg.Transport.NATS
		link, err := natslink.Connect(ctx, natslink.Config{
			URL:               nc.URL,
			SubjectPrefix:     nc.SubjectPrefix,
			DeviceID:          cfg.Device.ID,
			PeerID:            nc.PeerID,
			StreamName:        nc.StreamName,
			HeartbeatInterval: nc.HeartbeatInterval,
		})
		if err != nil {
			return nil, nil, err
		}
		s.closers = append(s.closers, func() { link.Close() })
		return link, link.Start, nil

	case config.TransportPipe:
		local, remote := transport.Pipe()
		s.closers = append(s.closers, func() {
			local.Close()
			remote.Close()
		})
		start := func(ctx context.Context) error {
			return s.runPipePeer(ctx, cfg, remote)
		}
		return local, start, nil

	default:
		return nil, nil, nil
	}
}

// runPipePeer runs the opposite role in-process on a memory store, so a
// single binary shows both devices syncing.
func (s *Services) runPipePeer(ctx context.Context, cfg *config.Config, end *transport.PipeEnd) error {
	peerCfg := cfg.LiveSync()
	peerCfg.DeviceID = peerCfg.DeviceID + "-peer"
	peerCfg.Role = livesync.RoleCompanion
	if cfg.Device.Role == livesync.RoleCompanion {
		peerCfg.Role = livesync.RolePrimary
	}

	peerStore := store.NewMemoryStore()
	for _, v := range cfg.StoreVariations() {
		peerStore.PutVariation(v)
	}

	peer, err := s.runCoordinator(ctx, peerCfg, peerStore, end)
	if err != nil {
		return fmt.Errorf("start pipe peer: %w", err)
	}

	events, unsubscribe := peer.Subscribe(64)
	s.goRun(func() {
		defer unsubscribe()
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
				log.Debug().
					Str("device_id", peerCfg.DeviceID).
					Str("event", string(e.Type)).
					Str("game_id", e.GameID.String()).
					Msg("pipe peer event")
			}
		}
	})
	return nil
}

// runCoordinator starts a coordinator's run loop and waits until it is
// serving commands.
func (s *Services) runCoordinator(ctx context.Context, cfg livesync.Config, st gameStore, tr transport.Transport) (*livesync.Coordinator, error) {
	coord, err := livesync.New(cfg, st, tr, livesync.WithVariationResolver(st))
	if err != nil {
		return nil, err
	}

	s.goRun(func() {
		if err := coord.Run(ctx); err != nil {
			log.Error().Err(err).Msg("live sync coordinator failed")
		}
	})

	readyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := coord.Stats(readyCtx); err != nil {
		return nil, fmt.Errorf("coordinator did not start: %w", err)
	}
	return coord, nil
}

func (s *Services) goRun(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Wait blocks until every background loop has returned.
func (s *Services) Wait() {
	s.wg.Wait()
}

// Close releases transports and stores in reverse order of creation.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
