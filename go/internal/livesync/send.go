package livesync

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/picklesync/go/internal/transport"
	"github.com/mcdev12/picklesync/go/internal/wire"
)

// SyncNow sends the live game to the peer immediately, ignoring the throttle.
// With sync disabled it does nothing.
func (c *Coordinator) SyncNow(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.config.SyncDisabled {
			c.skipDisabled("sync_now")
			return nil
		}
		if c.game == nil {
			return ErrNoActiveGame
		}
		return c.sendSnapshot()
	})
}

// RequestHistory asks the peer for its completed games. With sync disabled it
// does nothing.
func (c *Coordinator) RequestHistory(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.config.SyncDisabled {
			c.skipDisabled("history_request")
			return nil
		}
		data, err := wire.Encode(wire.HistoryRequest())
		if err != nil {
			return err
		}
		return c.deliver(data, "history_request", true)
	})
}

func (c *Coordinator) skipDisabled(phase string) {
	log.Debug().
		Err(ErrSyncDisabled).
		Str("device_id", c.config.DeviceID).
		Str("phase", phase).
		Msg("skipping sync call")
}

// syncState offers the live game to the peer. Unless force is set, a snapshot
// within ThrottleInterval of the previous one is dropped. Nothing is sent while
// a remote update is being applied.
func (c *Coordinator) syncState(force bool) {
	if c.config.SyncDisabled || c.game == nil || c.isProcessingRemoteUpdate {
		return
	}
	if !force && !c.lastSend.IsZero() && c.clock.Since(c.lastSend) < c.config.ThrottleInterval {
		c.stats.SnapshotsThrottled++
		log.Debug().Str("game_id", c.game.ID.String()).Msg("snapshot throttled")
		return
	}
	c.sendSnapshot()
}

func (c *Coordinator) sendSnapshot() error {
	c.lastSend = c.clock.Now()

	snap := wire.BuildSnapshot(c.game, c.timer.Elapsed(), c.timer.IsRunning(), c.timer.LastStartTime(), c.config.DeviceID)
	data, err := wire.Encode(wire.SnapshotMessage(snap))
	if err != nil {
		c.syncFailed("encode_snapshot", err)
		return err
	}
	return c.deliver(data, "snapshot", true)
}

// deliver sends data now if the peer is reachable. Otherwise it is handed to
// the transport's queue when queue is set, and dropped when not.
func (c *Coordinator) deliver(data []byte, phase string, queue bool) error {
	if c.transport == nil {
		return transport.ErrTransportUnavailable
	}

	if c.transport.Reachable() {
		ctx, cancel := context.WithTimeout(c.runCtx, c.config.SendTimeout)
		defer cancel()
		if err := c.transport.Send(ctx, data); err != nil {
			c.syncFailed(phase, err)
			return fmt.Errorf("send %s: %w", phase, err)
		}
		c.stats.LastSentAt = c.clock.Now()
		if phase == "snapshot" {
			c.stats.SnapshotsSent++
		}
		return nil
	}

	if !queue {
		return transport.ErrPeerUnreachable
	}
	if err := c.transport.Enqueue(data); err != nil {
		c.syncFailed(phase, err)
		return fmt.Errorf("enqueue %s: %w", phase, err)
	}
	if phase == "snapshot" {
		c.stats.SnapshotsQueued++
	}
	return nil
}

func (c *Coordinator) sendAck() {
	if c.transport == nil || !c.transport.Reachable() {
		return
	}
	data, err := wire.Encode(wire.Ack())
	if err != nil {
		c.syncFailed("encode_ack", err)
		return
	}
	if err := c.deliver(data, "ack", false); err == nil {
		c.stats.AcksSent++
	}
}

// syncFailed records a failed sync step. Failures are never retried here; the
// next state change produces a fresh snapshot.
func (c *Coordinator) syncFailed(phase string, err error) {
	c.stats.SendFailures++
	c.stats.LastError = err.Error()

	ev := log.Warn().Err(err).Str("phase", phase)
	if c.game != nil {
		ev = ev.Str("game_id", c.game.ID.String())
	}
	ev.Msg("live sync failed")

	e := Event{Type: EventSyncFailed, Phase: phase, Error: err.Error()}
	if c.game != nil {
		e.GameID = c.game.ID
	}
	c.emit(e)
}
