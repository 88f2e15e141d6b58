package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/voiceroom/internal/room"
	"github.com/cory-johannsen/voiceroom/internal/wire"
)

// SweepReport summarises one sweep pass.
type SweepReport struct {
	Rooms        int
	Disconnected int
	Destroyed    int
	Failed       int
}

// Sweep reconciles every stored room against the registry. Connected players
// whose connection is not live become Disconnected; a swept creator starts a
// grace window, as does an absent creator with no grace check pending in this
// process. Rooms with nobody Connected and no pending grace check are deleted.
//
// Postcondition: returns an error only when the room codes cannot be listed.
func (c *Coordinator) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	codes, err := c.store.Codes(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("listing rooms: %w", err)
	}
	report := SweepReport{Rooms: len(codes)}
	for _, code := range codes {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		swept, destroyed, err := c.sweepRoom(ctx, code)
		if err != nil {
			report.Failed++
			c.logger.Warn("sweeping room", zap.String("room", code), zap.Error(err))
			continue
		}
		report.Disconnected += swept
		if destroyed {
			report.Destroyed++
		}
	}
	if report.Disconnected > 0 || report.Destroyed > 0 || report.Failed > 0 {
		c.logger.Info("sweep complete",
			zap.Int("rooms", report.Rooms),
			zap.Int("disconnected", report.Disconnected),
			zap.Int("destroyed", report.Destroyed),
			zap.Int("failed", report.Failed),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	return report, nil
}

func (c *Coordinator) sweepRoom(ctx context.Context, code string) (int, bool, error) {
	pending := c.gracePending(code)
	swept := 0
	r, p, err := c.mutate(ctx, code, func(r *room.Room) (plan, error) {
		var p plan
		swept = 0
		for i := range r.Players {
			player := &r.Players[i]
			if !player.Connected || c.reg.IsLive(player.ConnectionID) {
				continue
			}
			name, wasCreator := player.Name, player.IsCreator
			r.Disconnect(name)
			swept++
			if wasCreator {
				p.emit(wire.CreatorGone, wire.Name{Name: name})
				p.grace = name
			}
		}
		if r.ConnectedCount() == 0 && p.grace == "" && !pending {
			p.emit(wire.GameEnded, wire.Ended{Reason: wire.ReasonRoomClosed})
			p.act = actDestroy
			return p, nil
		}
		if swept > 0 {
			p.act = actSave
		}
		// A flag held by a Disconnected creator with no local check armed
		// (a failed expiry, or a restart) gets a fresh grace window.
		if absent := r.AbsentCreator(); absent != nil && p.grace == "" && !pending && r.ConnectedCount() > 0 {
			p.grace = absent.Name
		}
		return p, nil
	})
	if errors.Is(err, room.ErrRoomNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	c.publish(r, p)
	return swept, p.act == actDestroy, nil
}
