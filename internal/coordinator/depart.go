package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/voiceroom/internal/room"
	"github.com/cory-johannsen/voiceroom/internal/wire"
)

// Leave handles an explicit leave-room from connID.
//
// Postcondition: returns room.ErrUnauthorized when (code, name) is not the
// connection's membership. Otherwise the player is Disconnected, a departing
// creator is replaced by the first Connected player, an emptied room without a
// pending grace window is destroyed, and the membership is cleared. When the
// room cannot be saved the membership is kept so the leave can be retried.
func (c *Coordinator) Leave(ctx context.Context, connID, code, name string) error {
	m, ok := c.reg.Membership(connID)
	if !ok || m.Code != code || m.Name != name {
		return fmt.Errorf("%w: leave of %s/%s by %s", room.ErrUnauthorized, code, name, connID)
	}

	r, p, err := c.mutate(ctx, code, func(r *room.Room) (plan, error) {
		var p plan
		player := r.Player(name)
		if player == nil || !player.Connected || player.ConnectionID != connID {
			return p, nil
		}
		wasCreator := player.IsCreator
		r.Disconnect(name)
		if wasCreator {
			player.IsCreator = false
			if next := r.PromoteNext(); next != "" {
				p.emit(wire.CreatorChanged, wire.CreatorChange{NewCreator: next, Reason: wire.ReasonCreatorLeft})
			}
			p.cancelGrace = true
		}
		p.act = settle(r, &p)
		return p, nil
	})
	if errors.Is(err, room.ErrRoomNotFound) {
		c.reg.Leave(connID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("leaving room %s: %w", code, err)
	}
	c.reg.Leave(connID)
	c.publish(r, p)
	c.logger.Info("player left",
		zap.String("room", code),
		zap.String("name", name),
		zap.String("conn_id", connID),
	)
	return nil
}

// Disconnect handles the unplanned loss of connID. The connection is removed
// from the registry; a creator keeps the flag through the grace period while
// any other player is simply marked Disconnected.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) {
	m, ok := c.reg.Unregister(connID)
	if !ok {
		return
	}
	r, p, err := c.mutate(ctx, m.Code, c.drop(connID, m.Name))
	if errors.Is(err, room.ErrRoomNotFound) {
		return
	}
	if err != nil {
		c.logger.Error("recording disconnect",
			zap.String("room", m.Code),
			zap.String("name", m.Name),
			zap.String("conn_id", connID),
			zap.Error(err),
		)
		return
	}
	c.publish(r, p)
	c.logger.Info("player disconnected",
		zap.String("room", m.Code),
		zap.String("name", m.Name),
		zap.String("conn_id", connID),
		zap.Bool("creator_grace", p.grace != ""),
	)
}

// drop marks name Disconnected if it is still bound to connID.
func (c *Coordinator) drop(connID, name string) mutation {
	return func(r *room.Room) (plan, error) {
		var p plan
		player := r.Player(name)
		if player == nil || !player.Connected || player.ConnectionID != connID {
			return p, nil
		}
		r.Disconnect(name)
		if player.IsCreator {
			p.emit(wire.CreatorGone, wire.Name{Name: name})
			p.grace = name
			p.act = actSave
			return p, nil
		}
		p.act = settle(r, &p)
		return p, nil
	}
}

// settle destroys a room left with nobody Connected and no absent creator,
// and saves it otherwise.
func settle(r *room.Room, p *plan) action {
	if r.ConnectedCount() == 0 && r.AbsentCreator() == nil {
		p.emit(wire.GameEnded, wire.Ended{Reason: wire.ReasonRoomClosed})
		return actDestroy
	}
	return actSave
}

// graceExpired is the creator grace check. It re-reads the room and fails over
// only if name is still Disconnected and still holds the flag.
func (c *Coordinator) graceExpired(code, name string, seq uint64) {
	c.mu.Lock()
	if g, ok := c.grace[code]; ok && g.seq == seq {
		delete(c.grace, code)
	}
	c.mu.Unlock()

	ctx, cancel := c.opContext()
	defer cancel()

	r, p, err := c.mutate(ctx, code, func(r *room.Room) (plan, error) {
		var p plan
		player := r.Player(name)
		if player == nil || player.Connected || !player.IsCreator {
			return p, nil
		}
		r.PreviousCreator = name
		if next := r.PromoteNext(); next != "" {
			p.emit(wire.CreatorChanged, wire.CreatorChange{NewCreator: next, Reason: wire.ReasonCreatorTimeout})
			p.act = actSave
			return p, nil
		}
		p.act = settle(r, &p)
		return p, nil
	})
	if errors.Is(err, room.ErrRoomNotFound) {
		return
	}
	if err != nil {
		// The next sweep re-arms the check while the flag is still held.
		c.logger.Error("creator grace check",
			zap.String("room", code),
			zap.String("name", name),
			zap.Error(err),
		)
		return
	}
	if p.act == actSkip {
		c.logger.Debug("creator returned within grace", zap.String("room", code), zap.String("name", name))
		return
	}
	c.publish(r, p)
	c.logger.Info("creator grace expired",
		zap.String("room", code),
		zap.String("name", name),
		zap.Bool("destroyed", p.act == actDestroy),
	)
}
