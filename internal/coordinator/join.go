package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/voiceroom/internal/retry"
	"github.com/cory-johannsen/voiceroom/internal/room"
	"github.com/cory-johannsen/voiceroom/internal/wire"
)

// Join attaches the named player to the room on behalf of connID, creating
// the room when the code is unused.
//
// Precondition: connID is registered with the registry.
// Postcondition: on success the connection's membership names (code, name),
// the room's roster is broadcast, and a mesh-refresh advisory is scheduled.
// A repeated join of the same room by the same connection is a no-op. A join
// of another room first leaves the current one; if that leave fails the
// connection stays in its current room and nothing is created.
func (c *Coordinator) Join(ctx context.Context, connID, code, name string) error {
	if err := room.ValidateCode(code); err != nil {
		return err
	}
	if err := room.ValidateName(name); err != nil {
		return err
	}
	if m, ok := c.reg.Membership(connID); ok {
		if m.Code == code {
			c.logger.Debug("duplicate join ignored",
				zap.String("conn_id", connID),
				zap.String("room", code),
			)
			return nil
		}
		if err := c.Leave(ctx, connID, m.Code, m.Name); err != nil {
			return fmt.Errorf("switching to room %s: %w", code, err)
		}
	}

	attach := c.attach(connID, name)
	// A concurrent delete can remove the room between the create race and the
	// re-fetch, so the find/create pair is attempted a bounded number of times.
	for i := 0; i < c.retry.Attempts; i++ {
		r, p, err := c.mutate(ctx, code, attach)
		if err == nil {
			return c.joined(connID, name, r, p)
		}
		if !errors.Is(err, room.ErrRoomNotFound) {
			return fmt.Errorf("joining room %s: %w", code, err)
		}

		fresh := room.New(code, name, connID, c.now())
		err = c.store.Create(ctx, fresh)
		if err == nil {
			c.logger.Info("room created", zap.String("room", code), zap.String("creator", name))
			return c.joined(connID, name, fresh, plan{act: actSave})
		}
		if !errors.Is(err, room.ErrRoomExists) {
			return fmt.Errorf("creating room %s: %w", code, err)
		}
		c.logger.Debug("room created concurrently, attaching", zap.String("room", code))
	}
	return fmt.Errorf("joining room %s: %w", code, retry.ErrExhausted)
}

// attach returns the mutation that binds name to connID in an existing room.
func (c *Coordinator) attach(connID, name string) mutation {
	return func(r *room.Room) (plan, error) {
		var p plan
		if existing := r.Player(name); existing != nil {
			if existing.Connected && existing.ConnectionID == connID {
				return p, nil
			}
			wasAway := !existing.Connected
			if wasAway && r.ConnectedCount() >= room.MaxPlayers {
				return p, fmt.Errorf("%w: %s", room.ErrCapacity, r.Code)
			}
			existing.Connected = true
			existing.ConnectionID = connID
			if wasAway && existing.IsCreator {
				p.emit(wire.CreatorReturned, wire.Name{Name: name})
				p.cancelGrace = true
			}
			if r.PreviousCreator == name && !existing.IsCreator {
				current := ""
				if cr := r.Creator(); cr != nil {
					current = cr.Name
				}
				p.emit(wire.CreatorChanged, wire.CreatorChange{NewCreator: current, Reason: wire.ReasonCreatorReplaced})
				r.PreviousCreator = ""
			}
			p.act = actSave
			return p, nil
		}

		if r.ConnectedCount() >= room.MaxPlayers {
			return p, fmt.Errorf("%w: %s", room.ErrCapacity, r.Code)
		}
		becomesCreator := r.Creator() == nil
		if becomesCreator {
			if absent := r.AbsentCreator(); absent != nil {
				absent.IsCreator = false
				r.PreviousCreator = absent.Name
				p.emit(wire.CreatorChanged, wire.CreatorChange{NewCreator: name, Reason: wire.ReasonCreatorAbsent})
				p.cancelGrace = true
			}
		}
		r.Players = append(r.Players, room.Player{
			Name:         name,
			ConnectionID: connID,
			Connected:    true,
			IsCreator:    becomesCreator,
			JoinedAt:     c.now(),
		})
		p.act = actSave
		return p, nil
	}
}

// joined finishes a committed join: registry membership, events, roster, mesh refresh.
func (c *Coordinator) joined(connID, name string, r *room.Room, p plan) error {
	if err := c.reg.Join(connID, r.Code, name); err != nil {
		// The connection closed mid-join; the sweep will mark the record Disconnected.
		c.logger.Warn("joined connection is gone",
			zap.String("conn_id", connID),
			zap.String("room", r.Code),
			zap.Error(err),
		)
		return nil
	}
	// Any other connection still subscribed under this name has been superseded.
	for _, other := range c.reg.Members(r.Code) {
		if other == connID {
			continue
		}
		if m, ok := c.reg.Membership(other); ok && m.Name == name {
			c.reg.Leave(other)
		}
	}
	if p.act == actSkip {
		// Already attached on this connection; still refresh the joiner's view.
		p.act = actSave
	}
	c.publish(r, p)

	isCreator := false
	if cr := r.Creator(); cr != nil && cr.Name == name {
		isCreator = true
	}
	c.logger.Info("player joined",
		zap.String("room", r.Code),
		zap.String("name", name),
		zap.String("conn_id", connID),
		zap.Bool("creator", isCreator),
		zap.Int("connected", r.ConnectedCount()),
	)
	c.scheduleMeshRefresh(r.Code, name, isCreator)
	return nil
}
