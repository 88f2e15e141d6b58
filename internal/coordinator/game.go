package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/voiceroom/internal/room"
	"github.com/cory-johannsen/voiceroom/internal/wire"
)

// StartGame moves a waiting room to active and deals the phrase pair.
//
// Precondition: connID is the Connected creator of code.
// Postcondition: returns room.ErrUnauthorized for anyone else. Fewer than two
// Connected players, or a room no longer waiting, is a no-op.
func (c *Coordinator) StartGame(ctx context.Context, connID, code string) error {
	m, ok := c.reg.Membership(connID)
	if !ok || m.Code != code {
		return fmt.Errorf("%w: start of %s by %s", room.ErrUnauthorized, code, connID)
	}
	r, p, err := c.mutate(ctx, code, func(r *room.Room) (plan, error) {
		var p plan
		creator := r.Creator()
		if creator == nil || creator.Name != m.Name || creator.ConnectionID != connID {
			return p, fmt.Errorf("%w: %s is not the creator of %s", room.ErrUnauthorized, m.Name, code)
		}
		if r.GameState != room.StateWaiting || r.ConnectedCount() < 2 {
			return p, nil
		}
		r.GameState = room.StateActive
		p.act = actSave
		return p, nil
	})
	if err != nil {
		return fmt.Errorf("starting game in %s: %w", code, err)
	}
	if p.act == actSkip {
		c.logger.Debug("start-game ignored",
			zap.String("room", code),
			zap.String("state", string(r.GameState)),
			zap.Int("connected", r.ConnectedCount()),
		)
		return nil
	}

	players := r.ConnectedPlayers()
	pair := c.phrases.Pick()
	partner := players[c.random.Intn(len(players))]
	for _, pl := range players {
		if pl.Name == partner.Name {
			c.notify.Send(pl.ConnectionID, wire.PartnerPhrase, wire.Phrase{Phrase: pair.Partner})
			continue
		}
		c.notify.Send(pl.ConnectionID, wire.CommonPhrase, wire.Phrase{Phrase: pair.Common})
	}
	c.publish(r, p)
	c.logger.Info("game started",
		zap.String("room", code),
		zap.String("creator", m.Name),
		zap.Int("players", len(players)),
	)
	return nil
}

// Chat relays a chat line to every subscriber of the sender's room.
//
// Postcondition: returns room.ErrUnauthorized when (code, name) is not the
// connection's membership.
func (c *Coordinator) Chat(connID string, msg wire.ChatIn) error {
	m, ok := c.reg.Membership(connID)
	if !ok || m.Code != msg.Code || m.Name != msg.Name {
		return fmt.Errorf("%w: chat in %s by %s", room.ErrUnauthorized, msg.Code, connID)
	}
	c.notify.Broadcast(m.Code, wire.ChatMessage, wire.ChatOut{Name: m.Name, Text: msg.Text})
	return nil
}

// Roster replies a fresh roster-snapshot of code to connID.
func (c *Coordinator) Roster(ctx context.Context, connID, code string) error {
	r, err := c.store.FindByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("reading roster of %s: %w", code, err)
	}
	c.notify.SendSnapshot(connID, r)
	return nil
}

// Heartbeat refreshes connID's liveness. When the connection's membership is
// (code, name) but the stored record has drifted, because a sweep raced a live
// client, the record is re-attached to connID.
func (c *Coordinator) Heartbeat(ctx context.Context, connID, code, name string) error {
	c.reg.Touch(connID)
	m, ok := c.reg.Membership(connID)
	if !ok || m.Code != code || m.Name != name {
		return nil
	}
	r, p, err := c.mutate(ctx, code, func(r *room.Room) (plan, error) {
		var p plan
		player := r.Player(name)
		if player == nil || (player.Connected && player.ConnectionID == connID) {
			return p, nil
		}
		wasAway := !player.Connected
		if wasAway && r.ConnectedCount() >= room.MaxPlayers {
			return p, fmt.Errorf("%w: %s", room.ErrCapacity, code)
		}
		player.Connected = true
		player.ConnectionID = connID
		if wasAway && player.IsCreator {
			p.emit(wire.CreatorReturned, wire.Name{Name: name})
			p.cancelGrace = true
		}
		p.act = actSave
		return p, nil
	})
	if errors.Is(err, room.ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("heartbeat repair in %s: %w", code, err)
	}
	if p.act == actSkip {
		return nil
	}
	c.publish(r, p)
	c.logger.Info("record re-attached by heartbeat",
		zap.String("room", code),
		zap.String("name", name),
		zap.String("conn_id", connID),
	)
	return nil
}
