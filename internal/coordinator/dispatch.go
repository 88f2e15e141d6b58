package coordinator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/voiceroom/internal/wire"
)

// Handle processes one inbound envelope from connID. Failures are reported to
// the connection as an error event; unauthorized requests are dropped.
func (c *Coordinator) Handle(ctx context.Context, connID string, env wire.Envelope) {
	err := c.dispatch(ctx, connID, env)
	if err == nil {
		return
	}
	kind := KindOf(err)
	fields := []zap.Field{
		zap.String("conn_id", connID),
		zap.String("event", env.Type),
		zap.String("kind", kind),
		zap.Error(err),
	}
	switch kind {
	case KindUnauthorized:
		c.logger.Debug("request dropped", fields...)
		return
	case KindTransient:
		c.logger.Error("request failed", fields...)
	default:
		c.logger.Info("request rejected", fields...)
	}
	c.notify.SendError(connID, kind, userMessage(kind, err))
}

func (c *Coordinator) dispatch(ctx context.Context, connID string, env wire.Envelope) error {
	switch env.Type {
	case wire.JoinRoom:
		var p wire.PlayerRef
		if err := decode(env, &p); err != nil {
			return err
		}
		return c.Join(ctx, connID, p.Code, p.Name)
	case wire.LeaveRoom:
		var p wire.PlayerRef
		if err := decode(env, &p); err != nil {
			return err
		}
		return c.Leave(ctx, connID, p.Code, p.Name)
	case wire.Heartbeat:
		var p wire.PlayerRef
		if err := decode(env, &p); err != nil {
			return err
		}
		return c.Heartbeat(ctx, connID, p.Code, p.Name)
	case wire.StartGame:
		var p wire.RoomRef
		if err := decode(env, &p); err != nil {
			return err
		}
		return c.StartGame(ctx, connID, p.Code)
	case wire.ChatMessage:
		var p wire.ChatIn
		if err := decode(env, &p); err != nil {
			return err
		}
		return c.Chat(connID, p)
	case wire.GetRoomRoster:
		var p wire.RoomRef
		if err := decode(env, &p); err != nil {
			return err
		}
		return c.Roster(ctx, connID, p.Code)
	case wire.WebRTCOffer, wire.WebRTCAnswer, wire.WebRTCIceCandidate:
		var sig wire.Signal
		if err := decode(env, &sig); err != nil {
			return err
		}
		if err := c.relay.Forward(connID, env.Type, sig); err != nil {
			c.logger.Debug("signal dropped",
				zap.String("conn_id", connID),
				zap.String("event", env.Type),
				zap.String("to", sig.To),
				zap.Error(err),
			)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown event %q", errInvalidPayload, env.Type)
	}
}

func decode(env wire.Envelope, v interface{}) error {
	if err := env.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errInvalidPayload, err)
	}
	return nil
}
