// Package notifier derives the canonical roster snapshot of a room and fans
// events out to the room's subscribed connections.
package notifier

import (
	"go.uber.org/zap"

	"github.com/cory-johannsen/voiceroom/internal/room"
	"github.com/cory-johannsen/voiceroom/internal/wire"
)

// Hub delivers encoded frames to live connections.
type Hub interface {
	Send(connID string, frame []byte) error
	Broadcast(code string, frame []byte) int
}

// Notifier encodes events and pushes them through a Hub.
type Notifier struct {
	hub    Hub
	logger *zap.Logger
}

// New creates a Notifier.
//
// Precondition: hub and logger must be non-nil.
func New(hub Hub, logger *zap.Logger) *Notifier {
	return &Notifier{hub: hub, logger: logger}
}

// Snapshot derives the roster payload from a persisted room.
//
// Postcondition: Roster is non-nil and lists Connected players in insertion order.
func Snapshot(r *room.Room) wire.Roster {
	connected := r.ConnectedPlayers()
	entries := make([]wire.RosterEntry, 0, len(connected))
	for _, p := range connected {
		entries = append(entries, wire.RosterEntry{Name: p.Name, ConnectionID: p.ConnectionID})
	}
	creator := ""
	if c := r.Creator(); c != nil {
		creator = c.Name
	}
	return wire.Roster{
		Code:           r.Code,
		Roster:         entries,
		Creator:        creator,
		GameState:      string(r.GameState),
		TotalCount:     len(r.Players),
		ConnectedCount: len(connected),
	}
}

// BroadcastRoster sends roster-updated for r to every subscriber of its code.
func (n *Notifier) BroadcastRoster(r *room.Room) {
	n.Broadcast(r.Code, wire.RosterUpdated, Snapshot(r))
}

// SendSnapshot replies roster-snapshot for r to a single connection.
func (n *Notifier) SendSnapshot(connID string, r *room.Room) {
	n.Send(connID, wire.RosterSnapshot, Snapshot(r))
}

// SendError replies an error event to a single connection.
func (n *Notifier) SendError(connID, kind, message string) {
	n.Send(connID, wire.Error, wire.Failure{Message: message, Kind: kind})
}

// Broadcast encodes payload under event and pushes it to every subscriber of code.
func (n *Notifier) Broadcast(code, event string, payload interface{}) {
	frame, err := wire.Encode(event, payload)
	if err != nil {
		n.logger.Error("encoding broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	delivered := n.hub.Broadcast(code, frame)
	n.logger.Debug("broadcast",
		zap.String("room", code),
		zap.String("event", event),
		zap.Int("delivered", delivered),
	)
}

// Send encodes payload under event and pushes it to one connection.
// Delivery failures are logged; the connection's own pumps handle teardown.
func (n *Notifier) Send(connID, event string, payload interface{}) {
	frame, err := wire.Encode(event, payload)
	if err != nil {
		n.logger.Error("encoding message", zap.String("event", event), zap.Error(err))
		return
	}
	if err := n.hub.Send(connID, frame); err != nil {
		n.logger.Warn("dropping message",
			zap.String("conn_id", connID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}
