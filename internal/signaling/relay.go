// Package signaling forwards addressed WebRTC negotiation messages between
// members of the same room. It holds no state of its own.
package signaling

import (
	"errors"
	"fmt"

	"github.com/cory-johannsen/voiceroom/internal/registry"
	"github.com/cory-johannsen/voiceroom/internal/wire"
)

// ErrTargetNotLive is returned when the addressed connection is not registered.
var ErrTargetNotLive = errors.New("signal target is not live")

// ErrNotSameRoom is returned when sender and target are not members of one room.
var ErrNotSameRoom = errors.New("signal sender and target are not in the same room")

// Directory answers liveness and membership questions about connections.
type Directory interface {
	IsLive(connID string) bool
	Membership(connID string) (registry.Membership, bool)
}

// Sender delivers an event to one connection or to every subscriber of a room.
type Sender interface {
	Send(connID, event string, payload interface{})
	Broadcast(code, event string, payload interface{})
}

// Relay forwards negotiation messages and mesh-refresh advisories.
type Relay struct {
	dir Directory
	out Sender
}

// New creates a Relay.
//
// Precondition: dir and out must be non-nil.
func New(dir Directory, out Sender) *Relay {
	return &Relay{dir: dir, out: out}
}

// Forward delivers sig from the sending connection to sig.To under the same event name.
//
// Precondition: event is one of the webrtc-* names.
// Postcondition: Returns ErrTargetNotLive or ErrNotSameRoom when the message is dropped.
func (r *Relay) Forward(fromConnID, event string, sig wire.Signal) error {
	switch event {
	case wire.WebRTCOffer, wire.WebRTCAnswer, wire.WebRTCIceCandidate:
	default:
		return fmt.Errorf("unsupported signal event %q", event)
	}
	if !r.dir.IsLive(sig.To) {
		return fmt.Errorf("%w: %s", ErrTargetNotLive, sig.To)
	}
	from, ok := r.dir.Membership(fromConnID)
	if !ok {
		return ErrNotSameRoom
	}
	to, ok := r.dir.Membership(sig.To)
	if !ok || to.Code != from.Code {
		return ErrNotSameRoom
	}
	r.out.Send(sig.To, event, wire.RelayedSignal{
		From:      fromConnID,
		Offer:     sig.Offer,
		Answer:    sig.Answer,
		Candidate: sig.Candidate,
	})
	return nil
}

// MeshRefresh advises every member of code to re-establish peer links.
func (r *Relay) MeshRefresh(code, triggeredBy string, isCreator bool) {
	r.out.Broadcast(code, wire.MeshRefresh, wire.MeshAdvisory{TriggeredBy: triggeredBy, IsCreator: isCreator})
}
