// Package wire defines the JSON envelope and event payloads exchanged with
// room clients over the WebSocket transport.
package wire

import (
	"encoding/json"
	"fmt"
)

// Inbound event names (client → server).
const (
	JoinRoom           = "join-room"
	Heartbeat          = "heartbeat"
	StartGame          = "start-game"
	LeaveRoom          = "leave-room"
	ChatMessage        = "chat-message"
	GetRoomRoster      = "get-room-roster"
	WebRTCOffer        = "webrtc-offer"
	WebRTCAnswer       = "webrtc-answer"
	WebRTCIceCandidate = "webrtc-ice-candidate"
)

// Outbound event names (server → client). ChatMessage and the WebRTC names are
// reused in this direction.
const (
	Connected       = "connected"
	RosterUpdated   = "roster-updated"
	RosterSnapshot  = "roster-snapshot"
	CreatorChanged  = "creator-changed"
	CreatorGone     = "creator-gone"
	CreatorReturned = "creator-returned"
	GameEnded       = "game-ended"
	Error           = "error"
	MeshRefresh     = "mesh-refresh"
	PartnerPhrase   = "partner-phrase"
	CommonPhrase    = "common-phrase"
)

// Envelope is the frame for every message in either direction.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: decoding payload: %w", e.Type, err)
	}
	return nil
}

// Encode frames payload under eventType as a JSON text message.
func Encode(eventType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", eventType, err)
	}
	return json.Marshal(Envelope{Type: eventType, Payload: raw})
}

// RoomRef addresses a room; used by start-game and get-room-roster.
type RoomRef struct {
	Code string `json:"code"`
}

// PlayerRef addresses a player in a room; used by join-room, heartbeat and leave-room.
type PlayerRef struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// ChatIn is the inbound chat-message payload.
type ChatIn struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Text string `json:"text"`
}

// ChatOut is the relayed chat-message payload.
type ChatOut struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Signal is an inbound WebRTC negotiation message. Exactly one of the opaque
// fields is set, matching the envelope type.
type Signal struct {
	To        string          `json:"to"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// RelayedSignal is the WebRTC negotiation message delivered to the target.
type RelayedSignal struct {
	From      string          `json:"from"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// RosterEntry is one Connected player in a roster payload.
type RosterEntry struct {
	Name         string `json:"name"`
	ConnectionID string `json:"connectionId"`
}

// Roster is the canonical room snapshot carried by roster-updated and roster-snapshot.
type Roster struct {
	Code           string        `json:"code"`
	Roster         []RosterEntry `json:"roster"`
	Creator        string        `json:"creator"`
	GameState      string        `json:"gameState"`
	TotalCount     int           `json:"totalCount"`
	ConnectedCount int           `json:"connectedCount"`
}

// CreatorChange is the creator-changed payload.
type CreatorChange struct {
	NewCreator string `json:"newCreator"`
	Reason     string `json:"reason"`
}

// Creator-changed reasons.
const (
	ReasonCreatorLeft     = "creator-left"
	ReasonCreatorTimeout  = "creator-timeout"
	ReasonCreatorAbsent   = "creator-absent"
	ReasonCreatorReplaced = "creator-replaced"
	ReasonRoomClosed      = "room-closed"
)

// Name carries a single player name; used by creator-gone and creator-returned.
type Name struct {
	Name string `json:"name"`
}

// Ended is the game-ended payload.
type Ended struct {
	Reason string `json:"reason"`
}

// Failure is the error payload. Message is user-facing; Kind is one of the error kinds.
type Failure struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// MeshAdvisory is the mesh-refresh payload.
type MeshAdvisory struct {
	TriggeredBy string `json:"triggeredBy"`
	IsCreator   bool   `json:"isCreator"`
}

// Phrase carries one half of a phrase pair.
type Phrase struct {
	Phrase string `json:"phrase"`
}

// Hello is the connected payload.
type Hello struct {
	ConnectionID string `json:"connectionId"`
}
