// Package room defines the persisted room record, its roster rules, and the
// store contract used by the session coordinator.
package room

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxPlayers is the maximum number of Connected players a room admits.
const MaxPlayers = 6

// maxNameLen bounds both room codes and player names, in runes.
const maxNameLen = 32

var codePattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// GameState is the phase of play a room is in.
type GameState string

const (
	StateWaiting  GameState = "waiting"
	StateStarting GameState = "starting"
	StateActive   GameState = "active"
	StateEnded    GameState = "ended"
)

// Valid reports whether s is a recognised game state.
func (s GameState) Valid() bool {
	switch s {
	case StateWaiting, StateStarting, StateActive, StateEnded:
		return true
	}
	return false
}

// ErrInvalidCode is returned when a room code fails validation.
var ErrInvalidCode = errors.New("invalid room code")

// ErrInvalidName is returned when a player name fails validation.
var ErrInvalidName = errors.New("invalid player name")

// ValidateCode checks that code is non-empty, short, and alphanumeric (dashes allowed).
func ValidateCode(code string) error {
	if code == "" || utf8.RuneCountInString(code) > maxNameLen || !codePattern.MatchString(code) {
		return fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	return nil
}

// ValidateName checks that name has visible content and is at most 32 runes.
// Names are compared by exact match; no normalisation is applied.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" || utf8.RuneCountInString(name) > maxNameLen {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Player is one named participant of a room.
type Player struct {
	Name         string    `json:"name"`
	ConnectionID string    `json:"connectionId,omitempty"`
	Connected    bool      `json:"connected"`
	IsCreator    bool      `json:"isCreator"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// Room is the durable, versioned record of a play session.
//
// Invariant: at most MaxPlayers players are Connected.
// Invariant: at most one Connected player has IsCreator set.
type Room struct {
	Code            string
	Players         []Player
	GameState       GameState
	CreatedAt       time.Time
	// PreviousCreator names the last player whose creator flag was revoked while they were away.
	PreviousCreator string
	// Version is the optimistic-concurrency counter, owned by the Store.
	Version int64
}

// New builds a waiting room whose sole member is a Connected creator.
//
// Precondition: code and name have passed ValidateCode and ValidateName.
func New(code, name, connectionID string, now time.Time) *Room {
	return &Room{
		Code:      code,
		GameState: StateWaiting,
		CreatedAt: now,
		Players: []Player{{
			Name:         name,
			ConnectionID: connectionID,
			Connected:    true,
			IsCreator:    true,
			JoinedAt:     now,
		}},
	}
}

// Clone returns a deep copy of r.
func (r *Room) Clone() *Room {
	out := *r
	out.Players = append([]Player(nil), r.Players...)
	return &out
}

// Player returns a pointer to the named player, or nil.
func (r *Room) Player(name string) *Player {
	for i := range r.Players {
		if r.Players[i].Name == name {
			return &r.Players[i]
		}
	}
	return nil
}

// ConnectedPlayers returns the Connected players in insertion order.
func (r *Room) ConnectedPlayers() []Player {
	out := make([]Player, 0, len(r.Players))
	for _, p := range r.Players {
		if p.Connected {
			out = append(out, p)
		}
	}
	return out
}

// ConnectedCount returns the number of Connected players.
func (r *Room) ConnectedCount() int {
	n := 0
	for _, p := range r.Players {
		if p.Connected {
			n++
		}
	}
	return n
}

// Creator returns the Connected player holding the creator flag, or nil.
func (r *Room) Creator() *Player {
	for i := range r.Players {
		if r.Players[i].Connected && r.Players[i].IsCreator {
			return &r.Players[i]
		}
	}
	return nil
}

// AbsentCreator returns the Disconnected player still holding the creator flag, or nil.
// A non-nil result means a creator grace window is open.
func (r *Room) AbsentCreator() *Player {
	for i := range r.Players {
		if !r.Players[i].Connected && r.Players[i].IsCreator {
			return &r.Players[i]
		}
	}
	return nil
}

// Disconnect soft-removes the named player.
//
// Postcondition: returns false if the player does not exist or was already Disconnected.
func (r *Room) Disconnect(name string) bool {
	p := r.Player(name)
	if p == nil || !p.Connected {
		return false
	}
	p.Connected = false
	p.ConnectionID = ""
	return true
}

// PromoteNext revokes the flag from every player and grants it to the first
// Connected player in insertion order.
//
// Postcondition: returns the promoted name, or "" when nobody is Connected.
func (r *Room) PromoteNext() string {
	for i := range r.Players {
		r.Players[i].IsCreator = false
	}
	for i := range r.Players {
		if r.Players[i].Connected {
			r.Players[i].IsCreator = true
			return r.Players[i].Name
		}
	}
	return ""
}

// NormalizeCreator repairs the creator invariant.
// Extra Connected flag holders after the first lose the flag. When players are
// Connected and no player holds the flag at all, the first Connected player is promoted.
//
// Postcondition: returns the promoted name, or "" if no promotion happened.
func (r *Room) NormalizeCreator() string {
	seen := false
	for i := range r.Players {
		p := &r.Players[i]
		if p.Connected && p.IsCreator {
			if seen {
				p.IsCreator = false
			}
			seen = true
		}
	}
	if seen || r.AbsentCreator() != nil {
		return ""
	}
	return r.PromoteNext()
}
