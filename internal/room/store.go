package room

import (
	"context"
	"errors"
)

// ErrRoomNotFound is returned when a room lookup yields no results.
var ErrRoomNotFound = errors.New("room not found")

// ErrRoomExists is returned when creating a room whose code is already stored.
var ErrRoomExists = errors.New("room already exists")

// ErrVersionConflict is returned when a save or delete races a concurrent writer.
var ErrVersionConflict = errors.New("room version conflict")

// ErrCapacity is returned when a join would exceed MaxPlayers Connected players.
var ErrCapacity = errors.New("room is full")

// ErrUnauthorized is returned when a player invokes an action reserved for someone else.
var ErrUnauthorized = errors.New("not authorized")

// Store persists rooms with optimistic concurrency.
//
// Implementations MUST be safe for concurrent use.
type Store interface {
	// Create inserts r with Version 1.
	//
	// Postcondition: r.Version == 1 on success; ErrRoomExists if the code is taken.
	Create(ctx context.Context, r *Room) error
	// FindByCode returns a copy of the stored room or ErrRoomNotFound.
	FindByCode(ctx context.Context, code string) (*Room, error)
	// Save replaces the stored room when its version equals r.Version.
	//
	// Postcondition: r.Version is incremented on success; ErrVersionConflict on a
	// stale version; ErrRoomNotFound if the room was deleted.
	Save(ctx context.Context, r *Room) error
	// Delete removes the room when its stored version equals version.
	Delete(ctx context.Context, code string, version int64) error
	// Codes lists every stored room code.
	Codes(ctx context.Context) ([]string, error)
	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}
