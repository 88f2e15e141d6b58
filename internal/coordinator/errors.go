package coordinator

import (
	"context"
	"errors"

	"github.com/cory-johannsen/voiceroom/internal/retry"
	"github.com/cory-johannsen/voiceroom/internal/room"
)

// Error kinds carried by the error event.
const (
	KindCapacity     = "capacity"
	KindConflict     = "conflict"
	KindNotFound     = "not_found"
	KindUnauthorized = "unauthorized"
	KindInvalid      = "invalid"
	KindTransient    = "transient"
)

// errInvalidPayload is returned when an inbound message cannot be decoded.
var errInvalidPayload = errors.New("invalid payload")

// KindOf classifies err into one of the error kinds.
//
// Precondition: err is non-nil.
func KindOf(err error) string {
	switch {
	case errors.Is(err, room.ErrCapacity):
		return KindCapacity
	case errors.Is(err, retry.ErrExhausted), errors.Is(err, room.ErrVersionConflict):
		return KindConflict
	case errors.Is(err, room.ErrRoomNotFound):
		return KindNotFound
	case errors.Is(err, room.ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, errInvalidPayload), errors.Is(err, room.ErrInvalidCode), errors.Is(err, room.ErrInvalidName):
		return KindInvalid
	default:
		return KindTransient
	}
}

// userMessage is the client-facing text for a kind. Internal detail is never sent.
func userMessage(kind string, err error) string {
	switch kind {
	case KindCapacity:
		return "Room is full"
	case KindConflict:
		return "The room is busy, please try again"
	case KindNotFound:
		return "Room not found"
	case KindInvalid:
		switch {
		case errors.Is(err, room.ErrInvalidCode):
			return "Invalid room code"
		case errors.Is(err, room.ErrInvalidName):
			return "Invalid player name"
		}
		return "Invalid request"
	case KindTransient:
		if errors.Is(err, context.DeadlineExceeded) {
			return "Request timed out, please try again"
		}
	}
	return "Something went wrong, please try again"
}
