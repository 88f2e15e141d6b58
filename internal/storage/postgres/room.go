package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/voiceroom/internal/room"
)

// RoomRepository persists rooms in the rooms table. Players are stored as a
// JSONB array; every write is guarded by the version column.
type RoomRepository struct {
	db *pgxpool.Pool
}

// NewRoomRepository creates a RoomRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewRoomRepository(db *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{db: db}
}

// Create inserts r at version 1.
//
// Postcondition: r.Version == 1 on success; room.ErrRoomExists if the code is taken.
func (r *RoomRepository) Create(ctx context.Context, rm *room.Room) error {
	players, err := encodePlayers(rm.Players)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO rooms (code, players, game_state, previous_creator, version, created_at)
		 VALUES ($1, $2, $3, $4, 1, $5)`,
		rm.Code, players, string(rm.GameState), rm.PreviousCreator, rm.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return room.ErrRoomExists
		}
		return fmt.Errorf("inserting room: %w", err)
	}
	rm.Version = 1
	return nil
}

// FindByCode returns the stored room.
//
// Postcondition: Returns room.ErrRoomNotFound when no row matches.
func (r *RoomRepository) FindByCode(ctx context.Context, code string) (*room.Room, error) {
	var (
		rm      room.Room
		players []byte
		state   string
	)
	err := r.db.QueryRow(ctx,
		`SELECT code, players, game_state, previous_creator, version, created_at
		 FROM rooms WHERE code = $1`,
		code,
	).Scan(&rm.Code, &players, &state, &rm.PreviousCreator, &rm.Version, &rm.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, room.ErrRoomNotFound
		}
		return nil, fmt.Errorf("querying room: %w", err)
	}
	if err := json.Unmarshal(players, &rm.Players); err != nil {
		return nil, fmt.Errorf("decoding players of room %s: %w", code, err)
	}
	rm.GameState = room.GameState(state)
	return &rm, nil
}

// Save replaces the stored room if its version still equals rm.Version.
//
// Postcondition: rm.Version is incremented on success; room.ErrVersionConflict
// on a stale version; room.ErrRoomNotFound if the row is gone.
func (r *RoomRepository) Save(ctx context.Context, rm *room.Room) error {
	players, err := encodePlayers(rm.Players)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE rooms
		 SET players = $2, game_state = $3, previous_creator = $4,
		     version = version + 1, updated_at = NOW()
		 WHERE code = $1 AND version = $5`,
		rm.Code, players, string(rm.GameState), rm.PreviousCreator, rm.Version,
	)
	if err != nil {
		return fmt.Errorf("updating room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, rm.Code)
	}
	rm.Version++
	return nil
}

// Delete removes the room if its stored version equals version.
func (r *RoomRepository) Delete(ctx context.Context, code string, version int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM rooms WHERE code = $1 AND version = $2`, code, version)
	if err != nil {
		return fmt.Errorf("deleting room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, code)
	}
	return nil
}

// Codes lists every stored room code in ascending order.
func (r *RoomRepository) Codes(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT code FROM rooms ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("listing rooms: %w", err)
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning room codes: %w", err)
	}
	return codes, nil
}

// Ping reports whether the database answers.
func (r *RoomRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// missOrConflict distinguishes a deleted row from a stale version after a
// guarded write touched no rows.
func (r *RoomRepository) missOrConflict(ctx context.Context, code string) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rooms WHERE code = $1)`, code).Scan(&exists); err != nil {
		return fmt.Errorf("checking room: %w", err)
	}
	if !exists {
		return room.ErrRoomNotFound
	}
	return room.ErrVersionConflict
}

func encodePlayers(players []room.Player) ([]byte, error) {
	if players == nil {
		players = []room.Player{}
	}
	raw, err := json.Marshal(players)
	if err != nil {
		return nil, fmt.Errorf("encoding players: %w", err)
	}
	return raw, nil
}
