// Package maintenance implements the offline room cleanup pass run by
// cmd/cleanup against the room store.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/voiceroom/internal/retry"
	"github.com/cory-johannsen/voiceroom/internal/room"
)

// Report tallies what one cleanup pass changed.
type Report struct {
	Rooms            int
	DuplicatesMerged int
	PlayersDropped   int
	RoomsDeleted     int
	Failed           int
	DryRun           bool
	Elapsed          time.Duration
}

// String renders the report as a single summary line.
func (r Report) String() string {
	mode := ""
	if r.DryRun {
		mode = " (dry run)"
	}
	return fmt.Sprintf("rooms=%d merged=%d dropped=%d deleted=%d failed=%d%s [%s]",
		r.Rooms, r.DuplicatesMerged, r.PlayersDropped, r.RoomsDeleted, r.Failed, mode, r.Elapsed)
}

// Cleaner repairs stored rooms.
type Cleaner struct {
	store  room.Store
	retry  retry.Policy
	logger *zap.Logger
	dryRun bool
}

// New creates a Cleaner. With dryRun set, rooms are inspected but never written.
//
// Precondition: store and logger must be non-nil; policy.Attempts >= 1.
func New(store room.Store, policy retry.Policy, logger *zap.Logger, dryRun bool) *Cleaner {
	return &Cleaner{store: store, retry: policy, logger: logger, dryRun: dryRun}
}

// Run visits every stored room once. For each room it merges duplicate player
// records, drops Disconnected players that do not hold the creator flag, and
// deletes the room when nobody is Connected.
//
// Postcondition: returns an error only when the room codes cannot be listed.
func (c *Cleaner) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	codes, err := c.store.Codes(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("listing rooms: %w", err)
	}
	report := Report{Rooms: len(codes), DryRun: c.dryRun}
	for _, code := range codes {
		if err := c.cleanRoom(ctx, code, &report); err != nil {
			report.Failed++
			c.logger.Warn("cleaning room", zap.String("room", code), zap.Error(err))
		}
	}
	report.Elapsed = time.Since(start)
	return report, nil
}

func (c *Cleaner) cleanRoom(ctx context.Context, code string, report *Report) error {
	var merged, dropped int
	var deleted bool
	err := c.retry.Do(ctx, func(int) error {
		r, err := c.store.FindByCode(ctx, code)
		if err != nil {
			return retry.Permanent(err)
		}
		merged = r.ReconcileDuplicates()
		dropped = dropDisconnected(r)
		deleted = r.ConnectedCount() == 0

		switch {
		case c.dryRun:
			return nil
		case deleted:
			err = c.store.Delete(ctx, code, r.Version)
		case merged > 0 || dropped > 0:
			r.NormalizeCreator()
			err = c.store.Save(ctx, r)
		default:
			return nil
		}
		if err != nil && !errors.Is(err, room.ErrVersionConflict) {
			return retry.Permanent(err)
		}
		return err
	})
	if errors.Is(err, room.ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	report.DuplicatesMerged += merged
	report.PlayersDropped += dropped
	if deleted {
		report.RoomsDeleted++
	}
	if merged > 0 || dropped > 0 || deleted {
		c.logger.Info("room cleaned",
			zap.String("room", code),
			zap.Int("merged", merged),
			zap.Int("dropped", dropped),
			zap.Bool("deleted", deleted),
			zap.Bool("dry_run", c.dryRun),
		)
	}
	return nil
}

// dropDisconnected removes Disconnected players that do not hold the creator flag.
func dropDisconnected(r *room.Room) int {
	kept := r.Players[:0]
	dropped := 0
	for _, p := range r.Players {
		if !p.Connected && !p.IsCreator {
			dropped++
			continue
		}
		kept = append(kept, p)
	}
	r.Players = kept
	return dropped
}
