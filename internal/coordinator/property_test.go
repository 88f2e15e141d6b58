package coordinator

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/cory-johannsen/voiceroom/internal/room"
)

func checkRoomInvariants(t *rapid.T, r *room.Room) {
	if n := r.ConnectedCount(); n > room.MaxPlayers {
		t.Fatalf("room %s has %d connected players", r.Code, n)
	}
	seen := map[string]bool{}
	creators := 0
	for _, p := range r.Players {
		if seen[p.Name] {
			t.Fatalf("room %s has duplicate player %q", r.Code, p.Name)
		}
		seen[p.Name] = true
		if p.Connected && p.IsCreator {
			creators++
		}
		if !p.Connected && p.ConnectionID != "" {
			t.Fatalf("disconnected player %q keeps connection id %q", p.Name, p.ConnectionID)
		}
	}
	if creators > 1 {
		t.Fatalf("room %s has %d connected creators", r.Code, creators)
	}
	if r.ConnectedCount() > 0 && creators == 0 && r.AbsentCreator() == nil {
		t.Fatalf("room %s has connected players but no creator", r.Code)
	}
}

// Property: any interleaving of joins, leaves, drops, sweeps, and grace
// expiries leaves every stored room within its roster invariants.
func TestPropertyRoomInvariantsHold(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := newHarness(t)
		codes := []string{"111111", "222222"}
		playerNames := []string{"Alice", "Bob", "Carol", "Dan", "Eve", "Fay", "Gus", "Hal"}
		next := 0
		var live []string

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 5).Draw(rt, "op") {
			case 0, 1:
				id := fmt.Sprintf("c%d", next)
				next++
				if _, err := h.reg.Register(id); err != nil {
					rt.Fatalf("register: %v", err)
				}
				live = append(live, id)
				code := rapid.SampledFrom(codes).Draw(rt, "code")
				name := rapid.SampledFrom(playerNames).Draw(rt, "name")
				_ = h.coord.Join(h.ctx, id, code, name)
			case 2:
				if len(live) == 0 {
					continue
				}
				idx := rapid.IntRange(0, len(live)-1).Draw(rt, "drop")
				h.coord.Disconnect(h.ctx, live[idx])
				live = append(live[:idx], live[idx+1:]...)
			case 3:
				if len(live) == 0 {
					continue
				}
				id := rapid.SampledFrom(live).Draw(rt, "leaver")
				if m, ok := h.reg.Membership(id); ok {
					_ = h.coord.Leave(h.ctx, id, m.Code, m.Name)
				}
			case 4:
				if _, err := h.coord.Sweep(h.ctx); err != nil {
					rt.Fatalf("sweep: %v", err)
				}
			case 5:
				h.sched.fire(testGrace)
			}
			for _, code := range codes {
				if r, err := h.store.FindByCode(h.ctx, code); err == nil {
					checkRoomInvariants(rt, r)
				}
			}
		}
		h.coord.Close()
	})
}

// Property: joining the same room twice on one connection changes nothing.
func TestPropertyJoinIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := newHarness(t)
		others := rapid.IntRange(0, 4).Draw(rt, "others")
		for i := 0; i < others; i++ {
			id := fmt.Sprintf("o%d", i)
			if _, err := h.reg.Register(id); err != nil {
				rt.Fatalf("register: %v", err)
			}
			if err := h.coord.Join(h.ctx, id, "123456", fmt.Sprintf("P%d", i)); err != nil {
				rt.Fatalf("join: %v", err)
			}
		}
		if _, err := h.reg.Register("me"); err != nil {
			rt.Fatalf("register: %v", err)
		}
		if err := h.coord.Join(h.ctx, "me", "123456", "Me"); err != nil {
			rt.Fatalf("join: %v", err)
		}
		before, err := h.store.FindByCode(h.ctx, "123456")
		if err != nil {
			rt.Fatalf("find: %v", err)
		}
		repeats := rapid.IntRange(1, 5).Draw(rt, "repeats")
		for i := 0; i < repeats; i++ {
			if err := h.coord.Join(h.ctx, "me", "123456", "Me"); err != nil {
				rt.Fatalf("repeat join: %v", err)
			}
		}
		after, err := h.store.FindByCode(h.ctx, "123456")
		if err != nil {
			rt.Fatalf("find: %v", err)
		}
		if before.Version != after.Version || len(before.Players) != len(after.Players) {
			rt.Fatalf("repeat join changed the room: v%d→v%d", before.Version, after.Version)
		}
	})
}
