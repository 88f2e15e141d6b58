package room

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	r := New("123456", "Alice", "c1", epoch)
	assert.Equal(t, StateWaiting, r.GameState)
	require.Len(t, r.Players, 1)
	assert.True(t, r.Players[0].Connected)
	assert.True(t, r.Players[0].IsCreator)
	assert.Equal(t, "Alice", r.Creator().Name)
}

func TestValidateCode(t *testing.T) {
	assert.NoError(t, ValidateCode("123456"))
	assert.NoError(t, ValidateCode("kitten-waffle"))
	assert.ErrorIs(t, ValidateCode(""), ErrInvalidCode)
	assert.ErrorIs(t, ValidateCode("has space"), ErrInvalidCode)
	assert.ErrorIs(t, ValidateCode("abcdefghijklmnopqrstuvwxyz0123456789"), ErrInvalidCode)
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("Alice"))
	assert.NoError(t, ValidateName(" Alice "), "names are stored exactly, not trimmed")
	assert.ErrorIs(t, ValidateName("   "), ErrInvalidName)
	assert.ErrorIs(t, ValidateName(""), ErrInvalidName)
}

func TestGameStateValid(t *testing.T) {
	for _, s := range []GameState{StateWaiting, StateStarting, StateActive, StateEnded} {
		assert.True(t, s.Valid(), "state %q", s)
	}
	assert.False(t, GameState("paused").Valid())
}

func TestClone_IsDeep(t *testing.T) {
	r := New("1", "Alice", "c1", epoch)
	c := r.Clone()
	c.Players[0].Name = "Mallory"
	assert.Equal(t, "Alice", r.Players[0].Name)
}

func TestDisconnect(t *testing.T) {
	r := New("1", "Alice", "c1", epoch)
	assert.True(t, r.Disconnect("Alice"))
	assert.False(t, r.Disconnect("Alice"), "second disconnect is a no-op")
	assert.False(t, r.Disconnect("Nobody"))
	p := r.Player("Alice")
	assert.False(t, p.Connected)
	assert.Empty(t, p.ConnectionID)
	assert.True(t, p.IsCreator, "disconnect keeps the flag")
	assert.Nil(t, r.Creator())
	assert.Equal(t, "Alice", r.AbsentCreator().Name)
}

func TestPromoteNext_InsertionOrder(t *testing.T) {
	r := New("1", "Alice", "c1", epoch)
	r.Players = append(r.Players,
		Player{Name: "Bob", ConnectionID: "c2", Connected: true},
		Player{Name: "Carol", ConnectionID: "c3", Connected: true},
	)
	r.Disconnect("Alice")
	assert.Equal(t, "Bob", r.PromoteNext())
	assert.False(t, r.Player("Alice").IsCreator)
	assert.True(t, r.Player("Bob").IsCreator)
	assert.False(t, r.Player("Carol").IsCreator)
}

func TestPromoteNext_NobodyConnected(t *testing.T) {
	r := New("1", "Alice", "c1", epoch)
	r.Disconnect("Alice")
	assert.Equal(t, "", r.PromoteNext())
	assert.Nil(t, r.AbsentCreator())
}

func TestNormalizeCreator_DropsExtraHolders(t *testing.T) {
	r := New("1", "Alice", "c1", epoch)
	r.Players = append(r.Players, Player{Name: "Bob", ConnectionID: "c2", Connected: true, IsCreator: true})
	assert.Equal(t, "", r.NormalizeCreator())
	assert.True(t, r.Player("Alice").IsCreator)
	assert.False(t, r.Player("Bob").IsCreator)
}

func TestNormalizeCreator_KeepsGraceWindow(t *testing.T) {
	r := New("1", "Alice", "c1", epoch)
	r.Players = append(r.Players, Player{Name: "Bob", ConnectionID: "c2", Connected: true})
	r.Disconnect("Alice")
	assert.Equal(t, "", r.NormalizeCreator())
	assert.Nil(t, r.Creator(), "an absent creator keeps the role during grace")
}

func TestNormalizeCreator_PromotesWhenNoHolder(t *testing.T) {
	r := &Room{Code: "1", Players: []Player{
		{Name: "Bob", ConnectionID: "c2", Connected: true},
	}}
	assert.Equal(t, "Bob", r.NormalizeCreator())
}

func TestReconcileDuplicates_ConnectedWins(t *testing.T) {
	r := &Room{Players: []Player{
		{Name: "Alice", Connected: false, IsCreator: true, JoinedAt: epoch},
		{Name: "Bob", ConnectionID: "b", Connected: true},
		{Name: "Alice", ConnectionID: "c9", Connected: true, JoinedAt: epoch.Add(time.Minute)},
	}}
	assert.Equal(t, 1, r.ReconcileDuplicates())
	require.Len(t, r.Players, 2)
	alice := r.Players[0]
	assert.Equal(t, "Alice", alice.Name)
	assert.Equal(t, "c9", alice.ConnectionID)
	assert.True(t, alice.Connected)
	assert.True(t, alice.IsCreator, "survivor inherits the creator flag")
	assert.Equal(t, epoch, alice.JoinedAt, "survivor keeps the earliest join time")
}

func TestReconcileDuplicates_ConnectionIDBreaksTie(t *testing.T) {
	r := &Room{Players: []Player{
		{Name: "Alice"},
		{Name: "Alice", ConnectionID: "c2"},
	}}
	r.ReconcileDuplicates()
	require.Len(t, r.Players, 1)
	assert.Equal(t, "c2", r.Players[0].ConnectionID)
}

func TestReconcileDuplicates_EarliestWinsFullTie(t *testing.T) {
	r := &Room{Players: []Player{
		{Name: "Alice", ConnectionID: "c1", Connected: true},
		{Name: "Alice", ConnectionID: "c2", Connected: true},
	}}
	r.ReconcileDuplicates()
	require.Len(t, r.Players, 1)
	assert.Equal(t, "c1", r.Players[0].ConnectionID)
}

// Property: reconciliation leaves unique names, never drops a name, and never
// lowers the Connected status of a name.
func TestPropertyReconcileDuplicates(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 12).Draw(t, "n")
		r := &Room{}
		connected := map[string]bool{}
		for i := 0; i < n; i++ {
			name := rapid.SampledFrom([]string{"a", "b", "c", "d"}).Draw(t, fmt.Sprintf("name%d", i))
			p := Player{
				Name:      name,
				Connected: rapid.Bool().Draw(t, fmt.Sprintf("conn%d", i)),
			}
			if rapid.Bool().Draw(t, fmt.Sprintf("hasID%d", i)) {
				p.ConnectionID = fmt.Sprintf("c%d", i)
			}
			connected[name] = connected[name] || p.Connected
			r.Players = append(r.Players, p)
		}
		r.ReconcileDuplicates()
		seen := map[string]bool{}
		for _, p := range r.Players {
			if seen[p.Name] {
				t.Fatalf("duplicate name %q after reconcile", p.Name)
			}
			seen[p.Name] = true
			if p.Connected != connected[p.Name] {
				t.Fatalf("connected status of %q changed: got %v", p.Name, p.Connected)
			}
		}
		if len(seen) != len(connected) {
			t.Fatalf("names lost: got %d want %d", len(seen), len(connected))
		}
	})
}

func TestMemoryStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.FindByCode(ctx, "1")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	r := New("1", "Alice", "c1", epoch)
	require.NoError(t, s.Create(ctx, r))
	assert.Equal(t, int64(1), r.Version)
	assert.ErrorIs(t, s.Create(ctx, New("1", "Bob", "c2", epoch)), ErrRoomExists)

	a, err := s.FindByCode(ctx, "1")
	require.NoError(t, err)
	b, err := s.FindByCode(ctx, "1")
	require.NoError(t, err)

	a.GameState = StateActive
	require.NoError(t, s.Save(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.GameState = StateEnded
	assert.ErrorIs(t, s.Save(ctx, b), ErrVersionConflict)

	assert.ErrorIs(t, s.Delete(ctx, "1", 1), ErrVersionConflict)
	require.NoError(t, s.Delete(ctx, "1", 2))
	assert.ErrorIs(t, s.Save(ctx, a), ErrRoomNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "1", 2), ErrRoomNotFound)
}

func TestMemoryStore_CodesSorted(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, code := range []string{"3", "1", "2"} {
		require.NoError(t, s.Create(ctx, New(code, "Alice", "c", epoch)))
	}
	codes, err := s.Codes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, codes)
	assert.NoError(t, s.Ping(ctx))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, New("1", "Alice", "c1", epoch)))
	r, err := s.FindByCode(ctx, "1")
	require.NoError(t, err)
	r.Players[0].Name = "Mallory"
	again, err := s.FindByCode(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", again.Players[0].Name)
}
