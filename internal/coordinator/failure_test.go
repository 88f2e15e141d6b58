package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/voiceroom/internal/room"
	"github.com/cory-johannsen/voiceroom/internal/wire"
)

// newConflictHarness returns a harness whose store can be told to fail saves.
func newConflictHarness(t *testing.T) (*harness, *conflictStore) {
	t.Helper()
	cs := &conflictStore{Store: room.NewMemoryStore()}
	return newHarness(t, withStore(cs)), cs
}

func TestLeave_FailedSaveKeepsMembershipForRetry(t *testing.T) {
	h, cs := newConflictHarness(t)
	h.join("a", "123456", "Alice")
	h.join("b", "123456", "Bob")
	h.drainAll()

	cs.conflicts.Store(5)
	leave := envelope(t, wire.LeaveRoom, wire.PlayerRef{Code: "123456", Name: "Alice"})
	h.coord.Handle(h.ctx, "a", leave)

	env, ok := find(h.drain("a"), wire.Error)
	require.True(t, ok)
	var f wire.Failure
	require.NoError(t, env.Decode(&f))
	assert.Equal(t, KindConflict, f.Kind)
	m, ok := h.reg.Membership("a")
	require.True(t, ok)
	assert.Equal(t, "123456", m.Code)
	assert.True(t, h.room("123456").Player("Alice").Connected)

	h.coord.Handle(h.ctx, "a", leave)
	_, failed := find(h.drain("a"), wire.Error)
	assert.False(t, failed)
	_, ok = h.reg.Membership("a")
	assert.False(t, ok)

	r := h.room("123456")
	assert.False(t, r.Player("Alice").Connected)
	assert.Equal(t, "Bob", r.Creator().Name)
}

func TestJoin_FailedSwitchStaysInCurrentRoom(t *testing.T) {
	h, cs := newConflictHarness(t)
	h.join("a", "111111", "Alice")
	h.join("b", "111111", "Bob")

	cs.conflicts.Store(5)
	err := h.coord.Join(h.ctx, "a", "222222", "Alice")
	require.Error(t, err)
	assert.Equal(t, KindConflict, KindOf(err))
	m, ok := h.reg.Membership("a")
	require.True(t, ok)
	assert.Equal(t, "111111", m.Code)
	assert.True(t, h.roomGone("222222"))
	assert.True(t, h.room("111111").Player("Alice").Connected)

	h.join("a", "222222", "Alice")
	assert.False(t, h.room("111111").Player("Alice").Connected)
	assert.Equal(t, "Bob", h.room("111111").Creator().Name)
	assert.Equal(t, "Alice", h.room("222222").Creator().Name)
}

func TestDisconnect_FailedSaveIsRecoveredBySweep(t *testing.T) {
	h, cs := newConflictHarness(t)
	h.join("a", "123456", "Alice")
	h.join("b", "123456", "Bob")
	h.drainAll()

	cs.conflicts.Store(5)
	h.coord.Disconnect(h.ctx, "a")
	assert.False(t, h.reg.IsLive("a"))
	assert.True(t, h.room("123456").Player("Alice").Connected)
	assert.Equal(t, 0, h.sched.pending(testGrace))

	report, err := h.coord.Sweep(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Disconnected)
	_, gone := find(h.drain("b"), wire.CreatorGone)
	assert.True(t, gone)
	assert.Equal(t, 1, h.sched.pending(testGrace))

	h.sched.fire(testGrace)
	assert.Equal(t, "Bob", h.room("123456").Creator().Name)
}

func TestGraceExpiry_FailedSaveIsRearmedBySweep(t *testing.T) {
	h, cs := newConflictHarness(t)
	h.join("a", "123456", "Alice")
	h.join("b", "123456", "Bob")
	h.coord.Disconnect(h.ctx, "a")
	h.drainAll()

	cs.conflicts.Store(5)
	require.Equal(t, 1, h.sched.fire(testGrace))
	r := h.room("123456")
	assert.Nil(t, r.Creator())
	require.NotNil(t, r.AbsentCreator())
	assert.Equal(t, 0, h.coord.PendingGraceChecks())

	_, err := h.coord.Sweep(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.coord.PendingGraceChecks())
	_, err = h.coord.Sweep(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.sched.pending(testGrace))

	require.Equal(t, 1, h.sched.fire(testGrace))
	env, ok := find(h.drain("b"), wire.CreatorChanged)
	require.True(t, ok)
	var change wire.CreatorChange
	require.NoError(t, env.Decode(&change))
	assert.Equal(t, wire.CreatorChange{NewCreator: "Bob", Reason: wire.ReasonCreatorTimeout}, change)
	assert.Equal(t, "Bob", h.room("123456").Creator().Name)
}
