package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/voiceroom/internal/config"
	"github.com/cory-johannsen/voiceroom/internal/content"
	"github.com/cory-johannsen/voiceroom/internal/notifier"
	"github.com/cory-johannsen/voiceroom/internal/registry"
	"github.com/cory-johannsen/voiceroom/internal/retry"
	"github.com/cory-johannsen/voiceroom/internal/room"
	"github.com/cory-johannsen/voiceroom/internal/signaling"
	"github.com/cory-johannsen/voiceroom/internal/wire"
)

const (
	testGrace       = 30 * time.Second
	testMesh        = 500 * time.Millisecond
	testCreatorMesh = 1500 * time.Millisecond
)

// manualScheduler runs deferred calls only when a test fires them.
type manualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTask
}

type manualTask struct {
	mu      sync.Mutex
	d       time.Duration
	fn      func()
	done    bool
	stopped bool
}

func (t *manualTask) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return false
	}
	t.done, t.stopped = true, true
	return true
}

func (s *manualScheduler) AfterFunc(d time.Duration, fn func()) Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := &manualTask{d: d, fn: fn}
	s.tasks = append(s.tasks, task)
	return task
}

// fire runs every pending task scheduled with delay d and returns how many ran.
func (s *manualScheduler) fire(d time.Duration) int {
	s.mu.Lock()
	var due []*manualTask
	for _, task := range s.tasks {
		if task.d == d {
			due = append(due, task)
		}
	}
	s.mu.Unlock()

	ran := 0
	for _, task := range due {
		task.mu.Lock()
		if task.done {
			task.mu.Unlock()
			continue
		}
		task.done = true
		task.mu.Unlock()
		task.fn()
		ran++
	}
	return ran
}

// pending counts tasks with delay d that have neither run nor been stopped.
func (s *manualScheduler) pending(d time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, task := range s.tasks {
		task.mu.Lock()
		if task.d == d && !task.done {
			n++
		}
		task.mu.Unlock()
	}
	return n
}

// instantTimer satisfies retry.Timer without waiting.
type instantTimer struct{ c chan time.Time }

func (t *instantTimer) Start(time.Duration)  { t.c <- time.Time{} }
func (t *instantTimer) Stop()                {}
func (t *instantTimer) C() <-chan time.Time { return t.c }

type fixedSource int

func (f fixedSource) Intn(n int) int { return int(f) % n }

// conflictStore fails the next n saves with a version conflict.
type conflictStore struct {
	room.Store
	conflicts atomic.Int32
}

func (s *conflictStore) Save(ctx context.Context, r *room.Room) error {
	if s.conflicts.Add(-1) >= 0 {
		return room.ErrVersionConflict
	}
	return s.Store.Save(ctx, r)
}

// raceStore runs beforeCreate once, just before delegating the first Create.
type raceStore struct {
	room.Store
	once         sync.Once
	beforeCreate func()
}

func (s *raceStore) Create(ctx context.Context, r *room.Room) error {
	s.once.Do(s.beforeCreate)
	return s.Store.Create(ctx, r)
}

var testPair = content.Pair{Common: "I love the beach", Partner: "I love the mountains"}

type harness struct {
	t      *testing.T
	ctx    context.Context
	store  room.Store
	reg    *registry.Registry
	sched  *manualScheduler
	coord  *Coordinator
	clock  time.Time
	boxes  map[string]*registry.Outbox
	logger *zap.Logger
}

type harnessOption func(*Deps)

func withStore(s room.Store) harnessOption {
	return func(d *Deps) { d.Store = s }
}

func withRandom(src content.Source) harnessOption {
	return func(d *Deps) { d.Random = src }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := registry.New(64)
	notify := notifier.New(reg, logger)
	lib, err := content.NewLibrary([]content.Pair{testPair}, fixedSource(0))
	require.NoError(t, err)

	h := &harness{
		t:      t,
		ctx:    context.Background(),
		reg:    reg,
		sched:  &manualScheduler{},
		clock:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		boxes:  make(map[string]*registry.Outbox),
		logger: logger,
	}
	deps := Deps{
		Store:     room.NewMemoryStore(),
		Registry:  reg,
		Notifier:  notify,
		Relay:     signaling.New(reg, notify),
		Phrases:   lib,
		Random:    fixedSource(0),
		Scheduler: h.sched,
		Retry: retry.Policy{
			Attempts:  5,
			BaseDelay: time.Millisecond,
			MaxDelay:  10 * time.Millisecond,
			NewTimer:  func() retry.Timer { return &instantTimer{c: make(chan time.Time, 1)} },
		},
		Session: config.SessionConfig{
			CreatorGracePeriod:      testGrace,
			SweepInterval:           15 * time.Second,
			SaveAttempts:            5,
			SaveBackoff:             time.Millisecond,
			SaveBackoffMax:          10 * time.Millisecond,
			MeshRefreshDelay:        testMesh,
			CreatorMeshRefreshDelay: testCreatorMesh,
			OperationTimeout:        5 * time.Second,
		},
		Logger: logger,
		Now:    func() time.Time { return h.clock },
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.store = deps.Store
	coord, err := New(deps)
	require.NoError(t, err)
	h.coord = coord
	return h
}

func (h *harness) connect(id string) {
	h.t.Helper()
	o, err := h.reg.Register(id)
	require.NoError(h.t, err)
	h.boxes[id] = o
}

func (h *harness) join(id, code, name string) {
	h.t.Helper()
	if _, ok := h.boxes[id]; !ok {
		h.connect(id)
	}
	require.NoError(h.t, h.coord.Join(h.ctx, id, code, name))
}

func (h *harness) room(code string) *room.Room {
	h.t.Helper()
	r, err := h.store.FindByCode(h.ctx, code)
	require.NoError(h.t, err)
	return r
}

func (h *harness) roomGone(code string) bool {
	_, err := h.store.FindByCode(h.ctx, code)
	return err != nil
}

// drain returns and discards every frame queued for id.
func (h *harness) drain(id string) []wire.Envelope {
	h.t.Helper()
	var out []wire.Envelope
	for {
		select {
		case frame, ok := <-h.boxes[id].Frames():
			if !ok {
				return out
			}
			var env wire.Envelope
			require.NoError(h.t, json.Unmarshal(frame, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func (h *harness) drainAll() {
	for id := range h.boxes {
		h.drain(id)
	}
}

// find returns the first envelope of type event in envs.
func find(envs []wire.Envelope, event string) (wire.Envelope, bool) {
	for _, e := range envs {
		if e.Type == event {
			return e, true
		}
	}
	return wire.Envelope{}, false
}

func types(envs []wire.Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Type)
	}
	return out
}

func envelope(t *testing.T, event string, payload interface{}) wire.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return wire.Envelope{Type: event, Payload: raw}
}
