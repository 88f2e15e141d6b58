// Package coordinator owns room membership: joins, departures, creator
// failover, the stale-connection sweep, and game start. All room mutations go
// through an optimistic compare-and-swap on the stored room version with
// bounded retry; no lock is held across a room's lifetime.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/voiceroom/internal/config"
	"github.com/cory-johannsen/voiceroom/internal/content"
	"github.com/cory-johannsen/voiceroom/internal/notifier"
	"github.com/cory-johannsen/voiceroom/internal/registry"
	"github.com/cory-johannsen/voiceroom/internal/retry"
	"github.com/cory-johannsen/voiceroom/internal/room"
	"github.com/cory-johannsen/voiceroom/internal/signaling"
)

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Store     room.Store
	Registry  *registry.Registry
	Notifier  *notifier.Notifier
	Relay     *signaling.Relay
	Phrases   content.Provider
	Random    content.Source
	Scheduler Scheduler
	Retry     retry.Policy
	Session   config.SessionConfig
	Logger    *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// graceCheck is a locally pending creator grace timer.
type graceCheck struct {
	name string
	seq  uint64
	task Task
}

// Coordinator serializes room mutations through the store and fans out the results.
type Coordinator struct {
	store   room.Store
	reg     *registry.Registry
	notify  *notifier.Notifier
	relay   *signaling.Relay
	phrases content.Provider
	random  content.Source
	sched   Scheduler
	retry   retry.Policy
	session config.SessionConfig
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	grace  map[string]graceCheck // room code → pending grace check
	seq    uint64
	closed bool
}

// PolicyFromConfig builds the save retry policy from session settings.
func PolicyFromConfig(cfg config.SessionConfig) retry.Policy {
	return retry.Policy{
		Attempts:  cfg.SaveAttempts,
		BaseDelay: cfg.SaveBackoff,
		MaxDelay:  cfg.SaveBackoffMax,
	}
}

// New creates a Coordinator.
//
// Precondition: every Deps field except Now must be set.
// Postcondition: Returns an error naming the first missing dependency.
func New(d Deps) (*Coordinator, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("coordinator: store is required")
	case d.Registry == nil:
		return nil, errors.New("coordinator: registry is required")
	case d.Notifier == nil:
		return nil, errors.New("coordinator: notifier is required")
	case d.Relay == nil:
		return nil, errors.New("coordinator: relay is required")
	case d.Phrases == nil:
		return nil, errors.New("coordinator: phrase provider is required")
	case d.Random == nil:
		return nil, errors.New("coordinator: random source is required")
	case d.Scheduler == nil:
		return nil, errors.New("coordinator: scheduler is required")
	case d.Logger == nil:
		return nil, errors.New("coordinator: logger is required")
	case d.Retry.Attempts < 1:
		return nil, fmt.Errorf("coordinator: retry attempts must be >= 1, got %d", d.Retry.Attempts)
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	c := &Coordinator{
		store:   d.Store,
		reg:     d.Registry,
		notify:  d.Notifier,
		relay:   d.Relay,
		phrases: d.Phrases,
		random:  d.Random,
		sched:   d.Scheduler,
		retry:   d.Retry,
		session: d.Session,
		logger:  d.Logger,
		now:     now,
		grace:   make(map[string]graceCheck),
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = func(attempt int, err error, wait time.Duration) {
			c.logger.Debug("retrying room save",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}
	}
	return c, nil
}

// action is what a mutation asks mutate to do with the room it was handed.
type action int

const (
	actSkip action = iota
	actSave
	actDestroy
)

// event is an outbound message emitted only after the mutation commits.
type event struct {
	name    string
	payload interface{}
}

// plan is the result of one mutation attempt.
type plan struct {
	act    action
	events []event
	// grace names a creator whose grace check must be scheduled after commit.
	grace string
	// cancelGrace drops the locally pending grace check after commit.
	cancelGrace bool
}

func (p *plan) emit(name string, payload interface{}) {
	p.events = append(p.events, event{name: name, payload: payload})
}

// mutation edits a freshly read room in place. It is re-run from a fresh read
// on every version conflict, so it must not have side effects outside r.
type mutation func(r *room.Room) (plan, error)

// mutate reads code, applies fn, and persists the outcome with bounded retry.
//
// Postcondition: on success returns the committed room and the plan that
// produced it; errors from fn are returned unwrapped; ErrRoomNotFound when the
// room is absent; an error wrapping retry.ErrExhausted after repeated conflicts.
func (c *Coordinator) mutate(ctx context.Context, code string, fn mutation) (*room.Room, plan, error) {
	var (
		committed *room.Room
		result    plan
	)
	err := c.retry.Do(ctx, func(attempt int) error {
		r, err := c.store.FindByCode(ctx, code)
		if err != nil {
			return retry.Permanent(err)
		}
		p, err := fn(r)
		if err != nil {
			return retry.Permanent(err)
		}
		switch p.act {
		case actSave:
			r.ReconcileDuplicates()
			r.NormalizeCreator()
			if err := c.store.Save(ctx, r); err != nil {
				return storeError(err)
			}
		case actDestroy:
			if err := c.store.Delete(ctx, code, r.Version); err != nil {
				return storeError(err)
			}
		}
		committed, result = r, p
		return nil
	})
	if err != nil {
		return nil, plan{}, err
	}
	return committed, result, nil
}

// storeError keeps version conflicts retryable and makes everything else permanent.
func storeError(err error) error {
	if errors.Is(err, room.ErrVersionConflict) {
		return err
	}
	return retry.Permanent(err)
}

// publish emits a committed plan's events, then the roster when the room survived.
func (c *Coordinator) publish(r *room.Room, p plan) {
	if p.cancelGrace {
		c.cancelGrace(r.Code)
	}
	for _, ev := range p.events {
		c.notify.Broadcast(r.Code, ev.name, ev.payload)
	}
	switch p.act {
	case actSave:
		c.notify.BroadcastRoster(r)
	case actDestroy:
		c.cancelGrace(r.Code)
		c.logger.Info("room destroyed", zap.String("room", r.Code))
	}
	if p.grace != "" {
		c.scheduleGrace(r.Code, p.grace)
	}
}

// opContext bounds a coordinator-initiated operation that has no caller context.
func (c *Coordinator) opContext() (context.Context, context.CancelFunc) {
	timeout := c.session.OperationTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

// scheduleGrace arms the creator grace check for code, replacing any pending one.
func (c *Coordinator) scheduleGrace(code, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if prev, ok := c.grace[code]; ok {
		prev.task.Stop()
	}
	c.seq++
	seq := c.seq
	task := c.sched.AfterFunc(c.session.CreatorGracePeriod, func() {
		c.graceExpired(code, name, seq)
	})
	c.grace[code] = graceCheck{name: name, seq: seq, task: task}
	c.logger.Debug("creator grace check scheduled",
		zap.String("room", code),
		zap.String("name", name),
		zap.Duration("grace", c.session.CreatorGracePeriod),
	)
}

func (c *Coordinator) cancelGrace(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.grace[code]; ok {
		g.task.Stop()
		delete(c.grace, code)
	}
}

// gracePending reports whether this process holds a grace check for code.
func (c *Coordinator) gracePending(code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.grace[code]
	return ok
}

// PendingGraceChecks returns the number of locally armed grace checks.
func (c *Coordinator) PendingGraceChecks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.grace)
}

// scheduleMeshRefresh broadcasts a mesh-refresh advisory after the configured delay.
func (c *Coordinator) scheduleMeshRefresh(code, name string, isCreator bool) {
	delay := c.session.MeshRefreshDelay
	if isCreator {
		delay = c.session.CreatorMeshRefreshDelay
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.sched.AfterFunc(delay, func() {
		c.relay.MeshRefresh(code, name, isCreator)
	})
}

// Close stops every pending grace check. Later drops schedule nothing.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for code, g := range c.grace {
		g.task.Stop()
		delete(c.grace, code)
	}
}
