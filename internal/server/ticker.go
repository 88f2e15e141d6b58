package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobFunc is one run of a periodic job. ctx is cancelled when the Ticker stops.
type JobFunc func(ctx context.Context)

type job struct {
	name     string
	interval time.Duration
	fn       JobFunc
}

// Ticker runs named jobs, each on its own interval and in its own goroutine.
// A job never overlaps itself: a run that outlasts its interval delays the next.
//
// Ticker implements Service.
type Ticker struct {
	logger  *zap.Logger
	mu      sync.Mutex
	jobs    []job
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTicker returns an empty Ticker.
//
// Precondition: logger must be non-nil.
func NewTicker(logger *zap.Logger) *Ticker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Ticker{logger: logger, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// Every registers fn to run once per interval after Start.
//
// Precondition: interval must be > 0; must be called before Start.
func (t *Ticker) Every(name string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be > 0", name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs = append(t.jobs, job{name: name, interval: interval, fn: fn})
	return nil
}

// Start launches every job and blocks until Stop is called.
//
// Postcondition: Returns an error if the Ticker was already started.
func (t *Ticker) Start() error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return fmt.Errorf("ticker already started")
	}
	t.started = true
	jobs := append([]job(nil), t.jobs...)
	t.mu.Unlock()
	defer close(t.done)

	var wg sync.WaitGroup
	for _, j := range jobs {
		j := j
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.loop(t.ctx, j)
		}()
	}
	<-t.ctx.Done()
	wg.Wait()
	return nil
}

// Stop cancels every job and waits for in-flight runs to return.
func (t *Ticker) Stop() {
	t.cancel()
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if started {
		<-t.done
	}
}

func (t *Ticker) loop(ctx context.Context, j job) {
	tick := time.NewTicker(j.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			start := time.Now()
			j.fn(ctx)
			t.logger.Debug("job ran",
				zap.String("job", j.name),
				zap.Duration("elapsed", time.Since(start)),
			)
		}
	}
}
