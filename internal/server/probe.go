package server

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// Probe caches the outcome of a reachability check so request paths can ask
// Ready without blocking on the dependency.
type Probe struct {
	name   string
	check  CheckFunc
	logger *zap.Logger
	ready  atomic.Bool
}

// NewProbe creates a Probe that reports not-ready until its first successful Refresh.
//
// Precondition: check and logger must be non-nil.
func NewProbe(name string, check CheckFunc, logger *zap.Logger) *Probe {
	return &Probe{name: name, check: check, logger: logger}
}

// Refresh runs the check and records the result. Transitions are logged.
// Its signature matches CheckFunc so it can double as a preflight check.
func (p *Probe) Refresh(ctx context.Context) error {
	err := p.check(ctx)
	ok := err == nil
	if was := p.ready.Swap(ok); was != ok {
		if ok {
			p.logger.Info("dependency reachable", zap.String("probe", p.name))
		} else {
			p.logger.Warn("dependency unreachable", zap.String("probe", p.name), zap.Error(err))
		}
	}
	return err
}

// Ready reports the result of the latest Refresh.
func (p *Probe) Ready() bool {
	return p.ready.Load()
}
