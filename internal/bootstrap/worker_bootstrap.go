package bootstrap

import (
	"context"

	"mailsync/config"
	"mailsync/pkg/logger"
)

// Engine is the process-lifecycle wrapper around the Sync Engine: it owns
// the dependency set and exposes Start/Stop so main can treat "run the
// engine" and "run the listener" identically from a signal-handling
// standpoint.
type Engine struct {
	deps *Dependencies
}

func NewEngine(cfg *config.Config) (*Engine, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}
	return &Engine{deps: deps}, cleanup, nil
}

// Start blocks until ctx is cancelled, running one tick per account per
// configured interval via the Sync Engine's own ticker.
func (e *Engine) Start(ctx context.Context) error {
	logger.Info("Sync Engine starting for %d account(s)", len(e.deps.Config.AccountIDs))
	if err := e.deps.Engine.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

// Stop asks the engine to exit its ticker loop and waits for any in-flight
// tick to finish, bounded by ctx's deadline.
func (e *Engine) Stop(ctx context.Context) error {
	return e.deps.Engine.Stop(ctx)
}

func (e *Engine) Dependencies() *Dependencies {
	return e.deps
}
