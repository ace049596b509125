package main

import (
	"context"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadwatch/internal/model"
)

type passFunc func(ctx context.Context) (*model.RunResult, error)

// runner allows one discovery pass at a time. Triggers that arrive while a
// pass is in flight are dropped.
type runner struct {
	pass    passFunc
	running atomic.Bool
}

func newRunner(pass passFunc) *runner {
	return &runner{pass: pass}
}

// Running reports whether a pass is in flight.
func (r *runner) Running() bool { return r.running.Load() }

// TryRun runs a pass unless one is already running, in which case it
// returns started=false without waiting.
func (r *runner) TryRun(ctx context.Context) (res *model.RunResult, started bool, err error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, false, nil
	}
	defer r.running.Store(false)
	res, err = r.pass(ctx)
	return res, true, err
}

// Start runs a pass in the background under ctx. It returns false if a pass
// is already running.
func (r *runner) Start(ctx context.Context) bool {
	if !r.running.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer r.running.Store(false)
		if _, err := r.pass(ctx); err != nil {
			zap.L().Error("discovery pass failed", zap.Error(err))
		}
	}()
	return true
}

// newScheduler registers the runner on a cron spec such as "*/15 * * * *".
func newScheduler(ctx context.Context, spec string, r *runner) (*cron.Cron, error) {
	logger := cronLogger{}
	c := cron.New(cron.WithChain(cron.Recover(logger)))
	_, err := c.AddFunc(spec, func() {
		_, started, err := r.TryRun(ctx)
		switch {
		case !started:
			zap.L().Info("previous discovery pass still running, skipping tick")
		case err != nil:
			zap.L().Error("scheduled discovery pass failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, eris.Wrapf(err, "parse schedule %q", spec)
	}
	return c, nil
}

// cronLogger adapts the global zap logger to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	zap.L().Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	zap.L().Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
