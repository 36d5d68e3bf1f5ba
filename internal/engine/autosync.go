package engine

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/roach88/edgesync/internal/logging"
)

// StartAutoSync runs Sync every SyncInterval while the network allows
// it. Starting again replaces the running schedule.
func (e *Engine) StartAutoSync() {
	logger := logging.CronLogger(e.logger.Named("autosync"))
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(cron.Every(e.cfg.SyncInterval), cron.FuncJob(e.autoSync))

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	prev := e.cron
	e.cron = c
	c.Start()
	e.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	e.logger.Info("auto-sync started", zap.Duration("interval", e.cfg.SyncInterval))
}

// StopAutoSync stops the schedule and waits for a running tick.
func (e *Engine) StopAutoSync() {
	e.mu.Lock()
	c := e.cron
	e.cron = nil
	e.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	e.logger.Info("auto-sync stopped")
}

func (e *Engine) autoSync() {
	if !e.canSync() {
		e.logger.Debug("auto-sync tick skipped, network unavailable")
		return
	}
	e.Sync(e.bgCtx)
}
