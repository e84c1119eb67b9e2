package worker

import (
	"context"
	"time"

	"taller/internal/domain"
	"taller/internal/logging"
	"taller/internal/models"

	"github.com/rs/zerolog"
)

// SyncSource is what AutoSync drives; the engine and the orchestrator both fit.
type SyncSource interface {
	SyncPendingChanges(ctx context.Context, handlers *Registry) models.SyncResult
	PendingCount(ctx context.Context) int
}

// AutoSync runs a pass when connectivity comes back, periodically while online and,
// after a pass with transient failures, again after the retry policy delay.
type AutoSync struct {
	source   SyncSource
	monitor  domain.ConnectivityMonitor
	handlers *Registry
	interval time.Duration
	retry    RetryPolicy
	trigger  chan struct{}
	logger   *zerolog.Logger
}

func NewAutoSync(source SyncSource, monitor domain.ConnectivityMonitor, handlers *Registry, interval time.Duration, retry RetryPolicy, logger *zerolog.Logger) *AutoSync {
	if interval <= 0 {
		interval = models.DefaultAutoSyncInterval * time.Second
	}
	l := logging.Component(logger, "autosync")
	return &AutoSync{
		source:   source,
		monitor:  monitor,
		handlers: handlers,
		interval: interval,
		retry:    retry,
		trigger:  make(chan struct{}, 1),
		logger:   l,
	}
}

// Trigger requests a pass as soon as possible. Requests coalesce.
func (a *AutoSync) Trigger() {
	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

// Start launches main loop; stops when ctx is done.
func (a *AutoSync) Start(ctx context.Context) {
	a.logger.Info().Dur("interval", a.interval).Msg("Auto sync started")
	defer a.logger.Info().Msg("Auto sync stopped")

	unsubscribe := a.monitor.OnOnlineChange(func(online bool) {
		if online {
			a.Trigger()
		}
	})
	defer unsubscribe()

	timer := time.NewTimer(0)
	defer timer.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.trigger:
		case <-timer.C:
		}

		next := a.runOnce(ctx, &failures)
		resetTimer(timer, next)
	}
}

// runOnce performs a pass when it makes sense and returns the delay until the next one.
func (a *AutoSync) runOnce(ctx context.Context, failures *int) time.Duration {
	if !a.monitor.IsOnline() {
		return a.interval
	}
	if a.source.PendingCount(ctx) == 0 {
		*failures = 0
		return a.interval
	}

	result := a.source.SyncPendingChanges(ctx, a.handlers)
	if len(result.ErrorsOfKind(models.ErrorKindTransient)) == 0 {
		*failures = 0
		return a.interval
	}

	*failures++
	if a.retry.Exhausted(*failures) {
		a.logger.Warn().Int("failures", *failures).Msg("Retry budget exhausted, waiting for the regular interval")
		return a.interval
	}
	delay := a.retry.NextDelay(*failures)
	a.logger.Info().Int("failures", *failures).Dur("delay", delay).Msg("Sync pass had transient failures, retrying")
	return delay
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
