package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/stemsi/classroom-exam/internal/logger"
)

// Reconciler ends classrooms whose time is up.
type Reconciler interface {
	ReconcileExpired(ctx context.Context) (int, error)
}

// ReconcileWorker runs the reconciliation pass on a cron schedule so that
// expired classrooms are ended and scored even when nobody ends them.
type ReconcileWorker struct {
	svc      Reconciler
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
}

// NewReconcileWorker creates a new ReconcileWorker. Intervals below one
// second are rounded up by the scheduler.
func NewReconcileWorker(svc Reconciler, interval time.Duration, log zerolog.Logger) *ReconcileWorker {
	timeout := 4 * interval
	if timeout < 10*time.Second {
		timeout = 10 * time.Second
	}
	return &ReconcileWorker{
		svc:      svc,
		interval: interval,
		timeout:  timeout,
		log:      logger.Component(log, "reconcile_worker"),
	}
}

// Start schedules the pass and blocks until ctx is cancelled. A running pass
// is waited for before Start returns.
func (w *ReconcileWorker) Start(ctx context.Context) error {
	cl := cronLogger{log: w.log}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	_, err := c.AddFunc(fmt.Sprintf("@every %s", w.interval), func() {
		runCtx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		w.RunOnce(runCtx)
	})
	if err != nil {
		return fmt.Errorf("schedule reconcile: %w", err)
	}

	w.log.Info().Dur("interval", w.interval).Msg("Worker started")
	c.Start()

	<-ctx.Done()
	w.log.Info().Msg("Worker stopping...")
	<-c.Stop().Done()
	w.log.Info().Msg("Worker stopped")
	return nil
}

// RunOnce performs a single pass and returns how many classrooms it ended.
func (w *ReconcileWorker) RunOnce(ctx context.Context) int {
	ended, err := w.svc.ReconcileExpired(ctx)
	if err != nil {
		w.log.Error().Err(err).Int("ended", ended).Msg("Reconcile pass failed")
	}
	if ended > 0 {
		w.log.Info().Int("ended", ended).Msg("Ended expired classrooms")
	}
	return ended
}

// cronLogger routes scheduler messages to zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
