package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"cashflow-suite/settings/internal/logging"
	"cashflow-suite/settings/internal/metrics"
)

// cronLogger routes robfig/cron logs to zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

// InitializeJobs builds the scheduler with every background job and starts
// it. An empty schedule disables re-verification. The caller stops the
// returned cron on shutdown.
func InitializeJobs(ctx context.Context, schedule string, verifier Verifier, keys KeyLister, m *metrics.MetricsRegistry) (*cron.Cron, *ReverifyJob, error) {
	logger := cronLogger{log: logging.ForComponent("scheduler")}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	job := NewReverifyJob(verifier, keys, m)
	if schedule != "" {
		if _, err := job.Schedule(ctx, c, schedule); err != nil {
			return nil, nil, fmt.Errorf("failed to schedule re-verification %q: %w", schedule, err)
		}
		logging.Info("Re-verification scheduled", "schedule", schedule)
	}

	c.Start()
	return c, job, nil
}
