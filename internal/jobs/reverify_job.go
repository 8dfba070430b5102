package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"cashflow-suite/settings/internal/constants"
	"cashflow-suite/settings/internal/logging"
	"cashflow-suite/settings/internal/metrics"
	"cashflow-suite/settings/internal/models"
	"cashflow-suite/settings/internal/models/dtos"
	"cashflow-suite/settings/internal/services"
)

// ErrAlreadyRunning is returned by Run while a previous run is in progress.
var ErrAlreadyRunning = errors.New("re-verification already running")

// Verifier is the part of the settings gateway the job drives.
type Verifier interface {
	Verify(ctx context.Context, key services.ConfigKey, trigger constants.VerifyTrigger) (*dtos.VerifyResponse, error)
	ReportRuntimeFailure(ctx context.Context, key services.ConfigKey, message string) (*dtos.ConfigurationResponse, error)
}

// KeyLister finds configurations by state.
type KeyLister interface {
	ListKeysByState(ctx context.Context, state models.ConfigState) ([]services.ConfigKey, error)
}

// ReverifyReport summarizes one run.
type ReverifyReport struct {
	Checked int
	Passed  int
	Failed  int
	Skipped int
}

// ReverifyJob re-tests every active configuration and moves the ones that no
// longer pass to the error state.
type ReverifyJob struct {
	verifier Verifier
	keys     KeyLister
	metrics  *metrics.MetricsRegistry
	log      *zap.SugaredLogger
	running  atomic.Bool
}

func NewReverifyJob(verifier Verifier, keys KeyLister, m *metrics.MetricsRegistry) *ReverifyJob {
	return &ReverifyJob{
		verifier: verifier,
		keys:     keys,
		metrics:  m,
		log:      logging.ForComponent("reverify_job"),
	}
}

// Run executes one pass. Runs never overlap: a call made while another is in
// progress returns ErrAlreadyRunning.
func (j *ReverifyJob) Run(ctx context.Context) (ReverifyReport, error) {
	var report ReverifyReport
	if !j.running.CompareAndSwap(false, true) {
		return report, ErrAlreadyRunning
	}
	defer j.running.Store(false)

	start := time.Now()
	defer func() {
		if j.metrics != nil {
			j.metrics.ReverifyJobDuration.Observe(time.Since(start).Seconds())
		}
	}()

	keys, err := j.keys.ListKeysByState(ctx, models.ConfigStateActive)
	if err != nil {
		j.log.Errorw("Failed to list active configurations", "error", err)
		return report, fmt.Errorf("failed to list active configurations: %w", err)
	}

	j.log.Infow("Re-verification started", "configurations", len(keys))

	for _, key := range keys {
		if ctx.Err() != nil {
			j.log.Warnw("Re-verification interrupted", "remaining", len(keys)-report.Checked)
			return report, ctx.Err()
		}
		report.Checked++
		j.reverify(ctx, key, &report)
	}

	j.log.Infow("Re-verification finished",
		"checked", report.Checked,
		"passed", report.Passed,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"duration", time.Since(start).String(),
	)
	return report, nil
}

func (j *ReverifyJob) reverify(ctx context.Context, key services.ConfigKey, report *ReverifyReport) {
	resp, err := j.verifier.Verify(ctx, key, constants.VerifyTriggerScheduler)
	switch {
	case err == nil:
		report.Passed++
		return
	case errors.Is(err, services.ErrTestFailed):
	default:
		// Deleted or changed while the test ran; the next save or run handles it.
		report.Skipped++
		j.log.Warnw("Skipping configuration", "key", key.String(), "error", err)
		return
	}

	detail := ""
	if resp != nil {
		detail = resp.Result.Detail
	}
	message := "Scheduled re-verification failed"
	if detail != "" {
		message = fmt.Sprintf("%s: %s", message, detail)
	}

	if _, err := j.verifier.ReportRuntimeFailure(ctx, key, message); err != nil {
		report.Skipped++
		j.log.Errorw("Failed to mark configuration as failing", "key", key.String(), "error", err)
		return
	}
	report.Failed++
	j.log.Warnw("Active configuration failed re-verification", "key", key.String(), "detail", detail)
}

// Schedule registers the job on c under spec.
func (j *ReverifyJob) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		if _, err := j.Run(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			j.log.Errorw("Scheduled re-verification failed", "error", err)
		}
	})
}
