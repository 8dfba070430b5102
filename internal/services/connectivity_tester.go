package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"cashflow-suite/settings/internal/config"
	"cashflow-suite/settings/internal/constants"
	"cashflow-suite/settings/internal/logging"
	"cashflow-suite/settings/internal/metrics"
	"cashflow-suite/settings/internal/models/dtos"
	"cashflow-suite/settings/internal/providers"
	"cashflow-suite/settings/internal/registry"
	"cashflow-suite/settings/internal/secrets"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeTimeout = "timeout"
)

// ConnectivityTester runs one bounded provider round trip against candidate
// values. It never persists anything and never returns an error: every
// failure becomes a TestResult with Success false.
type ConnectivityTester struct {
	registry *registry.Registry
	testers  *providers.TesterSet
	timeout  time.Duration
	metrics  *metrics.MetricsRegistry
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewConnectivityTester(reg *registry.Registry, testers *providers.TesterSet, timeout time.Duration, m *metrics.MetricsRegistry) *ConnectivityTester {
	return &ConnectivityTester{
		registry: reg,
		testers:  testers,
		timeout:  config.ClampTestTimeout(timeout),
		metrics:  m,
		log:      logging.ForComponent("connectivity_tester"),
		now:      time.Now,
	}
}

// Timeout is the bound applied to every test.
func (e *ConnectivityTester) Timeout() time.Duration {
	return e.timeout
}

type testOutcome struct {
	err error
}

// Test runs the provider's tester once. The call returns when the tester
// finishes, the timeout elapses or ctx is cancelled, whichever comes first; a
// tester still running after that is abandoned and its result discarded.
func (e *ConnectivityTester) Test(ctx context.Context, family registry.Family, providerID string, candidate map[string]string) dtos.TestResult {
	started := e.now()
	result := dtos.TestResult{TestedAt: started.UTC()}

	desc, err := e.registry.Get(family, providerID)
	if err != nil {
		result.Detail = constants.GetErrorMessage(constants.ErrCodeUnknownProvider)
		return result
	}

	if missing := missingRequired(desc, candidate); len(missing) > 0 {
		result.Detail = fmt.Sprintf("%s: %s", constants.GetErrorMessage(constants.ErrCodeMissingField), strings.Join(missing, ", "))
		return result
	}

	tester, ok := e.testers.Get(family, providerID)
	if !ok {
		result.Detail = constants.GetErrorMessage(constants.ErrCodeNoTester)
		return result
	}

	values := make(map[string]string, len(candidate))
	for k, v := range candidate {
		values[k] = v
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan testOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- testOutcome{err: &providers.ProviderError{
					Code:    constants.ErrCodeTesterPanicked,
					Message: constants.GetErrorMessage(constants.ErrCodeTesterPanicked),
					Details: fmt.Sprint(r),
				}}
			}
		}()
		done <- testOutcome{err: tester.Test(ctx, values)}
	}()

	outcome := outcomeFailure
	select {
	case o := <-done:
		if o.err == nil {
			result.Success = true
			result.Detail = "Connection successful"
			outcome = outcomeSuccess
		} else {
			result.Detail = describeFailure(o.err)
			if isTimeout(o.err) {
				outcome = outcomeTimeout
			}
		}
	case <-ctx.Done():
		outcome = outcomeTimeout
		result.Detail = constants.GetErrorMessage(constants.ErrCodeProviderTimeout)
		if errors.Is(ctx.Err(), context.Canceled) {
			result.Detail = "test cancelled"
		}
	}

	result.Detail = secrets.Scrub(result.Detail, secretValues(desc, values)...)
	elapsed := e.now().Sub(started)
	result.DurationMs = elapsed.Milliseconds()

	if e.metrics != nil {
		e.metrics.ConnectivityTestsTotal.WithLabelValues(string(family), providerID, outcome).Inc()
		e.metrics.ConnectivityTestDuration.WithLabelValues(string(family), providerID).Observe(elapsed.Seconds())
	}
	e.log.Infow("Connectivity test finished",
		"family", family,
		"provider_id", providerID,
		"outcome", outcome,
		"duration_ms", result.DurationMs,
	)
	return result
}

func describeFailure(err error) string {
	var pErr *providers.ProviderError
	if errors.As(err, &pErr) {
		return pErr.Error()
	}
	return err.Error()
}

func isTimeout(err error) bool {
	var pErr *providers.ProviderError
	if errors.As(err, &pErr) && pErr.Code == constants.ErrCodeProviderTimeout {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func secretValues(desc registry.ProviderDescriptor, values map[string]string) []string {
	var out []string
	for name, v := range values {
		if v != "" && desc.IsSecret(name) {
			out = append(out, v)
		}
	}
	return out
}
