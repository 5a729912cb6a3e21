/*
scheduler.go - Background recurring-transaction processing

PURPOSE:
  Periodically materializes every due recurring occurrence across all
  books. The ledger Scheduler does the work; this file only owns the
  ticker, the goroutine and the bookkeeping of the last pass.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Processes once immediately on start (catches up after downtime)
  - Failed occurrences are logged for manual reconciliation and counted
    in bookkeeper_recurring_failures_total; the next tick retries them

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  runner := NewRecurringRunner(scheduler, metrics, logger)
  runner.Start()
  // ... later
  runner.Stop()

SEE ALSO:
  - handlers.go: ProcessRecurring endpoint (manual trigger)
  - ledger/recurring.go: ProcessAll
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/bookkeeper/ledger"
)

// RunStatus describes the most recent processing pass.
type RunStatus struct {
	At           time.Time `json:"at"`
	Materialized int       `json:"materialized"`
	Advanced     int       `json:"advanced"`
	Failed       int       `json:"failed"`
	Error        string    `json:"error,omitempty"`
}

// RecurringRunner drives ledger.Scheduler on a ticker.
type RecurringRunner struct {
	Scheduler     *ledger.Scheduler
	Metrics       *Metrics
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	statusMu sync.RWMutex
	last     *RunStatus
}

// NewRecurringRunner creates a runner.
func NewRecurringRunner(sc *ledger.Scheduler, m *Metrics, logger *zap.Logger) *RecurringRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecurringRunner{
		Scheduler:     sc,
		Metrics:       m,
		Logger:        logger.Named("recurring"),
		CheckInterval: time.Hour,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the runner.
func (rr *RecurringRunner) Start() {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if !rr.Enabled {
		rr.Logger.Info("disabled, not starting")
		return
	}
	if rr.ticker != nil {
		return
	}

	rr.ticker = time.NewTicker(rr.CheckInterval)
	rr.stop = make(chan struct{})
	rr.wg.Add(1)
	go rr.run()

	rr.Logger.Info("started", zap.Duration("interval", rr.CheckInterval))
}

// Stop stops the runner and waits for an in-flight pass.
func (rr *RecurringRunner) Stop() {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if rr.ticker != nil {
		rr.ticker.Stop()
		close(rr.stop)
		rr.wg.Wait()
		rr.ticker = nil
		rr.Logger.Info("stopped")
	}
}

func (rr *RecurringRunner) run() {
	defer rr.wg.Done()

	// Run immediately on start
	rr.RunNow(context.Background())

	for {
		select {
		case <-rr.ticker.C:
			rr.RunNow(context.Background())
		case <-rr.stop:
			return
		}
	}
}

// RunNow performs one pass over every book.
func (rr *RecurringRunner) RunNow(ctx context.Context) (ledger.ProcessResult, error) {
	now := rr.Now()
	result, err := rr.Scheduler.ProcessAll(ctx, now)

	status := RunStatus{
		At:           now.UTC(),
		Materialized: len(result.Materialized),
		Advanced:     result.Advanced,
		Failed:       result.Failed,
	}
	if err != nil {
		status.Error = err.Error()
		rr.Logger.Error("pass finished with failures", zap.Int("failed", result.Failed), zap.Error(err))
	}
	if rr.Metrics != nil {
		rr.Metrics.Materialized.Add(float64(len(result.Materialized)))
		rr.Metrics.Failed.Add(float64(result.Failed))
	}

	rr.statusMu.Lock()
	rr.last = &status
	rr.statusMu.Unlock()
	return result, err
}

// LastRun returns the status of the most recent pass, if any.
func (rr *RecurringRunner) LastRun() (RunStatus, bool) {
	rr.statusMu.RLock()
	defer rr.statusMu.RUnlock()
	if rr.last == nil {
		return RunStatus{}, false
	}
	return *rr.last, true
}

// NextRunTime returns when the next scheduled check will occur.
func (rr *RecurringRunner) NextRunTime() time.Time {
	rr.statusMu.RLock()
	defer rr.statusMu.RUnlock()
	if rr.last == nil {
		return rr.Now()
	}
	return rr.last.At.Add(rr.CheckInterval)
}
