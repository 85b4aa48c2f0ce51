/*
scheduler.go - Periodic bulk recalculation

PURPOSE:
  Catalog edits (new price quotations, revised GRD cutoffs) change the
  derived amounts of episodes that nobody is looking at. The scheduler
  periodically recalculates every episode so stored values, reports and
  exports stay current without waiting for a read.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Each run calls grd.Service.RecalculateAll with a bounded worker pool
  - Episodes whose derived fields did not move are not written
  - A version conflict with a concurrent edit is counted and skipped;
    the next run (or the next read) picks it up
  - Stop cancels an in-flight run

CONFIGURATION:
  - Interval: How often to run (default: 1 hour)
  - Workers:  Parallel recalculations per run (default: 4)
  - Enabled:  Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewRecalculationScheduler(svc, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Recalculate endpoint (manual run) and status
  - grd/service.go: RecalculateAll
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/grd-engine/grd"
)

// RecalculationScheduler refreshes every episode on a fixed interval.
type RecalculationScheduler struct {
	Service  *grd.Service
	Log      zerolog.Logger
	Interval time.Duration
	Workers  int
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex

	statsMu sync.Mutex
	last    grd.RecalcSummary
	lastRun time.Time
}

// NewRecalculationScheduler creates a new scheduler.
func NewRecalculationScheduler(svc *grd.Service, log zerolog.Logger) *RecalculationScheduler {
	return &RecalculationScheduler{
		Service:  svc,
		Log:      log.With().Str("component", "scheduler").Logger(),
		Interval: time.Hour,
		Workers:  4,
		Enabled:  true,
	}
}

// Start begins the scheduler. The first run happens immediately.
func (rs *RecalculationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Log.Info().Msg("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs.cancel = cancel
	rs.stop = make(chan struct{})
	rs.ticker = time.NewTicker(rs.Interval)
	rs.wg.Add(1)

	go rs.run(ctx)

	rs.Log.Info().Dur("interval", rs.Interval).Int("workers", rs.Workers).Msg("started")
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (rs *RecalculationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	rs.cancel()
	close(rs.stop)
	rs.wg.Wait()
	rs.ticker = nil
	rs.Log.Info().Msg("stopped")
}

func (rs *RecalculationScheduler) run(ctx context.Context) {
	defer rs.wg.Done()

	rs.recalculate(ctx)

	for {
		select {
		case <-rs.ticker.C:
			rs.recalculate(ctx)
		case <-rs.stop:
			return
		}
	}
}

func (rs *RecalculationScheduler) recalculate(ctx context.Context) (grd.RecalcSummary, error) {
	started := time.Now()
	summary, err := rs.Service.RecalculateAll(ctx, rs.Workers)
	if err != nil {
		rs.Log.Error().Err(err).Msg("recalculation run aborted")
	}

	rs.statsMu.Lock()
	rs.last, rs.lastRun = summary, started
	rs.statsMu.Unlock()

	if summary.Updated > 0 || summary.Conflicts > 0 || summary.Failed > 0 {
		rs.Log.Info().
			Int("updated", summary.Updated).
			Int("conflicts", summary.Conflicts).
			Int("failed", summary.Failed).
			Dur("took", time.Since(started)).
			Msg("recalculation run completed")
	}
	return summary, err
}

// RunNow triggers an immediate run (admin endpoint).
func (rs *RecalculationScheduler) RunNow(ctx context.Context) (grd.RecalcSummary, error) {
	return rs.recalculate(ctx)
}

// LastRun returns the summary and start time of the most recent run.
func (rs *RecalculationScheduler) LastRun() (grd.RecalcSummary, time.Time) {
	rs.statsMu.Lock()
	defer rs.statsMu.Unlock()
	return rs.last, rs.lastRun
}

// GetNextRunTime returns when the next scheduled run will occur.
func (rs *RecalculationScheduler) GetNextRunTime() time.Time {
	_, last := rs.LastRun()
	if last.IsZero() {
		return time.Now()
	}
	return last.Add(rs.Interval)
}
