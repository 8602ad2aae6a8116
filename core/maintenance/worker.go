package maintenance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"chapel-auth/core/store"
	"chapel-auth/core/utils"
	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "@every 10m"

type Config struct {
	Retention int
	Schedule  string
}

// Worker runs the periodic housekeeping that must stay off the request path:
// trimming the security event log to the newest Retention rows and dropping
// expired refresh token records.
type Worker struct {
	cfg     Config
	audit   store.AuditStore
	refresh store.RefreshStore
	logger  *utils.Logger
	now     func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool

	runs          atomic.Uint64
	failures      atomic.Uint64
	prunedEvents  atomic.Uint64
	purgedTokens  atomic.Uint64
	lastRunUnix   atomic.Int64
	lastRunMillis atomic.Int64
}

type Result struct {
	PrunedEvents int64
	PurgedTokens int64
}

type Stats struct {
	Running       bool
	Runs          uint64
	Failures      uint64
	PrunedEvents  uint64
	PurgedTokens  uint64
	LastRun       time.Time
	LastRunMillis int64
}

func NewWorker(cfg Config, audit store.AuditStore, refresh store.RefreshStore, logger *utils.Logger) *Worker {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Retention < 0 {
		cfg.Retention = 0
	}
	return &Worker{cfg: cfg, audit: audit, refresh: refresh, logger: logger, now: time.Now}
}

func (w *Worker) StartWithContext(ctx context.Context) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	cronLogger := cron.PrintfLogger(w.logger)
	c := cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	if _, err := c.AddFunc(w.cfg.Schedule, func() {
		if _, err := w.RunOnce(runCtx); err != nil {
			w.logger.Errorf("maintenance run: %v", err)
		}
	}); err != nil {
		cancel()
		w.logger.Errorf("maintenance schedule %q: %v", w.cfg.Schedule, err)
		return
	}
	c.Start()
	w.cron = c
	w.cancel = cancel
	w.running = true
	w.logger.Printf("maintenance worker started schedule=%q retention=%d", w.cfg.Schedule, w.cfg.Retention)
}

// StopWithContext stops scheduling and waits for a run in progress, bounded
// by ctx.
func (w *Worker) StopWithContext(ctx context.Context) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	c := w.cron
	cancel := w.cancel
	w.cron = nil
	w.cancel = nil
	w.running = false
	w.mu.Unlock()
	if c == nil {
		return nil
	}
	done := c.Stop()
	defer cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs one pass. Both steps run even if the first fails.
func (w *Worker) RunOnce(ctx context.Context) (Result, error) {
	started := w.now()
	var res Result
	var errs []error
	if w.audit != nil {
		n, err := w.audit.Prune(ctx, w.cfg.Retention)
		if err != nil {
			errs = append(errs, err)
		}
		res.PrunedEvents = n
	}
	if w.refresh != nil {
		n, err := w.refresh.PurgeExpired(ctx, started.UTC())
		if err != nil {
			errs = append(errs, err)
		}
		res.PurgedTokens = n
	}
	w.runs.Add(1)
	w.prunedEvents.Add(uint64(res.PrunedEvents))
	w.purgedTokens.Add(uint64(res.PurgedTokens))
	w.lastRunUnix.Store(started.Unix())
	w.lastRunMillis.Store(w.now().Sub(started).Milliseconds())
	err := errors.Join(errs...)
	if err != nil {
		w.failures.Add(1)
		return res, err
	}
	if res.PrunedEvents > 0 || res.PurgedTokens > 0 {
		w.logger.Printf("maintenance pruned events=%d purged refresh tokens=%d", res.PrunedEvents, res.PurgedTokens)
	}
	return res, nil
}

func (w *Worker) StatsSnapshot() Stats {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()
	st := Stats{
		Running:       running,
		Runs:          w.runs.Load(),
		Failures:      w.failures.Load(),
		PrunedEvents:  w.prunedEvents.Load(),
		PurgedTokens:  w.purgedTokens.Load(),
		LastRunMillis: w.lastRunMillis.Load(),
	}
	if ts := w.lastRunUnix.Load(); ts > 0 {
		st.LastRun = time.Unix(ts, 0).UTC()
	}
	return st
}
