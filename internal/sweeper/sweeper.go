// Package sweeper runs the background loop that advances active dungeon sessions.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ashureev/crawl/internal/domain"
	"github.com/ashureev/crawl/internal/dungeon"
	"github.com/ashureev/crawl/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Defaults used when Config fields are zero.
const (
	DefaultInterval    = 30 * time.Second
	DefaultConcurrency = 8
)

// Lister returns sessions by status.
type Lister interface {
	ListSessions(ctx context.Context, filter store.SessionFilter) ([]*domain.Session, error)
}

// Ticker advances one session.
type Ticker interface {
	Tick(ctx context.Context, sessionID string) (dungeon.TickResult, error)
}

// AdvanceCallback is called for each session a sweep changed.
type AdvanceCallback func(ownerID string, result dungeon.TickResult)

// Config controls sweep cadence and fan-out.
type Config struct {
	Interval    time.Duration
	Concurrency int
}

// Report summarizes one sweep.
type Report struct {
	Listed   int
	Advanced int
	Idle     int
	Skipped  int
	Failed   int
}

// Worker periodically ticks every ACTIVE session.
type Worker struct {
	lister    Lister
	ticker    Ticker
	cfg       Config
	onAdvance AdvanceCallback
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewWorker creates a sweeper. onAdvance may be nil.
func NewWorker(lister Lister, ticker Ticker, cfg Config, onAdvance AdvanceCallback, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Worker{
		lister:    lister,
		ticker:    ticker,
		cfg:       cfg,
		onAdvance: onAdvance,
		logger:    logger,
		tracer:    otel.Tracer("github.com/ashureev/crawl/internal/sweeper"),
	}
}

// Start runs sweeps on a fixed cadence until ctx is cancelled. Each sweep
// runs in its own goroutine so a slow session cannot delay the next pass;
// sessions still held by the previous pass are skipped.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	go func() {
		defer ticker.Stop()
		w.logger.Info("Dungeon sweeper started", "interval", w.cfg.Interval, "concurrency", w.cfg.Concurrency)

		for {
			select {
			case <-ticker.C:
				go w.Sweep(ctx)
			case <-ctx.Done():
				w.logger.Info("Dungeon sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep ticks every ACTIVE session once. A failure on one session is logged
// and counted; it never stops the others.
func (w *Worker) Sweep(ctx context.Context) Report {
	ctx, span := w.tracer.Start(ctx, "sweeper.Sweep")
	defer span.End()

	sessions, err := w.lister.ListSessions(ctx, store.SessionFilter{
		Statuses: []domain.Status{domain.StatusActive},
	})
	if err != nil {
		w.logger.Error("Sweeper failed to list active sessions", "error", err)
		span.RecordError(err)
		return Report{}
	}

	report := Report{Listed: len(sessions)}
	if len(sessions) == 0 {
		return report
	}

	var advanced, idle, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)

	for _, s := range sessions {
		g.Go(func() error {
			res, err := w.ticker.Tick(gctx, s.ID)
			switch {
			case err == nil && res.Changed:
				advanced.Add(1)
				if w.onAdvance != nil {
					w.onAdvance(s.OwnerID, res)
				}
			case err == nil:
				idle.Add(1)
			case errors.Is(err, dungeon.ErrSessionBusy),
				errors.Is(err, dungeon.ErrNotActive),
				errors.Is(err, dungeon.ErrStaleSession):
				skipped.Add(1)
				w.logger.Debug("Sweeper skipped session", "session_id", s.ID, "reason", err)
			default:
				failed.Add(1)
				w.logger.Error("Sweeper failed to advance session",
					"error", err,
					"session_id", s.ID,
					"owner_id", s.OwnerID)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Advanced = int(advanced.Load())
	report.Idle = int(idle.Load())
	report.Skipped = int(skipped.Load())
	report.Failed = int(failed.Load())

	span.SetAttributes(
		attribute.Int("sweep.listed", report.Listed),
		attribute.Int("sweep.advanced", report.Advanced),
		attribute.Int("sweep.skipped", report.Skipped),
		attribute.Int("sweep.failed", report.Failed),
	)
	if report.Advanced > 0 || report.Failed > 0 {
		w.logger.Info("Sweep completed",
			"listed", report.Listed,
			"advanced", report.Advanced,
			"skipped", report.Skipped,
			"failed", report.Failed)
	}
	return report
}
