package recovery

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
	"github.com/ahrav/clipforge/pkg/common"
	"github.com/ahrav/clipforge/pkg/common/logger"
)

type timeProvider interface {
	Now() time.Time
}

// realTimeProvider is a real implementation of the timeProvider interface.
type realTimeProvider struct{}

// Now returns the current time.
func (realTimeProvider) Now() time.Time { return time.Now().UTC() }

const (
	defaultScanInterval    = 2 * time.Minute
	defaultOrphanThreshold = 5 * time.Minute
	defaultRecoveryWorkers = 4
)

// OrphanScanner periodically sweeps the job registry for jobs whose
// progress has stalled and hands each to the recovery coordinator. Runs are
// strictly non-overlapping: a tick that fires while a sweep is still
// executing is skipped, not queued.
type OrphanScanner struct {
	registry  pipeline.JobRegistry
	recoverer Recoverer

	// scanInterval controls how often a sweep starts.
	scanInterval time.Duration
	// orphanThreshold is how long a job may go without progress before it
	// counts as orphaned.
	orphanThreshold time.Duration
	// workers bounds per-sweep recovery parallelism.
	workers int

	// inFlight guards against overlapping sweeps.
	inFlight atomic.Bool

	// limiter caps the resubmission rate so a large backlog of orphans does
	// not flood the executor fleet.
	limiter *common.RateLimiter

	// cancel allows graceful shutdown of the background loop.
	cancel context.CancelCauseFunc

	timeProvider timeProvider

	metrics Metrics
	tracer  trace.Tracer
	logger  *logger.Logger
}

// ScannerOption configures an OrphanScanner.
type ScannerOption func(*OrphanScanner)

// WithScanInterval overrides how often sweeps run.
func WithScanInterval(d time.Duration) ScannerOption {
	return func(s *OrphanScanner) { s.scanInterval = d }
}

// WithOrphanThreshold overrides the staleness threshold.
func WithOrphanThreshold(d time.Duration) ScannerOption {
	return func(s *OrphanScanner) { s.orphanThreshold = d }
}

// WithRecoveryWorkers overrides the per-sweep parallelism bound.
func WithRecoveryWorkers(n int) ScannerOption {
	return func(s *OrphanScanner) { s.workers = n }
}

// NewOrphanScanner creates a scanner with the defaults: 2 minute interval,
// 5 minute staleness threshold, 4 recovery workers.
func NewOrphanScanner(
	registry pipeline.JobRegistry,
	recoverer Recoverer,
	limiter *common.RateLimiter,
	metrics Metrics,
	tracer trace.Tracer,
	logger *logger.Logger,
	opts ...ScannerOption,
) *OrphanScanner {
	logger = logger.With("component", "orphan_scanner")
	s := &OrphanScanner{
		registry:        registry,
		recoverer:       recoverer,
		scanInterval:    defaultScanInterval,
		orphanThreshold: defaultOrphanThreshold,
		workers:         defaultRecoveryWorkers,
		limiter:         limiter,
		timeProvider:    realTimeProvider{},
		metrics:         metrics,
		tracer:          tracer,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background sweep loop. When the context is canceled
// the loop exits.
func (s *OrphanScanner) Start(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "orphan_scanner.start",
		trace.WithAttributes(
			attribute.String("scan_interval", s.scanInterval.String()),
			attribute.String("orphan_threshold", s.orphanThreshold.String()),
		),
	)
	defer span.End()

	ctx, s.cancel = context.WithCancelCause(ctx)
	s.logger.Info(ctx, "Orphan scanner started",
		"scan_interval", s.scanInterval,
		"orphan_threshold", s.orphanThreshold,
		"workers", s.workers,
	)
	span.AddEvent("scan_loop_started")

	go func() {
		ticker := time.NewTicker(s.scanInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.ScanOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop signals the background loop to terminate.
func (s *OrphanScanner) Stop() {
	if s.cancel != nil {
		s.cancel(errors.New("orphan scanner stopped"))
	}
	s.logger.Info(context.Background(), "Orphan scanner stopped")
}

// ScanOnce performs a single sweep. It returns immediately when a previous
// sweep is still executing.
func (s *OrphanScanner) ScanOnce(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug(ctx, "Previous sweep still running, skipping tick")
		return
	}
	defer s.inFlight.Store(false)

	ctx, span := s.tracer.Start(ctx, "orphan_scanner.scan")
	defer span.End()

	cutoff := s.timeProvider.Now().Add(-s.orphanThreshold)
	span.SetAttributes(attribute.String("cutoff_time", cutoff.Format(time.RFC3339)))

	stale, err := s.registry.ListStale(ctx, cutoff)
	if err != nil {
		s.logger.Error(ctx, "Stale job query failed", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "stale job query failed")
		return
	}

	s.metrics.ObserveOrphansFlagged(ctx, len(stale))
	span.AddEvent("stale_jobs_found", trace.WithAttributes(attribute.Int("count", len(stale))))
	if len(stale) == 0 {
		span.SetStatus(codes.Ok, "no stale jobs")
		return
	}

	s.logger.Warn(ctx, "Stalled jobs detected", "count", len(stale))

	// Recover with bounded parallelism. A job that fails recovery must not
	// block recovery of the others, so per-job errors are logged and
	// swallowed here.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, job := range stale {
		job := job
		g.Go(func() error {
			if s.limiter != nil {
				if err := s.limiter.Wait(gctx); err != nil {
					return nil
				}
			}
			if err := s.recoverer.Recover(gctx, job); err != nil {
				s.logger.Error(gctx, "Job recovery failed, will retry next sweep",
					"job_id", job.JobID(),
					"stage", job.Stage(),
					"err", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	span.AddEvent("sweep_completed", trace.WithAttributes(attribute.Int("processed_count", len(stale))))
	span.SetStatus(codes.Ok, "sweep completed")
}
