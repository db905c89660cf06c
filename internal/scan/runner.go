// Package scan runs batch decision passes over machines due for maintenance.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/internal/cache"
	"github.com/kiranshivaraju/pmengine/internal/decision"
	"github.com/kiranshivaraju/pmengine/internal/observability"
	"github.com/kiranshivaraju/pmengine/internal/store"
	"github.com/kiranshivaraju/pmengine/pkg/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const statusTTL = 30 * time.Minute

// Producer produces one decision for a machine.
type Producer interface {
	Produce(ctx context.Context, machineID string) (*decision.Outcome, error)
}

// Executor executes a persisted decision.
type Executor interface {
	Execute(ctx context.Context, id uuid.UUID, force bool) (*models.ExecutionResult, error)
}

// Options tune a Runner.
type Options struct {
	DueSoonDays   int
	Concurrency   int
	RatePerSecond float64
	Now           func() time.Time
}

// Runner fans decision production out over due machines. One machine's
// failure is recorded on the run and never stops the others.
type Runner struct {
	store    store.Store
	cache    cache.Cache
	producer Producer
	executor Executor
	opts     Options
	limiter  *rate.Limiter

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

func NewRunner(st store.Store, ca cache.Cache, p Producer, e Executor, opts Options) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &Runner{
		store:    st,
		cache:    ca,
		producer: p,
		executor: e,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, opts.Concurrency),
	}
}

// Run performs a scan synchronously and returns the finished run.
func (r *Runner) Run(ctx context.Context, trigger string) (*models.ScanRun, error) {
	run, err := r.start(ctx, trigger)
	if err != nil {
		return nil, err
	}
	defer r.release()
	r.process(ctx, run)
	return run, nil
}

// Trigger records a running scan, processes it in a background goroutine
// and returns immediately.
func (r *Runner) Trigger(ctx context.Context, trigger string) (*models.ScanRun, error) {
	run, err := r.start(ctx, trigger)
	if err != nil {
		return nil, err
	}
	snapshot := *run
	snapshot.Errors = []string{}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release()
		r.runBackground(run)
	}()

	return &snapshot, nil
}

// Wait blocks until background scans finish.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) Get(ctx context.Context, id uuid.UUID) (*models.ScanRun, error) {
	run, err := r.store.GetScanRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "scan run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading scan run: %w", err)
	}
	return run, nil
}

func (r *Runner) List(ctx context.Context, limit int) ([]*models.ScanRun, error) {
	runs, err := r.store.ListScanRuns(ctx, store.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing scan runs: %w", err)
	}
	return runs, nil
}

func (r *Runner) start(ctx context.Context, trigger string) (*models.ScanRun, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, apperr.New(apperr.KindConflict, "a scan is already running")
	}
	r.running = true
	r.mu.Unlock()

	run := &models.ScanRun{
		ID:        uuid.New(),
		Trigger:   trigger,
		Status:    models.ScanStatusRunning,
		Errors:    []string{},
		StartedAt: r.opts.Now().UTC(),
	}
	if err := r.store.CreateScanRun(ctx, run); err != nil {
		r.release()
		return nil, fmt.Errorf("creating scan run: %w", err)
	}
	_ = r.cache.SetScanStatus(ctx, run.ID, run.Status, statusTTL)
	return run, nil
}

func (r *Runner) release() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// runBackground processes run detached from the request that triggered it.
// It recovers from panics and always finalizes the run.
func (r *Runner) runBackground(run *models.ScanRun) {
	ctx := context.Background()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in scan run", "error", rec, "scan_id", run.ID)
			run.Errors = append(run.Errors, fmt.Sprintf("panic: %v", rec))
			run.Status = models.ScanStatusFailed
			r.finish(ctx, run)
		}
	}()

	r.process(ctx, run)
}

func (r *Runner) process(ctx context.Context, run *models.ScanRun) {
	today := r.opts.Now().UTC()
	machines, err := r.store.ListMachinesDueForPM(ctx, models.Day(today).AddDate(0, 0, r.opts.DueSoonDays))
	if err != nil {
		run.Errors = append(run.Errors, fmt.Sprintf("listing due machines: %v", err))
		run.Status = models.ScanStatusFailed
		r.finish(ctx, run)
		return
	}

	slog.Info("scan started", "scan_id", run.ID, "trigger", run.Trigger, "machines", len(machines))

	var mu sync.Mutex
	failed := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for _, m := range machines {
		machineID := m.ID
		g.Go(func() error {
			if err := r.limiter.Wait(gctx); err != nil {
				return err
			}
			res := r.processMachine(gctx, machineID)

			mu.Lock()
			defer mu.Unlock()
			run.MachinesProcessed++
			if res.produced {
				run.DecisionsProduced++
			}
			switch res.action {
			case models.ActionWorkOrderCreated:
				run.WorkOrdersCreated++
			case models.ActionNotificationSent:
				run.NotificationsSent++
			}
			if res.err != nil {
				failed++
				run.Errors = append(run.Errors, fmt.Sprintf("%s: %s", machineID, apperr.MessageOf(res.err)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		run.Errors = append(run.Errors, fmt.Sprintf("scan interrupted: %v", err))
	}

	switch {
	case len(machines) > 0 && failed == len(machines):
		run.Status = models.ScanStatusFailed
	case len(run.Errors) > 0:
		run.Status = models.ScanStatusPartial
	default:
		run.Status = models.ScanStatusSuccess
	}
	r.finish(ctx, run)
}

type machineResult struct {
	produced bool
	action   string
	err      error
}

// processMachine produces a decision and executes it when the gate allows.
// A panic is reported as that machine's failure.
func (r *Runner) processMachine(ctx context.Context, machineID string) (res machineResult) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic processing machine", "error", rec, "machine_id", machineID)
			res = machineResult{err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	out, err := r.producer.Produce(ctx, machineID)
	if err != nil {
		return machineResult{err: err}
	}
	if !out.CanAutoExecute {
		slog.Info("decision left for review", "machine_id", machineID, "decision_id", out.Decision.ID)
		return machineResult{produced: true}
	}

	exec, err := r.executor.Execute(ctx, out.Decision.ID, false)
	if err != nil {
		return machineResult{produced: true, err: err}
	}
	if exec.Status == models.ExecutionFailed {
		return machineResult{produced: true, action: exec.Action, err: errors.New(exec.Message)}
	}
	return machineResult{produced: true, action: exec.Action}
}

func (r *Runner) finish(ctx context.Context, run *models.ScanRun) {
	completed := r.opts.Now().UTC()
	run.CompletedAt = &completed
	run.DurationMs = completed.Sub(run.StartedAt).Milliseconds()

	if err := r.store.UpdateScanRun(ctx, run); err != nil {
		slog.Error("failed to record scan run", "scan_id", run.ID, "error", err)
	}
	_ = r.cache.SetScanStatus(ctx, run.ID, run.Status, statusTTL)
	observability.ScanRunsTotal.WithLabelValues(run.Status).Inc()

	slog.Info("scan finished",
		"scan_id", run.ID,
		"status", run.Status,
		"machines_processed", run.MachinesProcessed,
		"decisions_produced", run.DecisionsProduced,
		"work_orders_created", run.WorkOrdersCreated,
		"notifications_sent", run.NotificationsSent,
		"errors", len(run.Errors),
		"duration_ms", run.DurationMs,
	)
}
