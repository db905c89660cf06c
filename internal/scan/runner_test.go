package scan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pmengine/internal/ai/mock"
	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/internal/cache"
	"github.com/kiranshivaraju/pmengine/internal/decision"
	"github.com/kiranshivaraju/pmengine/internal/execution"
	"github.com/kiranshivaraju/pmengine/internal/notify"
	"github.com/kiranshivaraju/pmengine/internal/store"
	"github.com/kiranshivaraju/pmengine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)

func fixedNow() time.Time { return today }

func seedMachine(st *store.MemoryStore, id string, daysUntilPM int) {
	st.PutMachine(models.Machine{
		ID:              id,
		Name:            "Machine " + id,
		PMFrequencyDays: 90,
		NextPMDate:      models.Day(today).AddDate(0, 0, daysUntilPM),
		SupplierName:    "Acme Service",
		SupplierEmail:   "svc@acme.test",
	})
}

type pipeline struct {
	st        *store.MemoryStore
	ca        *cache.MemoryCache
	decisions *decision.Service
	engine    *execution.Engine
}

func newPipeline(backend models.ReasoningBackend) *pipeline {
	st := store.NewMemoryStore()
	ca := cache.NewMemoryCache()
	b := decision.NewBuilder(st, 30, 10, fixedNow)
	ds := decision.NewService(b, backend, decision.Gate{Threshold: 0.7, MinExplanationLength: 10}, st, ca, fixedNow)
	return &pipeline{
		st:        st,
		ca:        ca,
		decisions: ds,
		engine:    execution.NewEngine(st, notify.NewLogNotifier(), ds, fixedNow),
	}
}

func (p *pipeline) runner(prod Producer) *Runner {
	if prod == nil {
		prod = p.decisions
	}
	return NewRunner(p.st, p.ca, prod, p.engine, Options{
		DueSoonDays: 30,
		Concurrency: 4,
		Now:         fixedNow,
	})
}

// failingFor fails production for the listed machines and delegates the rest.
type failingFor struct {
	next     Producer
	machines map[string]bool
}

func (f failingFor) Produce(ctx context.Context, machineID string) (*decision.Outcome, error) {
	if f.machines[machineID] {
		return nil, apperr.New(apperr.KindBackendUnavailable, "backend down for %s", machineID)
	}
	return f.next.Produce(ctx, machineID)
}

func TestRun_ProcessesDueMachines(t *testing.T) {
	p := newPipeline(mock.NewMockProvider())
	seedMachine(p.st, "M001", -5)
	seedMachine(p.st, "M002", 10)
	p.st.PutWorkOrder(models.WorkOrder{MachineID: "M002", WONumber: "WO-2025-0002", Status: models.WorkOrderApproved, CreatedAt: today})
	seedMachine(p.st, "M003", 20)
	p.st.PutWorkOrder(models.WorkOrder{MachineID: "M003", WONumber: "WO-2025-0003", Status: models.WorkOrderPendingApproval, CreatedAt: today})
	seedMachine(p.st, "M004", 120)

	run, err := p.runner(nil).Run(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, models.ScanStatusSuccess, run.Status)
	assert.Equal(t, 3, run.MachinesProcessed)
	assert.Equal(t, 3, run.DecisionsProduced)
	assert.Equal(t, 1, run.WorkOrdersCreated)
	assert.Equal(t, 1, run.NotificationsSent)
	assert.Empty(t, run.Errors)
	require.NotNil(t, run.CompletedAt)

	stored, err := p.st.GetScanRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusSuccess, stored.Status)

	status, ok, err := p.ca.GetScanStatus(context.Background(), run.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.ScanStatusSuccess, status)

	open, err := p.st.ListOpenWorkOrders(context.Background(), "M001")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.SourceAI, open[0].CreationSource)
}

func TestRun_NoDueMachines(t *testing.T) {
	p := newPipeline(mock.NewMockProvider())
	seedMachine(p.st, "M001", 200)

	run, err := p.runner(nil).Run(context.Background(), "schedule")
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusSuccess, run.Status)
	assert.Zero(t, run.MachinesProcessed)
}

func TestRun_PartialFailureIsIsolated(t *testing.T) {
	p := newPipeline(mock.NewMockProvider())
	seedMachine(p.st, "M001", -5)
	seedMachine(p.st, "M002", -3)

	run, err := p.runner(failingFor{next: p.decisions, machines: map[string]bool{"M002": true}}).
		Run(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, models.ScanStatusPartial, run.Status)
	assert.Equal(t, 2, run.MachinesProcessed)
	assert.Equal(t, 1, run.DecisionsProduced)
	assert.Equal(t, 1, run.WorkOrdersCreated)
	require.Len(t, run.Errors, 1)
	assert.Contains(t, run.Errors[0], "M002")
}

func TestRun_AllFailed(t *testing.T) {
	p := newPipeline(mock.NewFailingProvider(apperr.New(apperr.KindBackendUnavailable, "connection refused")))
	seedMachine(p.st, "M001", -5)
	seedMachine(p.st, "M002", 3)

	run, err := p.runner(nil).Run(context.Background(), "manual")
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusFailed, run.Status)
	assert.Len(t, run.Errors, 2)
	assert.Zero(t, run.DecisionsProduced)
}

func TestRun_LowConfidenceLeftForReview(t *testing.T) {
	p := newPipeline(mock.NewFixedProvider(models.CanonicalDecision{
		Decision:    models.DecisionCreateWorkOrder,
		Priority:    models.PriorityHigh,
		Confidence:  0.4,
		Explanation: "history is too thin to be sure",
	}))
	seedMachine(p.st, "M001", -5)

	run, err := p.runner(nil).Run(context.Background(), "manual")
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusSuccess, run.Status)
	assert.Equal(t, 1, run.DecisionsProduced)
	assert.Zero(t, run.WorkOrdersCreated)

	recent, err := p.st.ListDecisions(context.Background(), store.DecisionFilter{MachineID: "M001", Limit: 10})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].RequiresReview)
	assert.False(t, recent[0].AutoExecuted)
}

// blockingProducer holds every call until release is closed.
type blockingProducer struct {
	release chan struct{}
	once    sync.Once
	started chan struct{}
}

func (b *blockingProducer) Produce(ctx context.Context, _ string) (*decision.Outcome, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, errors.New("released")
}

func TestTrigger_RunsInBackground(t *testing.T) {
	p := newPipeline(mock.NewMockProvider())
	seedMachine(p.st, "M001", -5)
	prod := &blockingProducer{release: make(chan struct{}), started: make(chan struct{})}
	r := p.runner(prod)
	ctx := context.Background()

	run, err := r.Trigger(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusRunning, run.Status)

	<-prod.started
	_, err = r.Trigger(ctx, "api")
	assert.True(t, errors.Is(err, apperr.ErrConflict), "a second scan must not start while one runs")

	close(prod.release)
	r.Wait()

	done, err := r.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusFailed, done.Status)
	assert.Equal(t, 1, done.MachinesProcessed)

	runs, err := r.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

type panickingProducer struct{}

func (panickingProducer) Produce(context.Context, string) (*decision.Outcome, error) {
	panic("boom")
}

func TestTrigger_RecoversFromPanic(t *testing.T) {
	p := newPipeline(mock.NewMockProvider())
	seedMachine(p.st, "M001", -5)
	r := NewRunner(p.st, p.ca, panickingProducer{}, p.engine, Options{DueSoonDays: 30, Concurrency: 1, Now: fixedNow})

	run, err := r.Trigger(context.Background(), "api")
	require.NoError(t, err)
	r.Wait()

	done, err := r.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusFailed, done.Status)
	require.Len(t, done.Errors, 1)
	assert.Contains(t, done.Errors[0], "panic: boom")
}

func TestGet_NotFound(t *testing.T) {
	p := newPipeline(mock.NewMockProvider())
	_, err := p.runner(nil).Get(context.Background(), uuid.New())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
