package execution

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/internal/notify"
	"github.com/kiranshivaraju/pmengine/internal/store"
	"github.com/kiranshivaraju/pmengine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)

// --- mocks ---

type mockNotifier struct {
	mu      sync.Mutex
	err     error
	notices []notify.Notice
}

func (m *mockNotifier) Send(_ context.Context, n notify.Notice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, n)
	return m.err
}

func (m *mockNotifier) Close() error { return nil }

func (m *mockNotifier) sent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notices)
}

type countingInvalidator struct{ n int32 }

func (c *countingInvalidator) InvalidateStatistics(context.Context) { atomic.AddInt32(&c.n, 1) }

// --- helpers ---

type fixture struct {
	st       *store.MemoryStore
	notifier *mockNotifier
	stats    *countingInvalidator
	engine   *Engine
}

func newFixture() *fixture {
	st := store.NewMemoryStore()
	st.PutMachine(models.Machine{
		ID:              "M001",
		Name:            "Press",
		PMFrequencyDays: 90,
		NextPMDate:      models.Day(now).AddDate(0, 0, -5),
		SupplierName:    "Acme",
		SupplierEmail:   "svc@acme.test",
	})
	n := &mockNotifier{}
	stats := &countingInvalidator{}
	return &fixture{
		st:       st,
		notifier: n,
		stats:    stats,
		engine:   NewEngine(st, n, stats, func() time.Time { return now }),
	}
}

func (f *fixture) decision(t *testing.T, kind models.DecisionKind, confidence float64) *models.AIDecision {
	t.Helper()
	d := &models.AIDecision{
		ID:             uuid.New(),
		MachineID:      "M001",
		Decision:       kind,
		Priority:       models.PriorityHigh,
		Confidence:     confidence,
		Explanation:    "overdue, no WO",
		InputContext:   []byte(`{}`),
		ProviderName:   "mock",
		ModelName:      "mock-v1",
		RequiresReview: confidence < 0.7,
		CreatedAt:      now,
	}
	require.NoError(t, f.st.CreateDecision(context.Background(), d))
	return d
}

func (f *fixture) openWorkOrders(t *testing.T) []*models.WorkOrder {
	t.Helper()
	wos, err := f.st.ListOpenWorkOrders(context.Background(), "M001")
	require.NoError(t, err)
	return wos
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *models.AIDecision {
	t.Helper()
	d, err := f.st.GetDecision(context.Background(), id)
	require.NoError(t, err)
	return d
}

// --- CREATE_WORK_ORDER ---

func TestExecute_CreateWorkOrder(t *testing.T) {
	f := newFixture()
	d := f.decision(t, models.DecisionCreateWorkOrder, 0.95)

	res, err := f.engine.Execute(context.Background(), d.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionExecuted, res.Status)
	assert.Equal(t, models.ActionWorkOrderCreated, res.Action)

	require.NotNil(t, res.WorkOrder)
	wo := res.WorkOrder
	assert.Equal(t, models.WorkOrderPendingApproval, wo.Status)
	assert.Equal(t, models.SourceAI, wo.CreationSource)
	assert.Equal(t, models.PriorityHigh, wo.Priority)
	require.NotNil(t, wo.AIDecisionID)
	assert.Equal(t, d.ID, *wo.AIDecisionID)
	assert.Equal(t, "AI-generated work order. overdue, no WO", wo.Notes)
	assert.Equal(t, "WO-2025-0001", wo.WONumber)

	stored := f.reload(t, d.ID)
	assert.True(t, stored.AutoExecuted)
	require.NotNil(t, stored.ExecutedAt)
	assert.Equal(t, now, *stored.ExecutedAt)
	assert.Equal(t, int32(1), f.stats.n)
}

func TestExecute_Idempotent(t *testing.T) {
	f := newFixture()
	d := f.decision(t, models.DecisionCreateWorkOrder, 0.95)
	ctx := context.Background()

	first, err := f.engine.Execute(ctx, d.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionExecuted, first.Status)

	second, err := f.engine.Execute(ctx, d.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionAlreadyExecuted, second.Status)
	assert.Equal(t, models.ActionNone, second.Action)

	assert.Len(t, f.openWorkOrders(t), 1)
}

func TestExecute_ConcurrentCallsCreateOneWorkOrder(t *testing.T) {
	f := newFixture()
	d := f.decision(t, models.DecisionCreateWorkOrder, 0.95)

	const callers = 8
	var wg sync.WaitGroup
	statuses := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.Execute(context.Background(), d.ID, false)
			if err == nil {
				statuses <- res.Status
			}
		}()
	}
	wg.Wait()
	close(statuses)

	counts := map[string]int{}
	for s := range statuses {
		counts[s]++
	}
	assert.Equal(t, 1, counts[models.ExecutionExecuted])
	assert.Equal(t, callers-1, counts[models.ExecutionAlreadyExecuted])
	assert.Len(t, f.openWorkOrders(t), 1)
}

func TestExecute_CreateWorkOrderConflict(t *testing.T) {
	f := newFixture()
	f.st.PutWorkOrder(models.WorkOrder{
		MachineID: "M001", WONumber: "WO-2025-0007", Status: models.WorkOrderDraft, CreationSource: models.SourceManual, CreatedAt: now,
	})
	d := f.decision(t, models.DecisionCreateWorkOrder, 0.95)

	_, err := f.engine.Execute(context.Background(), d.ID, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	assert.False(t, f.reload(t, d.ID).AutoExecuted, "conflict must leave the decision executable")
	assert.Len(t, f.openWorkOrders(t), 1)
}

// --- confidence gate ---

func TestExecute_LowConfidence(t *testing.T) {
	f := newFixture()
	d := f.decision(t, models.DecisionCreateWorkOrder, 0.69)
	ctx := context.Background()

	res, err := f.engine.Execute(ctx, d.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionRejectedLowConfidence, res.Status)
	assert.Empty(t, f.openWorkOrders(t))
	assert.False(t, f.reload(t, d.ID).AutoExecuted)

	res, err = f.engine.Execute(ctx, d.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionExecuted, res.Status)
	assert.Len(t, f.openWorkOrders(t), 1)
	assert.True(t, f.reload(t, d.ID).AutoExecuted)
}

func TestExecute_NotFound(t *testing.T) {
	f := newFixture()
	_, err := f.engine.Execute(context.Background(), uuid.New(), false)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

// --- SEND_NOTIFICATION ---

func TestExecute_SendNotification(t *testing.T) {
	f := newFixture()
	f.st.PutWorkOrder(models.WorkOrder{
		MachineID: "M001", WONumber: "WO-2025-0003", Status: models.WorkOrderApproved, CreatedAt: now,
	})
	d := f.decision(t, models.DecisionSendNotification, 0.9)

	res, err := f.engine.Execute(context.Background(), d.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionExecuted, res.Status)
	assert.Equal(t, models.ActionNotificationSent, res.Action)
	require.Equal(t, 1, f.notifier.sent())
	assert.Equal(t, d.ID, f.notifier.notices[0].DecisionID)
	assert.Equal(t, "WO-2025-0003", f.notifier.notices[0].WorkOrder.WONumber)

	wo := f.openWorkOrders(t)[0]
	assert.True(t, wo.NotificationSent)
	require.NotNil(t, wo.NotificationSentAt)
	assert.True(t, f.reload(t, d.ID).AutoExecuted)
}

func TestExecute_SendNotificationKeepsScheduledDate(t *testing.T) {
	f := newFixture()
	scheduled := models.Day(now).AddDate(0, 0, 7)
	f.st.PutWorkOrder(models.WorkOrder{
		MachineID: "M001", WONumber: "WO-2025-0005", Status: models.WorkOrderApproved,
		ScheduledDate: &scheduled, Notes: "bring spare seals", CreatedAt: now,
	})
	d := f.decision(t, models.DecisionSendNotification, 0.9)

	res, err := f.engine.Execute(context.Background(), d.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionExecuted, res.Status)

	wo := f.openWorkOrders(t)[0]
	assert.True(t, wo.NotificationSent)
	require.NotNil(t, wo.ScheduledDate)
	assert.Equal(t, scheduled, *wo.ScheduledDate)
	assert.Equal(t, "bring spare seals", wo.Notes)
	assert.Equal(t, models.WorkOrderApproved, wo.Status)
}

func TestExecute_SendNotificationFailureStillClaims(t *testing.T) {
	f := newFixture()
	f.notifier.err = errors.New("smtp down")
	f.st.PutWorkOrder(models.WorkOrder{
		MachineID: "M001", WONumber: "WO-2025-0003", Status: models.WorkOrderApproved, CreatedAt: now,
	})
	d := f.decision(t, models.DecisionSendNotification, 0.9)
	ctx := context.Background()

	res, err := f.engine.Execute(ctx, d.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, res.Status)
	assert.Equal(t, models.ActionNotificationFailed, res.Action)
	assert.Contains(t, res.Message, "smtp down")
	assert.True(t, f.reload(t, d.ID).AutoExecuted)
	assert.False(t, f.openWorkOrders(t)[0].NotificationSent)

	res, err = f.engine.Execute(ctx, d.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionAlreadyExecuted, res.Status)
	assert.Equal(t, 1, f.notifier.sent(), "a failed notice must not be resent")
}

func TestExecute_SendNotificationWithoutApprovedOrder(t *testing.T) {
	f := newFixture()
	f.st.PutWorkOrder(models.WorkOrder{
		MachineID: "M001", WONumber: "WO-2025-0004", Status: models.WorkOrderPendingApproval, CreatedAt: now,
	})
	d := f.decision(t, models.DecisionSendNotification, 0.9)

	_, err := f.engine.Execute(context.Background(), d.ID, false)
	require.Error(t, err)
	assert.Equal(t, apperr.KindPrecondition, apperr.KindOf(err))
	assert.False(t, f.reload(t, d.ID).AutoExecuted)
	assert.Zero(t, f.notifier.sent())
}

// --- WAIT ---

func TestExecute_Wait(t *testing.T) {
	f := newFixture()
	d := f.decision(t, models.DecisionWait, 0.9)

	res, err := f.engine.Execute(context.Background(), d.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionWait, res.Status)
	assert.Equal(t, models.ActionNone, res.Action)
	assert.True(t, f.reload(t, d.ID).AutoExecuted)
	assert.Empty(t, f.openWorkOrders(t))
}
