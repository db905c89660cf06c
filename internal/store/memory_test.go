package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pmengine/internal/store"
	"github.com/kiranshivaraju/pmengine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededMemoryStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	s.PutMachine(models.Machine{
		ID:              "M001",
		Name:            "CNC Lathe",
		PMFrequencyDays: 90,
		NextPMDate:      time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		SupplierEmail:   "service@acme.test",
	})
	return s
}

func TestMemoryStore_InTxRollsBackOnError(t *testing.T) {
	s := seededMemoryStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx store.Tx) error {
		wo := &models.WorkOrder{
			ID:        uuid.New(),
			MachineID: "M001",
			Status:    models.WorkOrderPendingApproval,
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, tx.CreateWorkOrder(ctx, wo))
		return boom
	})
	require.ErrorIs(t, err, boom)

	open, err := s.ListOpenWorkOrders(ctx, "M001")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestMemoryStore_CreateWorkOrderRejectsSecondOpen(t *testing.T) {
	s := seededMemoryStore(t)
	ctx := context.Background()
	created := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	err := s.InTx(ctx, func(tx store.Tx) error {
		first := &models.WorkOrder{ID: uuid.New(), MachineID: "M001", Status: models.WorkOrderDraft, CreatedAt: created}
		if err := tx.CreateWorkOrder(ctx, first); err != nil {
			return err
		}
		assert.Equal(t, "WO-2025-0001", first.WONumber)

		second := &models.WorkOrder{ID: uuid.New(), MachineID: "M001", Status: models.WorkOrderPendingApproval, CreatedAt: created}
		return tx.CreateWorkOrder(ctx, second)
	})
	assert.ErrorIs(t, err, store.ErrOpenWorkOrderExists)
}

func TestMemoryStore_WorkOrderNumbersPerYear(t *testing.T) {
	s := store.NewMemoryStore()
	for _, id := range []string{"A", "B", "C"} {
		s.PutMachine(models.Machine{ID: id, PMFrequencyDays: 30, NextPMDate: time.Now()})
	}
	ctx := context.Background()

	var numbers []string
	dates := []time.Time{
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	for i, id := range []string{"A", "B", "C"} {
		wo := &models.WorkOrder{ID: uuid.New(), MachineID: id, Status: models.WorkOrderDraft, CreatedAt: dates[i]}
		require.NoError(t, s.InTx(ctx, func(tx store.Tx) error { return tx.CreateWorkOrder(ctx, wo) }))
		numbers = append(numbers, wo.WONumber)
	}
	assert.Equal(t, []string{"WO-2024-0001", "WO-2025-0001", "WO-2025-0002"}, numbers)
}

func TestMemoryStore_ClaimDecisionOnce(t *testing.T) {
	s := seededMemoryStore(t)
	ctx := context.Background()
	d := &models.AIDecision{ID: uuid.New(), MachineID: "M001", Decision: models.DecisionWait, CreatedAt: time.Now()}
	require.NoError(t, s.CreateDecision(ctx, d))

	var firstClaim, secondClaim bool
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		_, claimed, err := tx.ClaimDecision(ctx, d.ID, time.Now())
		firstClaim = claimed
		return err
	}))
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		got, claimed, err := tx.ClaimDecision(ctx, d.ID, time.Now())
		secondClaim = claimed
		assert.True(t, got.AutoExecuted)
		return err
	}))

	assert.True(t, firstClaim)
	assert.False(t, secondClaim)
}

func TestMemoryStore_ClaimDecisionNotFound(t *testing.T) {
	s := store.NewMemoryStore()
	err := s.InTx(context.Background(), func(tx store.Tx) error {
		_, _, err := tx.ClaimDecision(context.Background(), uuid.New(), time.Now())
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStore_ListDecisionsNewestFirst(t *testing.T) {
	s := seededMemoryStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateDecision(ctx, &models.AIDecision{
			ID: uuid.New(), MachineID: "M001", Decision: models.DecisionWait, CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	got, err := s.ListDecisions(ctx, store.DecisionFilter{Limit: 3})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, base.Add(4*time.Hour), got[0].CreatedAt)
	assert.Equal(t, base.Add(2*time.Hour), got[2].CreatedAt)
}

func TestMemoryStore_DecisionStatistics(t *testing.T) {
	s := seededMemoryStore(t)
	ctx := context.Background()
	decisions := []models.AIDecision{
		{Decision: models.DecisionCreateWorkOrder, Confidence: 0.9, ProviderName: "openai", AutoExecuted: true},
		{Decision: models.DecisionCreateWorkOrder, Confidence: 0.6, ProviderName: "openai", RequiresReview: true},
		{Decision: models.DecisionWait, Confidence: 0.85, ProviderName: "anthropic"},
	}
	for _, d := range decisions {
		d.ID = uuid.New()
		d.MachineID = "M001"
		require.NoError(t, s.CreateDecision(ctx, &d))
	}

	stats, err := s.DecisionStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalDecisions)
	assert.Equal(t, 2, stats.ByKind["CREATE_WORK_ORDER"])
	assert.Equal(t, 1, stats.ByKind["WAIT"])
	assert.Equal(t, 0.78, stats.AverageConfidence)
	assert.Equal(t, 1, stats.RequiringReviewCount)
	assert.Equal(t, 1, stats.AutoExecutedCount)
	assert.Equal(t, 2, stats.ManualReviewCount)
	assert.Equal(t, 2, stats.ByProvider["openai"])
}

func TestMemoryStore_ListMachinesDueForPM(t *testing.T) {
	s := store.NewMemoryStore()
	s.PutMachine(models.Machine{ID: "late", NextPMDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)})
	s.PutMachine(models.Machine{ID: "soon", NextPMDate: time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)})
	s.PutMachine(models.Machine{ID: "later", NextPMDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)})
	s.PutMachine(models.Machine{ID: "idle", Status: models.MachineStatusInactive, NextPMDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)})

	due, err := s.ListMachinesDueForPM(context.Background(), time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "late", due[0].ID)
	assert.Equal(t, "soon", due[1].ID)
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, 20, store.NormalizeLimit(0))
	assert.Equal(t, 1, store.NormalizeLimit(1))
	assert.Equal(t, 100, store.NormalizeLimit(500))
}

func TestMemoryStore_ListMachines(t *testing.T) {
	s := store.NewMemoryStore()
	s.PutMachine(models.Machine{ID: "b", Location: "Bay 1", NextPMDate: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)})
	s.PutMachine(models.Machine{ID: "a", Location: "Bay 1", NextPMDate: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)})
	s.PutMachine(models.Machine{ID: "c", Location: "Bay 2", Status: models.MachineStatusInactive, NextPMDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)})

	all, err := s.ListMachines(context.Background(), store.MachineFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{all[0].ID, all[1].ID, all[2].ID})

	bay1, err := s.ListMachines(context.Background(), store.MachineFilter{Location: "Bay 1", Status: models.MachineStatusActive})
	require.NoError(t, err)
	assert.Len(t, bay1, 2)
}

func TestMemoryStore_MarkNotificationSent(t *testing.T) {
	s := seededMemoryStore(t)
	ctx := context.Background()
	at := time.Date(2025, 2, 2, 10, 0, 0, 0, time.UTC)
	scheduled := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	id := uuid.New()
	s.PutWorkOrder(models.WorkOrder{
		ID: id, WONumber: "WO-2025-0009", MachineID: "M001", Status: models.WorkOrderApproved, ScheduledDate: &scheduled,
	})

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		return tx.MarkNotificationSent(ctx, id, models.WorkOrderApproved, at)
	}))
	wo, err := s.GetWorkOrderByNumber(ctx, "WO-2025-0009")
	require.NoError(t, err)
	assert.True(t, wo.NotificationSent)
	assert.Equal(t, &at, wo.NotificationSentAt)
	assert.Equal(t, &scheduled, wo.ScheduledDate)

	err = s.InTx(ctx, func(tx store.Tx) error {
		return tx.MarkNotificationSent(ctx, id, models.WorkOrderPendingApproval, at)
	})
	assert.ErrorIs(t, err, store.ErrStatusChanged)

	err = s.InTx(ctx, func(tx store.Tx) error {
		return tx.MarkNotificationSent(ctx, uuid.New(), models.WorkOrderApproved, at)
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetWorkOrderByNumber(ctx, "WO-2025-0404")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
