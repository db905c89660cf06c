// Package decision builds decision contexts, asks the reasoning backend for a
// recommendation, gates it on confidence and records it.
package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/internal/store"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

// maxHistory caps the maintenance records placed in a context.
const maxHistory = 10

// Builder assembles read-only decision contexts from the store.
type Builder struct {
	store        store.Store
	dueSoonDays  int
	historyLimit int
	now          func() time.Time
}

func NewBuilder(st store.Store, dueSoonDays, historyLimit int, now func() time.Time) *Builder {
	if historyLimit <= 0 || historyLimit > maxHistory {
		historyLimit = maxHistory
	}
	if now == nil {
		now = time.Now
	}
	return &Builder{store: st, dueSoonDays: dueSoonDays, historyLimit: historyLimit, now: now}
}

// Build snapshots a machine, its newest maintenance records and its open
// work orders. days_until_pm is computed against the current date on every call.
func (b *Builder) Build(ctx context.Context, machineID string) (*models.DecisionContext, error) {
	m, err := b.store.GetMachine(ctx, machineID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "machine %s not found", machineID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading machine: %w", err)
	}

	records, err := b.store.ListMaintenanceRecords(ctx, machineID, b.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("loading maintenance history: %w", err)
	}
	open, err := b.store.ListOpenWorkOrders(ctx, machineID)
	if err != nil {
		return nil, fmt.Errorf("loading open work orders: %w", err)
	}

	now := b.now().UTC()
	dc := &models.DecisionContext{
		Machine:            models.Snapshot(*m, now, b.dueSoonDays),
		MaintenanceHistory: make([]models.MaintenanceRecord, 0, len(records)),
		OpenWorkOrders:     make([]models.WorkOrder, 0, len(open)),
		DueSoonDays:        b.dueSoonDays,
		GeneratedAt:        now,
	}
	for _, r := range records {
		dc.MaintenanceHistory = append(dc.MaintenanceHistory, *r)
	}
	for _, wo := range open {
		dc.OpenWorkOrders = append(dc.OpenWorkOrders, *wo)
	}
	return dc, nil
}
