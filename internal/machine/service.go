// Package machine serves read-only views of the fleet with PM status derived
// as of today.
package machine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/internal/store"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

const detailHistoryLimit = 20

// ListParams filters a machine listing. PMStatus holds zero or more of
// overdue, due_soon and ok.
type ListParams struct {
	PMStatus []string
	Location string
	Status   string
	Limit    int
}

// Detail is one machine with its recent history and work orders.
type Detail struct {
	models.MachineSnapshot
	MaintenanceHistory []*models.MaintenanceRecord `json:"maintenance_history"`
	WorkOrders         []*models.WorkOrder         `json:"work_orders"`
}

type Service struct {
	store       store.Store
	dueSoonDays int
	now         func() time.Time
}

func NewService(st store.Store, dueSoonDays int, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: st, dueSoonDays: dueSoonDays, now: now}
}

// ParsePMStatus splits a comma separated pm_status filter and rejects
// unknown buckets.
func ParsePMStatus(raw string) ([]string, error) {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" {
			continue
		}
		if !models.ValidPMStatus(s) {
			return nil, apperr.New(apperr.KindInvalidInput,
				"pm_status %q must be one of overdue, due_soon, ok", s)
		}
		out = append(out, s)
	}
	return out, nil
}

// List returns machines ordered by next PM date. The PM status filter is
// applied after the snapshot is taken, before the limit.
func (s *Service) List(ctx context.Context, p ListParams) ([]models.MachineSnapshot, error) {
	for _, st := range p.PMStatus {
		if !models.ValidPMStatus(st) {
			return nil, apperr.New(apperr.KindInvalidInput, "unknown pm_status %q", st)
		}
	}
	if p.Status != "" && p.Status != models.MachineStatusActive && p.Status != models.MachineStatusInactive {
		return nil, apperr.New(apperr.KindInvalidInput, "status must be Active or Inactive")
	}
	limit := store.NormalizeLimit(p.Limit)

	machines, err := s.store.ListMachines(ctx, store.MachineFilter{Location: p.Location, Status: p.Status})
	if err != nil {
		return nil, fmt.Errorf("listing machines: %w", err)
	}

	today := models.Day(s.now())
	out := make([]models.MachineSnapshot, 0, min(limit, len(machines)))
	for _, m := range machines {
		snap := models.Snapshot(*m, today, s.dueSoonDays)
		if len(p.PMStatus) > 0 && !contains(p.PMStatus, snap.PMStatus) {
			continue
		}
		out = append(out, snap)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Get returns one machine with its latest maintenance records and work orders.
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	m, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := s.store.ListMaintenanceRecords(ctx, id, detailHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("listing maintenance records: %w", err)
	}
	wos, err := s.store.ListWorkOrders(ctx, store.WorkOrderFilter{MachineID: id, Limit: store.MaxListLimit})
	if err != nil {
		return nil, fmt.Errorf("listing work orders: %w", err)
	}
	return &Detail{
		MachineSnapshot:    models.Snapshot(*m, models.Day(s.now()), s.dueSoonDays),
		MaintenanceHistory: history,
		WorkOrders:         wos,
	}, nil
}

// History returns a machine's maintenance records, newest first.
func (s *Service) History(ctx context.Context, id string, limit int) ([]*models.MaintenanceRecord, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	records, err := s.store.ListMaintenanceRecords(ctx, id, store.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing maintenance records: %w", err)
	}
	return records, nil
}

func (s *Service) load(ctx context.Context, id string) (*models.Machine, error) {
	m, err := s.store.GetMachine(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "machine %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading machine: %w", err)
	}
	return m, nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
