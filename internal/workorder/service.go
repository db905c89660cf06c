// Package workorder owns the work order lifecycle. Every transition locks one
// work order and either commits fully or leaves it untouched.
package workorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/internal/notify"
	"github.com/kiranshivaraju/pmengine/internal/observability"
	"github.com/kiranshivaraju/pmengine/internal/store"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

// CreateParams describes a manually created work order.
type CreateParams struct {
	MachineID string
	Priority  models.Priority
	Notes     string
	// Status is Draft or Pending_Approval. Empty means Draft.
	Status models.WorkOrderStatus
}

type Service struct {
	store    store.Store
	notifier notify.Notifier
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sends supplier notices after manual approvals and completions.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func NewService(st store.Store, now func() time.Time, opts ...Option) *Service {
	if now == nil {
		now = time.Now
	}
	s := &Service{store: st, now: now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create inserts a manual work order. The machine row lock makes the
// open-work-order check and the insert atomic.
func (s *Service) Create(ctx context.Context, p CreateParams) (wo *models.WorkOrder, err error) {
	defer func() { record("create", err) }()

	if p.Status == "" {
		p.Status = models.WorkOrderDraft
	}
	if p.Status != models.WorkOrderDraft && p.Status != models.WorkOrderPendingApproval {
		return nil, apperr.New(apperr.KindInvalidInput, "status must be Draft or Pending_Approval")
	}
	if !p.Priority.Valid() {
		return nil, apperr.New(apperr.KindInvalidInput, "priority must be one of Low, Medium, High")
	}
	if strings.TrimSpace(p.MachineID) == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "machine_id is required")
	}

	now := s.now().UTC()
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetMachineForUpdate(ctx, p.MachineID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.New(apperr.KindNotFound, "machine %s not found", p.MachineID)
			}
			return fmt.Errorf("locking machine: %w", err)
		}
		open, err := tx.ListOpenWorkOrders(ctx, p.MachineID)
		if err != nil {
			return fmt.Errorf("listing open work orders: %w", err)
		}
		if len(open) > 0 {
			return apperr.New(apperr.KindConflict,
				"machine %s already has open work order %s (%s)", p.MachineID, open[0].WONumber, open[0].Status)
		}

		wo = &models.WorkOrder{
			ID:             uuid.New(),
			MachineID:      p.MachineID,
			Status:         p.Status,
			Priority:       p.Priority,
			CreationSource: models.SourceManual,
			Notes:          p.Notes,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.CreateWorkOrder(ctx, wo); err != nil {
			if errors.Is(err, store.ErrOpenWorkOrderExists) {
				return apperr.Wrap(apperr.KindConflict, err, "machine %s already has an open work order", p.MachineID)
			}
			return fmt.Errorf("creating work order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("work order created", "wo_number", wo.WONumber, "machine_id", wo.MachineID, "status", wo.Status)
	return wo, nil
}

// Submit moves a Draft work order to Pending_Approval.
func (s *Service) Submit(ctx context.Context, id uuid.UUID) (*models.WorkOrder, error) {
	return s.transition(ctx, id, "submit", false, func(_ store.Tx, wo *models.WorkOrder, _ time.Time) error {
		if wo.Status != models.WorkOrderDraft {
			return illegal(wo, "submit")
		}
		wo.Status = models.WorkOrderPendingApproval
		return nil
	})
}

// Approve moves a Draft or Pending_Approval work order to Approved and asks
// the supplier to schedule it.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, approver string) (*models.WorkOrder, error) {
	approver = strings.TrimSpace(approver)
	if approver == "" {
		record("approve", apperr.ErrInvalidInput)
		return nil, apperr.New(apperr.KindInvalidInput, "approver name is required")
	}
	wo, err := s.transition(ctx, id, "approve", false, func(_ store.Tx, wo *models.WorkOrder, now time.Time) error {
		if !models.CanTransition(wo.Status, models.WorkOrderApproved) {
			return illegal(wo, "approve")
		}
		wo.Status = models.WorkOrderApproved
		wo.ApprovedBy = &approver
		wo.ApprovedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifySupplier(ctx, notify.KindApproval, wo)
	return wo, nil
}

// Schedule sets the planned date of an Approved work order. Past dates are refused.
func (s *Service) Schedule(ctx context.Context, id uuid.UUID, date time.Time) (*models.WorkOrder, error) {
	if date.IsZero() {
		record("schedule", apperr.ErrInvalidInput)
		return nil, apperr.New(apperr.KindInvalidInput, "scheduled date is required")
	}
	day := models.Day(date)
	return s.transition(ctx, id, "schedule", false, func(_ store.Tx, wo *models.WorkOrder, now time.Time) error {
		if wo.Status != models.WorkOrderApproved {
			return illegal(wo, "schedule")
		}
		if day.Before(models.Day(now)) {
			return apperr.New(apperr.KindInvalidTransition,
				"cannot schedule %s in the past (%s)", wo.WONumber, day.Format(models.DateLayout))
		}
		wo.ScheduledDate = &day
		return nil
	})
}

// Complete closes an Approved work order, advances the machine's PM schedule
// and appends a preventive maintenance record. A zero date means today. The
// supplier gets a completion notice once the transaction commits.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, completed time.Time) (*models.WorkOrder, error) {
	wo, err := s.transition(ctx, id, "complete", true, func(tx store.Tx, wo *models.WorkOrder, now time.Time) error {
		if wo.Status != models.WorkOrderApproved {
			return illegal(wo, "complete")
		}
		day := models.Day(now)
		if !completed.IsZero() {
			day = models.Day(completed)
		}
		if day.After(models.Day(now)) {
			return apperr.New(apperr.KindInvalidTransition,
				"completion date %s is in the future", day.Format(models.DateLayout))
		}
		if wo.ScheduledDate != nil && day.Before(models.Day(*wo.ScheduledDate)) {
			return apperr.New(apperr.KindInvalidTransition,
				"completion date %s precedes scheduled date %s",
				day.Format(models.DateLayout), wo.ScheduledDate.Format(models.DateLayout))
		}

		m, err := tx.GetMachineForUpdate(ctx, wo.MachineID)
		if err != nil {
			return fmt.Errorf("locking machine: %w", err)
		}
		base := day
		if wo.ScheduledDate != nil {
			base = models.Day(*wo.ScheduledDate)
		}
		next := base.AddDate(0, 0, m.PMFrequencyDays)
		if err := tx.UpdateMachineSchedule(ctx, m.ID, day, next); err != nil {
			return fmt.Errorf("advancing machine schedule: %w", err)
		}

		woID := wo.ID
		if err := tx.AppendMaintenanceRecord(ctx, &models.MaintenanceRecord{
			ID:              uuid.New(),
			MachineID:       m.ID,
			MaintenanceDate: day,
			Type:            models.MaintenancePreventive,
			PerformedBy:     m.SupplierName,
			Notes:           strings.TrimSpace(fmt.Sprintf("Completed work order %s. %s", wo.WONumber, wo.Notes)),
			WorkOrderID:     &woID,
			CreatedAt:       now,
		}); err != nil {
			return fmt.Errorf("recording maintenance: %w", err)
		}

		wo.Status = models.WorkOrderCompleted
		wo.CompletedDate = &day
		slog.Info("machine schedule advanced",
			"machine_id", m.ID,
			"last_pm_date", day.Format(models.DateLayout),
			"next_pm_date", next.Format(models.DateLayout),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifySupplier(ctx, notify.KindCompletion, wo)
	return wo, nil
}

// Cancel closes any non-terminal work order.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*models.WorkOrder, error) {
	return s.transition(ctx, id, "cancel", false, func(_ store.Tx, wo *models.WorkOrder, _ time.Time) error {
		if !wo.Status.IsOpen() {
			return illegal(wo, "cancel")
		}
		wo.Status = models.WorkOrderCancelled
		return nil
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.WorkOrder, error) {
	wo, err := s.store.GetWorkOrder(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "work order %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading work order: %w", err)
	}
	return wo, nil
}

// GetByNumber looks a work order up by its WO-YYYY-NNNN number.
func (s *Service) GetByNumber(ctx context.Context, number string) (*models.WorkOrder, error) {
	wo, err := s.store.GetWorkOrderByNumber(ctx, number)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "work order %s not found", number)
	}
	if err != nil {
		return nil, fmt.Errorf("loading work order: %w", err)
	}
	return wo, nil
}

func (s *Service) List(ctx context.Context, filter store.WorkOrderFilter) ([]*models.WorkOrder, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.New(apperr.KindInvalidInput, "unknown status %q", filter.Status)
	}
	if filter.CreationSource != "" && filter.CreationSource != models.SourceManual && filter.CreationSource != models.SourceAI {
		return nil, apperr.New(apperr.KindInvalidInput, "creation_source must be Manual or AI")
	}
	filter.Limit = store.NormalizeLimit(filter.Limit)
	wos, err := s.store.ListWorkOrders(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing work orders: %w", err)
	}
	return wos, nil
}

// transition locks a work order, applies mutate and saves it in one
// transaction. With lockMachine set the machine row is locked before the work
// order, the same order the execution engine takes them in.
func (s *Service) transition(ctx context.Context, id uuid.UUID, name string, lockMachine bool,
	mutate func(tx store.Tx, wo *models.WorkOrder, now time.Time) error) (wo *models.WorkOrder, err error) {
	defer func() { record(name, err) }()

	now := s.now().UTC()
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if lockMachine {
			peek, err := tx.GetWorkOrder(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				return apperr.New(apperr.KindNotFound, "work order %s not found", id)
			}
			if err != nil {
				return fmt.Errorf("loading work order: %w", err)
			}
			if _, err := tx.GetMachineForUpdate(ctx, peek.MachineID); err != nil {
				return fmt.Errorf("locking machine: %w", err)
			}
		}

		current, err := tx.GetWorkOrderForUpdate(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.KindNotFound, "work order %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("loading work order: %w", err)
		}
		if err := mutate(tx, current, now); err != nil {
			return err
		}
		current.UpdatedAt = now
		if err := tx.UpdateWorkOrder(ctx, current); err != nil {
			return fmt.Errorf("saving work order: %w", err)
		}
		wo = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("work order transitioned", "wo_number", wo.WONumber, "transition", name, "status", wo.Status)
	return wo, nil
}

// notifySupplier sends a notice about wo after its transition committed. A
// failed notice is logged and leaves the transition in place. Only approval
// notices are recorded on the work order; completed work orders are terminal.
func (s *Service) notifySupplier(ctx context.Context, kind notify.NoticeKind, wo *models.WorkOrder) {
	if s.notifier == nil {
		return
	}
	m, err := s.store.GetMachine(ctx, wo.MachineID)
	if err != nil {
		slog.Warn("supplier notice skipped", "wo_number", wo.WONumber, "kind", kind, "error", err)
		return
	}
	if err := s.notifier.Send(ctx, notify.Notice{Kind: kind, Machine: *m, WorkOrder: *wo}); err != nil {
		slog.Warn("supplier notice failed", "wo_number", wo.WONumber, "kind", kind, "error", err)
		return
	}
	if kind != notify.KindApproval {
		return
	}

	at := s.now().UTC()
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		return tx.MarkNotificationSent(ctx, wo.ID, models.WorkOrderApproved, at)
	})
	if err != nil {
		slog.Warn("recording supplier notice failed", "wo_number", wo.WONumber, "error", err)
		return
	}
	wo.NotificationSent = true
	wo.NotificationSentAt = &at
	wo.UpdatedAt = at
}

func illegal(wo *models.WorkOrder, action string) error {
	return apperr.New(apperr.KindInvalidTransition, "cannot %s work order %s in status %s", action, wo.WONumber, wo.Status)
}

func record(transition string, err error) {
	result := "ok"
	if err != nil {
		result = string(apperr.KindOf(err))
		if result == "" {
			result = "error"
		}
	}
	observability.WorkOrderTransitionsTotal.WithLabelValues(transition, result).Inc()
}
