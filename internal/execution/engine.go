// Package execution carries out persisted decisions at most once.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/internal/notify"
	"github.com/kiranshivaraju/pmengine/internal/observability"
	"github.com/kiranshivaraju/pmengine/internal/store"
	"github.com/kiranshivaraju/pmengine/pkg/models"
	"go.opentelemetry.io/otel/attribute"
)

// errRollback aborts the transaction for outcomes that must leave no trace.
var errRollback = errors.New("rollback")

// StatsInvalidator drops cached decision statistics.
type StatsInvalidator interface {
	InvalidateStatistics(ctx context.Context)
}

// Engine maps decision kinds to side effects. The claim on the decision and
// the side effect commit in one transaction.
type Engine struct {
	store    store.Store
	notifier notify.Notifier
	stats    StatsInvalidator
	now      func() time.Time
}

func NewEngine(st store.Store, n notify.Notifier, stats StatsInvalidator, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{store: st, notifier: n, stats: stats, now: now}
}

// Execute runs decision id. A second call for the same id returns
// already_executed. Decisions flagged for review run only when force is set.
func (e *Engine) Execute(ctx context.Context, id uuid.UUID, force bool) (res *models.ExecutionResult, err error) {
	ctx, span := observability.StartSpan(ctx, "decision.execute",
		attribute.String("decision_id", id.String()),
		attribute.Bool("force", force),
	)
	defer func() {
		if res != nil {
			span.SetAttributes(attribute.String("status", res.Status))
			observability.ExecutionsTotal.WithLabelValues(string(res.Decision), res.Status).Inc()
		} else {
			observability.ExecutionsTotal.WithLabelValues("", failureStatus(err)).Inc()
		}
		observability.EndSpan(span, err)
	}()

	now := e.now().UTC()
	err = e.store.InTx(ctx, func(tx store.Tx) error {
		d, claimed, err := tx.ClaimDecision(ctx, id, now)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.KindNotFound, "decision %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("claiming decision: %w", err)
		}

		if !claimed {
			res = result(d, models.ExecutionAlreadyExecuted, models.ActionNone, "decision was already executed")
			return nil
		}
		if d.RequiresReview && !force {
			res = result(d, models.ExecutionRejectedLowConfidence, models.ActionNone,
				fmt.Sprintf("confidence %.2f is below the review threshold; execute with force to override", d.Confidence))
			return errRollback
		}

		switch d.Decision {
		case models.DecisionCreateWorkOrder:
			res, err = e.createWorkOrder(ctx, tx, d, now)
		case models.DecisionSendNotification:
			res, err = e.sendNotification(ctx, tx, d, now)
		case models.DecisionWait:
			res = result(d, models.ExecutionWait, models.ActionNone, "no action required; waiting")
		default:
			err = apperr.New(apperr.KindInvalidDecision, "decision %s has unknown kind %q", d.ID, d.Decision)
		}
		return err
	})
	if errors.Is(err, errRollback) {
		err = nil
	}
	if err != nil {
		slog.Warn("decision execution failed", "decision_id", id, "error", apperr.Loggable(err))
		return nil, err
	}

	if res.Status != models.ExecutionAlreadyExecuted && res.Status != models.ExecutionRejectedLowConfidence {
		e.stats.InvalidateStatistics(ctx)
	}
	slog.Info("decision executed",
		"decision_id", id,
		"decision", res.Decision,
		"status", res.Status,
		"action", res.Action,
		"forced", force,
	)
	return res, nil
}

func (e *Engine) createWorkOrder(ctx context.Context, tx store.Tx, d *models.AIDecision, now time.Time) (*models.ExecutionResult, error) {
	if _, err := tx.GetMachineForUpdate(ctx, d.MachineID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "machine %s not found", d.MachineID)
		}
		return nil, fmt.Errorf("locking machine: %w", err)
	}

	open, err := tx.ListOpenWorkOrders(ctx, d.MachineID)
	if err != nil {
		return nil, fmt.Errorf("listing open work orders: %w", err)
	}
	if len(open) > 0 {
		return nil, apperr.New(apperr.KindConflict,
			"machine %s already has open work order %s (%s)", d.MachineID, open[0].WONumber, open[0].Status)
	}

	decisionID := d.ID
	wo := &models.WorkOrder{
		ID:             uuid.New(),
		MachineID:      d.MachineID,
		Status:         models.WorkOrderPendingApproval,
		Priority:       d.Priority,
		CreationSource: models.SourceAI,
		AIDecisionID:   &decisionID,
		Notes:          "AI-generated work order. " + d.Explanation,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.CreateWorkOrder(ctx, wo); err != nil {
		if errors.Is(err, store.ErrOpenWorkOrderExists) {
			return nil, apperr.Wrap(apperr.KindConflict, err, "machine %s already has an open work order", d.MachineID)
		}
		return nil, fmt.Errorf("creating work order: %w", err)
	}

	res := result(d, models.ExecutionExecuted, models.ActionWorkOrderCreated,
		fmt.Sprintf("created work order %s", wo.WONumber))
	res.WorkOrder = wo
	return res, nil
}

// sendNotification notifies the supplier of the machine's approved work
// order. Both the machine and the work order stay locked until the claim
// commits, so a concurrent cancel or reschedule waits for the notice. A
// transport failure still commits the claim so the notice is never sent
// twice.
func (e *Engine) sendNotification(ctx context.Context, tx store.Tx, d *models.AIDecision, now time.Time) (*models.ExecutionResult, error) {
	m, err := tx.GetMachineForUpdate(ctx, d.MachineID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "machine %s not found", d.MachineID)
		}
		return nil, fmt.Errorf("locking machine: %w", err)
	}

	open, err := tx.ListOpenWorkOrders(ctx, d.MachineID)
	if err != nil {
		return nil, fmt.Errorf("listing open work orders: %w", err)
	}
	var wo *models.WorkOrder
	for _, o := range open {
		if o.Status != models.WorkOrderApproved {
			continue
		}
		wo, err = tx.GetWorkOrderForUpdate(ctx, o.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("locking work order: %w", err)
		}
		break
	}
	if wo == nil || wo.Status != models.WorkOrderApproved {
		return nil, apperr.New(apperr.KindPrecondition, "machine %s has no approved work order to notify about", d.MachineID)
	}

	sendErr := e.notifier.Send(ctx, notify.Notice{
		Kind:        notify.KindApproval,
		Machine:     *m,
		WorkOrder:   *wo,
		DecisionID:  d.ID,
		Explanation: d.Explanation,
	})
	if sendErr != nil {
		slog.Warn("approval notice failed",
			"decision_id", d.ID,
			"wo_number", wo.WONumber,
			"error", sendErr,
		)
		res := result(d, models.ExecutionFailed, models.ActionNotificationFailed,
			fmt.Sprintf("notification for %s failed: %v", wo.WONumber, sendErr))
		res.WorkOrder = wo
		return res, nil
	}

	if err := tx.MarkNotificationSent(ctx, wo.ID, models.WorkOrderApproved, now); err != nil {
		if errors.Is(err, store.ErrStatusChanged) {
			return nil, apperr.Wrap(apperr.KindPrecondition, err, "work order %s is no longer approved", wo.WONumber)
		}
		return nil, fmt.Errorf("recording notification: %w", err)
	}
	wo.NotificationSent = true
	wo.NotificationSentAt = &now
	wo.UpdatedAt = now

	res := result(d, models.ExecutionExecuted, models.ActionNotificationSent,
		fmt.Sprintf("notified %s about %s", m.SupplierEmail, wo.WONumber))
	res.WorkOrder = wo
	return res, nil
}

func result(d *models.AIDecision, status, action, msg string) *models.ExecutionResult {
	return &models.ExecutionResult{
		DecisionID: d.ID,
		Decision:   d.Decision,
		Status:     status,
		Action:     action,
		Message:    msg,
	}
}

func failureStatus(err error) string {
	if k := apperr.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}
