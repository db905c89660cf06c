// Package notify delivers supplier notices about work orders.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pmengine/internal/config"
	"github.com/kiranshivaraju/pmengine/internal/observability"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

// ErrNoSupplierEmail is returned for machines without a supplier contact.
var ErrNoSupplierEmail = errors.New("machine has no supplier email")

// NoticeKind says which work order event a notice reports.
type NoticeKind string

const (
	// KindApproval asks the supplier to schedule an approved work order.
	KindApproval NoticeKind = "approval"
	// KindCompletion confirms a work order was closed as completed.
	KindCompletion NoticeKind = "completion"
)

// Notice tells a supplier about a work order. DecisionID is set when an
// executed decision triggered the notice.
type Notice struct {
	Kind        NoticeKind       `json:"kind"`
	Machine     models.Machine   `json:"machine"`
	WorkOrder   models.WorkOrder `json:"work_order"`
	DecisionID  uuid.UUID        `json:"decision_id,omitempty"`
	Explanation string           `json:"explanation,omitempty"`
}

// MessageID identifies the notice for transport-level deduplication.
func (n Notice) MessageID() string {
	if n.DecisionID != uuid.Nil {
		return n.DecisionID.String()
	}
	return fmt.Sprintf("%s-%s", n.kind(), n.WorkOrder.ID)
}

func (n Notice) kind() NoticeKind {
	if n.Kind == "" {
		return KindApproval
	}
	return n.Kind
}

// Notifier sends supplier notices. A nil error means the transport accepted
// the notice.
type Notifier interface {
	Send(ctx context.Context, n Notice) error
	Close() error
}

// New returns the notifier selected by cfg.Driver.
func New(ctx context.Context, cfg config.NotifyConfig) (Notifier, error) {
	switch cfg.Driver {
	case "", "log":
		return NewLogNotifier(), nil
	case "nats":
		return NewJetStreamNotifier(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown notify driver %q: must be one of log, nats", cfg.Driver)
	}
}

// LogNotifier writes notices to the structured log only.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (l *LogNotifier) Send(_ context.Context, n Notice) error {
	if err := validate(n); err != nil {
		observability.NotificationsTotal.WithLabelValues("log", "rejected").Inc()
		return err
	}
	slog.Info("supplier notice",
		"kind", n.kind(),
		"to", n.Machine.SupplierEmail,
		"supplier", n.Machine.SupplierName,
		"machine_id", n.Machine.ID,
		"wo_number", n.WorkOrder.WONumber,
		"priority", n.WorkOrder.Priority,
		"decision_id", n.DecisionID,
		"subject", Subject(n),
	)
	observability.NotificationsTotal.WithLabelValues("log", "sent").Inc()
	return nil
}

func (l *LogNotifier) Close() error { return nil }

// Subject renders the notice headline. Supplier replies keep the work order
// number in the subject, which is how scheduling replies are matched back.
func Subject(n Notice) string {
	if n.kind() == KindCompletion {
		return fmt.Sprintf("Work order %s completed: preventive maintenance for %s (%s)",
			n.WorkOrder.WONumber, n.Machine.Name, n.Machine.ID)
	}
	return fmt.Sprintf("Work order %s approved: preventive maintenance for %s (%s)",
		n.WorkOrder.WONumber, n.Machine.Name, n.Machine.ID)
}

func validate(n Notice) error {
	if n.Machine.SupplierEmail == "" {
		return fmt.Errorf("%w: %s", ErrNoSupplierEmail, n.Machine.ID)
	}
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
