// Package reply turns supplier replies to approval notices into scheduled
// work orders. The reasoning backend reads the proposed date and the work
// order service applies it with the usual scheduling rules.
package reply

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/internal/observability"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

const minBodyLength = 10

var woNumberPattern = regexp.MustCompile(`(?i)\bWO-\d{4}-\d{3,4}\b`)

// WorkOrders is the part of the work order service a reply needs.
type WorkOrders interface {
	GetByNumber(ctx context.Context, number string) (*models.WorkOrder, error)
	Schedule(ctx context.Context, id uuid.UUID, date time.Time) (*models.WorkOrder, error)
}

// Result reports what a supplier reply did to its work order. Updated is
// false when no date was found or the reading fell below the threshold.
type Result struct {
	WONumber      string            `json:"wo_number"`
	WorkOrderID   uuid.UUID         `json:"wo_id"`
	ExtractedDate *string           `json:"extracted_date"`
	Confidence    float64           `json:"confidence"`
	Explanation   string            `json:"explanation,omitempty"`
	Updated       bool              `json:"updated"`
	Message       string            `json:"message"`
	WorkOrder     *models.WorkOrder `json:"work_order,omitempty"`
}

type Service struct {
	workorders WorkOrders
	backend    models.ReasoningBackend
	threshold  float64
	now        func() time.Time
}

// NewService builds a reply service. Readings below threshold never
// schedule anything.
func NewService(wos WorkOrders, backend models.ReasoningBackend, threshold float64, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{workorders: wos, backend: backend, threshold: threshold, now: now}
}

// WONumber returns the first work order number in subject, upper-cased.
func WONumber(subject string) (string, bool) {
	n := woNumberPattern.FindString(subject)
	if n == "" {
		return "", false
	}
	return strings.ToUpper(n), true
}

// Process schedules the work order named in subject from the date the
// supplier proposes in body.
func (s *Service) Process(ctx context.Context, subject, body string) (res *Result, err error) {
	outcome := ""
	defer func() { record(outcome, err) }()

	subject = strings.TrimSpace(subject)
	body = strings.TrimSpace(body)
	if subject == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "email_subject is required")
	}
	if len(body) < minBodyLength {
		return nil, apperr.New(apperr.KindInvalidInput, "email_body must be at least %d characters", minBodyLength)
	}
	number, ok := WONumber(subject)
	if !ok {
		return nil, apperr.New(apperr.KindInvalidInput, "no work order number (WO-YYYY-NNNN) in email subject")
	}

	wo, err := s.workorders.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if wo.Status != models.WorkOrderApproved {
		return nil, apperr.New(apperr.KindInvalidTransition,
			"work order %s is %s; only Approved work orders can be scheduled", number, wo.Status)
	}

	x, err := s.backend.ExtractDate(ctx, models.SupplierReply{Subject: subject, Body: body, Today: s.now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("reading supplier reply for %s: %w", number, err)
	}

	res = &Result{
		WONumber:    number,
		WorkOrderID: wo.ID,
		Confidence:  x.Confidence,
		Explanation: x.Explanation,
	}
	if x.Date == nil {
		outcome = "no_date"
		res.Message = "No scheduled date found in the supplier reply."
		slog.Info("supplier reply has no date", "wo_number", number, "confidence", x.Confidence)
		return res, nil
	}
	date := x.Date.Format(models.DateLayout)
	res.ExtractedDate = &date
	if x.Confidence < s.threshold {
		outcome = "low_confidence"
		res.Message = fmt.Sprintf("Confidence %.2f is below %.2f; schedule %s manually.", x.Confidence, s.threshold, number)
		slog.Info("supplier reply below confidence threshold",
			"wo_number", number, "extracted_date", date, "confidence", x.Confidence)
		return res, nil
	}

	scheduled, err := s.workorders.Schedule(ctx, wo.ID, *x.Date)
	if err != nil {
		return nil, err
	}
	outcome = "scheduled"
	res.Updated = true
	res.WorkOrder = scheduled
	res.Message = fmt.Sprintf("Work order %s scheduled for %s.", number, date)
	slog.Info("work order scheduled from supplier reply",
		"wo_number", number, "scheduled_date", date, "confidence", x.Confidence)
	return res, nil
}

func record(outcome string, err error) {
	if err != nil {
		outcome = string(apperr.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	observability.SupplierRepliesTotal.WithLabelValues(outcome).Inc()
}
