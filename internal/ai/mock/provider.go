package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

// PolicyConfidence is the confidence the policy follower reports.
const PolicyConfidence = 0.95

// MockProvider satisfies models.ReasoningBackend for local runs and tests.
type MockProvider struct {
	Name_      string
	Model_     string
	DecideFunc  func(ctx context.Context, dc models.DecisionContext) (models.CanonicalDecision, error)
	ExtractFunc func(ctx context.Context, reply models.SupplierReply) (models.DateExtraction, error)
}

func (m *MockProvider) Name() string  { return m.Name_ }
func (m *MockProvider) Model() string { return m.Model_ }

func (m *MockProvider) Decide(ctx context.Context, dc models.DecisionContext) (models.CanonicalDecision, error) {
	if m.DecideFunc != nil {
		return m.DecideFunc(ctx, dc)
	}
	return models.CanonicalDecision{}, nil
}

// ExtractDate uses ExtractFunc when set and ReadReply otherwise.
func (m *MockProvider) ExtractDate(ctx context.Context, reply models.SupplierReply) (models.DateExtraction, error) {
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, reply)
	}
	return ReadReply(reply), nil
}

// NewMockProvider returns a MockProvider that follows the decision policy
// given to real backends.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_:  "mock",
		Model_: "mock-policy-v1",
		DecideFunc: func(_ context.Context, dc models.DecisionContext) (models.CanonicalDecision, error) {
			return withRaw(Policy(dc)), nil
		},
	}
}

// NewFixedProvider returns a MockProvider that always answers d.
func NewFixedProvider(d models.CanonicalDecision) *MockProvider {
	return &MockProvider{
		Name_:  "mock",
		Model_: "mock-fixed-v1",
		DecideFunc: func(_ context.Context, _ models.DecisionContext) (models.CanonicalDecision, error) {
			return withRaw(d), nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_:  "mock-failing",
		Model_: "mock-v1",
		DecideFunc: func(_ context.Context, _ models.DecisionContext) (models.CanonicalDecision, error) {
			return models.CanonicalDecision{}, err
		},
		ExtractFunc: func(_ context.Context, _ models.SupplierReply) (models.DateExtraction, error) {
			return models.DateExtraction{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_:  "mock-timeout",
		Model_: "mock-v1",
		DecideFunc: func(ctx context.Context, _ models.DecisionContext) (models.CanonicalDecision, error) {
			<-ctx.Done()
			return models.CanonicalDecision{}, apperr.Wrap(apperr.KindBackendUnavailable, ctx.Err(), "mock backend timed out")
		},
		ExtractFunc: func(ctx context.Context, _ models.SupplierReply) (models.DateExtraction, error) {
			<-ctx.Done()
			return models.DateExtraction{}, apperr.Wrap(apperr.KindBackendUnavailable, ctx.Err(), "mock backend timed out")
		},
	}
}

// Policy applies the prioritized decision rules to dc.
func Policy(dc models.DecisionContext) models.CanonicalDecision {
	var approved, pending int
	for _, wo := range dc.OpenWorkOrders {
		switch wo.Status {
		case models.WorkOrderApproved:
			approved++
		case models.WorkOrderPendingApproval, models.WorkOrderDraft:
			pending++
		}
	}

	dueSoon := dc.DueSoonDays
	if dueSoon <= 0 {
		dueSoon = 30
	}
	days := dc.Machine.DaysUntilPM

	switch {
	case approved > 0:
		return models.CanonicalDecision{
			Decision:    models.DecisionSendNotification,
			Priority:    models.PriorityHigh,
			Confidence:  PolicyConfidence,
			Explanation: "An approved work order exists; the supplier should be notified to schedule the work.",
		}
	case pending > 0:
		return models.CanonicalDecision{
			Decision:    models.DecisionWait,
			Priority:    models.PriorityMedium,
			Confidence:  PolicyConfidence,
			Explanation: fmt.Sprintf("%d work order(s) awaiting approval; waiting before taking further action.", pending),
		}
	case len(dc.OpenWorkOrders) == 0 && days <= dueSoon:
		return models.CanonicalDecision{
			Decision:    models.DecisionCreateWorkOrder,
			Priority:    urgency(days),
			Confidence:  PolicyConfidence,
			Explanation: createExplanation(days),
		}
	default:
		return models.CanonicalDecision{
			Decision:    models.DecisionWait,
			Priority:    models.PriorityLow,
			Confidence:  PolicyConfidence,
			Explanation: fmt.Sprintf("Preventive maintenance is %d days away; no action needed yet.", days),
		}
	}
}

var isoDate = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)

// ReadReply picks the first YYYY-MM-DD date in the reply body that is not
// before today. Without one it reports no date and zero confidence.
func ReadReply(reply models.SupplierReply) models.DateExtraction {
	today := models.Day(reply.Today)
	for _, s := range isoDate.FindAllString(reply.Body, -1) {
		d, err := models.ParseDate(s)
		if err != nil || d.Before(today) {
			continue
		}
		x := models.DateExtraction{
			Date:        &d,
			Confidence:  PolicyConfidence,
			Explanation: fmt.Sprintf("Supplier proposes %s.", s),
		}
		x.RawResponse = rawExtraction(x)
		return x
	}
	x := models.DateExtraction{Explanation: "No future date found in the reply."}
	x.RawResponse = rawExtraction(x)
	return x
}

func rawExtraction(x models.DateExtraction) string {
	var date *string
	if x.Date != nil {
		s := x.Date.Format(models.DateLayout)
		date = &s
	}
	raw, _ := json.Marshal(map[string]any{
		"selected_date": date,
		"confidence":    x.Confidence,
		"explanation":   x.Explanation,
	})
	return string(raw)
}

func urgency(days int) models.Priority {
	switch {
	case days <= 7:
		return models.PriorityHigh
	case days <= 21:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

func createExplanation(days int) string {
	if days < 0 {
		return fmt.Sprintf("Preventive maintenance is %d days overdue and no work order exists.", -days)
	}
	return fmt.Sprintf("Preventive maintenance is due in %d days and no work order exists.", days)
}

func withRaw(d models.CanonicalDecision) models.CanonicalDecision {
	raw, _ := json.Marshal(d)
	d.RawResponse = string(raw)
	return d
}

// Compile-time check that MockProvider implements ReasoningBackend.
var _ models.ReasoningBackend = (*MockProvider)(nil)
