package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DecisionKind is the action recommended by the reasoning backend.
type DecisionKind string

const (
	DecisionCreateWorkOrder  DecisionKind = "CREATE_WORK_ORDER"
	DecisionSendNotification DecisionKind = "SEND_NOTIFICATION"
	DecisionWait             DecisionKind = "WAIT"
)

func (k DecisionKind) Valid() bool {
	return k == DecisionCreateWorkOrder || k == DecisionSendNotification || k == DecisionWait
}

// CanonicalDecision is the provider-independent shape every backend reply is
// normalized into.
type CanonicalDecision struct {
	Decision    DecisionKind `json:"decision"`
	Priority    Priority     `json:"priority"`
	Confidence  float64      `json:"confidence"`
	Explanation string       `json:"explanation"`

	// RawResponse is the unparsed backend reply, kept for audit.
	RawResponse string `json:"-"`
}

// AIDecision is a persisted decision. Immutable except for the execution
// fields, which flip exactly once.
type AIDecision struct {
	ID             uuid.UUID       `db:"id"              json:"id"`
	MachineID      string          `db:"machine_id"      json:"machine_id"`
	Decision       DecisionKind    `db:"decision"        json:"decision"`
	Priority       Priority        `db:"priority"        json:"priority"`
	Confidence     float64         `db:"confidence"      json:"confidence"`
	Explanation    string          `db:"explanation"     json:"explanation"`
	InputContext   json.RawMessage `db:"input_context"   json:"input_context"`
	ProviderName   string          `db:"provider_name"   json:"provider_name"`
	ModelName      string          `db:"model_name"      json:"model_name"`
	RawResponse    string          `db:"raw_response"    json:"raw_response,omitempty"`
	RequiresReview bool            `db:"requires_review" json:"requires_review"`
	AutoExecuted   bool            `db:"auto_executed"   json:"auto_executed"`
	ExecutedAt     *time.Time      `db:"executed_at"     json:"executed_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at"      json:"created_at"`
}

// DecisionStatistics summarizes all persisted decisions.
type DecisionStatistics struct {
	TotalDecisions       int            `json:"total_decisions"`
	ByKind               map[string]int `json:"by_kind"`
	AverageConfidence    float64        `json:"average_confidence"`
	RequiringReviewCount int            `json:"requiring_review_count"`
	AutoExecutedCount    int            `json:"auto_executed_count"`
	ManualReviewCount    int            `json:"manual_review_count"`
	ByProvider           map[string]int `json:"by_provider"`
}

// Execution result statuses.
const (
	ExecutionExecuted              = "executed"
	ExecutionAlreadyExecuted       = "already_executed"
	ExecutionRejectedLowConfidence = "rejected_low_confidence"
	ExecutionWait                  = "wait"
	ExecutionFailed                = "failed"
)

// Execution actions.
const (
	ActionWorkOrderCreated   = "work_order_created"
	ActionNotificationSent   = "notification_sent"
	ActionNotificationFailed = "notification_failed"
	ActionNone               = "none"
)

// ExecutionResult reports what executing a decision did.
type ExecutionResult struct {
	DecisionID uuid.UUID    `json:"decision_id"`
	Decision   DecisionKind `json:"decision"`
	Status     string       `json:"status"`
	Action     string       `json:"action"`
	WorkOrder  *WorkOrder   `json:"work_order,omitempty"`
	Message    string       `json:"message"`
}
