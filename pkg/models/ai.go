// Package models contains shared data models used across the pmengine codebase.
package models

import (
	"context"
	"time"
)

// ReasoningBackend is the core interface that all AI integrations must implement.
// Services receive a backend through this interface, never a concrete provider.
type ReasoningBackend interface {
	// Decide asks the backend for a maintenance decision about one machine.
	Decide(ctx context.Context, dc DecisionContext) (CanonicalDecision, error)
	// ExtractDate reads the maintenance date a supplier proposed in a reply.
	ExtractDate(ctx context.Context, reply SupplierReply) (DateExtraction, error)
	// Name returns the provider identifier (e.g., "ollama", "openai").
	Name() string
	// Model returns the model identifier used for requests.
	Model() string
}

// DecisionContext is the read-only snapshot a backend reasons over.
type DecisionContext struct {
	Machine            MachineSnapshot     `json:"machine"`
	MaintenanceHistory []MaintenanceRecord `json:"maintenance_history"`
	OpenWorkOrders     []WorkOrder         `json:"open_work_orders"`
	DueSoonDays        int                 `json:"due_soon_days"`
	GeneratedAt        time.Time           `json:"generated_at"`
}

// MachineSnapshot is a machine as seen on the day the context was built.
type MachineSnapshot struct {
	Machine
	DaysUntilPM int    `json:"days_until_pm"`
	PMStatus    string `json:"pm_status"`
}

// SupplierReply is a supplier's answer to an approval notice.
type SupplierReply struct {
	Subject string
	Body    string
	// Today anchors relative phrases such as "next Tuesday".
	Today time.Time
}

// DateExtraction is a backend's reading of a supplier reply. Date is nil when
// the reply names no usable date.
type DateExtraction struct {
	Date        *time.Time
	Confidence  float64
	Explanation string
	RawResponse string
}
