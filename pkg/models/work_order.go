package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkOrderStatus is the lifecycle state of a work order.
type WorkOrderStatus string

const (
	WorkOrderDraft           WorkOrderStatus = "Draft"
	WorkOrderPendingApproval WorkOrderStatus = "Pending_Approval"
	WorkOrderApproved        WorkOrderStatus = "Approved"
	WorkOrderCompleted       WorkOrderStatus = "Completed"
	WorkOrderCancelled       WorkOrderStatus = "Cancelled"
)

// OpenWorkOrderStatuses are the non-terminal states. A machine has at most
// one work order in any of them.
var OpenWorkOrderStatuses = []WorkOrderStatus{
	WorkOrderDraft,
	WorkOrderPendingApproval,
	WorkOrderApproved,
}

var workOrderTransitions = map[WorkOrderStatus][]WorkOrderStatus{
	WorkOrderDraft:           {WorkOrderPendingApproval, WorkOrderApproved, WorkOrderCancelled},
	WorkOrderPendingApproval: {WorkOrderApproved, WorkOrderCancelled},
	WorkOrderApproved:        {WorkOrderCompleted, WorkOrderCancelled},
}

// CanTransition reports whether a work order may move from -> to.
func CanTransition(from, to WorkOrderStatus) bool {
	for _, s := range workOrderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s WorkOrderStatus) Valid() bool {
	switch s {
	case WorkOrderDraft, WorkOrderPendingApproval, WorkOrderApproved, WorkOrderCompleted, WorkOrderCancelled:
		return true
	}
	return false
}

// IsOpen reports whether s is non-terminal.
func (s WorkOrderStatus) IsOpen() bool {
	for _, o := range OpenWorkOrderStatuses {
		if s == o {
			return true
		}
	}
	return false
}

// Priority ranks urgency of a work order or decision.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// CreationSource records who created a work order.
type CreationSource string

const (
	SourceManual CreationSource = "Manual"
	SourceAI     CreationSource = "AI"
)

// WorkOrder is a request to perform maintenance on a machine.
type WorkOrder struct {
	ID                 uuid.UUID       `db:"id"                   json:"id"`
	WONumber           string          `db:"wo_number"            json:"wo_number"`
	MachineID          string          `db:"machine_id"           json:"machine_id"`
	Status             WorkOrderStatus `db:"status"               json:"status"`
	Priority           Priority        `db:"priority"             json:"priority"`
	CreationSource     CreationSource  `db:"creation_source"      json:"creation_source"`
	AIDecisionID       *uuid.UUID      `db:"ai_decision_id"       json:"ai_decision_id,omitempty"`
	ScheduledDate      *time.Time      `db:"scheduled_date"       json:"scheduled_date,omitempty"`
	CompletedDate      *time.Time      `db:"completed_date"       json:"completed_date,omitempty"`
	Notes              string          `db:"notes"                json:"notes"`
	NotificationSent   bool            `db:"notification_sent"    json:"notification_sent"`
	NotificationSentAt *time.Time      `db:"notification_sent_at" json:"notification_sent_at,omitempty"`
	ApprovedBy         *string         `db:"approved_by"          json:"approved_by,omitempty"`
	ApprovedAt         *time.Time      `db:"approved_at"          json:"approved_at,omitempty"`
	CreatedAt          time.Time       `db:"created_at"           json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at"           json:"updated_at"`
}
