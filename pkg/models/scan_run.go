package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ScanStatusRunning = "running"
	ScanStatusSuccess = "success"
	ScanStatusPartial = "partial"
	ScanStatusFailed  = "failed"
)

// ScanRun records one batch pass over machines due for preventive maintenance.
// POST /api/v1/scans returns a run in the running state; clients poll
// GET /api/v1/scans/{id} until it finishes.
type ScanRun struct {
	ID                uuid.UUID  `db:"id"                  json:"id"`
	Trigger           string     `db:"trigger_source"      json:"trigger"`
	Status            string     `db:"status"              json:"status"`
	MachinesProcessed int        `db:"machines_processed"  json:"machines_processed"`
	DecisionsProduced int        `db:"decisions_produced"  json:"decisions_produced"`
	WorkOrdersCreated int        `db:"work_orders_created" json:"work_orders_created"`
	NotificationsSent int        `db:"notifications_sent"  json:"notifications_sent"`
	Errors            []string   `db:"errors"              json:"errors"`
	StartedAt         time.Time  `db:"started_at"          json:"started_at"`
	CompletedAt       *time.Time `db:"completed_at"        json:"completed_at,omitempty"`
	DurationMs        int64      `db:"duration_ms"         json:"duration_ms"`
}
