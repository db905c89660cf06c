package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	MachineStatusActive   = "Active"
	MachineStatusInactive = "Inactive"
)

// PM status buckets derived from days until the next preventive maintenance.
const (
	PMStatusOverdue = "overdue"
	PMStatusDueSoon = "due_soon"
	PMStatusOK      = "ok"
)

// Machine is a piece of equipment on a preventive maintenance schedule.
type Machine struct {
	ID              string     `db:"id"                json:"machine_id"`
	Name            string     `db:"name"              json:"name"`
	Location        string     `db:"location"          json:"location"`
	PMFrequencyDays int        `db:"pm_frequency_days" json:"pm_frequency_days"`
	LastPMDate      *time.Time `db:"last_pm_date"      json:"last_pm_date,omitempty"`
	NextPMDate      time.Time  `db:"next_pm_date"      json:"next_pm_date"`
	SupplierName    string     `db:"supplier_name"     json:"supplier_name"`
	SupplierEmail   string     `db:"supplier_email"    json:"supplier_email"`
	Status          string     `db:"status"            json:"status"`
	CreatedAt       time.Time  `db:"created_at"        json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"        json:"updated_at"`
}

// DaysUntilPM returns whole days from today to the machine's next PM date.
// Negative values mean the PM is overdue.
func (m *Machine) DaysUntilPM(today time.Time) int {
	return DaysBetween(today, m.NextPMDate)
}

// PMStatus buckets days until PM using the given due-soon window.
func PMStatus(daysUntilPM, dueSoonDays int) string {
	switch {
	case daysUntilPM < 0:
		return PMStatusOverdue
	case daysUntilPM <= dueSoonDays:
		return PMStatusDueSoon
	default:
		return PMStatusOK
	}
}

// Snapshot derives a machine's PM status as of today.
func Snapshot(m Machine, today time.Time, dueSoonDays int) MachineSnapshot {
	days := m.DaysUntilPM(today)
	return MachineSnapshot{
		Machine:     m,
		DaysUntilPM: days,
		PMStatus:    PMStatus(days, dueSoonDays),
	}
}

// ValidPMStatus reports whether s is one of the PM status buckets.
func ValidPMStatus(s string) bool {
	return s == PMStatusOverdue || s == PMStatusDueSoon || s == PMStatusOK
}

const (
	MaintenancePreventive = "Preventive"
	MaintenanceCorrective = "Corrective"
)

// MaintenanceRecord is an entry in a machine's maintenance history.
type MaintenanceRecord struct {
	ID              uuid.UUID  `db:"id"               json:"id"`
	MachineID       string     `db:"machine_id"       json:"machine_id"`
	MaintenanceDate time.Time  `db:"maintenance_date" json:"date"`
	Type            string     `db:"maintenance_type" json:"type"`
	PerformedBy     string     `db:"performed_by"     json:"performed_by"`
	Notes           string     `db:"notes"            json:"notes"`
	WorkOrderID     *uuid.UUID `db:"work_order_id"    json:"work_order_id,omitempty"`
	CreatedAt       time.Time  `db:"created_at"       json:"created_at"`
}
