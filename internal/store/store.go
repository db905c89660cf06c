package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrOpenWorkOrderExists is returned when inserting a work order would give a
// machine a second open work order.
var ErrOpenWorkOrderExists = errors.New("machine already has an open work order")

// ErrStatusChanged is returned by conditional updates when the row is no
// longer in the expected status.
var ErrStatusChanged = errors.New("work order status changed")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetMachine(ctx context.Context, id string) (*models.Machine, error)
	// ListMachines returns machines ordered by next PM date, then ID.
	ListMachines(ctx context.Context, filter MachineFilter) ([]*models.Machine, error)
	ListMachinesDueForPM(ctx context.Context, dueBy time.Time) ([]*models.Machine, error)
	ListMaintenanceRecords(ctx context.Context, machineID string, limit int) ([]*models.MaintenanceRecord, error)

	GetWorkOrder(ctx context.Context, id uuid.UUID) (*models.WorkOrder, error)
	GetWorkOrderByNumber(ctx context.Context, number string) (*models.WorkOrder, error)
	ListWorkOrders(ctx context.Context, filter WorkOrderFilter) ([]*models.WorkOrder, error)
	ListOpenWorkOrders(ctx context.Context, machineID string) ([]*models.WorkOrder, error)

	CreateDecision(ctx context.Context, d *models.AIDecision) error
	GetDecision(ctx context.Context, id uuid.UUID) (*models.AIDecision, error)
	ListDecisions(ctx context.Context, filter DecisionFilter) ([]*models.AIDecision, error)
	DecisionStatistics(ctx context.Context) (*models.DecisionStatistics, error)

	CreateScanRun(ctx context.Context, run *models.ScanRun) error
	UpdateScanRun(ctx context.Context, run *models.ScanRun) error
	GetScanRun(ctx context.Context, id uuid.UUID) (*models.ScanRun, error)
	ListScanRuns(ctx context.Context, limit int) ([]*models.ScanRun, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	// InTx runs fn in a single transaction. fn's error rolls everything back.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of operations that must commit or roll back together.
type Tx interface {
	// GetMachineForUpdate locks the machine row until the transaction ends,
	// serializing work order creation per machine.
	GetMachineForUpdate(ctx context.Context, id string) (*models.Machine, error)
	UpdateMachineSchedule(ctx context.Context, id string, lastPM, nextPM time.Time) error
	AppendMaintenanceRecord(ctx context.Context, rec *models.MaintenanceRecord) error

	GetDecision(ctx context.Context, id uuid.UUID) (*models.AIDecision, error)
	// ClaimDecision flips auto_executed from false to true in one conditional
	// update. claimed is false when the decision was already executed.
	ClaimDecision(ctx context.Context, id uuid.UUID, at time.Time) (d *models.AIDecision, claimed bool, err error)

	ListOpenWorkOrders(ctx context.Context, machineID string) ([]*models.WorkOrder, error)
	GetWorkOrder(ctx context.Context, id uuid.UUID) (*models.WorkOrder, error)
	// GetWorkOrderForUpdate locks the work order row. Callers that also lock
	// the machine take the machine lock first.
	GetWorkOrderForUpdate(ctx context.Context, id uuid.UUID) (*models.WorkOrder, error)
	// CreateWorkOrder assigns the next WO-YYYY-NNNN number and inserts wo.
	CreateWorkOrder(ctx context.Context, wo *models.WorkOrder) error
	UpdateWorkOrder(ctx context.Context, wo *models.WorkOrder) error
	// MarkNotificationSent sets the notification fields only while the work
	// order is still in status. It returns ErrStatusChanged otherwise.
	MarkNotificationSent(ctx context.Context, id uuid.UUID, status models.WorkOrderStatus, at time.Time) error
}

// MachineFilter narrows ListMachines. Empty fields match everything.
type MachineFilter struct {
	Location string
	Status   string
}

type WorkOrderFilter struct {
	MachineID      string
	Status         models.WorkOrderStatus
	CreationSource models.CreationSource
	Limit          int
}

type DecisionFilter struct {
	MachineID string
	Limit     int
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// NormalizeLimit clamps a requested page size into [1, MaxListLimit].
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// FormatWONumber renders a work order number for the given year and sequence.
func FormatWONumber(year, seq int) string {
	return fmt.Sprintf("WO-%04d-%04d", year, seq)
}
