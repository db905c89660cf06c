package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

// MemoryStore is an in-process Store. Transactions are serialized behind a
// single lock and roll back by restoring a snapshot.
type MemoryStore struct {
	mu   sync.Mutex
	data memoryData
}

type memoryData struct {
	machines   map[string]models.Machine
	records    []models.MaintenanceRecord
	workOrders map[uuid.UUID]models.WorkOrder
	decisions  map[uuid.UUID]models.AIDecision
	scanRuns   map[uuid.UUID]models.ScanRun
	apiKeys    map[uuid.UUID]models.APIKey
	woCounters map[int]int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: memoryData{
		machines:   map[string]models.Machine{},
		workOrders: map[uuid.UUID]models.WorkOrder{},
		decisions:  map[uuid.UUID]models.AIDecision{},
		scanRuns:   map[uuid.UUID]models.ScanRun{},
		apiKeys:    map[uuid.UUID]models.APIKey{},
		woCounters: map[int]int{},
	}}
}

func (d memoryData) clone() memoryData {
	c := memoryData{
		machines:   make(map[string]models.Machine, len(d.machines)),
		records:    append([]models.MaintenanceRecord(nil), d.records...),
		workOrders: make(map[uuid.UUID]models.WorkOrder, len(d.workOrders)),
		decisions:  make(map[uuid.UUID]models.AIDecision, len(d.decisions)),
		scanRuns:   make(map[uuid.UUID]models.ScanRun, len(d.scanRuns)),
		apiKeys:    make(map[uuid.UUID]models.APIKey, len(d.apiKeys)),
		woCounters: make(map[int]int, len(d.woCounters)),
	}
	for k, v := range d.machines {
		c.machines[k] = v
	}
	for k, v := range d.workOrders {
		c.workOrders[k] = v
	}
	for k, v := range d.decisions {
		c.decisions[k] = v
	}
	for k, v := range d.scanRuns {
		c.scanRuns[k] = v
	}
	for k, v := range d.apiKeys {
		c.apiKeys[k] = v
	}
	for k, v := range d.woCounters {
		c.woCounters[k] = v
	}
	return c
}

// PutMachine inserts or replaces a machine.
func (s *MemoryStore) PutMachine(m models.Machine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Status == "" {
		m.Status = models.MachineStatusActive
	}
	s.data.machines[m.ID] = m
}

// PutMaintenanceRecord appends a maintenance record.
func (s *MemoryStore) PutMaintenanceRecord(r models.MaintenanceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	s.data.records = append(s.data.records, r)
}

// PutWorkOrder inserts or replaces a work order without numbering or
// invariant checks.
func (s *MemoryStore) PutWorkOrder(wo models.WorkOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wo.ID == uuid.Nil {
		wo.ID = uuid.New()
	}
	s.data.workOrders[wo.ID] = wo
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) InTx(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(&memTx{d: &s.data}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// --- Machines ---

func (s *MemoryStore) GetMachine(_ context.Context, id string) (*models.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data.machines[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *MemoryStore) ListMachinesDueForPM(_ context.Context, dueBy time.Time) ([]*models.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := models.Day(dueBy)
	var out []*models.Machine
	for _, m := range s.data.machines {
		if m.Status == models.MachineStatusActive && !models.Day(m.NextPMDate).After(cutoff) {
			m := m
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextPMDate.Equal(out[j].NextPMDate) {
			return out[i].NextPMDate.Before(out[j].NextPMDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ListMachines(_ context.Context, filter MachineFilter) ([]*models.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Machine
	for _, m := range s.data.machines {
		if filter.Location != "" && m.Location != filter.Location {
			continue
		}
		if filter.Status != "" && m.Status != filter.Status {
			continue
		}
		m := m
		out = append(out, &m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextPMDate.Equal(out[j].NextPMDate) {
			return out[i].NextPMDate.Before(out[j].NextPMDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ListMaintenanceRecords(_ context.Context, machineID string, limit int) ([]*models.MaintenanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.MaintenanceRecord
	for _, r := range s.data.records {
		if r.MachineID == machineID {
			r := r
			out = append(out, &r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].MaintenanceDate.Equal(out[j].MaintenanceDate) {
			return out[i].MaintenanceDate.After(out[j].MaintenanceDate)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Work Orders ---

func (s *MemoryStore) GetWorkOrder(_ context.Context, id uuid.UUID) (*models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wo, ok := s.data.workOrders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &wo, nil
}

func (s *MemoryStore) GetWorkOrderByNumber(_ context.Context, number string) (*models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, wo := range s.data.workOrders {
		if wo.WONumber == number {
			return &wo, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListWorkOrders(_ context.Context, filter WorkOrderFilter) ([]*models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.WorkOrder
	for _, wo := range s.data.workOrders {
		if filter.MachineID != "" && wo.MachineID != filter.MachineID {
			continue
		}
		if filter.Status != "" && wo.Status != filter.Status {
			continue
		}
		if filter.CreationSource != "" && wo.CreationSource != filter.CreationSource {
			continue
		}
		wo := wo
		out = append(out, &wo)
	}
	sortWorkOrders(out)
	if limit := NormalizeLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListOpenWorkOrders(_ context.Context, machineID string) ([]*models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.openWorkOrders(machineID), nil
}

func (d *memoryData) openWorkOrders(machineID string) []*models.WorkOrder {
	var out []*models.WorkOrder
	for _, wo := range d.workOrders {
		if wo.MachineID == machineID && wo.Status.IsOpen() {
			wo := wo
			out = append(out, &wo)
		}
	}
	sortWorkOrders(out)
	return out
}

func sortWorkOrders(wos []*models.WorkOrder) {
	sort.Slice(wos, func(i, j int) bool {
		if !wos[i].CreatedAt.Equal(wos[j].CreatedAt) {
			return wos[i].CreatedAt.After(wos[j].CreatedAt)
		}
		return wos[i].WONumber > wos[j].WONumber
	})
}

// --- Decisions ---

func (s *MemoryStore) CreateDecision(_ context.Context, d *models.AIDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data.decisions[d.ID]; exists {
		return ErrDuplicateKey
	}
	s.data.decisions[d.ID] = *d
	return nil
}

func (s *MemoryStore) GetDecision(_ context.Context, id uuid.UUID) (*models.AIDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data.decisions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (s *MemoryStore) ListDecisions(_ context.Context, filter DecisionFilter) ([]*models.AIDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AIDecision
	for _, d := range s.data.decisions {
		if filter.MachineID != "" && d.MachineID != filter.MachineID {
			continue
		}
		d := d
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit := NormalizeLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DecisionStatistics(_ context.Context) (*models.DecisionStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &models.DecisionStatistics{
		ByKind:     map[string]int{},
		ByProvider: map[string]int{},
	}
	var sum float64
	for _, d := range s.data.decisions {
		stats.TotalDecisions++
		sum += d.Confidence
		stats.ByKind[string(d.Decision)]++
		stats.ByProvider[d.ProviderName]++
		if d.RequiresReview {
			stats.RequiringReviewCount++
		}
		if d.AutoExecuted {
			stats.AutoExecutedCount++
		}
	}
	if stats.TotalDecisions > 0 {
		stats.AverageConfidence = math.Round(sum/float64(stats.TotalDecisions)*100) / 100
	}
	stats.ManualReviewCount = stats.TotalDecisions - stats.AutoExecutedCount
	return stats, nil
}

// --- Scan Runs ---

func (s *MemoryStore) CreateScanRun(_ context.Context, run *models.ScanRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data.scanRuns[run.ID]; exists {
		return ErrDuplicateKey
	}
	s.data.scanRuns[run.ID] = copyScanRun(*run)
	return nil
}

func (s *MemoryStore) UpdateScanRun(_ context.Context, run *models.ScanRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data.scanRuns[run.ID]; !exists {
		return ErrNotFound
	}
	s.data.scanRuns[run.ID] = copyScanRun(*run)
	return nil
}

func (s *MemoryStore) GetScanRun(_ context.Context, id uuid.UUID) (*models.ScanRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.data.scanRuns[id]
	if !ok {
		return nil, ErrNotFound
	}
	run = copyScanRun(run)
	return &run, nil
}

func (s *MemoryStore) ListScanRuns(_ context.Context, limit int) ([]*models.ScanRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ScanRun
	for _, run := range s.data.scanRuns {
		run = copyScanRun(run)
		out = append(out, &run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit = NormalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyScanRun(run models.ScanRun) models.ScanRun {
	run.Errors = append([]string{}, run.Errors...)
	return run
}

// --- API Keys ---

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.data.apiKeys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			k := k
			out = append(out, &k)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.data.apiKeys[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.LastUsedAt = &now
	k.UpdatedAt = now
	s.data.apiKeys[id] = k
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.data.apiKeys {
		if k.ID == key.ID || k.KeyHash == key.KeyHash {
			return ErrDuplicateKey
		}
	}
	s.data.apiKeys[key.ID] = *key
	return nil
}

func (s *MemoryStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.data.apiKeys {
		if k.DeletedAt == nil {
			k := k
			out = append(out, &k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.data.apiKeys[id]
	if !ok || k.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	k.UpdatedAt = now
	s.data.apiKeys[id] = k
	return nil
}

// --- Transaction ---

// memTx operates on the store's data while InTx holds the lock.
type memTx struct {
	d *memoryData
}

func (t *memTx) GetMachineForUpdate(_ context.Context, id string) (*models.Machine, error) {
	m, ok := t.d.machines[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (t *memTx) UpdateMachineSchedule(_ context.Context, id string, lastPM, nextPM time.Time) error {
	m, ok := t.d.machines[id]
	if !ok {
		return ErrNotFound
	}
	last := models.Day(lastPM)
	m.LastPMDate = &last
	m.NextPMDate = models.Day(nextPM)
	m.UpdatedAt = time.Now().UTC()
	t.d.machines[id] = m
	return nil
}

func (t *memTx) AppendMaintenanceRecord(_ context.Context, rec *models.MaintenanceRecord) error {
	if _, ok := t.d.machines[rec.MachineID]; !ok {
		return ErrNotFound
	}
	t.d.records = append(t.d.records, *rec)
	return nil
}

func (t *memTx) GetDecision(_ context.Context, id uuid.UUID) (*models.AIDecision, error) {
	d, ok := t.d.decisions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (t *memTx) ClaimDecision(_ context.Context, id uuid.UUID, at time.Time) (*models.AIDecision, bool, error) {
	d, ok := t.d.decisions[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if d.AutoExecuted {
		return &d, false, nil
	}
	d.AutoExecuted = true
	d.ExecutedAt = &at
	t.d.decisions[id] = d
	return &d, true, nil
}

func (t *memTx) ListOpenWorkOrders(_ context.Context, machineID string) ([]*models.WorkOrder, error) {
	return t.d.openWorkOrders(machineID), nil
}

func (t *memTx) GetWorkOrder(ctx context.Context, id uuid.UUID) (*models.WorkOrder, error) {
	return t.GetWorkOrderForUpdate(ctx, id)
}

func (t *memTx) GetWorkOrderForUpdate(_ context.Context, id uuid.UUID) (*models.WorkOrder, error) {
	wo, ok := t.d.workOrders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &wo, nil
}

func (t *memTx) CreateWorkOrder(_ context.Context, wo *models.WorkOrder) error {
	if _, ok := t.d.machines[wo.MachineID]; !ok {
		return ErrNotFound
	}
	if wo.Status.IsOpen() && len(t.d.openWorkOrders(wo.MachineID)) > 0 {
		return ErrOpenWorkOrderExists
	}
	year := wo.CreatedAt.UTC().Year()
	t.d.woCounters[year]++
	wo.WONumber = FormatWONumber(year, t.d.woCounters[year])
	t.d.workOrders[wo.ID] = *wo
	return nil
}

func (t *memTx) UpdateWorkOrder(_ context.Context, wo *models.WorkOrder) error {
	if _, ok := t.d.workOrders[wo.ID]; !ok {
		return ErrNotFound
	}
	if wo.Status.IsOpen() {
		for _, other := range t.d.openWorkOrders(wo.MachineID) {
			if other.ID != wo.ID {
				return ErrOpenWorkOrderExists
			}
		}
	}
	t.d.workOrders[wo.ID] = *wo
	return nil
}

func (t *memTx) MarkNotificationSent(_ context.Context, id uuid.UUID, status models.WorkOrderStatus, at time.Time) error {
	wo, ok := t.d.workOrders[id]
	if !ok {
		return ErrNotFound
	}
	if wo.Status != status {
		return ErrStatusChanged
	}
	wo.NotificationSent = true
	wo.NotificationSentAt = &at
	wo.UpdatedAt = at
	t.d.workOrders[id] = wo
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
