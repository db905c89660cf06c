package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

const openWorkOrderIndex = "uq_work_orders_open_per_machine"

const machineColumns = `id, name, location, pm_frequency_days, last_pm_date, next_pm_date,
	supplier_name, supplier_email, status, created_at, updated_at`

const workOrderColumns = `id, wo_number, machine_id, status, priority, creation_source, ai_decision_id,
	scheduled_date, completed_date, notes, notification_sent, notification_sent_at,
	approved_by, approved_at, created_at, updated_at`

const decisionColumns = `id, machine_id, decision, priority, confidence, explanation, input_context,
	provider_name, model_name, raw_response, requires_review, auto_executed, executed_at, created_at`

const scanRunColumns = `id, trigger_source, status, machines_processed, decisions_produced,
	work_orders_created, notifications_sent, errors, started_at, completed_at, duration_ms`

const apiKeyColumns = `id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InTx runs fn inside a transaction that commits only if fn returns nil.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{q: tx})
	})
}

// --- Machines ---

func (s *PostgresStore) GetMachine(ctx context.Context, id string) (*models.Machine, error) {
	return getMachine(ctx, s.pool, id, false)
}

func (s *PostgresStore) ListMachinesDueForPM(ctx context.Context, dueBy time.Time) ([]*models.Machine, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+machineColumns+` FROM machines
		 WHERE status = $1 AND next_pm_date <= $2 ORDER BY next_pm_date, id`,
		models.MachineStatusActive, models.Day(dueBy))
	if err != nil {
		return nil, fmt.Errorf("list machines due for pm: %w", err)
	}
	defer rows.Close()

	var machines []*models.Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan machine: %w", err)
		}
		machines = append(machines, m)
	}
	return machines, rows.Err()
}

func (s *PostgresStore) ListMachines(ctx context.Context, filter MachineFilter) ([]*models.Machine, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	if filter.Location != "" {
		args = append(args, filter.Location)
		conditions = append(conditions, fmt.Sprintf("location = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+machineColumns+` FROM machines WHERE `+strings.Join(conditions, " AND ")+
			` ORDER BY next_pm_date, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	defer rows.Close()

	var machines []*models.Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan machine: %w", err)
		}
		machines = append(machines, m)
	}
	return machines, rows.Err()
}

func (s *PostgresStore) ListMaintenanceRecords(ctx context.Context, machineID string, limit int) ([]*models.MaintenanceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, machine_id, maintenance_date, maintenance_type, performed_by, notes, work_order_id, created_at
		 FROM maintenance_records WHERE machine_id = $1
		 ORDER BY maintenance_date DESC, created_at DESC LIMIT $2`, machineID, limit)
	if err != nil {
		return nil, fmt.Errorf("list maintenance records: %w", err)
	}
	defer rows.Close()

	var records []*models.MaintenanceRecord
	for rows.Next() {
		var r models.MaintenanceRecord
		if err := rows.Scan(&r.ID, &r.MachineID, &r.MaintenanceDate, &r.Type, &r.PerformedBy,
			&r.Notes, &r.WorkOrderID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan maintenance record: %w", err)
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

// --- Work Orders ---

func (s *PostgresStore) GetWorkOrder(ctx context.Context, id uuid.UUID) (*models.WorkOrder, error) {
	return getWorkOrder(ctx, s.pool, id, false)
}

func (s *PostgresStore) GetWorkOrderByNumber(ctx context.Context, number string) (*models.WorkOrder, error) {
	wo, err := scanWorkOrder(s.pool.QueryRow(ctx,
		`SELECT `+workOrderColumns+` FROM work_orders WHERE wo_number = $1`, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get work order by number: %w", err)
	}
	return wo, nil
}

func (s *PostgresStore) ListWorkOrders(ctx context.Context, filter WorkOrderFilter) ([]*models.WorkOrder, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.MachineID != "" {
		conditions = append(conditions, fmt.Sprintf("machine_id = $%d", argIdx))
		args = append(args, filter.MachineID)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.CreationSource != "" {
		conditions = append(conditions, fmt.Sprintf("creation_source = $%d", argIdx))
		args = append(args, string(filter.CreationSource))
		argIdx++
	}

	query := fmt.Sprintf(`SELECT %s FROM work_orders WHERE %s ORDER BY created_at DESC LIMIT $%d`,
		workOrderColumns, strings.Join(conditions, " AND "), argIdx)
	args = append(args, NormalizeLimit(filter.Limit))

	return queryWorkOrders(ctx, s.pool, query, args...)
}

func (s *PostgresStore) ListOpenWorkOrders(ctx context.Context, machineID string) ([]*models.WorkOrder, error) {
	return listOpenWorkOrders(ctx, s.pool, machineID)
}

// --- Decisions ---

func (s *PostgresStore) CreateDecision(ctx context.Context, d *models.AIDecision) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ai_decisions (id, machine_id, decision, priority, confidence, explanation, input_context,
		   provider_name, model_name, raw_response, requires_review, auto_executed, executed_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		d.ID, d.MachineID, string(d.Decision), string(d.Priority), d.Confidence, d.Explanation,
		[]byte(d.InputContext), d.ProviderName, d.ModelName, d.RawResponse, d.RequiresReview,
		d.AutoExecuted, d.ExecutedAt, d.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDecision(ctx context.Context, id uuid.UUID) (*models.AIDecision, error) {
	return getDecision(ctx, s.pool, id)
}

func (s *PostgresStore) ListDecisions(ctx context.Context, filter DecisionFilter) ([]*models.AIDecision, error) {
	limit := NormalizeLimit(filter.Limit)

	var rows pgx.Rows
	var err error
	if filter.MachineID != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+decisionColumns+` FROM ai_decisions WHERE machine_id = $1
			 ORDER BY created_at DESC LIMIT $2`, filter.MachineID, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+decisionColumns+` FROM ai_decisions ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*models.AIDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

func (s *PostgresStore) DecisionStatistics(ctx context.Context) (*models.DecisionStatistics, error) {
	stats := &models.DecisionStatistics{
		ByKind:     map[string]int{},
		ByProvider: map[string]int{},
	}

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(AVG(confidence), 0),
		        COUNT(*) FILTER (WHERE requires_review),
		        COUNT(*) FILTER (WHERE auto_executed)
		 FROM ai_decisions`,
	).Scan(&stats.TotalDecisions, &stats.AverageConfidence, &stats.RequiringReviewCount, &stats.AutoExecutedCount)
	if err != nil {
		return nil, fmt.Errorf("decision totals: %w", err)
	}
	stats.AverageConfidence = math.Round(stats.AverageConfidence*100) / 100
	stats.ManualReviewCount = stats.TotalDecisions - stats.AutoExecutedCount

	if err := countInto(ctx, s.pool, `SELECT decision, COUNT(*) FROM ai_decisions GROUP BY decision`, stats.ByKind); err != nil {
		return nil, fmt.Errorf("decisions by kind: %w", err)
	}
	if err := countInto(ctx, s.pool, `SELECT provider_name, COUNT(*) FROM ai_decisions GROUP BY provider_name`, stats.ByProvider); err != nil {
		return nil, fmt.Errorf("decisions by provider: %w", err)
	}
	return stats, nil
}

func countInto(ctx context.Context, q querier, query string, dst map[string]int) error {
	rows, err := q.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		dst[key] = n
	}
	return rows.Err()
}

// --- Scan Runs ---

func (s *PostgresStore) CreateScanRun(ctx context.Context, run *models.ScanRun) error {
	errs, err := json.Marshal(nonNilStrings(run.Errors))
	if err != nil {
		return fmt.Errorf("encode scan run errors: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO scan_runs (`+scanRunColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.Trigger, run.Status, run.MachinesProcessed, run.DecisionsProduced,
		run.WorkOrdersCreated, run.NotificationsSent, errs, run.StartedAt, run.CompletedAt, run.DurationMs)
	if err != nil {
		return fmt.Errorf("create scan run: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateScanRun(ctx context.Context, run *models.ScanRun) error {
	errs, err := json.Marshal(nonNilStrings(run.Errors))
	if err != nil {
		return fmt.Errorf("encode scan run errors: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE scan_runs SET status = $2, machines_processed = $3, decisions_produced = $4,
		   work_orders_created = $5, notifications_sent = $6, errors = $7, completed_at = $8, duration_ms = $9
		 WHERE id = $1`,
		run.ID, run.Status, run.MachinesProcessed, run.DecisionsProduced, run.WorkOrdersCreated,
		run.NotificationsSent, errs, run.CompletedAt, run.DurationMs)
	if err != nil {
		return fmt.Errorf("update scan run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetScanRun(ctx context.Context, id uuid.UUID) (*models.ScanRun, error) {
	run, err := scanScanRun(s.pool.QueryRow(ctx,
		`SELECT `+scanRunColumns+` FROM scan_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scan run: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) ListScanRuns(ctx context.Context, limit int) ([]*models.ScanRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+scanRunColumns+` FROM scan_runs ORDER BY started_at DESC LIMIT $1`, NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list scan runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.ScanRun
	for rows.Next() {
		run, err := scanScanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	return queryAPIKeys(ctx, s.pool,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	return queryAPIKeys(ctx, s.pool,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func queryAPIKeys(ctx context.Context, q querier, query string, args ...any) ([]*models.APIKey, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// --- Transaction ---

// pgTx implements Tx on top of a pgx transaction.
type pgTx struct {
	q querier
}

func (t *pgTx) GetMachineForUpdate(ctx context.Context, id string) (*models.Machine, error) {
	return getMachine(ctx, t.q, id, true)
}

func (t *pgTx) UpdateMachineSchedule(ctx context.Context, id string, lastPM, nextPM time.Time) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE machines SET last_pm_date = $2, next_pm_date = $3, updated_at = NOW() WHERE id = $1`,
		id, models.Day(lastPM), models.Day(nextPM))
	if err != nil {
		return fmt.Errorf("update machine schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) AppendMaintenanceRecord(ctx context.Context, rec *models.MaintenanceRecord) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO maintenance_records (id, machine_id, maintenance_date, maintenance_type, performed_by, notes, work_order_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.MachineID, models.Day(rec.MaintenanceDate), rec.Type, rec.PerformedBy, rec.Notes,
		rec.WorkOrderID, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("append maintenance record: %w", err)
	}
	return nil
}

func (t *pgTx) GetDecision(ctx context.Context, id uuid.UUID) (*models.AIDecision, error) {
	return getDecision(ctx, t.q, id)
}

func (t *pgTx) ClaimDecision(ctx context.Context, id uuid.UUID, at time.Time) (*models.AIDecision, bool, error) {
	d, err := scanDecision(t.q.QueryRow(ctx,
		`UPDATE ai_decisions SET auto_executed = TRUE, executed_at = $2
		 WHERE id = $1 AND auto_executed = FALSE
		 RETURNING `+decisionColumns, id, at))
	if err == nil {
		return d, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("claim decision: %w", err)
	}

	// Either missing or already executed.
	d, err = getDecision(ctx, t.q, id)
	if err != nil {
		return nil, false, err
	}
	return d, false, nil
}

func (t *pgTx) ListOpenWorkOrders(ctx context.Context, machineID string) ([]*models.WorkOrder, error) {
	return listOpenWorkOrders(ctx, t.q, machineID)
}

func (t *pgTx) GetWorkOrder(ctx context.Context, id uuid.UUID) (*models.WorkOrder, error) {
	return getWorkOrder(ctx, t.q, id, false)
}

func (t *pgTx) GetWorkOrderForUpdate(ctx context.Context, id uuid.UUID) (*models.WorkOrder, error) {
	return getWorkOrder(ctx, t.q, id, true)
}

func (t *pgTx) CreateWorkOrder(ctx context.Context, wo *models.WorkOrder) error {
	year := wo.CreatedAt.UTC().Year()
	var seq int
	err := t.q.QueryRow(ctx,
		`INSERT INTO work_order_counters (year, last_seq) VALUES ($1, 1)
		 ON CONFLICT (year) DO UPDATE SET last_seq = work_order_counters.last_seq + 1
		 RETURNING last_seq`, year).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next work order number: %w", err)
	}
	wo.WONumber = FormatWONumber(year, seq)

	_, err = t.q.Exec(ctx,
		`INSERT INTO work_orders (`+workOrderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		wo.ID, wo.WONumber, wo.MachineID, string(wo.Status), string(wo.Priority), string(wo.CreationSource),
		wo.AIDecisionID, wo.ScheduledDate, wo.CompletedDate, wo.Notes, wo.NotificationSent,
		wo.NotificationSentAt, wo.ApprovedBy, wo.ApprovedAt, wo.CreatedAt, wo.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == openWorkOrderIndex {
			return ErrOpenWorkOrderExists
		}
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create work order: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateWorkOrder(ctx context.Context, wo *models.WorkOrder) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE work_orders SET status = $2, priority = $3, scheduled_date = $4, completed_date = $5,
		   notes = $6, notification_sent = $7, notification_sent_at = $8, approved_by = $9,
		   approved_at = $10, updated_at = $11
		 WHERE id = $1`,
		wo.ID, string(wo.Status), string(wo.Priority), wo.ScheduledDate, wo.CompletedDate, wo.Notes,
		wo.NotificationSent, wo.NotificationSentAt, wo.ApprovedBy, wo.ApprovedAt, wo.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == openWorkOrderIndex {
			return ErrOpenWorkOrderExists
		}
		return fmt.Errorf("update work order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) MarkNotificationSent(ctx context.Context, id uuid.UUID, status models.WorkOrderStatus, at time.Time) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE work_orders SET notification_sent = TRUE, notification_sent_at = $3, updated_at = $3
		 WHERE id = $1 AND status = $2`,
		id, string(status), at)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := getWorkOrder(ctx, t.q, id, false); err != nil {
			return err
		}
		return ErrStatusChanged
	}
	return nil
}

// --- shared query helpers ---

func getMachine(ctx context.Context, q querier, id string, forUpdate bool) (*models.Machine, error) {
	query := `SELECT ` + machineColumns + ` FROM machines WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	m, err := scanMachine(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get machine: %w", err)
	}
	return m, nil
}

func getWorkOrder(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*models.WorkOrder, error) {
	query := `SELECT ` + workOrderColumns + ` FROM work_orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	wo, err := scanWorkOrder(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get work order: %w", err)
	}
	return wo, nil
}

func getDecision(ctx context.Context, q querier, id uuid.UUID) (*models.AIDecision, error) {
	d, err := scanDecision(q.QueryRow(ctx, `SELECT `+decisionColumns+` FROM ai_decisions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	return d, nil
}

func listOpenWorkOrders(ctx context.Context, q querier, machineID string) ([]*models.WorkOrder, error) {
	statuses := make([]string, len(models.OpenWorkOrderStatuses))
	for i, st := range models.OpenWorkOrderStatuses {
		statuses[i] = string(st)
	}
	return queryWorkOrders(ctx, q,
		`SELECT `+workOrderColumns+` FROM work_orders
		 WHERE machine_id = $1 AND status = ANY($2) ORDER BY created_at DESC`, machineID, statuses)
}

func queryWorkOrders(ctx context.Context, q querier, query string, args ...any) ([]*models.WorkOrder, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query work orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan work order: %w", err)
		}
		orders = append(orders, wo)
	}
	return orders, rows.Err()
}

func scanMachine(row rowScanner) (*models.Machine, error) {
	var m models.Machine
	err := row.Scan(&m.ID, &m.Name, &m.Location, &m.PMFrequencyDays, &m.LastPMDate, &m.NextPMDate,
		&m.SupplierName, &m.SupplierEmail, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanWorkOrder(row rowScanner) (*models.WorkOrder, error) {
	var wo models.WorkOrder
	var status, priority, source string
	err := row.Scan(&wo.ID, &wo.WONumber, &wo.MachineID, &status, &priority, &source, &wo.AIDecisionID,
		&wo.ScheduledDate, &wo.CompletedDate, &wo.Notes, &wo.NotificationSent, &wo.NotificationSentAt,
		&wo.ApprovedBy, &wo.ApprovedAt, &wo.CreatedAt, &wo.UpdatedAt)
	if err != nil {
		return nil, err
	}
	wo.Status = models.WorkOrderStatus(status)
	wo.Priority = models.Priority(priority)
	wo.CreationSource = models.CreationSource(source)
	return &wo, nil
}

func scanDecision(row rowScanner) (*models.AIDecision, error) {
	var d models.AIDecision
	var decision, priority string
	var inputContext []byte
	err := row.Scan(&d.ID, &d.MachineID, &decision, &priority, &d.Confidence, &d.Explanation, &inputContext,
		&d.ProviderName, &d.ModelName, &d.RawResponse, &d.RequiresReview, &d.AutoExecuted, &d.ExecutedAt, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.Decision = models.DecisionKind(decision)
	d.Priority = models.Priority(priority)
	d.InputContext = inputContext
	return &d, nil
}

func scanScanRun(row rowScanner) (*models.ScanRun, error) {
	var run models.ScanRun
	var errs []byte
	err := row.Scan(&run.ID, &run.Trigger, &run.Status, &run.MachinesProcessed, &run.DecisionsProduced,
		&run.WorkOrdersCreated, &run.NotificationsSent, &errs, &run.StartedAt, &run.CompletedAt, &run.DurationMs)
	if err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &run.Errors); err != nil {
			return nil, fmt.Errorf("decode scan run errors: %w", err)
		}
	}
	run.Errors = nonNilStrings(run.Errors)
	return &run, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
