package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/internal/cache"
	"github.com/kiranshivaraju/pmengine/internal/observability"
	"github.com/kiranshivaraju/pmengine/internal/store"
	"github.com/kiranshivaraju/pmengine/pkg/models"
	"go.opentelemetry.io/otel/attribute"
)

// statisticsTTL bounds how stale cached statistics may be.
const statisticsTTL = 30 * time.Second

// Outcome is a persisted decision and whether it may execute unattended.
type Outcome struct {
	Decision       *models.AIDecision `json:"decision"`
	CanAutoExecute bool               `json:"can_auto_execute"`
}

// Service produces and queries AI decisions.
type Service struct {
	builder *Builder
	backend models.ReasoningBackend
	gate    Gate
	store   store.Store
	cache   cache.Cache
	now     func() time.Time
}

func NewService(builder *Builder, backend models.ReasoningBackend, gate Gate, st store.Store, ca cache.Cache, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{builder: builder, backend: backend, gate: gate, store: st, cache: ca, now: now}
}

// Context returns the decision context for a machine without asking the backend.
func (s *Service) Context(ctx context.Context, machineID string) (*models.DecisionContext, error) {
	return s.builder.Build(ctx, machineID)
}

// Produce builds a context, asks the backend, gates the reply and persists
// the decision. Nothing is persisted on any failure.
func (s *Service) Produce(ctx context.Context, machineID string) (out *Outcome, err error) {
	ctx, span := observability.StartSpan(ctx, "decision.produce", attribute.String("machine_id", machineID))
	defer func() {
		if err != nil {
			observability.DecisionFailuresTotal.WithLabelValues(failureKind(err)).Inc()
		}
		observability.EndSpan(span, err)
	}()

	dc, err := s.builder.Build(ctx, machineID)
	if err != nil {
		return nil, err
	}

	reply, err := s.backend.Decide(ctx, *dc)
	if err != nil {
		slog.Warn("reasoning backend failed",
			"machine_id", machineID,
			"provider", s.backend.Name(),
			"error", apperr.Loggable(err),
		)
		return nil, err
	}

	verdict, err := s.gate.Evaluate(reply)
	if err != nil {
		slog.Warn("decision rejected by validator",
			"machine_id", machineID,
			"provider", s.backend.Name(),
			"error", apperr.Loggable(err),
		)
		return nil, err
	}

	input, err := json.Marshal(dc)
	if err != nil {
		return nil, fmt.Errorf("encoding decision context: %w", err)
	}

	d := &models.AIDecision{
		ID:             uuid.New(),
		MachineID:      machineID,
		Decision:       verdict.Decision.Decision,
		Priority:       verdict.Decision.Priority,
		Confidence:     verdict.Decision.Confidence,
		Explanation:    verdict.Decision.Explanation,
		InputContext:   input,
		ProviderName:   s.backend.Name(),
		ModelName:      s.backend.Model(),
		RawResponse:    reply.RawResponse,
		RequiresReview: verdict.RequiresReview,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.CreateDecision(ctx, d); err != nil {
		return nil, fmt.Errorf("storing decision: %w", err)
	}
	s.InvalidateStatistics(ctx)

	observability.DecisionsProducedTotal.
		WithLabelValues(string(d.Decision), d.ProviderName, strconv.FormatBool(d.RequiresReview)).
		Inc()
	slog.Info("decision produced",
		"decision_id", d.ID,
		"machine_id", machineID,
		"decision", d.Decision,
		"priority", d.Priority,
		"confidence", d.Confidence,
		"requires_review", d.RequiresReview,
	)

	return &Outcome{Decision: d, CanAutoExecute: verdict.CanAutoExecute}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.AIDecision, error) {
	d, err := s.store.GetDecision(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "decision %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading decision: %w", err)
	}
	return d, nil
}

// ListRecent returns decisions newest first. limit 0 means the default page size.
func (s *Service) ListRecent(ctx context.Context, limit int, machineID string) ([]*models.AIDecision, error) {
	if limit < 0 || limit > store.MaxListLimit {
		return nil, apperr.New(apperr.KindInvalidInput, "limit must be between 1 and %d", store.MaxListLimit)
	}
	ds, err := s.store.ListDecisions(ctx, store.DecisionFilter{MachineID: machineID, Limit: store.NormalizeLimit(limit)})
	if err != nil {
		return nil, fmt.Errorf("listing decisions: %w", err)
	}
	return ds, nil
}

// Statistics aggregates all decisions, served from cache when fresh.
func (s *Service) Statistics(ctx context.Context) (*models.DecisionStatistics, error) {
	if raw, ok, err := s.cache.Get(ctx, cache.StatisticsKey()); err == nil && ok {
		var stats models.DecisionStatistics
		if err := json.Unmarshal(raw, &stats); err == nil {
			return &stats, nil
		}
	}

	stats, err := s.store.DecisionStatistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("computing statistics: %w", err)
	}
	if raw, err := json.Marshal(stats); err == nil {
		_ = s.cache.Set(ctx, cache.StatisticsKey(), raw, statisticsTTL)
	}
	return stats, nil
}

// InvalidateStatistics drops the cached statistics after a write.
func (s *Service) InvalidateStatistics(ctx context.Context) {
	if err := s.cache.Delete(ctx, cache.StatisticsKey()); err != nil {
		slog.Debug("statistics cache invalidation failed", "error", err)
	}
}

func failureKind(err error) string {
	if k := apperr.KindOf(err); k != "" {
		return string(k)
	}
	return "INTERNAL"
}
