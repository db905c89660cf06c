package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/pmengine/internal/api/response"
	"github.com/kiranshivaraju/pmengine/internal/decision"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

// DecisionService produces and reads decisions.
type DecisionService interface {
	Produce(ctx context.Context, machineID string) (*decision.Outcome, error)
	Context(ctx context.Context, machineID string) (*models.DecisionContext, error)
	Get(ctx context.Context, id uuid.UUID) (*models.AIDecision, error)
	ListRecent(ctx context.Context, limit int, machineID string) ([]*models.AIDecision, error)
	Statistics(ctx context.Context) (*models.DecisionStatistics, error)
}

// DecisionExecutor carries out a persisted decision.
type DecisionExecutor interface {
	Execute(ctx context.Context, id uuid.UUID, force bool) (*models.ExecutionResult, error)
}

type Decisions struct {
	svc  DecisionService
	exec DecisionExecutor
}

func NewDecisions(svc DecisionService, exec DecisionExecutor) *Decisions {
	return &Decisions{svc: svc, exec: exec}
}

type produceResponse struct {
	Decision       *models.AIDecision `json:"decision"`
	CanAutoExecute bool               `json:"can_auto_execute"`
}

// Produce handles POST /api/v1/machines/{machineID}/decisions.
func (h *Decisions) Produce(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Produce(r.Context(), chi.URLParam(r, "machineID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Created(w, produceResponse{Decision: out.Decision, CanAutoExecute: out.CanAutoExecute})
}

// Context handles GET /api/v1/machines/{machineID}/context.
func (h *Decisions) Context(w http.ResponseWriter, r *http.Request) {
	dc, err := h.svc.Context(r.Context(), chi.URLParam(r, "machineID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, dc)
}

// List handles GET /api/v1/decisions?limit=&machine_id=.
func (h *Decisions) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	ds, err := h.svc.ListRecent(r.Context(), limit, r.URL.Query().Get("machine_id"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	if ds == nil {
		ds = []*models.AIDecision{}
	}
	response.List(w, ds, response.ListMeta{Count: len(ds), Limit: effectiveLimit(limit)})
}

func (h *Decisions) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "decisionID")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	d, err := h.svc.Get(r.Context(), id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, d)
}

func (h *Decisions) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Statistics(r.Context())
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, stats)
}

// Execute handles POST /api/v1/decisions/{decisionID}/execute?force=.
// A low-confidence rejection is a 200 with status rejected_low_confidence.
func (h *Decisions) Execute(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "decisionID")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	force, err := queryBool(r, "force")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	res, err := h.exec.Execute(r.Context(), id, force)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, res)
}
