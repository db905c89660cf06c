package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/pmengine/internal/api/middleware"
	"github.com/kiranshivaraju/pmengine/internal/api/response"
	"github.com/kiranshivaraju/pmengine/internal/store"
	"github.com/kiranshivaraju/pmengine/internal/workorder"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

// WorkOrderService drives the work order lifecycle.
type WorkOrderService interface {
	Create(ctx context.Context, p workorder.CreateParams) (*models.WorkOrder, error)
	Submit(ctx context.Context, id uuid.UUID) (*models.WorkOrder, error)
	Approve(ctx context.Context, id uuid.UUID, approver string) (*models.WorkOrder, error)
	Schedule(ctx context.Context, id uuid.UUID, date time.Time) (*models.WorkOrder, error)
	Complete(ctx context.Context, id uuid.UUID, completed time.Time) (*models.WorkOrder, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.WorkOrder, error)
	Get(ctx context.Context, id uuid.UUID) (*models.WorkOrder, error)
	List(ctx context.Context, filter store.WorkOrderFilter) ([]*models.WorkOrder, error)
}

type WorkOrders struct {
	svc WorkOrderService
}

func NewWorkOrders(svc WorkOrderService) *WorkOrders {
	return &WorkOrders{svc: svc}
}

type createWorkOrderRequest struct {
	MachineID string                 `json:"machine_id"`
	Priority  models.Priority        `json:"priority"`
	Notes     string                 `json:"notes"`
	Status    models.WorkOrderStatus `json:"status"`
}

func (h *WorkOrders) Create(w http.ResponseWriter, r *http.Request) {
	var req createWorkOrderRequest
	if err := decodeBody(r, &req, false); err != nil {
		response.FromError(w, r, err)
		return
	}
	wo, err := h.svc.Create(r.Context(), workorder.CreateParams{
		MachineID: req.MachineID,
		Priority:  req.Priority,
		Notes:     req.Notes,
		Status:    req.Status,
	})
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Created(w, wo)
}

// List handles GET /api/v1/work-orders?status=&machine_id=&creation_source=&limit=.
func (h *WorkOrders) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	q := r.URL.Query()
	wos, err := h.svc.List(r.Context(), store.WorkOrderFilter{
		MachineID:      q.Get("machine_id"),
		Status:         models.WorkOrderStatus(q.Get("status")),
		CreationSource: models.CreationSource(q.Get("creation_source")),
		Limit:          limit,
	})
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	if wos == nil {
		wos = []*models.WorkOrder{}
	}
	response.List(w, wos, response.ListMeta{Count: len(wos), Limit: effectiveLimit(limit)})
}

func (h *WorkOrders) Get(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, h.svc.Get)
}

func (h *WorkOrders) Submit(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, h.svc.Submit)
}

func (h *WorkOrders) Cancel(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, h.svc.Cancel)
}

// Approve records approved_by from the body, or the calling key's name when omitted.
func (h *WorkOrders) Approve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ApprovedBy string `json:"approved_by"`
	}
	if err := decodeBody(r, &req, true); err != nil {
		response.FromError(w, r, err)
		return
	}
	if req.ApprovedBy == "" {
		req.ApprovedBy = mw.KeyName(r)
	}
	h.withID(w, r, func(ctx context.Context, id uuid.UUID) (*models.WorkOrder, error) {
		return h.svc.Approve(ctx, id, req.ApprovedBy)
	})
}

func (h *WorkOrders) Schedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScheduledDate string `json:"scheduled_date"`
	}
	if err := decodeBody(r, &req, false); err != nil {
		response.FromError(w, r, err)
		return
	}
	date, err := parseDate("scheduled_date", req.ScheduledDate)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	h.withID(w, r, func(ctx context.Context, id uuid.UUID) (*models.WorkOrder, error) {
		return h.svc.Schedule(ctx, id, date)
	})
}

// Complete accepts an optional completed_date; the service defaults it to today.
func (h *WorkOrders) Complete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CompletedDate string `json:"completed_date"`
	}
	if err := decodeBody(r, &req, true); err != nil {
		response.FromError(w, r, err)
		return
	}
	date, err := parseDate("completed_date", req.CompletedDate)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	h.withID(w, r, func(ctx context.Context, id uuid.UUID) (*models.WorkOrder, error) {
		return h.svc.Complete(ctx, id, date)
	})
}

func (h *WorkOrders) withID(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, id uuid.UUID) (*models.WorkOrder, error)) {
	id, err := pathUUID(r, "workOrderID")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	wo, err := fn(r.Context(), id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, wo)
}
