package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/pmengine/internal/api/response"
	"github.com/kiranshivaraju/pmengine/internal/machine"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

// MachineService serves read-only fleet views.
type MachineService interface {
	List(ctx context.Context, p machine.ListParams) ([]models.MachineSnapshot, error)
	Get(ctx context.Context, id string) (*machine.Detail, error)
	History(ctx context.Context, id string, limit int) ([]*models.MaintenanceRecord, error)
}

type Machines struct {
	svc MachineService
}

func NewMachines(svc MachineService) *Machines {
	return &Machines{svc: svc}
}

// List handles GET /api/v1/machines?pm_status=overdue,due_soon&location=&status=&limit=.
func (h *Machines) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	q := r.URL.Query()
	pmStatus, err := machine.ParsePMStatus(q.Get("pm_status"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	snaps, err := h.svc.List(r.Context(), machine.ListParams{
		PMStatus: pmStatus,
		Location: q.Get("location"),
		Status:   q.Get("status"),
		Limit:    limit,
	})
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.List(w, snaps, response.ListMeta{Count: len(snaps), Limit: effectiveLimit(limit)})
}

func (h *Machines) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Get(r.Context(), chi.URLParam(r, "machineID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, d)
}

// History handles GET /api/v1/machines/{machineID}/maintenance-history?limit=.
func (h *Machines) History(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	records, err := h.svc.History(r.Context(), chi.URLParam(r, "machineID"), limit)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	if records == nil {
		records = []*models.MaintenanceRecord{}
	}
	response.List(w, records, response.ListMeta{Count: len(records), Limit: effectiveLimit(limit)})
}
