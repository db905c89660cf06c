package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pmengine/internal/api/response"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

// ScanRunner starts and reads batch scans.
type ScanRunner interface {
	Trigger(ctx context.Context, trigger string) (*models.ScanRun, error)
	Get(ctx context.Context, id uuid.UUID) (*models.ScanRun, error)
	List(ctx context.Context, limit int) ([]*models.ScanRun, error)
}

type Scans struct {
	runner ScanRunner
}

func NewScans(runner ScanRunner) *Scans {
	return &Scans{runner: runner}
}

// Trigger starts a scan in the background and answers 202 with the running record.
func (h *Scans) Trigger(w http.ResponseWriter, r *http.Request) {
	run, err := h.runner.Trigger(r.Context(), "api")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/scans/"+run.ID.String())
	response.Accepted(w, run)
}

func (h *Scans) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "scanID")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	run, err := h.runner.Get(r.Context(), id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, run)
}

func (h *Scans) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	runs, err := h.runner.List(r.Context(), limit)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	if runs == nil {
		runs = []*models.ScanRun{}
	}
	response.List(w, runs, response.ListMeta{Count: len(runs), Limit: effectiveLimit(limit)})
}
