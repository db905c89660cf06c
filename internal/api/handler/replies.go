package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/pmengine/internal/api/response"
	"github.com/kiranshivaraju/pmengine/internal/reply"
)

// ReplyService schedules work orders from supplier replies.
type ReplyService interface {
	Process(ctx context.Context, subject, body string) (*reply.Result, error)
}

type Replies struct {
	svc ReplyService
}

func NewReplies(svc ReplyService) *Replies {
	return &Replies{svc: svc}
}

// Process handles POST /api/v1/work-orders/replies. A reply that yields no
// usable date still answers 200 with updated=false.
func (h *Replies) Process(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EmailSubject string `json:"email_subject"`
		EmailBody    string `json:"email_body"`
	}
	if err := decodeBody(r, &req, false); err != nil {
		response.FromError(w, r, err)
		return
	}
	res, err := h.svc.Process(r.Context(), req.EmailSubject, req.EmailBody)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, res)
}
