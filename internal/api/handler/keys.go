package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pmengine/internal/api/response"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

// KeyService manages API keys.
type KeyService interface {
	Create(ctx context.Context, name string, scopes []string) (string, *models.APIKey, error)
	List(ctx context.Context) ([]*models.APIKey, error)
	Revoke(ctx context.Context, id uuid.UUID) error
}

type Keys struct {
	svc KeyService
}

func NewKeys(svc KeyService) *Keys {
	return &Keys{svc: svc}
}

// createdKey is the only response that ever carries the raw key.
type createdKey struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	KeyPrefix string    `json:"key_prefix"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Keys) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string   `json:"name"`
		Scopes []string `json:"scopes"`
	}
	if err := decodeBody(r, &req, false); err != nil {
		response.FromError(w, r, err)
		return
	}
	raw, key, err := h.svc.Create(r.Context(), req.Name, req.Scopes)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Created(w, createdKey{
		ID:        key.ID,
		Name:      key.Name,
		Key:       raw,
		KeyPrefix: key.KeyPrefix,
		Scopes:    key.Scopes,
		CreatedAt: key.CreatedAt,
	})
}

func (h *Keys) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.svc.List(r.Context())
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}
	response.List(w, keys, response.ListMeta{Count: len(keys), Limit: len(keys)})
}

func (h *Keys) Revoke(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "keyID")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	if err := h.svc.Revoke(r.Context(), id); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.NoContent(w)
}
