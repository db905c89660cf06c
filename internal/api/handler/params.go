// Package handler binds the engine's services to HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/internal/store"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

const maxBodyBytes = 1 << 20

// pathUUID parses the named chi URL parameter as a UUID.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.New(apperr.KindInvalidInput, "%s must be a valid UUID, got %q", name, raw)
	}
	return id, nil
}

// queryLimit reads ?limit=. Absent means 0, which services treat as the default.
func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.New(apperr.KindInvalidInput, "limit must be an integer, got %q", raw)
	}
	return n, nil
}

func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.New(apperr.KindInvalidInput, "%s must be true or false, got %q", name, raw)
	}
	return b, nil
}

// decodeBody decodes a JSON body into v. An empty body is an error unless
// optional is set.
func decodeBody(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && optional:
		return nil
	case errors.Is(err, io.EOF):
		return apperr.New(apperr.KindInvalidInput, "request body is required")
	default:
		return apperr.New(apperr.KindInvalidInput, "invalid JSON body: %v", err)
	}
}

// parseDate parses an optional YYYY-MM-DD field. Empty yields the zero time.
func parseDate(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := models.ParseDate(raw)
	if err != nil {
		return time.Time{}, apperr.New(apperr.KindInvalidInput, "%s must be a YYYY-MM-DD date, got %q", field, raw)
	}
	return t, nil
}

func effectiveLimit(limit int) int {
	return store.NormalizeLimit(limit)
}
