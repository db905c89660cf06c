package response

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/pmengine/internal/apperr"
)

type envelope struct {
	Data any `json:"data"`
}

type listEnvelope struct {
	Data any      `json:"data"`
	Meta ListMeta `json:"meta"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ListMeta struct {
	Count int `json:"count"`
	Limit int `json:"limit"`
}

// statusByKind maps error kinds to HTTP status codes.
var statusByKind = map[apperr.Kind]int{
	apperr.KindNotFound:           http.StatusNotFound,
	apperr.KindBackendUnavailable: http.StatusBadGateway,
	apperr.KindMalformedResponse:  http.StatusBadGateway,
	apperr.KindInvalidDecision:    http.StatusUnprocessableEntity,
	apperr.KindConflict:           http.StatusConflict,
	apperr.KindPrecondition:       http.StatusPreconditionFailed,
	apperr.KindInvalidTransition:  http.StatusConflict,
	apperr.KindInvalidInput:       http.StatusBadRequest,
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Data: data})
}

func Accepted(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusAccepted, envelope{Data: data})
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func List(w http.ResponseWriter, data any, meta ListMeta) {
	writeJSON(w, http.StatusOK, listEnvelope{Data: data, Meta: meta})
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// BadRequest reports an invalid request parameter.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, string(apperr.KindInvalidInput), message, nil)
}

// FromError writes err using its kind. Untagged errors become a 500 with a
// generic message and are logged.
func FromError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", apperr.Loggable(err),
		)
		Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}
	Error(w, status, string(kind), apperr.MessageOf(err), nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
