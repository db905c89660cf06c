package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/pmengine/internal/api/middleware"
	"github.com/kiranshivaraju/pmengine/internal/api/response"
	"github.com/kiranshivaraju/pmengine/pkg/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	ListMachines   http.HandlerFunc
	GetMachine     http.HandlerFunc
	MachineHistory http.HandlerFunc

	ProduceDecision    http.HandlerFunc
	MachineContext     http.HandlerFunc
	ListDecisions      http.HandlerFunc
	DecisionStatistics http.HandlerFunc
	GetDecision        http.HandlerFunc
	ExecuteDecision    http.HandlerFunc

	CreateWorkOrder   http.HandlerFunc
	ListWorkOrders    http.HandlerFunc
	GetWorkOrder      http.HandlerFunc
	SubmitWorkOrder   http.HandlerFunc
	ApproveWorkOrder  http.HandlerFunc
	ScheduleWorkOrder http.HandlerFunc
	CompleteWorkOrder http.HandlerFunc
	CancelWorkOrder   http.HandlerFunc
	ProcessReply      http.HandlerFunc

	TriggerScan http.HandlerFunc
	ListScans   http.HandlerFunc
	GetScan     http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes,
// wrapped in OpenTelemetry HTTP instrumentation.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Get("/api/v1/machines", orNotImplemented(deps.ListMachines))
		r.Get("/api/v1/machines/{machineID}", orNotImplemented(deps.GetMachine))
		r.Get("/api/v1/machines/{machineID}/maintenance-history", orNotImplemented(deps.MachineHistory))
		r.Get("/api/v1/machines/{machineID}/context", orNotImplemented(deps.MachineContext))
		r.Get("/api/v1/decisions", orNotImplemented(deps.ListDecisions))
		r.Get("/api/v1/decisions/statistics", orNotImplemented(deps.DecisionStatistics))
		r.Get("/api/v1/decisions/{decisionID}", orNotImplemented(deps.GetDecision))
		r.Get("/api/v1/work-orders", orNotImplemented(deps.ListWorkOrders))
		r.Get("/api/v1/work-orders/{workOrderID}", orNotImplemented(deps.GetWorkOrder))
		r.Get("/api/v1/scans", orNotImplemented(deps.ListScans))
		r.Get("/api/v1/scans/{scanID}", orNotImplemented(deps.GetScan))

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeWrite))

			r.Post("/api/v1/machines/{machineID}/decisions", orNotImplemented(deps.ProduceDecision))
			r.Post("/api/v1/decisions/{decisionID}/execute", orNotImplemented(deps.ExecuteDecision))
			r.Post("/api/v1/work-orders", orNotImplemented(deps.CreateWorkOrder))
			r.Post("/api/v1/work-orders/replies", orNotImplemented(deps.ProcessReply))
			r.Post("/api/v1/work-orders/{workOrderID}/submit", orNotImplemented(deps.SubmitWorkOrder))
			r.Post("/api/v1/work-orders/{workOrderID}/approve", orNotImplemented(deps.ApproveWorkOrder))
			r.Post("/api/v1/work-orders/{workOrderID}/schedule", orNotImplemented(deps.ScheduleWorkOrder))
			r.Post("/api/v1/work-orders/{workOrderID}/complete", orNotImplemented(deps.CompleteWorkOrder))
			r.Post("/api/v1/work-orders/{workOrderID}/cancel", orNotImplemented(deps.CancelWorkOrder))
			r.Post("/api/v1/scans", orNotImplemented(deps.TriggerScan))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return otelhttp.NewHandler(r, "pmengine",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
