package ai

import (
	"context"
	"time"

	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/internal/observability"
	"github.com/kiranshivaraju/pmengine/pkg/models"
	"go.opentelemetry.io/otel/attribute"
)

type instrumentedBackend struct {
	next models.ReasoningBackend
}

// Instrument records request counts, latency and a span for every call to next.
func Instrument(next models.ReasoningBackend) models.ReasoningBackend {
	return &instrumentedBackend{next: next}
}

func (b *instrumentedBackend) Name() string  { return b.next.Name() }
func (b *instrumentedBackend) Model() string { return b.next.Model() }

func (b *instrumentedBackend) Decide(ctx context.Context, dc models.DecisionContext) (models.CanonicalDecision, error) {
	ctx, span := observability.StartSpan(ctx, "reasoning.decide",
		attribute.String("provider", b.next.Name()),
		attribute.String("model", b.next.Model()),
		attribute.String("machine_id", dc.Machine.ID),
	)
	start := time.Now()

	d, err := b.next.Decide(ctx, dc)

	b.observe(start, err)
	if err == nil {
		span.SetAttributes(attribute.String("decision", string(d.Decision)))
	}
	observability.EndSpan(span, err)
	return d, err
}

func (b *instrumentedBackend) ExtractDate(ctx context.Context, reply models.SupplierReply) (models.DateExtraction, error) {
	ctx, span := observability.StartSpan(ctx, "reasoning.extract_date",
		attribute.String("provider", b.next.Name()),
		attribute.String("model", b.next.Model()),
	)
	start := time.Now()

	x, err := b.next.ExtractDate(ctx, reply)

	b.observe(start, err)
	if err == nil {
		span.SetAttributes(
			attribute.Bool("date_found", x.Date != nil),
			attribute.Float64("confidence", x.Confidence),
		)
	}
	observability.EndSpan(span, err)
	return x, err
}

func (b *instrumentedBackend) observe(start time.Time, err error) {
	observability.BackendRequestDurationSeconds.
		WithLabelValues(b.next.Name(), b.next.Model()).
		Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = string(apperr.KindOf(err))
		if status == "" {
			status = "error"
		}
	}
	observability.BackendRequestsTotal.WithLabelValues(b.next.Name(), b.next.Model(), status).Inc()
}
