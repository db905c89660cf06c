package reply_test

import (
	"context"
	"testing"
	"time"

	"github.com/kiranshivaraju/pmengine/internal/ai/mock"
	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/internal/reply"
	"github.com/kiranshivaraju/pmengine/internal/store"
	"github.com/kiranshivaraju/pmengine/internal/workorder"
	"github.com/kiranshivaraju/pmengine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)

func fixedNow() time.Time { return now }

type fixture struct {
	wos *workorder.Service
	st  *store.MemoryStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := store.NewMemoryStore()
	st.PutMachine(models.Machine{
		ID:              "M001",
		Name:            "Press",
		PMFrequencyDays: 90,
		NextPMDate:      models.Day(now).AddDate(0, 0, 10),
		SupplierName:    "Acme Service",
	})
	return fixture{wos: workorder.NewService(st, fixedNow), st: st}
}

func (f fixture) approvedOrder(t *testing.T) *models.WorkOrder {
	t.Helper()
	ctx := context.Background()
	wo, err := f.wos.Create(ctx, workorder.CreateParams{
		MachineID: "M001", Priority: models.PriorityMedium, Status: models.WorkOrderPendingApproval,
	})
	require.NoError(t, err)
	wo, err = f.wos.Approve(ctx, wo.ID, "Dana")
	require.NoError(t, err)
	return wo
}

func fixedReading(date string, confidence float64) *mock.MockProvider {
	p := mock.NewMockProvider()
	p.ExtractFunc = func(_ context.Context, _ models.SupplierReply) (models.DateExtraction, error) {
		x := models.DateExtraction{Confidence: confidence, Explanation: "fixed"}
		if date != "" {
			d, _ := models.ParseDate(date)
			x.Date = &d
		}
		return x, nil
	}
	return p
}

func TestWONumber(t *testing.T) {
	cases := map[string]string{
		"RE: Work order wo-2025-0042 approved": "WO-2025-0042",
		"Re: WO-2024-123 please confirm":       "WO-2024-123",
		"Re: maintenance visit":                "",
	}
	for subject, want := range cases {
		got, ok := reply.WONumber(subject)
		assert.Equal(t, want != "", ok, subject)
		assert.Equal(t, want, got, subject)
	}
}

func TestProcess_SchedulesApprovedOrder(t *testing.T) {
	f := newFixture(t)
	wo := f.approvedOrder(t)
	svc := reply.NewService(f.wos, mock.NewMockProvider(), 0.7, fixedNow)

	res, err := svc.Process(context.Background(),
		"RE: "+wo.WONumber, "Hello, our technician can visit on 2025-06-20 in the morning.")
	require.NoError(t, err)

	assert.True(t, res.Updated)
	assert.Equal(t, wo.WONumber, res.WONumber)
	assert.Equal(t, wo.ID, res.WorkOrderID)
	require.NotNil(t, res.ExtractedDate)
	assert.Equal(t, "2025-06-20", *res.ExtractedDate)
	require.NotNil(t, res.WorkOrder)
	require.NotNil(t, res.WorkOrder.ScheduledDate)
	assert.Equal(t, "2025-06-20", res.WorkOrder.ScheduledDate.Format(models.DateLayout))

	stored, err := f.wos.Get(context.Background(), wo.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ScheduledDate)
	assert.Equal(t, models.WorkOrderApproved, stored.Status)
}

func TestProcess_LowConfidenceLeavesOrderAlone(t *testing.T) {
	f := newFixture(t)
	wo := f.approvedOrder(t)
	svc := reply.NewService(f.wos, fixedReading("2025-06-20", 0.6), 0.7, fixedNow)

	res, err := svc.Process(context.Background(), wo.WONumber, "Maybe the 20th, or later that week.")
	require.NoError(t, err)
	assert.False(t, res.Updated)
	require.NotNil(t, res.ExtractedDate)
	assert.Contains(t, res.Message, "below 0.70")

	stored, err := f.wos.Get(context.Background(), wo.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ScheduledDate)
}

func TestProcess_NoDate(t *testing.T) {
	f := newFixture(t)
	wo := f.approvedOrder(t)
	svc := reply.NewService(f.wos, mock.NewMockProvider(), 0.7, fixedNow)

	res, err := svc.Process(context.Background(), wo.WONumber, "We will confirm a date shortly.")
	require.NoError(t, err)
	assert.False(t, res.Updated)
	assert.Nil(t, res.ExtractedDate)
	assert.Nil(t, res.WorkOrder)
}

func TestProcess_PastDateRefused(t *testing.T) {
	f := newFixture(t)
	wo := f.approvedOrder(t)
	svc := reply.NewService(f.wos, fixedReading("2025-06-01", 0.95), 0.7, fixedNow)

	_, err := svc.Process(context.Background(), wo.WONumber, "We came by on June 1st already.")
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
}

func TestProcess_RequiresApprovedOrder(t *testing.T) {
	f := newFixture(t)
	wo, err := f.wos.Create(context.Background(), workorder.CreateParams{MachineID: "M001", Priority: models.PriorityLow})
	require.NoError(t, err)
	svc := reply.NewService(f.wos, mock.NewMockProvider(), 0.7, fixedNow)

	_, err = svc.Process(context.Background(), wo.WONumber, "Visit on 2025-06-20 works for us.")
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
}

func TestProcess_InputErrors(t *testing.T) {
	f := newFixture(t)
	svc := reply.NewService(f.wos, mock.NewMockProvider(), 0.7, fixedNow)
	ctx := context.Background()

	cases := []struct {
		name, subject, body string
		want                apperr.Kind
	}{
		{"empty subject", " ", "Visit on 2025-06-20 works.", apperr.KindInvalidInput},
		{"short body", "WO-2025-0001", "ok", apperr.KindInvalidInput},
		{"no number", "Re: your email", "Visit on 2025-06-20 works.", apperr.KindInvalidInput},
		{"unknown number", "Re: WO-2025-9999", "Visit on 2025-06-20 works.", apperr.KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Process(ctx, tc.subject, tc.body)
			assert.Equal(t, tc.want, apperr.KindOf(err))
		})
	}
}

func TestProcess_BackendFailure(t *testing.T) {
	f := newFixture(t)
	wo := f.approvedOrder(t)
	svc := reply.NewService(f.wos,
		mock.NewFailingProvider(apperr.New(apperr.KindBackendUnavailable, "down")), 0.7, fixedNow)

	_, err := svc.Process(context.Background(), wo.WONumber, "Visit on 2025-06-20 works for us.")
	assert.Equal(t, apperr.KindBackendUnavailable, apperr.KindOf(err))
}
