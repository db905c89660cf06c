package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pmengine/internal/config"
	"github.com/kiranshivaraju/pmengine/pkg/models"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	subject string
	data    []byte
	opts    int
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subject = subject
	f.data = data
	f.opts = len(opts)
	return &jetstream.PubAck{Stream: "PM_NOTIFICATIONS", Sequence: 1}, nil
}

func sampleNotice() Notice {
	return Notice{
		Kind:        KindApproval,
		Machine:     models.Machine{ID: "M001", Name: "Press", SupplierName: "Acme", SupplierEmail: "svc@acme.test"},
		WorkOrder:   models.WorkOrder{ID: uuid.New(), WONumber: "WO-2025-0001", Priority: models.PriorityHigh},
		DecisionID:  uuid.New(),
		Explanation: "approved work order exists",
	}
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier()
	require.NoError(t, n.Send(context.Background(), sampleNotice()))
	require.NoError(t, n.Close())
}

func TestLogNotifier_NoEmail(t *testing.T) {
	notice := sampleNotice()
	notice.Machine.SupplierEmail = ""

	err := NewLogNotifier().Send(context.Background(), notice)
	assert.True(t, errors.Is(err, ErrNoSupplierEmail))
}

func TestJetStreamNotifier_Publish(t *testing.T) {
	pub := &fakePublisher{}
	j := &JetStreamNotifier{js: pub, subject: "pm.notifications.approval"}
	notice := sampleNotice()

	require.NoError(t, j.Send(context.Background(), notice))
	assert.Equal(t, "pm.notifications.approval", pub.subject)
	assert.Equal(t, 1, pub.opts)

	var got message
	require.NoError(t, json.Unmarshal(pub.data, &got))
	assert.Equal(t, "svc@acme.test", got.To)
	assert.Equal(t, notice.DecisionID, got.DecisionID)
	assert.Contains(t, got.Subject, "WO-2025-0001")
}

func TestJetStreamNotifier_PublishError(t *testing.T) {
	j := &JetStreamNotifier{js: &fakePublisher{err: errors.New("no responders")}, subject: "s"}
	err := j.Send(context.Background(), sampleNotice())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no responders")
}

func TestJetStreamNotifier_NoEmail(t *testing.T) {
	pub := &fakePublisher{}
	j := &JetStreamNotifier{js: pub, subject: "s"}
	notice := sampleNotice()
	notice.Machine.SupplierEmail = ""

	assert.True(t, errors.Is(j.Send(context.Background(), notice), ErrNoSupplierEmail))
	assert.Nil(t, pub.data)
}

func TestNotice_MessageID(t *testing.T) {
	notice := sampleNotice()
	assert.Equal(t, notice.DecisionID.String(), notice.MessageID())

	notice.DecisionID = uuid.Nil
	assert.Equal(t, "approval-"+notice.WorkOrder.ID.String(), notice.MessageID())

	notice.Kind = KindCompletion
	assert.Equal(t, "completion-"+notice.WorkOrder.ID.String(), notice.MessageID())
}

func TestSubject_ByKind(t *testing.T) {
	notice := sampleNotice()
	assert.Equal(t, "Work order WO-2025-0001 approved: preventive maintenance for Press (M001)", Subject(notice))

	notice.Kind = KindCompletion
	assert.Equal(t, "Work order WO-2025-0001 completed: preventive maintenance for Press (M001)", Subject(notice))
}

func TestJetStreamNotifier_CompletionNotice(t *testing.T) {
	pub := &fakePublisher{}
	j := &JetStreamNotifier{js: pub, subject: "pm.notifications.approval"}
	notice := sampleNotice()
	notice.Kind = KindCompletion
	notice.DecisionID = uuid.Nil

	require.NoError(t, j.Send(context.Background(), notice))

	var got message
	require.NoError(t, json.Unmarshal(pub.data, &got))
	assert.Equal(t, KindCompletion, got.Kind)
	assert.Contains(t, got.Subject, "completed")
}

func TestNew_Driver(t *testing.T) {
	n, err := New(context.Background(), config.NotifyConfig{Driver: "log"})
	require.NoError(t, err)
	assert.IsType(t, &LogNotifier{}, n)

	_, err = New(context.Background(), config.NotifyConfig{Driver: "smtp"})
	assert.Error(t, err)
}
