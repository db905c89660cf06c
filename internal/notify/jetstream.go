package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/pmengine/internal/config"
	"github.com/kiranshivaraju/pmengine/internal/observability"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// publisher is the slice of jetstream.JetStream the notifier uses.
type publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamNotifier hands notices to a mail relay through a JetStream stream.
// Notice.MessageID is the message ID, so a republished notice is dropped by
// the server's duplicate window.
type JetStreamNotifier struct {
	conn    *nats.Conn
	js      publisher
	subject string
	timeout time.Duration
}

// NewJetStreamNotifier connects to NATS and ensures the stream exists.
func NewJetStreamNotifier(ctx context.Context, cfg config.NotifyConfig) (*JetStreamNotifier, error) {
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("pmengine-notifier"),
		nats.Timeout(cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.Subject},
		Duplicates: 24 * time.Hour,
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensuring stream %s: %w", cfg.Stream, err)
	}

	return &JetStreamNotifier{conn: nc, js: js, subject: cfg.Subject, timeout: cfg.Timeout}, nil
}

func (j *JetStreamNotifier) Send(ctx context.Context, n Notice) error {
	if err := validate(n); err != nil {
		observability.NotificationsTotal.WithLabelValues("nats", "rejected").Inc()
		return err
	}

	data, err := json.Marshal(message{Notice: n, To: n.Machine.SupplierEmail, Subject: Subject(n)})
	if err != nil {
		return fmt.Errorf("encoding notice: %w", err)
	}

	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	ack, err := j.js.Publish(ctx, j.subject, data, jetstream.WithMsgID(n.MessageID()))
	if err != nil {
		observability.NotificationsTotal.WithLabelValues("nats", "failed").Inc()
		return fmt.Errorf("publishing notice: %w", err)
	}

	slog.Info("supplier notice published",
		"kind", n.kind(),
		"stream", ack.Stream,
		"seq", ack.Sequence,
		"duplicate", ack.Duplicate,
		"machine_id", n.Machine.ID,
		"wo_number", n.WorkOrder.WONumber,
	)
	observability.NotificationsTotal.WithLabelValues("nats", "sent").Inc()
	return nil
}

func (j *JetStreamNotifier) Close() error {
	if j.conn != nil {
		return j.conn.Drain()
	}
	return nil
}

// message is the payload consumed by the mail relay.
type message struct {
	Notice
	To      string `json:"to"`
	Subject string `json:"subject"`
}

var _ Notifier = (*JetStreamNotifier)(nil)
