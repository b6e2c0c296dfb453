package workers

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"pawcare-contacts/pkg/shared"
)

type NotificationWorker struct {
	*BaseWorker
	// Notify receives every decoded notice; nil only logs.
	Notify func(shared.AuditNotice)
}

func NewNotificationWorker(js nats.JetStreamContext, logger *zap.Logger) *NotificationWorker {
	return &NotificationWorker{
		BaseWorker: NewBaseWorker(
			"NotificationWorker",
			js,
			shared.StreamAudit,
			shared.ConsumerNotificationProcessor,
			shared.SubjectAuditAll,
			logger,
		),
	}
}

func (w *NotificationWorker) Start(ctx context.Context) error {
	return w.processMessages(ctx, func(_ context.Context, msg *nats.Msg) error {
		var notice shared.AuditNotice
		if err := json.Unmarshal(msg.Data, &notice); err != nil {
			w.logger.Warn("raw audit notice", zap.String("subject", msg.Subject), zap.ByteString("data", msg.Data))
			return nil
		}

		w.logger.Info("organization change audited",
			zap.String("event_id", notice.EventID),
			zap.String("event_type", notice.EventType),
			zap.String("org_id", notice.OrgID))

		if w.Notify != nil {
			w.Notify(notice)
		}
		return nil
	})
}
