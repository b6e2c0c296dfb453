package workers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"pawcare-contacts/pkg/metrics"
	"pawcare-contacts/pkg/shared"
)

// Publisher republishes audit notices.
type Publisher interface {
	PublishWithDedup(subject string, data []byte, msgID string) error
}

// AuditWorker appends every organization event to the audit log and then
// announces it on the audit stream.
type AuditWorker struct {
	*BaseWorker
	db        *sql.DB
	publisher Publisher
}

func NewAuditWorker(js nats.JetStreamContext, db *sql.DB, publisher Publisher, logger *zap.Logger) *AuditWorker {
	return &AuditWorker{
		BaseWorker: NewBaseWorker(
			"AuditWorker",
			js,
			shared.StreamOrganizations,
			shared.ConsumerAuditProcessor,
			shared.SubjectOrganizationsAll,
			logger,
		),
		db:        db,
		publisher: publisher,
	}
}

func (w *AuditWorker) Start(ctx context.Context) error {
	return w.processMessages(ctx, w.handle)
}

func (w *AuditWorker) handle(ctx context.Context, msg *nats.Msg) error {
	var event shared.Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		// Redelivery cannot fix a bad payload.
		w.logger.Warn("dropping undecodable event",
			zap.String("subject", msg.Subject), zap.ByteString("data", msg.Data))
		return nil
	}

	inserted, err := w.Record(ctx, msg.Subject, &event, msg.Data)
	if err != nil {
		return err
	}
	if inserted {
		metrics.EventsAuditedTotal.Inc()
	} else {
		w.logger.Debug("event already audited", zap.String("event_id", event.ID))
	}

	// Announced on redelivery too; the notice id deduplicates it.
	return w.announce(&event)
}

// Record writes the event to audit_log. It reports false when the event id
// was already present.
func (w *AuditWorker) Record(ctx context.Context, subject string, event *shared.Event, payload []byte) (bool, error) {
	orgID, _ := event.Data["org_id"].(string)

	result, err := w.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO audit_log (event_id, event_type, subject, org_id, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.Type, subject, orgID, string(payload), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("failed to write audit log: %w", err)
	}

	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (w *AuditWorker) announce(event *shared.Event) error {
	if w.publisher == nil {
		return nil
	}

	orgID, _ := event.Data["org_id"].(string)
	notice := shared.AuditNotice{
		EventID:   event.ID,
		EventType: event.Type,
		OrgID:     orgID,
		AuditedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal audit notice: %w", err)
	}

	return w.publisher.PublishWithDedup(shared.AuditEventSubject(event.Type), data, "audit-"+event.ID)
}
