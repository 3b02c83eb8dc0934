package worker

import (
	"context"
	"fmt"
	"log/slog"

	"stockadmin/internal/amqp"
	"stockadmin/internal/store/sqlite"
)

// AuditLog is the append side of the sqlite audit table.
type AuditLog interface {
	AppendAudit(ctx context.Context, e sqlite.AuditEntry) (int64, error)
}

// AuditWorker turns user change events into audit log rows.
type AuditWorker struct {
	log      AuditLog
	recorder amqp.ChangeRecorder
}

func NewAuditWorker(log AuditLog, recorder amqp.ChangeRecorder) *AuditWorker {
	return &AuditWorker{log: log, recorder: recorder}
}

// HandleUserChange stores one change event. A returned error makes the
// consumer requeue the message.
func (w *AuditWorker) HandleUserChange(ctx context.Context, msg *amqp.UserChangeMessage) error {
	slog.DebugContext(ctx, "Processing user change",
		"user_id", msg.UserID,
		"fields", msg.Fields,
		"source", msg.Source)

	id, err := w.log.AppendAudit(ctx, sqlite.AuditEntry{
		UserID:     msg.UserID,
		Fields:     msg.Fields,
		Source:     msg.Source,
		OccurredAt: msg.Timestamp,
	})
	if w.recorder != nil {
		w.recorder.ChangeEvent("in", err)
	}
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}

	slog.InfoContext(ctx, "Recorded user change",
		"audit_id", id,
		"user_id", msg.UserID,
		"fields", msg.Fields)
	return nil
}
