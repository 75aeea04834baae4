package engine

import (
	"context"
	"log/slog"

	"github.com/madadi/accounting-bot/internal/storage"
)

// AuditRecorder appends audit entries best-effort: a failed write is logged
// and never fails the operation that triggered it.
type AuditRecorder struct {
	store *storage.Storage
	log   *slog.Logger
}

// NewAuditRecorder creates a new audit recorder
func NewAuditRecorder(store *storage.Storage, log *slog.Logger) *AuditRecorder {
	return &AuditRecorder{store: store, log: log}
}

// Record appends one audit entry
func (a *AuditRecorder) Record(ctx context.Context, actorID int64, action, subject, before, after string) {
	err := a.store.AppendAudit(ctx, &storage.AuditEntry{
		ActorID: actorID,
		Action:  action,
		Subject: subject,
		Before:  before,
		After:   after,
	})
	if err != nil {
		a.log.Error("audit write failed",
			"action", action,
			"subject", subject,
			"error", err,
		)
	}
}
