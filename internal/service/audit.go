package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veridian-id/go-authn-backend/internal/domain"
	"github.com/veridian-id/go-authn-backend/internal/storage"
)

// auditTimeout bounds the audit write so a slow sink cannot hold up the
// login path.
const auditTimeout = 2 * time.Second

// AuditRecorder appends attempt records to the audit store. Writes are
// best-effort: failures are logged and never propagate to the ceremony
// result. It uses its own context so a canceled request cannot abort the
// record.
type AuditRecorder struct {
	store  storage.AttemptStore
	logger *zap.Logger
}

// NewAuditRecorder creates a new AuditRecorder
func NewAuditRecorder(store storage.AttemptStore, logger *zap.Logger) *AuditRecorder {
	return &AuditRecorder{
		store:  store,
		logger: logger.Named("audit"),
	}
}

// Record appends one attempt record.
func (a *AuditRecorder) Record(attempt *domain.AuthAttempt) {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()

	if err := a.store.Create(ctx, attempt); err != nil {
		a.logger.Warn("Failed to record auth attempt",
			zap.String("method", string(attempt.Method)),
			zap.Bool("success", attempt.Success),
			zap.Error(err),
		)
	}
}
