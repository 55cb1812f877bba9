package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/internal/storage/models"
	"github.com/nelson-gpt/backend/pkg/logger"
	"github.com/nelson-gpt/backend/pkg/utils"
)

const (
	EventQueryRouted      = "medical_query_routed"
	EventSafetyMonitoring = "safety_monitoring_completed"
	EventContextCleared   = "medical_context_cleared"
)

type Store interface {
	InsertAuditLog(ctx context.Context, l *models.AuditLog) error
}

// Recorder writes audit entries on a best-effort basis: a failed write is
// logged and never reaches the caller.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// SubjectHash pseudonymizes a session id for the audit trail.
func SubjectHash(sessionID string) string {
	if sessionID == "" {
		sessionID = "anonymous"
	}
	return utils.HashString(sessionID)
}

func (r *Recorder) Record(ctx context.Context, event, sessionID string, details map[string]any) {
	if r == nil || r.store == nil {
		return
	}

	entry := &models.AuditLog{
		ID:          uuid.New().String(),
		Event:       event,
		SubjectHash: SubjectHash(sessionID),
		Details:     details,
		CreatedAt:   time.Now(),
	}
	if err := r.store.InsertAuditLog(ctx, entry); err != nil {
		logger.Warn("Failed to write audit log", zap.String("event", event), zap.Error(err))
	}
}
