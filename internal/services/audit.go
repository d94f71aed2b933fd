package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/hmsportal/hms/internal/db/models"
)

const (
	ActionDocumentCreate  = "document.create"
	ActionDocumentVersion = "document.version_upload"
	ActionDocumentUpdate  = "document.update"
	ActionDocumentApprove = "document.approve"
	ActionDocumentDelete  = "document.delete"
	ActionTemplateCreate  = "template.create"
	ActionRiskCreate      = "risk.create"
	ActionRiskUpdate      = "risk.update"
	ActionRiskLink        = "risk.link"
	ActionRiskReviewed    = "risk.reviewed"
)

type AuditEntry struct {
	TenantID     string
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	Metadata     map[string]any
}

type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// TxAuditSink is implemented by sinks that can join the business
// transaction. Lifecycle code writes through WithTx(tx) inside the
// transaction, and a failed write rolls the whole operation back.
type TxAuditSink interface {
	AuditSink
	WithTx(tx *gorm.DB) AuditSink
}

type GormAuditSink struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormAuditSink(db *gorm.DB) *GormAuditSink {
	return &GormAuditSink{db: db, now: time.Now}
}

func (s *GormAuditSink) WithTx(tx *gorm.DB) AuditSink {
	return &GormAuditSink{db: tx, now: s.now}
}

func (s *GormAuditSink) Record(ctx context.Context, entry AuditEntry) error {
	row := models.AuditLog{
		ID:           uuid.New().String(),
		TenantID:     entry.TenantID,
		UserID:       entry.UserID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Metadata:     datatypes.JSONMap(entry.Metadata),
		CreatedAt:    s.now().UTC(),
	}
	if row.Metadata == nil {
		row.Metadata = datatypes.JSONMap{}
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormAuditSink) List(ctx context.Context, tenantID, resourceType, resourceID string) ([]models.AuditLog, error) {
	var rows []models.AuditLog
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND resource_type = ? AND resource_id = ?", tenantID, resourceType, resourceID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// auditor routes entries either into the open transaction or, for sinks that
// cannot join one, to a fire-and-forget write after commit.
type auditor struct {
	sink   AuditSink
	logger *zap.Logger
}

func (a auditor) inTx(ctx context.Context, tx *gorm.DB, entry AuditEntry) error {
	if a.sink == nil {
		return nil
	}
	if txs, ok := a.sink.(TxAuditSink); ok {
		return txs.WithTx(tx).Record(ctx, entry)
	}
	return nil
}

func (a auditor) afterCommit(ctx context.Context, entry AuditEntry) {
	if a.sink == nil {
		return
	}
	if _, ok := a.sink.(TxAuditSink); ok {
		return
	}
	if err := a.sink.Record(ctx, entry); err != nil {
		a.logger.Error("Audit write failed",
			zap.String("action", entry.Action),
			zap.String("resource_id", entry.ResourceID),
			zap.Error(err))
	}
}
