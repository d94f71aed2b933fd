package models

import (
	"time"

	"gorm.io/datatypes"
)

type AuditLog struct {
	ID           string            `gorm:"primaryKey;size:36" json:"id"`
	TenantID     string            `gorm:"size:36;not null;index:idx_audit_logs_tenant_resource" json:"tenantId"`
	UserID       string            `gorm:"size:36;not null" json:"userId"`
	Action       string            `gorm:"size:64;not null" json:"action"`
	ResourceType string            `gorm:"size:32;not null;index:idx_audit_logs_tenant_resource" json:"resourceType"`
	ResourceID   string            `gorm:"size:36;not null;index:idx_audit_logs_tenant_resource" json:"resourceId"`
	Metadata     datatypes.JSONMap `json:"metadata"`
	CreatedAt    time.Time         `gorm:"index" json:"createdAt"`
}
