package models

import (
	"time"

	"gorm.io/datatypes"
)

type DocumentStatus string

const (
	StatusDraft    DocumentStatus = "DRAFT"
	StatusApproved DocumentStatus = "APPROVED"
)

func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusApproved:
		return true
	}
	return false
}

type DocumentKind string

const (
	KindLaw       DocumentKind = "LAW"
	KindPolicy    DocumentKind = "POLICY"
	KindProcedure DocumentKind = "PROCEDURE"
	KindChecklist DocumentKind = "CHECKLIST"
	KindForm      DocumentKind = "FORM"
	KindPlan      DocumentKind = "PLAN"
	KindSDS       DocumentKind = "SDS"
	KindOther     DocumentKind = "OTHER"
)

var DocumentKinds = []DocumentKind{
	KindLaw, KindPolicy, KindProcedure, KindChecklist, KindForm, KindPlan, KindSDS, KindOther,
}

func (k DocumentKind) Valid() bool {
	switch k {
	case KindLaw, KindPolicy, KindProcedure, KindChecklist, KindForm, KindPlan, KindSDS, KindOther:
		return true
	}
	return false
}

// DocumentTemplate supplies defaults for new documents. A nil TenantID marks
// a global template visible to every tenant.
type DocumentTemplate struct {
	ID                          string       `gorm:"primaryKey;size:36" json:"id"`
	TenantID                    *string      `gorm:"size:36;index" json:"tenantId"`
	Name                        string       `gorm:"size:256;not null" json:"name"`
	Kind                        DocumentKind `gorm:"size:32;not null" json:"kind"`
	DefaultReviewIntervalMonths int          `gorm:"not null;default:12" json:"defaultReviewIntervalMonths"`
	CreatedAt                   time.Time    `json:"createdAt"`
	UpdatedAt                   time.Time    `json:"updatedAt"`
}

func (t DocumentTemplate) IsGlobal() bool {
	return t.TenantID == nil
}

type Document struct {
	ID                   string                      `gorm:"primaryKey;size:36" json:"id"`
	TenantID             string                      `gorm:"size:36;not null;uniqueIndex:idx_documents_tenant_slug" json:"tenantId"`
	Title                string                      `gorm:"size:256;not null" json:"title"`
	Slug                 string                      `gorm:"size:256;not null;uniqueIndex:idx_documents_tenant_slug" json:"slug"`
	Kind                 DocumentKind                `gorm:"size:32;not null;index" json:"kind"`
	Version              string                      `gorm:"size:64;not null" json:"version"`
	Status               DocumentStatus              `gorm:"size:16;not null;default:'DRAFT'" json:"status"`
	OwnerID              *string                     `gorm:"size:36;index" json:"ownerId"`
	TemplateID           *string                     `gorm:"size:36" json:"templateId"`
	ReviewIntervalMonths int                         `gorm:"not null;default:12" json:"reviewIntervalMonths"`
	EffectiveFrom        time.Time                   `gorm:"not null" json:"effectiveFrom"`
	EffectiveTo          *time.Time                  `json:"effectiveTo"`
	PlanSummary          *string                     `gorm:"type:text" json:"planSummary,omitempty"`
	DoSummary            *string                     `gorm:"type:text" json:"doSummary,omitempty"`
	CheckSummary         *string                     `gorm:"type:text" json:"checkSummary,omitempty"`
	ActSummary           *string                     `gorm:"type:text" json:"actSummary,omitempty"`
	NextReviewDate       *time.Time                  `gorm:"index" json:"nextReviewDate"`
	VisibleToRoles       datatypes.JSONSlice[string] `json:"visibleToRoles"`
	ApprovedBy           *string                     `gorm:"size:36" json:"approvedBy"`
	ApprovedAt           *time.Time                  `json:"approvedAt"`
	FileKey              string                      `gorm:"size:512;not null" json:"-"`
	MimeType             string                      `gorm:"size:128" json:"mimeType"`
	Revision             int                         `gorm:"not null;default:1" json:"revision"`
	CreatedBy            string                      `gorm:"size:36;not null" json:"createdBy"`
	UpdatedBy            *string                     `gorm:"size:36" json:"updatedBy"`
	CreatedAt            time.Time                   `json:"createdAt"`
	UpdatedAt            time.Time                   `json:"updatedAt"`

	Versions []DocumentVersion `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"versions,omitempty"`
}

func (d Document) IsApproved() bool {
	return d.Status == StatusApproved
}

// VisibleTo reports whether a member holding role may see the document.
// An empty restriction list means everyone in the tenant.
func (d Document) VisibleTo(role Role) bool {
	if len(d.VisibleToRoles) == 0 || role.Privileged() {
		return true
	}
	for _, r := range d.VisibleToRoles {
		if Role(r) == role {
			return true
		}
	}
	return false
}

// DocumentVersion rows are owned by their document. A nil SupersededAt marks
// the current version; there is at most one per document.
type DocumentVersion struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	DocumentID    string     `gorm:"size:36;not null;uniqueIndex:idx_document_versions_label" json:"documentId"`
	Version       string     `gorm:"size:64;not null;uniqueIndex:idx_document_versions_label" json:"version"`
	Sequence      int        `gorm:"not null" json:"sequence"`
	FileKey       string     `gorm:"size:512;not null" json:"-"`
	MimeType      string     `gorm:"size:128" json:"mimeType"`
	UploadedBy    string     `gorm:"size:36;not null" json:"uploadedBy"`
	ChangeComment *string    `gorm:"type:text" json:"changeComment,omitempty"`
	ApprovedBy    *string    `gorm:"size:36" json:"approvedBy"`
	ApprovedAt    *time.Time `json:"approvedAt"`
	SupersededAt  *time.Time `gorm:"index" json:"supersededAt"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func (v DocumentVersion) IsCurrent() bool {
	return v.SupersededAt == nil
}
