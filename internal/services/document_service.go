package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/hmsportal/hms/internal/config"
	"github.com/hmsportal/hms/internal/db/models"
	"github.com/hmsportal/hms/internal/review"
	"github.com/hmsportal/hms/internal/storage"
	"github.com/hmsportal/hms/internal/utils"
	"github.com/hmsportal/hms/pkg/metrics"
)

const (
	defaultVersionLabel = "v1.0"
	resourceDocument    = "document"
	resourceTemplate    = "document_template"
)

type DocumentOptions struct {
	DefaultReviewIntervalMonths int
	DownloadURLTTL              time.Duration
	ProtectedKinds              []models.DocumentKind
	MaxUploadBytes              int64
	DeleteConcurrency           int
	Clock                       func() time.Time
}

func DocumentOptionsFromConfig(cfg config.DocumentsConfig) DocumentOptions {
	kinds := make([]models.DocumentKind, 0, len(cfg.ProtectedKinds))
	for _, k := range cfg.ProtectedKinds {
		kinds = append(kinds, models.DocumentKind(k))
	}
	return DocumentOptions{
		DefaultReviewIntervalMonths: cfg.DefaultReviewIntervalMonths,
		DownloadURLTTL:              cfg.DownloadURLTTL,
		ProtectedKinds:              kinds,
		MaxUploadBytes:              cfg.MaxUploadBytes,
		DeleteConcurrency:           cfg.DeleteConcurrency,
	}
}

func (o *DocumentOptions) setDefaults() {
	if o.DefaultReviewIntervalMonths <= 0 {
		o.DefaultReviewIntervalMonths = review.DefaultIntervalMonths
	}
	if o.DownloadURLTTL <= 0 {
		o.DownloadURLTTL = time.Hour
	}
	if o.ProtectedKinds == nil {
		o.ProtectedKinds = []models.DocumentKind{models.KindLaw}
	}
	if o.DeleteConcurrency <= 0 {
		o.DeleteConcurrency = 4
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

type DocumentService struct {
	db      *gorm.DB
	store   storage.Store
	gate    AccessGate
	audit   auditor
	logger  *zap.Logger
	metrics *metrics.MetricsCollector
	opts    DocumentOptions
}

func NewDocumentService(
	db *gorm.DB,
	store storage.Store,
	gate AccessGate,
	sink AuditSink,
	logger *zap.Logger,
	metrics *metrics.MetricsCollector,
	opts DocumentOptions,
) *DocumentService {
	opts.setDefaults()
	logger = logger.With(zap.String("service", "document_service"))
	return &DocumentService{
		db:      db,
		store:   store,
		gate:    gate,
		audit:   auditor{sink: sink, logger: logger},
		logger:  logger,
		metrics: metrics,
		opts:    opts,
	}
}

func (ds *DocumentService) now() time.Time {
	return ds.opts.Clock().UTC()
}

// FileUpload is an incoming file. Size may be -1 when unknown.
type FileUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

func (f *FileUpload) mimeType() string {
	if f.ContentType == "" {
		return "application/octet-stream"
	}
	return f.ContentType
}

type CreateDocumentInput struct {
	Kind                 models.DocumentKind `json:"kind" validate:"required,enum"`
	Title                string              `json:"title" validate:"required,notblank,max=256"`
	Version              string              `json:"version" validate:"omitempty,notblank,max=64"`
	OwnerID              *string             `json:"ownerId"`
	TemplateID           *string             `json:"templateId"`
	ReviewIntervalMonths *int                `json:"reviewIntervalMonths" validate:"omitnil,gte=1,lte=120"`
	EffectiveFrom        *time.Time          `json:"effectiveFrom"`
	EffectiveTo          *time.Time          `json:"effectiveTo"`
	PlanSummary          *string             `json:"planSummary"`
	DoSummary            *string             `json:"doSummary"`
	CheckSummary         *string             `json:"checkSummary"`
	ActSummary           *string             `json:"actSummary"`
	VisibleToRoles       []models.Role       `json:"visibleToRoles" validate:"dive,enum"`
	ChangeComment        *string             `json:"changeComment" validate:"omitnil,max=2000"`
	File                 *FileUpload         `json:"-"`
}

type UploadVersionInput struct {
	Version          string      `json:"version" validate:"required,notblank,max=64"`
	ChangeComment    *string     `json:"changeComment" validate:"omitnil,max=2000"`
	ExpectedRevision *int        `json:"expectedRevision"`
	File             *FileUpload `json:"-"`
}

// UpdateDocumentInput is a partial update. Nil fields are left alone; an
// empty string clears OwnerID, TemplateID and the PDCA summaries.
type UpdateDocumentInput struct {
	Title                *string              `json:"title" validate:"omitnil,notblank,max=256"`
	Kind                 *models.DocumentKind `json:"kind" validate:"omitnil,enum"`
	Version              *string              `json:"version" validate:"omitnil,notblank,max=64"`
	OwnerID              *string              `json:"ownerId"`
	TemplateID           *string              `json:"templateId"`
	ReviewIntervalMonths *int                 `json:"reviewIntervalMonths" validate:"omitnil,gte=1,lte=120"`
	EffectiveFrom        *time.Time           `json:"effectiveFrom"`
	EffectiveTo          *time.Time           `json:"effectiveTo"`
	ClearEffectiveTo     bool                 `json:"clearEffectiveTo"`
	VisibleToRoles       *[]models.Role       `json:"visibleToRoles" validate:"omitnil,dive,enum"`
	PlanSummary          *string              `json:"planSummary"`
	DoSummary            *string              `json:"doSummary"`
	CheckSummary         *string              `json:"checkSummary"`
	ActSummary           *string              `json:"actSummary"`
	ExpectedRevision     *int                 `json:"expectedRevision"`
}

type DocumentFilter struct {
	Kind    *models.DocumentKind
	Status  *models.DocumentStatus
	OwnerID *string
}

func (ds *DocumentService) checkFile(f *FileUpload, ve *ValidationError) *ValidationError {
	switch {
	case f == nil || f.Body == nil:
		return mergeValidation(ve, "file", "is required")
	case f.Size == 0:
		return mergeValidation(ve, "file", "is empty")
	case ds.opts.MaxUploadBytes > 0 && f.Size > ds.opts.MaxUploadBytes:
		return mergeValidation(ve, "file", fmt.Sprintf("must be at most %d bytes", ds.opts.MaxUploadBytes))
	}
	return ve
}

func asValidation(err error) (*ValidationError, error) {
	if err == nil {
		return nil, nil
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, nil
	}
	return nil, err
}

func (ds *DocumentService) Create(ctx context.Context, auth AuthContext, in CreateDocumentInput) (doc *models.Document, err error) {
	start := time.Now()
	defer func() { ds.metrics.ObserveOperation("document.create", start, err) }()

	if err := ds.gate.RequireCapability(auth, CapDocumentCreate); err != nil {
		return nil, err
	}

	ve, err := asValidation(validateInput(in))
	if err != nil {
		return nil, err
	}
	ve = ds.checkFile(in.File, ve)
	slug := utils.Slugify(in.Title)
	if slug == "" && (ve == nil || ve.Fields["title"] == "") {
		ve = mergeValidation(ve, "title", "must contain letters or digits")
	}
	if in.EffectiveFrom != nil && in.EffectiveTo != nil && in.EffectiveTo.Before(*in.EffectiveFrom) {
		ve = mergeValidation(ve, "effectiveTo", "must not be before effectiveFrom")
	}
	if ve != nil {
		return nil, ve
	}

	existingID, err := ds.findBySlug(ctx, ds.db, auth.TenantID, slug)
	if err != nil {
		return nil, err
	}
	if existingID != "" {
		return nil, &DuplicateSlugError{Slug: slug, ExistingID: existingID}
	}

	ownerID := nullable(in.OwnerID)
	if ownerID != nil {
		if err := requireMember(ctx, ds.db, auth.TenantID, *ownerID); err != nil {
			return nil, err
		}
	}

	var tpl *models.DocumentTemplate
	templateID := nullable(in.TemplateID)
	if templateID != nil {
		if tpl, err = loadTemplate(ctx, ds.db, auth.TenantID, *templateID); err != nil {
			return nil, err
		}
	}

	now := ds.now()
	interval := resolveCreateInterval(in.ReviewIntervalMonths, tpl, ds.opts.DefaultReviewIntervalMonths)
	effectiveFrom := now
	if in.EffectiveFrom != nil {
		effectiveFrom = in.EffectiveFrom.UTC()
	}
	next, err := review.NextReviewDate(effectiveFrom, interval)
	if err != nil {
		return nil, newValidationError("reviewIntervalMonths", err.Error())
	}

	version := in.Version
	if version == "" {
		version = defaultVersionLabel
	}

	key := storage.DocumentKey(auth.TenantID, string(in.Kind), in.File.Filename)
	if err := ds.upload(ctx, key, in.File); err != nil {
		return nil, err
	}

	doc = &models.Document{
		ID:                   uuid.New().String(),
		TenantID:             auth.TenantID,
		Title:                in.Title,
		Slug:                 slug,
		Kind:                 in.Kind,
		Version:              version,
		Status:               models.StatusDraft,
		OwnerID:              ownerID,
		TemplateID:           templateID,
		ReviewIntervalMonths: interval,
		EffectiveFrom:        effectiveFrom,
		EffectiveTo:          utcPtr(in.EffectiveTo),
		PlanSummary:          nullable(in.PlanSummary),
		DoSummary:            nullable(in.DoSummary),
		CheckSummary:         nullable(in.CheckSummary),
		ActSummary:           nullable(in.ActSummary),
		NextReviewDate:       &next,
		VisibleToRoles:       rolesToJSON(in.VisibleToRoles),
		FileKey:              key,
		MimeType:             in.File.mimeType(),
		Revision:             1,
		CreatedBy:            auth.UserID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	first := models.DocumentVersion{
		ID:            uuid.New().String(),
		DocumentID:    doc.ID,
		Version:       version,
		Sequence:      1,
		FileKey:       key,
		MimeType:      doc.MimeType,
		UploadedBy:    auth.UserID,
		ChangeComment: nullable(in.ChangeComment),
		CreatedAt:     now,
	}
	entry := AuditEntry{
		TenantID:     auth.TenantID,
		UserID:       auth.UserID,
		Action:       ActionDocumentCreate,
		ResourceType: resourceDocument,
		ResourceID:   doc.ID,
		Metadata:     map[string]any{"title": doc.Title, "kind": string(doc.Kind), "version": version},
	}

	err = ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return err
		}
		if err := tx.Create(&first).Error; err != nil {
			return err
		}
		return ds.audit.inTx(ctx, tx, entry)
	})
	if err != nil {
		ds.discardBlob(ctx, key)
		if id, lookupErr := ds.findBySlug(ctx, ds.db, auth.TenantID, slug); lookupErr == nil && id != "" {
			return nil, &DuplicateSlugError{Slug: slug, ExistingID: id}
		}
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	ds.audit.afterCommit(ctx, entry)
	ds.metrics.ObserveSize(in.File.Size)

	doc.Versions = []models.DocumentVersion{first}
	ds.logger.Info("Document created",
		zap.String("doc_id", doc.ID),
		zap.String("tenant_id", doc.TenantID),
		zap.String("slug", slug),
		zap.String("user_id", auth.UserID))
	return doc, nil
}

func (ds *DocumentService) UploadNewVersion(ctx context.Context, auth AuthContext, documentID string, in UploadVersionInput) (doc *models.Document, err error) {
	start := time.Now()
	defer func() { ds.metrics.ObserveOperation("document.upload_version", start, err) }()

	if err := ds.gate.RequireCapability(auth, CapDocumentCreate); err != nil {
		return nil, err
	}
	ve, err := asValidation(validateInput(in))
	if err != nil {
		return nil, err
	}
	if ve = ds.checkFile(in.File, ve); ve != nil {
		return nil, ve
	}

	current, err := loadDocument(ctx, ds.db, auth.TenantID, documentID)
	if err != nil {
		return nil, err
	}
	if err := ds.gate.RequireDocumentAccess(auth, current); err != nil {
		return nil, err
	}
	if taken, err := versionExists(ctx, ds.db, documentID, in.Version); err != nil {
		return nil, err
	} else if taken {
		return nil, &DuplicateVersionError{DocumentID: documentID, Version: in.Version}
	}

	key := storage.DocumentKey(auth.TenantID, string(current.Kind), in.File.Filename)
	if err := ds.upload(ctx, key, in.File); err != nil {
		return nil, err
	}

	now := ds.now()
	entry := AuditEntry{
		TenantID:     auth.TenantID,
		UserID:       auth.UserID,
		Action:       ActionDocumentVersion,
		ResourceType: resourceDocument,
		ResourceID:   documentID,
		Metadata: map[string]any{
			"version":         in.Version,
			"previousVersion": current.Version,
			"previousStatus":  string(current.Status),
			"approvalReset":   current.IsApproved(),
		},
	}

	err = ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := loadDocument(ctx, tx, auth.TenantID, documentID)
		if err != nil {
			return err
		}
		if err := checkExpectedRevision(in.ExpectedRevision, d.Revision); err != nil {
			return err
		}
		if taken, err := versionExists(ctx, tx, documentID, in.Version); err != nil {
			return err
		} else if taken {
			return &DuplicateVersionError{DocumentID: documentID, Version: in.Version}
		}

		var maxSeq int
		if err := tx.Model(&models.DocumentVersion{}).
			Where("document_id = ?", documentID).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.DocumentVersion{}).
			Where("document_id = ? AND superseded_at IS NULL", documentID).
			Update("superseded_at", now).Error; err != nil {
			return err
		}

		ver := models.DocumentVersion{
			ID:            uuid.New().String(),
			DocumentID:    documentID,
			Version:       in.Version,
			Sequence:      maxSeq + 1,
			FileKey:       key,
			MimeType:      in.File.mimeType(),
			UploadedBy:    auth.UserID,
			ChangeComment: nullable(in.ChangeComment),
			CreatedAt:     now,
		}
		if err := tx.Create(&ver).Error; err != nil {
			return err
		}

		if err := bumpRevision(tx, &models.Document{}, documentID, d.Revision, map[string]any{
			"version":     in.Version,
			"file_key":    key,
			"mime_type":   ver.MimeType,
			"status":      models.StatusDraft,
			"approved_by": nil,
			"approved_at": nil,
			"updated_by":  auth.UserID,
			"updated_at":  now,
		}); err != nil {
			return err
		}
		return ds.audit.inTx(ctx, tx, entry)
	})
	if err != nil {
		ds.discardBlob(ctx, key)
		var dup *DuplicateVersionError
		if errors.As(err, &dup) || errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to upload new version: %w", err)
	}
	ds.audit.afterCommit(ctx, entry)
	ds.metrics.ObserveSize(in.File.Size)

	ds.logger.Info("Document version uploaded",
		zap.String("doc_id", documentID),
		zap.String("version", in.Version),
		zap.Bool("approval_reset", current.IsApproved()),
		zap.String("user_id", auth.UserID))
	return ds.withVersions(ctx, auth.TenantID, documentID)
}

func (ds *DocumentService) Update(ctx context.Context, auth AuthContext, documentID string, in UpdateDocumentInput) (doc *models.Document, err error) {
	start := time.Now()
	defer func() { ds.metrics.ObserveOperation("document.update", start, err) }()

	if err := ds.gate.RequireCapability(auth, CapDocumentCreate); err != nil {
		return nil, err
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}

	now := ds.now()
	var changed []string

	err = ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := loadDocument(ctx, tx, auth.TenantID, documentID)
		if err != nil {
			return err
		}
		if err := ds.gate.RequireDocumentAccess(auth, d); err != nil {
			return err
		}
		if err := checkExpectedRevision(in.ExpectedRevision, d.Revision); err != nil {
			return err
		}

		updates := map[string]any{}

		if in.Title != nil && *in.Title != d.Title {
			slug := utils.Slugify(*in.Title)
			if slug == "" {
				return newValidationError("title", "must contain letters or digits")
			}
			if slug != d.Slug {
				existingID, err := ds.findBySlug(ctx, tx, auth.TenantID, slug)
				if err != nil {
					return err
				}
				if existingID != "" && existingID != d.ID {
					return &DuplicateSlugError{Slug: slug, ExistingID: existingID}
				}
			}
			updates["title"] = *in.Title
			updates["slug"] = slug
		}

		if in.Kind != nil && *in.Kind != d.Kind {
			if ds.isProtected(d.Kind) {
				return newValidationError("kind", "protected documents cannot change kind")
			}
			updates["kind"] = *in.Kind
		}

		if in.Version != nil && *in.Version != d.Version {
			var clash int64
			if err := tx.Model(&models.DocumentVersion{}).
				Where("document_id = ? AND version = ? AND superseded_at IS NOT NULL", d.ID, *in.Version).
				Count(&clash).Error; err != nil {
				return err
			}
			if clash > 0 {
				return &DuplicateVersionError{DocumentID: d.ID, Version: *in.Version}
			}
			if err := tx.Model(&models.DocumentVersion{}).
				Where("document_id = ? AND superseded_at IS NULL", d.ID).
				Update("version", *in.Version).Error; err != nil {
				return err
			}
			updates["version"] = *in.Version
		}

		if in.OwnerID != nil {
			owner := nullable(in.OwnerID)
			if owner != nil {
				if err := requireMember(ctx, tx, auth.TenantID, *owner); err != nil {
					return err
				}
			}
			updates["owner_id"] = owner
		}

		var tpl *models.DocumentTemplate
		templateChanged := false
		if in.TemplateID != nil {
			newID := nullable(in.TemplateID)
			if newID != nil {
				if tpl, err = loadTemplate(ctx, tx, auth.TenantID, *newID); err != nil {
					return err
				}
			}
			templateChanged = !sameID(newID, d.TemplateID)
			updates["template_id"] = newID
		}

		effectiveFrom := d.EffectiveFrom
		if in.EffectiveFrom != nil {
			effectiveFrom = in.EffectiveFrom.UTC()
			updates["effective_from"] = effectiveFrom
		}

		effectiveTo := d.EffectiveTo
		switch {
		case in.ClearEffectiveTo:
			effectiveTo = nil
			updates["effective_to"] = nil
		case in.EffectiveTo != nil:
			effectiveTo = utcPtr(in.EffectiveTo)
			updates["effective_to"] = effectiveTo
		}
		if effectiveTo != nil && effectiveTo.Before(effectiveFrom) {
			return newValidationError("effectiveTo", "must not be before effectiveFrom")
		}

		if in.ReviewIntervalMonths != nil || in.TemplateID != nil || in.EffectiveFrom != nil {
			interval := resolveUpdateInterval(in.ReviewIntervalMonths, templateChanged, tpl, d.ReviewIntervalMonths, ds.opts.DefaultReviewIntervalMonths)
			next, err := review.NextReviewDate(effectiveFrom, interval)
			if err != nil {
				return newValidationError("reviewIntervalMonths", err.Error())
			}
			updates["review_interval_months"] = interval
			updates["next_review_date"] = next
		}

		if in.VisibleToRoles != nil {
			updates["visible_to_roles"] = rolesToJSON(*in.VisibleToRoles)
		}
		for col, v := range map[string]*string{
			"plan_summary":  in.PlanSummary,
			"do_summary":    in.DoSummary,
			"check_summary": in.CheckSummary,
			"act_summary":   in.ActSummary,
		} {
			if v != nil {
				updates[col] = nullable(v)
			}
		}

		if len(updates) == 0 {
			return nil
		}
		for col := range updates {
			changed = append(changed, col)
		}
		sort.Strings(changed)
		updates["updated_by"] = auth.UserID
		updates["updated_at"] = now

		if err := bumpRevision(tx, &models.Document{}, d.ID, d.Revision, updates); err != nil {
			return err
		}
		return ds.audit.inTx(ctx, tx, ds.updateEntry(auth, documentID, changed))
	})
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		ds.audit.afterCommit(ctx, ds.updateEntry(auth, documentID, changed))
	}

	return ds.withVersions(ctx, auth.TenantID, documentID)
}

func (ds *DocumentService) updateEntry(auth AuthContext, documentID string, changed []string) AuditEntry {
	return AuditEntry{
		TenantID:     auth.TenantID,
		UserID:       auth.UserID,
		Action:       ActionDocumentUpdate,
		ResourceType: resourceDocument,
		ResourceID:   documentID,
		Metadata:     map[string]any{"fields": changed},
	}
}

func (ds *DocumentService) Approve(ctx context.Context, auth AuthContext, documentID string, expectedRevision *int) (doc *models.Document, err error) {
	start := time.Now()
	defer func() { ds.metrics.ObserveOperation("document.approve", start, err) }()

	if err := ds.gate.RequireCapability(auth, CapDocumentApprove); err != nil {
		return nil, err
	}

	now := ds.now()
	var entry AuditEntry

	err = ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := loadDocument(ctx, tx, auth.TenantID, documentID)
		if err != nil {
			return err
		}
		if err := ds.gate.RequireDocumentAccess(auth, d); err != nil {
			return err
		}
		if err := checkExpectedRevision(expectedRevision, d.Revision); err != nil {
			return err
		}

		interval := d.ReviewIntervalMonths
		if interval <= 0 {
			interval = ds.opts.DefaultReviewIntervalMonths
		}
		next, err := review.NextReviewDate(d.EffectiveFrom, interval)
		if err != nil {
			return err
		}

		if err := bumpRevision(tx, &models.Document{}, d.ID, d.Revision, map[string]any{
			"status":           models.StatusApproved,
			"approved_by":      auth.UserID,
			"approved_at":      now,
			"next_review_date": next,
			"updated_by":       auth.UserID,
			"updated_at":       now,
		}); err != nil {
			return err
		}

		if err := tx.Model(&models.DocumentVersion{}).
			Where("document_id = ? AND superseded_at IS NULL", d.ID).
			Updates(map[string]any{"approved_by": auth.UserID, "approved_at": now}).Error; err != nil {
			return err
		}

		entry = AuditEntry{
			TenantID:     auth.TenantID,
			UserID:       auth.UserID,
			Action:       ActionDocumentApprove,
			ResourceType: resourceDocument,
			ResourceID:   d.ID,
			Metadata:     map[string]any{"version": d.Version, "nextReviewDate": next.Format(time.RFC3339)},
		}
		return ds.audit.inTx(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	ds.audit.afterCommit(ctx, entry)

	ds.logger.Info("Document approved",
		zap.String("doc_id", documentID),
		zap.String("approved_by", auth.UserID))
	return ds.withVersions(ctx, auth.TenantID, documentID)
}

func (ds *DocumentService) Delete(ctx context.Context, auth AuthContext, documentID string) (err error) {
	start := time.Now()
	defer func() { ds.metrics.ObserveOperation("document.delete", start, err) }()

	if err := ds.gate.RequireCapability(auth, CapDocumentDelete); err != nil {
		return err
	}

	var keys []string
	var entry AuditEntry

	err = ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := loadDocument(ctx, tx, auth.TenantID, documentID)
		if err != nil {
			return err
		}
		if err := ds.gate.RequireDocumentAccess(auth, d); err != nil {
			return err
		}
		if ds.isProtected(d.Kind) {
			return ErrProtectedKind
		}

		var versions []models.DocumentVersion
		if err := tx.Where("document_id = ?", d.ID).Find(&versions).Error; err != nil {
			return err
		}
		seen := map[string]bool{}
		for _, v := range versions {
			if v.FileKey != "" && !seen[v.FileKey] {
				seen[v.FileKey] = true
				keys = append(keys, v.FileKey)
			}
		}
		if d.FileKey != "" && !seen[d.FileKey] {
			keys = append(keys, d.FileKey)
		}

		entry = AuditEntry{
			TenantID:     auth.TenantID,
			UserID:       auth.UserID,
			Action:       ActionDocumentDelete,
			ResourceType: resourceDocument,
			ResourceID:   d.ID,
			Metadata:     map[string]any{"title": d.Title, "kind": string(d.Kind), "versions": len(versions)},
		}
		if err := ds.audit.inTx(ctx, tx, entry); err != nil {
			return err
		}

		if err := tx.Where("document_id = ?", d.ID).Delete(&models.DocumentVersion{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Document{}, "id = ?", d.ID).Error
	})
	if err != nil {
		return err
	}
	ds.audit.afterCommit(ctx, entry)

	ds.deleteBlobs(ctx, keys)
	ds.logger.Info("Document deleted",
		zap.String("doc_id", documentID),
		zap.Int("blobs", len(keys)),
		zap.String("user_id", auth.UserID))
	return nil
}

func (ds *DocumentService) GetDownloadURL(ctx context.Context, auth AuthContext, documentID string) (string, time.Time, error) {
	d, err := loadDocument(ctx, ds.db, auth.TenantID, documentID)
	if err != nil {
		return "", time.Time{}, err
	}
	if err := ds.gate.RequireDocumentAccess(auth, d); err != nil {
		return "", time.Time{}, err
	}

	ttl := ds.opts.DownloadURLTTL
	u, err := ds.store.SignedURL(ctx, d.FileKey, ttl)
	if err != nil {
		return "", time.Time{}, &StorageError{Op: "sign", Key: d.FileKey, Err: err}
	}
	return u, ds.now().Add(ttl), nil
}

func (ds *DocumentService) Get(ctx context.Context, auth AuthContext, documentID string) (*models.Document, error) {
	d, err := ds.withVersions(ctx, auth.TenantID, documentID)
	if err != nil {
		return nil, err
	}
	if err := ds.gate.RequireDocumentAccess(auth, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (ds *DocumentService) List(ctx context.Context, auth AuthContext, filter DocumentFilter) ([]models.Document, error) {
	if err := ds.gate.RequireCapability(auth, CapDocumentRead); err != nil {
		return nil, err
	}

	q := ds.db.WithContext(ctx).Where("tenant_id = ?", auth.TenantID)
	if filter.Kind != nil {
		q = q.Where("kind = ?", *filter.Kind)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.OwnerID != nil {
		q = q.Where("owner_id = ?", *filter.OwnerID)
	}

	var docs []models.Document
	if err := q.Order("title ASC").Find(&docs).Error; err != nil {
		return nil, err
	}
	return ds.visible(auth, docs), nil
}

// DueForReview lists documents whose next review falls on or before before.
func (ds *DocumentService) DueForReview(ctx context.Context, auth AuthContext, before time.Time) ([]models.Document, error) {
	if err := ds.gate.RequireCapability(auth, CapDocumentRead); err != nil {
		return nil, err
	}

	var docs []models.Document
	if err := ds.db.WithContext(ctx).
		Where("tenant_id = ? AND next_review_date IS NOT NULL AND next_review_date <= ?", auth.TenantID, before.UTC()).
		Order("next_review_date ASC").
		Find(&docs).Error; err != nil {
		return nil, err
	}
	return ds.visible(auth, docs), nil
}

func (ds *DocumentService) visible(auth AuthContext, docs []models.Document) []models.Document {
	out := docs[:0]
	for _, d := range docs {
		if d.VisibleTo(auth.Role) {
			out = append(out, d)
		}
	}
	return out
}

type CreateTemplateInput struct {
	Name                        string              `json:"name" validate:"required,notblank,max=256"`
	Kind                        models.DocumentKind `json:"kind" validate:"required,enum"`
	DefaultReviewIntervalMonths int                 `json:"defaultReviewIntervalMonths" validate:"gte=1,lte=120"`
	Global                      bool                `json:"global"`
}

func (ds *DocumentService) CreateTemplate(ctx context.Context, auth AuthContext, in CreateTemplateInput) (*models.DocumentTemplate, error) {
	if err := ds.gate.RequireCapability(auth, CapTemplateManage); err != nil {
		return nil, err
	}
	if in.Global && auth.Role != models.RoleAdmin {
		return nil, ErrUnauthorized
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}

	now := ds.now()
	tpl := &models.DocumentTemplate{
		ID:                          uuid.New().String(),
		Name:                        in.Name,
		Kind:                        in.Kind,
		DefaultReviewIntervalMonths: in.DefaultReviewIntervalMonths,
		CreatedAt:                   now,
		UpdatedAt:                   now,
	}
	if !in.Global {
		tenantID := auth.TenantID
		tpl.TenantID = &tenantID
	}

	entry := AuditEntry{
		TenantID:     auth.TenantID,
		UserID:       auth.UserID,
		Action:       ActionTemplateCreate,
		ResourceType: resourceTemplate,
		ResourceID:   tpl.ID,
		Metadata:     map[string]any{"name": tpl.Name, "global": in.Global},
	}
	err := ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(tpl).Error; err != nil {
			return err
		}
		return ds.audit.inTx(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	ds.audit.afterCommit(ctx, entry)
	return tpl, nil
}

func (ds *DocumentService) ListTemplates(ctx context.Context, auth AuthContext) ([]models.DocumentTemplate, error) {
	if err := ds.gate.RequireCapability(auth, CapDocumentRead); err != nil {
		return nil, err
	}
	var tpls []models.DocumentTemplate
	err := ds.db.WithContext(ctx).
		Where("tenant_id = ? OR tenant_id IS NULL", auth.TenantID).
		Order("name ASC").
		Find(&tpls).Error
	return tpls, err
}

func (ds *DocumentService) withVersions(ctx context.Context, tenantID, documentID string) (*models.Document, error) {
	var doc models.Document
	err := ds.db.WithContext(ctx).
		Preload("Versions", func(db *gorm.DB) *gorm.DB { return db.Order("sequence DESC") }).
		Where("tenant_id = ? AND id = ?", tenantID, documentID).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (ds *DocumentService) findBySlug(ctx context.Context, db *gorm.DB, tenantID, slug string) (string, error) {
	var ids []string
	if err := db.WithContext(ctx).Model(&models.Document{}).
		Where("tenant_id = ? AND slug = ?", tenantID, slug).
		Limit(1).
		Pluck("id", &ids).Error; err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

func (ds *DocumentService) isProtected(kind models.DocumentKind) bool {
	for _, k := range ds.opts.ProtectedKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (ds *DocumentService) upload(ctx context.Context, key string, f *FileUpload) error {
	if err := ds.store.Upload(ctx, key, f.Body, f.mimeType()); err != nil {
		ds.logger.Error("Blob upload failed", zap.String("key", key), zap.Error(err))
		return &StorageError{Op: "upload", Key: key, Err: err}
	}
	return nil
}

// discardBlob removes a blob whose database row never committed. A crash
// before this runs leaves an orphan for out-of-band cleanup.
func (ds *DocumentService) discardBlob(ctx context.Context, key string) {
	if err := ds.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		ds.metrics.IncrementBlobDeleteErrors()
		ds.logger.Warn("Failed to discard orphaned blob", zap.String("key", key), zap.Error(err))
	}
}

// deleteBlobs is best-effort: failures are logged and counted, never returned.
func (ds *DocumentService) deleteBlobs(ctx context.Context, keys []string) {
	ctx = context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(ds.opts.DeleteConcurrency)
	for _, key := range keys {
		g.Go(func() error {
			if err := ds.store.Delete(ctx, key); err != nil {
				ds.metrics.IncrementBlobDeleteErrors()
				ds.logger.Warn("Blob delete failed", zap.String("key", key), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func loadDocument(ctx context.Context, db *gorm.DB, tenantID, id string) (*models.Document, error) {
	var doc models.Document
	err := db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func versionExists(ctx context.Context, db *gorm.DB, documentID, version string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&models.DocumentVersion{}).
		Where("document_id = ? AND version = ?", documentID, version).
		Count(&n).Error
	return n > 0, err
}

func loadTemplate(ctx context.Context, db *gorm.DB, tenantID, id string) (*models.DocumentTemplate, error) {
	var tpl models.DocumentTemplate
	err := db.WithContext(ctx).
		Where("id = ? AND (tenant_id = ? OR tenant_id IS NULL)", id, tenantID).
		First(&tpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

func requireMember(ctx context.Context, db *gorm.DB, tenantID, userID string) error {
	var n int64
	if err := db.WithContext(ctx).Model(&models.TenantMember{}).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidOwner
	}
	return nil
}

// resolveCreateInterval: explicit value, else the template default, else
// the configured default.
func resolveCreateInterval(explicit *int, tpl *models.DocumentTemplate, fallback int) int {
	switch {
	case explicit != nil:
		return *explicit
	case tpl != nil && tpl.DefaultReviewIntervalMonths > 0:
		return tpl.DefaultReviewIntervalMonths
	default:
		return fallback
	}
}

// resolveUpdateInterval: an explicit value always wins; otherwise a template
// switched in this call supplies its default; otherwise the stored interval
// is kept.
func resolveUpdateInterval(explicit *int, templateChanged bool, tpl *models.DocumentTemplate, current, fallback int) int {
	switch {
	case explicit != nil:
		return *explicit
	case templateChanged && tpl != nil && tpl.DefaultReviewIntervalMonths > 0:
		return tpl.DefaultReviewIntervalMonths
	case current > 0:
		return current
	default:
		return fallback
	}
}

func rolesToJSON(roles []models.Role) datatypes.JSONSlice[string] {
	out := make(datatypes.JSONSlice[string], 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}

func sameID(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
