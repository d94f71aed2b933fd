package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hmsportal/hms/internal/db/models"
	"github.com/hmsportal/hms/internal/review"
	"github.com/hmsportal/hms/internal/riskscore"
	"github.com/hmsportal/hms/pkg/metrics"
)

const resourceRisk = "risk"

// StatusPolicy decides which risk status changes are allowed.
type StatusPolicy interface {
	Allow(from, to models.RiskStatus) error
}

// AnyTransition lets callers move a risk between any two statuses.
type AnyTransition struct{}

func (AnyTransition) Allow(from, to models.RiskStatus) error {
	return nil
}

// ForwardOnly walks OPEN -> MITIGATING -> ACCEPTED|CLOSED and never reopens.
type ForwardOnly struct{}

func (ForwardOnly) Allow(from, to models.RiskStatus) error {
	if from == to {
		return nil
	}
	allowed := map[models.RiskStatus][]models.RiskStatus{
		models.RiskOpen:       {models.RiskMitigating, models.RiskAccepted, models.RiskClosed},
		models.RiskMitigating: {models.RiskAccepted, models.RiskClosed},
		models.RiskAccepted:   {models.RiskClosed},
	}
	for _, s := range allowed[from] {
		if s == to {
			return nil
		}
	}
	return newValidationError("status", fmt.Sprintf("cannot move from %s to %s", from, to))
}

type RiskOptions struct {
	Policy StatusPolicy
	Clock  func() time.Time
}

type RiskService struct {
	db      *gorm.DB
	gate    AccessGate
	audit   auditor
	logger  *zap.Logger
	metrics *metrics.MetricsCollector
	policy  StatusPolicy
	clock   func() time.Time
}

func NewRiskService(db *gorm.DB, gate AccessGate, sink AuditSink, logger *zap.Logger, metrics *metrics.MetricsCollector, opts RiskOptions) *RiskService {
	if opts.Policy == nil {
		opts.Policy = AnyTransition{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger = logger.With(zap.String("service", "risk_service"))
	return &RiskService{
		db:      db,
		gate:    gate,
		audit:   auditor{sink: sink, logger: logger},
		logger:  logger,
		metrics: metrics,
		policy:  opts.Policy,
		clock:   opts.Clock,
	}
}

func (rs *RiskService) now() time.Time {
	return rs.clock().UTC()
}

// RiskView is a stored risk with its scores derived on read.
type RiskView struct {
	models.Risk
	Inherent riskscore.Assessment  `json:"inherent"`
	Residual *riskscore.Assessment `json:"residual"`
}

func viewOf(r models.Risk) RiskView {
	return RiskView{Risk: r, Inherent: r.Inherent(), Residual: r.Residual()}
}

// Optional distinguishes an absent JSON field from an explicit null.
type Optional[T any] struct {
	Set   bool
	Value *T
}

func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: &v}
}

func Null[T any]() Optional[T] {
	return Optional[T]{Set: true}
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

type CreateRiskInput struct {
	Title                string               `json:"title" validate:"required,notblank,max=256"`
	Context              string               `json:"context" validate:"required,notblank"`
	Description          *string              `json:"description"`
	ExistingControls     *string              `json:"existingControls"`
	AdditionalNotes      *string              `json:"additionalNotes"`
	Category             *models.RiskCategory `json:"category" validate:"omitnil,enum"`
	Location             *string              `json:"location" validate:"omitnil,max=256"`
	Area                 *string              `json:"area" validate:"omitnil,max=256"`
	LinkedProcess        *string              `json:"linkedProcess" validate:"omitnil,max=256"`
	OwnerID              *string              `json:"ownerId"`
	Status               *models.RiskStatus   `json:"status" validate:"omitnil,enum"`
	Likelihood           int                  `json:"likelihood"`
	Consequence          int                  `json:"consequence"`
	ResidualLikelihood   *int                 `json:"residualLikelihood"`
	ResidualConsequence  *int                 `json:"residualConsequence"`
	ReviewFrequency      *review.Frequency    `json:"reviewFrequency" validate:"omitnil,enum"`
	NextReviewDate       *time.Time           `json:"nextReviewDate"`
	GoalID               *string              `json:"goalId"`
	InspectionTemplateID *string              `json:"inspectionTemplateId"`
	AssessmentID         *string              `json:"assessmentId"`
	RiskAppetite         *string              `json:"riskAppetite"`
	RiskTolerance        *string              `json:"riskTolerance"`
	Strategy             *models.RiskStrategy `json:"strategy" validate:"omitnil,enum"`
	Trend                *models.RiskTrend    `json:"trend" validate:"omitnil,enum"`
}

// UpdateRiskInput is a partial update. Nil pointers leave the stored value;
// residual ratings use Optional so an explicit null clears them.
type UpdateRiskInput struct {
	Title               *string              `json:"title" validate:"omitnil,notblank,max=256"`
	Context             *string              `json:"context" validate:"omitnil,notblank"`
	Description         *string              `json:"description"`
	ExistingControls    *string              `json:"existingControls"`
	AdditionalNotes     *string              `json:"additionalNotes"`
	Category            *models.RiskCategory `json:"category" validate:"omitnil,enum"`
	Location            *string              `json:"location" validate:"omitnil,max=256"`
	Area                *string              `json:"area" validate:"omitnil,max=256"`
	LinkedProcess       *string              `json:"linkedProcess" validate:"omitnil,max=256"`
	OwnerID             *string              `json:"ownerId"`
	Status              *models.RiskStatus   `json:"status" validate:"omitnil,enum"`
	Likelihood          *int                 `json:"likelihood"`
	Consequence         *int                 `json:"consequence"`
	ResidualLikelihood  Optional[int]        `json:"residualLikelihood"`
	ResidualConsequence Optional[int]        `json:"residualConsequence"`
	ReviewFrequency     *review.Frequency    `json:"reviewFrequency" validate:"omitnil,enum"`
	NextReviewDate      *time.Time           `json:"nextReviewDate"`
	RiskAppetite        *string              `json:"riskAppetite"`
	RiskTolerance       *string              `json:"riskTolerance"`
	Strategy            *models.RiskStrategy `json:"strategy" validate:"omitnil,enum"`
	Trend               *models.RiskTrend    `json:"trend" validate:"omitnil,enum"`
	ExpectedRevision    *int                 `json:"expectedRevision"`
}

type RiskFilter struct {
	Status   *models.RiskStatus
	Category *models.RiskCategory
	OwnerID  *string
}

type RiskMatrix struct {
	Inherent riskscore.Matrix `json:"inherent"`
	Residual riskscore.Matrix `json:"residual"`
	Total    int              `json:"total"`
}

func checkRating(ve *ValidationError, field string, v int) *ValidationError {
	if _, err := riskscore.Score(v, riskscore.MinRating); errors.Is(err, riskscore.ErrInvalidInput) {
		return mergeValidation(ve, field, fmt.Sprintf("must be between %d and %d", riskscore.MinRating, riskscore.MaxRating))
	}
	return ve
}

func checkOptionalRating(ve *ValidationError, field string, v *int) *ValidationError {
	if v == nil {
		return ve
	}
	return checkRating(ve, field, *v)
}

func (rs *RiskService) Create(ctx context.Context, auth AuthContext, in CreateRiskInput) (view *RiskView, err error) {
	start := time.Now()
	defer func() { rs.metrics.ObserveOperation("risk.create", start, err) }()

	if err := rs.gate.RequireCapability(auth, CapTenantMember); err != nil {
		return nil, err
	}
	ve, err := asValidation(validateInput(in))
	if err != nil {
		return nil, err
	}
	ve = checkRating(ve, "likelihood", in.Likelihood)
	ve = checkRating(ve, "consequence", in.Consequence)
	ve = checkOptionalRating(ve, "residualLikelihood", in.ResidualLikelihood)
	ve = checkOptionalRating(ve, "residualConsequence", in.ResidualConsequence)
	if ve != nil {
		return nil, ve
	}

	owner := nullable(in.OwnerID)
	if owner != nil {
		if err := requireMember(ctx, rs.db, auth.TenantID, *owner); err != nil {
			return nil, err
		}
	}

	now := rs.now()
	risk := models.Risk{
		ID:                   uuid.New().String(),
		TenantID:             auth.TenantID,
		Title:                in.Title,
		Context:              in.Context,
		Description:          nullable(in.Description),
		ExistingControls:     nullable(in.ExistingControls),
		AdditionalNotes:      nullable(in.AdditionalNotes),
		Category:             orDefault(in.Category, models.CategoryOperational),
		Location:             nullable(in.Location),
		Area:                 nullable(in.Area),
		LinkedProcess:        nullable(in.LinkedProcess),
		OwnerID:              owner,
		Status:               orDefault(in.Status, models.RiskOpen),
		Likelihood:           in.Likelihood,
		Consequence:          in.Consequence,
		ResidualLikelihood:   in.ResidualLikelihood,
		ResidualConsequence:  in.ResidualConsequence,
		ReviewFrequency:      orDefault(in.ReviewFrequency, review.Annual),
		GoalID:               nullable(in.GoalID),
		InspectionTemplateID: nullable(in.InspectionTemplateID),
		AssessmentID:         nullable(in.AssessmentID),
		RiskAppetite:         nullable(in.RiskAppetite),
		RiskTolerance:        nullable(in.RiskTolerance),
		Strategy:             orDefault(in.Strategy, models.StrategyReduce),
		Trend:                orDefault(in.Trend, models.TrendStable),
		Revision:             1,
		CreatedBy:            auth.UserID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if in.NextReviewDate != nil {
		risk.NextReviewDate = utcPtr(in.NextReviewDate)
	} else {
		risk.NextReviewDate = timePtr(review.NextFromFrequency(now, risk.ReviewFrequency))
	}

	v := viewOf(risk)
	entry := AuditEntry{
		TenantID:     auth.TenantID,
		UserID:       auth.UserID,
		Action:       ActionRiskCreate,
		ResourceType: resourceRisk,
		ResourceID:   risk.ID,
		Metadata:     map[string]any{"title": risk.Title, "score": v.Inherent.Score, "level": string(v.Inherent.Level)},
	}
	err = rs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&risk).Error; err != nil {
			return err
		}
		return rs.audit.inTx(ctx, tx, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create risk: %w", err)
	}
	rs.audit.afterCommit(ctx, entry)

	rs.logger.Info("Risk created",
		zap.String("risk_id", risk.ID),
		zap.String("tenant_id", risk.TenantID),
		zap.Int("score", v.Inherent.Score),
		zap.String("level", string(v.Inherent.Level)))
	return &v, nil
}

func (rs *RiskService) Update(ctx context.Context, auth AuthContext, riskID string, in UpdateRiskInput) (view *RiskView, err error) {
	start := time.Now()
	defer func() { rs.metrics.ObserveOperation("risk.update", start, err) }()

	if err := rs.gate.RequireCapability(auth, CapTenantMember); err != nil {
		return nil, err
	}
	ve, err := asValidation(validateInput(in))
	if err != nil {
		return nil, err
	}
	ve = checkOptionalRating(ve, "likelihood", in.Likelihood)
	ve = checkOptionalRating(ve, "consequence", in.Consequence)
	if in.ResidualLikelihood.Set {
		ve = checkOptionalRating(ve, "residualLikelihood", in.ResidualLikelihood.Value)
	}
	if in.ResidualConsequence.Set {
		ve = checkOptionalRating(ve, "residualConsequence", in.ResidualConsequence.Value)
	}
	if ve != nil {
		return nil, ve
	}

	now := rs.now()
	var (
		entry     AuditEntry
		unchanged bool
	)

	err = rs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := loadRisk(ctx, tx, auth.TenantID, riskID)
		if err != nil {
			return err
		}
		if err := checkExpectedRevision(in.ExpectedRevision, r.Revision); err != nil {
			return err
		}

		var ve *ValidationError
		if r.LockedRatings() {
			if in.Likelihood != nil && *in.Likelihood != r.Likelihood {
				ve = mergeValidation(ve, "likelihood", "is set by the linked risk assessment")
			}
			if in.Consequence != nil && *in.Consequence != r.Consequence {
				ve = mergeValidation(ve, "consequence", "is set by the linked risk assessment")
			}
		}
		if in.Status != nil {
			if err := rs.policy.Allow(r.Status, *in.Status); err != nil {
				var pe *ValidationError
				if !errors.As(err, &pe) {
					return err
				}
				for k, v := range pe.Fields {
					ve = mergeValidation(ve, k, v)
				}
			}
		}
		if ve != nil {
			return ve
		}

		updates := map[string]any{}
		if in.OwnerID != nil {
			owner := nullable(in.OwnerID)
			if owner != nil {
				if err := requireMember(ctx, tx, auth.TenantID, *owner); err != nil {
					return err
				}
			}
			updates["owner_id"] = owner
		}
		if in.Title != nil {
			updates["title"] = *in.Title
		}
		if in.Context != nil {
			updates["context"] = *in.Context
		}
		for col, v := range map[string]*string{
			"description":       in.Description,
			"existing_controls": in.ExistingControls,
			"additional_notes":  in.AdditionalNotes,
			"location":          in.Location,
			"area":              in.Area,
			"linked_process":    in.LinkedProcess,
			"risk_appetite":     in.RiskAppetite,
			"risk_tolerance":    in.RiskTolerance,
		} {
			if v != nil {
				updates[col] = nullable(v)
			}
		}
		if in.Category != nil {
			updates["category"] = *in.Category
		}
		if in.Status != nil {
			updates["status"] = *in.Status
		}
		if in.Strategy != nil {
			updates["strategy"] = *in.Strategy
		}
		if in.Trend != nil {
			updates["trend"] = *in.Trend
		}
		if in.Likelihood != nil {
			updates["likelihood"] = *in.Likelihood
		}
		if in.Consequence != nil {
			updates["consequence"] = *in.Consequence
		}
		if in.ResidualLikelihood.Set {
			updates["residual_likelihood"] = in.ResidualLikelihood.Value
		}
		if in.ResidualConsequence.Set {
			updates["residual_consequence"] = in.ResidualConsequence.Value
		}

		// an explicit date always wins over the frequency-derived one
		switch {
		case in.NextReviewDate != nil:
			updates["next_review_date"] = in.NextReviewDate.UTC()
		case in.ReviewFrequency != nil && *in.ReviewFrequency != r.ReviewFrequency:
			updates["next_review_date"] = review.NextFromFrequency(now, *in.ReviewFrequency)
		}
		if in.ReviewFrequency != nil {
			updates["review_frequency"] = *in.ReviewFrequency
		}

		if len(updates) == 0 {
			unchanged = true
			return nil
		}

		changed := make([]string, 0, len(updates))
		for col := range updates {
			changed = append(changed, col)
		}
		updates["updated_by"] = auth.UserID
		updates["updated_at"] = now

		if err := bumpRevision(tx, &models.Risk{}, r.ID, r.Revision, updates); err != nil {
			return err
		}

		entry = AuditEntry{
			TenantID:     auth.TenantID,
			UserID:       auth.UserID,
			Action:       ActionRiskUpdate,
			ResourceType: resourceRisk,
			ResourceID:   r.ID,
			Metadata:     map[string]any{"fields": len(changed), "fromStatus": string(r.Status)},
		}
		return rs.audit.inTx(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	if !unchanged {
		rs.audit.afterCommit(ctx, entry)
	}

	return rs.Get(ctx, auth, riskID)
}

// LinkGoal sets or, with a nil goalID, clears the goal a risk feeds into.
func (rs *RiskService) LinkGoal(ctx context.Context, auth AuthContext, riskID string, goalID *string) (*RiskView, error) {
	return rs.link(ctx, auth, riskID, "goal_id", goalID)
}

func (rs *RiskService) LinkInspectionTemplate(ctx context.Context, auth AuthContext, riskID string, templateID *string) (*RiskView, error) {
	return rs.link(ctx, auth, riskID, "inspection_template_id", templateID)
}

func (rs *RiskService) link(ctx context.Context, auth AuthContext, riskID, column string, target *string) (*RiskView, error) {
	if err := rs.gate.RequireCapability(auth, CapTenantMember); err != nil {
		return nil, err
	}

	target = nullable(target)
	now := rs.now()
	var entry AuditEntry

	err := rs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := loadRisk(ctx, tx, auth.TenantID, riskID)
		if err != nil {
			return err
		}
		if err := bumpRevision(tx, &models.Risk{}, r.ID, r.Revision, map[string]any{
			column:       target,
			"updated_by": auth.UserID,
			"updated_at": now,
		}); err != nil {
			return err
		}

		meta := map[string]any{"field": column, "target": nil}
		if target != nil {
			meta["target"] = *target
		}
		entry = AuditEntry{
			TenantID:     auth.TenantID,
			UserID:       auth.UserID,
			Action:       ActionRiskLink,
			ResourceType: resourceRisk,
			ResourceID:   r.ID,
			Metadata:     meta,
		}
		return rs.audit.inTx(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	rs.audit.afterCommit(ctx, entry)

	return rs.Get(ctx, auth, riskID)
}

// MarkReviewed stamps the review and schedules the next one from the risk's
// frequency.
func (rs *RiskService) MarkReviewed(ctx context.Context, auth AuthContext, riskID string) (*RiskView, error) {
	if err := rs.gate.RequireCapability(auth, CapTenantMember); err != nil {
		return nil, err
	}

	now := rs.now()
	var entry AuditEntry

	err := rs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := loadRisk(ctx, tx, auth.TenantID, riskID)
		if err != nil {
			return err
		}
		next := review.NextFromFrequency(now, r.ReviewFrequency)
		if err := bumpRevision(tx, &models.Risk{}, r.ID, r.Revision, map[string]any{
			"last_reviewed_at": now,
			"next_review_date": next,
			"updated_by":       auth.UserID,
			"updated_at":       now,
		}); err != nil {
			return err
		}
		entry = AuditEntry{
			TenantID:     auth.TenantID,
			UserID:       auth.UserID,
			Action:       ActionRiskReviewed,
			ResourceType: resourceRisk,
			ResourceID:   r.ID,
			Metadata:     map[string]any{"nextReviewDate": next.Format(time.RFC3339)},
		}
		return rs.audit.inTx(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	rs.audit.afterCommit(ctx, entry)

	return rs.Get(ctx, auth, riskID)
}

func (rs *RiskService) Get(ctx context.Context, auth AuthContext, riskID string) (*RiskView, error) {
	if err := rs.gate.RequireCapability(auth, CapTenantMember); err != nil {
		return nil, err
	}
	r, err := loadRisk(ctx, rs.db, auth.TenantID, riskID)
	if err != nil {
		return nil, err
	}
	v := viewOf(*r)
	return &v, nil
}

func (rs *RiskService) List(ctx context.Context, auth AuthContext, filter RiskFilter) ([]RiskView, error) {
	if err := rs.gate.RequireCapability(auth, CapTenantMember); err != nil {
		return nil, err
	}

	q := rs.db.WithContext(ctx).Where("tenant_id = ?", auth.TenantID)
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.Category != nil {
		q = q.Where("category = ?", *filter.Category)
	}
	if filter.OwnerID != nil {
		q = q.Where("owner_id = ?", *filter.OwnerID)
	}

	var risks []models.Risk
	if err := q.Order("likelihood * consequence DESC, title ASC").Find(&risks).Error; err != nil {
		return nil, err
	}
	return viewsOf(risks), nil
}

func (rs *RiskService) DueForReview(ctx context.Context, auth AuthContext, before time.Time) ([]RiskView, error) {
	if err := rs.gate.RequireCapability(auth, CapTenantMember); err != nil {
		return nil, err
	}

	var risks []models.Risk
	if err := rs.db.WithContext(ctx).
		Where("tenant_id = ? AND status <> ? AND next_review_date IS NOT NULL AND next_review_date <= ?",
			auth.TenantID, models.RiskClosed, before.UTC()).
		Order("next_review_date ASC").
		Find(&risks).Error; err != nil {
		return nil, err
	}
	return viewsOf(risks), nil
}

// Matrix counts the tenant's open risks per likelihood/consequence cell.
// Closed risks are left out.
func (rs *RiskService) Matrix(ctx context.Context, auth AuthContext) (*RiskMatrix, error) {
	if err := rs.gate.RequireCapability(auth, CapTenantMember); err != nil {
		return nil, err
	}

	var risks []models.Risk
	if err := rs.db.WithContext(ctx).
		Select("likelihood", "consequence", "residual_likelihood", "residual_consequence").
		Where("tenant_id = ? AND status <> ?", auth.TenantID, models.RiskClosed).
		Find(&risks).Error; err != nil {
		return nil, err
	}

	m := &RiskMatrix{Total: len(risks)}
	for _, r := range risks {
		m.Inherent.Add(r.Likelihood, r.Consequence)
		if r.ResidualLikelihood != nil && r.ResidualConsequence != nil {
			m.Residual.Add(*r.ResidualLikelihood, *r.ResidualConsequence)
		}
	}
	return m, nil
}

func viewsOf(risks []models.Risk) []RiskView {
	out := make([]RiskView, 0, len(risks))
	for _, r := range risks {
		out = append(out, viewOf(r))
	}
	return out
}

func loadRisk(ctx context.Context, db *gorm.DB, tenantID, id string) (*models.Risk, error) {
	var r models.Risk
	err := db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func orDefault[T comparable](v *T, def T) T {
	var zero T
	if v == nil || *v == zero {
		return def
	}
	return *v
}
