package models

import (
	"time"

	"github.com/hmsportal/hms/internal/review"
	"github.com/hmsportal/hms/internal/riskscore"
)

type RiskStatus string

const (
	RiskOpen       RiskStatus = "OPEN"
	RiskMitigating RiskStatus = "MITIGATING"
	RiskAccepted   RiskStatus = "ACCEPTED"
	RiskClosed     RiskStatus = "CLOSED"
)

func (s RiskStatus) Valid() bool {
	switch s {
	case RiskOpen, RiskMitigating, RiskAccepted, RiskClosed:
		return true
	}
	return false
}

type RiskCategory string

const (
	CategorySafety        RiskCategory = "SAFETY"
	CategoryHealth        RiskCategory = "HEALTH"
	CategoryEnvironmental RiskCategory = "ENVIRONMENTAL"
	CategoryOperational   RiskCategory = "OPERATIONAL"
	CategoryPsychosocial  RiskCategory = "PSYCHOSOCIAL"
	CategoryErgonomic     RiskCategory = "ERGONOMIC"
	CategoryFire          RiskCategory = "FIRE"
	CategoryChemical      RiskCategory = "CHEMICAL"
	CategoryLegal         RiskCategory = "LEGAL"
	CategoryInformation   RiskCategory = "INFORMATION_SECURITY"
	CategoryFinancial     RiskCategory = "FINANCIAL"
)

var RiskCategories = []RiskCategory{
	CategorySafety, CategoryHealth, CategoryEnvironmental, CategoryOperational,
	CategoryPsychosocial, CategoryErgonomic, CategoryFire, CategoryChemical,
	CategoryLegal, CategoryInformation, CategoryFinancial,
}

func (c RiskCategory) Valid() bool {
	switch c {
	case CategorySafety, CategoryHealth, CategoryEnvironmental, CategoryOperational,
		CategoryPsychosocial, CategoryErgonomic, CategoryFire, CategoryChemical,
		CategoryLegal, CategoryInformation, CategoryFinancial:
		return true
	}
	return false
}

type RiskStrategy string

const (
	StrategyAvoid    RiskStrategy = "AVOID"
	StrategyReduce   RiskStrategy = "REDUCE"
	StrategyTransfer RiskStrategy = "TRANSFER"
	StrategyAccept   RiskStrategy = "ACCEPT"
)

func (s RiskStrategy) Valid() bool {
	switch s {
	case StrategyAvoid, StrategyReduce, StrategyTransfer, StrategyAccept:
		return true
	}
	return false
}

type RiskTrend string

const (
	TrendIncreasing RiskTrend = "INCREASING"
	TrendStable     RiskTrend = "STABLE"
	TrendDecreasing RiskTrend = "DECREASING"
)

func (t RiskTrend) Valid() bool {
	switch t {
	case TrendIncreasing, TrendStable, TrendDecreasing:
		return true
	}
	return false
}

// Risk keeps inherent and residual ratings on the row itself. Scores are
// never stored; Inherent and Residual derive them on read.
type Risk struct {
	ID                   string           `gorm:"primaryKey;size:36" json:"id"`
	TenantID             string           `gorm:"size:36;not null;index" json:"tenantId"`
	Title                string           `gorm:"size:256;not null" json:"title"`
	Context              string           `gorm:"type:text;not null" json:"context"`
	Description          *string          `gorm:"type:text" json:"description,omitempty"`
	ExistingControls     *string          `gorm:"type:text" json:"existingControls,omitempty"`
	AdditionalNotes      *string          `gorm:"type:text" json:"additionalNotes,omitempty"`
	Category             RiskCategory     `gorm:"size:32;not null;index" json:"category"`
	Location             *string          `gorm:"size:256" json:"location,omitempty"`
	Area                 *string          `gorm:"size:256" json:"area,omitempty"`
	LinkedProcess        *string          `gorm:"size:256" json:"linkedProcess,omitempty"`
	OwnerID              *string          `gorm:"size:36;index" json:"ownerId"`
	Status               RiskStatus       `gorm:"size:16;not null;default:'OPEN';index" json:"status"`
	Likelihood           int              `gorm:"not null" json:"likelihood"`
	Consequence          int              `gorm:"not null" json:"consequence"`
	ResidualLikelihood   *int             `json:"residualLikelihood"`
	ResidualConsequence  *int             `json:"residualConsequence"`
	ReviewFrequency      review.Frequency `gorm:"size:16;not null;default:'ANNUAL'" json:"reviewFrequency"`
	NextReviewDate       *time.Time       `gorm:"index" json:"nextReviewDate"`
	LastReviewedAt       *time.Time       `json:"lastReviewedAt"`
	GoalID               *string          `gorm:"size:36" json:"goalId"`
	InspectionTemplateID *string          `gorm:"size:36" json:"inspectionTemplateId"`
	AssessmentID         *string          `gorm:"size:36;index" json:"assessmentId"`
	RiskAppetite         *string          `gorm:"type:text" json:"riskAppetite,omitempty"`
	RiskTolerance        *string          `gorm:"type:text" json:"riskTolerance,omitempty"`
	Strategy             RiskStrategy     `gorm:"size:16;not null;default:'REDUCE'" json:"strategy"`
	Trend                RiskTrend        `gorm:"size:16;not null;default:'STABLE'" json:"trend"`
	Revision             int              `gorm:"not null;default:1" json:"revision"`
	CreatedBy            string           `gorm:"size:36;not null" json:"createdBy"`
	UpdatedBy            *string          `gorm:"size:36" json:"updatedBy"`
	CreatedAt            time.Time        `json:"createdAt"`
	UpdatedAt            time.Time        `json:"updatedAt"`
}

func (r Risk) Inherent() riskscore.Assessment {
	a, err := riskscore.Score(r.Likelihood, r.Consequence)
	if err != nil {
		return riskscore.Assessment{Likelihood: r.Likelihood, Consequence: r.Consequence}
	}
	return a
}

// Residual is nil until both residual ratings are set.
func (r Risk) Residual() *riskscore.Assessment {
	if r.ResidualLikelihood == nil || r.ResidualConsequence == nil {
		return nil
	}
	a, err := riskscore.Score(*r.ResidualLikelihood, *r.ResidualConsequence)
	if err != nil {
		return nil
	}
	return &a
}

// LockedRatings reports whether likelihood and consequence are owned by a
// risk-assessment batch and must be edited there.
func (r Risk) LockedRatings() bool {
	return r.AssessmentID != nil
}
