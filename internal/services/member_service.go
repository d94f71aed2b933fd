package services

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hmsportal/hms/internal/db/models"
)

type MemberView struct {
	UserID    string      `json:"userId"`
	TenantID  string      `json:"tenantId"`
	Email     string      `json:"email"`
	Name      string      `json:"name"`
	Role      models.Role `json:"role"`
	Active    bool        `json:"active"`
	LastLogin *time.Time  `json:"lastLogin,omitempty"`
}

type MemberService struct {
	db     *gorm.DB
	gate   AccessGate
	logger *zap.Logger
}

func NewMemberService(db *gorm.DB, gate AccessGate, logger *zap.Logger) *MemberService {
	return &MemberService{
		db:     db,
		gate:   gate,
		logger: logger.With(zap.String("service", "member_service")),
	}
}

func (ms *MemberService) List(ctx context.Context, auth AuthContext) ([]MemberView, error) {
	if err := ms.gate.RequireCapability(auth, CapTenantMember); err != nil {
		return nil, err
	}

	var members []models.TenantMember
	if err := ms.db.WithContext(ctx).
		Preload("User").
		Where("tenant_id = ?", auth.TenantID).
		Order("created_at ASC").
		Find(&members).Error; err != nil {
		return nil, err
	}

	out := make([]MemberView, 0, len(members))
	for _, m := range members {
		if m.User == nil {
			continue
		}
		out = append(out, memberView(m))
	}
	return out, nil
}

func (ms *MemberService) Me(ctx context.Context, auth AuthContext) (*MemberView, error) {
	if err := ms.gate.RequireCapability(auth, CapTenantMember); err != nil {
		return nil, err
	}

	var m models.TenantMember
	err := ms.db.WithContext(ctx).
		Preload("User").
		Where("tenant_id = ? AND user_id = ?", auth.TenantID, auth.UserID).
		First(&m).Error
	if err != nil || m.User == nil {
		return nil, ErrNotFound
	}
	v := memberView(m)
	return &v, nil
}

func memberView(m models.TenantMember) MemberView {
	return MemberView{
		UserID:    m.UserID,
		TenantID:  m.TenantID,
		Email:     m.User.Email,
		Name:      m.User.Name,
		Role:      m.Role,
		Active:    m.User.ActiveStatus,
		LastLogin: m.User.LastLogin,
	}
}
