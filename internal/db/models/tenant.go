package models

import "time"

type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleManager  Role = "HMS_MANAGER"
	RoleEmployee Role = "EMPLOYEE"
	RoleAuditor  Role = "AUDITOR"
)

var Roles = []Role{RoleAdmin, RoleManager, RoleEmployee, RoleAuditor}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleEmployee, RoleAuditor:
		return true
	}
	return false
}

// Privileged roles see every document regardless of visibility restrictions.
func (r Role) Privileged() bool {
	switch r {
	case RoleAdmin, RoleManager:
		return true
	}
	return false
}

type Tenant struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"size:256;not null" json:"name"`
	Slug      string    `gorm:"size:256;not null;uniqueIndex" json:"slug"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type TenantMember struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	TenantID  string    `gorm:"size:36;not null;uniqueIndex:idx_tenant_members_user" json:"tenantId"`
	UserID    string    `gorm:"size:36;not null;uniqueIndex:idx_tenant_members_user" json:"userId"`
	Role      Role      `gorm:"size:32;not null;default:'EMPLOYEE'" json:"role"`
	CreatedAt time.Time `json:"createdAt"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}
