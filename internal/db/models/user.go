package models

import (
	"time"
)

type User struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	Email          string     `gorm:"size:320;unique;not null" json:"email"`
	Name           string     `gorm:"size:256" json:"name"`
	PasswordHash   string     `gorm:"not null" json:"-"`
	ActiveStatus   bool       `gorm:"not null;default:true" json:"active"`
	LastLogin      *time.Time `json:"lastLogin,omitempty"`
	FailedAttempts int        `gorm:"not null;default:0" json:"-"`
	LockoutUntil   *time.Time `json:"-"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`

	Memberships []TenantMember `json:"memberships,omitempty"`
}

func (u User) LockedOut(now time.Time) bool {
	return u.LockoutUntil != nil && now.Before(*u.LockoutUntil)
}
