package services

import (
	"github.com/hmsportal/hms/internal/db/models"
)

type Capability string

const (
	CapDocumentRead    Capability = "document:read"
	CapDocumentCreate  Capability = "document:create"
	CapDocumentApprove Capability = "document:approve"
	CapDocumentDelete  Capability = "document:delete"
	CapTemplateManage  Capability = "template:manage"
	CapTenantMember    Capability = "tenant:member"
)

// AuthContext is the authenticated caller. It is built once per request and
// passed explicitly into every lifecycle operation.
type AuthContext struct {
	UserID    string
	UserEmail string
	TenantID  string
	Role      models.Role
}

func (a AuthContext) Authenticated() bool {
	return a.UserID != "" && a.TenantID != "" && a.Role.Valid()
}

// AccessGate answers yes/no for a caller. Lifecycle code trusts the verdict.
type AccessGate interface {
	RequireCapability(auth AuthContext, capability Capability) error
	// RequireDocumentAccess hides documents of other tenants or outside the
	// caller's visibility as ErrNotFound.
	RequireDocumentAccess(auth AuthContext, doc *models.Document) error
}

type RoleGate struct {
	grants map[models.Role]map[Capability]bool
}

func DefaultGrants() map[models.Role][]Capability {
	return map[models.Role][]Capability{
		models.RoleAdmin: {
			CapDocumentRead, CapDocumentCreate, CapDocumentApprove, CapDocumentDelete,
			CapTemplateManage, CapTenantMember,
		},
		models.RoleManager: {
			CapDocumentRead, CapDocumentCreate, CapDocumentApprove, CapDocumentDelete,
			CapTemplateManage, CapTenantMember,
		},
		models.RoleEmployee: {
			CapDocumentRead, CapDocumentCreate, CapTenantMember,
		},
		models.RoleAuditor: {
			CapDocumentRead, CapTenantMember,
		},
	}
}

func NewRoleGate(grants map[models.Role][]Capability) *RoleGate {
	g := &RoleGate{grants: make(map[models.Role]map[Capability]bool, len(grants))}
	for role, caps := range grants {
		set := make(map[Capability]bool, len(caps))
		for _, c := range caps {
			set[c] = true
		}
		g.grants[role] = set
	}
	return g
}

func (g *RoleGate) RequireCapability(auth AuthContext, capability Capability) error {
	if !auth.Authenticated() {
		return ErrUnauthorized
	}
	if !g.grants[auth.Role][capability] {
		return ErrUnauthorized
	}
	return nil
}

func (g *RoleGate) RequireDocumentAccess(auth AuthContext, doc *models.Document) error {
	if err := g.RequireCapability(auth, CapDocumentRead); err != nil {
		return err
	}
	if doc == nil || doc.TenantID != auth.TenantID || !doc.VisibleTo(auth.Role) {
		return ErrNotFound
	}
	return nil
}
