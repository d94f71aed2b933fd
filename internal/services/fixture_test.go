package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hmsportal/hms/internal/db/dbtest"
	"github.com/hmsportal/hms/internal/db/models"
	"github.com/hmsportal/hms/internal/storage"
	"github.com/hmsportal/hms/internal/utils"
)

var fixedNow = time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type fixture struct {
	db       *gorm.DB
	store    *storage.Memory
	audit    *GormAuditSink
	tenantID string
	other    string

	admin    AuthContext
	manager  AuthContext
	employee AuthContext
	auditor  AuthContext
	outsider AuthContext
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		db:    dbtest.New(t),
		store: storage.NewMemory(),
	}
	f.audit = NewGormAuditSink(f.db)
	f.tenantID = f.addTenant(t, "Acme AS")
	f.other = f.addTenant(t, "Other AS")

	f.admin = f.addMember(t, f.tenantID, "admin@acme.test", models.RoleAdmin)
	f.manager = f.addMember(t, f.tenantID, "manager@acme.test", models.RoleManager)
	f.employee = f.addMember(t, f.tenantID, "employee@acme.test", models.RoleEmployee)
	f.auditor = f.addMember(t, f.tenantID, "auditor@acme.test", models.RoleAuditor)
	f.outsider = f.addMember(t, f.other, "someone@other.test", models.RoleAdmin)
	return f
}

func (f *fixture) addTenant(t *testing.T, name string) string {
	t.Helper()
	tenant := models.Tenant{ID: uuid.New().String(), Name: name, Slug: utils.Slugify(name)}
	require.NoError(t, f.db.Create(&tenant).Error)
	return tenant.ID
}

func (f *fixture) addMember(t *testing.T, tenantID, email string, role models.Role) AuthContext {
	t.Helper()

	hash, err := utils.HashPassword("correct horse battery")
	require.NoError(t, err)
	user := models.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         email,
		PasswordHash: hash,
		ActiveStatus: true,
	}
	require.NoError(t, f.db.Create(&user).Error)
	require.NoError(t, f.db.Create(&models.TenantMember{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		UserID:   user.ID,
		Role:     role,
	}).Error)

	return AuthContext{UserID: user.ID, UserEmail: email, TenantID: tenantID, Role: role}
}

func (f *fixture) documents(store storage.Store) *DocumentService {
	if store == nil {
		store = f.store
	}
	return NewDocumentService(f.db, store, NewRoleGate(DefaultGrants()), f.audit, zap.NewNop(), nil, DocumentOptions{
		MaxUploadBytes: 1 << 20,
		Clock:          fixedClock,
	})
}

func (f *fixture) auditActions(t *testing.T, resourceType, resourceID string) []string {
	t.Helper()
	rows, err := f.audit.List(context.Background(), f.tenantID, resourceType, resourceID)
	require.NoError(t, err)
	actions := make([]string, 0, len(rows))
	for _, r := range rows {
		actions = append(actions, r.Action)
	}
	return actions
}

func file(name, body string) *FileUpload {
	return &FileUpload{
		Filename:    name,
		ContentType: "application/pdf",
		Size:        int64(len(body)),
		Body:        strings.NewReader(body),
	}
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

// failingStore wraps a Store and fails the operations it is told to.
type failingStore struct {
	storage.Store
	failUpload bool
	failDelete bool
}

var errBlobDown = errors.New("blob backend unavailable")

func (s *failingStore) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	if s.failUpload {
		return errBlobDown
	}
	return s.Store.Upload(ctx, key, body, contentType)
}

func (s *failingStore) Delete(ctx context.Context, key string) error {
	if s.failDelete {
		return errBlobDown
	}
	return s.Store.Delete(ctx, key)
}
