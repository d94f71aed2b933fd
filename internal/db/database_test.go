package db_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hmsportal/hms/internal/config"
	"github.com/hmsportal/hms/internal/db"
	"github.com/hmsportal/hms/internal/db/dbtest"
	"github.com/hmsportal/hms/internal/db/models"
	"github.com/hmsportal/hms/internal/utils"
)

func TestSeed(t *testing.T) {
	database := dbtest.New(t)
	ctx := context.Background()
	opts := db.SeedOptions{TenantName: "Demo Bedrift AS", AdminEmail: "admin@demo.no", AdminPassword: "changeme123"}

	require.NoError(t, db.Seed(ctx, database, opts, zap.NewNop()))

	var tenant models.Tenant
	require.NoError(t, database.First(&tenant).Error)
	assert.Equal(t, "demo-bedrift-as", tenant.Slug)

	var admin models.User
	require.NoError(t, database.Preload("Memberships").Where("email = ?", "admin@demo.no").First(&admin).Error)
	ok, err := utils.VerifyPassword(admin.PasswordHash, "changeme123")
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, admin.Memberships, 1)
	assert.Equal(t, models.RoleAdmin, admin.Memberships[0].Role)
	assert.Equal(t, tenant.ID, admin.Memberships[0].TenantID)

	var templates []models.DocumentTemplate
	require.NoError(t, database.Find(&templates).Error)
	assert.Len(t, templates, 4)
	for _, tpl := range templates {
		assert.True(t, tpl.IsGlobal())
	}

	// second run is a no-op
	require.NoError(t, db.Seed(ctx, database, opts, zap.NewNop()))
	var users int64
	database.Model(&models.User{}).Count(&users)
	assert.Equal(t, int64(1), users)
}

func TestSeed_PasswordMinLength(t *testing.T) {
	database := dbtest.New(t)
	ctx := context.Background()
	opts := db.SeedOptions{TenantName: "Demo", AdminEmail: "admin@demo.no", AdminPassword: "short", PasswordMinLength: 8}

	err := db.Seed(ctx, database, opts, zap.NewNop())
	assert.ErrorContains(t, err, "at least 8 characters")

	var users int64
	require.NoError(t, database.Model(&models.User{}).Count(&users).Error)
	assert.Zero(t, users)

	opts.AdminPassword = "long enough"
	require.NoError(t, db.Seed(ctx, database, opts, zap.NewNop()))
}

func TestInitialize_SQLite(t *testing.T) {
	cfg := config.InitializeDefaultConfig()
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = ":memory:"

	database, err := db.Initialize(cfg, zap.NewNop())
	require.NoError(t, err)
	defer db.Close(database)

	assert.True(t, database.Migrator().HasTable(&models.Document{}))
	assert.True(t, database.Migrator().HasTable(&models.DocumentVersion{}))
	assert.True(t, database.Migrator().HasTable(&models.Risk{}))
}

func TestInitialize_UnknownDriver(t *testing.T) {
	cfg := config.InitializeDefaultConfig()
	cfg.Database.Driver = "oracle"

	_, err := db.Initialize(cfg, zap.NewNop())
	assert.Error(t, err)
}
