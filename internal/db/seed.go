package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hmsportal/hms/internal/db/models"
	"github.com/hmsportal/hms/internal/utils"
)

type SeedOptions struct {
	TenantName    string
	AdminEmail    string
	AdminPassword string
	// PasswordMinLength is enforced on AdminPassword when positive.
	PasswordMinLength int
}

// Seed creates a demo tenant, an admin member and the global document
// templates when the database has no users yet.
func Seed(ctx context.Context, database *gorm.DB, opts SeedOptions, logger *zap.Logger) error {
	var count int64
	if err := database.WithContext(ctx).Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		logger.Info("Database already seeded, skipping")
		return nil
	}
	if opts.PasswordMinLength > 0 && len([]rune(opts.AdminPassword)) < opts.PasswordMinLength {
		return fmt.Errorf("admin password must be at least %d characters", opts.PasswordMinLength)
	}
	logger.Info("Seeding database with initial data")

	hash, err := utils.HashPassword(opts.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	return database.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant := models.Tenant{
			ID:   uuid.New().String(),
			Name: opts.TenantName,
			Slug: utils.Slugify(opts.TenantName),
		}
		if err := tx.Create(&tenant).Error; err != nil {
			return err
		}

		admin := models.User{
			ID:           uuid.New().String(),
			Email:        opts.AdminEmail,
			Name:         "Administrator",
			PasswordHash: hash,
			ActiveStatus: true,
		}
		if err := tx.Create(&admin).Error; err != nil {
			return err
		}

		member := models.TenantMember{
			ID:       uuid.New().String(),
			TenantID: tenant.ID,
			UserID:   admin.ID,
			Role:     models.RoleAdmin,
		}
		if err := tx.Create(&member).Error; err != nil {
			return err
		}

		templates := []models.DocumentTemplate{
			{ID: uuid.New().String(), Name: "Lov og forskrift", Kind: models.KindLaw, DefaultReviewIntervalMonths: 12},
			{ID: uuid.New().String(), Name: "Prosedyre", Kind: models.KindProcedure, DefaultReviewIntervalMonths: 24},
			{ID: uuid.New().String(), Name: "Beredskapsplan", Kind: models.KindPlan, DefaultReviewIntervalMonths: 12},
			{ID: uuid.New().String(), Name: "Sikkerhetsdatablad", Kind: models.KindSDS, DefaultReviewIntervalMonths: 36},
		}
		if err := tx.Create(&templates).Error; err != nil {
			return err
		}

		logger.Info("Database seeding completed successfully",
			zap.String("tenant_id", tenant.ID),
			zap.String("admin_email", admin.Email),
			zap.Int("templates", len(templates)))
		return nil
	})
}
