package services

import (
	"time"

	"gorm.io/gorm"
)

// bumpRevision applies updates only while the row still carries the revision
// read earlier in the same transaction, then increments it. Two writers that
// read the same revision cannot both succeed.
func bumpRevision(tx *gorm.DB, model any, id string, revision int, updates map[string]any) error {
	updates["revision"] = revision + 1
	res := tx.Model(model).Where("id = ? AND revision = ?", id, revision).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func checkExpectedRevision(expected *int, actual int) error {
	if expected != nil && *expected != actual {
		return ErrConflict
	}
	return nil
}

func nullable(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
