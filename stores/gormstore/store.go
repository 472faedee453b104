// Package gormstore provides a GORM-backed credential store for the bugdrill
// client, for apps that already carry a relational database and want the
// session to live in it.
package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bugdrill/bugdrill-go"
)

// CredentialModel is the table layout used by the store.
type CredentialModel struct {
	Key       string `gorm:"primaryKey;size:64"`
	Value     string
	UpdatedAt time.Time
}

// TableName overrides the default GORM naming.
func (CredentialModel) TableName() string {
	return "bugdrill_credentials"
}

// AutoMigrate creates the credentials table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&CredentialModel{})
}

// Store implements bugdrill.Store on top of a GORM connection.
type Store struct {
	db *gorm.DB
}

// New creates a store and runs its migration.
func New(db *gorm.DB) (*Store, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Get retrieves the value for a key, or bugdrill.ErrKeyNotFound if absent.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var model CredentialModel
	err := s.db.WithContext(ctx).First(&model, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", bugdrill.ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return model.Value, nil
}

// SetAll upserts every entry.
func (s *Store) SetAll(ctx context.Context, entries map[string]string) error {
	models := make([]CredentialModel, 0, len(entries))
	for k, v := range entries {
		models = append(models, CredentialModel{Key: k, Value: v})
	}
	if len(models) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&models).Error
}

// RemoveAll deletes the given keys. Missing keys are not an error.
func (s *Store) RemoveAll(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("key IN ?", keys).
		Delete(&CredentialModel{}).Error
}
