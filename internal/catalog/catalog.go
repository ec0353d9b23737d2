// Package catalog keeps an optional Postgres ledger of uploads and users.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/petermazzocco/recipe-media/internal/upload"
	"github.com/petermazzocco/recipe-media/models"
)

type Catalog struct {
	db *gorm.DB
}

var _ upload.Recorder = (*Catalog)(nil)

// Open connects to Postgres and migrates the ledger tables.
func Open(dsn string) (*Catalog, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.Asset{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &Catalog{db: db}, nil
}

func New(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

// Record implements upload.Recorder.
func (c *Catalog) Record(ctx context.Context, rec upload.Record) error {
	asset := models.Asset{
		BaseName:     rec.BaseName,
		OwnerID:      rec.OwnerID,
		Filename:     rec.Filename,
		MimeType:     rec.MimeType,
		OriginalSize: rec.Size,
		Width:        rec.Width,
		Height:       rec.Height,
	}
	return c.db.WithContext(ctx).Create(&asset).Error
}

// Forget implements upload.Recorder.
func (c *Catalog) Forget(ctx context.Context, baseName string) error {
	return c.db.WithContext(ctx).Where("base_name = ?", baseName).Delete(&models.Asset{}).Error
}

// UpsertUser finds the user by email or creates it.
func (c *Catalog) UpsertUser(ctx context.Context, u models.User) (models.User, error) {
	var existing models.User
	err := c.db.WithContext(ctx).Where("email = ?", u.Email).First(&existing).Error
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, fmt.Errorf("find user: %w", err)
	}
	if err := c.db.WithContext(ctx).Create(&u).Error; err != nil {
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (c *Catalog) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
