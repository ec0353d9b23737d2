package models

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID             uint `gorm:"primarykey"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`
	Name           string         `gorm:"size:255;not null"`
	Email          string         `gorm:"size:255;not null;unique"`
	Provider       string         `gorm:"size:64"`
	ProviderUserID string         `gorm:"size:255;index"`
}

// Asset is one upload's ledger row. The stored files stay the source of truth;
// a missing row never hides a file and a stale row never resurrects one.
type Asset struct {
	ID           uint `gorm:"primarykey"`
	CreatedAt    time.Time
	BaseName     string `gorm:"size:255;not null;uniqueIndex"`
	OwnerID      string `gorm:"size:255;index"`
	Filename     string `gorm:"size:255"`
	MimeType     string `gorm:"size:64"`
	OriginalSize int64
	Width        int
	Height       int
}
