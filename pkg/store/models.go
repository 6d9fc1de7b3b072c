package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type CategoryModel struct {
	ID        string    `gorm:"primaryKey"`
	Name      string    `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type CompanionModel struct {
	ID           string        `gorm:"primaryKey"`
	CategoryID   string        `gorm:"not null;index"`
	Category     CategoryModel `gorm:"foreignKey:CategoryID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	UserID       string        `gorm:"not null;index"`
	UserName     string        `gorm:"not null"`
	Src          string        `gorm:"not null"`
	Name         string        `gorm:"not null;index"`
	Description  string        `gorm:"not null"`
	Instructions string        `gorm:"type:text;not null"`
	Seed         string        `gorm:"type:text;not null"`
	CreatedAt    time.Time     `gorm:"not null"`
	UpdatedAt    time.Time     `gorm:"not null"`
}

type MessageModel struct {
	ID          string         `gorm:"primaryKey"`
	CompanionID string         `gorm:"not null;index:idx_message_thread,priority:1"`
	Companion   CompanionModel `gorm:"foreignKey:CompanionID;references:ID;constraint:OnDelete:CASCADE"`
	UserID      string         `gorm:"not null;index:idx_message_thread,priority:2"`
	Role        string         `gorm:"not null"`
	Content     string         `gorm:"type:text;not null"`
	Metadata    datatypes.JSON
	CreatedAt   time.Time `gorm:"not null;index"`
}
