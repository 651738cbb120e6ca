// Package model defines the persisted data model.
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SandboxStatus is the persisted lifecycle state of a sandbox record.
type SandboxStatus string

const (
	StatusActive     SandboxStatus = "active"
	StatusPaused     SandboxStatus = "paused"
	StatusTerminated SandboxStatus = "terminated"
)

// Project is one user app under construction.
type Project struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Slug      string `gorm:"uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BeforeCreate assigns a UUID when none is set.
func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// SandboxRecord is the durable mirror of a sandbox's lifecycle state. The
// in-memory registry is the authority for whether a sandbox is usable right
// now; this record exists for durability and observability.
type SandboxRecord struct {
	ID         uint   `gorm:"primaryKey"`
	ProjectID  string `gorm:"uniqueIndex;not null"`
	SandboxID  string `gorm:"index"`
	Backend    string
	URL        string
	Status     SandboxStatus `gorm:"index"`
	LastActive time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
