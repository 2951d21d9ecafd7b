package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/signup-sync/pkg/db/types"
	"github.com/angelmondragon/signup-sync/pkg/enums"
)

// PendingSignup is a synced lead waiting for operator approval.
type PendingSignup struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Email          string             `gorm:"column:email;not null;uniqueIndex"`
	FirstName      *string            `gorm:"column:first_name"`
	LastName       *string            `gorm:"column:last_name"`
	Company        *string            `gorm:"column:company"`
	Phone          *string            `gorm:"column:phone"`
	UserType       string             `gorm:"column:user_type;not null"`
	Status         enums.SignupStatus `gorm:"column:status;not null"`
	SourceType     enums.SourceType   `gorm:"column:source_type"`
	SignupMetadata dbtypes.JSON       `gorm:"column:signup_metadata;type:jsonb"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (PendingSignup) TableName() string { return "pending_signup_queue" }

func (p *PendingSignup) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
