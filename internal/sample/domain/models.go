package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SampleContact is one dialable respondent. UsedAt only biases pick order;
// exclusion comes from open assignments.
type SampleContact struct {
	ID           snowflake.ID      `gorm:"primaryKey"`
	ProjectID    snowflake.ID      `gorm:"column:project_id;not null"`
	Phone        string            `gorm:"column:phone;not null"`
	Gender       string            `gorm:"column:gender;not null"`
	AgeBand      string            `gorm:"column:age_band;not null"`
	ProvinceCode string            `gorm:"column:province_code;not null"`
	Extra        datatypes.JSONMap `gorm:"column:extra;not null"`
	IsActive     bool              `gorm:"column:is_active;not null"`
	UsedAt       *time.Time        `gorm:"column:used_at"`
	CreatedAt    time.Time         `gorm:"column:created_at"`
	UpdatedAt    time.Time         `gorm:"column:updated_at"`
}

func (SampleContact) TableName() string { return "sample_contacts" }
