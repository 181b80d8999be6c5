package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type SchemeStatus string

const (
	SchemeStatusDraft     SchemeStatus = "DRAFT"
	SchemeStatusPublished SchemeStatus = "PUBLISHED"
	SchemeStatusArchived  SchemeStatus = "ARCHIVED"
)

// OverflowPolicy decides how far past target a cell may be reserved.
type OverflowPolicy string

const (
	OverflowStrict   OverflowPolicy = "STRICT"
	OverflowSoft     OverflowPolicy = "SOFT"
	OverflowWeighted OverflowPolicy = "WEIGHTED"
)

func ParseOverflowPolicy(value string) (OverflowPolicy, bool) {
	value = strings.ToUpper(strings.TrimSpace(value))
	if value == "" {
		return OverflowStrict, true
	}
	switch policy := OverflowPolicy(value); policy {
	case OverflowStrict, OverflowSoft, OverflowWeighted:
		return policy, true
	default:
		return "", false
	}
}

type QuotaScheme struct {
	ID             snowflake.ID   `gorm:"primaryKey"`
	ProjectID      snowflake.ID   `gorm:"column:project_id;not null"`
	Name           string         `gorm:"column:name;not null"`
	Code           string         `gorm:"column:code;not null"`
	Status         SchemeStatus   `gorm:"column:status;not null"`
	OverflowPolicy OverflowPolicy `gorm:"column:overflow_policy;not null"`
	Priority       int            `gorm:"column:priority;not null"`
	PublishedAt    *time.Time     `gorm:"column:published_at"`
	CreatedBy      *snowflake.ID  `gorm:"column:created_by"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at"`
}

func (QuotaScheme) TableName() string { return "quota_schemes" }

// QuotaCell is one stratum of a scheme with its capacity ledger.
// InProgress and Reserved always move together.
type QuotaCell struct {
	ID          snowflake.ID   `gorm:"primaryKey"`
	SchemeID    snowflake.ID   `gorm:"column:scheme_id;not null"`
	Label       string         `gorm:"column:label;not null"`
	Selector    datatypes.JSON `gorm:"column:selector;not null"`
	SelectorKey string         `gorm:"column:selector_key;not null"`
	Target      int            `gorm:"column:target;not null"`
	SoftCap     *int           `gorm:"column:soft_cap"`
	Weight      float64        `gorm:"column:weight;not null"`
	Achieved    int            `gorm:"column:achieved;not null"`
	InProgress  int            `gorm:"column:in_progress;not null"`
	Reserved    int            `gorm:"column:reserved;not null"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at"`
}

func (QuotaCell) TableName() string { return "quota_cells" }

// Remaining is the capacity left after completions and open reservations.
func (c QuotaCell) Remaining() int {
	remaining := c.Target - (c.Achieved + c.InProgress)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// HasCapacity reports whether policy still admits a new reservation.
// STRICT caps completions plus open reservations at target. SOFT lets open
// reservations run up to soft_cap and is uncapped when soft_cap is unset.
// WEIGHTED only needs completions below target.
func (c QuotaCell) HasCapacity(policy OverflowPolicy) bool {
	if c.Target <= c.Achieved {
		return false
	}
	switch policy {
	case OverflowSoft:
		if c.SoftCap == nil {
			return true
		}
		return c.Achieved < *c.SoftCap && c.Achieved+c.InProgress < *c.SoftCap
	case OverflowWeighted:
		return true
	default:
		return c.Achieved+c.InProgress < c.Target
	}
}

// WeightedNeed is the WEIGHTED ordering key.
func (c QuotaCell) WeightedNeed() float64 {
	return c.Weight * float64(c.Remaining())
}

// DecodeSelector parses the stored selector column.
func (c QuotaCell) DecodeSelector() (Selector, error) {
	var sel Selector
	if len(c.Selector) == 0 {
		return sel, nil
	}
	if err := sel.UnmarshalJSON(c.Selector); err != nil {
		return Selector{}, err
	}
	return sel, nil
}
