package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleSupervisor Role = "supervisor"
	RoleAgent      Role = "agent"
)

// DialerRoles may reserve, complete and cancel assignments.
var DialerRoles = []Role{RoleAdmin, RoleManager, RoleSupervisor, RoleAgent}

func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	switch role {
	case RoleAdmin, RoleManager, RoleSupervisor, RoleAgent:
		return role, true
	default:
		return "", false
	}
}

// Membership grants a user one role on a project.
type Membership struct {
	ProjectID snowflake.ID `gorm:"column:project_id;primaryKey"`
	UserID    snowflake.ID `gorm:"column:user_id;primaryKey"`
	Role      Role         `gorm:"column:role;type:text;not null"`
	CreatedAt time.Time    `gorm:"column:created_at"`
	UpdatedAt time.Time    `gorm:"column:updated_at"`
}

func (Membership) TableName() string { return "project_memberships" }
