package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, m *Membership) error
	Delete(ctx context.Context, db *gorm.DB, projectID, userID snowflake.ID) (bool, error)
	Find(ctx context.Context, db *gorm.DB, projectID, userID snowflake.ID) (*Membership, error)
	List(ctx context.Context, db *gorm.DB, projectID snowflake.ID) ([]Membership, error)
}
