package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/insightzen/internal/clock"
	membershipdomain "github.com/smallbiznis/insightzen/internal/membership/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  membershipdomain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  membershipdomain.Repository
	clock clock.Clock
}

func New(p Params) membershipdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("membership.service"),
		repo:  p.Repo,
		clock: p.Clock,
	}
}

func (s *Service) Grant(ctx context.Context, req membershipdomain.GrantRequest) (*membershipdomain.Response, error) {
	projectID, userID, err := parseIDs(req.ProjectID, req.UserID)
	if err != nil {
		return nil, err
	}
	role, ok := membershipdomain.ParseRole(req.Role)
	if !ok {
		return nil, membershipdomain.ErrInvalidRole
	}

	now := s.clock.Now()
	m := &membershipdomain.Membership{
		ProjectID: projectID,
		UserID:    userID,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Upsert(ctx, s.db, m); err != nil {
		return nil, err
	}

	stored, err := s.repo.Find(ctx, s.db, projectID, userID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		stored = m
	}

	s.log.Info("membership granted",
		zap.String("project_id", projectID.String()),
		zap.String("user_id", userID.String()),
		zap.String("role", string(role)),
	)
	return toResponse(stored), nil
}

func (s *Service) Revoke(ctx context.Context, projectID, userID string) error {
	pid, uid, err := parseIDs(projectID, userID)
	if err != nil {
		return err
	}
	deleted, err := s.repo.Delete(ctx, s.db, pid, uid)
	if err != nil {
		return err
	}
	if !deleted {
		return membershipdomain.ErrNotFound
	}
	s.log.Info("membership revoked",
		zap.String("project_id", pid.String()),
		zap.String("user_id", uid.String()),
	)
	return nil
}

// RoleOf returns the user's role on the project, or "" when there is none.
func (s *Service) RoleOf(ctx context.Context, projectID, userID snowflake.ID) (membershipdomain.Role, error) {
	if projectID == 0 {
		return "", membershipdomain.ErrInvalidProject
	}
	if userID == 0 {
		return "", membershipdomain.ErrInvalidUser
	}
	m, err := s.repo.Find(ctx, s.db, projectID, userID)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", nil
	}
	return m.Role, nil
}

func (s *Service) HasRole(ctx context.Context, userID, projectID snowflake.ID, roles ...membershipdomain.Role) (bool, error) {
	role, err := s.RoleOf(ctx, projectID, userID)
	if err != nil || role == "" {
		return false, err
	}
	for _, want := range roles {
		if role == want {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) List(ctx context.Context, projectID string) ([]membershipdomain.Response, error) {
	pid, err := membershipdomain.ParseID(strings.TrimSpace(projectID))
	if err != nil || pid == 0 {
		return nil, membershipdomain.ErrInvalidProject
	}
	items, err := s.repo.List(ctx, s.db, pid)
	if err != nil {
		return nil, err
	}
	resp := make([]membershipdomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, *toResponse(&items[i]))
	}
	return resp, nil
}

func parseIDs(projectID, userID string) (snowflake.ID, snowflake.ID, error) {
	pid, err := membershipdomain.ParseID(strings.TrimSpace(projectID))
	if err != nil || pid == 0 {
		return 0, 0, membershipdomain.ErrInvalidProject
	}
	uid, err := membershipdomain.ParseID(strings.TrimSpace(userID))
	if err != nil || uid == 0 {
		return 0, 0, membershipdomain.ErrInvalidUser
	}
	return pid, uid, nil
}

func toResponse(m *membershipdomain.Membership) *membershipdomain.Response {
	return &membershipdomain.Response{
		ProjectID: m.ProjectID.String(),
		UserID:    m.UserID.String(),
		Role:      m.Role,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
