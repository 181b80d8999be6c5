package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/insightzen/internal/cache"
	"github.com/smallbiznis/insightzen/internal/clock"
	quotadomain "github.com/smallbiznis/insightzen/internal/quota/domain"
	pkgdb "github.com/smallbiznis/insightzen/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    quotadomain.Repository
	GenID   *snowflake.Node
	Clock   clock.Clock
	Schemes cache.SchemeCache `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    quotadomain.Repository
	genID   *snowflake.Node
	clock   clock.Clock
	schemes cache.SchemeCache
}

func New(p Params) quotadomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("quota.service"),
		repo:    p.Repo,
		genID:   p.GenID,
		clock:   p.Clock,
		schemes: p.Schemes,
	}
}

func (s *Service) CreateScheme(ctx context.Context, req quotadomain.CreateSchemeRequest) (*quotadomain.SchemeResponse, error) {
	projectID, err := parseID(req.ProjectID, quotadomain.ErrInvalidProject)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, quotadomain.ErrInvalidName
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		code = name
	}
	code = slug.Make(code)
	if code == "" {
		return nil, quotadomain.ErrInvalidCode
	}
	policy, ok := quotadomain.ParseOverflowPolicy(req.OverflowPolicy)
	if !ok {
		return nil, quotadomain.ErrInvalidOverflowPolicy
	}

	var createdBy *snowflake.ID
	if actorID, err := quotadomain.ParseID(strings.TrimSpace(req.ActorID)); err == nil && actorID != 0 {
		createdBy = &actorID
	}

	now := s.clock.Now()
	scheme := &quotadomain.QuotaScheme{
		ID:             s.genID.Generate(),
		ProjectID:      projectID,
		Name:           name,
		Code:           code,
		Status:         quotadomain.SchemeStatusDraft,
		OverflowPolicy: policy,
		Priority:       req.Priority,
		CreatedBy:      createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.InsertScheme(ctx, s.db, scheme); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, quotadomain.ErrDuplicateCode
		}
		return nil, err
	}

	s.log.Info("quota scheme created",
		zap.String("project_id", projectID.String()),
		zap.String("scheme_id", scheme.ID.String()),
		zap.String("code", code),
		zap.String("overflow_policy", string(policy)),
	)
	return toSchemeResponse(scheme), nil
}

func (s *Service) GetScheme(ctx context.Context, id string) (*quotadomain.SchemeResponse, error) {
	scheme, err := s.loadScheme(ctx, s.db, id, pkgdb.LockNone)
	if err != nil {
		return nil, err
	}
	return toSchemeResponse(scheme), nil
}

func (s *Service) ListSchemes(ctx context.Context, projectID string) ([]quotadomain.SchemeResponse, error) {
	pid, err := parseID(projectID, quotadomain.ErrInvalidProject)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListSchemes(ctx, s.db, pid)
	if err != nil {
		return nil, err
	}
	resp := make([]quotadomain.SchemeResponse, 0, len(items))
	for i := range items {
		resp = append(resp, *toSchemeResponse(&items[i]))
	}
	return resp, nil
}

// UpsertCells writes cells keyed by their canonical selector. The scheme row
// is locked so a concurrent publish cannot slip in between check and write.
func (s *Service) UpsertCells(ctx context.Context, req quotadomain.UpsertCellsRequest) ([]quotadomain.CellResponse, error) {
	if len(req.Cells) == 0 {
		return nil, quotadomain.ErrInvalidCell
	}

	now := s.clock.Now()
	var (
		schemeID snowflake.ID
		cells    []quotadomain.QuotaCell
	)
	seen := make(map[string]struct{}, len(req.Cells))
	for i, input := range req.Cells {
		cell, err := s.buildCell(input, now)
		if err != nil {
			return nil, fmt.Errorf("cells[%d]: %w", i, err)
		}
		if _, dup := seen[cell.SelectorKey]; dup {
			return nil, fmt.Errorf("cells[%d]: %w", i, quotadomain.ErrDuplicateSelector)
		}
		seen[cell.SelectorKey] = struct{}{}
		cells = append(cells, cell)
	}

	var stored []quotadomain.QuotaCell
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scheme, err := s.loadScheme(ctx, tx, req.SchemeID, pkgdb.LockForUpdate)
		if err != nil {
			return err
		}
		if scheme.Status != quotadomain.SchemeStatusDraft {
			return quotadomain.ErrSchemeReadOnly
		}
		schemeID = scheme.ID
		for i := range cells {
			cells[i].SchemeID = scheme.ID
		}
		if err := s.repo.UpsertCells(ctx, tx, cells); err != nil {
			return err
		}
		stored, err = s.repo.ListCells(ctx, tx, scheme.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("quota cells upserted",
		zap.String("scheme_id", schemeID.String()),
		zap.Int("cells", len(cells)),
	)
	return toCellResponses(stored), nil
}

func (s *Service) ListCells(ctx context.Context, schemeID string) ([]quotadomain.CellResponse, error) {
	scheme, err := s.loadScheme(ctx, s.db, schemeID, pkgdb.LockNone)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListCells(ctx, s.db, scheme.ID)
	if err != nil {
		return nil, err
	}
	return toCellResponses(items), nil
}

func (s *Service) PublishScheme(ctx context.Context, id string) (*quotadomain.SchemeResponse, error) {
	return s.transition(ctx, id, quotadomain.SchemeStatusDraft, quotadomain.SchemeStatusPublished)
}

func (s *Service) ArchiveScheme(ctx context.Context, id string) (*quotadomain.SchemeResponse, error) {
	return s.transition(ctx, id, quotadomain.SchemeStatusPublished, quotadomain.SchemeStatusArchived)
}

func (s *Service) transition(ctx context.Context, id string, from, to quotadomain.SchemeStatus) (*quotadomain.SchemeResponse, error) {
	var scheme *quotadomain.QuotaScheme
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.loadScheme(ctx, tx, id, pkgdb.LockForUpdate)
		if err != nil {
			return err
		}
		if current.Status == to {
			scheme = current
			return nil
		}
		if current.Status != from {
			return quotadomain.ErrInvalidStatusTransition
		}

		now := s.clock.Now()
		var publishedAt *time.Time
		if to == quotadomain.SchemeStatusPublished {
			publishedAt = &now
		}
		if err := s.repo.UpdateStatus(ctx, tx, current.ID, to, publishedAt, now); err != nil {
			return err
		}
		current.Status = to
		current.UpdatedAt = now
		if publishedAt != nil {
			current.PublishedAt = publishedAt
		}
		scheme = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.schemes != nil {
		s.schemes.InvalidateProject(scheme.ProjectID.String())
	}
	s.log.Info("quota scheme status changed",
		zap.String("project_id", scheme.ProjectID.String()),
		zap.String("scheme_id", scheme.ID.String()),
		zap.String("status", string(scheme.Status)),
	)
	return toSchemeResponse(scheme), nil
}

func (s *Service) GetPublishedScheme(ctx context.Context, projectID, schemeID snowflake.ID) (*quotadomain.QuotaScheme, error) {
	if projectID == 0 {
		return nil, quotadomain.ErrInvalidProject
	}
	cacheSchemeID := ""
	if schemeID != 0 {
		cacheSchemeID = schemeID.String()
	}
	if s.schemes != nil {
		if scheme, ok := s.schemes.GetPublished(projectID.String(), cacheSchemeID); ok {
			return scheme, nil
		}
	}

	scheme, err := s.repo.FindPublished(ctx, s.db, projectID, schemeID)
	if err != nil {
		return nil, err
	}
	if scheme == nil {
		return nil, quotadomain.ErrSchemeNotFound
	}
	if s.schemes != nil {
		s.schemes.SetPublished(projectID.String(), cacheSchemeID, scheme)
	}
	return scheme, nil
}

func (s *Service) loadScheme(ctx context.Context, db *gorm.DB, id string, lock pkgdb.LockMode) (*quotadomain.QuotaScheme, error) {
	schemeID, err := parseID(id, quotadomain.ErrInvalidScheme)
	if err != nil {
		return nil, err
	}
	scheme, err := s.repo.FindScheme(ctx, db, schemeID, lock)
	if err != nil {
		return nil, err
	}
	if scheme == nil {
		return nil, quotadomain.ErrSchemeNotFound
	}
	return scheme, nil
}

func (s *Service) buildCell(input quotadomain.CellInput, now time.Time) (quotadomain.QuotaCell, error) {
	if input.Target < 0 {
		return quotadomain.QuotaCell{}, quotadomain.ErrInvalidCell
	}
	if input.SoftCap != nil && *input.SoftCap < input.Target {
		return quotadomain.QuotaCell{}, quotadomain.ErrInvalidCell
	}
	weight := 1.0
	if input.Weight != nil {
		weight = *input.Weight
	}
	if weight < 0 {
		return quotadomain.QuotaCell{}, quotadomain.ErrInvalidCell
	}
	if err := input.Selector.Validate(); err != nil {
		return quotadomain.QuotaCell{}, err
	}
	raw, err := json.Marshal(input.Selector)
	if err != nil {
		return quotadomain.QuotaCell{}, errors.Join(quotadomain.ErrInvalidSelector, err)
	}

	return quotadomain.QuotaCell{
		ID:          s.genID.Generate(),
		Label:       strings.TrimSpace(input.Label),
		Selector:    datatypes.JSON(raw),
		SelectorKey: input.Selector.Key(),
		Target:      input.Target,
		SoftCap:     input.SoftCap,
		Weight:      weight,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func parseID(value string, invalid error) (snowflake.ID, error) {
	id, err := quotadomain.ParseID(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalid
	}
	return id, nil
}

func toSchemeResponse(s *quotadomain.QuotaScheme) *quotadomain.SchemeResponse {
	return &quotadomain.SchemeResponse{
		ID:             s.ID.String(),
		ProjectID:      s.ProjectID.String(),
		Name:           s.Name,
		Code:           s.Code,
		Status:         s.Status,
		OverflowPolicy: s.OverflowPolicy,
		Priority:       s.Priority,
		PublishedAt:    s.PublishedAt,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func toCellResponses(cells []quotadomain.QuotaCell) []quotadomain.CellResponse {
	resp := make([]quotadomain.CellResponse, 0, len(cells))
	for _, cell := range cells {
		sel, _ := cell.DecodeSelector()
		resp = append(resp, quotadomain.CellResponse{
			ID:         cell.ID.String(),
			SchemeID:   cell.SchemeID.String(),
			Label:      cell.Label,
			Selector:   sel,
			Target:     cell.Target,
			SoftCap:    cell.SoftCap,
			Weight:     cell.Weight,
			Achieved:   cell.Achieved,
			InProgress: cell.InProgress,
			Reserved:   cell.Reserved,
			Remaining:  cell.Remaining(),
		})
	}
	return resp
}
