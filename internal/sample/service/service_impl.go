package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/insightzen/internal/clock"
	sampledomain "github.com/smallbiznis/insightzen/internal/sample/domain"
	pkgdb "github.com/smallbiznis/insightzen/pkg/db"
	"github.com/smallbiznis/insightzen/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  sampledomain.Repository
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  sampledomain.Repository
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) sampledomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("sample.service"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Import(ctx context.Context, req sampledomain.ImportRequest) (*sampledomain.ImportResult, error) {
	projectID, err := parseID(req.ProjectID, sampledomain.ErrInvalidProject)
	if err != nil {
		return nil, err
	}
	if len(req.Contacts) == 0 {
		return nil, sampledomain.ErrEmptyImport
	}

	now := s.clock.Now()
	seen := make(map[string]struct{}, len(req.Contacts))
	contacts := make([]sampledomain.SampleContact, 0, len(req.Contacts))
	for i, input := range req.Contacts {
		phone := normalizePhone(input.Phone)
		if phone == "" {
			return nil, fmt.Errorf("contacts[%d]: %w", i, sampledomain.ErrInvalidPhone)
		}
		extra, err := normalizeExtra(input.Extra)
		if err != nil {
			return nil, fmt.Errorf("contacts[%d]: %w", i, err)
		}
		if _, dup := seen[phone]; dup {
			continue
		}
		seen[phone] = struct{}{}

		contacts = append(contacts, sampledomain.SampleContact{
			ID:           s.genID.Generate(),
			ProjectID:    projectID,
			Phone:        phone,
			Gender:       strings.TrimSpace(input.Gender),
			AgeBand:      strings.TrimSpace(input.AgeBand),
			ProvinceCode: strings.TrimSpace(input.ProvinceCode),
			Extra:        extra,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	created, err := s.repo.InsertIgnoreDuplicates(ctx, s.db, contacts)
	if err != nil {
		return nil, err
	}

	result := &sampledomain.ImportResult{
		Received: len(req.Contacts),
		Created:  int(created),
		Skipped:  len(req.Contacts) - int(created),
	}
	s.log.Info("sample contacts imported",
		zap.String("project_id", projectID.String()),
		zap.Int("received", result.Received),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (s *Service) List(ctx context.Context, req sampledomain.ListRequest) (*sampledomain.ListResponse, error) {
	projectID, err := parseID(req.ProjectID, sampledomain.ErrInvalidProject)
	if err != nil {
		return nil, err
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return nil, err
	}
	var afterID snowflake.ID
	if cursor != nil {
		afterID, err = parseID(cursor.ID, pagination.ErrInvalidPageToken)
		if err != nil {
			return nil, err
		}
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, sampledomain.ListFilter{
		ProjectID:    projectID,
		Active:       req.Active,
		Gender:       strings.TrimSpace(req.Gender),
		AgeBand:      strings.TrimSpace(req.AgeBand),
		ProvinceCode: strings.TrimSpace(req.ProvinceCode),
		AfterID:      afterID,
		Limit:        limit + 1,
	})
	if err != nil {
		return nil, err
	}

	items, pageInfo := pagination.Trim(items, limit, func(c sampledomain.SampleContact) string {
		return c.ID.String()
	})
	resp := &sampledomain.ListResponse{
		Items:    make([]sampledomain.Response, 0, len(items)),
		PageInfo: pageInfo,
	}
	for i := range items {
		resp.Items = append(resp.Items, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Deactivate(ctx context.Context, projectID, id string) error {
	pid, err := parseID(projectID, sampledomain.ErrInvalidProject)
	if err != nil {
		return err
	}
	sampleID, err := parseID(id, sampledomain.ErrInvalidID)
	if err != nil {
		return err
	}
	ok, err := s.repo.Deactivate(ctx, s.db, pid, sampleID, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return sampledomain.ErrNotFound
	}
	s.log.Info("sample contact deactivated",
		zap.String("project_id", pid.String()),
		zap.String("sample_id", sampleID.String()),
	)
	return nil
}

func normalizePhone(phone string) string {
	return strings.Join(strings.Fields(phone), "")
}

// normalizeExtra keeps keys addressable by cell selectors.
func normalizeExtra(extra map[string]string) (datatypes.JSONMap, error) {
	out := datatypes.JSONMap{}
	for rawKey, value := range extra {
		key := strings.ToLower(strings.TrimSpace(rawKey))
		if !pkgdb.ValidJSONKey(key) {
			return nil, fmt.Errorf("%w: %q", sampledomain.ErrInvalidExtra, rawKey)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

func parseID(value string, invalid error) (snowflake.ID, error) {
	id, err := sampledomain.ParseID(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalid
	}
	return id, nil
}

func toResponse(c *sampledomain.SampleContact) sampledomain.Response {
	var extra map[string]string
	if len(c.Extra) > 0 {
		extra = make(map[string]string, len(c.Extra))
		for key, value := range c.Extra {
			extra[key] = fmt.Sprint(value)
		}
	}
	return sampledomain.Response{
		ID:           c.ID.String(),
		ProjectID:    c.ProjectID.String(),
		Phone:        c.Phone,
		Gender:       c.Gender,
		AgeBand:      c.AgeBand,
		ProvinceCode: c.ProvinceCode,
		Extra:        extra,
		IsActive:     c.IsActive,
		UsedAt:       c.UsedAt,
		CreatedAt:    c.CreatedAt,
	}
}
