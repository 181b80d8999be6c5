package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/insightzen/internal/authorization"
	"github.com/smallbiznis/insightzen/internal/clock"
	"github.com/smallbiznis/insightzen/internal/config"
	dialerdomain "github.com/smallbiznis/insightzen/internal/dialer/domain"
	obscontext "github.com/smallbiznis/insightzen/internal/observability/context"
	"github.com/smallbiznis/insightzen/internal/observability/logger"
	"github.com/smallbiznis/insightzen/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/insightzen/internal/quota/domain"
	"github.com/smallbiznis/insightzen/internal/ratelimit"
	sampledomain "github.com/smallbiznis/insightzen/internal/sample/domain"
	pkgdb "github.com/smallbiznis/insightzen/pkg/db"
	"github.com/smallbiznis/insightzen/pkg/db/pagination"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const rateLimitEndpoint = "dialer_next"

var tracer = otel.Tracer("insightzen/dialer")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Repo        dialerdomain.Repository
	Catalog     quotadomain.Service
	Authz       authorization.Service
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      *config.DialerConfigHolder
	Limiter     *ratelimit.DialerLimiter `optional:"true"`
	Metrics     *metrics.DialerMetrics   `optional:"true"`
	OTelMetrics *metrics.Metrics         `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	repo        dialerdomain.Repository
	catalog     quotadomain.Service
	authz       authorization.Service
	genID       *snowflake.Node
	clock       clock.Clock
	config      *config.DialerConfigHolder
	limiter     *ratelimit.DialerLimiter
	metrics     *metrics.DialerMetrics
	otelMetrics *metrics.Metrics
}

func New(p Params) dialerdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("dialer.service"),
		repo:        p.Repo,
		catalog:     p.Catalog,
		authz:       p.Authz,
		genID:       p.GenID,
		clock:       p.Clock,
		config:      p.Config,
		limiter:     p.Limiter,
		metrics:     p.Metrics,
		otelMetrics: p.OTelMetrics,
	}
}

// reservation is what one successful candidate attempt produced.
type reservation struct {
	assignment *dialerdomain.DialerAssignment
	cell       *quotadomain.QuotaCell
	sample     *sampledomain.SampleContact
}

func (s *Service) ReserveNext(ctx context.Context, req dialerdomain.ReserveRequest) (*dialerdomain.ReservationResponse, error) {
	ctx, span := tracer.Start(ctx, "dialer.reserve_next")
	defer span.End()

	projectID, err := parseID(req.ProjectID, dialerdomain.ErrInvalidProject)
	if err != nil {
		return nil, err
	}
	interviewerID, err := parseID(req.InterviewerID, dialerdomain.ErrInvalidActor)
	if err != nil {
		return nil, err
	}
	var schemeID snowflake.ID
	if strings.TrimSpace(req.SchemeID) != "" {
		if schemeID, err = parseID(req.SchemeID, quotadomain.ErrSchemeNotFound); err != nil {
			return nil, err
		}
	}
	span.SetAttributes(
		attribute.String("project_id", projectID.String()),
		attribute.String("interviewer_id", interviewerID.String()),
	)
	ctx = obscontext.WithProjectID(ctx, projectID.String())
	log := logger.WithContext(ctx, s.log).With(zap.String("interviewer_id", interviewerID.String()))

	if err := s.authz.Authorize(ctx, authorization.UserActor(interviewerID.String()), projectID.String(),
		authorization.ObjectDialerAssignment, authorization.ActionDialerNext); err != nil {
		s.recordReservation(ctx, "", metrics.ReservationOutcomeForbidden)
		return nil, err
	}

	if err := s.checkRateLimit(ctx, projectID, interviewerID); err != nil {
		s.recordReservation(ctx, "", metrics.ReservationOutcomeRateLimited)
		return nil, err
	}

	scheme, err := s.catalog.GetPublishedScheme(ctx, projectID, schemeID)
	if err != nil {
		if errors.Is(err, quotadomain.ErrSchemeNotFound) {
			s.recordReservation(ctx, "", metrics.ReservationOutcomeNoScheme)
		} else {
			s.recordReservation(ctx, "", metrics.ReservationOutcomeError)
		}
		return nil, err
	}
	policy := string(scheme.OverflowPolicy)
	span.SetAttributes(
		attribute.String("scheme_id", scheme.ID.String()),
		attribute.String("overflow_policy", policy),
	)

	cfg := s.config.Get()
	cells, err := s.repo.ListOpenCells(ctx, s.db, scheme.ID)
	if err != nil {
		s.recordReservation(ctx, policy, metrics.ReservationOutcomeError)
		return nil, err
	}
	candidates := dialerdomain.OrderCandidates(scheme.OverflowPolicy, cells)
	if cfg.MaxCandidateCells > 0 && len(candidates) > cfg.MaxCandidateCells {
		candidates = candidates[:cfg.MaxCandidateCells]
	}

	tried := 0
	for _, candidate := range candidates {
		tried++
		res, skip, err := s.tryCandidate(ctx, scheme, candidate.ID, interviewerID, cfg)
		if err != nil {
			s.metrics.ObserveCandidatesTried(tried)
			s.recordReservation(ctx, policy, metrics.ReservationOutcomeError)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if skip != "" {
			s.metrics.IncCandidateSkip(skip)
			log.Debug("dialer candidate skipped",
				zap.String("cell_id", candidate.ID.String()),
				zap.String("reason", skip),
			)
			continue
		}

		s.metrics.ObserveCandidatesTried(tried)
		s.recordReservation(ctx, policy, metrics.ReservationOutcomeReserved)
		log.Info("dialer assignment reserved",
			zap.String("assignment_id", res.assignment.ID.String()),
			zap.String("scheme_id", scheme.ID.String()),
			zap.String("cell_id", res.cell.ID.String()),
			zap.String("sample_id", res.sample.ID.String()),
			zap.Int("candidates_tried", tried),
		)
		return toReservationResponse(scheme, res), nil
	}

	s.metrics.ObserveCandidatesTried(tried)
	s.recordReservation(ctx, policy, metrics.ReservationOutcomeExhausted)
	log.Info("dialer exhausted",
		zap.String("scheme_id", scheme.ID.String()),
		zap.Int("candidates", len(candidates)),
	)
	return nil, dialerdomain.ErrNoEligibleCellOrSample
}

// tryCandidate runs one cell attempt in its own transaction. A non-empty skip
// reason means the cell could not serve and the caller should move on.
func (s *Service) tryCandidate(
	ctx context.Context,
	scheme *quotadomain.QuotaScheme,
	cellID snowflake.ID,
	interviewerID snowflake.ID,
	cfg config.DialerConfig,
) (*reservation, string, error) {
	ctx, span := tracer.Start(ctx, "dialer.try_candidate")
	defer span.End()
	span.SetAttributes(attribute.String("cell_id", cellID.String()))

	var (
		res  *reservation
		skip string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := pkgdb.SetLockTimeout(tx, cfg.LockTimeout); err != nil {
			return err
		}

		lockStart := time.Now()
		cell, err := s.repo.LockCell(ctx, tx, cellID)
		s.metrics.ObserveDBLockWait(metrics.LockResourceQuotaCell, time.Since(lockStart))
		if err != nil {
			return err
		}
		if cell == nil || !cell.HasCapacity(scheme.OverflowPolicy) {
			skip = metrics.CandidateSkipCapacity
			return nil
		}

		sel, err := cell.DecodeSelector()
		if err != nil {
			return fmt.Errorf("decode selector for cell %s: %w", cell.ID, err)
		}

		pickStart := time.Now()
		sample, err := s.repo.PickSample(ctx, tx, scheme.ProjectID, sel)
		s.metrics.ObserveSamplePick(time.Since(pickStart))
		if err != nil {
			return err
		}
		if sample == nil {
			skip = metrics.CandidateSkipNoSample
			return nil
		}

		now := s.clock.Now()
		assignment := &dialerdomain.DialerAssignment{
			ID:            s.genID.Generate(),
			ProjectID:     scheme.ProjectID,
			SchemeID:      scheme.ID,
			CellID:        cell.ID,
			SampleID:      sample.ID,
			InterviewerID: interviewerID,
			Status:        dialerdomain.StatusReserved,
			ReservedAt:    now,
			ExpiresAt:     now.Add(cfg.ReservationTTL()),
			Meta:          datatypes.JSONMap{},
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.repo.InsertAssignment(ctx, tx, assignment); err != nil {
			return err
		}
		if err := s.repo.IncrementCell(ctx, tx, cell.ID, now); err != nil {
			return err
		}
		if err := s.repo.TouchSample(ctx, tx, sample.ID, now); err != nil {
			return err
		}

		cell.InProgress++
		cell.Reserved++
		sample.UsedAt = &now
		res = &reservation{assignment: assignment, cell: cell, sample: sample}
		return nil
	})

	switch {
	case err == nil:
		return res, skip, nil
	case pkgdb.IsLockNotAvailable(err):
		return nil, metrics.CandidateSkipLockWait, nil
	case pkgdb.IsDuplicateKeyErr(err):
		// Another reserver committed an open assignment for the same sample
		// after our pick snapshot.
		return nil, metrics.CandidateSkipConflict, nil
	default:
		return nil, "", err
	}
}

func (s *Service) Complete(ctx context.Context, req dialerdomain.CompleteRequest) (*dialerdomain.AssignmentView, error) {
	outcome := strings.TrimSpace(req.OutcomeCode)
	if outcome == "" {
		return nil, dialerdomain.ErrInvalidOutcome
	}
	status := dialerdomain.StatusFailed
	if strings.EqualFold(outcome, dialerdomain.CompletedOutcomeCode) {
		status = dialerdomain.StatusCompleted
	}

	return s.resolve(ctx, "dialer.complete", req.AssignmentID, req.ActorID, authorization.ActionDialerComplete,
		func(a *dialerdomain.DialerAssignment) {
			a.Status = status
			a.OutcomeCode = &outcome
			if len(req.Payload) > 0 {
				a.Meta["submission"] = req.Payload
			}
		})
}

func (s *Service) Cancel(ctx context.Context, req dialerdomain.CancelRequest) (*dialerdomain.AssignmentView, error) {
	return s.resolve(ctx, "dialer.cancel", req.AssignmentID, req.ActorID, authorization.ActionDialerCancel,
		func(a *dialerdomain.DialerAssignment) {
			a.Status = dialerdomain.StatusCancelled
		})
}

// resolve moves a RESERVED assignment to the state apply sets and releases
// its cell. Assignments already resolved are returned unchanged.
func (s *Service) resolve(
	ctx context.Context,
	spanName string,
	rawID string,
	rawActor string,
	action string,
	apply func(a *dialerdomain.DialerAssignment),
) (*dialerdomain.AssignmentView, error) {
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	id, err := parseID(rawID, dialerdomain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	actorID, err := parseID(rawActor, dialerdomain.ErrInvalidActor)
	if err != nil {
		return nil, err
	}

	current, err := s.repo.FindAssignment(ctx, s.db, id, pkgdb.LockNone)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, dialerdomain.ErrAssignmentNotFound
	}
	if err := s.authz.Authorize(ctx, authorization.UserActor(actorID.String()), current.ProjectID.String(),
		authorization.ObjectDialerAssignment, action); err != nil {
		return nil, err
	}

	cfg := s.config.Get()
	var (
		result  *dialerdomain.DialerAssignment
		changed bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := pkgdb.SetLockTimeout(tx, cfg.LockTimeout); err != nil {
			return err
		}
		lockStart := time.Now()
		a, err := s.repo.FindAssignment(ctx, tx, id, pkgdb.LockForUpdate)
		s.metrics.ObserveDBLockWait(metrics.LockResourceAssignment, time.Since(lockStart))
		if err != nil {
			return err
		}
		if a == nil {
			return dialerdomain.ErrAssignmentNotFound
		}
		if a.Status.Terminal() {
			result = a
			return nil
		}

		now := s.clock.Now()
		if a.Meta == nil {
			a.Meta = datatypes.JSONMap{}
		}
		apply(a)
		a.CompletedAt = &now
		a.UpdatedAt = now
		if err := s.repo.ResolveAssignment(ctx, tx, a); err != nil {
			return err
		}
		if err := s.repo.ReleaseCell(ctx, tx, dialerdomain.CellRelease{
			CellID:   a.CellID,
			Achieved: a.Status == dialerdomain.StatusCompleted,
		}, now); err != nil {
			return err
		}
		result = a
		changed = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if changed {
		s.metrics.IncResolution(string(result.Status))
		s.otelMetrics.RecordResolution(ctx, string(result.Status))
		logCtx := obscontext.WithActorID(obscontext.WithProjectID(ctx, result.ProjectID.String()), actorID.String())
		logger.WithContext(logCtx, s.log).Info("dialer assignment resolved",
			zap.String("assignment_id", result.ID.String()),
			zap.String("cell_id", result.CellID.String()),
			zap.String("status", string(result.Status)),
		)
	}
	return toAssignmentView(result), nil
}

func (s *Service) Get(ctx context.Context, rawID, rawActor string) (*dialerdomain.AssignmentView, error) {
	id, err := parseID(rawID, dialerdomain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	actorID, err := parseID(rawActor, dialerdomain.ErrInvalidActor)
	if err != nil {
		return nil, err
	}
	a, err := s.repo.FindAssignment(ctx, s.db, id, pkgdb.LockNone)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, dialerdomain.ErrAssignmentNotFound
	}
	if err := s.authz.Authorize(ctx, authorization.UserActor(actorID.String()), a.ProjectID.String(),
		authorization.ObjectDialerAssignment, authorization.ActionDialerView); err != nil {
		return nil, err
	}
	return toAssignmentView(a), nil
}

func (s *Service) List(ctx context.Context, req dialerdomain.ListRequest) (*dialerdomain.ListResponse, error) {
	projectID, err := parseID(req.ProjectID, dialerdomain.ErrInvalidProject)
	if err != nil {
		return nil, err
	}
	actorID, err := parseID(req.ActorID, dialerdomain.ErrInvalidActor)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, authorization.UserActor(actorID.String()), projectID.String(),
		authorization.ObjectDialerAssignment, authorization.ActionDialerView); err != nil {
		return nil, err
	}

	filter := dialerdomain.ListFilter{ProjectID: projectID}
	if strings.TrimSpace(req.SchemeID) != "" {
		if filter.SchemeID, err = parseID(req.SchemeID, dialerdomain.ErrInvalidID); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(req.InterviewerID) != "" {
		if filter.InterviewerID, err = parseID(req.InterviewerID, dialerdomain.ErrInvalidActor); err != nil {
			return nil, err
		}
	}
	if raw := strings.ToUpper(strings.TrimSpace(req.Status)); raw != "" {
		status, ok := dialerdomain.ParseStatus(raw)
		if !ok {
			return nil, dialerdomain.ErrInvalidStatus
		}
		filter.Status = status
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		if filter.AfterID, err = parseID(cursor.ID, pagination.ErrInvalidPageToken); err != nil {
			return nil, err
		}
	}
	limit := req.Limit()
	filter.Limit = limit + 1

	items, err := s.repo.ListAssignments(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	items, pageInfo := pagination.Trim(items, limit, func(a dialerdomain.DialerAssignment) string {
		return a.ID.String()
	})
	resp := &dialerdomain.ListResponse{
		Items:    make([]dialerdomain.AssignmentView, 0, len(items)),
		PageInfo: pageInfo,
	}
	for i := range items {
		resp.Items = append(resp.Items, *toAssignmentView(&items[i]))
	}
	return resp, nil
}

func (s *Service) ExpireStale(ctx context.Context, now time.Time, limit int) (int, error) {
	ctx, span := tracer.Start(ctx, "dialer.expire_stale")
	defer span.End()

	if limit <= 0 {
		return 0, nil
	}
	cfg := s.config.Get()
	var expired []dialerdomain.DialerAssignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := pkgdb.SetLockTimeout(tx, cfg.LockTimeout); err != nil {
			return err
		}
		lockStart := time.Now()
		claimed, err := s.repo.ClaimExpired(ctx, tx, now, limit)
		s.metrics.ObserveDBLockWait(metrics.LockResourceStaleAssignments, time.Since(lockStart))
		if err != nil {
			return err
		}
		for i := range claimed {
			a := &claimed[i]
			a.Status = dialerdomain.StatusExpired
			a.CompletedAt = &now
			a.UpdatedAt = now
			if a.Meta == nil {
				a.Meta = datatypes.JSONMap{}
			}
			if err := s.repo.ResolveAssignment(ctx, tx, a); err != nil {
				return err
			}
			if err := s.repo.ReleaseCell(ctx, tx, dialerdomain.CellRelease{CellID: a.CellID}, now); err != nil {
				return err
			}
		}
		expired = claimed
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	s.metrics.AddExpired(len(expired))
	for range expired {
		s.metrics.IncResolution(string(dialerdomain.StatusExpired))
		s.otelMetrics.RecordResolution(ctx, string(dialerdomain.StatusExpired))
	}
	if len(expired) > 0 {
		logger.WithContext(ctx, s.log).Info("dialer assignments expired",
			zap.Int("count", len(expired)),
			zap.Time("cutoff", now),
		)
	}
	return len(expired), nil
}

func (s *Service) checkRateLimit(ctx context.Context, projectID, interviewerID snowflake.ID) error {
	if s.limiter == nil {
		return nil
	}
	res, err := s.limiter.AllowInterviewer(ctx, projectID.String(), interviewerID.String())
	if err != nil {
		// Redis trouble must not take the dialer down.
		s.log.Warn("dialer rate limit check failed", zap.Error(err))
		return nil
	}
	if !res.Allowed {
		s.otelMetrics.RecordRateLimitDenied(ctx, rateLimitEndpoint, "interviewer")
		return dialerdomain.ErrRateLimited
	}
	s.otelMetrics.RecordRateLimitAllowed(ctx, rateLimitEndpoint)
	return nil
}

func (s *Service) recordReservation(ctx context.Context, policy, outcome string) {
	s.metrics.IncReservation(policy, outcome)
	s.otelMetrics.RecordReservation(ctx, policy, outcome)
}

func parseID(value string, invalid error) (snowflake.ID, error) {
	id, err := dialerdomain.ParseID(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalid
	}
	return id, nil
}

func toReservationResponse(scheme *quotadomain.QuotaScheme, res *reservation) *dialerdomain.ReservationResponse {
	return &dialerdomain.ReservationResponse{
		AssignmentID: res.assignment.ID.String(),
		ExpiresAt:    res.assignment.ExpiresAt,
		Sample: dialerdomain.SampleView{
			Phone:        res.sample.Phone,
			Gender:       res.sample.Gender,
			AgeBand:      res.sample.AgeBand,
			ProvinceCode: res.sample.ProvinceCode,
		},
		Cell: dialerdomain.CellView{
			ID:    res.cell.ID.String(),
			Label: res.cell.Label,
		},
		Scheme: dialerdomain.SchemeView{
			ID:   scheme.ID.String(),
			Name: scheme.Name,
		},
	}
}

func toAssignmentView(a *dialerdomain.DialerAssignment) *dialerdomain.AssignmentView {
	view := &dialerdomain.AssignmentView{
		ID:            a.ID.String(),
		ProjectID:     a.ProjectID.String(),
		SchemeID:      a.SchemeID.String(),
		CellID:        a.CellID.String(),
		SampleID:      a.SampleID.String(),
		InterviewerID: a.InterviewerID.String(),
		Status:        a.Status,
		ReservedAt:    a.ReservedAt,
		ExpiresAt:     a.ExpiresAt,
		CompletedAt:   a.CompletedAt,
	}
	if a.OutcomeCode != nil {
		view.OutcomeCode = *a.OutcomeCode
	}
	if len(a.Meta) > 0 {
		view.Meta = map[string]interface{}(a.Meta)
	}
	return view
}
