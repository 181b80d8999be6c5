package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/insightzen/internal/authorization"
	"github.com/smallbiznis/insightzen/internal/cache"
	"github.com/smallbiznis/insightzen/internal/clock"
	"github.com/smallbiznis/insightzen/internal/config"
	dialerdomain "github.com/smallbiznis/insightzen/internal/dialer/domain"
	"github.com/smallbiznis/insightzen/internal/dialer/repository"
	membershipdomain "github.com/smallbiznis/insightzen/internal/membership/domain"
	membershiprepo "github.com/smallbiznis/insightzen/internal/membership/repository"
	membershipservice "github.com/smallbiznis/insightzen/internal/membership/service"
	"github.com/smallbiznis/insightzen/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/insightzen/internal/quota/domain"
	quotarepo "github.com/smallbiznis/insightzen/internal/quota/repository"
	quotaservice "github.com/smallbiznis/insightzen/internal/quota/service"
	"github.com/smallbiznis/insightzen/internal/ratelimit"
	sampledomain "github.com/smallbiznis/insightzen/internal/sample/domain"
	samplerepo "github.com/smallbiznis/insightzen/internal/sample/repository"
	sampleservice "github.com/smallbiznis/insightzen/internal/sample/service"
	"github.com/smallbiznis/insightzen/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const (
	projectID = "10"
	agentID   = "500"
)

type fixture struct {
	t       *testing.T
	db      *gorm.DB
	clk     *clock.FakeClock
	svc     dialerdomain.Service
	quota   quotadomain.Service
	samples sampledomain.Service
	members membershipdomain.Service
	schemes int
}

type fixtureOption func(*Params)

func withDialerConfig(cfg config.DialerConfig) fixtureOption {
	return func(p *Params) { p.Config = config.NewStaticDialerConfigHolder(cfg) }
}

func withLimiter(l *ratelimit.DialerLimiter) fixtureOption {
	return func(p *Params) { p.Limiter = l }
}

func withLogger(log *zap.Logger) fixtureOption {
	return func(p *Params) { p.Log = log }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	db := testutil.OpenSQLite(t)
	log := zaptest.NewLogger(t)
	node := testutil.Snowflake(t)
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	members := membershipservice.New(membershipservice.Params{
		DB: db, Log: log, Repo: membershiprepo.Provide(), Clock: clk,
	})
	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer, Memberships: members})

	quota := quotaservice.New(quotaservice.Params{
		DB: db, Log: log, Repo: quotarepo.Provide(), GenID: node, Clock: clk, Schemes: cache.NewSchemeCache(),
	})
	samples := sampleservice.New(sampleservice.Params{
		DB: db, Log: log, Repo: samplerepo.Provide(), GenID: node, Clock: clk,
	})

	params := Params{
		DB:      db,
		Log:     log,
		Repo:    repository.Provide(),
		Catalog: quota,
		Authz:   authz,
		GenID:   node,
		Clock:   clk,
		Config:  config.NewStaticDialerConfigHolder(config.DefaultDialerConfig()),
		Metrics: metrics.NewDialerMetricsForTest(prometheus.NewRegistry()),
	}
	for _, opt := range opts {
		opt(&params)
	}

	f := &fixture{
		t:       t,
		db:      db,
		clk:     clk,
		svc:     New(params),
		quota:   quota,
		samples: samples,
		members: members,
	}
	f.grant(agentID, membershipdomain.RoleAgent)
	return f
}

func (f *fixture) grant(userID string, role membershipdomain.Role) {
	f.t.Helper()
	_, err := f.members.Grant(context.Background(), membershipdomain.GrantRequest{
		ProjectID: projectID, UserID: userID, Role: string(role),
	})
	require.NoError(f.t, err)
}

// publish creates a published scheme and returns its id and cell ids by label.
func (f *fixture) publish(policy quotadomain.OverflowPolicy, cells ...quotadomain.CellInput) (string, map[string]string) {
	f.t.Helper()
	ctx := context.Background()

	f.schemes++
	scheme, err := f.quota.CreateScheme(ctx, quotadomain.CreateSchemeRequest{
		ProjectID:      projectID,
		Name:           fmt.Sprintf("scheme %d %s", f.schemes, policy),
		OverflowPolicy: string(policy),
	})
	require.NoError(f.t, err)

	stored, err := f.quota.UpsertCells(ctx, quotadomain.UpsertCellsRequest{SchemeID: scheme.ID, Cells: cells})
	require.NoError(f.t, err)
	_, err = f.quota.PublishScheme(ctx, scheme.ID)
	require.NoError(f.t, err)

	ids := make(map[string]string, len(stored))
	for _, cell := range stored {
		ids[cell.Label] = cell.ID
	}
	return scheme.ID, ids
}

func (f *fixture) importSamples(contacts ...sampledomain.ContactInput) {
	f.t.Helper()
	_, err := f.samples.Import(context.Background(), sampledomain.ImportRequest{ProjectID: projectID, Contacts: contacts})
	require.NoError(f.t, err)
}

func (f *fixture) reserve() (*dialerdomain.ReservationResponse, error) {
	return f.svc.ReserveNext(context.Background(), dialerdomain.ReserveRequest{
		ProjectID:     projectID,
		InterviewerID: agentID,
	})
}

type ledger struct {
	Achieved   int
	InProgress int
	Reserved   int
}

func (f *fixture) ledger(cellID string) ledger {
	f.t.Helper()
	id, err := snowflake.ParseString(cellID)
	require.NoError(f.t, err)
	var l ledger
	require.NoError(f.t, f.db.Raw(
		`SELECT achieved, in_progress, reserved FROM quota_cells WHERE id = ?`, id,
	).Scan(&l).Error)
	return l
}

func (f *fixture) setInProgress(cellID string, n int) {
	f.t.Helper()
	id, err := snowflake.ParseString(cellID)
	require.NoError(f.t, err)
	require.NoError(f.t, f.db.Exec(
		`UPDATE quota_cells SET in_progress = ?, reserved = ? WHERE id = ?`, n, n, id,
	).Error)
}

func (f *fixture) countReserved(cellID string) int64 {
	f.t.Helper()
	id, err := snowflake.ParseString(cellID)
	require.NoError(f.t, err)
	var n int64
	require.NoError(f.t, f.db.Raw(
		`SELECT COUNT(*) FROM dialer_assignments WHERE cell_id = ? AND status IN (?, ?)`,
		id, dialerdomain.StatusReserved, dialerdomain.StatusCompleted,
	).Scan(&n).Error)
	return n
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }
