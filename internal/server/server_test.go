package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/insightzen/internal/authorization"
	"github.com/smallbiznis/insightzen/internal/cache"
	"github.com/smallbiznis/insightzen/internal/clock"
	"github.com/smallbiznis/insightzen/internal/config"
	dialerdomain "github.com/smallbiznis/insightzen/internal/dialer/domain"
	dialerrepo "github.com/smallbiznis/insightzen/internal/dialer/repository"
	dialerservice "github.com/smallbiznis/insightzen/internal/dialer/service"
	membershipdomain "github.com/smallbiznis/insightzen/internal/membership/domain"
	membershiprepo "github.com/smallbiznis/insightzen/internal/membership/repository"
	membershipservice "github.com/smallbiznis/insightzen/internal/membership/service"
	quotadomain "github.com/smallbiznis/insightzen/internal/quota/domain"
	quotarepo "github.com/smallbiznis/insightzen/internal/quota/repository"
	quotaservice "github.com/smallbiznis/insightzen/internal/quota/service"
	samplerepo "github.com/smallbiznis/insightzen/internal/sample/repository"
	sampleservice "github.com/smallbiznis/insightzen/internal/sample/service"
	"github.com/smallbiznis/insightzen/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testProject = "10"
	adminID     = "1"
	agentID     = "500"
)

type apiFixture struct {
	t       *testing.T
	engine  *gin.Engine
	members membershipdomain.Service
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

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
	dialer := dialerservice.New(dialerservice.Params{
		DB:      db,
		Log:     log,
		Repo:    dialerrepo.Provide(),
		Catalog: quota,
		Authz:   authz,
		GenID:   node,
		Clock:   clk,
		Config:  config.NewStaticDialerConfigHolder(config.DefaultDialerConfig()),
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	NewServer(ServerParams{
		Gin:           engine,
		Cfg:           config.Config{Environment: "test"},
		Log:           log,
		AuthzSvc:      authz,
		MembershipSvc: members,
		QuotaSvc:      quota,
		SampleSvc:     samples,
		DialerSvc:     dialer,
	})

	f := &apiFixture{t: t, engine: engine, members: members}
	f.grant(adminID, membershipdomain.RoleAdmin)
	f.grant(agentID, membershipdomain.RoleAgent)
	return f
}

func (f *apiFixture) grant(userID string, role membershipdomain.Role) {
	f.t.Helper()
	_, err := f.members.Grant(context.Background(), membershipdomain.GrantRequest{
		ProjectID: testProject, UserID: userID, Role: string(role),
	})
	require.NoError(f.t, err)
}

func (f *apiFixture) do(method, path, userID string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	return envelope.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error
}

// publishScheme drives the scheme lifecycle over HTTP as the admin.
func (f *apiFixture) publishScheme(cells []map[string]any) (string, []quotadomain.CellResponse) {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/projects/"+testProject+"/quota/schemes", adminID, map[string]any{
		"name":            "Wave 1",
		"overflow_policy": "STRICT",
	})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	scheme := decodeData[quotadomain.SchemeResponse](f.t, rec)

	rec = f.do(http.MethodPut, "/api/quota/schemes/"+scheme.ID+"/cells", adminID, map[string]any{"cells": cells})
	require.Equal(f.t, http.StatusOK, rec.Code, rec.Body.String())
	stored := decodeData[[]quotadomain.CellResponse](f.t, rec)

	rec = f.do(http.MethodPost, "/api/quota/schemes/"+scheme.ID+"/publish", adminID, nil)
	require.Equal(f.t, http.StatusOK, rec.Code, rec.Body.String())
	published := decodeData[quotadomain.SchemeResponse](f.t, rec)
	require.Equal(f.t, quotadomain.SchemeStatusPublished, published.Status)
	return scheme.ID, stored
}

func TestMissingIdentityIsUnauthorized(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/api/projects/"+testProject+"/dialer/next", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/projects/"+testProject+"/dialer/next", "not-a-number", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReserveCompleteOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	schemeID, cells := f.publishScheme([]map[string]any{
		{"label": "Female", "selector": map[string]any{"gender": "F"}, "target": 2},
	})
	require.Len(t, cells, 1)

	rec := f.do(http.MethodPost, "/api/projects/"+testProject+"/samples", adminID, map[string]any{
		"contacts": []map[string]any{
			{"phone": "0811000001", "gender": "F"},
			{"phone": "0811000001", "gender": "F"},
			{"phone": "0811000002", "gender": "M"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	imported := decodeData[map[string]int](t, rec)
	assert.Equal(t, 2, imported["created"])
	assert.Equal(t, 1, imported["skipped"])

	rec = f.do(http.MethodPost, "/api/projects/"+testProject+"/dialer/next", agentID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reservation := decodeData[dialerdomain.ReservationResponse](t, rec)
	assert.Equal(t, "0811000001", reservation.Sample.Phone)
	assert.Equal(t, cells[0].ID, reservation.Cell.ID)
	assert.Equal(t, schemeID, reservation.Scheme.ID)

	rec = f.do(http.MethodPost, "/api/dialer/assignments/"+reservation.AssignmentID+"/complete", agentID, map[string]any{
		"outcome_code": " comp ",
		"payload":      map[string]any{"q1": "yes"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decodeData[dialerdomain.AssignmentView](t, rec)
	assert.Equal(t, dialerdomain.StatusCompleted, view.Status)

	rec = f.do(http.MethodGet, "/api/dialer/assignments/"+reservation.AssignmentID, agentID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/quota/schemes/"+schemeID+"/cells", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ledger := decodeData[[]quotadomain.CellResponse](t, rec)
	require.Len(t, ledger, 1)
	assert.Equal(t, 1, ledger[0].Achieved)
	assert.Equal(t, 0, ledger[0].InProgress)
	assert.Equal(t, 1, ledger[0].Remaining)

	rec = f.do(http.MethodGet, "/api/projects/"+testProject+"/dialer/assignments?status=completed", agentID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	listed := decodeData[[]dialerdomain.AssignmentView](t, rec)
	require.Len(t, listed, 1)
	assert.Equal(t, reservation.AssignmentID, listed[0].ID)
}

func TestReserveNextExhaustedIsNotFound(t *testing.T) {
	f := newAPIFixture(t)
	f.publishScheme([]map[string]any{
		{"label": "Male", "selector": map[string]any{"gender": "M"}, "target": 1},
	})

	rec := f.do(http.MethodPost, "/api/projects/"+testProject+"/dialer/next", agentID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no_eligible_cell_or_sample", decodeError(t, rec).Type)
}

func TestReserveNextWithoutSchemeIsNotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/api/projects/"+testProject+"/dialer/next", agentID, map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "scheme_not_found", decodeError(t, rec).Type)
}

func TestReserveNextForbiddenForNonMember(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/api/projects/"+testProject+"/dialer/next", "999", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCompleteUnknownAssignment(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/api/dialer/assignments/123456/complete", agentID, map[string]any{"outcome_code": "COMP"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "assignment_not_found", decodeError(t, rec).Type)

	rec = f.do(http.MethodPost, "/api/dialer/assignments/abc/cancel", agentID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublishedSchemeIsReadOnly(t *testing.T) {
	f := newAPIFixture(t)
	schemeID, _ := f.publishScheme([]map[string]any{
		{"label": "Female", "selector": map[string]any{"gender": "F"}, "target": 1},
	})

	rec := f.do(http.MethodPut, "/api/quota/schemes/"+schemeID+"/cells", adminID, map[string]any{
		"cells": []map[string]any{{"label": "Male", "selector": map[string]any{"gender": "M"}, "target": 1}},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "scheme_read_only", decodeError(t, rec).Type)

	rec = f.do(http.MethodPost, "/api/quota/schemes/"+schemeID+"/archive", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(http.MethodPost, "/api/quota/schemes/"+schemeID+"/publish", adminID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decodeError(t, rec).Type)
}

func TestUpsertCellsRejectsEmptyTypedSelector(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(http.MethodPost, "/api/projects/"+testProject+"/quota/schemes", adminID, map[string]any{"name": "Wave"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	scheme := decodeData[quotadomain.SchemeResponse](t, rec)

	rec = f.do(http.MethodPut, "/api/quota/schemes/"+scheme.ID+"/cells", adminID, map[string]any{
		"cells": []map[string]any{{"label": "Any", "selector": map[string]any{"gender": ""}, "target": 1}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_selector", payload.Errors[0].Code)

	rec = f.do(http.MethodGet, "/api/quota/schemes/"+scheme.ID+"/cells", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decodeData[[]quotadomain.CellResponse](t, rec))
}

func TestAgentCannotManageSchemes(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/api/projects/"+testProject+"/quota/schemes", agentID, map[string]any{"name": "Wave"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	schemeID, _ := f.publishScheme([]map[string]any{
		{"label": "Female", "selector": map[string]any{"gender": "F"}, "target": 1},
	})
	rec = f.do(http.MethodPost, "/api/quota/schemes/"+schemeID+"/archive", agentID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateSchemeValidation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/api/projects/"+testProject+"/quota/schemes", adminID, map[string]any{
		"name":            "Wave",
		"overflow_policy": "LOOSE",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_overflow_policy", payload.Errors[0].Code)
	assert.Equal(t, "overflow_policy", payload.Errors[0].Field)
}

func TestMembershipRoutes(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPut, "/api/projects/"+testProject+"/members/600", adminID, map[string]any{"role": "supervisor"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/projects/"+testProject+"/members", "600", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	listed := decodeData[[]membershipdomain.Response](t, rec)
	assert.Len(t, listed, 3)

	rec = f.do(http.MethodPut, "/api/projects/"+testProject+"/members/601", agentID, map[string]any{"role": "admin"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPut, "/api/projects/"+testProject+"/members/601", adminID, map[string]any{"role": "owner"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodDelete, "/api/projects/"+testProject+"/members/600", adminID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/api/projects/"+testProject+"/members", "600", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSampleRoutes(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/api/projects/"+testProject+"/samples", adminID, map[string]any{
		"contacts": []map[string]any{{"phone": "0811", "gender": "F"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/projects/"+testProject+"/samples?gender=F", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	listed := decodeData[[]map[string]any](t, rec)
	require.Len(t, listed, 1)
	id := fmt.Sprint(listed[0]["id"])

	rec = f.do(http.MethodPost, "/api/projects/"+testProject+"/samples", agentID, map[string]any{
		"contacts": []map[string]any{{"phone": "0812"}},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodDelete, "/api/projects/"+testProject+"/samples/"+id, adminID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/api/projects/"+testProject+"/samples?active=true", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decodeData[[]map[string]any](t, rec))
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodGet, "/api/nope", adminID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMapErrorStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{authorization.ErrForbidden, http.StatusForbidden, "forbidden"},
		{quotadomain.ErrSchemeNotFound, http.StatusNotFound, "scheme_not_found"},
		{quotadomain.ErrSchemeReadOnly, http.StatusConflict, "scheme_read_only"},
		{quotadomain.ErrDuplicateCode, http.StatusConflict, "conflict"},
		{dialerdomain.ErrAssignmentNotFound, http.StatusNotFound, "assignment_not_found"},
		{dialerdomain.ErrNoEligibleCellOrSample, http.StatusNotFound, "no_eligible_cell_or_sample"},
		{dialerdomain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{fmt.Errorf("cells[2]: %w", quotadomain.ErrInvalidSelector), http.StatusBadRequest, "validation_error"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		status, payload := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.kind, payload.Type, tc.err.Error())
	}

	_, payload := mapError(fmt.Errorf("cells[2]: %w", quotadomain.ErrInvalidSelector))
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "cells[2]: invalid_selector", payload.Errors[0].Message)
}
