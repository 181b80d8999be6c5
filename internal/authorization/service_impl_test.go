package authorization

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/insightzen/internal/clock"
	membershipdomain "github.com/smallbiznis/insightzen/internal/membership/domain"
	membershiprepo "github.com/smallbiznis/insightzen/internal/membership/repository"
	membershipservice "github.com/smallbiznis/insightzen/internal/membership/service"
	"github.com/smallbiznis/insightzen/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setup(t *testing.T) (Service, membershipdomain.Service) {
	t.Helper()
	db := testutil.OpenSQLite(t)
	log := zaptest.NewLogger(t)

	members := membershipservice.New(membershipservice.Params{
		DB:    db,
		Log:   log,
		Repo:  membershiprepo.Provide(),
		Clock: clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)

	return NewService(Params{Log: log, Enforcer: enforcer, Memberships: members}), members
}

func TestAuthorizeDialerRoles(t *testing.T) {
	svc, members := setup(t)
	ctx := context.Background()

	for i, role := range []string{"admin", "manager", "supervisor", "agent"} {
		userID := []string{"11", "12", "13", "14"}[i]
		_, err := members.Grant(ctx, membershipdomain.GrantRequest{ProjectID: "100", UserID: userID, Role: role})
		require.NoError(t, err)

		t.Run(role, func(t *testing.T) {
			for _, action := range []string{ActionDialerNext, ActionDialerComplete, ActionDialerCancel} {
				assert.NoError(t, svc.Authorize(ctx, UserActor(userID), "100", ObjectDialerAssignment, action))
			}
		})
	}
}

func TestAuthorizeDeniesOutsiders(t *testing.T) {
	svc, members := setup(t)
	ctx := context.Background()

	_, err := members.Grant(ctx, membershipdomain.GrantRequest{ProjectID: "100", UserID: "11", Role: "agent"})
	require.NoError(t, err)

	t.Run("other project", func(t *testing.T) {
		err := svc.Authorize(ctx, UserActor("11"), "200", ObjectDialerAssignment, ActionDialerNext)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("agent cannot manage schemes", func(t *testing.T) {
		err := svc.Authorize(ctx, UserActor("11"), "100", ObjectQuotaScheme, ActionQuotaSchemeManage)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("malformed actor", func(t *testing.T) {
		assert.ErrorIs(t, svc.Authorize(ctx, "robot", "100", ObjectDialerAssignment, ActionDialerNext), ErrInvalidActor)
		assert.ErrorIs(t, svc.Authorize(ctx, "user:abc", "100", ObjectDialerAssignment, ActionDialerNext), ErrInvalidActor)
	})

	t.Run("malformed project", func(t *testing.T) {
		assert.ErrorIs(t, svc.Authorize(ctx, UserActor("11"), "x", ObjectDialerAssignment, ActionDialerNext), ErrInvalidProject)
	})
}

func TestAuthorizeFollowsRoleChanges(t *testing.T) {
	svc, members := setup(t)
	ctx := context.Background()

	_, err := members.Grant(ctx, membershipdomain.GrantRequest{ProjectID: "100", UserID: "11", Role: "manager"})
	require.NoError(t, err)
	require.NoError(t, svc.Authorize(ctx, UserActor("11"), "100", ObjectQuotaScheme, ActionQuotaSchemeManage))

	_, err = members.Grant(ctx, membershipdomain.GrantRequest{ProjectID: "100", UserID: "11", Role: "agent"})
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Authorize(ctx, UserActor("11"), "100", ObjectQuotaScheme, ActionQuotaSchemeManage), ErrForbidden)

	require.NoError(t, members.Revoke(ctx, "100", "11"))
	assert.ErrorIs(t, svc.Authorize(ctx, UserActor("11"), "100", ObjectDialerAssignment, ActionDialerNext), ErrForbidden)
}

func TestAuthorizeSystemActor(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	assert.NoError(t, svc.Authorize(ctx, ActorSystem, "100", ObjectDialerAssignment, ActionDialerExpire))
	assert.ErrorIs(t, svc.Authorize(ctx, ActorSystem, "100", ObjectQuotaScheme, ActionQuotaSchemeManage), ErrForbidden)
}
