package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	membershipdomain "github.com/smallbiznis/insightzen/internal/membership/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectDialerAssignment = "dialer_assignment"
	ObjectQuotaScheme      = "quota_scheme"
	ObjectSampleContact    = "sample_contact"
	ObjectMembership       = "membership"
)

const (
	ActionDialerNext     = "dialer.next"
	ActionDialerComplete = "dialer.complete"
	ActionDialerCancel   = "dialer.cancel"
	ActionDialerView     = "dialer.view"
	ActionDialerExpire   = "dialer.expire"

	ActionQuotaSchemeView   = "quota_scheme.view"
	ActionQuotaSchemeManage = "quota_scheme.manage"

	ActionSampleContactView   = "sample_contact.view"
	ActionSampleContactManage = "sample_contact.manage"

	ActionMembershipView   = "membership.view"
	ActionMembershipManage = "membership.manage"
)

type Params struct {
	fx.In

	Log         *zap.Logger
	Enforcer    *casbin.SyncedEnforcer
	Memberships membershipdomain.Service
}

type ServiceImpl struct {
	log         *zap.Logger
	enforcer    *casbin.SyncedEnforcer
	memberships membershipdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:         p.Log.Named("authorization.service"),
		enforcer:    p.Enforcer,
		memberships: p.Memberships,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor, projectID, object, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	project, err := snowflake.ParseString(strings.TrimSpace(projectID))
	if err != nil || project == 0 {
		return ErrInvalidProject
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, err := s.resolveActor(ctx, actor, project)
	if err != nil {
		s.logDenied(actor, project, object, action, err)
		return err
	}

	domain := fmt.Sprintf("project:%s", project.String())
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.logDenied(actor, project, object, action, ErrForbidden)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string, projectID snowflake.ID) (string, string, error) {
	if actor == ActorSystem {
		return actor, "role:system", nil
	}
	if !strings.HasPrefix(actor, "user:") {
		return "", "", ErrInvalidActor
	}

	userID, err := snowflake.ParseString(strings.TrimPrefix(actor, "user:"))
	if err != nil || userID == 0 {
		return "", "", ErrInvalidActor
	}
	role, err := s.memberships.RoleOf(ctx, projectID, userID)
	if err != nil {
		return "", "", err
	}
	if role == "" {
		// Drop any grouping left from a revoked membership.
		if err := s.removeGroupings(actor, fmt.Sprintf("project:%s", projectID.String())); err != nil {
			return "", "", err
		}
		return "", "", ErrForbidden
	}
	return actor, "role:" + string(role), nil
}

// ensureGrouping keeps exactly one role link for subject in domain, so a
// changed membership takes effect on the next call.
func (s *ServiceImpl) ensureGrouping(subject, roleName, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(toParams(rule)...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) removeGroupings(subject, domain string) error {
	_, err := s.enforcer.RemoveFilteredGroupingPolicy(0, subject, "", domain)
	return err
}

func (s *ServiceImpl) logDenied(actor string, projectID snowflake.ID, object, action string, reason error) {
	s.log.Info("authorization.denied",
		zap.String("actor", actor),
		zap.String("project_id", projectID.String()),
		zap.String("object", object),
		zap.String("action", action),
		zap.Error(reason),
	)
}

func toParams(rule []string) []interface{} {
	params := make([]interface{}, 0, len(rule))
	for _, value := range rule {
		params = append(params, value)
	}
	return params
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	dialerActions := []string{ActionDialerNext, ActionDialerComplete, ActionDialerCancel, ActionDialerView}

	var policies [][]string
	for _, role := range membershipdomain.DialerRoles {
		subject := "role:" + string(role)
		for _, action := range dialerActions {
			policies = append(policies, []string{subject, ObjectDialerAssignment, action})
		}
		policies = append(policies, []string{subject, ObjectMembership, ActionMembershipView})
	}

	for _, subject := range []string{"role:admin", "role:manager"} {
		policies = append(policies,
			[]string{subject, ObjectQuotaScheme, ActionQuotaSchemeView},
			[]string{subject, ObjectQuotaScheme, ActionQuotaSchemeManage},
			[]string{subject, ObjectSampleContact, ActionSampleContactView},
			[]string{subject, ObjectSampleContact, ActionSampleContactManage},
			[]string{subject, ObjectMembership, ActionMembershipManage},
		)
	}
	policies = append(policies,
		[]string{"role:supervisor", ObjectQuotaScheme, ActionQuotaSchemeView},
		[]string{"role:supervisor", ObjectSampleContact, ActionSampleContactView},

		[]string{"role:system", ObjectDialerAssignment, ActionDialerExpire},
		[]string{"role:system", ObjectDialerAssignment, ActionDialerView},
		[]string{"role:system", ObjectQuotaScheme, ActionQuotaSchemeView},
	)

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
