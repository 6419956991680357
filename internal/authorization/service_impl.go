package authorization

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	tenantdomain "github.com/smallbiznis/railmeter/internal/tenant/domain"
	"github.com/smallbiznis/railmeter/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectTools     = "tools"
	ObjectAssistant = "assistant"
	ObjectBriefs    = "briefs"
	ObjectBilling   = "billing"
	ObjectLimits    = "limits"
	ObjectAPIKey    = "api_key"
	ObjectUsers     = "users"
	ObjectKPIs      = "kpis"
	ObjectOutbox    = "notifications"
)

const (
	ActionInvokeTools   = "invoke_tools"
	ActionAssistantChat = "assistant.chat"
	ActionBriefsRun     = "briefs.run"
	ActionBillingView   = "billing.view"
	ActionLimitsView    = "limits.view"
	ActionLimitsUpdate  = "limits.update"
	ActionAPIKeyView    = "api_key.view"
	ActionAPIKeyCreate  = "api_key.create"
	ActionAPIKeyRotate  = "api_key.rotate"
	ActionAPIKeyRevoke  = "api_key.revoke"
	ActionUsersView     = "users.view"
	ActionKPIsWrite     = "kpis.write"
	ActionKPIsRead      = "kpis.read"
	ActionBriefsView    = "briefs.view"
	ActionOutboxView    = "notifications.view"
	ActionOutboxAck     = "notifications.ack"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
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
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, principal tenantctx.Principal, object, action string) error {
	userID := strings.TrimSpace(principal.UserID)
	if userID == "" {
		return ErrInvalidActor
	}
	tenantID := strings.TrimSpace(principal.TenantID)
	if tenantID == "" {
		return ErrInvalidTenant
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}
	role := strings.ToLower(strings.TrimSpace(principal.Role))
	if !tenantdomain.IsValidRole(role) {
		return ErrForbidden
	}

	subject := "user:" + userID
	domain := fmt.Sprintf("tenant:%s", tenantID)
	if err := s.ensureGrouping(subject, "role:"+role, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("tenant_id", tenantID),
			zap.String("user_id", userID),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) Permitted(ctx context.Context, principal tenantctx.Principal, object, action string) bool {
	err := s.Authorize(ctx, principal, object, action)
	if err != nil && !errors.Is(err, ErrForbidden) {
		s.log.Warn("authorization check failed", zap.String("action", action), zap.Error(err))
	}
	return err == nil
}

// ensureGrouping keeps exactly one role link per subject and tenant, so a
// role change on the user row takes effect on the next request.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
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

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Member permissions
		{"role:member", ObjectAssistant, ActionAssistantChat},
		{"role:member", ObjectBriefs, ActionBriefsRun},
		{"role:member", ObjectBilling, ActionBillingView},
		{"role:member", ObjectLimits, ActionLimitsView},
		{"role:member", ObjectKPIs, ActionKPIsRead},
		{"role:member", ObjectBriefs, ActionBriefsView},
		{"role:member", ObjectOutbox, ActionOutboxView},
		{"role:member", ObjectOutbox, ActionOutboxAck},

		// Admin permissions
		{"role:admin", ObjectTools, ActionInvokeTools},
		{"role:admin", ObjectAssistant, ActionAssistantChat},
		{"role:admin", ObjectBriefs, ActionBriefsRun},
		{"role:admin", ObjectBilling, ActionBillingView},
		{"role:admin", ObjectLimits, ActionLimitsView},
		{"role:admin", ObjectLimits, ActionLimitsUpdate},
		{"role:admin", ObjectAPIKey, ActionAPIKeyView},
		{"role:admin", ObjectAPIKey, ActionAPIKeyCreate},
		{"role:admin", ObjectAPIKey, ActionAPIKeyRotate},
		{"role:admin", ObjectAPIKey, ActionAPIKeyRevoke},
		{"role:admin", ObjectUsers, ActionUsersView},
		{"role:admin", ObjectKPIs, ActionKPIsWrite},
		{"role:admin", ObjectKPIs, ActionKPIsRead},
		{"role:admin", ObjectBriefs, ActionBriefsView},
		{"role:admin", ObjectOutbox, ActionOutboxView},
		{"role:admin", ObjectOutbox, ActionOutboxAck},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
