package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	apikeydomain "github.com/smallbiznis/railmeter/internal/apikey/domain"
	"github.com/smallbiznis/railmeter/internal/clock"
	"github.com/smallbiznis/railmeter/internal/config"
	dailyquotadomain "github.com/smallbiznis/railmeter/internal/dailyquota/domain"
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	tenantdomain "github.com/smallbiznis/railmeter/internal/tenant/domain"
	"github.com/smallbiznis/railmeter/pkg/db"
	"github.com/smallbiznis/railmeter/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Repo        tenantdomain.Repository
	Metering    *config.MeteringConfigHolder
	Entitlement entitlementdomain.Service
	DailyQuota  dailyquotadomain.Service
	APIKeys     apikeydomain.Service
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	repo        tenantdomain.Repository
	metering    *config.MeteringConfigHolder
	entitlement entitlementdomain.Service
	daily       dailyquotadomain.Service
	apikeys     apikeydomain.Service
}

func New(p Params) tenantdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("tenant.service"),
		clock:       p.Clock,
		repo:        p.Repo,
		metering:    p.Metering,
		entitlement: p.Entitlement,
		daily:       p.DailyQuota,
		apikeys:     p.APIKeys,
	}
}

func (s *Service) Provision(ctx context.Context, req tenantdomain.ProvisionRequest) (*tenantdomain.ProvisionResult, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, tenantdomain.ErrInvalidName
	}
	tenantSlug := slug.Make(name)
	if tenantSlug == "" {
		return nil, tenantdomain.ErrInvalidName
	}
	planID := strings.TrimSpace(req.PlanID)
	if planID == "" {
		planID = s.metering.Get().DefaultPlan
	}

	var admin *tenantdomain.User
	if email := strings.TrimSpace(req.AdminEmail); email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, tenantdomain.ErrInvalidEmail
		}
		admin = &tenantdomain.User{
			Email:       strings.ToLower(email),
			DisplayName: strings.TrimSpace(req.AdminName),
			Role:        tenantdomain.RoleAdmin,
		}
	}

	var result *tenantdomain.ProvisionResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindTenantBySlug(ctx, tx, tenantSlug)
		if err != nil {
			return err
		}
		if existing != nil {
			return tenantdomain.ErrTenantExists
		}

		now := s.clock.Now()
		tenant := tenantdomain.Tenant{
			ID:        uuid.NewString(),
			Name:      name,
			Slug:      tenantSlug,
			Status:    tenantdomain.StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repo.InsertTenant(ctx, tx, &tenant); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return tenantdomain.ErrTenantExists
			}
			return err
		}

		sub, err := s.entitlement.EnsureSubscription(ctx, tx, tenant.ID, planID)
		if err != nil {
			return err
		}
		if err := s.daily.EnsureDefaults(ctx, tx, tenant.ID); err != nil {
			return err
		}

		if admin != nil {
			admin.ID = uuid.NewString()
			admin.TenantID = tenant.ID
			admin.CreatedAt = now
			if err := s.repo.InsertUser(ctx, tx, admin); err != nil {
				return err
			}
		}

		secret, err := s.apikeys.Create(ctx, tx, tenant.ID, apikeydomain.CreateRequest{Name: "default"})
		if err != nil {
			return err
		}

		result = &tenantdomain.ProvisionResult{
			Tenant:       tenant,
			Subscription: *sub,
			AdminUser:    admin,
			APIKeyID:     secret.KeyID,
			APIKey:       secret.APIKey,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("tenant provisioned",
		zap.String("tenant_id", result.Tenant.ID),
		zap.String("plan_id", result.Subscription.PlanID),
	)
	return result, nil
}

func (s *Service) Get(ctx context.Context, tenantID string) (*tenantdomain.Tenant, error) {
	t, err := s.repo.FindTenant(ctx, s.db, strings.TrimSpace(tenantID))
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, tenantdomain.ErrNotFound
	}
	return t, nil
}

func (s *Service) List(ctx context.Context) ([]tenantdomain.Tenant, error) {
	return s.repo.ListTenants(ctx, s.db)
}

func (s *Service) CreateUser(ctx context.Context, tenantID string, req tenantdomain.CreateUserRequest) (*tenantdomain.User, error) {
	if _, err := s.Get(ctx, tenantID); err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, tenantdomain.ErrInvalidEmail
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = tenantdomain.RoleMember
	}
	if !tenantdomain.IsValidRole(role) {
		return nil, tenantdomain.ErrInvalidRole
	}

	existing, err := s.repo.FindUserByEmail(ctx, s.db, tenantID, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, tenantdomain.ErrUserAlreadyExists
	}

	user := &tenantdomain.User{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Email:       email,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Role:        role,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.repo.InsertUser(ctx, s.db, user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, tenantdomain.ErrUserAlreadyExists
		}
		return nil, err
	}
	return user, nil
}

func (s *Service) ListUsers(ctx context.Context, tenantID string) ([]tenantdomain.User, error) {
	return s.repo.ListUsers(ctx, s.db, tenantID)
}

func (s *Service) Authenticate(ctx context.Context, tenantID, userID, apiKey string) (tenantctx.Principal, error) {
	tenantID = strings.TrimSpace(tenantID)
	userID = strings.TrimSpace(userID)
	if tenantID == "" || userID == "" || strings.TrimSpace(apiKey) == "" {
		return tenantctx.Principal{}, tenantdomain.ErrUnauthorized
	}

	if _, err := s.apikeys.Verify(ctx, tenantID, apiKey); err != nil {
		if errors.Is(err, apikeydomain.ErrInvalidKey) {
			return tenantctx.Principal{}, tenantdomain.ErrUnauthorized
		}
		return tenantctx.Principal{}, err
	}

	tenant, err := s.repo.FindTenant(ctx, s.db, tenantID)
	if err != nil {
		return tenantctx.Principal{}, err
	}
	if tenant == nil {
		return tenantctx.Principal{}, tenantdomain.ErrUnauthorized
	}
	if tenant.Status != tenantdomain.StatusActive {
		return tenantctx.Principal{}, tenantdomain.ErrTenantDisabled
	}

	user, err := s.repo.FindUser(ctx, s.db, tenantID, userID)
	if err != nil {
		return tenantctx.Principal{}, err
	}
	if user == nil {
		return tenantctx.Principal{}, tenantdomain.ErrUnauthorized
	}

	return tenantctx.Principal{TenantID: tenantID, UserID: user.ID, Role: user.Role}, nil
}
