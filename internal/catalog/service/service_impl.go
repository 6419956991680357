package service

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/smallbiznis/railmeter/internal/cache"
	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	"github.com/smallbiznis/railmeter/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var eventKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,99}$`)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  catalogdomain.Repository
	Cache cache.CatalogCache
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  catalogdomain.Repository
	cache cache.CatalogCache
}

func New(p Params) catalogdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("catalog.service"),
		clock: p.Clock,
		repo:  p.Repo,
		cache: p.Cache,
	}
}

func (s *Service) Get(ctx context.Context, tx *gorm.DB, eventKey string) (catalogdomain.EventTypeSnapshot, error) {
	if tx == nil {
		tx = s.db
	}
	item, err := s.repo.FindByKey(ctx, tx, strings.TrimSpace(eventKey))
	if err != nil {
		return catalogdomain.EventTypeSnapshot{}, err
	}
	if item == nil {
		return catalogdomain.EventTypeSnapshot{}, catalogdomain.ErrNotFound
	}
	return item.Snapshot(), nil
}

func (s *Service) Lookup(ctx context.Context, eventKey string) (catalogdomain.EventTypeSnapshot, error) {
	if snapshot, ok := s.cache.GetEvent(eventKey); ok {
		return snapshot, nil
	}
	snapshot, err := s.Get(ctx, s.db, eventKey)
	if err != nil {
		return catalogdomain.EventTypeSnapshot{}, err
	}
	s.cache.SetEvent(snapshot)
	return snapshot, nil
}

func (s *Service) Create(ctx context.Context, req catalogdomain.CreateRequest) (catalogdomain.EventTypeSnapshot, error) {
	item, err := s.newEventType(req)
	if err != nil {
		return catalogdomain.EventTypeSnapshot{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByKey(ctx, tx, item.EventKey)
		if err != nil {
			return err
		}
		if existing != nil {
			return catalogdomain.ErrAlreadyExists
		}
		return s.repo.Insert(ctx, tx, item)
	})
	if err != nil {
		return catalogdomain.EventTypeSnapshot{}, err
	}

	s.cache.Invalidate(item.EventKey)
	s.log.Info("metered event type created",
		zap.String("event_key", item.EventKey),
		zap.String("credits_per_unit", item.CreditsPerUnit.String()),
	)
	return item.Snapshot(), nil
}

func (s *Service) Upsert(ctx context.Context, req catalogdomain.UpsertRequest) (catalogdomain.EventTypeSnapshot, error) {
	key := strings.TrimSpace(req.EventKey)
	if !eventKeyPattern.MatchString(key) {
		return catalogdomain.EventTypeSnapshot{}, catalogdomain.ErrInvalidEventKey
	}

	var result catalogdomain.MeteredEventType
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByKey(ctx, tx, key)
		if err != nil {
			return err
		}

		if existing == nil {
			create := catalogdomain.CreateRequest{EventKey: key, Billable: true}
			if req.UnitName != nil {
				create.UnitName = *req.UnitName
			}
			if req.DisplayName != nil {
				create.DisplayName = *req.DisplayName
			}
			if req.Description != nil {
				create.Description = *req.Description
			}
			if req.CreditsPerUnit == nil {
				return catalogdomain.ErrInvalidCreditsPerUnit
			}
			create.CreditsPerUnit = *req.CreditsPerUnit
			if req.ListPricePerCredit == nil {
				return catalogdomain.ErrInvalidListPrice
			}
			create.ListPricePerCredit = *req.ListPricePerCredit
			if req.Billable != nil {
				create.Billable = *req.Billable
			}

			item, err := s.newEventType(create)
			if err != nil {
				return err
			}
			if req.Active != nil {
				item.Active = *req.Active
			}
			if err := s.repo.Insert(ctx, tx, item); err != nil {
				return err
			}
			result = *item
			return nil
		}

		if err := applyUpdate(existing, req); err != nil {
			return err
		}
		existing.Version++
		existing.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, existing); err != nil {
			return err
		}
		result = *existing
		return nil
	})
	if err != nil {
		return catalogdomain.EventTypeSnapshot{}, err
	}

	s.cache.Invalidate(key)
	s.log.Info("metered event type upserted",
		zap.String("event_key", key),
		zap.Int64("version", result.Version),
		zap.String("credits_per_unit", result.CreditsPerUnit.String()),
		zap.Bool("active", result.Active),
	)
	return result.Snapshot(), nil
}

func (s *Service) List(ctx context.Context) ([]catalogdomain.EventTypeSnapshot, error) {
	items, err := s.repo.List(ctx, s.db, false)
	if err != nil {
		return nil, err
	}
	return toSnapshots(items), nil
}

func (s *Service) ListActive(ctx context.Context) ([]catalogdomain.EventTypeSnapshot, error) {
	if cached, ok := s.cache.GetActive(); ok {
		return cached, nil
	}
	items, err := s.repo.List(ctx, s.db, true)
	if err != nil {
		return nil, err
	}
	snapshots := toSnapshots(items)
	s.cache.SetActive(snapshots)
	return snapshots, nil
}

func (s *Service) EnsureSeeded(ctx context.Context, seeds []catalogdomain.CreateRequest) (int, error) {
	created := 0
	for _, seed := range seeds {
		_, err := s.Create(ctx, seed)
		switch {
		case err == nil:
			created++
		case errors.Is(err, catalogdomain.ErrAlreadyExists):
		default:
			return created, err
		}
	}
	return created, nil
}

func (s *Service) newEventType(req catalogdomain.CreateRequest) (*catalogdomain.MeteredEventType, error) {
	key := strings.TrimSpace(req.EventKey)
	if !eventKeyPattern.MatchString(key) {
		return nil, catalogdomain.ErrInvalidEventKey
	}
	unit := strings.TrimSpace(req.UnitName)
	if unit == "" || len(unit) > 50 {
		return nil, catalogdomain.ErrInvalidUnitName
	}
	if req.CreditsPerUnit.IsNegative() {
		return nil, catalogdomain.ErrInvalidCreditsPerUnit
	}
	if req.ListPricePerCredit.IsNegative() {
		return nil, catalogdomain.ErrInvalidListPrice
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = key
	}

	now := s.clock.Now()
	return &catalogdomain.MeteredEventType{
		EventKey:           key,
		UnitName:           unit,
		DisplayName:        displayName,
		Description:        strings.TrimSpace(req.Description),
		CreditsPerUnit:     req.CreditsPerUnit,
		ListPricePerCredit: req.ListPricePerCredit,
		Billable:           req.Billable,
		Active:             true,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

func applyUpdate(m *catalogdomain.MeteredEventType, req catalogdomain.UpsertRequest) error {
	if req.UnitName != nil && strings.TrimSpace(*req.UnitName) != m.UnitName {
		return catalogdomain.ErrUnitNameImmutable
	}
	if req.CreditsPerUnit != nil {
		if req.CreditsPerUnit.IsNegative() {
			return catalogdomain.ErrInvalidCreditsPerUnit
		}
		m.CreditsPerUnit = *req.CreditsPerUnit
	}
	if req.ListPricePerCredit != nil {
		if req.ListPricePerCredit.IsNegative() {
			return catalogdomain.ErrInvalidListPrice
		}
		m.ListPricePerCredit = *req.ListPricePerCredit
	}
	if req.DisplayName != nil && strings.TrimSpace(*req.DisplayName) != "" {
		m.DisplayName = strings.TrimSpace(*req.DisplayName)
	}
	if req.Description != nil {
		m.Description = strings.TrimSpace(*req.Description)
	}
	if req.Billable != nil {
		m.Billable = *req.Billable
	}
	if req.Active != nil {
		m.Active = *req.Active
	}
	return nil
}

func toSnapshots(items []catalogdomain.MeteredEventType) []catalogdomain.EventTypeSnapshot {
	out := make([]catalogdomain.EventTypeSnapshot, 0, len(items))
	for _, item := range items {
		out = append(out, item.Snapshot())
	}
	return out
}
