package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	"github.com/smallbiznis/railmeter/internal/clock"
	obsmetrics "github.com/smallbiznis/railmeter/internal/observability/metrics"
	rollupdomain "github.com/smallbiznis/railmeter/internal/rollup/domain"
	usagedomain "github.com/smallbiznis/railmeter/internal/usage/domain"
	"github.com/smallbiznis/railmeter/pkg/db/pagination"
	"github.com/smallbiznis/railmeter/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Catalog    catalogdomain.Service
	Rollup     rollupdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	clock      clock.Clock
	catalog    catalogdomain.Service
	rollup     rollupdomain.Service
	usagerepo  repository.Repository[usagedomain.UsageEvent]
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:      p.GenID,
		clock:      p.Clock,
		catalog:    p.Catalog,
		rollup:     p.Rollup,
		usagerepo:  repository.ProvideStore[usagedomain.UsageEvent](p.DB),
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Emit(ctx context.Context, tx *gorm.DB, req usagedomain.EmitRequest) (*usagedomain.UsageEvent, error) {
	if err := validateEmit(req); err != nil {
		return nil, err
	}

	eventKey := strings.TrimSpace(req.EventKey)
	snapshot, err := s.catalog.Get(ctx, tx, eventKey)
	if err != nil {
		return nil, err
	}
	if !snapshot.Active {
		return nil, catalogdomain.ErrInactive
	}

	now := s.clock.Now()
	occurredAt := req.OccurredAt.UTC()
	if occurredAt.IsZero() {
		occurredAt = now
	}

	cpu := snapshot.EffectiveCreditsPerUnit()
	credits := cpu.Mul(decimalFromUnits(req.RawUnits))
	listCost := credits.Mul(snapshot.ListPricePerCredit)

	event := &usagedomain.UsageEvent{
		ID:                 s.genID.Generate(),
		TenantID:           strings.TrimSpace(req.TenantID),
		EventKey:           eventKey,
		RawUnits:           req.RawUnits,
		CreditsPerUnit:     cpu,
		ListPricePerCredit: snapshot.ListPricePerCredit,
		CatalogVersion:     snapshot.Version,
		Credits:            credits,
		ListCostEstimate:   listCost,
		PeriodStart:        req.PeriodStart.UTC(),
		OccurredAt:         occurredAt,
		IdempotencyKey:     optionalString(req.IdempotencyKey),
		CreatedAt:          now,
	}
	if req.LinkedEntity != nil {
		event.LinkedEntityType = optionalString(req.LinkedEntity.Type)
		event.LinkedEntityID = optionalString(req.LinkedEntity.ID)
	}
	if len(req.Metadata) > 0 {
		event.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.usagerepo.WithTrx(tx).Create(ctx, event); err != nil {
		return nil, fmt.Errorf("insert usage event: %w", err)
	}

	if _, err := s.rollup.Increment(ctx, tx, rollupdomain.IncrementRequest{
		TenantID:      event.TenantID,
		EventKey:      event.EventKey,
		PeriodStart:   event.PeriodStart,
		RawUnitsDelta: event.RawUnits,
		CreditsDelta:  event.Credits,
		ListCostDelta: event.ListCostEstimate,
	}); err != nil {
		return nil, fmt.Errorf("increment rollup: %w", err)
	}

	credF, _ := credits.Float64()
	s.obsMetrics.RecordUsageEmitted(ctx, eventKey, credF)

	s.log.Debug("usage emitted",
		zap.String("tenant_id", event.TenantID),
		zap.String("event_key", eventKey),
		zap.Int64("raw_units", event.RawUnits),
		zap.String("credits", credits.String()),
		zap.String("usage_event_id", event.ID.String()),
	)
	return event, nil
}

func (s *Service) Query(ctx context.Context, req usagedomain.QueryRequest) (usagedomain.QueryResponse, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return usagedomain.QueryResponse{}, usagedomain.ErrInvalidTenant
	}
	if req.PeriodStart.IsZero() || !req.PeriodEnd.After(req.PeriodStart) {
		return usagedomain.QueryResponse{}, usagedomain.ErrInvalidPeriod
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return usagedomain.QueryResponse{}, err
	}

	limit := req.Pagination.Limit()
	stmt := s.db.WithContext(ctx).
		Model(&usagedomain.UsageEvent{}).
		Where("tenant_id = ?", tenantID).
		Where("occurred_at >= ? AND occurred_at < ?", req.PeriodStart.UTC(), req.PeriodEnd.UTC())
	if key := strings.TrimSpace(req.EventKey); key != "" {
		stmt = stmt.Where("event_key = ?", key)
	}
	if cursor != nil {
		cursorID, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return usagedomain.QueryResponse{}, pagination.ErrInvalidPageToken
		}
		cursorAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return usagedomain.QueryResponse{}, pagination.ErrInvalidPageToken
		}
		stmt = stmt.Where("(occurred_at < ?) OR (occurred_at = ? AND id < ?)", cursorAt, cursorAt, cursorID)
	}

	var events []usagedomain.UsageEvent
	if err := stmt.Order("occurred_at DESC").Order("id DESC").Limit(limit + 1).Find(&events).Error; err != nil {
		return usagedomain.QueryResponse{}, err
	}

	page, info, err := pagination.BuildCursorPage(events, limit, func(e usagedomain.UsageEvent) pagination.Cursor {
		return pagination.Cursor{
			ID:        e.ID.String(),
			CreatedAt: e.OccurredAt.UTC().Format(time.RFC3339Nano),
		}
	})
	if err != nil {
		return usagedomain.QueryResponse{}, err
	}
	if page == nil {
		page = []usagedomain.UsageEvent{}
	}
	return usagedomain.QueryResponse{PageInfo: info, Events: page}, nil
}

func validateEmit(req usagedomain.EmitRequest) error {
	if strings.TrimSpace(req.TenantID) == "" {
		return usagedomain.ErrInvalidTenant
	}
	if strings.TrimSpace(req.EventKey) == "" {
		return usagedomain.ErrInvalidEventKey
	}
	if req.RawUnits <= 0 {
		return usagedomain.ErrInvalidUnits
	}
	if req.PeriodStart.IsZero() {
		return usagedomain.ErrInvalidPeriod
	}
	if !req.OccurredAt.IsZero() && req.OccurredAt.Before(req.PeriodStart) {
		return usagedomain.ErrInvalidOccurredAt
	}
	return nil
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
