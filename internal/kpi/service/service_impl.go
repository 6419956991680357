package service

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	kpidomain "github.com/smallbiznis/railmeter/internal/kpi/domain"
	"github.com/smallbiznis/railmeter/internal/metering"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	createEndpoint = "POST /v1/kpis"
	ingestEndpoint = "POST /v1/kpis/:kpi_id/points"

	maxNameLength = 255
	maxUnitLength = 50
)

// ingestBody is hashed for idempotency; the path id is part of the request.
type ingestBody struct {
	KPIID  string                 `json:"kpi_id"`
	Points []kpidomain.PointInput `json:"points"`
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Repo        kpidomain.Repository
	Entitlement entitlementdomain.Service
	Executor    *metering.Executor
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	repo        kpidomain.Repository
	entitlement entitlementdomain.Service
	executor    *metering.Executor
}

func New(p Params) kpidomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("kpi.service"),
		repo:        p.Repo,
		entitlement: p.Entitlement,
		executor:    p.Executor,
	}
}

func (s *Service) Create(ctx context.Context, cmd kpidomain.CreateCommand) (metering.Result, error) {
	req := cmd.Request
	req.Name = strings.TrimSpace(req.Name)
	req.Unit = strings.TrimSpace(req.Unit)
	req.Description = strings.TrimSpace(req.Description)
	if req.Name == "" || utf8.RuneCountInString(req.Name) > maxNameLength {
		return metering.Result{}, kpidomain.ErrInvalidName
	}
	if utf8.RuneCountInString(req.Unit) > maxUnitLength {
		return metering.Result{}, kpidomain.ErrInvalidUnit
	}

	return s.executor.Execute(ctx, metering.Request{
		TenantID:       cmd.TenantID,
		UserID:         cmd.UserID,
		Endpoint:       createEndpoint,
		IdempotencyKey: cmd.IdempotencyKey,
		Body:           req,
		Permitted:      cmd.Permitted,
		Capability:     entitlementdomain.CapabilityKPIIngest,
	}, func(ctx context.Context, session *metering.Session) (int, any, error) {
		def := &kpidomain.Definition{
			ID:          uuid.NewString(),
			TenantID:    session.TenantID(),
			Name:        req.Name,
			Unit:        req.Unit,
			Description: req.Description,
			CreatedBy:   session.UserID(),
			CreatedAt:   session.Now(),
		}
		if _, err := session.Charge(ctx, metering.Reservation{
			EventKey: catalogdomain.EventKPIDefinitionCreated,
			Units:    1,
		}, metering.Usage{}); err != nil {
			return 0, nil, err
		}
		if err := s.repo.InsertDefinition(ctx, session.Tx(), def); err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, def, nil
	})
}

func (s *Service) Ingest(ctx context.Context, cmd kpidomain.IngestCommand) (metering.Result, error) {
	kpiID := strings.TrimSpace(cmd.KPIID)
	if kpiID == "" {
		return metering.Result{}, kpidomain.ErrNotFound
	}
	points, err := normalizePoints(cmd.Request.Points)
	if err != nil {
		return metering.Result{}, err
	}

	return s.executor.Execute(ctx, metering.Request{
		TenantID:       cmd.TenantID,
		UserID:         cmd.UserID,
		Endpoint:       ingestEndpoint,
		IdempotencyKey: cmd.IdempotencyKey,
		Body:           ingestBody{KPIID: kpiID, Points: cmd.Request.Points},
		Permitted:      cmd.Permitted,
		Capability:     entitlementdomain.CapabilityKPIIngest,
	}, func(ctx context.Context, session *metering.Session) (int, any, error) {
		return s.ingest(ctx, session, kpiID, points)
	})
}

func (s *Service) ingest(ctx context.Context, session *metering.Session, kpiID string, points []kpidomain.Point) (int, any, error) {
	tx := session.Tx()
	def, err := s.repo.FindDefinition(ctx, tx, session.TenantID(), kpiID)
	if err != nil {
		return 0, nil, err
	}
	if def == nil {
		return 0, nil, kpidomain.ErrNotFound
	}

	stamps := make([]string, 0, len(points))
	for _, p := range points {
		stamps = append(stamps, p.TS)
	}
	existing, err := s.repo.ExistingTimestamps(ctx, tx, session.TenantID(), kpiID, stamps)
	if err != nil {
		return 0, nil, err
	}
	seen := make(map[string]struct{}, len(existing)+len(points))
	for _, ts := range existing {
		seen[ts] = struct{}{}
	}

	fresh := make([]kpidomain.Point, 0, len(points))
	for _, p := range points {
		if _, dup := seen[p.TS]; dup {
			continue
		}
		seen[p.TS] = struct{}{}
		p.TenantID = session.TenantID()
		p.KPIID = kpiID
		p.CreatedAt = session.Now()
		fresh = append(fresh, p)
	}

	result := kpidomain.IngestResult{
		KPIID:    kpiID,
		Inserted: int64(len(fresh)),
		Ignored:  int64(len(points) - len(fresh)),
	}
	if len(fresh) == 0 {
		return http.StatusOK, result, nil
	}

	if _, err := session.Charge(ctx, metering.Reservation{
		EventKey: catalogdomain.EventKPIPointsIngested,
		Units:    int64(len(fresh)),
	}, metering.Usage{}); err != nil {
		return 0, nil, err
	}
	if err := s.repo.InsertPoints(ctx, tx, fresh); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, result, nil
}

func (s *Service) List(ctx context.Context, req kpidomain.ListRequest) ([]kpidomain.Definition, error) {
	if err := s.requireRead(ctx, req.TenantID); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = kpidomain.DefaultListLimit
	}
	limit = min(limit, kpidomain.MaxListLimit)
	offset := max(req.Offset, 0)

	rows, err := s.repo.ListDefinitions(ctx, s.db, req.TenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []kpidomain.Definition{}
	}
	return rows, nil
}

func (s *Service) Latest(ctx context.Context, tenantID, kpiID string) (kpidomain.Latest, error) {
	if err := s.requireRead(ctx, tenantID); err != nil {
		return kpidomain.Latest{}, err
	}
	def, err := s.repo.FindDefinition(ctx, s.db, tenantID, strings.TrimSpace(kpiID))
	if err != nil {
		return kpidomain.Latest{}, err
	}
	if def == nil {
		return kpidomain.Latest{}, kpidomain.ErrNotFound
	}
	point, err := s.repo.LatestPoint(ctx, s.db, tenantID, def.ID)
	if err != nil {
		return kpidomain.Latest{}, err
	}
	if point == nil {
		return kpidomain.Latest{}, kpidomain.ErrNoPoints
	}
	return kpidomain.Latest{KPIID: def.ID, TS: point.TS, Value: point.Value}, nil
}

// requireRead gates reads on kpi_read. Reads are never metered.
func (s *Service) requireRead(ctx context.Context, tenantID string) error {
	ok, err := s.entitlement.HasCapability(ctx, tenantID, entitlementdomain.CapabilityKPIRead)
	if err != nil {
		return err
	}
	if !ok {
		return entitlementdomain.ErrNotEntitled
	}
	return nil
}

func normalizePoints(raw []kpidomain.PointInput) ([]kpidomain.Point, error) {
	if len(raw) == 0 {
		return nil, kpidomain.ErrInvalidPoints
	}
	if len(raw) > kpidomain.MaxPointsPerRequest {
		return nil, kpidomain.ErrTooManyPoints
	}
	out := make([]kpidomain.Point, 0, len(raw))
	for _, p := range raw {
		ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(p.TS))
		if err != nil {
			return nil, kpidomain.ErrInvalidTimestamp
		}
		out = append(out, kpidomain.Point{
			TS:    ts.UTC().Format(kpidomain.TimestampLayout),
			Value: p.Value,
		})
	}
	return out, nil
}
