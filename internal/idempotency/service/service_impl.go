package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/smallbiznis/railmeter/internal/clock"
	"github.com/smallbiznis/railmeter/internal/idempotency/domain"
	obsmetrics "github.com/smallbiznis/railmeter/internal/observability/metrics"
	"github.com/smallbiznis/railmeter/pkg/db"
	"github.com/smallbiznis/railmeter/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	records repository.Repository[domain.Record]
	log     *zap.Logger
	clock   clock.Clock
	metrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		records: repository.ProvideStore[domain.Record](p.DB),
		log:     p.Log.Named("idempotency.service"),
		clock:   p.Clock,
		metrics: p.ObsMetrics,
	}
}

func (s *Service) Begin(ctx context.Context, tx *gorm.DB, req domain.BeginRequest) (domain.Decision, error) {
	key, err := normalizeKey(req.Key)
	if err != nil {
		return domain.Decision{}, err
	}

	hash, err := domain.RequestHash(req.Endpoint, req.Body)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("hash request body: %w", err)
	}

	record, err := s.records.WithTrx(tx).FindOne(ctx, &domain.Record{TenantID: req.TenantID, Key: key})
	if err != nil {
		return domain.Decision{}, err
	}

	decision := domain.Decision{Outcome: domain.OutcomeFresh, RequestHash: hash}
	switch {
	case record == nil:
	case record.RequestHash == hash:
		decision.Outcome = domain.OutcomeReplay
		decision.Record = record
	default:
		decision.Outcome = domain.OutcomeConflict
		decision.Record = record
		s.log.Info("idempotency key reused with a different body",
			zap.String("tenant_id", req.TenantID),
			zap.String("endpoint", req.Endpoint),
			zap.String("original_endpoint", record.Endpoint),
		)
	}

	s.metrics.RecordIdempotency(ctx, string(decision.Outcome))
	return decision, nil
}

func (s *Service) Commit(ctx context.Context, tx *gorm.DB, req domain.CommitRequest) (*domain.Record, error) {
	key, err := normalizeKey(req.Key)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.RequestHash) == "" {
		return nil, fmt.Errorf("commit %q: missing request hash", key)
	}

	body, err := json.Marshal(req.Response)
	if err != nil {
		return nil, fmt.Errorf("encode cached response: %w", err)
	}

	record := &domain.Record{
		TenantID:       req.TenantID,
		Key:            key,
		Endpoint:       req.Endpoint,
		RequestHash:    req.RequestHash,
		ResponseStatus: req.Status,
		CachedResponse: datatypes.JSON(body),
		CreatedAt:      s.clock.Now(),
	}
	if err := s.records.WithTrx(tx).Create(ctx, record); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrConcurrentCommit
		}
		return nil, err
	}
	return record, nil
}

func normalizeKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if key == "" || len(key) > domain.MaxKeyLength {
		return "", domain.ErrInvalidKey
	}
	return key, nil
}
