package metering

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	dailyquotadomain "github.com/smallbiznis/railmeter/internal/dailyquota/domain"
	quotadomain "github.com/smallbiznis/railmeter/internal/quota/domain"
	usagedomain "github.com/smallbiznis/railmeter/internal/usage/domain"
)

var ErrOverGrant = errors.New("usage_exceeds_grant")

// Reservation asks for budget before the work is done.
type Reservation struct {
	EventKey string
	Units    int64
	// ActivityType also charges the legacy daily counter when set.
	ActivityType string
	AllowPartial bool
}

// Grant is the budget a reservation obtained. Allowed is the minimum of the
// credit, event cap and daily budgets.
type Grant struct {
	EventKey     string
	ActivityType string
	Requested    int64
	Allowed      int64
	Decision     quotadomain.Decision
	recorded     int64
}

func (g *Grant) Suppressed() int64 {
	return g.Requested - g.Allowed
}

// Usage declares work that concretely happened under a grant.
type Usage struct {
	Units        int64
	LinkedEntity *usagedomain.LinkedEntity
	Metadata     map[string]any
}

// Reserve authorizes units against every budget without consuming them.
func (s *Session) Reserve(ctx context.Context, r Reservation) (*Grant, error) {
	if strings.TrimSpace(r.EventKey) == "" || r.Units < 0 {
		return nil, ErrInvalidRequest
	}

	ent := s.ent
	verdict, err := s.exec.quota.Authorize(ctx, s.tx, quotadomain.AuthorizeRequest{
		TenantID:       s.req.TenantID,
		EventKey:       r.EventKey,
		RequestedUnits: r.Units,
		AllowPartial:   r.AllowPartial,
		At:             s.now,
		Entitlement:    &ent,
	})
	if err != nil {
		return nil, err
	}
	if err := verdict.Err(); err != nil {
		return nil, err
	}

	grant := &Grant{
		EventKey:     r.EventKey,
		ActivityType: r.ActivityType,
		Requested:    r.Units,
		Allowed:      verdict.AllowedUnits,
		Decision:     verdict.Decision,
	}

	if r.ActivityType != "" && grant.Allowed > 0 {
		daily, err := s.exec.daily.Check(ctx, s.tx, dailyquotadomain.CheckRequest{
			TenantID:     s.req.TenantID,
			ActivityType: r.ActivityType,
			Date:         s.now,
			Requested:    grant.Allowed,
			AllowPartial: r.AllowPartial,
		})
		if err != nil {
			return nil, err
		}
		if daily.Decision == dailyquotadomain.DecisionDeny {
			return nil, &quotadomain.ExceededError{
				ActivityType: r.ActivityType,
				Ceiling:      quotadomain.CeilingDaily,
				Limit:        decimal.NewFromInt(daily.Limit),
				Current:      decimal.NewFromInt(daily.Used),
				Requested:    decimal.NewFromInt(daily.Requested),
			}
		}
		if daily.Allowed < grant.Allowed {
			grant.Allowed = daily.Allowed
			grant.Decision = quotadomain.DecisionAllowPartial
		}
	}

	s.exec.metrics.RecordSuppressed(ctx, r.EventKey, grant.Suppressed())
	return grant, nil
}

// Record emits usage for work done under g and charges the daily counter.
func (s *Session) Record(ctx context.Context, g *Grant, u Usage) (*usagedomain.UsageEvent, error) {
	if g == nil || u.Units < 0 {
		return nil, ErrInvalidRequest
	}
	if u.Units == 0 {
		return nil, nil
	}
	if g.recorded+u.Units > g.Allowed {
		return nil, ErrOverGrant
	}

	event, err := s.exec.usage.Emit(ctx, s.tx, usagedomain.EmitRequest{
		TenantID:       s.req.TenantID,
		EventKey:       g.EventKey,
		RawUnits:       u.Units,
		PeriodStart:    s.ent.PeriodStart,
		OccurredAt:     s.now,
		IdempotencyKey: s.req.IdempotencyKey,
		LinkedEntity:   u.LinkedEntity,
		Metadata:       u.Metadata,
	})
	if err != nil {
		return nil, err
	}

	if g.ActivityType != "" {
		if err := s.exec.daily.Increment(ctx, s.tx, s.req.TenantID, g.ActivityType, s.now, u.Units); err != nil {
			return nil, err
		}
	}
	g.recorded += u.Units
	return event, nil
}

// Charge reserves and records in one step for operations that either fully
// happen or do not happen at all.
func (s *Session) Charge(ctx context.Context, r Reservation, u Usage) (*usagedomain.UsageEvent, error) {
	r.AllowPartial = false
	grant, err := s.Reserve(ctx, r)
	if err != nil {
		return nil, err
	}
	u.Units = grant.Allowed
	return s.Record(ctx, grant, u)
}
