package pdf

import (
	"context"
	"io"

	"go.uber.org/fx"
)

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)

type Provider interface {
	GenerateStatement(ctx context.Context, data StatementData) (io.Reader, error)
}

// StatementData is the preformatted content of a usage statement.
type StatementData struct {
	TenantName  string
	TenantID    string
	PlanName    string
	PeriodStart string
	PeriodEnd   string
	IssuedAt    string

	Lines []StatementLine

	IncludedCredits      string
	UsedCredits          string
	RemainingCredits     string
	OverageCredits       string
	EstimatedOverageCost string
	EstimatedListCost    string
}

type StatementLine struct {
	Description string
	Units       int64
	UnitName    string
	Credits     string
	ListCost    string
}
