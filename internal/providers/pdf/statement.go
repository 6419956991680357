package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type MarotoProvider struct{}

func New() Provider {
	return &MarotoProvider{}
}

func (p *MarotoProvider) GenerateStatement(ctx context.Context, data StatementData) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, "Usage statement", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New(data.TenantName, props.Text{Style: fontstyle.Bold}),
			text.New("Tenant: "+data.TenantID, props.Text{Top: 5, Size: 9}),
			text.New("Plan: "+data.PlanName, props.Text{Top: 10, Size: 9}),
		),
		col.New(6).Add(
			text.New("Period: "+data.PeriodStart+" to "+data.PeriodEnd, props.Text{Align: align.Right, Size: 9}),
			text.New("Issued: "+data.IssuedAt, props.Text{Top: 5, Align: align.Right, Size: 9}),
		),
	)

	m.AddRow(10,
		text.NewCol(6, "Event", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Units", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Credits", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "List cost", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	if len(data.Lines) == 0 {
		m.AddRow(10, text.NewCol(12, "No usage recorded in this period.", props.Text{Size: 9}))
	}
	for _, l := range data.Lines {
		m.AddRow(8,
			text.NewCol(6, l.Description, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d %s", l.Units, l.UnitName), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, l.Credits, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, l.ListCost, props.Text{Size: 9, Align: align.Right}),
		)
	}
	m.AddRow(2, line.NewCol(12))

	totals := []struct {
		label string
		value string
		bold  bool
	}{
		{"Included credits", data.IncludedCredits, false},
		{"Used credits", data.UsedCredits, true},
		{"Remaining credits", data.RemainingCredits, false},
		{"Overage credits", data.OverageCredits, false},
		{"Estimated overage cost", data.EstimatedOverageCost, true},
		{"Estimated list cost", data.EstimatedListCost, false},
	}
	for _, t := range totals {
		style := fontstyle.Normal
		if t.bold {
			style = fontstyle.Bold
		}
		m.AddRow(8,
			col.New(6),
			text.NewCol(4, t.label, props.Text{Size: 9, Style: style}),
			text.NewCol(2, t.value, props.Text{Size: 9, Style: style, Align: align.Right}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}
