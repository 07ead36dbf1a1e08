package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type ReportData struct {
	SessionNumber string
	Status        string
	StartedBy     string
	ReviewedBy    string
	StartedAt     string
	CompletedAt   string
	ReconciledAt  string

	TotalRolls       int
	Approved         int
	Rejected         int
	Pending          int
	RecountRequested int

	Items       []ReportItem
	TotalMeters float64
}

type ReportItem struct {
	CaptureSequence int
	Quality         string
	Color           string
	LotNumber       string
	Meters          float64
	Confidence      string
}

func (p *PDFProvider) GenerateReconciliationReport(ctx context.Context, data ReportData) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Stock-take reconciliation", props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, data.SessionNumber, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(25,
		col.New(6).Add(
			text.New("Status: "+data.Status, props.Text{Top: 0}),
			text.New("Counted by: "+data.StartedBy, props.Text{Top: 5}),
			text.New("Reviewed by: "+orDash(data.ReviewedBy), props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New("Started: "+data.StartedAt, props.Text{Top: 0}),
			text.New("Counting completed: "+orDash(data.CompletedAt), props.Text{Top: 5}),
			text.New("Reconciled: "+orDash(data.ReconciledAt), props.Text{Top: 10}),
		),
	)

	m.AddRow(12,
		counterCol("Total", data.TotalRolls),
		counterCol("Approved", data.Approved),
		counterCol("Rejected", data.Rejected),
		counterCol("Pending", data.Pending),
		counterCol("Recount", data.RecountRequested),
		col.New(2),
	)

	m.AddRow(10,
		text.NewCol(1, "#", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Quality", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Color", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Lot", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Meters", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(1, "OCR", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, item := range data.Items {
		m.AddRow(7,
			text.NewCol(1, fmt.Sprintf("%d", item.CaptureSequence), props.Text{Size: 8}),
			text.NewCol(3, item.Quality, props.Text{Size: 8}),
			text.NewCol(3, item.Color, props.Text{Size: 8}),
			text.NewCol(2, item.LotNumber, props.Text{Size: 8}),
			text.NewCol(2, fmt.Sprintf("%.2f", item.Meters), props.Text{Size: 8, Align: align.Right}),
			text.NewCol(1, item.Confidence, props.Text{Size: 8, Align: align.Right}),
		)
	}

	m.AddRow(10,
		col.New(7),
		text.NewCol(2, "Total meters", props.Text{Size: 9, Style: fontstyle.Bold, Top: 3}),
		text.NewCol(2, fmt.Sprintf("%.2f", data.TotalMeters), props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right, Top: 3}),
		col.New(1),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}

func counterCol(label string, n int) core.Col {
	return col.New(2).Add(
		text.New(label, props.Text{Size: 8}),
		text.New(fmt.Sprintf("%d", n), props.Text{Size: 12, Style: fontstyle.Bold, Top: 4}),
	)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
