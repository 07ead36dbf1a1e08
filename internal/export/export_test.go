package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditservice "github.com/smallbiznis/stocktake/internal/audit/service"
	"github.com/smallbiznis/stocktake/internal/clock"
	rolldomain "github.com/smallbiznis/stocktake/internal/countroll/domain"
	rollrepository "github.com/smallbiznis/stocktake/internal/countroll/repository"
	rollservice "github.com/smallbiznis/stocktake/internal/countroll/service"
	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
	sessionrepository "github.com/smallbiznis/stocktake/internal/countsession/repository"
	sessionservice "github.com/smallbiznis/stocktake/internal/countsession/service"
	"github.com/smallbiznis/stocktake/internal/duplicate"
	"github.com/smallbiznis/stocktake/internal/providers/ocr"
	"github.com/smallbiznis/stocktake/internal/providers/pdf"
	triagedomain "github.com/smallbiznis/stocktake/internal/triage/domain"
	triageservice "github.com/smallbiznis/stocktake/internal/triage/service"
	"github.com/smallbiznis/stocktake/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWriteCSVAndReport(t *testing.T) {
	conn := dbtest.Open(t, &sessiondomain.CountSession{}, &rolldomain.CountRoll{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC))
	ctx := context.Background()

	sessions := sessionservice.New(sessionservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: fake,
		Repo: sessionrepository.Provide(), Audit: auditservice.Nop{},
	})
	repo := rollrepository.Provide()
	rolls := rollservice.New(rollservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: fake, Repo: repo,
		Sessions: sessions, Audit: auditservice.Nop{},
		Detector: duplicate.NewStaticDetector(0.5), Engine: ocr.Disabled{},
	})
	triage := triageservice.New(triageservice.Params{
		DB: conn, Log: zap.NewNop(), Clock: fake, Rolls: repo,
		Sessions: sessions, Audit: auditservice.Nop{},
	})
	svc := New(Params{DB: conn, Log: zap.NewNop(), Rolls: repo, Sessions: sessions, PDF: pdf.New()})

	session, err := sessions.StartOrResumeSession(ctx, "counter-a")
	require.NoError(t, err)
	score := 91.0
	first, err := rolls.IngestRoll(ctx, rolldomain.IngestRequest{
		SessionID: session.ID, Quality: "Q1", Color: "Navy", LotNumber: "L1", Meters: 100,
		OCR: &ocr.Result{Quality: "Q1", ConfidenceScore: &score, Engine: "stub"},
	})
	require.NoError(t, err)
	_, err = rolls.IngestRoll(ctx, rolldomain.IngestRequest{SessionID: session.ID, Quality: "Q2", Meters: 12.5})
	require.NoError(t, err)

	admin := 98.25
	_, err = triage.EditAndSave(ctx, first.ID, triagedomain.EditRequest{Meters: &admin}, "reviewer-1")
	require.NoError(t, err)
	_, err = triage.Approve(ctx, first.ID, "reviewer-1")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, svc.WriteCSV(ctx, session.ID, &buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, Columns, records[0])
	assert.Equal(t, []string{
		"1", first.ID.String(), "Q1", "NAVY", "L1", "98.25", "approved", "91", "high", "false", "false",
		"reviewer-1", "2026-03-14T08:00:00Z",
	}, records[1])
	assert.Equal(t, "true", records[2][9], "no OCR means manual entry")
	assert.Equal(t, "", records[2][8])

	report, err := svc.Report(ctx, session.ID)
	require.NoError(t, err)
	body, err := io.ReadAll(report)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF")))

	err = svc.WriteCSV(ctx, 424242, io.Discard)
	assert.ErrorIs(t, err, sessiondomain.ErrNotFound)
}
