package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/stocktake/internal/audit/domain"
	auditrepository "github.com/smallbiznis/stocktake/internal/audit/repository"
	auditservice "github.com/smallbiznis/stocktake/internal/audit/service"
	"github.com/smallbiznis/stocktake/internal/clock"
	"github.com/smallbiznis/stocktake/internal/config"
	rolldomain "github.com/smallbiznis/stocktake/internal/countroll/domain"
	rollrepository "github.com/smallbiznis/stocktake/internal/countroll/repository"
	rollservice "github.com/smallbiznis/stocktake/internal/countroll/service"
	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
	sessionrepository "github.com/smallbiznis/stocktake/internal/countsession/repository"
	sessionservice "github.com/smallbiznis/stocktake/internal/countsession/service"
	"github.com/smallbiznis/stocktake/internal/duplicate"
	"github.com/smallbiznis/stocktake/internal/export"
	ledgerdomain "github.com/smallbiznis/stocktake/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/stocktake/internal/ledger/service"
	"github.com/smallbiznis/stocktake/internal/observability"
	jobdomain "github.com/smallbiznis/stocktake/internal/ocrrerun/domain"
	"github.com/smallbiznis/stocktake/internal/providers/ocr"
	"github.com/smallbiznis/stocktake/internal/providers/pdf"
	reconservice "github.com/smallbiznis/stocktake/internal/reconciliation/service"
	triageservice "github.com/smallbiznis/stocktake/internal/triage/service"
	"github.com/smallbiznis/stocktake/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// noRerun stands in for the rerun service; these tests never reach it.
type noRerun struct {
	jobdomain.Service
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn := dbtest.Open(t,
		&sessiondomain.CountSession{},
		&rolldomain.CountRoll{},
		&ledgerdomain.InventoryTransaction{},
		&ledgerdomain.SessionReconciliation{},
		&auditdomain.AuditLog{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	audit := auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   log,
		GenID: node,
		Clock: fake,
		Repo:  auditrepository.Provide(),
	})
	sessions := sessionservice.New(sessionservice.Params{
		DB:    conn,
		Log:   log,
		GenID: node,
		Clock: fake,
		Repo:  sessionrepository.Provide(),
		Audit: audit,
	})
	rollRepo := rollrepository.Provide()
	rolls := rollservice.New(rollservice.Params{
		DB:       conn,
		Log:      log,
		GenID:    node,
		Clock:    fake,
		Repo:     rollRepo,
		Sessions: sessions,
		Audit:    audit,
		Detector: duplicate.NewStaticDetector(0.5),
		Engine:   ocr.Disabled{},
	})
	triage := triageservice.New(triageservice.Params{
		DB:       conn,
		Log:      log,
		Clock:    fake,
		Rolls:    rollRepo,
		Sessions: sessions,
		Audit:    audit,
	})
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:    conn,
		Log:   log,
		GenID: node,
		Clock: fake,
	})
	reconcile := reconservice.New(reconservice.Params{
		DB:       conn,
		Log:      log,
		Clock:    fake,
		Rolls:    rollRepo,
		Sessions: sessions,
		Ledger:   ledger,
		Audit:    audit,
	})
	exporter := export.New(export.Params{
		DB:       conn,
		Log:      log,
		Rolls:    rollRepo,
		Sessions: sessions,
		PDF:      pdf.New(),
	})

	return NewServer(ServerParams{
		Gin:       NewEngine(observability.Config{Environment: "production"}, nil),
		Cfg:       config.Config{},
		Log:       log,
		Sessions:  sessions,
		Rolls:     rolls,
		Triage:    triage,
		Rerun:     noRerun{},
		Reconcile: reconcile,
		Exporter:  exporter,
		AuditSvc:  audit,
	})
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderActor, "reviewer-1")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error errorPayload    `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func dataID(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var obj struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &obj))
	require.NotEmpty(t, obj.ID)
	return obj.ID
}

func TestReviewFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/sessions", startSessionRequest{CounterID: "counter-7"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sessionID := dataID(t, rec)

	score := 92.0
	meters := 40.0
	rec = do(t, s, http.MethodPost, "/api/v1/sessions/"+sessionID+"/rolls", ingestRollRequest{
		CounterID: "counter-7",
		Quality:   "Cotton",
		Color:     "Navy",
		LotNumber: "L-1",
		Meters:    40,
		OCR: &ocr.Result{
			Quality: "Cotton", Color: "Navy", LotNumber: "L-1",
			Meters: &meters, ConfidenceScore: &score, Engine: "test",
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := dataID(t, rec)

	rec = do(t, s, http.MethodPost, "/api/v1/sessions/"+sessionID+"/rolls", ingestRollRequest{
		Quality: "Linen", Color: "White", LotNumber: "L-2", Meters: 60,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	second := dataID(t, rec)

	rec = do(t, s, http.MethodGet, "/api/v1/sessions/"+sessionID+"/rolls/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ready []string
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &ready))
	assert.Equal(t, []string{first}, ready)

	rec = do(t, s, http.MethodPost, "/api/v1/sessions/"+sessionID+"/end", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/api/v1/sessions/"+sessionID+"/complete", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, "precondition_failed", env.Error.Type)
	assert.Equal(t, "session_not_ready", env.Error.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/sessions/"+sessionID+"/rolls/bulk-approve", bulkApproveRequest{RollIDs: ready})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	edited := 65.5
	rec = do(t, s, http.MethodPatch, "/api/v1/rolls/"+second, map[string]any{"meters": edited})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, s, http.MethodPost, "/api/v1/rolls/"+second+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/api/v1/rolls/"+second+"/approve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "roll_not_pending", decode(t, rec).Error.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/sessions/"+sessionID+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result struct {
		RollCount          int     `json:"roll_count"`
		TotalMeters        float64 `json:"total_meters"`
		TransactionsPosted int     `json:"transactions_posted"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &result))
	assert.Equal(t, 2, result.RollCount)
	assert.InDelta(t, 105.5, result.TotalMeters, 1e-9)
	assert.Equal(t, 2, result.TransactionsPosted)

	rec = do(t, s, http.MethodGet, "/api/v1/sessions/"+sessionID+"/export.csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Len(t, lines, 3)

	rec = do(t, s, http.MethodGet, "/api/v1/sessions/"+sessionID+"/audit-logs?action=session.reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var logs []auditdomain.AuditLog
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &logs))
	assert.Len(t, logs, 1)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/v1/rolls/not-a-number", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, "validation_error", env.Error.Type)
	require.Len(t, env.Error.Errors, 1)
	assert.Equal(t, "invalid_roll_id", env.Error.Errors[0].Code)

	rec = do(t, s, http.MethodGet, "/api/v1/rolls/1234567", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "roll_not_found", decode(t, rec).Error.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/sessions", startSessionRequest{CounterID: "c-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := dataID(t, rec)

	rec = do(t, s, http.MethodGet, "/api/v1/sessions/"+sessionID+"/rolls?filter=everything", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_filter", decode(t, rec).Error.Errors[0].Code)

	rec = do(t, s, http.MethodGet, "/api/v1/sessions/"+sessionID+"/rolls?sort=photo_path", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_sort_column", decode(t, rec).Error.Errors[0].Code)

	rec = do(t, s, http.MethodGet, "/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/photos/a/b.jpg?expires=1&sig=x", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClassifyErrorForLog(t *testing.T) {
	typ, code := classifyErrorForLog(sessiondomain.ErrNotReady)
	assert.Equal(t, "precondition_failed", typ)
	assert.Equal(t, "session_not_ready", code)

	typ, code = classifyErrorForLog(jobdomain.ErrJobAlreadyRunning)
	assert.Equal(t, "conflict", typ)
	assert.Equal(t, "job_already_running", code)

	typ, code = classifyErrorForLog(assert.AnError)
	assert.Equal(t, "internal_error", typ)
	assert.Equal(t, "internal", code)
}
