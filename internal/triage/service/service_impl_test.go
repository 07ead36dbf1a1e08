package service

import (
	"context"
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
	triagedomain "github.com/smallbiznis/stocktake/internal/triage/domain"
	"github.com/smallbiznis/stocktake/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	clock    *clock.FakeClock
	sessions sessiondomain.Service
	rolls    rolldomain.Service
	svc      triagedomain.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := dbtest.Open(t, &sessiondomain.CountSession{}, &rolldomain.CountRoll{})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC))

	sessions := sessionservice.New(sessionservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  sessionrepository.Provide(),
		Audit: auditservice.Nop{},
	})
	repo := rollrepository.Provide()
	rolls := rollservice.New(rollservice.Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fake,
		Repo:     repo,
		Sessions: sessions,
		Audit:    auditservice.Nop{},
		Detector: duplicate.NewStaticDetector(0.5),
		Engine:   ocr.Disabled{},
	})

	return fixture{
		clock:    fake,
		sessions: sessions,
		rolls:    rolls,
		svc: New(Params{
			DB:       conn,
			Log:      zap.NewNop(),
			Clock:    fake,
			Rolls:    repo,
			Sessions: sessions,
			Audit:    auditservice.Nop{},
		}),
	}
}

func score(v float64) *float64 { return &v }

// seed starts a session and ingests one roll per OCR score; a nil score means OCR failed.
func (f fixture) seed(t *testing.T, scores ...*float64) (*sessiondomain.CountSession, []*rolldomain.CountRoll) {
	t.Helper()
	ctx := context.Background()
	session, err := f.sessions.StartOrResumeSession(ctx, "counter-a")
	require.NoError(t, err)

	var out []*rolldomain.CountRoll
	for i, sc := range scores {
		req := rolldomain.IngestRequest{
			SessionID: session.ID,
			Quality:   "Q",
			LotNumber: string(rune('A' + i)),
			Meters:    float64(10 * (i + 1)),
		}
		if sc != nil {
			req.OCR = &ocr.Result{ConfidenceScore: sc, Engine: "stub"}
		}
		roll, err := f.rolls.IngestRoll(ctx, req)
		require.NoError(t, err)
		out = append(out, roll)
	}
	return session, out
}

func (f fixture) assertCounters(t *testing.T, id snowflake.ID, pending, approved, rejected, recount int) *sessiondomain.CountSession {
	t.Helper()
	session, err := f.sessions.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, pending, session.RollsPendingReview, "pending")
	assert.Equal(t, approved, session.RollsApproved, "approved")
	assert.Equal(t, rejected, session.RollsRejected, "rejected")
	assert.Equal(t, recount, session.RollsRecountRequested, "recount")
	assert.True(t, session.CountersBalanced())
	return session
}

func TestApproveAndDoubleApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, rolls := f.seed(t, score(92), score(40))

	approved, err := f.svc.Approve(ctx, rolls[0].ID, "reviewer-1")
	require.NoError(t, err)
	assert.Equal(t, rolldomain.StatusApproved, approved.Status)
	require.NotNil(t, approved.ReviewedBy)
	assert.Equal(t, "reviewer-1", *approved.ReviewedBy)
	require.NotNil(t, approved.ReviewedAt)

	_, err = f.svc.Approve(ctx, rolls[0].ID, "reviewer-2")
	assert.ErrorIs(t, err, triagedomain.ErrRollNotPending)

	_, err = f.svc.Approve(ctx, rolls[1].ID, " ")
	assert.ErrorIs(t, err, triagedomain.ErrInvalidReviewer)

	_, err = f.svc.Approve(ctx, 12345, "reviewer-1")
	assert.ErrorIs(t, err, rolldomain.ErrNotFound)

	f.assertCounters(t, session.ID, 1, 1, 0, 0)
}

func TestBulkApproveSkipsNonPendingAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, rolls := f.seed(t, score(92), score(90), score(88), nil)

	_, err := f.svc.Approve(ctx, rolls[0].ID, "reviewer-1")
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, rolls[1].ID, "reviewer-1", "torn label")
	require.NoError(t, err)

	ids := []snowflake.ID{rolls[0].ID, rolls[1].ID, rolls[2].ID, rolls[3].ID, rolls[2].ID}
	result, err := f.svc.BulkApprove(ctx, session.ID, ids, "reviewer-1")
	require.NoError(t, err)
	assert.Equal(t, triagedomain.BulkResult{Approved: 2, Skipped: 2}, result)
	f.assertCounters(t, session.ID, 0, 3, 1, 0)

	again, err := f.svc.BulkApprove(ctx, session.ID, ids, "reviewer-1")
	require.NoError(t, err)
	assert.Equal(t, triagedomain.BulkResult{Approved: 0, Skipped: 4}, again)
	f.assertCounters(t, session.ID, 0, 3, 1, 0)
}

func TestBulkApproveIgnoresOtherSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, rolls := f.seed(t, score(92))

	other, err := f.sessions.StartOrResumeSession(ctx, "counter-b")
	require.NoError(t, err)

	result, err := f.svc.BulkApprove(ctx, other.ID, []snowflake.ID{rolls[0].ID}, "reviewer-1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Approved)
	assert.Equal(t, 1, result.Skipped)
}

func TestRejectAndRecount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, rolls := f.seed(t, score(50), score(70))

	rejected, err := f.svc.Reject(ctx, rolls[0].ID, "reviewer-1", " wrong lot ")
	require.NoError(t, err)
	assert.Equal(t, rolldomain.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.AdminNotes)
	assert.Equal(t, "wrong lot", *rejected.AdminNotes)

	_, err = f.svc.Reject(ctx, rolls[0].ID, "reviewer-1", "again")
	assert.ErrorIs(t, err, triagedomain.ErrRollNotPending)

	recount, err := f.svc.RequestRecount(ctx, rolls[0].ID, "reviewer-1", "measure again")
	require.NoError(t, err)
	assert.Equal(t, rolldomain.StatusRecountRequested, recount.Status)
	require.NotNil(t, recount.RecountReason)
	assert.Equal(t, "measure again", *recount.RecountReason)
	f.assertCounters(t, session.ID, 1, 0, 0, 1)

	_, err = f.svc.RequestRecount(ctx, rolls[0].ID, "reviewer-1", "")
	assert.ErrorIs(t, err, triagedomain.ErrRecountAlreadyRequested)

	_, err = f.svc.RequestRecount(ctx, rolls[1].ID, "reviewer-1", "")
	require.NoError(t, err)
	f.assertCounters(t, session.ID, 0, 0, 0, 2)
}

func TestEditAndSaveOverridesEffectiveValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, err := f.sessions.StartOrResumeSession(ctx, "counter-a")
	require.NoError(t, err)
	roll, err := f.rolls.IngestRoll(ctx, rolldomain.IngestRequest{
		SessionID: session.ID,
		Quality:   "Q1",
		Meters:    100,
		OCR:       &ocr.Result{ConfidenceScore: score(92)},
	})
	require.NoError(t, err)
	require.NotNil(t, roll.OCRConfidenceLevel)
	assert.Equal(t, "high", string(*roll.OCRConfidenceLevel))

	meters := 120.0
	quality := " q2  special "
	edited, err := f.svc.EditAndSave(ctx, roll.ID, triagedomain.EditRequest{Meters: &meters, Quality: &quality}, "reviewer-1")
	require.NoError(t, err)
	assert.Equal(t, rolldomain.StatusPendingReview, edited.Status)
	assert.Equal(t, 120.0, edited.Effective().Meters)
	assert.Equal(t, 100.0, edited.CounterMeters)
	assert.Equal(t, "Q2 SPECIAL", edited.Effective().Quality)
	require.NotNil(t, edited.ReviewedBy)

	_, err = f.svc.EditAndSave(ctx, roll.ID, triagedomain.EditRequest{}, "reviewer-1")
	assert.ErrorIs(t, err, triagedomain.ErrEmptyEdit)

	negative := -1.0
	_, err = f.svc.EditAndSave(ctx, roll.ID, triagedomain.EditRequest{Meters: &negative}, "reviewer-1")
	assert.ErrorIs(t, err, rolldomain.ErrInvalidMeters)
}

func TestReviewAllowedAfterCountingButNotAfterCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, rolls := f.seed(t, score(92), score(92))

	_, err := f.sessions.EndSession(ctx, session.ID, "counter-a")
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, rolls[0].ID, "reviewer-1")
	require.NoError(t, err)

	other, otherRolls := f.seedForCounter(t, "counter-b", score(92))
	_, err = f.sessions.CancelSession(ctx, other.ID, "counter-b")
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, otherRolls[0].ID, "reviewer-1")
	assert.ErrorIs(t, err, sessiondomain.ErrInvalidState)

	_, err = f.svc.BulkApprove(ctx, other.ID, []snowflake.ID{otherRolls[0].ID}, "reviewer-1")
	assert.ErrorIs(t, err, sessiondomain.ErrInvalidState)
}

func (f fixture) seedForCounter(t *testing.T, counter string, sc *float64) (*sessiondomain.CountSession, []*rolldomain.CountRoll) {
	t.Helper()
	ctx := context.Background()
	session, err := f.sessions.StartOrResumeSession(ctx, counter)
	require.NoError(t, err)
	roll, err := f.rolls.IngestRoll(ctx, rolldomain.IngestRequest{
		SessionID: session.ID,
		Quality:   counter,
		Meters:    1,
		OCR:       &ocr.Result{ConfidenceScore: sc},
	})
	require.NoError(t, err)
	return session, []*rolldomain.CountRoll{roll}
}

func TestListFiltersSortsAndPages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, rolls := f.seed(t, score(92), score(70), nil, score(99), score(86))

	_, err := f.svc.Approve(ctx, rolls[3].ID, "reviewer-1")
	require.NoError(t, err)

	all, err := f.svc.List(ctx, triagedomain.Query{SessionID: session.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 5, all.TotalItems)
	require.Len(t, all.Rolls, 5)
	assert.Equal(t, rolls[0].ID, all.Rolls[0].ID)

	ready, err := f.svc.List(ctx, triagedomain.Query{SessionID: session.ID, Filter: triagedomain.FilterReadyForApproval})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{rolls[0].ID, rolls[4].ID}, idsOf(ready.Rolls))
	assert.Equal(t, idsOf(ready.Rolls), triagedomain.SelectReadyForApproval(ready.Rolls))

	high, err := f.svc.List(ctx, triagedomain.Query{SessionID: session.ID, Filter: triagedomain.FilterHighConfidence})
	require.NoError(t, err)
	assert.EqualValues(t, 3, high.TotalItems)

	pending, err := f.svc.List(ctx, triagedomain.Query{SessionID: session.ID, Filter: triagedomain.FilterPending})
	require.NoError(t, err)
	assert.EqualValues(t, 4, pending.TotalItems)

	paged, err := f.svc.List(ctx, triagedomain.Query{
		SessionID: session.ID,
		Sort:      triagedomain.Sort{Column: "counter_meters", Desc: true},
		Page:      2,
		PageSize:  2,
	})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{rolls[2].ID, rolls[1].ID}, idsOf(paged.Rolls))
	assert.Equal(t, 3, paged.TotalPages)
	assert.True(t, paged.HasMore)

	_, err = f.svc.List(ctx, triagedomain.Query{SessionID: session.ID, Sort: triagedomain.Sort{Column: "photo_path"}})
	assert.ErrorIs(t, err, triagedomain.ErrInvalidSort)
}

func TestSummaryReportsCompletionGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, rolls := f.seed(t, score(92))

	summary, err := f.svc.Summary(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, summary.CanComplete)

	_, err = f.svc.Approve(ctx, rolls[0].ID, "reviewer-1")
	require.NoError(t, err)
	summary, err = f.svc.Summary(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, summary.CanComplete)
	assert.Equal(t, 1, summary.Approved)
}

func idsOf(rolls []rolldomain.CountRoll) []snowflake.ID {
	out := make([]snowflake.ID, 0, len(rolls))
	for _, r := range rolls {
		out = append(out, r.ID)
	}
	return out
}

func TestEditAndSaveRequiresPendingRoll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, rolls := f.seed(t, score(92), score(92))

	_, err := f.svc.Approve(ctx, rolls[0].ID, "reviewer-1")
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, rolls[1].ID, "reviewer-1", "torn label")
	require.NoError(t, err)

	meters := 999.0
	_, err = f.svc.EditAndSave(ctx, rolls[0].ID, triagedomain.EditRequest{Meters: &meters}, "reviewer-2")
	assert.ErrorIs(t, err, triagedomain.ErrRollNotPending)
	_, err = f.svc.EditAndSave(ctx, rolls[1].ID, triagedomain.EditRequest{Meters: &meters}, "reviewer-2")
	assert.ErrorIs(t, err, triagedomain.ErrRollNotPending)

	approved, err := f.rolls.GetRoll(ctx, rolls[0].ID)
	require.NoError(t, err)
	assert.Nil(t, approved.AdminMeters)
	assert.Equal(t, 10.0, approved.Effective().Meters)
	f.assertCounters(t, session.ID, 0, 1, 1, 0)
}

func TestEditAndSaveBlankTextClearsOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, rolls := f.seed(t, score(92))

	quality := "q9"
	edited, err := f.svc.EditAndSave(ctx, rolls[0].ID, triagedomain.EditRequest{Quality: &quality}, "reviewer-1")
	require.NoError(t, err)
	assert.Equal(t, "Q9", edited.Effective().Quality)

	blank := "   "
	cleared, err := f.svc.EditAndSave(ctx, rolls[0].ID, triagedomain.EditRequest{Quality: &blank}, "reviewer-1")
	require.NoError(t, err)
	assert.Nil(t, cleared.AdminQuality)
	assert.Equal(t, "Q", cleared.Effective().Quality)
}

func TestFlaggedDuplicatesStayIndependentlyApprovable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, err := f.sessions.StartOrResumeSession(ctx, "counter-a")
	require.NoError(t, err)

	ingest := func(meters float64) *rolldomain.CountRoll {
		roll, err := f.rolls.IngestRoll(ctx, rolldomain.IngestRequest{
			SessionID: session.ID,
			Quality:   "Q1",
			Color:     "RED",
			LotNumber: "L-7",
			Meters:    meters,
			OCR:       &ocr.Result{ConfidenceScore: score(92), Engine: "stub"},
		})
		require.NoError(t, err)
		return roll
	}
	original := ingest(50)
	flagged := ingest(50.2)
	third := ingest(50.4)
	require.False(t, original.IsPossibleDuplicate)
	require.True(t, flagged.IsPossibleDuplicate)
	require.True(t, third.IsPossibleDuplicate)

	approved, err := f.svc.Approve(ctx, original.ID, "reviewer-1")
	require.NoError(t, err)
	assert.Equal(t, rolldomain.StatusApproved, approved.Status)
	approved, err = f.svc.Approve(ctx, flagged.ID, "reviewer-1")
	require.NoError(t, err)
	assert.Equal(t, rolldomain.StatusApproved, approved.Status)

	result, err := f.svc.BulkApprove(ctx, session.ID, []snowflake.ID{original.ID, third.ID}, "reviewer-1")
	require.NoError(t, err)
	assert.Equal(t, triagedomain.BulkResult{Approved: 1, Skipped: 1}, result)

	for _, id := range []snowflake.ID{original.ID, flagged.ID, third.ID} {
		roll, err := f.rolls.GetRoll(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, rolldomain.StatusApproved, roll.Status)
	}
	f.assertCounters(t, session.ID, 0, 3, 0, 0)
}
