package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditservice "github.com/smallbiznis/stocktake/internal/audit/service"
	"github.com/smallbiznis/stocktake/internal/clock"
	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
	"github.com/smallbiznis/stocktake/internal/countsession/repository"
	"github.com/smallbiznis/stocktake/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	clock *clock.FakeClock
	svc   sessiondomain.Service
}

func newFixture(t *testing.T, repo sessiondomain.Repository) fixture {
	t.Helper()
	conn := dbtest.Open(t, &sessiondomain.CountSession{})
	require.NoError(t, conn.Exec(
		`CREATE UNIQUE INDEX ux_count_sessions_open_counter ON count_sessions (started_by) WHERE status IN ('draft', 'active')`,
	).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC))
	if repo == nil {
		repo = repository.Provide()
	}

	return fixture{
		db:    conn,
		clock: fake,
		svc: New(Params{
			DB:    conn,
			Log:   zap.NewNop(),
			GenID: node,
			Clock: fake,
			Repo:  repo,
			Audit: auditservice.Nop{},
		}),
	}
}

func TestStartOrResumeSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.StartOrResumeSession(ctx, "counter-a")
	require.NoError(t, err)
	assert.Equal(t, "ST-2026-00001", first.SessionNumber)
	assert.Equal(t, sessiondomain.StatusDraft, first.Status)

	again, err := f.svc.StartOrResumeSession(ctx, " counter-a ")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	other, err := f.svc.StartOrResumeSession(ctx, "counter-b")
	require.NoError(t, err)
	assert.Equal(t, "ST-2026-00002", other.SessionNumber)

	_, err = f.svc.StartOrResumeSession(ctx, "  ")
	assert.ErrorIs(t, err, sessiondomain.ErrInvalidCounter)
}

func TestSessionNumberRestartsEachYear(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	s1, err := f.svc.StartOrResumeSession(ctx, "counter-a")
	require.NoError(t, err)
	_, err = f.svc.CancelSession(ctx, s1.ID, "counter-a")
	require.NoError(t, err)

	f.clock.Advance(365 * 24 * time.Hour)
	s2, err := f.svc.StartOrResumeSession(ctx, "counter-a")
	require.NoError(t, err)
	assert.Equal(t, "ST-2027-00001", s2.SessionNumber)
}

func TestCancelledSessionIsNotResumed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	s1, err := f.svc.StartOrResumeSession(ctx, "counter-a")
	require.NoError(t, err)
	cancelled, err := f.svc.CancelSession(ctx, s1.ID, "counter-a")
	require.NoError(t, err)
	assert.Equal(t, sessiondomain.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	s2, err := f.svc.StartOrResumeSession(ctx, "counter-a")
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, s2.ID)
	assert.Equal(t, "ST-2026-00002", s2.SessionNumber)
}

func TestEndSessionTransitions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	s, err := f.svc.StartOrResumeSession(ctx, "counter-a")
	require.NoError(t, err)

	ended, err := f.svc.EndSession(ctx, s.ID, "counter-a")
	require.NoError(t, err)
	assert.Equal(t, sessiondomain.StatusCountingComplete, ended.Status)
	require.NotNil(t, ended.CompletedAt)

	again, err := f.svc.EndSession(ctx, s.ID, "counter-a")
	require.NoError(t, err)
	assert.Equal(t, sessiondomain.StatusCountingComplete, again.Status)

	_, err = f.svc.CancelSession(ctx, s.ID, "counter-a")
	assert.ErrorIs(t, err, sessiondomain.ErrInvalidState)

	_, err = f.svc.EndSession(ctx, 12345, "counter-a")
	assert.ErrorIs(t, err, sessiondomain.ErrNotFound)
}

func TestEndCancelledSessionFails(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	s, err := f.svc.StartOrResumeSession(ctx, "counter-a")
	require.NoError(t, err)
	_, err = f.svc.CancelSession(ctx, s.ID, "counter-a")
	require.NoError(t, err)

	_, err = f.svc.EndSession(ctx, s.ID, "counter-a")
	assert.ErrorIs(t, err, sessiondomain.ErrInvalidState)
}

func TestTouchActivatesDraft(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	s, err := f.svc.StartOrResumeSession(ctx, "counter-a")
	require.NoError(t, err)

	require.NoError(t, f.svc.Touch(ctx, f.db, s.ID))
	got, err := f.svc.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, sessiondomain.StatusActive, got.Status)
	require.NotNil(t, got.LastActivityAt)

	_, err = f.svc.EndSession(ctx, s.ID, "counter-a")
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.Touch(ctx, f.db, s.ID), sessiondomain.ErrInvalidState)
}

func TestApplyDeltaAndMarkReconciled(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	s, err := f.svc.StartOrResumeSession(ctx, "counter-a")
	require.NoError(t, err)
	require.NoError(t, f.svc.ApplyDelta(ctx, f.db, s.ID, sessiondomain.CounterDelta{Total: 2, Pending: 2}, sessiondomain.OpenStatuses))

	_, err = f.svc.EndSession(ctx, s.ID, "counter-a")
	require.NoError(t, err)

	err = f.svc.MarkReconciled(ctx, f.db, s.ID, "reviewer-1", f.clock.Now())
	assert.ErrorIs(t, err, sessiondomain.ErrNotReady)

	require.NoError(t, f.svc.ApplyDelta(ctx, f.db, s.ID, sessiondomain.CounterDelta{Pending: -2, Approved: 1, Rejected: 1}, sessiondomain.ReviewableStatuses))
	require.NoError(t, f.svc.MarkReconciled(ctx, f.db, s.ID, "reviewer-1", f.clock.Now()))

	got, err := f.svc.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, sessiondomain.StatusReconciled, got.Status)
	assert.True(t, got.CountersBalanced())
	require.NotNil(t, got.ReviewedBy)
	assert.Equal(t, "reviewer-1", *got.ReviewedBy)

	err = f.svc.ApplyDelta(ctx, f.db, s.ID, sessiondomain.CounterDelta{Approved: 1, Rejected: -1}, sessiondomain.ReviewableStatuses)
	assert.ErrorIs(t, err, sessiondomain.ErrInvalidState)
}

type collidingRepo struct {
	sessiondomain.Repository
	inserts int
}

func (r *collidingRepo) Insert(context.Context, *gorm.DB, *sessiondomain.CountSession) error {
	r.inserts++
	return gorm.ErrDuplicatedKey
}

func TestStartGivesUpAfterBoundedRetries(t *testing.T) {
	repo := &collidingRepo{Repository: repository.Provide()}
	f := newFixture(t, repo)

	_, err := f.svc.StartOrResumeSession(context.Background(), "counter-a")
	assert.ErrorIs(t, err, sessiondomain.ErrSessionNumberConflict)
	assert.Equal(t, sessiondomain.SessionNumberRetries, repo.inserts)
}

func TestListSessionsFilters(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a, err := f.svc.StartOrResumeSession(ctx, "counter-a")
	require.NoError(t, err)
	_, err = f.svc.StartOrResumeSession(ctx, "counter-b")
	require.NoError(t, err)
	_, err = f.svc.CancelSession(ctx, a.ID, "counter-a")
	require.NoError(t, err)

	resp, err := f.svc.ListSessions(ctx, sessiondomain.ListRequest{Status: "cancelled"})
	require.NoError(t, err)
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, a.ID, resp.Sessions[0].ID)

	resp, err = f.svc.ListSessions(ctx, sessiondomain.ListRequest{StartedBy: "counter-b"})
	require.NoError(t, err)
	assert.Len(t, resp.Sessions, 1)
	assert.Equal(t, int64(1), resp.TotalItems)

	_, err = f.svc.ListSessions(ctx, sessiondomain.ListRequest{Status: "paused"})
	assert.ErrorIs(t, err, sessiondomain.ErrInvalidStatus)
}
