package repository

import (
	"context"
	"testing"
	"time"

	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
	"github.com/smallbiznis/stocktake/pkg/db"
	"github.com/smallbiznis/stocktake/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCounterIndexRejectsSecondOpenSession(t *testing.T) {
	conn := dbtest.Open(t, &sessiondomain.CountSession{})
	require.NoError(t, conn.Exec(
		`CREATE UNIQUE INDEX ux_count_sessions_open_counter ON count_sessions (started_by) WHERE status IN ('draft', 'active')`,
	).Error)
	r := Provide()
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	first := &sessiondomain.CountSession{ID: 1, SessionNumber: "ST-2026-00001", Status: sessiondomain.StatusActive, StartedBy: "c", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, r.Insert(ctx, conn, first))

	second := &sessiondomain.CountSession{ID: 2, SessionNumber: "ST-2026-00002", Status: sessiondomain.StatusDraft, StartedBy: "c", CreatedAt: now, UpdatedAt: now}
	err := r.Insert(ctx, conn, second)
	require.Error(t, err)
	assert.True(t, db.IsDuplicateKeyErr(err))

	closed := &sessiondomain.CountSession{ID: 3, SessionNumber: "ST-2026-00003", Status: sessiondomain.StatusCountingComplete, StartedBy: "c", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, r.Insert(ctx, conn, closed))

	found, err := r.FindOpenByCounter(ctx, conn, "c")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.EqualValues(t, 1, found.ID)

	last, err := r.LastSessionNumber(ctx, conn, "ST-2026-")
	require.NoError(t, err)
	assert.Equal(t, "ST-2026-00003", last)

	missing, err := r.FindByID(ctx, conn, 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
