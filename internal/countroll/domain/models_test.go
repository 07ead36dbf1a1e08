package domain

import (
	"testing"

	"github.com/smallbiznis/stocktake/internal/confidence"
	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
	"github.com/stretchr/testify/assert"
)

func TestEffectivePrefersAdminValues(t *testing.T) {
	meters := 120.0
	roll := CountRoll{
		CounterQuality: "Q1",
		CounterColor:   "NAVY",
		CounterMeters:  100,
		AdminMeters:    &meters,
	}

	eff := roll.Effective()
	assert.Equal(t, 120.0, eff.Meters)
	assert.Equal(t, "Q1", eff.Quality)
	assert.Equal(t, "NAVY", eff.Color)

	color := "RED"
	roll.AdminColor = &color
	assert.Equal(t, "RED", roll.Effective().Color)
}

func TestTransitionDeltaKeepsCountersBalanced(t *testing.T) {
	statuses := []Status{StatusPendingReview, StatusApproved, StatusRejected, StatusRecountRequested}
	for _, from := range statuses {
		for _, to := range statuses {
			session := sessiondomain.CountSession{TotalRollsCounted: 3}
			session = apply(session, from.counterDelta(3))
			session = apply(session, TransitionDelta(from, to, 2))

			assert.True(t, session.CountersBalanced(), "%s -> %s", from, to)
		}
	}
	assert.True(t, TransitionDelta(StatusApproved, StatusApproved, 5).IsZero())
}

func apply(s sessiondomain.CountSession, d sessiondomain.CounterDelta) sessiondomain.CountSession {
	s.TotalRollsCounted += d.Total
	s.RollsPendingReview += d.Pending
	s.RollsApproved += d.Approved
	s.RollsRejected += d.Rejected
	s.RollsRecountRequested += d.RecountRequested
	return s
}

func TestReadyForApproval(t *testing.T) {
	high := confidence.High
	medium := confidence.Medium

	ready := CountRoll{Status: StatusPendingReview, OCRConfidenceLevel: &high}
	assert.True(t, ready.ReadyForApproval())

	manual := ready
	manual.IsManualEntry = true
	assert.False(t, manual.ReadyForApproval())

	dup := ready
	dup.IsPossibleDuplicate = true
	assert.False(t, dup.ReadyForApproval())

	approved := ready
	approved.Status = StatusApproved
	assert.False(t, approved.ReadyForApproval())

	med := ready
	med.OCRConfidenceLevel = &medium
	assert.False(t, med.ReadyForApproval())
	assert.True(t, med.NeedsRerun())
	assert.False(t, ready.NeedsRerun())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" Approved ")
	assert.NoError(t, err)
	assert.Equal(t, StatusApproved, s)

	_, err = ParseStatus("done")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}
