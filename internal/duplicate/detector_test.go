package duplicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindMatchesNormalizedFieldsWithinTolerance(t *testing.T) {
	d := NewStaticDetector(0.5)
	existing := []Candidate{
		{RollID: 1, CaptureSequence: 1, Fields: Fields{Quality: "Q1", Color: "NAVY", LotNumber: "L100", Meters: 100}},
	}

	match := d.Find(Fields{Quality: " q1", Color: "Navy ", LotNumber: "l100", Meters: 100.4}, existing)
	require.NotNil(t, match)
	assert.EqualValues(t, 1, match.RollID)

	assert.Nil(t, d.Find(Fields{Quality: "Q1", Color: "NAVY", LotNumber: "L100", Meters: 100.6}, existing))
	assert.Nil(t, d.Find(Fields{Quality: "Q1", Color: "NAVY BLUE", LotNumber: "L100", Meters: 100}, existing))
}

func TestFindToleranceBoundaryIsInclusive(t *testing.T) {
	d := NewStaticDetector(0.5)
	existing := []Candidate{{RollID: 9, CaptureSequence: 3, Fields: Fields{Quality: "A", Color: "B", LotNumber: "C", Meters: 50}}}
	assert.NotNil(t, d.Find(Fields{Quality: "A", Color: "B", LotNumber: "C", Meters: 50.5}, existing))
	assert.NotNil(t, d.Find(Fields{Quality: "A", Color: "B", LotNumber: "C", Meters: 49.5}, existing))
}

func TestFindPrefersEarliestCapture(t *testing.T) {
	d := NewStaticDetector(1)
	fields := Fields{Quality: "Q1", Color: "NAVY", LotNumber: "L100", Meters: 100}
	existing := []Candidate{
		{RollID: 30, CaptureSequence: 7, Fields: fields},
		{RollID: 10, CaptureSequence: 2, Fields: fields},
		{RollID: 20, CaptureSequence: 5, Fields: fields},
	}

	match := d.Find(fields, existing)
	require.NotNil(t, match)
	assert.EqualValues(t, 10, match.RollID)
	assert.Equal(t, 2, match.CaptureSequence)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "NAVY BLUE", Normalize("  navy \t  blue "))
	assert.Equal(t, "", Normalize("   "))
}

func TestNilHolderUsesDefaultTolerance(t *testing.T) {
	d := NewDetector(nil)
	existing := []Candidate{{RollID: 1, CaptureSequence: 1, Fields: Fields{Meters: 10}}}
	assert.NotNil(t, d.Find(Fields{Meters: 10.5}, existing))
	assert.Nil(t, d.Find(Fields{Meters: 10.51}, existing))
}
