// Package duplicate flags a newly captured roll that looks like one already counted in the session.
package duplicate

import (
	"math"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stocktake/internal/config"
)

// Fields are the effective label values compared between rolls.
type Fields struct {
	Quality   string
	Color     string
	LotNumber string
	Meters    float64
}

// Candidate is an already-counted roll in the same session.
type Candidate struct {
	RollID          snowflake.ID
	CaptureSequence int
	Fields
}

type Match struct {
	RollID          snowflake.ID
	CaptureSequence int
}

type Detector struct {
	tolerance func() float64
}

// NewDetector reads the meters tolerance from the hot-reloadable stock-take config on every call.
func NewDetector(holder *config.StockTakeConfigHolder) *Detector {
	return &Detector{tolerance: func() float64 {
		return holder.Get().Duplicate.MetersTolerance
	}}
}

func NewStaticDetector(tolerance float64) *Detector {
	return &Detector{tolerance: func() float64 { return tolerance }}
}

// Find returns the earliest existing roll, by capture sequence, matching the candidate.
// Text fields must be equal after normalization; meters must lie within the tolerance band.
func (d *Detector) Find(candidate Fields, existing []Candidate) *Match {
	tolerance := d.tolerance()
	if tolerance < 0 {
		tolerance = 0
	}

	quality := Normalize(candidate.Quality)
	color := Normalize(candidate.Color)
	lot := Normalize(candidate.LotNumber)

	var best *Match
	for _, c := range existing {
		if Normalize(c.Quality) != quality || Normalize(c.Color) != color || Normalize(c.LotNumber) != lot {
			continue
		}
		if math.Abs(candidate.Meters-c.Meters) > tolerance+1e-9 {
			continue
		}
		if best == nil || c.CaptureSequence < best.CaptureSequence {
			best = &Match{RollID: c.RollID, CaptureSequence: c.CaptureSequence}
		}
	}
	return best
}

// Normalize trims, collapses inner whitespace and upper-cases a label value.
func Normalize(value string) string {
	return strings.ToUpper(strings.Join(strings.Fields(value), " "))
}
