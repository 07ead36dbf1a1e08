// Package confidence maps OCR scores onto the discrete levels reviewers triage by.
package confidence

import (
	"errors"
	"strings"
)

type Level string

const (
	Low    Level = "low"
	Medium Level = "medium"
	High   Level = "high"
)

const (
	HighThreshold   = 85.0
	MediumThreshold = 60.0
)

var ErrInvalidLevel = errors.New("invalid_confidence_level")

// Classify returns the level for a 0-100 score. A missing score is low.
func Classify(score *float64) Level {
	if score == nil {
		return Low
	}
	switch s := *score; {
	case s >= HighThreshold:
		return High
	case s >= MediumThreshold:
		return Medium
	default:
		return Low
	}
}

// Rank orders levels low < medium < high. Unknown levels rank below low.
func (l Level) Rank() int {
	switch l {
	case Low:
		return 0
	case Medium:
		return 1
	case High:
		return 2
	default:
		return -1
	}
}

func (l Level) Valid() bool {
	return l.Rank() >= 0
}

func (l Level) String() string {
	return string(l)
}

func ParseLevel(raw string) (Level, error) {
	level := Level(strings.ToLower(strings.TrimSpace(raw)))
	if !level.Valid() {
		return "", ErrInvalidLevel
	}
	return level, nil
}

// NeedsRerun reports whether a roll with this level is picked up by a batch OCR rerun.
// A nil level means OCR never produced a result.
func NeedsRerun(level *Level) bool {
	if level == nil {
		return true
	}
	return *level != High
}
