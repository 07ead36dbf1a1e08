package confidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func score(v float64) *float64 { return &v }

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		name  string
		score *float64
		want  Level
	}{
		{name: "absent", score: nil, want: Low},
		{name: "zero", score: score(0), want: Low},
		{name: "just below medium", score: score(59.99), want: Low},
		{name: "medium floor", score: score(60), want: Medium},
		{name: "just below high", score: score(84.9), want: Medium},
		{name: "high floor", score: score(85), want: High},
		{name: "scenario a", score: score(92), want: High},
		{name: "max", score: score(100), want: High},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.score))
		})
	}
}

func TestClassifyIsMonotonic(t *testing.T) {
	prev := Classify(score(0))
	for s := 0.0; s <= 100; s += 0.25 {
		level := Classify(score(s))
		assert.GreaterOrEqual(t, level.Rank(), prev.Rank(), "score %.2f", s)
		prev = level
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel(" HIGH ")
	assert.NoError(t, err)
	assert.Equal(t, High, level)

	_, err = ParseLevel("certain")
	assert.ErrorIs(t, err, ErrInvalidLevel)
	assert.False(t, Level("").Valid())
}

func TestNeedsRerun(t *testing.T) {
	high, medium, low := High, Medium, Low
	assert.True(t, NeedsRerun(nil))
	assert.True(t, NeedsRerun(&low))
	assert.True(t, NeedsRerun(&medium))
	assert.False(t, NeedsRerun(&high))
}
