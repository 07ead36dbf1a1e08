package gemini

import (
	"context"
	"testing"

	"github.com/smallbiznis/stocktake/internal/providers/ocr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeNormalizesFields(t *testing.T) {
	res, err := decode("```json\n{\"quality\":\" q1 \",\"color\":\"navy blue\",\"lot_number\":\"l100\",\"meters\":100.5,\"raw_text\":\"Q1 NAVY\",\"confidence\":130}\n```")
	require.NoError(t, err)
	assert.Equal(t, "Q1", res.Quality)
	assert.Equal(t, "NAVY BLUE", res.Color)
	assert.Equal(t, "L100", res.LotNumber)
	require.NotNil(t, res.Meters)
	assert.Equal(t, 100.5, *res.Meters)
	require.NotNil(t, res.ConfidenceScore)
	assert.Equal(t, 100.0, *res.ConfidenceScore)
	assert.Equal(t, "gemini", res.Engine)
}

func TestDecodeWithoutConfidenceLeavesScoreNil(t *testing.T) {
	res, err := decode(`{"quality":"A","meters":null}`)
	require.NoError(t, err)
	assert.Nil(t, res.ConfidenceScore)
	assert.Nil(t, res.Meters)
}

func TestDecodeNotALabel(t *testing.T) {
	_, err := decode(`{"is_label":false,"raw_text":""}`)
	assert.ErrorIs(t, err, ocr.ErrNoText)

	_, err = decode(`not json`)
	assert.Error(t, err)
}

func TestNewSessionRequiresKey(t *testing.T) {
	_, err := New(" ", "gemini-2.5-flash").NewSession(context.Background())
	assert.Error(t, err)
}
