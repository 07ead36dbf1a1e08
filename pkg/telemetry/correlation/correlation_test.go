package correlation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForJobKeepsExisting(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "cid-1")
	_, cid := ForJob(ctx, "ocr_rerun", "42")
	assert.Equal(t, "cid-1", cid)
}

func TestForJobIsStableAcrossRuns(t *testing.T) {
	first, cid := ForJob(context.Background(), "ocr_rerun", "42")
	assert.Equal(t, "ocr_rerun:42", cid)
	assert.Equal(t, cid, ExtractCorrelationID(first))

	_, again := ForJob(context.Background(), "ocr_rerun", "42")
	assert.Equal(t, cid, again)
}

func TestForJobNeedsAnID(t *testing.T) {
	ctx, cid := ForJob(context.Background(), "ocr_rerun", " ")
	assert.Empty(t, cid)
	assert.Empty(t, ExtractCorrelationID(ctx))
}
