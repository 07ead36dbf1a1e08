// Package correlation ties log lines of one background unit of work together.
package correlation

import (
	"context"
	"strings"
)

type correlationKey struct{}

// ExtractCorrelationID fetches a correlation ID from the context if present.
func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(correlationKey{}).(string); ok {
		return val
	}
	return ""
}

// ContextWithCorrelationID sets the correlation ID onto the context.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// ForJob keys the correlation id on a persisted job, e.g. "ocr_rerun:1234".
// A job resumed by another worker after a crash logs under the same id as its first run.
// An id already on the context wins.
func ForJob(ctx context.Context, kind, jobID string) (context.Context, string) {
	if cid := ExtractCorrelationID(ctx); cid != "" {
		return ctx, cid
	}
	kind = strings.TrimSpace(kind)
	jobID = strings.TrimSpace(jobID)
	if kind == "" || jobID == "" {
		return ctx, ""
	}
	cid := kind + ":" + jobID
	return ContextWithCorrelationID(ctx, cid), cid
}
