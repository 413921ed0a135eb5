package context

import (
	stdctx "context"
	"strconv"
	"strings"
)

type submissionIDKey struct{}
type runIDKey struct{}
type variantKey struct{}

// WithSubmissionID tags ctx with the submission being processed.
func WithSubmissionID(ctx stdctx.Context, id int64) stdctx.Context {
	if id == 0 {
		return ctx
	}
	return stdctx.WithValue(ctx, submissionIDKey{}, id)
}

func SubmissionIDFromContext(ctx stdctx.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(submissionIDKey{}).(int64); ok && id != 0 {
		return strconv.FormatInt(id, 10)
	}
	return ""
}

// WithRunID tags ctx with the identifier of one pipeline run.
func WithRunID(ctx stdctx.Context, runID string) stdctx.Context {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return ctx
	}
	return stdctx.WithValue(ctx, runIDKey{}, runID)
}

func RunIDFromContext(ctx stdctx.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(runIDKey{}).(string); ok {
		return v
	}
	return ""
}

func WithVariant(ctx stdctx.Context, variant string) stdctx.Context {
	variant = strings.TrimSpace(variant)
	if variant == "" {
		return ctx
	}
	return stdctx.WithValue(ctx, variantKey{}, variant)
}

func VariantFromContext(ctx stdctx.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(variantKey{}).(string); ok {
		return v
	}
	return ""
}
