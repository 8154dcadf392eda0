package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInputInvalid marks missing or malformed fields on a response or insight.
	ErrInputInvalid = errors.New("input invalid")
	// ErrInsightUnavailable marks a failed external completion.
	ErrInsightUnavailable = errors.New("insight unavailable")
	// ErrPersistenceFailed marks a failed store write inside the pipeline.
	ErrPersistenceFailed = errors.New("persistence failed")
	// ErrValidationFailed marks a survey rejected by the flow validator.
	ErrValidationFailed = errors.New("validation failed")

	ErrResponseNotFound   = fmt.Errorf("%w: response not found", ErrInputInvalid)
	ErrSurveyNotFound     = fmt.Errorf("%w: survey not found", ErrInputInvalid)
	ErrSurveyNotPublished = fmt.Errorf("%w: survey is not published", ErrInputInvalid)
	ErrAnalysisInProgress = errors.New("analysis already in progress")
	ErrCircuitOpen        = fmt.Errorf("%w: circuit breaker open", ErrInsightUnavailable)
)

// ValidationError carries the aggregated survey flow errors.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidationFailed, strings.Join(e.Errors, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

type tenantKey struct{}

// WithTenant returns a context scoped to tenantID.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFromContext returns the tenant set by WithTenant.
func TenantFromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tenantKey{}).(string)
	return t, ok && t != ""
}
