package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorType classifies errors for span filtering.
type ErrorType string

const (
	// ErrorTypeHTTP covers inbound HTTP failures.
	ErrorTypeHTTP ErrorType = "http"
	// ErrorTypeDB covers document-store failures.
	ErrorTypeDB ErrorType = "db"
	// ErrorTypeRedis covers guard-store failures.
	ErrorTypeRedis ErrorType = "redis"
	// ErrorTypeMessaging covers messaging-gateway failures.
	ErrorTypeMessaging ErrorType = "messaging"
	// ErrorTypeCompletion covers completion-service failures.
	ErrorTypeCompletion ErrorType = "completion"
	// ErrorTypeValidation covers input validation failures.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeTimeout covers deadline and wall-clock cap failures.
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypePermission covers authorization denials.
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeInternal covers everything else.
	ErrorTypeInternal ErrorType = "internal"
)

// RecordError records err on span with a unified error-type attribute and
// marks the span status as error.
func RecordError(span trace.Span, err error, errorType ErrorType) {
	if span == nil || err == nil {
		return
	}

	span.RecordError(err)
	span.SetAttributes(
		attribute.String("error.type", string(errorType)),
		attribute.String("error.message", err.Error()),
	)
	span.SetStatus(codes.Error, err.Error())
}

// RecordErrorWithInfo records err plus extra attributes.
func RecordErrorWithInfo(span trace.Span, err error, errorType ErrorType, attributes ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}

	span.RecordError(err)
	span.SetAttributes(
		attribute.String("error.type", string(errorType)),
		attribute.String("error.message", err.Error()),
	)
	if len(attributes) > 0 {
		span.SetAttributes(attributes...)
	}
	span.SetStatus(codes.Error, err.Error())
}
