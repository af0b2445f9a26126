package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span for a gateway operation.
//
// Usage in services:
//
//	ctx, span := telemetry.StartSpan(ctx, "authgw/services/iam", "iam.Login",
//	    attribute.String(telemetry.AttrLoginMethod, method),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records err on the span and marks the span failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent adds a named event to the span.
//
// Example:
//
//	telemetry.AddEvent(span, "keys.refreshed",
//	    attribute.Int("keys.count", n),
//	)
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Span attribute keys. Never attach credentials, tokens, or usernames.
const (
	// Identity attributes
	AttrTenantID     = "auth.tenant_id"
	AttrClientID     = "auth.client_id"
	AttrIdentityKind = "auth.identity_kind"

	// Authentication attributes
	AttrTokenType   = "auth.token_type" // legacy, external
	AttrLoginMethod = "auth.login_method"
	AttrOutcome     = "auth.outcome"

	// Error translation
	AttrErrorCategory = "error.category"
)
