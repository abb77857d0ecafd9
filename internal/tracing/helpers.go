package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName   = "github.com/onnwee/esign"
	dbInstrumentationName = "github.com/onnwee/esign/store"
)

// Signing attribute keys.
const (
	RequestIDKey   = attribute.Key("signature_request.id")
	RecipientIDKey = attribute.Key("signature_request.recipient_id")
	FieldIDKey     = attribute.Key("signature_request.field_id")
	StatusKey      = attribute.Key("signature_request.status")
)

// Signing identifies what a signing operation acts on. Empty values are not
// recorded.
type Signing struct {
	RequestID   string
	RecipientID string
	FieldID     string
	Status      string
}

func (s Signing) attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if s.RequestID != "" {
		attrs = append(attrs, RequestIDKey.String(s.RequestID))
	}
	if s.RecipientID != "" {
		attrs = append(attrs, RecipientIDKey.String(s.RecipientID))
	}
	if s.FieldID != "" {
		attrs = append(attrs, FieldIDKey.String(s.FieldID))
	}
	if s.Status != "" {
		attrs = append(attrs, StatusKey.String(s.Status))
	}
	return attrs
}

// StartSigningSpan starts a span named "signing.<op>" carrying s.
//
//	ctx, endSpan := tracing.StartSigningSpan(ctx, "cancel", tracing.Signing{RequestID: id})
//	defer func() { endSpan(err) }()
func StartSigningSpan(ctx context.Context, op string, s Signing) (context.Context, func(error)) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "signing."+op,
		trace.WithAttributes(s.attributes()...))
	return ctx, ender(span)
}

// Annotate adds signing identifiers to the span in ctx, typically once a
// recipient has been resolved from an access token.
func Annotate(ctx context.Context, s Signing) {
	if attrs := s.attributes(); len(attrs) > 0 {
		trace.SpanFromContext(ctx).SetAttributes(attrs...)
	}
}

// DBOperation is the kind of statement a store span covers.
type DBOperation string

const (
	DBOperationQuery  DBOperation = "query"
	DBOperationInsert DBOperation = "insert"
	DBOperationUpdate DBOperation = "update"
	DBOperationDelete DBOperation = "delete"
	// DBOperationExec covers transactions and multi-statement work.
	DBOperationExec DBOperation = "exec"
)

// StartDBSpan starts a client span for one Postgres operation, named
// "<operation> <table>".
func StartDBSpan(ctx context.Context, table string, operation DBOperation) (context.Context, func(error)) {
	name := string(operation)
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", string(operation)),
	}
	if table != "" {
		name += " " + table
		attrs = append(attrs, attribute.String("db.sql.table", table))
	}
	ctx, span := otel.Tracer(dbInstrumentationName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...))
	return ctx, ender(span)
}

// StartSpan starts a span for work outside the signing engine, such as the
// sealing pipeline or a reminder tick.
func StartSpan(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, name)
	return ctx, ender(span)
}

// SetAttributes sets attributes on the span in ctx.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// ender returns the end function shared by every Start helper: a non-nil
// error marks the span failed.
func ender(span trace.Span) func(error) {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
