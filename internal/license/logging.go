package license

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// logKeyAction logs an action on a key with the code masked and fingerprinted
func logKeyAction(ctx context.Context, logger *slog.Logger, level slog.Level, action, result, code string, attrs ...slog.Attr) {
	masked := MaskCode(code)
	fingerprint := FingerprintCode(code)

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent("license."+action, trace.WithAttributes(
			attribute.String("license.result", result),
			attribute.String("license.code_fingerprint", fingerprint),
		))
	}

	all := []slog.Attr{
		slog.String("action", action),
		slog.String("result", result),
		slog.String("code_masked", masked),
		slog.String("code_fingerprint", fingerprint),
	}
	if sc := span.SpanContext(); sc.IsValid() {
		all = append(all, slog.String("otel_trace_id", sc.TraceID().String()))
	}
	all = append(all, attrs...)

	logger.LogAttrs(ctx, level, action+" "+result, all...)
}
